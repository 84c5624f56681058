package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"deskmate/internal/api"
	"deskmate/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(gf *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and session event stream",
		Long: `Serve the assistant over HTTP.

Endpoints live under /api; session events are pushed on /ws and /health
answers liveness probes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, *gf, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: listen_addr from config)")
	return cmd
}

func runServe(cmd *cobra.Command, gf globalFlags, addr string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ap, err := startup(ctx, gf, false)
	if err != nil {
		return err
	}
	defer ap.Close()

	if addr == "" {
		addr = ap.cfg.ListenAddr
	}
	handler := api.New(ap.assistant, api.Options{
		BaseContext:  ctx,
		PingInterval: 30 * time.Second,
		JSONLogs:     ap.cfg.Log.JSON,
	}).Routes()

	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // event stream connections stay open
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(cmd.OutOrStdout(), "deskmate API listening on http://%s\n", addr)
		logging.UserLog("api listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.UserLog("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}
