package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"deskmate/internal/logging"
)

const writeTimeout = 10 * time.Second

// handleEvents upgrades to a WebSocket and forwards session events until the
// client goes away or the server shuts down. Events are advisory: a client
// that falls behind re-reads the session over HTTP.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept failed", logging.Err(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	events, unsubscribe := s.a.Sessions().Subscribe(s.opts.EventBuffer)
	defer unsubscribe()

	// Clients never send; CloseRead handles control frames and cancels ctx on close.
	ctx := conn.CloseRead(s.opts.BaseContext)

	var ping <-chan time.Time
	if s.opts.PingInterval > 0 {
		t := time.NewTicker(s.opts.PingInterval)
		defer t.Stop()
		ping = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.Error("encode event", logging.Err(err))
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == -1 {
					s.log.Debug("websocket write failed", logging.Err(err))
				}
				return
			}
		}
	}
}
