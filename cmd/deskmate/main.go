package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"deskmate/internal/assistant"
	"deskmate/internal/config"
	"deskmate/internal/credentials"
	"deskmate/internal/kvstore"
	"deskmate/internal/llm"
	"deskmate/internal/llm/mockclient"
	"deskmate/internal/logging"
	"deskmate/internal/registry"
	"deskmate/internal/session"
	"deskmate/internal/tasks"
)

// Version is set via -ldflags during build
var Version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	provider   string
	mode       string
	dataDir    string
}

func newRootCmd() *cobra.Command {
	var gf globalFlags

	root := &cobra.Command{
		Use:   "deskmate",
		Short: "Desktop assistant for chat, web-grounded answers and task commands",
		Long: `deskmate talks to Gemini, OpenAI, OpenRouter, Z.AI, Anthropic and Scira
through one conversation surface. Chat mode streams answers with optional
thinking and web context; agent mode turns requests into task commands.

Run without arguments to start the interactive chat.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, gf)
		},
	}
	root.PersistentFlags().StringVar(&gf.configPath, "config", "", "Config file (default: ~/.deskmate/config.yaml)")
	root.PersistentFlags().StringVar(&gf.provider, "provider", "", "Active vendor for this run (gemini, openai, openrouter, zai, anthropic, scira)")
	root.PersistentFlags().StringVar(&gf.mode, "mode", "", "Start in chat or agent mode")
	root.PersistentFlags().StringVar(&gf.dataDir, "data-dir", "", "Directory for the store, history and logs")

	root.AddCommand(
		&cobra.Command{
			Use:   "chat",
			Short: "Start the interactive chat",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runChat(cmd, gf)
			},
		},
		&cobra.Command{
			Use:   "ask <prompt>",
			Short: "Send one message and print the reply",
			Long: `Send one message to the current session and print the rendered reply.
Use "-" to read the prompt from stdin.`,
			Args: cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runAsk(cmd, gf, args)
			},
		},
		newServeCmd(&gf),
		&cobra.Command{
			Use:   "sessions",
			Short: "List stored sessions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSessions(cmd, gf)
			},
		},
		&cobra.Command{
			Use:   "setup",
			Short: "Add, change or remove vendor API keys",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return credentials.NewWizard(credentials.NewManager()).Run()
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version and exit",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "deskmate version %s\n", Version)
			},
		},
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is everything a subcommand needs once startup succeeded.
type app struct {
	cfg       config.Config
	kv        *kvstore.Store
	assistant *assistant.Assistant
	logCloser io.Closer
}

func (ap *app) Close() error {
	ap.assistant.Wait()
	if err := ap.assistant.Sessions().Save(); err != nil {
		logging.ErrorLog("save sessions on exit: %v", err)
	}
	err := ap.kv.Close()
	if ap.logCloser != nil {
		ap.logCloser.Close()
	}
	return err
}

func loadConfig(gf globalFlags) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if gf.configPath != "" {
		cfg, err = config.Load(gf.configPath)
	} else {
		cfg, err = config.LoadUserConfig()
	}
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if err := applyOverrides(&cfg, gf); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyOverrides layers command-line flags over the file config. Overrides
// are not written back unless a REPL command saves the config.
func applyOverrides(cfg *config.Config, gf globalFlags) error {
	if p := strings.TrimSpace(gf.provider); p != "" {
		v, err := llm.ParseVendor(p)
		if err != nil {
			return err
		}
		cfg.Provider = string(v)
	}
	if m := strings.TrimSpace(gf.mode); m != "" {
		mode, err := assistant.ParseMode(m)
		if err != nil {
			return err
		}
		cfg.Mode = string(mode)
	}
	if d := strings.TrimSpace(gf.dataDir); d != "" {
		abs, err := filepath.Abs(d)
		if err != nil {
			return fmt.Errorf("resolve data dir: %w", err)
		}
		cfg.DataDir = abs
		cfg.Log.Path = filepath.Join(abs, "deskmate.log")
	}
	return cfg.Validate()
}

// startup wires config, logging, storage, vendors and the assistant. When
// onboard is set and no key exists, an interactive terminal runs the
// credentials wizard first.
func startup(ctx context.Context, gf globalFlags, onboard bool) (*app, error) {
	if err := credentials.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg, err := loadConfig(gf)
	if err != nil {
		return nil, err
	}

	closer, err := logging.Setup(logging.RotateOptions{
		Path:       cfg.Log.Path,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("set up logging: %w", err)
	}

	kv, err := kvstore.Open(cfg.StorePath())
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	reg, err := buildRegistry(ctx, cfg, onboard)
	if err != nil {
		kv.Close()
		closer.Close()
		return nil, err
	}
	logging.UserLog("deskmate %s starting (provider=%s mode=%s)", Version, reg.Active().Vendor, cfg.Mode)

	sessions := session.NewStore(session.Options{
		Persister: session.NewKVPersister(kv, session.SnapshotKey),
		Logger:    logging.Logger,
	})
	taskStore, err := tasks.NewStore(kv)
	if err != nil {
		kv.Close()
		closer.Close()
		return nil, fmt.Errorf("load tasks: %w", err)
	}

	a, err := assistant.New(assistant.Options{
		Registry: reg,
		Sessions: sessions,
		Tasks:    taskStore,
		KV:       kv,
		Settings: assistant.Settings{
			Temperature:    cfg.Temperature,
			Thinking:       cfg.ThinkingEnabled,
			ThinkingBudget: cfg.ThinkingBudgetTokens,
			Search:         cfg.SearchEnabled,
			Profile:        cfg.Profile,
			Instructions:   cfg.Instructions,
			Tone:           cfg.Tone,
			TurnTimeout:    cfg.RequestTimeout(),
		},
		Mode:     assistant.Mode(cfg.Mode),
		JSONLogs: cfg.Log.JSON,
	})
	if err != nil {
		kv.Close()
		closer.Close()
		return nil, err
	}
	// An explicit flag beats the mode remembered from the last run.
	if gf.mode != "" {
		if err := a.SetMode(assistant.Mode(cfg.Mode)); err != nil {
			logging.WarnLog("apply --mode: %v", err)
		}
	}
	return &app{cfg: cfg, kv: kv, assistant: a, logCloser: closer}, nil
}

// buildRegistry picks the active vendor from, in order: --provider or the
// config provider (already merged into cfg), the credentials
// default_provider, and finally the first vendor with a key.
func buildRegistry(ctx context.Context, cfg config.Config, onboard bool) (*registry.Registry, error) {
	opts := registry.Options{
		Default:     cfg.Vendor(),
		Models:      cfg.Models(),
		BaseURLs:    cfg.BaseURLMap(),
		SearchModel: cfg.SearchModel,
		Timeout:     cfg.RequestTimeout(),
	}
	if os.Getenv("DESKMATE_MOCK_LLM") == "1" {
		logging.UserLog("DESKMATE_MOCK_LLM=1 detected; using mock LLM client")
		v := opts.Default
		if v == "" {
			v = llm.VendorGemini
		}
		return registry.FromProviders(map[llm.Vendor]llm.Provider{v: mockclient.New().WithVendor(v)}, opts), nil
	}

	manager := credentials.NewManager()
	keys, err := manager.Keys()
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if len(keys) == 0 && onboard && term.IsTerminal(int(os.Stdin.Fd())) {
		if _, err := credentials.NewWizard(manager).Onboard(); err != nil {
			return nil, fmt.Errorf("onboarding: %w", err)
		}
		if keys, err = manager.Keys(); err != nil {
			return nil, fmt.Errorf("load credentials: %w", err)
		}
	}
	if opts.Default == "" {
		opts.Default = credentialsDefault(manager)
	}
	return registry.Initialize(ctx, keys, opts), nil
}

// credentialsDefault reads default_provider as saved by onboarding or
// "deskmate setup". An unset or unknown value yields "".
func credentialsDefault(manager *credentials.Manager) llm.Vendor {
	creds, err := manager.Load()
	if err != nil {
		logging.WarnLog("read default provider: %v", err)
		return ""
	}
	name := strings.TrimSpace(creds.DefaultProvider)
	if name == "" {
		return ""
	}
	v, err := llm.ParseVendor(name)
	if err != nil {
		logging.WarnLog("credentials default_provider: %v", err)
		return ""
	}
	return v
}

func runChat(cmd *cobra.Command, gf globalFlags) error {
	ctx := cmd.Context()
	ap, err := startup(ctx, gf, true)
	if err != nil {
		return err
	}
	defer ap.Close()

	repl := assistant.NewREPL(ap.assistant, assistant.REPLOptions{
		In:          cmd.InOrStdin(),
		Out:         cmd.OutOrStdout(),
		Config:      &ap.cfg,
		HistoryPath: ap.cfg.HistoryPath(),
	})
	return repl.Run(ctx)
}

func runAsk(cmd *cobra.Command, gf globalFlags, args []string) error {
	text := strings.Join(args, " ")
	if text == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read prompt: %w", err)
		}
		text = string(data)
	}

	ctx := cmd.Context()
	ap, err := startup(ctx, gf, false)
	if err != nil {
		return err
	}
	defer ap.Close()

	repl := assistant.NewREPL(ap.assistant, assistant.REPLOptions{
		In:     strings.NewReader(""),
		Out:    cmd.OutOrStdout(),
		Config: &ap.cfg,
	})
	out, err := repl.Ask(ctx, text)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(out, "\n"))
	return nil
}

func runSessions(cmd *cobra.Command, gf globalFlags) error {
	ap, err := startup(cmd.Context(), gf, false)
	if err != nil {
		return err
	}
	defer ap.Close()
	printSessionList(cmd.OutOrStdout(), ap.assistant.Sessions().List())
	return nil
}

func printSessionList(out io.Writer, list []session.Summary) {
	if len(list) == 0 {
		fmt.Fprintln(out, "No stored sessions yet.")
		return
	}
	fmt.Fprintf(out, "Stored sessions (%d):\n", len(list))
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, s := range list {
		marker := " "
		if s.Current {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d msgs\t%s\n", marker, s.ID, s.Title, s.MessageCount, s.UpdatedAt.Local().Format(time.DateTime))
	}
	tw.Flush()
}
