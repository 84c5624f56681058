package assistant

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"deskmate/internal/config"
	"deskmate/internal/llm"
	"deskmate/internal/logging"
	"deskmate/internal/render"
	"deskmate/internal/session"
	prompt "github.com/c-bata/go-prompt"
	"golang.org/x/term"
)

const maxAttachmentBytes = 10 << 20

var commandSuggestions = []prompt.Suggest{
	{Text: ":help", Description: "show this text"},
	{Text: ":sessions", Description: "list chat sessions"},
	{Text: ":new", Description: "start a new session"},
	{Text: ":use", Description: "switch session (:use <id|title>)"},
	{Text: ":drop", Description: "delete a session (:drop <id|title>)"},
	{Text: ":clear", Description: "wipe the current session"},
	{Text: ":mode", Description: "switch mode (:mode chat|agent)"},
	{Text: ":provider", Description: "list or select a provider (:provider [vendor] [model])"},
	{Text: ":thinking", Description: "toggle thinking (:thinking on|off)"},
	{Text: ":search", Description: "toggle web context (:search on|off)"},
	{Text: ":tasks", Description: "list tasks"},
	{Text: ":attach", Description: "attach a file to the next message"},
	{Text: ":stop", Description: "cancel the running turn"},
	{Text: ":quit", Description: "exit the program"},
}

const helpText = `Commands:
  :help                     show this text
  :sessions                 list chat sessions
  :new                      start a new session
  :use <id|title>           switch session
  :drop <id|title>          delete a session
  :clear                    wipe the current session
  :mode chat|agent          switch between chatting and managing tasks
  :provider [vendor] [model] list providers, or select one
  :thinking on|off          toggle reasoning
  :search on|off            toggle live web context
  :tasks                    list tasks
  :attach <path>            attach a file to the next message
  :stop                     cancel the running turn
  :quit                     exit the program`

type interruptTracker struct {
	mu     sync.Mutex
	last   time.Time
	window time.Duration
}

func newInterruptTracker(window time.Duration) *interruptTracker {
	return &interruptTracker{window: window}
}

func (t *interruptTracker) secondPress() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if !t.last.IsZero() && now.Sub(t.last) < t.window {
		t.last = time.Time{}
		return true
	}
	t.last = now
	return false
}

type promptExit struct{}

// REPLOptions configures the interactive loop.
type REPLOptions struct {
	In  io.Reader
	Out io.Writer
	// Config is updated and saved by :provider, :thinking and :search. Nil
	// keeps those changes in memory.
	Config      *config.Config
	HistoryPath string
	Render      render.Options
}

// REPL is the terminal front end.
type REPL struct {
	a       *Assistant
	in      io.Reader
	out     io.Writer
	cfg     *config.Config
	render  *render.Renderer
	history *lineHistory

	pendingMu   sync.Mutex
	attachments []llm.Attachment
}

// NewREPL binds a REPL to the assistant.
func NewREPL(a *Assistant, opts REPLOptions) *REPL {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &REPL{
		a:       a,
		in:      opts.In,
		out:     opts.Out,
		cfg:     opts.Config,
		render:  render.New(opts.Out, opts.Render),
		history: openLineHistory(opts.HistoryPath),
	}
}

// Run blocks until the user quits or ctx ends. A terminal stdin gets the
// completing prompt; anything else is read line by line.
func (r *REPL) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer r.history.Close()

	r.println("Welcome to deskmate. Type ':help' for commands, double Ctrl+C to exit.")
	r.printStatus()
	if f, ok := r.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return r.runPrompt(ctx, cancel, int(f.Fd()))
	}
	return r.runLines(ctx, cancel)
}

// Ask sends one message on the current session and returns the rendered reply.
func (r *REPL) Ask(ctx context.Context, text string) (string, error) {
	sessionID := r.a.Sessions().CurrentID()
	before, err := r.a.Sessions().Get(sessionID)
	if err != nil {
		return "", err
	}
	if err := r.a.Send(ctx, sessionID, text, r.takeAttachments()); err != nil {
		return "", err
	}
	return r.renderSince(sessionID, len(before.Messages)), nil
}

func (r *REPL) runPrompt(ctx context.Context, cancel context.CancelFunc, fd int) (err error) {
	tracker := newInterruptTracker(2 * time.Second)
	if state, terr := term.GetState(fd); terr == nil {
		defer func() { _ = term.Restore(fd, state) }()
	}

	var exitRequested atomic.Bool
	defer func() {
		if rec := recover(); rec != nil {
			if _, ok := rec.(promptExit); ok {
				err = nil
				return
			}
			panic(rec)
		}
	}()

	executor := func(in string) {
		if exitRequested.Load() || ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(in)
		if line == "" {
			return
		}
		r.history.Add(line)
		if exit := r.handleLine(ctx, line); exit {
			exitRequested.Store(true)
			cancel()
			panic(promptExit{})
		}
	}

	p := prompt.New(
		executor,
		r.completer,
		prompt.OptionHistory(r.history.Entries()),
		prompt.OptionTitle("deskmate"),
		prompt.OptionLivePrefix(func() (string, bool) {
			return r.prefix(), true
		}),
		prompt.OptionAddKeyBind(
			prompt.KeyBind{
				Key: prompt.ControlC,
				Fn: func(buf *prompt.Buffer) {
					if tracker.secondPress() {
						r.println("\nReceived second Ctrl+C, exiting.")
						exitRequested.Store(true)
						cancel()
						panic(promptExit{})
					}
					r.println("\n(Press Ctrl+C again within 2s to exit)")
				},
			},
			prompt.KeyBind{
				Key: prompt.ControlD,
				Fn: func(buf *prompt.Buffer) {
					if buf.Text() == "" {
						exitRequested.Store(true)
						cancel()
						panic(promptExit{})
					}
				},
			},
		),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool {
			return exitRequested.Load() || ctx.Err() != nil
		}),
	)
	p.Run()
	return nil
}

func (r *REPL) completer(doc prompt.Document) []prompt.Suggest {
	prefix := strings.TrimLeft(doc.TextBeforeCursor(), " \t")
	if !strings.HasPrefix(prefix, ":") || strings.Contains(prefix, " ") {
		return nil
	}
	return prompt.FilterHasPrefix(commandSuggestions, doc.GetWordBeforeCursor(), true)
}

func (r *REPL) runLines(ctx context.Context, cancel context.CancelFunc) error {
	reader := bufio.NewReader(r.in)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(r.out, r.prefix())
		line, err := reader.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			r.history.Add(line)
			if exit := r.handleLine(ctx, line); exit {
				cancel()
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.println()
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
	}
}

func (r *REPL) prefix() string {
	sess := r.a.Sessions().Current()
	title := sess.Title
	if n := []rune(title); len(n) > 20 {
		title = string(n[:20]) + "…"
	}
	return fmt.Sprintf("[%s · %s] > ", title, r.a.Mode())
}

func (r *REPL) handleLine(ctx context.Context, line string) bool {
	if strings.HasPrefix(line, ":") {
		return r.handleCommand(line)
	}
	r.submit(ctx, line)
	return false
}

// submit runs one turn, printing streamed content as it arrives. Ctrl+C
// during the turn cancels it.
func (r *REPL) submit(ctx context.Context, text string) {
	store := r.a.Sessions()
	sessionID := store.CurrentID()
	before, err := store.Get(sessionID)
	if err != nil {
		r.println("Error:", err)
		return
	}

	events, unsubscribe := store.Subscribe(256)
	live := render.NewLive(r.out)
	var (
		streamed  atomic.Bool
		watchDone = make(chan struct{})
	)
	go func() {
		defer close(watchDone)
		for ev := range events {
			if ev.SessionID != sessionID || ev.Type != session.EventMessageUpdated || ev.Message == nil {
				continue
			}
			if ev.Message.Role == session.RoleAssistant {
				streamed.Store(true)
				live.Update(ev.Message.Content)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	stopSignals := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			r.a.Cancel(sessionID)
		case <-stopSignals:
		}
	}()

	err = r.a.Send(ctx, sessionID, text, r.takeAttachments())
	signal.Stop(sigCh)
	close(stopSignals)
	unsubscribe()
	<-watchDone

	if err != nil {
		r.println("Error:", err)
		return
	}
	if streamed.Load() {
		// bring the live view to the final stored content
		if after, gerr := store.Get(sessionID); gerr == nil {
			for _, m := range after.Messages[min(len(before.Messages), len(after.Messages)):] {
				if m.Role == session.RoleAssistant {
					live.Update(m.Content)
				}
			}
		}
		live.Done()
		return
	}
	if out := r.renderSince(sessionID, len(before.Messages)); out != "" {
		r.println(out)
	}
}

// renderSince renders every non-user message appended after index from.
func (r *REPL) renderSince(sessionID string, from int) string {
	sess, err := r.a.Sessions().Get(sessionID)
	if err != nil || from > len(sess.Messages) {
		return ""
	}
	var parts []string
	for _, m := range sess.Messages[from:] {
		switch m.Role {
		case session.RoleUser:
			continue
		case session.RoleSystem:
			parts = append(parts, "• "+m.Content)
		default:
			parts = append(parts, r.render.Message(m.Content))
		}
	}
	return strings.Join(parts, "\n")
}

func (r *REPL) handleCommand(cmd string) bool {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false
	}
	arg := strings.TrimSpace(strings.TrimPrefix(cmd, parts[0]))
	store := r.a.Sessions()
	switch parts[0] {
	case ":help":
		r.println(helpText)
	case ":sessions":
		for _, s := range store.List() {
			marker := " "
			if s.Current {
				marker = "*"
			}
			r.printf("%s %s  %-40s %d messages\n", marker, shortID(s.ID), s.Title, s.MessageCount)
		}
	case ":new":
		sess := store.Create()
		r.printf("Started new session %s\n", shortID(sess.ID))
	case ":use":
		id, err := r.findSession(arg)
		if err != nil {
			r.println(err)
			return false
		}
		sess, err := store.Switch(id)
		if err != nil {
			r.println(err)
			return false
		}
		r.printf("Switched to %q\n", sess.Title)
		if out := r.renderSince(sess.ID, 0); out != "" {
			r.println(out)
		}
	case ":drop":
		id, err := r.findSession(arg)
		if err != nil {
			r.println(err)
			return false
		}
		r.a.Cancel(id)
		if err := store.Delete(id); err != nil {
			r.println(err)
			return false
		}
		r.printf("Deleted session %s\n", shortID(id))
	case ":clear":
		if err := store.Clear(store.CurrentID()); err != nil {
			r.printf("Clear failed: %v\n", err)
			return false
		}
		r.println("Cleared current session.")
	case ":mode":
		if arg == "" {
			r.printf("Mode: %s\n", r.a.Mode())
			return false
		}
		m, err := ParseMode(arg)
		if err != nil {
			r.println(err)
			return false
		}
		if err := r.a.SetMode(m); err != nil {
			r.println(err)
			return false
		}
		if r.cfg != nil {
			r.cfg.Mode = string(m)
		}
		r.printf("Mode set to %s\n", m)
	case ":provider":
		r.handleProvider(parts[1:])
	case ":thinking":
		on, ok := r.toggle(parts, r.a.Settings().Thinking)
		if !ok {
			return false
		}
		r.a.UpdateSettings(func(s *Settings) { s.Thinking = on })
		if r.cfg != nil {
			r.cfg.ThinkingEnabled = on
		}
		r.saveConfig()
		r.printf("Thinking %s\n", onOff(on))
	case ":search":
		on, ok := r.toggle(parts, r.a.Settings().Search)
		if !ok {
			return false
		}
		r.a.UpdateSettings(func(s *Settings) { s.Search = on })
		if r.cfg != nil {
			r.cfg.SearchEnabled = on
		}
		r.saveConfig()
		r.printf("Web context %s\n", onOff(on))
	case ":tasks":
		list := r.a.Tasks().Tasks()
		if len(list) == 0 {
			r.println("No tasks yet. Switch to agent mode and ask me to create one.")
			return false
		}
		for _, t := range list {
			r.printf("  %-3s %-30s %-12s %-6s %s\n", t.ID, t.Title, t.Status, t.Priority, t.Date)
		}
	case ":attach":
		if arg == "" {
			r.println(":attach requires a path")
			return false
		}
		att, err := loadAttachment(arg)
		if err != nil {
			r.println(err)
			return false
		}
		r.pendingMu.Lock()
		r.attachments = append(r.attachments, att)
		n := len(r.attachments)
		r.pendingMu.Unlock()
		r.printf("Attached %s (%s); %d file(s) will go with the next message\n", att.Name, att.MimeType, n)
	case ":stop":
		if !r.a.Cancel(store.CurrentID()) {
			r.println("Nothing is running.")
		}
	case ":quit", ":exit", ":q":
		return true
	default:
		r.printf("Unknown command %s. Type :help for the list.\n", parts[0])
	}
	return false
}

func (r *REPL) handleProvider(args []string) {
	reg := r.a.Registry()
	if len(args) == 0 {
		for _, opt := range reg.Options() {
			marker := " "
			if opt.Active {
				marker = "*"
			}
			status := "configured"
			if !opt.Configured {
				status = "missing " + opt.Vendor.EnvKey()
			}
			r.printf("%s %-11s %-28s %s\n", marker, opt.Label, opt.Model, status)
		}
		return
	}
	v, err := llm.ParseVendor(args[0])
	if err != nil {
		r.println(err)
		return
	}
	if err := reg.SetActive(v); err != nil {
		r.println(err)
		return
	}
	if len(args) > 1 {
		reg.SetModel(v, args[1])
		if r.cfg != nil {
			r.cfg.SetModel(v, args[1])
		}
	}
	if r.cfg != nil {
		r.cfg.Provider = string(v)
	}
	r.saveConfig()
	active := reg.Active()
	r.printf("Using %s (%s)\n", active.Label, active.Model)
	if !active.Configured {
		r.printf("Warning: no API key for %s; set %s or run `deskmate setup`.\n", active.Label, v.EnvKey())
	}
}

func (r *REPL) toggle(parts []string, current bool) (bool, bool) {
	if len(parts) < 2 {
		return !current, true
	}
	switch strings.ToLower(parts[1]) {
	case "on", "true", "1", "yes":
		return true, true
	case "off", "false", "0", "no":
		return false, true
	default:
		r.printf("%s expects on or off\n", parts[0])
		return false, false
	}
}

func (r *REPL) saveConfig() {
	if r.cfg == nil {
		return
	}
	if err := config.Save(*r.cfg); err != nil {
		logging.ErrorLog("save config: %v", err)
		r.println("Warning: could not save config:", err)
	}
}

// findSession matches an id, then an id prefix or suffix or exact title, then a title substring.
func (r *REPL) findSession(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("a session id or title is required")
	}
	list := r.a.Sessions().List()
	for _, s := range list {
		if s.ID == ref {
			return s.ID, nil
		}
	}
	var matches []string
	for _, s := range list {
		if strings.HasPrefix(s.ID, ref) || strings.HasSuffix(s.ID, ref) || strings.EqualFold(s.Title, ref) {
			matches = append(matches, s.ID)
		}
	}
	if len(matches) == 0 {
		lower := strings.ToLower(ref)
		for _, s := range list {
			if strings.Contains(strings.ToLower(s.Title), lower) {
				matches = append(matches, s.ID)
			}
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no session matches %q", ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q matches %d sessions, be more specific", ref, len(matches))
	}
}

func (r *REPL) takeAttachments() []llm.Attachment {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	out := r.attachments
	r.attachments = nil
	return out
}

func (r *REPL) printStatus() {
	active := r.a.Registry().Active()
	settings := r.a.Settings()
	r.printf("Provider: %s (%s) · mode: %s · thinking: %s · search: %s\n",
		active.Label, active.Model, r.a.Mode(), onOff(settings.Thinking), onOff(settings.Search))
	if r.a.Registry().Empty() {
		r.println("No API keys found. Run `deskmate setup` or export e.g. GEMINI_API_KEY.")
	}
}

func (r *REPL) println(args ...any) { fmt.Fprintln(r.out, args...) }

func (r *REPL) printf(format string, args ...any) { fmt.Fprintf(r.out, format, args...) }

// loadAttachment reads a local file into a data-URI attachment.
func loadAttachment(path string) (llm.Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return llm.Attachment{}, fmt.Errorf("attach: %w", err)
	}
	if info.IsDir() {
		return llm.Attachment{}, fmt.Errorf("attach: %s is a directory", path)
	}
	if info.Size() > maxAttachmentBytes {
		return llm.Attachment{}, fmt.Errorf("attach: %s is larger than %d MB", path, maxAttachmentBytes>>20)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return llm.Attachment{}, fmt.Errorf("attach: %w", err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	return llm.NewAttachment(filepath.Base(path), mimeType, data), nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
