// Package assistant runs conversation turns: it assembles context, calls
// the selected vendor, streams the normalized answer into the session store
// and, in agent mode, turns an utterance into one task action.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"deskmate/internal/command"
	"deskmate/internal/kvstore"
	"deskmate/internal/llm"
	"deskmate/internal/logging"
	"deskmate/internal/prompts"
	"deskmate/internal/registry"
	"deskmate/internal/session"
	"deskmate/internal/stream"
	"deskmate/internal/tasks"
	"deskmate/internal/webctx"
)

// ErrTurnInFlight rejects a submission while the session is still streaming.
var ErrTurnInFlight = errors.New("a turn is already in progress for this session")

// errStopped is the cancel cause recorded by Cancel.
var errStopped = errors.New("turn cancelled")

// ErrEmptyMessage rejects a submission with neither text nor attachments.
var ErrEmptyMessage = errors.New("empty message")

// CancelledMarker ends a message whose turn was stopped.
const CancelledMarker = "_[cancelled]_"

// ModeKey is the kvstore key holding the last used mode.
const ModeKey = "assistant.mode"

// Mode selects how user input is handled.
type Mode string

const (
	ModeChat  Mode = "chat"
	ModeAgent Mode = "agent"
)

// ParseMode accepts "chat" or "agent" in any case.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeChat, ModeAgent:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want chat or agent)", s)
	}
}

// TaskSource is the task collaborator: the dispatcher's mutators plus notes
// for prompt context.
type TaskSource interface {
	command.TaskStore
	Notes() []tasks.Note
}

// Settings are the per-turn knobs that may change at runtime.
type Settings struct {
	Temperature    float64
	Thinking       bool
	ThinkingBudget int
	Search         bool
	Profile        prompts.Profile
	Instructions   string
	Tone           string
	// TurnTimeout bounds one turn end to end; zero disables it.
	TurnTimeout time.Duration
}

// Options wires an Assistant.
type Options struct {
	Registry *registry.Registry
	Sessions *session.Store
	Tasks    TaskSource
	// KV persists the mode; nil keeps it in memory.
	KV *kvstore.Store
	// Fetcher defaults to one over the registry's searcher.
	Fetcher  *webctx.Fetcher
	Resolver command.Resolver
	Settings Settings
	// Mode is used when KV holds no stored mode.
	Mode Mode
	Now  func() time.Time
	// JSONLogs switches the turn log to JSON lines.
	JSONLogs bool
}

type turn struct {
	cancel  context.CancelCauseFunc
	started time.Time
}

// Assistant is safe for concurrent use. Turns on different sessions run in
// parallel; a session runs at most one turn at a time.
type Assistant struct {
	reg        *registry.Registry
	sessions   *session.Store
	tasks      TaskSource
	kv         *kvstore.Store
	fetcher    *webctx.Fetcher
	dispatcher *command.Dispatcher
	now        func() time.Time
	log        *logging.StructuredLogger

	mu       sync.Mutex
	settings Settings
	mode     Mode
	turns    map[string]*turn
	wg       sync.WaitGroup
}

// New builds an assistant and restores the persisted mode.
func New(opts Options) (*Assistant, error) {
	if opts.Registry == nil || opts.Sessions == nil || opts.Tasks == nil {
		return nil, fmt.Errorf("assistant: registry, sessions and tasks are required")
	}
	a := &Assistant{
		reg:        opts.Registry,
		sessions:   opts.Sessions,
		tasks:      opts.Tasks,
		kv:         opts.KV,
		fetcher:    opts.Fetcher,
		dispatcher: command.NewDispatcher(opts.Tasks, opts.Resolver),
		now:        opts.Now,
		settings:   opts.Settings,
		mode:       opts.Mode,
		turns:      make(map[string]*turn),
		log:        logging.NewStructuredLogger(nil, "assistant", opts.JSONLogs),
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.fetcher == nil {
		a.fetcher = webctx.New(opts.Registry.Searcher(), webctx.WithClock(a.now))
	}
	if a.mode == "" {
		a.mode = ModeChat
	}
	if a.kv != nil {
		stored := a.kv.GetDefault(ModeKey, "")
		if m, err := ParseMode(stored); err == nil {
			a.mode = m
		} else if stored != "" {
			a.log.Warn("ignoring stored mode", map[string]any{"value": stored})
		}
	}
	return a, nil
}

// Registry exposes the vendor registry for provider switching.
func (a *Assistant) Registry() *registry.Registry { return a.reg }

// Sessions exposes the session store.
func (a *Assistant) Sessions() *session.Store { return a.sessions }

// Tasks exposes the task collaborator.
func (a *Assistant) Tasks() TaskSource { return a.tasks }

// Mode returns the current mode.
func (a *Assistant) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// SetMode switches mode and persists it.
func (a *Assistant) SetMode(m Mode) error {
	m, err := ParseMode(string(m))
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.mode = m
	a.mu.Unlock()
	if a.kv != nil {
		if err := a.kv.Set(ModeKey, string(m)); err != nil {
			return fmt.Errorf("persist mode: %w", err)
		}
	}
	logging.UserLog("mode set to %s", m)
	return nil
}

// Settings returns a copy of the runtime settings.
func (a *Assistant) Settings() Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// UpdateSettings applies fn to the settings under the lock. Turns already
// running keep the settings they started with.
func (a *Assistant) UpdateSettings(fn func(*Settings)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(&a.settings)
}

// Busy reports whether sessionID has a turn in flight.
func (a *Assistant) Busy(sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.turns[a.resolveID(sessionID)]
	return ok
}

// Cancel stops the turn running on sessionID. It reports whether one was running.
func (a *Assistant) Cancel(sessionID string) bool {
	a.mu.Lock()
	t, ok := a.turns[a.resolveID(sessionID)]
	a.mu.Unlock()
	if ok {
		t.cancel(errStopped)
		a.log.WithSession(sessionID).Info("turn cancelled", map[string]any{"after_ms": a.now().Sub(t.started).Milliseconds()})
	}
	return ok
}

// Wait blocks until every turn started with SendAsync has finished.
func (a *Assistant) Wait() {
	a.wg.Wait()
}

// Send runs one turn on sessionID (the current session when empty) and
// returns once the turn reached a terminal state. Vendor failures are written
// into the session as "Error: ..." content; the returned error covers only
// rejected submissions such as ErrTurnInFlight or an unknown session.
func (a *Assistant) Send(ctx context.Context, sessionID, input string, attachments []llm.Attachment) error {
	id, ctx, done, err := a.begin(ctx, sessionID, input, attachments)
	if err != nil {
		return err
	}
	defer done()
	a.run(ctx, id, input, attachments)
	return nil
}

// SendAsync reserves the session synchronously and runs the turn in the
// background. ctx should outlive the request that triggered it.
func (a *Assistant) SendAsync(ctx context.Context, sessionID, input string, attachments []llm.Attachment) (string, error) {
	id, tctx, done, err := a.begin(ctx, sessionID, input, attachments)
	if err != nil {
		return "", err
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer done()
		a.run(tctx, id, input, attachments)
	}()
	return id, nil
}

func (a *Assistant) resolveID(sessionID string) string {
	if sessionID == "" {
		return a.sessions.CurrentID()
	}
	return sessionID
}

// begin moves the session from idle to streaming.
func (a *Assistant) begin(ctx context.Context, sessionID, input string, attachments []llm.Attachment) (string, context.Context, func(), error) {
	if strings.TrimSpace(input) == "" && len(attachments) == 0 {
		return "", nil, nil, ErrEmptyMessage
	}
	id := a.resolveID(sessionID)
	if _, err := a.sessions.Get(id); err != nil {
		return "", nil, nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, busy := a.turns[id]; busy {
		return "", nil, nil, ErrTurnInFlight
	}
	tctx, cancel := context.WithCancelCause(ctx)
	var stopTimer context.CancelFunc = func() {}
	if d := a.settings.TurnTimeout; d > 0 {
		tctx, stopTimer = context.WithTimeout(tctx, d)
	}
	a.turns[id] = &turn{cancel: cancel, started: a.now()}
	done := func() {
		stopTimer()
		cancel(nil)
		a.mu.Lock()
		delete(a.turns, id)
		a.mu.Unlock()
	}
	return id, tctx, done, nil
}

func (a *Assistant) run(ctx context.Context, sessionID, input string, attachments []llm.Attachment) {
	a.mu.Lock()
	mode := a.mode
	settings := a.settings
	a.mu.Unlock()

	log := a.log.WithSession(sessionID)
	started := a.now()
	switch mode {
	case ModeAgent:
		a.runAgent(ctx, sessionID, input, attachments)
	default:
		a.runChat(ctx, sessionID, input, attachments, settings)
	}
	if err := a.sessions.Save(); err != nil {
		log.Error("save sessions", logging.Err(err))
	}
	log.Info("turn finished", map[string]any{"mode": string(mode), "elapsed_ms": a.now().Sub(started).Milliseconds()})
}

func (a *Assistant) runChat(ctx context.Context, sessionID, input string, attachments []llm.Attachment, settings Settings) {
	log := a.log.WithSession(sessionID)
	sess, err := a.sessions.Get(sessionID)
	if err != nil {
		log.Error("session vanished", logging.Err(err))
		return
	}
	prior := prompts.FromSession(sess.Messages)

	if _, err := a.sessions.Append(sessionID, session.Message{Role: session.RoleUser, Content: input, Attachments: attachments}); err != nil {
		log.Error("append user message", logging.Err(err))
		return
	}
	placeholder, err := a.sessions.Append(sessionID, session.Message{Role: session.RoleAssistant})
	if err != nil {
		log.Error("append placeholder", logging.Err(err))
		return
	}
	finish := func(content string) {
		if err := a.sessions.UpdateMessage(sessionID, placeholder.ID, content); err != nil {
			log.Warn("final update dropped", logging.Err(err))
		}
	}

	active := a.reg.Active()
	provider, err := a.reg.Provider(active.Vendor)
	if err != nil {
		finish("Error: " + err.Error())
		return
	}

	req := llm.Request{
		Model:       active.Model,
		Temperature: settings.Temperature,
		Thinking:    llm.ThinkingOptions{Enabled: settings.Thinking, BudgetTokens: settings.ThinkingBudget},
	}

	var webContext string
	if settings.Search {
		if active.Vendor.NativeSearch() {
			req.Search = true
		} else if summary, ok := a.fetcher.Fetch(ctx, input); ok {
			webContext = summary
		}
	}
	if ctx.Err() != nil {
		finish(a.interrupted(ctx, ""))
		return
	}

	req.System = prompts.BuildSystemPrompt(prompts.SystemInput{
		Now:          a.now(),
		Profile:      settings.Profile,
		Instructions: settings.Instructions,
		Tone:         settings.Tone,
		Vendor:       active.Vendor,
		Thinking:     settings.Thinking,
		WebContext:   webContext,
		Notes:        a.tasks.Notes(),
		Tasks:        a.tasks.Tasks(),
	})
	req.History = prompts.BuildHistory(prior, llm.Message{Content: input, Attachments: attachments}, active.Vendor)

	log.WithVendor(string(active.Vendor)).Debug("streaming", logging.Fields{"model": req.Model, "history": len(req.History), "web_context": webContext != ""})
	opts := stream.Options{InlineThinking: prompts.InlineThinking(active.Vendor, settings.Thinking)}
	acc, err := stream.Run(ctx, provider, req, opts, func(content string) error {
		return a.sessions.UpdateMessage(sessionID, placeholder.ID, content)
	})
	if err != nil {
		if ctx.Err() != nil {
			finish(a.interrupted(ctx, acc.Finish()))
			return
		}
		log.WithVendor(string(active.Vendor)).Error("stream failed", logging.Err(err))
		finish("Error: " + err.Error())
		return
	}
	if strings.TrimSpace(acc.String()) == "" {
		finish(fmt.Sprintf("Error: %s returned an empty response", active.Vendor.Label()))
	}
}

// interrupted renders the terminal content of a turn whose context ended.
func (a *Assistant) interrupted(ctx context.Context, partial string) string {
	if errors.Is(context.Cause(ctx), context.DeadlineExceeded) {
		return fmt.Sprintf("Error: request timed out after %s", a.Settings().TurnTimeout)
	}
	partial = strings.TrimSpace(partial)
	if partial == "" {
		return CancelledMarker
	}
	return partial + "\n\n" + CancelledMarker
}

func (a *Assistant) runAgent(ctx context.Context, sessionID, input string, attachments []llm.Attachment) {
	log := a.log.WithSession(sessionID)
	if _, err := a.sessions.Append(sessionID, session.Message{Role: session.RoleUser, Content: input, Attachments: attachments}); err != nil {
		log.Error("append user message", logging.Err(err))
		return
	}
	record := func(role, content string) {
		if _, err := a.sessions.Append(sessionID, session.Message{Role: role, Content: content}); err != nil {
			log.Error("append outcome", logging.Err(err))
		}
	}

	active := a.reg.Active()
	provider, err := a.reg.Provider(active.Vendor)
	if err != nil {
		record(session.RoleSystem, "Error: "+err.Error())
		return
	}

	interp := command.NewInterpreter(provider, active.Model).WithClock(a.now)
	action, err := interp.Interpret(ctx, input, a.tasks.Tasks(), a.tasks.Projects())
	if err != nil {
		if ctx.Err() != nil {
			record(session.RoleSystem, a.interrupted(ctx, ""))
			return
		}
		log.Warn("interpret failed", logging.Err(err))
		record(session.RoleSystem, "Error: "+err.Error())
		return
	}

	outcome := a.dispatcher.Apply(action, input)
	record(outcome.Role, outcome.Content)
	if outcome.Mutated {
		log.Info("tasks changed", map[string]any{"action": string(action.Action)})
	}
}
