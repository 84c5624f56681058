// Package webctx decides whether a user query needs live web results and, if
// so, fetches a short grounded summary for the system prompt.
package webctx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deskmate/internal/llm"
	"deskmate/internal/logging"
	"deskmate/internal/stream"
)

// NoSearch is the literal the search model answers with to decline.
const NoSearch = "NO_SEARCH"

const promptTemplate = `Today is %s.

Decide whether the user's query below needs up-to-date information from the web.
Search ONLY when the query concerns time-sensitive or factual information such as news, current events, sports scores, weather, prices, or specific facts about real people, places, products or organisations.
Do NOT search for creative writing, coding help, general advice, math, or questions about who you are. In those cases reply with exactly %s and nothing else.

If a search is warranted, search the web and reply with a concise factual summary (at most a few short paragraphs) of what you found. Do not add commentary.

User query: %q`

// Fetcher wraps a search-capable backend. A nil searcher disables it.
type Fetcher struct {
	searcher llm.Searcher
	now      func() time.Time
	timeout  time.Duration
	log      *logging.StructuredLogger
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithClock overrides the clock used for the date in the prompt.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// WithTimeout bounds each search call.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.timeout = d }
}

// New builds a fetcher over searcher.
func New(searcher llm.Searcher, opts ...Option) *Fetcher {
	f := &Fetcher{
		searcher: searcher,
		now:      time.Now,
		timeout:  30 * time.Second,
		log:      logging.NewStructuredLogger(nil, "webctx", false),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Enabled reports whether a searcher is configured.
func (f *Fetcher) Enabled() bool {
	return f != nil && f.searcher != nil
}

// Prompt renders the gating instruction for query.
func (f *Fetcher) Prompt(query string) string {
	return fmt.Sprintf(promptTemplate, f.now().Format("Monday, January 2, 2006"), NoSearch, query)
}

// Fetch returns a summary with a Sources list, or false when no search was
// warranted or anything went wrong. Failures only degrade the turn.
func (f *Fetcher) Fetch(ctx context.Context, query string) (string, bool) {
	if !f.Enabled() || strings.TrimSpace(query) == "" {
		return "", false
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	gen, err := f.searcher.Search(ctx, f.Prompt(query))
	if err != nil {
		f.log.Warn("web context unavailable", logging.Err(err))
		return "", false
	}
	if strings.Contains(gen.Text, NoSearch) {
		f.log.Debug("search declined", nil)
		return "", false
	}
	summary := strings.TrimSpace(gen.Text)
	if summary == "" {
		return "", false
	}
	if sources := stream.FormatSources(stream.DedupCitations(gen.Citations)); sources != "" {
		summary += "\n\n" + sources
	}
	f.log.Info("web context fetched", map[string]any{"chars": len(summary), "sources": len(gen.Citations)})
	return summary, true
}
