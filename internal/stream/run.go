package stream

import (
	"context"
	"strings"

	"deskmate/internal/llm"
)

// Sink receives every distinct snapshot of the message content, in order.
type Sink func(content string) error

// Options tunes Run.
type Options struct {
	// InlineThinking lifts <think> spans out of answer text. Set it only when
	// the vendor was asked to write its reasoning that way; otherwise a
	// literal tag in the answer would hide the rest of it.
	InlineThinking bool
}

// Run drives one provider stream into a fresh accumulator, pushing each new
// snapshot to sink and the finished content last. On error the accumulator is
// returned unfinished so the caller can decide the terminal content.
func Run(ctx context.Context, p llm.Provider, req llm.Request, opts Options, sink Sink) (*Accumulator, error) {
	acc := NewAccumulator()
	last := ""
	push := func() error {
		snap := acc.String()
		if snap == last {
			return nil
		}
		last = snap
		return sink(snap)
	}

	var tags *TagScanner
	if opts.InlineThinking {
		tags = NewTagScanner()
	}
	emit := func(d llm.Delta) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if tags == nil {
			acc.Apply(d)
			return push()
		}
		for _, out := range tags.Feed(d) {
			acc.Apply(out)
		}
		return push()
	}
	if err := p.Stream(ctx, req, emit); err != nil {
		return acc, err
	}
	if tags != nil {
		for _, out := range tags.Flush() {
			acc.Apply(out)
		}
	}
	acc.Finish()
	return acc, push()
}

// TagScanner lifts inline <think> spans written into answer text by vendors
// without a structured reasoning channel. Tags split across chunks are held
// back until they can be recognised.
type TagScanner struct {
	inside  bool
	pending string
}

// NewTagScanner returns a scanner positioned outside any span.
func NewTagScanner() *TagScanner {
	return &TagScanner{}
}

// Feed converts one delta. Non-text deltas pass through untouched.
func (t *TagScanner) Feed(d llm.Delta) []llm.Delta {
	if d.Kind != llm.DeltaText {
		return []llm.Delta{d}
	}
	t.pending += d.Text
	var out []llm.Delta
	for {
		tag := llm.ThinkOpen
		if t.inside {
			tag = llm.ThinkClose
		}
		idx := strings.Index(t.pending, tag)
		if idx < 0 {
			break
		}
		if idx > 0 {
			out = append(out, t.wrap(t.pending[:idx]))
		}
		if t.inside {
			out = append(out, llm.Delta{Kind: llm.DeltaThinkingStop})
		} else {
			out = append(out, llm.Delta{Kind: llm.DeltaThinkingStart})
		}
		t.inside = !t.inside
		t.pending = strings.TrimPrefix(t.pending[idx+len(tag):], "\n")
	}
	hold := partialSuffix(t.pending, t.nextTag())
	if ready := t.pending[:len(t.pending)-hold]; ready != "" {
		out = append(out, t.wrap(ready))
	}
	t.pending = t.pending[len(t.pending)-hold:]
	return out
}

// Flush releases any held-back text once the stream has ended.
func (t *TagScanner) Flush() []llm.Delta {
	if t.pending == "" {
		return nil
	}
	d := t.wrap(t.pending)
	t.pending = ""
	return []llm.Delta{d}
}

func (t *TagScanner) nextTag() string {
	if t.inside {
		return llm.ThinkClose
	}
	return llm.ThinkOpen
}

func (t *TagScanner) wrap(s string) llm.Delta {
	if t.inside {
		return llm.Reasoning(s)
	}
	return llm.Text(s)
}

// partialSuffix returns the length of the longest suffix of s that is a
// proper prefix of tag.
func partialSuffix(s, tag string) int {
	limit := len(tag) - 1
	if limit > len(s) {
		limit = len(s)
	}
	for n := limit; n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}

// Parts is serialized content split at the render boundary.
type Parts struct {
	Thinking string
	Answer   string
	// Open is set when the content ends inside a reasoning span.
	Open bool
}

// SplitThinking separates reasoning spans from answer text in serialized
// content. Multiple spans are joined with a blank line.
func SplitThinking(content string) Parts {
	var p Parts
	var thoughts []string
	var answer strings.Builder
	rest := content
	for {
		start := strings.Index(rest, llm.ThinkOpen)
		if start < 0 {
			answer.WriteString(rest)
			break
		}
		answer.WriteString(rest[:start])
		rest = rest[start+len(llm.ThinkOpen):]
		end := strings.Index(rest, llm.ThinkClose)
		if end < 0 {
			thoughts = append(thoughts, strings.TrimSpace(rest))
			p.Open = true
			break
		}
		thoughts = append(thoughts, strings.TrimSpace(rest[:end]))
		rest = rest[end+len(llm.ThinkClose):]
	}
	p.Thinking = strings.Join(thoughts, "\n\n")
	p.Answer = strings.TrimSpace(answer.String())
	return p
}

// Balanced reports whether every open tag in content has a matching close.
func Balanced(content string) bool {
	depth := 0
	for i := 0; i < len(content); {
		switch {
		case strings.HasPrefix(content[i:], llm.ThinkOpen):
			if depth > 0 {
				return false
			}
			depth++
			i += len(llm.ThinkOpen)
		case strings.HasPrefix(content[i:], llm.ThinkClose):
			if depth == 0 {
				return false
			}
			depth--
			i += len(llm.ThinkClose)
		default:
			i++
		}
	}
	return depth == 0
}
