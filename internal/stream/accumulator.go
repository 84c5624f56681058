// Package stream folds vendor deltas into one growing message string with a
// sentinel-bracketed reasoning span and a trailing sources list.
package stream

import (
	"strings"

	"deskmate/internal/llm"
)

type segmentKind int

const (
	segText segmentKind = iota
	segThinking
)

type segment struct {
	kind segmentKind
	text strings.Builder
}

// Accumulator is the per-message state. It is not safe for concurrent use;
// one turn owns one accumulator.
type Accumulator struct {
	segments     []*segment
	thinkingOpen bool
	citations    []llm.Citation
	seen         map[string]struct{}
	closed       bool
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{seen: make(map[string]struct{})}
}

// Apply folds one delta into the state. Deltas after Finish are ignored.
func (a *Accumulator) Apply(d llm.Delta) {
	if a.closed {
		return
	}
	switch d.Kind {
	case llm.DeltaReasoning:
		if d.Text == "" {
			return
		}
		if !a.thinkingOpen {
			a.openThinking()
		}
		a.tail().text.WriteString(d.Text)
	case llm.DeltaText:
		if d.Text == "" {
			return
		}
		if a.thinkingOpen {
			a.thinkingOpen = false
		}
		if t := a.tail(); t == nil || t.kind != segText {
			a.segments = append(a.segments, &segment{kind: segText})
		}
		a.tail().text.WriteString(d.Text)
	case llm.DeltaThinkingStart:
		if !a.thinkingOpen {
			a.openThinking()
		}
	case llm.DeltaThinkingStop:
		a.thinkingOpen = false
	case llm.DeltaCitation:
		a.addCitation(d.Citation)
	}
}

func (a *Accumulator) openThinking() {
	a.segments = append(a.segments, &segment{kind: segThinking})
	a.thinkingOpen = true
}

func (a *Accumulator) tail() *segment {
	if len(a.segments) == 0 {
		return nil
	}
	return a.segments[len(a.segments)-1]
}

func (a *Accumulator) addCitation(c llm.Citation) {
	if c.URL == "" && c.Title == "" {
		return
	}
	if _, dup := a.seen[c.Key()]; dup {
		return
	}
	a.seen[c.Key()] = struct{}{}
	a.citations = append(a.citations, c)
}

// ThinkingOpen reports whether a reasoning span is in progress.
func (a *Accumulator) ThinkingOpen() bool {
	return a.thinkingOpen
}

// Citations returns the de-duplicated sources seen so far.
func (a *Accumulator) Citations() []llm.Citation {
	out := make([]llm.Citation, len(a.citations))
	copy(out, a.citations)
	return out
}

// Answer returns the answer text without any reasoning.
func (a *Accumulator) Answer() string {
	var b strings.Builder
	for _, s := range a.segments {
		if s.kind == segText {
			b.WriteString(s.text.String())
		}
	}
	return b.String()
}

// Thinking returns the concatenated reasoning text.
func (a *Accumulator) Thinking() string {
	var b strings.Builder
	for _, s := range a.segments {
		if s.kind == segThinking {
			b.WriteString(s.text.String())
		}
	}
	return b.String()
}

// String serializes the current state. While streaming, an open reasoning
// span is written without its close tag so each snapshot extends the last.
// Literal tags inside segment text are neutralised so only the accumulator's
// own sentinels delimit reasoning.
func (a *Accumulator) String() string {
	var b strings.Builder
	last := len(a.segments) - 1
	for i, s := range a.segments {
		growing := !a.closed && i == last && (s.kind == segText || a.thinkingOpen)
		text := s.text.String()
		if growing {
			// A tag split across deltas is held back until it is complete.
			text = text[:len(text)-heldTagPrefix(text)]
		}
		text = escapeTags(text)
		if s.kind == segThinking {
			b.WriteString(llm.ThinkOpen)
			b.WriteString(text)
			if !(a.thinkingOpen && i == last) {
				b.WriteString(llm.ThinkClose)
			}
			continue
		}
		b.WriteString(text)
	}
	if a.closed && len(a.citations) > 0 {
		b.WriteString(sourcesBlock(b.Len() > 0, a.citations))
	}
	return b.String()
}

// tagEscaper breaks literal sentinels with a zero-width space; they still
// read as the same text once rendered.
var tagEscaper = strings.NewReplacer(
	llm.ThinkOpen, "<\u200b"+llm.ThinkOpen[1:],
	llm.ThinkClose, "<\u200b"+llm.ThinkClose[1:],
)

func escapeTags(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	return tagEscaper.Replace(s)
}

func heldTagPrefix(s string) int {
	return max(partialSuffix(s, llm.ThinkOpen), partialSuffix(s, llm.ThinkClose))
}

// Finish closes any open span, appends the sources list once and returns the
// final content. Further calls return the same string.
func (a *Accumulator) Finish() string {
	if !a.closed {
		a.thinkingOpen = false
		a.closed = true
	}
	return a.String()
}

// Closed reports whether Finish has been called.
func (a *Accumulator) Closed() bool {
	return a.closed
}

// SourcesHeading introduces the citation list.
const SourcesHeading = "### Sources"

// FormatSources renders citations as a markdown list under SourcesHeading.
func FormatSources(citations []llm.Citation) string {
	if len(citations) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(SourcesHeading)
	for _, c := range citations {
		title := strings.TrimSpace(c.Title)
		if title == "" {
			title = c.URL
		}
		b.WriteString("\n- [")
		b.WriteString(title)
		b.WriteString("](")
		b.WriteString(c.URL)
		b.WriteString(")")
	}
	return b.String()
}

// DedupCitations drops repeated title+URL pairs, keeping first-seen order.
func DedupCitations(in []llm.Citation) []llm.Citation {
	seen := make(map[string]struct{}, len(in))
	out := make([]llm.Citation, 0, len(in))
	for _, c := range in {
		if c.URL == "" && c.Title == "" {
			continue
		}
		if _, dup := seen[c.Key()]; dup {
			continue
		}
		seen[c.Key()] = struct{}{}
		out = append(out, c)
	}
	return out
}

func sourcesBlock(afterText bool, citations []llm.Citation) string {
	block := FormatSources(citations)
	if afterText {
		return "\n\n" + block
	}
	return block
}
