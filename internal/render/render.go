// Package render turns serialized message content into terminal output.
// Reasoning spans are folded behind a one-line summary unless expanded.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"

	"deskmate/internal/logging"
	"deskmate/internal/stream"
	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

const defaultWidth = 100

// Options configures a Renderer.
type Options struct {
	// Width wraps markdown; zero detects the terminal width.
	Width int
	// ShowThinking prints reasoning instead of folding it.
	ShowThinking bool
	// Plain disables markdown styling.
	Plain bool
}

// Renderer formats assistant content.
type Renderer struct {
	md   *glamour.TermRenderer
	opts Options
}

// New builds a renderer for out. Markdown styling is used only when out is
// a terminal and Plain is unset.
func New(out io.Writer, opts Options) *Renderer {
	r := &Renderer{opts: opts}
	f, isFile := out.(*os.File)
	tty := isFile && term.IsTerminal(int(f.Fd()))
	if opts.Width <= 0 {
		r.opts.Width = defaultWidth
		if tty {
			if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
				r.opts.Width = w
			}
		}
	}
	if opts.Plain || !tty {
		return r
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(r.opts.Width),
	)
	if err != nil {
		logging.ErrorLog("markdown renderer unavailable: %v", err)
		return r
	}
	r.md = md
	return r
}

// NewWithStyle forces a glamour style, e.g. "notty" or "dark".
func NewWithStyle(style string, opts Options) (*Renderer, error) {
	if opts.Width <= 0 {
		opts.Width = defaultWidth
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(opts.Width),
	)
	if err != nil {
		return nil, fmt.Errorf("markdown renderer: %w", err)
	}
	return &Renderer{md: md, opts: opts}, nil
}

// Markdown renders text, falling back to the raw text on failure.
func (r *Renderer) Markdown(text string) string {
	if r.md == nil || strings.TrimSpace(text) == "" {
		return text
	}
	out, err := r.md.Render(text)
	if err != nil {
		logging.DevLog("markdown render failed: %v", err)
		return text
	}
	return strings.Trim(out, "\n")
}

// Message renders one stored message: the reasoning fold followed by the answer.
func (r *Renderer) Message(content string) string {
	parts := stream.SplitThinking(content)
	var b strings.Builder
	if fold := r.Thinking(parts); fold != "" {
		b.WriteString(fold)
		b.WriteString("\n")
	}
	b.WriteString(r.Markdown(parts.Answer))
	return b.String()
}

// Thinking renders the reasoning part of parts, folded or expanded.
func (r *Renderer) Thinking(parts stream.Parts) string {
	if parts.Thinking == "" && !parts.Open {
		return ""
	}
	if !r.opts.ShowThinking {
		return Fold(parts)
	}
	header := "Thoughts"
	if parts.Open {
		header = "Thinking…"
	}
	lines := strings.Split(parts.Thinking, "\n")
	for i, l := range lines {
		lines[i] = "│ " + l
	}
	return header + "\n" + strings.Join(lines, "\n")
}

// Fold is the collapsed one-line form of a reasoning span.
func Fold(parts stream.Parts) string {
	if parts.Open {
		return "▸ Thinking…"
	}
	n := 0
	if parts.Thinking != "" {
		n = strings.Count(parts.Thinking, "\n") + 1
	}
	switch n {
	case 0:
		return ""
	case 1:
		return "▸ Thought for 1 line"
	default:
		return fmt.Sprintf("▸ Thought for %d lines", n)
	}
}

// Live prints a message incrementally as its content grows.
type Live struct {
	out       io.Writer
	printed   string
	announced bool
}

// NewLive starts a live view on out.
func NewLive(out io.Writer) *Live {
	return &Live{out: out}
}

// Update prints whatever part of the answer has not been printed yet.
// Content that no longer extends the printed prefix is reprinted whole.
func (l *Live) Update(content string) {
	parts := stream.SplitThinking(content)
	if (parts.Open || parts.Thinking != "") && !l.announced && l.printed == "" {
		fmt.Fprintln(l.out, "▸ Thinking…")
		l.announced = true
	}
	answer := parts.Answer
	if answer == "" || answer == l.printed {
		return
	}
	if strings.HasPrefix(answer, l.printed) {
		fmt.Fprint(l.out, answer[len(l.printed):])
	} else {
		fmt.Fprint(l.out, "\n"+answer)
	}
	l.printed = answer
}

// Done terminates the live line.
func (l *Live) Done() {
	if l.printed != "" {
		fmt.Fprintln(l.out)
	}
	l.printed = ""
	l.announced = false
}
