package llm

import (
	"context"
)

// Message roles accepted at the vendor boundary. System text travels in
// Request.System, never in History.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one provider-agnostic conversation entry.
type Message struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ThinkingOptions toggles vendor-native reasoning.
type ThinkingOptions struct {
	Enabled      bool `json:"enabled"`
	BudgetTokens int  `json:"budget_tokens,omitempty"`
}

// Request is the normalized payload every vendor adapter translates.
type Request struct {
	Model       string          `json:"model"`
	System      string          `json:"system,omitempty"`
	History     []Message       `json:"history"`
	Temperature float64         `json:"temperature,omitempty"`
	Thinking    ThinkingOptions `json:"thinking"`
	// Search asks vendors with a built-in search tool to ground the answer.
	Search bool `json:"search,omitempty"`
	// JSON asks for a bare JSON object when the vendor supports it.
	JSON bool `json:"json,omitempty"`
}

// Citation is one grounding source backing an answer.
type Citation struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Key identifies a citation for de-duplication.
func (c Citation) Key() string {
	return c.Title + "\x00" + c.URL
}

// DeltaKind tags the variant carried by a Delta.
type DeltaKind int

const (
	DeltaText DeltaKind = iota
	DeltaReasoning
	DeltaThinkingStart
	DeltaThinkingStop
	DeltaCitation
)

func (k DeltaKind) String() string {
	switch k {
	case DeltaText:
		return "text"
	case DeltaReasoning:
		return "reasoning"
	case DeltaThinkingStart:
		return "thinking_start"
	case DeltaThinkingStop:
		return "thinking_stop"
	case DeltaCitation:
		return "citation"
	default:
		return "unknown"
	}
}

// Delta is one normalized streaming event.
type Delta struct {
	Kind     DeltaKind
	Text     string
	Citation Citation
}

// Text builds an answer-text delta.
func Text(s string) Delta { return Delta{Kind: DeltaText, Text: s} }

// Reasoning builds a reasoning delta.
func Reasoning(s string) Delta { return Delta{Kind: DeltaReasoning, Text: s} }

// Cite builds a citation delta.
func Cite(title, url string) Delta {
	return Delta{Kind: DeltaCitation, Citation: Citation{Title: title, URL: url}}
}

// Generation is the result of a single non-streaming call.
type Generation struct {
	Text      string     `json:"text"`
	Thinking  string     `json:"thinking,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
}

// Provider is implemented once per vendor kind.
type Provider interface {
	Vendor() Vendor
	// Stream sends one turn and reports every normalized delta to emit in
	// arrival order. An error from emit aborts the stream.
	Stream(ctx context.Context, req Request, emit func(Delta) error) error
	Generate(ctx context.Context, req Request) (Generation, error)
}

// Searcher runs a search-grounded generation for live web context.
type Searcher interface {
	Search(ctx context.Context, prompt string) (Generation, error)
}

// Sentinel tags bracketing a reasoning span in serialized message content.
const (
	ThinkOpen  = "<think>"
	ThinkClose = "</think>"
)
