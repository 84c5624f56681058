// Package prompts assembles the system prompt and the vendor-facing history
// for every chat turn.
package prompts

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"deskmate/internal/llm"
	"deskmate/internal/tasks"
)

//go:embed persona.txt
var basePersona string

// Base returns the built-in persona.
func Base() string {
	return strings.TrimSpace(basePersona)
}

// Profile is what the user told us about themselves.
type Profile struct {
	Name  string `yaml:"name" json:"name"`
	Age   string `yaml:"age" json:"age"`
	About string `yaml:"about" json:"about"`
}

// Empty reports whether every field is blank.
func (p Profile) Empty() bool {
	return strings.TrimSpace(p.Name) == "" && strings.TrimSpace(p.Age) == "" && strings.TrimSpace(p.About) == ""
}

// SystemInput gathers the ambient state for one turn.
type SystemInput struct {
	Now          time.Time
	Profile      Profile
	Instructions string
	Tone         string
	Vendor       llm.Vendor
	Thinking     bool
	WebContext   string
	Notes        []tasks.Note
	Tasks        []tasks.Task
}

// ThinkingInstruction asks vendors without a native reasoning toggle to
// bracket their reasoning with the sentinel tags.
var ThinkingInstruction = fmt.Sprintf(
	"Before answering, think through the problem step by step. Put all of that reasoning between %s and %s tags, then write the final answer after the closing tag. Do not put the final answer inside the tags.",
	llm.ThinkOpen, llm.ThinkClose)

// InlineThinking reports whether the system prompt carries
// ThinkingInstruction, so answer text may contain think tags to lift.
func InlineThinking(v llm.Vendor, thinking bool) bool {
	return thinking && !v.NativeThinking()
}

// BuildSystemPrompt composes the system prompt. Optional blocks appear only
// when they have content.
func BuildSystemPrompt(in SystemInput) string {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	sections := []string{
		fmt.Sprintf("Current date: %s\nCurrent time: %s", now.Format("Monday, January 2, 2006"), now.Format("3:04 PM MST")),
		Base(),
	}

	if !in.Profile.Empty() {
		var b strings.Builder
		b.WriteString("## About the user")
		if v := strings.TrimSpace(in.Profile.Name); v != "" {
			b.WriteString("\nName: " + v)
		}
		if v := strings.TrimSpace(in.Profile.Age); v != "" {
			b.WriteString("\nAge: " + v)
		}
		if v := strings.TrimSpace(in.Profile.About); v != "" {
			b.WriteString("\nAbout: " + v)
		}
		sections = append(sections, b.String())
	}

	instructions := strings.TrimSpace(in.Instructions)
	tone := strings.TrimSpace(in.Tone)
	if instructions != "" || tone != "" {
		var b strings.Builder
		b.WriteString("## Custom instructions")
		if instructions != "" {
			b.WriteString("\n" + instructions)
		}
		if tone != "" {
			b.WriteString("\nRespond in a " + tone + " tone.")
		}
		sections = append(sections, b.String())
	}

	if InlineThinking(in.Vendor, in.Thinking) {
		sections = append(sections, ThinkingInstruction)
	}

	if block := TasksBlock(in.Tasks); block != "" {
		sections = append(sections, block)
	}
	if block := NotesBlock(in.Notes); block != "" {
		sections = append(sections, block)
	}

	if web := strings.TrimSpace(in.WebContext); web != "" {
		sections = append(sections, "## Live web context\nUse this up-to-date information when it is relevant:\n\n"+web)
	}

	return strings.Join(sections, "\n\n")
}

// TasksBlock lists open tasks so chat answers can refer to them.
func TasksBlock(list []tasks.Task) string {
	var lines []string
	for _, t := range list {
		if t.Status == tasks.StatusCompleted {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s (%s, %s, due %s)", t.Title, t.Status, t.Priority, t.Date))
	}
	if len(lines) == 0 {
		return ""
	}
	return "## The user's open tasks\n" + strings.Join(lines, "\n")
}
