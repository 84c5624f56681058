package prompts

import (
	"strings"

	"deskmate/internal/llm"
	"deskmate/internal/session"
)

// SanitizeHistory removes system-role entries and keeps everything else in
// order. A history without system entries comes back unchanged.
func SanitizeHistory(history []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		if m.Role == llm.RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return out
}

// FromSession converts stored messages to the vendor vocabulary. Pending
// placeholders are skipped.
func FromSession(msgs []session.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Pending() {
			continue
		}
		role := llm.RoleAssistant
		switch m.Role {
		case session.RoleUser:
			role = llm.RoleUser
		case session.RoleSystem:
			role = llm.RoleSystem
		}
		out = append(out, llm.Message{Role: role, Content: m.Content, Attachments: m.Attachments})
	}
	return out
}

// BuildHistory sanitises prior, adapts it to the vendor's turn rules and
// appends the new user utterance last. For strict-alternation vendors a
// trailing user turn left by an earlier failure is merged into the utterance.
func BuildHistory(prior []llm.Message, utterance llm.Message, vendor llm.Vendor) []llm.Message {
	history := SanitizeHistory(prior)
	for i := range history {
		history[i].Content = StripThinking(history[i].Content)
	}
	utterance.Role = llm.RoleUser
	history = append(history, utterance)
	if vendor.StrictAlternation() {
		history = alternate(history)
	}
	return history
}

// alternate trims the history so it starts on a user turn, drops empty
// entries and merges consecutive same-role entries. A history with no user
// turn yields an empty slice.
func alternate(history []llm.Message) []llm.Message {
	start := -1
	for i, m := range history {
		if m.Role == llm.RoleUser {
			start = i
			break
		}
	}
	if start < 0 {
		return []llm.Message{}
	}
	out := make([]llm.Message, 0, len(history)-start)
	for _, m := range history[start:] {
		if strings.TrimSpace(m.Content) == "" && len(m.Attachments) == 0 {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			prev := &out[n-1]
			prev.Content += "\n\n" + m.Content
			if len(m.Attachments) > 0 {
				// Fresh backing array: the source slice may belong to a stored message.
				merged := make([]llm.Attachment, 0, len(prev.Attachments)+len(m.Attachments))
				merged = append(merged, prev.Attachments...)
				prev.Attachments = append(merged, m.Attachments...)
			}
			continue
		}
		out = append(out, m)
	}
	return out
}

// StripThinking removes serialized reasoning spans so earlier thoughts are
// not fed back to the vendor as answer text.
func StripThinking(content string) string {
	for {
		start := strings.Index(content, llm.ThinkOpen)
		if start < 0 {
			return content
		}
		end := strings.Index(content[start:], llm.ThinkClose)
		if end < 0 {
			return strings.TrimSpace(content[:start])
		}
		content = content[:start] + strings.TrimLeft(content[start+end+len(llm.ThinkClose):], "\n")
	}
}
