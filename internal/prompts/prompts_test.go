package prompts

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"deskmate/internal/llm"
	"deskmate/internal/session"
	"deskmate/internal/tasks"
)

var fixedNow = time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)

func TestBuildSystemPromptBlocks(t *testing.T) {
	tests := []struct {
		name     string
		in       SystemInput
		contains []string
		excludes []string
	}{
		{
			name:     "bare",
			in:       SystemInput{Now: fixedNow, Vendor: llm.VendorOpenAI},
			contains: []string{"Current date: Monday, June 2, 2025", "Current time: 2:30 PM", Base()},
			excludes: []string{"## About the user", "## Custom instructions", llm.ThinkOpen, "## Live web context"},
		},
		{
			name:     "profile with one field",
			in:       SystemInput{Now: fixedNow, Profile: Profile{About: "runs a bakery"}},
			contains: []string{"## About the user\nAbout: runs a bakery"},
			excludes: []string{"Name:"},
		},
		{
			name:     "tone only",
			in:       SystemInput{Now: fixedNow, Tone: "playful"},
			contains: []string{"## Custom instructions\nRespond in a playful tone."},
		},
		{
			name:     "thinking on vendor without native toggle",
			in:       SystemInput{Now: fixedNow, Vendor: llm.VendorOpenRouter, Thinking: true},
			contains: []string{ThinkingInstruction},
		},
		{
			name:     "thinking on native vendor",
			in:       SystemInput{Now: fixedNow, Vendor: llm.VendorAnthropic, Thinking: true},
			excludes: []string{ThinkingInstruction},
		},
		{
			name:     "web context",
			in:       SystemInput{Now: fixedNow, WebContext: "Rain expected.\n\n### Sources\n- [Met](https://met.example)"},
			contains: []string{"## Live web context", "Rain expected."},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := BuildSystemPrompt(tc.in)
			for _, want := range tc.contains {
				if !strings.Contains(got, want) {
					t.Errorf("prompt missing %q:\n%s", want, got)
				}
			}
			for _, unwanted := range tc.excludes {
				if strings.Contains(got, unwanted) {
					t.Errorf("prompt should not contain %q", unwanted)
				}
			}
		})
	}
}

func TestNotesBlockStripsHTML(t *testing.T) {
	long := strings.Repeat("a", 250)
	got := NotesBlock([]tasks.Note{
		{Title: "Groceries", Body: "<p>Milk</p><ul><li>Eggs</li><li>Bread</li></ul>"},
		{Title: "", Body: long},
	})
	want := "## The user's notes\n- [Groceries]: Milk Eggs Bread\n- [Untitled]: " + strings.Repeat("a", 200)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("notes block mismatch (-want +got):\n%s", diff)
	}
	if NotesBlock(nil) != "" {
		t.Fatalf("empty notes should produce no block")
	}
}

func TestSanitizeHistory(t *testing.T) {
	clean := []llm.Message{
		{Role: llm.RoleUser, Content: "a"},
		{Role: llm.RoleAssistant, Content: "b"},
	}
	if diff := cmp.Diff(clean, SanitizeHistory(clean)); diff != "" {
		t.Fatalf("sanitize should be a no-op without system entries:\n%s", diff)
	}

	mixed := []llm.Message{
		{Role: llm.RoleSystem, Content: "Created task"},
		{Role: llm.RoleUser, Content: "a"},
		{Role: llm.RoleSystem, Content: "Deleted task"},
		{Role: llm.RoleAssistant, Content: "b"},
	}
	got := SanitizeHistory(mixed)
	if diff := cmp.Diff(clean, got); diff != "" {
		t.Fatalf("sanitize mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(got, SanitizeHistory(got)); diff != "" {
		t.Fatalf("sanitize is not idempotent:\n%s", diff)
	}
}

func TestBuildHistory(t *testing.T) {
	greeting := []llm.Message{{Role: llm.RoleAssistant, Content: "Hi! How can I help?"}}
	next := llm.Message{Content: "What's up?"}

	tests := []struct {
		name   string
		prior  []llm.Message
		vendor llm.Vendor
		want   []llm.Message
	}{
		{
			name:   "strict vendor drops lone greeting",
			prior:  greeting,
			vendor: llm.VendorGemini,
			want:   []llm.Message{{Role: llm.RoleUser, Content: "What's up?"}},
		},
		{
			name:   "lenient vendor keeps greeting",
			prior:  greeting,
			vendor: llm.VendorOpenAI,
			want: []llm.Message{
				{Role: llm.RoleAssistant, Content: "Hi! How can I help?"},
				{Role: llm.RoleUser, Content: "What's up?"},
			},
		},
		{
			name: "strict vendor merges and drops empties",
			prior: []llm.Message{
				{Role: llm.RoleAssistant, Content: "greeting"},
				{Role: llm.RoleUser, Content: "one"},
				{Role: llm.RoleAssistant, Content: ""},
				{Role: llm.RoleSystem, Content: "status"},
				{Role: llm.RoleUser, Content: "two"},
				{Role: llm.RoleAssistant, Content: llm.ThinkOpen + "hmm" + llm.ThinkClose + "\nanswer"},
			},
			vendor: llm.VendorAnthropic,
			want: []llm.Message{
				{Role: llm.RoleUser, Content: "one\n\ntwo"},
				{Role: llm.RoleAssistant, Content: "answer"},
				{Role: llm.RoleUser, Content: "What's up?"},
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := BuildHistory(tc.prior, next, tc.vendor)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("history mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildHistoryMergeLeavesStoredAttachments(t *testing.T) {
	first := llm.NewAttachment("a.txt", "text/plain", []byte("alpha"))
	second := llm.NewAttachment("b.txt", "text/plain", []byte("beta"))
	stored := make([]llm.Attachment, 1, 4)
	stored[0] = first
	prior := []llm.Message{
		{Role: llm.RoleUser, Content: "one", Attachments: stored},
		{Role: llm.RoleUser, Content: "two", Attachments: []llm.Attachment{second}},
	}

	got := BuildHistory(prior, llm.Message{Content: "three"}, llm.VendorAnthropic)
	if len(got) != 1 || len(got[0].Attachments) != 2 {
		t.Fatalf("expected one merged user turn with both attachments, got %+v", got)
	}
	if spare := stored[:2][1]; spare.Name != "" {
		t.Fatalf("merge wrote into the stored message's backing array: %+v", spare)
	}
	if len(prior[0].Attachments) != 1 {
		t.Fatalf("stored attachments changed: %+v", prior[0].Attachments)
	}
}

func TestFromSessionSkipsPending(t *testing.T) {
	got := FromSession([]session.Message{
		{ID: "1", Role: session.RoleAssistant, Content: "hello"},
		{ID: "2", Role: session.RoleSystem, Content: "Created task"},
		{ID: "3", Role: session.RoleUser, Content: "hi"},
		{ID: "4", Role: session.RoleAssistant},
	})
	want := []llm.Message{
		{Role: llm.RoleAssistant, Content: "hello"},
		{Role: llm.RoleSystem, Content: "Created task"},
		{Role: llm.RoleUser, Content: "hi"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("FromSession mismatch (-want +got):\n%s", diff)
	}
}
