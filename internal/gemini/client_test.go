package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/genai"

	"deskmate/internal/llm"
)

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(context.Background(), Options{}); !errors.Is(err, llm.ErrMissingAPIKey) {
		t.Fatalf("expected missing key, got %v", err)
	}
}

func TestDeltasFromResponse(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{
				{Text: "Considering sources", Thought: true},
				{Text: "It will rain."},
				{Text: ""},
			}},
			GroundingMetadata: &genai.GroundingMetadata{
				GroundingChunks: []*genai.GroundingChunk{
					{Web: &genai.GroundingChunkWeb{Title: "met.example", URI: "https://met.example/x"}},
					{Web: &genai.GroundingChunkWeb{Title: "no uri"}},
					nil,
				},
			},
		}},
	}
	want := []llm.Delta{
		llm.Reasoning("Considering sources"),
		llm.Text("It will rain."),
		llm.Cite("met.example", "https://met.example/x"),
	}
	if diff := cmp.Diff(want, deltasFromResponse(resp)); diff != "" {
		t.Fatalf("deltas mismatch (-want +got):\n%s", diff)
	}
	if deltasFromResponse(&genai.GenerateContentResponse{}) != nil {
		t.Fatalf("empty response should map to nothing")
	}
}

func TestGenerationFromDeltas(t *testing.T) {
	gen := generationFromDeltas([]llm.Delta{
		llm.Reasoning("a"), llm.Text("b"), llm.Text("c"), llm.Cite("t", "u"),
	})
	want := llm.Generation{Text: "bc", Thinking: "a", Citations: []llm.Citation{{Title: "t", URL: "u"}}}
	if diff := cmp.Diff(want, gen); diff != "" {
		t.Fatalf("generation mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildConfig(t *testing.T) {
	cfg := buildConfig(llm.Request{
		System:      "persona",
		Temperature: 0.5,
		Search:      true,
		Thinking:    llm.ThinkingOptions{Enabled: true, BudgetTokens: 2048},
	})
	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "persona" {
		t.Fatalf("system instruction missing")
	}
	if len(cfg.Tools) != 1 || cfg.Tools[0].GoogleSearch == nil {
		t.Fatalf("search tool missing")
	}
	if cfg.ThinkingConfig == nil || !cfg.ThinkingConfig.IncludeThoughts || *cfg.ThinkingConfig.ThinkingBudget != 2048 {
		t.Fatalf("thinking config wrong: %+v", cfg.ThinkingConfig)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.5 {
		t.Fatalf("temperature not set")
	}
	if buildConfig(llm.Request{JSON: true}).ResponseMIMEType != "application/json" {
		t.Fatalf("json mime type not requested")
	}
}

func TestBuildContents(t *testing.T) {
	img := llm.NewAttachment("photo.jpg", "image/jpeg", []byte{1, 2, 3})
	contents := buildContents([]llm.Message{
		{Role: llm.RoleUser, Content: "what is this?", Attachments: []llm.Attachment{img}},
		{Role: llm.RoleAssistant, Content: "A photo."},
		{Role: llm.RoleSystem, Content: "dropped"},
	})
	if len(contents) != 2 {
		t.Fatalf("expected 2 contents, got %d", len(contents))
	}
	if contents[0].Role != string(genai.RoleUser) || contents[1].Role != string(genai.RoleModel) {
		t.Fatalf("roles wrong: %q %q", contents[0].Role, contents[1].Role)
	}
	parts := contents[0].Parts
	if len(parts) != 2 || parts[0].InlineData == nil || parts[0].InlineData.MIMEType != "image/jpeg" || parts[1].Text != "what is this?" {
		t.Fatalf("unexpected parts %+v", parts)
	}
}
