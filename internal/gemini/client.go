// Package gemini adapts the Google generative SDK: chat streaming with
// thought parts, inline images and the Google Search grounding tool.
package gemini

import (
	"context"
	"fmt"
	"log"
	"strings"

	"google.golang.org/genai"

	"deskmate/internal/llm"
	"deskmate/internal/logging"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gemini-2.5-flash"
	// DefaultSearchModel answers web-context lookups.
	DefaultSearchModel = "gemini-2.5-flash"
)

// Options configures a Client.
type Options struct {
	APIKey      string
	BaseURL     string
	SearchModel string
	Logger      *log.Logger
}

// Client wraps a genai client for the Gemini API backend.
type Client struct {
	client      *genai.Client
	searchModel string
	logger      *log.Logger
}

// New builds a client. The SDK performs no network I/O here.
func New(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, &llm.MissingKeyError{Vendor: llm.VendorGemini}
	}
	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Logger
	}
	if opts.SearchModel == "" {
		opts.SearchModel = DefaultSearchModel
	}
	return &Client{client: client, searchModel: opts.SearchModel, logger: opts.Logger}, nil
}

// Vendor satisfies llm.Provider.
func (c *Client) Vendor() llm.Vendor { return llm.VendorGemini }

// Stream satisfies llm.Provider.
func (c *Client) Stream(ctx context.Context, req llm.Request, emit func(llm.Delta) error) error {
	model := modelOrDefault(req.Model)
	contents := buildContents(req.History)
	c.logger.Printf("[gemini] streaming %d contents to model %s (search=%v)", len(contents), model, req.Search)

	chunks := 0
	for resp, err := range c.client.Models.GenerateContentStream(ctx, model, contents, buildConfig(req)) {
		if err != nil {
			return fmt.Errorf("gemini stream: %w", err)
		}
		chunks++
		for _, d := range deltasFromResponse(resp) {
			if err := emit(d); err != nil {
				return err
			}
		}
	}
	c.logger.Printf("[gemini] stream finished after %d chunks", chunks)
	return nil
}

// Generate satisfies llm.Provider.
func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Generation, error) {
	model := modelOrDefault(req.Model)
	resp, err := c.client.Models.GenerateContent(ctx, model, buildContents(req.History), buildConfig(req))
	if err != nil {
		return llm.Generation{}, fmt.Errorf("gemini generate: %w", err)
	}
	return generationFromDeltas(deltasFromResponse(resp)), nil
}

// Search satisfies llm.Searcher with the Google Search tool enabled.
func (c *Client) Search(ctx context.Context, prompt string) (llm.Generation, error) {
	return c.Generate(ctx, llm.Request{
		Model:   c.searchModel,
		History: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Search:  true,
	})
}

func modelOrDefault(model string) string {
	if strings.TrimSpace(model) == "" {
		return DefaultModel
	}
	return model
}

func buildConfig(req llm.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		cfg.Temperature = &temp
	}
	if req.Search {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	} else if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	if req.Thinking.Enabled {
		budget := int32(req.Thinking.BudgetTokens)
		cfg.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
		if budget > 0 {
			cfg.ThinkingConfig.ThinkingBudget = &budget
		}
	}
	return cfg
}

func buildContents(history []llm.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		if m.Role == llm.RoleSystem {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if m.Role == llm.RoleAssistant {
			role = genai.RoleModel
		}
		var parts []*genai.Part
		for _, a := range m.Attachments {
			data, mimeType, err := a.Decode()
			if err != nil {
				logging.DevLog("gemini: dropping undecodable attachment %s: %v", a.Name, err)
				continue
			}
			if a.Kind == llm.AttachmentImage || mimeType == "application/pdf" {
				parts = append(parts, genai.NewPartFromBytes(data, mimeType))
				continue
			}
			parts = append(parts, genai.NewPartFromText(llm.InlineFileText(a)))
		}
		if m.Content != "" || len(parts) == 0 {
			parts = append(parts, genai.NewPartFromText(m.Content))
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents
}

// deltasFromResponse maps one response chunk: thought parts become
// reasoning, other text parts answer text, grounding chunks citations.
func deltasFromResponse(resp *genai.GenerateContentResponse) []llm.Delta {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	cand := resp.Candidates[0]
	var out []llm.Delta
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part == nil || part.Text == "" {
				continue
			}
			if part.Thought {
				out = append(out, llm.Reasoning(part.Text))
			} else {
				out = append(out, llm.Text(part.Text))
			}
		}
	}
	if gm := cand.GroundingMetadata; gm != nil {
		for _, chunk := range gm.GroundingChunks {
			if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" {
				continue
			}
			out = append(out, llm.Cite(chunk.Web.Title, chunk.Web.URI))
		}
	}
	return out
}

func generationFromDeltas(deltas []llm.Delta) llm.Generation {
	var gen llm.Generation
	var text, thinking strings.Builder
	for _, d := range deltas {
		switch d.Kind {
		case llm.DeltaText:
			text.WriteString(d.Text)
		case llm.DeltaReasoning:
			thinking.WriteString(d.Text)
		case llm.DeltaCitation:
			gen.Citations = append(gen.Citations, d.Citation)
		}
	}
	gen.Text = text.String()
	gen.Thinking = thinking.String()
	return gen
}
