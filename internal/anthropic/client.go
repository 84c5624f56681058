// Package anthropic streams the Messages API, mapping its typed thinking and
// text content blocks onto normalized deltas.
package anthropic

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"deskmate/internal/llm"
	"deskmate/internal/logging"
	"deskmate/internal/sse"
)

const (
	// DefaultBaseURL is the public API root.
	DefaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"

	defaultMaxTokens  = 4096
	minThinkingBudget = 1024
)

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  *log.Logger
}

// Client talks to the Messages endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *log.Logger
}

// New validates opts and builds a client.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, &llm.MissingKeyError{Vendor: llm.VendorAnthropic}
	}
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if opts.Logger == nil {
		opts.Logger = logging.Logger
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: timeout,
		}},
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  opts.APIKey,
		logger:  opts.Logger,
	}, nil
}

// Vendor satisfies llm.Provider.
func (c *Client) Vendor() llm.Vendor { return llm.VendorAnthropic }

type source struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type block struct {
	Type   string  `json:"type"`
	Text   string  `json:"text,omitempty"`
	Source *source `json:"source,omitempty"`
}

type message struct {
	Role    string  `json:"role"`
	Content []block `json:"content"`
}

type thinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type messagesRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Messages    []message       `json:"messages"`
	Stream      bool            `json:"stream,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Thinking    *thinkingConfig `json:"thinking,omitempty"`
}

func buildRequest(req llm.Request, stream bool) messagesRequest {
	out := messagesRequest{
		Model:     req.Model,
		MaxTokens: defaultMaxTokens,
		System:    req.System,
		Stream:    stream,
	}
	for _, m := range req.History {
		if m.Role == llm.RoleSystem {
			continue
		}
		out.Messages = append(out.Messages, message{Role: m.Role, Content: contentBlocks(m)})
	}
	if req.Thinking.Enabled {
		budget := req.Thinking.BudgetTokens
		if budget < minThinkingBudget {
			budget = minThinkingBudget
		}
		out.Thinking = &thinkingConfig{Type: "enabled", BudgetTokens: budget}
		// max_tokens must exceed the budget; temperature is fixed while thinking
		out.MaxTokens = budget + defaultMaxTokens
		return out
	}
	if req.Temperature > 0 {
		t := req.Temperature
		out.Temperature = &t
	}
	return out
}

func contentBlocks(m llm.Message) []block {
	var blocks []block
	for _, a := range m.Attachments {
		if a.Kind == llm.AttachmentImage {
			data, mimeType, err := a.Decode()
			if err == nil {
				blocks = append(blocks, block{Type: "image", Source: &source{
					Type:      "base64",
					MediaType: mimeType,
					Data:      base64Payload(a.PreviewDataURI, data),
				}})
				continue
			}
		}
		blocks = append(blocks, block{Type: "text", Text: llm.InlineFileText(a)})
	}
	if m.Content != "" || len(blocks) == 0 {
		blocks = append(blocks, block{Type: "text", Text: m.Content})
	}
	return blocks
}

// base64Payload reuses the encoded part of a base64 data URI.
func base64Payload(uri string, raw []byte) string {
	if _, payload, ok := strings.Cut(uri, ";base64,"); ok {
		return payload
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func (c *Client) post(ctx context.Context, payload messagesRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	if payload.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	c.logger.Printf("[anthropic] sending %d messages to model %s (%d bytes)", len(payload.Messages), payload.Model, len(body))
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		logging.ErrorLog("anthropic API error: %d - %s", resp.StatusCode, string(respBody))
		return nil, llm.StatusError(llm.VendorAnthropic, resp.StatusCode, respBody)
	}
	return resp, nil
}

type streamEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content_block,omitempty"`
	Delta *struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		Thinking string `json:"thinking"`
	} `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Stream satisfies llm.Provider.
func (c *Client) Stream(ctx context.Context, req llm.Request, emit func(llm.Delta) error) error {
	resp, err := c.post(ctx, buildRequest(req, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Only message_stop ends the stream cleanly; a bare EOF is sse.ErrTruncated.
	m := &blockMapper{}
	err = sse.Read(ctx, resp.Body, func(ev sse.Event) error {
		var evt streamEvent
		if err := json.Unmarshal([]byte(ev.Data), &evt); err != nil {
			logging.WarnLog("anthropic: malformed stream event %q: %v", ev.Name, err)
			return llm.NewProviderError(string(llm.VendorAnthropic), llm.ErrorTypeUnknown, "malformed_event", "malformed stream event: "+err.Error())
		}
		if evt.Error != nil {
			errType := llm.ErrorTypeUnknown
			if evt.Error.Type == "overloaded_error" {
				errType = llm.ErrorTypeProviderDown
			}
			return llm.NewProviderError(string(llm.VendorAnthropic), errType, evt.Error.Type, evt.Error.Message)
		}
		if evt.Type == "message_stop" {
			return sse.Stop()
		}
		for _, d := range m.deltas(evt) {
			if err := emit(d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("anthropic stream: %w", err)
	}
	return nil
}

// blockMapper tracks which content block indexes are thinking blocks.
type blockMapper struct {
	thinking map[int]bool
}

func (m *blockMapper) deltas(evt streamEvent) []llm.Delta {
	if m.thinking == nil {
		m.thinking = make(map[int]bool)
	}
	switch evt.Type {
	case "content_block_start":
		if evt.ContentBlock == nil {
			return nil
		}
		switch evt.ContentBlock.Type {
		case "thinking":
			m.thinking[evt.Index] = true
			return []llm.Delta{{Kind: llm.DeltaThinkingStart}}
		case "text":
			if evt.ContentBlock.Text != "" {
				return []llm.Delta{llm.Text(evt.ContentBlock.Text)}
			}
		}
	case "content_block_delta":
		if evt.Delta == nil {
			return nil
		}
		switch evt.Delta.Type {
		case "thinking_delta":
			return []llm.Delta{llm.Reasoning(evt.Delta.Thinking)}
		case "text_delta":
			return []llm.Delta{llm.Text(evt.Delta.Text)}
		}
	case "content_block_stop":
		if m.thinking[evt.Index] {
			delete(m.thinking, evt.Index)
			return []llm.Delta{{Kind: llm.DeltaThinkingStop}}
		}
	}
	return nil
}

// Generate satisfies llm.Provider.
func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Generation, error) {
	resp, err := c.post(ctx, buildRequest(req, false))
	if err != nil {
		return llm.Generation{}, err
	}
	defer resp.Body.Close()

	var parsed struct {
		Content []struct {
			Type     string `json:"type"`
			Text     string `json:"text"`
			Thinking string `json:"thinking"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return llm.Generation{}, fmt.Errorf("parse response: %w", err)
	}
	var gen llm.Generation
	for _, b := range parsed.Content {
		switch b.Type {
		case "text":
			gen.Text += b.Text
		case "thinking":
			gen.Thinking += b.Thinking
		}
	}
	return gen, nil
}
