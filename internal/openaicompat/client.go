// Package openaicompat talks to chat-completions endpoints that follow the
// OpenAI wire format: OpenAI itself, OpenRouter and Z.AI.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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

// DefaultBaseURL returns the public endpoint root for vendor.
func DefaultBaseURL(v llm.Vendor) string {
	switch v {
	case llm.VendorOpenAI:
		return "https://api.openai.com/v1"
	case llm.VendorOpenRouter:
		return "https://openrouter.ai/api/v1"
	case llm.VendorZAI:
		return "https://api.z.ai/api/paas/v4"
	default:
		return ""
	}
}

// Options configures a Client.
type Options struct {
	Vendor  llm.Vendor
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  *log.Logger
}

// Client is a minimal HTTP wrapper around a chat completions API.
type Client struct {
	vendor     llm.Vendor
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *log.Logger
}

// New validates opts and builds a client. Streams are bounded by the request
// context, so Timeout only caps connection setup and headers.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, &llm.MissingKeyError{Vendor: opts.Vendor}
	}
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL(opts.Vendor)
	}
	if base == "" {
		return nil, fmt.Errorf("%s: base URL must be configured", opts.Vendor)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Logger
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		vendor: opts.Vendor,
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
func (c *Client) Vendor() llm.Vendor { return c.vendor }

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type thinkingToggle struct {
	Type string `json:"type"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Stream         bool            `json:"stream,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	Thinking       *thinkingToggle `json:"thinking,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatDelta struct {
	Content          string `json:"content"`
	Reasoning        string `json:"reasoning"`
	ReasoningContent string `json:"reasoning_content"`
}

type apiError struct {
	Message string `json:"message"`
	Code    any    `json:"code"`
}

type chatResponse struct {
	Choices []struct {
		Delta        chatDelta `json:"delta"`
		Message      chatDelta `json:"message"`
		FinishReason string    `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
	// Z.AI reports some failures as 200 with code/msg.
	Code int    `json:"code,omitempty"`
	Msg  string `json:"msg,omitempty"`
}

func (c *Client) buildRequest(req llm.Request, stream bool) chatRequest {
	out := chatRequest{Model: req.Model, Stream: stream}
	if req.System != "" {
		out.Messages = append(out.Messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.History {
		if m.Role == llm.RoleSystem {
			continue
		}
		out.Messages = append(out.Messages, chatMessage{Role: m.Role, Content: messageContent(m)})
	}
	if req.Temperature > 0 {
		t := req.Temperature
		out.Temperature = &t
	}
	if c.vendor == llm.VendorZAI {
		toggle := "disabled"
		if req.Thinking.Enabled {
			toggle = "enabled"
		}
		out.Thinking = &thinkingToggle{Type: toggle}
	}
	if req.JSON && c.vendor != llm.VendorZAI {
		out.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return out
}

// messageContent keeps plain text as a string and switches to content parts
// only when attachments are present.
func messageContent(m llm.Message) any {
	if len(m.Attachments) == 0 {
		return m.Content
	}
	parts := []contentPart{}
	if m.Content != "" {
		parts = append(parts, contentPart{Type: "text", Text: m.Content})
	}
	for _, a := range m.Attachments {
		if a.Kind == llm.AttachmentImage {
			parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: a.PreviewDataURI}})
			continue
		}
		parts = append(parts, contentPart{Type: "text", Text: llm.InlineFileText(a)})
	}
	return parts
}

func (c *Client) post(ctx context.Context, payload chatRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if c.vendor == llm.VendorOpenRouter {
		httpReq.Header.Set("HTTP-Referer", "https://github.com/deskmate/deskmate")
		httpReq.Header.Set("X-Title", "Deskmate")
	}
	if c.vendor == llm.VendorZAI {
		httpReq.Header.Set("Accept-Language", "en-US,en")
	}

	c.logger.Printf("[%s] sending %d messages to model %s (%d bytes)", c.vendor, len(payload.Messages), payload.Model, len(body))
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		logging.ErrorLog("%s API error: %d - %s", c.vendor, resp.StatusCode, string(respBody))
		return nil, llm.StatusError(c.vendor, resp.StatusCode, respBody)
	}
	return resp, nil
}

// Stream satisfies llm.Provider.
func (c *Client) Stream(ctx context.Context, req llm.Request, emit func(llm.Delta) error) error {
	resp, err := c.post(ctx, c.buildRequest(req, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	chunks := 0
	finished := false
	err = sse.Read(ctx, resp.Body, func(ev sse.Event) error {
		var chunk chatResponse
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			logging.WarnLog("%s: malformed stream chunk after %d chunks: %v", c.vendor, chunks, err)
			return llm.NewProviderError(string(c.vendor), llm.ErrorTypeUnknown, "malformed_chunk", "malformed stream chunk: "+err.Error())
		}
		if err := c.chunkError(chunk); err != nil {
			return err
		}
		chunks++
		for _, choice := range chunk.Choices {
			if choice.FinishReason != "" {
				finished = true
			}
		}
		for _, d := range deltasFromChunk(chunk) {
			if err := emit(d); err != nil {
				return err
			}
		}
		return nil
	})
	c.logger.Printf("[%s] stream finished after %d chunks", c.vendor, chunks)
	// Some gateways close after finish_reason without sending [DONE].
	if errors.Is(err, sse.ErrTruncated) && finished {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("%s stream: %w", c.vendor, err)
	}
	return nil
}

// deltasFromChunk maps one streamed chunk. Reasoning fields come before
// content so a chunk carrying both closes the span in order.
func deltasFromChunk(chunk chatResponse) []llm.Delta {
	var out []llm.Delta
	for _, choice := range chunk.Choices {
		d := choice.Delta
		if r := d.ReasoningContent + d.Reasoning; r != "" {
			out = append(out, llm.Reasoning(r))
		}
		if d.Content != "" {
			out = append(out, llm.Text(d.Content))
		}
	}
	return out
}

func (c *Client) chunkError(chunk chatResponse) error {
	if chunk.Error != nil && chunk.Error.Message != "" {
		return llm.NewProviderError(string(c.vendor), llm.ErrorTypeUnknown, fmt.Sprint(chunk.Error.Code), chunk.Error.Message)
	}
	if chunk.Code != 0 && chunk.Msg != "" {
		return llm.NewProviderError(string(c.vendor), llm.ErrorTypeUnknown, fmt.Sprint(chunk.Code), chunk.Msg)
	}
	return nil
}

// Generate satisfies llm.Provider.
func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Generation, error) {
	resp, err := c.post(ctx, c.buildRequest(req, false))
	if err != nil {
		return llm.Generation{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Generation{}, fmt.Errorf("read response: %w", err)
	}
	c.logger.Printf("[%s] response size: %d bytes", c.vendor, len(body))

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return llm.Generation{}, fmt.Errorf("parse response: %w", err)
	}
	if err := c.chunkError(parsed); err != nil {
		return llm.Generation{}, err
	}
	if len(parsed.Choices) == 0 {
		return llm.Generation{}, errors.New("no choices returned")
	}
	msg := parsed.Choices[0].Message
	return llm.Generation{
		Text:     msg.Content,
		Thinking: msg.ReasoningContent + msg.Reasoning,
	}, nil
}
