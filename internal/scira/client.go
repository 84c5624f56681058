// Package scira calls the Scira search REST API: a general chat endpoint and
// an X/social search endpoint, both returning text plus sources.
package scira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"deskmate/internal/llm"
	"deskmate/internal/logging"
)

const (
	// DefaultBaseURL is the public API root.
	DefaultBaseURL = "https://api.scira.ai"
	// XSearchModel routes a turn to the X search endpoint.
	XSearchModel = "x-search"
	// DefaultModel routes a turn to the general endpoint.
	DefaultModel = "scira-default"
)

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  *log.Logger
}

// Client is the thin REST handle. Scira does not stream; a turn is delivered
// as one text delta followed by its citations.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *log.Logger
}

// New validates opts and builds a client.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, &llm.MissingKeyError{Vendor: llm.VendorScira}
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
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(base, "/"),
		apiKey:     opts.APIKey,
		logger:     opts.Logger,
	}, nil
}

// Vendor satisfies llm.Provider.
func (c *Client) Vendor() llm.Vendor { return llm.VendorScira }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type searchRequest struct {
	Messages []chatMessage `json:"messages"`
}

type xRequest struct {
	Query string `json:"query"`
}

// source accepts either a bare URL string or an object.
type source struct {
	Title string
	URL   string
}

func (s *source) UnmarshalJSON(data []byte) error {
	var url string
	if err := json.Unmarshal(data, &url); err == nil {
		s.URL = url
		return nil
	}
	var obj struct {
		Title string `json:"title"`
		URL   string `json:"url"`
		Link  string `json:"link"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	s.Title = obj.Title
	s.URL = obj.URL
	if s.URL == "" {
		s.URL = obj.Link
	}
	return nil
}

type searchResponse struct {
	Text    string   `json:"text"`
	Sources []source `json:"sources"`
}

func (c *Client) post(ctx context.Context, path string, payload any) (llm.Generation, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return llm.Generation{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return llm.Generation{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Printf("[scira] POST %s (%d bytes)", path, len(body))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return llm.Generation{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Generation{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		logging.ErrorLog("scira API error: %d - %s", resp.StatusCode, string(respBody))
		return llm.Generation{}, llm.StatusError(llm.VendorScira, resp.StatusCode, respBody)
	}
	var parsed searchResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return llm.Generation{}, fmt.Errorf("parse response: %w", err)
	}
	gen := llm.Generation{Text: parsed.Text}
	for _, s := range parsed.Sources {
		if s.URL == "" {
			continue
		}
		title := s.Title
		if title == "" {
			title = s.URL
		}
		gen.Citations = append(gen.Citations, llm.Citation{Title: title, URL: s.URL})
	}
	return gen, nil
}

// Chat sends the conversation to the general search endpoint.
func (c *Client) Chat(ctx context.Context, history []llm.Message) (llm.Generation, error) {
	payload := searchRequest{Messages: make([]chatMessage, 0, len(history))}
	for _, m := range history {
		if m.Role == llm.RoleSystem {
			continue
		}
		payload.Messages = append(payload.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	return c.post(ctx, "/api/search", payload)
}

// XSearch queries the X/social endpoint.
func (c *Client) XSearch(ctx context.Context, query string) (llm.Generation, error) {
	return c.post(ctx, "/api/search/x", xRequest{Query: query})
}

// Generate satisfies llm.Provider. The x-search model routes the last user
// message to XSearch; the system prompt is sent as a leading user turn.
func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Generation, error) {
	if req.Model == XSearchModel {
		return c.XSearch(ctx, lastUser(req.History))
	}
	history := req.History
	if req.System != "" {
		history = append([]llm.Message{{Role: llm.RoleUser, Content: req.System}, {Role: llm.RoleAssistant, Content: "Understood."}}, history...)
	}
	return c.Chat(ctx, history)
}

// Stream satisfies llm.Provider.
func (c *Client) Stream(ctx context.Context, req llm.Request, emit func(llm.Delta) error) error {
	gen, err := c.Generate(ctx, req)
	if err != nil {
		return err
	}
	if gen.Text != "" {
		if err := emit(llm.Text(gen.Text)); err != nil {
			return err
		}
	}
	for _, cite := range gen.Citations {
		if err := emit(llm.Delta{Kind: llm.DeltaCitation, Citation: cite}); err != nil {
			return err
		}
	}
	return nil
}

// Search satisfies llm.Searcher.
func (c *Client) Search(ctx context.Context, prompt string) (llm.Generation, error) {
	return c.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
}

func lastUser(history []llm.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == llm.RoleUser {
			return history[i].Content
		}
	}
	return ""
}
