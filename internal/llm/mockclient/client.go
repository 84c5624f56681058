package mockclient

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"deskmate/internal/llm"
)

// Client is a deterministic llm.Provider used for tests and CI.
type Client struct {
	mu      sync.Mutex
	vendor  llm.Vendor
	prefix  string
	scripts [][]llm.Delta
	replies []string
	err     error
	streams int
	gens    int
	last    llm.Request
}

// New returns a mock provider that echoes the last user message.
func New() *Client {
	return &Client{vendor: llm.VendorOpenAI, prefix: "MOCK"}
}

// WithVendor changes the vendor the mock reports.
func (c *Client) WithVendor(v llm.Vendor) *Client {
	c.vendor = v
	return c
}

// Script queues delta sequences returned by successive Stream calls.
func (c *Client) Script(deltas ...llm.Delta) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts = append(c.scripts, deltas)
	return c
}

// Reply queues texts returned by successive Generate calls.
func (c *Client) Reply(texts ...string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, texts...)
	return c
}

// Fail makes every call return err after any scripted deltas.
func (c *Client) Fail(err error) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	return c
}

// Vendor satisfies llm.Provider.
func (c *Client) Vendor() llm.Vendor { return c.vendor }

// Stream satisfies llm.Provider.
func (c *Client) Stream(ctx context.Context, req llm.Request, emit func(llm.Delta) error) error {
	c.mu.Lock()
	c.streams++
	c.last = req
	var deltas []llm.Delta
	if len(c.scripts) > 0 {
		deltas = c.scripts[0]
		c.scripts = c.scripts[1:]
	} else {
		deltas = []llm.Delta{llm.Text(c.echo(req))}
	}
	failure := c.err
	c.mu.Unlock()

	for _, d := range deltas {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(d); err != nil {
			return err
		}
	}
	return failure
}

// Generate satisfies llm.Provider.
func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Generation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens++
	c.last = req
	if err := ctx.Err(); err != nil {
		return llm.Generation{}, err
	}
	if c.err != nil {
		return llm.Generation{}, c.err
	}
	if len(c.replies) > 0 {
		text := c.replies[0]
		c.replies = c.replies[1:]
		return llm.Generation{Text: text}, nil
	}
	return llm.Generation{Text: c.echo(req)}, nil
}

// Search satisfies llm.Searcher using the Generate script.
func (c *Client) Search(ctx context.Context, prompt string) (llm.Generation, error) {
	return c.Generate(ctx, llm.Request{History: []llm.Message{{Role: llm.RoleUser, Content: prompt}}})
}

// Calls reports how many Stream and Generate calls were made.
func (c *Client) Calls() (streams, generates int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams, c.gens
}

// LastRequest returns the most recent request seen.
func (c *Client) LastRequest() llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Client) echo(req llm.Request) string {
	if n := len(req.History); n > 0 {
		last := strings.TrimSpace(req.History[n-1].Content)
		if last != "" {
			return fmt.Sprintf("%s RESPONSE: %s", c.prefix, last)
		}
	}
	return fmt.Sprintf("%s RESPONSE", c.prefix)
}
