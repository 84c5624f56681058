// Package registry holds one client handle per configured vendor and the
// currently selected vendor. It is built once per process.
package registry

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"deskmate/internal/anthropic"
	"deskmate/internal/gemini"
	"deskmate/internal/llm"
	"deskmate/internal/logging"
	"deskmate/internal/openaicompat"
	"deskmate/internal/scira"
)

// Option describes a selectable vendor/model pair exposed to the UI.
type Option struct {
	Vendor     llm.Vendor `json:"vendor"`
	Label      string     `json:"label"`
	Model      string     `json:"model"`
	Configured bool       `json:"configured"`
	Active     bool       `json:"active"`
}

// Options configures Initialize.
type Options struct {
	Default     llm.Vendor
	Models      map[llm.Vendor]string
	BaseURLs    map[llm.Vendor]string
	SearchModel string
	Timeout     time.Duration
	Logger      *log.Logger
}

// Registry maps vendors to handles. Handles are read-only after
// construction and shared by concurrent turns; only the selection and the
// per-vendor model labels change.
type Registry struct {
	mu       sync.RWMutex
	active   llm.Vendor
	handles  map[llm.Vendor]llm.Provider
	missing  map[llm.Vendor]bool
	models   map[llm.Vendor]string
	searcher llm.Searcher
}

// Initialize constructs a handle for every vendor with a credential and marks
// the rest missing. It never fails; a constructor error is logged and the
// vendor is treated as missing.
func Initialize(ctx context.Context, keys map[llm.Vendor]string, opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = logging.Logger
	}
	handles := make(map[llm.Vendor]llm.Provider)
	for _, v := range llm.Vendors {
		key := strings.TrimSpace(keys[v])
		if key == "" {
			continue
		}
		p, err := construct(ctx, v, key, opts)
		if err != nil {
			logging.ErrorLog("initialise %s client: %v", v, err)
			continue
		}
		handles[v] = p
	}
	r := FromProviders(handles, opts)
	logging.UserLog("providers configured: %v, missing: %v", r.Configured(), r.missingList())
	return r
}

// construct dispatches over vendor kind.
func construct(ctx context.Context, v llm.Vendor, key string, opts Options) (llm.Provider, error) {
	baseURL := opts.BaseURLs[v]
	switch v {
	case llm.VendorGemini:
		return gemini.New(ctx, gemini.Options{APIKey: key, BaseURL: baseURL, SearchModel: opts.SearchModel, Logger: opts.Logger})
	case llm.VendorOpenAI, llm.VendorOpenRouter, llm.VendorZAI:
		return openaicompat.New(openaicompat.Options{Vendor: v, BaseURL: baseURL, APIKey: key, Timeout: opts.Timeout, Logger: opts.Logger})
	case llm.VendorAnthropic:
		return anthropic.New(anthropic.Options{BaseURL: baseURL, APIKey: key, Timeout: opts.Timeout, Logger: opts.Logger})
	case llm.VendorScira:
		return scira.New(scira.Options{BaseURL: baseURL, APIKey: key, Timeout: opts.Timeout, Logger: opts.Logger})
	default:
		return nil, fmt.Errorf("unsupported vendor %q", v)
	}
}

// FromProviders builds a registry around existing handles. Vendors without
// a handle are missing.
func FromProviders(handles map[llm.Vendor]llm.Provider, opts Options) *Registry {
	r := &Registry{
		handles: make(map[llm.Vendor]llm.Provider, len(handles)),
		missing: make(map[llm.Vendor]bool),
		models:  make(map[llm.Vendor]string),
	}
	for _, v := range llm.Vendors {
		if p, ok := handles[v]; ok && p != nil {
			r.handles[v] = p
		} else {
			r.missing[v] = true
		}
		r.models[v] = v.DefaultModel()
		if m := strings.TrimSpace(opts.Models[v]); m != "" {
			r.models[v] = m
		}
	}
	// gemini grounds with Google Search; scira is a search service itself
	for _, v := range []llm.Vendor{llm.VendorGemini, llm.VendorScira} {
		if s, ok := r.handles[v].(llm.Searcher); ok {
			r.searcher = s
			break
		}
	}
	r.active = opts.Default
	if r.active == "" {
		r.active = llm.VendorGemini
		if configured := r.Configured(); len(configured) > 0 {
			r.active = configured[0]
		}
	}
	return r
}

// Provider returns the handle for v or a MissingKeyError.
func (r *Registry) Provider(v llm.Vendor) (llm.Provider, error) {
	if p, ok := r.handles[v]; ok {
		return p, nil
	}
	return nil, &llm.MissingKeyError{Vendor: v}
}

// MissingKeys reports every vendor without a handle.
func (r *Registry) MissingKeys() map[llm.Vendor]bool {
	out := make(map[llm.Vendor]bool, len(r.missing))
	for v, m := range r.missing {
		out[v] = m
	}
	return out
}

// Configured lists vendors with a handle in display order.
func (r *Registry) Configured() []llm.Vendor {
	var out []llm.Vendor
	for _, v := range llm.Vendors {
		if _, ok := r.handles[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

func (r *Registry) missingList() []llm.Vendor {
	var out []llm.Vendor
	for _, v := range llm.Vendors {
		if r.missing[v] {
			out = append(out, v)
		}
	}
	return out
}

// Empty reports a registry with no configured vendor.
func (r *Registry) Empty() bool {
	return len(r.handles) == 0
}

// Searcher returns the web-context backend, or nil when none is configured.
func (r *Registry) Searcher() llm.Searcher {
	return r.searcher
}

// Active returns the selected vendor and its model.
func (r *Registry) Active() Option {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.optionLocked(r.active)
}

// SetActive selects v. Unconfigured vendors may be selected; using them
// fails with a missing key error.
func (r *Registry) SetActive(v llm.Vendor) error {
	if _, err := llm.ParseVendor(string(v)); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = v
	return nil
}

// Model returns the model label used for v.
func (r *Registry) Model(v llm.Vendor) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models[v]
}

// SetModel changes the model used for v.
func (r *Registry) SetModel(v llm.Vendor, model string) {
	model = strings.TrimSpace(model)
	r.mu.Lock()
	defer r.mu.Unlock()
	if model == "" {
		model = v.DefaultModel()
	}
	r.models[v] = model
}

// Options lists every vendor with its configured state.
func (r *Registry) Options() []Option {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Option, 0, len(llm.Vendors))
	for _, v := range llm.Vendors {
		out = append(out, r.optionLocked(v))
	}
	return out
}

func (r *Registry) optionLocked(v llm.Vendor) Option {
	_, ok := r.handles[v]
	return Option{
		Vendor:     v,
		Label:      v.Label(),
		Model:      r.models[v],
		Configured: ok,
		Active:     v == r.active,
	}
}
