package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"deskmate/internal/llm"
	"deskmate/internal/prompts"
	"gopkg.in/yaml.v3"
)

// Modes accepted by the assistant.
const (
	ModeChat  = "chat"
	ModeAgent = "agent"
)

const (
	DefaultTemperature    = 0.7
	DefaultRequestTimeout = 120
	DefaultThinkingBudget = 4096
	DefaultListenAddr     = "127.0.0.1:8787"
	DefaultLogMaxSizeMB   = 10
	DefaultLogMaxBackups  = 3
	DefaultLogMaxAgeDays  = 28

	MinThinkingBudget = 1024
	MaxThinkingBudget = 32000
)

// LogConfig controls the rotating log file.
type LogConfig struct {
	Path       string `yaml:"path,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	JSON       bool   `yaml:"json"`
}

// Config captures the tunable runtime settings for the assistant.
type Config struct {
	// Provider pins the active vendor. Empty defers to the credentials
	// default_provider and then to the first vendor with a key.
	Provider              string            `yaml:"provider,omitempty"`
	ProviderModels        map[string]string `yaml:"provider_models,omitempty"`
	BaseURLs              map[string]string `yaml:"base_urls,omitempty"`
	SearchModel           string            `yaml:"search_model,omitempty"`
	Temperature           float64           `yaml:"temperature"`
	RequestTimeoutSeconds int               `yaml:"request_timeout_seconds"`
	ThinkingEnabled       bool              `yaml:"thinking_enabled"`
	ThinkingBudgetTokens  int               `yaml:"thinking_budget_tokens"`
	SearchEnabled         bool              `yaml:"search_enabled"`
	Mode                  string            `yaml:"mode"`
	DataDir               string            `yaml:"data_dir"`
	Log                   LogConfig         `yaml:"log"`
	ListenAddr            string            `yaml:"listen_addr"`
	Profile               prompts.Profile   `yaml:"profile,omitempty"`
	Instructions          string            `yaml:"instructions,omitempty"`
	Tone                  string            `yaml:"tone,omitempty"`

	path string
}

// Default returns a config with every optional value filled in.
func Default() Config {
	cfg := Config{
		Temperature:     DefaultTemperature,
		ThinkingEnabled: false,
		SearchEnabled:   false,
		Mode:            ModeChat,
	}
	cfg.applyDefaults()
	return cfg
}

// Path returns the file the config was loaded from, or the default location.
func Path() string {
	if p := os.Getenv("DESKMATE_CONFIG_PATH"); p != "" {
		return p
	}
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// GetConfigDir honours DESKMATE_CONFIG_DIR and defaults to ~/.deskmate.
func GetConfigDir() string {
	if configDir := os.Getenv("DESKMATE_CONFIG_DIR"); configDir != "" {
		return configDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".deskmate"
	}
	return filepath.Join(home, ".deskmate")
}

// LoadUserConfig loads the config from Path(). A missing file yields defaults.
func LoadUserConfig() (Config, error) {
	return Load(Path())
}

// Load reads the YAML configuration at path and injects defaults. Fields
// absent from the file keep their default value.
func Load(path string) (Config, error) {
	cfg := Default()
	cfg.path = path
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.path = path
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills in optional values to keep the YAML file concise.
func (c *Config) applyDefaults() {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = DefaultRequestTimeout
	}
	if c.ThinkingBudgetTokens <= 0 {
		c.ThinkingBudgetTokens = DefaultThinkingBudget
	}
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode == "" {
		c.Mode = ModeChat
	}
	if c.DataDir == "" {
		c.DataDir = GetConfigDir()
	}
	if c.Log.Path == "" {
		c.Log.Path = filepath.Join(c.DataDir, "deskmate.log")
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = DefaultLogMaxBackups
	}
	if c.Log.MaxAgeDays <= 0 {
		c.Log.MaxAgeDays = DefaultLogMaxAgeDays
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
}

func (c Config) validate() error {
	if c.Provider != "" {
		if _, err := llm.ParseVendor(c.Provider); err != nil {
			return fmt.Errorf("provider: %w", err)
		}
	}
	for key := range c.ProviderModels {
		if _, err := llm.ParseVendor(key); err != nil {
			return fmt.Errorf("provider_models: %w", err)
		}
	}
	for key := range c.BaseURLs {
		if _, err := llm.ParseVendor(key); err != nil {
			return fmt.Errorf("base_urls: %w", err)
		}
	}
	if c.Temperature < 0 || c.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0 and 2.0 (got %f)", c.Temperature)
	}
	if c.RequestTimeoutSeconds > 600 {
		return fmt.Errorf("request_timeout_seconds cannot exceed 600 (10 minutes)")
	}
	if c.ThinkingBudgetTokens < MinThinkingBudget || c.ThinkingBudgetTokens > MaxThinkingBudget {
		return fmt.Errorf("thinking_budget_tokens must be between %d and %d (got %d)", MinThinkingBudget, MaxThinkingBudget, c.ThinkingBudgetTokens)
	}
	if c.Mode != ModeChat && c.Mode != ModeAgent {
		return fmt.Errorf("mode must be %q or %q (got %q)", ModeChat, ModeAgent, c.Mode)
	}
	return nil
}

// Validate re-checks a config mutated at runtime.
func (c Config) Validate() error {
	return c.validate()
}

// RequestTimeout turns the integer value into a duration for HTTP clients and turns.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Vendor returns the pinned vendor, or "" when the choice is left to
// credentials and the registry.
func (c Config) Vendor() llm.Vendor {
	if c.Provider == "" {
		return ""
	}
	v, err := llm.ParseVendor(c.Provider)
	if err != nil {
		return ""
	}
	return v
}

// ModelFor returns the configured model for v, falling back to the vendor default.
func (c Config) ModelFor(v llm.Vendor) string {
	if model := strings.TrimSpace(lookup(c.ProviderModels, v)); model != "" {
		return model
	}
	return v.DefaultModel()
}

// BaseURLFor returns the configured base URL override for v, or "".
func (c Config) BaseURLFor(v llm.Vendor) string {
	return strings.TrimSpace(lookup(c.BaseURLs, v))
}

// Models maps every vendor to its effective model.
func (c Config) Models() map[llm.Vendor]string {
	out := make(map[llm.Vendor]string, len(llm.Vendors))
	for _, v := range llm.Vendors {
		out[v] = c.ModelFor(v)
	}
	return out
}

// BaseURLMap maps vendors with an override to their base URL.
func (c Config) BaseURLMap() map[llm.Vendor]string {
	out := make(map[llm.Vendor]string)
	for _, v := range llm.Vendors {
		if u := c.BaseURLFor(v); u != "" {
			out[v] = u
		}
	}
	return out
}

// SetModel records model as the choice for v.
func (c *Config) SetModel(v llm.Vendor, model string) {
	if c.ProviderModels == nil {
		c.ProviderModels = make(map[string]string)
	}
	c.ProviderModels[string(v)] = strings.TrimSpace(model)
}

// StorePath is the sqlite file backing sessions, tasks and mode.
func (c Config) StorePath() string {
	return filepath.Join(c.DataDir, "deskmate.db")
}

// HistoryPath is the REPL input history file.
func (c Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "history")
}

func lookup(m map[string]string, v llm.Vendor) string {
	for key, val := range m {
		if strings.EqualFold(key, string(v)) {
			return val
		}
	}
	return ""
}

// Save writes the config back to the file it was loaded from.
func Save(c Config) error {
	path := c.path
	if path == "" {
		path = Path()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
