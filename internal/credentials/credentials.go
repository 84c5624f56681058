package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"deskmate/internal/llm"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Credentials stores API keys and the preferred vendor.
type Credentials struct {
	DefaultProvider string              `yaml:"default_provider"`
	Providers       map[string]Provider `yaml:"providers"`
}

// Provider stores authentication details for a single vendor.
type Provider struct {
	APIKey string `yaml:"api_key"`
}

// Manager handles credential storage and retrieval.
type Manager struct {
	path   string
	getenv func(string) string
}

// NewManager creates a credential manager. DESKMATE_CREDENTIALS_PATH wins,
// otherwise the file lives next to the config.
func NewManager() *Manager {
	credPath := os.Getenv("DESKMATE_CREDENTIALS_PATH")
	if credPath == "" {
		credPath = filepath.Join(configDir(), "credentials.yaml")
	}
	return &Manager{path: credPath, getenv: os.Getenv}
}

// NewManagerAt creates a manager for an explicit file, reading the
// environment through getenv. A nil getenv disables environment lookups.
func NewManagerAt(path string, getenv func(string) string) *Manager {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	return &Manager{path: path, getenv: getenv}
}

func configDir() string {
	if dir := os.Getenv("DESKMATE_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".deskmate"
	}
	return filepath.Join(home, ".deskmate")
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// Load reads credentials from disk. A missing file yields empty credentials.
func (m *Manager) Load() (*Credentials, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Credentials{Providers: make(map[string]Provider)}, nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if creds.Providers == nil {
		creds.Providers = make(map[string]Provider)
	}
	return &creds, nil
}

// Save writes credentials to disk with user-only permissions.
func (m *Manager) Save(creds *Credentials) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return fmt.Errorf("create credentials directory: %w", err)
	}
	data, err := yaml.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	// WriteFile keeps the mode of an existing file
	if err := os.Chmod(m.path, 0o600); err != nil {
		return fmt.Errorf("chmod credentials: %w", err)
	}
	return nil
}

// Exists checks if the credentials file exists.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Path returns the credentials file path.
func (m *Manager) Path() string {
	return m.path
}

// Keys resolves one credential per vendor. Environment variables win over
// the file; vendors without either are absent from the map.
func (m *Manager) Keys() (map[llm.Vendor]string, error) {
	creds, err := m.Load()
	if err != nil {
		return nil, err
	}
	keys := make(map[llm.Vendor]string)
	for _, v := range llm.Vendors {
		if key := strings.TrimSpace(m.getenv(v.EnvKey())); key != "" {
			keys[v] = key
			continue
		}
		if key := creds.GetAPIKey(string(v)); key != "" {
			keys[v] = key
		}
	}
	return keys, nil
}

// IsConfigured checks if a vendor has a stored key.
func (c *Credentials) IsConfigured(provider string) bool {
	return c.GetAPIKey(provider) != ""
}

// GetAPIKey returns the stored key for a vendor.
func (c *Credentials) GetAPIKey(provider string) string {
	if c.Providers == nil {
		return ""
	}
	return strings.TrimSpace(c.Providers[provider].APIKey)
}

// SetProvider sets the API key for a vendor.
func (c *Credentials) SetProvider(name, apiKey string) {
	if c.Providers == nil {
		c.Providers = make(map[string]Provider)
	}
	c.Providers[name] = Provider{APIKey: apiKey}
}

// RemoveProvider removes a vendor and re-points the default if needed.
func (c *Credentials) RemoveProvider(name string) {
	if c.Providers != nil {
		delete(c.Providers, name)
	}
	if c.DefaultProvider == name {
		c.DefaultProvider = ""
		if remaining := c.ListProviders(); len(remaining) > 0 {
			c.DefaultProvider = remaining[0]
		}
	}
}

// HasAnyProvider checks if any vendor has a stored key.
func (c *Credentials) HasAnyProvider() bool {
	return len(c.ListProviders()) > 0
}

// ListProviders returns vendors with a stored key, sorted by name.
func (c *Credentials) ListProviders() []string {
	names := make([]string, 0, len(c.Providers))
	for name, p := range c.Providers {
		if strings.TrimSpace(p.APIKey) != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
