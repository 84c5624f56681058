package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"deskmate/internal/llm"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		modifyFunc  func(*Config)
		expectError bool
		errorString string
	}{
		{
			name:        "defaults pass",
			modifyFunc:  func(c *Config) {},
			expectError: false,
		},
		{
			name: "negative temperature fails",
			modifyFunc: func(c *Config) {
				c.Temperature = -0.5
			},
			expectError: true,
			errorString: "temperature must be between",
		},
		{
			name: "temperature > 2.0 fails",
			modifyFunc: func(c *Config) {
				c.Temperature = 3.0
			},
			expectError: true,
			errorString: "temperature must be between",
		},
		{
			name: "request timeout > 600 fails",
			modifyFunc: func(c *Config) {
				c.RequestTimeoutSeconds = 9999
			},
			expectError: true,
			errorString: "request_timeout_seconds cannot exceed",
		},
		{
			name: "thinking budget below minimum fails",
			modifyFunc: func(c *Config) {
				c.ThinkingBudgetTokens = 100
			},
			expectError: true,
			errorString: "thinking_budget_tokens",
		},
		{
			name: "unknown mode fails",
			modifyFunc: func(c *Config) {
				c.Mode = "autopilot"
			},
			expectError: true,
			errorString: "mode must be",
		},
		{
			name: "unknown provider fails",
			modifyFunc: func(c *Config) {
				c.Provider = "acme"
			},
			expectError: true,
			errorString: "provider",
		},
		{
			name: "unknown provider_models key fails",
			modifyFunc: func(c *Config) {
				c.ProviderModels = map[string]string{"acme": "x"}
			},
			expectError: true,
			errorString: "provider_models",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modifyFunc(&cfg)
			err := cfg.validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorString) {
					t.Errorf("Expected error containing %q, got %q", tt.errorString, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DESKMATE_CONFIG_DIR", dir)
	t.Setenv("DESKMATE_CONFIG_PATH", "")

	cfg, err := LoadUserConfig()
	if err != nil {
		t.Fatalf("LoadUserConfig failed: %v", err)
	}
	if cfg.Provider != "" || cfg.Vendor() != "" {
		t.Errorf("Provider = %q, want it left to credentials", cfg.Provider)
	}
	if cfg.RequestTimeoutSeconds != DefaultRequestTimeout {
		t.Errorf("RequestTimeoutSeconds = %d, want %d", cfg.RequestTimeoutSeconds, DefaultRequestTimeout)
	}
	if cfg.ThinkingBudgetTokens != DefaultThinkingBudget {
		t.Errorf("ThinkingBudgetTokens = %d", cfg.ThinkingBudgetTokens)
	}
	if cfg.Mode != ModeChat {
		t.Errorf("Mode = %q", cfg.Mode)
	}
	if cfg.DataDir != dir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, dir)
	}
	if cfg.Log.Path != filepath.Join(dir, "deskmate.log") {
		t.Errorf("Log.Path = %q", cfg.Log.Path)
	}
}

func TestLoadKeepsDefaultsForAbsentFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlText := `provider: Anthropic
provider_models:
  anthropic: claude-opus-4-1
base_urls:
  openai: http://localhost:9999/v1
thinking_enabled: true
mode: agent
profile:
  name: Sam
`
	if err := os.WriteFile(path, []byte(yamlText), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DESKMATE_CONFIG_PATH", path)

	cfg, err := LoadUserConfig()
	if err != nil {
		t.Fatalf("LoadUserConfig failed: %v", err)
	}
	if cfg.Vendor() != llm.VendorAnthropic {
		t.Errorf("Vendor = %q", cfg.Vendor())
	}
	if cfg.Temperature != DefaultTemperature {
		t.Errorf("Temperature = %v, want default", cfg.Temperature)
	}
	if !cfg.ThinkingEnabled || cfg.Mode != ModeAgent {
		t.Errorf("thinking=%v mode=%q", cfg.ThinkingEnabled, cfg.Mode)
	}
	if cfg.Profile.Name != "Sam" {
		t.Errorf("Profile.Name = %q", cfg.Profile.Name)
	}
	if got := cfg.BaseURLFor(llm.VendorOpenAI); got != "http://localhost:9999/v1" {
		t.Errorf("BaseURLFor(openai) = %q", got)
	}
	if got := cfg.BaseURLFor(llm.VendorZAI); got != "" {
		t.Errorf("BaseURLFor(zai) = %q, want empty", got)
	}
}

func TestModelForProviderFallbacks(t *testing.T) {
	cfg := Default()
	cfg.ProviderModels = map[string]string{
		"Anthropic": "claude-opus-4-1",
		"openai":    "  ",
	}
	tests := []struct {
		vendor llm.Vendor
		want   string
	}{
		{llm.VendorAnthropic, "claude-opus-4-1"},
		{llm.VendorOpenAI, llm.VendorOpenAI.DefaultModel()},
		{llm.VendorGemini, llm.VendorGemini.DefaultModel()},
		{llm.VendorScira, llm.VendorScira.DefaultModel()},
	}
	for _, tt := range tests {
		if got := cfg.ModelFor(tt.vendor); got != tt.want {
			t.Errorf("ModelFor(%s) = %q, want %q", tt.vendor, got, tt.want)
		}
	}
	models := cfg.Models()
	if len(models) != len(llm.Vendors) {
		t.Errorf("Models() has %d entries", len(models))
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")
	t.Setenv("DESKMATE_CONFIG_PATH", path)

	cfg, err := LoadUserConfig()
	if err != nil {
		t.Fatal(err)
	}
	cfg.SearchEnabled = true
	cfg.SetModel(llm.VendorScira, "x-search")
	if err := Save(cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reloaded.SearchEnabled {
		t.Error("SearchEnabled not persisted")
	}
	if got := reloaded.ModelFor(llm.VendorScira); got != "x-search" {
		t.Errorf("ModelFor(scira) = %q", got)
	}
}
