package credentials

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"deskmate/internal/llm"
	"github.com/google/go-cmp/cmp"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestSaveUsesPrivateMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dir", "credentials.yaml")
	m := NewManagerAt(path, nil)
	creds := &Credentials{}
	creds.SetProvider("openai", "sk-test")
	if err := m.Save(creds); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("mode = %o, want 600", perm)
	}
	loaded, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.GetAPIKey("openai") != "sk-test" {
		t.Errorf("key not persisted: %+v", loaded)
	}
}

func TestLoadMissingFile(t *testing.T) {
	m := NewManagerAt(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	creds, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if creds.HasAnyProvider() {
		t.Error("expected no providers")
	}
	if m.Exists() {
		t.Error("Exists() = true for missing file")
	}
}

func TestKeysEnvironmentWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	m := NewManagerAt(path, envMap(map[string]string{
		"OPENAI_API_KEY": "env-openai",
		"SCIRA_API_KEY":  "env-scira",
	}))
	creds := &Credentials{}
	creds.SetProvider("openai", "file-openai")
	creds.SetProvider("anthropic", "file-anthropic")
	if err := m.Save(creds); err != nil {
		t.Fatal(err)
	}

	keys, err := m.Keys()
	if err != nil {
		t.Fatal(err)
	}
	want := map[llm.Vendor]string{
		llm.VendorOpenAI:    "env-openai",
		llm.VendorAnthropic: "file-anthropic",
		llm.VendorScira:     "env-scira",
	}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoveProviderRepointsDefault(t *testing.T) {
	creds := &Credentials{DefaultProvider: "openai"}
	creds.SetProvider("openai", "a")
	creds.SetProvider("zai", "b")
	creds.RemoveProvider("openai")
	if creds.DefaultProvider != "zai" {
		t.Errorf("DefaultProvider = %q, want zai", creds.DefaultProvider)
	}
	creds.RemoveProvider("zai")
	if creds.DefaultProvider != "" {
		t.Errorf("DefaultProvider = %q, want empty", creds.DefaultProvider)
	}
}

func TestWizardOnboard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	m := NewManagerAt(path, nil)
	in := strings.NewReader("anthropic\n\nsk-ant-123\n")
	var out bytes.Buffer
	w := NewWizardIO(m, in, &out)

	creds, err := w.Onboard()
	if err != nil {
		t.Fatalf("Onboard: %v", err)
	}
	if creds.DefaultProvider != "anthropic" || creds.GetAPIKey("anthropic") != "sk-ant-123" {
		t.Errorf("unexpected credentials: %+v", creds)
	}
	if !strings.Contains(out.String(), "API key cannot be empty") {
		t.Errorf("empty key was not rejected:\n%s", out.String())
	}
	if !m.Exists() {
		t.Error("credentials were not saved")
	}
}

func TestWizardMenuAddAndExit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	m := NewManagerAt(path, nil)
	// add provider 3 (OpenRouter), then exit
	in := strings.NewReader("1\n3\nor-key\n4\n")
	var out bytes.Buffer
	if err := NewWizardIO(m, in, &out).Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	creds, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if creds.GetAPIKey("openrouter") != "or-key" || creds.DefaultProvider != "openrouter" {
		t.Errorf("unexpected credentials: %+v", creds)
	}
}

func TestLoadDotEnvMissingFileIsFine(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("LoadDotEnv: %v", err)
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("DESKMATE_TEST_A=fromfile\nDESKMATE_TEST_B=fromfile\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DESKMATE_TEST_A", "fromenv")
	t.Setenv("DESKMATE_TEST_B", "")
	os.Unsetenv("DESKMATE_TEST_B")
	if err := LoadDotEnv(envFile); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("DESKMATE_TEST_A"); got != "fromenv" {
		t.Errorf("A = %q, want fromenv", got)
	}
	if got := os.Getenv("DESKMATE_TEST_B"); got != "fromfile" {
		t.Errorf("B = %q, want fromfile", got)
	}
}
