package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestConfigIgnoresFileAPIKeys(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)

	configDir := filepath.Join(home, ".querygate")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")
	data := []byte("api_keys:\n  anthropic: file-ant\n  openai: file-openai\n  google: file-google\n  deepseek: file-deepseek\n")
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("DEEPSEEK_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AnthropicAPIKey != "" || cfg.OpenAIAPIKey != "" || cfg.GoogleAPIKey != "" || cfg.DeepSeekAPIKey != "" {
		t.Fatalf("expected file API keys to be ignored")
	}
}

func TestConfigUsesEnvAPIKeys(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)

	t.Setenv("ANTHROPIC_API_KEY", "env-ant")
	t.Setenv("OPENAI_API_KEY", "env-openai")
	t.Setenv("GOOGLE_API_KEY", "env-google")
	t.Setenv("DEEPSEEK_API_KEY", "env-deepseek")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AnthropicAPIKey != "env-ant" || cfg.OpenAIAPIKey != "env-openai" || cfg.GoogleAPIKey != "env-google" || cfg.DeepSeekAPIKey != "env-deepseek" {
		t.Fatalf("expected env API keys to be used")
	}
	if !cfg.HasAdapter("google") || !cfg.HasAdapter("mock") || cfg.HasAdapter("unknown") {
		t.Fatalf("unexpected HasAdapter results")
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s := cfg.Settings
	if s.LLM.Adapter != "google" || s.LLM.Model != "gemini-1.5-flash" {
		t.Errorf("unexpected llm defaults: %+v", s.LLM)
	}
	if s.Server.Addr != ":7788" {
		t.Errorf("Server.Addr = %q, want :7788", s.Server.Addr)
	}
	if !s.TieBreakerEnabled() {
		t.Error("tie breaker should default to enabled")
	}
	if s.Telemetry.Enabled || s.Telemetry.Exporter != "stdout" {
		t.Errorf("unexpected telemetry defaults: %+v", s.Telemetry)
	}
	if s.Selection.TieBreakTimeoutMs != 10000 {
		t.Errorf("TieBreakTimeoutMs = %d, want 10000", s.Selection.TieBreakTimeoutMs)
	}
	if got, want := cfg.StorePath(), filepath.Join(home, ".querygate", "vectors.db"); got != want {
		t.Errorf("StorePath() = %q, want %q", got, want)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	profile := []byte("id: shop\ndata_file: shop.csv\ntext_columns: [NOTES]\n")
	if err := os.WriteFile(filepath.Join(dir, "shop.yaml"), profile, 0600); err != nil {
		t.Fatal(err)
	}
	content := []byte(`llm:
  adapter: mock
  model: mock-1
  temperature: 0
selection:
  default: retrieval
  enable_llm_tie_breaker: false
  triggers:
    structured: [tally]
retrieval:
  min_relevance: 0.4
  store_path: ":memory:"
profiles:
  default: shop
  files: [shop.yaml]
`)
	path := filepath.Join(dir, "querygate.yaml")
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	s := cfg.Settings
	if s.LLM.ClassifierAdapter != "mock" || s.LLM.ClassifierModel != "mock-1" {
		t.Errorf("classifier should default to the llm, got %+v", s.LLM)
	}
	if s.LLM.Temperature == nil || *s.LLM.Temperature != 0 || s.LLM.MaxTokens != 2048 {
		t.Errorf("explicit zero temperature should survive defaults, got %+v", s.LLM)
	}
	if s.Selection.Default != "retrieval" || s.TieBreakerEnabled() {
		t.Errorf("unexpected selection settings: %+v", s.Selection)
	}
	if got := s.Selection.Triggers["structured"]; len(got) != 1 || got[0] != "tally" {
		t.Errorf("triggers = %v", got)
	}
	if s.Retrieval.MinRelevance != 0.4 || s.Retrieval.StrongRelevance != 0.75 {
		t.Errorf("unexpected relevance settings: %+v", s.Retrieval)
	}
	if cfg.StorePath() != ":memory:" {
		t.Errorf("StorePath() = %q", cfg.StorePath())
	}

	profiles, err := s.LoadProfiles(cfg.ConfigDir)
	if err != nil {
		t.Fatalf("LoadProfiles() error = %v", err)
	}
	if len(profiles) != 1 || profiles[0].ID != "shop" || profiles[0].Collection() != "shop_data" {
		t.Errorf("profiles = %+v", profiles)
	}
}

func TestLoadProfilesFallsBackToDefault(t *testing.T) {
	profiles, err := DefaultSettings().LoadProfiles("")
	if err != nil {
		t.Fatal(err)
	}
	if len(profiles) != 1 || profiles[0].ID != "default" {
		t.Errorf("profiles = %+v", profiles)
	}
}

func setHomeEnv(t *testing.T, home string) {
	t.Helper()
	t.Setenv("HOME", home)
	t.Setenv("QUERYGATE_HOME", "")
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}
}
