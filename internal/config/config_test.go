package config

import (
	"os"
	"path/filepath"
	"testing"
)

// clearEnv pins every variable applyEnv reads so ambient credentials on the
// host cannot leak into assertions about file-sourced values.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PRIORAI_ADDR",
		"PRIORAI_DB_PATH",
		"ANTHROPIC_API_KEY",
		"PATENTSVIEW_API_KEY",
		"PATENTSVIEW_BASE_URL",
		"PATENTSVIEW_RATE_LIMIT",
		"ORCHESTRATE_BASE_URL",
		"ORCHESTRATE_API_KEY",
		"ORCHESTRATE_WORKFLOW_NAME",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadFromYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  addr: ":9090"
database:
  path: /tmp/priorai-test.db
anthropic:
  apiKey: file-key
patentsview:
  apiKey: pv-key
  rateLimitPerMinute: 30
orchestrate:
  baseUrl: https://orchestrate.example.com
  apiKey: orch-key
workflow:
  maxSearchResults: 50
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Anthropic.APIKey != "file-key" || cfg.PatentsView.APIKey != "pv-key" {
		t.Errorf("keys = %q / %q", cfg.Anthropic.APIKey, cfg.PatentsView.APIKey)
	}
	if cfg.PatentsView.RateLimitPerMinute != 30 {
		t.Errorf("rate limit = %d", cfg.PatentsView.RateLimitPerMinute)
	}
	if cfg.Orchestrate.BaseURL != "https://orchestrate.example.com" {
		t.Errorf("orchestrate base = %q", cfg.Orchestrate.BaseURL)
	}
	if cfg.Workflow.MaxSearchResults != 50 {
		t.Errorf("max search results = %d", cfg.Workflow.MaxSearchResults)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q, want default", cfg.Server.Addr)
	}
	if cfg.Database.Path != "priorai.db" {
		t.Errorf("db path = %q, want default", cfg.Database.Path)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("anthropic:\n  apiKey: file-key\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	clearEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	t.Setenv("PRIORAI_ADDR", ":7070")
	t.Setenv("PATENTSVIEW_RATE_LIMIT", "15")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Anthropic.APIKey != "env-key" {
		t.Errorf("api key = %q, want env override", cfg.Anthropic.APIKey)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.PatentsView.RateLimitPerMinute != 15 {
		t.Errorf("rate limit = %d", cfg.PatentsView.RateLimitPerMinute)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
