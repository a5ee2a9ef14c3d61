package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
	if cfg.Repository.FetchBudget != 8*time.Second {
		t.Errorf("Expected 8s fetch budget, got %v", cfg.Repository.FetchBudget)
	}
	if cfg.Auth.TokenTTL != 24*time.Hour {
		t.Errorf("Expected 24h token TTL, got %v", cfg.Auth.TokenTTL)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "expenses.yaml")
	content := `
http:
  port: "9000"
store:
  backend: memory
repository:
  fetch_budget: 3s
  max_page_size: 50
mail:
  host: smtp.example.org
  from: expenses@example.org
  admin_recipients: [finance@example.org]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PORT", "9100")
	t.Setenv("ADMIN_SESSION_SECRET", "s3cret")
	t.Setenv("MAIL_ADMIN_RECIPIENTS", "a@example.org, b@example.org")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.HTTP.Port != "9100" {
		t.Errorf("Expected env to override port, got %s", cfg.HTTP.Port)
	}
	if cfg.Store.Backend != BackendMemory {
		t.Errorf("Expected memory backend, got %s", cfg.Store.Backend)
	}
	if cfg.Repository.FetchBudget != 3*time.Second {
		t.Errorf("Expected 3s fetch budget, got %v", cfg.Repository.FetchBudget)
	}
	if cfg.Repository.MaxPageSize != 50 || cfg.Repository.DefaultPageSize != 20 {
		t.Errorf("Unexpected page sizes: %+v", cfg.Repository)
	}
	if cfg.Auth.SessionSecret != "s3cret" {
		t.Errorf("Expected secret from env, got %q", cfg.Auth.SessionSecret)
	}
	if len(cfg.Mail.AdminRecipients) != 2 || cfg.Mail.AdminRecipients[1] != "b@example.org" {
		t.Errorf("Unexpected recipients: %v", cfg.Mail.AdminRecipients)
	}
	if !cfg.MailEnabled() {
		t.Error("Expected mail to be enabled")
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected missing file to fail")
	}

	t.Setenv("CELERIX_FETCH_BUDGET", "soon")
	if _, err := LoadFile(""); err == nil {
		t.Error("Expected bad duration to fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Store.Backend = BackendS3 }},
		{"postgres without url", func(c *Config) { c.Store.Backend = BackendPostgres }},
		{"zero budget", func(c *Config) { c.Repository.FetchBudget = 0 }},
		{"zero workers", func(c *Config) { c.Repository.FetchWorkers = 0 }},
		{"zero page size", func(c *Config) { c.Repository.MaxPageSize = 0 }},
		{"zero ttl", func(c *Config) { c.Auth.TokenTTL = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "text"}.NewLogger(&buf)
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Info should be disabled at warn level")
	}
	logger.Warn("index update failed", "id", "abc")
	if !strings.Contains(buf.String(), "level=WARN") || !strings.Contains(buf.String(), "id=abc") {
		t.Errorf("Expected text output, got %q", buf.String())
	}

	buf.Reset()
	LogConfig{Level: "nonsense"}.NewLogger(&buf).Info("started")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("Expected JSON output by default, got %q", buf.String())
	}
}
