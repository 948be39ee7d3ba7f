package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8787" {
		t.Errorf("expected default listen addr :8787, got %q", cfg.ListenAddr)
	}
	if cfg.MessageRetentionDays != 30 {
		t.Errorf("expected default retention 30, got %d", cfg.MessageRetentionDays)
	}
	if cfg.RateLimit.Max != 120 || cfg.RateLimit.Window != time.Minute {
		t.Errorf("unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	data := []byte("listen_addr: \":9000\"\nrequire_auth: true\nrate_limit:\n  enabled: true\n  max: 10\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9000" {
		t.Errorf("expected :9000, got %q", cfg.ListenAddr)
	}
	if !cfg.RequireAuth {
		t.Error("expected require_auth true")
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.Max != 10 {
		t.Errorf("unexpected rate limit: %+v", cfg.RateLimit)
	}
	// Unset file values keep defaults.
	if cfg.MessageRetentionDays != 30 {
		t.Errorf("expected retention default 30, got %d", cfg.MessageRetentionDays)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("listen_addr: \":9000\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LISTEN_ADDR", ":7777")
	t.Setenv("MESSAGE_RETENTION_DAYS", "7")
	t.Setenv("REQUIRE_AUTH", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":7777" {
		t.Errorf("env should win, got %q", cfg.ListenAddr)
	}
	if cfg.MessageRetentionDays != 7 {
		t.Errorf("expected retention 7, got %d", cfg.MessageRetentionDays)
	}
	if !cfg.RequireAuth {
		t.Error("expected require_auth true from env")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
