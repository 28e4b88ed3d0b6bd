package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("THINKTHANK_BACKEND_URL", "http://backend.test/api/")
	t.Setenv("THINKTHANK_REQUEST_RPS", "not-a-number")
	t.Setenv("THINKTHANK_HISTORY_DEBOUNCE", "250ms")

	cfg := Load()
	if cfg.BackendURL != "http://backend.test/api" {
		t.Errorf("BackendURL = %q, want trailing slash trimmed", cfg.BackendURL)
	}
	if cfg.RequestRPS != 20 {
		t.Errorf("RequestRPS = %v, want fallback 20", cfg.RequestRPS)
	}
	if cfg.HistoryDebounce != 250*time.Millisecond {
		t.Errorf("HistoryDebounce = %v", cfg.HistoryDebounce)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Errorf("SessionTTL = %v, want 24h", cfg.SessionTTL)
	}
}

func TestLoadWithFileOverlaysEnvironment(t *testing.T) {
	t.Setenv("THINKTHANK_ADDR", ":9000")
	t.Setenv("MINIO_BUCKET", "from-env")
	path := filepath.Join(t.TempDir(), "thinkthank.yaml")
	content := "backend_url: https://api.thinkthank.test/api/\nmeili_url: http://meili:7700\nminio_use_ssl: true\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v", err)
	}
	if cfg.BackendURL != "https://api.thinkthank.test/api" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.MeiliURL != "http://meili:7700" || !cfg.MinioUseSSL {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Addr != ":9000" || cfg.MinioBucket != "from-env" {
		t.Errorf("environment values lost: addr=%q bucket=%q", cfg.Addr, cfg.MinioBucket)
	}
}

func TestLoadWithFileErrors(t *testing.T) {
	if _, err := LoadWithFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("addr: [unterminated\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadWithFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadWithEmptyPath(t *testing.T) {
	cfg, err := LoadWithFile("  ")
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v", err)
	}
	if cfg.RefreshPath != "/token/refresh/" {
		t.Errorf("RefreshPath = %q", cfg.RefreshPath)
	}
}
