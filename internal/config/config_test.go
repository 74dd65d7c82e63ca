package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Tests here are not parallel: viper state is global.

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Dispatch.Workers != 10 {
		t.Errorf("dispatch.workers = %d, want 10", cfg.Dispatch.Workers)
	}
	if cfg.Dispatch.MaxRetries != 5 {
		t.Errorf("dispatch.max_retries = %d, want 5", cfg.Dispatch.MaxRetries)
	}
	if cfg.Dispatch.BackoffBase != 30*time.Second {
		t.Errorf("dispatch.backoff_base = %s, want 30s", cfg.Dispatch.BackoffBase)
	}
	if cfg.Dispatch.BackoffCap != 30*time.Minute {
		t.Errorf("dispatch.backoff_cap = %s, want 30m", cfg.Dispatch.BackoffCap)
	}
	if cfg.Dispatch.Jitter != 0.2 {
		t.Errorf("dispatch.jitter = %v, want 0.2", cfg.Dispatch.Jitter)
	}
	if cfg.Dispatch.LeaseTimeout != 5*time.Minute {
		t.Errorf("dispatch.lease_timeout = %s, want 5m", cfg.Dispatch.LeaseTimeout)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("storage.driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Queue.Enabled || cfg.Cache.Enabled {
		t.Error("queue and cache must default to disabled")
	}
	if cfg.Providers.Telegram.BaseURL != "https://api.telegram.org" {
		t.Errorf("providers.telegram.base_url = %q", cfg.Providers.Telegram.BaseURL)
	}
	if cfg.Providers.VK.APIVersion != "5.199" {
		t.Errorf("providers.vk.api_version = %q", cfg.Providers.VK.APIVersion)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "courier.yaml")
	data := `
server:
  port: 9090
dispatch:
  workers: 3
  max_retries: 2
providers:
  max:
    base_url: http://localhost:8181
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("server.port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Dispatch.Workers != 3 {
		t.Errorf("dispatch.workers = %d, want 3", cfg.Dispatch.Workers)
	}
	if cfg.Dispatch.MaxRetries != 2 {
		t.Errorf("dispatch.max_retries = %d, want 2", cfg.Dispatch.MaxRetries)
	}
	if cfg.Providers.Max.BaseURL != "http://localhost:8181" {
		t.Errorf("providers.max.base_url = %q", cfg.Providers.Max.BaseURL)
	}

	// Untouched keys keep their defaults.
	if cfg.Dispatch.BackoffBase != 30*time.Second {
		t.Errorf("dispatch.backoff_base = %s, want default 30s", cfg.Dispatch.BackoffBase)
	}
}

func TestLoad_MissingFileError(t *testing.T) {
	if _, err := Load("/nonexistent/courier.yaml"); err == nil {
		t.Fatal("expected error for explicit missing config file")
	}
}
