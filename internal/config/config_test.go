package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageBackend != "local" || cfg.Workspace != "default" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Debounce != 400*time.Millisecond || !cfg.AutoRefresh {
		t.Errorf("editor defaults: debounce=%s autoRefresh=%v", cfg.Debounce, cfg.AutoRefresh)
	}
	if cfg.DatabaseURL != "" {
		t.Error("sync target should be off by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/ws.db")
	t.Setenv("DEBOUNCE", "1s")
	t.Setenv("AUTO_REFRESH", "false")
	t.Setenv("RUN_REQUESTS_PER_MIN", "5")
	t.Setenv("S3_USE_SSL", "not-a-bool")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Debounce != time.Second || cfg.AutoRefresh || cfg.RunsPerMinute != 5 {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.S3UseSSL {
		t.Error("invalid bool should fall back to default")
	}
	if got := cfg.StorageConfig()["path"]; got != "/tmp/ws.db" {
		t.Errorf("StorageConfig path = %v", got)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"STORAGE_BACKEND", "ftp"},
		{"DEBOUNCE", "-1s"},
		{"SYNC_INTERVAL", "0s"},
		{"SYNC_INTERVAL", "-5s"},
		{"PREVIEW_ADDR", ":8080"},
		{"TLS_CERT_FILE", "cert.pem"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load accepted %s=%s", tt.key, tt.value)
			}
		})
	}
}
