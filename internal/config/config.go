// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all editor service configuration. Every field has a default
// so the service runs offline against local storage with no environment.
type Config struct {
	// Server
	ListenAddr     string
	PreviewAddr    string
	PreviewBaseURL string
	EditorOrigin   string
	MetricsAddr    string

	// TLS (optional, both files must be set)
	TLSCertFile string
	TLSKeyFile  string

	// Logging
	LogLevel  string
	LogFormat string

	// Storage backend ("local", "sqlite" or "s3")
	StorageBackend   string
	LocalStoragePath string
	SQLitePath       string
	Workspace        string
	WatchStorage     bool

	// S3 storage
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool

	// Editor
	Debounce    time.Duration
	AutoRefresh bool

	// Execution
	ExecutorLatency time.Duration
	ExecutorTimeout time.Duration
	RunsPerMinute   int

	// Preview tokens
	PreviewTokenSecret string
	PreviewTokenTTL    time.Duration

	// Sync target (optional)
	DatabaseURL  string
	ProjectName  string
	SyncInterval time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:         envOr("LISTEN_ADDR", ":8080"),
		PreviewAddr:        envOr("PREVIEW_ADDR", ":8081"),
		PreviewBaseURL:     envOr("PREVIEW_BASE_URL", "http://localhost:8081"),
		EditorOrigin:       envOr("EDITOR_ORIGIN", "http://localhost:8080"),
		MetricsAddr:        envOr("METRICS_ADDR", ":9090"),
		TLSCertFile:        envOr("TLS_CERT_FILE", ""),
		TLSKeyFile:         envOr("TLS_KEY_FILE", ""),
		LogLevel:           envOr("LOG_LEVEL", "info"),
		LogFormat:          envOr("LOG_FORMAT", "json"),
		StorageBackend:     envOr("STORAGE_BACKEND", "local"),
		LocalStoragePath:   envOr("LOCAL_STORAGE_PATH", "./data"),
		SQLitePath:         envOr("SQLITE_PATH", "./data/workspace.db"),
		Workspace:          envOr("WORKSPACE", "default"),
		WatchStorage:       envBool("WATCH_STORAGE", true),
		S3Endpoint:         envOr("S3_ENDPOINT", "http://localhost:9000"),
		S3Bucket:           envOr("S3_BUCKET", "instantpreview"),
		S3AccessKey:        envOr("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:        envOr("S3_SECRET_KEY", "minioadmin"),
		S3Region:           envOr("S3_REGION", "us-east-1"),
		S3UseSSL:           envBool("S3_USE_SSL", false),
		Debounce:           envDuration("DEBOUNCE", 400*time.Millisecond),
		AutoRefresh:        envBool("AUTO_REFRESH", true),
		ExecutorLatency:    envDuration("EXECUTOR_LATENCY", 800*time.Millisecond),
		ExecutorTimeout:    envDuration("EXECUTOR_TIMEOUT", 10*time.Second),
		RunsPerMinute:      envInt("RUN_REQUESTS_PER_MIN", 120), // 0 = unlimited
		PreviewTokenSecret: envOr("PREVIEW_TOKEN_SECRET", ""),
		PreviewTokenTTL:    envDuration("PREVIEW_TOKEN_TTL", time.Hour),
		DatabaseURL:        envOr("DATABASE_URL", ""),
		ProjectName:        envOr("PROJECT_NAME", "default"),
		SyncInterval:       envDuration("SYNC_INTERVAL", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case "local", "sqlite", "s3":
	default:
		return fmt.Errorf("STORAGE_BACKEND must be local, sqlite or s3, got %q", c.StorageBackend)
	}
	if c.Workspace == "" {
		return fmt.Errorf("WORKSPACE must not be empty")
	}
	if c.Debounce <= 0 {
		return fmt.Errorf("DEBOUNCE must be positive, got %s", c.Debounce)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive, got %s", c.SyncInterval)
	}
	if c.ExecutorTimeout <= 0 {
		return fmt.Errorf("EXECUTOR_TIMEOUT must be positive, got %s", c.ExecutorTimeout)
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	if c.ListenAddr == c.PreviewAddr {
		return fmt.Errorf("PREVIEW_ADDR must differ from LISTEN_ADDR so previews get their own origin")
	}
	return nil
}

// StorageConfig returns the JSON document the storage factory expects for
// the selected backend.
func (c *Config) StorageConfig() map[string]interface{} {
	switch c.StorageBackend {
	case "sqlite":
		return map[string]interface{}{"path": c.SQLitePath}
	case "s3":
		return map[string]interface{}{
			"endpoint":   c.S3Endpoint,
			"bucket":     c.S3Bucket,
			"access_key": c.S3AccessKey,
			"secret_key": c.S3SecretKey,
			"region":     c.S3Region,
			"use_ssl":    c.S3UseSSL,
		}
	default:
		return map[string]interface{}{"root_path": c.LocalStoragePath, "create_dirs": true}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
