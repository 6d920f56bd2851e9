// Package sqlite stores workspace objects as rows of a single SQLite table.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Config holds SQLite backend settings.
type Config struct {
	Path string `json:"path"`
}

const schema = `
CREATE TABLE IF NOT EXISTS objects (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	size       INTEGER NOT NULL,
	updated_at TEXT NOT NULL
)`

// Backend implements storage.Backend on a SQLite database file.
type Backend struct {
	db   *sql.DB
	path string
}

// New opens (creating if needed) the database at cfg.Path.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create dir for %s: %w", cfg.Path, err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	// One writer at a time; also keeps a :memory: database alive across calls.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite %s: %w", cfg.Path, err)
		}
	}
	return &Backend{db: db, path: cfg.Path}, nil
}

// NewFromJSON creates a Backend from raw JSON config.
func NewFromJSON(ctx context.Context, raw json.RawMessage) (*Backend, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse sqlite config: %w", err)
	}
	return New(ctx, cfg)
}

// GetObject returns the stored value for key.
func (b *Backend) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	var value []byte
	err := b.db.QueryRowContext(ctx, `SELECT value FROM objects WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("get %s: %w", key, fs.ErrNotExist)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get %s: %w", key, err)
	}
	return io.NopCloser(bytes.NewReader(value)), int64(len(value)), nil
}

// PutObject upserts the value for key in one statement.
func (b *Backend) PutObject(ctx context.Context, key string, body io.Reader, _ int64) error {
	value, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read body for %s: %w", key, err)
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO objects (key, value, size, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, size = excluded.size, updated_at = excluded.updated_at`,
		key, value, len(value), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// DeleteObject removes key. Missing keys are ignored.
func (b *Backend) DeleteObject(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM objects WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// CopyObject duplicates a row under a new key.
func (b *Backend) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	res, err := b.db.ExecContext(ctx, `
		INSERT INTO objects (key, value, size, updated_at)
		SELECT ?, value, size, ? FROM objects WHERE key = ?
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, size = excluded.size, updated_at = excluded.updated_at`,
		dstKey, time.Now().UTC().Format(time.RFC3339Nano), srcKey)
	if err != nil {
		return fmt.Errorf("copy %s -> %s: %w", srcKey, dstKey, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("copy %s -> %s: %w", srcKey, dstKey, fs.ErrNotExist)
	}
	return nil
}

// ObjectExists checks whether key has a row.
func (b *Backend) ObjectExists(ctx context.Context, key string) (bool, error) {
	var one int
	err := b.db.QueryRowContext(ctx, `SELECT 1 FROM objects WHERE key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return true, nil
}

// Type returns "sqlite".
func (b *Backend) Type() string { return "sqlite" }

// Close closes the database.
func (b *Backend) Close() error { return b.db.Close() }
