// Package local provides a directory-backed storage backend.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Config holds local filesystem backend settings.
type Config struct {
	RootPath   string `json:"root_path"`
	CreateDirs bool   `json:"create_dirs"`
}

// Backend implements storage.Backend on top of an afero filesystem rooted
// at RootPath. Production uses the OS filesystem; tests use a memory one.
type Backend struct {
	fs         afero.Fs
	rootPath   string
	createDirs bool
}

// New creates a backend on the OS filesystem.
func New(cfg Config) (*Backend, error) {
	return NewWithFs(afero.NewOsFs(), cfg)
}

// NewWithFs creates a backend on the given filesystem.
func NewWithFs(fsys afero.Fs, cfg Config) (*Backend, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root_path is required")
	}

	info, err := fsys.Stat(cfg.RootPath)
	switch {
	case errors.Is(err, fs.ErrNotExist) && cfg.CreateDirs:
		if err := fsys.MkdirAll(cfg.RootPath, 0o755); err != nil {
			return nil, fmt.Errorf("create root path %s: %w", cfg.RootPath, err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat root path %s: %w", cfg.RootPath, err)
	case !info.IsDir():
		return nil, fmt.Errorf("root path %s is not a directory", cfg.RootPath)
	}

	return &Backend{
		fs:         fsys,
		rootPath:   cfg.RootPath,
		createDirs: cfg.CreateDirs,
	}, nil
}

// NewFromJSON creates a Backend on the OS filesystem from raw JSON config.
func NewFromJSON(raw json.RawMessage) (*Backend, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse local config: %w", err)
	}
	return New(cfg)
}

// Root returns the directory objects are stored under.
func (b *Backend) Root() string { return b.rootPath }

// Path returns the file an object key maps to.
func (b *Backend) Path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(b.rootPath, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// GetObject opens the file holding key.
func (b *Backend) GetObject(_ context.Context, key string) (io.ReadCloser, int64, error) {
	p, err := b.Path(key)
	if err != nil {
		return nil, 0, err
	}
	f, err := b.fs.Open(p)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", key, err)
	}
	return f, info.Size(), nil
}

// PutObject writes content atomically through a temp file and rename.
func (b *Backend) PutObject(_ context.Context, key string, body io.Reader, _ int64) error {
	p, err := b.Path(key)
	if err != nil {
		return err
	}
	return b.writeAtomic(key, p, body)
}

func (b *Backend) writeAtomic(key, p string, body io.Reader) error {
	dir := filepath.Dir(p)
	if b.createDirs {
		if err := b.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dirs for %s: %w", key, err)
		}
	}

	tmp, err := afero.TempFile(b.fs, dir, ".instantpreview-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		b.fs.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		b.fs.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", key, err)
	}
	if err := b.fs.Rename(tmpName, p); err != nil {
		b.fs.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", key, err)
	}
	return nil
}

// DeleteObject removes a file. Missing files are ignored.
func (b *Backend) DeleteObject(_ context.Context, key string) error {
	p, err := b.Path(key)
	if err != nil {
		return err
	}
	if err := b.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// CopyObject copies one file to another key atomically.
func (b *Backend) CopyObject(_ context.Context, srcKey, dstKey string) error {
	srcPath, err := b.Path(srcKey)
	if err != nil {
		return err
	}
	dstPath, err := b.Path(dstKey)
	if err != nil {
		return err
	}
	src, err := b.fs.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open src %s: %w", srcKey, err)
	}
	defer src.Close()
	return b.writeAtomic(dstKey, dstPath, src)
}

// ObjectExists checks if a file exists for key.
func (b *Backend) ObjectExists(_ context.Context, key string) (bool, error) {
	p, err := b.Path(key)
	if err != nil {
		return false, err
	}
	ok, err := afero.Exists(b.fs, p)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return ok, nil
}

// Type returns "local".
func (b *Backend) Type() string { return "local" }

// Close is a no-op for local backends.
func (b *Backend) Close() error { return nil }
