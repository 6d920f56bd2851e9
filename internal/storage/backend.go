// Package storage defines the key-value Backend the workspace is persisted
// to, and the helpers shared by its implementations.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/instantpreview/instantpreview/internal/metrics"
)

// ErrObjectNotFound is returned, possibly wrapped, when a key holds no object.
// It is fs.ErrNotExist so backends can report it without importing this package.
var ErrObjectNotFound = fs.ErrNotExist

// Backend is the interface for workspace storage backends.
// Implementations handle raw object I/O (local directory, SQLite, S3).
type Backend interface {
	// GetObject returns the object stored under key and its size.
	GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// PutObject replaces the object under key. Readers never see a partial write.
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error

	// DeleteObject removes an object by key. Missing keys are not an error.
	DeleteObject(ctx context.Context, key string) error

	// CopyObject copies an object from srcKey to dstKey.
	CopyObject(ctx context.Context, srcKey, dstKey string) error

	// ObjectExists checks if an object exists at the given key.
	ObjectExists(ctx context.Context, key string) (bool, error)

	// Type returns the backend type identifier ("local", "sqlite", "s3").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// IsNotFound reports whether err means the key holds no object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}

// ReadAll reads a whole object.
func ReadAll(ctx context.Context, b Backend, key string) ([]byte, error) {
	rc, _, err := b.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// WriteBytes stores data under key.
func WriteBytes(ctx context.Context, b Backend, key string, data []byte) error {
	return b.PutObject(ctx, key, bytes.NewReader(data), int64(len(data)))
}

// instrumented records duration and outcome of every call to the wrapped backend.
type instrumented struct {
	Backend
}

// Instrument wraps b so its operations show up in the storage metrics.
func Instrument(b Backend) Backend {
	if _, ok := b.(*instrumented); ok {
		return b
	}
	return &instrumented{Backend: b}
}

// Unwrap returns the backend below an Instrument wrapper.
func Unwrap(b Backend) Backend {
	if i, ok := b.(*instrumented); ok {
		return i.Backend
	}
	return b
}

func (i *instrumented) record(op string, start time.Time, err error) {
	metrics.RecordStorageOperation(i.Type(), op, time.Since(start), err == nil || IsNotFound(err))
}

func (i *instrumented) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	start := time.Now()
	rc, n, err := i.Backend.GetObject(ctx, key)
	i.record("get_object", start, err)
	return rc, n, err
}

func (i *instrumented) PutObject(ctx context.Context, key string, body io.Reader, size int64) error {
	start := time.Now()
	err := i.Backend.PutObject(ctx, key, body, size)
	i.record("put_object", start, err)
	return err
}

func (i *instrumented) DeleteObject(ctx context.Context, key string) error {
	start := time.Now()
	err := i.Backend.DeleteObject(ctx, key)
	i.record("delete_object", start, err)
	return err
}

func (i *instrumented) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	start := time.Now()
	err := i.Backend.CopyObject(ctx, srcKey, dstKey)
	i.record("copy_object", start, err)
	return err
}

func (i *instrumented) ObjectExists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := i.Backend.ObjectExists(ctx, key)
	i.record("head_object", start, err)
	return ok, err
}
