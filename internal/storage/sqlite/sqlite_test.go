package sqlite

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T) *Backend {
	t.Helper()
	b, err := New(context.Background(), Config{Path: filepath.Join(t.TempDir(), "ws", "workspace.db")})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func read(t *testing.T, b *Backend, key string) string {
	t.Helper()
	rc, size, err := b.GetObject(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)
	return string(data)
}

func TestPutGetOverwrite(t *testing.T) {
	ctx := context.Background()
	b := open(t)

	require.NoError(t, b.PutObject(ctx, "default/slots.json", bytes.NewBufferString(`{"html":""}`), -1))
	assert.Equal(t, `{"html":""}`, read(t, b, "default/slots.json"))

	require.NoError(t, b.PutObject(ctx, "default/slots.json", bytes.NewBufferString(`{}`), 2))
	assert.Equal(t, `{}`, read(t, b, "default/slots.json"))
}

func TestMissingKey(t *testing.T) {
	ctx := context.Background()
	b := open(t)

	_, _, err := b.GetObject(ctx, "missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	ok, err := b.ObjectExists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, b.DeleteObject(ctx, "missing"))
	assert.ErrorIs(t, b.CopyObject(ctx, "missing", "dst"), fs.ErrNotExist)
}

func TestCopyAndDelete(t *testing.T) {
	ctx := context.Background()
	b := open(t)

	require.NoError(t, b.PutObject(ctx, "a", bytes.NewBufferString("v1"), 2))
	require.NoError(t, b.CopyObject(ctx, "a", "b"))
	require.NoError(t, b.PutObject(ctx, "a", bytes.NewBufferString("v2"), 2))
	require.NoError(t, b.CopyObject(ctx, "a", "b"))
	assert.Equal(t, "v2", read(t, b, "b"))

	require.NoError(t, b.DeleteObject(ctx, "a"))
	ok, err := b.ObjectExists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "sqlite", b.Type())
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "w.db")

	b, err := New(ctx, Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, b.PutObject(ctx, "k", bytes.NewBufferString("persisted"), 9))
	require.NoError(t, b.Close())

	b, err = New(ctx, Config{Path: path})
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, "persisted", read(t, b, "k"))
}
