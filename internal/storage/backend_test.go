package storage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/spf13/afero"

	"github.com/instantpreview/instantpreview/internal/storage/local"
)

func TestReadWriteHelpers(t *testing.T) {
	ctx := context.Background()
	lb, err := local.NewWithFs(afero.NewMemMapFs(), local.Config{RootPath: "/ws", CreateDirs: true})
	if err != nil {
		t.Fatalf("local: %v", err)
	}
	b := Instrument(lb)
	if Instrument(b) != b {
		t.Error("Instrument should not wrap twice")
	}
	if Unwrap(b) != Backend(lb) {
		t.Error("Unwrap did not return the inner backend")
	}

	if err := WriteBytes(ctx, b, "k/v.json", []byte("hello")); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	data, err := ReadAll(ctx, b, "k/v.json")
	if err != nil || string(data) != "hello" {
		t.Fatalf("ReadAll = %q, %v", data, err)
	}

	_, err = ReadAll(ctx, b, "k/missing.json")
	if !IsNotFound(err) {
		t.Errorf("missing key: err = %v, want not found", err)
	}
}

func TestFactoryRejectsUnknownType(t *testing.T) {
	if _, err := NewBackendFromConfig(context.Background(), "ftp", json.RawMessage(`{}`)); err == nil {
		t.Error("unknown backend accepted")
	}
}

func TestFactoryBuildsSQLite(t *testing.T) {
	cfg, _ := json.Marshal(map[string]string{"path": t.TempDir() + "/w.db"})
	b, err := NewBackendFromConfig(context.Background(), "sqlite", cfg)
	if err != nil {
		t.Fatalf("NewBackendFromConfig: %v", err)
	}
	defer b.Close()
	if b.Type() != "sqlite" {
		t.Errorf("Type = %q", b.Type())
	}
}
