// Package workspace persists the file tree and the slot buffers to a
// storage backend and loads them back, falling back to a default workspace
// when nothing usable is stored.
package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/instantpreview/instantpreview/internal/fingerprint"
	"github.com/instantpreview/instantpreview/internal/logging"
	"github.com/instantpreview/instantpreview/internal/metrics"
	"github.com/instantpreview/instantpreview/internal/storage"
	"github.com/instantpreview/instantpreview/pkg/models"
	"github.com/instantpreview/instantpreview/pkg/tree"
)

// CurrentVersion is the envelope version written by SaveTree and SaveSlots.
// Version 0 is the bare JSON array (or bare slots object) written before
// envelopes existed.
const CurrentVersion = 1

const (
	treeFile   = "files.json"
	slotsFile  = "slots.json"
	legacyFile = "files.v0.json"
)

var (
	// ErrUnsupportedVersion is reported when stored data is newer than this build.
	ErrUnsupportedVersion = errors.New("unsupported workspace version")
	// ErrMalformed is reported when stored data cannot be decoded.
	ErrMalformed = errors.New("malformed workspace data")
)

type treeEnvelope struct {
	Version int                `json:"version"`
	SavedAt time.Time          `json:"savedAt"`
	Files   []*models.FileNode `json:"files"`
}

type slotsEnvelope struct {
	Version int          `json:"version"`
	SavedAt time.Time    `json:"savedAt"`
	Slots   models.Slots `json:"slots"`
}

// Loaded is the outcome of LoadTree.
type Loaded struct {
	Nodes []*models.FileNode
	// FromDefault is set when nothing usable was stored.
	FromDefault bool
	// Migrated is set when a version 0 blob was upgraded.
	Migrated bool
	// Warning describes why stored data was discarded. Empty when it was used
	// or when nothing was stored.
	Warning string
}

// LoadedSlots is the outcome of LoadSlots.
type LoadedSlots struct {
	Slots       models.Slots
	FromDefault bool
	Warning     string
}

// Store reads and writes one workspace namespace of a backend.
type Store struct {
	backend   storage.Backend
	workspace string
	log       *zap.Logger

	mu      sync.Mutex
	written map[string]fingerprint.Sum
}

// NewStore returns a Store for the given workspace name.
func NewStore(backend storage.Backend, workspace string) *Store {
	return &Store{
		backend:   backend,
		workspace: workspace,
		log:       logging.Named("workspace"),
		written:   make(map[string]fingerprint.Sum),
	}
}

// Backend returns the underlying storage backend.
func (s *Store) Backend() storage.Backend { return s.backend }

// Name returns the workspace namespace.
func (s *Store) Name() string { return s.workspace }

// TreeKey is the key holding the serialized file tree.
func (s *Store) TreeKey() string { return s.workspace + "/" + treeFile }

// SlotsKey is the key holding the serialized slot buffers.
func (s *Store) SlotsKey() string { return s.workspace + "/" + slotsFile }

// LegacyKey is where a version 0 tree is kept after migration.
func (s *Store) LegacyKey() string { return s.workspace + "/" + legacyFile }

// SaveTree writes the tree under TreeKey.
func (s *Store) SaveTree(ctx context.Context, nodes []*models.FileNode) error {
	if nodes == nil {
		nodes = []*models.FileNode{}
	}
	data, err := json.Marshal(treeEnvelope{Version: CurrentVersion, SavedAt: models.Now(), Files: nodes})
	if err != nil {
		return fmt.Errorf("encode tree: %w", err)
	}
	return s.write(ctx, s.TreeKey(), data)
}

// Persist saves the tree, logging instead of returning failures.
func (s *Store) Persist(ctx context.Context, nodes []*models.FileNode) {
	if err := s.SaveTree(ctx, nodes); err != nil {
		s.log.Error("persist tree failed", zap.String("key", s.TreeKey()), zap.Error(err))
		return
	}
	metrics.SetTreeSize(tree.CountNodes(nodes))
}

// SaveSlots writes the slot buffers under SlotsKey.
func (s *Store) SaveSlots(ctx context.Context, slots models.Slots) error {
	data, err := json.Marshal(slotsEnvelope{Version: CurrentVersion, SavedAt: models.Now(), Slots: slots})
	if err != nil {
		return fmt.Errorf("encode slots: %w", err)
	}
	return s.write(ctx, s.SlotsKey(), data)
}

// PersistSlots saves the slots, logging instead of returning failures.
func (s *Store) PersistSlots(ctx context.Context, slots models.Slots) {
	if err := s.SaveSlots(ctx, slots); err != nil {
		s.log.Error("persist slots failed", zap.String("key", s.SlotsKey()), zap.Error(err))
	}
}

func (s *Store) write(ctx context.Context, key string, data []byte) error {
	err := storage.WriteBytes(ctx, s.backend, key, data)
	metrics.RecordPersist(key, err == nil)
	if err != nil {
		return err
	}
	s.remember(key, data)
	return nil
}

// remember records data as the last known content of key.
func (s *Store) remember(key string, data []byte) {
	s.mu.Lock()
	s.written[key] = fingerprint.Bytes(data)
	s.mu.Unlock()
}

// IsOwnWrite reports whether data is exactly what this Store last wrote or
// loaded under key.
func (s *Store) IsOwnWrite(key string, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.written[key]
	return ok && sum == fingerprint.Bytes(data)
}

// LoadTree reads the tree. A missing key yields the default tree; data that
// cannot be used yields the default tree and a Warning. Only a failing
// backend is returned as an error.
func (s *Store) LoadTree(ctx context.Context) (Loaded, error) {
	data, err := storage.ReadAll(ctx, s.backend, s.TreeKey())
	if storage.IsNotFound(err) {
		return Loaded{Nodes: DefaultTree(), FromDefault: true}, nil
	}
	if err != nil {
		return Loaded{}, fmt.Errorf("load tree: %w", err)
	}
	s.remember(s.TreeKey(), data)

	nodes, version, err := DecodeTree(data)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, ErrUnsupportedVersion) {
			reason = "version"
		}
		metrics.RecordLoadFallback(reason)
		s.log.Warn("stored tree unusable, using default workspace",
			zap.String("key", s.TreeKey()), zap.Error(err))
		return Loaded{Nodes: DefaultTree(), FromDefault: true, Warning: err.Error()}, nil
	}

	loaded := Loaded{Nodes: nodes}
	if version < CurrentVersion {
		loaded.Migrated = true
		s.migrate(ctx, nodes)
	}
	metrics.SetTreeSize(tree.CountNodes(nodes))
	return loaded, nil
}

// migrate keeps the old blob under LegacyKey and rewrites the tree in the
// current format. Failures are logged; the loaded tree is used either way.
func (s *Store) migrate(ctx context.Context, nodes []*models.FileNode) {
	if err := s.backend.CopyObject(ctx, s.TreeKey(), s.LegacyKey()); err != nil {
		s.log.Warn("backup of version 0 tree failed", zap.Error(err))
		return
	}
	if err := s.SaveTree(ctx, nodes); err != nil {
		s.log.Warn("rewrite of migrated tree failed", zap.Error(err))
		return
	}
	s.log.Info("migrated workspace tree",
		zap.Int("from_version", 0), zap.Int("to_version", CurrentVersion),
		zap.String("backup", s.LegacyKey()))
}

// DecodeTree parses stored tree data of any supported version and returns
// the version it was written in.
func DecodeTree(data []byte) ([]*models.FileNode, int, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, 0, fmt.Errorf("%w: empty", ErrMalformed)
	}

	var nodes []*models.FileNode
	version := 0
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &nodes); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	case '{':
		var env treeEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if env.Version < 1 || env.Version > CurrentVersion {
			return nil, 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
		}
		nodes, version = env.Files, env.Version
	default:
		return nil, 0, fmt.Errorf("%w: not a JSON array or object", ErrMalformed)
	}

	if nodes == nil {
		nodes = []*models.FileNode{}
	}
	if err := tree.ValidateIDs(nodes); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nodes, version, nil
}

// LoadSlots reads the slot buffers with the same fallback rules as LoadTree.
func (s *Store) LoadSlots(ctx context.Context) (LoadedSlots, error) {
	data, err := storage.ReadAll(ctx, s.backend, s.SlotsKey())
	if storage.IsNotFound(err) {
		return LoadedSlots{Slots: DefaultSlots(), FromDefault: true}, nil
	}
	if err != nil {
		return LoadedSlots{}, fmt.Errorf("load slots: %w", err)
	}
	s.remember(s.SlotsKey(), data)

	slots, err := DecodeSlots(data)
	if err != nil {
		metrics.RecordLoadFallback("slots")
		s.log.Warn("stored slots unusable, using defaults",
			zap.String("key", s.SlotsKey()), zap.Error(err))
		return LoadedSlots{Slots: DefaultSlots(), FromDefault: true, Warning: err.Error()}, nil
	}
	return LoadedSlots{Slots: slots}, nil
}

// DecodeSlots parses stored slots: an envelope or a bare {html,css,js,script} object.
func DecodeSlots(data []byte) (models.Slots, error) {
	var saved struct {
		Version *int            `json:"version"`
		Slots   json.RawMessage `json:"slots"`
	}
	if err := json.Unmarshal(data, &saved); err != nil {
		return models.Slots{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var slots models.Slots
	if saved.Version == nil {
		if err := json.Unmarshal(data, &slots); err != nil {
			return models.Slots{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return slots, nil
	}
	if *saved.Version < 1 || *saved.Version > CurrentVersion {
		return models.Slots{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, *saved.Version)
	}
	if err := json.Unmarshal(saved.Slots, &slots); err != nil {
		return models.Slots{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return slots, nil
}

// Reset deletes the stored tree and slots so the next load starts from defaults.
func (s *Store) Reset(ctx context.Context) error {
	for _, key := range []string{s.TreeKey(), s.SlotsKey()} {
		if err := s.backend.DeleteObject(ctx, key); err != nil {
			return fmt.Errorf("reset %s: %w", key, err)
		}
		s.mu.Lock()
		delete(s.written, key)
		s.mu.Unlock()
	}
	return nil
}
