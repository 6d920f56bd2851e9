// Package models contains the data types shared by the editor service and its tools.
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Kind tells files and folders apart. It never changes after creation.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindFile || k == KindFolder
}

// ErrUnknownKind is returned when decoding a node whose type tag is neither file nor folder.
var ErrUnknownKind = errors.New("unknown node kind")

// Now is the clock used to stamp nodes. Tests replace it.
var Now = func() time.Time { return time.Now().UTC() }

// FileNode is a file or folder in the virtual file tree.
//
// Content and Language are meaningful only for files, Children only for
// folders. The JSON form enforces that: files always carry content and
// language, folders always carry a (possibly empty) children array.
type FileNode struct {
	ID           string
	Name         string
	Kind         Kind
	Content      string
	Language     string
	Children     []*FileNode
	DateCreated  time.Time
	DateModified time.Time
}

// IsFolder reports whether the node is a folder.
func (n *FileNode) IsFolder() bool { return n.Kind == KindFolder }

// IsFile reports whether the node is a file.
func (n *FileNode) IsFile() bool { return n.Kind == KindFile }

// NewID returns a fresh opaque node identifier.
func NewID() string {
	return uuid.NewString()
}

// NewFile builds a file node with a fresh id and both timestamps set to now.
func NewFile(name, language, content string) *FileNode {
	now := Now()
	return &FileNode{
		ID:           NewID(),
		Name:         name,
		Kind:         KindFile,
		Content:      content,
		Language:     language,
		DateCreated:  now,
		DateModified: now,
	}
}

// NewFolder builds an empty folder node with a fresh id.
func NewFolder(name string) *FileNode {
	now := Now()
	return &FileNode{
		ID:           NewID(),
		Name:         name,
		Kind:         KindFolder,
		Children:     []*FileNode{},
		DateCreated:  now,
		DateModified: now,
	}
}

type fileJSON struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Kind         Kind      `json:"type"`
	Content      string    `json:"content"`
	Language     string    `json:"language"`
	DateCreated  time.Time `json:"dateCreated"`
	DateModified time.Time `json:"dateModified"`
}

type folderJSON struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Kind         Kind        `json:"type"`
	Children     []*FileNode `json:"children"`
	DateCreated  time.Time   `json:"dateCreated"`
	DateModified time.Time   `json:"dateModified"`
}

type nodeJSON struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Kind         Kind            `json:"type"`
	Content      string          `json:"content"`
	Language     string          `json:"language"`
	Children     []*FileNode     `json:"children"`
	DateCreated  json.RawMessage `json:"dateCreated"`
	DateModified json.RawMessage `json:"dateModified"`
}

// MarshalJSON writes the variant-specific shape of the node.
func (n *FileNode) MarshalJSON() ([]byte, error) {
	switch n.Kind {
	case KindFile:
		return json.Marshal(fileJSON{
			ID:           n.ID,
			Name:         n.Name,
			Kind:         n.Kind,
			Content:      n.Content,
			Language:     n.Language,
			DateCreated:  n.DateCreated.UTC(),
			DateModified: n.DateModified.UTC(),
		})
	case KindFolder:
		children := n.Children
		if children == nil {
			children = []*FileNode{}
		}
		return json.Marshal(folderJSON{
			ID:           n.ID,
			Name:         n.Name,
			Kind:         n.Kind,
			Children:     children,
			DateCreated:  n.DateCreated.UTC(),
			DateModified: n.DateModified.UTC(),
		})
	default:
		return nil, fmt.Errorf("marshal node %q: %w: %q", n.ID, ErrUnknownKind, n.Kind)
	}
}

// UnmarshalJSON decodes a node, turning serialized timestamps back into
// time values. Timestamps may be RFC 3339 strings or unix milliseconds;
// a missing one is stamped with the current time.
func (n *FileNode) UnmarshalJSON(data []byte) error {
	var raw nodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !raw.Kind.Valid() {
		return fmt.Errorf("node %q: %w: %q", raw.ID, ErrUnknownKind, raw.Kind)
	}

	created, err := parseTimestamp(raw.DateCreated)
	if err != nil {
		return fmt.Errorf("node %q dateCreated: %w", raw.ID, err)
	}
	modified, err := parseTimestamp(raw.DateModified)
	if err != nil {
		return fmt.Errorf("node %q dateModified: %w", raw.ID, err)
	}

	*n = FileNode{
		ID:           raw.ID,
		Name:         raw.Name,
		Kind:         raw.Kind,
		DateCreated:  created,
		DateModified: modified,
	}
	if n.Kind == KindFolder {
		n.Children = raw.Children
		if n.Children == nil {
			n.Children = []*FileNode{}
		}
	} else {
		n.Content = raw.Content
		n.Language = raw.Language
	}
	return nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Now(), nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		if s == "" {
			return Now(), nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(string(raw), 64)
		if ferr != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %s", raw)
		}
		ms = int64(f)
	}
	return time.UnixMilli(ms).UTC(), nil
}
