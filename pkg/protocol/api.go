// Package protocol defines the editor API request/response types.
package protocol

import (
	"time"

	"github.com/instantpreview/instantpreview/pkg/models"
)

// TreeResponse is returned by GET /api/v1/tree
type TreeResponse struct {
	Nodes []*models.FileNode `json:"nodes"`
	Count int                `json:"count"`
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// CreateNodeRequest is the body for POST /api/v1/nodes.
// Content defaults to the language template when omitted.
type CreateNodeRequest struct {
	ParentID string      `json:"parentId,omitempty"`
	Name     string      `json:"name"`
	Kind     models.Kind `json:"type"`
	Language string      `json:"language,omitempty"`
	Content  *string     `json:"content,omitempty"`
}

// RenameRequest is the body for PATCH /api/v1/nodes/{id}.
type RenameRequest struct {
	Name string `json:"name"`
}

// ContentRequest is the body for PUT /api/v1/nodes/{id}/content and PUT /api/v1/slots/{slot}.
type ContentRequest struct {
	Content string `json:"content"`
}

// SelectionRequest is the body for PUT /api/v1/editor/selection.
// Exactly one of FileID and Slot is set.
type SelectionRequest struct {
	FileID string `json:"fileId,omitempty"`
	Slot   string `json:"slot,omitempty"`
}

// BufferRequest is the body for PUT /api/v1/editor/buffer.
type BufferRequest struct {
	Content string `json:"content"`
	// Flush commits immediately instead of waiting for the debounce window.
	Flush bool `json:"flush,omitempty"`
}

// SettingsRequest is the body for PUT /api/v1/editor/settings.
type SettingsRequest struct {
	AutoRefresh    *bool   `json:"autoRefresh,omitempty"`
	ActiveLanguage *string `json:"activeLanguage,omitempty"`
}

// EditorState is returned by the /api/v1/editor endpoints.
type EditorState struct {
	SelectedFileID string `json:"selectedFileId,omitempty"`
	SelectedSlot   string `json:"selectedSlot,omitempty"`
	Buffer         string `json:"buffer"`
	BufferLanguage string `json:"bufferLanguage"`
	PendingCommit  bool   `json:"pendingCommit"`
	ActiveLanguage string `json:"activeLanguage"`
	AutoRefresh    bool   `json:"autoRefresh"`
	RunState       string `json:"runState"`
	PreviewVersion uint64 `json:"previewVersion"`
}

// RunResponse is returned by POST /api/v1/run.
type RunResponse struct {
	State      string    `json:"state"`
	Path       string    `json:"path"`
	Version    uint64    `json:"version"`
	PreviewURL string    `json:"previewUrl"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Error      string    `json:"error,omitempty"`
}

// ExecuteRequest is the body for POST /api/v1/execute.
type ExecuteRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

// Diagnostic is a compiler or syntax message attached to an execution.
type Diagnostic struct {
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// ExecuteResponse is returned by POST /api/v1/execute.
type ExecuteResponse struct {
	Output      string       `json:"output"`
	Diagnostics []Diagnostic `json:"diagnostics"`
	DurationMs  int64        `json:"durationMs"`
	Simulated   bool         `json:"simulated"`
}

// FormatRequest is the body for POST /api/v1/format.
type FormatRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

// FormatResponse is returned by POST /api/v1/format.
type FormatResponse struct {
	Code    string `json:"code"`
	Changed bool   `json:"changed"`
}

// LanguageInfo describes one entry of the language registry.
type LanguageInfo struct {
	Tag        string   `json:"tag"`
	Name       string   `json:"name"`
	Icon       string   `json:"icon"`
	Extensions []string `json:"extensions"`
	Class      string   `json:"class"`
	Executable bool     `json:"executable"`
	AutoRun    bool     `json:"autoRun"`
}

// SSEEvent is pushed to /api/v1/events subscribers.
type SSEEvent struct {
	Type      string   `json:"type"`
	NodeID    string   `json:"nodeId,omitempty"`
	IDs       []string `json:"ids,omitempty"`
	Slot      string   `json:"slot,omitempty"`
	Version   uint64   `json:"version,omitempty"`
	Error     string   `json:"error,omitempty"`
	Timestamp int64    `json:"timestamp"`
}
