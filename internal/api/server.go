// Package api provides the editor HTTP API and the sandboxed preview origin.
package api

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/instantpreview/instantpreview/internal/auth"
	"github.com/instantpreview/instantpreview/internal/config"
	"github.com/instantpreview/instantpreview/internal/editor"
	"github.com/instantpreview/instantpreview/internal/events"
	"github.com/instantpreview/instantpreview/internal/executor"
	"github.com/instantpreview/instantpreview/internal/languages"
	"github.com/instantpreview/instantpreview/internal/logging"
	"github.com/instantpreview/instantpreview/internal/metrics"
	"github.com/instantpreview/instantpreview/internal/preview"
	"github.com/instantpreview/instantpreview/internal/quota"
	"github.com/instantpreview/instantpreview/pkg/models"
	"github.com/instantpreview/instantpreview/pkg/protocol"
	"github.com/instantpreview/instantpreview/pkg/tree"
)

// maxBodySize bounds request bodies; buffers are plain text.
const maxBodySize = 8 << 20

// Pool gzip writers to reduce allocations on the tree endpoint.
var gzipPool = sync.Pool{
	New: func() any { return gzip.NewWriter(nil) },
}

// Server serves the editor API and the preview origin.
type Server struct {
	session     *editor.Session
	surface     *preview.MemorySurface
	tokens      *auth.PreviewTokens
	rateLimiter *quota.RateLimiter
	broadcaster *events.Broadcaster
	config      *config.Config

	// longPoll bounds how long a preview request with ?after= waits.
	longPoll time.Duration
}

// NewServer creates a new server.
func NewServer(
	cfg *config.Config,
	session *editor.Session,
	surface *preview.MemorySurface,
	tokens *auth.PreviewTokens,
	rateLimiter *quota.RateLimiter,
	broadcaster *events.Broadcaster,
) *Server {
	return &Server{
		session:     session,
		surface:     surface,
		tokens:      tokens,
		rateLimiter: rateLimiter,
		broadcaster: broadcaster,
		config:      cfg,
		longPoll:    25 * time.Second,
	}
}

// Handler returns the editor API handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/languages", s.handleLanguages)

	// Tree
	mux.HandleFunc("GET /api/v1/tree", s.handleTree)
	mux.HandleFunc("GET /api/v1/nodes/{id}", s.handleGetNode)
	mux.HandleFunc("POST /api/v1/nodes", s.handleCreateNode)
	mux.HandleFunc("PATCH /api/v1/nodes/{id}", s.handleRename)
	mux.HandleFunc("PUT /api/v1/nodes/{id}/content", s.handleUpdateContent)
	mux.HandleFunc("DELETE /api/v1/nodes/{id}", s.handleDeleteNode)

	// Slots
	mux.HandleFunc("GET /api/v1/slots", s.handleGetSlots)
	mux.HandleFunc("PUT /api/v1/slots/{slot}", s.handleSetSlot)

	// Editor state
	mux.HandleFunc("GET /api/v1/editor", s.handleEditorState)
	mux.HandleFunc("PUT /api/v1/editor/selection", s.handleSelection)
	mux.HandleFunc("PUT /api/v1/editor/buffer", s.handleBuffer)
	mux.HandleFunc("PUT /api/v1/editor/settings", s.handleSettings)

	// Running
	mux.HandleFunc("POST /api/v1/run", s.handleRun)
	mux.HandleFunc("POST /api/v1/execute", s.handleExecute)
	mux.HandleFunc("POST /api/v1/format", s.handleFormat)

	// SSE
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	return logging.Middleware(metrics.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok", "workspace": s.config.Workspace})
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	all := languages.All()
	out := make([]protocol.LanguageInfo, 0, len(all))
	for _, l := range all {
		out = append(out, protocol.LanguageInfo{
			Tag:        l.Tag,
			Name:       l.Name,
			Icon:       l.Icon,
			Extensions: l.Extensions,
			Class:      string(l.Class),
			Executable: l.Executable(),
			AutoRun:    l.AutoRunnable(),
		})
	}
	s.sendJSON(w, http.StatusOK, out)
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// ─── Tree ───────────────────────────────────────────────────────────────────

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	nodes := s.session.Tree()
	resp := protocol.TreeResponse{Nodes: nodes, Count: tree.CountNodes(nodes)}

	if acceptsGzip(r) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "gzip")
		gw := gzipPool.Get().(*gzip.Writer)
		gw.Reset(w)
		json.NewEncoder(gw).Encode(resp)
		gw.Close()
		gzipPool.Put(gw)
		return
	}

	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	n, err := s.session.Node(r.PathValue("id"))
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, n)
}

func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateNodeRequest
	if !s.decode(w, r, &req) {
		return
	}

	var (
		n   *models.FileNode
		err error
	)
	switch req.Kind {
	case models.KindFolder:
		n, err = s.session.CreateFolder(r.Context(), req.ParentID, req.Name)
	case models.KindFile, "":
		n, err = s.session.CreateFile(r.Context(), req.ParentID, req.Name, req.Language, req.Content)
	default:
		s.sendError(w, http.StatusBadRequest, fmt.Sprintf("unknown node type %q", req.Kind))
		return
	}
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, n)
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req protocol.RenameRequest
	if !s.decode(w, r, &req) {
		return
	}
	n, err := s.session.Rename(r.Context(), r.PathValue("id"), req.Name)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, n)
}

func (s *Server) handleUpdateContent(w http.ResponseWriter, r *http.Request) {
	var req protocol.ContentRequest
	if !s.decode(w, r, &req) {
		return
	}
	n, err := s.session.UpdateContent(r.Context(), r.PathValue("id"), req.Content)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, n)
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.sendErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Slots ──────────────────────────────────────────────────────────────────

func (s *Server) handleGetSlots(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.session.Slots())
}

func (s *Server) handleSetSlot(w http.ResponseWriter, r *http.Request) {
	slot, err := models.ParseSlot(r.PathValue("slot"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req protocol.ContentRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.session.SetSlot(r.Context(), slot, req.Content); err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, s.session.Slots())
}

// ─── Editor state ───────────────────────────────────────────────────────────

func (s *Server) handleEditorState(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.session.State())
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	var req protocol.SelectionRequest
	if !s.decode(w, r, &req) {
		return
	}

	var err error
	switch {
	case req.FileID != "" && req.Slot != "":
		s.sendError(w, http.StatusBadRequest, "set either fileId or slot, not both")
		return
	case req.FileID != "":
		err = s.session.SelectFile(r.Context(), req.FileID)
	case req.Slot != "":
		slot, perr := models.ParseSlot(req.Slot)
		if perr != nil {
			s.sendError(w, http.StatusBadRequest, perr.Error())
			return
		}
		err = s.session.SelectSlot(r.Context(), slot)
	default:
		s.sendError(w, http.StatusBadRequest, "fileId or slot required")
		return
	}
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, s.session.State())
}

func (s *Server) handleBuffer(w http.ResponseWriter, r *http.Request) {
	var req protocol.BufferRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.session.Edit(req.Content); err != nil {
		s.sendErr(w, err)
		return
	}
	if req.Flush {
		if _, err := s.session.Flush(r.Context()); err != nil {
			s.sendErr(w, err)
			return
		}
	}
	s.sendJSON(w, http.StatusAccepted, s.session.State())
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var req protocol.SettingsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ActiveLanguage != nil {
		if err := s.session.SetActiveLanguage(*req.ActiveLanguage); err != nil {
			s.sendErr(w, err)
			return
		}
	}
	if req.AutoRefresh != nil {
		s.session.SetAutoRefresh(*req.AutoRefresh)
	}
	s.sendJSON(w, http.StatusOK, s.session.State())
}

// ─── Running ────────────────────────────────────────────────────────────────

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}

	res, err := s.session.Run(r.Context())
	if err != nil {
		s.sendErr(w, err)
		return
	}

	token, exp, err := s.tokens.Issue(s.config.Workspace, res.Document.Fingerprint.Short())
	if err != nil {
		logging.WithContext(r.Context()).Error("issue preview token", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to issue preview token")
		return
	}

	s.sendJSON(w, http.StatusOK, protocol.RunResponse{
		State:      s.session.State().RunState,
		Path:       string(res.Plan),
		Version:    res.Document.Version,
		PreviewURL: strings.TrimRight(s.config.PreviewBaseURL, "/") + "/p/" + token,
		ExpiresAt:  exp,
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	var req protocol.ExecuteRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	if s.config.ExecutorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ExecutorTimeout)
		defer cancel()
	}
	res, err := s.session.Execute(ctx, req.Code, req.Language)
	if err != nil {
		s.sendErr(w, err)
		return
	}

	diags := make([]protocol.Diagnostic, 0, len(res.Diagnostics))
	for _, d := range res.Diagnostics {
		diags = append(diags, protocol.Diagnostic{Line: d.Line, Column: d.Column, Severity: d.Severity, Message: d.Message})
	}
	s.sendJSON(w, http.StatusOK, protocol.ExecuteResponse{
		Output:      res.Output,
		Diagnostics: diags,
		DurationMs:  res.DurationMs,
		Simulated:   res.Simulated,
	})
}

func (s *Server) handleFormat(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	var req protocol.FormatRequest
	if !s.decode(w, r, &req) {
		return
	}
	out, err := executor.Format(req.Language, req.Code)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(protocol.ErrorResponse{
			Error:   "format failed",
			Code:    http.StatusBadRequest,
			Details: err.Error(),
		})
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.FormatResponse{Code: out, Changed: out != req.Code})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// allow applies the per-client run quota.
func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.rateLimiter == nil {
		return true
	}
	key := quota.ClientKey(r)
	if s.rateLimiter.Allow(key, s.config.RunsPerMinute) {
		return true
	}
	w.Header().Set("Retry-After", strconv.Itoa(s.rateLimiter.RetryAfter(key, s.config.RunsPerMinute)))
	s.sendError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.sendError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tree.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tree.ErrNotFolder), errors.Is(err, tree.ErrNotFile),
		errors.Is(err, tree.ErrInvalidNode), errors.Is(err, executor.ErrEmptyCode):
		return http.StatusBadRequest
	case errors.Is(err, tree.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, preview.ErrSynthesis):
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, editor.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) sendErr(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError && code != http.StatusGatewayTimeout {
		logging.Error("request failed", zap.Error(err))
	}
	s.sendError(w, code, err.Error())
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

// StartCleanup drops idle rate limiter buckets every interval until ctx ends.
func (s *Server) StartCleanup(ctx context.Context, interval time.Duration) {
	if s.rateLimiter == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.rateLimiter.Cleanup(10 * time.Minute)
			}
		}
	}()
}
