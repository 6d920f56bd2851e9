package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/instantpreview/instantpreview/internal/logging"
	"github.com/instantpreview/instantpreview/internal/metrics"
	"github.com/instantpreview/instantpreview/internal/preview"
)

// PreviewHandler serves rendered documents on the preview origin. Every
// response carries the sandbox headers.
func (s *Server) PreviewHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /p/{token}", s.handlePreview)
	return logging.Middleware(metrics.Middleware(mux))
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	for k, v := range preview.SandboxHeaders(s.config.EditorOrigin) {
		w.Header()[k] = v
	}

	claims, err := s.tokens.Verify(r.PathValue("token"))
	if err != nil {
		s.sendError(w, http.StatusUnauthorized, "invalid or expired preview link")
		return
	}
	if claims.Workspace != s.config.Workspace {
		s.sendError(w, http.StatusNotFound, "unknown workspace")
		return
	}

	var (
		doc preview.Document
		ok  bool
	)
	if raw := r.URL.Query().Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "after must be a document version")
			return
		}
		doc, ok = s.awaitNewer(r.Context(), after)
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
	} else if doc, ok = s.surface.Current(); !ok {
		s.sendError(w, http.StatusNotFound, "nothing has been run yet")
		return
	}

	etag := fmt.Sprintf(`"%s-%d"`, doc.Fingerprint.Short(), doc.Version)
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && strings.Contains(match, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(doc.HTML))
}

// awaitNewer blocks until the surface holds a document newer than after,
// the request ends or the long-poll window closes.
func (s *Server) awaitNewer(ctx context.Context, after uint64) (preview.Document, bool) {
	updates, cancel := s.surface.Subscribe()
	defer cancel()

	if doc, ok := s.surface.Current(); ok && doc.Version > after {
		return doc, true
	}

	timer := time.NewTimer(s.longPoll)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return preview.Document{}, false
		case <-timer.C:
			return preview.Document{}, false
		case <-updates:
			if doc, ok := s.surface.Current(); ok && doc.Version > after {
				return doc, true
			}
		}
	}
}
