package preview

import (
	"net/http"
	"strings"
)

// SandboxAttribute is the iframe sandbox the editor page must use when it
// embeds the preview origin.
const SandboxAttribute = "allow-scripts allow-same-origin allow-modals allow-forms"

// SandboxHeaders returns the headers every preview response carries. The
// document runs under a CSP sandbox on its own origin, so it cannot reach the
// editor's storage or navigate the top-level page. Only editorOrigin may
// frame it.
func SandboxHeaders(editorOrigin string) http.Header {
	ancestors := "'none'"
	if o := strings.TrimRight(strings.TrimSpace(editorOrigin), "/"); o != "" {
		ancestors = o
	}
	h := make(http.Header)
	h.Set("Content-Security-Policy", "sandbox "+SandboxAttribute+"; frame-ancestors "+ancestors)
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Cross-Origin-Opener-Policy", "same-origin")
	h.Set("Cache-Control", "no-cache")
	return h
}
