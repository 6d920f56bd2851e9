package api

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instantpreview/instantpreview/internal/auth"
	"github.com/instantpreview/instantpreview/internal/config"
	"github.com/instantpreview/instantpreview/internal/editor"
	"github.com/instantpreview/instantpreview/internal/events"
	"github.com/instantpreview/instantpreview/internal/preview"
	"github.com/instantpreview/instantpreview/internal/quota"
	"github.com/instantpreview/instantpreview/internal/storage/local"
	"github.com/instantpreview/instantpreview/internal/workspace"
	"github.com/instantpreview/instantpreview/pkg/models"
	"github.com/instantpreview/instantpreview/pkg/protocol"
)

type testEnv struct {
	server  *Server
	editor  http.Handler
	preview http.Handler
	session *editor.Session
}

func newTestEnv(t *testing.T, rpm int) *testEnv {
	t.Helper()
	b, err := local.NewWithFs(afero.NewMemMapFs(), local.Config{RootPath: "/data", CreateDirs: true})
	require.NoError(t, err)

	cfg := &config.Config{
		Workspace:       "default",
		PreviewBaseURL:  "http://preview.test/",
		EditorOrigin:    "http://editor.test",
		ExecutorTimeout: 5 * time.Second,
		RunsPerMinute:   rpm,
	}
	surface := preview.NewMemorySurface()
	runner := preview.NewRunner(surface)
	bus := events.NewBroadcaster()
	session, err := editor.New(context.Background(), workspace.NewStore(b, cfg.Workspace), runner,
		editor.Options{Events: bus, Surface: surface})
	require.NoError(t, err)
	t.Cleanup(func() { session.Close(context.Background()) })

	tokens, err := auth.NewPreviewTokens("test-secret", time.Minute)
	require.NoError(t, err)

	s := NewServer(cfg, session, surface, tokens, quota.NewRateLimiter(), bus)
	return &testEnv{server: s, editor: s.Handler(), preview: s.PreviewHandler(), session: session}
}

func (e *testEnv) do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func findNamed(nodes []*models.FileNode, name string) *models.FileNode {
	for _, n := range nodes {
		if n.Name == name {
			return n
		}
		if c := findNamed(n.Children, name); c != nil {
			return c
		}
	}
	return nil
}

func TestHealthAndLanguages(t *testing.T) {
	e := newTestEnv(t, 0)
	rec := e.do(t, e.editor, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = e.do(t, e.editor, "GET", "/api/v1/languages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	langs := decodeBody[[]protocol.LanguageInfo](t, rec)
	byTag := map[string]protocol.LanguageInfo{}
	for _, l := range langs {
		byTag[l.Tag] = l
	}
	assert.True(t, byTag["javascript"].AutoRun)
	assert.False(t, byTag["kotlin"].Executable)
}

func TestTreeCRUD(t *testing.T) {
	e := newTestEnv(t, 0)

	rec := e.do(t, e.editor, "GET", "/api/v1/tree", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tr := decodeBody[protocol.TreeResponse](t, rec)
	assert.Equal(t, 6, tr.Count)
	examples := findNamed(tr.Nodes, "Examples")
	require.NotNil(t, examples)

	rec = e.do(t, e.editor, "POST", "/api/v1/nodes", protocol.CreateNodeRequest{
		ParentID: examples.ID, Name: "main.py", Kind: models.KindFile,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[models.FileNode](t, rec)
	assert.Equal(t, "python", created.Language)

	rec = e.do(t, e.editor, "PATCH", "/api/v1/nodes/"+created.ID, protocol.RenameRequest{Name: "app.py"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "app.py", decodeBody[models.FileNode](t, rec).Name)

	rec = e.do(t, e.editor, "PUT", "/api/v1/nodes/"+created.ID+"/content", protocol.ContentRequest{Content: "print(2)"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "print(2)", decodeBody[models.FileNode](t, rec).Content)

	rec = e.do(t, e.editor, "GET", "/api/v1/nodes/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, e.editor, "DELETE", "/api/v1/nodes/"+examples.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, e.editor, "GET", "/api/v1/nodes/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusNotFound, decodeBody[protocol.ErrorResponse](t, rec).Code)

	rec = e.do(t, e.editor, "DELETE", "/api/v1/nodes/"+examples.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateNodeErrors(t *testing.T) {
	e := newTestEnv(t, 0)
	idx := findNamed(e.session.Tree(), "index.html")

	rec := e.do(t, e.editor, "POST", "/api/v1/nodes", protocol.CreateNodeRequest{ParentID: idx.ID, Name: "x", Kind: models.KindFolder})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, e.editor, "POST", "/api/v1/nodes", protocol.CreateNodeRequest{Name: "x", Kind: "link"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest("POST", "/api/v1/nodes", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	e.editor.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTreeGzip(t *testing.T) {
	e := newTestEnv(t, 0)
	req := httptest.NewRequest("GET", "/api/v1/tree", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	e.editor.ServeHTTP(rec, req)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	var tr protocol.TreeResponse
	require.NoError(t, json.NewDecoder(zr).Decode(&tr))
	assert.Equal(t, 6, tr.Count)
}

func TestSlotsAndEditor(t *testing.T) {
	e := newTestEnv(t, 0)

	rec := e.do(t, e.editor, "PUT", "/api/v1/slots/css", protocol.ContentRequest{Content: "p{}"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p{}", decodeBody[models.Slots](t, rec).CSS)

	rec = e.do(t, e.editor, "PUT", "/api/v1/slots/sass", protocol.ContentRequest{Content: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, e.editor, "PUT", "/api/v1/editor/selection", protocol.SelectionRequest{Slot: "js"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "js", decodeBody[protocol.EditorState](t, rec).SelectedSlot)

	rec = e.do(t, e.editor, "PUT", "/api/v1/editor/selection", protocol.SelectionRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, e.editor, "PUT", "/api/v1/editor/selection", protocol.SelectionRequest{FileID: "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, e.editor, "PUT", "/api/v1/editor/buffer", protocol.BufferRequest{Content: "alert(1)", Flush: true})
	require.Equal(t, http.StatusAccepted, rec.Code)
	st := decodeBody[protocol.EditorState](t, rec)
	assert.Equal(t, "alert(1)", st.Buffer)
	assert.False(t, st.PendingCommit)
	assert.Equal(t, "alert(1)", e.session.Slots().JS)

	on, lang := true, "python"
	rec = e.do(t, e.editor, "PUT", "/api/v1/editor/settings", protocol.SettingsRequest{AutoRefresh: &on, ActiveLanguage: &lang})
	require.Equal(t, http.StatusOK, rec.Code)
	st = decodeBody[protocol.EditorState](t, rec)
	assert.True(t, st.AutoRefresh)
	assert.Equal(t, "python", st.ActiveLanguage)

	rec = e.do(t, e.editor, "GET", "/api/v1/editor", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunAndServePreview(t *testing.T) {
	e := newTestEnv(t, 0)

	rec := e.do(t, e.preview, "GET", "/p/garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "sandbox")

	rec = e.do(t, e.editor, "POST", "/api/v1/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decodeBody[protocol.RunResponse](t, rec)
	assert.Equal(t, "web", run.Path)
	assert.Equal(t, uint64(1), run.Version)
	require.True(t, strings.HasPrefix(run.PreviewURL, "http://preview.test/p/"))

	path := strings.TrimPrefix(run.PreviewURL, "http://preview.test")
	rec = e.do(t, e.preview, "GET", path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<!DOCTYPE html>")
	assert.Equal(t,
		"sandbox allow-scripts allow-same-origin allow-modals allow-forms; frame-ancestors http://editor.test",
		rec.Header().Get("Content-Security-Policy"))
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest("GET", path, nil)
	req.Header.Set("If-None-Match", etag)
	w := httptest.NewRecorder()
	e.preview.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotModified, w.Code)
}

func TestPreviewBeforeFirstRun(t *testing.T) {
	e := newTestEnv(t, 0)
	tok, _, err := e.server.tokens.Issue("default", "")
	require.NoError(t, err)
	rec := e.do(t, e.preview, "GET", "/p/"+tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	other, _, err := e.server.tokens.Issue("elsewhere", "")
	require.NoError(t, err)
	rec = e.do(t, e.preview, "GET", "/p/"+other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreviewWaitsForNewerVersion(t *testing.T) {
	e := newTestEnv(t, 0)
	rec := e.do(t, e.editor, "POST", "/api/v1/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decodeBody[protocol.RunResponse](t, rec)
	path := strings.TrimPrefix(run.PreviewURL, "http://preview.test")

	rec = e.do(t, e.preview, "GET", path+"?after=0", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, e.preview, "GET", path+"?after=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	e.server.longPoll = 20 * time.Millisecond
	rec = e.do(t, e.preview, "GET", path+"?after=1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	e.server.longPoll = 5 * time.Second
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		w := httptest.NewRecorder()
		e.preview.ServeHTTP(w, httptest.NewRequest("GET", path+"?after=1", nil))
		done <- w
	}()

	require.NoError(t, e.session.SetSlot(context.Background(), models.SlotHTML, "<h1>second</h1>"))
	rec = e.do(t, e.editor, "POST", "/api/v1/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, uint64(2), decodeBody[protocol.RunResponse](t, rec).Version)

	select {
	case w := <-done:
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "<h1>second</h1>")
		assert.Contains(t, w.Header().Get("ETag"), "-2")
	case <-time.After(5 * time.Second):
		t.Fatal("preview request did not return after a new run")
	}
}

func TestRunFailureIsUnprocessable(t *testing.T) {
	e := newTestEnv(t, 0)
	require.NoError(t, e.session.SetSlot(context.Background(), models.SlotHTML, "\xff"))
	rec := e.do(t, e.editor, "POST", "/api/v1/run", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestExecuteAndFormat(t *testing.T) {
	e := newTestEnv(t, 0)

	rec := e.do(t, e.editor, "POST", "/api/v1/execute", protocol.ExecuteRequest{Code: `print("hi")`, Language: "python"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[protocol.ExecuteResponse](t, rec)
	assert.Contains(t, res.Output, "hi")
	assert.True(t, res.Simulated)

	rec = e.do(t, e.editor, "POST", "/api/v1/execute", protocol.ExecuteRequest{Language: "python"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, e.editor, "POST", "/api/v1/format", protocol.FormatRequest{Code: "package main\nfunc main(){}\n", Language: "go"})
	require.Equal(t, http.StatusOK, rec.Code)
	f := decodeBody[protocol.FormatResponse](t, rec)
	assert.True(t, f.Changed)
	assert.Equal(t, "package main\n\nfunc main() {}\n", f.Code)

	rec = e.do(t, e.editor, "POST", "/api/v1/format", protocol.FormatRequest{Code: "package", Language: "go"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decodeBody[protocol.ErrorResponse](t, rec).Details)
}

func TestRateLimit(t *testing.T) {
	e := newTestEnv(t, 2)
	for i := 0; i < 2; i++ {
		rec := e.do(t, e.editor, "POST", "/api/v1/run", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := e.do(t, e.editor, "POST", "/api/v1/run", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(editor.ErrClosed))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}

func TestEventsStream(t *testing.T) {
	e := newTestEnv(t, 0)
	srv := httptest.NewServer(e.editor)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	_, err = e.session.CreateFolder(context.Background(), "", "assets")
	require.NoError(t, err)

	sc := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
			break
		}
	}
	assert.Equal(t, "event: "+events.EventNodeCreate, eventLine)
	var ev protocol.SSEEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(dataLine, "data: ")), &ev))
	assert.NotEmpty(t, ev.NodeID)
}
