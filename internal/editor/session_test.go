package editor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instantpreview/instantpreview/internal/events"
	"github.com/instantpreview/instantpreview/internal/executor"
	"github.com/instantpreview/instantpreview/internal/languages"
	"github.com/instantpreview/instantpreview/internal/preview"
	"github.com/instantpreview/instantpreview/internal/storage/local"
	"github.com/instantpreview/instantpreview/internal/workspace"
	"github.com/instantpreview/instantpreview/pkg/models"
	"github.com/instantpreview/instantpreview/pkg/tree"
)

type fixture struct {
	session *Session
	store   *workspace.Store
	surface *preview.MemorySurface
	runner  *preview.Runner
	events  *events.Broadcaster
}

func newFixture(t *testing.T, autoRefresh bool, opts Options) *fixture {
	t.Helper()
	b, err := local.NewWithFs(afero.NewMemMapFs(), local.Config{RootPath: "/data", CreateDirs: true})
	require.NoError(t, err)
	store := workspace.NewStore(b, "default")
	surface := preview.NewMemorySurface()
	runner := preview.NewRunner(surface, preview.WithAutoRefresh(autoRefresh))
	bus := events.NewBroadcaster()

	opts.Events = bus
	opts.Surface = surface
	s, err := New(context.Background(), store, runner, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return &fixture{session: s, store: store, surface: surface, runner: runner, events: bus}
}

func findNamed(nodes []*models.FileNode, name string) *models.FileNode {
	var found *models.FileNode
	tree.Walk(nodes, func(n *models.FileNode, _ int) bool {
		if found == nil && n.Name == name {
			found = n
		}
		return found == nil
	})
	return found
}

func TestNewSessionStartsFromDefaults(t *testing.T) {
	f := newFixture(t, false, Options{})
	st := f.session.State()
	assert.Equal(t, "html", st.SelectedSlot)
	assert.Equal(t, "html", st.BufferLanguage)
	assert.Equal(t, f.session.Slots().HTML, st.Buffer)
	assert.Equal(t, string(preview.StateIdle), st.RunState)
	assert.Equal(t, 6, tree.CountNodes(f.session.Tree()))
}

func TestCreateFilePersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, Options{})
	examples := findNamed(f.session.Tree(), "Examples")
	require.NotNil(t, examples)

	created, err := f.session.CreateFile(ctx, examples.ID, "main.py", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "python", created.Language)
	assert.Equal(t, languages.DefaultContent("python"), created.Content)

	loaded, err := f.store.LoadTree(ctx)
	require.NoError(t, err)
	assert.False(t, loaded.FromDefault)
	reloaded := findNamed(loaded.Nodes, "Examples")
	require.NotNil(t, reloaded)
	assert.Len(t, reloaded.Children, 3)

	_, err = f.session.CreateFile(ctx, "missing", "x.py", "python", nil)
	assert.ErrorIs(t, err, tree.ErrNotFound)
	_, err = f.session.CreateFolder(ctx, created.ID, "sub")
	assert.ErrorIs(t, err, tree.ErrNotFolder)
	_, err = f.session.CreateFolder(ctx, "", "  ")
	assert.ErrorIs(t, err, tree.ErrInvalidNode)
}

func TestDeleteClearsSelectionInsideSubtree(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, Options{})
	ch := f.events.Subscribe()
	defer f.events.Unsubscribe(ch)

	examples := findNamed(f.session.Tree(), "Examples")
	py := findNamed(f.session.Tree(), "example.py")
	require.NoError(t, f.session.SelectFile(ctx, py.ID))
	assert.Equal(t, "python", f.session.State().ActiveLanguage)

	require.NoError(t, f.session.Delete(ctx, examples.ID))
	sel := f.session.Selection()
	assert.False(t, sel.IsFile())
	assert.Equal(t, models.SlotHTML, sel.Slot)

	_, err := f.session.Node(py.ID)
	assert.ErrorIs(t, err, tree.ErrNotFound)
	assert.Len(t, f.session.Tree(), 3)

	var deleted events.Event
	for e := range ch {
		if e.Type == events.EventNodeDelete {
			deleted = e
			break
		}
	}
	assert.Equal(t, examples.ID, deleted.NodeID)
	assert.ElementsMatch(t, tree.Descendants([]*models.FileNode{examples}, examples.ID), deleted.IDs)

	assert.ErrorIs(t, f.session.Delete(ctx, examples.ID), tree.ErrNotFound)
}

func TestSelectFileRejectsFolders(t *testing.T) {
	f := newFixture(t, false, Options{})
	examples := findNamed(f.session.Tree(), "Examples")
	assert.ErrorIs(t, f.session.SelectFile(context.Background(), examples.ID), tree.ErrNotFile)
	assert.ErrorIs(t, f.session.SelectFile(context.Background(), "nope"), tree.ErrNotFound)
}

func TestEditIsDebouncedAndLastValueWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, Options{Debounce: 30 * time.Millisecond})
	script := findNamed(f.session.Tree(), "script.js")
	require.NoError(t, f.session.SelectFile(ctx, script.ID))

	require.NoError(t, f.session.Edit("a"))
	require.NoError(t, f.session.Edit("ab"))
	require.NoError(t, f.session.Edit("abc"))
	assert.True(t, f.session.State().PendingCommit)

	require.Eventually(t, func() bool {
		n, err := f.session.Node(script.ID)
		return err == nil && n.Content == "abc"
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, f.session.State().PendingCommit)
}

func TestSelectionChangeCommitsToOldTarget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, Options{Debounce: time.Hour})

	require.NoError(t, f.session.SelectSlot(ctx, models.SlotCSS))
	require.NoError(t, f.session.Edit("body{}"))
	require.NoError(t, f.session.SelectSlot(ctx, models.SlotJS))

	assert.Equal(t, "body{}", f.session.Slots().CSS)
	st := f.session.State()
	assert.Equal(t, "js", st.SelectedSlot)
	assert.Equal(t, f.session.Slots().JS, st.Buffer)
	assert.False(t, st.PendingCommit)
}

func TestFlushAndClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, Options{Debounce: time.Hour})

	committed, err := f.session.Flush(ctx)
	require.NoError(t, err)
	assert.False(t, committed)

	require.NoError(t, f.session.Edit("<p>saved on close</p>"))
	require.NoError(t, f.session.Close(ctx))

	loaded, err := f.store.LoadSlots(ctx)
	require.NoError(t, err)
	assert.Equal(t, "<p>saved on close</p>", loaded.Slots.HTML)

	assert.ErrorIs(t, f.session.Edit("x"), ErrClosed)
	_, err = f.session.CreateFolder(ctx, "", "late")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAutoRefreshRunsOncePerCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, Options{})

	require.NoError(t, f.session.SelectSlot(ctx, models.SlotJS))
	require.NoError(t, f.session.Edit("console.log(1)"))
	assert.Equal(t, uint64(1), f.surface.Version())
	assert.Equal(t, string(preview.StateIdle), f.session.State().RunState)

	java := findNamed(f.session.Tree(), "Example.java")
	require.NoError(t, f.session.SelectFile(ctx, java.ID))
	require.NoError(t, f.session.Edit("class Main {}"))
	assert.Equal(t, uint64(1), f.surface.Version(), "java must not auto-run")
	assert.Equal(t, string(preview.StateDirty), f.session.State().RunState)
}

func TestAutoRefreshOff(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, Options{})
	require.NoError(t, f.session.SetSlot(ctx, models.SlotHTML, "<p>x</p>"))
	assert.Equal(t, uint64(0), f.surface.Version())

	f.session.SetAutoRefresh(true)
	assert.True(t, f.session.State().AutoRefresh)
	require.NoError(t, f.session.SetSlot(ctx, models.SlotHTML, "<p>y</p>"))
	assert.Equal(t, uint64(1), f.surface.Version())
}

type recorder struct {
	mu    sync.Mutex
	langs []string
}

func (r *recorder) RecordExecution(_ context.Context, language, _ string, _ executor.Result) error {
	r.mu.Lock()
	r.langs = append(r.langs, language)
	r.mu.Unlock()
	return nil
}

func TestRunExplicit(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	f := newFixture(t, false, Options{Recorder: rec})

	res, err := f.session.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, preview.PlanWeb, res.Plan)
	doc, ok := f.surface.Current()
	require.True(t, ok)
	assert.Contains(t, doc.HTML, f.session.Slots().CSS)

	py := findNamed(f.session.Tree(), "example.py")
	require.NoError(t, f.session.SelectFile(ctx, py.ID))
	res, err = f.session.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, preview.PlanExecute, res.Plan)
	require.NotNil(t, res.Execution)
	assert.Equal(t, []string{"python"}, rec.langs)
	assert.Equal(t, uint64(2), f.session.State().PreviewVersion)
}

func TestRunCommitsPendingEditAndEndsIdle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, Options{Debounce: time.Hour})

	_, err := f.session.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(preview.StateIdle), f.session.State().RunState)

	require.NoError(t, f.session.Edit("<p>new</p>"))
	assert.True(t, f.session.State().PendingCommit)

	_, err = f.session.Run(ctx)
	require.NoError(t, err)
	doc, ok := f.surface.Current()
	require.True(t, ok)
	assert.Contains(t, doc.HTML, "<p>new</p>")

	st := f.session.State()
	assert.False(t, st.PendingCommit)
	assert.Equal(t, string(preview.StateIdle), st.RunState)

	py := findNamed(f.session.Tree(), "example.py")
	require.NoError(t, f.session.SelectFile(ctx, py.ID))
	_, err = f.session.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(preview.StateIdle), f.session.State().RunState)
}

func TestRunScriptSlotWithActiveLanguage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, Options{})
	require.NoError(t, f.session.SetSlot(ctx, models.SlotScript, "# Notes\n\nhello"))
	require.NoError(t, f.session.SelectSlot(ctx, models.SlotScript))
	require.NoError(t, f.session.SetActiveLanguage("md"))

	st := f.session.State()
	assert.Equal(t, "markdown", st.ActiveLanguage)
	assert.Equal(t, "markdown", st.BufferLanguage)

	res, err := f.session.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, preview.PlanMarkdown, res.Plan)
	assert.Contains(t, res.Document.HTML, "<h1")
}

func TestUpdateContentAndRename(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, Options{})
	idx := findNamed(f.session.Tree(), "index.html")

	n, err := f.session.Rename(ctx, idx.ID, "home.html")
	require.NoError(t, err)
	assert.Equal(t, "home.html", n.Name)
	_, err = f.session.Rename(ctx, idx.ID, "")
	assert.ErrorIs(t, err, tree.ErrInvalidNode)

	require.NoError(t, f.session.SelectFile(ctx, idx.ID))
	n, err = f.session.UpdateContent(ctx, idx.ID, "<p>new</p>")
	require.NoError(t, err)
	assert.Equal(t, "<p>new</p>", n.Content)
	assert.Equal(t, "<p>new</p>", f.session.State().Buffer)

	_, err = f.session.UpdateContent(ctx, findNamed(f.session.Tree(), "Examples").ID, "x")
	assert.ErrorIs(t, err, tree.ErrNotFile)
}

func TestReload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, Options{})
	py := findNamed(f.session.Tree(), "example.py")
	require.NoError(t, f.session.SelectFile(ctx, py.ID))

	require.NoError(t, f.store.Reset(ctx))
	require.NoError(t, f.session.Reload(ctx))

	// The default tree gets fresh ids, so the old selection no longer resolves.
	sel := f.session.Selection()
	assert.False(t, sel.IsFile())
	assert.Equal(t, 6, tree.CountNodes(f.session.Tree()))
}

func TestExecuteRecords(t *testing.T) {
	rec := &recorder{}
	f := newFixture(t, false, Options{Recorder: rec})
	res, err := f.session.Execute(context.Background(), "puts \"hi\"", "ruby")
	require.NoError(t, err)
	assert.Contains(t, res.Output, "hi")
	assert.Equal(t, []string{"ruby"}, rec.langs)

	_, err = f.session.Execute(context.Background(), "", "ruby")
	assert.ErrorIs(t, err, executor.ErrEmptyCode)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	f := newFixture(t, false, Options{})
	nodes, _ := f.session.Snapshot()
	nodes[0].Name = "changed"
	assert.NotEqual(t, "changed", f.session.Tree()[0].Name)
}
