// Package editor holds the single editing session: the file tree, the four
// named slots, what is selected, the text buffer and the preview runner.
// Every change goes through a Session method, which persists it and tells
// subscribers about it.
package editor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"go.uber.org/zap"

	"github.com/instantpreview/instantpreview/internal/events"
	"github.com/instantpreview/instantpreview/internal/executor"
	"github.com/instantpreview/instantpreview/internal/languages"
	"github.com/instantpreview/instantpreview/internal/logging"
	"github.com/instantpreview/instantpreview/internal/metrics"
	"github.com/instantpreview/instantpreview/internal/preview"
	"github.com/instantpreview/instantpreview/internal/workspace"
	"github.com/instantpreview/instantpreview/pkg/models"
	"github.com/instantpreview/instantpreview/pkg/protocol"
	"github.com/instantpreview/instantpreview/pkg/tree"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("editor session closed")

// DefaultLanguage is the active language of a fresh session.
const DefaultLanguage = "html"

// Selection is what the buffer is bound to: a file, or a slot when FileID
// is empty.
type Selection struct {
	FileID string
	Slot   models.SlotName
}

// IsFile reports whether a file is selected.
func (s Selection) IsFile() bool { return s.FileID != "" }

// ExecutionRecorder receives every execution the session performs.
type ExecutionRecorder interface {
	RecordExecution(ctx context.Context, language, code string, res executor.Result) error
}

// Surface reports the version of the last rendered preview.
type Surface interface {
	Version() uint64
}

// Options configures a Session. Zero values are usable.
type Options struct {
	// Debounce is the trailing-edge delay before an edit is committed.
	// Zero commits every edit immediately.
	Debounce time.Duration
	Events   *events.Broadcaster
	Executor executor.Executor
	Recorder ExecutionRecorder
	Surface  Surface
}

// Session owns all editor state. It is safe for concurrent use.
type Session struct {
	store    *workspace.Store
	runner   *preview.Runner
	events   *events.Broadcaster
	exec     executor.Executor
	recorder ExecutionRecorder
	surface  Surface
	debounce func(func())
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	closed         bool
	nodes          []*models.FileNode
	slots          models.Slots
	sel            Selection
	buffer         string
	pending        bool
	pendingTarget  Selection
	activeLanguage string
}

// New loads the workspace from store and returns a session bound to runner.
// Unusable stored data falls back to the default workspace; only a failing
// backend is an error.
func New(ctx context.Context, store *workspace.Store, runner *preview.Runner, opts Options) (*Session, error) {
	loaded, err := store.LoadTree(ctx)
	if err != nil {
		return nil, err
	}
	slots, err := store.LoadSlots(ctx)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		store:          store,
		runner:         runner,
		events:         opts.Events,
		exec:           opts.Executor,
		recorder:       opts.Recorder,
		surface:        opts.Surface,
		log:            logging.Named("editor"),
		ctx:            sctx,
		cancel:         cancel,
		nodes:          loaded.Nodes,
		slots:          slots.Slots,
		sel:            Selection{Slot: models.SlotHTML},
		activeLanguage: DefaultLanguage,
	}
	s.buffer = s.slots.HTML
	if opts.Debounce > 0 {
		s.debounce = debounce.New(opts.Debounce)
	}
	if s.exec == nil {
		s.exec = executor.NewPlaceholder(0)
	}
	if loaded.Warning != "" {
		s.log.Warn("started from default workspace", zap.String("reason", loaded.Warning))
	}
	return s, nil
}

// Tree returns the current tree. The nodes are shared and must not be modified.
func (s *Session) Tree() []*models.FileNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes
}

// Node returns the node with the given id.
func (s *Session) Node(id string) (*models.FileNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := tree.FindByID(s.nodes, id)
	if !ok {
		return nil, fmt.Errorf("node %q: %w", id, tree.ErrNotFound)
	}
	return n, nil
}

// Slots returns the slot buffers.
func (s *Session) Slots() models.Slots {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots
}

// Selection returns what the buffer is bound to.
func (s *Session) Selection() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel
}

// State returns the editor state as sent to clients.
func (s *Session) State() protocol.EditorState {
	s.mu.Lock()
	st := protocol.EditorState{
		SelectedFileID: s.sel.FileID,
		Buffer:         s.buffer,
		BufferLanguage: s.bufferLanguageLocked(),
		PendingCommit:  s.pending,
		ActiveLanguage: s.activeLanguage,
	}
	if !s.sel.IsFile() {
		st.SelectedSlot = string(s.sel.Slot)
	}
	s.mu.Unlock()

	st.AutoRefresh = s.runner.AutoRefresh()
	st.RunState = string(s.runner.State())
	if s.surface != nil {
		st.PreviewVersion = s.surface.Version()
	}
	return st
}

// CreateFile adds a file under parentID, or at the root when parentID is
// empty. An empty language is guessed from the name; a nil content gets the
// language's template.
func (s *Session) CreateFile(ctx context.Context, parentID, name, language string, content *string) (*models.FileNode, error) {
	if language == "" {
		if l, ok := languages.FromFilename(name); ok {
			language = l.Tag
		} else {
			language = "text"
		}
	}
	body := languages.DefaultContent(language)
	if content != nil {
		body = *content
	}
	return s.CreateNode(ctx, parentID, models.NewFile(name, language, body))
}

// CreateFolder adds an empty folder.
func (s *Session) CreateFolder(ctx context.Context, parentID, name string) (*models.FileNode, error) {
	return s.CreateNode(ctx, parentID, models.NewFolder(name))
}

// CreateNode inserts a prepared node.
func (s *Session) CreateNode(ctx context.Context, parentID string, node *models.FileNode) (*models.FileNode, error) {
	if node != nil && strings.TrimSpace(node.Name) == "" {
		return nil, fmt.Errorf("%w: empty name", tree.ErrInvalidNode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	out, err := tree.Create(s.nodes, node, parentID)
	metrics.RecordTreeOperation("create", err == nil)
	if err != nil {
		return nil, err
	}
	s.nodes = out
	s.store.Persist(ctx, s.nodes)

	created, _ := tree.FindByID(s.nodes, node.ID)
	s.publish(events.Event{Type: events.EventNodeCreate, NodeID: node.ID})
	return created, nil
}

// Delete removes a node and its subtree. A selection inside the removed
// subtree falls back to the html slot.
func (s *Session) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	removed := tree.Descendants(s.nodes, id)
	out, err := tree.Delete(s.nodes, id)
	metrics.RecordTreeOperation("delete", err == nil)
	if err != nil {
		return err
	}
	s.nodes = out
	s.store.Persist(ctx, s.nodes)

	for _, rid := range removed {
		if s.pending && s.pendingTarget.FileID == rid {
			s.pending = false
		}
		if s.sel.FileID == rid {
			s.sel = Selection{Slot: models.SlotHTML}
			s.buffer = s.slots.HTML
			s.publish(events.Event{Type: events.EventSelection, Slot: string(models.SlotHTML)})
		}
	}
	s.publish(events.Event{Type: events.EventNodeDelete, NodeID: id, IDs: removed})
	return nil
}

// Rename changes a node's name. Sibling names are not required to be unique.
func (s *Session) Rename(ctx context.Context, id, name string) (*models.FileNode, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: empty name", tree.ErrInvalidNode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	out, err := tree.Rename(s.nodes, id, name)
	metrics.RecordTreeOperation("rename", err == nil)
	if err != nil {
		return nil, err
	}
	s.nodes = out
	s.store.Persist(ctx, s.nodes)

	n, _ := tree.FindByID(s.nodes, id)
	s.publish(events.Event{Type: events.EventNodeRename, NodeID: id})
	return n, nil
}

// UpdateContent replaces a file's content right away, bypassing the buffer
// debounce.
func (s *Session) UpdateContent(ctx context.Context, id, content string) (*models.FileNode, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	n, err := s.updateContentLocked(ctx, id, content)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.sel.FileID == id {
		s.buffer = content
		s.pending = false
	}
	in, active := s.inputLocked(), s.sel.FileID == id
	s.mu.Unlock()

	if active {
		s.contentChanged(ctx, in)
	}
	return n, nil
}

func (s *Session) updateContentLocked(ctx context.Context, id, content string) (*models.FileNode, error) {
	out, err := tree.UpdateContent(s.nodes, id, content)
	metrics.RecordTreeOperation("update_content", err == nil)
	if err != nil {
		return nil, err
	}
	s.nodes = out
	s.store.Persist(ctx, s.nodes)

	n, _ := tree.FindByID(s.nodes, id)
	s.publish(events.Event{Type: events.EventNodeUpdate, NodeID: id})
	return n, nil
}

// SetSlot replaces one slot buffer right away.
func (s *Session) SetSlot(ctx context.Context, slot models.SlotName, content string) error {
	if _, err := models.ParseSlot(string(slot)); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.setSlotLocked(ctx, slot, content)
	if !s.sel.IsFile() && s.sel.Slot == slot {
		s.buffer = content
		s.pending = false
	}
	in := s.inputLocked()
	s.mu.Unlock()

	s.contentChanged(ctx, in)
	return nil
}

func (s *Session) setSlotLocked(ctx context.Context, slot models.SlotName, content string) {
	s.slots = s.slots.With(slot, content)
	s.store.PersistSlots(ctx, s.slots)
	s.publish(events.Event{Type: events.EventSlotUpdate, Slot: string(slot)})
}

// SelectFile binds the buffer to a file. A pending edit is committed to its
// own target first.
func (s *Session) SelectFile(ctx context.Context, id string) error {
	in, changed, err := s.flush(ctx)
	if err != nil {
		return err
	}
	if changed {
		s.contentChanged(ctx, in)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := tree.FindByID(s.nodes, id)
	if !ok {
		return fmt.Errorf("select %q: %w", id, tree.ErrNotFound)
	}
	if !n.IsFile() {
		return fmt.Errorf("select %q: %w", id, tree.ErrNotFile)
	}
	s.sel = Selection{FileID: id}
	s.buffer = n.Content
	if n.Language != "" {
		s.activeLanguage = languages.Canonical(n.Language)
	}
	s.publish(events.Event{Type: events.EventSelection, NodeID: id})
	return nil
}

// SelectSlot binds the buffer to a slot. Selecting html, css or js also makes
// that the active language.
func (s *Session) SelectSlot(ctx context.Context, slot models.SlotName) error {
	if _, err := models.ParseSlot(string(slot)); err != nil {
		return err
	}
	in, changed, err := s.flush(ctx)
	if err != nil {
		return err
	}
	if changed {
		s.contentChanged(ctx, in)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel = Selection{Slot: slot}
	s.buffer = s.slots.Get(slot)
	if slot != models.SlotScript {
		s.activeLanguage = slot.Language()
	}
	s.publish(events.Event{Type: events.EventSelection, Slot: string(slot)})
	return nil
}

// Edit replaces the buffer. The change is committed to the selected file or
// slot once edits pause for the debounce window; only the latest value is
// committed.
func (s *Session) Edit(content string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.buffer = content
	s.pending = true
	s.pendingTarget = s.sel
	s.mu.Unlock()

	if s.debounce == nil {
		_, err := s.Flush(s.ctx)
		return err
	}
	s.debounce(func() {
		if _, err := s.Flush(s.ctx); err != nil && !errors.Is(err, ErrClosed) {
			s.log.Warn("debounced commit failed", zap.Error(err))
		}
	})
	return nil
}

// Flush commits a pending edit now and reports whether there was one.
func (s *Session) Flush(ctx context.Context) (bool, error) {
	in, changed, err := s.flush(ctx)
	if err != nil || !changed {
		return false, err
	}
	s.contentChanged(ctx, in)
	return true, nil
}

func (s *Session) flush(ctx context.Context) (preview.Input, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending {
		return preview.Input{}, false, nil
	}
	s.pending = false
	target := s.pendingTarget

	if target.IsFile() {
		if _, err := s.updateContentLocked(ctx, target.FileID, s.buffer); err != nil {
			return preview.Input{}, false, fmt.Errorf("commit buffer: %w", err)
		}
	} else {
		s.setSlotLocked(ctx, target.Slot, s.buffer)
	}
	return s.inputLocked(), true, nil
}

// SetAutoRefresh turns automatic preview runs on or off.
func (s *Session) SetAutoRefresh(on bool) {
	s.runner.SetAutoRefresh(on)
	s.publish(events.Event{Type: events.EventSettings})
}

// SetActiveLanguage overrides the language the script slot runs as.
func (s *Session) SetActiveLanguage(tag string) error {
	tag = languages.Canonical(tag)
	if tag == "" {
		return fmt.Errorf("%w: empty language", tree.ErrInvalidNode)
	}
	s.mu.Lock()
	s.activeLanguage = tag
	s.mu.Unlock()
	s.publish(events.Event{Type: events.EventSettings})
	return nil
}

// Run commits any pending edit and runs the preview for the current
// selection.
func (s *Session) Run(ctx context.Context) (preview.Result, error) {
	if _, _, err := s.flush(ctx); err != nil {
		return preview.Result{}, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return preview.Result{}, ErrClosed
	}
	in := s.inputLocked()
	s.mu.Unlock()

	s.publish(events.Event{Type: events.EventPreviewRun})
	res := s.runner.Run(ctx, in, preview.TriggerExplicit, s.runDone(ctx, in))
	return res, res.Err
}

// Execute runs code through the executor without touching the preview.
func (s *Session) Execute(ctx context.Context, code, language string) (executor.Result, error) {
	res, err := s.exec.Execute(ctx, executor.Request{Code: code, Language: language})
	if err != nil {
		return res, err
	}
	s.record(ctx, res.Language, code, res)
	return res, nil
}

// Reload replaces the tree and slots with what is stored. Pending edits are
// dropped and a selection that no longer resolves falls back to the html
// slot.
func (s *Session) Reload(ctx context.Context) error {
	loaded, err := s.store.LoadTree(ctx)
	if err != nil {
		return err
	}
	slots, err := s.store.LoadSlots(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.nodes = loaded.Nodes
	s.slots = slots.Slots
	s.pending = false
	if s.sel.IsFile() {
		if n, ok := tree.FindByID(s.nodes, s.sel.FileID); ok && n.IsFile() {
			s.buffer = n.Content
		} else {
			s.sel = Selection{Slot: models.SlotHTML}
		}
	}
	if !s.sel.IsFile() {
		s.buffer = s.slots.Get(s.sel.Slot)
	}
	in := s.inputLocked()
	s.mu.Unlock()

	s.log.Info("workspace reloaded", zap.Int("nodes", tree.CountNodes(loaded.Nodes)))
	s.publish(events.Event{Type: events.EventWorkspaceReload})
	s.contentChanged(ctx, in)
	return nil
}

// Snapshot returns a deep copy of the tree and the slots.
func (s *Session) Snapshot() ([]*models.FileNode, models.Slots) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tree.Clone(s.nodes), s.slots
}

// Close commits a pending edit and stops background work. Further mutations
// return ErrClosed.
func (s *Session) Close(ctx context.Context) error {
	_, _, err := s.flush(ctx)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	return err
}

// inputLocked builds the preview input for the current selection. A selected
// web file stands in for its slot; any other file runs as its own language.
func (s *Session) inputLocked() preview.Input {
	in := preview.Input{
		HTML:     s.slots.HTML,
		CSS:      s.slots.CSS,
		JS:       s.slots.JS,
		Language: s.activeLanguage,
	}
	if !s.sel.IsFile() {
		if s.sel.Slot == models.SlotScript || !languages.IsWeb(s.activeLanguage) {
			in.Code = s.slots.Script
		}
		return in
	}

	n, ok := tree.FindByID(s.nodes, s.sel.FileID)
	if !ok {
		return in
	}
	lang := languages.Canonical(n.Language)
	in.Language = lang
	switch lang {
	case "html":
		in.HTML = n.Content
	case "css":
		in.CSS = n.Content
	case "javascript":
		in.JS = n.Content
	default:
		in.Code = n.Content
	}
	return in
}

func (s *Session) bufferLanguageLocked() string {
	if s.sel.IsFile() {
		if n, ok := tree.FindByID(s.nodes, s.sel.FileID); ok {
			return languages.Canonical(n.Language)
		}
		return ""
	}
	if s.sel.Slot == models.SlotScript {
		return s.activeLanguage
	}
	return s.sel.Slot.Language()
}

func (s *Session) contentChanged(ctx context.Context, in preview.Input) {
	s.runner.ContentChanged(ctx, in, s.runDone(ctx, in))
}

func (s *Session) runDone(ctx context.Context, in preview.Input) preview.Done {
	return func(res preview.Result) {
		if res.Err != nil {
			s.publish(events.Event{Type: events.EventPreviewError, Error: res.Err.Error()})
		} else {
			s.publish(events.Event{Type: events.EventPreviewComplete, Version: res.Document.Version})
		}
		if res.Execution != nil {
			s.record(ctx, res.Language, in.Code, *res.Execution)
		}
		s.runner.Acknowledge()
	}
}

func (s *Session) record(ctx context.Context, language, code string, res executor.Result) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordExecution(ctx, language, code, res); err != nil {
		s.log.Warn("record execution failed", zap.String("language", language), zap.Error(err))
	}
}

func (s *Session) publish(e events.Event) {
	if s.events != nil {
		s.events.Publish(e)
	}
}
