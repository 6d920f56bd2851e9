package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/instantpreview/instantpreview/internal/storage"
)

// Watch observes the workspace directory of a local backend rooted at dir
// and calls onChange once per settled burst of edits made by someone other
// than this Store, for example a text editor or `git checkout`. It returns
// after the watcher is set up; watching stops when ctx ends.
func (s *Store) Watch(ctx context.Context, dir string, wait time.Duration, onChange func()) error {
	wsDir := filepath.Join(dir, filepath.FromSlash(s.workspace))
	if err := os.MkdirAll(wsDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", wsDir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(wsDir); err != nil {
		if closeErr := watcher.Close(); closeErr != nil {
			s.log.Warn("close watcher after add error", zap.Error(closeErr))
		}
		return fmt.Errorf("watch %s: %w", wsDir, err)
	}

	debounced := debounce.New(wait)
	watched := map[string]bool{treeFile: true, slotsFile: true}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !watched[filepath.Base(ev.Name)] {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
					!ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
					continue
				}
				debounced(func() {
					if ctx.Err() != nil {
						return
					}
					if s.changedExternally(ctx) {
						s.log.Info("workspace changed on disk", zap.String("dir", wsDir))
						onChange()
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn("workspace watcher error", zap.Error(err))
			}
		}
	}()

	s.log.Info("watching workspace", zap.String("dir", wsDir))
	return nil
}

// changedExternally compares the stored keys with what this Store wrote last.
func (s *Store) changedExternally(ctx context.Context) bool {
	for _, key := range []string{s.TreeKey(), s.SlotsKey()} {
		data, err := storage.ReadAll(ctx, s.backend, key)
		if storage.IsNotFound(err) {
			s.mu.Lock()
			_, wrote := s.written[key]
			s.mu.Unlock()
			if wrote {
				return true
			}
			continue
		}
		if err != nil {
			s.log.Warn("read during watch failed", zap.String("key", key), zap.Error(err))
			continue
		}
		if !s.IsOwnWrite(key, data) {
			return true
		}
	}
	return false
}
