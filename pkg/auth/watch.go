package auth

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

// Watch monitors the token file and, when it is created or rewritten, drops
// the cached token, reloads it and notifies subscribers. Removal only drops
// the cache. Watch blocks until ctx is cancelled.
func (s *FileSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("auth: watch: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors and Store replace the file by rename.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("auth: watch: %w", err)
	}

	var (
		debounceTimer *time.Timer
		mu            sync.Mutex
		pending       bool
	)

	doReload := func() {
		mu.Lock()
		pending = false
		mu.Unlock()

		s.Reset()
		if _, err := s.Token(ctx); err != nil {
			s.logger.Warn("token file changed but could not be read", "path", s.path, "error", err)
			return
		}
		s.logger.Info("token file changed", "path", s.path)
		s.subs.notify()
	}
	defer func() {
		mu.Lock()
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				s.Reset()
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			mu.Lock()
			if !pending {
				pending = true
				debounceTimer = time.AfterFunc(watchDebounce, doReload)
			} else {
				debounceTimer.Reset(watchDebounce)
			}
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Debug("token watcher error", "error", err)
		}
	}
}
