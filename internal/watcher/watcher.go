package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nguyentantai21042004/cirse-notes/internal/logger"
)

type implWatcher struct {
	cfg       Config
	handler   EventHandler
	logger    logger.Logger
	watcher   *fsnotify.Watcher
	semaphore chan struct{}
	ready     chan string
	wg        sync.WaitGroup

	quit     chan struct{}
	quitOnce sync.Once

	mu      sync.Mutex
	pending map[string]*time.Timer
	handled map[string]bool
}

// Start monitors the folder. A file is handled once it stopped changing for
// the settle period; a file is handled again only after it was removed.
func (w *implWatcher) Start(ctx context.Context) error {
	w.logger.Info(ctx, "File watcher started (max concurrent: %d). Monitoring: %s", w.cfg.MaxConcurrent, w.cfg.Dir)

	if w.cfg.ScanExisting {
		if err := w.scan(); err != nil {
			w.logger.Warn(ctx, "Scanning %s: %v", w.cfg.Dir, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			w.logger.Info(ctx, "Waiting for ongoing processing to complete...")
			w.wg.Wait()
			w.logger.Info(ctx, "File watcher stopped")
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			w.handleEvent(ctx, event)

		case path := <-w.ready:
			if !w.claim(path) {
				continue
			}
			select {
			case w.semaphore <- struct{}{}:
				w.wg.Add(1)
				go func(filePath string) {
					defer w.wg.Done()
					defer func() { <-w.semaphore }()

					if err := w.handler(ctx, filePath); err != nil {
						w.logger.Error(ctx, "Failed to process %s: %v", filePath, err)
					}
				}(path)
			case <-ctx.Done():
				w.release(path)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error(ctx, "Watcher error: %v", err)
		}
	}
}

// Stop closes the file watcher.
func (w *implWatcher) Stop() error {
	w.shutdown()
	return w.watcher.Close()
}

func (w *implWatcher) shutdown() {
	w.quitOnce.Do(func() { close(w.quit) })
	w.stopTimers()
}

func (w *implWatcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		w.forget(event.Name)
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		if !w.accepts(event.Name) {
			w.logger.Debug(ctx, "Ignoring file: %s", event.Name)
			return
		}
		w.schedule(event.Name)
	}
}

func (w *implWatcher) accepts(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return false
	}
	return w.cfg.Accept == nil || w.cfg.Accept(path)
}

// schedule (re)starts the settle timer of path.
func (w *implWatcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.handled[path] {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(w.cfg.Settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.cfg.Settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case w.ready <- path:
		case <-w.quit:
		}
	})
}

func (w *implWatcher) claim(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.handled[path] {
		return false
	}
	w.handled[path] = true
	return true
}

func (w *implWatcher) release(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.handled, path)
}

func (w *implWatcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
	delete(w.handled, path)
}

func (w *implWatcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *implWatcher) scan() error {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		path := filepath.Join(w.cfg.Dir, e.Name())
		if w.accepts(path) {
			w.schedule(path)
		}
	}
	return nil
}
