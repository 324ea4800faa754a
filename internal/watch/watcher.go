// Package watch re-runs the generate pipeline when a source document
// changes on disk. Changes are debounced so editor save bursts trigger
// a single regeneration.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 300 * time.Millisecond

// Handler is called with the paths that changed since the last firing.
type Handler func(changed []string)

// Watcher watches a fixed set of files. Editors often replace files via
// rename, so the parent directories are watched and events filtered to
// the registered paths; a watched file can disappear and reappear
// without re-arming anything.
type Watcher struct {
	paths    map[string]bool // absolute paths
	watcher  *fsnotify.Watcher
	handler  Handler
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]bool
	timer   *time.Timer
}

// New creates a watcher over the given files.
func New(paths []string, handler Handler) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		paths:    make(map[string]bool, len(paths)),
		watcher:  fsw,
		handler:  handler,
		debounce: defaultDebounce,
		pending:  make(map[string]bool),
	}
	dirs := map[string]bool{}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fsw.Close()
			return nil, err
		}
		w.paths[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for d := range dirs {
		if err := fsw.Add(d); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Run blocks, dispatching debounced change events until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	slog.Info("source watcher started", "files", len(w.paths))

	for {
		select {
		case <-ctx.Done():
			slog.Info("source watcher stopped")
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !w.paths[abs] {
				continue
			}
			w.mark(abs)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("source watcher error", "error", err)
		}
	}
}

func (w *Watcher) mark(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	changed := make([]string, 0, len(w.pending))
	for p := range w.pending {
		changed = append(changed, p)
	}
	w.pending = make(map[string]bool)
	w.mu.Unlock()

	if len(changed) > 0 {
		w.handler(changed)
	}
}
