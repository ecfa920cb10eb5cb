package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"ripforge/internal/logging"
)

// FSWatcher is a DirectoryWatcher backed by inotify. Each directory needs
// its own watch; subdirectories are not followed automatically.
type FSWatcher struct {
	logger *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	watched map[string]struct{}
	done    chan struct{}
	closed  bool
}

// NewFSWatcher opens an inotify instance.
func NewFSWatcher(logger *slog.Logger) (*FSWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &FSWatcher{
		logger:  logging.NewComponentLogger(logger, "fswatch"),
		watcher: w,
		watched: make(map[string]struct{}),
	}, nil
}

// Add watches dir. Adding a directory twice is a no-op.
func (w *FSWatcher) Add(dir string) error {
	dir = filepath.Clean(dir)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("watcher closed")
	}
	if _, ok := w.watched[dir]; ok {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.watched[dir] = struct{}{}
	return nil
}

// Watched reports whether dir has a watch installed.
func (w *FSWatcher) Watched(dir string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.watched[filepath.Clean(dir)]
	return ok
}

// Start delivers events to handler from a single goroutine until ctx ends
// or Close is called.
func (w *FSWatcher) Start(ctx context.Context, handler func(FileEvent)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("watcher closed")
	}
	if w.done != nil {
		return errors.New("watcher already started")
	}
	w.done = make(chan struct{})
	go w.loop(ctx, handler, w.done)
	return nil
}

func (w *FSWatcher) loop(ctx context.Context, handler func(FileEvent), done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.dispatch(ev, handler)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.WarnWithContext(w.logger, "filesystem watch error", "fswatch_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "some file changes may have been missed"),
				logging.String(logging.FieldErrorHint, "restart the daemon to rescan the source tree"),
			)
		}
	}
}

func (w *FSWatcher) dispatch(ev fsnotify.Event, handler func(FileEvent)) {
	var kind FileEventKind
	switch {
	case ev.Has(fsnotify.Create):
		kind = FileCreated
	case ev.Has(fsnotify.Rename):
		kind = FileRenamed
	case ev.Has(fsnotify.Remove):
		w.forget(ev.Name)
		return
	default:
		return
	}
	if kind == FileRenamed {
		w.forget(ev.Name)
	}
	handler(FileEvent{Path: ev.Name, Kind: kind})
}

// forget drops bookkeeping for a directory that no longer exists, so it can
// be watched again if it reappears.
func (w *FSWatcher) forget(path string) {
	w.mu.Lock()
	delete(w.watched, filepath.Clean(path))
	w.mu.Unlock()
}

// Close stops the watcher and waits for the event goroutine to exit.
func (w *FSWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	done := w.done
	w.mu.Unlock()

	err := w.watcher.Close()
	if done != nil {
		<-done
	}
	return err
}
