package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ripforge/internal/logging"
)

func TestFSWatcherDeliversCreateAndRename(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFSWatcher(logging.NewNop())
	if err != nil {
		t.Skipf("inotify unavailable: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	if err := w.Add(dir); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := w.Add(dir + string(filepath.Separator)); err != nil {
		t.Fatalf("second Add: %v", err)
	}
	if !w.Watched(dir) {
		t.Fatal("expected dir to be watched")
	}

	events := make(chan FileEvent, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx, func(ev FileEvent) { events <- ev }); err != nil {
		t.Fatalf("Start: %v", err)
	}

	first := filepath.Join(dir, "Heat.mkv")
	if err := os.WriteFile(first, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	expectEvent(t, events, FileEvent{Path: first, Kind: FileCreated})

	renamed := filepath.Join(dir, "Heat_t00.mkv")
	if err := os.Rename(first, renamed); err != nil {
		t.Fatal(err)
	}
	expectEvent(t, events, FileEvent{Path: renamed, Kind: FileCreated})
}

func expectEvent(t *testing.T, events <-chan FileEvent, want FileEvent) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %+v", want)
		}
	}
}

func TestFSWatcherClosed(t *testing.T) {
	w, err := NewFSWatcher(nil)
	if err != nil {
		t.Skipf("inotify unavailable: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := w.Add(t.TempDir()); err == nil {
		t.Fatal("expected Add after Close to fail")
	}
}
