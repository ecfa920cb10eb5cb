package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"ripforge/internal/jobs"
	"ripforge/internal/logging"
)

type fakeSource struct {
	mu      sync.Mutex
	err     error
	handler func(MediaEvent)
	started int
	stopped int
}

func (s *fakeSource) Start(_ context.Context, handler func(MediaEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	if s.err != nil {
		return s.err
	}
	s.handler = handler
	return nil
}

func (s *fakeSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
}

type fakeDirs struct {
	mu       sync.Mutex
	added    []string
	handler  func(FileEvent)
	startErr error
	closed   bool
}

func (d *fakeDirs) Add(dir string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !slices.Contains(d.added, dir) {
		d.added = append(d.added, dir)
	}
	return nil
}

func (d *fakeDirs) Start(_ context.Context, handler func(FileEvent)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	d.handler = handler
	return nil
}

func (d *fakeDirs) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

type mapProbe map[string]string

func (p mapProbe) Label(_ context.Context, device string) (string, error) {
	if label, ok := p[device]; ok {
		return label, nil
	}
	return "", errors.New("no such drive")
}

type recordingNotifier struct {
	discs []string
}

func (n *recordingNotifier) DiscDetected(_ context.Context, device, label string) {
	n.discs = append(n.discs, device+"="+label)
}

type harness struct {
	root     string
	queue    *jobs.Queue
	factory  *jobs.Factory
	dirs     *fakeDirs
	media    *fakeSource
	fallback *fakeSource
	notifier *recordingNotifier
	coord    *Coordinator
}

func newHarness(t *testing.T, probe DriveProbe, drives ...string) *harness {
	t.Helper()
	root := t.TempDir()
	h := &harness{
		root:     root,
		queue:    jobs.NewQueue(),
		dirs:     &fakeDirs{},
		media:    &fakeSource{},
		fallback: &fakeSource{},
		notifier: &recordingNotifier{},
	}
	h.factory = jobs.NewFactory(jobs.Settings{SourceRoot: root, BackupDir: root, OutputDir: t.TempDir()}, nil, nil, logging.NewNop())
	coord, err := NewCoordinator(Options{
		Queue:    h.queue,
		Factory:  h.factory,
		Root:     root,
		Drives:   drives,
		Media:    h.media,
		Fallback: h.fallback,
		Probe:    probe,
		Dirs:     h.dirs,
		Notifier: h.notifier,
		Logger:   logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	h.coord = coord
	t.Cleanup(coord.Stop)
	return h
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func queuedNames(q *jobs.Queue) []string {
	var names []string
	for _, job := range q.Snapshot() {
		names = append(names, job.Name())
	}
	return names
}

func TestStartWalksTreeThenWatches(t *testing.T) {
	h := newHarness(t, nil)
	touch(t, filepath.Join(h.root, "a", "Heat_t00.mkv"))
	touch(t, filepath.Join(h.root, "b", "c", "Alien.MP4"))
	touch(t, filepath.Join(h.root, "b", "notes.txt"))
	touch(t, filepath.Join(h.root, ".ripforge-t00", "title_t00.mkv"))

	if err := h.coord.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	names := queuedNames(h.queue)
	slices.Sort(names)
	want := []string{"Encode Movie 'Alien.MP4'", "Encode Movie 'Heat_t00.mkv'"}
	if !slices.Equal(names, want) {
		t.Fatalf("queued %v, want %v", names, want)
	}
	for _, dir := range []string{h.root, filepath.Join(h.root, "a"), filepath.Join(h.root, "b"), filepath.Join(h.root, "b", "c")} {
		if !slices.Contains(h.dirs.added, dir) {
			t.Fatalf("expected watch on %s, got %v", dir, h.dirs.added)
		}
	}
	if slices.Contains(h.dirs.added, filepath.Join(h.root, ".ripforge-t00")) {
		t.Fatal("hidden staging directory must not be watched")
	}
	if h.dirs.handler == nil || h.media.started != 1 || h.fallback.started != 0 {
		t.Fatalf("expected watches installed, media started %d fallback %d", h.media.started, h.fallback.started)
	}
	if err := h.coord.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}
}

func TestStartQueuesDiscsAlreadyInserted(t *testing.T) {
	h := newHarness(t, mapProbe{"/dev/sr0": "HEAT", "/dev/sr1": ""}, "/dev/sr0", "/dev/sr1", "/dev/sr9")
	touch(t, filepath.Join(h.root, "Alien.mkv"))

	if err := h.coord.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	names := queuedNames(h.queue)
	if len(names) != 2 || names[0] != "Scan Disk /dev/sr0" {
		t.Fatalf("expected disc scan first, got %v", names)
	}
	if !slices.Equal(h.notifier.discs, []string{"/dev/sr0=HEAT"}) {
		t.Fatalf("unexpected notifications %v", h.notifier.discs)
	}
}

func TestStartFallsBackWhenNetlinkFails(t *testing.T) {
	h := newHarness(t, nil)
	h.media.err = errors.New("permission denied")
	if err := h.coord.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.fallback.started != 1 || h.fallback.handler == nil {
		t.Fatalf("expected fallback source started")
	}
	h.coord.Stop()
	if h.fallback.stopped != 1 || h.media.stopped != 0 || !h.dirs.closed {
		t.Fatalf("expected only the active source stopped: media %d fallback %d closed %v", h.media.stopped, h.fallback.stopped, h.dirs.closed)
	}
}

func TestStartFailureReleasesWatches(t *testing.T) {
	t.Run("missing root", func(t *testing.T) {
		h := newHarness(t, nil)
		if err := os.RemoveAll(h.root); err != nil {
			t.Fatal(err)
		}
		if err := h.coord.Start(context.Background()); err == nil {
			t.Fatal("expected walk failure")
		}
		if !h.dirs.closed {
			t.Fatal("directory watcher must be closed after a failed start")
		}
		if err := os.MkdirAll(h.root, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := h.coord.Start(context.Background()); err != nil {
			t.Fatalf("Start after failure: %v", err)
		}
	})

	t.Run("directory watcher fails", func(t *testing.T) {
		h := newHarness(t, nil)
		h.dirs.startErr = errors.New("too many open files")
		if err := h.coord.Start(context.Background()); err == nil {
			t.Fatal("expected watcher failure")
		}
		if !h.dirs.closed || h.media.started != 0 {
			t.Fatalf("expected cleanup without media start: closed %v media %d", h.dirs.closed, h.media.started)
		}
		h.dirs.startErr = nil
		if err := h.coord.Start(context.Background()); err != nil {
			t.Fatalf("Start after failure: %v", err)
		}
	})
}

func TestHandleMedia(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	touch(t, filepath.Join(h.root, "Alien.mkv"))
	if err := h.coord.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.media.handler(MediaEvent{Device: "/dev/sr0", Inserted: true})
	h.media.handler(MediaEvent{Device: "/dev/sr0", Label: "HEAT"})
	if h.queue.Len() != 1 {
		t.Fatalf("unlabeled insert and removal must not queue, got %v", queuedNames(h.queue))
	}

	h.media.handler(MediaEvent{Device: "/dev/sr0", Label: "HEAT", Inserted: true})
	h.media.handler(MediaEvent{Device: "/dev/sr0", Label: "HEAT", Inserted: true})
	names := queuedNames(h.queue)
	if len(names) != 2 || names[0] != "Scan Disk /dev/sr0" {
		t.Fatalf("expected a single front disc scan, got %v", names)
	}
	if len(h.notifier.discs) != 1 {
		t.Fatalf("expected one notification, got %v", h.notifier.discs)
	}
}

func TestHandleFile(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if err := h.coord.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	outside := filepath.Join(t.TempDir(), "Outside.mkv")
	touch(t, outside)
	movie := filepath.Join(h.root, "Heat.mkv")
	touch(t, movie)
	staged := filepath.Join(h.root, "Heat", ".ripforge-t00", "title_t00.mkv")
	touch(t, staged)
	text := filepath.Join(h.root, "readme.txt")
	touch(t, text)

	tests := []struct {
		name  string
		event FileEvent
		want  int
	}{
		{"outside root", FileEvent{Path: outside, Kind: FileCreated}, 0},
		{"hidden staging", FileEvent{Path: staged, Kind: FileCreated}, 0},
		{"not a movie", FileEvent{Path: text, Kind: FileCreated}, 0},
		{"missing after rename", FileEvent{Path: filepath.Join(h.root, "gone.mkv"), Kind: FileRenamed}, 0},
		{"movie created", FileEvent{Path: movie, Kind: FileCreated}, 1},
		{"same movie renamed", FileEvent{Path: movie, Kind: FileRenamed}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.dirs.handler(tt.event)
			if got := h.queue.Len(); got != tt.want {
				t.Fatalf("queue length %d, want %d (%v)", got, tt.want, queuedNames(h.queue))
			}
		})
	}
}

func TestHandleFileNewDirectory(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.coord.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	dir := filepath.Join(h.root, "Alien")
	touch(t, filepath.Join(dir, "extras", "Alien_t01.mkv"))

	h.dirs.handler(FileEvent{Path: dir, Kind: FileCreated})
	h.dirs.handler(FileEvent{Path: dir, Kind: FileCreated})

	for _, want := range []string{dir, filepath.Join(dir, "extras")} {
		if !slices.Contains(h.dirs.added, want) {
			t.Fatalf("expected watch on %s, got %v", want, h.dirs.added)
		}
	}
	if names := queuedNames(h.queue); len(names) != 1 || names[0] != "Encode Movie 'Alien_t01.mkv'" {
		t.Fatalf("expected the moved-in movie queued once, got %v", names)
	}
}

func TestActiveEncodeBlocksRequeue(t *testing.T) {
	h := newHarness(t, nil)
	movie := filepath.Join(h.root, "Heat.mkv")
	touch(t, movie)
	if err := h.coord.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	job, ok := h.queue.Peek()
	if !ok {
		t.Fatal("expected queued encode")
	}
	h.dirs.handler(FileEvent{Path: movie, Kind: FileCreated})
	if h.queue.Len() != 1 {
		t.Fatalf("expected no duplicate for active path, got %v", queuedNames(h.queue))
	}
	h.queue.Complete(job)
	h.dirs.handler(FileEvent{Path: movie, Kind: FileCreated})
	if h.queue.Len() != 1 {
		t.Fatalf("expected re-queue after completion, got %v", queuedNames(h.queue))
	}
}

func TestHidden(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/src/Heat.mkv", false},
		{"/src/.Heat.mkv", true},
		{"/src/Heat/.ripforge-t00/title_t00.mkv", true},
		{"/src/Heat/Heat_t00.mkv", false},
	}
	for _, tt := range tests {
		if got := hidden("/src", tt.path); got != tt.want {
			t.Errorf("hidden(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
