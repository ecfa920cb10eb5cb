package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ripforge/internal/config"
	"ripforge/internal/deps"
	"ripforge/internal/history"
	"ripforge/internal/jobs"
	"ripforge/internal/logging"
	"ripforge/internal/media"
	"ripforge/internal/services"
)

type stubRipper struct{}

func (stubRipper) ScanDiscTitles(context.Context, string, services.Reporter) ([]media.Title, error) {
	return nil, nil
}
func (stubRipper) BackupTitle(context.Context, media.Title, services.Reporter) (bool, error) {
	return false, nil
}
func (stubRipper) StopRunning() {}

type stubTranscoder struct{}

func (stubTranscoder) ScanFile(context.Context, string, services.Reporter) (*media.Title, error) {
	return nil, nil
}
func (stubTranscoder) ScanDisc(context.Context, string, services.Reporter) ([]media.Title, error) {
	return nil, nil
}
func (stubTranscoder) Encode(context.Context, jobs.EncodeRequest, services.Reporter) (bool, error) {
	return false, nil
}
func (stubTranscoder) StopRunning() {}

type fakeWatcher struct {
	mu       sync.Mutex
	startErr error
	started  int
	stopped  int
}

func (w *fakeWatcher) Start(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started++
	return w.startErr
}

func (w *fakeWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped++
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.SourceDir = filepath.Join(base, "source")
	cfg.Paths.BackupDir = filepath.Join(base, "source")
	cfg.Paths.OutputDir = filepath.Join(base, "encoded")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = ""
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	return &cfg
}

func newTestDaemon(t *testing.T, cfg *config.Config, w *fakeWatcher, opts Options) *Daemon {
	t.Helper()
	opts.Ripper = stubRipper{}
	if opts.Transcoder == nil {
		opts.Transcoder = stubTranscoder{}
	}
	opts.NewWatcher = func(*jobs.Queue, *jobs.Factory) (Watcher, error) { return w, nil }
	if opts.Dependencies == nil {
		opts.Dependencies = func() []deps.Status { return nil }
	}
	d, err := New(cfg, logging.NewNop(), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestNewValidation(t *testing.T) {
	cfg := testConfig(t)
	if _, err := New(nil, nil, Options{Transcoder: stubTranscoder{}}); err == nil {
		t.Fatal("expected error without config")
	}
	if _, err := New(cfg, nil, Options{Ripper: stubRipper{}}); err == nil {
		t.Fatal("expected error without transcoder")
	}
	if _, err := New(cfg, nil, Options{Transcoder: stubTranscoder{}}); err == nil {
		t.Fatal("expected error without ripper in makemkv mode")
	}
	cfg.Backup.Mode = config.BackupModeDirect
	if _, err := New(cfg, nil, Options{Transcoder: stubTranscoder{}}); err != nil {
		t.Fatalf("direct mode needs no ripper: %v", err)
	}
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testConfig(t)
	w := &fakeWatcher{}
	d := newTestDaemon(t, cfg, w, Options{})
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !d.Status().Running || !d.Status().Scheduler.Running {
		t.Fatal("expected daemon and scheduler to report running")
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	other := newTestDaemon(t, cfg, &fakeWatcher{}, Options{})
	if err := other.Start(ctx); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock contention, got %v", err)
	}

	d.Stop()
	d.Stop()
	if d.Running() || w.started != 1 || w.stopped != 1 {
		t.Fatalf("unexpected lifecycle: running=%v started=%d stopped=%d", d.Running(), w.started, w.stopped)
	}
	if err := other.Start(ctx); err != nil {
		t.Fatalf("lock should be free after Stop: %v", err)
	}
}

func TestDaemonStartRollsBackOnWatcherFailure(t *testing.T) {
	cfg := testConfig(t)
	w := &fakeWatcher{startErr: errors.New("netlink denied")}
	d := newTestDaemon(t, cfg, w, Options{})

	if err := d.Start(context.Background()); err == nil {
		t.Fatal("expected watcher failure")
	}
	if d.Running() || d.Status().Scheduler.Running {
		t.Fatal("scheduler must be stopped after a failed start")
	}
	if w.stopped != 1 {
		t.Fatalf("failed watcher must be stopped, got %d stops", w.stopped)
	}
	w.startErr = nil
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("lock must be released after failed start: %v", err)
	}
}

// blockingTranscoder holds the first file scan until release is closed.
type blockingTranscoder struct {
	stubTranscoder
	entered chan struct{}
	release chan struct{}
}

func (b *blockingTranscoder) ScanFile(context.Context, string, services.Reporter) (*media.Title, error) {
	close(b.entered)
	<-b.release
	return nil, nil
}

func TestStatusDuringStopWithRunningJob(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workflow.BusySettleSeconds = 0
	tr := &blockingTranscoder{entered: make(chan struct{}), release: make(chan struct{})}
	d := newTestDaemon(t, cfg, &fakeWatcher{}, Options{Transcoder: tr})
	released := false
	release := func() {
		if !released {
			released = true
			close(tr.release)
		}
	}
	t.Cleanup(release)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	movie := filepath.Join(cfg.Paths.SourceDir, "Heat.mkv")
	if err := os.WriteFile(movie, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := d.EnqueueEncode(movie, true); err != nil {
		t.Fatalf("EnqueueEncode: %v", err)
	}
	select {
	case <-tr.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("encode job never started")
	}

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()
	deadline := time.Now().Add(5 * time.Second)
	for d.Running() {
		if time.Now().After(deadline) {
			t.Fatal("Stop never began")
		}
		time.Sleep(10 * time.Millisecond)
	}

	statusCh := make(chan bool, 1)
	go func() { statusCh <- d.Status().Running }()
	select {
	case running := <-statusCh:
		if running {
			t.Fatal("a stopping daemon must not report running")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Status blocked while Stop waits on the running job")
	}
	select {
	case <-stopped:
		t.Fatal("Stop must wait for the running job")
	default:
	}

	release()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the job finished")
	}
}

func TestEnqueueEncode(t *testing.T) {
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg, &fakeWatcher{}, Options{})
	movie := filepath.Join(cfg.Paths.SourceDir, "Heat.mkv")
	text := filepath.Join(cfg.Paths.SourceDir, "notes.txt")
	for _, p := range []string{movie, text} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
		queued  bool
	}{
		{name: "empty", path: " ", wantErr: true},
		{name: "missing", path: filepath.Join(cfg.Paths.SourceDir, "gone.mkv"), wantErr: true},
		{name: "directory", path: cfg.Paths.SourceDir, wantErr: true},
		{name: "not a movie", path: text, wantErr: true},
		{name: "movie", path: movie, queued: true},
		{name: "duplicate", path: movie, queued: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := d.EnqueueEncode(tt.path, false)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && resp.Queued != tt.queued {
				t.Fatalf("queued = %v, want %v", resp.Queued, tt.queued)
			}
		})
	}
	items := d.Queue()
	if len(items) != 1 || items[0].Name != "Encode Movie 'Heat.mkv'" || items[0].Status != "pending" {
		t.Fatalf("unexpected queue %+v", items)
	}
}

func TestEnqueueScan(t *testing.T) {
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg, &fakeWatcher{}, Options{})
	movie := filepath.Join(cfg.Paths.SourceDir, "Heat.mkv")
	if err := os.WriteFile(movie, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := d.EnqueueEncode(movie, false); err != nil {
		t.Fatalf("EnqueueEncode: %v", err)
	}

	resp, err := d.EnqueueScan("")
	if err != nil || !resp.Queued || resp.Job.Name != "Scan Disk /dev/sr0" {
		t.Fatalf("unexpected default-drive scan %+v, %v", resp, err)
	}
	if items := d.Queue(); items[0].Kind != string(jobs.KindScanAndBackup) {
		t.Fatalf("scan must jump the queue, got %+v", items)
	}
	if resp, _ := d.EnqueueScan("/dev/sr0"); resp.Queued {
		t.Fatal("duplicate scan must not be queued")
	}

	cfg.Backup.Drives = nil
	if _, err := d.EnqueueScan(""); err == nil {
		t.Fatal("expected error without a drive")
	}
}

func TestHistoryFallsBackToMemory(t *testing.T) {
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg, &fakeWatcher{}, Options{})
	items, err := d.History(context.Background(), history.Filter{})
	if err != nil || len(items) != 0 {
		t.Fatalf("expected empty in-memory history, got %v, %v", items, err)
	}
	removed, err := d.ClearHistory(context.Background())
	if err != nil || removed != 0 {
		t.Fatalf("ClearHistory = %d, %v", removed, err)
	}
}

func TestHistoryUsesArchive(t *testing.T) {
	cfg := testConfig(t)
	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	d := newTestDaemon(t, cfg, &fakeWatcher{}, Options{History: store})
	ctx := context.Background()
	snap := jobs.Snapshot{ID: "a", Name: "Encode Movie 'Heat.mkv'", Kind: jobs.KindEncode, Errored: true, Err: "boom"}
	if err := store.Record(ctx, snap); err != nil {
		t.Fatalf("Record: %v", err)
	}

	items, err := d.History(ctx, history.Filter{ErrorsOnly: true})
	if err != nil || len(items) != 1 || items[0].Error != "boom" {
		t.Fatalf("unexpected archive listing %+v, %v", items, err)
	}
	if d.Status().HistoryPath != cfg.HistoryPath() {
		t.Fatalf("status must report the archive path")
	}
	if _, err := d.ClearHistory(ctx); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	if items, _ := d.History(ctx, history.Filter{}); len(items) != 0 {
		t.Fatalf("expected archive cleared, got %+v", items)
	}
}

func TestStatusReportsDependencies(t *testing.T) {
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg, &fakeWatcher{}, Options{Dependencies: func() []deps.Status {
		return []deps.Status{{Name: "HandBrake", Command: "HandBrakeCLI", Detail: "binary \"HandBrakeCLI\" not found"}}
	}})
	status := d.Status()
	if len(status.Dependencies) != 1 || status.Dependencies[0].Available {
		t.Fatalf("unexpected dependencies %+v", status.Dependencies)
	}
	if status.PID != os.Getpid() || status.Progress != nil || status.DiscMonitor != config.DiscMonitorNetlink {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestTestNotificationWithoutTopic(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notifications.NtfyTopic = ""
	d := newTestDaemon(t, cfg, &fakeWatcher{}, Options{})
	sent, msg, err := d.TestNotification(context.Background())
	if sent || err != nil || msg != "ntfy topic not configured" {
		t.Fatalf("unexpected result %v %q %v", sent, msg, err)
	}
}
