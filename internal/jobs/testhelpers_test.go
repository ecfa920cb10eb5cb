package jobs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"ripforge/internal/logging"
	"ripforge/internal/media"
	"ripforge/internal/services"
)

type fakeRipper struct {
	mu       sync.Mutex
	titles   []media.Title
	scanErr  error
	backups  []media.Title
	skipFile bool
	fail     bool
	stops    int
}

func (r *fakeRipper) ScanDiscTitles(context.Context, string, services.Reporter) ([]media.Title, error) {
	return r.titles, r.scanErr
}

func (r *fakeRipper) BackupTitle(_ context.Context, title media.Title, rep services.Reporter) (bool, error) {
	r.mu.Lock()
	r.backups = append(r.backups, title)
	r.mu.Unlock()
	if r.fail {
		return false, nil
	}
	rep.SetProgress(50, 100)
	if r.skipFile {
		return true, nil
	}
	if err := os.MkdirAll(filepath.Dir(title.Path), 0o755); err != nil {
		return false, err
	}
	return true, os.WriteFile(title.Path, []byte("mkv"), 0o644)
}

func (r *fakeRipper) StopRunning() {
	r.mu.Lock()
	r.stops++
	r.mu.Unlock()
}

type fakeTranscoder struct {
	mu         sync.Mutex
	discTitles []media.Title
	scanned    []string
	requests   []EncodeRequest
	noTitle    bool
	fail       bool
	skipOutput bool
}

func (t *fakeTranscoder) ScanFile(_ context.Context, path string, _ services.Reporter) (*media.Title, error) {
	t.mu.Lock()
	t.scanned = append(t.scanned, path)
	t.mu.Unlock()
	if t.noTitle {
		return nil, nil
	}
	return &media.Title{Source: path, Index: 1, Duration: secs(5400), MainFeature: true}, nil
}

func (t *fakeTranscoder) ScanDisc(context.Context, string, services.Reporter) ([]media.Title, error) {
	return t.discTitles, nil
}

func (t *fakeTranscoder) Encode(_ context.Context, req EncodeRequest, _ services.Reporter) (bool, error) {
	t.mu.Lock()
	t.requests = append(t.requests, req)
	t.mu.Unlock()
	if t.fail {
		return false, nil
	}
	if t.skipOutput {
		return true, nil
	}
	return true, os.WriteFile(req.Output, []byte("encoded"), 0o644)
}

func (t *fakeTranscoder) StopRunning() {}

func (t *fakeTranscoder) encodeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

type testEnv struct {
	root       string
	settings   Settings
	ripper     *fakeRipper
	transcoder *fakeTranscoder
	factory    *Factory
	queue      *Queue
}

func newTestEnv(t *testing.T, mutate func(*Settings)) *testEnv {
	t.Helper()
	root := t.TempDir()
	settings := Settings{
		BackupDir:   filepath.Join(root, "source"),
		SourceRoot:  filepath.Join(root, "source"),
		OutputDir:   filepath.Join(root, "out"),
		Extension:   ".mkv",
		MinDuration: secs(60),
	}
	if mutate != nil {
		mutate(&settings)
	}
	for _, dir := range []string{settings.SourceRoot, settings.BackupDir, settings.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	env := &testEnv{
		root:       root,
		settings:   settings,
		ripper:     &fakeRipper{},
		transcoder: &fakeTranscoder{},
		queue:      NewQueue(),
	}
	env.factory = NewFactory(settings, env.ripper, env.transcoder, logging.NewNop(),
		WithBusyProbe(BusyProbeFunc(func(string) bool { return false })))
	return env
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// recordingSink captures what the scheduler and jobs report.
type recordingSink struct {
	mu       sync.Mutex
	jobs     []Job
	tasks    []string
	logs     []string
	errors   []string
	progress [][2]int64
	resets   int
}

func (s *recordingSink) SetCurrentJob(job Job) {
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
}

func (s *recordingSink) SetCurrentTask(text string) {
	s.mu.Lock()
	s.tasks = append(s.tasks, text)
	s.mu.Unlock()
}

func (s *recordingSink) SetProgress(current, max int64) {
	s.mu.Lock()
	s.progress = append(s.progress, [2]int64{current, max})
	s.mu.Unlock()
}

func (s *recordingSink) SetRemaining(string) {}

func (s *recordingSink) AppendLog(text string, _ services.Severity) {
	s.mu.Lock()
	s.logs = append(s.logs, text)
	s.mu.Unlock()
}

func (s *recordingSink) ReportError(text string) {
	s.mu.Lock()
	s.errors = append(s.errors, text)
	s.mu.Unlock()
}

func (s *recordingSink) Reset() {
	s.mu.Lock()
	s.resets++
	s.mu.Unlock()
}

func (s *recordingSink) snapshotLogs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.logs...)
}

func (s *recordingSink) snapshotTasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tasks...)
}
