package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"ripforge/internal/media"
	"ripforge/internal/services"
)

func TestScanAndBackupFansOutBackupJobs(t *testing.T) {
	env := newTestEnv(t, func(s *Settings) { s.BackupAll = true })
	env.ripper.titles = []media.Title{
		{Index: 0, Name: "Die Hard: Blu-ray Edition - Blu-ray", Duration: secs(30)},
		{Index: 1, Name: "Die Hard: Blu-ray Edition - Blu-ray", Duration: secs(120)},
		{Index: 2, Name: "Die Hard: Blu-ray Edition - Blu-ray", Duration: secs(90)},
		{Index: 2, Name: "duplicate index", Duration: secs(9000)},
	}

	job := env.factory.ScanDisc("/dev/sr0")
	if job.Name() != "Scan Disk /dev/sr0" {
		t.Fatalf("unexpected name %q", job.Name())
	}
	ok, err := job.Execute(context.Background(), env.queue, NopSink{})
	if err != nil || !ok {
		t.Fatalf("Execute = %v, %v", ok, err)
	}

	equalNames(t, env.queue.Snapshot(),
		"Backup Movie Die Hard- Blu-ray Edition_t00.mkv",
		"Backup Movie Die Hard- Blu-ray Edition_t01.mkv",
	)
	first := env.queue.Snapshot()[0].(*BackupTitleJob).Title()
	if first.Index != 1 || first.Source != "/dev/sr0" {
		t.Fatalf("unexpected first title %+v", first)
	}
	wantPath := filepath.Join(env.settings.BackupDir, "Die Hard- Blu-ray Edition", "Die Hard- Blu-ray Edition_t00.mkv")
	if first.Path != wantPath {
		t.Fatalf("unexpected backup path %q, want %q", first.Path, wantPath)
	}
	if env.ripper.stops == 0 {
		t.Fatal("expected stale ripper process to be stopped before scanning")
	}
}

func TestScanAndBackupWithoutTitlesFails(t *testing.T) {
	env := newTestEnv(t, nil)
	ok, err := env.factory.ScanDisc("/dev/sr0").Execute(context.Background(), env.queue, NopSink{})
	if ok || err != nil {
		t.Fatalf("expected false without error, got %v, %v", ok, err)
	}
	if env.queue.Len() != 0 {
		t.Fatal("expected no children")
	}
}

func TestScanAndBackupPropagatesScanError(t *testing.T) {
	env := newTestEnv(t, nil)
	env.ripper.scanErr = services.Wrap(services.ErrExternalTool, "makemkv", "scan", "fatal message", nil)
	_, err := env.factory.ScanDisc("/dev/sr0").Execute(context.Background(), env.queue, NopSink{})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestScanAndBackupDirectModeEnqueuesDiscEncodes(t *testing.T) {
	env := newTestEnv(t, func(s *Settings) {
		s.Direct = true
		s.Extension = ".mp4"
	})
	env.transcoder.discTitles = []media.Title{
		{Index: 1, Name: "Heat", Duration: secs(600)},
		{Index: 3, Name: "Heat", Duration: secs(9000), MainFeature: true},
	}
	ok, err := env.factory.ScanDisc("/dev/sr0").Execute(context.Background(), env.queue, NopSink{})
	if err != nil || !ok {
		t.Fatalf("Execute = %v, %v", ok, err)
	}
	equalNames(t, env.queue.Snapshot(), "Encode Movie 'Heat_t00.mp4'")
	encode := env.queue.Snapshot()[0].(*EncodeJob)
	if !encode.FromDisc() || encode.Source() != "/dev/sr0" {
		t.Fatalf("expected disc encode from /dev/sr0, got %q", encode.Source())
	}
	if want := filepath.Join(env.settings.OutputDir, "Heat", "Heat_t00.mp4"); encode.OutputPath() != want {
		t.Fatalf("unexpected output %q, want %q", encode.OutputPath(), want)
	}

	ok, err = encode.Execute(context.Background(), env.queue, NopSink{})
	if err != nil || !ok {
		t.Fatalf("disc encode = %v, %v", ok, err)
	}
	req := env.transcoder.requests[0]
	if !req.Disc || req.TitleIndex != 3 || req.Input != "/dev/sr0" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestBackupTitleJob(t *testing.T) {
	title := func(env *testEnv) media.Title {
		return media.Title{
			Source:   "/dev/sr0",
			Index:    1,
			Name:     "Heat",
			FileName: "Heat_t00.mkv",
			Path:     filepath.Join(env.settings.BackupDir, "Heat", "Heat_t00.mkv"),
		}
	}

	t.Run("leaves file for the watch", func(t *testing.T) {
		env := newTestEnv(t, nil)
		job := env.factory.BackupTitle(title(env))
		if job.Name() != "Backup Movie Heat_t00.mkv" {
			t.Fatalf("unexpected name %q", job.Name())
		}
		ok, err := job.Execute(context.Background(), env.queue, NopSink{})
		if err != nil || !ok {
			t.Fatalf("Execute = %v, %v", ok, err)
		}
		if env.queue.Len() != 0 {
			t.Fatalf("expected no encode job, got %v", names(env.queue.Snapshot()))
		}
	})

	t.Run("keep files enqueues encode", func(t *testing.T) {
		env := newTestEnv(t, func(s *Settings) {
			s.KeepFiles = true
			s.BackupDir = filepath.Join(filepath.Dir(s.SourceRoot), "backup")
		})
		ok, err := env.factory.BackupTitle(title(env)).Execute(context.Background(), env.queue, NopSink{})
		if err != nil || !ok {
			t.Fatalf("Execute = %v, %v", ok, err)
		}
		equalNames(t, env.queue.Snapshot(), "Encode Movie 'Heat_t00.mkv'")
	})

	t.Run("backup outside source root enqueues encode", func(t *testing.T) {
		env := newTestEnv(t, func(s *Settings) {
			s.BackupDir = filepath.Join(filepath.Dir(s.SourceRoot), "backup")
		})
		if _, err := env.factory.BackupTitle(title(env)).Execute(context.Background(), env.queue, NopSink{}); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		equalNames(t, env.queue.Snapshot(), "Encode Movie 'Heat_t00.mkv'")
	})

	t.Run("existing output fails", func(t *testing.T) {
		env := newTestEnv(t, nil)
		tt := title(env)
		writeFile(t, tt.Path)
		_, err := env.factory.BackupTitle(tt).Execute(context.Background(), env.queue, NopSink{})
		if !errors.Is(err, ErrOutputExists) || !IsJobError(err) {
			t.Fatalf("expected output exists job error, got %v", err)
		}
		if len(env.ripper.backups) != 0 {
			t.Fatal("ripper must not run when output exists")
		}
	})

	t.Run("missing output after success fails", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.ripper.skipFile = true
		_, err := env.factory.BackupTitle(title(env)).Execute(context.Background(), env.queue, NopSink{})
		if !errors.Is(err, ErrOutputMissing) {
			t.Fatalf("expected output missing, got %v", err)
		}
	})

	t.Run("ripper failure", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.ripper.fail = true
		ok, err := env.factory.BackupTitle(title(env)).Execute(context.Background(), env.queue, NopSink{})
		if ok || err != nil {
			t.Fatalf("expected plain failure, got %v, %v", ok, err)
		}
	})
}

func TestEncodeJobEncodesAndCleansSourceTree(t *testing.T) {
	env := newTestEnv(t, func(s *Settings) { s.Extension = ".mp4" })
	source := filepath.Join(env.settings.SourceRoot, "Heat", "disc1", "Heat_t00.mkv")
	writeFile(t, source)
	sibling := filepath.Join(env.settings.SourceRoot, "keep.txt")
	writeFile(t, sibling)

	job := env.factory.EncodeFile(source, false)
	if job.Name() != "Encode Movie 'Heat_t00.mkv'" {
		t.Fatalf("unexpected name %q", job.Name())
	}
	ok, err := job.Execute(context.Background(), env.queue, NopSink{})
	if err != nil || !ok {
		t.Fatalf("Execute = %v, %v", ok, err)
	}

	if !exists(filepath.Join(env.settings.OutputDir, "Heat_t00.mp4")) {
		t.Fatal("expected encoded output with forced extension")
	}
	if exists(source) || exists(filepath.Join(env.settings.SourceRoot, "Heat")) {
		t.Fatal("expected source and its empty parents removed")
	}
	if !exists(env.settings.SourceRoot) || !exists(sibling) {
		t.Fatal("source root and unrelated files must survive")
	}
	if req := env.transcoder.requests[0]; req.TitleIndex != 1 || req.Disc {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestEncodeJobCleanupStopsAtSourceRoot(t *testing.T) {
	env := newTestEnv(t, nil)
	source := filepath.Join(env.settings.SourceRoot, "movie.mkv")
	writeFile(t, source)

	if _, err := env.factory.EncodeFile(source, false).Execute(context.Background(), env.queue, NopSink{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !exists(env.settings.SourceRoot) {
		t.Fatal("source root removed")
	}
	if !exists(env.root) {
		t.Fatal("directory above source root removed")
	}
}

func TestEncodeJobKeepsSourceOutsideRoot(t *testing.T) {
	env := newTestEnv(t, nil)
	source := filepath.Join(env.root, "backup", "Heat", "Heat_t00.mkv")
	writeFile(t, source)

	ok, err := env.factory.EncodeFile(source, true).Execute(context.Background(), env.queue, NopSink{})
	if err != nil || !ok {
		t.Fatalf("Execute = %v, %v", ok, err)
	}
	if !exists(source) {
		t.Fatal("kept source outside the source root must not be deleted")
	}

	// Running the same encode again must refuse rather than re-encode.
	_, err = env.factory.EncodeFile(source, true).Execute(context.Background(), env.queue, NopSink{})
	if !errors.Is(err, ErrOutputExists) || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected output exists, got %v", err)
	}
	if got := env.transcoder.encodeCount(); got != 1 {
		t.Fatalf("expected a single encode, got %d", got)
	}
}

func TestEncodeJobKeepSourceInsideRootStillDeletes(t *testing.T) {
	env := newTestEnv(t, nil)
	source := filepath.Join(env.settings.SourceRoot, "movie.mkv")
	writeFile(t, source)
	if _, err := env.factory.EncodeFile(source, true).Execute(context.Background(), env.queue, NopSink{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exists(source) {
		t.Fatal("sources inside the source root are always removed")
	}
}

func TestEncodeJobFailures(t *testing.T) {
	t.Run("missing input", func(t *testing.T) {
		env := newTestEnv(t, nil)
		_, err := env.factory.EncodeFile(filepath.Join(env.settings.SourceRoot, "gone.mkv"), false).
			Execute(context.Background(), env.queue, NopSink{})
		if !errors.Is(err, ErrInputMissing) || !strings.Contains(err.Error(), "could not find input file") {
			t.Fatalf("expected missing input error, got %v", err)
		}
	})

	t.Run("encoder failure keeps source", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.transcoder.fail = true
		source := filepath.Join(env.settings.SourceRoot, "movie.mkv")
		writeFile(t, source)
		ok, err := env.factory.EncodeFile(source, false).Execute(context.Background(), env.queue, NopSink{})
		if ok || err != nil {
			t.Fatalf("expected plain failure, got %v, %v", ok, err)
		}
		if !exists(source) {
			t.Fatal("failed encode must not delete the source")
		}
	})

	t.Run("missing output after success", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.transcoder.skipOutput = true
		source := filepath.Join(env.settings.SourceRoot, "movie.mkv")
		writeFile(t, source)
		_, err := env.factory.EncodeFile(source, false).Execute(context.Background(), env.queue, NopSink{})
		if !errors.Is(err, ErrOutputMissing) {
			t.Fatalf("expected output missing, got %v", err)
		}
		if !exists(source) {
			t.Fatal("source must survive an integrity failure")
		}
	})

	t.Run("no usable title", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.transcoder.noTitle = true
		source := filepath.Join(env.settings.SourceRoot, "movie.mkv")
		writeFile(t, source)
		ok, err := env.factory.EncodeFile(source, false).Execute(context.Background(), env.queue, NopSink{})
		if ok || err != nil {
			t.Fatalf("expected plain failure, got %v, %v", ok, err)
		}
	})
}

func TestEncodeJobWaitsForWriter(t *testing.T) {
	env := newTestEnv(t, nil)
	var checks atomic.Int32
	env.factory = NewFactory(env.settings, env.ripper, env.transcoder, nil,
		WithBusyProbe(BusyProbeFunc(func(string) bool { return checks.Add(1) < 4 })))
	source := filepath.Join(env.settings.SourceRoot, "copying.mkv")
	writeFile(t, source)

	sink := &recordingSink{}
	ok, err := env.factory.EncodeFile(source, false).Execute(context.Background(), env.queue, sink)
	if err != nil || !ok {
		t.Fatalf("Execute = %v, %v", ok, err)
	}
	if checks.Load() < 4 {
		t.Fatalf("expected repeated busy checks, got %d", checks.Load())
	}
	tasks := sink.snapshotTasks()
	if len(tasks) == 0 || tasks[0] != "Waiting on 'copying.mkv' to become available" {
		t.Fatalf("unexpected tasks %v", tasks)
	}
}

func TestEncodeJobWaitHonoursContext(t *testing.T) {
	env := newTestEnv(t, nil)
	env.factory = NewFactory(env.settings, env.ripper, env.transcoder, nil,
		WithBusyProbe(BusyProbeFunc(func(string) bool { return true })))
	source := filepath.Join(env.settings.SourceRoot, "stuck.mkv")
	writeFile(t, source)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := env.factory.EncodeFile(source, false).Execute(ctx, env.queue, NopSink{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestFileBusyProbe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "movie.mkv")
	writeFile(t, path)
	if !(FileBusyProbe{Settle: secs(3600)}).Busy(path) {
		t.Fatal("expected freshly written file to be busy within the settle window")
	}
	if (FileBusyProbe{}).Busy(path) {
		t.Fatal("expected idle file to be available")
	}
	if (FileBusyProbe{}).Busy(filepath.Join(t.TempDir(), "missing.mkv")) {
		t.Fatal("missing files are not busy")
	}
}

func TestIsWithin(t *testing.T) {
	tests := []struct {
		root, path string
		want       bool
	}{
		{"/src", "/src/a.mkv", true},
		{"/src", "/src/a/b", true},
		{"/src", "/src", false},
		{"/src", "/srcx/a", false},
		{"/src", "/other/a", false},
		{"/src/", "/src/..evil/a", true},
		{"", "/src/a", false},
	}
	for _, tc := range tests {
		if got := isWithin(tc.root, tc.path); got != tc.want {
			t.Fatalf("isWithin(%q, %q) = %v, want %v", tc.root, tc.path, got, tc.want)
		}
	}
}
