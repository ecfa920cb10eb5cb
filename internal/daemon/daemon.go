package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"ripforge/internal/api"
	"ripforge/internal/config"
	"ripforge/internal/deps"
	"ripforge/internal/history"
	"ripforge/internal/jobs"
	"ripforge/internal/logging"
	"ripforge/internal/media"
	"ripforge/internal/notifications"
)

// Watcher is the detection side of the daemon: it feeds the queue until
// stopped.
type Watcher interface {
	Start(ctx context.Context) error
	Stop()
}

// WatcherBuilder creates a fresh Watcher for one Start/Stop cycle.
type WatcherBuilder func(q *jobs.Queue, f *jobs.Factory) (Watcher, error)

// Options supplies the daemon's collaborators.
type Options struct {
	Ripper     jobs.RipperService
	Transcoder jobs.TranscoderService
	// History archives retired jobs. Nil disables the archive.
	History *history.Store
	// Notifications defaults to a no-op service.
	Notifications notifications.Service
	// NewWatcher defaults to the netlink/poll/fsnotify coordinator.
	NewWatcher WatcherBuilder
	// Dependencies defaults to checking the binaries the config needs.
	Dependencies func() []deps.Status
}

// Daemon coordinates the scheduler and watchers and enforces single-instance
// execution.
type Daemon struct {
	cfg        *config.Config
	base       *slog.Logger
	logger     *slog.Logger
	queue      *jobs.Queue
	factory    *jobs.Factory
	scheduler  *jobs.Scheduler
	hub        *progressHub
	history    *history.Store
	notifier   notifications.Service
	newWatcher WatcherBuilder
	deps       func() []deps.Status

	lockPath string
	lock     *flock.Flock

	// lifecycle serializes Start and Stop. mu guards the fields below and
	// is never held while waiting on a job, so status reads stay responsive.
	lifecycle sync.Mutex
	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	watcher   Watcher
}

// New constructs a daemon. The lock is not taken until Start.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if opts.Transcoder == nil {
		return nil, errors.New("daemon requires a transcoder")
	}
	if opts.Ripper == nil && cfg.Backup.Mode == config.BackupModeMakeMKV {
		return nil, errors.New("daemon requires a ripper in makemkv backup mode")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	notifier := opts.Notifications
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	dispatcher := notifications.NewDispatcher(notifier, logger)

	queue := jobs.NewQueue()
	factory := jobs.NewFactory(jobs.SettingsFromConfig(cfg), opts.Ripper, opts.Transcoder, logger)
	hub := newProgressHub()

	schedOpts := []jobs.SchedulerOption{jobs.WithPollInterval(cfg.PollInterval())}
	if opts.History != nil {
		schedOpts = append(schedOpts, jobs.WithRecorder(opts.History))
	}
	schedOpts = append(schedOpts, jobs.WithRecorder(dispatcher))
	sink := jobs.MultiSink{jobs.NewLogSink(logger), hub}

	d := &Daemon{
		cfg:        cfg,
		base:       logger,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		queue:      queue,
		factory:    factory,
		scheduler:  jobs.NewScheduler(queue, sink, logger, schedOpts...),
		hub:        hub,
		history:    opts.History,
		notifier:   notifier,
		newWatcher: opts.NewWatcher,
		deps:       opts.Dependencies,
		lockPath:   cfg.LockPath(),
		lock:       flock.New(cfg.LockPath()),
	}
	if d.newWatcher == nil {
		d.newWatcher = defaultWatcherBuilder(cfg, logger, dispatcher)
	}
	if d.deps == nil {
		d.deps = func() []deps.Status { return deps.CheckBinaries(deps.Requirements(cfg)) }
	}
	return d, nil
}

// Start acquires the lock, starts the scheduler and installs the watchers.
func (d *Daemon) Start(ctx context.Context) error {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()
	if d.Running() {
		return errors.New("daemon already running")
	}

	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another ripforge daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.scheduler.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start scheduler: %w", err)
	}

	w, err := d.newWatcher(d.queue, d.factory)
	if err == nil {
		err = w.Start(runCtx)
	}
	if err != nil {
		if w != nil {
			w.Stop()
		}
		d.scheduler.Stop()
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start watchers: %w", err)
	}

	d.mu.Lock()
	d.cancel = cancel
	d.watcher = w
	d.running = true
	d.mu.Unlock()
	d.logger.Info("ripforge daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("source_dir", d.cfg.Paths.SourceDir),
	)
	return nil
}

// Stop removes the watchers, waits for the running job and releases the
// lock. Jobs still queued are discarded; the next Start re-walks the source
// tree. Status reports the daemon as stopped as soon as Stop begins.
func (d *Daemon) Stop() {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	w, cancel := d.watcher, d.cancel
	d.watcher, d.cancel = nil, nil
	d.mu.Unlock()

	if w != nil {
		w.Stop()
	}
	d.scheduler.Stop()
	if cancel != nil {
		cancel()
	}
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_unlock_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the next start may report another instance"),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath),
		)
	}
	d.logger.Info("ripforge daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon and closes the history archive.
func (d *Daemon) Close() error {
	d.Stop()
	if d.history != nil {
		return d.history.Close()
	}
	return nil
}

// ServeAPI starts the HTTP API on paths.api_bind until ctx ends. An empty
// bind address disables it. The API outlives Start/Stop cycles.
func (d *Daemon) ServeAPI(ctx context.Context) error {
	return newAPIServer(d.cfg.Paths.APIBind, d.cfg.Paths.APIOrigins, d, d.base).start(ctx)
}

// Running reports whether Start has succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Status returns the current daemon status.
func (d *Daemon) Status() api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.Running(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		DiscMonitor:  d.cfg.Workflow.DiscMonitor,
		Scheduler:    api.FromSchedulerStatus(d.scheduler.Status()),
		Dependencies: api.FromDependencies(d.deps()),
	}
	if d.history != nil {
		status.HistoryPath = d.history.Path()
	}
	if progress := d.hub.Snapshot(); progress.JobID != "" {
		status.Progress = &progress
	}
	return status
}

// Queue returns the active queue in execution order.
func (d *Daemon) Queue() []api.JobItem {
	return api.FromJobs(d.queue.Snapshot())
}

// History returns archived jobs, or the in-memory history when the archive
// is disabled.
func (d *Daemon) History(ctx context.Context, filter history.Filter) ([]api.HistoryEntry, error) {
	if d.history != nil {
		entries, err := d.history.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		return api.FromHistory(entries), nil
	}
	var out []api.HistoryEntry
	for _, item := range api.FromJobs(d.queue.History()) {
		if filter.Kind != "" && item.Kind != string(filter.Kind) {
			continue
		}
		if filter.ErrorsOnly && item.Status != "errored" {
			continue
		}
		out = append(out, api.HistoryEntry{JobItem: item})
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// ClearHistory prunes finished jobs from the in-memory history and empties
// the archive. It returns the number of in-memory entries removed.
func (d *Daemon) ClearHistory(ctx context.Context) (int, error) {
	removed := d.queue.ClearHistory()
	if d.history != nil {
		if err := d.history.Clear(ctx); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// EnqueueEncode queues path for encoding.
func (d *Daemon) EnqueueEncode(path string, keepSource bool) (api.EnqueueResponse, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return api.EnqueueResponse{}, errors.New("source path is required")
	}
	absPath, err := filepath.Abs(trimmed)
	if err != nil {
		return api.EnqueueResponse{}, fmt.Errorf("resolve source path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return api.EnqueueResponse{}, fmt.Errorf("stat source file: %w", err)
	}
	if info.IsDir() {
		return api.EnqueueResponse{}, fmt.Errorf("source path %q is a directory", absPath)
	}
	if !media.IsMovieFile(absPath) {
		return api.EnqueueResponse{}, fmt.Errorf("unsupported file extension %q", filepath.Ext(absPath))
	}
	job := d.factory.EncodeFile(absPath, keepSource)
	queued := d.queue.Enqueue(job, false)
	d.logger.Info("manual encode requested",
		logging.String(logging.FieldEventType, "manual_encode"),
		logging.String("source", absPath),
		logging.Bool("queued", queued),
	)
	return api.EnqueueResponse{Queued: queued, Job: api.FromSnapshot(job.State())}, nil
}

// EnqueueScan queues a disc scan for drive ahead of pending encodes.
func (d *Daemon) EnqueueScan(drive string) (api.EnqueueResponse, error) {
	drive = strings.TrimSpace(drive)
	if drive == "" {
		if len(d.cfg.Backup.Drives) == 0 {
			return api.EnqueueResponse{}, errors.New("drive is required")
		}
		drive = d.cfg.Backup.Drives[0]
	}
	job := d.factory.ScanDisc(drive)
	queued := d.queue.Enqueue(job, true)
	d.logger.Info("manual disc scan requested",
		logging.String(logging.FieldEventType, "manual_scan"),
		logging.String("device", drive),
		logging.Bool("queued", queued),
	)
	return api.EnqueueResponse{Queued: queued, Job: api.FromSnapshot(job.State())}, nil
}

// TestNotification sends a test notification with the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
