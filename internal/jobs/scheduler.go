package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ripforge/internal/logging"
	"ripforge/internal/services"
)

const (
	defaultPollInterval = 200 * time.Millisecond
	idleTask            = "No tasks"
)

// Recorder receives every job the scheduler retires.
type Recorder interface {
	Record(ctx context.Context, job Snapshot) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, job Snapshot) error

func (f RecorderFunc) Record(ctx context.Context, job Snapshot) error { return f(ctx, job) }

// Status summarizes scheduler activity.
type Status struct {
	Running   bool      `json:"running"`
	Current   *Snapshot `json:"current,omitempty"`
	Pending   int       `json:"pending"`
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
	LastError string    `json:"last_error,omitempty"`
	IdleSince time.Time `json:"idle_since,omitzero"`
}

// Scheduler runs queued jobs one at a time on a single goroutine.
type Scheduler struct {
	queue        *Queue
	sink         ProgressSink
	logger       *slog.Logger
	pollInterval time.Duration
	recorders    []Recorder

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	current   Job
	processed int
	failed    int
	lastErr   string
	idleSince time.Time
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithPollInterval sets how long the idle loop waits between queue checks.
func WithPollInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithRecorder adds a recorder invoked for each retired job.
func WithRecorder(r Recorder) SchedulerOption {
	return func(s *Scheduler) {
		if r != nil {
			s.recorders = append(s.recorders, r)
		}
	}
}

// NewScheduler constructs a scheduler draining queue and reporting to sink.
func NewScheduler(queue *Queue, sink ProgressSink, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if sink == nil {
		sink = NopSink{}
	}
	s := &Scheduler{
		queue:        queue,
		sink:         sink,
		logger:       logging.NewComponentLogger(logger, "scheduler"),
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the worker goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.idleSince = time.Now()
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(runCtx)
	return nil
}

// Stop signals shutdown and waits for the worker to exit. A job that is
// executing runs to completion first; everything still queued is cleared.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// Running reports whether the worker goroutine is active.
func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Status returns the latest scheduler information.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	status := Status{
		Running:   s.running,
		Processed: s.processed,
		Failed:    s.failed,
		LastError: s.lastErr,
		IdleSince: s.idleSince,
	}
	current := s.current
	s.mu.RUnlock()

	if current != nil {
		snap := current.State()
		status.Current = &snap
	}
	status.Pending = s.queue.Len()
	return status
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	defer s.queue.ClearActive()

	idle := false
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", logging.Int("discarded", s.queue.Len()))
			return
		default:
		}

		job, ok := s.queue.Peek()
		if !ok {
			if !idle {
				idle = true
				s.markIdle()
			}
			s.waitForJobOrShutdown(ctx)
			continue
		}
		idle = false
		s.runJob(ctx, job)
	}
}

func (s *Scheduler) markIdle() {
	s.mu.Lock()
	s.idleSince = time.Now()
	s.mu.Unlock()
	s.sink.Reset()
	s.sink.SetCurrentTask(idleTask)
	s.logger.Debug(idleTask)
}

func (s *Scheduler) waitForJobOrShutdown(ctx context.Context) {
	timer := time.NewTimer(s.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-s.queue.Wake():
	case <-timer.C:
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	core := job.core()
	// Jobs always run to completion, so they never see the shutdown signal.
	jobCtx := services.WithJobID(context.WithoutCancel(ctx), job.ID())
	logger := logging.WithContext(jobCtx, s.logger).With(
		logging.String(logging.FieldJobName, job.Name()),
		logging.String(logging.FieldJobKind, string(job.Kind())),
	)

	core.markStarted()
	s.setCurrent(job)
	s.sink.Reset()
	s.sink.SetCurrentJob(job)
	s.sink.AppendLog("Starting Job "+job.Name(), services.SeverityInfo)
	logger.Info("job started")
	started := time.Now()

	ok, err := s.execute(jobCtx, job, trackingSink{ProgressSink: s.sink, job: core})
	failed := err != nil || !ok
	message := ""
	switch {
	case err != nil:
		message = err.Error()
	case !ok:
		message = "job did not complete"
	}

	snap := core.finish(failed, message)
	s.sink.SetProgress(snap.CurrentProgress, snap.MaxProgress)
	if failed {
		s.sink.ReportError(message)
		s.sink.AppendLog("Failed Job "+job.Name(), services.SeverityError)
		logging.ErrorWithContext(logger, "job failed", "job_failed",
			logging.String("error", message),
			logging.String("error_kind", services.Classify(err)),
			logging.Bool("job_error", IsJobError(err)),
			logging.Duration("elapsed", time.Since(started)),
		)
	} else {
		logger.Info("job completed", logging.Duration("elapsed", time.Since(started)))
	}
	s.sink.Reset()
	s.queue.Complete(job)
	s.setFinished(snap)

	for _, r := range s.recorders {
		if err := r.Record(jobCtx, snap); err != nil {
			logging.WarnWithContext(logger, "job record failed", "job_record_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "job outcome missing from history or notifications"),
			)
		}
	}
}

// execute is the failure boundary: a panicking job is reported like any
// other failure and the scheduler moves on.
func (s *Scheduler) execute(ctx context.Context, job Job, sink ProgressSink) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Execute(ctx, s.queue, sink)
}

func (s *Scheduler) setCurrent(job Job) {
	s.mu.Lock()
	s.current = job
	s.mu.Unlock()
}

func (s *Scheduler) setFinished(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.processed++
	if snap.Errored {
		s.failed++
		s.lastErr = snap.Err
	}
}
