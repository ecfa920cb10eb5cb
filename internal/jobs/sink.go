package jobs

import (
	"log/slog"
	"strings"
	"sync"

	"ripforge/internal/logging"
	"ripforge/internal/services"
)

// ProgressSink receives progress for the job the scheduler is running. It
// extends services.Reporter with the current-job slot.
type ProgressSink interface {
	services.Reporter
	// SetCurrentJob points the sink at job; nil clears the slot.
	SetCurrentJob(job Job)
	// Reset clears task, progress and remaining text and empties the
	// current-job slot.
	Reset()
}

// NopSink discards everything.
type NopSink struct{ services.NopReporter }

func (NopSink) SetCurrentJob(Job) {}
func (NopSink) Reset()            {}

// LogSink writes task changes, log lines and errors through slog. Info
// lines and progress ticks are logged at debug level, and progress only when
// the percentage moves.
type LogSink struct {
	logger *slog.Logger

	mu      sync.Mutex
	job     Job
	task    string
	percent int64
}

// NewLogSink builds a sink tagged with the "progress" component.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logging.NewComponentLogger(logger, "progress"), percent: -1}
}

func (s *LogSink) jobLogger() *slog.Logger {
	s.mu.Lock()
	job := s.job
	s.mu.Unlock()
	if job == nil {
		return s.logger
	}
	return s.logger.With(
		logging.String(logging.FieldJobID, job.ID()),
		logging.String(logging.FieldJobName, job.Name()),
	)
}

func (s *LogSink) SetCurrentJob(job Job) {
	s.mu.Lock()
	s.job = job
	s.task = ""
	s.percent = -1
	s.mu.Unlock()
}

func (s *LogSink) SetCurrentTask(text string) {
	text = strings.TrimSpace(text)
	s.mu.Lock()
	changed := text != "" && text != s.task
	s.task = text
	s.mu.Unlock()
	if changed {
		s.jobLogger().Info("task", logging.String("task", text))
	}
}

func (s *LogSink) SetProgress(current, max int64) {
	if max <= 0 {
		return
	}
	percent := current * 100 / max
	s.mu.Lock()
	changed := percent != s.percent
	s.percent = percent
	s.mu.Unlock()
	if changed {
		s.jobLogger().Debug("progress", logging.Int64("percent", percent))
	}
}

func (s *LogSink) SetRemaining(string) {}

func (s *LogSink) AppendLog(text string, severity services.Severity) {
	logger := s.jobLogger()
	switch severity {
	case services.SeverityError:
		logger.Error(text)
	case services.SeverityWarning:
		logger.Warn(text)
	default:
		logger.Debug(text)
	}
}

// ReportError is logged at debug level; the scheduler logs the failure.
func (s *LogSink) ReportError(text string) {
	s.jobLogger().Debug("error reported", logging.String("detail", text))
}

func (s *LogSink) Reset() {
	s.SetCurrentJob(nil)
}

// MultiSink fans every call out to each member in order.
type MultiSink []ProgressSink

func (m MultiSink) SetCurrentJob(job Job) {
	for _, s := range m {
		s.SetCurrentJob(job)
	}
}

func (m MultiSink) SetCurrentTask(text string) {
	for _, s := range m {
		s.SetCurrentTask(text)
	}
}

func (m MultiSink) SetProgress(current, max int64) {
	for _, s := range m {
		s.SetProgress(current, max)
	}
}

func (m MultiSink) SetRemaining(text string) {
	for _, s := range m {
		s.SetRemaining(text)
	}
}

func (m MultiSink) AppendLog(text string, severity services.Severity) {
	for _, s := range m {
		s.AppendLog(text, severity)
	}
}

func (m MultiSink) ReportError(text string) {
	for _, s := range m {
		s.ReportError(text)
	}
}

func (m MultiSink) Reset() {
	for _, s := range m {
		s.Reset()
	}
}

// trackingSink mirrors progress into the running job's state before
// forwarding to the scheduler's sink.
type trackingSink struct {
	ProgressSink
	job *jobCore
}

func (t trackingSink) SetProgress(current, max int64) {
	t.job.setProgress(current, max)
	t.ProgressSink.SetProgress(current, max)
}
