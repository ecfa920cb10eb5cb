package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies one of the three job variants.
type Kind string

const (
	KindScanAndBackup Kind = "scan_and_backup"
	KindBackupTitle   Kind = "backup_title"
	KindEncode        Kind = "encode"
)

// Job is a unit of work executed by the scheduler. The set of
// implementations is closed: ScanAndBackupJob, BackupTitleJob and EncodeJob.
type Job interface {
	// ID is unique per constructed job and never used for dedup.
	ID() string
	// Name is the dedup key and display name.
	Name() string
	Kind() Kind
	State() Snapshot
	// Execute runs the job once. A false return or a non-nil error marks the
	// job errored. Jobs may enqueue children into q.
	Execute(ctx context.Context, q *Queue, sink ProgressSink) (bool, error)

	core() *jobCore
}

// Snapshot is a point-in-time copy of a job's state.
type Snapshot struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Kind            Kind      `json:"kind"`
	Source          string    `json:"source,omitempty"`
	MaxProgress     int64     `json:"max_progress"`
	CurrentProgress int64     `json:"current_progress"`
	Started         bool      `json:"started"`
	Errored         bool      `json:"errored"`
	Err             string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	StartedAt       time.Time `json:"started_at,omitzero"`
	FinishedAt      time.Time `json:"finished_at,omitzero"`
}

// Finished reports whether the job has been retired by the scheduler.
func (s Snapshot) Finished() bool {
	return !s.FinishedAt.IsZero()
}

// Status renders a one-word state label.
func (s Snapshot) Status() string {
	switch {
	case s.Errored:
		return "errored"
	case s.Finished():
		return "succeeded"
	case s.Started:
		return "running"
	default:
		return "pending"
	}
}

// jobCore holds the identity and mutable state shared by every variant.
type jobCore struct {
	id     string
	name   string
	kind   Kind
	source string

	mu    sync.Mutex
	state Snapshot
}

func newJobCore(kind Kind, name, source string) *jobCore {
	id := uuid.NewString()
	return &jobCore{
		id:     id,
		name:   name,
		kind:   kind,
		source: source,
		state: Snapshot{
			ID:        id,
			Name:      name,
			Kind:      kind,
			Source:    source,
			CreatedAt: time.Now(),
		},
	}
}

func (c *jobCore) ID() string     { return c.id }
func (c *jobCore) Name() string   { return c.name }
func (c *jobCore) Kind() Kind     { return c.kind }
func (c *jobCore) core() *jobCore { return c }

func (c *jobCore) State() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *jobCore) started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Started
}

func (c *jobCore) markStarted() {
	c.mu.Lock()
	c.state.Started = true
	c.state.StartedAt = time.Now()
	c.mu.Unlock()
}

func (c *jobCore) setProgress(current, max int64) {
	c.mu.Lock()
	c.state.CurrentProgress = current
	c.state.MaxProgress = max
	c.mu.Unlock()
}

// finish records the outcome and forces progress to completion so a retired
// job never shows as partially done.
func (c *jobCore) finish(errored bool, message string) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.MaxProgress <= 0 {
		c.state.MaxProgress = 1
	}
	c.state.CurrentProgress = c.state.MaxProgress
	c.state.Errored = errored
	c.state.Err = message
	c.state.FinishedAt = time.Now()
	return c.state
}
