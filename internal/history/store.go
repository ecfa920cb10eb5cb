package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ripforge/internal/jobs"
	"ripforge/internal/logging"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Entry is one archived job.
type Entry struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Kind            jobs.Kind `json:"kind"`
	Source          string    `json:"source,omitempty"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	CurrentProgress int64     `json:"current_progress"`
	MaxProgress     int64     `json:"max_progress"`
	CreatedAt       time.Time `json:"created_at"`
	StartedAt       time.Time `json:"started_at,omitzero"`
	FinishedAt      time.Time `json:"finished_at"`
}

// Duration is the wall time between start and finish, or zero when the job
// never started.
func (e Entry) Duration() time.Duration {
	if e.StartedAt.IsZero() || e.FinishedAt.Before(e.StartedAt) {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Kind       jobs.Kind
	ErrorsOnly bool
	Limit      int
}

// Store is the SQLite job archive.
type Store struct {
	db        *sql.DB
	path      string
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithRetention prunes entries older than d on every Record. Zero disables
// pruning.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logging.NewComponentLogger(logger, "history")
	}
}

// Open creates or opens the archive at path.
func Open(path string, opts ...Option) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{
		db:     db,
		path:   path,
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record archives a retired job. A job recorded twice keeps its latest state.
func (s *Store) Record(ctx context.Context, job jobs.Snapshot) error {
	if strings.TrimSpace(job.ID) == "" {
		return errors.New("history: job id is required")
	}
	finished := job.FinishedAt
	if finished.IsZero() {
		finished = s.now()
	}
	err := s.exec(ctx, `INSERT INTO job_history
		(id, name, kind, source, status, error, progress, max_progress, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			progress = excluded.progress,
			max_progress = excluded.max_progress,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`,
		job.ID, job.Name, string(job.Kind), job.Source, job.Status(), job.Err,
		job.CurrentProgress, job.MaxProgress,
		unixMillis(job.CreatedAt), unixMillis(job.StartedAt), unixMillis(finished),
	)
	if err != nil {
		return fmt.Errorf("record job %s: %w", job.ID, err)
	}
	if s.retention > 0 {
		if removed, err := s.Prune(ctx, s.now().Add(-s.retention)); err != nil {
			logging.WarnWithContext(s.logger, "history prune failed", "history_prune_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "old history entries are kept"),
			)
		} else if removed > 0 {
			s.logger.Debug("pruned history", logging.Int64("removed", removed))
		}
	}
	return nil
}

// List returns archived jobs, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `SELECT id, name, kind, source, status, error, progress, max_progress, created_at, started_at, finished_at
		FROM job_history`
	var (
		where []string
		args  []any
	)
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.ErrorsOnly {
		where = append(where, "status = 'errored'")
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY finished_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                          Entry
			kind                       string
			created, started, finished int64
		)
		if err := rows.Scan(&e.ID, &e.Name, &kind, &e.Source, &e.Status, &e.Error,
			&e.CurrentProgress, &e.MaxProgress, &created, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.Kind = jobs.Kind(kind)
		e.CreatedAt = fromMillis(created)
		e.StartedAt = fromMillis(started)
		e.FinishedAt = fromMillis(finished)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries finished before cutoff and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensureContext(ctx)
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM job_history WHERE finished_at < ?", unixMillis(cutoff))
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return removed, nil
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.exec(ctx, "DELETE FROM job_history"); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := range busyRetryAttempts {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, busyRetryMaxBackoff)
	}
	return lastErr
}

func unixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
