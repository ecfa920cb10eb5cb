package api

import (
	"math"
	"time"

	"ripforge/internal/deps"
	"ripforge/internal/history"
	"ripforge/internal/jobs"
	"ripforge/internal/media"
)

// FromSnapshot converts a job snapshot to its API representation.
func FromSnapshot(snap jobs.Snapshot) JobItem {
	return JobItem{
		ID:         snap.ID,
		Name:       snap.Name,
		Kind:       string(snap.Kind),
		Source:     snap.Source,
		Status:     snap.Status(),
		Percent:    Percent(snap.CurrentProgress, snap.MaxProgress),
		Current:    snap.CurrentProgress,
		Max:        snap.MaxProgress,
		Error:      snap.Err,
		CreatedAt:  FormatTime(snap.CreatedAt),
		StartedAt:  FormatTime(snap.StartedAt),
		FinishedAt: FormatTime(snap.FinishedAt),
	}
}

// FromJobs converts a queue snapshot, preserving order.
func FromJobs(list []jobs.Job) []JobItem {
	items := make([]JobItem, 0, len(list))
	for _, job := range list {
		if job == nil {
			continue
		}
		items = append(items, FromSnapshot(job.State()))
	}
	return items
}

// FromSchedulerStatus converts scheduler counters.
func FromSchedulerStatus(status jobs.Status) SchedulerStatus {
	out := SchedulerStatus{
		Running:   status.Running,
		Pending:   status.Pending,
		Processed: status.Processed,
		Failed:    status.Failed,
		LastError: status.LastError,
		IdleSince: FormatTime(status.IdleSince),
	}
	if status.Current != nil {
		item := FromSnapshot(*status.Current)
		out.Current = &item
	}
	return out
}

// FromHistory converts archived entries.
func FromHistory(entries []history.Entry) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryEntry{
			JobItem: JobItem{
				ID:         e.ID,
				Name:       e.Name,
				Kind:       string(e.Kind),
				Source:     e.Source,
				Status:     e.Status,
				Percent:    Percent(e.CurrentProgress, e.MaxProgress),
				Current:    e.CurrentProgress,
				Max:        e.MaxProgress,
				Error:      e.Error,
				CreatedAt:  FormatTime(e.CreatedAt),
				StartedAt:  FormatTime(e.StartedAt),
				FinishedAt: FormatTime(e.FinishedAt),
			},
			Duration: media.FormatDuration(e.Duration()),
		})
	}
	return out
}

// FromDependencies converts binary availability checks.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, DependencyStatus{
			Name:        st.Name,
			Command:     st.Command,
			Description: st.Description,
			Optional:    st.Optional,
			Available:   st.Available,
			Detail:      st.Detail,
		})
	}
	return out
}

// Percent returns current/max as a percentage rounded to two decimals.
func Percent(current, max int64) float64 {
	if max <= 0 || current <= 0 {
		return 0
	}
	if current >= max {
		return 100
	}
	return math.Round(float64(current)/float64(max)*10000) / 100
}

// FormatTime renders t in UTC, or "" for the zero time.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
