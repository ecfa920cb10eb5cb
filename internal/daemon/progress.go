package daemon

import (
	"slices"
	"sync"
	"time"

	"ripforge/internal/api"
	"ripforge/internal/jobs"
	"ripforge/internal/services"
)

const (
	defaultLogTail   = 50
	subscriberBuffer = 16
)

// progressHub is the ProgressSink that backs /api/status and the websocket
// stream. It keeps the current job's state and fans changes out to
// subscribers. Slow subscribers miss intermediate updates.
type progressHub struct {
	logTail int
	now     func() time.Time

	mu    sync.Mutex
	state api.Progress
	subs  map[chan api.Progress]struct{}
}

func newProgressHub() *progressHub {
	return &progressHub{
		logTail: defaultLogTail,
		now:     time.Now,
		subs:    make(map[chan api.Progress]struct{}),
	}
}

func (h *progressHub) SetCurrentJob(job jobs.Job) {
	h.update(func(p *api.Progress) {
		*p = api.Progress{}
		if job != nil {
			p.JobID = job.ID()
			p.JobName = job.Name()
		}
	})
}

func (h *progressHub) SetCurrentTask(text string) {
	h.update(func(p *api.Progress) {
		p.Task = text
	})
}

func (h *progressHub) SetProgress(current, max int64) {
	h.update(func(p *api.Progress) {
		p.Current, p.Max = current, max
		p.Percent = api.Percent(current, max)
	})
}

func (h *progressHub) SetRemaining(text string) {
	h.update(func(p *api.Progress) {
		p.Remaining = text
	})
}

func (h *progressHub) AppendLog(text string, severity services.Severity) {
	h.update(func(p *api.Progress) {
		p.Log = append(p.Log, api.LogLine{
			Time:     api.FormatTime(h.now()),
			Severity: severity.String(),
			Text:     text,
		})
		if over := len(p.Log) - h.logTail; over > 0 {
			p.Log = slices.Delete(p.Log, 0, over)
		}
	})
}

func (h *progressHub) ReportError(text string) {
	h.update(func(p *api.Progress) {
		p.Errors = append(p.Errors, text)
	})
}

func (h *progressHub) Reset() {
	h.update(func(p *api.Progress) {
		*p = api.Progress{}
	})
}

// Snapshot returns a deep copy of the current state.
func (h *progressHub) Snapshot() api.Progress {
	h.mu.Lock()
	defer h.mu.Unlock()
	return cloneProgress(h.state)
}

// Subscribe registers for updates. The channel first receives the current
// state. The returned func unsubscribes and closes the channel.
func (h *progressHub) Subscribe() (<-chan api.Progress, func()) {
	ch := make(chan api.Progress, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	ch <- cloneProgress(h.state)
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
}

func (h *progressHub) update(fn func(*api.Progress)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.state)
	h.state.UpdatedAt = api.FormatTime(h.now())
	for ch := range h.subs {
		select {
		case ch <- cloneProgress(h.state):
		default:
		}
	}
}

func cloneProgress(p api.Progress) api.Progress {
	p.Log = slices.Clone(p.Log)
	p.Errors = slices.Clone(p.Errors)
	return p
}
