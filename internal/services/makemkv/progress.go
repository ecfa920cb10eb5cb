package makemkv

import (
	"sync"
	"time"

	"ripforge/internal/media"
	"ripforge/internal/services"
)

// progressTracker turns PRGV lines into progress and a remaining-time
// estimate. The estimate restarts whenever progress moves backwards, which
// MakeMKV does between phases.
type progressTracker struct {
	reporter      services.Reporter
	withRemaining bool
	now           func() time.Time

	mu      sync.Mutex
	last    int64
	started time.Time
}

func newProgressTracker(r services.Reporter, withRemaining bool) *progressTracker {
	return &progressTracker{reporter: r, withRemaining: withRemaining, now: time.Now, last: -1}
}

// handle consumes PRGV:current,total,max. The total field tracks the whole
// operation and is what gets reported.
func (p *progressTracker) handle(line robotLine) {
	total, ok := line.int64(1)
	if !ok {
		return
	}
	maximum, ok := line.int64(2)
	if !ok || maximum <= 0 {
		return
	}

	now := p.now()
	p.mu.Lock()
	if p.started.IsZero() || total < p.last {
		p.started = now
	}
	p.last = total
	elapsed := now.Sub(p.started)
	p.mu.Unlock()

	p.reporter.SetProgress(total, maximum)
	if !p.withRemaining || total <= 0 || elapsed <= 0 {
		return
	}
	remaining := time.Duration(float64(elapsed) * float64(maximum-total) / float64(total))
	p.reporter.SetRemaining(media.FormatDuration(remaining))
}
