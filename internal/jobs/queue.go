package jobs

import (
	"slices"
	"sync"
)

// Queue holds the active jobs waiting to run (head runs next) and the
// history of every job accepted since the last clear. All operations are
// serialized by one mutex that is never held across a collaborator call.
type Queue struct {
	mu        sync.Mutex
	active    []Job
	history   []Job
	listeners map[int]func()
	nextID    int
	wake      chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{
		listeners: make(map[int]func()),
		wake:      make(chan struct{}, 1),
	}
}

// Enqueue adds job unless a job with the same name is already active, in
// which case nothing changes and false is returned. A front insert becomes
// the next job to run and is placed in history right after the last started
// entry; otherwise the job is appended to both sequences.
func (q *Queue) Enqueue(job Job, atFront bool) bool {
	if job == nil {
		return false
	}
	q.mu.Lock()
	if q.activeIndexLocked(job.Name()) >= 0 {
		q.mu.Unlock()
		return false
	}
	if atFront {
		q.active = slices.Insert(q.active, 0, job)
		q.history = slices.Insert(q.history, q.afterLastStartedLocked(), job)
	} else {
		q.active = append(q.active, job)
		q.history = append(q.history, job)
	}
	q.mu.Unlock()

	q.signal()
	return true
}

// Peek returns the head of the active sequence without removing it.
func (q *Queue) Peek() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.active) == 0 {
		return nil, false
	}
	return q.active[0], true
}

// Complete removes job from the active sequence. Its history entry stays.
func (q *Queue) Complete(job Job) {
	if job == nil {
		return
	}
	q.mu.Lock()
	before := len(q.active)
	q.active = slices.DeleteFunc(q.active, func(j Job) bool { return j.ID() == job.ID() })
	changed := len(q.active) != before
	q.mu.Unlock()

	if changed {
		q.notify()
	}
}

// ClearActive empties the active sequence and drops every history entry
// that never started.
func (q *Queue) ClearActive() {
	q.mu.Lock()
	q.active = nil
	q.history = slices.DeleteFunc(q.history, func(j Job) bool { return !j.core().started() })
	q.mu.Unlock()

	q.notify()
}

// ClearHistory drops history entries that are no longer active and returns
// how many were removed.
func (q *Queue) ClearHistory() int {
	q.mu.Lock()
	activeIDs := make(map[string]struct{}, len(q.active))
	for _, j := range q.active {
		activeIDs[j.ID()] = struct{}{}
	}
	before := len(q.history)
	q.history = slices.DeleteFunc(q.history, func(j Job) bool {
		_, ok := activeIDs[j.ID()]
		return !ok
	})
	removed := before - len(q.history)
	q.mu.Unlock()

	if removed > 0 {
		q.notify()
	}
	return removed
}

// Snapshot returns a copy of the active sequence.
func (q *Queue) Snapshot() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.active)
}

// History returns a copy of the history sequence.
func (q *Queue) History() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.history)
}

// Len returns the number of active jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// Contains reports whether a job named name is active.
func (q *Queue) Contains(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.activeIndexLocked(name) >= 0
}

// Find returns the first active job matching fn.
func (q *Queue) Find(fn func(Job) bool) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.active {
		if fn(j) {
			return j, true
		}
	}
	return nil, false
}

// Subscribe registers fn to run after every mutation, outside the lock. The
// returned function removes the subscription.
func (q *Queue) Subscribe(fn func()) func() {
	q.mu.Lock()
	id := q.nextID
	q.nextID++
	q.listeners[id] = fn
	q.mu.Unlock()
	return func() {
		q.mu.Lock()
		delete(q.listeners, id)
		q.mu.Unlock()
	}
}

// Wake is signalled (without blocking) whenever a job is enqueued.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
	q.notify()
}

func (q *Queue) notify() {
	q.mu.Lock()
	fns := make([]func(), 0, len(q.listeners))
	for _, fn := range q.listeners {
		fns = append(fns, fn)
	}
	q.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (q *Queue) activeIndexLocked(name string) int {
	return slices.IndexFunc(q.active, func(j Job) bool { return j.Name() == name })
}

func (q *Queue) afterLastStartedLocked() int {
	for i := len(q.history) - 1; i >= 0; i-- {
		if q.history[i].core().started() {
			return i + 1
		}
	}
	return 0
}
