// Package daemon owns the long-running ripforge process.
//
// It wires the job queue, scheduler and watch coordinator into one lifecycle
// guarded by a flock single-instance lock, archives retired jobs, and exposes
// status, queue control and a live progress stream over HTTP.
//
// Orchestration lives here; job semantics live in internal/jobs and disc or
// directory detection in internal/watch.
package daemon
