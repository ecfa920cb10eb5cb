// Package api defines the wire types shared by the HTTP API, the websocket
// progress stream and the IPC socket, plus converters from internal models.
//
// # Key Types
//
// JobItem: a queued or retired job with progress and timestamps.
//
// DaemonStatus: lock state, scheduler counters, current job and dependency
// availability.
//
// HistoryEntry: one archived job from the SQLite history.
//
// Progress: the live task, percentage and log tail of the running job.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps are RFC3339 with milliseconds in
// UTC; zero times are omitted.
package api
