package ipc

import "ripforge/internal/api"

// serviceName is the net/rpc receiver name clients call into.
const serviceName = "Ripforge"

// StartRequest asks the daemon to begin processing.
type StartRequest struct{}

// StartResponse reports whether the daemon started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest asks the daemon to stop processing.
type StopRequest struct{}

// StopResponse acknowledges a stop.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest asks for daemon status.
type StatusRequest struct{}

// StatusResponse carries the daemon status.
type StatusResponse struct {
	api.DaemonStatus
}

// QueueListRequest asks for the active queue.
type QueueListRequest struct{}

// QueueListResponse lists queued jobs in execution order.
type QueueListResponse struct {
	Items []api.JobItem `json:"items"`
}

// HistoryRequest filters the finished-job history.
type HistoryRequest struct {
	Kind       string `json:"kind,omitempty"`
	ErrorsOnly bool   `json:"errorsOnly,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// HistoryResponse lists finished jobs, newest first.
type HistoryResponse struct {
	Items []api.HistoryEntry `json:"items"`
}

// ClearHistoryRequest asks the daemon to forget finished jobs.
type ClearHistoryRequest struct{}

// ClearHistoryResponse reports how many in-memory entries were removed.
type ClearHistoryResponse struct {
	Removed int `json:"removed"`
}

// EncodeRequest queues a file for encoding.
type EncodeRequest struct {
	Path       string `json:"path"`
	KeepSource bool   `json:"keepSource"`
}

// ScanRequest queues a disc scan. An empty drive uses the first configured one.
type ScanRequest struct {
	Drive string `json:"drive,omitempty"`
}

// EnqueueResponse reports the queued job.
type EnqueueResponse struct {
	api.EnqueueResponse
}

// TestNotificationRequest triggers a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse reports the notification outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
