package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// JobItem describes a job in a transport-friendly format.
type JobItem struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Kind       string  `json:"kind"`
	Source     string  `json:"source,omitempty"`
	Status     string  `json:"status"`
	Percent    float64 `json:"percent"`
	Current    int64   `json:"current"`
	Max        int64   `json:"max"`
	Error      string  `json:"error,omitempty"`
	CreatedAt  string  `json:"createdAt,omitempty"`
	StartedAt  string  `json:"startedAt,omitempty"`
	FinishedAt string  `json:"finishedAt,omitempty"`
}

// SchedulerStatus summarizes job execution state.
type SchedulerStatus struct {
	Running   bool     `json:"running"`
	Current   *JobItem `json:"current,omitempty"`
	Pending   int      `json:"pending"`
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	LastError string   `json:"lastError,omitempty"`
	IdleSince string   `json:"idleSince,omitempty"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	LockFilePath string             `json:"lockFilePath"`
	HistoryPath  string             `json:"historyPath,omitempty"`
	DiscMonitor  string             `json:"discMonitor"`
	Scheduler    SchedulerStatus    `json:"scheduler"`
	Progress     *Progress          `json:"progress,omitempty"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// LogLine is one entry of the running job's log tail.
type LogLine struct {
	Time     string `json:"time"`
	Severity string `json:"severity"`
	Text     string `json:"text"`
}

// Progress is the live state of the running job.
type Progress struct {
	JobID     string    `json:"jobId,omitempty"`
	JobName   string    `json:"jobName,omitempty"`
	Task      string    `json:"task"`
	Current   int64     `json:"current"`
	Max       int64     `json:"max"`
	Percent   float64   `json:"percent"`
	Remaining string    `json:"remaining,omitempty"`
	Log       []LogLine `json:"log,omitempty"`
	Errors    []string  `json:"errors,omitempty"`
	UpdatedAt string    `json:"updatedAt,omitempty"`
}

// HistoryEntry is one archived job.
type HistoryEntry struct {
	JobItem
	Duration string `json:"duration,omitempty"`
}

// QueueListResponse wraps the active queue.
type QueueListResponse struct {
	Items []JobItem `json:"items"`
}

// HistoryResponse wraps archived jobs.
type HistoryResponse struct {
	Items []HistoryEntry `json:"items"`
}

// EncodeRequest asks the daemon to queue a file for encoding.
type EncodeRequest struct {
	Path       string `json:"path"`
	KeepSource bool   `json:"keepSource"`
}

// ScanRequest asks the daemon to queue a disc scan.
type ScanRequest struct {
	Drive string `json:"drive"`
}

// EnqueueResponse reports the outcome of an enqueue request. Queued is false
// when a job with the same name was already active.
type EnqueueResponse struct {
	Queued bool    `json:"queued"`
	Job    JobItem `json:"job"`
}

// ErrorResponse is the body of every non-2xx HTTP reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
