package services

// Severity ranks log lines sent through a Reporter.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// String returns the lowercase severity label.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// Reporter receives progress from a running external tool. Implementations
// must be safe for use from the goroutines that read tool output.
type Reporter interface {
	SetCurrentTask(text string)
	SetProgress(current, max int64)
	SetRemaining(text string)
	AppendLog(text string, severity Severity)
	ReportError(text string)
}

// NopReporter discards all progress.
type NopReporter struct{}

func (NopReporter) SetCurrentTask(string)      {}
func (NopReporter) SetProgress(int64, int64)   {}
func (NopReporter) SetRemaining(string)        {}
func (NopReporter) AppendLog(string, Severity) {}
func (NopReporter) ReportError(string)         {}

// OrNop returns r, or a NopReporter when r is nil.
func OrNop(r Reporter) Reporter {
	if r == nil {
		return NopReporter{}
	}
	return r
}
