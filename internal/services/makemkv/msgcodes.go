package makemkv

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"ripforge/internal/logging"
	"ripforge/internal/services"
)

// MakeMKV MSG codes. Codes in [2000, 3000) are errors that abort the
// operation; the rest are informational unless listed here.
const (
	msgFatalMin = 2000
	msgFatalMax = 3000

	MsgRipCompleted         = 5004 // "N titles saved, M failed"
	MsgDiscOpenError        = 5010 // Can't open disc
	MsgSavingTitles         = 5014 // "Saving N titles into directory X"
	MsgEvalExpiredTooOld    = 5021 // License/app too old (fatal)
	MsgEvalPeriodExpired    = 5052 // Eval period warning
	MsgEvalExpiredShareware = 5055 // Shareware expired (fatal)
)

// IsFatalCode reports whether a MSG code aborts the current operation.
func IsFatalCode(code int) bool {
	return code >= msgFatalMin && code < msgFatalMax
}

// ServiceMsgError wraps a MakeMKV MSG code into an error with a hint.
type ServiceMsgError struct {
	Code    int
	Message string
	Hint    string
}

func (e *ServiceMsgError) Error() string {
	if e.Hint != "" {
		return e.Message + " (" + e.Hint + ")"
	}
	return e.Message
}

// msgHandler routes MSG lines to the reporter and remembers the first fatal
// message. Output arrives from two reader goroutines, so it is locked.
type msgHandler struct {
	logger   *slog.Logger
	reporter services.Reporter

	mu       sync.Mutex
	fatalErr *ServiceMsgError
	saved    int
	failed   int
	summary  bool
}

func (h *msgHandler) handle(line robotLine) {
	code, ok := line.int(0)
	if !ok {
		return
	}
	// MSG:code,flags,count,message,format,param0,...
	text := line.str(3)

	switch {
	case IsFatalCode(code):
		h.reporter.AppendLog(text, services.SeverityError)
		h.setFatal(&ServiceMsgError{Code: code, Message: text, Hint: "check the disc and drive"})
	case code == MsgSavingTitles:
		h.reporter.SetCurrentTask(text)
	case code == MsgEvalExpiredTooOld || code == MsgEvalExpiredShareware:
		h.reporter.AppendLog(text, services.SeverityError)
		h.setFatal(&ServiceMsgError{Code: code, Message: text, Hint: "update or register MakeMKV"})
	case code == MsgRipCompleted:
		saved, failed := sprintfCounts(line)
		h.mu.Lock()
		h.saved, h.failed, h.summary = saved, failed, true
		h.mu.Unlock()
		h.reporter.AppendLog(text, services.SeverityInfo)
	case code == MsgEvalPeriodExpired:
		logging.WarnWithContext(h.logger, "makemkv evaluation period expiring", "makemkv_eval_warning",
			logging.String(logging.FieldErrorHint, "MakeMKV evaluation period is expiring; consider purchasing a license"),
			logging.String(logging.FieldImpact, "ripping will stop working when evaluation expires"),
			logging.String("msg_text", text),
		)
		h.reporter.AppendLog(text, services.SeverityWarning)
	case code == MsgDiscOpenError:
		h.reporter.AppendLog(text, services.SeverityWarning)
	default:
		h.logger.Debug("makemkv message", logging.Int("msg_code", code), logging.String("msg_text", text))
		h.reporter.AppendLog(text, services.SeverityInfo)
	}
}

func (h *msgHandler) setFatal(err *ServiceMsgError) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fatalErr == nil {
		h.fatalErr = err
	}
}

// err returns the first fatal message, or a synthesized one when MakeMKV
// reported that nothing was saved.
func (h *msgHandler) err() *ServiceMsgError {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fatalErr != nil {
		return h.fatalErr
	}
	if h.summary && h.saved == 0 {
		return &ServiceMsgError{
			Code:    MsgRipCompleted,
			Message: strconv.Itoa(h.failed) + " titles failed, none saved",
			Hint:    "check disc readability",
		}
	}
	return nil
}

// sprintfCounts extracts the saved and failed counts from a MSG:5004 line.
// The sprintf parameters start at the sixth field.
func sprintfCounts(line robotLine) (saved, failed int) {
	if len(line.Fields) > 5 {
		saved, _ = strconv.Atoi(strings.TrimSpace(line.Fields[5]))
	}
	if len(line.Fields) > 6 {
		failed, _ = strconv.Atoi(strings.TrimSpace(line.Fields[6]))
	}
	return saved, failed
}
