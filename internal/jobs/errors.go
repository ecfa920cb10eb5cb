package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrOutputExists guards completed work from being redone or clobbered.
	ErrOutputExists = errors.New("output already exists")
	// ErrOutputMissing means a collaborator reported success without
	// producing its output file.
	ErrOutputMissing = errors.New("output missing after reported success")
	// ErrInputMissing means the job's input file is gone.
	ErrInputMissing = errors.New("input missing")
)

// Error is a recoverable job failure with a message meant for the operator.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind error, format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Err: kind}
}

// IsJobError reports whether err carries a *Error.
func IsJobError(err error) bool {
	var jobErr *Error
	return errors.As(err, &jobErr)
}
