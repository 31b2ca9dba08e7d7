package cli

import (
	"errors"
	"fmt"
)

// ExitError carries the process exit status for a failed command.
// A nil Err means the status is the result of the run, not a failure to report.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// Exit wraps err with a process exit status.
func Exit(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

// Status returns the exit status to use for err; 1 when none was attached.
func Status(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}
