package pipeline

import (
	"errors"
	"fmt"
)

// ErrMissingOutputDirectory is returned when no output directory candidate exists after the build.
var ErrMissingOutputDirectory = errors.New("no build output directory found")

// StageError is the terminal error of a failed job.
type StageError struct {
	Stage  StageName
	Reason FailureReason
	Err    error
	// ExitCode is set for commands that exited non-zero.
	ExitCode int
	// File is set for upload failures.
	File string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed (%s): %v", e.Stage, e.Reason, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// AsStageError extracts a *StageError from err.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// ExitError reports a command that exited non-zero.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
}
