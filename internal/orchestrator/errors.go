package orchestrator

import (
	"errors"
	"fmt"

	"github.com/dusk-indust/replaylab/internal/model"
)

// ErrCancelled is returned when the caller cancels a run while branches are
// in flight. Completed branch results are discarded.
var ErrCancelled = errors.New("run cancelled")

// ErrBusy is returned when Run is called on a Pipeline that is already
// running.
var ErrBusy = errors.New("pipeline is already running")

// Request validation errors, shared with model so requests can be checked
// before they reach a pipeline.
type (
	DuplicateBranchNameError = model.DuplicateBranchNameError
	InvalidBranchConfigError = model.InvalidBranchConfigError
)

// ErrNoBranches is returned for a request without branches.
var ErrNoBranches = model.ErrNoBranches

// ErrorKind tells callers whether a failed run was their fault, the
// system's, or cancelled.
type ErrorKind string

const (
	KindInvalidRequest ErrorKind = "invalid_request"
	KindInfrastructure ErrorKind = "infrastructure"
	KindCancelled      ErrorKind = "cancelled"
)

// RunError is the terminal error of a failed run.
type RunError struct {
	Kind ErrorKind
	// Step names the operation that failed, e.g. "load", "checkpoint".
	Step string
	Err  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Step, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// KindOf returns the RunError kind of err, or "" when err is not a RunError.
func KindOf(err error) ErrorKind {
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}
