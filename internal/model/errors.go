package model

import (
	"errors"
	"fmt"
)

// ErrNoBranches is returned when a request declares no branches.
var ErrNoBranches = errors.New("request must declare at least one branch")

// DuplicateBranchNameError is returned when two branches share a name.
type DuplicateBranchNameError struct {
	Name string
}

func (e *DuplicateBranchNameError) Error() string {
	return fmt.Sprintf("duplicate branch name %q", e.Name)
}

// InvalidBranchConfigError reports a branch config that cannot be executed.
type InvalidBranchConfigError struct {
	Index  int
	Name   string
	Reason string
}

func (e *InvalidBranchConfigError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("branch %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("branch %q: %s", e.Name, e.Reason)
}

// InvalidRequestError reports a malformed request field.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a request validation failure. Such
// errors are never worth retrying.
func IsValidation(err error) bool {
	var (
		dup *DuplicateBranchNameError
		cfg *InvalidBranchConfigError
		req *InvalidRequestError
	)
	return errors.Is(err, ErrNoBranches) ||
		errors.As(err, &dup) ||
		errors.As(err, &cfg) ||
		errors.As(err, &req)
}
