package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrRunNotFound indicates a run was not found by the given identifier.
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidRun indicates a run record cannot be stored.
	ErrInvalidRun = errors.New("invalid run")
)

// RunError wraps run-related errors with additional context.
type RunError struct {
	Op    string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	RunID string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s operation failed for run %s: %v", e.Op, e.RunID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for run errors.
func (e *RunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRunError creates a new run error with context.
func NewRunError(op, runID string, err error) *RunError {
	return &RunError{
		Op:    op,
		RunID: runID,
		Err:   err,
	}
}

// IsRunNotFound checks if an error indicates a run was not found.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}
