package trigger

import (
	"errors"
	"fmt"
)

var (
	// ErrRunInFlight is returned by Invoke while a run is dispatching or tracked.
	ErrRunInFlight = errors.New("a run is already in flight for this trigger")

	// ErrTrackingTimeout settles a run whose terminal update never arrived.
	ErrTrackingTimeout = errors.New("timed out waiting for workflow result")

	// ErrRemoteWorkflow marks an error reported by the workflow itself.
	ErrRemoteWorkflow = errors.New("workflow reported an error")

	// ErrDisposed is returned by Invoke after Dispose.
	ErrDisposed = errors.New("trigger controller disposed")
)

// RunError describes why a run settled in error.
type RunError struct {
	Op    string
	RunID string
	Err   error
}

func (e *RunError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("%s run %s: %v", e.Op, e.RunID, e.Err)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func (e *RunError) Is(target error) bool {
	t, ok := target.(*RunError)
	if !ok {
		return false
	}

	return (t.Op == "" || t.Op == e.Op) && (t.RunID == "" || t.RunID == e.RunID)
}

// IsRemoteWorkflowError reports whether the workflow itself failed the run.
func IsRemoteWorkflowError(err error) bool {
	return errors.Is(err, ErrRemoteWorkflow)
}
