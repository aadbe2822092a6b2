package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrStreamParse indicates a push frame could not be decoded. Such frames are dropped.
	ErrStreamParse = errors.New("malformed stream frame")

	// ErrStreamConnection indicates the push channel itself failed.
	ErrStreamConnection = errors.New("stream connection error")

	// ErrStreamEnded indicates the server closed the channel before a terminal event.
	ErrStreamEnded = fmt.Errorf("%w: stream ended before a terminal event", ErrStreamConnection)

	// ErrRunIDRequired is returned when subscribing without a run id.
	ErrRunIDRequired = errors.New("run id is required")
)

// ConnectionError wraps a push channel failure for one run.
type ConnectionError struct {
	RunID      string
	StatusCode int
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("stream for run %s: status %d: %v", e.RunID, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("stream for run %s: %v", e.RunID, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Is(target error) bool {
	return target == ErrStreamConnection || errors.Is(e.Err, target)
}

// IsConnectionError checks if an error is a push channel failure.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrStreamConnection)
}
