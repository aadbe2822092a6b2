package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport indicates the dispatch or status call failed on the wire.
	ErrTransport = errors.New("workflow transport error")

	// ErrRunNotFound is returned when the backend does not know the run id.
	ErrRunNotFound = errors.New("run not found")

	// ErrPollExhausted is returned when polling gave up before a terminal state.
	ErrPollExhausted = errors.New("status polling exhausted before run finished")
)

// Error wraps a failed HTTP exchange with the best message the server gave.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error comparison for transport errors.
func (e *Error) Is(target error) bool {
	return target == ErrTransport || errors.Is(e.Err, target)
}

// IsTransportError checks if an error came from the transport layer.
func IsTransportError(err error) bool {
	return errors.Is(err, ErrTransport)
}
