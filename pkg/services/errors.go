// Package services holds the relay's run lifecycle logic behind the HTTP layer.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/flowpages/pkg/persistence"
)

// Validation errors (400 Bad Request).
var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrWebhookURLRequired = errors.New("webhook_url is required")
	ErrRunIDRequired      = errors.New("runId is required")
	ErrInvalidUpdate      = errors.New("invalid update")
)

// Lookup errors.
var (
	// ErrRunNotFound is returned when a run is not found (404).
	ErrRunNotFound = persistence.ErrRunNotFound

	// ErrAccessDenied is returned when a run belongs to another user (403).
	ErrAccessDenied = errors.New("access denied")

	// ErrRunnerNotConfigured is returned when no backend workflow runner is wired (404).
	ErrRunnerNotConfigured = errors.New("no workflow runner configured")
)

// Webhook errors (502 Bad Gateway).
var (
	ErrWebhook            = errors.New("webhook call failed")
	ErrWebhookStatus      = fmt.Errorf("%w: unexpected status", ErrWebhook)
	ErrWebhookUnreachable = fmt.Errorf("%w: unreachable", ErrWebhook)
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrWebhookURLRequired) ||
		errors.Is(err, ErrRunIDRequired) ||
		errors.Is(err, ErrInvalidUpdate)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrRunNotFound) || errors.Is(err, ErrRunnerNotConfigured)
}

// IsWebhookError checks if the upstream webhook failed.
func IsWebhookError(err error) bool {
	return errors.Is(err, ErrWebhook)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
