package models

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration indicates a trigger is missing required configuration.
	ErrConfiguration = errors.New("trigger configuration error")

	// ErrWebhookURLRequired indicates a trigger has no webhook URL.
	ErrWebhookURLRequired = fmt.Errorf("%w: webhook URL is required", ErrConfiguration)
)

// IsConfigurationError checks if an error is a trigger configuration error.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
