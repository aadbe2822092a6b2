package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/flowpages/pkg/models"
	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds the status polling fallback: at most MaxAttempts status
// calls, with exponential backoff starting at InitialDelay and capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts  uint64
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy polls ten times, from 500ms doubling up to 5s between calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  10,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	}
}

func (p RetryPolicy) backoff() retry.Backoff { //nolint:ireturn // go-retry composes backoffs as interfaces
	initial := p.InitialDelay
	if initial <= 0 {
		initial = time.Millisecond
	}

	backoff := retry.NewExponential(initial)
	if p.MaxDelay > 0 {
		backoff = retry.WithCappedDuration(p.MaxDelay, backoff)
	}

	// WithMaxRetries counts retries, not calls.
	return retry.WithMaxRetries(p.MaxAttempts-1, backoff)
}

var errNotFinished = errors.New("run not finished")

// Poll fetches the run status until it reaches a terminal state or the retry
// policy is exhausted. Each distinct state is handed to onUpdate in order.
func (c *Client) Poll(ctx context.Context, runID string, onUpdate func(models.UpdateEvent)) error {
	var last *models.UpdateEvent

	err := retry.Do(ctx, c.policy.backoff(), func(ctx context.Context) error {
		event, err := c.Status(ctx, runID)
		if err != nil {
			if errors.Is(err, ErrRunNotFound) {
				return err
			}

			c.logger.WarnContext(ctx, "Status poll failed", "run_id", runID, "error", err)

			return retry.RetryableError(err)
		}

		if last == nil || changed(*last, event) {
			onUpdate(event)

			last = &event
		}

		if event.IsTerminal() {
			return nil
		}

		return retry.RetryableError(errNotFinished)
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, errNotFinished):
		return fmt.Errorf("run %s: %w", runID, ErrPollExhausted)
	default:
		return err
	}
}

func changed(previous, current models.UpdateEvent) bool {
	return previous.State != current.State ||
		previous.Step != current.Step ||
		previous.Message != current.Message
}
