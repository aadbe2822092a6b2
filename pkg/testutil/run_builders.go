// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/dukex/flowpages/pkg/models"
	"github.com/google/uuid"
)

// CreateTestRun creates a test Run with default values that can be overridden.
func CreateTestRun(overrides ...func(*models.Run)) *models.Run {
	run := &models.Run{
		ID:            uuid.New().String(),
		WorkflowID:    "wf-test",
		WebhookURL:    "https://automation.example.com/webhook/test",
		Status:        models.RunPhaseAccepted,
		WaitForResult: true,
		Data:          map[string]any{"email": "a@example.com"},
		StartedAt:     time.Now().UTC().Truncate(time.Millisecond),
	}

	for _, override := range overrides {
		override(run)
	}

	return run
}

// WithID sets the run id.
func WithID(id string) func(*models.Run) {
	return func(r *models.Run) {
		r.ID = id
	}
}

// WithStartedAt sets the start time.
func WithStartedAt(at time.Time) func(*models.Run) {
	return func(r *models.Run) {
		r.StartedAt = at.UTC()
	}
}

// WithFinished marks the run as finished in the given phase at the given time.
func WithFinished(phase models.RunPhase, at time.Time) func(*models.Run) {
	return func(r *models.Run) {
		finished := at.UTC()
		r.Status = phase
		r.FinishedAt = &finished
		r.LastUpdate = &finished
	}
}
