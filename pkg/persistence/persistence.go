// Package persistence provides the storage abstraction for relay run records.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/flowpages/pkg/models"
)

type Persistence interface {
	Runs() RunRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// RunRepository stores run records keyed by run id.
type RunRepository interface {
	Save(ctx context.Context, run *models.Run) error
	GetByID(ctx context.Context, runID string) (*models.Run, error)
	// List returns runs, most recently started first.
	List(ctx context.Context) ([]*models.Run, error)
	Delete(ctx context.Context, runID string) error
	// DeleteFinishedBefore removes finished runs older than cutoff and returns
	// how many were removed.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
