package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowpages/pkg/models"
	"github.com/dukex/flowpages/pkg/persistence"
)

// RunRepository stores each run as a JSONB record next to the columns used
// for listing and pruning.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

func (r *RunRepository) Save(ctx context.Context, run *models.Run) error {
	if run == nil || run.ID == "" {
		return persistence.NewRunError("Save", "", persistence.ErrInvalidRun)
	}

	record, err := json.Marshal(run)
	if err != nil {
		return persistence.NewRunError("Save", run.ID, err)
	}

	query := `
		INSERT INTO runs (id, workflow_id, user_id, status, started_at, finished_at, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			workflow_id = EXCLUDED.workflow_id
		  , user_id = EXCLUDED.user_id
		  , status = EXCLUDED.status
		  , started_at = EXCLUDED.started_at
		  , finished_at = EXCLUDED.finished_at
		  , record = EXCLUDED.record
	`

	_, err = r.db.ExecContext(ctx, query,
		run.ID, run.WorkflowID, run.UserID, string(run.Status), run.StartedAt, run.FinishedAt, record)
	if err != nil {
		return persistence.NewRunError("Save", run.ID, err)
	}

	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, runID string) (*models.Run, error) {
	var record []byte

	err := r.db.QueryRowContext(ctx, "SELECT record FROM runs WHERE id = $1", runID).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRunError("GetByID", runID, persistence.ErrRunNotFound)
	}

	if err != nil {
		return nil, persistence.NewRunError("GetByID", runID, err)
	}

	var run models.Run
	if err := json.Unmarshal(record, &run); err != nil {
		return nil, persistence.NewRunError("GetByID", runID, err)
	}

	return &run, nil
}

func (r *RunRepository) List(ctx context.Context) ([]*models.Run, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, record FROM runs ORDER BY started_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.Run, 0)

	for rows.Next() {
		var (
			id     string
			record []byte
		)

		if err := rows.Scan(&id, &record); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		var run models.Run
		if err := json.Unmarshal(record, &run); err != nil {
			return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
		}

		runs = append(runs, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

func (r *RunRepository) Delete(ctx context.Context, runID string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM runs WHERE id = $1", runID)
	if err != nil {
		return persistence.NewRunError("Delete", runID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRunError("Delete", runID, err)
	}

	if affected == 0 {
		return persistence.NewRunError("Delete", runID, persistence.ErrRunNotFound)
	}

	return nil
}

func (r *RunRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM runs WHERE status IN ($1, $2) AND finished_at IS NOT NULL AND finished_at < $3",
		string(models.RunPhaseDone), string(models.RunPhaseError), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	return int(affected), nil
}
