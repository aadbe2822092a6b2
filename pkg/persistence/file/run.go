package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dukex/flowpages/pkg/models"
	"github.com/dukex/flowpages/pkg/persistence"
)

const runsDir = "runs"

// RunRepository stores each run as a JSON file under <root>/runs.
type RunRepository struct {
	root string
	mu   sync.RWMutex
}

// NewRunRepository creates a new run repository.
func NewRunRepository(root string) *RunRepository {
	return &RunRepository{root: root}
}

func (rr *RunRepository) Save(_ context.Context, run *models.Run) error {
	if run == nil || !validID(run.ID) {
		return persistence.NewRunError("Save", runID(run), persistence.ErrInvalidRun)
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	if err := os.MkdirAll(filepath.Join(rr.root, runsDir), 0o750); err != nil {
		return fmt.Errorf("failed to create runs directory: %w", err)
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return persistence.NewRunError("Save", run.ID, err)
	}

	return os.WriteFile(rr.path(run.ID), data, 0o600)
}

func (rr *RunRepository) GetByID(_ context.Context, id string) (*models.Run, error) {
	if !validID(id) {
		return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
	}

	rr.mu.RLock()
	defer rr.mu.RUnlock()

	return rr.read(id)
}

func (rr *RunRepository) List(_ context.Context) ([]*models.Run, error) {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	return rr.all()
}

func (rr *RunRepository) Delete(_ context.Context, id string) error {
	if !validID(id) {
		return persistence.NewRunError("Delete", id, persistence.ErrRunNotFound)
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	err := os.Remove(rr.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return persistence.NewRunError("Delete", id, persistence.ErrRunNotFound)
	}

	return err
}

func (rr *RunRepository) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	runs, err := rr.all()
	if err != nil {
		return 0, err
	}

	removed := 0

	for _, run := range runs {
		if !run.Status.Finished() || run.FinishedAt == nil || !run.FinishedAt.Before(cutoff) {
			continue
		}

		if err := os.Remove(rr.path(run.ID)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("failed to remove run %s: %w", run.ID, err)
		}

		removed++
	}

	return removed, nil
}

func (rr *RunRepository) read(id string) (*models.Run, error) {
	body, err := os.ReadFile(rr.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", id, err)
	}

	var run models.Run
	if err := json.Unmarshal(body, &run); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
	}

	return &run, nil
}

func (rr *RunRepository) all() ([]*models.Run, error) {
	jsonFiles, err := fs.Glob(os.DirFS(filepath.Join(rr.root, runsDir)), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list run files: %w", err)
	}

	runs := make([]*models.Run, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		run, err := rr.read(strings.TrimSuffix(file, ".json"))
		if persistence.IsRunNotFound(err) {
			continue
		}

		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	return runs, nil
}

func (rr *RunRepository) path(id string) string {
	return filepath.Join(rr.root, runsDir, id+".json")
}

func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}

func runID(run *models.Run) string {
	if run == nil {
		return ""
	}

	return run.ID
}
