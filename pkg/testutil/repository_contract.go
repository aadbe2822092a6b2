package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/flowpages/pkg/models"
	"github.com/dukex/flowpages/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunRepositoryContract exercises the behaviour every RunRepository shares.
// newRepo must return an empty repository.
func RunRepositoryContract(t *testing.T, newRepo func(t *testing.T) persistence.RunRepository) {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("save and get", func(t *testing.T) {
		repo := newRepo(t)
		run := CreateTestRun()

		require.NoError(t, repo.Save(ctx, run))

		got, err := repo.GetByID(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, run.WebhookURL, got.WebhookURL)
		assert.Equal(t, models.RunPhaseAccepted, got.Status)
		assert.Equal(t, "a@example.com", got.Data["email"])
		assert.True(t, run.StartedAt.Equal(got.StartedAt))
	})

	t.Run("save overwrites", func(t *testing.T) {
		repo := newRepo(t)
		run := CreateTestRun()
		require.NoError(t, repo.Save(ctx, run))

		run.Apply(models.UpdateEvent{Step: "fetch", State: models.UpdateStateProgress, Message: "fetching"})
		require.NoError(t, repo.Save(ctx, run))

		got, err := repo.GetByID(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RunPhaseProgress, got.Status)
		assert.Equal(t, "fetching", got.LastMessage)
	})

	t.Run("missing run", func(t *testing.T) {
		repo := newRepo(t)

		_, err := repo.GetByID(ctx, "missing")
		require.Error(t, err)
		assert.True(t, persistence.IsRunNotFound(err))

		err = repo.Delete(ctx, "missing")
		assert.True(t, persistence.IsRunNotFound(err))
	})

	t.Run("invalid run", func(t *testing.T) {
		repo := newRepo(t)

		err := repo.Save(ctx, &models.Run{})
		require.ErrorIs(t, err, persistence.ErrInvalidRun)
	})

	t.Run("list newest first", func(t *testing.T) {
		repo := newRepo(t)

		runs, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, runs)

		older := CreateTestRun(WithID("older"), WithStartedAt(now.Add(-time.Hour)))
		newer := CreateTestRun(WithID("newer"), WithStartedAt(now))

		require.NoError(t, repo.Save(ctx, older))
		require.NoError(t, repo.Save(ctx, newer))

		runs, err = repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "newer", runs[0].ID)
		assert.Equal(t, "older", runs[1].ID)
	})

	t.Run("delete", func(t *testing.T) {
		repo := newRepo(t)
		run := CreateTestRun()
		require.NoError(t, repo.Save(ctx, run))

		require.NoError(t, repo.Delete(ctx, run.ID))

		_, err := repo.GetByID(ctx, run.ID)
		assert.True(t, persistence.IsRunNotFound(err))
	})

	t.Run("delete finished before cutoff", func(t *testing.T) {
		repo := newRepo(t)

		stale := CreateTestRun(WithID("stale"), WithFinished(models.RunPhaseDone, now.Add(-2*time.Hour)))
		failed := CreateTestRun(WithID("failed"), WithFinished(models.RunPhaseError, now.Add(-2*time.Hour)))
		recent := CreateTestRun(WithID("recent"), WithFinished(models.RunPhaseDone, now))
		running := CreateTestRun(WithID("running"), WithStartedAt(now.Add(-3*time.Hour)))

		for _, run := range []*models.Run{stale, failed, recent, running} {
			require.NoError(t, repo.Save(ctx, run))
		}

		removed, err := repo.DeleteFinishedBefore(ctx, now.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		runs, err := repo.List(ctx)
		require.NoError(t, err)

		ids := make([]string, 0, len(runs))
		for _, run := range runs {
			ids = append(ids, run.ID)
		}

		assert.ElementsMatch(t, []string{"recent", "running"}, ids)
	})
}
