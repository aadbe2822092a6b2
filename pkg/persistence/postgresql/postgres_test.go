package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/flowpages/pkg/persistence"
	"github.com/dukex/flowpages/pkg/persistence/postgresql"
	"github.com/dukex/flowpages/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var (
	containerOnce sync.Once
	databaseURL   string
	containerErr  error
)

func startContainer(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("postgres tests need docker")
	}

	containerOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
		defer cancel()

		container, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("flowpages_test"),
			postgres.WithUsername("flowpages"),
			postgres.WithPassword("flowpages"),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			containerErr = err

			return
		}

		databaseURL, containerErr = container.ConnectionString(ctx, "sslmode=disable")
	})

	require.NoError(t, containerErr)

	return databaseURL
}

func resetDB(ctx context.Context, t *testing.T, url string) {
	t.Helper()

	db, err := sql.Open("postgres", url)
	require.NoError(t, err)

	for _, table := range []string{"runs", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	require.NoError(t, db.Close())
}

func setupTestDB(t *testing.T) *postgresql.Persistence {
	t.Helper()

	ctx := context.Background()
	url := startContainer(t)

	resetDB(ctx, t, url)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, url)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, p.Close(ctx))
	})

	return p
}

func TestRunRepository(t *testing.T) {
	testutil.RunRepositoryContract(t, func(t *testing.T) persistence.RunRepository {
		t.Helper()

		return setupTestDB(t).Runs()
	})
}

func TestNewPersistence_MigrationsAreIdempotent(t *testing.T) {
	p := setupTestDB(t)
	ctx := context.Background()

	run := testutil.CreateTestRun(testutil.WithID("kept"))
	require.NoError(t, p.Runs().Save(ctx, run))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	again, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	defer again.Close(ctx)

	got, err := again.Runs().GetByID(ctx, "kept")
	require.NoError(t, err)
	assert.Equal(t, run.WebhookURL, got.WebhookURL)
	assert.NoError(t, again.HealthCheck(ctx))
}
