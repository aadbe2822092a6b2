package cmd_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/flowpages/pkg/channels/kafka"
	"github.com/dukex/flowpages/pkg/cmd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	t.Parallel()

	server := miniredis.RunT(t)

	tests := []struct {
		name string
		url  string
	}{
		{name: "plain path", url: t.TempDir()},
		{name: "file scheme", url: "file://" + t.TempDir()},
		{name: "redis", url: "redis://" + server.Addr() + "/0"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			store, err := cmd.NewPersistence(context.Background(), slog.Default(), testCase.url)
			require.NoError(t, err)

			require.NoError(t, store.HealthCheck(context.Background()))
			require.NoError(t, store.Close(context.Background()))
		})
	}
}

func TestNewPersistence_UnreachablePostgres(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := cmd.NewPersistence(ctx, slog.Default(), "postgres://flowpages@127.0.0.1:1/flowpages?sslmode=disable&connect_timeout=1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping database")
}

func TestNewEventBus(t *testing.T) {
	t.Parallel()

	bus, err := cmd.NewEventBus("gochannel", nil, slog.Default())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = cmd.NewEventBus("kafka", nil, slog.Default())
	require.ErrorIs(t, err, kafka.ErrNoBrokers)

	_, err = cmd.NewEventBus("nats", nil, slog.Default())
	assert.ErrorIs(t, err, cmd.ErrUnsupportedEventBus)
}
