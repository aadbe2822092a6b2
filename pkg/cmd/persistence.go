package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowpages/pkg/persistence"
	"github.com/dukex/flowpages/pkg/persistence/file"
	"github.com/dukex/flowpages/pkg/persistence/postgresql"
	"github.com/dukex/flowpages/pkg/persistence/redis"
)

var supportedPersistenceProviders = []string{"file", "redis", "rediss", "postgres", "postgresql"}

// NewPersistence picks the run store from the URL scheme. URLs without a
// known scheme are file paths.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, err
		}

		return store, nil
	case "redis", "rediss":
		store, err := redis.NewPersistence(databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		return store, nil
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	parts := strings.Split(databaseURL, "://")

	provider := parts[0]
	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}
