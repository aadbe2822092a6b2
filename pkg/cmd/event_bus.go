// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/flowpages/pkg/channels/gochannel"
	"github.com/dukex/flowpages/pkg/channels/kafka"
	"github.com/dukex/flowpages/pkg/eventbus"
)

var ErrUnsupportedEventBus = fmt.Errorf("unsupported event bus provider")

// NewEventBus creates the run update bus. "gochannel" keeps updates inside
// the process; "kafka" shares them between relay instances.
func NewEventBus(provider string, brokers []string, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "", "gochannel":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	case "kafka":
		// An empty consumer group reads every partition, so each relay
		// instance receives every update.
		pub, sub, err := kafka.CreateChannel(wmLogger, brokers, "")
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEventBus, provider)
	}
}
