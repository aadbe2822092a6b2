package trigger

import (
	"context"

	"github.com/dukex/flowpages/pkg/models"
	"github.com/dukex/flowpages/pkg/stream"
)

type subscriberStreamer struct {
	subscriber *stream.Subscriber
}

// NewStreamer adapts a stream.Subscriber to the Streamer interface. The
// returned subscriptions report connection loss to the controller.
func NewStreamer(subscriber *stream.Subscriber) Streamer {
	return subscriberStreamer{subscriber: subscriber}
}

func (s subscriberStreamer) Subscribe(
	ctx context.Context,
	runID string,
	onUpdate func(models.UpdateEvent),
) (Subscription, error) {
	handle, err := s.subscriber.Subscribe(ctx, runID, onUpdate)
	if err != nil {
		return nil, err
	}

	return handle, nil
}
