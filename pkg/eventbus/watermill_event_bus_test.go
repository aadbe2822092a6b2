package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/flowpages/pkg/channels/gochannel"
	"github.com/dukex/flowpages/pkg/eventbus"
	"github.com/dukex/flowpages/pkg/events"
	"github.com/dukex/flowpages/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestWatermillEventBus_DeliversToHandler(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newBus(t)
	received := make(chan *events.RunUpdated, 1)

	require.NoError(t, bus.Handle(events.RunUpdatedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.RunUpdated)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	run := &models.Run{ID: "run-1", WorkflowID: "wf-1"}

	require.NoError(t, bus.Publish(ctx, run.ID, events.NewRunStarted(run)))
	require.NoError(t, bus.Publish(ctx, run.ID, events.NewRunUpdated(run, models.UpdateEvent{
		Step: "fetch", State: models.UpdateStateProgress, Message: "fetching",
	})))

	select {
	case event := <-received:
		assert.Equal(t, "run-1", event.RunID)
		assert.Equal(t, "fetching", event.Update.Message)
		assert.Equal(t, models.UpdateStateProgress, event.Update.State)
	case <-time.After(2 * time.Second):
		t.Fatal("update was not delivered")
	}
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	t.Parallel()

	bus := newBus(t)

	assert.NotEqual(t, bus.GenerateID(), bus.GenerateID())
}
