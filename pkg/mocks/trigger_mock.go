package mocks

import (
	"context"

	"github.com/dukex/flowpages/pkg/models"
	"github.com/dukex/flowpages/pkg/trigger"
	"github.com/stretchr/testify/mock"
)

// MockDispatcher is a mock implementation of trigger.Dispatcher interface.
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, cfg models.TriggerConfig, req models.RunRequest) models.RunResult {
	args := m.Called(ctx, cfg, req)

	return args.Get(0).(models.RunResult)
}

// MockStreamer is a mock implementation of trigger.Streamer interface.
type MockStreamer struct {
	mock.Mock
}

func (m *MockStreamer) Subscribe(
	ctx context.Context,
	runID string,
	onUpdate func(models.UpdateEvent),
) (trigger.Subscription, error) {
	args := m.Called(ctx, runID, onUpdate)

	sub, _ := args.Get(0).(trigger.Subscription)

	return sub, args.Error(1)
}

// MockSubscription is a mock implementation of trigger.Subscription interface.
type MockSubscription struct {
	mock.Mock
}

func (m *MockSubscription) Close() {
	m.Called()
}

// MockPoller is a mock implementation of trigger.Poller interface.
type MockPoller struct {
	mock.Mock
}

func (m *MockPoller) Poll(ctx context.Context, runID string, onUpdate func(models.UpdateEvent)) error {
	args := m.Called(ctx, runID, onUpdate)

	return args.Error(0)
}
