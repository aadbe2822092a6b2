package trigger_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dukex/flowpages/pkg/document"
	"github.com/dukex/flowpages/pkg/mocks"
	"github.com/dukex/flowpages/pkg/models"
	"github.com/dukex/flowpages/pkg/trigger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testSettleDelay = 20 * time.Millisecond
	testResultDelay = 40 * time.Millisecond
	waitFor         = 2 * time.Second
	tick            = 5 * time.Millisecond
)

type fakeTarget struct {
	mu       sync.Mutex
	id       string
	cfg      models.TriggerConfig
	form     map[string]string
	enabled  bool
	labels   []string
	statuses []string
	result   string
}

func newTarget(cfg models.TriggerConfig) *fakeTarget {
	cfg.ShowStatus = true

	return &fakeTarget{
		id:      "trigger-1",
		cfg:     cfg,
		form:    map[string]string{"email": "a@example.com"},
		enabled: true,
	}
}

func (f *fakeTarget) ComponentID() string { return f.id }

func (f *fakeTarget) Config() models.TriggerConfig {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.cfg
}

func (f *fakeTarget) FormData() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.form
}

func (f *fakeTarget) SetEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.enabled = enabled
}

func (f *fakeTarget) SetLabel(label string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.labels = append(f.labels, label)
}

func (f *fakeTarget) SetStatus(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.statuses = append(f.statuses, text)
}

func (f *fakeTarget) SetResult(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.result = text
}

func (f *fakeTarget) ClearResult() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.result = ""
}

func (f *fakeTarget) label() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.labels) == 0 {
		return ""
	}

	return f.labels[len(f.labels)-1]
}

func (f *fakeTarget) status() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.statuses) == 0 {
		return ""
	}

	return f.statuses[len(f.statuses)-1]
}

func (f *fakeTarget) allStatuses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.statuses...)
}

func (f *fakeTarget) isEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.enabled
}

func (f *fakeTarget) resultText() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.result
}

func testOptions() trigger.Options {
	return trigger.Options{SettleDelay: testSettleDelay, ResultDelay: testResultDelay}
}

func newController(
	t *testing.T,
	target trigger.Target,
	dispatcher trigger.Dispatcher,
	streamer trigger.Streamer,
	opts trigger.Options,
) *trigger.Controller {
	t.Helper()

	controller := trigger.New(target, dispatcher, streamer, opts)
	t.Cleanup(controller.Dispose)

	return controller
}

// expectSubscribe registers a subscription for runID and returns a getter for
// the update callback handed to the streamer.
func expectSubscribe(streamer *mocks.MockStreamer, runID string, sub trigger.Subscription) func() func(models.UpdateEvent) {
	var (
		mu       sync.Mutex
		onUpdate func(models.UpdateEvent)
	)

	streamer.On("Subscribe", mock.Anything, runID, mock.Anything).
		Run(func(args mock.Arguments) {
			mu.Lock()
			defer mu.Unlock()

			onUpdate = args.Get(2).(func(models.UpdateEvent))
		}).
		Return(sub, nil).
		Once()

	return func() func(models.UpdateEvent) {
		mu.Lock()
		defer mu.Unlock()

		return onUpdate
	}
}

func closableSubscription() *mocks.MockSubscription {
	sub := &mocks.MockSubscription{}
	sub.On("Close").Return()

	return sub
}

func TestController_ImmediateResultNeverTracks(t *testing.T) {
	t.Parallel()

	target := newTarget(models.TriggerConfig{WebhookURL: "https://ex.com/webhook/abc", ButtonLabel: "Send"})
	dispatcher := &mocks.MockDispatcher{}
	streamer := &mocks.MockStreamer{}

	var request models.RunRequest

	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { request = args.Get(2).(models.RunRequest) }).
		Return(models.RunResult{Status: models.RunStatusAccepted, Message: "queued", RunID: "r1"}).
		Once()

	controller := newController(t, target, dispatcher, streamer, testOptions())

	require.NoError(t, controller.Invoke(context.Background()))

	assert.Equal(t, trigger.StateSucceeded, controller.State())
	assert.Equal(t, trigger.LabelSuccess, target.label())
	assert.Equal(t, "queued", target.status())
	assert.True(t, target.isEnabled())
	assert.Equal(t, "trigger-1", request.ComponentID)
	assert.Equal(t, map[string]string{"email": "a@example.com"}, request.FormData)

	streamer.AssertNotCalled(t, "Subscribe", mock.Anything, mock.Anything, mock.Anything)

	require.Eventually(t, func() bool { return controller.State() == trigger.StateIdle }, waitFor, tick)
	assert.Equal(t, "Send", target.label())
	assert.Equal(t, "queued", target.status(), "status is retained after reset")
}

func TestController_TracksUntilDone(t *testing.T) {
	t.Parallel()

	target := newTarget(models.TriggerConfig{WebhookURL: "https://ex.com/webhook/abc", WaitForResult: true})
	dispatcher := &mocks.MockDispatcher{}
	streamer := &mocks.MockStreamer{}
	sub := closableSubscription()

	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).
		Return(models.RunResult{Status: models.RunStatusAccepted, RunID: "r1"}).
		Once()

	onUpdate := expectSubscribe(streamer, "r1", sub)

	controller := newController(t, target, dispatcher, streamer, testOptions())

	require.NoError(t, controller.Invoke(context.Background()))
	require.Equal(t, trigger.StateTracking, controller.State())
	assert.False(t, target.isEnabled())
	assert.Equal(t, trigger.LabelRunning, target.label())

	emit := onUpdate()
	emit(models.UpdateEvent{Step: "fetch", State: models.UpdateStateProgress, Message: "fetching"})

	assert.Equal(t, "fetching", target.status())
	assert.Equal(t, trigger.StateTracking, controller.State())

	emit(models.UpdateEvent{Step: "done", State: models.UpdateStateDone, Data: map[string]any{"ok": true}})

	assert.Equal(t, trigger.StateSucceeded, controller.State())
	assert.Contains(t, target.resultText(), `"ok": true`)
	assert.Equal(t, trigger.StatusCompleted, target.status())
	assert.True(t, target.isEnabled())

	emit(models.UpdateEvent{Step: "late", State: models.UpdateStateProgress, Message: "late"})
	assert.Equal(t, trigger.StatusCompleted, target.status())

	sub.AssertNumberOfCalls(t, "Close", 1)
	streamer.AssertNumberOfCalls(t, "Subscribe", 1)

	require.Eventually(t, func() bool { return controller.State() == trigger.StateIdle }, waitFor, tick)
	assert.Contains(t, target.resultText(), `"ok": true`, "result is retained after reset")
}

func TestController_FinalStatusFollowsTerminalEvent(t *testing.T) {
	t.Parallel()

	target := newTarget(models.TriggerConfig{WebhookURL: "https://ex.com/webhook/abc", WaitForResult: true})
	dispatcher := &mocks.MockDispatcher{}
	streamer := &mocks.MockStreamer{}
	sub := closableSubscription()

	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).
		Return(models.RunResult{Status: models.RunStatusAccepted, RunID: "r2"})

	onUpdate := expectSubscribe(streamer, "r2", sub)

	controller := newController(t, target, dispatcher, streamer, testOptions())
	require.NoError(t, controller.Invoke(context.Background()))

	emit := onUpdate()
	emit(models.UpdateEvent{Step: "a", State: models.UpdateStateProgress, Message: "step a"})
	emit(models.UpdateEvent{Step: "b", State: models.UpdateStateProgress, Message: "step b"})
	emit(models.UpdateEvent{Step: "end", State: models.UpdateStateDone, Message: "all done"})
	emit(models.UpdateEvent{Step: "c", State: models.UpdateStateProgress, Message: "step c"})

	statuses := target.allStatuses()
	assert.Equal(t, []string{trigger.StatusDispatching, trigger.StatusTracking, "step a", "step b", "all done"}, statuses)
	sub.AssertNumberOfCalls(t, "Close", 1)
}

func TestController_MissingWebhookURL(t *testing.T) {
	t.Parallel()

	target := newTarget(models.TriggerConfig{})
	dispatcher := &mocks.MockDispatcher{}
	streamer := &mocks.MockStreamer{}

	controller := newController(t, target, dispatcher, streamer, testOptions())

	require.NoError(t, controller.Invoke(context.Background()))

	assert.Equal(t, trigger.StateFailed, controller.State())
	assert.Equal(t, trigger.LabelError, target.label())
	assert.Equal(t, models.ErrWebhookURLRequired.Error(), target.status())

	outcome := controller.Outcome()
	require.ErrorIs(t, outcome.Err, models.ErrWebhookURLRequired)
	assert.True(t, models.IsConfigurationError(outcome.Err))

	dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
	streamer.AssertNotCalled(t, "Subscribe", mock.Anything, mock.Anything, mock.Anything)

	require.Eventually(t, func() bool { return controller.State() == trigger.StateIdle }, waitFor, tick)
	assert.Equal(t, trigger.DefaultButtonLabel, target.label())
}

func TestController_DispatchFailure(t *testing.T) {
	t.Parallel()

	networkErr := errors.New("dial tcp: connection refused")

	target := newTarget(models.TriggerConfig{WebhookURL: "https://ex.com/webhook/abc", WaitForResult: true})
	dispatcher := &mocks.MockDispatcher{}

	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).
		Return(models.FailedResult("Failed to trigger workflow: "+networkErr.Error(), networkErr))

	controller := newController(t, target, dispatcher, nil, testOptions())

	require.NoError(t, controller.Invoke(context.Background()))

	assert.Equal(t, trigger.StateFailed, controller.State())
	assert.NotEmpty(t, target.status())
	assert.True(t, target.isEnabled())

	outcome := controller.Outcome()
	require.ErrorIs(t, outcome.Err, networkErr)
	assert.False(t, trigger.IsRemoteWorkflowError(outcome.Err))

	require.Eventually(t, func() bool { return controller.State() == trigger.StateIdle }, waitFor, tick)
	assert.True(t, target.isEnabled())
	assert.Equal(t, trigger.DefaultButtonLabel, target.label())
}

func TestController_RemoteErrorResult(t *testing.T) {
	t.Parallel()

	target := newTarget(models.TriggerConfig{WebhookURL: "https://ex.com/webhook/abc"})
	dispatcher := &mocks.MockDispatcher{}

	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).
		Return(models.ErrorResult("Webhook returned status 500"))

	controller := newController(t, target, dispatcher, nil, testOptions())

	require.NoError(t, controller.Invoke(context.Background()))

	assert.Equal(t, trigger.StateFailed, controller.State())
	assert.Equal(t, "Webhook returned status 500", target.status())
	assert.True(t, trigger.IsRemoteWorkflowError(controller.Outcome().Err))
}

func TestController_StreamErrorEvent(t *testing.T) {
	t.Parallel()

	target := newTarget(models.TriggerConfig{WebhookURL: "https://ex.com/webhook/abc", WaitForResult: true})
	dispatcher := &mocks.MockDispatcher{}
	streamer := &mocks.MockStreamer{}
	sub := closableSubscription()

	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).
		Return(models.RunResult{Status: models.RunStatusAccepted, RunID: "r3"})

	onUpdate := expectSubscribe(streamer, "r3", sub)

	controller := newController(t, target, dispatcher, streamer, testOptions())
	require.NoError(t, controller.Invoke(context.Background()))

	emit := onUpdate()
	emit(models.UpdateEvent{Step: "x", State: models.UpdateStateError, Message: "boom"})
	emit(models.UpdateEvent{Step: "y", State: models.UpdateStateDone, Message: "stale"})

	assert.Equal(t, trigger.StateFailed, controller.State())
	assert.Equal(t, "boom", target.status())
	assert.Equal(t, "boom", target.resultText())
	sub.AssertNumberOfCalls(t, "Close", 1)

	outcome := controller.Outcome()
	assert.True(t, trigger.IsRemoteWorkflowError(outcome.Err))
	assert.ErrorIs(t, outcome.Err, &trigger.RunError{Op: "track", RunID: "r3"})
}

func TestController_RejectsReinvokeWhileDispatching(t *testing.T) {
	t.Parallel()

	target := newTarget(models.TriggerConfig{WebhookURL: "https://ex.com/webhook/abc"})
	dispatcher := &mocks.MockDispatcher{}
	gate := make(chan time.Time)

	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).
		WaitUntil(gate).
		Return(models.RunResult{Status: models.RunStatusSuccess})

	controller := newController(t, target, dispatcher, nil, testOptions())

	first := make(chan error, 1)

	go func() {
		first <- controller.Invoke(context.Background())
	}()

	require.Eventually(t, func() bool { return controller.State() == trigger.StateDispatching }, waitFor, tick)

	err := controller.Invoke(context.Background())
	require.ErrorIs(t, err, trigger.ErrRunInFlight)

	close(gate)
	require.NoError(t, <-first)

	dispatcher.AssertNumberOfCalls(t, "Dispatch", 1)
	assert.Equal(t, trigger.StateSucceeded, controller.State())
}

func TestController_RejectsReinvokeWhileTracking(t *testing.T) {
	t.Parallel()

	target := newTarget(models.TriggerConfig{WebhookURL: "https://ex.com/webhook/abc", WaitForResult: true})
	dispatcher := &mocks.MockDispatcher{}
	streamer := &mocks.MockStreamer{}
	sub := closableSubscription()

	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).
		Return(models.RunResult{Status: models.RunStatusAccepted, RunID: "r4"})

	expectSubscribe(streamer, "r4", sub)

	controller := newController(t, target, dispatcher, streamer, testOptions())
	require.NoError(t, controller.Invoke(context.Background()))

	require.ErrorIs(t, controller.Invoke(context.Background()), trigger.ErrRunInFlight)

	dispatcher.AssertNumberOfCalls(t, "Dispatch", 1)
	streamer.AssertNumberOfCalls(t, "Subscribe", 1)
}

func TestController_InvokeWhileSettledCancelsReset(t *testing.T) {
	t.Parallel()

	target := newTarget(models.TriggerConfig{WebhookURL: "https://ex.com/webhook/abc", ButtonLabel: "Go"})
	dispatcher := &mocks.MockDispatcher{}

	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).
		Return(models.ErrorResult("nope")).Once()
	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).
		Return(models.RunResult{Status: models.RunStatusSuccess, Data: map[string]any{"n": 1}}).Once()

	controller := newController(t, target, dispatcher, nil, trigger.Options{
		SettleDelay: 50 * time.Millisecond,
		ResultDelay: time.Hour,
	})

	require.NoError(t, controller.Invoke(context.Background()))
	require.Equal(t, trigger.StateFailed, controller.State())

	require.NoError(t, controller.Invoke(context.Background()))
	require.Equal(t, trigger.StateSucceeded, controller.State())
	assert.Contains(t, target.resultText(), `"n": 1`)

	// the reset scheduled by the first run must not fire for the second
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, trigger.StateSucceeded, controller.State())
	assert.Equal(t, trigger.LabelSuccess, target.label())
}

func TestController_TrackingTimeout(t *testing.T) {
	t.Parallel()

	target := newTarget(models.TriggerConfig{WebhookURL: "https://ex.com/webhook/abc", WaitForResult: true})
	dispatcher := &mocks.MockDispatcher{}
	streamer := &mocks.MockStreamer{}
	sub := closableSubscription()

	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).
		Return(models.RunResult{Status: models.RunStatusAccepted, RunID: "r5"})

	onUpdate := expectSubscribe(streamer, "r5", sub)

	opts := testOptions()
	opts.TrackingTimeout = 30 * time.Millisecond

	controller := newController(t, target, dispatcher, streamer, opts)
	require.NoError(t, controller.Invoke(context.Background()))

	require.Eventually(t, func() bool { return controller.State() == trigger.StateFailed }, waitFor, tick)
	require.ErrorIs(t, controller.Outcome().Err, trigger.ErrTrackingTimeout)
	assert.Equal(t, trigger.ErrTrackingTimeout.Error(), target.status())

	onUpdate()(models.UpdateEvent{Step: "late", State: models.UpdateStateDone})
	assert.Equal(t, trigger.StateFailed, controller.State())
	sub.AssertNumberOfCalls(t, "Close", 1)
}

func TestController_FallsBackToPolling(t *testing.T) {
	t.Parallel()

	target := newTarget(models.TriggerConfig{WebhookURL: "https://ex.com/webhook/abc", WaitForResult: true})
	dispatcher := &mocks.MockDispatcher{}
	streamer := &mocks.MockStreamer{}
	poller := &mocks.MockPoller{}

	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).
		Return(models.RunResult{Status: models.RunStatusAccepted, RunID: "r6"})
	streamer.On("Subscribe", mock.Anything, "r6", mock.Anything).
		Return(nil, errors.New("stream unavailable"))
	poller.On("Poll", mock.Anything, "r6", mock.Anything).
		Run(func(args mock.Arguments) {
			onUpdate := args.Get(2).(func(models.UpdateEvent))
			onUpdate(models.UpdateEvent{Step: "s", State: models.UpdateStateProgress, Message: "polled"})
			onUpdate(models.UpdateEvent{Step: "done", State: models.UpdateStateDone, Message: "finished"})
		}).
		Return(nil)

	opts := testOptions()
	opts.Poller = poller

	controller := newController(t, target, dispatcher, streamer, opts)
	require.NoError(t, controller.Invoke(context.Background()))

	require.Eventually(t, func() bool { return controller.State() == trigger.StateSucceeded }, waitFor, tick)
	assert.Equal(t, "finished", target.status())
	assert.Contains(t, target.allStatuses(), "polled")
}

func TestController_SubscribeFailureWithoutPoller(t *testing.T) {
	t.Parallel()

	target := newTarget(models.TriggerConfig{WebhookURL: "https://ex.com/webhook/abc", WaitForResult: true})
	dispatcher := &mocks.MockDispatcher{}
	streamer := &mocks.MockStreamer{}
	streamErr := errors.New("stream unavailable")

	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).
		Return(models.RunResult{Status: models.RunStatusAccepted, RunID: "r7"})
	streamer.On("Subscribe", mock.Anything, "r7", mock.Anything).Return(nil, streamErr)

	controller := newController(t, target, dispatcher, streamer, testOptions())
	require.NoError(t, controller.Invoke(context.Background()))

	assert.Equal(t, trigger.StateFailed, controller.State())
	require.ErrorIs(t, controller.Outcome().Err, streamErr)
	assert.True(t, target.isEnabled())
}

type watchedSubscription struct {
	closes int
	mu     sync.Mutex
	done   chan struct{}
	err    error
}

func (w *watchedSubscription) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closes++
}

func (w *watchedSubscription) Done() <-chan struct{} { return w.done }

func (w *watchedSubscription) Err() error {
	<-w.done

	return w.err
}

func TestController_ConnectionLossMarksStale(t *testing.T) {
	t.Parallel()

	target := newTarget(models.TriggerConfig{WebhookURL: "https://ex.com/webhook/abc", WaitForResult: true})
	dispatcher := &mocks.MockDispatcher{}
	streamer := &mocks.MockStreamer{}
	sub := &watchedSubscription{done: make(chan struct{}), err: errors.New("connection reset")}

	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).
		Return(models.RunResult{Status: models.RunStatusAccepted, RunID: "r8"})
	expectSubscribe(streamer, "r8", sub)

	controller := newController(t, target, dispatcher, streamer, testOptions())
	require.NoError(t, controller.Invoke(context.Background()))

	close(sub.done)

	require.Eventually(t, controller.Stale, waitFor, tick)
	assert.Equal(t, trigger.StateTracking, controller.State())
	assert.Equal(t, trigger.StatusConnectionLost, target.status())
}

func TestController_DisposeClosesSubscription(t *testing.T) {
	t.Parallel()

	target := newTarget(models.TriggerConfig{WebhookURL: "https://ex.com/webhook/abc", WaitForResult: true})
	dispatcher := &mocks.MockDispatcher{}
	streamer := &mocks.MockStreamer{}
	sub := closableSubscription()

	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).
		Return(models.RunResult{Status: models.RunStatusAccepted, RunID: "r9"})

	onUpdate := expectSubscribe(streamer, "r9", sub)

	controller := trigger.New(target, dispatcher, streamer, testOptions())
	require.NoError(t, controller.Invoke(context.Background()))

	controller.Dispose()
	controller.Dispose()

	sub.AssertNumberOfCalls(t, "Close", 1)

	onUpdate()(models.UpdateEvent{Step: "done", State: models.UpdateStateDone, Message: "ignored"})
	assert.NotEqual(t, "ignored", target.status())

	require.ErrorIs(t, controller.Invoke(context.Background()), trigger.ErrDisposed)
}

func TestController_StatusHiddenWhenDisabled(t *testing.T) {
	t.Parallel()

	target := newTarget(models.TriggerConfig{WebhookURL: "https://ex.com/webhook/abc"})
	target.cfg.ShowStatus = false

	dispatcher := &mocks.MockDispatcher{}
	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).
		Return(models.RunResult{Status: models.RunStatusSuccess, Message: "ok"})

	controller := newController(t, target, dispatcher, nil, testOptions())
	require.NoError(t, controller.Invoke(context.Background()))

	assert.Equal(t, trigger.StateSucceeded, controller.State())
	assert.Empty(t, target.allStatuses())
}

func TestController_ObserverSeesTransitionsInOrder(t *testing.T) {
	t.Parallel()

	var (
		mu          sync.Mutex
		transitions []trigger.State
	)

	target := newTarget(models.TriggerConfig{WebhookURL: "https://ex.com/webhook/abc", WaitForResult: true})
	dispatcher := &mocks.MockDispatcher{}
	streamer := &mocks.MockStreamer{}
	sub := closableSubscription()

	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).
		Return(models.RunResult{Status: models.RunStatusAccepted, RunID: "r10"})

	onUpdate := expectSubscribe(streamer, "r10", sub)

	opts := testOptions()
	opts.Observer = func(t trigger.Transition) {
		mu.Lock()
		defer mu.Unlock()

		transitions = append(transitions, t.To)
	}

	controller := newController(t, target, dispatcher, streamer, opts)
	require.NoError(t, controller.Invoke(context.Background()))

	onUpdate()(models.UpdateEvent{Step: "a", State: models.UpdateStateProgress})
	onUpdate()(models.UpdateEvent{Step: "b", State: models.UpdateStateDone})

	require.Eventually(t, func() bool { return controller.State() == trigger.StateIdle }, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []trigger.State{
		trigger.StateDispatching,
		trigger.StateTracking,
		trigger.StateTracking,
		trigger.StateSucceeded,
		trigger.StateIdle,
	}, transitions)
}

func TestState_Visual(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state    trigger.State
		expected trigger.VisualState
	}{
		{trigger.StateIdle, trigger.VisualIdle},
		{trigger.StateDispatching, trigger.VisualRunning},
		{trigger.StateTracking, trigger.VisualRunning},
		{trigger.StateSucceeded, trigger.VisualSuccess},
		{trigger.StateFailed, trigger.VisualError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.state.Visual(), string(tt.state))
	}
}

func TestController_InvokeWhileSettledKeepsElementLabel(t *testing.T) {
	t.Parallel()

	doc, err := document.Load(strings.NewReader(
		`<html><body><button id="go" class="workflow-trigger" data-webhook-url="https://ex.com/webhook/go">Go</button></body></html>`))
	require.NoError(t, err)

	el, ok := doc.Trigger("go")
	require.True(t, ok)

	dispatcher := &mocks.MockDispatcher{}
	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).
		Return(models.RunResult{Status: models.RunStatusSuccess})

	controller := newController(t, el, dispatcher, nil, trigger.Options{
		SettleDelay: 200 * time.Millisecond,
		ResultDelay: 200 * time.Millisecond,
	})

	require.NoError(t, controller.Invoke(context.Background()))
	require.Equal(t, trigger.StateSucceeded, controller.State())
	require.Equal(t, trigger.LabelSuccess, el.Text())

	require.NoError(t, controller.Invoke(context.Background()))
	require.Equal(t, trigger.StateSucceeded, controller.State())

	require.Eventually(t, func() bool { return controller.State() == trigger.StateIdle }, waitFor, tick)
	assert.Equal(t, "Go", el.Text())

	dispatcher.AssertNumberOfCalls(t, "Dispatch", 2)
}
