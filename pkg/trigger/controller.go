// Package trigger drives the visual state of one page trigger through a
// workflow run: dispatch, optional live tracking, settle and reset.
package trigger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/flowpages/pkg/models"
)

type State string

const (
	StateIdle        State = "idle"
	StateDispatching State = "dispatching"
	StateTracking    State = "tracking"
	StateSucceeded   State = "succeeded"
	StateFailed      State = "failed"
)

// InFlight reports whether a run currently owns the trigger.
func (s State) InFlight() bool {
	return s == StateDispatching || s == StateTracking
}

// Settled reports whether the last run finished and the reset timer is pending.
func (s State) Settled() bool {
	return s == StateSucceeded || s == StateFailed
}

// VisualState is what the affordance shows for a controller state.
type VisualState string

const (
	VisualIdle    VisualState = "idle"
	VisualRunning VisualState = "running"
	VisualSuccess VisualState = "success"
	VisualError   VisualState = "error"
)

func (s State) Visual() VisualState {
	switch s {
	case StateDispatching, StateTracking:
		return VisualRunning
	case StateSucceeded:
		return VisualSuccess
	case StateFailed:
		return VisualError
	default:
		return VisualIdle
	}
}

const (
	DefaultButtonLabel = "Run Workflow"

	LabelRunning = "Running..."
	LabelSuccess = "Success"
	LabelError   = "Failed"

	StatusDispatching    = "Triggering workflow..."
	StatusTracking       = "Workflow started, waiting for updates..."
	StatusTriggered      = "Workflow triggered successfully"
	StatusCompleted      = "Workflow completed"
	StatusFailed         = "Workflow failed"
	StatusConnectionLost = "Lost connection to workflow updates"
)

const (
	DefaultSettleDelay     = 3 * time.Second
	DefaultResultDelay     = 5 * time.Second
	DefaultTrackingTimeout = 10 * time.Minute
)

// Dispatcher starts a workflow run. Failures come back as error results.
type Dispatcher interface {
	Dispatch(ctx context.Context, cfg models.TriggerConfig, req models.RunRequest) models.RunResult
}

// Subscription is a live observation of one run.
type Subscription interface {
	Close()
}

// Streamer opens push subscriptions for runs.
type Streamer interface {
	Subscribe(ctx context.Context, runID string, onUpdate func(models.UpdateEvent)) (Subscription, error)
}

// Poller follows a run by polling until it reaches a terminal state.
type Poller interface {
	Poll(ctx context.Context, runID string, onUpdate func(models.UpdateEvent)) error
}

// Target is the trigger element and its surfaces.
type Target interface {
	ComponentID() string
	Config() models.TriggerConfig
	FormData() map[string]string
	SetEnabled(enabled bool)
	SetLabel(label string)
	SetStatus(text string)
	SetResult(text string)
	ClearResult()
}

// Transition describes one observable change of a controller.
type Transition struct {
	ComponentID string
	RunID       string
	From        State
	To          State
	Step        string
	Message     string
	Data        any
	Err         error
	At          time.Time
}

// Observer is notified of transitions, in order, outside the controller lock.
// It must not call Invoke synchronously.
type Observer func(Transition)

// Outcome is the result of the last settled run.
type Outcome struct {
	State   State
	RunID   string
	Message string
	Data    any
	Err     error
}

// Options tunes a controller. Zero durations take the defaults; a negative
// TrackingTimeout disables the tracking limit.
type Options struct {
	SettleDelay     time.Duration
	ResultDelay     time.Duration
	TrackingTimeout time.Duration
	Poller          Poller
	Observer        Observer
	Logger          *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.SettleDelay <= 0 {
		o.SettleDelay = DefaultSettleDelay
	}

	if o.ResultDelay <= 0 {
		o.ResultDelay = DefaultResultDelay
	}

	if o.TrackingTimeout == 0 {
		o.TrackingTimeout = DefaultTrackingTimeout
	}

	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	return o
}

// Controller runs the state machine of a single trigger. At most one run is
// in flight at a time.
type Controller struct {
	target     Target
	dispatcher Dispatcher
	streamer   Streamer
	opts       Options
	logger     *slog.Logger

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu       sync.Mutex
	notifyMu sync.Mutex
	pending  []Transition

	state       State
	gen         uint64
	cfg         models.TriggerConfig
	runID       string
	sub         Subscription
	settleTimer *time.Timer
	trackTimer  *time.Timer
	stale       bool
	outcome     Outcome
	disposed    bool
}

// New creates a controller bound to target. streamer may be nil, in which case
// runs are followed with opts.Poller or not at all.
func New(target Target, dispatcher Dispatcher, streamer Streamer, opts Options) *Controller {
	opts = opts.withDefaults()
	baseCtx, cancel := context.WithCancel(context.Background())

	return &Controller{
		target:     target,
		dispatcher: dispatcher,
		streamer:   streamer,
		opts:       opts,
		logger:     opts.Logger.With("module", "trigger_controller", "component_id", target.ComponentID()),
		baseCtx:    baseCtx,
		cancelBase: cancel,
		state:      StateIdle,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// RunID returns the id of the run being tracked or last tracked.
func (c *Controller) RunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.runID
}

// Stale reports whether the push channel of the tracked run was lost.
func (c *Controller) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stale
}

// Outcome returns the last settled run.
func (c *Controller) Outcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.outcome
}

// Invoke starts a run. It blocks until the dispatch resolves; tracking
// continues in the background. Run failures are reflected in the state and the
// surfaces, not returned: the only errors are ErrRunInFlight and ErrDisposed.
func (c *Controller) Invoke(ctx context.Context) error {
	c.mu.Lock()

	if c.disposed {
		c.mu.Unlock()

		return ErrDisposed
	}

	if c.state.InFlight() {
		state := c.state
		c.mu.Unlock()
		c.logger.WarnContext(ctx, "Ignoring invoke while a run is in flight", "state", state)

		return ErrRunInFlight
	}

	cfg := c.target.Config()
	if c.state.Settled() {
		// the element still shows the outcome label
		cfg.ButtonLabel = c.cfg.ButtonLabel
	}

	c.stopTimers()
	c.gen++
	gen := c.gen
	c.cfg = cfg
	c.runID = ""
	c.stale = false
	c.target.ClearResult()

	if c.cfg.Inert() {
		c.logger.WarnContext(ctx, "Trigger has no webhook URL configured")
		c.settle(StateFailed, models.ErrWebhookURLRequired.Error(), nil,
			&RunError{Op: "invoke", Err: models.ErrWebhookURLRequired}, c.opts.SettleDelay)
		c.unlockAndNotify()

		return nil
	}

	req := models.NewRunRequest(c.target.ComponentID(), c.target.FormData())

	c.target.SetEnabled(false)
	c.target.SetLabel(LabelRunning)
	c.setStatus(StatusDispatching)
	c.transition(StateDispatching, Transition{Message: StatusDispatching})
	c.unlockAndNotify()

	c.logger.InfoContext(ctx, "Dispatching workflow run", "config", cfg, "fields", len(req.FormData))

	result := c.dispatcher.Dispatch(ctx, cfg, req)

	c.mu.Lock()

	if c.gen != gen || c.state != StateDispatching {
		c.unlockAndNotify()

		return nil
	}

	track := c.applyResult(result)
	c.unlockAndNotify()

	if track {
		c.track(gen, result.RunID)
	}

	return nil
}

// Dispose closes any open subscription and stops pending timers. The
// controller refuses further invocations.
func (c *Controller) Dispose() {
	c.mu.Lock()

	if c.disposed {
		c.mu.Unlock()

		return
	}

	c.disposed = true
	c.gen++
	c.stopTimers()
	c.closeSubscription()
	c.state = StateIdle
	c.mu.Unlock()

	c.cancelBase()
	c.logger.Debug("Trigger controller disposed")
}

// applyResult settles the run or moves it to tracking. Callers hold c.mu.
func (c *Controller) applyResult(result models.RunResult) bool {
	switch {
	case result.Failed():
		message := orDefault(result.Message, StatusFailed)

		err := result.Err
		if err == nil {
			err = ErrRemoteWorkflow
		}

		c.settle(StateFailed, message, result.Data,
			&RunError{Op: "dispatch", RunID: result.RunID, Err: err}, c.opts.SettleDelay)

		return false
	case c.cfg.WaitForResult && result.Trackable() && (c.streamer != nil || c.opts.Poller != nil):
		c.runID = result.RunID
		message := orDefault(result.Message, StatusTracking)
		c.setStatus(message)
		c.transition(StateTracking, Transition{Message: message})

		if c.opts.TrackingTimeout > 0 {
			gen := c.gen
			c.trackTimer = time.AfterFunc(c.opts.TrackingTimeout, func() { c.trackingTimedOut(gen) })
		}

		return true
	default:
		c.runID = result.RunID
		delay := c.opts.SettleDelay

		if result.Data != nil {
			c.target.SetResult(models.MarshalIndentData(result.Data))
			delay = c.opts.ResultDelay
		}

		c.settle(StateSucceeded, orDefault(result.Message, StatusTriggered), result.Data, nil, delay)

		return false
	}
}

func (c *Controller) track(gen uint64, runID string) {
	onUpdate := func(event models.UpdateEvent) { c.handleUpdate(gen, event) }

	var (
		sub Subscription
		err error
	)

	if c.streamer != nil {
		sub, err = c.streamer.Subscribe(c.baseCtx, runID, onUpdate)
	}

	c.mu.Lock()
	defer c.unlockAndNotify()

	current := c.gen == gen && c.state == StateTracking

	if c.streamer == nil || err != nil {
		if err != nil {
			c.logger.Warn("Could not open update stream", "run_id", runID, "error", err)
		}

		switch {
		case !current:
		case c.opts.Poller != nil:
			c.sub = c.startPolling(gen, runID)
		default:
			c.settle(StateFailed, StatusConnectionLost, nil,
				&RunError{Op: "subscribe", RunID: runID, Err: err}, c.opts.SettleDelay)
		}

		return
	}

	if !current {
		sub.Close()

		return
	}

	c.sub = sub

	if w, ok := sub.(watchable); ok {
		go c.watch(gen, runID, w)
	}
}

// watchable is implemented by subscriptions that report connection loss.
type watchable interface {
	Done() <-chan struct{}
	Err() error
}

func (c *Controller) watch(gen uint64, runID string, w watchable) {
	<-w.Done()

	err := w.Err()
	if err == nil {
		return
	}

	c.mu.Lock()
	defer c.unlockAndNotify()

	if c.gen != gen || c.state != StateTracking {
		return
	}

	c.logger.Warn("Update stream lost while tracking", "run_id", runID, "error", err)

	if c.opts.Poller != nil {
		c.sub = c.startPolling(gen, runID)

		return
	}

	c.stale = true
	c.setStatus(StatusConnectionLost)
	c.transition(StateTracking, Transition{Message: StatusConnectionLost, Err: err})
}

type cancelSubscription context.CancelFunc

func (f cancelSubscription) Close() {
	f()
}

// startPolling follows runID through the poller. Callers hold c.mu.
func (c *Controller) startPolling(gen uint64, runID string) Subscription {
	ctx, cancel := context.WithCancel(c.baseCtx)
	poller := c.opts.Poller

	c.logger.Info("Falling back to status polling", "run_id", runID)

	go func() {
		err := poller.Poll(ctx, runID, func(event models.UpdateEvent) { c.handleUpdate(gen, event) })
		if err == nil || ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		defer c.unlockAndNotify()

		if c.gen != gen || c.state != StateTracking {
			return
		}

		c.settle(StateFailed, StatusConnectionLost, nil,
			&RunError{Op: "poll", RunID: runID, Err: err}, c.opts.SettleDelay)
	}()

	return cancelSubscription(cancel)
}

func (c *Controller) handleUpdate(gen uint64, event models.UpdateEvent) {
	c.mu.Lock()
	defer c.unlockAndNotify()

	if c.gen != gen || c.state != StateTracking {
		c.logger.Debug("Ignoring update for a finished run", "run_id", event.RunID, "state", event.State)

		return
	}

	switch event.State {
	case models.UpdateStateProgress:
		message := orDefault(event.Message, "Step "+event.Step+" in progress")
		c.setStatus(message)
		c.transition(StateTracking, Transition{Step: event.Step, Message: message, Data: event.Data})
	case models.UpdateStateDone:
		delay := c.opts.SettleDelay

		if event.Data != nil {
			c.target.SetResult(models.MarshalIndentData(event.Data))
			delay = c.opts.ResultDelay
		}

		c.settle(StateSucceeded, orDefault(event.Message, StatusCompleted), event.Data, nil, delay)
	case models.UpdateStateError:
		message := orDefault(event.Message, StatusFailed)
		c.target.SetResult(message)
		c.settle(StateFailed, message, event.Data,
			&RunError{Op: "track", RunID: c.runID, Err: ErrRemoteWorkflow}, c.opts.ResultDelay)
	}
}

func (c *Controller) trackingTimedOut(gen uint64) {
	c.mu.Lock()
	defer c.unlockAndNotify()

	if c.gen != gen || c.state != StateTracking {
		return
	}

	c.logger.Warn("No terminal update before the tracking timeout",
		"run_id", c.runID, "timeout", c.opts.TrackingTimeout)
	c.settle(StateFailed, ErrTrackingTimeout.Error(), nil,
		&RunError{Op: "track", RunID: c.runID, Err: ErrTrackingTimeout}, c.opts.SettleDelay)
}

// settle ends the current run and schedules the return to idle. Callers hold c.mu.
func (c *Controller) settle(state State, message string, data any, err error, delay time.Duration) {
	c.stopTimers()
	c.closeSubscription()
	c.setStatus(message)
	c.target.SetEnabled(true)

	if state == StateSucceeded {
		c.target.SetLabel(LabelSuccess)
		c.logger.Info("Workflow run succeeded", "run_id", c.runID)
	} else {
		c.target.SetLabel(LabelError)
		c.logger.Warn("Workflow run failed", "run_id", c.runID, "error", err)
	}

	c.outcome = Outcome{State: state, RunID: c.runID, Message: message, Data: data, Err: err}
	c.transition(state, Transition{Message: message, Data: data, Err: err})

	gen := c.gen
	c.settleTimer = time.AfterFunc(delay, func() { c.reset(gen) })
}

func (c *Controller) reset(gen uint64) {
	c.mu.Lock()
	defer c.unlockAndNotify()

	if c.gen != gen || !c.state.Settled() {
		return
	}

	c.target.SetEnabled(true)
	c.target.SetLabel(orDefault(c.cfg.ButtonLabel, DefaultButtonLabel))
	c.transition(StateIdle, Transition{})
}

func (c *Controller) setStatus(text string) {
	if c.cfg.ShowStatus {
		c.target.SetStatus(text)
	}
}

func (c *Controller) closeSubscription() {
	if c.sub != nil {
		c.sub.Close()
		c.sub = nil
	}
}

func (c *Controller) stopTimers() {
	if c.settleTimer != nil {
		c.settleTimer.Stop()
		c.settleTimer = nil
	}

	if c.trackTimer != nil {
		c.trackTimer.Stop()
		c.trackTimer = nil
	}
}

// transition records a state change for the observer. Callers hold c.mu.
func (c *Controller) transition(to State, t Transition) {
	t.ComponentID = c.target.ComponentID()
	t.RunID = c.runID
	t.From = c.state
	t.To = to
	t.At = time.Now()
	c.state = to

	if c.opts.Observer != nil {
		c.pending = append(c.pending, t)
	}
}

// unlockAndNotify releases c.mu and delivers pending transitions in order.
func (c *Controller) unlockAndNotify() {
	pending := c.pending
	c.pending = nil

	if len(pending) == 0 {
		c.mu.Unlock()

		return
	}

	c.notifyMu.Lock()
	c.mu.Unlock()

	for _, t := range pending {
		c.opts.Observer(t)
	}

	c.notifyMu.Unlock()
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}

	return value
}
