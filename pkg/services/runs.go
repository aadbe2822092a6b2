package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/flowpages/pkg/eventbus"
	"github.com/dukex/flowpages/pkg/events"
	"github.com/dukex/flowpages/pkg/models"
	"github.com/dukex/flowpages/pkg/otelhelper"
	"github.com/dukex/flowpages/pkg/persistence"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultWaitTimeout = 30 * time.Second
	DefaultCallTimeout = 5 * time.Second

	SignatureHeader = "X-Signature"
	userAgent       = "FlowPages/1.0"

	unknownWorkflow = "unknown"
	unknownStep     = "unknown"

	// responseExcerpt bounds the upstream body echoed back on failure.
	responseExcerpt = 500
)

const (
	StartStatusAccepted = "accepted"
	StartStatusTimeout  = "timeout"
	StartStatusError    = "error"
)

// StartRunRequest asks the relay to call an external workflow webhook.
type StartRunRequest struct {
	WebhookURL    string         `json:"webhook_url"     validate:"required,url"`
	WorkflowID    string         `json:"workflow_id"`
	Data          map[string]any `json:"data"`
	Secret        string         `json:"secret"`
	WaitForResult bool           `json:"wait_for_result"`

	User models.UserContext `json:"-"`
}

// StartRunResult is the relay's answer to a StartRunRequest.
type StartRunResult struct {
	RunID    string `json:"run_id"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
	Response any    `json:"response,omitempty"`

	// Waiting is set when the caller should follow the run for completion.
	Waiting bool `json:"-"`
}

// UpdateRequest is a progress callback sent by a running workflow.
type UpdateRequest struct {
	RunID   string             `json:"runId"`
	Step    string             `json:"step"`
	State   models.UpdateState `json:"state"`
	Data    any                `json:"data"`
	Message string             `json:"message"`
}

type RunsOptions struct {
	// WaitTimeout bounds the webhook call when the caller waits for a result.
	WaitTimeout time.Duration
	// CallTimeout bounds the webhook call otherwise.
	CallTimeout time.Duration
	Runner      WorkflowRunner
	HTTPClient  *resty.Client
	Logger      *slog.Logger
}

// Runs dispatches workflow runs and keeps their state.
type Runs struct {
	persistence persistence.Persistence
	bus         eventbus.EventBus
	hub         *Hub
	runner      WorkflowRunner
	http        *resty.Client
	waitTimeout time.Duration
	callTimeout time.Duration
	logger      *slog.Logger
	tracer      trace.Tracer
	locks       *runLocks
}

func NewRuns(persistence persistence.Persistence, bus eventbus.EventBus, opts RunsOptions) *Runs {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := opts.HTTPClient
	if client == nil {
		client = resty.New()
	}

	client.SetHeader("User-Agent", userAgent)

	runs := &Runs{
		persistence: persistence,
		bus:         bus,
		hub:         NewHub(logger),
		runner:      opts.Runner,
		http:        client,
		waitTimeout: opts.WaitTimeout,
		callTimeout: opts.CallTimeout,
		locks:       newRunLocks(),
		logger:      logger.With("module", "runs"),
		tracer:      otelhelper.Tracer("github.com/dukex/flowpages/pkg/services"),
	}

	if runs.waitTimeout <= 0 {
		runs.waitTimeout = DefaultWaitTimeout
	}

	if runs.callTimeout <= 0 {
		runs.callTimeout = DefaultCallTimeout
	}

	return runs
}

// HealthCheck checks the health of the persistence layer.
func (r *Runs) HealthCheck(ctx context.Context) (string, bool) {
	if r.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := r.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Listen feeds bus events into the local hub until ctx is done. Every relay
// instance listens so stream clients see updates received by any of them.
func (r *Runs) Listen(ctx context.Context) error {
	err := r.bus.Handle(events.RunUpdatedEvent, func(_ context.Context, event any) error {
		updated, ok := event.(*events.RunUpdated)
		if !ok {
			return nil
		}

		update := updated.Update
		update.RunID = updated.RunID
		r.hub.Broadcast(update)

		return nil
	})
	if err != nil {
		return err
	}

	err = r.bus.Handle(events.RunStartedEvent, func(ctx context.Context, event any) error {
		if started, ok := event.(*events.RunStarted); ok {
			r.logger.DebugContext(ctx, "Run started", "run_id", started.RunID, "phase", started.Phase)
		}

		return nil
	})
	if err != nil {
		return err
	}

	err = r.bus.Handle(events.RunFinishedEvent, func(ctx context.Context, event any) error {
		if finished, ok := event.(*events.RunFinished); ok {
			r.logger.InfoContext(ctx, "Run finished",
				"run_id", finished.RunID, "phase", finished.Phase, "duration", finished.Duration)
		}

		return nil
	})
	if err != nil {
		return err
	}

	return r.bus.Subscribe(ctx)
}

// Watch attaches a stream listener for runID on this instance.
func (r *Runs) Watch(runID string) *Listener {
	return r.hub.Watch(runID)
}

// Watching returns how many stream listeners this instance holds for runID.
func (r *Runs) Watching(runID string) int {
	return r.hub.Listeners(runID)
}

// Start calls the webhook of an external workflow and records the run.
// Upstream failures are reported in the result, not as an error.
func (r *Runs) Start(ctx context.Context, req StartRunRequest) (*StartRunResult, error) {
	if strings.TrimSpace(req.WebhookURL) == "" {
		return nil, NewValidationError("Start", "WEBHOOK_URL_REQUIRED", "webhook_url is required", ErrWebhookURLRequired)
	}

	run := &models.Run{
		ID:            uuid.New().String(),
		WorkflowID:    req.WorkflowID,
		WebhookURL:    req.WebhookURL,
		UserID:        req.User.UserID,
		Status:        models.RunPhasePending,
		WaitForResult: req.WaitForResult,
		Data:          req.Data,
		StartedAt:     time.Now().UTC(),
	}

	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "runs.start",
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.WorkflowIDKey, run.WorkflowID),
	)
	defer span.End()

	body, err := json.Marshal(webhookPayload(run, req))
	if err != nil {
		return nil, NewValidationError("Start", "INVALID_DATA", "data cannot be encoded", errors.Join(ErrInvalidRequest, err))
	}

	if err := r.persistence.Runs().Save(ctx, run); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to save run: %w", err)
	}

	result := r.callWebhook(ctx, run, body, req.Secret)

	if err := r.saveWebhookOutcome(ctx, run); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to save run: %w", err)
	}

	r.publish(ctx, run.ID, events.NewRunStarted(run))

	if run.Status.Finished() {
		r.publish(ctx, run.ID, events.NewRunFinished(run))
	}

	otelhelper.SetRunOutcome(span, result.Status, run.ID)

	return result, nil
}

func (r *Runs) callWebhook(ctx context.Context, run *models.Run, body []byte, secret string) *StartRunResult {
	timeout := r.callTimeout
	if run.WaitForResult {
		timeout = r.waitTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	request := r.http.R().
		SetContext(callCtx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)

	if secret != "" {
		request.SetHeader(SignatureHeader, "sha256="+Sign(body, secret))
	}

	resp, err := request.Post(run.WebhookURL)

	switch {
	case err != nil && isTimeout(err):
		run.Status = models.RunPhaseTimeout
		r.logger.WarnContext(ctx, "Webhook did not respond in time", "run_id", run.ID, "timeout", timeout)

		return &StartRunResult{
			RunID:   run.ID,
			Status:  StartStatusTimeout,
			Message: "Webhook did not respond in time, but workflow may still be processing",
		}
	case err != nil:
		message := "Failed to reach workflow webhook: " + err.Error()
		r.fail(run, message)
		r.logger.ErrorContext(ctx, "Error calling webhook", "run_id", run.ID, "error", fmt.Errorf("%w: %w", ErrWebhookUnreachable, err))

		return &StartRunResult{RunID: run.ID, Status: StartStatusError, Error: message}
	case resp.StatusCode() != http.StatusOK:
		message := fmt.Sprintf("Workflow webhook returned status %d", resp.StatusCode())
		r.fail(run, message)
		r.logger.WarnContext(ctx, "Webhook rejected run", "run_id", run.ID, "status", resp.StatusCode())

		return &StartRunResult{
			RunID:    run.ID,
			Status:   StartStatusError,
			Error:    message,
			Response: excerpt(resp.String()),
		}
	}

	run.Status = models.RunPhaseAccepted
	run.Response = responseBody(resp)

	if run.WaitForResult {
		return &StartRunResult{
			RunID:   run.ID,
			Status:  StartStatusAccepted,
			Message: "Workflow triggered, waiting for completion...",
			Waiting: true,
		}
	}

	return &StartRunResult{
		RunID:    run.ID,
		Status:   StartStatusAccepted,
		Message:  "Workflow triggered successfully",
		Response: run.Response,
	}
}

func (r *Runs) fail(run *models.Run, message string) {
	now := time.Now().UTC()

	run.Status = models.RunPhaseError
	run.Error = message
	run.FinishedAt = &now
}

// saveWebhookOutcome stores the webhook result of run. Callbacks may land
// while the webhook call is in flight; their progress wins over the
// webhook status and run is refreshed with what was stored.
func (r *Runs) saveWebhookOutcome(ctx context.Context, run *models.Run) error {
	unlock := r.locks.lock(run.ID)
	defer unlock()

	stored, err := r.persistence.Runs().GetByID(ctx, run.ID)
	if err == nil && stored.LastUpdate != nil {
		stored.Response = run.Response

		if stored.Error == "" {
			stored.Error = run.Error
		}

		*run = *stored
	}

	return r.persistence.Runs().Save(ctx, run)
}

// ApplyUpdate records a workflow callback and broadcasts it to stream
// listeners on every relay instance. Updates for unknown runs are still
// broadcast; updates after a terminal one are acknowledged and dropped.
// Updates for the same run are applied one at a time.
func (r *Runs) ApplyUpdate(ctx context.Context, req UpdateRequest) (models.UpdateEvent, error) {
	if strings.TrimSpace(req.RunID) == "" {
		return models.UpdateEvent{}, NewValidationError("ApplyUpdate", "RUN_ID_REQUIRED", "runId is required", ErrRunIDRequired)
	}

	event := models.UpdateEvent{
		RunID:     req.RunID,
		Step:      req.Step,
		State:     req.State,
		Message:   req.Message,
		Data:      req.Data,
		Timestamp: time.Now().UTC(),
	}

	if event.Step == "" {
		event.Step = unknownStep
	}

	if event.State == "" {
		event.State = models.UpdateStateProgress
	}

	if !event.State.Valid() {
		return models.UpdateEvent{}, NewValidationError("ApplyUpdate", "INVALID_STATE",
			fmt.Sprintf("unknown state %q", event.State), ErrInvalidUpdate)
	}

	if event.Data == nil {
		event.Data = map[string]any{}
	}

	unlock := r.locks.lock(req.RunID)
	defer unlock()

	run, err := r.persistence.Runs().GetByID(ctx, req.RunID)

	switch {
	case persistence.IsRunNotFound(err):
		r.logger.DebugContext(ctx, "Update for unknown run", "run_id", req.RunID)

		run = &models.Run{ID: req.RunID}
	case err != nil:
		return models.UpdateEvent{}, fmt.Errorf("failed to load run: %w", err)
	case run.Status.Finished() && run.FinishedAt != nil:
		r.logger.DebugContext(ctx, "Ignoring update after run finished", "run_id", req.RunID, "step", event.Step)

		return event, nil
	default:
		run.Apply(event)

		if err := r.persistence.Runs().Save(ctx, run); err != nil {
			return models.UpdateEvent{}, fmt.Errorf("failed to save run: %w", err)
		}
	}

	r.publish(ctx, run.ID, events.NewRunUpdated(run, event))

	if event.IsTerminal() && run.FinishedAt != nil {
		r.publish(ctx, run.ID, events.NewRunFinished(run))
	}

	return event, nil
}

// Status returns the run visible to user.
func (r *Runs) Status(ctx context.Context, runID string, user models.UserContext) (*models.Run, error) {
	run, err := r.persistence.Runs().GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	if !user.CanAccess(run) {
		return nil, &ServiceError{Op: "Status", Code: "ACCESS_DENIED", Message: "Access denied", Err: ErrAccessDenied}
	}

	return run, nil
}

// List returns the runs started by user, most recent first.
func (r *Runs) List(ctx context.Context, user models.UserContext) ([]*models.Run, error) {
	runs, err := r.persistence.Runs().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	visible := make([]*models.Run, 0, len(runs))

	for _, run := range runs {
		if run.UserID == user.UserID {
			visible = append(visible, run)
		}
	}

	return visible, nil
}

// Prune removes runs that finished more than ttl ago.
func (r *Runs) Prune(ctx context.Context, ttl time.Duration) (int, error) {
	removed, err := r.persistence.Runs().DeleteFinishedBefore(ctx, time.Now().UTC().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	if removed > 0 {
		r.logger.InfoContext(ctx, "Pruned finished runs", "removed", removed, "ttl", ttl)
	}

	return removed, nil
}

// RunWorkflow executes a backend-hosted workflow with the configured runner.
func (r *Runs) RunWorkflow(ctx context.Context, workflowID string, payload map[string]any) (*WorkflowExecution, error) {
	if r.runner == nil {
		return nil, ErrRunnerNotConfigured
	}

	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "runs.run_workflow",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
	)
	defer span.End()

	execution, err := r.runner.Run(ctx, workflowID, payload)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	return execution, nil
}

func (r *Runs) publish(ctx context.Context, runID string, event eventbus.Event) {
	if err := r.bus.Publish(ctx, runID, event); err != nil {
		r.logger.ErrorContext(ctx, "Failed to publish run event", "run_id", runID, "type", event.GetType(), "error", err)
	}
}

// Sign returns the hex HMAC-SHA256 of body keyed by secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return hex.EncodeToString(mac.Sum(nil))
}

// webhookPayload merges the caller's data under the relay's own fields. The
// run id and workflow id always come from the relay.
func webhookPayload(run *models.Run, req StartRunRequest) map[string]any {
	payload := make(map[string]any, len(req.Data)+4)

	for key, value := range req.Data {
		payload[key] = value
	}

	workflowID := req.WorkflowID
	if workflowID == "" {
		workflowID = unknownWorkflow
	}

	userContext := map[string]any{"userId": nil, "username": "anonymous"}
	if !req.User.Anonymous() {
		userContext = map[string]any{"userId": req.User.UserID, "username": req.User.Username}
	}

	payload["runId"] = run.ID
	payload["workflowId"] = workflowID
	payload["timestamp"] = float64(run.StartedAt.UnixNano()) / float64(time.Second)
	payload["userContext"] = userContext

	return payload
}

func responseBody(resp *resty.Response) any {
	if strings.HasPrefix(resp.Header().Get("Content-Type"), "application/json") {
		var decoded any
		if err := json.Unmarshal(resp.Body(), &decoded); err == nil {
			return decoded
		}
	}

	return resp.String()
}

func excerpt(body string) string {
	if len(body) <= responseExcerpt {
		return body
	}

	return body[:responseExcerpt]
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}
