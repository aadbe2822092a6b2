// Package transport dispatches workflow runs to the relay or to backend-hosted
// workflow webhooks and fetches run status.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/dukex/flowpages/pkg/models"
	"github.com/dukex/flowpages/pkg/otelhelper"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	runPath    = "/workflows/run/"
	runsPath   = "/workflows/runs/"
	statusPath = "/workflows/%s/status/"
)

// TargetKind tells which backend serves a webhook URL.
type TargetKind int

const (
	// TargetExternalWebhook is an external automation webhook reached through the relay.
	TargetExternalWebhook TargetKind = iota
	// TargetBackendWebhook is a workflow hosted by the backend itself.
	TargetBackendWebhook
)

func (k TargetKind) String() string {
	if k == TargetBackendWebhook {
		return "backend_webhook"
	}

	return "external_webhook"
}

var backendWebhookPath = regexp.MustCompile(`/workflows/[^/]+/webhook(/|$)`)

// ResolveTarget inspects a webhook URL and decides which backend serves it.
func ResolveTarget(webhookURL string) TargetKind {
	path := webhookURL
	if parsed, err := url.Parse(webhookURL); err == nil {
		path = parsed.Path
	}

	if backendWebhookPath.MatchString(path) {
		return TargetBackendWebhook
	}

	return TargetExternalWebhook
}

// Options configures a Client.
type Options struct {
	// BaseURL of the relay backend, e.g. "http://localhost:9092".
	BaseURL string
	// Token is sent as a bearer token when set.
	Token string
	// Timeout bounds each request. Zero keeps the transport default.
	Timeout time.Duration
	// Poll bounds the status polling fallback.
	Poll   RetryPolicy
	Logger *slog.Logger
}

// Client talks to the relay backend over HTTP.
type Client struct {
	http    *resty.Client
	baseURL *url.URL
	policy  RetryPolicy
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewClient creates a new transport Client.
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", opts.BaseURL, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	policy := opts.Poll
	if policy.MaxAttempts == 0 {
		policy = DefaultRetryPolicy()
	}

	client := resty.New().
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "FlowPages/1.0")

	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}

	if opts.Token != "" {
		client.SetAuthToken(opts.Token)
	}

	return &Client{
		http:    client,
		baseURL: base,
		policy:  policy,
		logger:  logger.With("module", "transport"),
		tracer:  otelhelper.Tracer("github.com/dukex/flowpages/pkg/transport"),
	}, nil
}

type runDispatchBody struct {
	WebhookURL    string            `json:"webhook_url"`
	WorkflowID    string            `json:"workflow_id,omitempty"`
	Data          models.RunRequest `json:"data"`
	Secret        string            `json:"secret,omitempty"`
	WaitForResult bool              `json:"wait_for_result"`
}

type runDispatchResponse struct {
	RunID    string `json:"run_id"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Error    string `json:"error"`
	Response any    `json:"response"`
}

type backendWebhookResponse struct {
	Status    string            `json:"status"`
	Data      any               `json:"data"`
	Execution *models.Execution `json:"execution"`
	Message   string            `json:"message"`
	Error     string            `json:"error"`
}

// Dispatch starts a workflow run. It never returns an error: failures are
// folded into a RunResult with status error.
func (c *Client) Dispatch(ctx context.Context, cfg models.TriggerConfig, req models.RunRequest) models.RunResult {
	if cfg.Inert() {
		return models.FailedResult(models.ErrWebhookURLRequired.Error(), models.ErrWebhookURLRequired)
	}

	kind := ResolveTarget(cfg.WebhookURL)

	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "transport.dispatch",
		attribute.String(otelhelper.WorkflowIDKey, cfg.WorkflowID),
		attribute.String(otelhelper.ComponentIDKey, req.ComponentID),
		attribute.String(otelhelper.TargetKindKey, kind.String()),
	)
	defer span.End()

	c.logger.DebugContext(ctx, "Dispatching workflow run", "config", cfg, "target", kind.String())

	var (
		result models.RunResult
		err    error
	)

	switch kind {
	case TargetBackendWebhook:
		result, err = c.dispatchBackend(ctx, cfg, req)
	case TargetExternalWebhook:
		result, err = c.dispatchExternal(ctx, cfg, req)
	}

	if err != nil {
		otelhelper.SetError(span, err)
		c.logger.ErrorContext(ctx, "Workflow dispatch failed", "error", err, "config", cfg)

		return models.FailedResult(failureMessage(err), err)
	}

	otelhelper.SetRunOutcome(span, string(result.Status), result.RunID)
	c.logger.InfoContext(ctx, "Workflow dispatched",
		"status", result.Status, "run_id", result.RunID, "target", kind.String())

	return result
}

func (c *Client) dispatchExternal(
	ctx context.Context,
	cfg models.TriggerConfig,
	req models.RunRequest,
) (models.RunResult, error) {
	body := runDispatchBody{
		WebhookURL:    cfg.WebhookURL,
		WorkflowID:    cfg.WorkflowID,
		Data:          req,
		Secret:        cfg.Secret,
		WaitForResult: cfg.WaitForResult,
	}

	resp, err := c.http.R().SetContext(ctx).SetBody(body).Post(c.resolve(runPath))
	if err != nil {
		return models.RunResult{}, &Error{Op: "dispatch", Message: err.Error(), Err: err}
	}

	if resp.IsError() {
		return models.RunResult{}, responseError("dispatch", resp)
	}

	var payload runDispatchResponse

	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return models.RunResult{}, &Error{
			Op:         "dispatch",
			StatusCode: resp.StatusCode(),
			Message:    "malformed response from workflow backend",
			Err:        err,
		}
	}

	result := models.RunResult{
		RunID:   payload.RunID,
		Message: payload.Message,
		Data:    payload.Response,
	}

	switch payload.Status {
	case string(models.RunStatusSuccess):
		result.Status = models.RunStatusSuccess
	case string(models.RunStatusError):
		result.Status = models.RunStatusError
		if payload.Error != "" {
			result.Message = payload.Error
		}

		if result.Message == "" {
			result.Message = "Workflow failed"
		}
	default:
		// accepted, timeout and unknown statuses keep the run alive; a
		// timed out webhook may still be processing.
		result.Status = models.RunStatusAccepted
	}

	return result, nil
}

func (c *Client) dispatchBackend(
	ctx context.Context,
	cfg models.TriggerConfig,
	req models.RunRequest,
) (models.RunResult, error) {
	target, err := c.resolveTarget(cfg.WebhookURL)
	if err != nil {
		return models.RunResult{}, &Error{Op: "backend webhook", Message: err.Error(), Err: err}
	}

	resp, err := c.http.R().SetContext(ctx).SetBody(req).Post(target)
	if err != nil {
		return models.RunResult{}, &Error{Op: "backend webhook", Message: err.Error(), Err: err}
	}

	if resp.IsError() {
		return models.RunResult{}, responseError("backend webhook", resp)
	}

	var payload backendWebhookResponse

	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return models.RunResult{}, &Error{
			Op:         "backend webhook",
			StatusCode: resp.StatusCode(),
			Message:    "malformed response from workflow backend",
			Err:        err,
		}
	}

	return backendResult(payload), nil
}

func backendResult(payload backendWebhookResponse) models.RunResult {
	result := models.RunResult{
		Data:      payload.Data,
		Execution: payload.Execution,
		Message:   payload.Message,
	}

	status := payload.Status
	if status == "" && payload.Execution != nil {
		status = payload.Execution.Status
	}

	switch status {
	case "completed", "success":
		result.Status = models.RunStatusSuccess
	case "failed", "error":
		result.Status = models.RunStatusError
		if payload.Error != "" {
			result.Message = payload.Error
		}

		if result.Message == "" {
			result.Message = "Workflow execution failed"
		}
	default:
		result.Status = models.RunStatusAccepted
	}

	return result
}

// Status fetches the latest known state of a run.
func (c *Client) Status(ctx context.Context, runID string) (models.UpdateEvent, error) {
	var run models.Run

	resp, err := c.http.R().
		SetContext(ctx).
		Get(c.resolve(fmt.Sprintf(statusPath, url.PathEscape(runID))))
	if err != nil {
		return models.UpdateEvent{}, &Error{Op: "status", Message: err.Error(), Err: err}
	}

	if resp.StatusCode() == http.StatusNotFound {
		return models.UpdateEvent{}, &Error{
			Op:         "status",
			StatusCode: resp.StatusCode(),
			Message:    serverMessage(resp.Body(), "run not found"),
			Err:        ErrRunNotFound,
		}
	}

	if resp.IsError() {
		return models.UpdateEvent{}, responseError("status", resp)
	}

	if err := json.Unmarshal(resp.Body(), &run); err != nil {
		return models.UpdateEvent{}, &Error{
			Op:         "status",
			StatusCode: resp.StatusCode(),
			Message:    "malformed status response",
			Err:        err,
		}
	}

	if run.ID == "" {
		run.ID = runID
	}

	return run.Snapshot(), nil
}

type runsResponse struct {
	Runs  []models.Run `json:"runs"`
	Count int          `json:"count"`
}

// Runs lists the runs known to the relay.
func (c *Client) Runs(ctx context.Context) ([]models.Run, error) {
	var payload runsResponse

	resp, err := c.http.R().SetContext(ctx).Get(c.resolve(runsPath))
	if err != nil {
		return nil, &Error{Op: "list runs", Message: err.Error(), Err: err}
	}

	if resp.IsError() {
		return nil, responseError("list runs", resp)
	}

	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, &Error{Op: "list runs", StatusCode: resp.StatusCode(), Message: "malformed response", Err: err}
	}

	return payload.Runs, nil
}

func (c *Client) resolve(path string) string {
	return strings.TrimRight(c.baseURL.String(), "/") + path
}

// resolveTarget resolves a backend webhook URL; relative URLs are taken
// relative to the relay base URL.
func (c *Client) resolveTarget(raw string) (string, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid webhook URL %q: %w", raw, err)
	}

	if ref.IsAbs() {
		return raw, nil
	}

	return c.baseURL.ResolveReference(ref).String(), nil
}

func responseError(op string, resp *resty.Response) error {
	return &Error{
		Op:         op,
		StatusCode: resp.StatusCode(),
		Message:    serverMessage(resp.Body(), fmt.Sprintf("workflow backend returned status %d", resp.StatusCode())),
		Err:        ErrTransport,
	}
}

// serverMessage extracts a human readable message from an error body, which
// may be a relay error, a backend error or an RFC 7807 problem.
func serverMessage(body []byte, fallback string) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
		Title   string `json:"title"`
	}

	if err := json.Unmarshal(body, &payload); err != nil {
		return fallback
	}

	for _, candidate := range []string{payload.Error, payload.Message, payload.Detail, payload.Title} {
		if candidate != "" {
			return candidate
		}
	}

	return fallback
}

func failureMessage(err error) string {
	var transportErr *Error
	if errors.As(err, &transportErr) && transportErr.StatusCode != 0 {
		return transportErr.Message
	}

	return "Failed to trigger workflow: " + err.Error()
}
