// Package web provides the HTTP handlers of the workflow relay.
package web

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukex/flowpages/pkg/models"
	"github.com/dukex/flowpages/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/xeipuuv/gojsonschema"
)

const DefaultHeartbeat = 30 * time.Second

const (
	frameTypeConnected = "connected"
	frameTypeStatus    = "status"
)

var updateSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["runId"],
	"properties": {
		"runId":   {"type": "string", "minLength": 1},
		"step":    {"type": ["string", "null"]},
		"state":   {"enum": ["progress", "done", "error", "", null]},
		"message": {"type": ["string", "null"]}
	}
}`)

type APIHandlers struct {
	runs      *services.Runs
	validator *validator.Validate
	heartbeat time.Duration
	logger    *slog.Logger
}

func NewAPIHandlers(
	runs *services.Runs,
	validator *validator.Validate,
	heartbeat time.Duration,
	logger *slog.Logger,
) *APIHandlers {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &APIHandlers{
		runs:      runs,
		validator: validator,
		heartbeat: heartbeat,
		logger:    logger.With("module", "web"),
	}
}

func (h *APIHandlers) RunWorkflow(c fiber.Ctx) error {
	var req RunWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if strings.TrimSpace(req.WebhookURL) == "" {
		return badRequest(c, "webhook_url is required")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.runs.Start(c.Context(), req.toService(currentUser(c)))
	if err != nil {
		return handleServiceError(c, err)
	}

	switch {
	case result.Status == services.StartStatusError:
		return c.Status(fiber.StatusBadGateway).JSON(result)
	case result.Status == services.StartStatusTimeout, result.Waiting:
		return c.Status(fiber.StatusAccepted).JSON(result)
	default:
		return c.JSON(result)
	}
}

// ReceiveUpdate is the callback workflows post their progress to.
func (h *APIHandlers) ReceiveUpdate(c fiber.Ctx) error {
	body := c.Body()

	validation, err := gojsonschema.Validate(updateSchema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if !validation.Valid() {
		details := make([]string, 0, len(validation.Errors()))
		for _, desc := range validation.Errors() {
			details = append(details, desc.String())
		}

		return badRequest(c, strings.Join(details, "; "))
	}

	var req services.UpdateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	event, err := h.runs.ApplyUpdate(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(UpdateReceivedResponse{Status: "received", RunID: event.RunID})
}

func (h *APIHandlers) GetRunStatus(c fiber.Ctx) error {
	run, err := h.runs.Status(c.Context(), c.Params("runId"), currentUser(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) ListRuns(c fiber.Ctx) error {
	runs, err := h.runs.List(c.Context(), currentUser(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(RunsResponse{Runs: runs, Count: len(runs)})
}

// StreamRun pushes the updates of one run as Server-Sent Events. The stream
// ends after a terminal update.
func (h *APIHandlers) StreamRun(c fiber.Ctx) error {
	runID := c.Params("runId")

	// Watch before reading the snapshot so no update falls in between.
	listener := h.runs.Watch(runID)

	run, err := h.runs.Status(c.Context(), runID, currentUser(c))
	if err != nil {
		listener.Close()

		return handleServiceError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	reader, writer := io.Pipe()

	go h.pump(writer, listener, run)

	return c.SendStream(reader)
}

// pump writes frames until the run ends or the client goes away, which
// surfaces as a write error on the closed pipe.
func (h *APIHandlers) pump(w *io.PipeWriter, listener *services.Listener, run *models.Run) {
	defer listener.Close()
	defer w.Close()

	if err := writeFrame(w, ConnectedFrame{Type: frameTypeConnected, RunID: run.ID}); err != nil {
		return
	}

	if run.LastData != nil || run.Status.Finished() {
		snapshot := run.Snapshot()

		err := writeFrame(w, StatusFrame{
			Type:    frameTypeStatus,
			RunID:   run.ID,
			Status:  run.Status,
			Step:    run.LastStep,
			Message: snapshot.Message,
			Data:    run.LastData,
		})
		if err != nil || run.Status.Finished() {
			return
		}
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-listener.C:
			if !ok {
				h.logger.Warn("Stream listener dropped", "run_id", run.ID)

				return
			}

			if err := writeFrame(w, event); err != nil {
				return
			}

			if event.IsTerminal() {
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(w, ": heartbeat\n\n"); err != nil {
				return
			}
		}
	}
}

func writeFrame(w io.Writer, frame any) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)

	return err
}

// RunHostedWorkflow serves POST /workflows/:workflowId/webhook/*.
func (h *APIHandlers) RunHostedWorkflow(c fiber.Ctx) error {
	payload := map[string]any{}

	if len(c.Body()) > 0 {
		if err := json.Unmarshal(c.Body(), &payload); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	execution, err := h.runs.RunWorkflow(c.Context(), c.Params("workflowId"), payload)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetWebhookURL(c fiber.Ctx) error {
	workflowID := c.Params("workflowId")

	return c.JSON(WebhookURLResponse{
		WorkflowID: workflowID,
		WebhookURL: c.BaseURL() + "/workflows/" + url.PathEscape(workflowID) + "/webhook/",
		Method:     http.MethodPost,
	})
}

func (h *APIHandlers) GetBaseURL(c fiber.Ctx) error {
	base := c.BaseURL()

	return c.JSON(BaseURLResponse{BaseURL: base, APIBaseURL: base + "/workflows"})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.runs.HealthCheck(c.Context())

	status := "unhealthy"
	message := "FlowPages relay is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "FlowPages relay is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

// NotFound answers unknown routes with a problem document.
func (h *APIHandlers) NotFound(c fiber.Ctx) error {
	return notFound(c, "no route for "+c.Method()+" "+c.Path())
}
