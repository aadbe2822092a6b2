// Package web provides HTTP request and response types for the relay API.
package web

import (
	"github.com/dukex/flowpages/pkg/models"
	"github.com/dukex/flowpages/pkg/services"
)

// RunWorkflowRequest represents the request body for dispatching a run to an
// external workflow webhook.
type RunWorkflowRequest struct {
	WebhookURL    string         `json:"webhook_url"     validate:"required,url"`
	WorkflowID    string         `json:"workflow_id"`
	Data          map[string]any `json:"data"`
	Secret        string         `json:"secret"`
	WaitForResult bool           `json:"wait_for_result"`
}

func (r RunWorkflowRequest) toService(user models.UserContext) services.StartRunRequest {
	return services.StartRunRequest{
		WebhookURL:    r.WebhookURL,
		WorkflowID:    r.WorkflowID,
		Data:          r.Data,
		Secret:        r.Secret,
		WaitForResult: r.WaitForResult,
		User:          user,
	}
}

// UpdateReceivedResponse acknowledges a workflow callback.
type UpdateReceivedResponse struct {
	Status string `json:"status"`
	RunID  string `json:"runId"`
}

// RunsResponse lists the runs visible to the caller.
type RunsResponse struct {
	Runs  []*models.Run `json:"runs"`
	Count int           `json:"count"`
}

// StatusFrame is the snapshot sent on a stream right after connecting.
type StatusFrame struct {
	Type    string          `json:"type"`
	RunID   string          `json:"runId"`
	Status  models.RunPhase `json:"status"`
	Step    string          `json:"step,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    any             `json:"data,omitempty"`
}

// ConnectedFrame opens every stream.
type ConnectedFrame struct {
	Type  string `json:"type"`
	RunID string `json:"runId"`
}

// BaseURLResponse tells pages where the relay API lives.
type BaseURLResponse struct {
	BaseURL    string `json:"base_url"`
	APIBaseURL string `json:"api_base_url"`
}

// WebhookURLResponse gives the endpoint of a backend-hosted workflow.
type WebhookURLResponse struct {
	WorkflowID string `json:"workflow_id"`
	WebhookURL string `json:"webhook_url"`
	Method     string `json:"method"`
}
