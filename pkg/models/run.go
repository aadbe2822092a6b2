package models

import (
	"encoding/json"
	"time"
)

type RunStatus string

const (
	RunStatusAccepted RunStatus = "accepted"
	RunStatusSuccess  RunStatus = "success"
	RunStatusError    RunStatus = "error"
)

// RunRequest is the payload sent for one trigger invocation.
type RunRequest struct {
	FormData    map[string]string `json:"formData"`
	ComponentID string            `json:"componentId"`
	Timestamp   time.Time         `json:"timestamp"`
}

// NewRunRequest snapshots the given form data for a component.
func NewRunRequest(componentID string, formData map[string]string) RunRequest {
	snapshot := make(map[string]string, len(formData))
	for k, v := range formData {
		snapshot[k] = v
	}

	return RunRequest{
		FormData:    snapshot,
		ComponentID: componentID,
		Timestamp:   time.Now().UTC(),
	}
}

// Execution describes a backend-hosted workflow execution.
type Execution struct {
	Status      string  `json:"status"`
	ExecutionID string  `json:"execution_id"`
	Duration    float64 `json:"duration"`
}

// RunResult is the normalized answer of a dispatch, whichever backend served it.
type RunResult struct {
	Status    RunStatus  `json:"status"`
	Message   string     `json:"message,omitempty"`
	RunID     string     `json:"run_id,omitempty"`
	Data      any        `json:"data,omitempty"`
	Execution *Execution `json:"execution,omitempty"`

	// Err is the local failure behind an error result, nil when the callee
	// itself reported the error.
	Err error `json:"-"`
}

// Failed reports whether the run ended in error.
func (r RunResult) Failed() bool {
	return r.Status == RunStatusError
}

// Trackable reports whether the run can be followed on a push channel.
func (r RunResult) Trackable() bool {
	return r.Status == RunStatusAccepted && r.RunID != ""
}

// ErrorResult builds an error RunResult with the given message.
func ErrorResult(message string) RunResult {
	return RunResult{Status: RunStatusError, Message: message}
}

// FailedResult builds an error RunResult caused by a local failure.
func FailedResult(message string, err error) RunResult {
	return RunResult{Status: RunStatusError, Message: message, Err: err}
}

// MarshalIndentData renders a result payload for display.
func MarshalIndentData(data any) string {
	if s, ok := data.(string); ok {
		return s
	}

	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return ""
	}

	return string(out)
}
