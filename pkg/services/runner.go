package services

import (
	"context"
	"time"

	"github.com/dukex/flowpages/pkg/models"
	"github.com/google/uuid"
)

const ExecutionCompleted = "completed"

// WorkflowExecution is the answer of a backend-hosted workflow.
type WorkflowExecution struct {
	Status    string           `json:"status"`
	Data      any              `json:"data"`
	Execution models.Execution `json:"execution"`
}

// WorkflowRunner executes workflows hosted by the relay itself.
type WorkflowRunner interface {
	Run(ctx context.Context, workflowID string, payload map[string]any) (*WorkflowExecution, error)
}

// EchoRunner completes every workflow immediately, returning its payload.
type EchoRunner struct{}

func NewEchoRunner() *EchoRunner {
	return &EchoRunner{}
}

func (EchoRunner) Run(ctx context.Context, workflowID string, payload map[string]any) (*WorkflowExecution, error) {
	started := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data := make(map[string]any, len(payload)+1)
	for key, value := range payload {
		data[key] = value
	}

	data["workflowId"] = workflowID

	return &WorkflowExecution{
		Status: ExecutionCompleted,
		Data:   data,
		Execution: models.Execution{
			Status:      ExecutionCompleted,
			ExecutionID: uuid.New().String(),
			Duration:    time.Since(started).Seconds(),
		},
	}, nil
}
