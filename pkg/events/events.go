// Package events defines the run lifecycle events carried on the relay bus.
package events

import (
	"time"

	"github.com/dukex/flowpages/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every run lifecycle event.
const Topic = "flowpages.runs"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	RunStartedEvent  EventType = "run.started"
	RunUpdatedEvent  EventType = "run.updated"
	RunFinishedEvent EventType = "run.finished"
)

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	RunID      string    `json:"run_id"`
	WorkflowID string    `json:"workflow_id,omitempty"`
}

// NewBaseEvent creates a base event with a fresh id.
func NewBaseEvent(eventType EventType, runID, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		RunID:      runID,
		WorkflowID: workflowID,
	}
}

// RunStarted is published once the relay has called the webhook.
type RunStarted struct {
	BaseEvent

	WebhookURL    string          `json:"webhook_url"`
	WaitForResult bool            `json:"wait_for_result"`
	Phase         models.RunPhase `json:"phase"`
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

// RunUpdated carries one update reported by the workflow.
type RunUpdated struct {
	BaseEvent

	Update models.UpdateEvent `json:"update"`
}

func (e RunUpdated) GetType() EventType {
	return RunUpdatedEvent
}

// RunFinished is published after a terminal update was recorded.
type RunFinished struct {
	BaseEvent

	Phase    models.RunPhase `json:"phase"`
	Duration time.Duration   `json:"duration"`
}

func (e RunFinished) GetType() EventType {
	return RunFinishedEvent
}

func NewRunStarted(run *models.Run) RunStarted {
	return RunStarted{
		BaseEvent:     NewBaseEvent(RunStartedEvent, run.ID, run.WorkflowID),
		WebhookURL:    run.WebhookURL,
		WaitForResult: run.WaitForResult,
		Phase:         run.Status,
	}
}

func NewRunUpdated(run *models.Run, update models.UpdateEvent) RunUpdated {
	return RunUpdated{
		BaseEvent: NewBaseEvent(RunUpdatedEvent, run.ID, run.WorkflowID),
		Update:    update,
	}
}

func NewRunFinished(run *models.Run) RunFinished {
	event := RunFinished{
		BaseEvent: NewBaseEvent(RunFinishedEvent, run.ID, run.WorkflowID),
		Phase:     run.Status,
	}

	if run.FinishedAt != nil {
		event.Duration = run.FinishedAt.Sub(run.StartedAt)
	}

	return event
}
