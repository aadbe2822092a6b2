package models

import "time"

// RunPhase is the lifecycle position of a run tracked by the relay.
type RunPhase string

const (
	RunPhasePending  RunPhase = "pending"
	RunPhaseAccepted RunPhase = "accepted"
	RunPhaseTimeout  RunPhase = "timeout"
	RunPhaseProgress RunPhase = "progress"
	RunPhaseDone     RunPhase = "done"
	RunPhaseError    RunPhase = "error"
)

// Finished reports whether no further updates are expected.
func (p RunPhase) Finished() bool {
	return p == RunPhaseDone || p == RunPhaseError
}

// Run is the relay's record of one dispatched workflow run.
type Run struct {
	ID            string         `json:"run_id"`
	WorkflowID    string         `json:"workflow_id,omitempty"`
	WebhookURL    string         `json:"webhook_url"`
	UserID        string         `json:"user_id,omitempty"`
	Status        RunPhase       `json:"status"`
	WaitForResult bool           `json:"wait_for_result"`
	Data          map[string]any `json:"data,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
	LastUpdate    *time.Time     `json:"last_update,omitempty"`
	LastStep      string         `json:"last_step,omitempty"`
	LastMessage   string         `json:"last_message,omitempty"`
	LastData      any            `json:"last_data,omitempty"`
	Response      any            `json:"response,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// UserContext identifies who started a run. A zero value is anonymous.
type UserContext struct {
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
}

// Anonymous reports whether no user is attached.
func (u UserContext) Anonymous() bool {
	return u.UserID == ""
}

// CanAccess reports whether u may read run. Runs started anonymously are
// readable by everyone.
func (u UserContext) CanAccess(run *Run) bool {
	return run.UserID == "" || run.UserID == u.UserID
}

// Apply records an update on the run.
func (r *Run) Apply(event UpdateEvent) {
	now := event.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	r.Status = RunPhase(event.State)
	r.LastUpdate = &now
	r.LastStep = event.Step
	r.LastMessage = event.Message
	r.LastData = event.Data

	if event.IsTerminal() {
		r.FinishedAt = &now
	}
}

// Snapshot expresses the latest known state of the run as an UpdateEvent.
func (r *Run) Snapshot() UpdateEvent {
	state := UpdateStateProgress

	switch r.Status {
	case RunPhaseDone:
		state = UpdateStateDone
	case RunPhaseError:
		state = UpdateStateError
	case RunPhasePending, RunPhaseAccepted, RunPhaseTimeout, RunPhaseProgress:
	}

	step := r.LastStep
	if step == "" {
		step = string(r.Status)
	}

	message := r.LastMessage
	if message == "" && state == UpdateStateError {
		message = r.Error
	}

	event := UpdateEvent{
		RunID:   r.ID,
		Step:    step,
		State:   state,
		Message: message,
		Data:    r.LastData,
	}

	if r.LastUpdate != nil {
		event.Timestamp = *r.LastUpdate
	}

	return event
}
