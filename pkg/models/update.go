package models

import "time"

type UpdateState string

const (
	UpdateStateProgress UpdateState = "progress"
	UpdateStateDone     UpdateState = "done"
	UpdateStateError    UpdateState = "error"
)

// Valid reports whether s is one of the known update states.
func (s UpdateState) Valid() bool {
	switch s {
	case UpdateStateProgress, UpdateStateDone, UpdateStateError:
		return true
	default:
		return false
	}
}

// Terminal reports whether s ends a run.
func (s UpdateState) Terminal() bool {
	return s == UpdateStateDone || s == UpdateStateError
}

// UpdateEvent is one progress or terminal notification for a run.
type UpdateEvent struct {
	RunID     string      `json:"runId,omitempty"`
	Step      string      `json:"step"`
	State     UpdateState `json:"state"`
	Message   string      `json:"message,omitempty"`
	Data      any         `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp,omitzero"`
}

func (e UpdateEvent) IsTerminal() bool {
	return e.State.Terminal()
}
