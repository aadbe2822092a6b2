package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukex/flowpages/pkg/models"
)

const (
	frameTypeConnected = "connected"
	frameTypeStatus    = "status"
)

type rawFrame struct {
	Type      string          `json:"type"`
	RunID     string          `json:"runId"`
	Step      string          `json:"step"`
	State     string          `json:"state"`
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	Data      any             `json:"data"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// DecodeFrame turns the data of one SSE frame into an UpdateEvent. The boolean
// is false for informational frames that carry no update.
func DecodeFrame(data string) (models.UpdateEvent, bool, error) {
	var raw rawFrame

	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return models.UpdateEvent{}, false, fmt.Errorf("%w: %w", ErrStreamParse, err)
	}

	switch raw.Type {
	case frameTypeConnected:
		return models.UpdateEvent{}, false, nil
	case frameTypeStatus:
		return statusFrame(raw), true, nil
	}

	state := models.UpdateState(raw.State)
	if !state.Valid() {
		return models.UpdateEvent{}, false, fmt.Errorf("%w: unknown state %q", ErrStreamParse, raw.State)
	}

	return models.UpdateEvent{
		RunID:     raw.RunID,
		Step:      raw.Step,
		State:     state,
		Message:   raw.Message,
		Data:      raw.Data,
		Timestamp: parseTimestamp(raw.Timestamp),
	}, true, nil
}

// statusFrame maps the snapshot a relay sends right after connecting.
func statusFrame(raw rawFrame) models.UpdateEvent {
	state := models.UpdateStateProgress
	if candidate := models.UpdateState(raw.Status); candidate.Terminal() {
		state = candidate
	}

	return models.UpdateEvent{
		RunID:     raw.RunID,
		Step:      frameTypeStatus,
		State:     state,
		Message:   raw.Message,
		Data:      raw.Data,
		Timestamp: parseTimestamp(raw.Timestamp),
	}
}

// parseTimestamp accepts RFC 3339 strings and unix seconds.
func parseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		parsed, err := time.Parse(time.RFC3339Nano, text)
		if err != nil {
			return time.Time{}
		}

		return parsed
	}

	var seconds float64
	if err := json.Unmarshal(raw, &seconds); err == nil {
		return time.Unix(0, int64(seconds*float64(time.Second))).UTC()
	}

	return time.Time{}
}
