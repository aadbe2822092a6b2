package models

import (
	"log/slog"
	"strconv"
)

// TriggerConfig is the configuration persisted on a page trigger element.
type TriggerConfig struct {
	WebhookURL    string `json:"webhook_url"     validate:"required"`
	WorkflowID    string `json:"workflow_id"`
	Secret        string `json:"secret"`
	WaitForResult bool   `json:"wait_for_result"`
	ButtonLabel   string `json:"button_label"`
	ShowStatus    bool   `json:"show_status"`
}

// LogValue keeps the shared secret out of every log line.
func (c TriggerConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("webhook_url", c.WebhookURL),
		slog.String("workflow_id", c.WorkflowID),
		slog.Bool("has_secret", c.Secret != ""),
		slog.Bool("wait_for_result", c.WaitForResult),
		slog.Bool("show_status", c.ShowStatus),
	)
}

// Inert reports whether the trigger has no target and must refuse to dispatch.
func (c TriggerConfig) Inert() bool {
	return c.WebhookURL == ""
}

// TriggerConfigUpdate is a partial TriggerConfig. Nil fields are left untouched
// when applied; a pointer to an empty string explicitly unsets the field.
type TriggerConfigUpdate struct {
	WebhookURL    *string
	WorkflowID    *string
	Secret        *string
	WaitForResult *bool
	ButtonLabel   *string
	ShowStatus    *bool
}

// FullUpdate returns an update that sets every field of cfg.
func FullUpdate(cfg TriggerConfig) TriggerConfigUpdate {
	return TriggerConfigUpdate{
		WebhookURL:    &cfg.WebhookURL,
		WorkflowID:    &cfg.WorkflowID,
		Secret:        &cfg.Secret,
		WaitForResult: &cfg.WaitForResult,
		ButtonLabel:   &cfg.ButtonLabel,
		ShowStatus:    &cfg.ShowStatus,
	}
}

// FormatBool renders a flag the way it is stored in element attributes.
func FormatBool(v bool) string {
	return strconv.FormatBool(v)
}

// ParseBool reads a stored flag; anything but "true" is false.
func ParseBool(v string) bool {
	return v == "true"
}
