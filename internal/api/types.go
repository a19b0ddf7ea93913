package api

import "time"

type TriggerRequest struct {
	SequenceName string         `json:"sequence_name"`
	Recipient    string         `json:"recipient"`
	Snapshot     map[string]any `json:"snapshot"`
}

type TriggerResponse struct {
	ExecutionID string `json:"execution_id"`
}

type CancelResponse struct {
	OK bool `json:"ok"`
}

type StepResponse struct {
	ID          string `json:"id"`
	StepIndex   int    `json:"step_index"`
	Status      string `json:"status"`
	ScheduledAt string `json:"scheduled_at"`
	ClaimedAt   string `json:"claimed_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	DeliveryRef string `json:"delivery_ref,omitempty"`
	Error       string `json:"error,omitempty"`
}

type ExecutionResponse struct {
	ID           string         `json:"id"`
	SequenceName string         `json:"sequence_name"`
	Recipient    string         `json:"recipient"`
	Snapshot     map[string]any `json:"snapshot"`
	Status       string         `json:"status"`
	CreatedAt    string         `json:"created_at"`
	CompletedAt  string         `json:"completed_at,omitempty"`
	CancelledAt  string         `json:"cancelled_at,omitempty"`
	Steps        []StepResponse `json:"steps"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
