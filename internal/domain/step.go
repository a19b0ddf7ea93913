package domain

import (
	"time"

	"github.com/google/uuid"
)

type StepStatus string

const (
	StepStatusScheduled StepStatus = "scheduled"
	StepStatusClaimed   StepStatus = "claimed"
	StepStatusSent      StepStatus = "sent"
	StepStatusSkipped   StepStatus = "skipped"
	StepStatusFailed    StepStatus = "failed"
	StepStatusCancelled StepStatus = "cancelled"
)

// TerminalStepStatus reports whether s is final. Claimed is not
// terminal: a crashed worker leaves steps claimed until the recovery
// sweep requeues them.
func TerminalStepStatus(s StepStatus) bool {
	switch s {
	case StepStatusSent, StepStatusSkipped, StepStatusFailed, StepStatusCancelled:
		return true
	}
	return false
}

// Step is one scheduled action within an execution. StepIndex values
// for one execution are exactly 0..N-1. ScheduledAt is absolute and
// fixed at creation, never recomputed.
type Step struct {
	ID          uuid.UUID
	ExecutionID uuid.UUID
	StepIndex   int

	Status      StepStatus
	ScheduledAt time.Time

	ClaimedAt   *time.Time
	CompletedAt *time.Time

	DeliveryRef string
	Error       string
}
