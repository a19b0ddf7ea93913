package domain

import (
	"time"

	"github.com/google/uuid"
)

type ExecutionStatus string

const (
	ExecutionStatusActive    ExecutionStatus = "active"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Execution is one instantiated run of a sequence definition for a
// specific recipient. Status is mutated only by the trigger gateway
// (cancellation) and the scheduler (completion on the terminal step).
type Execution struct {
	ID uuid.UUID

	SequenceName string
	Recipient    string
	Snapshot     Snapshot

	Status ExecutionStatus

	CreatedAt   time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
}
