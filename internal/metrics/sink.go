package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Scheduler metrics
	PollStarted()
	PollCompleted(duration time.Duration, due, claimed int, err error)
	ClaimConflict()
	StepOutcome(outcome string)
	StepsInFlightIncr()
	StepsInFlightDecr()
	DeliveryCompleted(channel string, success bool, duration time.Duration)

	// Trigger gateway metrics
	TriggerCompleted(sequence string, err error)
	CancelCompleted(err error)

	// Wake bus metrics
	WakeDropped()

	// Recovery metrics
	RecoveryRequeued(count int)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Outcome constants for StepOutcome.
const (
	OutcomeSent    = "sent"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)
