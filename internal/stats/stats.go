// Package stats aggregates delivery outcomes per sequence.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/djlord-it/stepflow/internal/domain"
)

// ErrInvalidWindow is returned when the reporting window is empty or
// inverted.
var ErrInvalidWindow = errors.New("invalid reporting window")

// Store defines the aggregate queries the reporter needs.
type Store interface {
	CountStepsByStatus(ctx context.Context, sequenceName string, from, to time.Time) (map[domain.StepStatus]int, error)
	CountExecutionsByStatus(ctx context.Context, sequenceName string, from, to time.Time) (map[domain.ExecutionStatus]int, error)
	AverageCompletionTime(ctx context.Context, sequenceName string, from, to time.Time) (time.Duration, error)
}

// Report summarizes a sequence's activity over a window. Executions
// are bucketed by trigger time, so a window always sees a whole
// execution or none of it.
type Report struct {
	SequenceName string    `json:"sequence_name"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`

	ExecutionsActive    int `json:"executions_active"`
	ExecutionsCompleted int `json:"executions_completed"`
	ExecutionsCancelled int `json:"executions_cancelled"`

	StepsScheduled int `json:"steps_scheduled"`
	StepsClaimed   int `json:"steps_claimed"`
	StepsSent      int `json:"steps_sent"`
	StepsSkipped   int `json:"steps_skipped"`
	StepsFailed    int `json:"steps_failed"`
	StepsCancelled int `json:"steps_cancelled"`

	// AvgCompletionSeconds is the mean trigger-to-completion time of
	// completed executions, zero when there are none.
	AvgCompletionSeconds float64 `json:"avg_completion_seconds"`
}

// Reporter assembles reports from the store's aggregate queries.
type Reporter struct {
	store Store
}

// New creates a Reporter.
func New(store Store) *Reporter {
	return &Reporter{store: store}
}

// Report builds a summary for one sequence over [from, to).
func (r *Reporter) Report(ctx context.Context, sequenceName string, from, to time.Time) (Report, error) {
	if !to.After(from) {
		return Report{}, fmt.Errorf("%w: from=%s to=%s", ErrInvalidWindow, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	report := Report{
		SequenceName: sequenceName,
		From:         from,
		To:           to,
	}

	execCounts, err := r.store.CountExecutionsByStatus(ctx, sequenceName, from, to)
	if err != nil {
		return Report{}, fmt.Errorf("count executions: %w", err)
	}
	report.ExecutionsActive = execCounts[domain.ExecutionStatusActive]
	report.ExecutionsCompleted = execCounts[domain.ExecutionStatusCompleted]
	report.ExecutionsCancelled = execCounts[domain.ExecutionStatusCancelled]

	stepCounts, err := r.store.CountStepsByStatus(ctx, sequenceName, from, to)
	if err != nil {
		return Report{}, fmt.Errorf("count steps: %w", err)
	}
	report.StepsScheduled = stepCounts[domain.StepStatusScheduled]
	report.StepsClaimed = stepCounts[domain.StepStatusClaimed]
	report.StepsSent = stepCounts[domain.StepStatusSent]
	report.StepsSkipped = stepCounts[domain.StepStatusSkipped]
	report.StepsFailed = stepCounts[domain.StepStatusFailed]
	report.StepsCancelled = stepCounts[domain.StepStatusCancelled]

	avg, err := r.store.AverageCompletionTime(ctx, sequenceName, from, to)
	if err != nil {
		return Report{}, fmt.Errorf("average completion: %w", err)
	}
	report.AvgCompletionSeconds = avg.Seconds()

	return report, nil
}
