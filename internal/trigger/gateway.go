// Package trigger is the public entry point of the workflow engine:
// upstream services start an execution here when a trigger event
// occurs, and cancel it when the recipient opts out or the order is
// voided.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/stepflow/internal/catalog"
	"github.com/djlord-it/stepflow/internal/domain"
	"github.com/djlord-it/stepflow/internal/transport/channel"
)

var ErrExecutionNotFound = errors.New("execution not found")

type Store interface {
	CreateExecution(ctx context.Context, exec domain.Execution, steps []domain.Step) error
	CancelExecution(ctx context.Context, executionID uuid.UUID, now time.Time) error
}

// WakeEmitter nudges the scheduler after a trigger so zero-offset
// steps are picked up without waiting out a poll interval.
type WakeEmitter interface {
	Notify(notice channel.WakeNotice) error
}

// MetricsSink defines the interface for recording gateway metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TriggerCompleted(sequence string, err error)
	CancelCompleted(err error)
}

type Gateway struct {
	catalog *catalog.Catalog
	store   Store
	wake    WakeEmitter // optional, nil = disabled
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

func New(cat *catalog.Catalog, store Store) *Gateway {
	return &Gateway{
		catalog: cat,
		store:   store,
		clock:   time.Now,
	}
}

// WithWakeEmitter attaches a wake bus to the gateway.
func (g *Gateway) WithWakeEmitter(wake WakeEmitter) *Gateway {
	g.wake = wake
	return g
}

// WithMetrics attaches a metrics sink to the gateway.
func (g *Gateway) WithMetrics(sink MetricsSink) *Gateway {
	g.metrics = sink
	return g
}

// Trigger starts an execution of sequenceName for recipient. The
// snapshot is captured as-is and is the only context later steps will
// ever see. Every step's scheduled_at is fixed here as trigger instant
// plus the definition offset; it is never recomputed. The execution
// and all steps are persisted in one atomic batch.
func (g *Gateway) Trigger(ctx context.Context, sequenceName, recipient string, snapshot domain.Snapshot) (uuid.UUID, error) {
	id, err := g.doTrigger(ctx, sequenceName, recipient, snapshot)
	if g.metrics != nil {
		g.metrics.TriggerCompleted(sequenceName, err)
	}
	return id, err
}

func (g *Gateway) doTrigger(ctx context.Context, sequenceName, recipient string, snapshot domain.Snapshot) (uuid.UUID, error) {
	def, err := g.catalog.Lookup(sequenceName)
	if err != nil {
		return uuid.Nil, err
	}
	if recipient == "" {
		return uuid.Nil, errors.New("recipient is required")
	}
	if err := domain.ValidateSnapshot(snapshot); err != nil {
		return uuid.Nil, err
	}

	now := g.clock().UTC()
	executionID := uuid.New()

	exec := domain.Execution{
		ID:           executionID,
		SequenceName: def.Name,
		Recipient:    recipient,
		Snapshot:     snapshot.Clone(),
		Status:       domain.ExecutionStatusActive,
		CreatedAt:    now,
	}

	steps := make([]domain.Step, len(def.Steps))
	earliest := time.Time{}
	for i, stepDef := range def.Steps {
		scheduledAt := now.Add(stepDef.Offset)
		steps[i] = domain.Step{
			ID:          uuid.New(),
			ExecutionID: executionID,
			StepIndex:   i,
			Status:      domain.StepStatusScheduled,
			ScheduledAt: scheduledAt,
		}
		if earliest.IsZero() || scheduledAt.Before(earliest) {
			earliest = scheduledAt
		}
	}

	if err := g.store.CreateExecution(ctx, exec, steps); err != nil {
		return uuid.Nil, fmt.Errorf("create execution: %w", err)
	}

	log.Printf("trigger: started sequence=%s execution=%s recipient=%s steps=%d",
		def.Name, executionID, recipient, len(steps))

	if g.wake != nil {
		if err := g.wake.Notify(channel.WakeNotice{ExecutionID: executionID, DueAt: earliest}); err != nil {
			// Advisory only; the poll loop will find the steps anyway.
			log.Printf("trigger: wake notice dropped for execution=%s: %v", executionID, err)
		}
	}

	return executionID, nil
}

// Cancel stops an execution. Only steps still scheduled are cancelled;
// claimed work is never retracted. Idempotent: cancelling a completed
// or already-cancelled execution is a no-op success.
func (g *Gateway) Cancel(ctx context.Context, executionID uuid.UUID) error {
	err := g.store.CancelExecution(ctx, executionID, g.clock().UTC())
	if g.metrics != nil {
		g.metrics.CancelCompleted(err)
	}
	if err != nil {
		if errors.Is(err, ErrExecutionNotFound) {
			return err
		}
		return fmt.Errorf("cancel execution: %w", err)
	}

	log.Printf("trigger: cancelled execution=%s", executionID)
	return nil
}
