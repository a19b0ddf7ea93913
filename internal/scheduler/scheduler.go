// Package scheduler polls the store for due steps, claims them one by
// one and executes the claimed work: condition check, rendering,
// dispatch, outcome record. Any number of instances may run this loop
// concurrently; correctness depends solely on the store's atomic
// conditional claim, never on in-process locking.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/stepflow/internal/catalog"
	"github.com/djlord-it/stepflow/internal/condition"
	"github.com/djlord-it/stepflow/internal/dispatcher"
	"github.com/djlord-it/stepflow/internal/domain"
	"github.com/djlord-it/stepflow/internal/template"
	"github.com/djlord-it/stepflow/internal/transport/channel"
)

// ErrClaimConflict means another worker claimed the step first. Benign:
// the loser moves on without surfacing an error.
var ErrClaimConflict = errors.New("step already claimed")

// ErrTransitionDenied means a step outcome update found the step no
// longer claimed, typically because a recovery sweep requeued it.
var ErrTransitionDenied = errors.New("step status transition denied")

type Store interface {
	GetDueSteps(ctx context.Context, now time.Time, limit int) ([]domain.Step, error)
	// ClaimStep transitions scheduled → claimed only if the row is
	// still scheduled at the moment of update. Implementations MUST
	// return ErrClaimConflict when zero rows match.
	ClaimStep(ctx context.Context, stepID uuid.UUID, now time.Time) error
	GetExecution(ctx context.Context, executionID uuid.UUID) (domain.Execution, error)
	MarkStepSent(ctx context.Context, stepID uuid.UUID, reference string, now time.Time) error
	MarkStepSkipped(ctx context.Context, stepID uuid.UUID, now time.Time) error
	MarkStepFailed(ctx context.Context, stepID uuid.UUID, detail string, now time.Time) error
	CompleteExecution(ctx context.Context, executionID uuid.UUID, now time.Time) error
}

// AnalyticsSink records step outcomes as a best-effort side effect.
type AnalyticsSink interface {
	Record(ctx context.Context, sequenceName, outcome string, at time.Time)
}

// MetricsSink defines the interface for recording scheduler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	PollStarted()
	PollCompleted(duration time.Duration, due, claimed int, err error)
	ClaimConflict()
	StepOutcome(outcome string)
	StepsInFlightIncr()
	StepsInFlightDecr()
	DeliveryCompleted(channel string, success bool, duration time.Duration)
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

type Scheduler struct {
	config     Config
	store      Store
	catalog    *catalog.Catalog
	dispatcher dispatcher.Dispatcher
	wake       <-chan channel.WakeNotice // optional, nil = poll only
	analytics  AnalyticsSink             // optional, nil = disabled
	metrics    MetricsSink               // optional, nil = disabled
	clock      func() time.Time
}

func New(config Config, store Store, cat *catalog.Catalog, disp dispatcher.Dispatcher) *Scheduler {
	return &Scheduler{
		config:     config,
		store:      store,
		catalog:    cat,
		dispatcher: disp,
		clock:      time.Now,
	}
}

// WithWakeChannel makes the scheduler poll immediately when the trigger
// gateway persists an execution with a step already due.
func (s *Scheduler) WithWakeChannel(ch <-chan channel.WakeNotice) *Scheduler {
	s.wake = ch
	return s
}

// WithAnalytics attaches an outcome analytics sink to the scheduler.
func (s *Scheduler) WithAnalytics(sink AnalyticsSink) *Scheduler {
	s.analytics = sink
	return s
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// Run executes the poll loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	log.Printf("scheduler: started, poll=%s batch=%d", s.config.PollInterval, s.config.BatchSize)

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.processPoll(ctx); err != nil {
				log.Printf("scheduler: poll error: %v", err)
			}
		case notice := <-s.wake:
			if notice.DueAt.After(s.clock().UTC()) {
				// Nothing due yet; the regular poll will catch it.
				continue
			}
			if err := s.processPoll(ctx); err != nil {
				log.Printf("scheduler: poll error: %v", err)
			}
		}
	}
}

// processPoll runs one poll cycle: select due steps, claim each, and
// process the claims sequentially in scheduled_at order. One failing
// step never blocks the rest of the batch.
func (s *Scheduler) processPoll(ctx context.Context) error {
	start := s.clock().UTC()
	if s.metrics != nil {
		s.metrics.PollStarted()
	}

	steps, err := s.store.GetDueSteps(ctx, start, s.config.BatchSize)
	if err != nil {
		if s.metrics != nil {
			s.metrics.PollCompleted(s.clock().UTC().Sub(start), 0, 0, err)
		}
		return fmt.Errorf("get due steps: %w", err)
	}

	claimed := 0
	for _, step := range steps {
		if ctx.Err() != nil {
			break
		}

		now := s.clock().UTC()
		if err := s.store.ClaimStep(ctx, step.ID, now); err != nil {
			if errors.Is(err, ErrClaimConflict) {
				// Another worker won; not an error.
				if s.metrics != nil {
					s.metrics.ClaimConflict()
				}
				continue
			}
			log.Printf("scheduler: claim step=%s error: %v", step.ID, err)
			continue
		}
		claimed++

		s.processStep(ctx, step)
	}

	if s.metrics != nil {
		s.metrics.PollCompleted(s.clock().UTC().Sub(start), len(steps), claimed, nil)
	}
	return nil
}

// processStep executes one claimed step through to a terminal status.
// Transient store failures leave the step claimed for the recovery
// sweep; only permanent conditions mark it failed.
func (s *Scheduler) processStep(ctx context.Context, step domain.Step) {
	if s.metrics != nil {
		s.metrics.StepsInFlightIncr()
		defer s.metrics.StepsInFlightDecr()
	}

	exec, err := s.store.GetExecution(ctx, step.ExecutionID)
	if err != nil {
		// Likely transient; the recovery sweep will requeue the claim.
		log.Printf("scheduler: step=%s load execution: %v", step.ID, err)
		return
	}

	def, err := s.catalog.Lookup(exec.SequenceName)
	if err != nil {
		s.failStep(ctx, exec, step, fmt.Sprintf("sequence definition %q not found", exec.SequenceName))
		return
	}
	if step.StepIndex < 0 || step.StepIndex >= len(def.Steps) {
		if s.failStep(ctx, exec, step, fmt.Sprintf("step index %d out of range for sequence %q", step.StepIndex, exec.SequenceName)) {
			s.maybeCompleteExecution(ctx, exec, step, len(def.Steps))
		}
		return
	}
	stepDef := def.Steps[step.StepIndex]

	// The condition sees only the snapshot captured at trigger time.
	holds, err := condition.Evaluate(stepDef.Condition, exec.Snapshot)
	if err != nil {
		if s.failStep(ctx, exec, step, err.Error()) {
			s.maybeCompleteExecution(ctx, exec, step, len(def.Steps))
		}
		return
	}

	if !holds {
		if err := s.store.MarkStepSkipped(ctx, step.ID, s.clock().UTC()); err != nil {
			// The outcome did not land; leave the execution alone. Either
			// the recovery sweep took the claim back or the store glitched.
			s.logMarkError(step.ID, "skipped", err)
			return
		}
		log.Printf("scheduler: skipped sequence=%s execution=%s step=%d", exec.SequenceName, exec.ID, step.StepIndex)
		s.recordOutcome(ctx, exec.SequenceName, "skipped")
		s.maybeCompleteExecution(ctx, exec, step, len(def.Steps))
		return
	}

	escape := template.EscaperFor(stepDef.Channel)
	req := dispatcher.Request{
		StepID:    step.ID.String(),
		Channel:   stepDef.Channel,
		Recipient: exec.Recipient,
		Subject:   template.Render(stepDef.Subject, exec.Snapshot, escape),
		Body:      template.Render(stepDef.Body, exec.Snapshot, escape),
	}

	sendStart := s.clock().UTC()
	result := s.dispatcher.Send(ctx, req)
	if s.metrics != nil {
		s.metrics.DeliveryCompleted(string(stepDef.Channel), result.Success(), s.clock().UTC().Sub(sendStart))
	}

	if result.Success() {
		if err := s.store.MarkStepSent(ctx, step.ID, result.Reference, s.clock().UTC()); err != nil {
			s.logMarkError(step.ID, "sent", err)
			return
		}
		log.Printf("scheduler: sent sequence=%s execution=%s step=%d channel=%s ref=%s",
			exec.SequenceName, exec.ID, step.StepIndex, stepDef.Channel, result.Reference)
		s.recordOutcome(ctx, exec.SequenceName, "sent")
	} else {
		// One attempt per step. Failed deliveries stay failed until an
		// operator replays them through the trigger gateway.
		if !s.failStep(ctx, exec, step, result.Error.Error()) {
			return
		}
	}

	s.maybeCompleteExecution(ctx, exec, step, len(def.Steps))
}

// failStep reports whether the failed status actually landed. A false
// return means the step is no longer ours, so callers must not treat
// it as terminal.
func (s *Scheduler) failStep(ctx context.Context, exec domain.Execution, step domain.Step, detail string) bool {
	if err := s.store.MarkStepFailed(ctx, step.ID, detail, s.clock().UTC()); err != nil {
		s.logMarkError(step.ID, "failed", err)
		return false
	}
	log.Printf("scheduler: failed sequence=%s execution=%s step=%d: %s", exec.SequenceName, exec.ID, step.StepIndex, detail)
	s.recordOutcome(ctx, exec.SequenceName, "failed")
	return true
}

// maybeCompleteExecution marks the execution completed after its
// terminal step reaches any terminal status. The store update is
// conditional on the execution still being active, so a concurrent
// cancel always wins.
func (s *Scheduler) maybeCompleteExecution(ctx context.Context, exec domain.Execution, step domain.Step, stepCount int) {
	if stepCount == 0 || step.StepIndex != stepCount-1 {
		return
	}
	if err := s.store.CompleteExecution(ctx, exec.ID, s.clock().UTC()); err != nil {
		log.Printf("scheduler: complete execution=%s error: %v", exec.ID, err)
		return
	}
	log.Printf("scheduler: completed sequence=%s execution=%s", exec.SequenceName, exec.ID)
}

func (s *Scheduler) logMarkError(stepID uuid.UUID, status string, err error) {
	if errors.Is(err, ErrTransitionDenied) {
		// The recovery sweep requeued this claim before we finished.
		log.Printf("scheduler: step=%s no longer claimed, %s outcome discarded", stepID, status)
		return
	}
	log.Printf("scheduler: mark step=%s %s error: %v", stepID, status, err)
}

func (s *Scheduler) recordOutcome(ctx context.Context, sequenceName, outcome string) {
	if s.metrics != nil {
		s.metrics.StepOutcome(outcome)
	}
	if s.analytics != nil {
		s.analytics.Record(ctx, sequenceName, outcome, s.clock().UTC())
	}
}
