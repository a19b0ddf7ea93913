package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/stepflow/internal/api"
	"github.com/djlord-it/stepflow/internal/domain"
	"github.com/djlord-it/stepflow/internal/recovery"
	"github.com/djlord-it/stepflow/internal/scheduler"
	"github.com/djlord-it/stepflow/internal/stats"
	"github.com/djlord-it/stepflow/internal/trigger"
)

// Store implements trigger.Store, scheduler.Store, recovery.Store,
// stats.Store and api.Store using PostgreSQL. All coordination happens
// here: atomic batch writes for trigger/cancel and atomic conditional
// updates for claiming. No other synchronization primitive is assumed.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a new PostgreSQL store. opTimeout bounds each storage
// round-trip; zero disables the bound.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// CreateExecution persists an execution and all of its steps in one
// transaction. Nothing is visible on failure.
func (s *Store) CreateExecution(ctx context.Context, exec domain.Execution, steps []domain.Step) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	snapshot, err := json.Marshal(exec.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, queryInsertExecution,
		exec.ID,
		exec.SequenceName,
		exec.Recipient,
		snapshot,
		string(exec.Status),
		exec.CreatedAt,
	)
	if err != nil {
		return err
	}

	for _, step := range steps {
		_, err = tx.ExecContext(ctx, queryInsertStep,
			step.ID,
			step.ExecutionID,
			step.StepIndex,
			string(step.Status),
			step.ScheduledAt,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// CancelExecution cancels an active execution and, in the same
// transaction, transitions its scheduled steps to cancelled. Claimed
// and terminal steps are left untouched. Cancelling an already
// completed or cancelled execution is a no-op success. Returns
// trigger.ErrExecutionNotFound for unknown ids.
func (s *Store) CancelExecution(ctx context.Context, executionID uuid.UUID, now time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, queryCancelExecution, executionID, now)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		// Either the execution does not exist or it is already
		// completed/cancelled. Distinguish by checking the row.
		var status string
		err := tx.QueryRowContext(ctx, queryGetExecutionStatus, executionID).Scan(&status)
		if err == sql.ErrNoRows {
			return trigger.ErrExecutionNotFound
		}
		if err != nil {
			return err
		}
		// Terminal already: idempotent no-op.
		return nil
	}

	if _, err := tx.ExecContext(ctx, queryCancelScheduledSteps, executionID, now); err != nil {
		return err
	}

	return tx.Commit()
}

// GetExecution returns an execution by id, including its snapshot.
func (s *Store) GetExecution(ctx context.Context, executionID uuid.UUID) (domain.Execution, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var exec domain.Execution
	var snapshot []byte
	var status string

	err := s.db.QueryRowContext(ctx, queryGetExecution, executionID).Scan(
		&exec.ID,
		&exec.SequenceName,
		&exec.Recipient,
		&snapshot,
		&status,
		&exec.CreatedAt,
		&exec.CompletedAt,
		&exec.CancelledAt,
	)
	if err == sql.ErrNoRows {
		return domain.Execution{}, trigger.ErrExecutionNotFound
	}
	if err != nil {
		return domain.Execution{}, err
	}

	exec.Status = domain.ExecutionStatus(status)
	if err := json.Unmarshal(snapshot, &exec.Snapshot); err != nil {
		return domain.Execution{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return exec, nil
}

// GetExecutionSteps returns all steps of an execution ordered by index.
func (s *Store) GetExecutionSteps(ctx context.Context, executionID uuid.UUID) ([]domain.Step, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryGetExecutionSteps, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSteps(rows)
}

// GetDueSteps returns scheduled steps due at or before now, earliest
// first, bounded by limit.
func (s *Store) GetDueSteps(ctx context.Context, now time.Time, limit int) ([]domain.Step, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryGetDueSteps, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSteps(rows)
}

// ClaimStep performs the atomic conditional transition scheduled →
// claimed. PostgreSQL acquires the row lock before evaluating the
// WHERE clause, so exactly one concurrent claimant wins; the rest get
// scheduler.ErrClaimConflict.
func (s *Store) ClaimStep(ctx context.Context, stepID uuid.UUID, now time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryClaimStep, stepID, now)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return scheduler.ErrClaimConflict
	}
	return nil
}

// MarkStepSent records a successful delivery. Conditional on the step
// still being claimed; a recovery sweep may have requeued it.
func (s *Store) MarkStepSent(ctx context.Context, stepID uuid.UUID, reference string, now time.Time) error {
	return s.markStep(ctx, queryMarkStepSent, stepID, reference, now)
}

// MarkStepSkipped records a step whose condition did not hold.
func (s *Store) MarkStepSkipped(ctx context.Context, stepID uuid.UUID, now time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryMarkStepSkipped, stepID, now)
	if err != nil {
		return err
	}
	return requireTransition(result)
}

// MarkStepFailed records a delivery or evaluation failure.
func (s *Store) MarkStepFailed(ctx context.Context, stepID uuid.UUID, detail string, now time.Time) error {
	return s.markStep(ctx, queryMarkStepFailed, stepID, detail, now)
}

func (s *Store) markStep(ctx context.Context, query string, stepID uuid.UUID, value string, now time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, query, stepID, value, now)
	if err != nil {
		return err
	}
	return requireTransition(result)
}

func requireTransition(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return scheduler.ErrTransitionDenied
	}
	return nil
}

// CompleteExecution marks an execution completed, only from active.
// Zero rows means the execution was cancelled or completed meanwhile;
// that is not an error.
func (s *Store) CompleteExecution(ctx context.Context, executionID uuid.UUID, now time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryCompleteExecution, executionID, now)
	return err
}

// RequeueStaleClaims returns steps claimed before olderThan back to
// scheduled, bounded by limit, and reports how many were requeued.
// SKIP LOCKED keeps concurrent sweeps from blocking each other.
func (s *Store) RequeueStaleClaims(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryRequeueStaleClaims, olderThan, limit)
	if err != nil {
		return 0, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rowsAffected), nil
}

// CountStepsByStatus aggregates step counts for a sequence over a
// window keyed by execution creation time.
func (s *Store) CountStepsByStatus(ctx context.Context, sequenceName string, from, to time.Time) (map[domain.StepStatus]int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryCountStepsByStatus, sequenceName, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.StepStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[domain.StepStatus(status)] = count
	}
	return counts, rows.Err()
}

// CountExecutionsByStatus aggregates execution counts for a sequence
// over a window.
func (s *Store) CountExecutionsByStatus(ctx context.Context, sequenceName string, from, to time.Time) (map[domain.ExecutionStatus]int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryCountExecutionsByStatus, sequenceName, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.ExecutionStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[domain.ExecutionStatus(status)] = count
	}
	return counts, rows.Err()
}

// AverageCompletionTime returns the mean trigger-to-completion time of
// completed executions in the window, zero when there are none.
func (s *Store) AverageCompletionTime(ctx context.Context, sequenceName string, from, to time.Time) (time.Duration, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var seconds float64
	err := s.db.QueryRowContext(ctx, queryAverageCompletionSeconds, sequenceName, from, to).Scan(&seconds)
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func scanSteps(rows *sql.Rows) ([]domain.Step, error) {
	var result []domain.Step
	for rows.Next() {
		var step domain.Step
		var status string

		err := rows.Scan(
			&step.ID,
			&step.ExecutionID,
			&step.StepIndex,
			&status,
			&step.ScheduledAt,
			&step.ClaimedAt,
			&step.CompletedAt,
			&step.DeliveryRef,
			&step.Error,
		)
		if err != nil {
			return nil, err
		}
		step.Status = domain.StepStatus(status)
		result = append(result, step)
	}
	return result, rows.Err()
}

// Compile-time interface assertions
var (
	_ trigger.Store   = (*Store)(nil)
	_ scheduler.Store = (*Store)(nil)
	_ recovery.Store  = (*Store)(nil)
	_ stats.Store     = (*Store)(nil)
	_ api.Store       = (*Store)(nil)
)
