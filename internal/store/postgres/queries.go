package postgres

const queryInsertExecution = `
INSERT INTO executions (id, sequence_name, recipient, context_snapshot, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

const queryInsertStep = `
INSERT INTO steps (id, execution_id, step_index, status, scheduled_at)
VALUES ($1, $2, $3, $4, $5)
`

const queryGetExecution = `
SELECT id, sequence_name, recipient, context_snapshot, status, created_at, completed_at, cancelled_at
FROM executions
WHERE id = $1
`

const queryGetExecutionStatus = `
SELECT status FROM executions WHERE id = $1
`

const queryCancelExecution = `
UPDATE executions
SET status = 'cancelled', cancelled_at = $2
WHERE id = $1
  AND status = 'active'
`

const queryCancelScheduledSteps = `
UPDATE steps
SET status = 'cancelled', completed_at = $2
WHERE execution_id = $1
  AND status = 'scheduled'
`

const queryGetExecutionSteps = `
SELECT id, execution_id, step_index, status, scheduled_at, claimed_at, completed_at, delivery_reference, error
FROM steps
WHERE execution_id = $1
ORDER BY step_index ASC
`

const queryGetDueSteps = `
SELECT id, execution_id, step_index, status, scheduled_at, claimed_at, completed_at, delivery_reference, error
FROM steps
WHERE status = 'scheduled'
  AND scheduled_at <= $1
ORDER BY scheduled_at ASC
LIMIT $2
`

const queryClaimStep = `
UPDATE steps
SET status = 'claimed', claimed_at = $2
WHERE id = $1
  AND status = 'scheduled'
`

const queryMarkStepSent = `
UPDATE steps
SET status = 'sent', delivery_reference = $2, completed_at = $3
WHERE id = $1
  AND status = 'claimed'
`

const queryMarkStepSkipped = `
UPDATE steps
SET status = 'skipped', completed_at = $2
WHERE id = $1
  AND status = 'claimed'
`

const queryMarkStepFailed = `
UPDATE steps
SET status = 'failed', error = $2, completed_at = $3
WHERE id = $1
  AND status = 'claimed'
`

const queryCompleteExecution = `
UPDATE executions
SET status = 'completed', completed_at = $2
WHERE id = $1
  AND status = 'active'
`

const queryRequeueStaleClaims = `
WITH stale AS (
    SELECT id FROM steps
    WHERE status = 'claimed'
      AND claimed_at < $1
    ORDER BY claimed_at ASC
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
UPDATE steps
SET status = 'scheduled', claimed_at = NULL
FROM stale
WHERE steps.id = stale.id
`

const queryCountStepsByStatus = `
SELECT s.status, COUNT(*)
FROM steps s
JOIN executions e ON s.execution_id = e.id
WHERE e.sequence_name = $1
  AND e.created_at >= $2
  AND e.created_at < $3
GROUP BY s.status
`

const queryCountExecutionsByStatus = `
SELECT status, COUNT(*)
FROM executions
WHERE sequence_name = $1
  AND created_at >= $2
  AND created_at < $3
GROUP BY status
`

const queryAverageCompletionSeconds = `
SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - created_at))), 0)
FROM executions
WHERE sequence_name = $1
  AND status = 'completed'
  AND created_at >= $2
  AND created_at < $3
`
