package domain

import "time"

// ConditionOp is the comparison applied by a step condition.
type ConditionOp string

const (
	OpAlways    ConditionOp = "" // zero value: step always runs
	OpEq        ConditionOp = "eq"
	OpNeq       ConditionOp = "neq"
	OpExists    ConditionOp = "exists"
	OpNotExists ConditionOp = "not_exists"
	OpGt        ConditionOp = "gt"
	OpLt        ConditionOp = "lt"
	OpTruthy    ConditionOp = "truthy"
)

// Condition is a declarative predicate over a trigger snapshot.
// The zero value always holds.
type Condition struct {
	Field string      `json:"field,omitempty"`
	Op    ConditionOp `json:"op,omitempty"`
	Value any         `json:"value,omitempty"`
}

// StepDefinition describes one scheduled action within a sequence.
// Offset is measured from the trigger instant, not from the previous
// step: offsets are independent of each other.
type StepDefinition struct {
	Offset    time.Duration
	Channel   Channel
	Subject   string // subject template
	Body      string // body template
	Condition Condition
}

// SequenceDefinition is an in-memory workflow definition. Definitions
// are never persisted; they live in the catalog and are identified by
// name from stored executions.
type SequenceDefinition struct {
	Name         string
	TriggerEvent string
	Steps        []StepDefinition
}
