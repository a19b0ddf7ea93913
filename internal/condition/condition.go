// Package condition evaluates declarative step predicates against a
// trigger snapshot. Evaluation is pure: it has no side effects and is
// deterministic for a given snapshot.
package condition

import (
	"fmt"

	"github.com/djlord-it/stepflow/internal/domain"
)

// EvalError reports a predicate that could not be evaluated (unknown
// operator, non-numeric comparison). The owning step is marked failed
// with this detail; the worker loop continues unaffected.
type EvalError struct {
	Field string
	Op    domain.ConditionOp
	Cause string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluate condition %s %s: %s", e.Field, e.Op, e.Cause)
}

// Evaluate applies cond to snap. The zero condition always holds.
func Evaluate(cond domain.Condition, snap domain.Snapshot) (bool, error) {
	if cond.Op == domain.OpAlways {
		return true, nil
	}

	value, present := snap[cond.Field]

	switch cond.Op {
	case domain.OpExists:
		return present, nil

	case domain.OpNotExists:
		return !present, nil

	case domain.OpEq:
		return present && equal(value, cond.Value), nil

	case domain.OpNeq:
		return !present || !equal(value, cond.Value), nil

	case domain.OpGt, domain.OpLt:
		if !present {
			return false, nil
		}
		left, ok := asNumber(value)
		if !ok {
			return false, &EvalError{Field: cond.Field, Op: cond.Op, Cause: fmt.Sprintf("snapshot value %T is not a number", value)}
		}
		right, ok := asNumber(cond.Value)
		if !ok {
			return false, &EvalError{Field: cond.Field, Op: cond.Op, Cause: fmt.Sprintf("condition value %T is not a number", cond.Value)}
		}
		if cond.Op == domain.OpGt {
			return left > right, nil
		}
		return left < right, nil

	case domain.OpTruthy:
		return present && truthy(value), nil

	default:
		return false, &EvalError{Field: cond.Field, Op: cond.Op, Cause: "unknown operator"}
	}
}

// Validate checks a condition at catalog load time so malformed
// definitions fail at startup rather than at claim time.
func Validate(cond domain.Condition) error {
	switch cond.Op {
	case domain.OpAlways:
		return nil
	case domain.OpExists, domain.OpNotExists, domain.OpEq, domain.OpNeq, domain.OpTruthy:
	case domain.OpGt, domain.OpLt:
		if _, ok := asNumber(cond.Value); !ok {
			return &EvalError{Field: cond.Field, Op: cond.Op, Cause: "comparison value must be a number"}
		}
	default:
		return &EvalError{Field: cond.Field, Op: cond.Op, Cause: "unknown operator"}
	}
	if cond.Field == "" {
		return &EvalError{Field: cond.Field, Op: cond.Op, Cause: "field is required"}
	}
	return nil
}

func equal(a, b any) bool {
	// Numbers compare by value regardless of original width.
	if an, ok := asNumber(a); ok {
		if bn, ok := asNumber(b); ok {
			return an == bn
		}
		return false
	}
	return a == b
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	}
	return false
}
