package domain

import "fmt"

// Snapshot is the trigger context captured once at trigger time.
// Values are restricted to string, float64 and bool. The snapshot is
// immutable after capture: condition evaluation and rendering for
// already-scheduled steps never observe later real-world changes.
type Snapshot map[string]any

// ValidateSnapshot checks that every value has an allowed type.
// JSON decoding produces float64 for all numbers, so integer kinds are
// accepted too; Clone normalizes them. The input is never modified.
func ValidateSnapshot(s Snapshot) error {
	for key, value := range s {
		switch value.(type) {
		case string, float64, bool, int, int64:
		default:
			return fmt.Errorf("snapshot key %q: unsupported type %T", key, value)
		}
	}
	return nil
}

// Clone returns an independent copy of the snapshot with integer
// values normalized to float64, matching what JSON decoding produces.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for k, v := range s {
		switch n := v.(type) {
		case int:
			out[k] = float64(n)
		case int64:
			out[k] = float64(n)
		default:
			out[k] = v
		}
	}
	return out
}
