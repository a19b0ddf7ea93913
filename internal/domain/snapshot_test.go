package domain

import "testing"

func TestValidateSnapshot(t *testing.T) {
	tests := []struct {
		name    string
		snap    Snapshot
		wantErr bool
	}{
		{"nil", nil, false},
		{"empty", Snapshot{}, false},
		{"string value", Snapshot{"order_number": "ORD123"}, false},
		{"number value", Snapshot{"total": 42.5}, false},
		{"bool value", Snapshot{"gift": true}, false},
		{"int accepted", Snapshot{"count": 3}, false},
		{"nested map rejected", Snapshot{"meta": map[string]any{}}, true},
		{"slice rejected", Snapshot{"items": []string{"a"}}, true},
		{"nil value rejected", Snapshot{"x": nil}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSnapshot(tt.snap)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSnapshot() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSnapshot_DoesNotMutateInput(t *testing.T) {
	snap := Snapshot{"count": 3}
	if err := ValidateSnapshot(snap); err != nil {
		t.Fatalf("ValidateSnapshot() error = %v", err)
	}
	if _, ok := snap["count"].(int); !ok {
		t.Errorf("count = %T, want int left untouched", snap["count"])
	}
}

func TestSnapshot_Clone(t *testing.T) {
	orig := Snapshot{"payment_status": "pending"}
	clone := orig.Clone()

	clone["payment_status"] = "resolved"

	if orig["payment_status"] != "pending" {
		t.Errorf("original mutated: %v", orig["payment_status"])
	}
}

func TestSnapshot_CloneNormalizesInts(t *testing.T) {
	clone := Snapshot{"count": 3, "qty": int64(7)}.Clone()

	if v, ok := clone["count"].(float64); !ok || v != 3 {
		t.Errorf("count = %v (%T), want float64 3", clone["count"], clone["count"])
	}
	if v, ok := clone["qty"].(float64); !ok || v != 7 {
		t.Errorf("qty = %v (%T), want float64 7", clone["qty"], clone["qty"])
	}
}
