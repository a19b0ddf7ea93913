package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

func TestAllow_UnknownEndpoint(t *testing.T) {
	cb := New(3, time.Minute)
	if err := cb.Allow("https://mail.internal/send"); err != nil {
		t.Errorf("Allow() = %v, want nil", err)
	}
}

func TestOpensAfterThreshold(t *testing.T) {
	cb := New(3, time.Minute)
	endpoint := "https://mail.internal/send"

	cb.RecordFailure(endpoint)
	cb.RecordFailure(endpoint)
	if err := cb.Allow(endpoint); err != nil {
		t.Fatalf("Allow() below threshold = %v, want nil", err)
	}

	cb.RecordFailure(endpoint)
	if err := cb.Allow(endpoint); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() = %v, want ErrCircuitOpen", err)
	}
}

func TestEndpointsAreIndependent(t *testing.T) {
	cb := New(1, time.Minute)

	cb.RecordFailure("https://sms.internal/send")

	if err := cb.Allow("https://sms.internal/send"); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("sms Allow() = %v, want ErrCircuitOpen", err)
	}
	if err := cb.Allow("https://chat.internal/send"); err != nil {
		t.Errorf("chat Allow() = %v, want nil", err)
	}
}

func TestHalfOpenAfterCooldown(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cb := New(1, time.Minute)
	cb.clock = func() time.Time { return now }

	endpoint := "https://mail.internal/send"
	cb.RecordFailure(endpoint)

	if err := cb.Allow(endpoint); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() = %v, want ErrCircuitOpen", err)
	}

	now = now.Add(2 * time.Minute)

	// First call after cooldown admits a probe.
	if err := cb.Allow(endpoint); err != nil {
		t.Fatalf("probe Allow() = %v, want nil", err)
	}
	// Second call is rejected while the probe is outstanding.
	if err := cb.Allow(endpoint); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() during probe = %v, want ErrCircuitOpen", err)
	}
}

func TestSuccessClosesCircuit(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cb := New(1, time.Minute)
	cb.clock = func() time.Time { return now }

	endpoint := "https://mail.internal/send"
	cb.RecordFailure(endpoint)
	now = now.Add(2 * time.Minute)

	if err := cb.Allow(endpoint); err != nil {
		t.Fatalf("probe Allow() = %v, want nil", err)
	}
	cb.RecordSuccess(endpoint)

	if err := cb.Allow(endpoint); err != nil {
		t.Errorf("Allow() after success = %v, want nil", err)
	}
}

func TestFailedProbeReopens(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cb := New(1, time.Minute)
	cb.clock = func() time.Time { return now }

	endpoint := "https://mail.internal/send"
	cb.RecordFailure(endpoint)
	now = now.Add(2 * time.Minute)

	if err := cb.Allow(endpoint); err != nil {
		t.Fatalf("probe Allow() = %v, want nil", err)
	}
	cb.RecordFailure(endpoint)

	if err := cb.Allow(endpoint); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() after failed probe = %v, want ErrCircuitOpen", err)
	}
}
