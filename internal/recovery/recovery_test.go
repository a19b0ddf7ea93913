package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/djlord-it/stepflow/internal/testutil"
)

// mockStore records requeue calls and returns scripted counts.
type mockStore struct {
	mu        sync.Mutex
	counts    []int // one per call, last repeats
	err       error
	calls     int
	olderThan []time.Time
	limits    []int
}

func (s *mockStore) RequeueStaleClaims(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.olderThan = append(s.olderThan, olderThan)
	s.limits = append(s.limits, limit)
	idx := s.calls
	s.calls++
	if idx >= len(s.counts) {
		idx = len(s.counts) - 1
	}
	if idx < 0 {
		return 0, nil
	}
	return s.counts[idx], nil
}

func (s *mockStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type mockMetrics struct {
	mu       sync.Mutex
	requeued []int
}

func (m *mockMetrics) RecoveryRequeued(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requeued = append(m.requeued, count)
}

func TestNew_InvalidScheduleRejected(t *testing.T) {
	_, err := New(Config{Schedule: "not a cron expr", StaleAfter: time.Minute, BatchSize: 10}, &mockStore{})
	if err == nil {
		t.Error("New() error = nil, want parse error")
	}
}

func TestRunCycle_UsesStaleThreshold(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := testutil.NewFakeClock(now)
	store := &mockStore{counts: []int{3}}

	sweeper, err := New(Config{Schedule: "*/5 * * * *", StaleAfter: 10 * time.Minute, BatchSize: 100}, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	sweeper.clock = clock.Now

	sweeper.runCycle(testutil.TestContext(t))

	if store.callCount() != 1 {
		t.Fatalf("requeue calls = %d, want 1", store.callCount())
	}
	wantCutoff := now.Add(-10 * time.Minute)
	if !store.olderThan[0].Equal(wantCutoff) {
		t.Errorf("olderThan = %s, want %s", store.olderThan[0], wantCutoff)
	}
	if store.limits[0] != 100 {
		t.Errorf("limit = %d, want 100", store.limits[0])
	}
}

func TestRunCycle_DrainsFullBatches(t *testing.T) {
	// Two full batches then a partial one: the cycle keeps going until
	// a requeue returns less than a full batch.
	store := &mockStore{counts: []int{10, 10, 4}}
	metrics := &mockMetrics{}

	sweeper, err := New(Config{Schedule: "* * * * *", StaleAfter: time.Minute, BatchSize: 10}, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	sweeper.WithMetrics(metrics)

	sweeper.runCycle(testutil.TestContext(t))

	if store.callCount() != 3 {
		t.Errorf("requeue calls = %d, want 3", store.callCount())
	}
	if len(metrics.requeued) != 1 || metrics.requeued[0] != 24 {
		t.Errorf("metrics requeued = %v, want [24]", metrics.requeued)
	}
}

func TestRunCycle_ZeroRequeuedSkipsMetrics(t *testing.T) {
	store := &mockStore{counts: []int{0}}
	metrics := &mockMetrics{}

	sweeper, err := New(DefaultConfig(), store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	sweeper.WithMetrics(metrics)

	sweeper.runCycle(testutil.TestContext(t))

	if len(metrics.requeued) != 0 {
		t.Errorf("metrics requeued = %v, want none", metrics.requeued)
	}
}

func TestRunCycle_StoreErrorAbortsCycle(t *testing.T) {
	store := &mockStore{err: errors.New("connection reset")}
	sweeper, err := New(DefaultConfig(), store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Must not panic or loop; the next scheduled run retries.
	sweeper.runCycle(testutil.TestContext(t))
}

func TestRun_SweepsImmediatelyOnStartup(t *testing.T) {
	store := &mockStore{counts: []int{0}}
	sweeper, err := New(Config{Schedule: "0 0 1 1 *", StaleAfter: time.Minute, BatchSize: 10}, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for store.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("no sweep on startup")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}
