package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	return sink, reg
}

func getCounterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func getGaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetGauge() != nil {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	return 0
}

func getCounterVecValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if matchLabels(m.GetLabel(), labels) {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}

func TestPrometheusSink_Registration(t *testing.T) {
	// Should not panic or error with a fresh registry.
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	if sink == nil {
		t.Fatal("NewPrometheusSink returned nil")
	}
}

func TestPrometheusSink_DoubleRegistrationIsLogged(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusSink(reg)
	// Second sink on the same registry must not panic.
	NewPrometheusSink(reg)
}

func TestPollMetrics(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.PollStarted()
	sink.PollCompleted(50*time.Millisecond, 10, 8, nil)
	sink.PollStarted()
	sink.PollCompleted(50*time.Millisecond, 0, 0, errors.New("db down"))

	if got := getCounterValue(t, reg, "stepflow_scheduler_polls_total"); got != 2 {
		t.Errorf("polls_total = %v, want 2", got)
	}
	if got := getCounterValue(t, reg, "stepflow_scheduler_poll_errors_total"); got != 1 {
		t.Errorf("poll_errors_total = %v, want 1", got)
	}
	if got := getCounterValue(t, reg, "stepflow_scheduler_steps_due_total"); got != 10 {
		t.Errorf("steps_due_total = %v, want 10", got)
	}
	if got := getCounterValue(t, reg, "stepflow_scheduler_steps_claimed_total"); got != 8 {
		t.Errorf("steps_claimed_total = %v, want 8", got)
	}
}

func TestClaimConflictAndOutcomes(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.ClaimConflict()
	sink.ClaimConflict()
	sink.StepOutcome(OutcomeSent)
	sink.StepOutcome(OutcomeSent)
	sink.StepOutcome(OutcomeSkipped)
	sink.StepOutcome(OutcomeFailed)

	if got := getCounterValue(t, reg, "stepflow_scheduler_claim_conflicts_total"); got != 2 {
		t.Errorf("claim_conflicts_total = %v, want 2", got)
	}
	if got := getCounterVecValue(t, reg, "stepflow_scheduler_step_outcomes_total", map[string]string{"outcome": "sent"}); got != 2 {
		t.Errorf("outcomes{sent} = %v, want 2", got)
	}
	if got := getCounterVecValue(t, reg, "stepflow_scheduler_step_outcomes_total", map[string]string{"outcome": "skipped"}); got != 1 {
		t.Errorf("outcomes{skipped} = %v, want 1", got)
	}
}

func TestStepsInFlight(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.StepsInFlightIncr()
	sink.StepsInFlightIncr()
	sink.StepsInFlightDecr()

	if got := getGaugeValue(t, reg, "stepflow_scheduler_steps_in_flight"); got != 1 {
		t.Errorf("steps_in_flight = %v, want 1", got)
	}
}

func TestDeliveryMetrics(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.DeliveryCompleted("email", true, 100*time.Millisecond)
	sink.DeliveryCompleted("email", false, 100*time.Millisecond)
	sink.DeliveryCompleted("sms", true, 100*time.Millisecond)

	if got := getCounterVecValue(t, reg, "stepflow_dispatcher_deliveries_total", map[string]string{"channel": "email", "result": "success"}); got != 1 {
		t.Errorf("deliveries{email,success} = %v, want 1", got)
	}
	if got := getCounterVecValue(t, reg, "stepflow_dispatcher_deliveries_total", map[string]string{"channel": "email", "result": "failure"}); got != 1 {
		t.Errorf("deliveries{email,failure} = %v, want 1", got)
	}
}

func TestGatewayMetrics(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.TriggerCompleted("order_confirmation", nil)
	sink.TriggerCompleted("order_confirmation", errors.New("no such sequence"))
	sink.CancelCompleted(nil)

	if got := getCounterVecValue(t, reg, "stepflow_gateway_triggers_total", map[string]string{"sequence": "order_confirmation", "result": "success"}); got != 1 {
		t.Errorf("triggers{success} = %v, want 1", got)
	}
	if got := getCounterVecValue(t, reg, "stepflow_gateway_triggers_total", map[string]string{"sequence": "order_confirmation", "result": "error"}); got != 1 {
		t.Errorf("triggers{error} = %v, want 1", got)
	}
	if got := getCounterVecValue(t, reg, "stepflow_gateway_cancels_total", map[string]string{"result": "success"}); got != 1 {
		t.Errorf("cancels{success} = %v, want 1", got)
	}
}

func TestRecoveryAndLeaderMetrics(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.RecoveryRequeued(4)
	sink.LeaderStatusChanged(true)
	sink.LeaderAcquired()
	sink.LeaderLost("conn_lost")

	if got := getCounterValue(t, reg, "stepflow_recovery_steps_requeued_total"); got != 4 {
		t.Errorf("requeued_total = %v, want 4", got)
	}
	if got := getGaugeValue(t, reg, "stepflow_leader_status"); got != 1 {
		t.Errorf("leader_status = %v, want 1", got)
	}
	if got := getCounterVecValue(t, reg, "stepflow_leader_losses_total", map[string]string{"reason": "conn_lost"}); got != 1 {
		t.Errorf("leader_losses{conn_lost} = %v, want 1", got)
	}
}

// Verify PrometheusSink implements Sink interface.
var _ Sink = (*PrometheusSink)(nil)
