package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Scheduler metrics
	pollsTotal        prometheus.Counter
	pollErrorsTotal   prometheus.Counter
	stepsDueTotal     prometheus.Counter
	stepsClaimedTotal prometheus.Counter
	pollDuration      prometheus.Histogram
	claimConflicts    prometheus.Counter
	stepOutcomes      *prometheus.CounterVec
	stepsInFlight     prometheus.Gauge
	deliveryTotal     *prometheus.CounterVec
	deliveryDuration  *prometheus.HistogramVec

	// Trigger gateway metrics
	triggersTotal *prometheus.CounterVec
	cancelsTotal  *prometheus.CounterVec

	// Wake bus metrics
	wakeDropsTotal prometheus.Counter

	// Recovery metrics
	requeuedTotal prometheus.Counter

	// Leader election metrics
	leaderStatus       prometheus.Gauge
	leaderAcquisitions prometheus.Counter
	leaderLosses       *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initGatewayMetrics(reg)
	s.initMaintenanceMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.pollsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stepflow_scheduler_polls_total",
		Help: "Total number of scheduler poll cycles.",
	})
	s.pollErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stepflow_scheduler_poll_errors_total",
		Help: "Total number of poll cycles that failed to query due steps.",
	})
	s.stepsDueTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stepflow_scheduler_steps_due_total",
		Help: "Total number of due steps returned by poll queries.",
	})
	s.stepsClaimedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stepflow_scheduler_steps_claimed_total",
		Help: "Total number of steps this instance claimed.",
	})
	s.pollDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stepflow_scheduler_poll_duration_seconds",
		Help:    "Duration of each poll cycle in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.claimConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stepflow_scheduler_claim_conflicts_total",
		Help: "Total number of claims lost to a concurrent worker (benign).",
	})
	s.stepOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stepflow_scheduler_step_outcomes_total",
		Help: "Total number of processed steps by outcome.",
	}, []string{"outcome"})
	s.stepsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stepflow_scheduler_steps_in_flight",
		Help: "Number of claimed steps currently being processed.",
	})
	s.deliveryTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stepflow_dispatcher_deliveries_total",
		Help: "Total number of delivery attempts by channel and result.",
	}, []string{"channel", "result"})
	s.deliveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stepflow_dispatcher_delivery_duration_seconds",
		Help:    "Delivery request latency in seconds by channel.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"channel"})

	s.register(reg, s.pollsTotal, "stepflow_scheduler_polls_total")
	s.register(reg, s.pollErrorsTotal, "stepflow_scheduler_poll_errors_total")
	s.register(reg, s.stepsDueTotal, "stepflow_scheduler_steps_due_total")
	s.register(reg, s.stepsClaimedTotal, "stepflow_scheduler_steps_claimed_total")
	s.register(reg, s.pollDuration, "stepflow_scheduler_poll_duration_seconds")
	s.register(reg, s.claimConflicts, "stepflow_scheduler_claim_conflicts_total")
	s.register(reg, s.stepOutcomes, "stepflow_scheduler_step_outcomes_total")
	s.register(reg, s.stepsInFlight, "stepflow_scheduler_steps_in_flight")
	s.register(reg, s.deliveryTotal, "stepflow_dispatcher_deliveries_total")
	s.register(reg, s.deliveryDuration, "stepflow_dispatcher_delivery_duration_seconds")
}

func (s *PrometheusSink) initGatewayMetrics(reg prometheus.Registerer) {
	s.triggersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stepflow_gateway_triggers_total",
		Help: "Total number of trigger requests by sequence and result.",
	}, []string{"sequence", "result"})
	s.cancelsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stepflow_gateway_cancels_total",
		Help: "Total number of cancel requests by result.",
	}, []string{"result"})
	s.wakeDropsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stepflow_wakebus_drops_total",
		Help: "Total number of wake notices dropped (buffer full).",
	})

	s.register(reg, s.triggersTotal, "stepflow_gateway_triggers_total")
	s.register(reg, s.cancelsTotal, "stepflow_gateway_cancels_total")
	s.register(reg, s.wakeDropsTotal, "stepflow_wakebus_drops_total")
}

func (s *PrometheusSink) initMaintenanceMetrics(reg prometheus.Registerer) {
	s.requeuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stepflow_recovery_steps_requeued_total",
		Help: "Total number of stale claimed steps returned to scheduled.",
	})
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stepflow_leader_status",
		Help: "1 if this instance currently holds the leader lock, else 0.",
	})
	s.leaderAcquisitions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stepflow_leader_acquisitions_total",
		Help: "Total number of times this instance acquired leadership.",
	})
	s.leaderLosses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stepflow_leader_losses_total",
		Help: "Total number of times this instance lost leadership, by reason.",
	}, []string{"reason"})

	s.register(reg, s.requeuedTotal, "stepflow_recovery_steps_requeued_total")
	s.register(reg, s.leaderStatus, "stepflow_leader_status")
	s.register(reg, s.leaderAcquisitions, "stepflow_leader_acquisitions_total")
	s.register(reg, s.leaderLosses, "stepflow_leader_losses_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) PollStarted() {
	s.pollsTotal.Inc()
}

func (s *PrometheusSink) PollCompleted(duration time.Duration, due, claimed int, err error) {
	s.pollDuration.Observe(duration.Seconds())
	s.stepsDueTotal.Add(float64(due))
	s.stepsClaimedTotal.Add(float64(claimed))
	if err != nil {
		s.pollErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) ClaimConflict() {
	s.claimConflicts.Inc()
}

func (s *PrometheusSink) StepOutcome(outcome string) {
	s.stepOutcomes.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) StepsInFlightIncr() {
	s.stepsInFlight.Inc()
}

func (s *PrometheusSink) StepsInFlightDecr() {
	s.stepsInFlight.Dec()
}

func (s *PrometheusSink) DeliveryCompleted(channel string, success bool, duration time.Duration) {
	result := "failure"
	if success {
		result = "success"
	}
	s.deliveryTotal.WithLabelValues(channel, result).Inc()
	s.deliveryDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// Trigger gateway metrics implementation

func (s *PrometheusSink) TriggerCompleted(sequence string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	s.triggersTotal.WithLabelValues(sequence, result).Inc()
}

func (s *PrometheusSink) CancelCompleted(err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	s.cancelsTotal.WithLabelValues(result).Inc()
}

func (s *PrometheusSink) WakeDropped() {
	s.wakeDropsTotal.Inc()
}

// Recovery metrics implementation

func (s *PrometheusSink) RecoveryRequeued(count int) {
	s.requeuedTotal.Add(float64(count))
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
	} else {
		s.leaderStatus.Set(0)
	}
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquisitions.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLosses.WithLabelValues(reason).Inc()
}
