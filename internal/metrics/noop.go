package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) PollStarted()                                                        {}
func (n *NoopSink) PollCompleted(duration time.Duration, due, claimed int, err error)   {}
func (n *NoopSink) ClaimConflict()                                                      {}
func (n *NoopSink) StepOutcome(outcome string)                                          {}
func (n *NoopSink) StepsInFlightIncr()                                                  {}
func (n *NoopSink) StepsInFlightDecr()                                                  {}
func (n *NoopSink) DeliveryCompleted(channel string, success bool, d time.Duration)     {}
func (n *NoopSink) TriggerCompleted(sequence string, err error)                         {}
func (n *NoopSink) CancelCompleted(err error)                                           {}
func (n *NoopSink) WakeDropped()                                                        {}
func (n *NoopSink) RecoveryRequeued(count int)                                          {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                   {}
func (n *NoopSink) LeaderAcquired()                                                     {}
func (n *NoopSink) LeaderLost(reason string)                                            {}
