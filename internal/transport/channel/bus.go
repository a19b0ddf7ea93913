// Package channel provides the in-process wake bus between the trigger
// gateway and the scheduler. A wake notice is an optimization only: it
// lets a poller pick up immediately-due steps (offset zero) without
// waiting out the poll interval. Durable state lives in the store, so
// dropped notices are harmless.
package channel

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrBusFull = errors.New("wake bus buffer full")

// WakeNotice tells the scheduler that an execution with a step due at
// DueAt was just persisted.
type WakeNotice struct {
	ExecutionID uuid.UUID
	DueAt       time.Time
}

// MetricsSink records wake bus drops. Methods must be non-blocking.
type MetricsSink interface {
	WakeDropped()
}

type Option func(*WakeBus)

// WithMetrics attaches a metrics sink to the bus.
func WithMetrics(sink MetricsSink) Option {
	return func(b *WakeBus) {
		b.metrics = sink
	}
}

type WakeBus struct {
	ch      chan WakeNotice
	metrics MetricsSink
}

func NewWakeBus(buffer int, opts ...Option) *WakeBus {
	b := &WakeBus{
		ch: make(chan WakeNotice, buffer),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Notify enqueues a wake notice without blocking. A full buffer drops
// the notice and returns ErrBusFull; callers treat that as advisory.
func (b *WakeBus) Notify(notice WakeNotice) error {
	select {
	case b.ch <- notice:
		return nil
	default:
		if b.metrics != nil {
			b.metrics.WakeDropped()
		}
		return ErrBusFull
	}
}

func (b *WakeBus) Channel() <-chan WakeNotice {
	return b.ch
}
