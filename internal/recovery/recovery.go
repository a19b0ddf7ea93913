// Package recovery returns stale claimed steps to the scheduled pool.
//
// A step is stale when a scheduler node claimed it and then crashed or
// lost connectivity before recording an outcome. The sweep runs on a
// cron schedule and requeues claims older than a threshold; the store's
// conditional transitions make the requeue safe against a claimant
// that finishes late.
package recovery

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Store defines the interface for requeueing stale claims.
type Store interface {
	RequeueStaleClaims(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

// MetricsSink receives sweep outcomes. All methods must be non-blocking.
type MetricsSink interface {
	RecoveryRequeued(count int)
}

// Config holds recovery sweep configuration.
type Config struct {
	// Schedule is a standard 5-field cron expression controlling when
	// the sweep runs. Default: every 5 minutes.
	Schedule string

	// StaleAfter is the age after which a claim is considered
	// abandoned. Must comfortably exceed the slowest expected
	// delivery. Default: 10 minutes.
	StaleAfter time.Duration

	// BatchSize is the maximum number of claims requeued per cycle.
	// Default: 100.
	BatchSize int
}

// DefaultConfig returns the default recovery configuration.
func DefaultConfig() Config {
	return Config{
		Schedule:   "*/5 * * * *",
		StaleAfter: 10 * time.Minute,
		BatchSize:  100,
	}
}

// Sweeper requeues stale claimed steps on a cron schedule.
type Sweeper struct {
	config   Config
	store    Store
	schedule cron.Schedule
	metrics  MetricsSink // optional, nil = disabled
	clock    func() time.Time
}

// New creates a Sweeper. It returns an error when the cron expression
// does not parse.
func New(config Config, store Store) (*Sweeper, error) {
	schedule, err := cron.ParseStandard(config.Schedule)
	if err != nil {
		return nil, fmt.Errorf("recovery: invalid schedule %q: %w", config.Schedule, err)
	}
	return &Sweeper{
		config:   config,
		store:    store,
		schedule: schedule,
		clock:    time.Now,
	}, nil
}

// WithMetrics attaches a metrics sink.
func (s *Sweeper) WithMetrics(sink MetricsSink) *Sweeper {
	s.metrics = sink
	return s
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	log.Printf("recovery: started (schedule=%q, stale_after=%s, batch=%d)",
		s.config.Schedule, s.config.StaleAfter, s.config.BatchSize)

	// Sweep immediately on startup, then on schedule. A node that
	// restarts after a crash is exactly when stale claims exist.
	s.runCycle(ctx)

	for {
		now := s.clock()
		next := s.schedule.Next(now)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("recovery: stopped")
			return
		case <-timer.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle executes one sweep. It drains repeatedly until a cycle
// requeues fewer than a full batch, so a backlog clears in one run.
func (s *Sweeper) runCycle(ctx context.Context) {
	total := 0
	for {
		if ctx.Err() != nil {
			return
		}

		now := s.clock().UTC()
		olderThan := now.Add(-s.config.StaleAfter)

		count, err := s.store.RequeueStaleClaims(ctx, olderThan, s.config.BatchSize)
		if err != nil {
			// DB error: log and abort cycle. Will retry next schedule.
			log.Printf("recovery: requeue failed: %v", err)
			return
		}
		total += count
		if count < s.config.BatchSize {
			break
		}
	}

	if total == 0 {
		// Nothing stale. Silent success.
		return
	}

	log.Printf("recovery: requeued %d stale claims", total)
	if s.metrics != nil {
		s.metrics.RecoveryRequeued(total)
	}
}
