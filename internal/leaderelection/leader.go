// Package leaderelection elects a single node to run singleton duties.
//
// Election rides on a Postgres session-scoped advisory lock: whoever
// holds the lock is the leader and runs the recovery sweep, every
// other node keeps retrying. The lock lives as long as its dedicated
// database connection; there is no renewal or TTL, and Postgres frees
// it server-side when the connection dies.
//
// The heartbeat ping only detects local connection death so a demoted
// leader stops its duties promptly. It does not renew the lock.
package leaderelection

import (
	"context"
	"database/sql"
	"log"
	"time"
)

// MetricsSink receives leadership transitions. All methods must be
// non-blocking.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string) // reason: "shutdown", "conn_lost"
}

// Config holds elector configuration.
type Config struct {
	// LockKey identifies the advisory lock. All nodes of one
	// deployment must share it.
	LockKey int64

	// RetryInterval is how often a follower re-attempts acquisition.
	RetryInterval time.Duration

	// HeartbeatInterval is how often the leader pings its dedicated
	// connection.
	HeartbeatInterval time.Duration
}

// DefaultConfig returns the default elector configuration.
func DefaultConfig() Config {
	return Config{
		LockKey:           7_420_001,
		RetryInterval:     15 * time.Second,
		HeartbeatInterval: 5 * time.Second,
	}
}

// Elector competes for the advisory lock and runs callbacks on
// leadership transitions.
type Elector struct {
	db        *sql.DB
	config    Config
	onElected func(ctx context.Context)
	onDemoted func()
	metrics   MetricsSink // optional, nil = disabled
}

// New creates an Elector.
//
// onElected runs in a new goroutine when this node acquires the lock;
// its context is cancelled when leadership is lost. It should start
// the leader duties and return quickly.
//
// onDemoted runs synchronously when leadership is lost and must block
// until the duties have stopped. It must be idempotent.
func New(db *sql.DB, config Config, onElected func(ctx context.Context), onDemoted func()) *Elector {
	return &Elector{
		db:        db,
		config:    config,
		onElected: onElected,
		onDemoted: onDemoted,
	}
}

// WithMetrics attaches a metrics sink.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run starts the election loop. It blocks until ctx is cancelled.
func (e *Elector) Run(ctx context.Context) {
	log.Printf("leader: election loop started (lock_key=%d, retry=%s, heartbeat=%s)",
		e.config.LockKey, e.config.RetryInterval, e.config.HeartbeatInterval)

	for {
		if ctx.Err() != nil {
			log.Println("leader: election loop stopped")
			return
		}

		reason := e.runOnce(ctx)

		if ctx.Err() != nil {
			log.Println("leader: election loop stopped")
			return
		}

		if reason != "" {
			log.Printf("leader: lost leadership (reason=%s), retrying in %s", reason, e.config.RetryInterval)
		}

		select {
		case <-ctx.Done():
			log.Println("leader: election loop stopped")
			return
		case <-time.After(e.config.RetryInterval):
		}
	}
}

// runOnce attempts one acquisition and, on success, holds the lock
// until it is lost. Returns the loss reason, empty when the lock was
// never acquired.
func (e *Elector) runOnce(ctx context.Context) string {
	// The lock is session-scoped, so it needs a dedicated connection
	// pinned out of the pool.
	conn, err := e.db.Conn(ctx)
	if err != nil {
		log.Printf("leader: dedicated connection unavailable: %v", err)
		return ""
	}
	defer conn.Close()

	var acquired bool
	err = conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", e.config.LockKey).Scan(&acquired)
	if err != nil {
		log.Printf("leader: advisory lock query failed: %v", err)
		return ""
	}
	if !acquired {
		return ""
	}

	log.Printf("leader: acquired advisory lock %d", e.config.LockKey)
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	leaderCtx, cancelLeader := context.WithCancel(ctx)
	go e.onElected(leaderCtx)

	reason := e.holdLock(ctx, conn)

	cancelLeader()
	e.onDemoted()

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}

	log.Printf("leader: released advisory lock %d", e.config.LockKey)
	return reason
}

// holdLock blocks while pinging the dedicated connection and returns
// the reason the lock was lost.
func (e *Elector) holdLock(ctx context.Context, conn *sql.Conn) string {
	ticker := time.NewTicker(e.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "shutdown"
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return "shutdown"
				}
				log.Printf("leader: dedicated connection ping failed: %v", err)
				return "conn_lost"
			}
		}
	}
}
