// Package analytics keeps per-sequence outcome counters in Redis.
//
// Counters are bucketed by time window and expire on their own, so no
// cleanup job is needed. Writes are best-effort: a Redis outage never
// affects step processing, the durable record lives in Postgres.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds analytics sink configuration.
type Config struct {
	// Window is the counter bucket size. Supported: 1m, 5m, 1h.
	// Default: 1 hour.
	Window time.Duration

	// Retention is the TTL applied to each counter key.
	// Default: 30 days.
	Retention time.Duration
}

// DefaultConfig returns the default analytics configuration.
func DefaultConfig() Config {
	return Config{
		Window:    time.Hour,
		Retention: 30 * 24 * time.Hour,
	}
}

// RedisSink increments bucketed outcome counters.
type RedisSink struct {
	client *redis.Client
	config Config
}

// NewRedisSink creates a RedisSink.
func NewRedisSink(client *redis.Client, config Config) *RedisSink {
	if config.Window <= 0 {
		config.Window = time.Hour
	}
	if config.Retention <= 0 {
		config.Retention = 30 * 24 * time.Hour
	}
	return &RedisSink{client: client, config: config}
}

// Record increments the counter for one step outcome. Failures are
// logged and swallowed.
func (s *RedisSink) Record(ctx context.Context, sequenceName, outcome string, at time.Time) {
	key := buildKey(sequenceName, outcome, at, s.config.Window)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.config.Retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: record failed for %s: %v", key, err)
	}
}

func buildKey(sequenceName, outcome string, t time.Time, window time.Duration) string {
	return fmt.Sprintf("seq:%s:%s:%s", sequenceName, outcome, truncateToBucket(t, window))
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("2006010215")
	}
}
