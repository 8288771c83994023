package audit

import (
	"context"
	"time"

	"github.com/joeylife94/asgard-sub000/internal/ratelimit"
)

// Counter exposes the audit-log query the default limiter runs against.
type Counter interface {
	CountRedrivesBy(ctx context.Context, performedBy string, since time.Time) (int64, error)
}

// LogCountLimiter enforces the per-actor limit by counting the actor's own
// audit rows inside the window. The audit log is the source of truth, so
// the limit survives restarts with no extra infrastructure.
type LogCountLimiter struct {
	counter Counter
	limit   int
	window  time.Duration
}

func NewLogCountLimiter(counter Counter, limit int, window time.Duration) *LogCountLimiter {
	return &LogCountLimiter{counter: counter, limit: limit, window: window}
}

func (l *LogCountLimiter) Allow(ctx context.Context, actor string) (bool, error) {
	n, err := l.counter.CountRedrivesBy(ctx, actor, time.Now().Add(-l.window))
	if err != nil {
		return false, err
	}
	return n < int64(l.limit), nil
}

// RedisLimiter enforces the same limit through a Redis sliding window.
// Useful when several control-plane replicas share one budget and the
// audit query is too hot; it fails closed on Redis errors.
type RedisLimiter struct {
	window *ratelimit.SlidingWindow
}

func NewRedisLimiter(window *ratelimit.SlidingWindow) *RedisLimiter {
	return &RedisLimiter{window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, actor string) (bool, error) {
	allowed, _, err := l.window.Allow(ctx, "redrive:"+actor)
	if err != nil {
		return false, err
	}
	return allowed, nil
}
