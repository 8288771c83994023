package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SlidingWindow implements a distributed sliding-window counter in Redis.
// Each allowed call records a timestamped member; calls are rejected once
// the window holds limit entries.
type SlidingWindow struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewSlidingWindow constructs a limiter with the provided limit per window.
func NewSlidingWindow(client *redis.Client, limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{client: client, limit: limit, window: window}
}

// Allow consumes one slot for the key if the window has room. Returns the
// allowed flag and the count of calls currently inside the window.
func (l *SlidingWindow) Allow(ctx context.Context, key string) (bool, int64, error) {
	now := time.Now().UnixMilli()
	res, err := windowScript.Run(ctx, l.client,
		[]string{"ratelimit:" + key},
		l.limit, now, l.window.Milliseconds()).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit script: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, fmt.Errorf("unexpected rate limit reply: %v", res)
	}
	flag, ok := arr[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected rate limit reply: %v", res)
	}
	count, _ := arr[1].(int64)
	return flag == 1, count, nil
}

var windowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local window = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

local allowed = 0
if count < limit then
  allowed = 1
  redis.call('ZADD', key, now, now .. '-' .. math.random(1000000))
  count = count + 1
end

redis.call('PEXPIRE', key, window)
return {allowed, count}
`)
