package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestSlidingWindow(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	window := NewSlidingWindow(client, 3, time.Minute)

	for i := 1; i <= 3; i++ {
		allowed, count, err := window.Allow(ctx, "redrive:oncall")
		if err != nil || !allowed {
			t.Fatalf("call %d: allowed=%v err=%v", i, allowed, err)
		}
		if count != int64(i) {
			t.Fatalf("call %d: count=%d", i, count)
		}
	}

	allowed, count, err := window.Allow(ctx, "redrive:oncall")
	if err != nil {
		t.Fatalf("fourth call: %v", err)
	}
	if allowed {
		t.Fatal("fourth call should be rejected at limit 3")
	}
	if count != 3 {
		t.Fatalf("rejected count=%d, want 3", count)
	}

	// Note: window expiry cannot be tested with miniredis.FastForward() because
	// the Lua script receives time from Go's time.Now(), not Redis's clock.
}

func TestSlidingWindowIsolatesKeys(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	window := NewSlidingWindow(client, 1, time.Minute)

	if allowed, _, err := window.Allow(ctx, "redrive:alice"); err != nil || !allowed {
		t.Fatalf("alice first: allowed=%v err=%v", allowed, err)
	}
	if allowed, _, _ := window.Allow(ctx, "redrive:alice"); allowed {
		t.Fatal("alice's second call should exhaust the budget")
	}
	if allowed, _, err := window.Allow(ctx, "redrive:bob"); err != nil || !allowed {
		t.Fatalf("bob should have a separate budget: allowed=%v err=%v", allowed, err)
	}
}
