package breaker

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := New("worker", 3, time.Minute)
	boom := errors.New("connect refused")

	for i := 0; i < 3; i++ {
		if err := b.Call(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("failure %d: err = %v", i+1, err)
		}
	}
	if b.State() != "open" {
		t.Fatalf("state = %s, want open after 3 consecutive failures", b.State())
	}

	// Open circuit fails fast without invoking the function.
	called := false
	err := b.Call(func() error { called = true; return nil })
	if err == nil {
		t.Fatal("open circuit should reject the call")
	}
	if called {
		t.Fatal("function invoked while circuit open")
	}
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	b := New("worker", 3, time.Minute)
	boom := errors.New("timeout")

	b.Call(func() error { return boom })
	b.Call(func() error { return boom })
	if err := b.Call(func() error { return nil }); err != nil {
		t.Fatalf("success through closed circuit: %v", err)
	}
	b.Call(func() error { return boom })
	b.Call(func() error { return boom })

	if b.State() != "closed" {
		t.Fatalf("state = %s, want closed: the streak never reached 3", b.State())
	}
}

func TestBreakerDoReturnsValue(t *testing.T) {
	b := New("worker", 3, time.Minute)
	v, err := b.Do(func() (any, error) { return 42, nil })
	if err != nil {
		t.Fatal(err)
	}
	if v.(int) != 42 {
		t.Fatalf("v = %v", v)
	}
}
