package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTokenBucket_AllowAndRefill(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 5, 5) // 5 tokens capacity, 5 tokens/sec.

	if !b.Allow(5) {
		t.Fatalf("expected initial burst to succeed")
	}
	if b.Allow(1) {
		t.Fatalf("expected bucket to be empty")
	}

	clk.Advance(200 * time.Millisecond) // 1 token at 5 tokens/sec.
	if !b.Allow(1) {
		t.Fatalf("expected refill after time advance")
	}
	if b.Allow(1) {
		t.Fatalf("expected exactly one token after 200ms")
	}
}

func TestTokenBucket_DoesNotExceedCapacity(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 1, 1)

	if !b.Allow(1) {
		t.Fatalf("expected initial token")
	}

	clk.Advance(10 * time.Second)
	if !b.Allow(1) {
		t.Fatalf("expected refill up to capacity")
	}
	if b.Allow(1) {
		t.Fatalf("expected capacity clamp (only 1 token available)")
	}
}

func TestTokenBucket_ClockGoingBackwards(t *testing.T) {
	clk := &fakeClock{now: time.Unix(100, 0)}
	b := NewTokenBucket(clk, 1, 1)
	if !b.Allow(1) {
		t.Fatalf("expected initial token")
	}

	clk.Advance(-time.Minute)
	if b.Allow(1) {
		t.Fatalf("backwards clock must not refill")
	}
	clk.Advance(time.Second)
	if !b.Allow(1) {
		t.Fatalf("expected refill once time moves forward from the new base")
	}
}

func TestTokenBucket_ZeroRateNeverRefills(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 2, 0)
	if !b.Allow(2) {
		t.Fatalf("expected initial burst")
	}
	clk.Advance(time.Hour)
	if b.Allow(1) {
		t.Fatalf("zero-rate bucket refilled")
	}
	if !b.Allow(0) {
		t.Fatalf("zero-cost Allow must succeed")
	}
}

func TestNewMessageLimiter(t *testing.T) {
	if l := NewMessageLimiter(nil, 0); l != nil {
		t.Fatalf("limiter=%v, want nil for disabled limit", l)
	}
	var disabled *TokenBucket
	for i := 0; i < 1000; i++ {
		if !disabled.Allow(1) {
			t.Fatalf("nil limiter rejected message %d", i)
		}
	}

	clk := &fakeClock{now: time.Unix(0, 0)}
	l := NewMessageLimiter(clk, 3)
	for i := 0; i < 3; i++ {
		if !l.Allow(1) {
			t.Fatalf("message %d rejected within burst", i)
		}
	}
	if l.Allow(1) {
		t.Fatalf("message beyond burst allowed")
	}
	clk.Advance(time.Second)
	if !l.Allow(3) {
		t.Fatalf("expected full refill after one second")
	}
}
