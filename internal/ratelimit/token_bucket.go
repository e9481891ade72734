// Package ratelimit provides the per-connection inbound message limiter used
// by the signaling WebSocket transport.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

const nanoTokensPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket refills at an integer rate (tokens/sec) up to a fixed capacity.
//
// Tokens are tracked as fixed-point nano-tokens (1 token = 1e9 nano-tokens) so
// that a rate of X tokens/sec adds exactly X nano-tokens per elapsed
// nanosecond, with no float rounding.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	capacity  int64 // tokens
	rate      int64 // tokens/sec
	available int64 // nano-tokens
	last      time.Time
}

// NewTokenBucket returns a full bucket. A non-positive rate never refills.
func NewTokenBucket(clock Clock, capacity, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if rate < 0 {
		rate = 0
	}
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		rate:      rate,
		available: toNano(capacity),
		last:      clock.Now(),
	}
}

// NewMessageLimiter allows perSecond messages per second with a burst of the
// same size. perSecond <= 0 disables limiting and returns nil; a nil
// *TokenBucket allows everything.
func NewMessageLimiter(clock Clock, perSecond int) *TokenBucket {
	if perSecond <= 0 {
		return nil
	}
	return NewTokenBucket(clock, int64(perSecond), int64(perSecond))
}

// Allow consumes tokens if available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if b == nil || tokens <= 0 {
		return true
	}
	cost := toNano(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if !now.After(b.last) {
		// Clock went backwards or did not move: just rebase.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now

	full := toNano(b.capacity)
	if b.rate <= 0 || b.available >= full {
		if b.available > full {
			b.available = full
		}
		return
	}

	// Clamp before multiplying so elapsed*rate cannot overflow.
	need := full - b.available
	if elapsed >= need/b.rate {
		b.available = full
		return
	}
	b.available += elapsed * b.rate
	if b.available > full {
		b.available = full
	}
}

func toNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoTokensPerToken {
		return maxInt64
	}
	return tokens * nanoTokensPerToken
}
