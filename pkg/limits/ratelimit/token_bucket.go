package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements the token bucket rate limiting algorithm.
//
// The bucket holds up to capacity tokens and refills continuously at
// refillRate tokens per second. Each admitted request consumes one
// token; if no whole token is available the request is rejected.
// Fractional token balances are kept so the refill is genuinely
// continuous rather than stepped.
//
// # Thread Safety
//
// TokenBucket is thread-safe using sync.Mutex for all operations.
type TokenBucket struct {
	capacity   int64     // Maximum tokens in bucket
	tokens     float64   // Current available tokens (fractional)
	refillRate float64   // Tokens added per second
	lastRefill time.Time // Last time tokens were refilled
	mu         sync.Mutex
}

// NewTokenBucket creates a new token bucket, initially full.
//
// Parameters:
//   - capacity: Maximum number of tokens in the bucket (burst size)
//   - refillRate: Tokens added per second (average rate)
func NewTokenBucket(capacity int64, refillRate float64) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Take attempts to consume n tokens from the bucket.
// Returns true if tokens were available and consumed, false otherwise.
func (tb *TokenBucket) Take(n int64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked(time.Now())

	if tb.tokens >= float64(n) {
		tb.tokens -= float64(n)
		return true
	}

	return false
}

// Remaining returns the number of whole tokens currently available.
func (tb *TokenBucket) Remaining() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked(time.Now())
	return int64(tb.tokens)
}

// Capacity returns the maximum bucket capacity.
func (tb *TokenBucket) Capacity() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.capacity
}

// Refund returns n tokens to the bucket, capped at capacity. Used when
// a later admission check fails after this bucket already granted.
func (tb *TokenBucket) Refund(n int64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens += float64(n)
	if tb.tokens > float64(tb.capacity) {
		tb.tokens = float64(tb.capacity)
	}
}

// TimeUntilAvailable returns how long until n tokens will be available.
// Returns 0 if tokens are immediately available.
func (tb *TokenBucket) TimeUntilAvailable(n int64) time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked(time.Now())

	deficit := float64(n) - tb.tokens
	if deficit <= 0 {
		return 0
	}

	return time.Duration(deficit / tb.refillRate * float64(time.Second))
}

// Snapshot returns the bucket's current token balance and refill time
// for persistence.
func (tb *TokenBucket) Snapshot() (tokens float64, lastRefill time.Time) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked(time.Now())
	return tb.tokens, tb.lastRefill
}

// Restore overwrites the bucket's state from a persisted snapshot.
// The balance keeps accruing from the snapshot's refill time, so tokens
// earned while the process was down are credited on the next operation.
func (tb *TokenBucket) Restore(tokens float64, lastRefill time.Time) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tokens > float64(tb.capacity) {
		tokens = float64(tb.capacity)
	}
	if tokens < 0 {
		tokens = 0
	}

	tb.tokens = tokens
	tb.lastRefill = lastRefill
}

// refillLocked adds tokens for the time elapsed since the last refill.
// Caller must hold the lock.
func (tb *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(tb.lastRefill)
	if elapsed <= 0 {
		return
	}

	tb.tokens += elapsed.Seconds() * tb.refillRate
	if tb.tokens > float64(tb.capacity) {
		tb.tokens = float64(tb.capacity)
	}
	tb.lastRefill = now
}
