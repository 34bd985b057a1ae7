// Package ratelimit provides tiered token-bucket rate limiting scoped
// per API key.
//
// # Overview
//
// Each key gets one independent token bucket per window its tier
// configures (second, minute, hour). A request must pass every
// configured window to be admitted. Windows are checked shortest first,
// so the first exhausted window is always the tightest one, and it is
// the one cited in the result:
//
//	limiter := ratelimit.NewLimiter(store, logger)
//	result := limiter.Consume(keyID, tier)
//	if !result.Allowed {
//	    // result.Window, result.RetryAfter
//	}
//
// # Token Bucket Algorithm
//
// Buckets refill continuously (rate = capacity / window duration) rather
// than in discrete steps, which avoids thundering-herd admission at
// window boundaries. Capacity equals the configured ceiling, so a cold
// bucket admits exactly the ceiling under burst.
//
// # Persistence and Degraded Mode
//
// Bucket state can be snapshotted to a CounterStore and restored on
// startup to smooth restarts. Snapshot traffic is best-effort: when the
// store is unreachable the limiter logs a warning and keeps enforcing
// from process memory. This degraded mode trades brief cross-restart
// over-admission for never blocking traffic on the limiter's account.
//
// # Thread Safety
//
// The limiter map is guarded by an RWMutex and each bucket by its own
// mutex; contention is scoped strictly per key and window. Unrelated
// keys never block each other.
package ratelimit
