package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"brandpeek/gatehouse/pkg/keys"
	"brandpeek/gatehouse/pkg/limits/storage"
)

// Limiter enforces tiered token-bucket rate limits scoped per key.
//
// Per-key limiters are created lazily on first consumption and rebuilt
// when the key's tier limits change (deploy-time tier edits followed by
// a config reload). The per-key state lives in process memory; an
// optional CounterStore receives best-effort snapshots so restarts do
// not hand every key a full burst.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*keyLimiter

	store  storage.CounterStore
	logger *slog.Logger
}

// keyLimiter holds one key's buckets, one per configured window.
type keyLimiter struct {
	buckets map[Window]*TokenBucket

	// limits records the tier values the buckets were built from, so a
	// tier change is detected and the buckets rebuilt.
	limits [3]int
}

// NewLimiter creates a limiter. The store may be nil to disable
// snapshot persistence entirely.
func NewLimiter(store storage.CounterStore, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		limiters: make(map[string]*keyLimiter),
		store:    store,
		logger:   logger.With("component", "ratelimit"),
	}
}

// windowLimits returns the tier's ceilings in tightest-first order.
func windowLimits(tier *keys.Tier) [3]int {
	return [3]int{tier.RequestsPerSecond, tier.RequestsPerMinute, tier.RequestsPerHour}
}

var windowOrder = [3]Window{WindowSecond, WindowMinute, WindowHour}

// Consume takes one token from every window the tier configures.
//
// Windows are checked tightest first (second, minute, hour); the first
// exhausted window is cited in the result together with the time until
// its next token. Windows with a zero ceiling are unlimited and skipped.
// A tier with no configured windows always allows.
//
// On denial the tokens already taken from tighter windows are refunded,
// so a flood held back by the minute or hour window does not drain the
// per-second burst headroom.
func (l *Limiter) Consume(keyID string, tier *keys.Tier) *ConsumptionResult {
	kl := l.limiterFor(keyID, tier)

	limits := windowLimits(tier)
	var taken []*TokenBucket
	for i, window := range windowOrder {
		if limits[i] <= 0 {
			continue
		}

		bucket := kl.buckets[window]
		if bucket.Take(1) {
			taken = append(taken, bucket)
			continue
		}

		for _, b := range taken {
			b.Refund(1)
		}

		retryAfter := bucket.TimeUntilAvailable(1)
		return &ConsumptionResult{
			Allowed:    false,
			Window:     window,
			Limit:      bucket.Capacity(),
			Remaining:  bucket.Remaining(),
			RetryAfter: retryAfter,
			Reset:      time.Now().Add(retryAfter),
		}
	}

	return l.allowedResult(kl, limits)
}

// allowedResult reports the tightest configured window's standing.
func (l *Limiter) allowedResult(kl *keyLimiter, limits [3]int) *ConsumptionResult {
	for i, window := range windowOrder {
		if limits[i] <= 0 {
			continue
		}

		bucket := kl.buckets[window]
		wait := bucket.TimeUntilAvailable(1)
		return &ConsumptionResult{
			Allowed:    true,
			Window:     window,
			Limit:      bucket.Capacity(),
			Remaining:  bucket.Remaining(),
			RetryAfter: wait,
			Reset:      time.Now().Add(wait),
		}
	}

	// Fully unlimited tier.
	return &ConsumptionResult{Allowed: true}
}

// limiterFor returns the key's limiter, building or rebuilding it as
// needed. The read-lock fast path covers steady-state traffic.
func (l *Limiter) limiterFor(keyID string, tier *keys.Tier) *keyLimiter {
	limits := windowLimits(tier)

	l.mu.RLock()
	kl, ok := l.limiters[keyID]
	l.mu.RUnlock()
	if ok && kl.limits == limits {
		return kl
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Re-check under the write lock; another goroutine may have built it.
	if kl, ok := l.limiters[keyID]; ok && kl.limits == limits {
		return kl
	}

	kl = &keyLimiter{
		buckets: make(map[Window]*TokenBucket),
		limits:  limits,
	}
	for i, window := range windowOrder {
		if limits[i] <= 0 {
			continue
		}

		capacity := int64(limits[i])
		rate := float64(limits[i]) / window.Duration().Seconds()
		bucket := NewTokenBucket(capacity, rate)
		l.restoreBucket(keyID, window, bucket)
		kl.buckets[window] = bucket
	}

	l.limiters[keyID] = kl
	return kl
}

// restoreBucket loads a persisted snapshot into a fresh bucket.
// Store failures degrade to a full in-memory bucket with a warning;
// the limiter never blocks traffic on snapshot plumbing.
func (l *Limiter) restoreBucket(keyID string, window Window, bucket *TokenBucket) {
	if l.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	state, err := l.store.LoadBucket(ctx, keyID, string(window))
	if err != nil {
		l.logger.Warn("bucket snapshot load failed, starting full",
			"key_id", keyID,
			"window", window,
			"error", err,
		)
		return
	}
	if state != nil {
		bucket.Restore(state.Tokens, state.LastRefill)
	}
}

// Persist snapshots every live bucket to the store. Best-effort: the
// first store error is returned after attempting the rest.
func (l *Limiter) Persist(ctx context.Context) error {
	if l.store == nil {
		return nil
	}

	l.mu.RLock()
	type entry struct {
		keyID  string
		window Window
		bucket *TokenBucket
	}
	var entries []entry
	for keyID, kl := range l.limiters {
		for window, bucket := range kl.buckets {
			entries = append(entries, entry{keyID, window, bucket})
		}
	}
	l.mu.RUnlock()

	var firstErr error
	for _, e := range entries {
		tokens, lastRefill := e.bucket.Snapshot()
		err := l.store.SaveBucket(ctx, &storage.BucketState{
			KeyID:      e.keyID,
			Window:     string(e.window),
			Tokens:     tokens,
			LastRefill: lastRefill,
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
