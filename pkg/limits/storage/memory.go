package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements CounterStore and AddOnStore in process memory.
// This is the default backend and provides fast access with no
// persistence; all state is lost when the process exits.
//
// MemoryStore is thread-safe using a single RWMutex. Counter increments
// hold the write lock for a map lookup and an integer compare, so the
// critical section stays well inside the admission latency budget.
type MemoryStore struct {
	mu       sync.RWMutex
	counters map[string]*QuotaCounter // keyID + "\x00" + period
	buckets  map[string]*BucketState  // keyID + "\x00" + window
	addOns   map[string]*AddOn        // instance ID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*QuotaCounter),
		buckets:  make(map[string]*BucketState),
		addOns:   make(map[string]*AddOn),
	}
}

func compositeKey(a, b string) string {
	return a + "\x00" + b
}

// EnsureCounter creates the counter if absent; existing counters are
// left untouched.
func (m *MemoryStore) EnsureCounter(ctx context.Context, keyID, period string, limit int64, periodStart time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := compositeKey(keyID, period)
	if _, ok := m.counters[k]; ok {
		return nil
	}

	m.counters[k] = &QuotaCounter{
		KeyID:       keyID,
		Period:      period,
		Limit:       limit,
		PeriodStart: periodStart,
	}
	return nil
}

// IncrementIfBelow atomically consumes one unit of base quota.
func (m *MemoryStore) IncrementIfBelow(ctx context.Context, keyID, period string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[compositeKey(keyID, period)]
	if !ok {
		return 0, false, ErrCounterNotFound
	}

	if c.Limit > 0 && c.Used+1 >= c.Limit {
		return c.Used, false, nil
	}

	c.Used++
	return c.Used, true, nil
}

// GetCounter returns a copy of the counter for (keyID, period).
func (m *MemoryStore) GetCounter(ctx context.Context, keyID, period string) (*QuotaCounter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.counters[compositeKey(keyID, period)]
	if !ok {
		return nil, ErrCounterNotFound
	}

	cp := *c
	return &cp, nil
}

// ListCountersBefore returns non-archived counters older than period.
func (m *MemoryStore) ListCountersBefore(ctx context.Context, period string) ([]*QuotaCounter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*QuotaCounter
	for _, c := range m.counters {
		// "2006-01" periods sort lexicographically in time order.
		if !c.Archived && c.Period < period {
			cp := *c
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Period != out[j].Period {
			return out[i].Period < out[j].Period
		}
		return out[i].KeyID < out[j].KeyID
	})
	return out, nil
}

// ArchiveCounter marks a counter as rolled forward.
func (m *MemoryStore) ArchiveCounter(ctx context.Context, keyID, period string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[compositeKey(keyID, period)]
	if !ok {
		return ErrCounterNotFound
	}
	c.Archived = true
	return nil
}

// SaveBucket upserts a rate-limit bucket snapshot.
func (m *MemoryStore) SaveBucket(ctx context.Context, state *BucketState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *state
	m.buckets[compositeKey(state.KeyID, state.Window)] = &cp
	return nil
}

// LoadBucket returns the snapshot for (keyID, window), or nil.
func (m *MemoryStore) LoadBucket(ctx context.Context, keyID, window string) (*BucketState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.buckets[compositeKey(keyID, window)]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

// Insert stores a new add-on instance.
func (m *MemoryStore) Insert(ctx context.Context, addOn *AddOn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *addOn
	m.addOns[addOn.ID] = &cp
	return nil
}

// Get returns a copy of an add-on instance by ID.
func (m *MemoryStore) Get(ctx context.Context, id string) (*AddOn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.addOns[id]
	if !ok {
		return nil, ErrAddOnNotFound
	}
	cp := *a
	return &cp, nil
}

// ListActive returns the key's active add-ons, soonest expiry first.
func (m *MemoryStore) ListActive(ctx context.Context, keyID string, now time.Time) ([]*AddOn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*AddOn
	for _, a := range m.addOns {
		if a.KeyID == keyID && a.Active(now) {
			cp := *a
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out, nil
}

// ListByKey returns all of the key's add-ons, including inert ones.
func (m *MemoryStore) ListByKey(ctx context.Context, keyID string) ([]*AddOn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*AddOn
	for _, a := range m.addOns {
		if a.KeyID == keyID {
			cp := *a
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].PurchasedAt.Before(out[j].PurchasedAt)
	})
	return out, nil
}

// ConsumeOne atomically decrements Remaining on an active instance.
func (m *MemoryStore) ConsumeOne(ctx context.Context, id string, now time.Time) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.addOns[id]
	if !ok {
		return 0, false, ErrAddOnNotFound
	}
	if !a.Active(now) || a.Remaining <= 0 {
		return a.Remaining, false, nil
	}

	a.Remaining--
	return a.Remaining, true, nil
}

// Cancel sets the cancelled flag on an instance.
func (m *MemoryStore) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.addOns[id]
	if !ok {
		return ErrAddOnNotFound
	}
	a.Cancelled = true
	return nil
}

// MarkExpired flags an instance as processed by the scheduler.
func (m *MemoryStore) MarkExpired(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.addOns[id]
	if !ok {
		return ErrAddOnNotFound
	}
	a.Expired = true
	return nil
}

// ListExpired returns instances past expiry that are not yet flagged.
func (m *MemoryStore) ListExpired(ctx context.Context, now time.Time) ([]*AddOn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*AddOn
	for _, a := range m.addOns {
		if !a.Expired && !now.Before(a.ExpiresAt) {
			cp := *a
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out, nil
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error {
	return nil
}
