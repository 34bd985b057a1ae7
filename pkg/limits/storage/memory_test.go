package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryStore_IncrementStopsBelowCeiling(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.EnsureCounter(ctx, "k1", "2026-08", 3, time.Now()); err != nil {
		t.Fatalf("EnsureCounter failed: %v", err)
	}

	var grants int
	for i := 0; i < 5; i++ {
		_, ok, err := store.IncrementIfBelow(ctx, "k1", "2026-08")
		if err != nil {
			t.Fatalf("IncrementIfBelow failed: %v", err)
		}
		if ok {
			grants++
		}
	}

	if grants != 2 {
		t.Errorf("Limit 3 should grant 2 base units, got %d", grants)
	}

	c, err := store.GetCounter(ctx, "k1", "2026-08")
	if err != nil {
		t.Fatalf("GetCounter failed: %v", err)
	}
	if c.Used != 2 {
		t.Errorf("Counter must never record the ceiling, got used=%d", c.Used)
	}
}

func TestMemoryStore_EnsureCounterIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.EnsureCounter(ctx, "k2", "2026-08", 10, time.Now()); err != nil {
		t.Fatalf("EnsureCounter failed: %v", err)
	}
	if _, _, err := store.IncrementIfBelow(ctx, "k2", "2026-08"); err != nil {
		t.Fatalf("IncrementIfBelow failed: %v", err)
	}

	// A second ensure must not reset the live counter.
	if err := store.EnsureCounter(ctx, "k2", "2026-08", 10, time.Now()); err != nil {
		t.Fatalf("EnsureCounter failed: %v", err)
	}

	c, _ := store.GetCounter(ctx, "k2", "2026-08")
	if c.Used != 1 {
		t.Errorf("EnsureCounter reset the counter, got used=%d", c.Used)
	}
}

func TestMemoryStore_IncrementMissingCounter(t *testing.T) {
	store := NewMemoryStore()

	_, _, err := store.IncrementIfBelow(context.Background(), "nope", "2026-08")
	if !errors.Is(err, ErrCounterNotFound) {
		t.Errorf("Expected ErrCounterNotFound, got %v", err)
	}
}

func TestMemoryStore_UnlimitedCounter(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.EnsureCounter(ctx, "k3", "2026-08", 0, time.Now()); err != nil {
		t.Fatalf("EnsureCounter failed: %v", err)
	}
	for i := 0; i < 50; i++ {
		_, ok, err := store.IncrementIfBelow(ctx, "k3", "2026-08")
		if err != nil || !ok {
			t.Fatalf("Unlimited counter denied at %d: ok=%v err=%v", i, ok, err)
		}
	}
}

func TestMemoryStore_ConcurrentIncrements(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const limit = 20
	if err := store.EnsureCounter(ctx, "k4", "2026-08", limit, time.Now()); err != nil {
		t.Fatalf("EnsureCounter failed: %v", err)
	}

	var grants atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := store.IncrementIfBelow(ctx, "k4", "2026-08"); ok {
				grants.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := grants.Load(); got != limit-1 {
		t.Errorf("Expected %d grants under concurrency, got %d", limit-1, got)
	}
}

func TestMemoryStore_ListAndArchive(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.EnsureCounter(ctx, "k5", "2026-06", 10, time.Now())
	store.EnsureCounter(ctx, "k5", "2026-07", 10, time.Now())
	store.EnsureCounter(ctx, "k5", "2026-08", 10, time.Now())

	stale, err := store.ListCountersBefore(ctx, "2026-08")
	if err != nil {
		t.Fatalf("ListCountersBefore failed: %v", err)
	}
	if len(stale) != 2 {
		t.Fatalf("Expected 2 stale counters, got %d", len(stale))
	}
	if stale[0].Period != "2026-06" {
		t.Errorf("Stale counters should come oldest first, got %q", stale[0].Period)
	}

	if err := store.ArchiveCounter(ctx, "k5", "2026-06"); err != nil {
		t.Fatalf("ArchiveCounter failed: %v", err)
	}
	stale, _ = store.ListCountersBefore(ctx, "2026-08")
	if len(stale) != 1 {
		t.Errorf("Archived counter still listed, got %d stale", len(stale))
	}
}

func TestMemoryStore_BucketRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	missing, err := store.LoadBucket(ctx, "k6", "second")
	if err != nil || missing != nil {
		t.Fatalf("Missing bucket should read as nil, got %v, %v", missing, err)
	}

	at := time.Now().Truncate(time.Millisecond)
	if err := store.SaveBucket(ctx, &BucketState{
		KeyID: "k6", Window: "second", Tokens: 2.5, LastRefill: at,
	}); err != nil {
		t.Fatalf("SaveBucket failed: %v", err)
	}

	got, err := store.LoadBucket(ctx, "k6", "second")
	if err != nil {
		t.Fatalf("LoadBucket failed: %v", err)
	}
	if got.Tokens != 2.5 || !got.LastRefill.Equal(at) {
		t.Errorf("Snapshot mismatch: %+v", got)
	}
}

func TestMemoryStore_AddOnLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	soon := &AddOn{ID: "a1", KeyID: "k7", PackageName: "small", Remaining: 2,
		PurchasedAt: now, ExpiresAt: now.Add(24 * time.Hour)}
	later := &AddOn{ID: "a2", KeyID: "k7", PackageName: "big", Remaining: 5,
		PurchasedAt: now, ExpiresAt: now.Add(48 * time.Hour)}
	store.Insert(ctx, later)
	store.Insert(ctx, soon)

	active, err := store.ListActive(ctx, "k7", now)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(active) != 2 || active[0].ID != "a1" {
		t.Fatalf("Active add-ons must come soonest expiry first, got %+v", active)
	}

	remaining, ok, err := store.ConsumeOne(ctx, "a1", now)
	if err != nil || !ok || remaining != 1 {
		t.Fatalf("ConsumeOne: remaining=%d ok=%v err=%v", remaining, ok, err)
	}

	// Drain and verify it never goes negative.
	store.ConsumeOne(ctx, "a1", now)
	if _, ok, _ := store.ConsumeOne(ctx, "a1", now); ok {
		t.Error("ConsumeOne granted on an empty instance")
	}

	if err := store.Cancel(ctx, "a2"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if _, ok, _ := store.ConsumeOne(ctx, "a2", now); ok {
		t.Error("ConsumeOne granted on a cancelled instance")
	}

	// Cancelled instances are kept for audit.
	all, _ := store.ListByKey(ctx, "k7")
	if len(all) != 2 {
		t.Errorf("Records must never be deleted, got %d", len(all))
	}
}

func TestMemoryStore_ExpiredAddOnInert(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	store.Insert(ctx, &AddOn{ID: "a3", KeyID: "k8", Remaining: 10,
		PurchasedAt: now.Add(-48 * time.Hour), ExpiresAt: now.Add(-time.Hour)})

	active, _ := store.ListActive(ctx, "k8", now)
	if len(active) != 0 {
		t.Error("Expired add-on listed as active")
	}
	if _, ok, _ := store.ConsumeOne(ctx, "a3", now); ok {
		t.Error("Expired add-on served a request despite remaining capacity")
	}

	due, _ := store.ListExpired(ctx, now)
	if len(due) != 1 || due[0].ID != "a3" {
		t.Fatalf("Expected a3 due for expiry processing, got %+v", due)
	}
	store.MarkExpired(ctx, "a3")
	due, _ = store.ListExpired(ctx, now)
	if len(due) != 0 {
		t.Error("Flagged instance listed as due again")
	}
}
