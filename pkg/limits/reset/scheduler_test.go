package reset

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brandpeek/gatehouse/pkg/keys"
	"brandpeek/gatehouse/pkg/limits/addons"
	"brandpeek/gatehouse/pkg/limits/storage"
)

var schedulerTiers = []keys.Tier{
	{Name: "basic", MonthlyQuota: 1000},
	{Name: "pro", MonthlyQuota: 10000},
}

var schedulerCatalog = []addons.Package{
	{Name: "booster", Size: 500, PriceUSD: 5, DurationMonths: 1},
	{Name: "sub", Size: 2000, PriceUSD: 15, DurationMonths: 1, AutoRenew: true},
}

func testKey(id, tier string) *keys.KeyRecord {
	return &keys.KeyRecord{ID: id, TokenHash: keys.HashToken(id), Tier: tier, Active: true}
}

func newTestScheduler(t *testing.T, records []*keys.KeyRecord, at time.Time) (*Scheduler, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	registry := keys.NewRegistry(schedulerTiers, records)
	ledger := addons.NewLedger(store, schedulerCatalog, nil).WithClock(func() time.Time { return at })
	sched := NewScheduler(registry, store, ledger, "").WithClock(func() time.Time { return at })
	return sched, store
}

func TestScheduler_RollsStaleCounters(t *testing.T) {
	sept := time.Date(2026, time.September, 1, 3, 0, 0, 0, time.UTC)
	sched, store := newTestScheduler(t, []*keys.KeyRecord{testKey("k1", "basic"), testKey("k2", "pro")}, sept)
	ctx := context.Background()

	augStart := time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)
	store.EnsureCounter(ctx, "k1", "2026-08", 1000, augStart)
	store.EnsureCounter(ctx, "k2", "2026-08", 10000, augStart)
	for i := 0; i < 5; i++ {
		store.IncrementIfBelow(ctx, "k1", "2026-08")
	}

	result, err := sched.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 0, result.Failed)

	// Fresh September counters exist with the tier limits.
	c1, err := store.GetCounter(ctx, "k1", "2026-09")
	require.NoError(t, err)
	assert.Equal(t, int64(0), c1.Used)
	assert.Equal(t, int64(1000), c1.Limit)

	c2, err := store.GetCounter(ctx, "k2", "2026-09")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), c2.Limit)

	// The August counters are archived, usage preserved.
	old, err := store.GetCounter(ctx, "k1", "2026-08")
	require.NoError(t, err)
	assert.True(t, old.Archived)
	assert.Equal(t, int64(5), old.Used)
}

func TestScheduler_RunNowIdempotent(t *testing.T) {
	sept := time.Date(2026, time.September, 2, 3, 0, 0, 0, time.UTC)
	sched, store := newTestScheduler(t, []*keys.KeyRecord{testKey("k1", "basic")}, sept)
	ctx := context.Background()

	store.EnsureCounter(ctx, "k1", "2026-08", 1000, time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC))

	first, err := sched.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Succeeded)

	// Usage accrued after the roll must survive a second run.
	store.IncrementIfBelow(ctx, "k1", "2026-09")

	second, err := sched.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed, "nothing stale remains after the first run")

	c, err := store.GetCounter(ctx, "k1", "2026-09")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Used, "second run must not reset the live counter")
}

func TestScheduler_RemovedKeyArchivedOnly(t *testing.T) {
	sept := time.Date(2026, time.September, 1, 3, 0, 0, 0, time.UTC)
	sched, store := newTestScheduler(t, nil, sept)
	ctx := context.Background()

	store.EnsureCounter(ctx, "ghost", "2026-08", 1000, time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC))

	result, err := sched.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)

	old, err := store.GetCounter(ctx, "ghost", "2026-08")
	require.NoError(t, err)
	assert.True(t, old.Archived)

	_, err = store.GetCounter(ctx, "ghost", "2026-09")
	assert.ErrorIs(t, err, storage.ErrCounterNotFound, "removed keys get no fresh counter")
}

func TestScheduler_ExpiresAndRenewsAddOns(t *testing.T) {
	sept := time.Date(2026, time.September, 1, 3, 0, 0, 0, time.UTC)
	sched, store := newTestScheduler(t, []*keys.KeyRecord{testKey("k1", "basic")}, sept)
	ctx := context.Background()

	store.Insert(ctx, &storage.AddOn{
		ID: "sub-1", KeyID: "k1", PackageName: "sub", Remaining: 50,
		PurchasedAt: sept.AddDate(0, -1, 0), ExpiresAt: sept.Add(-3 * time.Hour),
	})

	result, err := sched.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.AddOnsProcessed)
	assert.Equal(t, 0, result.AddOnsFailed)

	// Renew-then-expire: the subscriber has a live successor before the
	// old instance goes inert.
	active, err := store.ListActive(ctx, "k1", sept)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "sub-1", active[0].RenewedFrom)
	assert.Equal(t, int64(2000), active[0].Remaining)
}

func TestScheduler_StartValidatesSchedule(t *testing.T) {
	store := storage.NewMemoryStore()
	registry := keys.NewRegistry(schedulerTiers, nil)
	ledger := addons.NewLedger(store, schedulerCatalog, nil)

	sched := NewScheduler(registry, store, ledger, "not a cron line")
	err := sched.Start(context.Background())
	assert.Error(t, err)
	assert.False(t, sched.IsRunning())
}

func TestScheduler_StartStop(t *testing.T) {
	store := storage.NewMemoryStore()
	registry := keys.NewRegistry(schedulerTiers, nil)
	ledger := addons.NewLedger(store, schedulerCatalog, nil)

	sched := NewScheduler(registry, store, ledger, "0 3 * * *")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, sched.Start(ctx))
	assert.True(t, sched.IsRunning())
	assert.False(t, sched.NextRun().IsZero())

	sched.Stop()
	assert.False(t, sched.IsRunning())
	assert.True(t, sched.NextRun().IsZero())
}
