package admission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brandpeek/gatehouse/pkg/guard"
	"brandpeek/gatehouse/pkg/keys"
	"brandpeek/gatehouse/pkg/limits/addons"
	"brandpeek/gatehouse/pkg/limits/quota"
	"brandpeek/gatehouse/pkg/limits/ratelimit"
	"brandpeek/gatehouse/pkg/limits/reset"
	"brandpeek/gatehouse/pkg/limits/storage"
)

var pipelineTiers = []keys.Tier{
	{Name: "basic", RequestsPerSecond: 100, MonthlyQuota: 1000},
	{Name: "burst", RequestsPerSecond: 5, MonthlyQuota: 0},
	{Name: "unlimited", MonthlyQuota: 0},
}

var pipelineCatalog = []addons.Package{
	{Name: "booster-500", DisplayName: "Booster 500", Size: 500, PriceUSD: 5, DurationMonths: 1},
	{Name: "booster-5k", DisplayName: "Booster 5K", Size: 5000, PriceUSD: 30, DurationMonths: 1},
}

type pipeline struct {
	controller *Controller
	store      *storage.MemoryStore
	registry   *keys.Registry
	now        time.Time
}

func newPipeline(t *testing.T, records ...*keys.KeyRecord) *pipeline {
	t.Helper()

	now := time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := storage.NewMemoryStore()
	registry := keys.NewRegistry(pipelineTiers, records)
	limiter := ratelimit.NewLimiter(store, nil)
	tracker := quota.NewTracker(store, nil).WithClock(clock)
	ledger := addons.NewLedger(store, pipelineCatalog, nil).WithClock(clock)
	scheduler := reset.NewScheduler(registry, store, ledger, "").WithClock(clock)

	controller := NewController(registry, limiter, tracker, ledger, scheduler, nil, nil).WithClock(clock)
	return &pipeline{controller: controller, store: store, registry: registry, now: now}
}

func pipelineKey(id, token, tier string) *keys.KeyRecord {
	return &keys.KeyRecord{
		ID:        id,
		TokenHash: keys.HashToken(token),
		Tier:      tier,
		Active:    true,
	}
}

func anyOrigin() guard.RequestOrigin {
	return guard.RequestOrigin{RemoteIP: "203.0.113.7"}
}

func TestAdmit_UnknownToken(t *testing.T) {
	p := newPipeline(t)

	result := p.controller.Admit(context.Background(), "no-such-token", anyOrigin())
	assert.False(t, result.Allowed)
	assert.Equal(t, ReasonKeyNotFound, result.Reason)
	assert.Equal(t, 401, result.Reason.HTTPStatus())
}

func TestAdmit_ExpiredKeyAlwaysDenied(t *testing.T) {
	rec := pipelineKey("k1", "tok", "basic")
	p := newPipeline(t, rec)

	yesterday := p.now.Add(-24 * time.Hour)
	rec.ExpiresAt = &yesterday

	// Remaining quota is irrelevant once the key has expired.
	for i := 0; i < 3; i++ {
		result := p.controller.Admit(context.Background(), "tok", anyOrigin())
		assert.False(t, result.Allowed)
		assert.Equal(t, ReasonKeyInactive, result.Reason)
		assert.Equal(t, 401, result.Reason.HTTPStatus())
	}
}

func TestAdmit_DomainDenied(t *testing.T) {
	rec := pipelineKey("k1", "tok", "basic")
	rec.AllowedDomains = []string{"*.example.com"}
	p := newPipeline(t, rec)

	result := p.controller.Admit(context.Background(), "tok", guard.RequestOrigin{
		Origin: "https://example.com",
	})
	assert.False(t, result.Allowed)
	assert.Equal(t, ReasonDomainNotAllowed, result.Reason)
	assert.Equal(t, 403, result.Reason.HTTPStatus())
	assert.Nil(t, result.RateLimit, "pipeline must short-circuit before the limiter")

	result = p.controller.Admit(context.Background(), "tok", guard.RequestOrigin{
		Origin: "https://app.example.com",
	})
	assert.True(t, result.Allowed)
}

func TestAdmit_RateLimitExceeded(t *testing.T) {
	p := newPipeline(t, pipelineKey("k1", "tok", "burst"))
	ctx := context.Background()

	var admitted, denied int
	for i := 0; i < 10; i++ {
		result := p.controller.Admit(ctx, "tok", anyOrigin())
		if result.Allowed {
			admitted++
		} else {
			denied++
			assert.Equal(t, ReasonRateLimited, result.Reason)
			assert.Equal(t, 429, result.Reason.HTTPStatus())
			headers := result.Headers()
			assert.NotEmpty(t, headers[HeaderRetryAfter])
			assert.Equal(t, "0", headers[HeaderRemaining])
		}
	}

	assert.Equal(t, 5, admitted)
	assert.Equal(t, 5, denied)
}

func TestAdmit_OverflowToAddOn(t *testing.T) {
	p := newPipeline(t, pipelineKey("k1", "tok", "basic"))
	ctx := context.Background()

	// Base quota at 999 of 1000: the counter sits one below its ceiling.
	require.NoError(t, p.store.EnsureCounter(ctx, "k1", "2026-08", 1000, p.now))
	for i := 0; i < 999; i++ {
		_, ok, err := p.store.IncrementIfBelow(ctx, "k1", "2026-08")
		require.NoError(t, err)
		if !ok {
			break
		}
	}
	require.NoError(t, p.store.Insert(ctx, &storage.AddOn{
		ID: "a1", KeyID: "k1", PackageName: "booster-500", Remaining: 500,
		PurchasedAt: p.now, ExpiresAt: p.now.AddDate(0, 1, 0),
	}))

	result := p.controller.Admit(ctx, "tok", anyOrigin())
	require.True(t, result.Allowed)
	assert.True(t, result.UsedAddOn)
	assert.Equal(t, "a1", result.AddOnID)
	assert.Equal(t, int64(499), result.AddOnRemaining)

	// The base counter never passes its ceiling.
	c, err := p.store.GetCounter(ctx, "k1", "2026-08")
	require.NoError(t, err)
	assert.Equal(t, int64(999), c.Used)

	headers := result.Headers()
	assert.Equal(t, "true", headers[HeaderUsedAddOn])
	assert.Equal(t, "499", headers[HeaderAdditionalAvailable])
	assert.Equal(t, "499", headers[HeaderTotalRemaining])
}

func TestAdmit_QuotaExceededWithRecommendations(t *testing.T) {
	p := newPipeline(t, pipelineKey("k1", "tok", "basic"))
	ctx := context.Background()

	require.NoError(t, p.store.EnsureCounter(ctx, "k1", "2026-08", 1000, p.now))
	for {
		_, ok, err := p.store.IncrementIfBelow(ctx, "k1", "2026-08")
		require.NoError(t, err)
		if !ok {
			break
		}
	}

	result := p.controller.Admit(ctx, "tok", anyOrigin())
	assert.False(t, result.Allowed)
	assert.Equal(t, ReasonQuotaExceeded, result.Reason)
	assert.Equal(t, 429, result.Reason.HTTPStatus())
	require.NotEmpty(t, result.Recommended, "quota denials carry purchase guidance")
	assert.Equal(t, "booster-500", result.Recommended[0].Package.Name)
}

func TestAdmit_QuotaStoreFailureFailsClosed(t *testing.T) {
	rec := pipelineKey("k1", "tok", "basic")
	p := newPipeline(t, rec)

	store := &brokenCounterStore{}
	tracker := quota.NewTracker(store, nil)
	limiter := ratelimit.NewLimiter(nil, nil)
	ledger := addons.NewLedger(storage.NewMemoryStore(), pipelineCatalog, nil)
	controller := NewController(p.registry, limiter, tracker, ledger, nil, nil, nil)

	result := controller.Admit(context.Background(), "tok", anyOrigin())
	assert.False(t, result.Allowed)
	assert.Equal(t, ReasonStoreUnavailable, result.Reason)
	assert.Equal(t, 503, result.Reason.HTTPStatus())
}

func TestAdmit_UnlimitedTier(t *testing.T) {
	p := newPipeline(t, pipelineKey("k1", "tok", "unlimited"))

	result := p.controller.Admit(context.Background(), "tok", anyOrigin())
	require.True(t, result.Allowed)
	require.NotNil(t, result.Quota)
	assert.True(t, result.Quota.Unlimited)
	assert.Equal(t, int64(-1), result.TotalRemaining)

	headers := result.Headers()
	assert.Equal(t, "unlimited", headers[HeaderTier])
	_, hasLimit := headers[HeaderLimit]
	assert.False(t, hasLimit, "fully unlimited tiers report no numeric ceiling")
}

func TestAdmit_HeadersOnAllow(t *testing.T) {
	p := newPipeline(t, pipelineKey("k1", "tok", "basic"))

	result := p.controller.Admit(context.Background(), "tok", anyOrigin())
	require.True(t, result.Allowed)

	headers := result.Headers()
	assert.Equal(t, "basic", headers[HeaderTier])
	assert.Equal(t, "1000", headers[HeaderLimit])
	assert.Equal(t, "998", headers[HeaderRemaining])
	assert.Equal(t, "998", headers[HeaderTotalRemaining])
	assert.Equal(t, "0", headers[HeaderAdditionalAvailable])
	assert.NotEmpty(t, headers[HeaderReset])
	_, hasRetry := headers[HeaderRetryAfter]
	assert.False(t, hasRetry, "Retry-After appears only on rate-limit denials")
	_, hasAddOn := headers[HeaderUsedAddOn]
	assert.False(t, hasAddOn)
}

func TestAdmit_ManualResetOps(t *testing.T) {
	p := newPipeline(t, pipelineKey("k1", "tok", "basic"))
	ctx := context.Background()

	require.NoError(t, p.store.EnsureCounter(ctx, "k1", "2026-07", 1000,
		time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC)))

	result, err := p.controller.ManualReset(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Succeeded)

	again, err := p.controller.ManualReset(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Processed, "manual reset is idempotent within a period")
}

func TestAdmit_AddOnAdminOps(t *testing.T) {
	p := newPipeline(t, pipelineKey("k1", "tok", "basic"))
	ctx := context.Background()

	addOn, err := p.controller.PurchaseAddOn(ctx, "k1", "booster-500")
	require.NoError(t, err)

	renewed, err := p.controller.RenewAddOn(ctx, addOn.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, addOn.ID, renewed.RenewedFrom)

	require.NoError(t, p.controller.CancelAddOn(ctx, addOn.ID, "downgrade"))
	assert.ErrorIs(t, p.controller.CancelAddOn(ctx, addOn.ID, "again"), addons.ErrAlreadyCancelled)
}

// brokenCounterStore fails every counter operation.
type brokenCounterStore struct{}

func (brokenCounterStore) EnsureCounter(context.Context, string, string, int64, time.Time) error {
	return assert.AnError
}
func (brokenCounterStore) IncrementIfBelow(context.Context, string, string) (int64, bool, error) {
	return 0, false, assert.AnError
}
func (brokenCounterStore) GetCounter(context.Context, string, string) (*storage.QuotaCounter, error) {
	return nil, assert.AnError
}
func (brokenCounterStore) ListCountersBefore(context.Context, string) ([]*storage.QuotaCounter, error) {
	return nil, assert.AnError
}
func (brokenCounterStore) ArchiveCounter(context.Context, string, string) error { return assert.AnError }
func (brokenCounterStore) SaveBucket(context.Context, *storage.BucketState) error {
	return assert.AnError
}
func (brokenCounterStore) LoadBucket(context.Context, string, string) (*storage.BucketState, error) {
	return nil, assert.AnError
}
func (brokenCounterStore) Close() error { return nil }
