package admission

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"brandpeek/gatehouse/pkg/guard"
	"brandpeek/gatehouse/pkg/keys"
	"brandpeek/gatehouse/pkg/limits/addons"
	"brandpeek/gatehouse/pkg/limits/quota"
	"brandpeek/gatehouse/pkg/limits/ratelimit"
	"brandpeek/gatehouse/pkg/limits/reset"
	"brandpeek/gatehouse/pkg/limits/storage"
)

// Controller owns the full admission pipeline and the admin operations
// around it. One controller serves all keys; all methods are safe for
// concurrent use.
type Controller struct {
	registry  *keys.Registry
	limiter   *ratelimit.Limiter
	tracker   *quota.Tracker
	ledger    *addons.Ledger
	scheduler *reset.Scheduler
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewController wires the pipeline stages together. metrics may be nil
// to disable instrumentation.
func NewController(
	registry *keys.Registry,
	limiter *ratelimit.Limiter,
	tracker *quota.Tracker,
	ledger *addons.Ledger,
	scheduler *reset.Scheduler,
	metrics *Metrics,
	logger *slog.Logger,
) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		registry:  registry,
		limiter:   limiter,
		tracker:   tracker,
		ledger:    ledger,
		scheduler: scheduler,
		metrics:   metrics,
		logger:    logger.With("component", "admission"),
		now:       time.Now,
	}
}

// WithClock replaces the controller's time source. Intended for tests.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// Admit runs the admission pipeline for one request and never returns
// nil. The stages run in fixed order and short-circuit on the first
// denial; later-stage fields in the Result stay zero when an earlier
// stage denied.
func (c *Controller) Admit(ctx context.Context, token string, origin guard.RequestOrigin) *Result {
	start := c.now()
	result := c.admit(ctx, token, origin)
	c.metrics.ObserveDuration(c.now().Sub(start))

	tierName := ""
	if result.Tier != nil {
		tierName = result.Tier.Name
	}
	c.metrics.RecordDecision(tierName, result.Reason)

	if !result.Allowed {
		c.logger.Debug("request denied",
			"reason", string(result.Reason),
			"tier", tierName)
	}
	return result
}

func (c *Controller) admit(ctx context.Context, token string, origin guard.RequestOrigin) *Result {
	now := c.now()

	rec, err := c.registry.Resolve(token)
	if err != nil {
		if errors.Is(err, keys.ErrKeyNotFound) {
			return &Result{Reason: ReasonKeyNotFound}
		}
		c.logger.Error("key lookup failed", "error", err)
		return &Result{Reason: ReasonStoreUnavailable}
	}

	result := &Result{Key: rec}

	if !rec.Usable(now) {
		result.Reason = ReasonKeyInactive
		return result
	}

	tier, err := c.registry.TierFor(rec)
	if err != nil {
		// A key pointing at a missing tier is a configuration
		// defect, surfaced as infrastructure rather than blamed on
		// the caller.
		c.logger.Error("tier lookup failed",
			"key_id", rec.ID,
			"tier", rec.Tier,
			"error", err)
		result.Reason = ReasonStoreUnavailable
		return result
	}
	result.Tier = tier

	verdict := guard.Validate(rec, origin)
	if !verdict.Allowed {
		result.Reason = guardReason(verdict.Reason)
		return result
	}
	result.MatchedPattern = verdict.MatchedPattern

	rl := c.limiter.Consume(rec.ID, tier)
	result.RateLimit = rl
	if !rl.Allowed {
		result.Reason = ReasonRateLimited
		return result
	}

	reservation, err := c.tracker.CheckAndReserve(ctx, rec.ID, tier.MonthlyQuota)
	if err != nil {
		// Fail closed: an unmetered grant is worse than a retryable
		// denial.
		c.logger.Error("quota check failed", "key_id", rec.ID, "error", err)
		result.Reason = ReasonStoreUnavailable
		return result
	}
	result.Quota = reservation
	result.QuotaResetSeconds = quota.SecondsUntilNextPeriod(now)

	if reservation.Allowed || reservation.Unlimited {
		result.Allowed = true
		c.fillOverlayTotals(ctx, result)
		return result
	}

	consumption, err := c.ledger.ConsumeOverflow(ctx, rec.ID)
	if err != nil {
		c.logger.Error("add-on consumption failed", "key_id", rec.ID, "error", err)
		result.Reason = ReasonStoreUnavailable
		return result
	}
	if !consumption.Covered {
		result.Reason = ReasonQuotaExceeded
		result.Recommended = c.ledger.Recommend(1)
		return result
	}

	result.Allowed = true
	result.UsedAddOn = true
	result.AddOnID = consumption.AddOnID
	result.AddOnRemaining = consumption.Remaining
	c.metrics.RecordAddOnConsumed()
	c.fillOverlayTotals(ctx, result)
	return result
}

// fillOverlayTotals computes the Additional-Available and
// Total-Remaining diagnostics for an admitted request. These headers
// are advisory, so a store error here degrades to zeros with a warning
// instead of flipping the decision.
func (c *Controller) fillOverlayTotals(ctx context.Context, result *Result) {
	additional, err := c.ledger.TotalAvailable(ctx, result.Key.ID)
	if err != nil {
		c.logger.Warn("overlay balance lookup failed",
			"key_id", result.Key.ID,
			"error", err)
		additional = 0
	}
	result.AdditionalAvailable = additional

	if result.Quota != nil && result.Quota.Unlimited {
		result.TotalRemaining = -1
		return
	}
	var base int64
	if result.Quota != nil {
		base = result.Quota.Remaining
	}
	result.TotalRemaining = base + additional
}

// ManualReset triggers an immediate rollover. Idempotent within a
// billing period; intended for operational recovery.
func (c *Controller) ManualReset(ctx context.Context) (*reset.Result, error) {
	return c.scheduler.RunNow(ctx)
}

// CancelAddOn flags an add-on instance as cancelled with an audit
// reason.
func (c *Controller) CancelAddOn(ctx context.Context, id, reason string) error {
	return c.ledger.Cancel(ctx, id, reason)
}

// RenewAddOn creates a successor instance for the given add-on,
// valid for the requested number of months (the package default when
// months <= 0).
func (c *Controller) RenewAddOn(ctx context.Context, id string, months int) (*storage.AddOn, error) {
	return c.ledger.Renew(ctx, id, months)
}

// PurchaseAddOn buys a new instance of the named package for the key.
func (c *Controller) PurchaseAddOn(ctx context.Context, keyID, packageName string) (*storage.AddOn, error) {
	return c.ledger.Purchase(ctx, keyID, packageName)
}
