package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"brandpeek/gatehouse/pkg/limits/storage"
)

// ErrStoreUnavailable wraps counter store failures on the reservation
// path. Callers deny with STORE_UNAVAILABLE (fail closed).
var ErrStoreUnavailable = errors.New("quota store unavailable")

// Reservation is the outcome of one quota check-and-reserve call.
type Reservation struct {
	// Allowed indicates the unit was granted from base quota.
	Allowed bool

	// Unlimited is set when the tier has no monthly quota and the check
	// was bypassed entirely.
	Unlimited bool

	// Used is the counter value after the call.
	Used int64

	// Limit is the base quota ceiling (0 when unlimited).
	Limit int64

	// Remaining is the number of base units still grantable this period.
	Remaining int64

	// Period is the calendar month the reservation was made in.
	Period string
}

// Tracker reserves base monthly quota through an atomic counter store.
type Tracker struct {
	store  storage.CounterStore
	logger *slog.Logger

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// NewTracker creates a quota tracker backed by the given store.
func NewTracker(store storage.CounterStore, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:  store,
		logger: logger.With("component", "quota"),
		now:    time.Now,
	}
}

// CheckAndReserve atomically consumes one unit of the key's base monthly
// quota.
//
// The live counter is created lazily (idempotent insert) before the
// compare-and-increment. A call that would bring the counter to its
// ceiling is not granted; it spills to add-on coverage instead, so the
// live counter never records the ceiling value itself. monthlyLimit <= 0
// bypasses the check entirely.
func (t *Tracker) CheckAndReserve(ctx context.Context, keyID string, monthlyLimit int64) (*Reservation, error) {
	now := t.now().UTC()
	period := Period(now)

	if monthlyLimit <= 0 {
		return &Reservation{
			Allowed:   true,
			Unlimited: true,
			Remaining: -1,
			Period:    period,
		}, nil
	}

	if err := t.store.EnsureCounter(ctx, keyID, period, monthlyLimit, PeriodStart(now)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	used, ok, err := t.store.IncrementIfBelow(ctx, keyID, period)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return &Reservation{
		Allowed:   ok,
		Used:      used,
		Limit:     monthlyLimit,
		Remaining: remaining(used, monthlyLimit),
		Period:    period,
	}, nil
}

// Usage returns the key's counter for the current period without
// consuming anything. A missing counter reads as zero usage.
func (t *Tracker) Usage(ctx context.Context, keyID string, monthlyLimit int64) (*Reservation, error) {
	now := t.now().UTC()
	period := Period(now)

	c, err := t.store.GetCounter(ctx, keyID, period)
	if errors.Is(err, storage.ErrCounterNotFound) {
		return &Reservation{
			Allowed:   true,
			Limit:     monthlyLimit,
			Remaining: remaining(0, monthlyLimit),
			Period:    period,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return &Reservation{
		Allowed:   monthlyLimit <= 0 || c.Used+1 < monthlyLimit,
		Used:      c.Used,
		Limit:     monthlyLimit,
		Remaining: remaining(c.Used, monthlyLimit),
		Period:    period,
	}, nil
}

// remaining is the number of grantable base units left; the ceiling
// itself is never granted, so a fresh counter of limit N has N-1.
func remaining(used, limit int64) int64 {
	if limit <= 0 {
		return -1
	}
	left := limit - 1 - used
	if left < 0 {
		return 0
	}
	return left
}

// Period formats the calendar month of t in UTC ("2006-01").
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// PeriodStart returns the first instant of t's calendar month in UTC.
func PeriodStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// SecondsUntilNextPeriod returns whole seconds until the next calendar
// month begins, for quota reset headers.
func SecondsUntilNextPeriod(t time.Time) int64 {
	u := t.UTC()
	next := time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	secs := int64(next.Sub(u) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// WithClock replaces the tracker's clock. Intended for tests and for
// the reset scheduler's deterministic runs.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}
