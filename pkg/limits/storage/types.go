package storage

import (
	"context"
	"errors"
	"time"
)

// ErrCounterNotFound is returned when a quota counter row does not exist.
var ErrCounterNotFound = errors.New("quota counter not found")

// ErrAddOnNotFound is returned when an add-on instance does not exist.
var ErrAddOnNotFound = errors.New("add-on not found")

// QuotaCounter is the live (or historical) monthly call counter for a key.
// Exactly one counter exists per (key, period); consumption is monotone
// within a period and resets create a new period rather than mutating
// history.
type QuotaCounter struct {
	// KeyID references the key record.
	KeyID string

	// Period is the calendar month in "2006-01" form, UTC.
	Period string

	// Used is the number of base calls consumed this period.
	Used int64

	// Limit is the quota ceiling copied from the tier at period start
	// (0 = unlimited).
	Limit int64

	// PeriodStart is the first instant of the period, UTC.
	PeriodStart time.Time

	// Archived marks counters already rolled forward by the scheduler.
	Archived bool
}

// BucketState is a persisted snapshot of one rate-limit token bucket.
// Snapshots smooth process restarts; they are best-effort and never block
// admission.
type BucketState struct {
	// KeyID references the key record.
	KeyID string

	// Window names the bucket's window ("second", "minute", "hour").
	Window string

	// Tokens is the fractional token count at snapshot time.
	Tokens float64

	// LastRefill is the bucket's refill timestamp at snapshot time.
	LastRefill time.Time
}

// AddOn is a purchased overlay quota instance.
// Instances are never physically deleted: cancellation and expiry are
// flags, preserving the audit trail.
type AddOn struct {
	// ID is the instance identifier.
	ID string

	// KeyID references the key the add-on was purchased for.
	KeyID string

	// PackageName references the catalog package this instance came from.
	PackageName string

	// Remaining is the overlay call count left. Never negative.
	Remaining int64

	// PurchasedAt is when the instance was created.
	PurchasedAt time.Time

	// ExpiresAt is the hard expiry. A past-expiry add-on is inert even
	// with Remaining > 0.
	ExpiresAt time.Time

	// Cancelled disables the add-on without deleting it.
	Cancelled bool

	// Expired marks instances already processed by the reset scheduler.
	Expired bool

	// RenewedFrom links an auto-renewed instance to its predecessor.
	RenewedFrom string
}

// Active reports whether the add-on may cover overflow at the given time.
func (a *AddOn) Active(now time.Time) bool {
	return !a.Cancelled && !a.Expired && now.Before(a.ExpiresAt)
}

// CounterStore persists monthly quota counters and rate-limit bucket
// snapshots. Implementations must be thread-safe.
type CounterStore interface {
	// EnsureCounter creates the counter for (keyID, period) if it does
	// not exist. Idempotent: an existing counter is left untouched.
	EnsureCounter(ctx context.Context, keyID, period string, limit int64, periodStart time.Time) error

	// IncrementIfBelow atomically consumes one unit of base quota.
	// It returns the used count after the call and whether the unit was
	// granted. A call that would bring the counter to its ceiling is not
	// granted; the ceiling value is never written into the live counter
	// (the overflow spills to add-on coverage instead).
	// Returns ErrCounterNotFound if the counter does not exist.
	IncrementIfBelow(ctx context.Context, keyID, period string) (used int64, ok bool, err error)

	// GetCounter returns the counter for (keyID, period), or
	// ErrCounterNotFound.
	GetCounter(ctx context.Context, keyID, period string) (*QuotaCounter, error)

	// ListCountersBefore returns all non-archived counters whose period
	// sorts before the given period. Used by the reset scheduler.
	ListCountersBefore(ctx context.Context, period string) ([]*QuotaCounter, error)

	// ArchiveCounter marks a counter as rolled forward. Idempotent.
	ArchiveCounter(ctx context.Context, keyID, period string) error

	// SaveBucket persists a rate-limit bucket snapshot (upsert).
	SaveBucket(ctx context.Context, state *BucketState) error

	// LoadBucket returns the snapshot for (keyID, window), or nil when
	// no snapshot exists.
	LoadBucket(ctx context.Context, keyID, window string) (*BucketState, error)

	// Close releases backend resources.
	Close() error
}

// AddOnStore persists add-on instances. Implementations must be
// thread-safe; ConsumeOne must be a single atomic decrement.
type AddOnStore interface {
	// Insert stores a new add-on instance.
	Insert(ctx context.Context, addOn *AddOn) error

	// Get returns an instance by ID, or ErrAddOnNotFound.
	Get(ctx context.Context, id string) (*AddOn, error)

	// ListActive returns the key's active instances (not cancelled, not
	// expired, expiry after now) ordered by soonest expiry first.
	ListActive(ctx context.Context, keyID string, now time.Time) ([]*AddOn, error)

	// ListByKey returns all of the key's instances, including inert ones.
	ListByKey(ctx context.Context, keyID string) ([]*AddOn, error)

	// ConsumeOne atomically decrements Remaining if the instance is
	// active at now and has capacity. Returns the remaining count after
	// the call and whether a unit was consumed.
	ConsumeOne(ctx context.Context, id string, now time.Time) (remaining int64, ok bool, err error)

	// Cancel sets the cancelled flag. Idempotent.
	Cancel(ctx context.Context, id string) error

	// MarkExpired flags an instance as processed by the scheduler.
	MarkExpired(ctx context.Context, id string) error

	// ListExpired returns instances past expiry that are not yet flagged.
	ListExpired(ctx context.Context, now time.Time) ([]*AddOn, error)

	// Close releases backend resources.
	Close() error
}
