package addons

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"brandpeek/gatehouse/pkg/limits/storage"
)

// Ledger manages add-on instances for all keys against a persistent
// store and a fixed package catalog.
//
// All methods are safe for concurrent use; atomicity of consumption is
// delegated to the store's compare-and-swap decrement.
type Ledger struct {
	store   storage.AddOnStore
	catalog map[string]Package
	logger  *slog.Logger
	now     func() time.Time
}

// NewLedger creates a ledger over the given store and package catalog.
func NewLedger(store storage.AddOnStore, catalog []Package, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]Package, len(catalog))
	for _, p := range catalog {
		byName[p.Name] = p
	}
	return &Ledger{
		store:   store,
		catalog: byName,
		logger:  logger.With("component", "addons"),
		now:     time.Now,
	}
}

// WithClock replaces the ledger's time source. Intended for tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Packages returns the catalog entries, keyed by package name.
func (l *Ledger) Packages() map[string]Package {
	out := make(map[string]Package, len(l.catalog))
	for k, v := range l.catalog {
		out[k] = v
	}
	return out
}

// ConsumeOverflow attempts to cover one call from the key's overlay
// capacity. Active instances are tried in soonest-expiry order; the
// first atomic decrement that succeeds wins. Instances whose balance
// another request drained between the listing and the decrement are
// skipped, not errors.
func (l *Ledger) ConsumeOverflow(ctx context.Context, keyID string) (*Consumption, error) {
	now := l.now()
	active, err := l.store.ListActive(ctx, keyID, now)
	if err != nil {
		return nil, fmt.Errorf("listing active add-ons: %w", err)
	}

	for _, a := range active {
		if a.Remaining <= 0 {
			continue
		}
		remaining, ok, err := l.store.ConsumeOne(ctx, a.ID, now)
		if err != nil {
			return nil, fmt.Errorf("consuming add-on %s: %w", a.ID, err)
		}
		if !ok {
			// Lost the race to a concurrent request. Try the
			// next instance.
			continue
		}
		if remaining == 0 {
			l.logger.Info("add-on exhausted",
				"addon_id", a.ID,
				"key_id", keyID,
				"package", a.PackageName)
		}
		return &Consumption{Covered: true, AddOnID: a.ID, Remaining: remaining}, nil
	}

	return &Consumption{Covered: false}, nil
}

// TotalAvailable returns the key's summed remaining balance across all
// active instances.
func (l *Ledger) TotalAvailable(ctx context.Context, keyID string) (int64, error) {
	active, err := l.store.ListActive(ctx, keyID, l.now())
	if err != nil {
		return 0, fmt.Errorf("listing active add-ons: %w", err)
	}
	var total int64
	for _, a := range active {
		if a.Remaining > 0 {
			total += a.Remaining
		}
	}
	return total, nil
}

// Purchase creates a new instance of the named package for the key.
// The instance expires DurationMonths after purchase.
func (l *Ledger) Purchase(ctx context.Context, keyID, packageName string) (*storage.AddOn, error) {
	pkg, ok := l.catalog[packageName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, packageName)
	}

	now := l.now()
	addOn := &storage.AddOn{
		ID:          uuid.NewString(),
		KeyID:       keyID,
		PackageName: pkg.Name,
		Remaining:   pkg.Size,
		PurchasedAt: now,
		ExpiresAt:   now.AddDate(0, pkg.DurationMonths, 0),
	}
	if err := l.store.Insert(ctx, addOn); err != nil {
		return nil, fmt.Errorf("inserting add-on: %w", err)
	}

	l.logger.Info("add-on purchased",
		"addon_id", addOn.ID,
		"key_id", keyID,
		"package", pkg.Name,
		"size", pkg.Size,
		"expires_at", addOn.ExpiresAt)
	return addOn, nil
}

// Cancel flags an instance as cancelled. The record is kept for audit;
// cancelled instances no longer serve overflow and are excluded from
// auto-renewal.
func (l *Ledger) Cancel(ctx context.Context, id, reason string) error {
	addOn, err := l.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("loading add-on %s: %w", id, err)
	}
	if addOn.Cancelled {
		return ErrAlreadyCancelled
	}
	if err := l.store.Cancel(ctx, id); err != nil {
		return fmt.Errorf("cancelling add-on %s: %w", id, err)
	}

	l.logger.Info("add-on cancelled",
		"addon_id", id,
		"key_id", addOn.KeyID,
		"package", addOn.PackageName,
		"remaining", addOn.Remaining,
		"reason", reason)
	return nil
}

// Renew creates a fresh instance continuing the given one. The new
// instance carries a full package balance and expires the requested
// number of months after the later of now and the old expiry, so early
// renewal never shortens coverage. The old instance is left untouched.
func (l *Ledger) Renew(ctx context.Context, id string, months int) (*storage.AddOn, error) {
	old, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading add-on %s: %w", id, err)
	}
	pkg, ok := l.catalog[old.PackageName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, old.PackageName)
	}
	if months <= 0 {
		months = pkg.DurationMonths
	}

	now := l.now()
	from := now
	if old.ExpiresAt.After(from) {
		from = old.ExpiresAt
	}
	renewed := &storage.AddOn{
		ID:          uuid.NewString(),
		KeyID:       old.KeyID,
		PackageName: old.PackageName,
		Remaining:   pkg.Size,
		PurchasedAt: now,
		ExpiresAt:   from.AddDate(0, months, 0),
		RenewedFrom: old.ID,
	}
	if err := l.store.Insert(ctx, renewed); err != nil {
		return nil, fmt.Errorf("inserting renewed add-on: %w", err)
	}

	l.logger.Info("add-on renewed",
		"addon_id", renewed.ID,
		"renewed_from", old.ID,
		"key_id", old.KeyID,
		"package", old.PackageName,
		"expires_at", renewed.ExpiresAt)
	return renewed, nil
}

// ExpireDue processes every instance whose expiry has passed but is not
// yet flagged: auto-renewing packages get a successor instance before
// the old one is flagged expired, everything else is just flagged.
// Failures on individual instances are logged and counted without
// stopping the sweep.
func (l *Ledger) ExpireDue(ctx context.Context, now time.Time) (processed, failed int) {
	due, err := l.store.ListExpired(ctx, now)
	if err != nil {
		l.logger.Error("listing expired add-ons failed", "error", err)
		return 0, 1
	}

	for _, a := range due {
		processed++
		pkg, known := l.catalog[a.PackageName]
		if known && pkg.AutoRenew && !a.Cancelled {
			if _, err := l.Renew(ctx, a.ID, pkg.DurationMonths); err != nil {
				l.logger.Error("auto-renew failed",
					"addon_id", a.ID,
					"key_id", a.KeyID,
					"error", err)
				failed++
				// Leave the instance unexpired so the next
				// sweep retries the renewal.
				continue
			}
		}
		if err := l.store.MarkExpired(ctx, a.ID); err != nil {
			l.logger.Error("marking add-on expired failed",
				"addon_id", a.ID,
				"error", err)
			failed++
		}
	}
	return processed, failed
}

// ListForKey returns every instance ever created for the key, including
// cancelled and expired ones.
func (l *Ledger) ListForKey(ctx context.Context, keyID string) ([]*storage.AddOn, error) {
	out, err := l.store.ListByKey(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("listing add-ons for key %s: %w", keyID, err)
	}
	return out, nil
}
