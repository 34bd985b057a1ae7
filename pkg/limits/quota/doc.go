// Package quota tracks cumulative monthly call consumption against each
// key's base quota.
//
// # Overview
//
// The tracker keeps one live counter per (key, calendar month), with the
// month computed from wall-clock UTC rather than key anniversaries.
// Reservation is a single atomic compare-and-increment in the backing
// CounterStore, never a read followed by a write:
//
//	res, err := tracker.CheckAndReserve(ctx, keyID, tier.MonthlyQuota)
//	if err != nil {
//	    // store unreachable: fail closed
//	}
//	if !res.Allowed {
//	    // base quota exhausted; consult the add-on ledger
//	}
//
// # Failure Policy
//
// Quota is billing-relevant, so store errors fail closed: the tracker
// wraps them in ErrStoreUnavailable and the caller denies with a 503
// rather than over-admitting.
package quota
