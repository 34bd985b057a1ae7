// Package addons manages purchased overlay quota: fixed extra call
// allotments consumed only after a key's base monthly quota is
// exhausted.
//
// # Overview
//
// The ledger scans a key's active add-ons ordered by soonest expiry
// first (use-it-or-lose-it: capacity closest to being wasted is spent
// first) and atomically decrements the first one with capacity:
//
//	consumption, err := ledger.ConsumeOverflow(ctx, keyID)
//	if consumption.Covered {
//	    // request admitted on overlay capacity
//	}
//
// # Lifecycle
//
// Instances are purchased from a closed package catalog, decremented by
// consumption, cancelled by flag (never deleted, for audit), and expired
// or auto-renewed by the reset scheduler. An instance past its expiry is
// inert even with capacity remaining.
package addons
