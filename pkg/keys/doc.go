// Package keys provides API key records, rate-limit tiers, and the
// in-process key registry used by the admission pipeline.
//
// # Overview
//
// The keys package resolves opaque tokens to KeyRecord values and maps
// each record to its RateLimitTier:
//
//	registry := keys.NewRegistry(tiers, records)
//
//	record, err := registry.Resolve(token)
//	if err != nil {
//	    // Unknown key
//	}
//
//	tier, err := registry.TierFor(record)
//
// # Lifecycle
//
// Records are created on key issuance and mutated only through explicit
// Update and Revoke operations. Revocation is a soft delete: the record
// stays in the registry (flagged inactive) so historical usage records
// keep a valid reference.
//
// # Thread Safety
//
// The Registry is thread-safe using sync.RWMutex; resolution is a read
// lock only and safe on the request hot path.
package keys
