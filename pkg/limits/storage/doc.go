// Package storage provides persistence backends for admission counters
// and add-on ledgers.
//
// # Overview
//
// The storage package defines two interfaces and several implementations:
//
//   - CounterStore: monthly quota counters (atomic compare-and-increment)
//     and rate-limit bucket snapshots
//   - AddOnStore: purchased add-on instances (atomic consumption, expiry,
//     cancellation)
//
// Implementations:
//
//   - Memory: fast in-memory storage (default, no persistence)
//   - SQLite: file-based persistence for single-instance deployments
//   - Redis: shared counter hot path for multi-instance deployments
//     (CounterStore only)
//
// # Usage
//
//	store := storage.NewMemoryStore()
//
//	if err := store.EnsureCounter(ctx, keyID, "2026-08", 100000, start); err != nil {
//	    // ...
//	}
//	used, ok, err := store.IncrementIfBelow(ctx, keyID, "2026-08")
//
// # Atomicity
//
// IncrementIfBelow and ConsumeOne are single atomic operations, never a
// read followed by a write: concurrent requests against the same counter
// cannot both pass when only one unit remains.
//
// # Thread Safety
//
// All backends are thread-safe and support concurrent access from
// multiple goroutines. Locking is handled internally by each backend.
package storage
