package keys

import (
	"fmt"
	"sync"
	"time"
)

// Registry resolves API tokens against a configured set of key records
// and holds the closed tier catalog.
type Registry struct {
	mu      sync.RWMutex
	byToken map[string]*KeyRecord
	byID    map[string]*KeyRecord
	tiers   map[string]*Tier
}

// NewRegistry creates a registry from the tier catalog and initial records.
func NewRegistry(tiers []Tier, records []*KeyRecord) *Registry {
	r := &Registry{
		byToken: make(map[string]*KeyRecord),
		byID:    make(map[string]*KeyRecord),
		tiers:   make(map[string]*Tier, len(tiers)),
	}

	for i := range tiers {
		t := tiers[i]
		r.tiers[t.Name] = &t
	}
	for _, rec := range records {
		r.byToken[rec.TokenHash] = rec
		r.byID[rec.ID] = rec
	}

	return r
}

// Resolve looks up the record for a presented raw token. Only the
// SHA-256 digest is compared; raw tokens are never stored.
// Returns ErrKeyNotFound for unknown tokens. Resolution does not check
// active/expired state; the admission pipeline does that with its own
// clock so the deny reason stays distinct from "not found".
func (r *Registry) Resolve(token string) (*KeyRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byToken[HashToken(token)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return rec, nil
}

// Get looks up a record by its stable ID.
func (r *Registry) Get(id string) (*KeyRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byID[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return rec, nil
}

// TierFor returns the tier configuration referenced by a record.
func (r *Registry) TierFor(rec *KeyRecord) (*Tier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tier, ok := r.tiers[rec.Tier]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTierNotFound, rec.Tier)
	}
	return tier, nil
}

// Tier returns a tier from the catalog by name.
func (r *Registry) Tier(name string) (*Tier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tier, ok := r.tiers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTierNotFound, name)
	}
	return tier, nil
}

// List returns all key records.
func (r *Registry) List() []*KeyRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]*KeyRecord, 0, len(r.byID))
	for _, rec := range r.byID {
		records = append(records, rec)
	}
	return records
}

// Add registers a new key record.
func (r *Registry) Add(rec *KeyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tiers[rec.Tier]; !ok {
		return fmt.Errorf("%w: %q", ErrTierNotFound, rec.Tier)
	}
	r.byToken[rec.TokenHash] = rec
	r.byID[rec.ID] = rec
	return nil
}

// Update replaces an existing record in place.
func (r *Registry) Update(rec *KeyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.byID[rec.ID]
	if !ok {
		return ErrKeyNotFound
	}
	if _, ok := r.tiers[rec.Tier]; !ok {
		return fmt.Errorf("%w: %q", ErrTierNotFound, rec.Tier)
	}

	delete(r.byToken, old.TokenHash)
	r.byToken[rec.TokenHash] = rec
	r.byID[rec.ID] = rec
	return nil
}

// Revoke soft-deletes a key: the record stays resolvable for audit but
// never admits again.
func (r *Registry) Revoke(id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return ErrKeyNotFound
	}

	rec.Active = false
	revoked := at
	rec.RevokedAt = &revoked
	return nil
}

// Replace swaps the full record set, used on config hot reload.
// The tier catalog is not replaced at runtime; tiers are deploy-time
// configuration.
func (r *Registry) Replace(records []*KeyRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byToken = make(map[string]*KeyRecord, len(records))
	r.byID = make(map[string]*KeyRecord, len(records))
	for _, rec := range records {
		r.byToken[rec.TokenHash] = rec
		r.byID[rec.ID] = rec
	}
}
