package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	// ErrKeyNotFound is returned when a token does not resolve to any record.
	ErrKeyNotFound = errors.New("API key not found")

	// ErrTierNotFound is returned when a record references an unknown tier.
	ErrTierNotFound = errors.New("rate limit tier not found")
)

// HashToken returns the hex SHA-256 digest of a raw token, the form in
// which tokens are stored and compared.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// KeyRecord is the resolved identity behind an opaque API token.
//
// A record never admits a request once revoked or expired, regardless of
// any remaining quota. Records are soft-deleted (RevokedAt set, Active
// cleared) rather than removed, so historical usage rows stay referenceable.
type KeyRecord struct {
	// ID is the stable identifier used by counters and add-ons.
	ID string

	// TokenHash is the hex SHA-256 digest of the token presented by
	// clients. The raw secret is never stored alongside derived state.
	TokenHash string

	// OwnerID references the account that issued the key.
	OwnerID string

	// Tier names the rate-limit tier in the closed tier catalog.
	Tier string

	// AllowedDomains holds exact domains and "*." subdomain wildcards.
	// Empty together with AllowedCIDRs means the key is domainless
	// (global access).
	AllowedDomains []string

	// AllowedCIDRs holds exact IP addresses or CIDR blocks.
	AllowedCIDRs []string

	// Environment tags the key (e.g. "production", "development").
	// An empty tag matches any request environment.
	Environment string

	// Active is cleared on revocation or administrative suspension.
	Active bool

	// ExpiresAt is the optional hard expiry. Nil means no expiry.
	ExpiresAt *time.Time

	// RevokedAt is set on revocation (soft delete).
	RevokedAt *time.Time

	// Scopes lists the permissions granted to this key.
	Scopes []Scope

	// CreatedAt is when the key was issued.
	CreatedAt time.Time
}

// Expired reports whether the record's expiry has passed at the given time.
func (r *KeyRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// Usable reports whether the record may admit requests at the given time:
// active, not revoked, and not expired.
func (r *KeyRecord) Usable(now time.Time) bool {
	return r.Active && r.RevokedAt == nil && !r.Expired(now)
}

// HasScope reports whether the record holds the given scope.
func (r *KeyRecord) HasScope(s Scope) bool {
	for _, held := range r.Scopes {
		if held == s {
			return true
		}
	}
	return false
}

// Domainless reports whether the key has neither domain nor IP restrictions
// and is therefore allowed from any origin.
func (r *KeyRecord) Domainless() bool {
	return len(r.AllowedDomains) == 0 && len(r.AllowedCIDRs) == 0
}

// Tier is one entry in the closed, deploy-time tier catalog.
//
// A zero value for any window means that window is unlimited and its
// check is skipped entirely. Tiers are immutable at runtime; changing a
// tier's limits is a configuration change followed by a restart or
// config reload, never a runtime mutation.
type Tier struct {
	// Name is the catalog key referenced by KeyRecord.Tier.
	Name string

	// DisplayName is the human-readable tier name.
	DisplayName string

	// RequestsPerSecond is the per-second ceiling (0 = unlimited).
	RequestsPerSecond int

	// RequestsPerMinute is the per-minute ceiling (0 = unlimited).
	RequestsPerMinute int

	// RequestsPerHour is the per-hour ceiling (0 = unlimited).
	RequestsPerHour int

	// MonthlyQuota is the base calendar-month call quota (0 = unlimited).
	MonthlyQuota int64

	// MonthlyPriceUSD is the tier's monthly price.
	MonthlyPriceUSD float64
}

// UnlimitedMonthly reports whether the tier has no monthly quota.
func (t *Tier) UnlimitedMonthly() bool {
	return t.MonthlyQuota <= 0
}

// Store resolves opaque tokens to key records. It is the lookup interface
// the admission pipeline consumes; persistent key storage behind it is an
// external collaborator.
type Store interface {
	Resolve(token string) (*KeyRecord, error)
}
