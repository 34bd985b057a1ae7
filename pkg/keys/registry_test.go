package keys

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTiers = []Tier{
	{Name: "free", RequestsPerSecond: 1, MonthlyQuota: 100},
	{Name: "pro", RequestsPerSecond: 50, MonthlyQuota: 100000},
}

func record(id, token, tier string) *KeyRecord {
	return &KeyRecord{
		ID:        id,
		TokenHash: HashToken(token),
		Tier:      tier,
		Active:    true,
		CreatedAt: time.Now(),
	}
}

func TestRegistry_Resolve(t *testing.T) {
	reg := NewRegistry(testTiers, []*KeyRecord{record("k1", "secret-token", "pro")})

	rec, err := reg.Resolve("secret-token")
	require.NoError(t, err)
	assert.Equal(t, "k1", rec.ID)

	_, err = reg.Resolve("wrong-token")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	// The stored hash itself is not a valid token.
	_, err = reg.Resolve(HashToken("secret-token"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRegistry_ResolveReturnsInactiveRecords(t *testing.T) {
	rec := record("k1", "tok", "free")
	rec.Active = false
	reg := NewRegistry(testTiers, []*KeyRecord{rec})

	// Resolution succeeds so the pipeline can distinguish "inactive"
	// from "not found".
	got, err := reg.Resolve("tok")
	require.NoError(t, err)
	assert.False(t, got.Usable(time.Now()))
}

func TestRegistry_TierFor(t *testing.T) {
	reg := NewRegistry(testTiers, []*KeyRecord{record("k1", "tok", "pro")})

	rec, _ := reg.Resolve("tok")
	tier, err := reg.TierFor(rec)
	require.NoError(t, err)
	assert.Equal(t, 50, tier.RequestsPerSecond)

	rec.Tier = "gone"
	_, err = reg.TierFor(rec)
	assert.ErrorIs(t, err, ErrTierNotFound)
}

func TestRegistry_AddRejectsUnknownTier(t *testing.T) {
	reg := NewRegistry(testTiers, nil)

	err := reg.Add(record("k1", "tok", "nope"))
	assert.ErrorIs(t, err, ErrTierNotFound)
}

func TestRegistry_Revoke(t *testing.T) {
	reg := NewRegistry(testTiers, []*KeyRecord{record("k1", "tok", "free")})

	at := time.Now()
	require.NoError(t, reg.Revoke("k1", at))

	// Still resolvable for audit, never usable again.
	rec, err := reg.Resolve("tok")
	require.NoError(t, err)
	assert.False(t, rec.Active)
	require.NotNil(t, rec.RevokedAt)
	assert.False(t, rec.Usable(at.Add(time.Hour)))

	assert.ErrorIs(t, reg.Revoke("missing", at), ErrKeyNotFound)
}

func TestRegistry_UpdateRotatesToken(t *testing.T) {
	reg := NewRegistry(testTiers, []*KeyRecord{record("k1", "old-token", "free")})

	updated := record("k1", "new-token", "pro")
	require.NoError(t, reg.Update(updated))

	_, err := reg.Resolve("old-token")
	assert.ErrorIs(t, err, ErrKeyNotFound, "old token must stop resolving after rotation")

	rec, err := reg.Resolve("new-token")
	require.NoError(t, err)
	assert.Equal(t, "pro", rec.Tier)
}

func TestRegistry_Replace(t *testing.T) {
	reg := NewRegistry(testTiers, []*KeyRecord{record("k1", "tok-a", "free")})

	reg.Replace([]*KeyRecord{record("k2", "tok-b", "pro")})

	_, err := reg.Resolve("tok-a")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	rec, err := reg.Resolve("tok-b")
	require.NoError(t, err)
	assert.Equal(t, "k2", rec.ID)
}

func TestKeyRecord_Expired(t *testing.T) {
	now := time.Now()
	expiry := now.Add(-time.Minute)
	rec := record("k1", "tok", "free")
	rec.ExpiresAt = &expiry

	assert.True(t, rec.Expired(now))
	assert.False(t, rec.Usable(now))

	rec.ExpiresAt = nil
	assert.False(t, rec.Expired(now), "nil expiry never expires")
}

func TestScopes(t *testing.T) {
	rec := record("k1", "tok", "free")
	rec.Scopes = []Scope{ScopeRead, ScopeExtract}

	assert.True(t, rec.HasScope(ScopeRead))
	assert.False(t, rec.HasScope(ScopeAdmin))

	assert.True(t, AllOf(ScopeRead, ScopeExtract).SatisfiedBy(rec))
	assert.False(t, AllOf(ScopeRead, ScopeAdmin).SatisfiedBy(rec))
	assert.True(t, AnyOf(ScopeAdmin, ScopeRead).SatisfiedBy(rec))
	assert.False(t, AnyOf(ScopeAdmin, ScopeForward).SatisfiedBy(rec))
	assert.True(t, Requirement{}.SatisfiedBy(rec), "empty requirement always passes")

	_, err := ParseScope("admin")
	assert.NoError(t, err)
	_, err = ParseScope("root")
	assert.Error(t, err)
}
