package config

import (
	"brandpeek/gatehouse/pkg/keys"
	"brandpeek/gatehouse/pkg/limits/addons"
)

// TierCatalog converts the configured tier catalog into registry tiers.
func (c *Config) TierCatalog() []keys.Tier {
	out := make([]keys.Tier, 0, len(c.Tiers))
	for _, t := range c.Tiers {
		out = append(out, keys.Tier{
			Name:              t.Name,
			DisplayName:       t.DisplayName,
			RequestsPerSecond: t.RequestsPerSecond,
			RequestsPerMinute: t.RequestsPerMinute,
			RequestsPerHour:   t.RequestsPerHour,
			MonthlyQuota:      t.MonthlyQuota,
			MonthlyPriceUSD:   t.MonthlyPriceUSD,
		})
	}
	return out
}

// PackageCatalog converts the configured add-on catalog.
func (c *Config) PackageCatalog() []addons.Package {
	out := make([]addons.Package, 0, len(c.Packages))
	for _, p := range c.Packages {
		out = append(out, addons.Package{
			Name:           p.Name,
			DisplayName:    p.DisplayName,
			Size:           p.Size,
			PriceUSD:       p.PriceUSD,
			DurationMonths: p.DurationMonths,
			AutoRenew:      p.AutoRenew,
		})
	}
	return out
}

// KeyRecords converts the configured key list into registry records.
// Scope strings were validated at load time; unknown ones are skipped
// here rather than failing.
func (c *Config) KeyRecords() []*keys.KeyRecord {
	out := make([]*keys.KeyRecord, 0, len(c.Keys))
	for _, k := range c.Keys {
		rec := &keys.KeyRecord{
			ID:             k.ID,
			TokenHash:      k.TokenHash,
			OwnerID:        k.OwnerID,
			Tier:           k.Tier,
			AllowedDomains: k.AllowedDomains,
			AllowedCIDRs:   k.AllowedCIDRs,
			Environment:    k.Environment,
			Active:         k.Active,
			ExpiresAt:      k.ExpiresAt,
		}
		for _, s := range k.Scopes {
			scope, err := keys.ParseScope(s)
			if err != nil {
				continue
			}
			rec.Scopes = append(rec.Scopes, scope)
		}
		out = append(out, rec)
	}
	return out
}
