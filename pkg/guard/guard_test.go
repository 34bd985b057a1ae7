package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"brandpeek/gatehouse/pkg/keys"
)

func domainKey(domains ...string) *keys.KeyRecord {
	return &keys.KeyRecord{ID: "k", Active: true, AllowedDomains: domains}
}

func ipKey(cidrs ...string) *keys.KeyRecord {
	return &keys.KeyRecord{ID: "k", Active: true, AllowedCIDRs: cidrs}
}

func TestValidate_WildcardSubdomains(t *testing.T) {
	rec := domainKey("*.example.com")

	tests := []struct {
		name    string
		origin  string
		allowed bool
		reason  Reason
	}{
		{"subdomain matches", "https://app.example.com", true, ReasonNone},
		{"nested subdomain matches", "https://a.b.example.com", true, ReasonNone},
		{"bare apex does not match wildcard", "https://example.com", false, ReasonDomainNotAllowed},
		{"suffix trick rejected", "https://evilexample.com", false, ReasonDomainNotAllowed},
		{"other domain rejected", "https://other.org", false, ReasonDomainNotAllowed},
		{"port ignored", "https://app.example.com:8443", true, ReasonNone},
		{"case insensitive", "https://APP.Example.COM", true, ReasonNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Validate(rec, RequestOrigin{Origin: tt.origin})
			assert.Equal(t, tt.allowed, v.Allowed)
			assert.Equal(t, tt.reason, v.Reason)
		})
	}
}

func TestValidate_ExactDomain(t *testing.T) {
	rec := domainKey("example.com", "*.example.com")

	// The apex is covered only because it is listed explicitly.
	v := Validate(rec, RequestOrigin{Origin: "https://example.com"})
	assert.True(t, v.Allowed)
	assert.Equal(t, "example.com", v.MatchedPattern)

	// Trailing dots are stripped before matching.
	v = Validate(rec, RequestOrigin{Origin: "https://example.com."})
	assert.True(t, v.Allowed)
}

func TestValidate_RefererFallback(t *testing.T) {
	rec := domainKey("app.example.com")

	v := Validate(rec, RequestOrigin{Referer: "https://app.example.com/dashboard?tab=keys"})
	assert.True(t, v.Allowed)

	// Origin wins over Referer; a denied Origin does not fall through.
	v = Validate(rec, RequestOrigin{
		Origin:  "https://evil.org",
		Referer: "https://app.example.com/",
	})
	assert.False(t, v.Allowed)
	assert.Equal(t, ReasonDomainNotAllowed, v.Reason)
}

func TestValidate_NoFallthroughToIP(t *testing.T) {
	rec := &keys.KeyRecord{
		ID: "k", Active: true,
		AllowedDomains: []string{"app.example.com"},
		AllowedCIDRs:   []string{"10.0.0.0/8"},
	}

	// The denied Origin must not be rescued by a whitelisted client IP.
	v := Validate(rec, RequestOrigin{
		Origin:   "https://evil.org",
		RemoteIP: "10.1.2.3",
	})
	assert.False(t, v.Allowed)

	// Without any declared web origin, the IP list applies.
	v = Validate(rec, RequestOrigin{RemoteIP: "10.1.2.3"})
	assert.True(t, v.Allowed)
	assert.Equal(t, "10.0.0.0/8", v.MatchedPattern)
}

func TestValidate_IPAndCIDR(t *testing.T) {
	rec := ipKey("192.168.1.10", "10.0.0.0/8")

	tests := []struct {
		remoteIP string
		allowed  bool
	}{
		{"192.168.1.10", true},
		{"192.168.1.10:54321", true}, // port stripped
		{"192.168.1.11", false},
		{"10.200.0.1", true},
		{"11.0.0.1", false},
	}

	for _, tt := range tests {
		v := Validate(rec, RequestOrigin{RemoteIP: tt.remoteIP})
		assert.Equal(t, tt.allowed, v.Allowed, "remote IP %s", tt.remoteIP)
	}
}

func TestValidate_IPLiteralOrigin(t *testing.T) {
	rec := ipKey("10.0.0.0/8")

	// An Origin whose host is an IP literal is checked against the IP
	// list, not the domain list.
	v := Validate(rec, RequestOrigin{Origin: "http://10.5.5.5:3000"})
	assert.True(t, v.Allowed)
}

func TestValidate_MissingAndInvalidOrigin(t *testing.T) {
	rec := domainKey("app.example.com")

	v := Validate(rec, RequestOrigin{})
	assert.False(t, v.Allowed)
	assert.Equal(t, ReasonMissingOrigin, v.Reason)

	v = Validate(rec, RequestOrigin{RemoteIP: "not-an-address"})
	assert.False(t, v.Allowed)
	assert.Equal(t, ReasonInvalidFormat, v.Reason)
}

func TestValidate_DomainlessKey(t *testing.T) {
	rec := &keys.KeyRecord{ID: "k", Active: true}

	// No restrictions at all means global access, even with no origin.
	v := Validate(rec, RequestOrigin{})
	assert.True(t, v.Allowed)
	assert.Equal(t, "*", v.MatchedPattern)
}

func TestValidate_EnvironmentTag(t *testing.T) {
	rec := domainKey("app.example.com")
	rec.Environment = "production"

	v := Validate(rec, RequestOrigin{
		Origin:      "https://app.example.com",
		Environment: "production",
	})
	assert.True(t, v.Allowed)

	v = Validate(rec, RequestOrigin{
		Origin:      "https://app.example.com",
		Environment: "staging",
	})
	assert.False(t, v.Allowed)
	assert.Equal(t, ReasonDomainNotAllowed, v.Reason)

	// An untagged request passes a tagged key; the tag narrows only
	// when both sides declare one.
	v = Validate(rec, RequestOrigin{Origin: "https://app.example.com"})
	assert.True(t, v.Allowed)
}

func TestValidate_BareDomainOrigin(t *testing.T) {
	rec := domainKey("app.example.com")

	// Some clients send a bare host instead of a full URL.
	v := Validate(rec, RequestOrigin{Origin: "app.example.com"})
	assert.True(t, v.Allowed)
}
