package guard

import (
	"net/netip"
	"net/url"
	"strings"

	"brandpeek/gatehouse/pkg/keys"
)

// Validate checks a request origin against the key's allow-lists.
//
// Resolution order:
//  1. Origin header (scheme://host[:port])
//  2. Referer host
//  3. Direct client IP
//
// The first form present is the one validated; a denied Origin header does
// not fall through to the IP list. Environment tag mismatches deny with
// ReasonDomainNotAllowed.
func Validate(rec *keys.KeyRecord, origin RequestOrigin) Verdict {
	if rec.Environment != "" && origin.Environment != "" &&
		!strings.EqualFold(rec.Environment, origin.Environment) {
		return deny(ReasonDomainNotAllowed)
	}

	if rec.Domainless() {
		return allow("*")
	}

	// Prefer a declared web origin over the transport address.
	for _, raw := range []string{origin.Origin, origin.Referer} {
		if raw == "" {
			continue
		}
		host, ok := hostOf(raw)
		if !ok {
			return deny(ReasonInvalidFormat)
		}
		return matchDomain(rec, host)
	}

	if origin.RemoteIP != "" {
		addr, ok := parseAddr(origin.RemoteIP)
		if !ok {
			return deny(ReasonInvalidFormat)
		}
		return matchIP(rec, addr)
	}

	return deny(ReasonMissingOrigin)
}

// matchDomain checks a normalized host against the domain allow-list.
// If the host is itself an IP literal, the IP list is consulted instead.
func matchDomain(rec *keys.KeyRecord, host string) Verdict {
	if addr, err := netip.ParseAddr(host); err == nil {
		return matchIP(rec, addr)
	}

	for _, pattern := range rec.AllowedDomains {
		p := normalizeDomain(pattern)
		if p == "" {
			continue
		}

		if rest, isWildcard := strings.CutPrefix(p, "*."); isWildcard {
			// A wildcard covers subdomains only, never the bare apex.
			if strings.HasSuffix(host, "."+rest) && len(host) > len(rest)+1 {
				return allow(pattern)
			}
			continue
		}

		if host == p {
			return allow(pattern)
		}
	}

	return deny(ReasonDomainNotAllowed)
}

// matchIP checks an address against the IP/CIDR allow-list.
func matchIP(rec *keys.KeyRecord, addr netip.Addr) Verdict {
	for _, entry := range rec.AllowedCIDRs {
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			if prefix.Contains(addr) {
				return allow(entry)
			}
			continue
		}
		if allowed, err := netip.ParseAddr(entry); err == nil && allowed == addr {
			return allow(entry)
		}
	}

	return deny(ReasonDomainNotAllowed)
}

// hostOf extracts the normalized host from an Origin or Referer value.
func hostOf(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}

	host := u.Hostname()
	if host == "" {
		// A bare "example.com" parses as a path; tolerate it.
		if !strings.ContainsAny(raw, "/?#@ ") {
			host = raw
			if h, _, ok := strings.Cut(raw, ":"); ok {
				host = h
			}
		}
		if host == "" {
			return "", false
		}
	}

	return normalizeDomain(host), true
}

// normalizeDomain lowercases a domain and strips any trailing dot.
func normalizeDomain(d string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d)), ".")
}

// parseAddr parses a client address that may carry a port.
func parseAddr(s string) (netip.Addr, bool) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr(), true
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}
