// Package guard validates request origins against a key's domain and IP
// allow-lists.
//
// # Overview
//
// Validate is a pure function of the key record and the request metadata;
// it has no side effects and touches no shared state:
//
//	verdict := guard.Validate(record, guard.RequestOrigin{
//	    Origin:   r.Header.Get("Origin"),
//	    Referer:  r.Header.Get("Referer"),
//	    RemoteIP: clientIP(r),
//	})
//	if !verdict.Allowed {
//	    // verdict.Reason is one of MISSING_ORIGIN, DOMAIN_NOT_ALLOWED,
//	    // INVALID_FORMAT
//	}
//
// # Matching rules
//
// Origin resolution order is Origin header, then Referer host, then the
// direct client IP. Domain matching is case-insensitive with trailing
// dots stripped; "*.example.com" matches "api.example.com" but not the
// bare apex "example.com". IP matching is exact address or CIDR
// containment. A key with no domain and no IP restrictions is domainless
// and allowed unconditionally.
package guard
