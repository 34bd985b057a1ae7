package guard

// Reason identifies why origin validation denied a request.
// The values are wire-stable; boundary layers map them to HTTP statuses.
type Reason string

const (
	// ReasonNone means the verdict allowed the request.
	ReasonNone Reason = ""

	// ReasonMissingOrigin means the request carried no usable origin at all.
	ReasonMissingOrigin Reason = "MISSING_ORIGIN"

	// ReasonDomainNotAllowed means the origin resolved but matched no
	// allow-list entry (or the environment tag mismatched).
	ReasonDomainNotAllowed Reason = "DOMAIN_NOT_ALLOWED"

	// ReasonInvalidFormat means the origin was present but unparsable.
	ReasonInvalidFormat Reason = "INVALID_FORMAT"
)

// RequestOrigin carries the request metadata the guard inspects.
type RequestOrigin struct {
	// Origin is the raw Origin header value, if any.
	Origin string

	// Referer is the raw Referer header value, used as fallback.
	Referer string

	// RemoteIP is the direct client address, used as final fallback.
	// May include a port ("203.0.113.7:41832").
	RemoteIP string

	// Environment tags the deployment the request entered through
	// (e.g. "production"). Empty means untagged.
	Environment string
}

// Verdict is the result of origin validation.
type Verdict struct {
	// Allowed reports whether the origin passed.
	Allowed bool

	// MatchedPattern is the allow-list entry that admitted the origin,
	// or "*" for domainless keys.
	MatchedPattern string

	// Reason is set when Allowed is false.
	Reason Reason
}

func allow(pattern string) Verdict {
	return Verdict{Allowed: true, MatchedPattern: pattern}
}

func deny(reason Reason) Verdict {
	return Verdict{Allowed: false, Reason: reason}
}
