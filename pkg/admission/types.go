package admission

import (
	"net/http"

	"brandpeek/gatehouse/pkg/guard"
	"brandpeek/gatehouse/pkg/keys"
	"brandpeek/gatehouse/pkg/limits/addons"
	"brandpeek/gatehouse/pkg/limits/quota"
	"brandpeek/gatehouse/pkg/limits/ratelimit"
)

// Reason identifies which pipeline stage denied a request. An empty
// reason means the request was admitted.
type Reason string

const (
	// ReasonNone means the request was admitted.
	ReasonNone Reason = ""

	// ReasonKeyNotFound means no key record matched the token.
	ReasonKeyNotFound Reason = "KEY_NOT_FOUND"

	// ReasonKeyInactive means the key exists but is deactivated,
	// revoked, or past its expiry.
	ReasonKeyInactive Reason = "KEY_INACTIVE_OR_EXPIRED"

	// ReasonMissingOrigin means a domain-restricted key sent no
	// usable origin information at all.
	ReasonMissingOrigin Reason = "MISSING_ORIGIN"

	// ReasonDomainNotAllowed means the resolved origin matched no
	// allow-list entry, or the environment tag mismatched.
	ReasonDomainNotAllowed Reason = "DOMAIN_NOT_ALLOWED"

	// ReasonInvalidFormat means the origin was present but unparsable.
	ReasonInvalidFormat Reason = "INVALID_FORMAT"

	// ReasonRateLimited means a per-window token bucket was exhausted.
	ReasonRateLimited Reason = "RATE_LIMIT_EXCEEDED"

	// ReasonQuotaExceeded means base monthly quota is exhausted and no
	// add-on had remaining capacity.
	ReasonQuotaExceeded Reason = "QUOTA_EXCEEDED"

	// ReasonStoreUnavailable means the quota store could not be
	// reached and the fail-closed policy denied the request.
	ReasonStoreUnavailable Reason = "STORE_UNAVAILABLE"
)

// HTTPStatus maps a denial reason to the status code the boundary
// layer must return. ReasonNone maps to 200.
func (r Reason) HTTPStatus() int {
	switch r {
	case ReasonNone:
		return http.StatusOK
	case ReasonKeyNotFound, ReasonKeyInactive, ReasonMissingOrigin, ReasonInvalidFormat:
		return http.StatusUnauthorized
	case ReasonDomainNotAllowed:
		return http.StatusForbidden
	case ReasonRateLimited, ReasonQuotaExceeded:
		return http.StatusTooManyRequests
	case ReasonStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// guardReason translates the origin guard's verdict reason into the
// admission taxonomy.
func guardReason(r guard.Reason) Reason {
	switch r {
	case guard.ReasonMissingOrigin:
		return ReasonMissingOrigin
	case guard.ReasonInvalidFormat:
		return ReasonInvalidFormat
	default:
		return ReasonDomainNotAllowed
	}
}

// Result is the outcome of one admission check. Exactly one of Allowed
// or a non-empty Reason holds; the remaining fields carry whatever
// diagnostics the stages that ran produced.
type Result struct {
	// Allowed reports whether the request may be forwarded.
	Allowed bool

	// Reason names the denying stage, empty on success.
	Reason Reason

	// Key is the resolved key record, nil when lookup failed.
	Key *keys.KeyRecord

	// Tier is the key's pricing tier, nil when unresolved.
	Tier *keys.Tier

	// MatchedPattern is the allow-list entry the origin matched.
	MatchedPattern string

	// RateLimit carries the tightest-window bucket snapshot, nil when
	// the pipeline stopped before the limiter.
	RateLimit *ratelimit.ConsumptionResult

	// Quota carries the monthly reservation outcome, nil when the
	// pipeline stopped before the tracker.
	Quota *quota.Reservation

	// QuotaResetSeconds is the number of seconds until the next
	// calendar-month rollover, set whenever Quota is.
	QuotaResetSeconds int64

	// UsedAddOn is true when the call was covered by overlay capacity.
	UsedAddOn bool

	// AddOnID identifies the consumed add-on instance.
	AddOnID string

	// AddOnRemaining is the consumed instance's balance afterward.
	AddOnRemaining int64

	// AdditionalAvailable is the key's summed active overlay balance
	// after this call.
	AdditionalAvailable int64

	// TotalRemaining is base remaining plus AdditionalAvailable, or -1
	// for unlimited tiers.
	TotalRemaining int64

	// Recommended suggests packages to purchase, populated only on
	// QUOTA_EXCEEDED denials.
	Recommended []addons.Recommendation
}
