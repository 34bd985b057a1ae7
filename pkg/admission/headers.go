package admission

import "strconv"

// Response header names. Clients parse these verbatim, so the exact
// spelling is part of the public contract.
const (
	HeaderLimit               = "X-RateLimit-Limit"
	HeaderRemaining           = "X-RateLimit-Remaining"
	HeaderReset               = "X-RateLimit-Reset"
	HeaderTier                = "X-RateLimit-Tier"
	HeaderAdditionalAvailable = "X-RateLimit-Additional-Available"
	HeaderTotalRemaining      = "X-RateLimit-Total-Remaining"
	HeaderUsedAddOn           = "X-RateLimit-Used-AddOn"
	HeaderRetryAfter          = "Retry-After"
)

// Headers renders the response header set for this result.
//
// The numeric Limit/Remaining/Reset triple reports whichever constraint
// bound the decision: the exhausted rate window on a rate-limit denial,
// otherwise the monthly quota, falling back to the tightest rate window
// when the tier has no monthly quota. Fully unlimited tiers get only
// the tier name. Retry-After appears only on rate-limit denials.
func (r *Result) Headers() map[string]string {
	h := make(map[string]string, 8)

	if r.Tier != nil {
		h[HeaderTier] = r.Tier.Name
	}

	switch {
	case r.Reason == ReasonRateLimited && r.RateLimit != nil:
		h[HeaderLimit] = strconv.FormatInt(r.RateLimit.Limit, 10)
		h[HeaderRemaining] = "0"
		h[HeaderReset] = strconv.FormatInt(r.RateLimit.ResetSeconds(), 10)
		h[HeaderRetryAfter] = strconv.FormatInt(r.RateLimit.ResetSeconds(), 10)

	case r.Quota != nil && !r.Quota.Unlimited:
		h[HeaderLimit] = strconv.FormatInt(r.Quota.Limit, 10)
		h[HeaderRemaining] = strconv.FormatInt(r.Quota.Remaining, 10)
		h[HeaderReset] = strconv.FormatInt(r.QuotaResetSeconds, 10)

	case r.RateLimit != nil:
		// Monthly quota unlimited; report the tightest rate window.
		h[HeaderLimit] = strconv.FormatInt(r.RateLimit.Limit, 10)
		h[HeaderRemaining] = strconv.FormatInt(r.RateLimit.Remaining, 10)
		h[HeaderReset] = strconv.FormatInt(r.RateLimit.ResetSeconds(), 10)
	}

	if r.Quota != nil {
		h[HeaderAdditionalAvailable] = strconv.FormatInt(r.AdditionalAvailable, 10)
		h[HeaderTotalRemaining] = strconv.FormatInt(r.TotalRemaining, 10)
	}

	if r.UsedAddOn {
		h[HeaderUsedAddOn] = "true"
	}

	return h
}
