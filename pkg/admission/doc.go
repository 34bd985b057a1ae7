// Package admission composes key resolution, origin validation, rate
// limiting, and quota accounting into a single pass/fail decision for
// each inbound request.
//
// # Pipeline
//
// Admit runs a short-circuiting pipeline in fixed order, cheapest and
// most common failures first:
//
//	key lookup -> origin guard -> rate limiter -> quota -> add-on overlay
//
// Each stage denies with its own named Reason, so the boundary HTTP
// layer maps the outcome to a status code and response headers without
// re-deriving intent:
//
//	result := ctrl.Admit(ctx, token, origin)
//	for k, v := range result.Headers() {
//	    w.Header().Set(k, v)
//	}
//	if !result.Allowed {
//	    w.WriteHeader(result.Reason.HTTPStatus())
//	}
//
// # Failure policy
//
// Quota accounting fails closed: when the counter store is unreachable
// the request is denied with STORE_UNAVAILABLE rather than admitted
// unmetered. Rate-limit smoothing fails open: bucket snapshot problems
// degrade to fresh in-memory buckets with a logged warning, since
// briefly over-admitting is cheaper than blocking paying traffic.
package admission
