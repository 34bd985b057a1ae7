package keys

import "fmt"

// Scope is a permission granted to an API key.
// Scopes are a closed set; unknown scope strings are rejected at parse time.
type Scope string

const (
	// ScopeRead allows read-only retrieval endpoints.
	ScopeRead Scope = "read"

	// ScopeExtract allows extraction requests.
	ScopeExtract Scope = "extract"

	// ScopeForward allows forwarding requests to upstream targets.
	ScopeForward Scope = "forward"

	// ScopeAdmin allows administrative operations (resets, add-on management).
	ScopeAdmin Scope = "admin"
)

// ParseScope converts a string into a Scope, rejecting unknown values.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeRead, ScopeExtract, ScopeForward, ScopeAdmin:
		return Scope(s), nil
	default:
		return "", fmt.Errorf("unknown scope: %q", s)
	}
}

// RequireMode selects how a Requirement combines its scopes.
type RequireMode int

const (
	// RequireAll is satisfied only when every listed scope is held.
	RequireAll RequireMode = iota

	// RequireAny is satisfied when at least one listed scope is held.
	RequireAny
)

// Requirement is an explicit scope check combinator. Boundary layers build
// one per operation instead of inspecting scopes ad hoc.
type Requirement struct {
	Mode   RequireMode
	Scopes []Scope
}

// AllOf builds a Requirement satisfied only by keys holding every scope.
func AllOf(scopes ...Scope) Requirement {
	return Requirement{Mode: RequireAll, Scopes: scopes}
}

// AnyOf builds a Requirement satisfied by keys holding at least one scope.
func AnyOf(scopes ...Scope) Requirement {
	return Requirement{Mode: RequireAny, Scopes: scopes}
}

// SatisfiedBy reports whether the record meets the requirement.
// An empty requirement is satisfied by any record.
func (q Requirement) SatisfiedBy(r *KeyRecord) bool {
	if len(q.Scopes) == 0 {
		return true
	}

	switch q.Mode {
	case RequireAny:
		for _, s := range q.Scopes {
			if r.HasScope(s) {
				return true
			}
		}
		return false
	default: // RequireAll
		for _, s := range q.Scopes {
			if !r.HasScope(s) {
				return false
			}
		}
		return true
	}
}
