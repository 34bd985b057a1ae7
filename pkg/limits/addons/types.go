package addons

import "errors"

// Common ledger errors.
var (
	// ErrPackageNotFound indicates the named package is not in the
	// catalog.
	ErrPackageNotFound = errors.New("add-on package not found")

	// ErrAlreadyCancelled indicates a cancel operation on an add-on
	// that is already flagged cancelled.
	ErrAlreadyCancelled = errors.New("add-on already cancelled")
)

// Package describes a purchasable add-on offering in the catalog.
// Purchasing a package creates an independent instance with its own
// remaining counter and expiry.
type Package struct {
	// Name uniquely identifies the package (e.g. "booster-10k").
	Name string

	// DisplayName is the human-readable label.
	DisplayName string

	// Size is the number of extra calls one instance grants.
	Size int64

	// PriceUSD is the one-time purchase price.
	PriceUSD float64

	// DurationMonths is the instance validity from purchase.
	DurationMonths int

	// AutoRenew controls whether instances of this package renew
	// automatically when they expire.
	AutoRenew bool
}

// Consumption reports the outcome of an overflow consumption attempt.
type Consumption struct {
	// Covered is true when an add-on supplied the call.
	Covered bool

	// AddOnID identifies the instance that was decremented, empty
	// when Covered is false.
	AddOnID string

	// Remaining is the instance's balance after the decrement.
	Remaining int64
}

// Recommendation pairs a catalog package with the quantity suggested to
// cover a projected overage.
type Recommendation struct {
	Package  Package
	Quantity int64

	// TotalCalls is Quantity * Package.Size.
	TotalCalls int64

	// TotalPriceUSD is Quantity * Package.PriceUSD.
	TotalPriceUSD float64
}
