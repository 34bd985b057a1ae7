package addons

import "sort"

// Recommend suggests packages to cover a projected overage. The
// strategy is greedy: while capacity is still needed, pick the cheapest
// package whose size covers the remainder in one instance; if none is
// large enough, take one instance of the largest package and repeat.
// Greedy is not a general knapsack solver but matches how real catalogs
// are tiered (sizes roughly geometric), and its output is stable for a
// given catalog.
//
// A non-positive overage or an empty catalog yields no recommendations.
func (l *Ledger) Recommend(overage int64) []Recommendation {
	if overage <= 0 || len(l.catalog) == 0 {
		return nil
	}

	packages := make([]Package, 0, len(l.catalog))
	for _, p := range l.catalog {
		if p.Size > 0 {
			packages = append(packages, p)
		}
	}
	if len(packages) == 0 {
		return nil
	}
	sort.Slice(packages, func(i, j int) bool {
		if packages[i].PriceUSD != packages[j].PriceUSD {
			return packages[i].PriceUSD < packages[j].PriceUSD
		}
		return packages[i].Size > packages[j].Size
	})
	largest := packages[0]
	for _, p := range packages[1:] {
		if p.Size > largest.Size {
			largest = p
		}
	}

	counts := make(map[string]int64)
	remaining := overage
	for remaining > 0 {
		var pick Package
		found := false
		for _, p := range packages {
			if p.Size >= remaining {
				pick = p
				found = true
				break
			}
		}
		if !found {
			pick = largest
		}
		counts[pick.Name]++
		remaining -= pick.Size
	}

	out := make([]Recommendation, 0, len(counts))
	for name, qty := range counts {
		pkg := l.catalog[name]
		out = append(out, Recommendation{
			Package:       pkg,
			Quantity:      qty,
			TotalCalls:    qty * pkg.Size,
			TotalPriceUSD: float64(qty) * pkg.PriceUSD,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Package.Name < out[j].Package.Name
	})
	return out
}
