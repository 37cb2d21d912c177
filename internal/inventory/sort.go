package inventory

import (
	"cmp"
	"slices"
)

func sortedByExpiry(batches []Batch) []Batch {
	out := slices.Clone(batches)
	slices.SortStableFunc(out, func(a, b Batch) int {
		if c := a.ExpiryDate.Compare(b.ExpiryDate); c != 0 {
			return c
		}
		return cmp.Compare(a.BatchNo, b.BatchNo)
	})
	return out
}

func sortDrifts(drifts []Drift) {
	slices.SortFunc(drifts, func(a, b Drift) int {
		if c := cmp.Compare(a.DistributorID, b.DistributorID); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductKey, b.ProductKey)
	})
}
