package invoicing

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/distrochain/distrochain/internal/orders"
	"github.com/distrochain/distrochain/internal/shared"
)

// demand is the quantity an order needs of one product key.
type demand struct {
	key   string
	name  string
	qty   int64
	alloc Allocation
}

// normalizeAllocations folds product names and collapses duplicates; the last entry
// for a product wins.
func normalizeAllocations(allocs []Allocation) (map[string]Allocation, error) {
	if len(allocs) == 0 {
		return nil, ErrNoAllocations
	}
	out := make(map[string]Allocation, len(allocs))
	for i, a := range allocs {
		name := shared.ProductName(a.ProductName)
		if name == "" {
			return nil, fmt.Errorf("%w: allocation %d: product name required", shared.ErrValidation, i+1)
		}
		batchNo := strings.TrimSpace(a.BatchNo)
		if batchNo == "" {
			return nil, fmt.Errorf("%w: allocation for %q: batch number required", shared.ErrValidation, name)
		}
		if !a.Rate.IsPositive() {
			return nil, fmt.Errorf("%w: allocation for %q: rate must be positive", shared.ErrValidation, name)
		}
		out[shared.ProductKey(name)] = Allocation{ProductName: name, BatchNo: batchNo, Rate: a.Rate}
	}
	return out, nil
}

// matchDemand sums order lines per product key and pairs each with its allocation.
// The result is ordered by product key so concurrent invoices lock batches in the
// same order.
func matchDemand(lines []orders.Line, allocs map[string]Allocation) ([]demand, error) {
	byKey := make(map[string]*demand)
	for _, l := range lines {
		key := shared.ProductKey(l.ProductName)
		d, ok := byKey[key]
		if !ok {
			d = &demand{key: key, name: shared.ProductName(l.ProductName)}
			byKey[key] = d
		}
		d.qty += l.Qty
	}
	for key, a := range allocs {
		if _, ok := byKey[key]; !ok {
			return nil, fmt.Errorf("%w: %q is not on the order", shared.ErrValidation, a.ProductName)
		}
	}
	out := make([]demand, 0, len(byKey))
	for _, key := range slices.Sorted(maps.Keys(byKey)) {
		d := byKey[key]
		a, ok := allocs[key]
		if !ok {
			return nil, fmt.Errorf("%w: no batch allocated for %q", shared.ErrValidation, d.name)
		}
		d.alloc = a
		out = append(out, *d)
	}
	return out, nil
}
