package orders

import (
	"strconv"

	"github.com/fencecraft/crmbridge/internal/platform/httpx"
)

// Split partitions items by a per-item allocation into the part that stays
// on the original order and the part moved to a sub-order. allocation is
// matched to items by position; missing positions allocate nothing.
// Items fully moved are dropped from the remainder. Sub-order items carry
// no row id since they become new rows.
func Split(items []OrderItem, allocation []float64) (remainder, suborder []OrderItem, err error) {
	if len(allocation) > len(items) {
		return nil, nil, httpx.NewValidationError(map[string]string{"allocation": "len"})
	}
	fields := map[string]string{}
	for i, item := range items {
		var alloc float64
		if i < len(allocation) {
			alloc = allocation[i]
		}
		switch {
		case alloc < 0:
			fields["allocation["+strconv.Itoa(i)+"]"] = "gte"
			continue
		case alloc > item.Quantity:
			fields["allocation["+strconv.Itoa(i)+"]"] = "lte"
			continue
		}
		if rest := item.Quantity - alloc; rest > 0 {
			kept := item
			kept.Quantity = rest
			remainder = append(remainder, kept)
		}
		if alloc > 0 {
			moved := item
			moved.ID = 0
			moved.Quantity = alloc
			suborder = append(suborder, moved)
		}
	}
	if len(fields) > 0 {
		return nil, nil, httpx.NewValidationError(fields)
	}
	if len(suborder) == 0 {
		return nil, nil, httpx.NewValidationError(map[string]string{"allocation": "required"})
	}
	return remainder, suborder, nil
}

// AllocationByID turns an allocation keyed by item id into a positional one.
func AllocationByID(items []OrderItem, byID map[int64]float64) []float64 {
	out := make([]float64, len(items))
	for i, item := range items {
		out[i] = byID[item.ID]
	}
	return out
}

// splitSources lists, in order, the original ids behind the remainder and
// the sub-order rows Split produces for the same inputs.
func splitSources(items []OrderItem, allocation []float64) (kept, moved []int64) {
	for i, item := range items {
		var alloc float64
		if i < len(allocation) {
			alloc = allocation[i]
		}
		if item.Quantity-alloc > 0 {
			kept = append(kept, item.ID)
		}
		if alloc > 0 {
			moved = append(moved, item.ID)
		}
	}
	return kept, moved
}
