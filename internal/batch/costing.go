package batch

import (
	"sort"
	"time"
)

// Costing is computed over a snapshot of batches and never mutates anything:
// a later call may return a different value if lots changed in between, so
// callers needing a stable cost must snapshot it (the reservation manager
// does exactly that).

// estimateUnitCost answers "what should this issue cost" under the given
// convention. It returns 0 when no batch can answer, which callers must treat
// as unknown rather than a free good.
func estimateUnitCost(batches []Batch, method CostMethod, now time.Time) float64 {
	switch method {
	case CostFIFO:
		if b, ok := oldestCostable(batches, now); ok {
			return b.PurchasePrice
		}
	case CostLIFO:
		if b, ok := newestCostable(batches, now); ok {
			return b.PurchasePrice
		}
	case CostAverage:
		var qty, value float64
		for _, b := range batches {
			if b.costable(now) {
				qty += b.AvailableQty()
				value += b.AvailableQty() * b.PurchasePrice
			}
		}
		if qty > 0 {
			return value / qty
		}
	case CostLast:
		// Latest purchase regardless of availability, so a display price
		// always exists while any lot is on record.
		if b, ok := latestPurchased(batches); ok {
			return b.PurchasePrice
		}
	}
	return 0
}

// summarize computes all four conventions plus availability totals from one
// batch snapshot.
func summarize(itemID, locationID int64, batches []Batch, now time.Time) CostingSummary {
	summary := CostingSummary{
		ItemID:      itemID,
		LocationID:  locationID,
		FIFOCost:    estimateUnitCost(batches, CostFIFO, now),
		LIFOCost:    estimateUnitCost(batches, CostLIFO, now),
		AverageCost: estimateUnitCost(batches, CostAverage, now),
		LastCost:    estimateUnitCost(batches, CostLast, now),
	}
	for _, b := range batches {
		if b.costable(now) {
			summary.TotalQty += b.AvailableQty()
			summary.TotalValue += b.AvailableQty() * b.PurchasePrice
		}
	}
	return summary
}

// oldestCostable picks the earliest purchase date; equal dates break on the
// lowest id so the choice is deterministic regardless of input order.
func oldestCostable(batches []Batch, now time.Time) (Batch, bool) {
	return pick(batches, func(candidate, best Batch) bool {
		if !candidate.PurchaseDate.Equal(best.PurchaseDate) {
			return candidate.PurchaseDate.Before(best.PurchaseDate)
		}
		return candidate.ID < best.ID
	}, func(b Batch) bool { return b.costable(now) })
}

// newestCostable picks the latest purchase date; ties break on highest id.
func newestCostable(batches []Batch, now time.Time) (Batch, bool) {
	return pick(batches, func(candidate, best Batch) bool {
		if !candidate.PurchaseDate.Equal(best.PurchaseDate) {
			return candidate.PurchaseDate.After(best.PurchaseDate)
		}
		return candidate.ID > best.ID
	}, func(b Batch) bool { return b.costable(now) })
}

func latestPurchased(batches []Batch) (Batch, bool) {
	return pick(batches, func(candidate, best Batch) bool {
		if !candidate.PurchaseDate.Equal(best.PurchaseDate) {
			return candidate.PurchaseDate.After(best.PurchaseDate)
		}
		return candidate.ID > best.ID
	}, func(Batch) bool { return true })
}

func pick(batches []Batch, better func(candidate, best Batch) bool, keep func(Batch) bool) (Batch, bool) {
	var best Batch
	found := false
	for _, b := range batches {
		if !keep(b) {
			continue
		}
		if !found || better(b, best) {
			best = b
			found = true
		}
	}
	return best, found
}

// sortBatches orders listings. Supported keys: purchase_date, expiry_date,
// available; default is purchase_date ascending with id as tie-break.
func sortBatches(batches []Batch, sortBy string) {
	less := func(a, b Batch) bool {
		if !a.PurchaseDate.Equal(b.PurchaseDate) {
			return a.PurchaseDate.Before(b.PurchaseDate)
		}
		return a.ID < b.ID
	}
	switch sortBy {
	case "expiry_date":
		less = func(a, b Batch) bool {
			if a.ExpiryDate.IsZero() != b.ExpiryDate.IsZero() {
				return !a.ExpiryDate.IsZero()
			}
			if !a.ExpiryDate.Equal(b.ExpiryDate) {
				return a.ExpiryDate.Before(b.ExpiryDate)
			}
			return a.ID < b.ID
		}
	case "available":
		less = func(a, b Batch) bool {
			if a.AvailableQty() != b.AvailableQty() {
				return a.AvailableQty() > b.AvailableQty()
			}
			return a.ID < b.ID
		}
	}
	sort.Slice(batches, func(i, j int) bool { return less(batches[i], batches[j]) })
}
