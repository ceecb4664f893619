package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func day(offset int) time.Time {
	return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func lots() []Batch {
	return []Batch{
		{ID: 1, Number: "LOT-A", ItemID: 7, PurchaseDate: day(0), PurchasePrice: 10, ReceivedQty: 100, ConsumedQty: 40, Status: StatusActive},
		{ID: 2, Number: "LOT-B", ItemID: 7, PurchaseDate: day(5), PurchasePrice: 20, ReceivedQty: 50, Status: StatusActive},
		{ID: 3, Number: "LOT-C", ItemID: 7, PurchaseDate: day(9), PurchasePrice: 30, ReceivedQty: 10, Status: StatusActive},
	}
}

func TestEstimateUnitCostMethods(t *testing.T) {
	now := day(10)
	batches := lots()

	require.InDelta(t, 10.0, estimateUnitCost(batches, CostFIFO, now), 1e-9)
	require.InDelta(t, 30.0, estimateUnitCost(batches, CostLIFO, now), 1e-9)
	require.InDelta(t, 30.0, estimateUnitCost(batches, CostLast, now), 1e-9)

	// (60*10 + 50*20 + 10*30) / 120
	require.InDelta(t, 1900.0/120.0, estimateUnitCost(batches, CostAverage, now), 1e-9)
}

func TestEstimateTieBreakIsDeterministic(t *testing.T) {
	now := day(10)
	a := Batch{ID: 1, PurchaseDate: day(2), PurchasePrice: 11, ReceivedQty: 5, Status: StatusActive}
	b := Batch{ID: 2, PurchaseDate: day(2), PurchasePrice: 22, ReceivedQty: 5, Status: StatusActive}

	// Equal purchase dates: FIFO takes the lowest id, LIFO the highest,
	// regardless of slice order.
	require.InDelta(t, 11.0, estimateUnitCost([]Batch{a, b}, CostFIFO, now), 1e-9)
	require.InDelta(t, 11.0, estimateUnitCost([]Batch{b, a}, CostFIFO, now), 1e-9)
	require.InDelta(t, 22.0, estimateUnitCost([]Batch{a, b}, CostLIFO, now), 1e-9)
	require.InDelta(t, 22.0, estimateUnitCost([]Batch{b, a}, CostLIFO, now), 1e-9)
}

func TestEstimateSkipsExhaustedAndExpired(t *testing.T) {
	now := day(10)
	batches := []Batch{
		{ID: 1, PurchaseDate: day(0), PurchasePrice: 10, ReceivedQty: 10, ConsumedQty: 10, Status: StatusExhausted},
		{ID: 2, PurchaseDate: day(1), PurchasePrice: 15, ReceivedQty: 10, ExpiryDate: day(5), Status: StatusActive},
		{ID: 3, PurchaseDate: day(2), PurchasePrice: 25, ReceivedQty: 10, Status: StatusActive},
	}

	require.InDelta(t, 25.0, estimateUnitCost(batches, CostFIFO, now), 1e-9)
	require.InDelta(t, 25.0, estimateUnitCost(batches, CostAverage, now), 1e-9)
	// last ignores availability entirely: the expired lot is still the most
	// recent purchase after the active one.
	require.InDelta(t, 25.0, estimateUnitCost(batches, CostLast, now), 1e-9)
}

func TestLastFallsBackWhenNothingAvailable(t *testing.T) {
	now := day(10)
	batches := []Batch{
		{ID: 1, PurchaseDate: day(0), PurchasePrice: 10, ReceivedQty: 10, ConsumedQty: 10, Status: StatusExhausted},
		{ID: 2, PurchaseDate: day(3), PurchasePrice: 18, ReceivedQty: 5, ConsumedQty: 5, Status: StatusExhausted},
	}

	require.InDelta(t, 0.0, estimateUnitCost(batches, CostFIFO, now), 1e-9)
	require.InDelta(t, 18.0, estimateUnitCost(batches, CostLast, now), 1e-9, "a display price is always returned")
	require.InDelta(t, 0.0, estimateUnitCost(nil, CostLast, now), 1e-9, "0 means unknown, not free")
}

func TestSummarize(t *testing.T) {
	now := day(10)
	summary := summarize(7, 3, lots(), now)

	require.Equal(t, int64(7), summary.ItemID)
	require.InDelta(t, 10.0, summary.FIFOCost, 1e-9)
	require.InDelta(t, 30.0, summary.LIFOCost, 1e-9)
	require.InDelta(t, 30.0, summary.LastCost, 1e-9)
	require.InDelta(t, 120.0, summary.TotalQty, 1e-9)
	require.InDelta(t, 1900.0, summary.TotalValue, 1e-9)
	require.InDelta(t, summary.TotalValue/summary.TotalQty, summary.AverageCost, 1e-9)
}

func TestEffectiveStatusComputedAtRead(t *testing.T) {
	b := Batch{Status: StatusActive, ExpiryDate: day(5)}
	require.Equal(t, StatusActive, b.EffectiveStatus(day(4)))
	require.Equal(t, StatusExpired, b.EffectiveStatus(day(6)))

	exhausted := Batch{Status: StatusExhausted, ExpiryDate: day(5)}
	require.Equal(t, StatusExhausted, exhausted.EffectiveStatus(day(6)))
}
