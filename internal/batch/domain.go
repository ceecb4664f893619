package batch

import (
	"errors"
	"time"
)

// Status enumerates batch lifecycle states.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusExhausted Status = "EXHAUSTED"
	StatusExpired   Status = "EXPIRED"
)

// CostMethod selects the valuation convention for cost estimates.
type CostMethod string

const (
	CostFIFO    CostMethod = "fifo"
	CostLIFO    CostMethod = "lifo"
	CostAverage CostMethod = "average"
	CostLast    CostMethod = "last"
)

// Valid reports whether the method is recognised.
func (m CostMethod) Valid() bool {
	switch m {
	case CostFIFO, CostLIFO, CostAverage, CostLast:
		return true
	}
	return false
}

// Batch is a receipt-dated quantity of one item at one location. Received
// quantity and purchase price are immutable once received; only ConsumedQty
// and Status move.
type Batch struct {
	ID            int64
	Number        string
	ItemID        int64
	LocationID    int64
	SupplierID    int64
	PurchaseDate  time.Time
	PurchasePrice float64
	ReceivedQty   float64
	ConsumedQty   float64
	ExpiryDate    time.Time
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AvailableQty is the uncommitted remainder of the lot.
func (b Batch) AvailableQty() float64 {
	return b.ReceivedQty - b.ConsumedQty
}

// EffectiveStatus computes the status at read time: a stored ACTIVE batch past
// its expiry date reads as EXPIRED even before any sweep has run.
func (b Batch) EffectiveStatus(now time.Time) Status {
	if b.Status == StatusActive && !b.ExpiryDate.IsZero() && b.ExpiryDate.Before(now) {
		return StatusExpired
	}
	return b.Status
}

// costable reports whether the batch participates in FIFO/LIFO/average
// valuation at the given instant.
func (b Batch) costable(now time.Time) bool {
	return b.EffectiveStatus(now) == StatusActive && b.AvailableQty() > 0
}

// ReceiveInput describes a new lot.
type ReceiveInput struct {
	Number        string
	ItemID        int64
	LocationID    int64
	SupplierID    int64
	PurchaseDate  time.Time
	PurchasePrice float64
	ReceivedQty   float64
	ExpiryDate    time.Time
	ActorID       int64
}

// ListFilter narrows batch listings.
type ListFilter struct {
	ItemID     int64
	LocationID int64
	Status     Status
	SortBy     string
	Limit      int
}

// CostingSummary reports all four conventions over one item/location.
type CostingSummary struct {
	ItemID      int64   `json:"item_id"`
	LocationID  int64   `json:"location_id"`
	FIFOCost    float64 `json:"fifo_cost"`
	LIFOCost    float64 `json:"lifo_cost"`
	AverageCost float64 `json:"average_cost"`
	LastCost    float64 `json:"last_cost"`
	TotalQty    float64 `json:"total_quantity"`
	TotalValue  float64 `json:"total_value"`
}

var (
	// ErrBatchNotFound indicates the referenced batch does not exist.
	ErrBatchNotFound = errors.New("batch: not found")
	// ErrBatchDepleted is returned when a consumption exceeds availability.
	ErrBatchDepleted = errors.New("batch: insufficient available quantity")
	// ErrInvalidCostMethod indicates an unrecognised costing method.
	ErrInvalidCostMethod = errors.New("batch: invalid cost method")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("batch: quantity must be positive")
	// ErrInvalidPrice indicates a negative purchase price.
	ErrInvalidPrice = errors.New("batch: purchase price must be >= 0")
)
