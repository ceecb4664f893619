package reservation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Type classifies what a reservation is held for.
type Type string

const (
	TypeEstimation Type = "ESTIMATION"
	TypeOrder      Type = "ORDER"
	TypeTransfer   Type = "TRANSFER"
)

// Valid reports whether the type is recognised.
func (t Type) Valid() bool {
	switch t {
	case TypeEstimation, TypeOrder, TypeTransfer:
		return true
	}
	return false
}

// Status is the lifecycle state of a reservation. ACTIVE rows whose
// expiry has passed read as EXPIRED even before the sweeper touches them.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusConsumed  Status = "CONSUMED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

// Reservation is a soft hold on item quantity at a location. The unit cost
// is snapshotted at creation time using the requested costing method and
// never re-read from the costing engine.
type Reservation struct {
	ID           uuid.UUID
	ItemID       int64
	LocationID   int64
	Quantity     float64
	Type         Type
	Status       Status
	CostMethod   string
	UnitCost     float64
	RefModule    string
	RefID        string
	Note         string
	ReservedBy   int64
	CreatedAt    time.Time
	ExpiresAt    time.Time
	ReleasedAt   time.Time
	ConsumedCode string
}

// EffectiveStatus folds clock-based expiry into the stored status.
func (r Reservation) EffectiveStatus(now time.Time) Status {
	if r.Status == StatusActive && !r.ExpiresAt.After(now) {
		return StatusExpired
	}
	return r.Status
}

// active reports whether the reservation can still be consumed or cancelled.
func (r Reservation) active(now time.Time) bool {
	return r.EffectiveStatus(now) == StatusActive
}

// ReserveInput describes a hold to place. Method picks the costing
// convention for the snapshotted unit cost; empty means average.
type ReserveInput struct {
	ItemID     int64
	LocationID int64
	Quantity   float64
	Type       Type
	Method     string
	TTL        time.Duration
	RefModule  string
	RefID      string
	Note       string
	ReservedBy int64
}

// ListFilter narrows reservation listings.
type ListFilter struct {
	ItemID     int64
	LocationID int64
	Status     Status
	Limit      int
}

var (
	// ErrReservationNotFound indicates the referenced reservation does not exist.
	ErrReservationNotFound = errors.New("reservation: not found")
	// ErrItemNotFound indicates the hold references an unknown item.
	ErrItemNotFound = errors.New("reservation: item not found")
	// ErrReservationNotActive is returned when consuming or cancelling a
	// reservation that is already consumed, cancelled or expired.
	ErrReservationNotActive = errors.New("reservation: not active")
	// ErrInsufficientAvailability signals the hold would exceed available-to-promise.
	ErrInsufficientAvailability = errors.New("reservation: insufficient availability")
	// ErrInvalidType indicates an unrecognised reservation type.
	ErrInvalidType = errors.New("reservation: invalid type")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("reservation: quantity must be positive")
)
