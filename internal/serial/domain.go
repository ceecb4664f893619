package serial

import (
	"errors"
	"fmt"
	"time"
)

// UnitStatus is the lifecycle state of one serialised unit.
type UnitStatus string

const (
	StatusAvailable UnitStatus = "AVAILABLE"
	StatusReserved  UnitStatus = "RESERVED"
	StatusSold      UnitStatus = "SOLD"
	StatusReturned  UnitStatus = "RETURNED"
	StatusDefective UnitStatus = "DEFECTIVE"
	StatusScrapped  UnitStatus = "SCRAPPED"
)

// transitions is the full state machine. Anything not listed here is
// rejected with ErrInvalidTransition; SCRAPPED is terminal.
var transitions = map[UnitStatus][]UnitStatus{
	StatusAvailable: {StatusReserved, StatusSold, StatusDefective},
	StatusReserved:  {StatusAvailable, StatusSold, StatusDefective},
	StatusSold:      {StatusReturned},
	StatusReturned:  {StatusAvailable, StatusDefective},
	StatusDefective: {StatusAvailable, StatusScrapped},
	StatusScrapped:  {},
}

// CanTransition reports whether the edge from→to exists in the state machine.
func CanTransition(from, to UnitStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates the edge and returns the new status.
func (s UnitStatus) Transition(to UnitStatus) (UnitStatus, error) {
	if !CanTransition(s, to) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, to)
	}
	return to, nil
}

// PerformanceRating grades a unit's observed reliability.
type PerformanceRating string

const (
	RatingExcellent PerformanceRating = "EXCELLENT"
	RatingGood      PerformanceRating = "GOOD"
	RatingFair      PerformanceRating = "FAIR"
	RatingPoor      PerformanceRating = "POOR"
)

// Unit is one serialised piece of stock tracked through the state machine.
type Unit struct {
	ID            int64
	SerialNumber  string
	ItemID        int64
	LocationID    int64
	BatchID       int64
	Status        UnitStatus
	Rating        PerformanceRating
	FailureCount  int
	UnitCost      float64
	WarrantyStart time.Time
	WarrantyEnd   time.Time
	Note          string
	UpdatedAt     time.Time
}

// Availability annotates a unit for allocation screens. It is derived at
// read time and never stored.
type Availability string

const (
	AvailabilityOK               Availability = "AVAILABLE"
	AvailabilityNotAvailable     Availability = "NOT_AVAILABLE"
	AvailabilityWarrantyExpired  Availability = "WARRANTY_EXPIRED"
	AvailabilityWarrantyExpiring Availability = "WARRANTY_EXPIRING"
)

// Candidate is a unit annotated for selection.
type Candidate struct {
	Unit
	Availability Availability `json:"availability"`
	Score        int          `json:"compatibility_score"`
}

// AllocationStatus is the lifecycle state of an allocation row.
type AllocationStatus string

const (
	AllocationTentative AllocationStatus = "TENTATIVE"
	AllocationConfirmed AllocationStatus = "CONFIRMED"
	AllocationReleased  AllocationStatus = "RELEASED"
)

// Allocation binds one unit to a demand reference. The warranty window is
// copied from the unit at allocation time so later unit edits cannot change
// what was promised.
type Allocation struct {
	ID            int64
	UnitID        int64
	SerialNumber  string
	RefType       string
	RefID         string
	Reason        string
	TechnicalSpec string
	UnitCost      float64
	WarrantyStart time.Time
	WarrantyEnd   time.Time
	Status        AllocationStatus
	AllocatedBy   int64
	CreatedAt     time.Time
	ReleasedAt    time.Time
}

// AllocateRequest names one unit wanted for a reference.
type AllocateRequest struct {
	UnitID        int64
	Reason        string
	TechnicalSpec string
}

// AllocateInput is a batch of unit requests under one demand reference.
// Either every unit is reserved or none are.
type AllocateInput struct {
	RefType     string
	RefID       string
	Requests    []AllocateRequest
	AllocatedBy int64
}

var (
	// ErrSerialNotFound indicates the referenced unit or allocation does not exist.
	ErrSerialNotFound = errors.New("serial: not found")
	// ErrSerialNotAvailable is returned when a unit cannot be reserved because
	// it is no longer AVAILABLE.
	ErrSerialNotAvailable = errors.New("serial: unit not available")
	// ErrInvalidTransition indicates a state change outside the state machine.
	ErrInvalidTransition = errors.New("serial: invalid transition")
	// ErrEmptyAllocation indicates an allocation request without units.
	ErrEmptyAllocation = errors.New("serial: allocation needs at least one unit")
)
