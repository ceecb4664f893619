package serial

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stockd/stockd/internal/shared"
)

// RepositoryPort abstracts persistence for the serial service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListUnits(ctx context.Context, itemID, locationID int64) ([]Unit, error)
	GetUnit(ctx context.Context, unitID int64) (Unit, error)
	GetAllocation(ctx context.Context, allocationID int64) (Allocation, error)
	ListAllocations(ctx context.Context, refType, refID string) ([]Allocation, error)
}

// AuditPort records allocation lifecycle events.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

// MetricsPort counts successful allocations.
type MetricsPort interface {
	CountAllocations(n int)
}

// Service coordinates serialised-unit allocation.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics MetricsPort
}

// NewService constructs Service.
func NewService(repo RepositoryPort, audit AuditPort, metrics MetricsPort) *Service {
	return &Service{repo: repo, audit: audit, metrics: metrics}
}

// ListAvailable returns selection candidates for an item, annotated with
// availability and compatibility score and ordered best-first.
func (s *Service) ListAvailable(ctx context.Context, itemID, locationID int64) ([]Candidate, error) {
	if itemID == 0 {
		return nil, fmt.Errorf("%w: item required", ErrSerialNotFound)
	}
	units, err := s.repo.ListUnits(ctx, itemID, locationID)
	if err != nil {
		return nil, err
	}
	return rankCandidates(units, time.Now().UTC()), nil
}

// Allocate reserves every requested unit under one demand reference. The
// whole batch succeeds or fails together: one unavailable unit rolls back
// all flips made before it.
func (s *Service) Allocate(ctx context.Context, input AllocateInput) ([]Allocation, error) {
	if input.RefType == "" || input.RefID == "" {
		return nil, errors.New("serial: allocation reference required")
	}
	if len(input.Requests) == 0 {
		return nil, ErrEmptyAllocation
	}
	seen := make(map[int64]bool, len(input.Requests))
	for _, req := range input.Requests {
		if req.UnitID == 0 {
			return nil, fmt.Errorf("%w: unit id required", ErrSerialNotFound)
		}
		if seen[req.UnitID] {
			return nil, fmt.Errorf("serial: unit %d requested twice", req.UnitID)
		}
		seen[req.UnitID] = true
	}

	now := time.Now().UTC()
	allocations := make([]Allocation, 0, len(input.Requests))
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		allocations = allocations[:0]
		for _, req := range input.Requests {
			unit, err := tx.ReserveUnit(ctx, req.UnitID)
			if err != nil {
				if errors.Is(err, ErrSerialNotAvailable) {
					return fmt.Errorf("%w: unit %d", ErrSerialNotAvailable, req.UnitID)
				}
				return err
			}
			alloc := Allocation{
				UnitID:        unit.ID,
				SerialNumber:  unit.SerialNumber,
				RefType:       input.RefType,
				RefID:         input.RefID,
				Reason:        req.Reason,
				TechnicalSpec: req.TechnicalSpec,
				UnitCost:      unit.UnitCost,
				WarrantyStart: unit.WarrantyStart,
				WarrantyEnd:   unit.WarrantyEnd,
				Status:        AllocationTentative,
				AllocatedBy:   input.AllocatedBy,
				CreatedAt:     now,
			}
			id, err := tx.InsertAllocation(ctx, alloc)
			if err != nil {
				return err
			}
			alloc.ID = id
			allocations = append(allocations, alloc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.CountAllocations(len(allocations))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.AllocatedBy,
			Action:   "serial:allocate",
			Entity:   input.RefType,
			EntityID: input.RefID,
			Meta:     map[string]any{"units": len(allocations)},
		})
	}
	return allocations, nil
}

// Confirm marks a tentative allocation as final and moves its unit to SOLD.
func (s *Service) Confirm(ctx context.Context, allocationID, actorID int64) (Allocation, error) {
	return s.settle(ctx, allocationID, actorID, AllocationConfirmed, StatusSold, "serial:confirm")
}

// Release undoes an allocation: the unit returns to AVAILABLE and the
// allocation row flips to RELEASED.
func (s *Service) Release(ctx context.Context, allocationID, actorID int64) (Allocation, error) {
	return s.settle(ctx, allocationID, actorID, AllocationReleased, StatusAvailable, "serial:release")
}

func (s *Service) settle(ctx context.Context, allocationID, actorID int64, allocStatus AllocationStatus, unitStatus UnitStatus, action string) (Allocation, error) {
	now := time.Now().UTC()
	var out Allocation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		alloc, err := tx.GetAllocationForUpdate(ctx, allocationID)
		if err != nil {
			return err
		}
		if alloc.Status != AllocationTentative {
			return fmt.Errorf("%w: allocation is %s", ErrInvalidTransition, alloc.Status)
		}
		unit, err := tx.GetUnit(ctx, alloc.UnitID)
		if err != nil {
			return err
		}
		next, err := unit.Status.Transition(unitStatus)
		if err != nil {
			return err
		}
		if err := tx.SetUnitStatus(ctx, unit.ID, next); err != nil {
			return err
		}
		released := time.Time{}
		if allocStatus == AllocationReleased {
			released = now
		}
		if err := tx.UpdateAllocationStatus(ctx, allocationID, allocStatus, released); err != nil {
			return err
		}
		alloc.Status = allocStatus
		alloc.ReleasedAt = released
		out = alloc
		return nil
	})
	if err != nil {
		return Allocation{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "serial_allocation",
			EntityID: fmt.Sprintf("%d", allocationID),
		})
	}
	return out, nil
}

// GetAllocation loads one allocation.
func (s *Service) GetAllocation(ctx context.Context, allocationID int64) (Allocation, error) {
	return s.repo.GetAllocation(ctx, allocationID)
}

// ListAllocations returns allocations bound to one reference.
func (s *Service) ListAllocations(ctx context.Context, refType, refID string) ([]Allocation, error) {
	if refType == "" || refID == "" {
		return nil, errors.New("serial: reference required")
	}
	return s.repo.ListAllocations(ctx, refType, refID)
}
