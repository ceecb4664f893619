package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stockd/stockd/internal/batch"
	"github.com/stockd/stockd/internal/ledger"
	"github.com/stockd/stockd/internal/shared"
)

const qtyEpsilon = 1e-4

// RepositoryPort abstracts persistence for the reservation service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Reservation, error)
	List(ctx context.Context, filter ListFilter) ([]Reservation, error)
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
}

// CostingPort supplies the unit cost frozen onto new reservations.
type CostingPort interface {
	EstimateUnitCost(ctx context.Context, itemID, locationID int64, method batch.CostMethod) (float64, error)
}

// LedgerPort posts the stock movement backing a consumed reservation.
type LedgerPort interface {
	RecordTransaction(ctx context.Context, input ledger.RecordInput) (ledger.Entry, error)
}

// AuditPort records reservation lifecycle events.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

// Service coordinates reservation lifecycle over the repository.
type Service struct {
	repo    RepositoryPort
	costing CostingPort
	ledger  LedgerPort
	audit   AuditPort
	ttl     time.Duration
}

// NewService constructs Service. ttl is the default hold duration applied
// when callers do not pass one.
func NewService(repo RepositoryPort, costing CostingPort, ldg LedgerPort, audit AuditPort, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &Service{repo: repo, costing: costing, ledger: ldg, audit: audit, ttl: ttl}
}

// Reserve places a hold after checking available-to-promise: on-hand stock
// minus every live hold for the same item and location. The unit cost is
// snapshotted at creation time using the requested costing method, so later
// price movements never change what a hold will issue at.
func (s *Service) Reserve(ctx context.Context, input ReserveInput) (Reservation, error) {
	if input.ItemID == 0 || input.LocationID == 0 {
		return Reservation{}, fmt.Errorf("%w: item and location required", ErrItemNotFound)
	}
	if input.Quantity <= 0 {
		return Reservation{}, ErrInvalidQuantity
	}
	if !input.Type.Valid() {
		return Reservation{}, fmt.Errorf("%w: %q", ErrInvalidType, input.Type)
	}
	method := batch.CostMethod(input.Method)
	if method == "" {
		method = batch.CostAverage
	}
	if !method.Valid() {
		return Reservation{}, fmt.Errorf("%w: unknown cost method %q", batch.ErrInvalidCostMethod, input.Method)
	}
	ttl := input.TTL
	if ttl <= 0 {
		ttl = s.ttl
	}

	unitCost := 0.0
	if s.costing != nil {
		cost, err := s.costing.EstimateUnitCost(ctx, input.ItemID, input.LocationID, method)
		if err != nil {
			return Reservation{}, err
		}
		unitCost = cost
	}

	now := time.Now().UTC()
	res := Reservation{
		ID:         uuid.New(),
		ItemID:     input.ItemID,
		LocationID: input.LocationID,
		Quantity:   input.Quantity,
		Type:       input.Type,
		Status:     StatusActive,
		CostMethod: string(method),
		UnitCost:   unitCost,
		RefModule:  input.RefModule,
		RefID:      input.RefID,
		Note:       input.Note,
		ReservedBy: input.ReservedBy,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		stock, err := tx.CurrentStock(ctx, input.ItemID)
		if err != nil {
			return err
		}
		reserved, err := tx.ActiveReservedQty(ctx, input.ItemID, input.LocationID, now)
		if err != nil {
			return err
		}
		atp := stock - reserved
		if input.Quantity > atp+qtyEpsilon {
			return fmt.Errorf("%w: item %d has %.4f available to promise, requested %.4f",
				ErrInsufficientAvailability, input.ItemID, atp, input.Quantity)
		}
		return tx.Insert(ctx, res)
	})
	if err != nil {
		return Reservation{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ReservedBy,
			Action:   "reservation:create",
			Entity:   "reservation",
			EntityID: res.ID.String(),
			Meta: map[string]any{
				"item_id":   res.ItemID,
				"qty":       res.Quantity,
				"unit_cost": res.UnitCost,
			},
		})
	}
	return res, nil
}

// Consume settles an active hold and posts the matching sales issue to the
// stock ledger at the frozen unit cost, returning the posted entry. The hold
// flips to CONSUMED first; if the ledger post then fails the flip is
// reverted so the hold stays usable.
func (s *Service) Consume(ctx context.Context, id uuid.UUID, actorID int64) (Reservation, ledger.Entry, error) {
	now := time.Now().UTC()
	var res Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !current.active(now) {
			return fmt.Errorf("%w: status is %s", ErrReservationNotActive, current.EffectiveStatus(now))
		}
		if err := tx.UpdateStatus(ctx, id, StatusConsumed, now, ""); err != nil {
			return err
		}
		res = current
		res.Status = StatusConsumed
		res.ReleasedAt = now
		return nil
	})
	if err != nil {
		return Reservation{}, ledger.Entry{}, err
	}

	entry, err := s.ledger.RecordTransaction(ctx, ledger.RecordInput{
		ItemID:         res.ItemID,
		Type:           ledger.TxSalesIssue,
		Quantity:       res.Quantity,
		UnitCost:       res.UnitCost,
		SrcLocationID:  res.LocationID,
		Note:           "reservation consumed",
		RefModule:      "reservation",
		RefID:          res.ID.String(),
		ActorID:        actorID,
		IdempotencyKey: "reservation-consume-" + res.ID.String(),
	})
	if err != nil {
		revertErr := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.UpdateStatus(ctx, id, StatusActive, time.Time{}, "")
		})
		if revertErr != nil {
			return Reservation{}, ledger.Entry{}, fmt.Errorf("reservation: issue failed (%w) and revert failed: %v", err, revertErr)
		}
		return Reservation{}, ledger.Entry{}, fmt.Errorf("reservation: posting issue: %w", err)
	}

	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusConsumed, now, entry.Code)
	}); err != nil {
		return Reservation{}, ledger.Entry{}, err
	}
	res.ConsumedCode = entry.Code

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "reservation:consume",
			Entity:   "reservation",
			EntityID: res.ID.String(),
			Meta:     map[string]any{"entry_code": entry.Code, "qty": res.Quantity},
		})
	}
	return res, entry, nil
}

// Cancel releases an active hold without posting any stock movement.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actorID int64) (Reservation, error) {
	now := time.Now().UTC()
	var res Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !current.active(now) {
			return fmt.Errorf("%w: status is %s", ErrReservationNotActive, current.EffectiveStatus(now))
		}
		if err := tx.UpdateStatus(ctx, id, StatusCancelled, now, ""); err != nil {
			return err
		}
		res = current
		res.Status = StatusCancelled
		res.ReleasedAt = now
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "reservation:cancel",
			Entity:   "reservation",
			EntityID: res.ID.String(),
		})
	}
	return res, nil
}

// Get loads one reservation with clock-based expiry folded into its status.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Reservation, error) {
	res, err := s.repo.Get(ctx, id)
	if err != nil {
		return Reservation{}, err
	}
	res.Status = res.EffectiveStatus(time.Now().UTC())
	return res, nil
}

// List returns reservations with effective statuses. The repository matches
// a status filter against the effective status, so stale ACTIVE rows past
// expiry list as EXPIRED and a filtered page is never starved by rows in
// other states.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Reservation, error) {
	rows, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for i := range rows {
		rows[i].Status = rows[i].EffectiveStatus(now)
	}
	return rows, nil
}

// SweepExpired persists EXPIRED onto stale ACTIVE rows and reports the count.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.repo.MarkExpired(ctx, time.Now().UTC())
}
