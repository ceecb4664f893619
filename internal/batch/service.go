package batch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/stockd/stockd/internal/shared"
)

const qtyEpsilon = 1e-4

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Insert(ctx context.Context, b Batch) (int64, error)
	Get(ctx context.Context, batchID int64) (Batch, error)
	List(ctx context.Context, filter ListFilter) ([]Batch, error)
	ListForCosting(ctx context.Context, itemID, locationID int64) ([]Batch, error)
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns the batch store and answers valuation queries over it.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	cache *Cache
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cache *Cache) *Service {
	return &Service{repo: repo, audit: audit, cache: cache}
}

// Receive records a new lot. Received quantity and purchase price are frozen
// from here on; consumption is the only mutation path.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (Batch, error) {
	if input.ItemID == 0 || input.LocationID == 0 {
		return Batch{}, errors.New("batch: item and location required")
	}
	if input.ReceivedQty <= 0 {
		return Batch{}, ErrInvalidQuantity
	}
	if input.PurchasePrice < 0 {
		return Batch{}, ErrInvalidPrice
	}
	number := input.Number
	if number == "" {
		number = fmt.Sprintf("LOT-%d", time.Now().UTC().UnixNano())
	}
	purchaseDate := input.PurchaseDate
	if purchaseDate.IsZero() {
		purchaseDate = time.Now().UTC()
	}
	b := Batch{
		Number:        number,
		ItemID:        input.ItemID,
		LocationID:    input.LocationID,
		SupplierID:    input.SupplierID,
		PurchaseDate:  purchaseDate,
		PurchasePrice: input.PurchasePrice,
		ReceivedQty:   input.ReceivedQty,
		ExpiryDate:    input.ExpiryDate,
		Status:        StatusActive,
	}
	id, err := s.repo.Insert(ctx, b)
	if err != nil {
		return Batch{}, err
	}
	b.ID = id
	_ = s.cache.Bump(ctx)
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "batch:receive",
			Entity:   "batch",
			EntityID: b.Number,
			Meta: map[string]any{
				"item_id": b.ItemID,
				"qty":     b.ReceivedQty,
				"price":   b.PurchasePrice,
			},
		})
	}
	return b, nil
}

// Consume increases the lot's consumed quantity. ConsumedQty only ever grows;
// the batch flips to EXHAUSTED when nothing remains. Consumption beyond the
// available remainder fails with ErrBatchDepleted and applies nothing.
func (s *Service) Consume(ctx context.Context, batchID int64, qty float64, actorID int64) (Batch, error) {
	if qty <= 0 {
		return Batch{}, ErrInvalidQuantity
	}
	var out Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		available := b.AvailableQty()
		if qty > available+qtyEpsilon {
			return fmt.Errorf("%w: batch %s has %.4f available, requested %.4f",
				ErrBatchDepleted, b.Number, available, qty)
		}
		b.ConsumedQty += qty
		if math.Abs(b.AvailableQty()) < qtyEpsilon {
			b.ConsumedQty = b.ReceivedQty
			b.Status = StatusExhausted
		}
		if err := tx.UpdateConsumption(ctx, b.ID, b.ConsumedQty, b.Status); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return Batch{}, err
	}
	_ = s.cache.Bump(ctx)
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "batch:consume",
			Entity:   "batch",
			EntityID: out.Number,
			Meta:     map[string]any{"qty": qty, "remaining": out.AvailableQty()},
		})
	}
	return out, nil
}

// List returns batches with effective statuses and the requested ordering.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Batch, error) {
	batches, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for i := range batches {
		batches[i].Status = batches[i].EffectiveStatus(now)
	}
	sortBatches(batches, filter.SortBy)
	return batches, nil
}

// EstimateUnitCost is a pure read over the current batch store; it locks and
// reserves nothing. 0 means no batch could answer.
func (s *Service) EstimateUnitCost(ctx context.Context, itemID, locationID int64, method CostMethod) (float64, error) {
	if itemID == 0 {
		return 0, errors.New("batch: item required")
	}
	if !method.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCostMethod, method)
	}
	batches, err := s.repo.ListForCosting(ctx, itemID, locationID)
	if err != nil {
		return 0, err
	}
	return estimateUnitCost(batches, method, time.Now().UTC()), nil
}

// Summary reports all four costing conventions plus availability totals,
// served from the versioned cache when warm.
func (s *Service) Summary(ctx context.Context, itemID, locationID int64) (CostingSummary, error) {
	if itemID == 0 {
		return CostingSummary{}, errors.New("batch: item required")
	}
	key, err := s.cache.BuildKey(ctx, shared.CostingCacheKey(itemID, locationID))
	if err != nil {
		return CostingSummary{}, err
	}
	var summary CostingSummary
	err = s.cache.FetchJSON(ctx, key, &summary, func(ctx context.Context) (any, error) {
		batches, err := s.repo.ListForCosting(ctx, itemID, locationID)
		if err != nil {
			return nil, err
		}
		return summarize(itemID, locationID, batches, time.Now().UTC()), nil
	})
	if err != nil {
		return CostingSummary{}, err
	}
	return summary, nil
}

// Get loads one batch with its effective status.
func (s *Service) Get(ctx context.Context, batchID int64) (Batch, error) {
	b, err := s.repo.Get(ctx, batchID)
	if err != nil {
		return Batch{}, err
	}
	b.Status = b.EffectiveStatus(time.Now().UTC())
	return b, nil
}

// SweepExpired flips stored status of overdue lots for reporting efficiency.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.MarkExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		_ = s.cache.Bump(ctx)
	}
	return n, nil
}
