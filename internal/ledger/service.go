package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/stockd/stockd/internal/shared"
)

const stockEpsilon = 1e-4

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, itemID int64) (Item, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error)
	ListLowStock(ctx context.Context, limit int) ([]Item, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts posted transactions.
type MetricsPort interface {
	CountTransaction(txType string)
}

// Service is the single writer of item stock aggregates. Every mutation is
// paired with an immutable ledger entry inside one transaction, and writes to
// one item are serialized by a row lock on the item.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	metrics     MetricsPort
	allowNeg    bool
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, metrics MetricsPort, cfg ServiceConfig) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, metrics: metrics, allowNeg: cfg.AllowNegativeStock}
}

// RecordTransaction posts one stock movement and returns the created entry.
// Receipt-like types add the quantity magnitude, issue-like types subtract
// it, ADJUSTMENT and PHYSICAL_COUNT apply the signed quantity as-is. A
// movement that would drive stock negative fails with ErrInsufficientStock
// and leaves nothing applied.
func (s *Service) RecordTransaction(ctx context.Context, input RecordInput) (Entry, error) {
	if !input.Type.Valid() {
		return Entry{}, fmt.Errorf("%w: %q", ErrInvalidTransactionType, input.Type)
	}
	if math.Abs(input.Quantity) < stockEpsilon {
		return Entry{}, ErrInvalidQuantity
	}
	if input.UnitCost < 0 {
		return Entry{}, ErrInvalidUnitCost
	}
	if input.ItemID == 0 {
		return Entry{}, errors.New("ledger: item required")
	}
	if input.RefID != "" {
		if _, err := uuid.Parse(input.RefID); err != nil {
			return Entry{}, fmt.Errorf("ledger: invalid ref id: %w", err)
		}
	}

	insertedKey := false
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "ledger"); err != nil {
			return Entry{}, err
		}
		insertedKey = true
	}

	now := time.Now().UTC()
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItemForUpdate(ctx, input.ItemID)
		if err != nil {
			return err
		}

		delta := signedDelta(input.Type, input.Quantity)
		stockBefore := item.CurrentStock
		stockAfter := stockBefore + delta
		if math.Abs(stockAfter) < stockEpsilon {
			stockAfter = 0
		}
		if !s.allowNeg && stockAfter < -stockEpsilon {
			return fmt.Errorf("%w: item %d has %.4f on hand, movement of %.4f",
				ErrInsufficientStock, item.ID, stockBefore, delta)
		}

		unitCost := input.UnitCost
		avgCost := item.AverageCost
		lastPurchase := item.LastPurchaseCost
		switch {
		case input.Type.IsReceipt() && unitCost > 0:
			// Weighted-average recompute, guarded when the receipt lands on a
			// zero closing balance.
			if stockAfter > 0 {
				avgCost = (stockBefore*item.AverageCost + delta*unitCost) / stockAfter
			}
			if input.Type == TxPurchaseReceipt {
				lastPurchase = unitCost
			}
		case delta < 0 && unitCost == 0:
			// Issues are costed at the running average when the caller did
			// not supply a cost.
			unitCost = item.AverageCost
		}

		code, err := s.nextCode(ctx, tx, input.Type, now)
		if err != nil {
			return err
		}

		entry = Entry{
			Code:          code,
			ItemID:        item.ID,
			Type:          input.Type,
			Quantity:      delta,
			UnitCost:      unitCost,
			StockBefore:   stockBefore,
			StockAfter:    stockAfter,
			BatchID:       input.BatchID,
			SerialID:      input.SerialID,
			SrcLocationID: input.SrcLocationID,
			DstLocationID: input.DstLocationID,
			Note:          input.Note,
			RefModule:     input.RefModule,
			RefID:         input.RefID,
			PostedAt:      now,
			CreatedBy:     input.ActorID,
		}
		id, err := tx.InsertEntry(ctx, entry)
		if err != nil {
			return err
		}
		entry.ID = id

		return tx.UpdateItemAggregates(ctx, item.ID, stockAfter, avgCost, lastPurchase)
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return Entry{}, err
	}

	if s.metrics != nil {
		s.metrics.CountTransaction(string(input.Type))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   fmt.Sprintf("ledger:%s", input.Type),
			Entity:   "ledger_entry",
			EntityID: entry.Code,
			Meta: map[string]any{
				"item_id":     input.ItemID,
				"qty":         entry.Quantity,
				"stock_after": entry.StockAfter,
				"note":        input.Note,
			},
		})
	}
	return entry, nil
}

// GetItem returns one item with derived reserved stock.
func (s *Service) GetItem(ctx context.Context, itemID int64) (Item, error) {
	if itemID == 0 {
		return Item{}, ErrItemNotFound
	}
	return s.repo.GetItem(ctx, itemID)
}

// ListEntries lists ledger entries for one item.
func (s *Service) ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	if filter.ItemID == 0 {
		return nil, errors.New("ledger: item required")
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTransactionType, filter.Type)
	}
	return s.repo.ListEntries(ctx, filter)
}

// ListLowStock lists items at or below their reorder point.
func (s *Service) ListLowStock(ctx context.Context, limit int) ([]Item, error) {
	return s.repo.ListLowStock(ctx, limit)
}

func (s *Service) nextCode(ctx context.Context, tx TxRepository, txType TransactionType, at time.Time) (string, error) {
	prefix := typePrefix(txType)
	n, err := tx.NextDocCode(ctx, prefix, at.Year())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d-%06d", prefix, at.Year(), n), nil
}

func signedDelta(txType TransactionType, qty float64) float64 {
	d, _ := txType.direction()
	if d == 0 {
		return qty
	}
	return float64(d) * math.Abs(qty)
}

func typePrefix(t TransactionType) string {
	switch t {
	case TxPurchaseReceipt:
		return "PRC"
	case TxProductionReceipt:
		return "PDR"
	case TxReturnReceipt:
		return "RTR"
	case TxOpeningBalance:
		return "OPB"
	case TxTransferIn, TxTransferOut:
		return "TRF"
	case TxSalesIssue:
		return "SIS"
	case TxProductionIssue:
		return "PDI"
	case TxReturnIssue:
		return "RTI"
	case TxPhysicalCount:
		return "CNT"
	default:
		return "ADJ"
	}
}
