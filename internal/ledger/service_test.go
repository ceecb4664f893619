package ledger

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	items   map[int64]Item
	entries []Entry
	seqs    map[string]int64
	nextID  int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo(items ...Item) *memoryRepo {
	r := &memoryRepo{items: make(map[int64]Item), seqs: make(map[string]int64)}
	for _, item := range items {
		r.items[item.ID] = item
	}
	return r
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := make(map[int64]Item, len(r.items))
	for k, v := range r.items {
		snapshot[k] = v
	}
	entriesLen := len(r.entries)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.items = snapshot
		r.entries = r.entries[:entriesLen]
		return err
	}
	return nil
}

func (r *memoryRepo) GetItem(ctx context.Context, itemID int64) (Item, error) {
	item, ok := r.items[itemID]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return item, nil
}

func (r *memoryRepo) ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	out := []Entry{}
	for _, e := range r.entries {
		if e.ItemID == filter.ItemID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListLowStock(ctx context.Context, limit int) ([]Item, error) {
	out := []Item{}
	for _, item := range r.items {
		if item.Active && item.CurrentStock <= item.ReorderPoint {
			out = append(out, item)
		}
	}
	return out, nil
}

func (tx *memoryTx) GetItemForUpdate(ctx context.Context, itemID int64) (Item, error) {
	return tx.repo.GetItem(ctx, itemID)
}

func (tx *memoryTx) UpdateItemAggregates(ctx context.Context, itemID int64, stock, avgCost, lastPurchaseCost float64) error {
	item := tx.repo.items[itemID]
	item.CurrentStock = stock
	item.AverageCost = avgCost
	item.LastPurchaseCost = lastPurchaseCost
	item.UpdatedAt = time.Now()
	tx.repo.items[itemID] = item
	return nil
}

func (tx *memoryTx) InsertEntry(ctx context.Context, entry Entry) (int64, error) {
	tx.repo.nextID++
	entry.ID = tx.repo.nextID
	tx.repo.entries = append(tx.repo.entries, entry)
	return entry.ID, nil
}

func (tx *memoryTx) NextDocCode(ctx context.Context, docType string, year int) (int64, error) {
	tx.repo.seqs[docType]++
	return tx.repo.seqs[docType], nil
}

func newTestService(items ...Item) (*Service, *memoryRepo) {
	repo := newMemoryRepo(items...)
	return NewService(repo, nil, nil, nil, ServiceConfig{}), repo
}

func TestRecordTransactionReceiptThenIssue(t *testing.T) {
	svc, repo := newTestService(Item{ID: 1, Code: "CMP-001", Active: true})
	ctx := context.Background()

	entry, err := svc.RecordTransaction(ctx, RecordInput{ItemID: 1, Type: TxPurchaseReceipt, Quantity: 10, UnitCost: 100})
	require.NoError(t, err)
	require.InDelta(t, 0.0, entry.StockBefore, 1e-9)
	require.InDelta(t, 10.0, entry.StockAfter, 1e-9)
	require.InDelta(t, 100.0, repo.items[1].AverageCost, 1e-9)
	require.InDelta(t, 100.0, repo.items[1].LastPurchaseCost, 1e-9)

	entry, err = svc.RecordTransaction(ctx, RecordInput{ItemID: 1, Type: TxProductionIssue, Quantity: 4})
	require.NoError(t, err)
	require.InDelta(t, 6.0, entry.StockAfter, 1e-9)
	require.InDelta(t, 100.0, entry.UnitCost, 1e-9, "issues are costed at the running average")
	require.InDelta(t, 100.0, repo.items[1].AverageCost, 1e-9, "issues leave the average untouched")

	_, err = svc.RecordTransaction(ctx, RecordInput{ItemID: 1, Type: TxSalesIssue, Quantity: 10})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.InDelta(t, 6.0, repo.items[1].CurrentStock, 1e-9, "failed movement applies nothing")
	require.Len(t, repo.entries, 2)
}

func TestWeightedAverageRecompute(t *testing.T) {
	svc, repo := newTestService(Item{ID: 1, Active: true})
	ctx := context.Background()

	_, err := svc.RecordTransaction(ctx, RecordInput{ItemID: 1, Type: TxPurchaseReceipt, Quantity: 10, UnitCost: 100})
	require.NoError(t, err)
	_, err = svc.RecordTransaction(ctx, RecordInput{ItemID: 1, Type: TxPurchaseReceipt, Quantity: 5, UnitCost: 130})
	require.NoError(t, err)

	// (10*100 + 5*130) / 15
	require.InDelta(t, 110.0, repo.items[1].AverageCost, 1e-9)
}

func TestReceiptWithoutCostKeepsAverage(t *testing.T) {
	svc, repo := newTestService(Item{ID: 1, Active: true, CurrentStock: 4, AverageCost: 75})
	ctx := context.Background()

	_, err := svc.RecordTransaction(ctx, RecordInput{ItemID: 1, Type: TxReturnReceipt, Quantity: 2})
	require.NoError(t, err)
	require.InDelta(t, 75.0, repo.items[1].AverageCost, 1e-9)
	require.InDelta(t, 6.0, repo.items[1].CurrentStock, 1e-9)
}

func TestAdjustmentUsesSignedQuantity(t *testing.T) {
	svc, repo := newTestService(Item{ID: 1, Active: true, CurrentStock: 10, AverageCost: 50})
	ctx := context.Background()

	entry, err := svc.RecordTransaction(ctx, RecordInput{ItemID: 1, Type: TxAdjustment, Quantity: -3})
	require.NoError(t, err)
	require.InDelta(t, -3.0, entry.Quantity, 1e-9)
	require.InDelta(t, 7.0, entry.StockAfter, 1e-9)
	require.InDelta(t, 50.0, repo.items[1].AverageCost, 1e-9, "adjustments never touch the average")

	entry, err = svc.RecordTransaction(ctx, RecordInput{ItemID: 1, Type: TxAdjustment, Quantity: 3, UnitCost: 90})
	require.NoError(t, err)
	require.InDelta(t, 10.0, entry.StockAfter, 1e-9)
	require.InDelta(t, 50.0, repo.items[1].AverageCost, 1e-9)
}

func TestStockChainMatchesEntries(t *testing.T) {
	svc, repo := newTestService(Item{ID: 1, Active: true})
	ctx := context.Background()

	moves := []RecordInput{
		{ItemID: 1, Type: TxOpeningBalance, Quantity: 3, UnitCost: 10},
		{ItemID: 1, Type: TxPurchaseReceipt, Quantity: 7, UnitCost: 12},
		{ItemID: 1, Type: TxSalesIssue, Quantity: 5},
		{ItemID: 1, Type: TxAdjustment, Quantity: -1},
		{ItemID: 1, Type: TxProductionReceipt, Quantity: 2, UnitCost: 11},
	}
	for _, m := range moves {
		_, err := svc.RecordTransaction(ctx, m)
		require.NoError(t, err)
	}

	prev := 0.0
	for i, e := range repo.entries {
		require.InDelta(t, prev, e.StockBefore, 1e-9, "entry %d", i)
		require.InDelta(t, prev+e.Quantity, e.StockAfter, 1e-9, "entry %d", i)
		require.GreaterOrEqual(t, e.StockAfter, 0.0)
		prev = e.StockAfter
	}
	require.InDelta(t, prev, repo.items[1].CurrentStock, 1e-9)
}

func TestRecordTransactionValidation(t *testing.T) {
	svc, _ := newTestService(Item{ID: 1, Active: true})
	ctx := context.Background()

	_, err := svc.RecordTransaction(ctx, RecordInput{ItemID: 1, Type: "TELEPORT", Quantity: 1})
	require.ErrorIs(t, err, ErrInvalidTransactionType)

	_, err = svc.RecordTransaction(ctx, RecordInput{ItemID: 1, Type: TxSalesIssue, Quantity: 0})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.RecordTransaction(ctx, RecordInput{ItemID: 1, Type: TxPurchaseReceipt, Quantity: 1, UnitCost: -5})
	require.ErrorIs(t, err, ErrInvalidUnitCost)

	_, err = svc.RecordTransaction(ctx, RecordInput{ItemID: 99, Type: TxPurchaseReceipt, Quantity: 1, UnitCost: 5})
	require.ErrorIs(t, err, ErrItemNotFound)
}

func TestTransactionCodesAreSequentialPerType(t *testing.T) {
	svc, repo := newTestService(Item{ID: 1, Active: true})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.RecordTransaction(ctx, RecordInput{ItemID: 1, Type: TxPurchaseReceipt, Quantity: 1, UnitCost: 1})
		require.NoError(t, err)
	}
	year := strconv.Itoa(time.Now().UTC().Year())
	require.Equal(t, "PRC-"+year+"-000001", repo.entries[0].Code)
	require.Equal(t, "PRC-"+year+"-000003", repo.entries[2].Code)
}
