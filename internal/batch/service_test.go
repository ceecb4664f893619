package batch

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	batches      map[int64]Batch
	nextID       int64
	costingCalls int
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo(batches ...Batch) *memoryRepo {
	r := &memoryRepo{batches: make(map[int64]Batch)}
	for _, b := range batches {
		r.batches[b.ID] = b
		if b.ID > r.nextID {
			r.nextID = b.ID
		}
	}
	return r
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Insert(ctx context.Context, b Batch) (int64, error) {
	r.nextID++
	b.ID = r.nextID
	r.batches[b.ID] = b
	return b.ID, nil
}

func (r *memoryRepo) Get(ctx context.Context, batchID int64) (Batch, error) {
	b, ok := r.batches[batchID]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	return b, nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Batch, error) {
	out := []Batch{}
	for _, b := range r.batches {
		if filter.ItemID != 0 && b.ItemID != filter.ItemID {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (r *memoryRepo) ListForCosting(ctx context.Context, itemID, locationID int64) ([]Batch, error) {
	r.costingCalls++
	out := []Batch{}
	for _, b := range r.batches {
		if b.ItemID == itemID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *memoryRepo) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for id, b := range r.batches {
		if b.Status == StatusActive && !b.ExpiryDate.IsZero() && b.ExpiryDate.Before(now) {
			b.Status = StatusExpired
			r.batches[id] = b
			n++
		}
	}
	return n, nil
}

func (tx *memoryTx) GetBatchForUpdate(ctx context.Context, batchID int64) (Batch, error) {
	return tx.repo.Get(ctx, batchID)
}

func (tx *memoryTx) UpdateConsumption(ctx context.Context, batchID int64, consumedQty float64, status Status) error {
	b := tx.repo.batches[batchID]
	b.ConsumedQty = consumedQty
	b.Status = status
	tx.repo.batches[batchID] = b
	return nil
}

func TestConsume(t *testing.T) {
	repo := newMemoryRepo(Batch{ID: 1, Number: "LOT-A", ItemID: 1, LocationID: 1, ReceivedQty: 10, Status: StatusActive})
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	b, err := svc.Consume(ctx, 1, 4, 0)
	require.NoError(t, err)
	require.InDelta(t, 6.0, b.AvailableQty(), 1e-9)
	require.Equal(t, StatusActive, b.Status)

	_, err = svc.Consume(ctx, 1, 7, 0)
	require.ErrorIs(t, err, ErrBatchDepleted)
	require.InDelta(t, 4.0, repo.batches[1].ConsumedQty, 1e-9, "failed consumption applies nothing")

	b, err = svc.Consume(ctx, 1, 6, 0)
	require.NoError(t, err)
	require.Equal(t, StatusExhausted, b.Status)
	require.InDelta(t, 0.0, b.AvailableQty(), 1e-9)
}

func TestConsumeValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	ctx := context.Background()

	_, err := svc.Consume(ctx, 1, 0, 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Consume(ctx, 99, 1, 0)
	require.ErrorIs(t, err, ErrBatchNotFound)
}

func TestReceiveDefaults(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)

	b, err := svc.Receive(context.Background(), ReceiveInput{ItemID: 1, LocationID: 2, ReceivedQty: 5, PurchasePrice: 12})
	require.NoError(t, err)
	require.NotEmpty(t, b.Number)
	require.Equal(t, StatusActive, b.Status)
	require.False(t, b.PurchaseDate.IsZero())
	require.InDelta(t, 5.0, b.AvailableQty(), 1e-9)

	_, err = svc.Receive(context.Background(), ReceiveInput{ItemID: 1, LocationID: 2, ReceivedQty: 0})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, func()) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewCache(client, ttl), func() {
		_ = client.Close()
		mr.Close()
	}
}

func TestSummaryCachesUntilBump(t *testing.T) {
	repo := newMemoryRepo(
		Batch{ID: 1, ItemID: 7, LocationID: 1, PurchaseDate: day(0), PurchasePrice: 10, ReceivedQty: 10, Status: StatusActive},
	)
	cache, cleanup := newTestCache(t, time.Minute)
	defer cleanup()
	svc := NewService(repo, nil, cache)
	ctx := context.Background()

	first, err := svc.Summary(ctx, 7, 0)
	require.NoError(t, err)
	require.InDelta(t, 10.0, first.FIFOCost, 1e-9)

	_, err = svc.Summary(ctx, 7, 0)
	require.NoError(t, err)
	require.Equal(t, 1, repo.costingCalls, "second read is served from cache")

	_, err = svc.Receive(ctx, ReceiveInput{ItemID: 7, LocationID: 1, ReceivedQty: 5, PurchasePrice: 40})
	require.NoError(t, err)

	second, err := svc.Summary(ctx, 7, 0)
	require.NoError(t, err)
	require.Equal(t, 2, repo.costingCalls, "receive bumps the cache version")
	require.InDelta(t, 40.0, second.LastCost, 1e-9)
}

func TestSweepExpired(t *testing.T) {
	past := time.Now().UTC().Add(-24 * time.Hour)
	repo := newMemoryRepo(
		Batch{ID: 1, ItemID: 1, ReceivedQty: 5, Status: StatusActive, ExpiryDate: past},
		Batch{ID: 2, ItemID: 1, ReceivedQty: 5, Status: StatusActive},
	)
	svc := NewService(repo, nil, nil)

	n, err := svc.SweepExpired(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Equal(t, StatusExpired, repo.batches[1].Status)
	require.Equal(t, StatusActive, repo.batches[2].Status)
}
