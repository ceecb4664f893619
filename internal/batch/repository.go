package batch

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists batches in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	GetBatchForUpdate(ctx context.Context, batchID int64) (Batch, error)
	UpdateConsumption(ctx context.Context, batchID int64, consumedQty float64, status Status) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction. Batch
// rows are serialised with FOR UPDATE locks; a blocked consumer waits for
// the lock holder instead of failing with a serialization error.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("batch repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const batchColumns = `id, number, item_id, location_id, COALESCE(supplier_id,0), purchase_date, purchase_price,
received_qty, consumed_qty, COALESCE(expiry_date, '0001-01-01'), status, created_at, updated_at`

// Insert stores a newly received lot.
func (r *Repository) Insert(ctx context.Context, b Batch) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO batches
(number, item_id, location_id, supplier_id, purchase_date, purchase_price, received_qty, consumed_qty, expiry_date, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,0,$8,$9,NOW(),NOW()) RETURNING id`,
		b.Number, b.ItemID, b.LocationID, nullInt(b.SupplierID), b.PurchaseDate, b.PurchasePrice,
		b.ReceivedQty, nullTime(b.ExpiryDate), string(b.Status)).Scan(&id)
	return id, err
}

// Get loads one batch.
func (r *Repository) Get(ctx context.Context, batchID int64) (Batch, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id=$1`, batchID)
	return scanBatch(row)
}

// List returns batches matching the filter. Sorting happens in the service so
// listing and costing share one deterministic ordering rule.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Batch, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+` FROM batches
WHERE ($1 = 0 OR item_id = $1)
  AND ($2 = 0 OR location_id = $2)
  AND ($3 = '' OR status = $3)
ORDER BY purchase_date ASC, id ASC
LIMIT $4`, filter.ItemID, filter.LocationID, string(filter.Status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

// ListForCosting returns every batch of one item/location for valuation.
func (r *Repository) ListForCosting(ctx context.Context, itemID, locationID int64) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+` FROM batches
WHERE item_id = $1 AND ($2 = 0 OR location_id = $2)
ORDER BY purchase_date ASC, id ASC`, itemID, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

// MarkExpired flips stored status of overdue ACTIVE batches, returning how
// many were touched. Reads stay correct without it; this keeps reports cheap.
func (r *Repository) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE batches SET status='EXPIRED', updated_at=NOW()
WHERE status='ACTIVE' AND expiry_date IS NOT NULL AND expiry_date < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *txRepository) GetBatchForUpdate(ctx context.Context, batchID int64) (Batch, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id=$1 FOR UPDATE`, batchID)
	return scanBatch(row)
}

func (r *txRepository) UpdateConsumption(ctx context.Context, batchID int64, consumedQty float64, status Status) error {
	_, err := r.tx.Exec(ctx, `UPDATE batches SET consumed_qty=$2, status=$3, updated_at=NOW() WHERE id=$1`,
		batchID, consumedQty, string(status))
	return err
}

func collect(rows pgx.Rows) ([]Batch, error) {
	batches := []Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.Number, &b.ItemID, &b.LocationID, &b.SupplierID, &b.PurchaseDate, &b.PurchasePrice,
		&b.ReceivedQty, &b.ConsumedQty, &b.ExpiryDate, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrBatchNotFound
		}
		return Batch{}, err
	}
	if b.ExpiryDate.Year() == 1 {
		b.ExpiryDate = time.Time{}
	}
	return b, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
