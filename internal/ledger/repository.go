package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	GetItemForUpdate(ctx context.Context, itemID int64) (Item, error)
	UpdateItemAggregates(ctx context.Context, itemID int64, stock, avgCost, lastPurchaseCost float64) error
	InsertEntry(ctx context.Context, entry Entry) (int64, error)
	NextDocCode(ctx context.Context, docType string, year int) (int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction. Item
// rows are serialised with explicit FOR UPDATE locks; read committed lets a
// post blocked on the item row or the doc_sequences counter continue once
// the lock holder commits instead of failing with a serialization error.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
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

const itemColumns = `id, code, name, item_type, current_stock,
COALESCE((SELECT SUM(qty) FROM reservations res WHERE res.item_id = items.id AND res.status='ACTIVE' AND res.expires_at > NOW()), 0),
minimum_stock, reorder_point, reorder_qty, standard_cost, average_cost, last_purchase_cost, active, updated_at`

// GetItem loads one item with its derived reserved stock.
func (r *Repository) GetItem(ctx context.Context, itemID int64) (Item, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1`, itemID)
	return scanItem(row)
}

// ListLowStock lists active items at or below their reorder point.
func (r *Repository) ListLowStock(ctx context.Context, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM items
WHERE active AND current_stock <= reorder_point
ORDER BY current_stock - reorder_point ASC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListEntries returns ledger entries for one item, oldest first.
func (r *Repository) ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, code, item_id, tx_type, qty, unit_cost, stock_before, stock_after,
COALESCE(batch_id,0), COALESCE(serial_id,0), COALESCE(src_location_id,0), COALESCE(dst_location_id,0),
note, ref_module, COALESCE(ref_id::text,''), posted_at, COALESCE(created_by,0)
FROM ledger_entries
WHERE item_id=$1
  AND ($2 = '' OR tx_type = $2)
  AND posted_at BETWEEN COALESCE($3, '-infinity') AND COALESCE($4, 'infinity')
ORDER BY posted_at ASC, id ASC
LIMIT $5`, filter.ItemID, string(filter.Type), nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Code, &e.ItemID, &e.Type, &e.Quantity, &e.UnitCost, &e.StockBefore, &e.StockAfter,
			&e.BatchID, &e.SerialID, &e.SrcLocationID, &e.DstLocationID, &e.Note, &e.RefModule, &e.RefID, &e.PostedAt, &e.CreatedBy); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *txRepository) GetItemForUpdate(ctx context.Context, itemID int64) (Item, error) {
	var item Item
	err := r.tx.QueryRow(ctx, `SELECT id, code, name, item_type, current_stock, minimum_stock, reorder_point, reorder_qty,
standard_cost, average_cost, last_purchase_cost, active, updated_at
FROM items WHERE id=$1 FOR UPDATE`, itemID).
		Scan(&item.ID, &item.Code, &item.Name, &item.Type, &item.CurrentStock, &item.MinimumStock, &item.ReorderPoint,
			&item.ReorderQuantity, &item.StandardCost, &item.AverageCost, &item.LastPurchaseCost, &item.Active, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return item, nil
}

func (r *txRepository) UpdateItemAggregates(ctx context.Context, itemID int64, stock, avgCost, lastPurchaseCost float64) error {
	_, err := r.tx.Exec(ctx, `UPDATE items SET current_stock=$2, average_cost=$3, last_purchase_cost=$4, updated_at=NOW()
WHERE id=$1`, itemID, stock, avgCost, lastPurchaseCost)
	return err
}

func (r *txRepository) InsertEntry(ctx context.Context, entry Entry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO ledger_entries
(code, item_id, tx_type, qty, unit_cost, stock_before, stock_after, batch_id, serial_id, src_location_id, dst_location_id, note, ref_module, ref_id, posted_at, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16) RETURNING id`,
		entry.Code, entry.ItemID, string(entry.Type), entry.Quantity, entry.UnitCost, entry.StockBefore, entry.StockAfter,
		nullInt(entry.BatchID), nullInt(entry.SerialID), nullInt(entry.SrcLocationID), nullInt(entry.DstLocationID),
		entry.Note, entry.RefModule, nullUUID(entry.RefID), entry.PostedAt, nullInt(entry.CreatedBy)).Scan(&id)
	return id, err
}

// NextDocCode increments and returns the per-(type, year) counter. The upsert
// keeps concurrent posts from minting duplicate codes without a global lock.
func (r *txRepository) NextDocCode(ctx context.Context, docType string, year int) (int64, error) {
	var n int64
	err := r.tx.QueryRow(ctx, `INSERT INTO doc_sequences (doc_type, year, counter)
VALUES ($1,$2,1)
ON CONFLICT (doc_type, year) DO UPDATE SET counter = doc_sequences.counter + 1
RETURNING counter`, docType, year).Scan(&n)
	return n, err
}

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	err := row.Scan(&item.ID, &item.Code, &item.Name, &item.Type, &item.CurrentStock, &item.ReservedStock,
		&item.MinimumStock, &item.ReorderPoint, &item.ReorderQuantity, &item.StandardCost, &item.AverageCost,
		&item.LastPurchaseCost, &item.Active, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return item, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullUUID(value string) any {
	if value == "" {
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
