package reservation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists reservations in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id uuid.UUID) (Reservation, error)
	Insert(ctx context.Context, res Reservation) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, releasedAt time.Time, consumedCode string) error
	ActiveReservedQty(ctx context.Context, itemID, locationID int64, now time.Time) (float64, error)
	CurrentStock(ctx context.Context, itemID int64) (float64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction. The
// available-to-promise check needs statement-level snapshots: after waiting
// on the item row lock it must see holds committed by the lock holder.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("reservation repository not initialised")
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

const reservationColumns = `id, item_id, location_id, qty, res_type, status, cost_method, unit_cost,
ref_module, COALESCE(ref_id,''), note, COALESCE(reserved_by,0), created_at, expires_at,
COALESCE(released_at, 'epoch'), COALESCE(consumed_code,'')`

// Get loads one reservation.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Reservation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id=$1`, id)
	return scanReservation(row)
}

// List returns reservations matching the filter, newest first. Status
// matches the effective status, so a stale ACTIVE row past expiry counts as
// EXPIRED; the predicate runs before the limit so filtered listings are not
// starved by rows in other states.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Reservation, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	now := time.Now().UTC()
	rows, err := r.pool.Query(ctx, `SELECT `+reservationColumns+` FROM reservations
WHERE ($1 = 0 OR item_id = $1)
  AND ($2 = 0 OR location_id = $2)
  AND ($3 = ''
    OR ($3 = 'ACTIVE' AND status = 'ACTIVE' AND expires_at > $4)
    OR ($3 = 'EXPIRED' AND (status = 'EXPIRED' OR (status = 'ACTIVE' AND expires_at <= $4)))
    OR ($3 NOT IN ('ACTIVE', 'EXPIRED') AND status = $3))
ORDER BY created_at DESC
LIMIT $5`, filter.ItemID, filter.LocationID, string(filter.Status), now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Reservation{}
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// MarkExpired flips ACTIVE reservations past their expiry to EXPIRED and
// returns how many rows it touched.
func (r *Repository) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE reservations
SET status='EXPIRED', released_at=$1
WHERE status='ACTIVE' AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *txRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (Reservation, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id=$1 FOR UPDATE`, id)
	return scanReservation(row)
}

func (r *txRepository) Insert(ctx context.Context, res Reservation) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO reservations
(id, item_id, location_id, qty, res_type, status, cost_method, unit_cost, ref_module, ref_id, note, reserved_by, created_at, expires_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		res.ID, res.ItemID, res.LocationID, res.Quantity, string(res.Type), string(res.Status), res.CostMethod,
		res.UnitCost, res.RefModule, nullString(res.RefID), res.Note, nullInt(res.ReservedBy), res.CreatedAt, res.ExpiresAt)
	return err
}

func (r *txRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, releasedAt time.Time, consumedCode string) error {
	_, err := r.tx.Exec(ctx, `UPDATE reservations
SET status=$2, released_at=$3, consumed_code=$4
WHERE id=$1`, id, string(status), nullTime(releasedAt), nullString(consumedCode))
	return err
}

// ActiveReservedQty sums quantity held by live reservations for the item at
// the location, excluding rows that are expired by the clock but not yet swept.
func (r *txRepository) ActiveReservedQty(ctx context.Context, itemID, locationID int64, now time.Time) (float64, error) {
	var qty float64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(qty), 0) FROM reservations
WHERE item_id=$1 AND ($2 = 0 OR location_id=$2) AND status='ACTIVE' AND expires_at > $3`,
		itemID, locationID, now).Scan(&qty)
	return qty, err
}

// CurrentStock reads on-hand stock and locks the item row, serialising
// concurrent availability checks for the same item. Callers must take this
// lock before summing active reservations.
func (r *txRepository) CurrentStock(ctx context.Context, itemID int64) (float64, error) {
	var stock float64
	err := r.tx.QueryRow(ctx, `SELECT current_stock FROM items WHERE id=$1 FOR UPDATE`, itemID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrItemNotFound
	}
	return stock, err
}

func scanReservation(row pgx.Row) (Reservation, error) {
	var res Reservation
	err := row.Scan(&res.ID, &res.ItemID, &res.LocationID, &res.Quantity, &res.Type, &res.Status, &res.CostMethod,
		&res.UnitCost, &res.RefModule, &res.RefID, &res.Note, &res.ReservedBy, &res.CreatedAt, &res.ExpiresAt,
		&res.ReleasedAt, &res.ConsumedCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reservation{}, ErrReservationNotFound
		}
		return Reservation{}, err
	}
	if res.ReleasedAt.Unix() == 0 {
		res.ReleasedAt = time.Time{}
	}
	return res, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullString(value string) any {
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
