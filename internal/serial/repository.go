package serial

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists serialised units and their allocations in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	ReserveUnit(ctx context.Context, unitID int64) (Unit, error)
	SetUnitStatus(ctx context.Context, unitID int64, status UnitStatus) error
	GetUnit(ctx context.Context, unitID int64) (Unit, error)
	InsertAllocation(ctx context.Context, alloc Allocation) (int64, error)
	GetAllocationForUpdate(ctx context.Context, allocationID int64) (Allocation, error)
	UpdateAllocationStatus(ctx context.Context, allocationID int64, status AllocationStatus, releasedAt time.Time) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction, so the
// status-conditional claim on a unit re-evaluates against the latest row
// after waiting out a concurrent claimer and reports the unit unavailable
// instead of failing with a serialization error.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("serial repository not initialised")
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

const unitColumns = `id, serial_number, item_id, location_id, COALESCE(batch_id,0), status, rating,
failure_count, unit_cost, COALESCE(warranty_start,'epoch'), COALESCE(warranty_end,'epoch'), note, updated_at`

// ListUnits returns units for an item, optionally narrowed to one location.
// Selection screens want RESERVED units visible, so both states are loaded.
func (r *Repository) ListUnits(ctx context.Context, itemID, locationID int64) ([]Unit, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+unitColumns+` FROM serial_units
WHERE item_id=$1
  AND ($2 = 0 OR location_id=$2)
  AND status IN ('AVAILABLE','RESERVED')
ORDER BY id ASC`, itemID, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	units := []Unit{}
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// GetUnit loads one unit.
func (r *Repository) GetUnit(ctx context.Context, unitID int64) (Unit, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+unitColumns+` FROM serial_units WHERE id=$1`, unitID)
	return scanUnit(row)
}

// GetAllocation loads one allocation.
func (r *Repository) GetAllocation(ctx context.Context, allocationID int64) (Allocation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+allocationColumns+` FROM serial_allocations WHERE id=$1`, allocationID)
	return scanAllocation(row)
}

// ListAllocations returns allocations for one reference.
func (r *Repository) ListAllocations(ctx context.Context, refType, refID string) ([]Allocation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+allocationColumns+` FROM serial_allocations
WHERE ref_type=$1 AND ref_id=$2
ORDER BY id ASC`, refType, refID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Allocation{}
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ReserveUnit flips one unit AVAILABLE -> RESERVED with a conditional update.
// Zero affected rows means the unit was taken (or gone) and the whole
// allocation must fail.
func (r *txRepository) ReserveUnit(ctx context.Context, unitID int64) (Unit, error) {
	row := r.tx.QueryRow(ctx, `UPDATE serial_units
SET status='RESERVED', updated_at=NOW()
WHERE id=$1 AND status='AVAILABLE'
RETURNING `+unitColumns, unitID)
	u, err := scanUnit(row)
	if errors.Is(err, ErrSerialNotFound) {
		return Unit{}, ErrSerialNotAvailable
	}
	return u, err
}

func (r *txRepository) SetUnitStatus(ctx context.Context, unitID int64, status UnitStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE serial_units SET status=$2, updated_at=NOW() WHERE id=$1`,
		unitID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSerialNotFound
	}
	return nil
}

func (r *txRepository) GetUnit(ctx context.Context, unitID int64) (Unit, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+unitColumns+` FROM serial_units WHERE id=$1 FOR UPDATE`, unitID)
	return scanUnit(row)
}

const allocationColumns = `a.id, a.unit_id, u.serial_number, a.ref_type, a.ref_id, a.reason,
a.technical_spec, a.unit_cost, COALESCE(a.warranty_start,'epoch'), COALESCE(a.warranty_end,'epoch'),
a.status, COALESCE(a.allocated_by,0), a.created_at, COALESCE(a.released_at,'epoch')`

func (r *txRepository) InsertAllocation(ctx context.Context, alloc Allocation) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO serial_allocations
(unit_id, ref_type, ref_id, reason, technical_spec, unit_cost, warranty_start, warranty_end, status, allocated_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		alloc.UnitID, alloc.RefType, alloc.RefID, alloc.Reason, alloc.TechnicalSpec, alloc.UnitCost,
		nullTime(alloc.WarrantyStart), nullTime(alloc.WarrantyEnd), string(alloc.Status),
		nullInt(alloc.AllocatedBy), alloc.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) GetAllocationForUpdate(ctx context.Context, allocationID int64) (Allocation, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+allocationColumns+` FROM serial_allocations a
JOIN serial_units u ON u.id = a.unit_id
WHERE a.id=$1 FOR UPDATE OF a`, allocationID)
	return scanAllocation(row)
}

func (r *txRepository) UpdateAllocationStatus(ctx context.Context, allocationID int64, status AllocationStatus, releasedAt time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE serial_allocations SET status=$2, released_at=$3 WHERE id=$1`,
		allocationID, string(status), nullTime(releasedAt))
	return err
}

func scanUnit(row pgx.Row) (Unit, error) {
	var u Unit
	err := row.Scan(&u.ID, &u.SerialNumber, &u.ItemID, &u.LocationID, &u.BatchID, &u.Status, &u.Rating,
		&u.FailureCount, &u.UnitCost, &u.WarrantyStart, &u.WarrantyEnd, &u.Note, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Unit{}, ErrSerialNotFound
		}
		return Unit{}, err
	}
	if u.WarrantyStart.Unix() == 0 {
		u.WarrantyStart = time.Time{}
	}
	if u.WarrantyEnd.Unix() == 0 {
		u.WarrantyEnd = time.Time{}
	}
	return u, nil
}

func scanAllocation(row pgx.Row) (Allocation, error) {
	var a Allocation
	err := row.Scan(&a.ID, &a.UnitID, &a.SerialNumber, &a.RefType, &a.RefID, &a.Reason, &a.TechnicalSpec,
		&a.UnitCost, &a.WarrantyStart, &a.WarrantyEnd, &a.Status, &a.AllocatedBy, &a.CreatedAt, &a.ReleasedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Allocation{}, ErrSerialNotFound
		}
		return Allocation{}, err
	}
	if a.WarrantyStart.Unix() == 0 {
		a.WarrantyStart = time.Time{}
	}
	if a.WarrantyEnd.Unix() == 0 {
		a.WarrantyEnd = time.Time{}
	}
	if a.ReleasedAt.Unix() == 0 {
		a.ReleasedAt = time.Time{}
	}
	return a, nil
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
