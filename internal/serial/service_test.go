package serial

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	units       map[int64]Unit
	allocations map[int64]Allocation
	nextAllocID int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo(units ...Unit) *memoryRepo {
	r := &memoryRepo{units: map[int64]Unit{}, allocations: map[int64]Allocation{}}
	for _, u := range units {
		r.units[u.ID] = u
	}
	return r
}

func (r *memoryRepo) snapshot() memoryRepo {
	s := memoryRepo{
		units:       make(map[int64]Unit, len(r.units)),
		allocations: make(map[int64]Allocation, len(r.allocations)),
		nextAllocID: r.nextAllocID,
	}
	for k, v := range r.units {
		s.units[k] = v
	}
	for k, v := range r.allocations {
		s.allocations[k] = v
	}
	return s
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	before := r.snapshot()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		*r = before
		return err
	}
	return nil
}

func (r *memoryRepo) ListUnits(ctx context.Context, itemID, locationID int64) ([]Unit, error) {
	out := []Unit{}
	for _, u := range r.units {
		if u.ItemID != itemID {
			continue
		}
		if u.Status != StatusAvailable && u.Status != StatusReserved {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (r *memoryRepo) GetUnit(ctx context.Context, unitID int64) (Unit, error) {
	u, ok := r.units[unitID]
	if !ok {
		return Unit{}, ErrSerialNotFound
	}
	return u, nil
}

func (r *memoryRepo) GetAllocation(ctx context.Context, allocationID int64) (Allocation, error) {
	a, ok := r.allocations[allocationID]
	if !ok {
		return Allocation{}, ErrSerialNotFound
	}
	return a, nil
}

func (r *memoryRepo) ListAllocations(ctx context.Context, refType, refID string) ([]Allocation, error) {
	out := []Allocation{}
	for _, a := range r.allocations {
		if a.RefType == refType && a.RefID == refID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (tx *memoryTx) ReserveUnit(ctx context.Context, unitID int64) (Unit, error) {
	u, ok := tx.repo.units[unitID]
	if !ok || u.Status != StatusAvailable {
		return Unit{}, ErrSerialNotAvailable
	}
	u.Status = StatusReserved
	tx.repo.units[unitID] = u
	return u, nil
}

func (tx *memoryTx) SetUnitStatus(ctx context.Context, unitID int64, status UnitStatus) error {
	u, ok := tx.repo.units[unitID]
	if !ok {
		return ErrSerialNotFound
	}
	u.Status = status
	tx.repo.units[unitID] = u
	return nil
}

func (tx *memoryTx) GetUnit(ctx context.Context, unitID int64) (Unit, error) {
	return tx.repo.GetUnit(ctx, unitID)
}

func (tx *memoryTx) InsertAllocation(ctx context.Context, alloc Allocation) (int64, error) {
	tx.repo.nextAllocID++
	alloc.ID = tx.repo.nextAllocID
	tx.repo.allocations[alloc.ID] = alloc
	return alloc.ID, nil
}

func (tx *memoryTx) GetAllocationForUpdate(ctx context.Context, allocationID int64) (Allocation, error) {
	return tx.repo.GetAllocation(ctx, allocationID)
}

func (tx *memoryTx) UpdateAllocationStatus(ctx context.Context, allocationID int64, status AllocationStatus, releasedAt time.Time) error {
	a := tx.repo.allocations[allocationID]
	a.Status = status
	a.ReleasedAt = releasedAt
	tx.repo.allocations[allocationID] = a
	return nil
}

func future(days int) time.Time {
	return time.Now().UTC().AddDate(0, 0, days)
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to UnitStatus
		ok       bool
	}{
		{StatusAvailable, StatusReserved, true},
		{StatusReserved, StatusAvailable, true},
		{StatusReserved, StatusSold, true},
		{StatusSold, StatusReturned, true},
		{StatusReturned, StatusAvailable, true},
		{StatusDefective, StatusScrapped, true},
		{StatusSold, StatusAvailable, false},
		{StatusScrapped, StatusAvailable, false},
		{StatusAvailable, StatusReturned, false},
	}
	for _, tc := range cases {
		got, err := tc.from.Transition(tc.to)
		if tc.ok {
			require.NoError(t, err, "%s -> %s", tc.from, tc.to)
			require.Equal(t, tc.to, got)
		} else {
			require.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", tc.from, tc.to)
			require.Equal(t, tc.from, got)
		}
	}
}

func TestCompatibilityScore(t *testing.T) {
	require.Equal(t, 100, compatibilityScore(Unit{Rating: RatingExcellent}))
	require.Equal(t, 85, compatibilityScore(Unit{Rating: RatingGood}))
	require.Equal(t, 70, compatibilityScore(Unit{Rating: RatingFair}))
	require.Equal(t, 50, compatibilityScore(Unit{Rating: RatingPoor}))
	require.Equal(t, 70, compatibilityScore(Unit{Rating: RatingExcellent, FailureCount: 3}))
	require.Equal(t, 0, compatibilityScore(Unit{Rating: RatingPoor, FailureCount: 9}), "score never goes negative")
}

func TestRankCandidates(t *testing.T) {
	now := time.Now().UTC()
	units := []Unit{
		{ID: 1, Status: StatusReserved, Rating: RatingExcellent, WarrantyEnd: future(365)},
		{ID: 2, Status: StatusAvailable, Rating: RatingGood, WarrantyEnd: future(365)},
		{ID: 3, Status: StatusAvailable, Rating: RatingExcellent, WarrantyEnd: future(-10)},
		{ID: 4, Status: StatusAvailable, Rating: RatingExcellent, WarrantyEnd: future(365)},
		{ID: 5, Status: StatusAvailable, Rating: RatingExcellent, WarrantyEnd: future(15)},
	}
	ranked := rankCandidates(units, now)
	require.Len(t, ranked, 5)

	require.EqualValues(t, 4, ranked[0].ID, "full-warranty excellent unit first")
	require.Equal(t, AvailabilityOK, ranked[0].Availability)
	require.EqualValues(t, 5, ranked[1].ID, "expiring warranty still selectable")
	require.Equal(t, AvailabilityWarrantyExpiring, ranked[1].Availability)
	require.EqualValues(t, 3, ranked[2].ID, "expired warranty only labels the unit")
	require.Equal(t, AvailabilityWarrantyExpired, ranked[2].Availability)
	require.EqualValues(t, 2, ranked[3].ID, "lower score after higher")
	require.EqualValues(t, 1, ranked[4].ID, "reserved unit last")
	require.Equal(t, AvailabilityNotAvailable, ranked[4].Availability)
}

func TestRankCandidatesStatusBeatsWarranty(t *testing.T) {
	now := time.Now().UTC()
	units := []Unit{
		{ID: 1, SerialNumber: "SN-RESV", Status: StatusReserved, Rating: RatingExcellent, WarrantyEnd: future(365)},
		{ID: 2, SerialNumber: "SN-AVAIL", Status: StatusAvailable, Rating: RatingExcellent, WarrantyEnd: future(-30)},
	}
	ranked := rankCandidates(units, now)
	require.Len(t, ranked, 2)
	require.Equal(t, "SN-AVAIL", ranked[0].SerialNumber, "an available unit outranks a reserved one whatever its warranty")
	require.Equal(t, AvailabilityWarrantyExpired, ranked[0].Availability)
	require.Equal(t, "SN-RESV", ranked[1].SerialNumber)
}

func TestAllocateAllOrNothing(t *testing.T) {
	repo := newMemoryRepo(
		Unit{ID: 1, SerialNumber: "SN-001", ItemID: 1, Status: StatusAvailable, UnitCost: 900, WarrantyEnd: future(200)},
		Unit{ID: 2, SerialNumber: "SN-002", ItemID: 1, Status: StatusSold},
	)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.Allocate(ctx, AllocateInput{
		RefType: "work_order",
		RefID:   "WO-77",
		Requests: []AllocateRequest{
			{UnitID: 1, Reason: "line 1"},
			{UnitID: 2, Reason: "line 2"},
		},
	})
	require.ErrorIs(t, err, ErrSerialNotAvailable)
	require.Equal(t, StatusAvailable, repo.units[1].Status, "failed batch reserves nothing")
	require.Empty(t, repo.allocations)

	allocations, err := svc.Allocate(ctx, AllocateInput{
		RefType:  "work_order",
		RefID:    "WO-77",
		Requests: []AllocateRequest{{UnitID: 1, Reason: "line 1"}},
	})
	require.NoError(t, err)
	require.Len(t, allocations, 1)
	require.Equal(t, AllocationTentative, allocations[0].Status)
	require.Equal(t, "SN-001", allocations[0].SerialNumber)
	require.InDelta(t, 900.0, allocations[0].UnitCost, 1e-9)
	require.Equal(t, repo.units[1].WarrantyEnd, allocations[0].WarrantyEnd, "warranty window copied onto allocation")
	require.Equal(t, StatusReserved, repo.units[1].Status)
}

func TestAllocateRejectsDuplicateUnits(t *testing.T) {
	repo := newMemoryRepo(Unit{ID: 1, ItemID: 1, Status: StatusAvailable})
	svc := NewService(repo, nil, nil)

	_, err := svc.Allocate(context.Background(), AllocateInput{
		RefType:  "work_order",
		RefID:    "WO-1",
		Requests: []AllocateRequest{{UnitID: 1}, {UnitID: 1}},
	})
	require.Error(t, err)
	require.Equal(t, StatusAvailable, repo.units[1].Status)
}

func TestReleaseReturnsUnit(t *testing.T) {
	repo := newMemoryRepo(Unit{ID: 1, SerialNumber: "SN-001", ItemID: 1, Status: StatusAvailable})
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	allocations, err := svc.Allocate(ctx, AllocateInput{
		RefType:  "estimation",
		RefID:    "EST-5",
		Requests: []AllocateRequest{{UnitID: 1}},
	})
	require.NoError(t, err)

	released, err := svc.Release(ctx, allocations[0].ID, 0)
	require.NoError(t, err)
	require.Equal(t, AllocationReleased, released.Status)
	require.False(t, released.ReleasedAt.IsZero())
	require.Equal(t, StatusAvailable, repo.units[1].Status)

	_, err = svc.Release(ctx, allocations[0].ID, 0)
	require.ErrorIs(t, err, ErrInvalidTransition, "an allocation settles once")
}

func TestConfirmSellsUnit(t *testing.T) {
	repo := newMemoryRepo(Unit{ID: 1, ItemID: 1, Status: StatusAvailable})
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	allocations, err := svc.Allocate(ctx, AllocateInput{
		RefType:  "sales_order",
		RefID:    "SO-3",
		Requests: []AllocateRequest{{UnitID: 1}},
	})
	require.NoError(t, err)

	confirmed, err := svc.Confirm(ctx, allocations[0].ID, 0)
	require.NoError(t, err)
	require.Equal(t, AllocationConfirmed, confirmed.Status)
	require.Equal(t, StatusSold, repo.units[1].Status)

	_, err = svc.Release(ctx, allocations[0].ID, 0)
	require.ErrorIs(t, err, ErrInvalidTransition)
}
