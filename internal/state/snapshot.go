package state

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"CDPLedger/internal/sorted"
)

// PositionRecord is a serializable position, amounts as decimal strings.
type PositionRecord struct {
	Owner              uuid.UUID `json:"owner"`
	Debt               string    `json:"debt"`
	Collateral         string    `json:"collateral"`
	Stake              string    `json:"stake"`
	Status             int32     `json:"status"`
	SnapshotCollateral string    `json:"snapshot_collateral"`
	SnapshotDebt       string    `json:"snapshot_debt"`
}

// LedgerSnapshot captures the full ledger state at one point in time.
// SortedIDs preserves the index order head to tail, so a restore rebuilds the
// list in linear time without re-deriving ranks.
type LedgerSnapshot struct {
	Positions []PositionRecord `json:"positions"`
	SortedIDs []uuid.UUID      `json:"sorted_ids"`

	LCollateral             string `json:"l_collateral"`
	LDebt                   string `json:"l_debt"`
	TotalStakes             string `json:"total_stakes"`
	TotalStakesSnapshot     string `json:"total_stakes_snapshot"`
	TotalCollateralSnapshot string `json:"total_collateral_snapshot"`
	PendingCollateral       string `json:"pending_collateral"`
	PendingDebt             string `json:"pending_debt"`

	TotalActiveCollateral string `json:"total_active_collateral"`
	TotalActiveDebt       string `json:"total_active_debt"`

	BaseRate               string    `json:"base_rate"`
	BorrowingSpread        string    `json:"borrowing_spread"`
	LiquidationProtocolFee string    `json:"liquidation_protocol_fee"`
	LastFeeOperation       time.Time `json:"last_fee_operation"`

	GlobalDelegates []uuid.UUID                 `json:"global_delegates"`
	Delegates       map[uuid.UUID][]uuid.UUID   `json:"delegates"`
}

// Snapshot serializes the ledger.
func (l *PositionLedger) Snapshot() *LedgerSnapshot {
	snap := &LedgerSnapshot{
		SortedIDs:               l.sorted.IDs(),
		LCollateral:             l.dist.LCollateral.Dec(),
		LDebt:                   l.dist.LDebt.Dec(),
		TotalStakes:             l.dist.TotalStakes.Dec(),
		TotalStakesSnapshot:     l.dist.TotalStakesSnapshot.Dec(),
		TotalCollateralSnapshot: l.dist.TotalCollateralSnapshot.Dec(),
		PendingCollateral:       l.dist.PendingCollateral.Dec(),
		PendingDebt:             l.dist.PendingDebt.Dec(),
		TotalActiveCollateral:   l.totalActiveCollateral.Dec(),
		TotalActiveDebt:         l.totalActiveDebt.Dec(),
		BaseRate:                l.fees.baseRate.Dec(),
		BorrowingSpread:         l.fees.borrowingSpread.Dec(),
		LiquidationProtocolFee:  l.fees.liquidationProtocolFee.Dec(),
		LastFeeOperation:        l.fees.lastFeeOperation,
		Delegates:               make(map[uuid.UUID][]uuid.UUID),
	}

	for owner, pos := range l.positions {
		snap.Positions = append(snap.Positions, PositionRecord{
			Owner:              owner,
			Debt:               pos.Debt.Dec(),
			Collateral:         pos.Collateral.Dec(),
			Stake:              pos.Stake.Dec(),
			Status:             int32(pos.Status),
			SnapshotCollateral: pos.SnapshotCollateral.Dec(),
			SnapshotDebt:       pos.SnapshotDebt.Dec(),
		})
	}
	for d := range l.globalDelegates {
		snap.GlobalDelegates = append(snap.GlobalDelegates, d)
	}
	for owner, ds := range l.delegates {
		for d := range ds {
			snap.Delegates[owner] = append(snap.Delegates[owner], d)
		}
	}
	return snap
}

// RestoreSnapshot loads a snapshot into an empty ledger. Must run before any
// command is accepted.
func (l *PositionLedger) RestoreSnapshot(snap *LedgerSnapshot) error {
	fields := []struct {
		dst *uint256.Int
		src string
	}{
		{l.dist.LCollateral, snap.LCollateral},
		{l.dist.LDebt, snap.LDebt},
		{l.dist.TotalStakes, snap.TotalStakes},
		{l.dist.TotalStakesSnapshot, snap.TotalStakesSnapshot},
		{l.dist.TotalCollateralSnapshot, snap.TotalCollateralSnapshot},
		{l.dist.PendingCollateral, snap.PendingCollateral},
		{l.dist.PendingDebt, snap.PendingDebt},
		{l.totalActiveCollateral, snap.TotalActiveCollateral},
		{l.totalActiveDebt, snap.TotalActiveDebt},
		{l.fees.baseRate, snap.BaseRate},
		{l.fees.borrowingSpread, snap.BorrowingSpread},
		{l.fees.liquidationProtocolFee, snap.LiquidationProtocolFee},
	}
	for _, f := range fields {
		v, err := uint256.FromDecimal(f.src)
		if err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
		f.dst.Set(v)
	}
	l.fees.lastFeeOperation = snap.LastFeeOperation

	for _, rec := range snap.Positions {
		pos := newPosition(rec.Owner)
		pos.Status = Status(rec.Status)
		for _, f := range []struct {
			dst *uint256.Int
			src string
		}{
			{pos.Debt, rec.Debt},
			{pos.Collateral, rec.Collateral},
			{pos.Stake, rec.Stake},
			{pos.SnapshotCollateral, rec.SnapshotCollateral},
			{pos.SnapshotDebt, rec.SnapshotDebt},
		} {
			v, err := uint256.FromDecimal(f.src)
			if err != nil {
				return fmt.Errorf("restore position %s: %w", rec.Owner, err)
			}
			f.dst.Set(v)
		}
		l.positions[rec.Owner] = pos
	}

	// Rebuild the index in recorded order; the previous id is an exact hint,
	// so each insert is O(1).
	prev := uuid.Nil
	for _, id := range snap.SortedIDs {
		nicr, ok := l.NominalICR(id)
		if !ok {
			return fmt.Errorf("restore sorted index: no active position %s", id)
		}
		if err := l.sorted.Insert(id, nicr, prev, uuid.Nil); err != nil {
			if err == sorted.ErrListFull {
				return err
			}
			return fmt.Errorf("restore sorted index: %w", err)
		}
		prev = id
	}

	for _, d := range snap.GlobalDelegates {
		l.globalDelegates[d] = true
	}
	for owner, ds := range snap.Delegates {
		l.delegates[owner] = make(map[uuid.UUID]bool, len(ds))
		for _, d := range ds {
			l.delegates[owner][d] = true
		}
	}
	return nil
}
