package state

import (
	"fmt"

	"github.com/holiman/uint256"

	fpmath "CDPLedger/internal/math"
)

// DistributionState is the single explicit home of all global mutable
// distribution figures, owned by the PositionLedger and mutated by exactly
// one in-flight operation at a time.
type DistributionState struct {
	// L-terms: cumulative per-stake-unit liquidation losses, monotonically
	// non-decreasing.
	LCollateral *uint256.Int
	LDebt       *uint256.Int

	// TotalStakes equals the sum of all active positions' stakes.
	TotalStakes *uint256.Int

	// Snapshots taken after each liquidation, used to keep new stakes
	// proportional as liquidations remove collateral without a 1:1 stake
	// adjustment.
	TotalStakesSnapshot     *uint256.Int
	TotalCollateralSnapshot *uint256.Int

	// Redistribution pool: collateral and debt folded into the L-terms but
	// not yet pulled into any surviving position.
	PendingCollateral *uint256.Int
	PendingDebt       *uint256.Int
}

func NewDistributionState() *DistributionState {
	return &DistributionState{
		LCollateral:             new(uint256.Int),
		LDebt:                   new(uint256.Int),
		TotalStakes:             new(uint256.Int),
		TotalStakesSnapshot:     new(uint256.Int),
		TotalCollateralSnapshot: new(uint256.Int),
		PendingCollateral:       new(uint256.Int),
		PendingDebt:             new(uint256.Int),
	}
}

// RewardDistributor converts liquidation remainders into global per-stake
// increments and lets each position realize its share lazily, so a
// liquidation never iterates dormant positions.
type RewardDistributor struct {
	state *DistributionState
}

func NewRewardDistributor(state *DistributionState) *RewardDistributor {
	return &RewardDistributor{state: state}
}

// Distribute folds a liquidation's unassigned (collateral, debt) remainder
// into the L-terms. TotalStakes must be positive: a liquidation only executes
// while at least one other active position exists, so a zero here is a broken
// invariant, not a condition to ignore.
func (rd *RewardDistributor) Distribute(collRemainder, debtRemainder *uint256.Int) error {
	if rd.state.TotalStakes.IsZero() {
		return ErrNoStakes
	}

	collPerStake, err := fpmath.MulDiv(collRemainder, fpmath.Scale, rd.state.TotalStakes)
	if err != nil {
		return fmt.Errorf("collateral per stake: %w", err)
	}
	debtPerStake, err := fpmath.MulDiv(debtRemainder, fpmath.Scale, rd.state.TotalStakes)
	if err != nil {
		return fmt.Errorf("debt per stake: %w", err)
	}

	rd.state.LCollateral.Add(rd.state.LCollateral, collPerStake)
	rd.state.LDebt.Add(rd.state.LDebt, debtPerStake)
	rd.state.PendingCollateral.Add(rd.state.PendingCollateral, collRemainder)
	rd.state.PendingDebt.Add(rd.state.PendingDebt, debtRemainder)
	return nil
}

// PendingCollateralReward returns the position's unrealized collateral share:
// stake * (LCollateral - snapshot) / Scale. Zero when the snapshot is
// current.
func (rd *RewardDistributor) PendingCollateralReward(pos *Position) (*uint256.Int, error) {
	return rd.pending(pos.Stake, rd.state.LCollateral, pos.SnapshotCollateral)
}

// PendingDebtReward returns the position's unrealized debt share.
func (rd *RewardDistributor) PendingDebtReward(pos *Position) (*uint256.Int, error) {
	return rd.pending(pos.Stake, rd.state.LDebt, pos.SnapshotDebt)
}

func (rd *RewardDistributor) pending(stake, current, snapshot *uint256.Int) (*uint256.Int, error) {
	if !current.Gt(snapshot) || stake.IsZero() {
		return new(uint256.Int), nil
	}
	lag := new(uint256.Int).Sub(current, snapshot)
	return fpmath.MulDiv(stake, lag, fpmath.Scale)
}

// HasPendingRewards reports whether ApplyPendingRewards would change the
// position's figures.
func (rd *RewardDistributor) HasPendingRewards(pos *Position) bool {
	if !pos.IsActive() {
		return false
	}
	return rd.state.LCollateral.Gt(pos.SnapshotCollateral) ||
		rd.state.LDebt.Gt(pos.SnapshotDebt)
}

// ApplyPendingRewards adds the pending amounts into the position's recorded
// debt and collateral, drains them from the redistribution pool, and
// refreshes the snapshot. Idempotent: a second consecutive call is a no-op.
// Returns the realized (collateral, debt) amounts so the caller can move
// them from pending to active totals.
func (rd *RewardDistributor) ApplyPendingRewards(pos *Position) (*uint256.Int, *uint256.Int, error) {
	if !rd.HasPendingRewards(pos) {
		return new(uint256.Int), new(uint256.Int), nil
	}

	pendColl, err := rd.PendingCollateralReward(pos)
	if err != nil {
		return nil, nil, err
	}
	pendDebt, err := rd.PendingDebtReward(pos)
	if err != nil {
		return nil, nil, err
	}

	pos.Collateral.Add(pos.Collateral, pendColl)
	pos.Debt.Add(pos.Debt, pendDebt)

	// Truncation can leave dust in the pool; never let it underflow.
	subClamped(rd.state.PendingCollateral, pendColl)
	subClamped(rd.state.PendingDebt, pendDebt)

	rd.UpdateSnapshot(pos)
	return pendColl, pendDebt, nil
}

// UpdateSnapshot pins the position's snapshot to the current L-terms.
func (rd *RewardDistributor) UpdateSnapshot(pos *Position) {
	pos.SnapshotCollateral.Set(rd.state.LCollateral)
	pos.SnapshotDebt.Set(rd.state.LDebt)
}

func subClamped(z, x *uint256.Int) {
	if z.Lt(x) {
		z.Clear()
		return
	}
	z.Sub(z, x)
}
