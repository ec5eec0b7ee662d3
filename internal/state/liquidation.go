package state

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"CDPLedger/internal/event"
	fpmath "CDPLedger/internal/math"
)

// liquidationTally accumulates the aggregate figures of one liquidation call.
type liquidationTally struct {
	positions       int
	totalDebt       *uint256.Int
	totalCollateral *uint256.Int
	gasCompensation *uint256.Int
	protocolFee     *uint256.Int
}

func newLiquidationTally() *liquidationTally {
	return &liquidationTally{
		totalDebt:       new(uint256.Int),
		totalCollateral: new(uint256.Int),
		gasCompensation: new(uint256.Int),
		protocolFee:     new(uint256.Int),
	}
}

// Liquidate seizes a single undercollateralized position. The liquidator
// receives the gas compensation slice, the fee recipient the protocol slice,
// and the remainder is redistributed to surviving positions via the L-terms.
func (l *PositionLedger) Liquidate(liquidator, owner uuid.UUID) error {
	pos, ok := l.positions[owner]
	if !ok || !pos.IsActive() {
		return ErrNothingToLiquidate
	}
	if l.sorted.Size() <= 1 {
		return ErrOnlyOnePositionInSystem
	}

	price, err := l.price.Price()
	if err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	if err := l.applyPendingRewards(pos); err != nil {
		return err
	}

	icr, err := fpmath.ICR(pos.Collateral, price, pos.Debt)
	if err != nil {
		return err
	}
	if !icr.Lt(MCR) {
		return ErrNothingToLiquidate
	}

	tally := newLiquidationTally()
	if err := l.liquidatePosition(pos, liquidator, tally); err != nil {
		return err
	}

	l.updateSystemSnapshots()
	l.emitLiquidation(liquidator, tally)
	return nil
}

// BatchLiquidate walks the given owners and liquidates every one that is
// active and below MCR, skipping the rest. Fails only when nothing at all
// was liquidatable.
func (l *PositionLedger) BatchLiquidate(liquidator uuid.UUID, owners []uuid.UUID) error {
	price, err := l.price.Price()
	if err != nil {
		return fmt.Errorf("oracle: %w", err)
	}

	tally := newLiquidationTally()
	for _, owner := range owners {
		pos, ok := l.positions[owner]
		if !ok || !pos.IsActive() {
			continue
		}
		// The last survivor must stand; later entries cannot change that.
		if l.sorted.Size() <= 1 {
			break
		}
		if err := l.applyPendingRewards(pos); err != nil {
			return err
		}
		icr, err := fpmath.ICR(pos.Collateral, price, pos.Debt)
		if err != nil {
			return err
		}
		if !icr.Lt(MCR) {
			continue
		}
		if err := l.liquidatePosition(pos, liquidator, tally); err != nil {
			return err
		}
	}

	if tally.positions == 0 {
		return ErrNothingToLiquidate
	}

	l.updateSystemSnapshots()
	l.emitLiquidation(liquidator, tally)
	return nil
}

// liquidatePosition executes the seizure of one position whose eligibility
// the caller has already established: splits the collateral into gas
// compensation, protocol fee, and redistribution remainder, removes the
// position from the index and stake sum, and folds the remainder into the
// L-terms.
func (l *PositionLedger) liquidatePosition(pos *Position, liquidator uuid.UUID, tally *liquidationTally) error {
	coll := new(uint256.Int).Set(pos.Collateral)
	debt := new(uint256.Int).Set(pos.Debt)

	gasComp := new(uint256.Int).Div(coll, uint256.NewInt(GasCompensationDivisor))
	remainder := new(uint256.Int).Sub(coll, gasComp)
	protocolFee, err := fpmath.ApplyPercent(remainder, l.fees.LiquidationProtocolFee())
	if err != nil {
		return err
	}
	redistColl := remainder.Sub(remainder, protocolFee)

	// The liquidated stake must leave the sum before the remainder is
	// divided, or the position would earn a share of its own seizure.
	l.removeStake(pos)
	if err := l.sorted.Remove(pos.Owner); err != nil {
		panic(fmt.Sprintf("state: sorted remove of liquidated position: %v", err))
	}

	l.totalActiveCollateral.Sub(l.totalActiveCollateral, coll)
	l.totalActiveDebt.Sub(l.totalActiveDebt, debt)

	if err := l.rewards.Distribute(redistColl, debt); err != nil {
		return err
	}
	l.emit(&event.LTermsUpdated{
		LCollateral: l.dist.LCollateral.Dec(),
		LDebt:       l.dist.LDebt.Dec(),
	})

	if err := l.vault.Release(liquidator, gasComp); err != nil {
		return fmt.Errorf("release gas compensation: %w", err)
	}
	if !protocolFee.IsZero() {
		if err := l.vault.Release(l.feeRecipient, protocolFee); err != nil {
			return fmt.Errorf("release protocol fee: %w", err)
		}
	}

	l.closeRecord(pos, StatusClosedByLiquidation)
	l.emit(&event.PositionLiquidated{
		Owner:      pos.Owner,
		Collateral: coll.Dec(),
		Debt:       debt.Dec(),
	})
	l.emitPositionUpdated(pos)

	tally.positions++
	tally.totalDebt.Add(tally.totalDebt, debt)
	tally.totalCollateral.Add(tally.totalCollateral, coll)
	tally.gasCompensation.Add(tally.gasCompensation, gasComp)
	tally.protocolFee.Add(tally.protocolFee, protocolFee)
	return nil
}

func (l *PositionLedger) emitLiquidation(liquidator uuid.UUID, tally *liquidationTally) {
	l.emit(&event.Liquidation{
		Liquidator:      liquidator,
		Positions:       tally.positions,
		TotalDebt:       tally.totalDebt.Dec(),
		TotalCollateral: tally.totalCollateral.Dec(),
		GasCompensation: tally.gasCompensation.Dec(),
		ProtocolFee:     tally.protocolFee.Dec(),
	})
}
