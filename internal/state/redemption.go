package state

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"CDPLedger/internal/event"
	fpmath "CDPLedger/internal/math"
)

// redemptionStep is one planned mutation of the redemption walk. The plan is
// computed read-only against live figures, validated as a whole, and only
// then applied, so a failing fee bound leaves every position untouched.
type redemptionStep struct {
	owner   uuid.UUID
	debtLot *uint256.Int
	collLot *uint256.Int

	full    bool
	surplus *uint256.Int // full redemption: collateral returned to the owner

	newColl *uint256.Int // partial redemption figures
	newDebt *uint256.Int
	newNICR *uint256.Int
}

// RedeemCollateral burns up to amount of the redeemer's debt tokens against
// the weakest eligible positions, paying out their collateral at face value.
// Eligible means ICR at or above 100%; weaker positions must be liquidated
// instead. partialNICR, when non-nil, must match the end state of a partially
// redeemed position or the walk stops before touching it. maxIterations of
// zero means unbounded.
func (l *PositionLedger) RedeemCollateral(redeemer uuid.UUID, amount *uint256.Int, firstHint, partialHintPrev, partialHintNext uuid.UUID, partialNICR *uint256.Int, maxIterations int, maxFeePercentage *uint256.Int) error {
	amount = orZero(amount)
	if amount.IsZero() {
		return ErrAmountIsZero
	}
	if maxFeePercentage == nil || maxFeePercentage.Lt(RedemptionSpreadFloor) || maxFeePercentage.Gt(fpmath.Scale) {
		return ErrMaxFeeOutOfRange
	}
	if l.debtToken.BalanceOf(redeemer).Lt(amount) {
		return ErrRedemptionExceedsBalance
	}

	price, err := l.price.Price()
	if err != nil {
		return fmt.Errorf("oracle: %w", err)
	}

	plan, totalRedeemed, collDrawn, err := l.planRedemption(amount, firstHint, partialNICR, maxIterations, price)
	if err != nil {
		return err
	}
	if totalRedeemed.IsZero() {
		return ErrUnableToRedeemAnyAmount
	}

	// Fee validation against the rate the redemption itself would set. The
	// base rate bump is committed only after the bounds hold.
	systemColl := l.SystemCollateral()
	newBaseRate, err := l.fees.redemptionBaseRate(collDrawn, systemColl)
	if err != nil {
		return err
	}
	fee, err := fpmath.ApplyPercent(collDrawn, l.fees.redemptionRateFor(newBaseRate))
	if err != nil {
		return err
	}
	if !fee.Lt(collDrawn) {
		return ErrFeeEatsUpAllReturnedCollateral
	}
	realizedPct, err := fpmath.MulDiv(fee, fpmath.Scale, collDrawn)
	if err != nil {
		return err
	}
	if realizedPct.Gt(maxFeePercentage) {
		return ErrFeeExceedsMaxFee
	}

	// Checks done; apply.
	l.fees.commitBaseRate(newBaseRate)
	l.emit(&event.BaseRateUpdated{BaseRate: newBaseRate.Dec()})

	if err := l.debtToken.Burn(redeemer, totalRedeemed); err != nil {
		return err
	}
	for _, step := range plan {
		if err := l.applyRedemptionStep(step, partialHintPrev, partialHintNext); err != nil {
			return err
		}
	}

	redeemerColl := new(uint256.Int).Sub(collDrawn, fee)
	if err := l.vault.Release(redeemer, redeemerColl); err != nil {
		return fmt.Errorf("release redeemed collateral: %w", err)
	}
	if err := l.vault.Release(l.feeRecipient, fee); err != nil {
		return fmt.Errorf("release redemption fee: %w", err)
	}

	l.emit(&event.Redemption{
		Redeemer:        redeemer,
		Attempted:       amount.Dec(),
		Redeemed:        totalRedeemed.Dec(),
		CollateralDrawn: collDrawn.Dec(),
		Fee:             fee.Dec(),
	})
	return nil
}

// planRedemption walks positions weakest-first and computes the mutation
// steps without touching state. Returns the plan, the debt actually
// redeemable, and the collateral drawn at face value.
func (l *PositionLedger) planRedemption(amount *uint256.Int, firstHint uuid.UUID, partialNICR *uint256.Int, maxIterations int, price *uint256.Int) ([]redemptionStep, *uint256.Int, *uint256.Int, error) {
	var plan []redemptionStep
	remaining := new(uint256.Int).Set(amount)
	collDrawn := new(uint256.Int)

	cur, ok := l.redemptionStart(firstHint, price)
	for ok && !remaining.IsZero() {
		if maxIterations > 0 && len(plan) >= maxIterations {
			break
		}
		pos := l.positions[cur]
		coll, debt, err := l.liveFigures(pos)
		if err != nil {
			return nil, nil, nil, err
		}

		step := redemptionStep{owner: cur, debtLot: new(uint256.Int)}
		if remaining.Lt(debt) {
			// Partial redemption of the last touched position. The walk
			// stops here whether or not the step survives its guards.
			step.debtLot.Set(remaining)
			step.collLot, err = fpmath.MulDiv(step.debtLot, fpmath.Scale, price)
			if err != nil {
				return nil, nil, nil, err
			}
			step.newDebt = new(uint256.Int).Sub(debt, step.debtLot)
			step.newColl = new(uint256.Int).Sub(coll, step.collLot)
			if step.newDebt.Lt(MinNetDebt) {
				break
			}
			step.newNICR, err = fpmath.NominalICR(step.newColl, step.newDebt)
			if err != nil {
				return nil, nil, nil, err
			}
			if partialNICR != nil && !step.newNICR.Eq(partialNICR) {
				break
			}
			plan = append(plan, step)
			collDrawn.Add(collDrawn, step.collLot)
			remaining.Clear()
			break
		}

		// Full redemption: the position's whole debt at face value, any
		// excess collateral back to its owner.
		step.full = true
		step.debtLot.Set(debt)
		step.collLot, err = fpmath.MulDiv(debt, fpmath.Scale, price)
		if err != nil {
			return nil, nil, nil, err
		}
		if step.collLot.Gt(coll) {
			// Undercollateralized despite the eligibility floor; truncation
			// artifact. Take everything, no surplus.
			step.collLot.Set(coll)
		}
		step.surplus = new(uint256.Int).Sub(coll, step.collLot)

		plan = append(plan, step)
		collDrawn.Add(collDrawn, step.collLot)
		remaining.Sub(remaining, step.debtLot)
		cur, ok = l.sorted.Prev(cur)
	}

	totalRedeemed := new(uint256.Int).Sub(amount, remaining)
	return plan, totalRedeemed, collDrawn, nil
}

// redemptionStart returns the weakest position at or above the eligibility
// floor. A valid firstHint short-circuits the scan from the bottom of the
// index.
func (l *PositionLedger) redemptionStart(firstHint uuid.UUID, price *uint256.Int) (uuid.UUID, bool) {
	if l.validFirstRedemptionHint(firstHint, price) {
		return firstHint, true
	}
	cur, ok := l.sorted.Last()
	for ok {
		icr, err := l.icrOf(cur, price)
		if err == nil && !icr.Lt(FullCollateralization) {
			return cur, true
		}
		cur, ok = l.sorted.Prev(cur)
	}
	return uuid.Nil, false
}

// validFirstRedemptionHint accepts the hint only when it is the true
// boundary: eligible itself, with its weaker neighbor (if any) ineligible.
func (l *PositionLedger) validFirstRedemptionHint(hint uuid.UUID, price *uint256.Int) bool {
	if hint == uuid.Nil || !l.sorted.Contains(hint) {
		return false
	}
	icr, err := l.icrOf(hint, price)
	if err != nil || icr.Lt(FullCollateralization) {
		return false
	}
	next, ok := l.sorted.Next(hint)
	if !ok {
		return true
	}
	nextICR, err := l.icrOf(next, price)
	return err == nil && nextICR.Lt(FullCollateralization)
}

func (l *PositionLedger) icrOf(id uuid.UUID, price *uint256.Int) (*uint256.Int, error) {
	pos, ok := l.positions[id]
	if !ok {
		return nil, ErrPositionNotActive
	}
	return l.CurrentICR(pos, price)
}

// applyRedemptionStep executes one planned step. Pending rewards are realized
// first, which reproduces exactly the live figures the plan was computed
// from.
func (l *PositionLedger) applyRedemptionStep(step redemptionStep, partialHintPrev, partialHintNext uuid.UUID) error {
	pos := l.positions[step.owner]
	if err := l.applyPendingRewards(pos); err != nil {
		return err
	}

	if step.full {
		l.totalActiveCollateral.Sub(l.totalActiveCollateral, pos.Collateral)
		l.totalActiveDebt.Sub(l.totalActiveDebt, pos.Debt)

		l.removeStake(pos)
		if err := l.sorted.Remove(pos.Owner); err != nil {
			panic(fmt.Sprintf("state: sorted remove of redeemed position: %v", err))
		}
		if !step.surplus.IsZero() {
			if err := l.vault.Release(pos.Owner, step.surplus); err != nil {
				return fmt.Errorf("release redemption surplus: %w", err)
			}
		}
		l.closeRecord(pos, StatusClosedByRedemption)
		l.emitPositionUpdated(pos)
		return nil
	}

	l.totalActiveCollateral.Sub(l.totalActiveCollateral, pos.Collateral)
	l.totalActiveCollateral.Add(l.totalActiveCollateral, step.newColl)
	l.totalActiveDebt.Sub(l.totalActiveDebt, pos.Debt)
	l.totalActiveDebt.Add(l.totalActiveDebt, step.newDebt)

	pos.Collateral.Set(step.newColl)
	pos.Debt.Set(step.newDebt)
	l.setStake(pos)
	if err := l.sorted.Reinsert(pos.Owner, step.newNICR, partialHintPrev, partialHintNext); err != nil {
		panic(fmt.Sprintf("state: sorted reinsert of redeemed position: %v", err))
	}
	l.emitPositionUpdated(pos)
	return nil
}
