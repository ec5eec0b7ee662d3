package state

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	fpmath "CDPLedger/internal/math"
)

// FeeEngine derives borrowing and redemption fees from a time-decayed base
// rate. The rate decays toward zero with a 12-hour half-life and is bumped by
// redemptions in proportion to the fraction of system collateral redeemed,
// which makes rapid repeated redemption arbitrage progressively expensive.
type FeeEngine struct {
	baseRate               *uint256.Int
	borrowingSpread        *uint256.Int
	redemptionSpread       *uint256.Int
	liquidationProtocolFee *uint256.Int

	lastFeeOperation time.Time
	now              func() time.Time
}

func NewFeeEngine(now func() time.Time) *FeeEngine {
	if now == nil {
		now = time.Now
	}
	return &FeeEngine{
		baseRate:               new(uint256.Int),
		borrowingSpread:        new(uint256.Int),
		redemptionSpread:       new(uint256.Int).Set(RedemptionSpreadFloor),
		liquidationProtocolFee: new(uint256.Int),
		lastFeeOperation:       now(),
		now:                    now,
	}
}

// minutesSinceLastFeeOp floors to whole minutes, so repeated sub-minute calls
// observe the same elapsed time and cannot double-decay.
func (fe *FeeEngine) minutesSinceLastFeeOp() uint64 {
	elapsed := fe.now().Sub(fe.lastFeeOperation)
	if elapsed <= 0 {
		return 0
	}
	return uint64(elapsed / time.Minute)
}

func (fe *FeeEngine) decayedBaseRate() (*uint256.Int, error) {
	minutes := fe.minutesSinceLastFeeOp()
	if minutes == 0 {
		return new(uint256.Int).Set(fe.baseRate), nil
	}
	decay, err := fpmath.DecPow(MinuteDecayFactor, minutes)
	if err != nil {
		return nil, fmt.Errorf("decay factor: %w", err)
	}
	return fpmath.MulScale(fe.baseRate, decay)
}

// touchLastFeeOp records the fee operation time, but only once a whole
// minute has passed, matching the floor in minutesSinceLastFeeOp.
func (fe *FeeEngine) touchLastFeeOp() {
	if fe.minutesSinceLastFeeOp() > 0 {
		fe.lastFeeOperation = fe.now()
	}
}

// DecayBaseRate writes back the decayed base rate. Called by every
// fee-generating borrow operation. Reports whether the stored rate changed.
func (fe *FeeEngine) DecayBaseRate() (*uint256.Int, bool, error) {
	decayed, err := fe.decayedBaseRate()
	if err != nil {
		return nil, false, err
	}
	changed := !decayed.Eq(fe.baseRate)
	fe.baseRate.Set(decayed)
	fe.touchLastFeeOp()
	return new(uint256.Int).Set(fe.baseRate), changed, nil
}

// redemptionBaseRate computes, without committing, the base rate a redemption
// of collDrawn would leave behind: the decayed rate bumped by
// (collDrawn / totalCollateral) / Beta, capped at 100%. totalCollateral is the
// system collateral before the redemption.
func (fe *FeeEngine) redemptionBaseRate(collDrawn, totalCollateral *uint256.Int) (*uint256.Int, error) {
	decayed, err := fe.decayedBaseRate()
	if err != nil {
		return nil, err
	}

	fraction, err := fpmath.MulDiv(collDrawn, fpmath.Scale, totalCollateral)
	if err != nil {
		return nil, fmt.Errorf("redeemed fraction: %w", err)
	}
	bump := fraction.Div(fraction, uint256.NewInt(Beta))

	newRate := new(uint256.Int).Add(decayed, bump)
	if newRate.Gt(fpmath.Scale) {
		newRate.Set(fpmath.Scale)
	}
	return newRate, nil
}

// commitBaseRate writes back a rate previously computed by
// redemptionBaseRate, once the caller has validated the resulting fee.
func (fe *FeeEngine) commitBaseRate(rate *uint256.Int) {
	fe.baseRate.Set(rate)
	fe.touchLastFeeOp()
}

// RegisterRedemption bumps the decayed base rate and writes it back.
func (fe *FeeEngine) RegisterRedemption(collDrawn, totalCollateral *uint256.Int) (*uint256.Int, error) {
	newRate, err := fe.redemptionBaseRate(collDrawn, totalCollateral)
	if err != nil {
		return nil, err
	}
	fe.commitBaseRate(newRate)
	return new(uint256.Int).Set(fe.baseRate), nil
}

// redemptionRateFor returns min(rate + redemptionSpread, 100%) for a
// hypothetical base rate.
func (fe *FeeEngine) redemptionRateFor(baseRate *uint256.Int) *uint256.Int {
	rate := new(uint256.Int).Add(baseRate, fe.redemptionSpread)
	return fpmath.Min(rate, fpmath.Scale)
}

// BorrowingRate returns min(borrowingSpread + baseRate, 5%).
func (fe *FeeEngine) BorrowingRate() *uint256.Int {
	rate := new(uint256.Int).Add(fe.borrowingSpread, fe.baseRate)
	return fpmath.Min(rate, MaxBorrowingRate)
}

// BorrowingFee returns debt * borrowingRate, truncated.
func (fe *FeeEngine) BorrowingFee(debt *uint256.Int) (*uint256.Int, error) {
	return fpmath.ApplyPercent(debt, fe.BorrowingRate())
}

// RedemptionRate returns min(baseRate + redemptionSpread, 100%).
func (fe *FeeEngine) RedemptionRate() *uint256.Int {
	rate := new(uint256.Int).Add(fe.baseRate, fe.redemptionSpread)
	return fpmath.Min(rate, fpmath.Scale)
}

// RedemptionFee returns collDrawn * redemptionRate, truncated. Truncation
// rounds the fee down, slightly favoring the redeemer over the fee
// recipient; solvency is unaffected either way.
func (fe *FeeEngine) RedemptionFee(collDrawn *uint256.Int) (*uint256.Int, error) {
	return fpmath.ApplyPercent(collDrawn, fe.RedemptionRate())
}

// SetBorrowingSpread is privileged; spread is bounded by MaxBorrowingSpread.
func (fe *FeeEngine) SetBorrowingSpread(spread *uint256.Int) error {
	if spread.Gt(MaxBorrowingSpread) {
		return ErrBorrowingSpreadExceedsMax
	}
	fe.borrowingSpread.Set(spread)
	return nil
}

// SetLiquidationProtocolFee is privileged; the fee is bounded by
// MaxLiquidationProtocolFee.
func (fe *FeeEngine) SetLiquidationProtocolFee(fee *uint256.Int) error {
	if fee.Gt(MaxLiquidationProtocolFee) {
		return ErrLiquidationProtocolFeeOutOfBound
	}
	fe.liquidationProtocolFee.Set(fee)
	return nil
}

func (fe *FeeEngine) BaseRate() *uint256.Int {
	return new(uint256.Int).Set(fe.baseRate)
}

func (fe *FeeEngine) BorrowingSpread() *uint256.Int {
	return new(uint256.Int).Set(fe.borrowingSpread)
}

func (fe *FeeEngine) LiquidationProtocolFee() *uint256.Int {
	return new(uint256.Int).Set(fe.liquidationProtocolFee)
}

func (fe *FeeEngine) LastFeeOperation() time.Time {
	return fe.lastFeeOperation
}
