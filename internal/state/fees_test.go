package state_test

import (
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"CDPLedger/internal/state"
	"CDPLedger/internal/testutil"
)

func newFeeEngine() (*state.FeeEngine, *testutil.Clock) {
	clock := testutil.NewClock()
	return state.NewFeeEngine(clock.Now), clock
}

// ============================================================================
// Test: base rate decay
// ============================================================================

func TestFeeEngine_StartsAtZero(t *testing.T) {
	fe, _ := newFeeEngine()
	if !fe.BaseRate().IsZero() {
		t.Errorf("fresh base rate = %s, want 0", fe.BaseRate().Dec())
	}
	if !fe.BorrowingRate().IsZero() {
		t.Errorf("fresh borrowing rate = %s, want 0", fe.BorrowingRate().Dec())
	}
	if want := state.RedemptionSpreadFloor; !fe.RedemptionRate().Eq(want) {
		t.Errorf("fresh redemption rate = %s, want spread floor %s", fe.RedemptionRate().Dec(), want.Dec())
	}
}

func TestFeeEngine_DecayHalvesOverTwelveHours(t *testing.T) {
	fe, clock := newFeeEngine()

	// Bump the rate by redeeming 10% of system collateral: bump = 10%/2 = 5%.
	if _, err := fe.RegisterRedemption(testutil.Eth(10), testutil.Eth(100)); err != nil {
		t.Fatalf("register redemption: %v", err)
	}
	before := fe.BaseRate()
	if want := testutil.Amount("50000000000000000"); !before.Eq(want) {
		t.Fatalf("base rate after bump = %s, want %s", before.Dec(), want.Dec())
	}

	clock.Advance(12 * time.Hour)
	after, changed, err := fe.DecayBaseRate()
	if err != nil {
		t.Fatalf("decay: %v", err)
	}
	if !changed {
		t.Error("decay after 12h must change the stored rate")
	}

	// Half-life tolerance: within 0.00001% of half the original.
	half := new(uint256.Int).Div(before, uint256.NewInt(2))
	diff := new(uint256.Int)
	if after.Gt(half) {
		diff.Sub(after, half)
	} else {
		diff.Sub(half, after)
	}
	if diff.Gt(testutil.Amount("10000000000")) {
		t.Errorf("rate after 12h = %s, want ~%s", after.Dec(), half.Dec())
	}
}

func TestFeeEngine_SubMinuteCallsDoNotDecay(t *testing.T) {
	fe, clock := newFeeEngine()
	if _, err := fe.RegisterRedemption(testutil.Eth(10), testutil.Eth(100)); err != nil {
		t.Fatalf("register redemption: %v", err)
	}
	before := fe.BaseRate()

	clock.Advance(30 * time.Second)
	after, changed, err := fe.DecayBaseRate()
	if err != nil {
		t.Fatalf("decay: %v", err)
	}
	if changed {
		t.Error("sub-minute decay must be a no-op")
	}
	if !after.Eq(before) {
		t.Errorf("rate changed from %s to %s within one minute", before.Dec(), after.Dec())
	}
}

// ============================================================================
// Test: redemption bump
// ============================================================================

func TestFeeEngine_RedemptionBumpProportionalToDrawn(t *testing.T) {
	fe, _ := newFeeEngine()

	// Redeem 50% of collateral: bump = 50%/2 = 25%.
	got, err := fe.RegisterRedemption(testutil.Eth(50), testutil.Eth(100))
	if err != nil {
		t.Fatalf("register redemption: %v", err)
	}
	if want := testutil.Amount("250000000000000000"); !got.Eq(want) {
		t.Errorf("base rate = %s, want %s", got.Dec(), want.Dec())
	}
}

func TestFeeEngine_BaseRateCappedAtScale(t *testing.T) {
	fe, _ := newFeeEngine()

	for i := 0; i < 5; i++ {
		if _, err := fe.RegisterRedemption(testutil.Eth(100), testutil.Eth(100)); err != nil {
			t.Fatalf("register redemption %d: %v", i, err)
		}
	}
	if fe.BaseRate().Gt(testutil.Amount("1000000000000000000")) {
		t.Errorf("base rate %s exceeds 100%%", fe.BaseRate().Dec())
	}
}

// ============================================================================
// Test: rate bounds and admin setters
// ============================================================================

func TestFeeEngine_BorrowingRateCap(t *testing.T) {
	fe, _ := newFeeEngine()

	if err := fe.SetBorrowingSpread(state.MaxBorrowingSpread); err != nil {
		t.Fatalf("set spread: %v", err)
	}
	// Push the base rate far above the cap.
	if _, err := fe.RegisterRedemption(testutil.Eth(100), testutil.Eth(100)); err != nil {
		t.Fatalf("register redemption: %v", err)
	}
	if got := fe.BorrowingRate(); !got.Eq(state.MaxBorrowingRate) {
		t.Errorf("borrowing rate = %s, want cap %s", got.Dec(), state.MaxBorrowingRate.Dec())
	}
}

func TestFeeEngine_SetBorrowingSpreadBounds(t *testing.T) {
	fe, _ := newFeeEngine()

	tooBig := new(uint256.Int).AddUint64(state.MaxBorrowingSpread, 1)
	if err := fe.SetBorrowingSpread(tooBig); !errors.Is(err, state.ErrBorrowingSpreadExceedsMax) {
		t.Errorf("got %v, want ErrBorrowingSpreadExceedsMax", err)
	}
	if err := fe.SetBorrowingSpread(state.MaxBorrowingSpread); err != nil {
		t.Errorf("max spread should be accepted: %v", err)
	}
}

func TestFeeEngine_SetLiquidationProtocolFeeBounds(t *testing.T) {
	fe, _ := newFeeEngine()

	tooBig := new(uint256.Int).AddUint64(state.MaxLiquidationProtocolFee, 1)
	if err := fe.SetLiquidationProtocolFee(tooBig); !errors.Is(err, state.ErrLiquidationProtocolFeeOutOfBound) {
		t.Errorf("got %v, want ErrLiquidationProtocolFeeOutOfBound", err)
	}
	if err := fe.SetLiquidationProtocolFee(state.MaxLiquidationProtocolFee); err != nil {
		t.Errorf("max fee should be accepted: %v", err)
	}
	if !fe.LiquidationProtocolFee().Eq(state.MaxLiquidationProtocolFee) {
		t.Errorf("stored fee = %s", fe.LiquidationProtocolFee().Dec())
	}
}

func TestFeeEngine_BorrowingFee(t *testing.T) {
	fe, _ := newFeeEngine()
	if err := fe.SetBorrowingSpread(state.MaxBorrowingSpread); err != nil {
		t.Fatalf("set spread: %v", err)
	}
	// 1% of 3000
	fee, err := fe.BorrowingFee(testutil.Eth(3000))
	if err != nil {
		t.Fatalf("borrowing fee: %v", err)
	}
	if want := testutil.Eth(30); !fee.Eq(want) {
		t.Errorf("fee = %s, want %s", fee.Dec(), want.Dec())
	}
}
