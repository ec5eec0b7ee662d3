package state_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"CDPLedger/internal/state"
	"CDPLedger/internal/testutil"
)

// riskyAndHealthy opens a position that goes below MCR once the price drops
// to 1400, and one that stays safely above it.
func riskyAndHealthy(t *testing.T, f *testutil.Fixture) (risky, healthy uuid.UUID) {
	t.Helper()
	// At 2000: ICR 1.54. At 1400: ICR 1.077 < 1.1.
	risky = f.OpenPosition(t, testutil.Eth(10), testutil.Eth(13000))
	// At 1400: ICR 1.4.
	healthy = f.OpenPosition(t, testutil.Eth(10), testutil.Eth(10000))
	return risky, healthy
}

// ============================================================================
// Test: Liquidate
// ============================================================================

func TestLiquidate_SplitsCollateral(t *testing.T) {
	f := testutil.NewFixture(t, testutil.Eth(2000))
	risky, healthy := riskyAndHealthy(t, f)
	f.Feed.SetPrice(testutil.Eth(1400))

	liquidator := uuid.New()
	if err := f.Ledger.Liquidate(liquidator, risky); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// Gas compensation is 1/200 of the seized collateral.
	if got := f.Vault.FreeBalanceOf(liquidator); !got.Eq(testutil.Amount("50000000000000000")) {
		t.Errorf("liquidator compensation = %s, want 0.05 eth", got.Dec())
	}

	pos, _ := f.Ledger.Position(risky)
	if pos.Status != state.StatusClosedByLiquidation {
		t.Errorf("status = %s, want closedByLiquidation", pos.Status)
	}
	if f.Ledger.Sorted().Contains(risky) {
		t.Error("liquidated position still in sorted index")
	}

	// The remainder redistributes entirely to the survivor.
	survivor, _ := f.Ledger.Position(healthy)
	pendColl, err := f.Ledger.Rewards().PendingCollateralReward(&survivor)
	if err != nil {
		t.Fatalf("pending collateral: %v", err)
	}
	if want := testutil.Amount("9950000000000000000"); !pendColl.Eq(want) {
		t.Errorf("survivor pending collateral = %s, want %s", pendColl.Dec(), want.Dec())
	}
	pendDebt, err := f.Ledger.Rewards().PendingDebtReward(&survivor)
	if err != nil {
		t.Fatalf("pending debt: %v", err)
	}
	if want := testutil.Eth(13000); !pendDebt.Eq(want) {
		t.Errorf("survivor pending debt = %s, want %s", pendDebt.Dec(), want.Dec())
	}

	// Only the survivor's stake remains.
	if !f.Ledger.Distribution().TotalStakes.Eq(survivor.Stake) {
		t.Errorf("total stakes = %s, want surviving stake %s",
			f.Ledger.Distribution().TotalStakes.Dec(), survivor.Stake.Dec())
	}

	// System totals keep the redistributed amounts.
	if got := f.Ledger.SystemDebt(); !got.Eq(testutil.Eth(23000)) {
		t.Errorf("system debt = %s, want 23000 eth", got.Dec())
	}
	if want := testutil.Amount("19950000000000000000"); !f.Ledger.SystemCollateral().Eq(want) {
		t.Errorf("system collateral = %s, want %s", f.Ledger.SystemCollateral().Dec(), want.Dec())
	}
}

func TestLiquidate_ProtocolFee(t *testing.T) {
	f := testutil.NewFixture(t, testutil.Eth(2000))
	risky, _ := riskyAndHealthy(t, f)

	// 10% protocol fee on the post-compensation remainder.
	if err := f.Ledger.SetLiquidationProtocolFee(testutil.Amount("100000000000000000")); err != nil {
		t.Fatalf("set protocol fee: %v", err)
	}
	f.Feed.SetPrice(testutil.Eth(1400))

	liquidator := uuid.New()
	if err := f.Ledger.Liquidate(liquidator, risky); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// remainder = 10 - 0.05 = 9.95; fee = 0.995.
	if want := testutil.Amount("995000000000000000"); !f.Vault.FreeBalanceOf(f.FeeRecipient).Eq(want) {
		t.Errorf("protocol fee = %s, want %s", f.Vault.FreeBalanceOf(f.FeeRecipient).Dec(), want.Dec())
	}
	// Redistribution shrinks by the fee: 9.95 - 0.995 = 8.955.
	if want := testutil.Amount("8955000000000000000"); !f.Ledger.Distribution().PendingCollateral.Eq(want) {
		t.Errorf("redistributed collateral = %s, want %s", f.Ledger.Distribution().PendingCollateral.Dec(), want.Dec())
	}
}

func TestLiquidate_Rejections(t *testing.T) {
	f := testutil.NewFixture(t, testutil.Eth(2000))
	risky, healthy := riskyAndHealthy(t, f)
	liquidator := uuid.New()

	// Above MCR at the current price.
	if err := f.Ledger.Liquidate(liquidator, risky); !errors.Is(err, state.ErrNothingToLiquidate) {
		t.Errorf("healthy target: got %v, want ErrNothingToLiquidate", err)
	}
	if err := f.Ledger.Liquidate(liquidator, uuid.New()); !errors.Is(err, state.ErrNothingToLiquidate) {
		t.Errorf("unknown target: got %v, want ErrNothingToLiquidate", err)
	}

	f.Feed.SetPrice(testutil.Eth(1400))
	if err := f.Ledger.Liquidate(liquidator, risky); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// Only the survivor remains.
	f.Feed.SetPrice(testutil.Eth(100))
	if err := f.Ledger.Liquidate(liquidator, healthy); !errors.Is(err, state.ErrOnlyOnePositionInSystem) {
		t.Errorf("last position: got %v, want ErrOnlyOnePositionInSystem", err)
	}
}

// ============================================================================
// Test: BatchLiquidate
// ============================================================================

func TestBatchLiquidate_SkipsHealthyAndUnknown(t *testing.T) {
	f := testutil.NewFixture(t, testutil.Eth(2000))
	riskyA := f.OpenPosition(t, testutil.Eth(10), testutil.Eth(13000))
	riskyB := f.OpenPosition(t, testutil.Eth(10), testutil.Eth(13000))
	healthy := f.OpenPosition(t, testutil.Eth(40), testutil.Eth(10000))

	f.Feed.SetPrice(testutil.Eth(1400))
	liquidator := uuid.New()

	err := f.Ledger.BatchLiquidate(liquidator, []uuid.UUID{riskyA, uuid.New(), healthy, riskyB})
	if err != nil {
		t.Fatalf("batch liquidate: %v", err)
	}

	for _, owner := range []uuid.UUID{riskyA, riskyB} {
		pos, _ := f.Ledger.Position(owner)
		if pos.Status != state.StatusClosedByLiquidation {
			t.Errorf("%s status = %s, want closedByLiquidation", owner, pos.Status)
		}
	}
	pos, _ := f.Ledger.Position(healthy)
	if !pos.IsActive() {
		t.Errorf("healthy position was liquidated (status %s)", pos.Status)
	}
	if f.Ledger.Sorted().Size() != 1 {
		t.Errorf("sorted size = %d, want 1", f.Ledger.Sorted().Size())
	}
}

func TestBatchLiquidate_NothingLiquidatable(t *testing.T) {
	f := testutil.NewFixture(t, testutil.Eth(2000))
	a, b := riskyAndHealthy(t, f)

	err := f.Ledger.BatchLiquidate(uuid.New(), []uuid.UUID{a, b})
	if !errors.Is(err, state.ErrNothingToLiquidate) {
		t.Errorf("got %v, want ErrNothingToLiquidate", err)
	}
}

func TestBatchLiquidate_SparesLastPosition(t *testing.T) {
	f := testutil.NewFixture(t, testutil.Eth(2000))
	a := f.OpenPosition(t, testutil.Eth(10), testutil.Eth(13000))
	b := f.OpenPosition(t, testutil.Eth(10), testutil.Eth(13000))

	// Crash the price so both are liquidatable; one must still survive.
	f.Feed.SetPrice(testutil.Eth(1000))
	if err := f.Ledger.BatchLiquidate(uuid.New(), []uuid.UUID{a, b}); err != nil {
		t.Fatalf("batch liquidate: %v", err)
	}
	if f.Ledger.Sorted().Size() != 1 {
		t.Errorf("sorted size = %d, want 1 survivor", f.Ledger.Sorted().Size())
	}
}
