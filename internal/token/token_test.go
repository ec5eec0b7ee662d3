package token_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"CDPLedger/internal/testutil"
	"CDPLedger/internal/token"
)

// ============================================================================
// Test: Ledger
// ============================================================================

func TestLedger_MintAndBurn(t *testing.T) {
	l := token.NewLedger()
	holder := uuid.New()

	if err := l.Mint(holder, testutil.Eth(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if got := l.BalanceOf(holder); !got.Eq(testutil.Eth(100)) {
		t.Errorf("balance = %s, want 100", got.Dec())
	}
	if got := l.TotalSupply(); !got.Eq(testutil.Eth(100)) {
		t.Errorf("supply = %s, want 100", got.Dec())
	}

	if err := l.Burn(holder, testutil.Eth(40)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if got := l.BalanceOf(holder); !got.Eq(testutil.Eth(60)) {
		t.Errorf("balance after burn = %s, want 60", got.Dec())
	}
	if got := l.TotalSupply(); !got.Eq(testutil.Eth(60)) {
		t.Errorf("supply after burn = %s, want 60", got.Dec())
	}
}

func TestLedger_BurnOverBalance(t *testing.T) {
	l := token.NewLedger()
	holder := uuid.New()
	l.Mint(holder, testutil.Eth(10))

	err := l.Burn(holder, testutil.Eth(11))
	if !errors.Is(err, token.ErrInsufficientBalance) {
		t.Errorf("got %v, want ErrInsufficientBalance", err)
	}
	// A failed burn leaves both sides untouched.
	if !l.BalanceOf(holder).Eq(testutil.Eth(10)) || !l.TotalSupply().Eq(testutil.Eth(10)) {
		t.Error("failed burn mutated the ledger")
	}
}

func TestLedger_ZeroAmountsAreNoOps(t *testing.T) {
	l := token.NewLedger()
	holder := uuid.New()

	if err := l.Mint(holder, testutil.Amount("0")); err != nil {
		t.Errorf("zero mint: %v", err)
	}
	if err := l.Burn(holder, testutil.Amount("0")); err != nil {
		t.Errorf("zero burn: %v", err)
	}
	if !l.TotalSupply().IsZero() {
		t.Error("zero operations changed the supply")
	}
}

func TestLedger_BalanceOfReturnsCopy(t *testing.T) {
	l := token.NewLedger()
	holder := uuid.New()
	l.Mint(holder, testutil.Eth(5))

	b := l.BalanceOf(holder)
	b.Clear()
	if !l.BalanceOf(holder).Eq(testutil.Eth(5)) {
		t.Error("BalanceOf exposed internal state")
	}
}

func TestLedger_SnapshotRoundTrip(t *testing.T) {
	l := token.NewLedger()
	a, b := uuid.New(), uuid.New()
	l.Mint(a, testutil.Eth(7))
	l.Mint(b, testutil.Eth(3))
	l.Burn(b, testutil.Eth(3))

	restored := token.NewLedger()
	if err := restored.Restore(l.Balances()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !restored.BalanceOf(a).Eq(testutil.Eth(7)) {
		t.Errorf("restored balance = %s, want 7", restored.BalanceOf(a).Dec())
	}
	// Zeroed balances are not exported, and the supply is recomputed.
	if !restored.BalanceOf(b).IsZero() {
		t.Error("zero balance leaked into the snapshot")
	}
	if !restored.TotalSupply().Eq(testutil.Eth(7)) {
		t.Errorf("restored supply = %s, want 7", restored.TotalSupply().Dec())
	}
}
