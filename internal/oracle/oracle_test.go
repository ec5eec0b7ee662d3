package oracle_test

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"CDPLedger/internal/oracle"
)

// ============================================================================
// Test: StaticFeed
// ============================================================================

func TestStaticFeed_Price(t *testing.T) {
	want := uint256.NewInt(2000)
	f := oracle.NewStaticFeed(want)

	got, err := f.Price()
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !got.Eq(want) {
		t.Errorf("price = %s, want %s", got.Dec(), want.Dec())
	}

	// The returned value is a copy.
	got.Clear()
	again, _ := f.Price()
	if !again.Eq(want) {
		t.Error("Price exposed internal state")
	}
}

func TestStaticFeed_NoPrice(t *testing.T) {
	for _, f := range []*oracle.StaticFeed{
		oracle.NewStaticFeed(nil),
		oracle.NewStaticFeed(new(uint256.Int)),
	} {
		if _, err := f.Price(); !errors.Is(err, oracle.ErrNoPrice) {
			t.Errorf("got %v, want ErrNoPrice", err)
		}
	}
}

func TestStaticFeed_SetPrice(t *testing.T) {
	f := oracle.NewStaticFeed(nil)
	f.SetPrice(uint256.NewInt(1500))

	got, err := f.Price()
	if err != nil {
		t.Fatalf("price after set: %v", err)
	}
	if !got.Eq(uint256.NewInt(1500)) {
		t.Errorf("price = %s, want 1500", got.Dec())
	}
}
