package core_test

import (
	"testing"

	"CDPLedger/internal/core"
)

// ============================================================================
// Test: StateHasher
// ============================================================================

func TestStateHasher_Deterministic(t *testing.T) {
	a := core.NewStateHasher()
	b := core.NewStateHasher()

	if a.Tip() != b.Tip() {
		t.Fatal("fresh hashers must share the genesis tip")
	}

	for seq := int64(0); seq < 5; seq++ {
		ha := a.Compute(seq, []byte("payload"))
		hb := b.Compute(seq, []byte("payload"))
		if ha != hb {
			t.Fatalf("chains diverged at sequence %d", seq)
		}
	}
}

func TestStateHasher_DigestChangesChain(t *testing.T) {
	a := core.NewStateHasher()
	b := core.NewStateHasher()

	ha := a.Compute(0, []byte("payload"))
	hb := b.Compute(0, []byte("payload-x"))
	if ha == hb {
		t.Error("different digests must produce different tips")
	}
}

func TestStateHasher_SequenceChangesChain(t *testing.T) {
	a := core.NewStateHasher()
	b := core.NewStateHasher()

	if a.Compute(0, []byte("p")) == b.Compute(1, []byte("p")) {
		t.Error("different sequences must produce different tips")
	}
}

func TestStateHasher_ChainLinksToPrev(t *testing.T) {
	h := core.NewStateHasher()
	first := h.Compute(0, []byte("p"))
	second := h.Compute(1, []byte("p"))
	if first == second {
		t.Error("consecutive links must differ even with identical digests")
	}
	if h.Tip() != second {
		t.Error("Tip must track the last computed link")
	}
}

func TestStateHasher_SetTipRestoresChain(t *testing.T) {
	a := core.NewStateHasher()
	a.Compute(0, []byte("p"))
	a.Compute(1, []byte("q"))
	tip := a.Tip()
	next := a.Compute(2, []byte("r"))

	// A restored hasher continues the chain identically.
	b := core.NewStateHasher()
	b.SetTip(tip)
	if got := b.Compute(2, []byte("r")); got != next {
		t.Error("restored chain diverged from the original")
	}
}
