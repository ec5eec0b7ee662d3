package core_test

import (
	"errors"
	"fmt"
	"testing"

	"CDPLedger/internal/core"
)

// stubDBChecker is a scripted cold-path checker.
type stubDBChecker struct {
	dups    map[string]bool
	err     error
	lookups int
}

func (s *stubDBChecker) IsDuplicate(kind, key string) (bool, error) {
	s.lookups++
	if s.err != nil {
		return false, s.err
	}
	return s.dups[kind+":"+key], nil
}

// ============================================================================
// Test: IdempotencyChecker
// ============================================================================

func TestIdempotency_HotTier(t *testing.T) {
	ic := core.NewIdempotencyChecker(10, nil)

	if ic.IsDuplicate("open_position", "k1") {
		t.Error("unseen key flagged as duplicate")
	}
	ic.MarkProcessed("open_position", "k1")
	if !ic.IsDuplicate("open_position", "k1") {
		t.Error("processed key not flagged as duplicate")
	}
	// The same key under another kind is a distinct command.
	if ic.IsDuplicate("close_position", "k1") {
		t.Error("kind must be part of the dedup key")
	}
}

func TestIdempotency_DBFallback(t *testing.T) {
	db := &stubDBChecker{dups: map[string]bool{"liquidate:old": true}}
	ic := core.NewIdempotencyChecker(10, db)

	if !ic.IsDuplicate("liquidate", "old") {
		t.Error("db-known key not flagged as duplicate")
	}
	// The hit is promoted into the hot tier: no second db lookup.
	lookups := db.lookups
	if !ic.IsDuplicate("liquidate", "old") {
		t.Error("promoted key not flagged as duplicate")
	}
	if db.lookups != lookups {
		t.Errorf("expected no further db lookups, got %d more", db.lookups-lookups)
	}

	lruHits, dbHits, dbErrs := ic.Stats()
	if lruHits != 1 || dbHits != 1 || dbErrs != 0 {
		t.Errorf("stats = (%d, %d, %d), want (1, 1, 0)", lruHits, dbHits, dbErrs)
	}
}

func TestIdempotency_DBErrorDegradesToNotDuplicate(t *testing.T) {
	db := &stubDBChecker{err: errors.New("connection refused")}
	ic := core.NewIdempotencyChecker(10, db)

	if ic.IsDuplicate("redeem_collateral", "k") {
		t.Error("db error must degrade to not-a-duplicate")
	}
	_, _, dbErrs := ic.Stats()
	if dbErrs != 1 {
		t.Errorf("db errors = %d, want 1", dbErrs)
	}
}

func TestIdempotency_LRUEviction(t *testing.T) {
	ic := core.NewIdempotencyChecker(2, nil)

	ic.MarkProcessed("fund_collateral", "a")
	ic.MarkProcessed("fund_collateral", "b")
	ic.MarkProcessed("fund_collateral", "c")

	// "a" fell off the horizon; with no db tier it is forgotten.
	if ic.IsDuplicate("fund_collateral", "a") {
		t.Error("evicted key still flagged as duplicate")
	}
	if !ic.IsDuplicate("fund_collateral", "b") || !ic.IsDuplicate("fund_collateral", "c") {
		t.Error("recent keys must survive eviction")
	}
}

func TestIdempotency_Warm(t *testing.T) {
	ic := core.NewIdempotencyChecker(10, nil)
	keys := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		keys = append(keys, fmt.Sprintf("adjust_position:k%d", i))
	}
	ic.Warm(keys)

	for i := 0; i < 3; i++ {
		if !ic.IsDuplicate("adjust_position", fmt.Sprintf("k%d", i)) {
			t.Errorf("warmed key k%d not flagged as duplicate", i)
		}
	}
}
