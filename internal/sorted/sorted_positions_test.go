package sorted_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"CDPLedger/internal/sorted"
)

// mapSource is an in-memory NICRSource for list tests.
type mapSource struct {
	nicrs map[uuid.UUID]*uint256.Int
}

func newMapSource() *mapSource {
	return &mapSource{nicrs: make(map[uuid.UUID]*uint256.Int)}
}

func (s *mapSource) set(id uuid.UUID, nicr uint64) {
	s.nicrs[id] = uint256.NewInt(nicr)
}

func (s *mapSource) NominalICR(id uuid.UUID) (*uint256.Int, bool) {
	nicr, ok := s.nicrs[id]
	return nicr, ok
}

// insert registers id with the source and inserts it with no hints.
func insert(t *testing.T, l *sorted.List, src *mapSource, id uuid.UUID, nicr uint64) {
	t.Helper()
	src.set(id, nicr)
	if err := l.Insert(id, uint256.NewInt(nicr), uuid.Nil, uuid.Nil); err != nil {
		t.Fatalf("insert %s at %d: %v", id, nicr, err)
	}
}

// ============================================================================
// Test: ordering
// ============================================================================

func TestList_OrdersByDescendingNICR(t *testing.T) {
	src := newMapSource()
	l := sorted.NewList(src, 10)

	low, mid, high := uuid.New(), uuid.New(), uuid.New()
	insert(t, l, src, mid, 200)
	insert(t, l, src, high, 300)
	insert(t, l, src, low, 100)

	ids := l.IDs()
	want := []uuid.UUID{high, mid, low}
	if len(ids) != 3 {
		t.Fatalf("size %d, want 3", len(ids))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, ids[i], want[i])
		}
	}

	if first, _ := l.First(); first != high {
		t.Errorf("First = %s, want %s", first, high)
	}
	if last, _ := l.Last(); last != low {
		t.Errorf("Last = %s, want %s", last, low)
	}
}

func TestList_TieBreaksByAscendingID(t *testing.T) {
	src := newMapSource()
	l := sorted.NewList(src, 10)

	a, b := uuid.New(), uuid.New()
	insert(t, l, src, a, 100)
	insert(t, l, src, b, 100)

	ids := l.IDs()
	if bytes.Compare(ids[0][:], ids[1][:]) >= 0 {
		t.Errorf("equal NICRs must order by ascending id bytes, got %s before %s", ids[0], ids[1])
	}
}

func TestList_NextPrevNavigation(t *testing.T) {
	src := newMapSource()
	l := sorted.NewList(src, 10)

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	insert(t, l, src, a, 300)
	insert(t, l, src, b, 200)
	insert(t, l, src, c, 100)

	if next, ok := l.Next(a); !ok || next != b {
		t.Errorf("Next(a) = %s, %v, want %s", next, ok, b)
	}
	if prev, ok := l.Prev(c); !ok || prev != b {
		t.Errorf("Prev(c) = %s, %v, want %s", prev, ok, b)
	}
	if _, ok := l.Next(c); ok {
		t.Error("tail must have no next")
	}
	if _, ok := l.Prev(a); ok {
		t.Error("head must have no prev")
	}
}

// ============================================================================
// Test: hints
// ============================================================================

func TestList_StaleHintsStillOrderCorrectly(t *testing.T) {
	src := newMapSource()
	l := sorted.NewList(src, 10)

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	insert(t, l, src, a, 400)
	insert(t, l, src, b, 200)

	// Hints are backwards on purpose: the walk must recover.
	src.set(c, 300)
	if err := l.Insert(c, uint256.NewInt(300), b, a); err != nil {
		t.Fatalf("insert with stale hints: %v", err)
	}

	ids := l.IDs()
	want := []uuid.UUID{a, c, b}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, ids[i], want[i])
		}
	}
}

func TestList_UnknownHintIgnored(t *testing.T) {
	src := newMapSource()
	l := sorted.NewList(src, 10)

	a := uuid.New()
	insert(t, l, src, a, 100)

	b := uuid.New()
	src.set(b, 200)
	if err := l.Insert(b, uint256.NewInt(200), uuid.New(), uuid.New()); err != nil {
		t.Fatalf("insert with unknown hints: %v", err)
	}
	if first, _ := l.First(); first != b {
		t.Errorf("First = %s, want %s", first, b)
	}
}

// ============================================================================
// Test: errors and capacity
// ============================================================================

func TestList_InsertErrors(t *testing.T) {
	src := newMapSource()
	l := sorted.NewList(src, 1)

	if err := l.Insert(uuid.Nil, uint256.NewInt(1), uuid.Nil, uuid.Nil); !errors.Is(err, sorted.ErrInvalidID) {
		t.Errorf("nil id: got %v, want ErrInvalidID", err)
	}
	if err := l.Insert(uuid.New(), new(uint256.Int), uuid.Nil, uuid.Nil); !errors.Is(err, sorted.ErrInvalidNICR) {
		t.Errorf("zero nicr: got %v, want ErrInvalidNICR", err)
	}

	a := uuid.New()
	insert(t, l, src, a, 100)

	if err := l.Insert(a, uint256.NewInt(100), uuid.Nil, uuid.Nil); !errors.Is(err, sorted.ErrDuplicateID) {
		t.Errorf("duplicate: got %v, want ErrDuplicateID", err)
	}

	b := uuid.New()
	src.set(b, 200)
	if err := l.Insert(b, uint256.NewInt(200), uuid.Nil, uuid.Nil); !errors.Is(err, sorted.ErrListFull) {
		t.Errorf("full: got %v, want ErrListFull", err)
	}
}

func TestList_RemoveErrors(t *testing.T) {
	src := newMapSource()
	l := sorted.NewList(src, 10)

	if err := l.Remove(uuid.New()); !errors.Is(err, sorted.ErrListEmpty) {
		t.Errorf("empty: got %v, want ErrListEmpty", err)
	}

	a := uuid.New()
	insert(t, l, src, a, 100)
	if err := l.Remove(uuid.New()); !errors.Is(err, sorted.ErrUnknownID) {
		t.Errorf("unknown: got %v, want ErrUnknownID", err)
	}
	if err := l.Remove(a); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !l.IsEmpty() {
		t.Error("list should be empty after removal")
	}
}

func TestList_SlotReuseAfterRemove(t *testing.T) {
	src := newMapSource()
	l := sorted.NewList(src, 2)

	a, b := uuid.New(), uuid.New()
	insert(t, l, src, a, 100)
	insert(t, l, src, b, 200)

	if err := l.Remove(a); err != nil {
		t.Fatalf("remove: %v", err)
	}

	c := uuid.New()
	insert(t, l, src, c, 300)

	ids := l.IDs()
	if len(ids) != 2 || ids[0] != c || ids[1] != b {
		t.Errorf("got %v, want [%s %s]", ids, c, b)
	}
}

// ============================================================================
// Test: Reinsert
// ============================================================================

func TestList_ReinsertMovesPosition(t *testing.T) {
	src := newMapSource()
	l := sorted.NewList(src, 10)

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	insert(t, l, src, a, 300)
	insert(t, l, src, b, 200)
	insert(t, l, src, c, 100)

	// c climbs above a.
	src.set(c, 400)
	if err := l.Reinsert(c, uint256.NewInt(400), uuid.Nil, uuid.Nil); err != nil {
		t.Fatalf("reinsert: %v", err)
	}

	ids := l.IDs()
	want := []uuid.UUID{c, a, b}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, ids[i], want[i])
		}
	}
}

func TestList_ReinsertUnknown(t *testing.T) {
	src := newMapSource()
	l := sorted.NewList(src, 10)

	if err := l.Reinsert(uuid.New(), uint256.NewInt(1), uuid.Nil, uuid.Nil); !errors.Is(err, sorted.ErrUnknownID) {
		t.Errorf("got %v, want ErrUnknownID", err)
	}
}
