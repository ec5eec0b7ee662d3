// Package sorted maintains the ordered index of open positions, keyed by
// nominal collateralization ratio (NICR). Nodes live in a dense arena and
// link to each other by slot index, so splices never touch more than the two
// neighbor nodes. NICR is not cached in the node: the list re-reads it from
// the NICRSource whenever it needs to compare against a live position, so the
// ordering always reflects current debt and collateral.
package sorted

import (
	"bytes"
	"errors"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	ErrListEmpty   = errors.New("position array empty")
	ErrListFull    = errors.New("position array size exceeded")
	ErrDuplicateID = errors.New("position already in list")
	ErrUnknownID   = errors.New("position not in list")
	ErrInvalidID   = errors.New("invalid position id")
	ErrInvalidNICR = errors.New("nicr must be positive")
)

// NICRSource reports the live nominal ICR of a position already in the list.
// The ledger implements this over its position records.
type NICRSource interface {
	NominalICR(id uuid.UUID) (*uint256.Int, bool)
}

const none = int32(-1)

type node struct {
	id   uuid.UUID
	next int32 // next-weaker slot, none at tail
	prev int32 // next-stronger slot, none at head
}

// List is the sorted position index. Order is non-increasing NICR from head
// to tail; ties order by ascending byte-wise id so the ranking is
// deterministic regardless of the hints supplied at insert time.
type List struct {
	source  NICRSource
	maxSize int

	nodes []node
	slots map[uuid.UUID]int32
	free  []int32
	head  int32
	tail  int32
}

func NewList(source NICRSource, maxSize int) *List {
	if maxSize <= 0 {
		panic("sorted: maxSize must be positive")
	}
	return &List{
		source:  source,
		maxSize: maxSize,
		slots:   make(map[uuid.UUID]int32, maxSize),
		head:    none,
		tail:    none,
	}
}

func (l *List) Size() int     { return len(l.slots) }
func (l *List) MaxSize() int  { return l.maxSize }
func (l *List) IsEmpty() bool { return len(l.slots) == 0 }
func (l *List) IsFull() bool  { return len(l.slots) >= l.maxSize }

func (l *List) Contains(id uuid.UUID) bool {
	_, ok := l.slots[id]
	return ok
}

// First returns the strongest position (highest NICR).
func (l *List) First() (uuid.UUID, bool) {
	if l.head == none {
		return uuid.Nil, false
	}
	return l.nodes[l.head].id, true
}

// Last returns the weakest position (lowest NICR).
func (l *List) Last() (uuid.UUID, bool) {
	if l.tail == none {
		return uuid.Nil, false
	}
	return l.nodes[l.tail].id, true
}

// Next returns the next-weaker position after id.
func (l *List) Next(id uuid.UUID) (uuid.UUID, bool) {
	slot, ok := l.slots[id]
	if !ok || l.nodes[slot].next == none {
		return uuid.Nil, false
	}
	return l.nodes[l.nodes[slot].next].id, true
}

// Prev returns the next-stronger position before id.
func (l *List) Prev(id uuid.UUID) (uuid.UUID, bool) {
	slot, ok := l.slots[id]
	if !ok || l.nodes[slot].prev == none {
		return uuid.Nil, false
	}
	return l.nodes[l.nodes[slot].prev].id, true
}

// Insert places id at its ordered slot. hintPrev/hintNext are caller-supplied
// candidate neighbors (uuid.Nil meaning "no hint"); they are validated and, if
// stale, the walk falls back to a linear scan bounded by the list size. A bad
// hint can never produce an out-of-order list.
func (l *List) Insert(id uuid.UUID, nicr *uint256.Int, hintPrev, hintNext uuid.UUID) error {
	if id == uuid.Nil {
		return ErrInvalidID
	}
	if nicr == nil || nicr.IsZero() {
		return ErrInvalidNICR
	}
	if l.Contains(id) {
		return ErrDuplicateID
	}
	if l.IsFull() {
		return ErrListFull
	}

	prev, next := l.findInsertPosition(nicr, id, hintPrev, hintNext)
	l.link(id, prev, next)
	return nil
}

// Remove unlinks id in O(1).
func (l *List) Remove(id uuid.UUID) error {
	if l.IsEmpty() {
		return ErrListEmpty
	}
	slot, ok := l.slots[id]
	if !ok {
		return ErrUnknownID
	}
	l.unlink(slot)
	return nil
}

// Reinsert re-threads id at its new NICR as one atomic splice, so there is no
// window where the position is missing from the index.
func (l *List) Reinsert(id uuid.UUID, newNICR *uint256.Int, hintPrev, hintNext uuid.UUID) error {
	slot, ok := l.slots[id]
	if !ok {
		return ErrUnknownID
	}
	if newNICR == nil || newNICR.IsZero() {
		return ErrInvalidNICR
	}
	l.unlink(slot)
	prev, next := l.findInsertPosition(newNICR, id, hintPrev, hintNext)
	l.link(id, prev, next)
	return nil
}

// IDs returns the ids from head to tail. Used by queries and tests.
func (l *List) IDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(l.slots))
	for slot := l.head; slot != none; slot = l.nodes[slot].next {
		out = append(out, l.nodes[slot].id)
	}
	return out
}

// --- ordering ---

// precedes reports whether (nicrA, idA) ranks strictly before (nicrB, idB):
// higher NICR first, ties broken by ascending id bytes.
func precedes(nicrA *uint256.Int, idA uuid.UUID, nicrB *uint256.Int, idB uuid.UUID) bool {
	switch nicrA.Cmp(nicrB) {
	case 1:
		return true
	case -1:
		return false
	}
	return bytes.Compare(idA[:], idB[:]) < 0
}

// nodeNICR reads the live NICR of a listed node from the source.
func (l *List) nodeNICR(slot int32) *uint256.Int {
	nicr, ok := l.source.NominalICR(l.nodes[slot].id)
	if !ok {
		// A listed id the source does not know is a wiring bug, not a
		// recoverable condition.
		panic("sorted: NICR source does not know listed position " + l.nodes[slot].id.String())
	}
	return nicr
}

func (l *List) nodePrecedesNew(slot int32, nicr *uint256.Int, id uuid.UUID) bool {
	return precedes(l.nodeNICR(slot), l.nodes[slot].id, nicr, id)
}

func (l *List) newPrecedesNode(nicr *uint256.Int, id uuid.UUID, slot int32) bool {
	return precedes(nicr, id, l.nodeNICR(slot), l.nodes[slot].id)
}

// findInsertPosition resolves the (prev, next) neighbor slots for the new
// entry, starting from the hints when they are still usable.
func (l *List) findInsertPosition(nicr *uint256.Int, id uuid.UUID, hintPrev, hintNext uuid.UUID) (int32, int32) {
	prev, next := none, none

	if hintPrev != uuid.Nil {
		if slot, ok := l.slots[hintPrev]; ok && l.nodePrecedesNew(slot, nicr, id) {
			prev = slot
		}
	}
	if hintNext != uuid.Nil {
		if slot, ok := l.slots[hintNext]; ok && l.newPrecedesNode(nicr, id, slot) {
			next = slot
		}
	}

	switch {
	case prev == none && next == none:
		return l.descend(nicr, id, l.head)
	case prev == none:
		return l.ascend(nicr, id, next)
	default:
		return l.descend(nicr, id, prev)
	}
}

// descend walks toward the tail from start (which either precedes the new
// entry or is the head) until the insertion slot is found.
func (l *List) descend(nicr *uint256.Int, id uuid.UUID, start int32) (int32, int32) {
	if start == none {
		return none, none
	}
	if start == l.head && l.newPrecedesNode(nicr, id, l.head) {
		return none, l.head
	}

	current := start
	for {
		next := l.nodes[current].next
		if next == none || l.newPrecedesNode(nicr, id, next) {
			return current, next
		}
		current = next
	}
}

// ascend walks toward the head from start (which follows the new entry).
func (l *List) ascend(nicr *uint256.Int, id uuid.UUID, start int32) (int32, int32) {
	current := start
	for {
		prev := l.nodes[current].prev
		if prev == none || l.nodePrecedesNew(prev, nicr, id) {
			return prev, current
		}
		current = prev
	}
}

// --- arena plumbing ---

func (l *List) alloc(id uuid.UUID) int32 {
	var slot int32
	if n := len(l.free); n > 0 {
		slot = l.free[n-1]
		l.free = l.free[:n-1]
		l.nodes[slot] = node{id: id, next: none, prev: none}
	} else {
		slot = int32(len(l.nodes))
		l.nodes = append(l.nodes, node{id: id, next: none, prev: none})
	}
	l.slots[id] = slot
	return slot
}

func (l *List) link(id uuid.UUID, prev, next int32) {
	slot := l.alloc(id)
	l.nodes[slot].prev = prev
	l.nodes[slot].next = next

	if prev == none {
		l.head = slot
	} else {
		l.nodes[prev].next = slot
	}
	if next == none {
		l.tail = slot
	} else {
		l.nodes[next].prev = slot
	}
}

func (l *List) unlink(slot int32) {
	n := l.nodes[slot]

	if n.prev == none {
		l.head = n.next
	} else {
		l.nodes[n.prev].next = n.next
	}
	if n.next == none {
		l.tail = n.prev
	} else {
		l.nodes[n.next].prev = n.prev
	}

	delete(l.slots, n.id)
	l.nodes[slot] = node{next: none, prev: none}
	l.free = append(l.free, slot)
}
