package core

import (
	"container/list"
	"fmt"
)

// DBIdempotencyChecker is the cold-path lookup, backed by the event log
// table in Postgres.
type DBIdempotencyChecker interface {
	IsDuplicate(kind, idempotencyKey string) (bool, error)
}

// IdempotencyChecker deduplicates commands in two tiers: an in-memory LRU for
// recently seen keys, falling back to the database for keys older than the
// LRU horizon. A database error degrades to "not a duplicate" so a Postgres
// hiccup cannot stall command processing; the event log unique index is the
// last line of defense.
//
// Not thread-safe, owned by the engine loop.
type IdempotencyChecker struct {
	lru *keyLRU
	db  DBIdempotencyChecker

	dupsLRU   int64
	dupsDB    int64
	dbErrors  int64
}

func NewIdempotencyChecker(capacity int, db DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru: newKeyLRU(capacity),
		db:  db,
	}
}

func compositeKey(kind, key string) string {
	return fmt.Sprintf("%s:%s", kind, key)
}

// IsDuplicate reports whether a command with this kind and key has already
// been processed.
func (ic *IdempotencyChecker) IsDuplicate(kind, key string) bool {
	ck := compositeKey(kind, key)
	if ic.lru.Contains(ck) {
		ic.dupsLRU++
		return true
	}
	if ic.db != nil {
		dup, err := ic.db.IsDuplicate(kind, key)
		if err != nil {
			ic.dbErrors++
			return false
		}
		if dup {
			ic.dupsDB++
			ic.lru.Add(ck)
			return true
		}
	}
	return false
}

// MarkProcessed records the key after the command's events were handed to
// persistence.
func (ic *IdempotencyChecker) MarkProcessed(kind, key string) {
	ic.lru.Add(compositeKey(kind, key))
}

// Warm preloads composite keys, called on startup with the most recent keys
// from the event log so restarts keep the hot path hot.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, k := range keys {
		ic.lru.Add(k)
	}
}

// Stats returns (lru hits, db hits, db errors) for metrics export.
func (ic *IdempotencyChecker) Stats() (int64, int64, int64) {
	return ic.dupsLRU, ic.dupsDB, ic.dbErrors
}

// keyLRU is a plain LRU over composite keys.
type keyLRU struct {
	capacity int
	index    map[string]*list.Element
	order    *list.List
}

func newKeyLRU(capacity int) *keyLRU {
	return &keyLRU{
		capacity: capacity,
		index:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

func (lru *keyLRU) Contains(key string) bool {
	elem, ok := lru.index[key]
	if ok {
		lru.order.MoveToFront(elem)
	}
	return ok
}

func (lru *keyLRU) Add(key string) {
	if elem, ok := lru.index[key]; ok {
		lru.order.MoveToFront(elem)
		return
	}
	lru.index[key] = lru.order.PushFront(key)
	if lru.order.Len() > lru.capacity {
		oldest := lru.order.Back()
		lru.order.Remove(oldest)
		delete(lru.index, oldest.Value.(string))
	}
}

func (lru *keyLRU) Len() int {
	return lru.order.Len()
}

// Keys returns every cached composite key, newest first. Used when writing a
// snapshot so a restore can warm the cache.
func (lru *keyLRU) Keys() []string {
	keys := make([]string, 0, lru.order.Len())
	for elem := lru.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(string))
	}
	return keys
}
