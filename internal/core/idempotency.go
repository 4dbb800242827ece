package core

import (
	"container/list"
	"fmt"
	"sync"
)

// DBIdempotencyChecker is the Postgres tier of duplicate detection.
type DBIdempotencyChecker interface {
	IsDuplicate(scope, key string) (bool, error)
	Record(scope, key string) error
}

// IdempotencyChecker detects replayed client requests with two tiers: an
// in-memory LRU in front of a Postgres lookup. Callers consult it before
// invoking an engine operation and mark the key only after success, so a
// failed attempt stays retryable under the same key. Safe for concurrent
// handlers.
type IdempotencyChecker struct {
	mu        sync.Mutex
	lru       *idempotencyLRU
	dbChecker DBIdempotencyChecker

	duplicatesLRU int64
	duplicatesDB  int64
	tier2Errors   int64
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       newIdempotencyLRU(capacity),
		dbChecker: dbChecker,
	}
}

// IsDuplicate reports whether (scope, key) has already been processed.
func (ic *IdempotencyChecker) IsDuplicate(scope, key string) bool {
	composite := compositeKey(scope, key)

	ic.mu.Lock()
	if ic.lru.contains(composite) {
		ic.duplicatesLRU++
		ic.mu.Unlock()
		return true
	}
	ic.mu.Unlock()

	if ic.dbChecker == nil {
		return false
	}
	isDup, err := ic.dbChecker.IsDuplicate(scope, key)
	if err != nil {
		// A DB issue must not block request processing; assume fresh.
		ic.mu.Lock()
		ic.tier2Errors++
		ic.mu.Unlock()
		return false
	}
	if !isDup {
		return false
	}

	ic.mu.Lock()
	ic.duplicatesDB++
	ic.lru.add(composite)
	ic.mu.Unlock()
	return true
}

// MarkProcessed records a successfully processed key in both tiers.
func (ic *IdempotencyChecker) MarkProcessed(scope, key string) {
	ic.mu.Lock()
	ic.lru.add(compositeKey(scope, key))
	ic.mu.Unlock()

	if ic.dbChecker == nil {
		return
	}
	if err := ic.dbChecker.Record(scope, key); err != nil {
		ic.mu.Lock()
		ic.tier2Errors++
		ic.mu.Unlock()
	}
}

// Warm loads recently recorded composite keys, typically read back from
// Postgres at startup, so restarts keep the hot path warm.
func (ic *IdempotencyChecker) Warm(compositeKeys []string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	for _, k := range compositeKeys {
		ic.lru.add(k)
	}
}

// Duplicates returns per-tier duplicate counts.
func (ic *IdempotencyChecker) Duplicates() (lru, db int64) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.duplicatesLRU, ic.duplicatesDB
}

// Tier2Errors returns the count of swallowed DB-tier failures.
func (ic *IdempotencyChecker) Tier2Errors() int64 {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.tier2Errors
}

func compositeKey(scope, key string) string {
	return fmt.Sprintf("%s:%s", scope, key)
}

// idempotencyLRU is a plain LRU over composite keys. Callers hold the
// checker lock.
type idempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List
}

type lruEntry struct {
	key string
}

func newIdempotencyLRU(capacity int) *idempotencyLRU {
	return &idempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

func (lru *idempotencyLRU) contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

func (lru *idempotencyLRU) add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	elem := lru.lruList.PushFront(&lruEntry{key: key})
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *idempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem == nil {
		return
	}
	lru.lruList.Remove(elem)
	delete(lru.cache, elem.Value.(*lruEntry).key)
}

func (lru *idempotencyLRU) size() int {
	return lru.lruList.Len()
}
