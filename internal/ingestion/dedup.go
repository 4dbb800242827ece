package ingestion

import "container/list"

// DedupLRU remembers recently seen price message keys so JetStream
// redeliveries do not re-enter the cache path.
// Not thread-safe; only accessed from the price consumer goroutine.
type DedupLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

type lruEntry struct {
	key string
}

func NewDedupLRU(capacity int) *DedupLRU {
	return &DedupLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *DedupLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists)
func (lru *DedupLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	entry := &lruEntry{key: key}
	elem := lru.lruList.PushFront(entry)
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		oldest := lru.lruList.Back()
		if oldest != nil {
			lru.lruList.Remove(oldest)
			delete(lru.cache, oldest.Value.(*lruEntry).key)
			lru.evictions++
		}
	}
}

// Len returns current occupancy.
func (lru *DedupLRU) Len() int { return lru.lruList.Len() }

// Evictions returns the total eviction count.
func (lru *DedupLRU) Evictions() int64 { return lru.evictions }
