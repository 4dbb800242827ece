package core

import (
	"errors"
	"fmt"
	"testing"
)

type fakeDBChecker struct {
	known    map[string]bool
	recorded []string
	failing  bool
}

func (f *fakeDBChecker) IsDuplicate(scope, key string) (bool, error) {
	if f.failing {
		return false, errors.New("db down")
	}
	return f.known[scope+":"+key], nil
}

func (f *fakeDBChecker) Record(scope, key string) error {
	if f.failing {
		return errors.New("db down")
	}
	f.recorded = append(f.recorded, scope+":"+key)
	return nil
}

func TestIdempotencyCheckerTwoTier(t *testing.T) {
	db := &fakeDBChecker{known: map[string]bool{"issue:k-cold": true}}
	ic := NewIdempotencyChecker(16, db)

	if ic.IsDuplicate("issue", "k-fresh") {
		t.Error("fresh key reported duplicate")
	}

	ic.MarkProcessed("issue", "k-fresh")
	if !ic.IsDuplicate("issue", "k-fresh") {
		t.Error("marked key not caught by LRU")
	}
	if len(db.recorded) != 1 || db.recorded[0] != "issue:k-fresh" {
		t.Errorf("db record = %v", db.recorded)
	}

	// Scope isolates keys.
	if ic.IsDuplicate("settle", "k-fresh") {
		t.Error("same key in another scope reported duplicate")
	}

	// Cold key found only in the DB tier lands in the LRU afterwards.
	if !ic.IsDuplicate("issue", "k-cold") {
		t.Error("db-known key not reported duplicate")
	}
	lruHits, dbHits := ic.Duplicates()
	if dbHits != 1 {
		t.Errorf("db duplicates = %d, want 1", dbHits)
	}
	if !ic.IsDuplicate("issue", "k-cold") {
		t.Error("promoted key missed")
	}
	if hits, _ := ic.Duplicates(); hits != lruHits+1 {
		t.Errorf("lru duplicates = %d, want %d", hits, lruHits+1)
	}
}

func TestIdempotencyCheckerDBFailureIsOpen(t *testing.T) {
	db := &fakeDBChecker{known: map[string]bool{"issue:k": true}, failing: true}
	ic := NewIdempotencyChecker(16, db)

	// A broken DB tier must not block processing.
	if ic.IsDuplicate("issue", "k") {
		t.Error("db failure treated as duplicate")
	}
	ic.MarkProcessed("issue", "k")
	if ic.Tier2Errors() != 2 {
		t.Errorf("tier2 errors = %d, want 2", ic.Tier2Errors())
	}
	// The LRU tier still works.
	if !ic.IsDuplicate("issue", "k") {
		t.Error("lru miss after mark")
	}
}

func TestIdempotencyLRUEviction(t *testing.T) {
	lru := newIdempotencyLRU(3)
	for i := 0; i < 3; i++ {
		lru.add(fmt.Sprintf("k%d", i))
	}

	// Touch k0 so k1 is the eviction candidate.
	if !lru.contains("k0") {
		t.Fatal("k0 missing")
	}
	lru.add("k3")

	if lru.size() != 3 {
		t.Errorf("size = %d, want 3", lru.size())
	}
	if lru.contains("k1") {
		t.Error("k1 should have been evicted")
	}
	if !lru.contains("k0") || !lru.contains("k2") || !lru.contains("k3") {
		t.Error("recently used keys evicted")
	}
}

func TestIdempotencyCheckerWarm(t *testing.T) {
	ic := NewIdempotencyChecker(16, nil)
	ic.Warm([]string{"issue:a", "issue:b"})

	if !ic.IsDuplicate("issue", "a") || !ic.IsDuplicate("issue", "b") {
		t.Error("warmed keys not recognized")
	}
	if ic.IsDuplicate("issue", "c") {
		t.Error("unwarmed key reported duplicate")
	}
}
