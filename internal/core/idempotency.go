package core

import (
	"container/list"
	"fmt"
	"sync"
)

// IdempotencyChecker implements two-tier deduplication of command IDs
type IdempotencyChecker struct {
	mu sync.Mutex

	// Tier 1: In-memory LRU
	lru *IdempotencyLRU

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker

	metrics *IdempotencyMetrics
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(operation string, commandID string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   NewIdempotencyMetrics(),
	}
}

// IsDuplicate checks if a command has already been applied (two-tier lookup)
func (ic *IdempotencyChecker) IsDuplicate(operation string, commandID string) bool {
	compositeKey := fmt.Sprintf("%s:%s", operation, commandID)

	ic.mu.Lock()
	defer ic.mu.Unlock()

	// Tier 1: LRU check (hot path)
	if ic.lru.Contains(compositeKey) {
		ic.metrics.RecordDuplicate(operation, "lru")
		return true
	}

	// Tier 2: Postgres check (cold path)
	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(operation, commandID)
		if err != nil {
			// Assume not duplicate: a DB outage must not block ingestion, and
			// a replayed command is rejected by the entry point preconditions
			ic.metrics.RecordTier2Error()
			return false
		}

		if isDup {
			ic.metrics.RecordDuplicate(operation, "postgres")
			ic.lru.Add(compositeKey)
			return true
		}
	}

	return false
}

// MarkProcessed adds key to LRU after successful processing
func (ic *IdempotencyChecker) MarkProcessed(operation string, commandID string) {
	compositeKey := fmt.Sprintf("%s:%s", operation, commandID)
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.lru.Add(compositeKey)
}

// Warm loads recently applied composite keys, oldest first
func (ic *IdempotencyChecker) Warm(keys []string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.lru.WarmFromKeys(keys)
}

// Keys returns the LRU contents, oldest first
func (ic *IdempotencyChecker) Keys() []string {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.lru.GetAllKeys()
}

// Stats returns LRU size and eviction count
func (ic *IdempotencyChecker) Stats() (size int, evictions int64) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.lru.Size(), ic.lru.Evictions()
}

// GetMetrics returns metrics for monitoring
func (ic *IdempotencyChecker) GetMetrics() *IdempotencyMetrics {
	return ic.metrics
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU cache for idempotency keys.
// Not thread-safe; IdempotencyChecker guards it.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

type lruEntry struct {
	key string
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists)
func (lru *IdempotencyLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	entry := &lruEntry{key: key}
	elem := lru.lruList.PushFront(entry)
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		entry := elem.Value.(*lruEntry)
		delete(lru.cache, entry.key)
		lru.evictions++
	}
}

// WarmFromKeys loads a batch of composite keys into the LRU.
// On restart, recent command IDs are loaded from the event log so that
// redeliveries do not fall through to the Postgres tier.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		if _, exists := lru.cache[key]; exists {
			continue
		}
		entry := &lruEntry{key: key}
		elem := lru.lruList.PushFront(entry)
		lru.cache[key] = elem

		if lru.lruList.Len() > lru.capacity {
			lru.evictOldest()
		}
	}
}

// GetAllKeys returns keys from least to most recently used
func (lru *IdempotencyLRU) GetAllKeys() []string {
	keys := make([]string, 0, lru.lruList.Len())
	for e := lru.lruList.Back(); e != nil; e = e.Prev() {
		keys = append(keys, e.Value.(*lruEntry).key)
	}
	return keys
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions (for metrics)
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}

// --- Metrics ---

// IdempotencyMetrics tracks dedup stats
type IdempotencyMetrics struct {
	mu                 sync.Mutex
	duplicatesLRU      map[string]int64 // operation -> count
	duplicatesPostgres map[string]int64
	tier2Errors        int64
}

func NewIdempotencyMetrics() *IdempotencyMetrics {
	return &IdempotencyMetrics{
		duplicatesLRU:      make(map[string]int64),
		duplicatesPostgres: make(map[string]int64),
	}
}

func (m *IdempotencyMetrics) RecordDuplicate(operation string, tier string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tier == "lru" {
		m.duplicatesLRU[operation]++
	} else {
		m.duplicatesPostgres[operation]++
	}
}

func (m *IdempotencyMetrics) RecordTier2Error() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tier2Errors++
}

func (m *IdempotencyMetrics) GetDuplicates(operation string) (lru int64, postgres int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duplicatesLRU[operation], m.duplicatesPostgres[operation]
}

func (m *IdempotencyMetrics) GetTier2Errors() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tier2Errors
}
