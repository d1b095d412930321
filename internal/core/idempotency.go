package core

import (
	"container/list"
	"context"

	"VaultLedger/internal/event"
	"VaultLedger/internal/observability"

	"github.com/rs/zerolog"
)

// RecordedOutcome is what the journal remembers about a processed request.
// Account, Counterparty and Amount are the journaled command columns, used to
// tell a retry from a different command reusing the request ID.
type RecordedOutcome struct {
	Op           event.OpType
	Account      string
	Counterparty string
	Amount       string
	OK           bool
	Sequence     int64
}

func (o RecordedOutcome) fingerprint() string {
	return event.Fingerprint(o.Op, o.Account, o.Counterparty, o.Amount)
}

// DBIdempotencyChecker is the interface for the Postgres journal lookup.
type DBIdempotencyChecker interface {
	LookupRequest(ctx context.Context, requestID string) (RecordedOutcome, bool, error)
}

// IdempotencyChecker implements two-tier request deduplication: an in-memory
// LRU of recent results, then the persisted journal.
type IdempotencyChecker struct {
	lru       *IdempotencyLRU
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics, logger zerolog.Logger) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
		logger:    logger,
	}
}

// Lookup returns the recorded result for key, if any.
func (ic *IdempotencyChecker) Lookup(ctx context.Context, key string) (Result, bool) {
	if key == "" {
		return Result{}, false
	}

	// Tier 1: LRU (hot path)
	if r, ok := ic.lru.Get(key); ok {
		ic.recordDuplicate(r.Op, "lru")
		return r, true
	}

	// Tier 2: journal (cold path)
	if ic.dbChecker == nil {
		return Result{}, false
	}
	outcome, found, err := ic.dbChecker.LookupRequest(ctx, key)
	if err != nil {
		// A journal outage must not block processing; treat as new.
		ic.logger.Warn().Err(err).Str("request_id", key).Msg("tier-2 dedup lookup failed")
		if ic.metrics != nil {
			ic.metrics.DedupTier2Errors.Inc()
		}
		return Result{}, false
	}
	if !found {
		return Result{}, false
	}

	r := Result{Op: outcome.Op, OK: outcome.OK, Sequence: outcome.Sequence, fingerprint: outcome.fingerprint()}
	ic.recordDuplicate(r.Op, "postgres")
	ic.lru.Add(key, r)
	return r, true
}

// Record remembers the result of a processed request.
func (ic *IdempotencyChecker) Record(key string, r Result) {
	if key == "" {
		return
	}
	evicted := ic.lru.Add(key, r)
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
		if evicted {
			ic.metrics.DedupLRUEvictions.Inc()
		}
	}
}

func (ic *IdempotencyChecker) recordDuplicate(op event.OpType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(op.String(), tier).Inc()
	}
}

// --- LRU Implementation ---

// IdempotencyLRU maps request keys to results with least-recently-used
// eviction. Not thread-safe; the processor serializes access.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

type lruEntry struct {
	key    string
	result Result
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Get returns the stored result and promotes the key.
func (lru *IdempotencyLRU) Get(key string) (Result, bool) {
	elem, exists := lru.cache[key]
	if !exists {
		return Result{}, false
	}
	lru.lruList.MoveToFront(elem)
	return elem.Value.(*lruEntry).result, true
}

// Add inserts or refreshes key. It reports whether an entry was evicted.
func (lru *IdempotencyLRU) Add(key string, r Result) bool {
	if elem, exists := lru.cache[key]; exists {
		elem.Value.(*lruEntry).result = r
		lru.lruList.MoveToFront(elem)
		return false
	}

	elem := lru.lruList.PushFront(&lruEntry{key: key, result: r})
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
		return true
	}
	return false
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

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}
