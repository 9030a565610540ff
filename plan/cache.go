package plan

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/mitchellh/hashstructure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/src-d/arrowquery/predicate"
)

// structuralKey is the canonical, hashable shape of a plan for cache
// lookup (spec §4.9 C9 "structural hash of the unoptimized plan tree").
// Only fields that affect the OPTIMIZED output are included: result
// names and out-type labels don't change optimization, so they're
// deliberately excluded to raise the hit rate across cosmetically
// different but structurally identical queries.
type structuralKey struct {
	Scan          string
	Predicates    []predicateKey
	Projections   []string
	Limit, Offset int
	AggOp         int
	AggColumn     string
	GroupKey      string
	GroupAggs     []predicateKey
}

type predicateKey struct {
	Kind   string
	Column string
	Op     int
}

func keyOf(root Node) structuralKey {
	nodes := chain(root)
	key := structuralKey{Limit: -1, Offset: -1}
	for _, n := range nodes {
		switch t := n.(type) {
		case *Scan:
			key.Scan = t.Source
		case *Filter:
			for _, p := range t.Predicates {
				key.Predicates = append(key.Predicates, predicateKeyOf(p))
			}
		case *Project:
			key.Projections = append(key.Projections, t.Columns...)
		case *Limit:
			key.Limit = t.N
		case *Offset:
			key.Offset = t.N
		case *Aggregate:
			key.AggOp = int(t.Desc.Op)
			key.AggColumn = t.Desc.Column
		case *GroupBy:
			key.GroupKey = t.KeyColumn
			for _, a := range t.Aggregates {
				key.GroupAggs = append(key.GroupAggs, predicateKey{Column: a.Column, Op: int(a.Op)})
			}
		}
	}
	return key
}

func predicateKeyOf(p predicate.Predicate) predicateKey {
	var kind string
	switch t := p.(type) {
	case *predicate.And:
		kind = "And(" + predicateKeyOf(t.Left).Kind + "," + predicateKeyOf(t.Right).Kind + ")"
	case *predicate.Or:
		kind = "Or(" + predicateKeyOf(t.Left).Kind + "," + predicateKeyOf(t.Right).Kind + ")"
	case *predicate.Not:
		kind = "Not(" + predicateKeyOf(t.Inner).Kind + ")"
	default:
		// %+v spells out the leaf's column, operator and comparand.
		kind = fmt.Sprintf("%T%+v", p, p)
	}
	return predicateKey{Kind: kind, Column: p.ColumnName()}
}

// entry is a single cached optimized plan plus its LRU bookkeeping.
type entry struct {
	plan     Node
	lastUsed int64
}

// cacheMetrics mirrors the cache's counters to Prometheus (spec §4.9
// "optionally exported as instruments"), grounded on the teacher's use of
// promauto for ambient server metrics.
type cacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
}

func newCacheMetrics(reg prometheus.Registerer) *cacheMetrics {
	factory := promauto.With(reg)
	return &cacheMetrics{
		hits:      factory.NewCounter(prometheus.CounterOpts{Name: "arrowquery_plan_cache_hits_total"}),
		misses:    factory.NewCounter(prometheus.CounterOpts{Name: "arrowquery_plan_cache_misses_total"}),
		evictions: factory.NewCounter(prometheus.CounterOpts{Name: "arrowquery_plan_cache_evictions_total"}),
	}
}

// Cache is the plan cache of spec §4.9 (C9): a fast structural-hash path
// backed by a collision-resolving secondary key, with approximate-LRU
// eviction. A disabled cache (MaxSize <= 0) is a no-op on every call, and
// any internal error degrades to a cache miss rather than failing the
// query, per spec's error-handling mandate for this component.
type Cache struct {
	mu      sync.Mutex
	entries map[uint64]map[string]*entry
	clock   int64
	maxSize int
	metrics *cacheMetrics

	hitCount, missCount, evictionCount int64
}

// NewCache builds a plan cache holding at most maxSize entries. Pass a
// nil registerer to skip Prometheus registration.
func NewCache(maxSize int, reg prometheus.Registerer) *Cache {
	c := &Cache{
		entries: make(map[uint64]map[string]*entry),
		maxSize: maxSize,
	}
	if reg != nil {
		c.metrics = newCacheMetrics(reg)
	}
	return c
}

// Get returns the cached optimized plan for root's structural shape, or
// (nil, false) on a miss.
func (c *Cache) Get(root Node) (Node, bool) {
	if c.maxSize <= 0 {
		return nil, false
	}
	hash, secondary, err := hashOf(root)
	if err != nil {
		c.recordMiss()
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	bucket, ok := c.entries[hash]
	if !ok {
		c.recordMissLocked()
		return nil, false
	}
	e, ok := bucket[secondary]
	if !ok {
		c.recordMissLocked()
		return nil, false
	}
	c.clock++
	e.lastUsed = c.clock
	c.recordHitLocked()
	return e.plan, true
}

// Put stores optimized as the cached optimization of root's structural
// shape, evicting the oldest ~25% of entries if the cache is over
// capacity (spec §4.9 "approximate LRU: evict the oldest quarter rather
// than a single entry, to amortize the eviction scan").
func (c *Cache) Put(root Node, optimized Node) {
	if c.maxSize <= 0 {
		return
	}
	hash, secondary, err := hashOf(root)
	if err != nil {
		return // degrade silently: the query already has its answer, caching is best-effort.
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	bucket, ok := c.entries[hash]
	if !ok {
		bucket = make(map[string]*entry)
		c.entries[hash] = bucket
	}
	c.clock++
	bucket[secondary] = &entry{plan: optimized, lastUsed: c.clock}

	if c.size() > c.maxSize {
		c.evictOldestQuarterLocked()
	}
}

func (c *Cache) size() int {
	n := 0
	for _, bucket := range c.entries {
		n += len(bucket)
	}
	return n
}

func (c *Cache) evictOldestQuarterLocked() {
	type ref struct {
		hash      uint64
		secondary string
		lastUsed  int64
	}
	all := make([]ref, 0, c.size())
	for h, bucket := range c.entries {
		for s, e := range bucket {
			all = append(all, ref{h, s, e.lastUsed})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].lastUsed < all[j].lastUsed })

	toEvict := len(all) / 4
	if toEvict == 0 {
		toEvict = 1
	}
	for i := 0; i < toEvict && i < len(all); i++ {
		delete(c.entries[all[i].hash], all[i].secondary)
		if len(c.entries[all[i].hash]) == 0 {
			delete(c.entries, all[i].hash)
		}
	}
	c.evictionCount += int64(toEvict)
	if c.metrics != nil {
		c.metrics.evictions.Add(float64(toEvict))
	}
}

func (c *Cache) recordHitLocked() {
	c.hitCount++
	if c.metrics != nil {
		c.metrics.hits.Inc()
	}
}

func (c *Cache) recordMissLocked() {
	c.missCount++
	if c.metrics != nil {
		c.metrics.misses.Inc()
	}
}

func (c *Cache) recordMiss() {
	atomic.AddInt64(&c.missCount, 1)
	if c.metrics != nil {
		c.metrics.misses.Inc()
	}
}

// Stats returns the cache's hit count, miss count, and hit rate.
func (c *Cache) Stats() (hits, misses int64, rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hits, misses = c.hitCount, c.missCount
	total := hits + misses
	if total == 0 {
		return hits, misses, 0
	}
	return hits, misses, float64(hits) / float64(total)
}

// hashOf computes the fast hashstructure-based key plus a deterministic
// string serialization used to resolve hash collisions (spec §4.9 "a
// secondary exact-equality check guards against the fast hash's false
// positives").
func hashOf(root Node) (uint64, string, error) {
	key := keyOf(root)
	hash, err := hashstructure.Hash(key, nil)
	if err != nil {
		return 0, "", err
	}
	return hash, fmt.Sprintf("%+v", key), nil
}
