package bitmap

import "sync"

// blockPool is a size-class free list of []uint64 block arrays, avoiding
// a fresh allocation on every SelectionBitmap acquired and released
// within an executor stage (spec §4.1 "acquired from a free-list/pool").
type blockPool struct {
	mu    sync.Mutex
	bySz  map[int][][]uint64
	limit int
}

var pool = &blockPool{bySz: make(map[int][][]uint64), limit: 64}

func getBlocks(n int) []uint64 {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	if bucket := pool.bySz[n]; len(bucket) > 0 {
		b := bucket[len(bucket)-1]
		pool.bySz[n] = bucket[:len(bucket)-1]
		return b
	}
	return make([]uint64, n)
}

func putBlocks(b []uint64) {
	n := len(b)
	pool.mu.Lock()
	defer pool.mu.Unlock()
	bucket := pool.bySz[n]
	if len(bucket) >= pool.limit {
		return // let the GC reclaim it; pool is a size cap, not a guarantee.
	}
	pool.bySz[n] = append(bucket, b)
}
