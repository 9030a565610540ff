package collect

import (
	"sync"
	"sync/atomic"

	"github.com/pilosa/pilosa/roaring"

	"github.com/src-d/arrowquery/batch"
	"github.com/src-d/arrowquery/predicate"
	"github.com/src-d/arrowquery/workerpool"
)

// SparseThreshold is the estimated-selectivity cutoff below which the
// executor prefers a sparse row-index collection over a dense
// SelectionBitmap (spec §4.5, §4.10).
const SparseThreshold = 0.05

// Sparse collects matching row indices directly instead of building a
// SelectionBitmap, for low-selectivity queries (spec §4.5). Each worker
// accumulates its chunk range into a private *roaring.Bitmap (the same
// accumulate-then-merge shape the teacher's pilosa index driver uses for
// index lookups, sql/index/pilosa); the reduce step unions them, which
// yields an already-ascending-sorted result for free since roaring
// iterates bits in order. maxCollect <= 0 means uncapped.
func Sparse(preds []predicate.Predicate, b *batch.RecordBatch, pool *workerpool.Pool, maxCollect int) ([]int, error) {
	ordered := predicate.Reorder(preds, b, b.NumRows())
	numChunks := b.NumChunks()
	partials := make([]*roaring.Bitmap, numChunks)

	var stopped int32
	var collected int64
	var mu sync.Mutex
	var firstErr error

	pool.Run(numChunks, func(k int) {
		if maxCollect > 0 && atomic.LoadInt32(&stopped) != 0 {
			return
		}
		if predicate.CanSkipChunk(ordered, b, k) {
			return
		}
		lo, hi := b.ChunkBounds(k)
		local := roaring.NewBitmap()
		for row := lo; row < hi; row++ {
			matched := true
			for _, p := range ordered {
				ok, err := p.EvaluateRow(b, row)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
				if !ok {
					matched = false
					break
				}
			}
			if !matched {
				continue
			}
			local.Add(uint64(row))
			if maxCollect > 0 {
				n := atomic.AddInt64(&collected, 1)
				if n >= int64(maxCollect) {
					// Cooperative cancellation: signal other workers to
					// stop picking up new chunks. This worker may still
					// over-collect within its own chunk, trimmed below.
					atomic.StoreInt32(&stopped, 1)
				}
			}
		}
		partials[k] = local
	})
	if firstErr != nil {
		return nil, firstErr
	}

	merged := roaring.NewBitmap()
	for _, p := range partials {
		if p == nil {
			continue
		}
		merged = merged.Union(p)
	}

	out := make([]int, 0, merged.Count())
	itr := merged.Iterator()
	for {
		v, eof := itr.Next()
		if eof {
			break
		}
		out = append(out, int(v))
	}
	if maxCollect > 0 && len(out) > maxCollect {
		out = out[:maxCollect]
	}
	return out, nil
}
