// Package materialize implements C11 of spec.md §4, the executor's final
// stage for queries whose result is typed rows rather than an aggregate:
// turning a SelectionBitmap (or a sparse row-index list) into either a
// plain `[]int` of matching row indices or a new `arrow.Record` built by
// column, never by row.
package materialize

import (
	"fmt"
	"sync"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"

	"github.com/src-d/arrowquery/batch"
	"github.com/src-d/arrowquery/bitmap"
	"github.com/src-d/arrowquery/errkind"
	"github.com/src-d/arrowquery/workerpool"
)

// parallelChunkRows is the row-count granularity used to partition
// parallel materialization work, independent of the batch's own
// chunkSize (materialization work is bounded purely by output size, not
// by zone-map alignment).
const parallelChunkRows = 4096

// sequentialThreshold is the row-count cutoff below which materializing
// indices runs in the calling goroutine (spec §4.11 "sequential below
// 10,000 rows").
const sequentialThreshold = 10000

// Indices enumerates sel's set bits as row indices, choosing between a
// sequential walk and a parallel, chunk-partitioned fill depending on the
// bitmap's length.
func Indices(sel *bitmap.SelectionBitmap, pool *workerpool.Pool) []int {
	if sel.Len() < sequentialThreshold {
		return sel.SelectedIndices()
	}
	return parallelIndices(sel, pool)
}

// parallelIndices partitions [0, n) into parallelChunkRows-sized ranges,
// counts each range's set bits first, then has each worker write
// directly into its own non-overlapping slice of a single pre-sized
// output array — no intermediate per-worker lists to later concatenate.
func parallelIndices(sel *bitmap.SelectionBitmap, pool *workerpool.Pool) []int {
	n := sel.Len()
	numChunks := (n + parallelChunkRows - 1) / parallelChunkRows
	counts := make([]int, numChunks)

	pool.Run(numChunks, func(k int) {
		lo, hi := chunkBounds(k, n)
		c := 0
		for row := lo; row < hi; row++ {
			if sel.Get(row) {
				c++
			}
		}
		counts[k] = c
	})

	offsets := make([]int, numChunks+1)
	for i, c := range counts {
		offsets[i+1] = offsets[i] + c
	}
	out := make([]int, offsets[numChunks])

	pool.Run(numChunks, func(k int) {
		lo, hi := chunkBounds(k, n)
		w := offsets[k]
		for row := lo; row < hi; row++ {
			if sel.Get(row) {
				out[w] = row
				w++
			}
		}
	})
	return out
}

func chunkBounds(k, n int) (int, int) {
	lo := k * parallelChunkRows
	hi := lo + parallelChunkRows
	if hi > n {
		hi = n
	}
	return lo, hi
}

// ToRecord builds a new arrow.Record containing only the rows named by
// indices, built column-by-column by slicing each source column (see
// selectColumn) rather than row-by-row, per spec §6.2's "column slicing"
// materialization contract.
func ToRecord(b *batch.RecordBatch, indices []int, mem memory.Allocator) (arrow.Record, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	schema := b.Schema()
	cols := make([]arrow.Array, schema.NumFields())
	for i, field := range schema.Fields() {
		arr, err := b.ColumnByName(field.Name)
		if err != nil {
			return nil, err
		}
		col, err := selectColumn(arr, field, indices, mem)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}
	return array.NewRecord(schema, cols, int64(len(indices))), nil
}

// selectColumn gathers arr at indices. The Arrow-output path uses column
// slicing with the final selection bitmap, never per-row copying (spec
// §6.2): sliceByIndices slices out every maximal contiguous run of
// indices with array.NewSlice and concatenates the runs, rather than
// appending one value at a time through a builder.
func selectColumn(arr arrow.Array, field arrow.Field, indices []int, mem memory.Allocator) (arrow.Array, error) {
	switch arr.(type) {
	case *array.Int32, *array.Int64, *array.Float32, *array.Float64,
		*array.String, *array.Boolean, *array.Decimal128:
		return sliceByIndices(arr, indices, mem)
	default:
		return nil, errkind.Unsupported.New(fmt.Sprintf("materialization of column %q's type is not supported", field.Name))
	}
}

// sliceByIndices gathers arr's rows named by indices out of maximal
// contiguous ascending runs, slicing each run with array.NewSlice (a
// zero-copy view sharing the original buffers) and concatenating the
// pieces. A fully contiguous index set, the common case for a range
// predicate, costs a single slice and no concatenation at all.
func sliceByIndices(arr arrow.Array, indices []int, mem memory.Allocator) (arrow.Array, error) {
	if len(indices) == 0 {
		return array.NewSlice(arr, 0, 0), nil
	}

	pieces := make([]arrow.Array, 0, 1)
	for _, r := range runs(indices) {
		pieces = append(pieces, array.NewSlice(arr, int64(r[0]), int64(r[1])))
	}
	defer func() {
		for _, p := range pieces {
			p.Release()
		}
	}()

	if len(pieces) == 1 {
		pieces[0].Retain()
		return pieces[0], nil
	}
	return array.Concatenate(pieces, mem)
}

// runs partitions indices into maximal [lo, hi) ranges of consecutive
// ascending values. A non-contiguous index set simply yields more,
// shorter runs; correctness does not depend on indices being sorted,
// only the amount of copying saved does.
func runs(indices []int) [][2]int {
	out := make([][2]int, 0, 1)
	lo, prev := indices[0], indices[0]
	for _, idx := range indices[1:] {
		if idx == prev+1 {
			prev = idx
			continue
		}
		out = append(out, [2]int{lo, prev + 1})
		lo, prev = idx, idx
	}
	out = append(out, [2]int{lo, prev + 1})
	return out
}

// Enumerator yields matching row indices in fixed-size batches, renting
// its buffer from a shared pool instead of allocating one per call, for
// callers that want to stream rows rather than hold the full result in
// memory at once.
type Enumerator struct {
	sel   *bitmap.SelectionBitmap
	row   int
	batch []int
}

var enumeratorBufPool = sync.Pool{
	New: func() interface{} { return make([]int, 0, 1024) },
}

// NewEnumerator returns an Enumerator over sel's set bits.
func NewEnumerator(sel *bitmap.SelectionBitmap) *Enumerator {
	return &Enumerator{sel: sel, batch: enumeratorBufPool.Get().([]int)[:0]}
}

// NextBatch fills the Enumerator's pooled buffer (capacity 1024) with the
// next matching row indices and returns it; a zero-length, non-nil result
// means exhausted. The returned slice is only valid until the next call
// to NextBatch or Close.
func (e *Enumerator) NextBatch() []int {
	e.batch = e.batch[:0]
	for e.row < e.sel.Len() && len(e.batch) < cap(e.batch) {
		if e.sel.Get(e.row) {
			e.batch = append(e.batch, e.row)
		}
		e.row++
	}
	return e.batch
}

// Close returns the Enumerator's internal buffer to the shared pool.
func (e *Enumerator) Close() {
	enumeratorBufPool.Put(e.batch[:0])
}
