package collect_test

import (
	"sort"
	"testing"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/src-d/arrowquery/batch"
	"github.com/src-d/arrowquery/bitmap"
	"github.com/src-d/arrowquery/collect"
	"github.com/src-d/arrowquery/predicate"
	"github.com/src-d/arrowquery/workerpool"
)

// buildS1Batch reproduces scenario S1 of spec §8: 1,000,000 synthetic
// rows with ColA = row_index.
func buildS1Batch(t *testing.T) *batch.RecordBatch {
	t.Helper()
	const n = 1000000
	mem := memory.NewGoAllocator()
	ab := array.NewInt32Builder(mem)
	defer ab.Release()
	for i := 0; i < n; i++ {
		ab.Append(int32(i))
	}
	col := ab.NewInt32Array()
	defer col.Release()

	schema := arrow.NewSchema([]arrow.Field{{Name: "ColA", Type: arrow.PrimitiveTypes.Int32}}, nil)
	rec := array.NewRecord(schema, []arrow.Array{col}, n)
	rb, err := batch.Wrap(rec, 16384)
	require.NoError(t, err)
	return rb
}

func TestS1SparseCollectMatchesTailRange(t *testing.T) {
	require := require.New(t)
	rb := buildS1Batch(t)

	preds := []predicate.Predicate{predicate.NewCmp[int32]("ColA", predicate.OpGt, 999000)}
	pool := workerpool.New(4)

	rows, err := collect.Sparse(preds, rb, pool, 0)
	require.NoError(err)
	require.Len(rows, 999)
	require.True(sort.IntsAreSorted(rows))
	require.Equal(999001, rows[0])
	require.Equal(999999, rows[len(rows)-1])
}

// TestSparseIsSubsetOfBitmapEnumeration is spec invariant #5: the sparse
// collector's output is strictly ascending and a subset of the bitmap
// enumeration's output.
func TestSparseIsSubsetOfBitmapEnumeration(t *testing.T) {
	require := require.New(t)
	rb := buildS1Batch(t)

	preds := []predicate.Predicate{predicate.NewCmp[int32]("ColA", predicate.OpGt, 999000)}
	pool := workerpool.New(4)

	sparseRows, err := collect.Sparse(preds, rb, pool, 0)
	require.NoError(err)

	sel := bitmap.Create(rb.NumRows(), true)
	defer sel.Release()
	for _, p := range preds {
		require.NoError(p.EvaluateRange(rb, sel, 0, rb.NumRows()))
	}
	bitmapRows := sel.SelectedIndices()
	bitmapSet := make(map[int]bool, len(bitmapRows))
	for _, r := range bitmapRows {
		bitmapSet[r] = true
	}

	last := -1
	for _, r := range sparseRows {
		require.Greater(r, last)
		require.True(bitmapSet[r])
		last = r
	}
}

func TestAnyFirstTakeAll(t *testing.T) {
	require := require.New(t)
	mem := memory.NewGoAllocator()
	ab := array.NewInt32Builder(mem)
	defer ab.Release()
	for i := 0; i < 20; i++ {
		ab.Append(int32(i))
	}
	col := ab.NewInt32Array()
	defer col.Release()
	schema := arrow.NewSchema([]arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Int32}}, nil)
	rec := array.NewRecord(schema, []arrow.Array{col}, 20)
	rb, err := batch.Wrap(rec, 64)
	require.NoError(err)

	gt10 := []predicate.Predicate{predicate.NewCmp[int32]("a", predicate.OpGt, 10)}
	any, err := collect.Any(gt10, rb)
	require.NoError(err)
	require.True(any)

	first, err := collect.First(gt10, rb)
	require.NoError(err)
	require.Equal(11, first)

	taken, err := collect.Take(gt10, rb, 3)
	require.NoError(err)
	require.Equal([]int{11, 12, 13}, taken)

	allPositive := []predicate.Predicate{predicate.NewCmp[int32]("a", predicate.OpGe, 0)}
	all, err := collect.All(allPositive, rb)
	require.NoError(err)
	require.True(all)

	allGt5 := []predicate.Predicate{predicate.NewCmp[int32]("a", predicate.OpGt, 5)}
	all, err = collect.All(allGt5, rb)
	require.NoError(err)
	require.False(all)
}
