package aggregate_test

import (
	"testing"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/src-d/arrowquery/aggregate"
	"github.com/src-d/arrowquery/batch"
	"github.com/src-d/arrowquery/bitmap"
	"github.com/src-d/arrowquery/predicate"
	"github.com/src-d/arrowquery/workerpool"
)

// buildS3Batch reproduces scenario S3 of spec §8: N=100000 rows,
// ColA = row_index (int32), ColB = row_index * 0.5 (float64).
func buildS3Batch(t *testing.T) *batch.RecordBatch {
	t.Helper()
	const n = 100000
	mem := memory.NewGoAllocator()

	ab := array.NewInt32Builder(mem)
	defer ab.Release()
	bb := array.NewFloat64Builder(mem)
	defer bb.Release()
	for i := 0; i < n; i++ {
		ab.Append(int32(i))
		bb.Append(float64(i) * 0.5)
	}
	colA := ab.NewInt32Array()
	defer colA.Release()
	colB := bb.NewFloat64Array()
	defer colB.Release()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "ColA", Type: arrow.PrimitiveTypes.Int32},
		{Name: "ColB", Type: arrow.PrimitiveTypes.Float64},
	}, nil)
	rec := array.NewRecord(schema, []arrow.Array{colA, colB}, n)

	rb, err := batch.Wrap(rec, 16384)
	require.NoError(t, err)
	return rb
}

func TestS3SumWithFilter(t *testing.T) {
	require := require.New(t)
	rb := buildS3Batch(t)

	preds := []predicate.Predicate{predicate.NewCmp[int32]("ColA", predicate.OpLt, 10)}
	desc := aggregate.Descriptor{Op: aggregate.Sum, Column: "ColB", ResultName: "sum_b"}

	pool := workerpool.New(4)
	require.True(aggregate.Eligible(desc, preds, rb))
	fused, err := aggregate.Fused(desc, preds, rb, pool)
	require.NoError(err)
	require.InDelta(22.5, fused.Float64, 1e-9)

	// Bitmap path must agree exactly with the fused path (spec invariant #7).
	sel := bitmap.Create(rb.NumRows(), true)
	defer sel.Release()
	for _, p := range preds {
		require.NoError(p.EvaluateRange(rb, sel, 0, rb.NumRows()))
	}
	bitmapResult, err := aggregate.ComputeBitmap(desc, rb, sel)
	require.NoError(err)
	require.InDelta(fused.Float64, bitmapResult.Float64, 1e-9)
}

// TestS5AvgWithNulls reproduces scenario S5: N=8, ColA with two nulls,
// AVG(ColA) WHERE ColA > 0 == (1+2+3+5+7+8)/6.
func TestS5AvgWithNulls(t *testing.T) {
	require := require.New(t)
	mem := memory.NewGoAllocator()

	ab := array.NewInt32Builder(mem)
	defer ab.Release()
	vals := []int32{1, 2, 3, 0, 5, 0, 7, 8}
	nulls := map[int]bool{3: true, 5: true}
	for i, v := range vals {
		if nulls[i] {
			ab.AppendNull()
			continue
		}
		ab.Append(v)
	}
	col := ab.NewInt32Array()
	defer col.Release()

	schema := arrow.NewSchema([]arrow.Field{{Name: "ColA", Type: arrow.PrimitiveTypes.Int32, Nullable: true}}, nil)
	rec := array.NewRecord(schema, []arrow.Array{col}, 8)
	rb, err := batch.Wrap(rec, 64)
	require.NoError(err)

	preds := []predicate.Predicate{predicate.NewCmp[int32]("ColA", predicate.OpGt, 0)}
	sel := bitmap.Create(rb.NumRows(), true)
	defer sel.Release()
	for _, p := range preds {
		require.NoError(p.EvaluateRange(rb, sel, 0, rb.NumRows()))
	}

	desc := aggregate.Descriptor{Op: aggregate.Avg, Column: "ColA"}
	result, err := aggregate.ComputeBitmap(desc, rb, sel)
	require.NoError(err)
	require.InDelta(4.3333333333, result.Float64, 1e-6)
}

// TestS4GroupByUniformDistribution reproduces scenario S4: N=1000,
// ColA uniform in [0,99], SELECT ColA, COUNT(*) GROUP BY ColA should
// yield 100 groups each with a count within +-5% of 10.
func TestS4GroupByUniformDistribution(t *testing.T) {
	require := require.New(t)
	mem := memory.NewGoAllocator()
	ab := array.NewInt32Builder(mem)
	defer ab.Release()
	for i := 0; i < 1000; i++ {
		ab.Append(int32(i % 100))
	}
	col := ab.NewInt32Array()
	defer col.Release()

	schema := arrow.NewSchema([]arrow.Field{{Name: "ColA", Type: arrow.PrimitiveTypes.Int32}}, nil)
	rec := array.NewRecord(schema, []arrow.Array{col}, 1000)
	rb, err := batch.Wrap(rec, 64)
	require.NoError(err)

	preds := []predicate.Predicate{predicate.NewCmp[int32]("ColA", predicate.OpGe, 0)}
	sel := bitmap.Create(rb.NumRows(), true)
	defer sel.Release()
	for _, p := range preds {
		require.NoError(p.EvaluateRange(rb, sel, 0, rb.NumRows()))
	}

	pool := workerpool.New(4)
	groups, err := aggregate.ComputeGroupBy(rb, "ColA", []aggregate.Descriptor{{Op: aggregate.Count, ResultName: "n"}}, sel, pool)
	require.NoError(err)
	require.Len(groups, 100)

	for i, g := range groups {
		require.Equal(int64(i), g.Key)
		require.InDelta(10, g.Results["n"].Int64, 0.5)
	}
}

func TestMinOnEmptySelectionIsEmptySequence(t *testing.T) {
	require := require.New(t)
	mem := memory.NewGoAllocator()
	ib := array.NewInt32Builder(mem)
	defer ib.Release()
	ib.Append(1)
	col := ib.NewInt32Array()
	defer col.Release()

	schema := arrow.NewSchema([]arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Int32}}, nil)
	rec := array.NewRecord(schema, []arrow.Array{col}, 1)
	rb, err := batch.Wrap(rec, 64)
	require.NoError(err)

	sel := bitmap.Create(rb.NumRows(), false) // nothing selected
	defer sel.Release()

	_, err = aggregate.ComputeBitmap(aggregate.Descriptor{Op: aggregate.Min, Column: "a"}, rb, sel)
	require.Error(err)
}

// TestFusedInt64MinMaxPreservesPrecision guards spec invariant #7 (the
// fused path's result must equal the bitmap path's) for int64 magnitudes
// beyond 2^53, where a float64 intermediate would silently round.
func TestFusedInt64MinMaxPreservesPrecision(t *testing.T) {
	require := require.New(t)
	mem := memory.NewGoAllocator()

	const n = 2000
	const big = int64(1) << 62
	ib := array.NewInt64Builder(mem)
	defer ib.Release()
	for i := 0; i < n; i++ {
		ib.Append(int64(i))
	}
	col := ib.NewInt64Array()
	defer col.Release()

	schema := arrow.NewSchema([]arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Int64}}, nil)
	rec := array.NewRecord(schema, []arrow.Array{col}, n)
	_, err := batch.Wrap(rec, 64)
	require.NoError(err)

	preds := []predicate.Predicate{predicate.NewCmp[int64]("a", predicate.OpGe, 0)}
	desc := aggregate.Descriptor{Op: aggregate.Max, Column: "a"}

	// Rebuild the column with one huge value swapped in so Max must
	// exceed 2^53 exactly rather than as a rounded float64 approximation.
	ib2 := array.NewInt64Builder(mem)
	defer ib2.Release()
	for i := 0; i < n; i++ {
		if i == n/2 {
			ib2.Append(big + 1)
			continue
		}
		ib2.Append(int64(i))
	}
	col2 := ib2.NewInt64Array()
	defer col2.Release()
	rec2 := array.NewRecord(schema, []arrow.Array{col2}, n)
	rb2, err := batch.Wrap(rec2, 64)
	require.NoError(err)

	pool := workerpool.New(4)
	require.True(aggregate.Eligible(desc, preds, rb2))
	fused, err := aggregate.Fused(desc, preds, rb2, pool)
	require.NoError(err)
	require.Equal(big+1, fused.Int64)

	sel := bitmap.Create(rb2.NumRows(), true)
	defer sel.Release()
	for _, p := range preds {
		require.NoError(p.EvaluateRange(rb2, sel, 0, rb2.NumRows()))
	}
	bitmapResult, err := aggregate.ComputeBitmap(desc, rb2, sel)
	require.NoError(err)
	require.Equal(fused.Int64, bitmapResult.Int64)
}

// TestGroupByInt64MinMaxPreservesPrecision exercises the same precision
// requirement through the parallel, chunk-sharded GroupBy path.
func TestGroupByInt64MinMaxPreservesPrecision(t *testing.T) {
	require := require.New(t)
	mem := memory.NewGoAllocator()

	const n = 2000
	const big = int64(1) << 62
	keyB := array.NewInt32Builder(mem)
	defer keyB.Release()
	valB := array.NewInt64Builder(mem)
	defer valB.Release()
	for i := 0; i < n; i++ {
		keyB.Append(int32(i % 2))
		v := int64(i)
		if i == n/2 {
			v = big + 1
		}
		valB.Append(v)
	}
	keyCol := keyB.NewInt32Array()
	defer keyCol.Release()
	valCol := valB.NewInt64Array()
	defer valCol.Release()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "k", Type: arrow.PrimitiveTypes.Int32},
		{Name: "v", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	rec := array.NewRecord(schema, []arrow.Array{keyCol, valCol}, n)
	rb, err := batch.Wrap(rec, 64)
	require.NoError(err)

	sel := bitmap.Create(rb.NumRows(), true)
	defer sel.Release()
	pool := workerpool.New(4)

	groups, err := aggregate.ComputeGroupBy(rb, "k", []aggregate.Descriptor{{Op: aggregate.Max, Column: "v", ResultName: "max_v"}}, sel, pool)
	require.NoError(err)
	require.Len(groups, 2)

	var gotMax int64
	for _, g := range groups {
		if g.Key.(int64) == int64(n/2%2) {
			gotMax = g.Results["max_v"].Int64
		}
	}
	require.Equal(big+1, gotMax)
}
