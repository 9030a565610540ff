package predicate_test

import (
	"testing"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/decimal128"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/src-d/arrowquery/batch"
	"github.com/src-d/arrowquery/bitmap"
	"github.com/src-d/arrowquery/predicate"
)

func buildDecimalBatch(t *testing.T, n int) *batch.RecordBatch {
	t.Helper()
	mem := memory.NewGoAllocator()
	dt := &arrow.Decimal128Type{Precision: 18, Scale: 2}
	bld := array.NewDecimal128Builder(mem, dt)
	defer bld.Release()
	for i := 0; i < n; i++ {
		if i%11 == 0 {
			bld.AppendNull()
			continue
		}
		v, err := decimal128.FromFloat64(float64(i)+0.5, dt.Precision, dt.Scale)
		require.NoError(t, err)
		bld.Append(v)
	}
	col := bld.NewDecimal128Array()
	defer col.Release()

	schema := arrow.NewSchema([]arrow.Field{{Name: "d", Type: dt, Nullable: true}}, nil)
	rec := array.NewRecord(schema, []arrow.Array{col}, int64(n))
	rb, err := batch.Wrap(rec, 64)
	require.NoError(t, err)
	return rb
}

// TestDecimalCmpEvaluateRangeMatchesEvaluateRow is the decimal128
// instance of spec invariant #2: evaluate_range clearing bit r must
// agree with evaluate_row(r) for every row.
func TestDecimalCmpEvaluateRangeMatchesEvaluateRow(t *testing.T) {
	require := require.New(t)
	rb := buildDecimalBatch(t, 500)

	dt := &arrow.Decimal128Type{Precision: 18, Scale: 2}
	threshold, err := decimal128.FromFloat64(250.5, dt.Precision, dt.Scale)
	require.NoError(err)
	p := predicate.NewDecimalCmp("d", predicate.OpGt, threshold)

	sel := bitmap.Create(rb.NumRows(), true)
	defer sel.Release()
	require.NoError(p.EvaluateRange(rb, sel, 0, rb.NumRows()))

	for row := 0; row < rb.NumRows(); row++ {
		want, err := p.EvaluateRow(rb, row)
		require.NoError(err)
		require.Equal(want, sel.Get(row), "row %d", row)
	}
}

// TestDecimalCmpExactComparisonBeyondFloat64Precision guards against a
// lossy float64 intermediate: two decimal128 values differing only in
// digits past float64's 53-bit mantissa must still compare correctly.
func TestDecimalCmpExactComparisonBeyondFloat64Precision(t *testing.T) {
	require := require.New(t)
	mem := memory.NewGoAllocator()
	dt := &arrow.Decimal128Type{Precision: 38, Scale: 0}
	bld := array.NewDecimal128Builder(mem, dt)
	defer bld.Release()

	base := decimal128.FromU64(1 << 60)
	bld.Append(base)
	bigger := decimal128.FromU64((1 << 60) + 1)
	bld.Append(bigger)
	col := bld.NewDecimal128Array()
	defer col.Release()

	schema := arrow.NewSchema([]arrow.Field{{Name: "d", Type: dt}}, nil)
	rec := array.NewRecord(schema, []arrow.Array{col}, 2)
	rb, err := batch.Wrap(rec, 64)
	require.NoError(err)

	p := predicate.NewDecimalCmp("d", predicate.OpEq, bigger)
	ok, err := p.EvaluateRow(rb, 0)
	require.NoError(err)
	require.False(ok)
	ok, err = p.EvaluateRow(rb, 1)
	require.NoError(err)
	require.True(ok)
}
