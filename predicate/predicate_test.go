package predicate_test

import (
	"math/rand"
	"testing"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/src-d/arrowquery/batch"
	"github.com/src-d/arrowquery/bitmap"
	"github.com/src-d/arrowquery/predicate"
)

func buildBatch(t *testing.T, n int) *batch.RecordBatch {
	t.Helper()
	mem := memory.NewGoAllocator()
	ib := array.NewInt32Builder(mem)
	defer ib.Release()
	for i := 0; i < n; i++ {
		if i%7 == 0 {
			ib.AppendNull()
			continue
		}
		ib.Append(int32(i))
	}
	col := ib.NewInt32Array()
	defer col.Release()

	schema := arrow.NewSchema([]arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Int32, Nullable: true}}, nil)
	rec := array.NewRecord(schema, []arrow.Array{col}, int64(n))

	rb, err := batch.Wrap(rec, 64)
	require.NoError(t, err)
	return rb
}

// TestEvaluateRangeMatchesEvaluateRow is the fuzzer for universal
// invariant #2 of spec §8: evaluate_range clearing bit r must agree with
// evaluate_row(r) for every row, for every predicate.
func TestEvaluateRangeMatchesEvaluateRow(t *testing.T) {
	require := require.New(t)
	rb := buildBatch(t, 500)

	preds := []predicate.Predicate{
		predicate.NewCmp[int32]("a", predicate.OpGt, 250),
		predicate.NewCmp[int32]("a", predicate.OpLe, 100),
		predicate.NewIsNull("a", true),
		predicate.NewOr(
			predicate.NewCmp[int32]("a", predicate.OpEq, 10),
			predicate.NewCmp[int32]("a", predicate.OpEq, 20),
		),
		predicate.NewNot(predicate.NewCmp[int32]("a", predicate.OpLt, 50)),
	}

	rng := rand.New(rand.NewSource(1))
	for _, p := range preds {
		sel := bitmap.Create(rb.NumRows(), true)
		require.NoError(p.EvaluateRange(rb, sel, 0, rb.NumRows()))

		for i := 0; i < 50; i++ {
			row := rng.Intn(rb.NumRows())
			rowResult, err := p.EvaluateRow(rb, row)
			require.NoError(err)
			require.Equal(rowResult, sel.Get(row), "row %d", row)
		}
		sel.Release()
	}
}

func TestZoneMapSkipIsSafe(t *testing.T) {
	require := require.New(t)
	rb := buildBatch(t, 500)

	p := predicate.NewCmp[int32]("a", predicate.OpGt, 490)
	zm := rb.ZoneMap("a")

	for k := 0; k < rb.NumChunks(); k++ {
		lo, hi := rb.ChunkBounds(k)
		anyMatch := false
		for row := lo; row < hi; row++ {
			ok, err := p.EvaluateRow(rb, row)
			require.NoError(err)
			if ok {
				anyMatch = true
				break
			}
		}
		if anyMatch {
			require.True(p.MayContainMatches(zm, k), "chunk %d has a match but was skipped", k)
		}
	}
}

func TestReorderIsAscendingBySelectivity(t *testing.T) {
	require := require.New(t)
	rb := buildBatch(t, 1000)

	preds := []predicate.Predicate{
		predicate.NewCmp[int32]("a", predicate.OpGe, 0),   // selectivity ~1 (matches ~all)
		predicate.NewCmp[int32]("a", predicate.OpEq, 999), // selectivity 0.1 (equality estimate)
	}
	ordered := predicate.Reorder(preds, rb, rb.NumRows())

	zm := rb.ZoneMap("a")
	first := ordered[0].EstimatedSelectivity(zm, rb.NumRows())
	second := ordered[1].EstimatedSelectivity(zm, rb.NumRows())
	require.LessOrEqual(first, second)
}
