package plan_test

import (
	"testing"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/src-d/arrowquery/aggregate"
	"github.com/src-d/arrowquery/batch"
	"github.com/src-d/arrowquery/plan"
	"github.com/src-d/arrowquery/predicate"
)

func buildPlanBatch(t *testing.T, n int) *batch.RecordBatch {
	t.Helper()
	mem := memory.NewGoAllocator()
	ib := array.NewInt32Builder(mem)
	defer ib.Release()
	for i := 0; i < n; i++ {
		ib.Append(int32(i))
	}
	col := ib.NewInt32Array()
	defer col.Release()

	schema := arrow.NewSchema([]arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Int32}}, nil)
	rec := array.NewRecord(schema, []arrow.Array{col}, int64(n))
	rb, err := batch.Wrap(rec, 64)
	require.NoError(t, err)
	return rb
}

// TestOptimizeIsIdempotent is spec invariant #3: re-optimizing an
// already-optimized plan changes nothing further.
func TestOptimizeIsIdempotent(t *testing.T) {
	require := require.New(t)
	rb := buildPlanBatch(t, 1000)

	root := &plan.Limit{N: 10, Input: &plan.Filter{
		Predicates: []predicate.Predicate{
			predicate.NewCmp[int32]("a", predicate.OpGe, 0),
			predicate.NewCmp[int32]("a", predicate.OpLt, 900),
		},
		Input: &plan.Project{
			Columns: []string{"a"},
			Input:   &plan.Scan{Source: "t", RowCount: rb.NumRows()},
		},
	}}

	once := plan.Optimize(root, rb)
	twice := plan.Optimize(once, rb)

	qp1 := plan.Bridge(once)
	qp2 := plan.Bridge(twice)

	require.Equal(len(qp1.Predicates), len(qp2.Predicates))
	require.Equal(qp1.Skip, qp2.Skip)
	require.Equal(qp1.Take, qp2.Take)
	require.InDelta(qp1.Selectivity, qp2.Selectivity, 1e-9)
}

// TestFilterMergeCombinesAdjacentFilters exercises optimizer rule 1.
func TestFilterMergeCombinesAdjacentFilters(t *testing.T) {
	require := require.New(t)
	rb := buildPlanBatch(t, 500)

	root := &plan.Filter{
		Predicates: []predicate.Predicate{predicate.NewCmp[int32]("a", predicate.OpLt, 400)},
		Input: &plan.Filter{
			Predicates: []predicate.Predicate{predicate.NewCmp[int32]("a", predicate.OpGe, 100)},
			Input:      &plan.Scan{Source: "t", RowCount: rb.NumRows()},
		},
	}

	optimized := plan.Optimize(root, rb)
	qp := plan.Bridge(optimized)
	require.Len(qp.Predicates, 2)

	// Both merged predicates survive into the flattened plan, each still
	// bound to column a.
	var columns []string
	for _, p := range qp.Predicates {
		columns = append(columns, p.ColumnName())
	}
	want := []string{"a", "a"}
	if diff := cmp.Diff(want, columns); diff != "" {
		t.Errorf("merged predicate column order mismatch (-want +got):\n%s", diff)
	}
}

// TestLimitOffsetOrderingNormalizesToOffsetThenLimit exercises rule 4:
// an Offset directly above a Limit (leaf-first: Limit appears before
// Offset in the chain) is rewritten so Offset always runs first.
func TestLimitOffsetOrderingNormalizesToOffsetThenLimit(t *testing.T) {
	require := require.New(t)
	rb := buildPlanBatch(t, 100)

	// Tree order Offset(Limit(Scan)) flattens leaf-first to
	// [Scan, Limit, Offset], Limit running before Offset, which the
	// optimizer must correct to Offset-then-Limit.
	root := &plan.Offset{N: 10, Input: &plan.Limit{N: 5, Input: &plan.Scan{Source: "t", RowCount: rb.NumRows()}}}
	optimized := plan.Optimize(root, rb)
	qp := plan.Bridge(optimized)

	require.True(qp.HasPagination)
	require.Equal(5, qp.Take)
	require.Equal(10, qp.Skip)
}

// TestPaginationBeforePredicatesFlag exercises the fast-path detection:
// Limit sitting directly over Scan with no Filter between them.
func TestPaginationBeforePredicatesFlag(t *testing.T) {
	require := require.New(t)
	rb := buildPlanBatch(t, 100)

	root := &plan.Limit{N: 5, Input: &plan.Scan{Source: "t", RowCount: rb.NumRows()}}
	qp := plan.Bridge(plan.Optimize(root, rb))
	require.True(qp.PaginationBeforePredicates)

	withFilter := &plan.Limit{N: 5, Input: &plan.Filter{
		Predicates: []predicate.Predicate{predicate.NewCmp[int32]("a", predicate.OpGe, 0)},
		Input:      &plan.Scan{Source: "t", RowCount: rb.NumRows()},
	}}
	qp2 := plan.Bridge(plan.Optimize(withFilter, rb))
	require.False(qp2.PaginationBeforePredicates)
}

// TestPushDownMovesFilterBeforeLimit exercises rule 2: a Filter that
// originally sits above (runs after) a Limit is pushed down so it runs
// before the Limit instead, limiting first and filtering after would
// change which rows match.
func TestPushDownMovesFilterBeforeLimit(t *testing.T) {
	require := require.New(t)
	rb := buildPlanBatch(t, 100)

	root := &plan.Filter{
		Predicates: []predicate.Predicate{predicate.NewCmp[int32]("a", predicate.OpGe, 0)},
		Input:      &plan.Limit{N: 5, Input: &plan.Scan{Source: "t", RowCount: rb.NumRows()}},
	}
	optimized := plan.Optimize(root, rb)
	qp := plan.Bridge(optimized)

	require.True(qp.PaginationBeforePredicates == false, "filter should now run before the limit")
	require.Len(qp.Predicates, 1)
}

func TestBridgeCarriesAggregateAndGroupBy(t *testing.T) {
	require := require.New(t)
	rb := buildPlanBatch(t, 100)

	aggRoot := &plan.Aggregate{Desc: aggregate.Descriptor{Op: aggregate.Sum, Column: "a"}, Input: &plan.Scan{Source: "t"}}
	qp := plan.Bridge(plan.Optimize(aggRoot, rb))
	require.NotNil(qp.SimpleAggregate)
	require.False(qp.IsGroupByQuery)

	gbRoot := &plan.GroupBy{
		KeyColumn:  "a",
		Aggregates: []aggregate.Descriptor{{Op: aggregate.Count}},
		Input:      &plan.Scan{Source: "t"},
	}
	qp2 := plan.Bridge(plan.Optimize(gbRoot, rb))
	require.True(qp2.IsGroupByQuery)
	require.Nil(qp2.SimpleAggregate)
}

func TestCacheHitAfterPut(t *testing.T) {
	require := require.New(t)
	rb := buildPlanBatch(t, 100)
	c := plan.NewCache(16, nil)

	root := &plan.Filter{
		Predicates: []predicate.Predicate{predicate.NewCmp[int32]("a", predicate.OpGt, 10)},
		Input:      &plan.Scan{Source: "t", RowCount: rb.NumRows()},
	}

	_, ok := c.Get(root)
	require.False(ok)

	optimized := plan.Optimize(root, rb)
	c.Put(root, optimized)

	cached, ok := c.Get(root)
	require.True(ok)
	require.NotNil(cached)

	hits, misses, rate := c.Stats()
	require.Equal(int64(1), hits)
	require.Equal(int64(1), misses)
	require.InDelta(0.5, rate, 1e-9)
}

// TestCacheRegistersPrometheusMetrics proves the Registerer passed to
// NewCache is actually wired, not merely accepted and ignored: a real
// prometheus.Registry must observe the cache's hit and miss counters
// moving.
func TestCacheRegistersPrometheusMetrics(t *testing.T) {
	require := require.New(t)
	rb := buildPlanBatch(t, 100)
	reg := prometheus.NewRegistry()
	c := plan.NewCache(16, reg)

	root := &plan.Scan{Source: "t", RowCount: rb.NumRows()}
	_, ok := c.Get(root) // miss
	require.False(ok)
	c.Put(root, root)
	_, ok = c.Get(root) // hit
	require.True(ok)

	families, err := reg.Gather()
	require.NoError(err)

	counts := map[string]float64{}
	for _, fam := range families {
		counts[fam.GetName()] = fam.GetMetric()[0].GetCounter().GetValue()
	}
	require.Equal(float64(1), counts["arrowquery_plan_cache_hits_total"])
	require.Equal(float64(1), counts["arrowquery_plan_cache_misses_total"])
}

func TestCacheDisabledIsNoOp(t *testing.T) {
	require := require.New(t)
	rb := buildPlanBatch(t, 10)
	c := plan.NewCache(0, nil)

	root := &plan.Scan{Source: "t", RowCount: rb.NumRows()}
	c.Put(root, root)
	_, ok := c.Get(root)
	require.False(ok)
}
