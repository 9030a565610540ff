// Package executor implements C10 of spec.md §4: the strategy-selecting
// driver that turns an optimized plan into a Result, choosing among the
// fused, streaming, sparse, and bitmap execution paths.
package executor

import (
	"context"
	"fmt"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"

	"github.com/src-d/arrowquery/aggregate"
	"github.com/src-d/arrowquery/batch"
	"github.com/src-d/arrowquery/bitmap"
	"github.com/src-d/arrowquery/collect"
	"github.com/src-d/arrowquery/errkind"
	"github.com/src-d/arrowquery/materialize"
	"github.com/src-d/arrowquery/plan"
	"github.com/src-d/arrowquery/predicate"
	"github.com/src-d/arrowquery/workerpool"
)

// ResultKind tags which variant of spec §6.2's result union a Result
// holds.
type ResultKind int

const (
	ResultScalar ResultKind = iota
	ResultGrouped
	ResultRows
	ResultRecord
)

// Result is the tagged union of spec §6.2: a scalar aggregate, grouped
// aggregate rows, materialized row indices, or a new Arrow record.
type Result struct {
	Kind    ResultKind
	Scalar  aggregate.Result
	Grouped []aggregate.GroupResult
	Rows    []int
	Record  arrow.Record
}

// Executor drives one or more queries against a single borrowed
// RecordBatch, reusing a worker pool, plan cache, and ambient
// observability across calls.
type Executor struct {
	Batch   *batch.RecordBatch
	Options Options
	Cache   *plan.Cache
	pool    *workerpool.Pool
	log     *logrus.Logger
	tracer  opentracing.Tracer
}

// New builds an Executor over b. tracer may be nil, in which case an
// opentracing.NoopTracer is used.
func New(b *batch.RecordBatch, opts Options, cache *plan.Cache, tracer opentracing.Tracer) *Executor {
	if tracer == nil {
		tracer = opentracing.NoopTracer{}
	}
	return &Executor{
		Batch:   b,
		Options: opts,
		Cache:   cache,
		pool:    workerpool.New(opts.effectiveMaxDegree()),
		log:     logrus.New(),
		tracer:  tracer,
	}
}

// Run optimizes (or fetches from cache) root and executes it, returning
// the appropriate Result variant.
func (e *Executor) Run(ctx context.Context, root plan.Node) (Result, error) {
	correlationID, err := uuid.NewV4()
	if err != nil {
		correlationID = uuid.Nil
	}
	span := e.tracer.StartSpan("executor.Run")
	defer span.Finish()
	span.SetTag("query.correlation_id", correlationID.String())

	entry := e.log.WithField("correlation_id", correlationID.String())

	optimized, fromCache := e.Cache.Get(root)
	if !fromCache {
		optimized = plan.Optimize(root, e.Batch)
		e.Cache.Put(root, optimized)
	}
	entry.WithField("cache_hit", fromCache).Debug("plan resolved")

	qp := plan.Bridge(optimized)

	switch {
	case qp.SimpleAggregate != nil:
		return e.runAggregate(ctx, qp, entry, span)
	case qp.IsGroupByQuery:
		return e.runGroupBy(ctx, qp, entry, span)
	default:
		return e.runMaterialize(ctx, qp, entry, span)
	}
}

func (e *Executor) runAggregate(ctx context.Context, qp *plan.QueryPlan, entry *logrus.Entry, span opentracing.Span) (Result, error) {
	desc := *qp.SimpleAggregate
	if aggregate.Eligible(desc, qp.Predicates, e.Batch) {
		stage := e.tracer.StartSpan("executor.fused", opentracing.ChildOf(span.Context()))
		result, err := aggregate.Fused(desc, qp.Predicates, e.Batch, e.pool)
		stage.Finish()
		if err == nil {
			entry.Debug("executed via fused path")
			return Result{Kind: ResultScalar, Scalar: result}, nil
		}
		if !errkind.InternalFused.Is(err) {
			return Result{}, err
		}
		// Fused path failed internally: retry once via the bitmap path
		// (spec §7 "the fused->bitmap retry is the only self-healing
		// path"); this failure is not surfaced unless the retry also fails.
		entry.WithError(err).Warn("fused path failed, retrying via bitmap path")
	}

	stage := e.tracer.StartSpan("executor.bitmap_aggregate", opentracing.ChildOf(span.Context()))
	defer stage.Finish()
	sel, err := e.buildBitmap(qp.Predicates)
	if err != nil {
		return Result{}, err
	}
	defer sel.Release()

	result, err := aggregate.ComputeBitmap(desc, e.Batch, sel)
	if err != nil {
		return Result{}, err
	}
	entry.Debug("executed via bitmap path")
	return Result{Kind: ResultScalar, Scalar: result}, nil
}

func (e *Executor) runGroupBy(ctx context.Context, qp *plan.QueryPlan, entry *logrus.Entry, span opentracing.Span) (Result, error) {
	stage := e.tracer.StartSpan("executor.group_by", opentracing.ChildOf(span.Context()))
	defer stage.Finish()

	sel, err := e.buildBitmap(qp.Predicates)
	if err != nil {
		return Result{}, err
	}
	defer sel.Release()

	groups, err := aggregate.ComputeGroupBy(e.Batch, qp.GroupBy.KeyColumn, qp.GroupBy.Aggregates, sel, e.pool)
	if err != nil {
		return Result{}, err
	}
	entry.WithField("group_count", len(groups)).Debug("executed group-by")
	return Result{Kind: ResultGrouped, Grouped: groups}, nil
}

func (e *Executor) runMaterialize(ctx context.Context, qp *plan.QueryPlan, entry *logrus.Entry, span opentracing.Span) (Result, error) {
	rows, err := e.collectRows(qp, entry, span)
	if err != nil {
		return Result{}, err
	}
	rows = applyPagination(rows, qp)
	return Result{Kind: ResultRows, Rows: rows}, nil
}

// collectRows picks among the streaming, sparse, and bitmap collection
// strategies per spec §4.10's decision table.
func (e *Executor) collectRows(qp *plan.QueryPlan, entry *logrus.Entry, span opentracing.Span) ([]int, error) {
	switch {
	case qp.HasPagination && qp.Take > 0 && qp.PaginationBeforePredicates == false && qp.Take+qp.Skip < e.Batch.NumRows()/4:
		// Small-limit streaming fast path: short-circuit once we have
		// enough rows rather than scanning (and sorting) everything.
		stage := e.tracer.StartSpan("executor.streaming", opentracing.ChildOf(span.Context()))
		defer stage.Finish()
		rows, err := collect.Take(qp.Predicates, e.Batch, qp.Skip+qp.Take)
		if err != nil {
			return nil, err
		}
		entry.Debug("executed via streaming path")
		return rows, nil

	case qp.Selectivity > 0 && qp.Selectivity < collect.SparseThreshold:
		stage := e.tracer.StartSpan("executor.sparse", opentracing.ChildOf(span.Context()))
		defer stage.Finish()
		rows, err := collect.Sparse(qp.Predicates, e.Batch, e.pool, 0)
		if err != nil {
			return nil, err
		}
		entry.Debug("executed via sparse collector")
		return rows, nil

	default:
		stage := e.tracer.StartSpan("executor.bitmap_materialize", opentracing.ChildOf(span.Context()))
		defer stage.Finish()
		sel, err := e.buildBitmap(qp.Predicates)
		if err != nil {
			return nil, err
		}
		defer sel.Release()
		entry.Debug("executed via bitmap materialization")
		return materialize.Indices(sel, e.pool), nil
	}
}

// buildBitmap evaluates preds over every chunk of the batch in parallel,
// building a dense SelectionBitmap. Chunk boundaries are always multiples
// of 64 rows (enforced at batch.Wrap time), so workers touch disjoint
// blocks and need no synchronization (spec §5).
func (e *Executor) buildBitmap(preds []predicate.Predicate) (*bitmap.SelectionBitmap, error) {
	sel := bitmap.Create(e.Batch.NumRows(), true)
	ordered := predicate.Reorder(preds, e.Batch, e.Batch.NumRows())

	var firstErr error
	e.pool.Run(e.Batch.NumChunks(), func(k int) {
		lo, hi := e.Batch.ChunkBounds(k)
		if predicate.CanSkipChunk(ordered, e.Batch, k) {
			for row := lo; row < hi; row++ {
				sel.Clear(row)
			}
			return
		}
		for _, p := range ordered {
			if err := p.EvaluateRange(e.Batch, sel, lo, hi); err != nil {
				if firstErr == nil {
					firstErr = errors.Wrap(err, fmt.Sprintf("evaluating chunk %d", k))
				}
				return
			}
		}
	})
	if firstErr != nil {
		sel.Release()
		return nil, firstErr
	}
	return sel, nil
}

// applyPagination slices rows by (skip, take), clamping beyond-range
// skip/take to the boundary behaviours spec §8 requires (LIMIT/OFFSET
// greater than the row count yields an empty or fully-trimmed result,
// never an error).
func applyPagination(rows []int, qp *plan.QueryPlan) []int {
	if !qp.HasPagination {
		return rows
	}
	skip := qp.Skip
	if skip > len(rows) {
		skip = len(rows)
	}
	rows = rows[skip:]
	if qp.Take > 0 && qp.Take < len(rows) {
		rows = rows[:qp.Take]
	}
	return rows
}
