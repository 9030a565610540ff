// Package arrowquery is the embedded columnar analytics query engine:
// compile a declarative query over a single in-memory Apache Arrow
// record batch into a logical plan, optimize it, and execute it,
// producing materialized rows, a scalar or grouped aggregate, or a new
// Arrow record batch.
package arrowquery

import (
	"context"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/opentracing/opentracing-go"

	"github.com/src-d/arrowquery/batch"
	"github.com/src-d/arrowquery/executor"
	"github.com/src-d/arrowquery/plan"
	"github.com/src-d/arrowquery/sqlingest"
)

// Result is the tagged union of spec.md §6.2: a scalar aggregate,
// grouped aggregate rows, materialized row indices, or a new Arrow record.
type Result = executor.Result

// Engine borrows a single arrow.Record for its lifetime and answers
// Plan/Run/RunSQL queries against it, reusing a worker pool and plan
// cache across calls.
type Engine struct {
	batch *batch.RecordBatch
	opts  Options
	exec  *executor.Executor
}

// New wraps rec as the engine's single record batch. rec's schema and
// validity buffers are read directly, never copied; the caller must keep
// rec alive for the Engine's lifetime.
func New(rec arrow.Record, opts Options) (*Engine, error) {
	if opts.Allocator == nil {
		opts.Allocator = DefaultOptions().Allocator
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	rb, err := batch.Wrap(rec, opts.ChunkSize)
	if err != nil {
		return nil, err
	}

	var cache *plan.Cache
	if opts.PlanCacheEnabled {
		cache = plan.NewCache(opts.PlanCacheMaxSize, opts.MetricsRegistry)
	} else {
		cache = plan.NewCache(0, opts.MetricsRegistry)
	}

	return &Engine{
		batch: rb,
		opts:  opts,
		exec:  executor.New(rb, opts, cache, opentracing.GlobalTracer()),
	}, nil
}

// Plan optimizes root and bridges it to the flattened, executable
// QueryPlan form, without running it. Exposed mainly for tests and
// callers that want to inspect the optimizer's output.
func (e *Engine) Plan(root plan.Node) (*plan.QueryPlan, error) {
	optimized := plan.Optimize(root, e.batch)
	return plan.Bridge(optimized), nil
}

// Run executes root (an already-built logical plan, e.g. from a host
// language's expression-tree front end) against the engine's batch.
func (e *Engine) Run(ctx context.Context, root plan.Node) (Result, error) {
	return e.exec.Run(ctx, root)
}

// RunSQL parses query against the engine's schema (spec.md §6.4's
// regex-recognized SQL subset) and runs the resulting plan.
func (e *Engine) RunSQL(ctx context.Context, query string) (Result, error) {
	root, err := sqlingest.Parse(query, e.batch)
	if err != nil {
		return Result{}, err
	}
	return e.exec.Run(ctx, root)
}

// NumRows returns the row count of the engine's underlying batch.
func (e *Engine) NumRows() int { return e.batch.NumRows() }
