package aggregate

import (
	"fmt"
	"math"
	"sync"

	"github.com/apache/arrow/go/v12/arrow"

	"github.com/src-d/arrowquery/batch"
	"github.com/src-d/arrowquery/errkind"
	"github.com/src-d/arrowquery/predicate"
	"github.com/src-d/arrowquery/workerpool"
)

// Eligible implements the applicability test of spec §4.6: exactly one
// (non-grouped) aggregate, at least one predicate, row count >= 1000,
// and the aggregate column a supported primitive.
func Eligible(desc Descriptor, preds []predicate.Predicate, b *batch.RecordBatch) bool {
	if len(preds) == 0 || b.NumRows() < 1000 {
		return false
	}
	if desc.Column == "" {
		return true // Count(*) has no column to check.
	}
	t, err := b.ColumnType(desc.Column)
	if err != nil {
		return false
	}
	switch t {
	case arrow.INT32, arrow.INT64, arrow.FLOAT32, arrow.FLOAT64:
		return true
	default:
		return false // dictionary, decimal128, string, bool, etc. are not fused-eligible.
	}
}

// partial is a per-chunk accumulator; the reduce step over the chunk
// axis is associative (spec §4.6 "map over chunks... reduce is
// associative"). Integer min/max are tracked natively in imin/imax
// rather than via a float64 intermediate, matching bitmapagg.go's
// aggregateInt — converting through float64 silently loses precision
// above 2^53, which would break spec invariant #7 (fused and bitmap
// paths must agree) for large-magnitude int64 columns.
type partial struct {
	sum        float64
	isum       int64
	overflow   bool
	count      int64
	min, max   float64
	imin, imax int64
	hasValue   bool
}

func (p *partial) mergeFloat(v float64) {
	p.sum += v
	p.count++
	if !p.hasValue || v < p.min {
		p.min = v
	}
	if !p.hasValue || v > p.max {
		p.max = v
	}
	p.hasValue = true
}

func (p *partial) mergeInt(v int64) {
	next, ok := addOverflow(p.isum, v)
	if !ok {
		p.overflow = true
	}
	p.isum = next
	p.count++
	if !p.hasValue || v < p.imin {
		p.imin = v
	}
	if !p.hasValue || v > p.imax {
		p.imax = v
	}
	p.hasValue = true
}

func reduce(parts []partial) partial {
	out := partial{min: math.Inf(1), max: math.Inf(-1), imin: math.MaxInt64, imax: math.MinInt64}
	for _, p := range parts {
		if !p.hasValue {
			continue
		}
		out.sum += p.sum
		next, ok := addOverflow(out.isum, p.isum)
		if !ok {
			out.overflow = true
		}
		out.isum = next
		out.overflow = out.overflow || p.overflow
		out.count += p.count
		if !out.hasValue || p.min < out.min {
			out.min = p.min
		}
		if !out.hasValue || p.max > out.max {
			out.max = p.max
		}
		if p.imin < out.imin {
			out.imin = p.imin
		}
		if p.imax > out.imax {
			out.imax = p.imax
		}
		out.hasValue = true
	}
	return out
}

// Fused implements the single-pass filter+aggregate path of spec §4.6
// (C6): for each chunk, skip it outright if any predicate's zone map
// proves no match (predicate.CanSkipChunk), otherwise walk the chunk's
// rows evaluating every predicate and, on a match, fold the row's value
// into the chunk's partial accumulator — all without ever allocating a
// SelectionBitmap. Eligibility must be checked with Eligible before
// calling Fused.
func Fused(desc Descriptor, preds []predicate.Predicate, b *batch.RecordBatch, pool *workerpool.Pool) (Result, error) {
	if err := desc.Validate(); err != nil {
		return Result{}, err
	}

	numChunks := b.NumChunks()
	parts := make([]partial, numChunks)

	isInt, err := isIntegerAggregate(desc, b)
	if err != nil {
		return Result{}, err
	}

	var panicErr error
	var mu sync.Mutex
	pool.Run(numChunks, func(k int) {
		defer func() {
			if r := recover(); r != nil {
				mu.Lock()
				panicErr = errkind.InternalFused.New(fmt.Sprintf("chunk %d: %v", k, r))
				mu.Unlock()
			}
		}()

		if predicate.CanSkipChunk(preds, b, k) {
			return
		}
		lo, hi := b.ChunkBounds(k)
		part, err := evaluateChunk(desc, preds, b, lo, hi, isInt)
		if err != nil {
			mu.Lock()
			panicErr = err
			mu.Unlock()
			return
		}
		parts[k] = part
	})
	if panicErr != nil {
		return Result{}, panicErr
	}

	agg := reduce(parts)

	switch desc.Op {
	case Count, LongCount:
		return Result{Op: desc.Op, Int64: agg.count}, nil
	case Sum:
		if isInt {
			if agg.overflow {
				return Result{}, errkind.Overflow.New(desc.Column)
			}
			return Result{Op: desc.Op, Int64: agg.isum}, nil
		}
		return Result{Op: desc.Op, Float64: agg.sum, IsFloat: true}, nil
	case Avg:
		if agg.count == 0 {
			return Result{}, errkind.EmptySequence.New("Avg")
		}
		if isInt {
			return Result{Op: desc.Op, Float64: float64(agg.isum) / float64(agg.count), IsFloat: true}, nil
		}
		return Result{Op: desc.Op, Float64: agg.sum / float64(agg.count), IsFloat: true}, nil
	case Min:
		if !agg.hasValue {
			return Result{}, errkind.EmptySequence.New("Min")
		}
		if isInt {
			return Result{Op: desc.Op, Int64: agg.imin}, nil
		}
		return Result{Op: desc.Op, Float64: agg.min, IsFloat: true}, nil
	case Max:
		if !agg.hasValue {
			return Result{}, errkind.EmptySequence.New("Max")
		}
		if isInt {
			return Result{Op: desc.Op, Int64: agg.imax}, nil
		}
		return Result{Op: desc.Op, Float64: agg.max, IsFloat: true}, nil
	default:
		return Result{}, errkind.InvalidArgument.New(fmt.Sprintf("unsupported aggregate op %d", desc.Op))
	}
}

func isIntegerAggregate(desc Descriptor, b *batch.RecordBatch) (bool, error) {
	if desc.Column == "" {
		return true, nil
	}
	t, err := b.ColumnType(desc.Column)
	if err != nil {
		return false, err
	}
	return t == arrow.INT32 || t == arrow.INT64, nil
}

func evaluateChunk(desc Descriptor, preds []predicate.Predicate, b *batch.RecordBatch, lo, hi int, isInt bool) (partial, error) {
	part := partial{min: math.Inf(1), max: math.Inf(-1), imin: math.MaxInt64, imax: math.MinInt64}

	var getValue func(row int) (float64, int64, error)
	if desc.Column != "" {
		var err error
		getValue, err = valueGetter(b, desc.Column)
		if err != nil {
			return partial{}, err
		}
	}

	for row := lo; row < hi; row++ {
		matched := true
		for _, p := range preds {
			ok, err := p.EvaluateRow(b, row)
			if err != nil {
				return partial{}, err
			}
			if !ok {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		if desc.Column == "" {
			part.count++
			part.hasValue = true
			continue
		}
		fv, iv, err := getValue(row)
		if err != nil {
			return partial{}, err
		}
		if isInt {
			part.mergeInt(iv)
		} else {
			part.mergeFloat(fv)
		}
	}
	return part, nil
}

func valueGetter(b *batch.RecordBatch, column string) (func(row int) (float64, int64, error), error) {
	arr, err := b.ColumnByName(column)
	if err != nil {
		return nil, err
	}
	switch a := arr.(type) {
	case interface{ Value(int) int32 }:
		return func(row int) (float64, int64, error) {
			v := a.Value(row)
			return float64(v), int64(v), nil
		}, nil
	case interface{ Value(int) int64 }:
		return func(row int) (float64, int64, error) {
			v := a.Value(row)
			return float64(v), v, nil
		}, nil
	case interface{ Value(int) float32 }:
		return func(row int) (float64, int64, error) {
			v := a.Value(row)
			return float64(v), int64(v), nil
		}, nil
	case interface{ Value(int) float64 }:
		return func(row int) (float64, int64, error) {
			v := a.Value(row)
			return v, int64(v), nil
		}, nil
	default:
		return nil, errkind.InvalidArgument.New(fmt.Sprintf("column %q is not a supported aggregate type", column))
	}
}
