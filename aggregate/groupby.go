package aggregate

import (
	"fmt"
	"math"
	"sort"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"

	"github.com/src-d/arrowquery/batch"
	"github.com/src-d/arrowquery/bitmap"
	"github.com/src-d/arrowquery/errkind"
	"github.com/src-d/arrowquery/workerpool"
)

// GroupResult is a single `{key, aggregate_results_by_name}` row of
// spec.md §6.2's grouped-query return shape.
type GroupResult struct {
	Key     interface{}
	Results map[string]Result
}

// groupAcc is the running per-group, per-descriptor accumulator. Integer
// min/max are tracked natively in imin/imax rather than via a float64
// intermediate, matching bitmapagg.go's aggregateInt — a conversion
// through float64 silently loses precision above 2^53.
type groupAcc struct {
	count         int64
	sum           float64
	isum          int64
	overflow      bool
	min, max      float64
	imin, imax    int64
	hasValue      bool
	isIntegerType bool
}

func newGroupAcc(isInt bool) *groupAcc {
	a := &groupAcc{isIntegerType: isInt}
	if isInt {
		a.imin, a.imax = math.MaxInt64, math.MinInt64
	} else {
		a.min, a.max = math.Inf(1), math.Inf(-1)
	}
	return a
}

// ComputeGroupBy implements the `GroupBy{input, key_col, key_type, aggs[],
// key_property_name}` node of spec §3: for every row selected by sel,
// bucket it by keyColumn's value and fold it into one accumulator per
// requested descriptor. Like the bitmap aggregator (C7, spec §4.7), the
// caller has already reduced predicates to a SelectionBitmap; ComputeGroupBy
// fans the per-group accumulation out over pool, one chunk per worker,
// each building an independent local map, then merges the per-chunk maps
// sequentially — the same map/reduce split Fused uses over the chunk
// axis. Output is ordered ascending by key (spec §6.2 "an ordered list"),
// for deterministic results across runs of the same query.
func ComputeGroupBy(b *batch.RecordBatch, keyColumn string, descs []Descriptor, sel *bitmap.SelectionBitmap, pool *workerpool.Pool) ([]GroupResult, error) {
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
	}

	keyArr, err := b.ColumnByName(keyColumn)
	if err != nil {
		return nil, err
	}
	keyGetter, keyIsInt, err := groupKeyGetter(keyArr)
	if err != nil {
		return nil, err
	}

	getters := make([]func(row int) (float64, int64, error), len(descs))
	isInt := make([]bool, len(descs))
	for i, d := range descs {
		if d.Column == "" {
			continue // Count(*): no value getter needed.
		}
		var err error
		isInt[i], err = isIntegerColumnType(b, d.Column)
		if err != nil {
			return nil, err
		}
		g, err := valueGetter(b, d.Column)
		if err != nil {
			return nil, err
		}
		getters[i] = g
	}

	numChunks := b.NumChunks()
	parts := make([]map[interface{}][]*groupAcc, numChunks)
	errs := make([]error, numChunks)

	pool.Run(numChunks, func(k int) {
		lo, hi := b.ChunkBounds(k)
		local := map[interface{}][]*groupAcc{}
		var chunkErr error

		sel.ForEachSetRange(lo, hi, func(row int) {
			if chunkErr != nil {
				return
			}

			key, err := keyGetter(row)
			if err != nil {
				chunkErr = err
				return
			}
			accs, ok := local[key]
			if !ok {
				accs = make([]*groupAcc, len(descs))
				for i := range accs {
					accs[i] = newGroupAcc(isInt[i])
				}
				local[key] = accs
			}

			for i, desc := range descs {
				if desc.Column == "" {
					accs[i].count++
					continue
				}
				fv, iv, err := getters[i](row)
				if err != nil {
					chunkErr = err
					return
				}
				if isInt[i] {
					accs[i].mergeIntVal(iv)
				} else {
					accs[i].mergeFloatVal(fv)
				}
			}
		})

		parts[k] = local
		errs[k] = chunkErr
	})
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	groups := map[interface{}][]*groupAcc{}
	for _, local := range parts {
		for key, accs := range local {
			existing, ok := groups[key]
			if !ok {
				groups[key] = accs
				continue
			}
			for i := range descs {
				mergeGroupAcc(existing[i], accs[i])
			}
		}
	}

	out := make([]GroupResult, 0, len(groups))
	for key, accs := range groups {
		results := make(map[string]Result, len(descs))
		for i, desc := range descs {
			r, err := accs[i].finalize(desc)
			if err != nil {
				return nil, err
			}
			results[desc.ResultName] = r
		}
		out = append(out, GroupResult{Key: key, Results: results})
	}

	sort.Slice(out, func(i, j int) bool {
		if keyIsInt {
			return out[i].Key.(int64) < out[j].Key.(int64)
		}
		return fmt.Sprint(out[i].Key) < fmt.Sprint(out[j].Key)
	})
	return out, nil
}

func (a *groupAcc) mergeIntVal(v int64) {
	a.count++
	next, ok := addOverflow(a.isum, v)
	if !ok {
		a.overflow = true
	}
	a.isum = next
	if !a.hasValue || v < a.imin {
		a.imin = v
	}
	if !a.hasValue || v > a.imax {
		a.imax = v
	}
	a.hasValue = true
}

func (a *groupAcc) mergeFloatVal(v float64) {
	a.count++
	a.sum += v
	if !a.hasValue || v < a.min {
		a.min = v
	}
	if !a.hasValue || v > a.max {
		a.max = v
	}
	a.hasValue = true
}

// mergeGroupAcc folds src, a same-descriptor accumulator built over a
// different chunk, into dst.
func mergeGroupAcc(dst, src *groupAcc) {
	dst.count += src.count
	if dst.isIntegerType {
		next, ok := addOverflow(dst.isum, src.isum)
		if !ok {
			dst.overflow = true
		}
		dst.isum = next
		dst.overflow = dst.overflow || src.overflow
		if src.hasValue && (!dst.hasValue || src.imin < dst.imin) {
			dst.imin = src.imin
		}
		if src.hasValue && (!dst.hasValue || src.imax > dst.imax) {
			dst.imax = src.imax
		}
	} else {
		dst.sum += src.sum
		if src.hasValue && (!dst.hasValue || src.min < dst.min) {
			dst.min = src.min
		}
		if src.hasValue && (!dst.hasValue || src.max > dst.max) {
			dst.max = src.max
		}
	}
	if src.hasValue {
		dst.hasValue = true
	}
}

func (a *groupAcc) finalize(desc Descriptor) (Result, error) {
	switch desc.Op {
	case Count, LongCount:
		return Result{Op: desc.Op, Int64: a.count}, nil
	case Sum:
		if a.isIntegerType {
			if a.overflow {
				return Result{}, errkind.Overflow.New(desc.Column)
			}
			return Result{Op: desc.Op, Int64: a.isum}, nil
		}
		return Result{Op: desc.Op, Float64: a.sum, IsFloat: true}, nil
	case Avg:
		if a.count == 0 {
			return Result{}, errkind.EmptySequence.New("Avg")
		}
		if a.isIntegerType {
			return Result{Op: desc.Op, Float64: float64(a.isum) / float64(a.count), IsFloat: true}, nil
		}
		return Result{Op: desc.Op, Float64: a.sum / float64(a.count), IsFloat: true}, nil
	case Min:
		if !a.hasValue {
			return Result{}, errkind.EmptySequence.New("Min")
		}
		if a.isIntegerType {
			return Result{Op: desc.Op, Int64: a.imin}, nil
		}
		return Result{Op: desc.Op, Float64: a.min, IsFloat: true}, nil
	case Max:
		if !a.hasValue {
			return Result{}, errkind.EmptySequence.New("Max")
		}
		if a.isIntegerType {
			return Result{Op: desc.Op, Int64: a.imax}, nil
		}
		return Result{Op: desc.Op, Float64: a.max, IsFloat: true}, nil
	default:
		return Result{}, errkind.InvalidArgument.New(fmt.Sprintf("unsupported aggregate op %d", desc.Op))
	}
}

func isIntegerColumnType(b *batch.RecordBatch, column string) (bool, error) {
	t, err := b.ColumnType(column)
	if err != nil {
		return false, err
	}
	return t == arrow.INT32 || t == arrow.INT64, nil
}

// groupKeyGetter returns a function extracting row's group-key value as a
// comparable Go value (int64 or string), plus whether the key is integer
// typed (spec §3 `key_type`).
func groupKeyGetter(arr arrow.Array) (func(row int) (interface{}, error), bool, error) {
	switch a := arr.(type) {
	case *array.Int32:
		return func(row int) (interface{}, error) { return int64(a.Value(row)), nil }, true, nil
	case *array.Int64:
		return func(row int) (interface{}, error) { return a.Value(row), nil }, true, nil
	case *array.String:
		return func(row int) (interface{}, error) { return a.Value(row), nil }, false, nil
	default:
		return nil, false, errkind.Unsupported.New(fmt.Sprintf("group-by key type %T is not supported", arr))
	}
}
