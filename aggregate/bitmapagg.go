package aggregate

import (
	"fmt"
	"math"

	"github.com/apache/arrow/go/v12/arrow/array"

	"github.com/src-d/arrowquery/batch"
	"github.com/src-d/arrowquery/bitmap"
	"github.com/src-d/arrowquery/errkind"
)

// ComputeBitmap implements the bitmap aggregator of spec §4.7 (C7): it is
// used whenever a SelectionBitmap already exists (grouped queries,
// multi-aggregate), iterating it block-wise via ForEachSet and skipping
// the per-row null check by bulk-AND-ing the column's validity bitmap
// into a private clone of the selection first.
func ComputeBitmap(desc Descriptor, b *batch.RecordBatch, sel *bitmap.SelectionBitmap) (Result, error) {
	if err := desc.Validate(); err != nil {
		return Result{}, err
	}

	if desc.Column == "" {
		return Result{Op: desc.Op, Int64: int64(sel.CountSet())}, nil
	}

	arr, err := b.ColumnByName(desc.Column)
	if err != nil {
		return Result{}, err
	}

	effective := sel
	if arr.NullBitmapBytes() != nil {
		effective = sel.Clone()
		defer effective.Release()
		effective.AndWithNullBitmap(arr.NullBitmapBytes(), 0)
	}

	switch a := arr.(type) {
	case *array.Int32:
		return aggregateInt(desc, effective, func(row int) int64 { return int64(a.Value(row)) })
	case *array.Int64:
		return aggregateInt(desc, effective, func(row int) int64 { return a.Value(row) })
	case *array.Float32:
		return aggregateFloat(desc, effective, func(row int) float64 { return float64(a.Value(row)) })
	case *array.Float64:
		return aggregateFloat(desc, effective, func(row int) float64 { return a.Value(row) })
	default:
		return Result{}, errkind.InvalidArgument.New(fmt.Sprintf("column %q is not a supported aggregate type", desc.Column))
	}
}

func aggregateInt(desc Descriptor, sel *bitmap.SelectionBitmap, get func(row int) int64) (Result, error) {
	var sum int64
	var count int64
	min, max := int64(math.MaxInt64), int64(math.MinInt64)
	hasValue := false
	overflow := false

	sel.ForEachSet(func(row int) {
		v := get(row)
		count++
		next, ok := addOverflow(sum, v)
		if !ok {
			overflow = true
		}
		sum = next
		if !hasValue || v < min {
			min = v
		}
		if !hasValue || v > max {
			max = v
		}
		hasValue = true
	})

	switch desc.Op {
	case Count, LongCount:
		return Result{Op: desc.Op, Int64: count}, nil
	case Sum:
		if overflow {
			return Result{}, errkind.Overflow.New(desc.Column)
		}
		return Result{Op: desc.Op, Int64: sum}, nil
	case Avg:
		if count == 0 {
			return Result{}, errkind.EmptySequence.New("Avg")
		}
		return Result{Op: desc.Op, Float64: float64(sum) / float64(count), IsFloat: true}, nil
	case Min:
		if !hasValue {
			return Result{}, errkind.EmptySequence.New("Min")
		}
		return Result{Op: desc.Op, Int64: min}, nil
	case Max:
		if !hasValue {
			return Result{}, errkind.EmptySequence.New("Max")
		}
		return Result{Op: desc.Op, Int64: max}, nil
	default:
		return Result{}, errkind.InvalidArgument.New(fmt.Sprintf("unsupported aggregate op %d", desc.Op))
	}
}

func aggregateFloat(desc Descriptor, sel *bitmap.SelectionBitmap, get func(row int) float64) (Result, error) {
	var sum float64
	var count int64
	min, max := math.Inf(1), math.Inf(-1)
	hasValue := false

	sel.ForEachSet(func(row int) {
		v := get(row)
		count++
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		hasValue = true
	})

	switch desc.Op {
	case Count, LongCount:
		return Result{Op: desc.Op, Int64: count}, nil
	case Sum:
		return Result{Op: desc.Op, Float64: sum, IsFloat: true}, nil
	case Avg:
		if count == 0 {
			return Result{}, errkind.EmptySequence.New("Avg")
		}
		return Result{Op: desc.Op, Float64: sum / float64(count), IsFloat: true}, nil
	case Min:
		if !hasValue {
			return Result{}, errkind.EmptySequence.New("Min")
		}
		return Result{Op: desc.Op, Float64: min, IsFloat: true}, nil
	case Max:
		if !hasValue {
			return Result{}, errkind.EmptySequence.New("Max")
		}
		return Result{Op: desc.Op, Float64: max, IsFloat: true}, nil
	default:
		return Result{}, errkind.InvalidArgument.New(fmt.Sprintf("unsupported aggregate op %d", desc.Op))
	}
}

// addOverflow adds two int64 values, reporting false if the result
// overflowed — spec §7 Overflow is checked at final reduction, saturating
// is not acceptable for correctness.
func addOverflow(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return sum, false
	}
	return sum, true
}
