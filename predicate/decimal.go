package predicate

import (
	"fmt"
	"math/big"

	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/decimal128"

	"github.com/src-d/arrowquery/batch"
	"github.com/src-d/arrowquery/bitmap"
	"github.com/src-d/arrowquery/errkind"
	"github.com/src-d/arrowquery/zonemap"
)

var bigTwo64 = new(big.Int).Lsh(big.NewInt(1), 64)

// decimalBigInt exactly widens a decimal128 (hi, lo) pair into an
// unscaled big.Int. hi and lo together form one 128-bit two's complement
// number, so this reconstructs it with plain signed arithmetic rather
// than risking the precision loss of a float64 conversion — Cmp<T> for
// decimal (spec §3) must compare unscaled values exactly.
func decimalBigInt(v decimal128.Num) *big.Int {
	out := new(big.Int).Mul(big.NewInt(v.HighBits()), bigTwo64)
	return out.Add(out, new(big.Int).SetUint64(v.LowBits()))
}

// DecimalCmp is the decimal128 member of spec §3's `Cmp<T>(col, op,
// value) for T ∈ {i32,i64,f64,decimal}` family. Go's ordering operators
// don't extend across a type-parameter constraint mixing the `~`-kind
// numeric types with a non-numeric-kind struct like decimal128.Num, so
// decimal comparison can't be folded into Cmp[T Numeric]'s generic body
// and gets its own non-generic type instead, using math/big for exact
// comparison of the unscaled 128-bit value.
type DecimalCmp struct {
	Column string
	Op     CompareOp
	Value  decimal128.Num
}

// NewDecimalCmp constructs a resolved DecimalCmp predicate.
func NewDecimalCmp(column string, op CompareOp, value decimal128.Num) *DecimalCmp {
	return &DecimalCmp{Column: column, Op: op, Value: value}
}

func (c *DecimalCmp) ColumnName() string { return c.Column }

func compareDecimal(op CompareOp, cmp int) (bool, error) {
	switch op {
	case OpEq:
		return cmp == 0, nil
	case OpNe:
		return cmp != 0, nil
	case OpLt:
		return cmp < 0, nil
	case OpLe:
		return cmp <= 0, nil
	case OpGt:
		return cmp > 0, nil
	case OpGe:
		return cmp >= 0, nil
	default:
		return false, errkind.InvalidArgument.New(fmt.Sprintf("unsupported numeric operator %d", op))
	}
}

func decimalArray(b *batch.RecordBatch, column string) (*array.Decimal128, error) {
	arr, err := columnArray(b, column)
	if err != nil {
		return nil, err
	}
	a, ok := arr.(*array.Decimal128)
	if !ok {
		return nil, errkind.InvalidArgument.New(fmt.Sprintf("column %q is not decimal128", column))
	}
	return a, nil
}

// EvaluateRange walks [lo, hi), clearing bits where the row is null or
// the comparison fails. Decimal128 has no zero-copy bulk value buffer
// the way Int32/Float64 do (array.Decimal128 exposes only per-row
// Value), so unlike Cmp[T] this evaluates row by row rather than in
// 8-lane groups.
func (c *DecimalCmp) EvaluateRange(b *batch.RecordBatch, sel *bitmap.SelectionBitmap, lo, hi int) error {
	a, err := decimalArray(b, c.Column)
	if err != nil {
		return err
	}
	want := decimalBigInt(c.Value)
	for row := lo; row < hi; row++ {
		if a.IsNull(row) {
			sel.Clear(row)
			continue
		}
		ok, cmpErr := compareDecimal(c.Op, decimalBigInt(a.Value(row)).Cmp(want))
		if cmpErr != nil {
			return cmpErr
		}
		if !ok {
			sel.Clear(row)
		}
	}
	return nil
}

// EvaluateRow is the scalar equivalent used by streaming/sparse collectors.
func (c *DecimalCmp) EvaluateRow(b *batch.RecordBatch, row int) (bool, error) {
	a, err := decimalArray(b, c.Column)
	if err != nil {
		return false, err
	}
	if a.IsNull(row) {
		return false, nil
	}
	want := decimalBigInt(c.Value)
	return compareDecimal(c.Op, decimalBigInt(a.Value(row)).Cmp(want))
}

// MayContainMatches mirrors Cmp[T]'s zone-map skip test, widening both
// the chunk summary and the comparand through zonemap.ApproxFloat64 —
// the same lossy-but-monotonic conversion the zone map itself used when
// it was built, so the two stay consistent.
func (c *DecimalCmp) MayContainMatches(zm *zonemap.ZoneMap, chunkIndex int) bool {
	if zm == nil {
		return true
	}
	chunk := zm.At(chunkIndex)
	if chunk.AllNull {
		return false
	}
	v := zonemap.ApproxFloat64(c.Value.HighBits(), c.Value.LowBits())
	switch c.Op {
	case OpEq:
		return chunk.Min <= v && v <= chunk.Max
	case OpNe:
		return !(chunk.Min == v && chunk.Max == v)
	case OpLt:
		return chunk.Min < v
	case OpLe:
		return chunk.Min <= v
	case OpGt:
		return chunk.Max > v
	case OpGe:
		return chunk.Max >= v
	default:
		return true
	}
}

// EstimatedSelectivity mirrors Cmp[T]'s range/equality estimate, over
// the same approximate float64 widening MayContainMatches uses.
func (c *DecimalCmp) EstimatedSelectivity(zm *zonemap.ZoneMap, rowCount int) float64 {
	if zm == nil {
		return 0.5
	}
	min, max, ok := zm.Global()
	if !ok || max <= min {
		return 0.5
	}
	v := zonemap.ApproxFloat64(c.Value.HighBits(), c.Value.LowBits())
	width := max - min

	switch c.Op {
	case OpEq, OpNe:
		sel := 0.1
		if c.Op == OpNe {
			sel = 1 - sel
		}
		return clamp01(sel)
	case OpLt, OpLe:
		return clamp01((v - min) / width)
	case OpGt, OpGe:
		return clamp01((max - v) / width)
	default:
		return 0.5
	}
}
