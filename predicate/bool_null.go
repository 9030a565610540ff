package predicate

import (
	"fmt"
	"math/bits"

	"github.com/apache/arrow/go/v12/arrow/array"

	"github.com/src-d/arrowquery/batch"
	"github.com/src-d/arrowquery/bitmap"
	"github.com/src-d/arrowquery/errkind"
	"github.com/src-d/arrowquery/zonemap"
)

// Bool is the Bool(col, expected) predicate variant of spec §3.
type Bool struct {
	Column   string
	Expected bool
}

func NewBool(column string, expected bool) *Bool { return &Bool{Column: column, Expected: expected} }

func (p *Bool) ColumnName() string { return p.Column }

func (p *Bool) boolArray(b *batch.RecordBatch) (*array.Boolean, error) {
	arr, err := columnArray(b, p.Column)
	if err != nil {
		return nil, err
	}
	ba, ok := arr.(*array.Boolean)
	if !ok {
		return nil, errkind.InvalidArgument.New(fmt.Sprintf("column %q is not a boolean column", p.Column))
	}
	return ba, nil
}

// EvaluateRange walks [lo,hi) row by row, clearing from the selection
// every row that is null or whose value differs from Expected.
func (p *Bool) EvaluateRange(b *batch.RecordBatch, sel *bitmap.SelectionBitmap, lo, hi int) error {
	ba, err := p.boolArray(b)
	if err != nil {
		return err
	}
	for row := lo; row < hi; row++ {
		if ba.IsNull(row) {
			sel.Clear(row)
			continue
		}
		if ba.Value(row) != p.Expected {
			sel.Clear(row)
		}
	}
	return nil
}

func (p *Bool) EvaluateRow(b *batch.RecordBatch, row int) (bool, error) {
	ba, err := p.boolArray(b)
	if err != nil {
		return false, err
	}
	if ba.IsNull(row) {
		return false, nil
	}
	return ba.Value(row) == p.Expected, nil
}

func (p *Bool) MayContainMatches(zm *zonemap.ZoneMap, chunkIndex int) bool { return true }

func (p *Bool) EstimatedSelectivity(zm *zonemap.ZoneMap, rowCount int) float64 { return 0.5 }

// IsNull is the IsNull(col, polarity) predicate variant of spec §3.
// Polarity true means "is null", false means "is not null".
type IsNull struct {
	Column   string
	Polarity bool
}

func NewIsNull(column string, polarity bool) *IsNull { return &IsNull{Column: column, Polarity: polarity} }

func (p *IsNull) ColumnName() string { return p.Column }

// EvaluateRange clears from the selection every row whose null-ness
// differs from Polarity, reading the validity bitmap. Before walking row
// by row it first popcounts the range's validity bytes: a range with zero valid
// bits is all-null and a range whose popcount equals its width is
// all-valid, and in either case every row shares the same outcome, so the
// per-row loop (and its IsValidBit calls) can be skipped entirely.
func (p *IsNull) EvaluateRange(b *batch.RecordBatch, sel *bitmap.SelectionBitmap, lo, hi int) error {
	arr, err := columnArray(b, p.Column)
	if err != nil {
		return err
	}
	validity := arr.NullBitmapBytes()
	if validity == nil {
		// No validity buffer at all: every row in the array is valid.
		if p.Polarity {
			for row := lo; row < hi; row++ {
				sel.Clear(row)
			}
		}
		return nil
	}

	width := hi - lo
	valid := rangePopcount(validity, lo, hi)
	switch valid {
	case 0: // all-null range
		if !p.Polarity {
			for row := lo; row < hi; row++ {
				sel.Clear(row)
			}
		}
		return nil
	case width: // all-valid range
		if p.Polarity {
			for row := lo; row < hi; row++ {
				sel.Clear(row)
			}
		}
		return nil
	}

	for row := lo; row < hi; row++ {
		isNull := !batch.IsValidBit(validity, row)
		match := isNull == p.Polarity
		if !match {
			sel.Clear(row)
		}
	}
	return nil
}

// rangePopcount counts set validity bits in [lo, hi) by popcounting whole
// bytes where the range is byte-aligned and falling back to per-bit
// counting only at the unaligned edges.
func rangePopcount(validity []byte, lo, hi int) int {
	count := 0
	row := lo
	for row < hi && row%8 != 0 {
		if batch.IsValidBit(validity, row) {
			count++
		}
		row++
	}
	byteEnd := hi - (hi % 8)
	if row < byteEnd {
		count += popcountBytes(validity[row/8 : byteEnd/8])
		row = byteEnd
	}
	for row < hi {
		if batch.IsValidBit(validity, row) {
			count++
		}
		row++
	}
	return count
}

func (p *IsNull) EvaluateRow(b *batch.RecordBatch, row int) (bool, error) {
	arr, err := columnArray(b, p.Column)
	if err != nil {
		return false, err
	}
	isNull := arr.IsNull(row)
	return isNull == p.Polarity, nil
}

// MayContainMatches: an all-null chunk can only ever satisfy IsNull(true).
func (p *IsNull) MayContainMatches(zm *zonemap.ZoneMap, chunkIndex int) bool {
	if zm == nil {
		return true
	}
	chunk := zm.At(chunkIndex)
	if chunk.AllNull {
		return p.Polarity
	}
	return true
}

func (p *IsNull) EstimatedSelectivity(zm *zonemap.ZoneMap, rowCount int) float64 {
	if p.Polarity {
		return 0.05
	}
	return 0.95
}

// popcountBytes counts the set bits in b, eight bytes at a time; it backs
// rangePopcount's byte-aligned middle section.
func popcountBytes(b []byte) int {
	count := 0
	for _, word := range asUint64Slice(b) {
		count += bits.OnesCount64(word)
	}
	return count
}

func asUint64Slice(b []byte) []uint64 {
	out := make([]uint64, (len(b)+7)/8)
	for i, v := range b {
		out[i/8] |= uint64(v) << uint((i%8)*8)
	}
	return out
}
