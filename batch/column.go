package batch

import (
	"github.com/apache/arrow/go/v12/arrow/array"
)

// ValidityBytes returns the raw packed Arrow validity buffer for arr, or
// nil if the column has no null values at all (Arrow omits the buffer in
// that case; callers must treat a nil buffer as "every row valid").
func ValidityBytes(arr interface{ NullBitmapBytes() []byte }) []byte {
	return arr.NullBitmapBytes()
}

// IsValidBit tests bit `row` of a packed validity buffer directly,
// matching the bit-address math the column predicates use for their
// bulk validity AND (spec §4.1 and_with_null_bitmap, §4.3 IsNull).
func IsValidBit(validity []byte, row int) bool {
	if validity == nil {
		return true
	}
	byteIdx := row >> 3
	bitIdx := uint(row & 7)
	return validity[byteIdx]&(1<<bitIdx) != 0
}

// Int32Values returns the packed little-endian value buffer of an int32
// column as a Go slice, with no copy.
func Int32Values(arr *array.Int32) []int32 { return arr.Int32Values() }

// Int64Values returns the packed value buffer of an int64 column.
func Int64Values(arr *array.Int64) []int64 { return arr.Int64Values() }

// Float32Values returns the packed value buffer of a float32 column.
func Float32Values(arr *array.Float32) []float32 { return arr.Float32Values() }

// Float64Values returns the packed value buffer of a float64 column.
func Float64Values(arr *array.Float64) []float64 { return arr.Float64Values() }
