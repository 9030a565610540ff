// Package zonemap implements the per-chunk (min, max, all_null) index of
// spec §4.2 (C2): a coarse summary built once per numeric column that
// lets predicate evaluation skip whole chunks without touching their
// value buffers.
package zonemap

import (
	"math"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"

	"github.com/src-d/arrowquery/errkind"
)

// Chunk holds the summary for one chunk of one column.
type Chunk struct {
	Min, Max float64
	AllNull  bool
}

// ZoneMap is the immutable, eagerly-built per-column index.
type ZoneMap struct {
	chunkSize  int
	chunks     []Chunk
	globalMin  float64
	globalMax  float64
	globalSeen bool
}

// Build walks arr once, chunk by chunk, tracking (min, max, saw_value)
// per chunk while skipping nulls via the validity bitmap, exactly as
// described in spec §4.2.
func Build(arr arrow.Array, chunkSize int) (*ZoneMap, error) {
	if chunkSize <= 0 || chunkSize%64 != 0 {
		return nil, errkind.InvalidArgument.New("zone map chunk_size must be a positive multiple of 64")
	}

	n := arr.Len()
	numChunks := (n + chunkSize - 1) / chunkSize
	zm := &ZoneMap{chunkSize: chunkSize, chunks: make([]Chunk, numChunks)}

	get := valueGetter(arr)
	if get == nil {
		return nil, errkind.InvalidArgument.New("column type is not numeric and cannot carry a zone map")
	}

	for k := 0; k < numChunks; k++ {
		lo := k * chunkSize
		hi := lo + chunkSize
		if hi > n {
			hi = n
		}

		var min, max float64
		sawValue := false
		for row := lo; row < hi; row++ {
			if arr.IsNull(row) {
				continue
			}
			v := get(row)
			if !sawValue {
				min, max = v, v
				sawValue = true
				continue
			}
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}

		if !sawValue {
			zm.chunks[k] = Chunk{AllNull: true}
			continue
		}
		zm.chunks[k] = Chunk{Min: min, Max: max}

		if !zm.globalSeen {
			zm.globalMin, zm.globalMax = min, max
			zm.globalSeen = true
		} else {
			if min < zm.globalMin {
				zm.globalMin = min
			}
			if max > zm.globalMax {
				zm.globalMax = max
			}
		}
	}

	return zm, nil
}

// valueGetter returns a function extracting row i of arr as a float64,
// wide enough to preserve ordering for every numeric logical type the
// spec lists (i32, i64, f32, f64, decimal, date32/64, timestamp). nil is
// returned for non-numeric arrays.
func valueGetter(arr arrow.Array) func(i int) float64 {
	switch a := arr.(type) {
	case *array.Int32:
		return func(i int) float64 { return float64(a.Value(i)) }
	case *array.Int64:
		return func(i int) float64 { return float64(a.Value(i)) }
	case *array.Float32:
		return func(i int) float64 { return float64(a.Value(i)) }
	case *array.Float64:
		return func(i int) float64 { return a.Value(i) }
	case *array.Date32:
		return func(i int) float64 { return float64(a.Value(i)) }
	case *array.Date64:
		return func(i int) float64 { return float64(a.Value(i)) }
	case *array.Timestamp:
		return func(i int) float64 { return float64(a.Value(i)) }
	case *array.Decimal128:
		return func(i int) float64 {
			v := a.Value(i)
			return ApproxFloat64(v.HighBits(), v.LowBits())
		}
	default:
		return nil
	}
}

// ApproxFloat64 widens an unscaled decimal128 (hi, lo) pair into a
// float64. Decimal128 doesn't fit losslessly in float64, but a zone map
// is a *conservative* skip index: a monotonic, sign-correct
// approximation is sufficient because callers only ever use it to
// decide "may contain matches", never to answer the predicate itself.
// predicate.DecimalCmp reuses this exact conversion so its
// MayContainMatches/EstimatedSelectivity stay consistent with the zone
// map built over the same column.
func ApproxFloat64(hi int64, lo uint64) float64 {
	return float64(hi)*math.Pow(2, 64) + float64(lo)
}

// ChunkCount returns the number of chunks summarized.
func (z *ZoneMap) ChunkCount() int { return len(z.chunks) }

// ChunkSize returns the chunk size this zone map was built with.
func (z *ZoneMap) ChunkSize() int { return z.chunkSize }

// At returns the summary for chunk k.
func (z *ZoneMap) At(k int) Chunk { return z.chunks[k] }

// Global returns the pre-computed global (min, max), and whether any
// non-null value was ever seen.
func (z *ZoneMap) Global() (min, max float64, ok bool) {
	return z.globalMin, z.globalMax, z.globalSeen
}
