// Package batch wraps a single Apache Arrow record batch with the
// derived schema map and eagerly-built zone maps the rest of the engine
// reads column data through.
package batch

import (
	"fmt"

	"github.com/apache/arrow/go/v12/arrow"

	"github.com/src-d/arrowquery/errkind"
	"github.com/src-d/arrowquery/zonemap"
)

// DefaultChunkSize is the spec's default chunk size (16384 rows), used by
// both the zone map and the parallel executor. It must stay a multiple of
// 64 so that parallel workers can mutate disjoint 64-bit-aligned blocks
// of a SelectionBitmap without synchronization.
const DefaultChunkSize = 16384

// RecordBatch is the engine's borrowed view over an arrow.Record. It is
// immutable after Wrap and safe for concurrent readers.
type RecordBatch struct {
	rec       arrow.Record
	chunkSize int

	nameToIndex map[string]int
	nameToType  map[string]arrow.Type

	zoneMaps map[string]*zonemap.ZoneMap
}

// Wrap derives the schema map and builds zone maps for every numeric
// column of rec. chunkSize must be a positive multiple of 64; 0 selects
// DefaultChunkSize.
func Wrap(rec arrow.Record, chunkSize int) (*RecordBatch, error) {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize%64 != 0 {
		return nil, errkind.InvalidArgument.New(fmt.Sprintf("chunk_size %d is not a multiple of 64", chunkSize))
	}

	schema := rec.Schema()
	nameToIndex := make(map[string]int, schema.NumFields())
	nameToType := make(map[string]arrow.Type, schema.NumFields())
	for i, f := range schema.Fields() {
		nameToIndex[f.Name] = i
		nameToType[f.Name] = f.Type.ID()
	}

	b := &RecordBatch{
		rec:         rec,
		chunkSize:   chunkSize,
		nameToIndex: nameToIndex,
		nameToType:  nameToType,
		zoneMaps:    make(map[string]*zonemap.ZoneMap, len(nameToIndex)),
	}

	for name, idx := range nameToIndex {
		if !isNumeric(nameToType[name]) {
			continue
		}
		zm, err := zonemap.Build(rec.Column(idx), chunkSize)
		if err != nil {
			return nil, err
		}
		b.zoneMaps[name] = zm
	}

	return b, nil
}

func isNumeric(t arrow.Type) bool {
	switch t {
	case arrow.INT32, arrow.INT64, arrow.FLOAT32, arrow.FLOAT64, arrow.DECIMAL128,
		arrow.DATE32, arrow.DATE64, arrow.TIMESTAMP:
		return true
	default:
		return false
	}
}

// NumRows returns N, the fixed row count of the batch.
func (b *RecordBatch) NumRows() int { return int(b.rec.NumRows()) }

// ChunkSize returns the chunk size this batch's zone maps were built with.
func (b *RecordBatch) ChunkSize() int { return b.chunkSize }

// NumChunks returns ceil(N / chunk_size).
func (b *RecordBatch) NumChunks() int {
	n := b.NumRows()
	return (n + b.chunkSize - 1) / b.chunkSize
}

// ChunkBounds returns the half-open row range [lo, hi) of chunk k.
func (b *RecordBatch) ChunkBounds(k int) (lo, hi int) {
	lo = k * b.chunkSize
	hi = lo + b.chunkSize
	if hi > b.NumRows() {
		hi = b.NumRows()
	}
	return lo, hi
}

// ColumnIndex resolves a column name to its zero-based index.
func (b *RecordBatch) ColumnIndex(name string) (int, error) {
	idx, ok := b.nameToIndex[name]
	if !ok {
		return 0, errkind.InvalidArgument.New(fmt.Sprintf("unknown column %q", name))
	}
	return idx, nil
}

// ColumnType resolves a column name to its logical arrow type.
func (b *RecordBatch) ColumnType(name string) (arrow.Type, error) {
	t, ok := b.nameToType[name]
	if !ok {
		return 0, errkind.InvalidArgument.New(fmt.Sprintf("unknown column %q", name))
	}
	return t, nil
}

// Column returns the underlying arrow.Array for a resolved column index.
func (b *RecordBatch) Column(idx int) arrow.Array { return b.rec.Column(idx) }

// ColumnByName returns the underlying arrow.Array for a column name.
func (b *RecordBatch) ColumnByName(name string) (arrow.Array, error) {
	idx, err := b.ColumnIndex(name)
	if err != nil {
		return nil, err
	}
	return b.rec.Column(idx), nil
}

// ZoneMap returns the zone map for a numeric column, or nil if the column
// is not numeric (string/bool columns never get zone maps per spec).
func (b *RecordBatch) ZoneMap(name string) *zonemap.ZoneMap {
	return b.zoneMaps[name]
}

// Rechunk rewraps the same underlying record at a new chunk size. When
// reuseZoneMaps is true it skips rebuilding every numeric column's zone
// map and instead carries the receiver's maps over as-is, on the
// assumption the caller already knows they still apply; that assumption
// only holds if newChunkSize matches the chunk size they were built
// with, so a mismatch fails fast with errkind.RowCountMismatch rather
// than silently serving chunk k's summary for what is now a different
// row range.
func (b *RecordBatch) Rechunk(newChunkSize int, reuseZoneMaps bool) (*RecordBatch, error) {
	if newChunkSize == 0 {
		newChunkSize = DefaultChunkSize
	}
	if newChunkSize%64 != 0 {
		return nil, errkind.InvalidArgument.New(fmt.Sprintf("chunk_size %d is not a multiple of 64", newChunkSize))
	}

	if !reuseZoneMaps {
		return Wrap(b.rec, newChunkSize)
	}

	for name, zm := range b.zoneMaps {
		if zm.ChunkSize() != newChunkSize {
			return nil, errkind.RowCountMismatch.New(name, zm.ChunkSize(), newChunkSize)
		}
	}

	return &RecordBatch{
		rec:         b.rec,
		chunkSize:   newChunkSize,
		nameToIndex: b.nameToIndex,
		nameToType:  b.nameToType,
		zoneMaps:    b.zoneMaps,
	}, nil
}

// Record exposes the wrapped arrow.Record for materialization paths that
// slice columns directly (Arrow-output path, spec §6.2).
func (b *RecordBatch) Record() arrow.Record { return b.rec }

// Schema exposes the arrow schema.
func (b *RecordBatch) Schema() *arrow.Schema { return b.rec.Schema() }
