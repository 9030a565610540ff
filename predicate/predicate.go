// Package predicate implements ColumnPredicate (spec §3, §4.3 C3) and the
// predicate reorderer (spec §4.4 C4): typed, vectorised, null-aware row
// filters that evaluate over a range of a SelectionBitmap, a single row,
// a zone map chunk-skip test, and an estimated selectivity.
//
// Each predicate variant below is a struct implementing Predicate,
// mirroring the teacher's plan-node-as-struct convention seen across
// sql/plan and sql/expression (one constructor, one struct, one set of
// methods per node/expression kind).
package predicate

import (
	"github.com/apache/arrow/go/v12/arrow"

	"github.com/src-d/arrowquery/batch"
	"github.com/src-d/arrowquery/bitmap"
	"github.com/src-d/arrowquery/zonemap"
)

// CompareOp enumerates the comparison operators shared by numeric and
// string predicates.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpContains
	OpStartsWith
	OpEndsWith
)

// Predicate is the closed sum type of spec §3 ColumnPredicate, expressed
// as an interface with one implementation per variant.
type Predicate interface {
	// ColumnName returns the predicate's bound column, or "" for And/Or,
	// which span two predicates; Not reports its inner predicate's column.
	ColumnName() string

	// EvaluateRange clears bits in sel where the predicate is false, for
	// rows in [lo, hi).
	EvaluateRange(b *batch.RecordBatch, sel *bitmap.SelectionBitmap, lo, hi int) error

	// EvaluateRow is the scalar equivalent of EvaluateRange for a single
	// row, used by the streaming and sparse collectors.
	EvaluateRow(b *batch.RecordBatch, row int) (bool, error)

	// MayContainMatches is a conservative chunk-skip test: false means
	// chunk k provably contains no matching row.
	MayContainMatches(zm *zonemap.ZoneMap, chunkIndex int) bool

	// EstimatedSelectivity estimates the fraction of matching rows in
	// [0,1], using zone-map data when available.
	EstimatedSelectivity(zm *zonemap.ZoneMap, rowCount int) float64
}

// columnArray resolves a predicate's bound column to its arrow.Array,
// used by every leaf-variant Evaluate* method.
func columnArray(b *batch.RecordBatch, name string) (arrow.Array, error) {
	return b.ColumnByName(name)
}
