package predicate

import (
	"github.com/src-d/arrowquery/batch"
	"github.com/src-d/arrowquery/bitmap"
	"github.com/src-d/arrowquery/zonemap"
)

// And combines two predicates by intersection. spec §3 only names Or and
// Not as explicit compound variants since a top-level Filter's predicate
// list is itself an implicit AND, but a nested conjunction (e.g. the left
// side of `a AND b OR c`) needs to be a single Predicate value, which is
// what And is for (SQL ingress, package sqlingest, is the only caller).
type And struct {
	Left, Right Predicate
}

func NewAnd(left, right Predicate) *And { return &And{Left: left, Right: right} }

func (a *And) ColumnName() string { return "" }

// EvaluateRange narrows sel by the left side, then the right, so a row
// surviving both remains set.
func (a *And) EvaluateRange(b *batch.RecordBatch, sel *bitmap.SelectionBitmap, lo, hi int) error {
	if err := a.Left.EvaluateRange(b, sel, lo, hi); err != nil {
		return err
	}
	return a.Right.EvaluateRange(b, sel, lo, hi)
}

func (a *And) EvaluateRow(b *batch.RecordBatch, row int) (bool, error) {
	l, err := a.Left.EvaluateRow(b, row)
	if err != nil || !l {
		return false, err
	}
	return a.Right.EvaluateRow(b, row)
}

// MayContainMatches is true only if both sides could match the chunk.
func (a *And) MayContainMatches(zm *zonemap.ZoneMap, chunkIndex int) bool {
	return a.Left.MayContainMatches(zm, chunkIndex) && a.Right.MayContainMatches(zm, chunkIndex)
}

// EstimatedSelectivity assumes independence: P(A and B) = A * B.
func (a *And) EstimatedSelectivity(zm *zonemap.ZoneMap, rowCount int) float64 {
	return clamp01(a.Left.EstimatedSelectivity(zm, rowCount) * a.Right.EstimatedSelectivity(zm, rowCount))
}

// Or is the Or(p, p) predicate variant of spec §3.
type Or struct {
	Left, Right Predicate
}

func NewOr(left, right Predicate) *Or { return &Or{Left: left, Right: right} }

func (o *Or) ColumnName() string { return "" }

// EvaluateRange evaluates each side into a scratch bitmap cloned from the
// current selection, then ANDs their union back in, per spec §4.3.
func (o *Or) EvaluateRange(b *batch.RecordBatch, sel *bitmap.SelectionBitmap, lo, hi int) error {
	left := sel.Clone()
	defer left.Release()
	right := sel.Clone()
	defer right.Release()

	if err := o.Left.EvaluateRange(b, left, lo, hi); err != nil {
		return err
	}
	if err := o.Right.EvaluateRange(b, right, lo, hi); err != nil {
		return err
	}
	if err := left.Or(right); err != nil {
		return err
	}
	return sel.And(left)
}

func (o *Or) EvaluateRow(b *batch.RecordBatch, row int) (bool, error) {
	l, err := o.Left.EvaluateRow(b, row)
	if err != nil {
		return false, err
	}
	if l {
		return true, nil
	}
	return o.Right.EvaluateRow(b, row)
}

// MayContainMatches is true whenever either side could match the chunk.
func (o *Or) MayContainMatches(zm *zonemap.ZoneMap, chunkIndex int) bool {
	return o.Left.MayContainMatches(zm, chunkIndex) || o.Right.MayContainMatches(zm, chunkIndex)
}

// EstimatedSelectivity assumes independence: P(A or B) = 1 - (1-A)(1-B).
func (o *Or) EstimatedSelectivity(zm *zonemap.ZoneMap, rowCount int) float64 {
	a := o.Left.EstimatedSelectivity(zm, rowCount)
	b := o.Right.EstimatedSelectivity(zm, rowCount)
	return clamp01(1 - (1-a)*(1-b))
}

// Not is the Not(p) predicate variant of spec §3.
type Not struct {
	Inner Predicate
}

func NewNot(inner Predicate) *Not { return &Not{Inner: inner} }

func (n *Not) ColumnName() string { return n.Inner.ColumnName() }

// EvaluateRange evaluates the inner predicate into a scratch bitmap
// seeded from the current selection, then ANDs its complement back in.
func (n *Not) EvaluateRange(b *batch.RecordBatch, sel *bitmap.SelectionBitmap, lo, hi int) error {
	scratch := sel.Clone()
	defer scratch.Release()

	if err := n.Inner.EvaluateRange(b, scratch, lo, hi); err != nil {
		return err
	}
	scratch.Not()
	return sel.And(scratch)
}

func (n *Not) EvaluateRow(b *batch.RecordBatch, row int) (bool, error) {
	v, err := n.Inner.EvaluateRow(b, row)
	if err != nil {
		return false, err
	}
	return !v, nil
}

func (n *Not) MayContainMatches(zm *zonemap.ZoneMap, chunkIndex int) bool {
	// Negation destroys the skip guarantee in general (a chunk excluded
	// for the inner predicate may still contain rows failing it), so Not
	// conservatively never skips.
	return true
}

func (n *Not) EstimatedSelectivity(zm *zonemap.ZoneMap, rowCount int) float64 {
	return clamp01(1 - n.Inner.EstimatedSelectivity(zm, rowCount))
}
