// Package collect implements the streaming and sparse collectors of spec
// §4.5 (C5): short-circuit scalar search for any/first/take/all, and a
// sorted row-index list for low-selectivity materialization.
package collect

import (
	"github.com/src-d/arrowquery/batch"
	"github.com/src-d/arrowquery/predicate"
)

// Any returns true on the first row matching every predicate, scanning
// chunk by chunk and skipping whole chunks the zone map rules out.
func Any(preds []predicate.Predicate, b *batch.RecordBatch) (bool, error) {
	found := false
	err := walk(preds, b, func(row int) (bool, error) {
		found = true
		return false, nil // stop
	})
	return found, err
}

// First returns the first matching row index, or -1 if none match.
func First(preds []predicate.Predicate, b *batch.RecordBatch) (int, error) {
	row := -1
	err := walk(preds, b, func(r int) (bool, error) {
		row = r
		return false, nil
	})
	return row, err
}

// Take accumulates up to n matching row indices in ascending order.
func Take(preds []predicate.Predicate, b *batch.RecordBatch, n int) ([]int, error) {
	if n <= 0 {
		return []int{}, nil
	}
	out := make([]int, 0, n)
	err := walk(preds, b, func(row int) (bool, error) {
		out = append(out, row)
		return len(out) < n, nil // keep going until we have n
	})
	return out, err
}

// All returns false on the first non-matching row.
func All(preds []predicate.Predicate, b *batch.RecordBatch) (bool, error) {
	ok := true
	err := walkAll(preds, b, func(matched bool) bool {
		if !matched {
			ok = false
		}
		return matched // keep going only while still matching
	})
	return ok, err
}

// walk scans chunks in ascending order, skipping whole chunks the zone
// map rules out, evaluating predicates reordered most-selective-first and
// short-circuiting on the first failing predicate, per spec §4.5. visit
// is called once per matching row and returns whether to keep scanning.
func walk(preds []predicate.Predicate, b *batch.RecordBatch, visit func(row int) (bool, error)) error {
	ordered := predicate.Reorder(preds, b, b.NumRows())
	for k := 0; k < b.NumChunks(); k++ {
		if predicate.CanSkipChunk(ordered, b, k) {
			continue
		}
		lo, hi := b.ChunkBounds(k)
		for row := lo; row < hi; row++ {
			matched := true
			for _, p := range ordered {
				ok, err := p.EvaluateRow(b, row)
				if err != nil {
					return err
				}
				if !ok {
					matched = false
					break
				}
			}
			if !matched {
				continue
			}
			cont, err := visit(row)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
	}
	return nil
}

// walkAll scans every row of every chunk (chunk skip does not apply to
// All: a skipped chunk would wrongly be treated as all-matching), calling
// visit once per row with whether that row matched every predicate.
func walkAll(preds []predicate.Predicate, b *batch.RecordBatch, visit func(matched bool) bool) error {
	ordered := predicate.Reorder(preds, b, b.NumRows())
	for row := 0; row < b.NumRows(); row++ {
		matched := true
		for _, p := range ordered {
			ok, err := p.EvaluateRow(b, row)
			if err != nil {
				return err
			}
			if !ok {
				matched = false
				break
			}
		}
		if !visit(matched) {
			return nil
		}
	}
	return nil
}
