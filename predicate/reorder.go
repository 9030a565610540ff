package predicate

import (
	"sort"

	"github.com/src-d/arrowquery/batch"
)

// Reorder stable-sorts predicates ascending by estimated selectivity,
// ties broken by original position (spec §4.4). It is invoked once per
// plan evaluation and the result cached with the optimized plan.
func Reorder(preds []Predicate, b *batch.RecordBatch, rowCount int) []Predicate {
	type scored struct {
		pred Predicate
		sel  float64
	}

	scoredPreds := make([]scored, len(preds))
	for i, p := range preds {
		zm := b.ZoneMap(p.ColumnName())
		scoredPreds[i] = scored{pred: p, sel: p.EstimatedSelectivity(zm, rowCount)}
	}

	sort.SliceStable(scoredPreds, func(i, j int) bool {
		return scoredPreds[i].sel < scoredPreds[j].sel
	})

	out := make([]Predicate, len(preds))
	for i, s := range scoredPreds {
		out[i] = s.pred
	}
	return out
}

// CanSkipChunk reports whether any predicate in preds proves chunk k
// cannot contain a matching row (preds is a conjunction, so one such
// predicate rules the chunk out), used by streaming/sparse collection and
// the fused aggregator (spec §4.5, §4.6).
func CanSkipChunk(preds []Predicate, b *batch.RecordBatch, chunkIndex int) bool {
	for _, p := range preds {
		zm := b.ZoneMap(p.ColumnName())
		if !p.MayContainMatches(zm, chunkIndex) {
			return true
		}
	}
	return false
}
