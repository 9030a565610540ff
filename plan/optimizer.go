package plan

import (
	"github.com/src-d/arrowquery/batch"
	"github.com/src-d/arrowquery/predicate"
)

// Optimize applies the rewrite rules of spec §4.8 to fixpoint: filter
// merge, predicate push-down, predicate reordering, limit push-down,
// projection pruning, and zone-map selectivity annotation. The optimizer
// is idempotent (spec invariant #3): Optimize(Optimize(p)) == Optimize(p).
func Optimize(root Node, b *batch.RecordBatch) Node {
	nodes := chain(root)

	const maxIterations = 16
	for i := 0; i < maxIterations; i++ {
		before := len(nodes)
		nodes = mergeFilters(nodes)
		nodes = pushDownPredicates(nodes)
		nodes = pushLimitOffsetTogether(nodes)
		if len(nodes) == before && i > 0 {
			break
		}
	}
	nodes = pruneProjections(nodes)
	nodes = reorderAndAnnotate(nodes, b)

	return rebuild(nodes)
}

// mergeFilters combines adjacent Filter nodes (spec §4.8 rule 1):
// combined selectivity is the product, assuming independence.
func mergeFilters(nodes []Node) []Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if f, ok := n.(*Filter); ok && len(out) > 0 {
			if prev, ok := out[len(out)-1].(*Filter); ok {
				merged := &Filter{
					Predicates:  append(append([]predicate.Predicate{}, prev.Predicates...), f.Predicates...),
					Selectivity: prev.Selectivity * f.Selectivity,
				}
				out[len(out)-1] = merged
				continue
			}
		}
		out = append(out, n)
	}
	return out
}

// pushDownPredicates moves a Filter earlier, toward the Scan, past any
// Project, Limit, or Offset that currently runs before it (nodes are
// leaf-first, so "runs before" means "has a lower index"), and past a
// GroupBy only when every predicate's column is the grouping key or an
// aggregated column that survives (spec §4.8 rule 2). Filtering before
// pagination/projection is the only semantics-preserving order: limiting
// or projecting first and filtering after would change which rows match.
func pushDownPredicates(nodes []Node) []Node {
	changed := true
	for changed {
		changed = false
		for i := 0; i+1 < len(nodes); i++ {
			filter, ok := nodes[i+1].(*Filter)
			if !ok {
				continue
			}
			switch prev := nodes[i].(type) {
			case *Project, *Limit, *Offset:
				nodes[i], nodes[i+1] = filter, nodes[i]
				changed = true
			case *GroupBy:
				if filterSurvivesGroupBy(filter, prev) {
					nodes[i], nodes[i+1] = filter, nodes[i]
					changed = true
				}
			}
		}
	}
	return nodes
}

func filterSurvivesGroupBy(f *Filter, g *GroupBy) bool {
	for _, p := range f.Predicates {
		col := p.ColumnName()
		if col == "" {
			return false // compound predicate with no single bound column: be conservative.
		}
		if col == g.KeyColumn {
			continue
		}
		survives := false
		for _, agg := range g.Aggregates {
			if agg.Column == col {
				survives = true
				break
			}
		}
		if !survives {
			return false
		}
	}
	return true
}

// pushLimitOffsetTogether normalizes adjacent Limit/Offset pairs so that
// Offset always executes before Limit in the leaf-first order, "Limit n
// above Offset m rewrites to an Offset m -> Limit n" (spec §4.8 rule 4).
func pushLimitOffsetTogether(nodes []Node) []Node {
	for i := 0; i+1 < len(nodes); i++ {
		if lim, ok := nodes[i].(*Limit); ok {
			if off, ok := nodes[i+1].(*Offset); ok {
				nodes[i], nodes[i+1] = off, lim
				_ = off
			}
		}
	}
	return nodes
}

// pruneProjections collapses adjacent Project nodes (spec §4.8 rule 5):
// when one Project directly feeds another with nothing but a Filter-free
// gap between them, the upstream (wider) one is redundant since only the
// downstream, narrower column set ever reaches further up the chain.
func pruneProjections(nodes []Node) []Node {
	changed := true
	for changed {
		changed = false
		for i := 0; i+1 < len(nodes); i++ {
			if _, ok := nodes[i].(*Project); !ok {
				continue
			}
			if _, ok := nodes[i+1].(*Project); !ok {
				continue
			}
			nodes = append(nodes[:i], nodes[i+1:]...)
			changed = true
			break
		}
	}
	return nodes
}

// reorderAndAnnotate applies predicate reordering (rule 3) and zone-map
// selectivity annotation (rule 6) to every Filter node.
func reorderAndAnnotate(nodes []Node, b *batch.RecordBatch) []Node {
	for i, n := range nodes {
		f, ok := n.(*Filter)
		if !ok {
			continue
		}
		ordered := predicate.Reorder(f.Predicates, b, b.NumRows())
		sel := 1.0
		for _, p := range ordered {
			sel *= p.EstimatedSelectivity(b.ZoneMap(p.ColumnName()), b.NumRows())
		}
		nodes[i] = &Filter{Input: f.Input, Predicates: ordered, Selectivity: sel}
	}
	return nodes
}
