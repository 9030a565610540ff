package plan

import (
	"github.com/src-d/arrowquery/aggregate"
	"github.com/src-d/arrowquery/predicate"
)

// QueryPlan is the flattened, executable form spec §3 describes as "the
// structure the executor actually consumes": one predicate list, an
// optional (skip, take) pagination window, a flag for whether pagination
// can run before predicate evaluation, and at most one of a simple
// aggregate or a group-by descriptor set. Building this from a Node tree
// is the plan-to-executor bridge named in spec §4.8.
type QueryPlan struct {
	Predicates  []predicate.Predicate
	Selectivity float64
	Columns     []string // output columns after projection pruning; nil means "all".

	HasPagination              bool
	Skip, Take                 int
	PaginationBeforePredicates bool // Limit/Offset sit directly over Scan with no Filter between them.

	SimpleAggregate *aggregate.Descriptor
	GroupBy         *GroupBy
	IsGroupByQuery  bool
}

// Bridge walks an already-optimized node chain once, building the
// executable QueryPlan. Per the resolved design question, Aggregate and
// GroupBy share this single walk rather than two near-duplicate ones: at
// most one of SimpleAggregate/GroupBy is populated, since a plan contains
// at most one terminal aggregation node (spec §3).
func Bridge(root Node) *QueryPlan {
	nodes := chain(root)
	qp := &QueryPlan{Selectivity: 1.0}

	for _, n := range nodes {
		switch t := n.(type) {
		case *Scan:
			// Nothing to record: row count and schema live on the batch itself.
		case *Filter:
			qp.Predicates = append(qp.Predicates, t.Predicates...)
			if t.Selectivity > 0 {
				qp.Selectivity *= t.Selectivity
			}
		case *Project:
			qp.Columns = t.Columns
		case *Limit:
			qp.HasPagination = true
			qp.Take = t.N
			if !hasFilterBefore(nodes, n) {
				qp.PaginationBeforePredicates = true
			}
		case *Offset:
			qp.HasPagination = true
			qp.Skip = t.N
			if !hasFilterBefore(nodes, n) {
				qp.PaginationBeforePredicates = true
			}
		case *Aggregate:
			desc := t.Desc
			qp.SimpleAggregate = &desc
		case *GroupBy:
			cp := *t
			qp.GroupBy = &cp
			qp.IsGroupByQuery = true
		}
	}
	return qp
}

// hasFilterBefore reports whether any Filter node precedes target in the
// leaf-first chain, i.e. whether predicates run before this node.
func hasFilterBefore(nodes []Node, target Node) bool {
	for _, n := range nodes {
		if n == target {
			return false
		}
		if _, ok := n.(*Filter); ok {
			return true
		}
	}
	return false
}
