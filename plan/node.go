// Package plan implements LogicalPlanNode (spec §3), the rule-based
// optimizer (spec §4.8, C8), and the plan-to-executor bridge that
// flattens an optimized tree into the executable QueryPlan form.
//
// A plan is always a single chain: exactly one Scan leaf, with Filter,
// Project, Limit, Offset, Aggregate, and GroupBy nodes wrapping it in
// sequence (spec §3 "a plan is a tree with exactly one Scan leaf per
// path", this engine's Non-goals exclude joins, so every path is the
// only path). Representing it as a chain rather than a general tree lets
// the optimizer operate on a flat, reorderable sequence, the same way
// the teacher's transform package walks a single plan.Node chain with a
// visitor (sql/plan, sql/transform, present only as tests in this pack,
// but their naming and chain-walk shape grounds this package).
package plan

import (
	"github.com/src-d/arrowquery/aggregate"
	"github.com/src-d/arrowquery/predicate"
)

// Node is the closed sum type of spec §3 LogicalPlanNode.
type Node interface {
	Child() Node
	withChild(Node) Node
}

// Scan is the single leaf variant. Source names the record batch (this
// engine only ever has one, so Source is a label, not a lookup key).
type Scan struct {
	Source   string
	Schema   []string
	RowCount int
}

func (s *Scan) Child() Node         { return nil }
func (s *Scan) withChild(Node) Node { return s }

// Filter holds a predicate list and the optimizer's annotated selectivity
// estimate for the whole list (spec §4.8 rule 6).
type Filter struct {
	Input       Node
	Predicates  []predicate.Predicate
	Selectivity float64
}

func (f *Filter) Child() Node { return f.Input }
func (f *Filter) withChild(c Node) Node {
	cp := *f
	cp.Input = c
	return &cp
}

// Project restricts the output to a column subset.
type Project struct {
	Input   Node
	Columns []string
}

func (p *Project) Child() Node { return p.Input }
func (p *Project) withChild(c Node) Node {
	cp := *p
	cp.Input = c
	return &cp
}

// Limit caps the number of rows.
type Limit struct {
	Input Node
	N     int
}

func (l *Limit) Child() Node { return l.Input }
func (l *Limit) withChild(c Node) Node {
	cp := *l
	cp.Input = c
	return &cp
}

// Offset skips a number of rows.
type Offset struct {
	Input Node
	N     int
}

func (o *Offset) Child() Node { return o.Input }
func (o *Offset) withChild(c Node) Node {
	cp := *o
	cp.Input = c
	return &cp
}

// Aggregate is a single non-grouped aggregate.
type Aggregate struct {
	Input Node
	Desc  aggregate.Descriptor
}

func (a *Aggregate) Child() Node { return a.Input }
func (a *Aggregate) withChild(c Node) Node {
	cp := *a
	cp.Input = c
	return &cp
}

// GroupBy is a grouped multi-aggregate.
type GroupBy struct {
	Input           Node
	KeyColumn       string
	KeyType         string
	Aggregates      []aggregate.Descriptor
	KeyPropertyName string
}

func (g *GroupBy) Child() Node { return g.Input }
func (g *GroupBy) withChild(c Node) Node {
	cp := *g
	cp.Input = c
	return &cp
}

// chain returns the plan's nodes ordered leaf (Scan) first, root last.
func chain(root Node) []Node {
	var reversed []Node
	for n := root; n != nil; n = n.Child() {
		reversed = append(reversed, n)
	}
	out := make([]Node, len(reversed))
	for i, n := range reversed {
		out[len(reversed)-1-i] = n
	}
	return out
}

// rebuild reattaches a leaf-first node slice into a tree, inverse of chain.
func rebuild(nodes []Node) Node {
	var cur Node
	for _, n := range nodes {
		cur = n.withChild(cur)
	}
	return cur
}
