// Package ir defines InputLayer's relational operator tree (spec §4.3): the
// sealed set of plan nodes the builder produces from parsed rules and
// queries, and that the optimizer rewrites and the engine evaluates.
//
// The node set is deliberately closed (spec §9 warns against open
// polymorphism here): Scan, Filter, Map, Join, Union, Aggregate, Fixpoint,
// Distinct. Adding an operator means adding a case everywhere a type switch
// matches on Node, by design.
package ir

import "github.com/inputlayer/inputlayer-sub003/pkg/value"

// Node is a relational operator. Concrete types: *Scan, *Filter, *Map,
// *Join, *Union, *Aggregate, *Fixpoint, *Distinct.
type Node interface {
	// Arity is the number of columns each output tuple carries.
	Arity() int
	nodeKind()
}

// Scan emits every tuple currently held by a base or derived relation.
type Scan struct {
	Relation string
	RelArity int
}

func (s *Scan) Arity() int { return s.RelArity }
func (*Scan) nodeKind()    {}

// Filter keeps tuples for which Pred holds.
type Filter struct {
	Input Node
	Pred  Pred
}

func (f *Filter) Arity() int { return f.Input.Arity() }
func (*Filter) nodeKind()    {}

// Map re-projects each input tuple through Proj, one Expr per output
// column. Arithmetic head terms and plain variable/constant projections
// both compile down to Map.
type Map struct {
	Input Node
	Proj  []Expr
}

func (m *Map) Arity() int { return len(m.Proj) }
func (*Map) nodeKind()    {}

// JoinKey pairs a left-side column index with the right-side column index
// it must equal.
type JoinKey struct {
	Left  int
	Right int
}

// Join is an equijoin on Keys; output tuples are the left tuple followed by
// the right tuple (spec §4.5: "emits combine(l, r)").
type Join struct {
	Left  Node
	Right Node
	Keys  []JoinKey
}

func (j *Join) Arity() int { return j.Left.Arity() + j.Right.Arity() }
func (*Join) nodeKind()    {}

// Union concatenates the updates of same-arity children; multiplicities
// add (spec §4.5).
type Union struct {
	Inputs []Node
}

func (u *Union) Arity() int {
	if len(u.Inputs) == 0 {
		return 0
	}
	return u.Inputs[0].Arity()
}
func (*Union) nodeKind() {}

// AggOp is one of the five supported aggregation operators.
type AggOp uint8

const (
	AggCount AggOp = iota
	AggSum
	AggMin
	AggMax
	AggAvg
)

func (op AggOp) String() string {
	switch op {
	case AggCount:
		return "count"
	case AggSum:
		return "sum"
	case AggMin:
		return "min"
	case AggMax:
		return "max"
	case AggAvg:
		return "avg"
	default:
		return "unknown"
	}
}

// AggSpec is one aggregate head term: the operator and the input column it
// aggregates over. Col is retained for count even though count ignores the
// value, so the column is available for a consistent tuple shape.
type AggSpec struct {
	Op  AggOp
	Col int
}

// Aggregate groups Input by GroupKeys and applies Specs per group. Output
// columns are the group keys (in order) followed by the aggregate results
// (in order); spec §4.5: empty groups yield no output row.
type Aggregate struct {
	Input     Node
	GroupKeys []int
	Specs     []AggSpec
}

func (a *Aggregate) Arity() int { return len(a.GroupKeys) + len(a.Specs) }
func (*Aggregate) nodeKind()    {}

// Fixpoint marks Body as evaluated by semi-naïve iteration because Relation
// (the head relation being defined) occurs directly inside its own body
// (spec §4.3, §4.5). Combine adds a Fixpoint only for such direct
// self-reference, not for recursion through other derived relations.
type Fixpoint struct {
	Relation string
	Body     Node
}

func (f *Fixpoint) Arity() int { return f.Body.Arity() }
func (*Fixpoint) nodeKind()    {}

// Distinct collapses any nonzero multiplicity to 1. ExistenceOnly marks a
// Distinct whose sole consumer checks non-emptiness (spec §4.4 "boolean
// specialization"): the engine may stop after the first tuple instead of
// fully evaluating Input.
type Distinct struct {
	Input         Node
	ExistenceOnly bool
}

func (d *Distinct) Arity() int { return d.Input.Arity() }
func (*Distinct) nodeKind()    {}

// Expr is a scalar expression evaluated per tuple: a column reference, a
// constant, or an arithmetic combination of sub-expressions. Concrete
// types: *ColRef, *ConstExpr, *ArithExpr.
type Expr interface {
	exprKind()
}

// ColRef reads column Index of the tuple flowing through the enclosing
// node.
type ColRef struct {
	Index int
}

func (*ColRef) exprKind() {}

// ConstExpr is a ground literal.
type ConstExpr struct {
	Value value.Value
}

func (*ConstExpr) exprKind() {}

// ArithExpr is a binary arithmetic expression; Op is one of "+", "-", "*",
// "/" (spec §4.3, §4.5).
type ArithExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

func (*ArithExpr) exprKind() {}

// Pred is a Filter's predicate: a comparison between two expressions. Op is
// one of "<", "<=", ">", ">=", "==", "!=".
type Pred struct {
	Op    string
	Left  Expr
	Right Expr
}
