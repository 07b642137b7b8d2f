// Package optimize implements the six fixed, deterministic rewrite passes
// spec §4.4 specifies over the operator tree pkg/ir builds: identity-map
// elimination, filter pushdown, left-deep join planning, sideways
// information passing, subplan sharing, and boolean specialization. Each
// pass is individually toggleable, both for debugging and for the trace
// mode.
package optimize

import "github.com/inputlayer/inputlayer-sub003/pkg/ir"

// Options toggles each rewrite pass independently. The zero value runs no
// passes; use DefaultOptions for the normal fully-optimizing pipeline.
type Options struct {
	IdentityMapElimination bool
	FilterPushdown         bool
	JoinPlanning           bool
	SIP                    bool
	SubplanSharing         bool
	BooleanSpecialization  bool
}

// DefaultOptions enables every pass.
func DefaultOptions() Options {
	return Options{
		IdentityMapElimination: true,
		FilterPushdown:         true,
		JoinPlanning:           true,
		SIP:                    true,
		SubplanSharing:         true,
		BooleanSpecialization:  true,
	}
}

// Apply runs the enabled passes, in the fixed spec §4.4 order, over node.
// existenceOnly marks that node's external consumer only checks
// non-emptiness (e.g. a relation-existence test), enabling the boolean
// specialization pass to mark the root for short-circuit evaluation.
func Apply(node ir.Node, opts Options, existenceOnly bool) ir.Node {
	n := node
	if opts.IdentityMapElimination {
		n = eliminateIdentityMaps(n)
	}
	if opts.FilterPushdown {
		n = pushdownFilters(n)
	}
	if opts.JoinPlanning {
		n, _ = planJoins(n)
	}
	if opts.SIP {
		n = applySIP(n)
	}
	if opts.SubplanSharing {
		n = shareSubplans(n)
	}
	if opts.BooleanSpecialization {
		n = specializeBoolean(n, existenceOnly)
	}
	return n
}

func eliminateIdentityMaps(n ir.Node) ir.Node {
	switch node := n.(type) {
	case *ir.Scan:
		return node
	case *ir.Map:
		input := eliminateIdentityMaps(node.Input)
		if isIdentityProjection(node.Proj, input.Arity()) {
			return input
		}
		return &ir.Map{Input: input, Proj: node.Proj}
	case *ir.Filter:
		return &ir.Filter{Input: eliminateIdentityMaps(node.Input), Pred: node.Pred}
	case *ir.Join:
		return &ir.Join{Left: eliminateIdentityMaps(node.Left), Right: eliminateIdentityMaps(node.Right), Keys: node.Keys}
	case *ir.Union:
		ins := make([]ir.Node, len(node.Inputs))
		for i, c := range node.Inputs {
			ins[i] = eliminateIdentityMaps(c)
		}
		return &ir.Union{Inputs: ins}
	case *ir.Aggregate:
		return &ir.Aggregate{Input: eliminateIdentityMaps(node.Input), GroupKeys: node.GroupKeys, Specs: node.Specs}
	case *ir.Fixpoint:
		return &ir.Fixpoint{Relation: node.Relation, Body: eliminateIdentityMaps(node.Body)}
	case *ir.Distinct:
		return &ir.Distinct{Input: eliminateIdentityMaps(node.Input), ExistenceOnly: node.ExistenceOnly}
	default:
		return n
	}
}

func isIdentityProjection(proj []ir.Expr, arity int) bool {
	if len(proj) != arity {
		return false
	}
	for i, e := range proj {
		col, ok := e.(*ir.ColRef)
		if !ok || col.Index != i {
			return false
		}
	}
	return true
}

// specializeBoolean marks the root Distinct (inserting one if absent) for
// short-circuit evaluation when existenceOnly is set (spec §4.4 pass 6).
// It only ever touches the root: internal subtrees still need their full
// tuple set for downstream joins and aggregates.
func specializeBoolean(n ir.Node, existenceOnly bool) ir.Node {
	if !existenceOnly {
		return n
	}
	if d, ok := n.(*ir.Distinct); ok {
		return &ir.Distinct{Input: d.Input, ExistenceOnly: true}
	}
	return &ir.Distinct{Input: n, ExistenceOnly: true}
}
