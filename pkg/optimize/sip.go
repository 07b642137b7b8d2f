package optimize

import (
	"github.com/inputlayer/inputlayer-sub003/pkg/ir"
	"github.com/inputlayer/inputlayer-sub003/pkg/value"
)

// applySIP implements sideways information passing (spec §4.4 pass 4):
// when a join key's left-side column is pinned to a constant somewhere in
// the left subtree, that constant is pushed as an extra pre-filter onto
// the right side before the join runs.
func applySIP(n ir.Node) ir.Node {
	switch node := n.(type) {
	case *ir.Scan:
		return node
	case *ir.Join:
		left := applySIP(node.Left)
		right := applySIP(node.Right)
		for _, k := range node.Keys {
			if v, ok := findConstBinding(left, k.Left); ok {
				right = &ir.Filter{Input: right, Pred: ir.Pred{Op: "==", Left: &ir.ColRef{Index: k.Right}, Right: &ir.ConstExpr{Value: v}}}
			}
		}
		return &ir.Join{Left: left, Right: right, Keys: node.Keys}
	case *ir.Filter:
		return &ir.Filter{Input: applySIP(node.Input), Pred: node.Pred}
	case *ir.Map:
		return &ir.Map{Input: applySIP(node.Input), Proj: node.Proj}
	case *ir.Union:
		ins := make([]ir.Node, len(node.Inputs))
		for i, c := range node.Inputs {
			ins[i] = applySIP(c)
		}
		return &ir.Union{Inputs: ins}
	case *ir.Aggregate:
		return &ir.Aggregate{Input: applySIP(node.Input), GroupKeys: node.GroupKeys, Specs: node.Specs}
	case *ir.Fixpoint:
		return &ir.Fixpoint{Relation: node.Relation, Body: applySIP(node.Body)}
	case *ir.Distinct:
		return &ir.Distinct{Input: applySIP(node.Input), ExistenceOnly: node.ExistenceOnly}
	default:
		return n
	}
}

// findConstBinding searches n for a Filter pinning column col to a
// constant, descending through Join boundaries by column offset.
func findConstBinding(n ir.Node, col int) (value.Value, bool) {
	switch node := n.(type) {
	case *ir.Filter:
		if v, ok := constEq(node.Pred, col); ok {
			return v, true
		}
		return findConstBinding(node.Input, col)
	case *ir.Join:
		leftArity := node.Left.Arity()
		if col < leftArity {
			return findConstBinding(node.Left, col)
		}
		return findConstBinding(node.Right, col-leftArity)
	default:
		return value.Value{}, false
	}
}

func constEq(p ir.Pred, col int) (value.Value, bool) {
	if p.Op != "==" {
		return value.Value{}, false
	}
	if cr, ok := p.Left.(*ir.ColRef); ok && cr.Index == col {
		if c, ok := p.Right.(*ir.ConstExpr); ok {
			return c.Value, true
		}
	}
	if cr, ok := p.Right.(*ir.ColRef); ok && cr.Index == col {
		if c, ok := p.Left.(*ir.ConstExpr); ok {
			return c.Value, true
		}
	}
	return value.Value{}, false
}
