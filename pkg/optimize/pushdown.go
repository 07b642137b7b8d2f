package optimize

import "github.com/inputlayer/inputlayer-sub003/pkg/ir"

// pushdownFilters moves each Filter as close to its producing Scan as
// possible, translating column references through any Map it crosses and
// routing through whichever Join side actually carries its columns (spec
// §4.4 pass 2).
func pushdownFilters(n ir.Node) ir.Node {
	switch node := n.(type) {
	case *ir.Scan:
		return node
	case *ir.Filter:
		input := pushdownFilters(node.Input)
		return pushFilterBelow(node.Pred, input)
	case *ir.Map:
		return &ir.Map{Input: pushdownFilters(node.Input), Proj: node.Proj}
	case *ir.Join:
		return &ir.Join{Left: pushdownFilters(node.Left), Right: pushdownFilters(node.Right), Keys: node.Keys}
	case *ir.Union:
		ins := make([]ir.Node, len(node.Inputs))
		for i, c := range node.Inputs {
			ins[i] = pushdownFilters(c)
		}
		return &ir.Union{Inputs: ins}
	case *ir.Aggregate:
		return &ir.Aggregate{Input: pushdownFilters(node.Input), GroupKeys: node.GroupKeys, Specs: node.Specs}
	case *ir.Fixpoint:
		return &ir.Fixpoint{Relation: node.Relation, Body: pushdownFilters(node.Body)}
	case *ir.Distinct:
		return &ir.Distinct{Input: pushdownFilters(node.Input), ExistenceOnly: node.ExistenceOnly}
	default:
		return n
	}
}

func pushFilterBelow(pred ir.Pred, input ir.Node) ir.Node {
	switch in := input.(type) {
	case *ir.Map:
		translated := ir.Pred{Op: pred.Op, Left: substituteExpr(pred.Left, in.Proj), Right: substituteExpr(pred.Right, in.Proj)}
		return &ir.Map{Input: pushFilterBelow(translated, in.Input), Proj: in.Proj}
	case *ir.Join:
		cols := predCols(pred)
		leftArity := in.Left.Arity()
		if allBelow(cols, 0, leftArity) {
			return &ir.Join{Left: pushFilterBelow(pred, in.Left), Right: in.Right, Keys: in.Keys}
		}
		if allBelow(cols, leftArity, leftArity+in.Right.Arity()) {
			shifted := shiftPred(pred, -leftArity)
			return &ir.Join{Left: in.Left, Right: pushFilterBelow(shifted, in.Right), Keys: in.Keys}
		}
	}
	return &ir.Filter{Input: input, Pred: pred}
}

func substituteExpr(e ir.Expr, proj []ir.Expr) ir.Expr {
	switch expr := e.(type) {
	case *ir.ColRef:
		return proj[expr.Index]
	case *ir.ArithExpr:
		return &ir.ArithExpr{Op: expr.Op, Left: substituteExpr(expr.Left, proj), Right: substituteExpr(expr.Right, proj)}
	default:
		return e
	}
}

func exprCols(e ir.Expr) []int {
	switch expr := e.(type) {
	case *ir.ColRef:
		return []int{expr.Index}
	case *ir.ArithExpr:
		return append(exprCols(expr.Left), exprCols(expr.Right)...)
	default:
		return nil
	}
}

func predCols(p ir.Pred) []int {
	return append(exprCols(p.Left), exprCols(p.Right)...)
}

func allBelow(cols []int, lo, hi int) bool {
	for _, c := range cols {
		if c < lo || c >= hi {
			return false
		}
	}
	return true
}

func shiftExpr(e ir.Expr, delta int) ir.Expr {
	switch expr := e.(type) {
	case *ir.ColRef:
		return &ir.ColRef{Index: expr.Index + delta}
	case *ir.ArithExpr:
		return &ir.ArithExpr{Op: expr.Op, Left: shiftExpr(expr.Left, delta), Right: shiftExpr(expr.Right, delta)}
	default:
		return e
	}
}

func shiftPred(p ir.Pred, delta int) ir.Pred {
	return ir.Pred{Op: p.Op, Left: shiftExpr(p.Left, delta), Right: shiftExpr(p.Right, delta)}
}
