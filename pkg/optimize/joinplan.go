package optimize

import (
	"sort"

	"github.com/inputlayer/inputlayer-sub003/pkg/ir"
)

// chainResult is a flattened left-deep join chain: its leaves in original
// order, plus the equality edges between their (original, concatenated)
// global column positions.
type chainResult struct {
	leaves []ir.Node
	edges  [][2]int
}

// flattenChain collects a left-deep Join chain's leaves and key edges.
// ok is false when node is not a Join, or is a Join whose right side is
// itself a Join (not left-deep — left unchanged by this pass).
func flattenChain(n ir.Node) (chainResult, bool) {
	join, ok := n.(*ir.Join)
	if !ok {
		return chainResult{leaves: []ir.Node{n}}, true
	}
	if _, rightIsJoin := join.Right.(*ir.Join); rightIsJoin {
		return chainResult{}, false
	}
	left, lok := flattenChain(join.Left)
	if !lok {
		return chainResult{}, false
	}
	leftArity := 0
	for _, l := range left.leaves {
		leftArity += l.Arity()
	}
	leaves := append(append([]ir.Node{}, left.leaves...), join.Right)
	edges := append([][2]int{}, left.edges...)
	for _, k := range join.Keys {
		edges = append(edges, [2]int{k.Left, leftArity + k.Right})
	}
	return chainResult{leaves: leaves, edges: edges}, true
}

func leafOffsets(leaves []ir.Node) []int {
	offs := make([]int, len(leaves))
	sum := 0
	for i, l := range leaves {
		offs[i] = sum
		sum += l.Arity()
	}
	return offs
}

func localColIn(col int, offsets []int, leaves []ir.Node) (leafIdx, local int) {
	for i := len(offsets) - 1; i >= 0; i-- {
		if col >= offsets[i] {
			return i, col - offsets[i]
		}
	}
	_ = leaves
	return 0, col
}

// leafKey describes a leaf for the static selectivity heuristic: whether
// it carries its own Filter (treated as more selective), its relation
// arity, and its relation name for the lexicographic tie-break (spec
// §4.4 pass 3).
func leafKey(n ir.Node) (name string, arity int, hasFilter bool) {
	cur := n
	for {
		switch c := cur.(type) {
		case *ir.Filter:
			hasFilter = true
			cur = c.Input
		case *ir.Scan:
			return c.Relation, c.RelArity, hasFilter
		default:
			return "", cur.Arity(), hasFilter
		}
	}
}

func reorderLeaves(leaves []ir.Node, edges [][2]int) []int {
	offsets := leafOffsets(leaves)
	n := len(leaves)

	type leafScore struct {
		hasFilter bool
		arity     int
		name      string
	}
	scores := make([]leafScore, n)
	for i, l := range leaves {
		name, arity, hf := leafKey(l)
		scores[i] = leafScore{hf, arity, name}
	}
	less := func(a, b int) bool {
		if scores[a].hasFilter != scores[b].hasFilter {
			return scores[a].hasFilter
		}
		if scores[a].arity != scores[b].arity {
			return scores[a].arity < scores[b].arity
		}
		return scores[a].name < scores[b].name
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return less(order[i], order[j]) })

	chosen := []int{order[0]}
	chosenSet := map[int]bool{order[0]: true}

	for len(chosen) < n {
		bestIdx, bestOverlap := -1, -1
		for _, cand := range order {
			if chosenSet[cand] {
				continue
			}
			overlap := 0
			for _, e := range edges {
				li, lj := mustLeaf(e[0], offsets), mustLeaf(e[1], offsets)
				if (li == cand && chosenSet[lj]) || (lj == cand && chosenSet[li]) {
					overlap++
				}
			}
			if overlap > bestOverlap || (overlap == bestOverlap && bestIdx != -1 && less(cand, bestIdx)) {
				bestOverlap = overlap
				bestIdx = cand
			}
		}
		chosen = append(chosen, bestIdx)
		chosenSet[bestIdx] = true
	}
	return chosen
}

func mustLeaf(col int, offsets []int) int {
	for i := len(offsets) - 1; i >= 0; i-- {
		if col >= offsets[i] {
			return i
		}
	}
	return 0
}

// rebuildChain reconstructs a left-deep Join chain over leaves in the
// given order, recomputing each step's keys from edges.
func rebuildChain(leaves []ir.Node, edges [][2]int, order []int) ir.Node {
	oldOffsets := leafOffsets(leaves)
	newOffset := make([]int, len(leaves))
	included := make([]bool, len(leaves))

	first := order[0]
	newOffset[first] = 0
	included[first] = true
	cum := leaves[first].Arity()
	var current ir.Node = leaves[first]

	for _, idx := range order[1:] {
		var keys []ir.JoinKey
		for _, e := range edges {
			li0, lc0 := localColIn(e[0], oldOffsets, leaves)
			li1, lc1 := localColIn(e[1], oldOffsets, leaves)
			if li0 == idx && included[li1] {
				keys = append(keys, ir.JoinKey{Left: newOffset[li1] + lc1, Right: lc0})
			} else if li1 == idx && included[li0] {
				keys = append(keys, ir.JoinKey{Left: newOffset[li0] + lc0, Right: lc1})
			}
		}
		current = &ir.Join{Left: current, Right: leaves[idx], Keys: keys}
		newOffset[idx] = cum
		included[idx] = true
		cum += leaves[idx].Arity()
	}
	return current
}

func computeNewOffsets(leaves []ir.Node, order []int) []int {
	offs := make([]int, len(leaves))
	cum := 0
	for _, idx := range order {
		offs[idx] = cum
		cum += leaves[idx].Arity()
	}
	return offs
}

func identity(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return p
}

func translateExprPerm(e ir.Expr, perm []int) ir.Expr {
	switch expr := e.(type) {
	case *ir.ColRef:
		return &ir.ColRef{Index: perm[expr.Index]}
	case *ir.ArithExpr:
		return &ir.ArithExpr{Op: expr.Op, Left: translateExprPerm(expr.Left, perm), Right: translateExprPerm(expr.Right, perm)}
	default:
		return e
	}
}

func translatePredPerm(p ir.Pred, perm []int) ir.Pred {
	return ir.Pred{Op: p.Op, Left: translateExprPerm(p.Left, perm), Right: translateExprPerm(p.Right, perm)}
}

func composeConcat(leftPerm, rightPerm []int) []int {
	leftArity := len(leftPerm)
	out := make([]int, leftArity+len(rightPerm))
	copy(out, leftPerm)
	for i, v := range rightPerm {
		out[leftArity+i] = leftArity + v
	}
	return out
}

// planJoins rewrites every left-deep join chain it finds into selectivity-
// and shared-variable-ordered form (spec §4.4 pass 3), returning the new
// node together with the permutation mapping each of the node's original
// (pre-optimization) output column indices to its new position — callers
// above (Filter/Map/Aggregate) use this to keep referring to the same
// logical column after reordering.
func planJoins(n ir.Node) (ir.Node, []int) {
	switch node := n.(type) {
	case *ir.Scan:
		return node, identity(node.Arity())
	case *ir.Filter:
		childNode, childPerm := planJoins(node.Input)
		return &ir.Filter{Input: childNode, Pred: translatePredPerm(node.Pred, childPerm)}, childPerm
	case *ir.Map:
		childNode, childPerm := planJoins(node.Input)
		proj := make([]ir.Expr, len(node.Proj))
		for i, e := range node.Proj {
			proj[i] = translateExprPerm(e, childPerm)
		}
		return &ir.Map{Input: childNode, Proj: proj}, identity(len(proj))
	case *ir.Join:
		if res, ok := flattenChain(node); ok && len(res.leaves) >= 2 {
			leaves := make([]ir.Node, len(res.leaves))
			perms := make([][]int, len(res.leaves))
			for i, l := range res.leaves {
				leaves[i], perms[i] = planJoins(l)
			}
			oldOffsets := leafOffsets(res.leaves)
			translatedEdges := make([][2]int, len(res.edges))
			for i, e := range res.edges {
				li0, lc0 := localColIn(e[0], oldOffsets, res.leaves)
				li1, lc1 := localColIn(e[1], oldOffsets, res.leaves)
				translatedEdges[i] = [2]int{oldOffsets[li0] + perms[li0][lc0], oldOffsets[li1] + perms[li1][lc1]}
			}
			order := reorderLeaves(leaves, translatedEdges)
			rebuilt := rebuildChain(leaves, translatedEdges, order)

			newOffset := computeNewOffsets(leaves, order)
			total := 0
			for _, l := range leaves {
				total += l.Arity()
			}
			perm := make([]int, total)
			for oldCol := 0; oldCol < total; oldCol++ {
				li, lc := localColIn(oldCol, oldOffsets, leaves)
				perm[oldCol] = newOffset[li] + perms[li][lc]
			}
			return rebuilt, perm
		}

		leftNode, leftPerm := planJoins(node.Left)
		rightNode, rightPerm := planJoins(node.Right)
		keys := make([]ir.JoinKey, len(node.Keys))
		for i, k := range node.Keys {
			keys[i] = ir.JoinKey{Left: leftPerm[k.Left], Right: rightPerm[k.Right]}
		}
		return &ir.Join{Left: leftNode, Right: rightNode, Keys: keys}, composeConcat(leftPerm, rightPerm)
	case *ir.Union:
		ins := make([]ir.Node, len(node.Inputs))
		for i, c := range node.Inputs {
			cn, _ := planJoins(c)
			ins[i] = cn
		}
		return &ir.Union{Inputs: ins}, identity(node.Arity())
	case *ir.Aggregate:
		childNode, childPerm := planJoins(node.Input)
		groupKeys := make([]int, len(node.GroupKeys))
		for i, k := range node.GroupKeys {
			groupKeys[i] = childPerm[k]
		}
		specs := make([]ir.AggSpec, len(node.Specs))
		for i, s := range node.Specs {
			specs[i] = ir.AggSpec{Op: s.Op, Col: childPerm[s.Col]}
		}
		return &ir.Aggregate{Input: childNode, GroupKeys: groupKeys, Specs: specs}, identity(len(groupKeys) + len(specs))
	case *ir.Fixpoint:
		childNode, childPerm := planJoins(node.Body)
		return &ir.Fixpoint{Relation: node.Relation, Body: childNode}, childPerm
	case *ir.Distinct:
		childNode, childPerm := planJoins(node.Input)
		return &ir.Distinct{Input: childNode, ExistenceOnly: node.ExistenceOnly}, childPerm
	default:
		return n, identity(n.Arity())
	}
}
