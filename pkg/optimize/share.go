package optimize

import (
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/inputlayer/inputlayer-sub003/pkg/ir"
)

// shareSubplans hash-canonicalizes every subtree bottom-up and replaces a
// structurally identical later subtree with a pointer to the first one
// seen (spec §4.4 pass 5). The tree becomes a DAG; the engine can use
// node-pointer identity to memoize evaluation of shared subtrees.
func shareSubplans(n ir.Node) ir.Node {
	memo := map[uint64]map[string]ir.Node{}

	var visit func(ir.Node) ir.Node
	visit = func(node ir.Node) ir.Node {
		var rebuilt ir.Node
		switch nd := node.(type) {
		case *ir.Scan:
			rebuilt = &ir.Scan{Relation: nd.Relation, RelArity: nd.RelArity}
		case *ir.Filter:
			rebuilt = &ir.Filter{Input: visit(nd.Input), Pred: nd.Pred}
		case *ir.Map:
			rebuilt = &ir.Map{Input: visit(nd.Input), Proj: nd.Proj}
		case *ir.Join:
			rebuilt = &ir.Join{Left: visit(nd.Left), Right: visit(nd.Right), Keys: nd.Keys}
		case *ir.Union:
			ins := make([]ir.Node, len(nd.Inputs))
			for i, c := range nd.Inputs {
				ins[i] = visit(c)
			}
			rebuilt = &ir.Union{Inputs: ins}
		case *ir.Aggregate:
			rebuilt = &ir.Aggregate{Input: visit(nd.Input), GroupKeys: nd.GroupKeys, Specs: nd.Specs}
		case *ir.Fixpoint:
			rebuilt = &ir.Fixpoint{Relation: nd.Relation, Body: visit(nd.Body)}
		case *ir.Distinct:
			rebuilt = &ir.Distinct{Input: visit(nd.Input), ExistenceOnly: nd.ExistenceOnly}
		default:
			rebuilt = node
		}

		key := canonicalString(rebuilt)
		h := hashString(key)
		bucket := memo[h]
		if existing, ok := bucket[key]; ok {
			return existing
		}
		if bucket == nil {
			bucket = map[string]ir.Node{}
			memo[h] = bucket
		}
		bucket[key] = rebuilt
		return rebuilt
	}

	return visit(n)
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

func canonicalString(n ir.Node) string {
	var b strings.Builder
	writeNode(&b, n)
	return b.String()
}

func writeNode(b *strings.Builder, n ir.Node) {
	switch nd := n.(type) {
	case *ir.Scan:
		b.WriteString("Scan(")
		b.WriteString(nd.Relation)
		b.WriteByte(',')
		b.WriteString(strconv.Itoa(nd.RelArity))
		b.WriteByte(')')
	case *ir.Filter:
		b.WriteString("Filter(")
		writeNode(b, nd.Input)
		b.WriteByte(',')
		writePred(b, nd.Pred)
		b.WriteByte(')')
	case *ir.Map:
		b.WriteString("Map(")
		writeNode(b, nd.Input)
		b.WriteString(",[")
		for i, e := range nd.Proj {
			if i > 0 {
				b.WriteByte(',')
			}
			writeExpr(b, e)
		}
		b.WriteString("])")
	case *ir.Join:
		b.WriteString("Join(")
		writeNode(b, nd.Left)
		b.WriteByte(',')
		writeNode(b, nd.Right)
		b.WriteString(",[")
		for i, k := range nd.Keys {
			if i > 0 {
				b.WriteByte(';')
			}
			b.WriteString(strconv.Itoa(k.Left))
			b.WriteByte('=')
			b.WriteString(strconv.Itoa(k.Right))
		}
		b.WriteString("])")
	case *ir.Union:
		b.WriteString("Union(")
		for i, c := range nd.Inputs {
			if i > 0 {
				b.WriteByte(',')
			}
			writeNode(b, c)
		}
		b.WriteByte(')')
	case *ir.Aggregate:
		b.WriteString("Aggregate(")
		writeNode(b, nd.Input)
		b.WriteString(",g=[")
		for i, k := range nd.GroupKeys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Itoa(k))
		}
		b.WriteString("],s=[")
		for i, s := range nd.Specs {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(s.Op.String())
			b.WriteByte(':')
			b.WriteString(strconv.Itoa(s.Col))
		}
		b.WriteString("])")
	case *ir.Fixpoint:
		b.WriteString("Fixpoint(")
		b.WriteString(nd.Relation)
		b.WriteByte(',')
		writeNode(b, nd.Body)
		b.WriteByte(')')
	case *ir.Distinct:
		b.WriteString("Distinct(")
		writeNode(b, nd.Input)
		if nd.ExistenceOnly {
			b.WriteString(",exists")
		}
		b.WriteByte(')')
	default:
		b.WriteString("?")
	}
}

func writeExpr(b *strings.Builder, e ir.Expr) {
	switch ex := e.(type) {
	case *ir.ColRef:
		b.WriteByte('#')
		b.WriteString(strconv.Itoa(ex.Index))
	case *ir.ConstExpr:
		b.WriteByte('$')
		b.WriteString(ex.Value.String())
	case *ir.ArithExpr:
		b.WriteByte('(')
		writeExpr(b, ex.Left)
		b.WriteString(ex.Op)
		writeExpr(b, ex.Right)
		b.WriteByte(')')
	default:
		b.WriteString("?")
	}
}

func writePred(b *strings.Builder, p ir.Pred) {
	writeExpr(b, p.Left)
	b.WriteString(p.Op)
	writeExpr(b, p.Right)
}
