package trace

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/inputlayer/inputlayer-sub003/pkg/ir"
	"github.com/inputlayer/inputlayer-sub003/pkg/value"
)

// PrintNode renders n as a canonical parenthesized form — InputLayer's own
// plain-text IR notation, not Datalog surface syntax. The notation is
// closed over the same operator set as ir.Node, so it prints and reparses
// without loss (see ParseNode), which is what spec §4.8's "must round-trip"
// requirement calls for. Grounded in the print-only debug mode the original
// implementation exposes and in this engine's own subtree-canonicalization
// printer (pkg/optimize's hash-canonicalization pass), generalized here to
// be total and reversible instead of just good enough to hash.
func PrintNode(n ir.Node) string {
	var b strings.Builder
	writeNode(&b, n)
	return b.String()
}

func writeNode(b *strings.Builder, n ir.Node) {
	switch x := n.(type) {
	case *ir.Scan:
		fmt.Fprintf(b, "(scan %s %d)", x.Relation, x.RelArity)
	case *ir.Filter:
		b.WriteString("(filter ")
		writePred(b, x.Pred)
		b.WriteString(" ")
		writeNode(b, x.Input)
		b.WriteString(")")
	case *ir.Map:
		b.WriteString("(map [")
		for i, e := range x.Proj {
			if i > 0 {
				b.WriteString(" ")
			}
			writeExpr(b, e)
		}
		b.WriteString("] ")
		writeNode(b, x.Input)
		b.WriteString(")")
	case *ir.Join:
		b.WriteString("(join [")
		for i, k := range x.Keys {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(b, "%d.%d", k.Left, k.Right)
		}
		b.WriteString("] ")
		writeNode(b, x.Left)
		b.WriteString(" ")
		writeNode(b, x.Right)
		b.WriteString(")")
	case *ir.Union:
		b.WriteString("(union")
		for _, c := range x.Inputs {
			b.WriteString(" ")
			writeNode(b, c)
		}
		b.WriteString(")")
	case *ir.Aggregate:
		b.WriteString("(aggregate [")
		for i, g := range x.GroupKeys {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(b, "%d", g)
		}
		b.WriteString("] [")
		for i, s := range x.Specs {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(b, "%s.%d", s.Op, s.Col)
		}
		b.WriteString("] ")
		writeNode(b, x.Input)
		b.WriteString(")")
	case *ir.Fixpoint:
		fmt.Fprintf(b, "(fixpoint %s ", x.Relation)
		writeNode(b, x.Body)
		b.WriteString(")")
	case *ir.Distinct:
		fmt.Fprintf(b, "(distinct %v ", x.ExistenceOnly)
		writeNode(b, x.Input)
		b.WriteString(")")
	default:
		b.WriteString("(unknown)")
	}
}

func writeExpr(b *strings.Builder, e ir.Expr) {
	switch x := e.(type) {
	case *ir.ColRef:
		fmt.Fprintf(b, "(col %d)", x.Index)
	case *ir.ConstExpr:
		fmt.Fprintf(b, "(const %s)", encodeValue(x.Value))
	case *ir.ArithExpr:
		b.WriteString("(arith ")
		b.WriteString(x.Op)
		b.WriteString(" ")
		writeExpr(b, x.Left)
		b.WriteString(" ")
		writeExpr(b, x.Right)
		b.WriteString(")")
	default:
		b.WriteString("(unknown)")
	}
}

func writePred(b *strings.Builder, p ir.Pred) {
	b.WriteString("(pred ")
	b.WriteString(p.Op)
	b.WriteString(" ")
	writeExpr(b, p.Left)
	b.WriteString(" ")
	writeExpr(b, p.Right)
	b.WriteString(")")
}

// encodeValue renders v as a single self-describing token: kind, a colon,
// and a kind-specific payload. No embedded whitespace, so the tokenizer in
// parse.go can treat it as one atom.
func encodeValue(v value.Value) string {
	switch v.Kind() {
	case value.KindNull:
		return "null"
	case value.KindInt32:
		return "i32:" + strconv.FormatInt(int64(v.Int32()), 10)
	case value.KindInt64:
		return "i64:" + strconv.FormatInt(v.Int64(), 10)
	case value.KindFloat64:
		return "f64:" + strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	case value.KindBool:
		return "bool:" + strconv.FormatBool(v.Bool())
	case value.KindString:
		return "str:" + strconv.Quote(v.String_())
	case value.KindTimestamp:
		return "ts:" + strconv.FormatInt(v.Timestamp(), 10)
	case value.KindVector:
		return "vec:" + joinFloats(v.Vector())
	case value.KindVectorInt8:
		return "veci8:" + joinInt8s(v.VectorInt8())
	case value.KindBytes:
		return "bytes:" + fmt.Sprintf("%x", v.Bytes())
	default:
		return "null"
	}
}

func joinFloats(fs []float32) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = strconv.FormatFloat(float64(f), 'g', -1, 32)
	}
	return strings.Join(parts, ",")
}

func joinInt8s(is []int8) string {
	parts := make([]string, len(is))
	for i, x := range is {
		parts[i] = strconv.FormatInt(int64(x), 10)
	}
	return strings.Join(parts, ",")
}
