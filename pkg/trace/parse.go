package trace

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/inputlayer/inputlayer-sub003/pkg/ir"
	"github.com/inputlayer/inputlayer-sub003/pkg/value"
)

// ParseNode reparses text produced by PrintNode back into an ir.Node,
// structurally equivalent to the node that was printed (spec §4.8: the
// trace "must round-trip"). It is a small hand-written recursive-descent
// parser over this package's own notation, not over program syntax —
// pkg/lang already owns that grammar.
func ParseNode(text string) (ir.Node, error) {
	toks, err := tokenize(text)
	if err != nil {
		return nil, err
	}
	p := &nodeParser{toks: toks}
	n, err := p.parseNode()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("trace: trailing tokens after top-level node")
	}
	return n, nil
}

type nodeParser struct {
	toks []string
	pos  int
}

func (p *nodeParser) cur() (string, bool) {
	if p.pos >= len(p.toks) {
		return "", false
	}
	return p.toks[p.pos], true
}

func (p *nodeParser) next() (string, error) {
	t, ok := p.cur()
	if !ok {
		return "", fmt.Errorf("trace: unexpected end of input")
	}
	p.pos++
	return t, nil
}

func (p *nodeParser) expect(tok string) error {
	t, err := p.next()
	if err != nil {
		return err
	}
	if t != tok {
		return fmt.Errorf("trace: expected %q, found %q", tok, t)
	}
	return nil
}

func (p *nodeParser) parseNode() (ir.Node, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	tag, err := p.next()
	if err != nil {
		return nil, err
	}
	var node ir.Node
	switch tag {
	case "scan":
		rel, err := p.next()
		if err != nil {
			return nil, err
		}
		arityTok, err := p.next()
		if err != nil {
			return nil, err
		}
		arity, err := strconv.Atoi(arityTok)
		if err != nil {
			return nil, fmt.Errorf("trace: bad scan arity %q: %w", arityTok, err)
		}
		node = &ir.Scan{Relation: rel, RelArity: arity}
	case "filter":
		pred, err := p.parsePred()
		if err != nil {
			return nil, err
		}
		input, err := p.parseNode()
		if err != nil {
			return nil, err
		}
		node = &ir.Filter{Input: input, Pred: pred}
	case "map":
		proj, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		input, err := p.parseNode()
		if err != nil {
			return nil, err
		}
		node = &ir.Map{Input: input, Proj: proj}
	case "join":
		keys, err := p.parseJoinKeys()
		if err != nil {
			return nil, err
		}
		left, err := p.parseNode()
		if err != nil {
			return nil, err
		}
		right, err := p.parseNode()
		if err != nil {
			return nil, err
		}
		node = &ir.Join{Left: left, Right: right, Keys: keys}
	case "union":
		var inputs []ir.Node
		for {
			t, ok := p.cur()
			if !ok {
				return nil, fmt.Errorf("trace: unterminated union")
			}
			if t == ")" {
				break
			}
			n, err := p.parseNode()
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, n)
		}
		node = &ir.Union{Inputs: inputs}
	case "aggregate":
		groupKeys, err := p.parseIntList()
		if err != nil {
			return nil, err
		}
		specs, err := p.parseAggSpecs()
		if err != nil {
			return nil, err
		}
		input, err := p.parseNode()
		if err != nil {
			return nil, err
		}
		node = &ir.Aggregate{Input: input, GroupKeys: groupKeys, Specs: specs}
	case "fixpoint":
		rel, err := p.next()
		if err != nil {
			return nil, err
		}
		body, err := p.parseNode()
		if err != nil {
			return nil, err
		}
		node = &ir.Fixpoint{Relation: rel, Body: body}
	case "distinct":
		flagTok, err := p.next()
		if err != nil {
			return nil, err
		}
		flag, err := strconv.ParseBool(flagTok)
		if err != nil {
			return nil, fmt.Errorf("trace: bad distinct flag %q: %w", flagTok, err)
		}
		input, err := p.parseNode()
		if err != nil {
			return nil, err
		}
		node = &ir.Distinct{Input: input, ExistenceOnly: flag}
	default:
		return nil, fmt.Errorf("trace: unknown node tag %q", tag)
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	return node, nil
}

func (p *nodeParser) parsePred() (ir.Pred, error) {
	if err := p.expect("("); err != nil {
		return ir.Pred{}, err
	}
	if err := p.expect("pred"); err != nil {
		return ir.Pred{}, err
	}
	op, err := p.next()
	if err != nil {
		return ir.Pred{}, err
	}
	left, err := p.parseExpr()
	if err != nil {
		return ir.Pred{}, err
	}
	right, err := p.parseExpr()
	if err != nil {
		return ir.Pred{}, err
	}
	if err := p.expect(")"); err != nil {
		return ir.Pred{}, err
	}
	return ir.Pred{Op: op, Left: left, Right: right}, nil
}

func (p *nodeParser) parseExpr() (ir.Expr, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	tag, err := p.next()
	if err != nil {
		return nil, err
	}
	var e ir.Expr
	switch tag {
	case "col":
		idxTok, err := p.next()
		if err != nil {
			return nil, err
		}
		idx, err := strconv.Atoi(idxTok)
		if err != nil {
			return nil, err
		}
		e = &ir.ColRef{Index: idx}
	case "const":
		valTok, err := p.next()
		if err != nil {
			return nil, err
		}
		v, err := decodeValue(valTok)
		if err != nil {
			return nil, err
		}
		e = &ir.ConstExpr{Value: v}
	case "arith":
		op, err := p.next()
		if err != nil {
			return nil, err
		}
		left, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		right, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		e = &ir.ArithExpr{Op: op, Left: left, Right: right}
	default:
		return nil, fmt.Errorf("trace: unknown expr tag %q", tag)
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	return e, nil
}

func (p *nodeParser) parseExprList() ([]ir.Expr, error) {
	if err := p.expect("["); err != nil {
		return nil, err
	}
	var out []ir.Expr
	for {
		t, ok := p.cur()
		if !ok {
			return nil, fmt.Errorf("trace: unterminated expr list")
		}
		if t == "]" {
			p.pos++
			return out, nil
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
}

func (p *nodeParser) parseJoinKeys() ([]ir.JoinKey, error) {
	if err := p.expect("["); err != nil {
		return nil, err
	}
	var out []ir.JoinKey
	for {
		t, err := p.next()
		if err != nil {
			return nil, err
		}
		if t == "]" {
			return out, nil
		}
		parts := strings.SplitN(t, ".", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("trace: bad join key %q", t)
		}
		l, err1 := strconv.Atoi(parts[0])
		r, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("trace: bad join key %q", t)
		}
		out = append(out, ir.JoinKey{Left: l, Right: r})
	}
}

func (p *nodeParser) parseIntList() ([]int, error) {
	if err := p.expect("["); err != nil {
		return nil, err
	}
	var out []int
	for {
		t, err := p.next()
		if err != nil {
			return nil, err
		}
		if t == "]" {
			return out, nil
		}
		n, err := strconv.Atoi(t)
		if err != nil {
			return nil, fmt.Errorf("trace: bad int %q", t)
		}
		out = append(out, n)
	}
}

func (p *nodeParser) parseAggSpecs() ([]ir.AggSpec, error) {
	if err := p.expect("["); err != nil {
		return nil, err
	}
	var out []ir.AggSpec
	for {
		t, err := p.next()
		if err != nil {
			return nil, err
		}
		if t == "]" {
			return out, nil
		}
		parts := strings.SplitN(t, ".", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("trace: bad aggregate spec %q", t)
		}
		op, err := parseAggOp(parts[0])
		if err != nil {
			return nil, err
		}
		col, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("trace: bad aggregate column %q", t)
		}
		out = append(out, ir.AggSpec{Op: op, Col: col})
	}
}

func parseAggOp(s string) (ir.AggOp, error) {
	switch s {
	case "count":
		return ir.AggCount, nil
	case "sum":
		return ir.AggSum, nil
	case "min":
		return ir.AggMin, nil
	case "max":
		return ir.AggMax, nil
	case "avg":
		return ir.AggAvg, nil
	default:
		return 0, fmt.Errorf("trace: unknown aggregate op %q", s)
	}
}

// decodeValue is the inverse of encodeValue.
func decodeValue(tok string) (value.Value, error) {
	if tok == "null" {
		return value.Null, nil
	}
	parts := strings.SplitN(tok, ":", 2)
	if len(parts) != 2 {
		return value.Value{}, fmt.Errorf("trace: bad value token %q", tok)
	}
	kind, payload := parts[0], parts[1]
	switch kind {
	case "i32":
		n, err := strconv.ParseInt(payload, 10, 32)
		if err != nil {
			return value.Value{}, err
		}
		return value.Int32(int32(n)), nil
	case "i64":
		n, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			return value.Value{}, err
		}
		return value.Int64(n), nil
	case "f64":
		f, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			return value.Value{}, err
		}
		return value.Float64(f), nil
	case "bool":
		b, err := strconv.ParseBool(payload)
		if err != nil {
			return value.Value{}, err
		}
		return value.Bool(b), nil
	case "str":
		s, err := strconv.Unquote(payload)
		if err != nil {
			return value.Value{}, err
		}
		return value.String(s), nil
	case "ts":
		n, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			return value.Value{}, err
		}
		return value.Timestamp(n), nil
	case "vec":
		if payload == "" {
			return value.Vector(nil), nil
		}
		parts := strings.Split(payload, ",")
		out := make([]float32, len(parts))
		for i, s := range parts {
			f, err := strconv.ParseFloat(s, 32)
			if err != nil {
				return value.Value{}, err
			}
			out[i] = float32(f)
		}
		return value.Vector(out), nil
	case "veci8":
		if payload == "" {
			return value.VectorInt8(nil), nil
		}
		parts := strings.Split(payload, ",")
		out := make([]int8, len(parts))
		for i, s := range parts {
			n, err := strconv.ParseInt(s, 10, 8)
			if err != nil {
				return value.Value{}, err
			}
			out[i] = int8(n)
		}
		return value.VectorInt8(out), nil
	case "bytes":
		b := make([]byte, len(payload)/2)
		if _, err := fmt.Sscanf(payload, "%x", &b); err != nil && payload != "" {
			return value.Value{}, err
		}
		return value.Bytes(b), nil
	default:
		return value.Value{}, fmt.Errorf("trace: unknown value kind %q", kind)
	}
}

// tokenize splits text into '(', ')', '[', ']', and whitespace-delimited
// atoms, treating a double-quoted run (honoring backslash escapes) as part
// of the atom it appears in so a quoted string value may itself contain
// spaces.
func tokenize(text string) ([]string, error) {
	var toks []string
	var atom strings.Builder
	flush := func() {
		if atom.Len() > 0 {
			toks = append(toks, atom.String())
			atom.Reset()
		}
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"':
			atom.WriteRune(r)
			i++
			for i < len(runes) {
				atom.WriteRune(runes[i])
				if runes[i] == '\\' && i+1 < len(runes) {
					i++
					atom.WriteRune(runes[i])
				} else if runes[i] == '"' {
					break
				}
				i++
			}
		case r == '(' || r == ')' || r == '[' || r == ']':
			flush()
			toks = append(toks, string(r))
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
		default:
			atom.WriteRune(r)
		}
	}
	flush()
	return toks, nil
}
