package ir

import (
	"github.com/inputlayer/inputlayer-sub003/pkg/catalog"
	"github.com/inputlayer/inputlayer-sub003/pkg/kgerrors"
	"github.com/inputlayer/inputlayer-sub003/pkg/lang"
	"github.com/inputlayer/inputlayer-sub003/pkg/value"
)

// Definition is one rule's compiled plan: the body-and-head tree that
// produces tuples for Head, before that rule's plan is combined with its
// siblings (other rules sharing the same head) and wrapped in Fixpoint if
// the relation is recursive.
type Definition struct {
	Head  string
	Arity int
	Plan  Node
}

// Builder compiles parsed rules and queries into operator trees, resolving
// relation arities and variable bindings against a Catalog (spec §4.3).
type Builder struct {
	cat *catalog.Catalog
}

// NewBuilder returns a Builder backed by cat.
func NewBuilder(cat *catalog.Catalog) *Builder {
	return &Builder{cat: cat}
}

// env tracks, while walking a rule or query body left-to-right, the output
// column each bound variable currently occupies.
type env map[string]int

// BuildRule compiles r's body into a join/filter chain and its head into a
// trailing Map or Aggregate, registering the head relation in the catalog
// as derived. ruleText is the rule's source text, recorded as the view's
// defining text (spec §4.2).
func (b *Builder) BuildRule(r *lang.Rule, ruleText string) (*Definition, error) {
	node, bodyEnv, err := b.buildBody(r.Body, r.Head.Relation)
	if err != nil {
		return nil, err
	}
	plan, arity, err := b.buildHead(r.Head, node, bodyEnv, r.Head.Relation)
	if err != nil {
		return nil, err
	}

	cols := make([]string, arity)
	for i := range cols {
		cols[i] = r.Head.Relation
	}
	if err := b.cat.Register(catalog.Schema{Name: r.Head.Relation, Columns: cols}, catalog.KindDerived); err != nil {
		return nil, err
	}
	b.cat.MarkDerived(r.Head.Relation)
	b.cat.RegisterView(r.Head.Relation, ruleText)

	return &Definition{Head: r.Head.Relation, Arity: arity, Plan: plan}, nil
}

// BuildQuery compiles q into a standalone plan with no catalog side
// effects: queries are transient (spec §3 Lifecycle, §4.5 "implicit
// ?__result__ relation").
func (b *Builder) BuildQuery(q *lang.Query) (Node, error) {
	if len(q.Body) == 0 && len(q.Head.Terms) == 0 {
		// Bare "?rel." — the whole relation, unprojected.
		arity, err := b.relationArity(q.Head.Relation)
		if err != nil {
			return nil, err
		}
		return &Scan{Relation: q.Head.Relation, RelArity: arity}, nil
	}

	if len(q.Body) == 0 {
		// "?rel(Args)" — scan plus per-arg filter/no-op projection.
		arity, err := b.relationArity(q.Head.Relation)
		if err != nil {
			return nil, err
		}
		var scan Node = &Scan{Relation: q.Head.Relation, RelArity: arity}
		e := make(env, arity)
		for i, term := range q.Head.Terms {
			switch t := term.(type) {
			case *lang.Var:
				if prior, ok := e[t.Name]; ok {
					scan = &Filter{Input: scan, Pred: Pred{Op: "==", Left: &ColRef{Index: prior}, Right: &ColRef{Index: i}}}
				} else {
					e[t.Name] = i
				}
			case *lang.Const:
				v, err := literalToValue(t.Value)
				if err != nil {
					return nil, err
				}
				scan = &Filter{Input: scan, Pred: Pred{Op: "==", Left: &ColRef{Index: i}, Right: &ConstExpr{Value: v}}}
			default:
				return nil, kgerrors.ErrUnresolvedVariable.New("?", q.Head.Relation)
			}
		}
		return scan, nil
	}

	node, bodyEnv, err := b.buildBody(q.Body, "")
	if err != nil {
		return nil, err
	}
	plan, _, err := b.buildHead(q.Head, node, bodyEnv, "")
	return plan, err
}

// buildBody folds a rule/query body's atoms into a left-deep join chain and
// its comparisons into Filter nodes, resolving variables left-to-right
// (spec §4.3). recursiveHead, when non-empty, names the relation currently
// being defined, so its own Scan occurrences are still ordinary Scan nodes
// here — recursion is handled by the caller wrapping the combined
// definition in Fixpoint, not by this per-rule builder.
func (b *Builder) buildBody(body []lang.BodyElem, recursiveHead string) (Node, env, error) {
	var current Node
	e := env{}

	for _, elem := range body {
		switch be := elem.(type) {
		case *lang.BodyAtom:
			arity, err := b.relationArityForAtom(be.Relation, len(be.Args))
			if err != nil {
				return nil, nil, err
			}
			var scan Node = &Scan{Relation: be.Relation, RelArity: arity}

			// Self-equality filters for a variable repeated within this
			// atom's own argument list (e.g. edge(X, X)).
			seen := map[string]int{}
			for i, arg := range be.Args {
				v, ok := arg.(*lang.Var)
				if !ok {
					continue
				}
				if prior, ok := seen[v.Name]; ok {
					scan = &Filter{Input: scan, Pred: Pred{Op: "==", Left: &ColRef{Index: prior}, Right: &ColRef{Index: i}}}
				} else {
					seen[v.Name] = i
				}
			}
			// Constant arguments become equality filters on the scan.
			for i, arg := range be.Args {
				c, ok := arg.(*lang.Const)
				if !ok {
					continue
				}
				v, err := literalToValue(c.Value)
				if err != nil {
					return nil, nil, err
				}
				scan = &Filter{Input: scan, Pred: Pred{Op: "==", Left: &ColRef{Index: i}, Right: &ConstExpr{Value: v}}}
			}

			if current == nil {
				current = scan
				for i, arg := range be.Args {
					if v, ok := arg.(*lang.Var); ok {
						if _, exists := e[v.Name]; !exists {
							e[v.Name] = i
						}
					}
				}
				continue
			}

			offset := current.Arity()
			var keys []JoinKey
			newVars := map[string]int{}
			for i, arg := range be.Args {
				v, ok := arg.(*lang.Var)
				if !ok {
					continue
				}
				if leftCol, ok := e[v.Name]; ok {
					keys = append(keys, JoinKey{Left: leftCol, Right: i})
				} else if _, ok := newVars[v.Name]; !ok {
					newVars[v.Name] = i
				}
			}
			current = &Join{Left: current, Right: scan, Keys: keys}
			for name, i := range newVars {
				e[name] = offset + i
			}

		case *lang.Comparison:
			left, err := b.resolveTerm(be.Left, e, recursiveHead)
			if err != nil {
				return nil, nil, err
			}
			right, err := b.resolveTerm(be.Right, e, recursiveHead)
			if err != nil {
				return nil, nil, err
			}
			if current == nil {
				return nil, nil, kgerrors.ErrUnresolvedVariable.New(describeTerm(be.Left), recursiveHead)
			}
			current = &Filter{Input: current, Pred: Pred{Op: be.Op, Left: left, Right: right}}

		default:
			return nil, nil, kgerrors.ErrUnresolvedVariable.New("?", recursiveHead)
		}
	}

	if current == nil {
		// Empty body: the fact relation named by recursiveHead itself.
		return nil, e, nil
	}
	return current, e, nil
}

// buildHead compiles a rule/query head atom into the final plan node: a
// plain Map for variable/arithmetic projections, or an Aggregate when any
// head term is an aggregate spec (spec §4.3, §4.5).
func (b *Builder) buildHead(head lang.Atom, body Node, e env, ownName string) (Node, int, error) {
	hasAgg := false
	for _, t := range head.Terms {
		if _, ok := t.(*lang.Aggregate); ok {
			hasAgg = true
			break
		}
	}

	if !hasAgg {
		if body == nil {
			// A rule with an empty body and no aggregates has nothing to
			// bind its head variables, so it fails as unresolved.
			return nil, 0, kgerrors.ErrUnresolvedVariable.New(head.Relation, ownName)
		}
		proj := make([]Expr, 0, len(head.Terms))
		for _, t := range head.Terms {
			expr, err := b.resolveHeadTerm(t, e, ownName)
			if err != nil {
				return nil, 0, err
			}
			proj = append(proj, expr)
		}
		if len(proj) == 0 {
			return body, body.Arity(), nil
		}
		return &Map{Input: body, Proj: proj}, len(proj), nil
	}

	if body == nil {
		return nil, 0, kgerrors.ErrUnresolvedVariable.New(head.Relation, ownName)
	}
	if isDirectlyRecursive(body, ownName) {
		return nil, 0, kgerrors.ErrUnstratifiedAggregate.New(ownName)
	}

	var groupKeys []int
	var specs []AggSpec
	for _, t := range head.Terms {
		if agg, ok := t.(*lang.Aggregate); ok {
			col, ok := e[agg.Var]
			if !ok {
				return nil, 0, kgerrors.ErrUnresolvedVariable.New(agg.Var, ownName)
			}
			op, err := aggOpFor(agg.Op)
			if err != nil {
				return nil, 0, err
			}
			specs = append(specs, AggSpec{Op: op, Col: col})
			continue
		}
		v, ok := t.(*lang.Var)
		if !ok {
			return nil, 0, kgerrors.ErrUnresolvedVariable.New(describeHeadTerm(t), ownName)
		}
		col, ok := e[v.Name]
		if !ok {
			return nil, 0, kgerrors.ErrUnresolvedVariable.New(v.Name, ownName)
		}
		groupKeys = append(groupKeys, col)
	}
	return &Aggregate{Input: body, GroupKeys: groupKeys, Specs: specs}, len(groupKeys) + len(specs), nil
}

func aggOpFor(name string) (AggOp, error) {
	switch name {
	case "count":
		return AggCount, nil
	case "sum":
		return AggSum, nil
	case "min":
		return AggMin, nil
	case "max":
		return AggMax, nil
	case "avg":
		return AggAvg, nil
	default:
		return 0, kgerrors.ErrUnresolvedVariable.New(name, "")
	}
}

func (b *Builder) resolveTerm(t lang.Term, e env, ownName string) (Expr, error) {
	switch term := t.(type) {
	case *lang.Var:
		col, ok := e[term.Name]
		if !ok {
			return nil, kgerrors.ErrUnresolvedVariable.New(term.Name, ownName)
		}
		return &ColRef{Index: col}, nil
	case *lang.Const:
		v, err := literalToValue(term.Value)
		if err != nil {
			return nil, err
		}
		return &ConstExpr{Value: v}, nil
	default:
		return nil, kgerrors.ErrUnresolvedVariable.New("?", ownName)
	}
}

func (b *Builder) resolveHeadTerm(t lang.HeadTerm, e env, ownName string) (Expr, error) {
	switch term := t.(type) {
	case *lang.Var:
		col, ok := e[term.Name]
		if !ok {
			return nil, kgerrors.ErrUnresolvedVariable.New(term.Name, ownName)
		}
		return &ColRef{Index: col}, nil
	case *lang.Const:
		v, err := literalToValue(term.Value)
		if err != nil {
			return nil, err
		}
		return &ConstExpr{Value: v}, nil
	case *lang.Arith:
		left, err := b.resolveTerm(term.Left, e, ownName)
		if err != nil {
			return nil, err
		}
		right, err := b.resolveTerm(term.Right, e, ownName)
		if err != nil {
			return nil, err
		}
		return &ArithExpr{Op: term.Op, Left: left, Right: right}, nil
	default:
		return nil, kgerrors.ErrUnresolvedVariable.New("?", ownName)
	}
}

// LiteralToValue converts a parsed ground literal to a Value, the same
// conversion rule bodies and fact batches use (spec §4.1).
func LiteralToValue(lit lang.Literal) (value.Value, error) {
	return literalToValue(lit)
}

func literalToValue(lit lang.Literal) (value.Value, error) {
	switch lit.Kind {
	case lang.LitInt:
		return value.Int64(lit.Int), nil
	case lang.LitFloat:
		return value.Float64(lit.Flt), nil
	case lang.LitString:
		return value.String(lit.Str), nil
	case lang.LitBool:
		return value.Bool(lit.Bool), nil
	default:
		return value.Value{}, kgerrors.ErrUnresolvedVariable.New("literal", "")
	}
}

// relationArity returns the already-registered arity of name.
func (b *Builder) relationArity(name string) (int, error) {
	return b.cat.Arity(name)
}

// relationArityForAtom resolves the arity for a Scan built from a body
// atom, implicitly creating name as a base relation of the observed arity
// if it is not yet known (spec §3 Lifecycle), or failing with
// ArityMismatch if it conflicts with a previously fixed arity.
func (b *Builder) relationArityForAtom(name string, observedArity int) (int, error) {
	schema, _, ok := b.cat.Lookup(name)
	if !ok {
		s, err := b.cat.EnsureBase(name, observedArity)
		if err != nil {
			return 0, err
		}
		return s.Arity(), nil
	}
	if schema.Arity() != observedArity {
		return 0, kgerrors.ErrArityMismatch.New(name, schema.Arity(), observedArity)
	}
	return schema.Arity(), nil
}

// isDirectlyRecursive reports whether relation appears as a Scan anywhere
// in node.
func isDirectlyRecursive(node Node, relation string) bool {
	if relation == "" {
		return false
	}
	switch n := node.(type) {
	case *Scan:
		return n.Relation == relation
	case *Filter:
		return isDirectlyRecursive(n.Input, relation)
	case *Map:
		return isDirectlyRecursive(n.Input, relation)
	case *Join:
		return isDirectlyRecursive(n.Left, relation) || isDirectlyRecursive(n.Right, relation)
	case *Union:
		for _, in := range n.Inputs {
			if isDirectlyRecursive(in, relation) {
				return true
			}
		}
		return false
	case *Aggregate:
		return isDirectlyRecursive(n.Input, relation)
	case *Fixpoint:
		return isDirectlyRecursive(n.Body, relation)
	case *Distinct:
		return isDirectlyRecursive(n.Input, relation)
	default:
		return false
	}
}

func describeTerm(t lang.Term) string {
	switch v := t.(type) {
	case *lang.Var:
		return v.Name
	default:
		return "?"
	}
}

func describeHeadTerm(t lang.HeadTerm) string {
	switch v := t.(type) {
	case *lang.Var:
		return v.Name
	default:
		return "?"
	}
}

// Combine merges one or more Definitions sharing the same head relation
// into a single plan: a Union when there is more than one rule, wrapped in
// Fixpoint when the relation occurs inside its own combined body (spec
// §4.3, §4.5). A recursive head is also wrapped in Distinct: a recursive
// relation's Herbrand base is finite (spec §4.5 "termination guaranteed"),
// so its rows carry existence, not a count of how many derivation paths
// produced them — evalFixpoint saturates each round against exactly this
// existence semantics, and the outer Distinct makes the same collapse
// explicit in the plan a caller or Explain reads back.
func Combine(defs []*Definition) Node {
	if len(defs) == 0 {
		return nil
	}
	var body Node
	if len(defs) == 1 {
		body = defs[0].Plan
	} else {
		inputs := make([]Node, len(defs))
		for i, d := range defs {
			inputs[i] = d.Plan
		}
		body = &Union{Inputs: inputs}
	}
	if isDirectlyRecursive(body, defs[0].Head) {
		fp := &Fixpoint{Relation: defs[0].Head, Body: body}
		return &Distinct{Input: fp}
	}
	return body
}
