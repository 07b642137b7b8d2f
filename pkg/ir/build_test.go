package ir

import (
	"testing"

	"github.com/inputlayer/inputlayer-sub003/pkg/catalog"
	"github.com/inputlayer/inputlayer-sub003/pkg/lang"
)

func parseRule(t *testing.T, src string) *lang.Rule {
	t.Helper()
	prog, err := lang.ParseProgram(src)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	r, ok := prog.Statements[0].(*lang.Rule)
	if !ok {
		t.Fatalf("expected *lang.Rule, got %T", prog.Statements[0])
	}
	return r
}

func parseQuery(t *testing.T, src string) *lang.Query {
	t.Helper()
	prog, err := lang.ParseProgram(src)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	q, ok := prog.Statements[0].(*lang.Query)
	if !ok {
		t.Fatalf("expected *lang.Query, got %T", prog.Statements[0])
	}
	return q
}

func TestBuildJoinRuleResolvesSharedVariable(t *testing.T) {
	cat := catalog.New()
	b := NewBuilder(cat)
	r := parseRule(t, `result(X,Z) <- edge(X,Y), edge(Y,Z).`)

	def, err := b.BuildRule(r, `result(X,Z) <- edge(X,Y), edge(Y,Z).`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Arity != 2 {
		t.Fatalf("expected arity 2, got %d", def.Arity)
	}
	m, ok := def.Plan.(*Map)
	if !ok {
		t.Fatalf("expected *Map at root, got %T", def.Plan)
	}
	join, ok := m.Input.(*Join)
	if !ok {
		t.Fatalf("expected *Join under Map, got %T", m.Input)
	}
	if len(join.Keys) != 1 || join.Keys[0].Left != 1 || join.Keys[0].Right != 0 {
		t.Errorf("expected join key (left=1,right=0), got %+v", join.Keys)
	}
}

func TestBuildRuleSelfEquality(t *testing.T) {
	cat := catalog.New()
	if _, err := cat.EnsureBase("edge", 2); err != nil {
		t.Fatal(err)
	}
	b := NewBuilder(cat)
	r := parseRule(t, `loopy(X) <- edge(X,X).`)
	def, err := b.BuildRule(r, "loopy(X) <- edge(X,X).")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := def.Plan.(*Map)
	if _, ok := m.Input.(*Filter); !ok {
		t.Fatalf("expected self-equality *Filter under Map, got %T", m.Input)
	}
}

func TestBuildRuleUnresolvedVariable(t *testing.T) {
	cat := catalog.New()
	b := NewBuilder(cat)
	r := parseRule(t, `result(X,Q) <- edge(X,Y).`)
	if _, err := b.BuildRule(r, "result(X,Q) <- edge(X,Y)."); err == nil {
		t.Fatal("expected UnresolvedVariable error for Q")
	}
}

func TestBuildRuleArityMismatch(t *testing.T) {
	cat := catalog.New()
	if _, err := cat.EnsureBase("edge", 2); err != nil {
		t.Fatal(err)
	}
	b := NewBuilder(cat)
	r := parseRule(t, `bad(X) <- edge(X,X,X).`)
	if _, err := b.BuildRule(r, "bad(X) <- edge(X,X,X)."); err == nil {
		t.Fatal("expected ArityMismatch error")
	}
}

func TestBuildAggregateRule(t *testing.T) {
	cat := catalog.New()
	if _, err := cat.EnsureBase("data", 2); err != nil {
		t.Fatal(err)
	}
	b := NewBuilder(cat)
	r := parseRule(t, `sums(G, sum<V>) <- data(G,V).`)
	def, err := b.BuildRule(r, "sums(G, sum<V>) <- data(G,V).")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	agg, ok := def.Plan.(*Aggregate)
	if !ok {
		t.Fatalf("expected *Aggregate, got %T", def.Plan)
	}
	if len(agg.GroupKeys) != 1 || agg.GroupKeys[0] != 0 {
		t.Errorf("expected group key [0], got %+v", agg.GroupKeys)
	}
	if len(agg.Specs) != 1 || agg.Specs[0].Op != AggSum || agg.Specs[0].Col != 1 {
		t.Errorf("expected sum spec over col 1, got %+v", agg.Specs)
	}
}

func TestBuildAggregateOverRecursiveRelationFails(t *testing.T) {
	cat := catalog.New()
	if _, err := cat.EnsureBase("edge", 2); err != nil {
		t.Fatal(err)
	}
	b := NewBuilder(cat)
	r := parseRule(t, `counts(X, count<Y>) <- counts(X,Y).`)
	if _, err := b.BuildRule(r, "counts(X, count<Y>) <- counts(X,Y)."); err == nil {
		t.Fatal("expected UnstratifiedAggregate error")
	}
}

func TestBuildArithmeticHeadTerm(t *testing.T) {
	cat := catalog.New()
	if _, err := cat.EnsureBase("base", 2); err != nil {
		t.Fatal(err)
	}
	b := NewBuilder(cat)
	r := parseRule(t, `result(X, V+1) <- base(X, V).`)
	def, err := b.BuildRule(r, "result(X, V+1) <- base(X, V).")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := def.Plan.(*Map)
	if _, ok := m.Proj[1].(*ArithExpr); !ok {
		t.Fatalf("expected *ArithExpr in projection, got %T", m.Proj[1])
	}
}

func TestBuildQueryBareRelation(t *testing.T) {
	cat := catalog.New()
	if _, err := cat.EnsureBase("reach", 2); err != nil {
		t.Fatal(err)
	}
	b := NewBuilder(cat)
	q := parseQuery(t, `?reach.`)
	node, err := b.BuildQuery(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	scan, ok := node.(*Scan)
	if !ok || scan.Relation != "reach" {
		t.Fatalf("expected *Scan(reach), got %+v", node)
	}
}

func TestBuildQueryWithBody(t *testing.T) {
	cat := catalog.New()
	if _, err := cat.EnsureBase("edge", 2); err != nil {
		t.Fatal(err)
	}
	b := NewBuilder(cat)
	q := parseQuery(t, `?bi(X,Y) <- edge(X,Y), edge(Y,X).`)
	node, err := b.BuildQuery(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if node.Arity() != 2 {
		t.Fatalf("expected arity 2, got %d", node.Arity())
	}
}

func TestCombineWrapsRecursiveRelationInFixpoint(t *testing.T) {
	cat := catalog.New()
	if _, err := cat.EnsureBase("edge", 2); err != nil {
		t.Fatal(err)
	}
	b := NewBuilder(cat)
	base := parseRule(t, `reach(X,Y) <- edge(X,Y).`)
	rec := parseRule(t, `reach(X,Z) <- reach(X,Y), edge(Y,Z).`)

	baseDef, err := b.BuildRule(base, "reach(X,Y) <- edge(X,Y).")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recDef, err := b.BuildRule(rec, "reach(X,Z) <- reach(X,Y), edge(Y,Z).")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	combined := Combine([]*Definition{baseDef, recDef})
	d, ok := combined.(*Distinct)
	if !ok {
		t.Fatalf("expected recursive head wrapped in *Distinct, got %T", combined)
	}
	if d.ExistenceOnly {
		t.Error("expected a plain per-tuple Distinct, not the boolean-witness specialization")
	}
	fp, ok := d.Input.(*Fixpoint)
	if !ok {
		t.Fatalf("expected *Fixpoint under the Distinct, got %T", d.Input)
	}
	if fp.Relation != "reach" {
		t.Errorf("expected fixpoint over 'reach', got %q", fp.Relation)
	}
	if _, ok := fp.Body.(*Union); !ok {
		t.Fatalf("expected *Union body for two rules, got %T", fp.Body)
	}
}
