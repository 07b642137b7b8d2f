package optimize

import (
	"testing"

	"github.com/inputlayer/inputlayer-sub003/pkg/catalog"
	"github.com/inputlayer/inputlayer-sub003/pkg/ir"
	"github.com/inputlayer/inputlayer-sub003/pkg/lang"
	"github.com/inputlayer/inputlayer-sub003/pkg/value"
)

func buildRule(t *testing.T, src string) *ir.Definition {
	t.Helper()
	prog, err := lang.ParseProgram(src)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	r, ok := prog.Statements[0].(*lang.Rule)
	if !ok {
		t.Fatalf("expected *lang.Rule, got %T", prog.Statements[0])
	}
	cat := catalog.New()
	b := ir.NewBuilder(cat)
	def, err := b.BuildRule(r, src)
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	return def
}

func TestIdentityMapEliminationRemovesNoOpMap(t *testing.T) {
	m := &ir.Map{
		Input: &ir.Scan{Relation: "edge", RelArity: 2},
		Proj:  []ir.Expr{&ir.ColRef{Index: 0}, &ir.ColRef{Index: 1}},
	}
	got := eliminateIdentityMaps(m)
	if _, ok := got.(*ir.Scan); !ok {
		t.Fatalf("expected identity Map eliminated down to *Scan, got %T", got)
	}
}

func TestIdentityMapEliminationKeepsRealProjection(t *testing.T) {
	m := &ir.Map{
		Input: &ir.Scan{Relation: "edge", RelArity: 2},
		Proj:  []ir.Expr{&ir.ColRef{Index: 1}, &ir.ColRef{Index: 0}},
	}
	got := eliminateIdentityMaps(m)
	if _, ok := got.(*ir.Map); !ok {
		t.Fatalf("expected swapped projection Map kept, got %T", got)
	}
}

func TestFilterPushdownThroughJoin(t *testing.T) {
	// big(X) <- edge(X,Y), base(Y,V), V > 10. the comparison only touches
	// the right scan's column and should end up wrapping it directly.
	def := buildRule(t, `big(X) <- edge(X, Y), base(Y, V), V > 10.`)
	optimized := pushdownFilters(def.Plan)

	m, ok := optimized.(*ir.Map)
	if !ok {
		t.Fatalf("expected *Map at root, got %T", optimized)
	}
	j, ok := m.Input.(*ir.Join)
	if !ok {
		t.Fatalf("expected Filter pushed below the Join, got %T", m.Input)
	}
	f, ok := j.Right.(*ir.Filter)
	if !ok {
		t.Fatalf("expected Filter directly above the right Scan, got %T", j.Right)
	}
	if _, ok := f.Input.(*ir.Scan); !ok {
		t.Fatalf("expected Filter pushed directly onto Scan, got %T", f.Input)
	}
}

func TestFilterPushdownThroughMap(t *testing.T) {
	scan := &ir.Scan{Relation: "base", RelArity: 2}
	mapNode := &ir.Map{Input: scan, Proj: []ir.Expr{&ir.ColRef{Index: 1}, &ir.ColRef{Index: 0}}}
	filter := &ir.Filter{Input: mapNode, Pred: ir.Pred{Op: ">", Left: &ir.ColRef{Index: 0}, Right: &ir.ConstExpr{Value: value.Int64(10)}}}

	got := pushdownFilters(filter)
	m, ok := got.(*ir.Map)
	if !ok {
		t.Fatalf("expected *Map at root, got %T", got)
	}
	f, ok := m.Input.(*ir.Filter)
	if !ok {
		t.Fatalf("expected pushed *Filter under Map, got %T", m.Input)
	}
	// Original filter referenced output col 0, which Proj maps to input
	// col 1 — the pushed predicate must reference input col 1.
	col, ok := f.Pred.Left.(*ir.ColRef)
	if !ok || col.Index != 1 {
		t.Errorf("expected translated filter on col 1, got %+v", f.Pred.Left)
	}
}

func TestJoinPlanningPreservesOutputSemantics(t *testing.T) {
	def := buildRule(t, `result(X,Z) <- edge(X,Y), edge(Y,Z).`)
	planned, _ := planJoins(def.Plan)
	if planned.Arity() != def.Plan.Arity() {
		t.Fatalf("expected arity preserved, got %d want %d", planned.Arity(), def.Plan.Arity())
	}
	if _, ok := planned.(*ir.Map); !ok {
		t.Fatalf("expected *Map at root, got %T", planned)
	}
}

func TestSIPPushesConstantBoundFromLeft(t *testing.T) {
	left := &ir.Filter{
		Input: &ir.Scan{Relation: "a", RelArity: 2},
		Pred:  ir.Pred{Op: "==", Left: &ir.ColRef{Index: 0}, Right: &ir.ConstExpr{Value: value.Int64(7)}},
	}
	right := &ir.Scan{Relation: "b", RelArity: 2}
	join := &ir.Join{Left: left, Right: right, Keys: []ir.JoinKey{{Left: 0, Right: 0}}}

	got := applySIP(join).(*ir.Join)
	f, ok := got.Right.(*ir.Filter)
	if !ok {
		t.Fatalf("expected SIP filter pushed onto right scan, got %T", got.Right)
	}
	c, ok := f.Pred.Right.(*ir.ConstExpr)
	if !ok || !c.Value.Equal(value.Int64(7)) {
		t.Errorf("expected SIP pre-filter bound to 7, got %+v", f.Pred.Right)
	}
}

func TestSubplanSharingReusesIdenticalSubtrees(t *testing.T) {
	left := &ir.Scan{Relation: "edge", RelArity: 2}
	right := &ir.Scan{Relation: "edge", RelArity: 2}
	u := &ir.Union{Inputs: []ir.Node{left, right}}

	shared := shareSubplans(u).(*ir.Union)
	if shared.Inputs[0] != shared.Inputs[1] {
		t.Error("expected identical Scan subtrees to be shared as the same pointer")
	}
}

func TestBooleanSpecializationMarksRootDistinct(t *testing.T) {
	scan := &ir.Scan{Relation: "edge", RelArity: 2}
	got := specializeBoolean(scan, true)
	d, ok := got.(*ir.Distinct)
	if !ok {
		t.Fatalf("expected root wrapped in *ir.Distinct, got %T", got)
	}
	if !d.ExistenceOnly {
		t.Error("expected ExistenceOnly set")
	}
}

func TestBooleanSpecializationNoopWhenNotExistenceOnly(t *testing.T) {
	scan := &ir.Scan{Relation: "edge", RelArity: 2}
	got := specializeBoolean(scan, false)
	if got != scan {
		t.Errorf("expected node unchanged, got %T", got)
	}
}

func TestApplyRunsAllPassesByDefault(t *testing.T) {
	def := buildRule(t, `result(X,Z) <- edge(X,Y), edge(Y,Z).`)
	got := Apply(def.Plan, DefaultOptions(), false)
	if got.Arity() != def.Plan.Arity() {
		t.Fatalf("expected arity preserved through full pipeline, got %d want %d", got.Arity(), def.Plan.Arity())
	}
}
