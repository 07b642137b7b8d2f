package trace_test

import (
	"context"
	"testing"

	"github.com/inputlayer/inputlayer-sub003/pkg/catalog"
	"github.com/inputlayer/inputlayer-sub003/pkg/engine"
	"github.com/inputlayer/inputlayer-sub003/pkg/ir"
	"github.com/inputlayer/inputlayer-sub003/pkg/lang"
	"github.com/inputlayer/inputlayer-sub003/pkg/optimize"
	"github.com/inputlayer/inputlayer-sub003/pkg/trace"
	"github.com/inputlayer/inputlayer-sub003/pkg/value"
)

// buildEdgeBase seeds a catalog with a base "edge" relation and returns a
// snapshot holding the classic five-node path.
func buildEdgeBase(t *testing.T) (*catalog.Catalog, map[string]*engine.Multiset) {
	t.Helper()
	cat := catalog.New()
	if _, err := cat.EnsureBase("edge", 2); err != nil {
		t.Fatalf("EnsureBase: %v", err)
	}
	m := engine.NewMultiset()
	for _, p := range [][2]int64{{1, 2}, {2, 3}, {3, 4}, {4, 5}} {
		m.Add(value.Tuple{value.Int64(p[0]), value.Int64(p[1])}, 1)
	}
	return cat, map[string]*engine.Multiset{"edge": m}
}

func TestBuildRecursiveReachTrace(t *testing.T) {
	cat, base := buildEdgeBase(t)

	rules := []string{
		"reach(X,Y) <- edge(X,Y).",
		"reach(X,Z) <- reach(X,Y), edge(Y,Z).",
	}
	builder := ir.NewBuilder(cat)
	ruleDefs := map[string][]*ir.Definition{}
	for _, rt := range rules {
		prog, err := lang.ParseProgram(rt)
		if err != nil {
			t.Fatalf("ParseProgram(%q): %v", rt, err)
		}
		rule := prog.Statements[0].(*lang.Rule)
		def, err := builder.BuildRule(rule, rt)
		if err != nil {
			t.Fatalf("BuildRule(%q): %v", rt, err)
		}
		ruleDefs[def.Head] = append(ruleDefs[def.Head], def)
	}

	tr, err := trace.Build(context.Background(), "?reach.", cat, ruleDefs, base, optimize.DefaultOptions())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if !tr.ReparseOK {
		t.Fatalf("expected trace to reparse cleanly, errors: %v", tr.ReparseErrors)
	}
	if tr.ResultCount != 10 {
		t.Fatalf("got %d result rows, want 10", tr.ResultCount)
	}
	if len(tr.Rounds) == 0 {
		t.Fatal("expected at least one fixpoint round to be captured")
	}
	if tr.ParsedAST == "" {
		t.Fatal("expected a non-empty parsed AST dump")
	}
	if _, ok := tr.IRBeforeOpt["?__result__"]; !ok {
		t.Fatal("expected the query's pre-optimization IR to be recorded")
	}
	if _, ok := tr.IRAfterOpt["?__result__"]; !ok {
		t.Fatal("expected the query's post-optimization IR to be recorded")
	}
	if tr.String() == "" {
		t.Fatal("expected String() to render a non-empty trace")
	}
}

func TestBuildRejectsBadProgram(t *testing.T) {
	cat := catalog.New()
	if _, err := trace.Build(context.Background(), "not a program (", cat, nil, nil, optimize.DefaultOptions()); err == nil {
		t.Fatal("expected an error for an unparseable program")
	}
}
