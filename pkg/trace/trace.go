// Package trace implements InputLayer's Explain surface (spec §4.8): a
// pretty-printed pipeline — parsed program, IR before and after
// optimization, per-fixpoint-round delta counts, and final result count —
// plus the reparse round-trip check that is this surface's own
// self-verification. Grounded in the original implementation's
// print-IR-only debug mode and its per-round trace demo, reimplemented
// here over this package's IR printer instead of translated line for line.
package trace

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inputlayer/inputlayer-sub003/pkg/catalog"
	"github.com/inputlayer/inputlayer-sub003/pkg/engine"
	"github.com/inputlayer/inputlayer-sub003/pkg/ir"
	"github.com/inputlayer/inputlayer-sub003/pkg/lang"
	"github.com/inputlayer/inputlayer-sub003/pkg/optimize"
)

// RoundDelta is one semi-naïve fixpoint round's size accounting for one
// recursive relation.
type RoundDelta struct {
	Relation  string
	Round     int
	DeltaSize int
	TotalSize int
}

// Trace is the full pretty-printed pipeline for one explained program.
type Trace struct {
	ID            string
	ProgramText   string
	ParsedAST     string
	IRBeforeOpt   map[string]string
	IRAfterOpt    map[string]string
	Rounds        []RoundDelta
	ResultCount   int
	ReparseOK     bool
	ReparseErrors []string
}

// String renders the full trace as the text an ExplainResponse carries
// (spec §6 "ExplainResponse { trace: string }").
func (t *Trace) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "trace %s\n", t.ID)
	fmt.Fprintf(&b, "--- program ---\n%s\n", t.ProgramText)
	fmt.Fprintf(&b, "--- parsed ast ---\n%s\n", t.ParsedAST)

	for _, head := range sortedKeys(t.IRBeforeOpt) {
		fmt.Fprintf(&b, "--- ir before optimize: %s ---\n%s\n", head, t.IRBeforeOpt[head])
	}
	for _, head := range sortedKeys(t.IRAfterOpt) {
		fmt.Fprintf(&b, "--- ir after optimize: %s ---\n%s\n", head, t.IRAfterOpt[head])
	}

	if len(t.Rounds) > 0 {
		b.WriteString("--- fixpoint rounds ---\n")
		for _, r := range t.Rounds {
			fmt.Fprintf(&b, "%s round %d: delta=%d total=%d\n", r.Relation, r.Round, r.DeltaSize, r.TotalSize)
		}
	}

	fmt.Fprintf(&b, "--- result ---\n%d rows\n", t.ResultCount)
	fmt.Fprintf(&b, "--- reparse round-trip ---\nok=%v\n", t.ReparseOK)
	for _, e := range t.ReparseErrors {
		fmt.Fprintf(&b, "  %s\n", e)
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// deltaHook is a logrus.Hook that captures the "fixpoint round" entries
// pkg/engine already emits at debug level (see evalFixpoint), so Explain
// gets per-round delta accounting without the evaluator needing any
// explicit trace-collection API of its own.
type deltaHook struct {
	rounds *[]RoundDelta
}

func (deltaHook) Levels() []logrus.Level { return []logrus.Level{logrus.DebugLevel} }

func (h deltaHook) Fire(entry *logrus.Entry) error {
	if entry.Message != "fixpoint round" {
		return nil
	}
	rel, _ := entry.Data["relation"].(string)
	round, _ := entry.Data["round"].(int)
	deltaSize, _ := entry.Data["delta_size"].(int)
	totalSize, _ := entry.Data["total_size"].(int)
	*h.rounds = append(*h.rounds, RoundDelta{Relation: rel, Round: round, DeltaSize: deltaSize, TotalSize: totalSize})
	return nil
}

// Build runs programText through the parse/build/optimize/evaluate
// pipeline exactly as a real query would, recording every stage, and
// returns the resulting Trace. ruleDefs holds the already-registered rule
// definitions and base the snapshot of stored facts that the program's own
// rules and query, if any, are evaluated against; base it may be nil for a program with no
// dependency on existing state. Build runs its own ephemeral evaluator so
// it can capture per-round deltas without disturbing the caller's.
func Build(ctx context.Context, programText string, cat *catalog.Catalog, ruleDefs map[string][]*ir.Definition, base map[string]*engine.Multiset, opts optimize.Options) (*Trace, error) {
	t := &Trace{ID: uuid.New().String(), ProgramText: programText, IRBeforeOpt: map[string]string{}, IRAfterOpt: map[string]string{}}

	prog, err := lang.ParseProgram(programText)
	if err != nil {
		return nil, err
	}
	t.ParsedAST = fmt.Sprintf("%+v", prog)

	builder := ir.NewBuilder(cat)
	var newDefs []*ir.Definition
	var query ir.Node

	for _, stmt := range prog.Statements {
		switch s := stmt.(type) {
		case *lang.Rule:
			def, err := builder.BuildRule(s, programText)
			if err != nil {
				return nil, err
			}
			newDefs = append(newDefs, def)
		case *lang.Query:
			node, err := builder.BuildQuery(s)
			if err != nil {
				return nil, err
			}
			query = node
		}
	}

	for _, def := range newDefs {
		t.IRBeforeOpt[def.Head] = PrintNode(def.Plan)
		optimized := optimize.Apply(def.Plan, opts, false)
		t.IRAfterOpt[def.Head] = PrintNode(optimized)
		def.Plan = optimized
	}
	if query != nil {
		t.IRBeforeOpt["?__result__"] = PrintNode(query)
		optimized := optimize.Apply(query, opts, false)
		t.IRAfterOpt["?__result__"] = PrintNode(optimized)
		query = optimized
	}

	reparseAllDefs(t, newDefs, query)

	allDefs := map[string][]*ir.Definition{}
	for head, group := range ruleDefs {
		allDefs[head] = append(allDefs[head], group...)
	}
	for _, def := range newDefs {
		allDefs[def.Head] = append(allDefs[def.Head], def)
	}
	combined := make([]*ir.Definition, 0, len(allDefs))
	for head, group := range allDefs {
		combined = append(combined, &ir.Definition{Head: head, Plan: ir.Combine(group)})
	}

	logger := logrus.New()
	logger.SetOutput(nopWriter{})
	eval := engine.New(engine.WithLogger(logger))
	program := engine.NewProgram(eval, combined)

	var env map[string]*engine.Multiset
	rounds, err := CaptureRounds(logger, func() error {
		var evalErr error
		env, evalErr = program.Evaluate(ctx, base)
		return evalErr
	})
	t.Rounds = rounds
	if err != nil {
		return t, err
	}

	if query != nil {
		result, err := eval.Eval(ctx, query, env)
		if err != nil {
			return t, err
		}
		t.ResultCount = result.Len()
	}

	return t, nil
}

// nopWriter discards logrus's own formatted output; Build only cares about
// the hook-captured structured fields, not the rendered log lines.
type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func reparseAllDefs(t *Trace, defs []*ir.Definition, query ir.Node) {
	t.ReparseOK = true
	check := func(label, text string) {
		reparsed, err := ParseNode(text)
		if err != nil {
			t.ReparseOK = false
			t.ReparseErrors = append(t.ReparseErrors, fmt.Sprintf("%s: %v", label, err))
			return
		}
		if PrintNode(reparsed) != text {
			t.ReparseOK = false
			t.ReparseErrors = append(t.ReparseErrors, fmt.Sprintf("%s: reparse produced a different plan", label))
		}
	}
	for _, def := range defs {
		check(def.Head, t.IRAfterOpt[def.Head])
	}
	if query != nil {
		check("?__result__", t.IRAfterOpt["?__result__"])
	}
}

// CaptureRounds installs a temporary logrus hook on logger that records
// every fixpoint round logged during fn's execution, returning them in
// order. The evaluator passed to fn must share logger and log at debug
// level or higher for rounds to be captured.
func CaptureRounds(logger *logrus.Logger, fn func() error) ([]RoundDelta, error) {
	var rounds []RoundDelta
	hook := deltaHook{rounds: &rounds}
	logger.AddHook(hook)
	prevLevel := logger.GetLevel()
	logger.SetLevel(logrus.DebugLevel)
	defer logger.SetLevel(prevLevel)

	err := fn()
	return rounds, err
}

// Multiset is a forwarding alias so callers constructing a base snapshot
// for Build don't need to import pkg/engine directly in the common case.
type Multiset = engine.Multiset
