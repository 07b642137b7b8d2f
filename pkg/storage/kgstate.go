package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/inputlayer/inputlayer-sub003/pkg/catalog"
	"github.com/inputlayer/inputlayer-sub003/pkg/engine"
	"github.com/inputlayer/inputlayer-sub003/pkg/ir"
	"github.com/inputlayer/inputlayer-sub003/pkg/kgerrors"
	"github.com/inputlayer/inputlayer-sub003/pkg/lang"
	"github.com/inputlayer/inputlayer-sub003/pkg/optimize"
	"github.com/inputlayer/inputlayer-sub003/pkg/persist"
	"github.com/inputlayer/inputlayer-sub003/pkg/trace"
	"github.com/inputlayer/inputlayer-sub003/pkg/value"
)

// kgState holds one knowledge graph's live state: its catalog, base-relation
// facts, accumulated rule definitions, compiled program, and persistence
// handle (spec §3 "KGState { relations, rules, views, persist_handle }").
type kgState struct {
	name string
	root string

	mu       sync.RWMutex
	poisoned atomic.Bool

	cat      *catalog.Catalog
	builder  *ir.Builder
	base     map[string]*engine.Multiset
	ruleDefs map[string][]*ir.Definition

	progMu  sync.Mutex
	program *engine.Program // rebuilt lazily after a rule registration

	persist *persist.Handle
}

// mutate runs fn under the KG's write guard, recovering a panic into the
// poisoned degraded-read-only state (spec §5 "Lock-poisoning recovery").
func (k *kgState) mutate(fn func() error) (err error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.poisoned.Load() {
		return kgerrors.ErrStoragePoisoned.New(k.name)
	}
	defer func() {
		if r := recover(); r != nil {
			k.poisoned.Store(true)
			err = fmt.Errorf("storage: writer panicked on knowledge graph %q: %v", k.name, r)
		}
	}()
	return fn()
}

// read runs fn under the KG's read guard. Reads remain available even in
// degraded (poisoned) mode (spec §5: "subsequent readers recover into a
// read-only degraded mode").
func (k *kgState) read(fn func() error) error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return fn()
}

// applyUpdates commits tuples into rel with the given sign (+1 insert, -1
// delete), as a single atomic batch (spec §5 "Ordering guarantees"):
// catalog registration, in-memory consolidation, and WAL append all
// succeed or none of the in-memory state changes. Every tuple in the batch
// must share the first tuple's arity; one mismatched tuple fails the whole
// call before anything is applied.
func (k *kgState) applyUpdates(rel string, tuples []value.Tuple, sign int64) error {
	arity := 0
	if len(tuples) > 0 {
		arity = len(tuples[0])
	}
	for _, t := range tuples {
		if len(t) != arity {
			return kgerrors.ErrArityMismatch.New(rel, arity, len(t))
		}
	}
	if schema, _, known := k.cat.Lookup(rel); known && schema.Arity() != arity {
		return kgerrors.ErrArityMismatch.New(rel, schema.Arity(), arity)
	}

	updates := make([]persist.Update, len(tuples))
	for i, t := range tuples {
		updates[i] = persist.Update{Tuple: t, Diff: sign}
	}
	if err := k.persist.AppendBatch(rel, updates); err != nil {
		return err
	}

	if _, err := k.cat.EnsureBase(rel, arity); err != nil {
		return err
	}
	m, ok := k.base[rel]
	if !ok {
		m = engine.NewMultiset()
		k.base[rel] = m
	}
	for _, t := range tuples {
		m.Add(t, sign)
	}
	k.program = nil // base relation changed; derived results must recompute
	return nil
}

// registerRule parses ruleText as exactly one rule, compiles it, and adds
// it to its head relation's rule group (spec §3 "registered persistently").
func (k *kgState) registerRule(ruleText string) error {
	prog, err := lang.ParseProgram(ruleText)
	if err != nil {
		return err
	}
	if len(prog.Statements) != 1 {
		return fmt.Errorf("storage: expected exactly one rule, got %d statements", len(prog.Statements))
	}
	rule, ok := prog.Statements[0].(*lang.Rule)
	if !ok {
		return fmt.Errorf("storage: statement is not a rule")
	}

	def, err := k.builder.BuildRule(rule, ruleText)
	if err != nil {
		return err
	}
	k.ruleDefs[def.Head] = append(k.ruleDefs[def.Head], def)
	k.program = nil
	return nil
}

// ensureProgram (re)builds the stratified program from the current rule
// definitions if it was invalidated by a write since the last build. Guarded
// by its own mutex (distinct from the KG's read/write data guard) since
// multiple readers may call this concurrently while only holding the read
// guard.
func (k *kgState) ensureProgram(e *engine.Evaluator) *engine.Program {
	k.progMu.Lock()
	defer k.progMu.Unlock()
	if k.program != nil {
		return k.program
	}
	defs := make([]*ir.Definition, 0, len(k.ruleDefs))
	for head, group := range k.ruleDefs {
		defs = append(defs, &ir.Definition{Head: head, Plan: ir.Combine(group)})
	}
	k.program = engine.NewProgram(e, defs)
	return k.program
}

// executeQuery parses queryText as exactly one query, compiles it against
// the KG's catalog, evaluates every derived relation to a fixpoint, and
// evaluates the query plan against the resulting snapshot (spec §4.5
// "implicit ?__result__ relation").
func (k *kgState) executeQuery(ctx context.Context, e *engine.Evaluator, queryText string) (*engine.Multiset, error) {
	prog, err := lang.ParseProgram(queryText)
	if err != nil {
		return nil, err
	}
	if len(prog.Statements) != 1 {
		return nil, fmt.Errorf("storage: expected exactly one query, got %d statements", len(prog.Statements))
	}
	q, ok := prog.Statements[0].(*lang.Query)
	if !ok {
		return nil, fmt.Errorf("storage: statement is not a query")
	}

	node, err := k.builder.BuildQuery(q)
	if err != nil {
		return nil, err
	}
	node = optimize.Apply(node, optimize.DefaultOptions(), false)

	env, err := k.ensureProgram(e).Evaluate(ctx, k.base)
	if err != nil {
		return nil, err
	}
	return e.Eval(ctx, node, env)
}

// explain builds a pretty-printed pipeline trace for queryText against the
// KG's current catalog and rule definitions, without mutating any state
// (spec §4.8).
func (k *kgState) explain(ctx context.Context, queryText string) (*trace.Trace, error) {
	// Build against a copy of the catalog so rules in queryText never
	// register their heads or views in the KG's own catalog.
	cat := catalog.New()
	for _, name := range k.cat.Names() {
		if schema, kind, ok := k.cat.Lookup(name); ok {
			if err := cat.Register(schema, kind); err != nil {
				return nil, err
			}
		}
	}
	return trace.Build(ctx, queryText, cat, k.ruleDefs, k.base, optimize.DefaultOptions())
}

// save consolidates every relation (base and derived) to shard files and
// writes the catalog snapshot (spec §4.7 point 3).
func (k *kgState) save(ctx context.Context, e *engine.Evaluator) error {
	env, err := k.ensureProgram(e).Evaluate(ctx, k.base)
	if err != nil {
		return err
	}
	if err := k.persist.Consolidate(env); err != nil {
		return err
	}
	return persist.WriteMeta(k.root, k.cat)
}

// stats returns a row count per base relation; derived relations are not
// evaluated and do not appear.
func (k *kgState) stats() map[string]int {
	out := make(map[string]int, len(k.base))
	for name, m := range k.base {
		out[name] = m.Len()
	}
	return out
}
