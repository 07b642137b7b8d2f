package engine

import (
	"context"

	"github.com/inputlayer/inputlayer-sub003/pkg/ir"
	"github.com/inputlayer/inputlayer-sub003/pkg/kgerrors"
	"github.com/inputlayer/inputlayer-sub003/pkg/value"
)

// Program ties a set of rule Definitions to an Evaluator and schedules
// them stratum by stratum (spec §4.5 Stratification). Each relation
// named by a Definition is evaluated to a fixpoint before any relation
// that depends on it runs.
type Program struct {
	eval   *Evaluator
	defs   map[string]*ir.Definition
	strata [][]string
}

// NewProgram builds a Program from defs, one Definition per derived
// relation head (callers combine multiple same-head rules into a single
// Definition via ir.Combine before calling this).
func NewProgram(e *Evaluator, defs []*ir.Definition) *Program {
	byName := make(map[string]*ir.Definition, len(defs))
	for _, d := range defs {
		byName[d.Head] = d
	}
	return &Program{eval: e, defs: byName, strata: stratify(byName)}
}

// Evaluate computes every derived relation's result over base (a
// snapshot of the base-relation facts) and returns base plus every
// derived relation, fully consolidated.
func (p *Program) Evaluate(ctx context.Context, base map[string]*Multiset) (map[string]*Multiset, error) {
	env := cloneRelations(base)
	for _, stratum := range p.strata {
		if err := p.evalStratum(ctx, stratum, env); err != nil {
			return nil, err
		}
	}
	return env, nil
}

// evalStratum converges every relation in names together. A singleton
// stratum whose Definition is already wrapped in an ir.Fixpoint (direct
// self-recursion, handled by evalFixpoint's semi-naïve loop, itself
// nested under the ir.Distinct ir.Combine adds for every recursive head)
// settles in one outer pass. A multi-member stratum — relations mutually recursive
// through each other without either directly self-scanning — settles by
// plain re-evaluation against the others' growing state until nothing
// changes: still correct because every operator here is monotone
// (Datalog without negation only ever grows a relation across rounds),
// just naïve rather than semi-naïve across the stratum boundary.
func (p *Program) evalStratum(ctx context.Context, names []string, env map[string]*Multiset) error {
	for _, n := range names {
		if _, ok := env[n]; !ok {
			env[n] = NewMultiset()
		}
	}

	roundCap := p.eval.roundCap
	if roundCap <= 0 {
		roundCap = defaultRoundCap
	}

	round := 0
	for {
		round++
		if round > roundCap {
			return kgerrors.ErrRecursionDiverged.New(names[0], roundCap)
		}
		if err := ctx.Err(); err != nil {
			return p.eval.timeoutErr()
		}

		changed := false
		for _, n := range names {
			result, err := p.eval.Eval(ctx, p.defs[n].Plan, env)
			if err != nil {
				return err
			}
			if !sameMultiset(env[n], result) {
				changed = true
			}
			env[n] = result
		}
		if !changed {
			return nil
		}
	}
}

func sameMultiset(a, b *Multiset) bool {
	if a.Len() != b.Len() {
		return false
	}
	same := true
	a.Each(func(t value.Tuple, m int64) {
		if b.Get(t) != m {
			same = false
		}
	})
	return same
}
