package engine

import (
	"context"

	"github.com/inputlayer/inputlayer-sub003/pkg/ir"
	"github.com/inputlayer/inputlayer-sub003/pkg/kgerrors"
	"github.com/inputlayer/inputlayer-sub003/pkg/value"
	"github.com/sirupsen/logrus"
)

// evalFixpoint runs the semi-naïve delta-rule loop for a recursive
// relation (spec §4.5). Round 0 evaluates Body with every occurrence of
// Relation bound to the empty relation. Each later round evaluates Body
// once per syntactic occurrence of Relation, with exactly that occurrence
// bound to the previous round's delta and every other occurrence (of
// Relation or anything else) bound to the accumulated total — then keeps
// only the tuples not already present in the total.
//
// A recursive relation's rows are existence, not a derivation-path count:
// the same tuple can be rederived through more join paths each round
// (e.g. reach over a cyclic edge set), and counting those rederivations
// as multiplicity growth would never settle even though the relation
// itself — bounded by its finite Herbrand base — already has. Each
// round's result is saturated to existence before computing the next
// delta so the loop's progress is measured in new tuples, matching the
// outer Distinct Combine wraps every recursive head in.
func (e *Evaluator) evalFixpoint(ctx context.Context, n *ir.Fixpoint, relations map[string]*Multiset) (*Multiset, error) {
	roundCap := e.roundCap
	if roundCap <= 0 {
		roundCap = defaultRoundCap
	}

	base := cloneRelations(relations)
	base[n.Relation] = NewMultiset()
	delta, err := e.eval(ctx, n.Body, base, nil)
	if err != nil {
		return nil, err
	}
	delta = toExistence(delta)

	total := countOccurrences(n.Body, n.Relation)
	r := NewMultiset()
	round := 0

	for !delta.IsEmpty() {
		round++
		if round > roundCap {
			return nil, kgerrors.ErrRecursionDiverged.New(n.Relation, roundCap)
		}
		if err := ctx.Err(); err != nil {
			return nil, e.timeoutErr()
		}

		r = Union(r, delta)
		if e.logger != nil {
			e.logger.WithFields(logrus.Fields{
				"relation":   n.Relation,
				"round":      round,
				"delta_size": delta.Len(),
				"total_size": r.Len(),
			}).Debug("fixpoint round")
		}

		roundRelations := cloneRelations(relations)
		roundRelations[n.Relation] = r

		next := NewMultiset()
		if total == 0 {
			// Body doesn't scan its own head relation at all (a
			// degenerate recursive definition); evaluate it once plainly
			// so the loop still terminates after round 1.
			part, err := e.eval(ctx, n.Body, roundRelations, nil)
			if err != nil {
				return nil, err
			}
			next = part
		}
		for k := 0; k < total; k++ {
			part, err := e.eval(ctx, n.Body, roundRelations, &occurrenceCtx{
				name:     n.Relation,
				target:   k,
				override: delta,
			})
			if err != nil {
				return nil, err
			}
			part.Each(func(t value.Tuple, m int64) { next.Add(t, m) })
		}

		delta = newOnly(toExistence(next), r)
	}

	return r, nil
}

// newOnly returns the tuples (and the portion of their multiplicity)
// present in next beyond what r already holds — the next round's delta.
func newOnly(next, r *Multiset) *Multiset {
	out := NewMultiset()
	next.Each(func(t value.Tuple, m int64) {
		existing := r.Get(t)
		if m > existing {
			out.Add(t, m-existing)
		}
	})
	return out
}

// toExistence collapses every present tuple's multiplicity to exactly 1,
// discarding how many derivation paths produced it. Recursive relations
// are sets over a finite Herbrand base (spec §4.5); this is what lets
// newOnly's round-over-round delta actually shrink to empty instead of
// tracking a bag count that keeps growing on cyclic input.
func toExistence(m *Multiset) *Multiset {
	out := NewMultiset()
	m.Each(func(t value.Tuple, _ int64) { out.Add(t, 1) })
	return out
}

func cloneRelations(relations map[string]*Multiset) map[string]*Multiset {
	out := make(map[string]*Multiset, len(relations)+1)
	for k, v := range relations {
		out[k] = v
	}
	return out
}

// countOccurrences statically counts how many Scan nodes in node read
// name — the number of semi-naïve substitution passes evalFixpoint must
// run per round.
func countOccurrences(node ir.Node, name string) int {
	switch n := node.(type) {
	case *ir.Scan:
		if n.Relation == name {
			return 1
		}
		return 0
	case *ir.Filter:
		return countOccurrences(n.Input, name)
	case *ir.Map:
		return countOccurrences(n.Input, name)
	case *ir.Join:
		return countOccurrences(n.Left, name) + countOccurrences(n.Right, name)
	case *ir.Union:
		sum := 0
		for _, c := range n.Inputs {
			sum += countOccurrences(c, name)
		}
		return sum
	case *ir.Aggregate:
		return countOccurrences(n.Input, name)
	case *ir.Fixpoint:
		return countOccurrences(n.Body, name)
	case *ir.Distinct:
		return countOccurrences(n.Input, name)
	default:
		return 0
	}
}
