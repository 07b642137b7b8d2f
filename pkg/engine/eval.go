package engine

import (
	"context"
	"fmt"

	"github.com/inputlayer/inputlayer-sub003/pkg/ir"
	"github.com/inputlayer/inputlayer-sub003/pkg/kgerrors"
	"github.com/inputlayer/inputlayer-sub003/pkg/value"
	"github.com/sirupsen/logrus"

	"github.com/inputlayer/inputlayer-sub003/internal/parallel"
)

// defaultRoundCap bounds the semi-naïve fixpoint loop (spec §4.5:
// RecursionDiverged). It is large enough that legitimate recursive
// queries over realistic data never hit it, but finite so a malformed
// rule set (e.g. one that manufactures ever-larger values) terminates
// with a reported error instead of spinning forever.
const defaultRoundCap = 10_000

// Evaluator evaluates IR plans against a relation snapshot. It is
// stateless across calls other than its configuration; all per-query
// state lives in the relations map and Multiset values passed in and
// returned.
type Evaluator struct {
	logger        *logrus.Logger
	pool          *parallel.WorkerPool
	roundCap      int
	timeoutMillis int64
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger attaches a logger for round-boundary diagnostics.
func WithLogger(l *logrus.Logger) Option { return func(e *Evaluator) { e.logger = l } }

// WithWorkerPool enables parallel evaluation of independent Union
// branches (spec §4.5: "intra-query batch parallelism").
func WithWorkerPool(p *parallel.WorkerPool) Option { return func(e *Evaluator) { e.pool = p } }

// WithRoundCap overrides the default fixpoint round cap.
func WithRoundCap(n int) Option { return func(e *Evaluator) { e.roundCap = n } }

// WithTimeoutMillis records the configured query timeout for error
// messages; the actual deadline is carried by the context passed to Eval.
func WithTimeoutMillis(ms int64) Option { return func(e *Evaluator) { e.timeoutMillis = ms } }

// New builds an Evaluator with the given options.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{roundCap: defaultRoundCap}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Eval evaluates node against relations (a snapshot: relation name to its
// current consolidated state) and returns the resulting multiset.
func (e *Evaluator) Eval(ctx context.Context, node ir.Node, relations map[string]*Multiset) (*Multiset, error) {
	return e.eval(ctx, node, relations, nil)
}

// occurrenceCtx identifies one syntactic occurrence of a recursive
// relation's Scan within a Fixpoint body that should read from override
// (a delta) instead of the relations map (spec §4.5 semi-naïve
// substitution: "exactly one occurrence bound to ΔR, all others to R").
type occurrenceCtx struct {
	name     string
	target   int
	override *Multiset
	seen     int
}

func (e *Evaluator) eval(ctx context.Context, node ir.Node, relations map[string]*Multiset, occ *occurrenceCtx) (*Multiset, error) {
	if err := ctx.Err(); err != nil {
		return nil, e.timeoutErr()
	}

	switch n := node.(type) {
	case *ir.Scan:
		if occ != nil && n.Relation == occ.name {
			idx := occ.seen
			occ.seen++
			if idx == occ.target {
				return occ.override, nil
			}
		}
		r, ok := relations[n.Relation]
		if !ok {
			return NewMultiset(), nil
		}
		return r, nil

	case *ir.Filter:
		in, err := e.eval(ctx, n.Input, relations, occ)
		if err != nil {
			return nil, err
		}
		out := NewMultiset()
		var evalErr error
		in.Each(func(t value.Tuple, m int64) {
			if evalErr != nil {
				return
			}
			ok, err := evalPred(n.Pred, t)
			if err != nil {
				evalErr = err
				return
			}
			if ok {
				out.Add(t, m)
			}
		})
		if evalErr != nil {
			return nil, evalErr
		}
		return out, nil

	case *ir.Map:
		in, err := e.eval(ctx, n.Input, relations, occ)
		if err != nil {
			return nil, err
		}
		out := NewMultiset()
		var evalErr error
		in.Each(func(t value.Tuple, m int64) {
			if evalErr != nil {
				return
			}
			nt := make(value.Tuple, len(n.Proj))
			for i, expr := range n.Proj {
				v, err := evalExpr(expr, t)
				if err != nil {
					evalErr = err
					return
				}
				nt[i] = v
			}
			out.Add(nt, m)
		})
		if evalErr != nil {
			return nil, evalErr
		}
		return out, nil

	case *ir.Join:
		left, err := e.eval(ctx, n.Left, relations, occ)
		if err != nil {
			return nil, err
		}
		right, err := e.eval(ctx, n.Right, relations, occ)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, e.timeoutErr()
		}
		return hashJoin(left, right, n.Keys), nil

	case *ir.Union:
		if occ == nil && e.pool != nil && len(n.Inputs) > 1 {
			return e.evalUnionParallel(ctx, n, relations)
		}
		out := NewMultiset()
		for _, c := range n.Inputs {
			cm, err := e.eval(ctx, c, relations, occ)
			if err != nil {
				return nil, err
			}
			cm.Each(func(t value.Tuple, m int64) { out.Add(t, m) })
		}
		return out, nil

	case *ir.Distinct:
		in, err := e.eval(ctx, n.Input, relations, occ)
		if err != nil {
			return nil, err
		}
		out := NewMultiset()
		if n.ExistenceOnly {
			// Boolean specialization (spec §4.4 pass 6): the query only
			// asks whether any tuple exists, so collapse the whole
			// relation down to a single witness row instead of carrying
			// every matching tuple through Distinct.
			if !in.IsEmpty() {
				out.Add(value.Tuple{value.Bool(true)}, 1)
			}
			return out, nil
		}
		in.Each(func(t value.Tuple, m int64) { out.Add(t, 1) })
		return out, nil

	case *ir.Aggregate:
		in, err := e.eval(ctx, n.Input, relations, occ)
		if err != nil {
			return nil, err
		}
		return evalAggregate(n, in)

	case *ir.Fixpoint:
		return e.evalFixpoint(ctx, n, relations)

	default:
		return nil, fmt.Errorf("engine: unknown IR node %T", node)
	}
}

// evalUnionParallel evaluates n's branches concurrently through the
// worker pool and unions their results. Only used outside delta-rule
// substitution (occ == nil), since occurrence numbering across branches
// must stay deterministic during a semi-naïve round.
func (e *Evaluator) evalUnionParallel(ctx context.Context, n *ir.Union, relations map[string]*Multiset) (*Multiset, error) {
	results := make([]*Multiset, len(n.Inputs))
	errs := make([]error, len(n.Inputs))
	done := make(chan struct{}, len(n.Inputs))

	for i, c := range n.Inputs {
		i, c := i, c
		task := func() {
			defer func() { done <- struct{}{} }()
			m, err := e.eval(ctx, c, relations, nil)
			results[i] = m
			errs[i] = err
		}
		if err := e.pool.Submit(ctx, task); err != nil {
			return nil, err
		}
	}
	for range n.Inputs {
		<-done
	}

	out := NewMultiset()
	for i, m := range results {
		if errs[i] != nil {
			return nil, errs[i]
		}
		m.Each(func(t value.Tuple, mult int64) { out.Add(t, mult) })
	}
	return out, nil
}

func (e *Evaluator) timeoutErr() error {
	return kgerrors.ErrQueryTimeout.New(e.timeoutMillis)
}

// hashJoin computes the equi-join of left and right over keys, building a
// hash index on the smaller side (spec §4.5: "hash-build on the smaller
// input").
func hashJoin(left, right *Multiset, keys []ir.JoinKey) *Multiset {
	out := NewMultiset()
	leftIdx := make([]int, len(keys))
	rightIdx := make([]int, len(keys))
	for i, k := range keys {
		leftIdx[i] = k.Left
		rightIdx[i] = k.Right
	}

	type entry struct {
		tuple value.Tuple
		mult  int64
	}

	buildOnLeft := left.Len() <= right.Len()
	index := map[value.Key][]entry{}

	if buildOnLeft {
		left.Each(func(t value.Tuple, m int64) {
			k := keyTuple(t, leftIdx).Key()
			index[k] = append(index[k], entry{t, m})
		})
		right.Each(func(rt value.Tuple, rm int64) {
			k := keyTuple(rt, rightIdx).Key()
			for _, en := range index[k] {
				out.Add(combineRows(en.tuple, rt), en.mult*rm)
			}
		})
	} else {
		right.Each(func(t value.Tuple, m int64) {
			k := keyTuple(t, rightIdx).Key()
			index[k] = append(index[k], entry{t, m})
		})
		left.Each(func(lt value.Tuple, lm int64) {
			k := keyTuple(lt, leftIdx).Key()
			for _, en := range index[k] {
				out.Add(combineRows(lt, en.tuple), lm*en.mult)
			}
		})
	}
	return out
}

func combineRows(l, r value.Tuple) value.Tuple {
	out := make(value.Tuple, len(l)+len(r))
	copy(out, l)
	copy(out[len(l):], r)
	return out
}
