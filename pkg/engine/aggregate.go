package engine

import (
	"github.com/inputlayer/inputlayer-sub003/pkg/ir"
	"github.com/inputlayer/inputlayer-sub003/pkg/kgerrors"
	"github.com/inputlayer/inputlayer-sub003/pkg/value"
)

// specState accumulates one AggSpec's partial result for one group.
// sumInt and sumFloat accumulate in parallel rather than one replacing
// the other, so a column that mixes Int64 and Float64 rows across the
// group (spec permits both under the same relation column) sums both
// parts correctly instead of silently discarding whichever type showed
// up first.
type specState struct {
	sumInt    int64
	sumFloat  float64
	isFloat   bool
	min, max  value.Value
	hasMinMax bool
}

type groupState struct {
	key   value.Tuple
	count int64
	specs []specState
}

// evalAggregate groups in by n.GroupKeys and folds each n.Specs column
// into its running count/sum/min/max/avg (spec §4.5: the five aggregate
// ops). Rows with non-positive multiplicity (deletions still in flight in
// a delta) do not contribute — aggregation only ever sees consolidated,
// present rows.
func evalAggregate(n *ir.Aggregate, in *Multiset) (*Multiset, error) {
	groups := map[value.Key]*groupState{}
	var evalErr error

	in.Each(func(t value.Tuple, m int64) {
		if evalErr != nil || m <= 0 {
			return
		}
		gk := keyTuple(t, n.GroupKeys)
		k := gk.Key()
		g, ok := groups[k]
		if !ok {
			g = &groupState{key: gk, specs: make([]specState, len(n.Specs))}
			groups[k] = g
		}
		g.count += m

		for i, spec := range n.Specs {
			v := t[spec.Col]
			s := &g.specs[i]
			switch spec.Op {
			case ir.AggSum, ir.AggAvg:
				if isFloatKind(v) {
					s.isFloat = true
					s.sumFloat += v.Float64() * float64(m)
					continue
				}
				addend, overflow := checkedMul(v.Int64(), m)
				if overflow {
					evalErr = kgerrors.ErrArithmetic.New(kgerrors.Overflow.String(), "sum", t.String())
					return
				}
				sum := s.sumInt + addend
				if overflowAdd(s.sumInt, addend, sum) {
					evalErr = kgerrors.ErrArithmetic.New(kgerrors.Overflow.String(), "sum", t.String())
					return
				}
				s.sumInt = sum
				// sumInt and sumFloat accumulate independently since a
				// group's column can mix Int64 and Float64 rows; once any
				// row in the group is float, the two are combined below
				// rather than one being silently dropped.
			case ir.AggMin:
				if !s.hasMinMax || v.Compare(s.min) < 0 {
					s.min = v
				}
				s.hasMinMax = true
			case ir.AggMax:
				if !s.hasMinMax || v.Compare(s.max) > 0 {
					s.max = v
				}
				s.hasMinMax = true
			case ir.AggCount:
				// handled uniformly below via g.count
			}
		}
	})
	if evalErr != nil {
		return nil, evalErr
	}

	out := NewMultiset()
	for _, g := range groups {
		row := make(value.Tuple, len(n.GroupKeys)+len(n.Specs))
		copy(row, g.key)
		for i, spec := range n.Specs {
			s := g.specs[i]
			var v value.Value
			switch spec.Op {
			case ir.AggCount:
				v = value.Int64(g.count)
			case ir.AggSum:
				if s.isFloat {
					v = value.Float64(s.sumFloat + float64(s.sumInt))
				} else {
					v = value.Int64(s.sumInt)
				}
			case ir.AggMin:
				v = s.min
			case ir.AggMax:
				v = s.max
			case ir.AggAvg:
				if s.isFloat {
					v = value.Float64((s.sumFloat + float64(s.sumInt)) / float64(g.count))
				} else {
					v = value.Float64(float64(s.sumInt) / float64(g.count))
				}
			}
			row[len(n.GroupKeys)+i] = v
		}
		out.Add(row, 1)
	}
	return out, nil
}
