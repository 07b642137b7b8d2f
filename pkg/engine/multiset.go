// Package engine implements InputLayer's semi-naïve evaluation engine
// (spec §4.5): multiset operator semantics, the delta-rule fixpoint loop,
// stratified scheduling, and the five aggregate operators.
package engine

import "github.com/inputlayer/inputlayer-sub003/pkg/value"

// Multiset is a relation's state: tuple to signed multiplicity (spec
// §4.5). Negative multiplicities are legal transiently inside a delta;
// Add keeps the map consolidated as it goes, dropping any entry whose
// multiplicity nets to zero.
type Multiset struct {
	rows map[value.Key]row
}

type row struct {
	tuple value.Tuple
	mult  int64
}

// NewMultiset returns an empty multiset.
func NewMultiset() *Multiset {
	return &Multiset{rows: make(map[value.Key]row)}
}

// Add folds mult additional occurrences of t into the multiset,
// consolidating (dropping the entry) if the net multiplicity reaches
// zero.
func (m *Multiset) Add(t value.Tuple, mult int64) {
	if mult == 0 {
		return
	}
	k := t.Key()
	r, ok := m.rows[k]
	if !ok {
		m.rows[k] = row{tuple: t, mult: mult}
		return
	}
	r.mult += mult
	if r.mult == 0 {
		delete(m.rows, k)
		return
	}
	m.rows[k] = r
}

// Get returns t's current multiplicity, or zero if absent.
func (m *Multiset) Get(t value.Tuple) int64 {
	r, ok := m.rows[t.Key()]
	if !ok {
		return 0
	}
	return r.mult
}

// Len returns the number of distinct tuples with nonzero multiplicity.
func (m *Multiset) Len() int { return len(m.rows) }

// IsEmpty reports whether the multiset holds no tuples.
func (m *Multiset) IsEmpty() bool { return len(m.rows) == 0 }

// Each calls f once per (tuple, multiplicity) pair; multiplicities are
// never zero (Add already consolidates as it builds the map).
func (m *Multiset) Each(f func(t value.Tuple, mult int64)) {
	for _, r := range m.rows {
		f(r.tuple, r.mult)
	}
}

// Clone returns an independent copy.
func (m *Multiset) Clone() *Multiset {
	out := NewMultiset()
	for k, r := range m.rows {
		out.rows[k] = r
	}
	return out
}

// Union (⊎) folds b's rows into a copy of a; multiplicities add (spec
// §4.5 Union semantics).
func Union(a, b *Multiset) *Multiset {
	out := a.Clone()
	b.Each(func(t value.Tuple, m int64) { out.Add(t, m) })
	return out
}

// Subtract returns a - b, consolidated.
func Subtract(a, b *Multiset) *Multiset {
	out := a.Clone()
	b.Each(func(t value.Tuple, m int64) { out.Add(t, -m) })
	return out
}

// keyTuple projects t down to the columns named by indices, used both to
// build join-probe keys and aggregate group keys.
func keyTuple(t value.Tuple, indices []int) value.Tuple {
	kt := make(value.Tuple, len(indices))
	for i, idx := range indices {
		kt[i] = t[idx]
	}
	return kt
}
