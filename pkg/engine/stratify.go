package engine

import (
	"sort"

	"github.com/inputlayer/inputlayer-sub003/pkg/ir"
)

// stratify partitions defs into strata — maximal sets of mutually
// recursive relations, evaluated together — in dependency order (spec
// §4.5 Stratification, GLOSSARY "Stratum"). A relation that only
// self-recurses is already wrapped in its own ir.Fixpoint by
// ir.Combine and lands in a singleton stratum; relations that are
// mutually recursive through each other (without either directly
// self-scanning) land in one multi-member stratum and are converged
// together by evalStratum's outer fixpoint loop.
func stratify(defs map[string]*ir.Definition) [][]string {
	graph := map[string][]string{}
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		seen := map[string]bool{}
		for _, dep := range collectScannedRelations(defs[name].Plan) {
			if dep == name {
				continue
			}
			if _, ok := defs[dep]; !ok {
				continue // base relation or otherwise not a derived dependency
			}
			if !seen[dep] {
				seen[dep] = true
				graph[name] = append(graph[name], dep)
			}
		}
	}

	st := &tarjanState{
		index:   map[string]int{},
		low:     map[string]int{},
		onStack: map[string]bool{},
		graph:   graph,
	}
	for _, n := range names {
		if _, ok := st.index[n]; !ok {
			st.strongConnect(n)
		}
	}
	return st.sccs
}

// tarjanState runs Tarjan's strongly-connected-components algorithm.
// Because it completes a node's outgoing edges (its dependencies)
// before closing that node's own component, the emitted SCC order is
// already "dependencies before dependents" — exactly the order
// evalStratum needs.
type tarjanState struct {
	index, low map[string]int
	onStack    map[string]bool
	stack      []string
	counter    int
	sccs       [][]string
	graph      map[string][]string
}

func (st *tarjanState) strongConnect(v string) {
	st.index[v] = st.counter
	st.low[v] = st.counter
	st.counter++
	st.stack = append(st.stack, v)
	st.onStack[v] = true

	for _, w := range st.graph[v] {
		if _, ok := st.index[w]; !ok {
			st.strongConnect(w)
			if st.low[w] < st.low[v] {
				st.low[v] = st.low[w]
			}
		} else if st.onStack[w] {
			if st.index[w] < st.low[v] {
				st.low[v] = st.index[w]
			}
		}
	}

	if st.low[v] == st.index[v] {
		var scc []string
		for {
			n := len(st.stack) - 1
			w := st.stack[n]
			st.stack = st.stack[:n]
			st.onStack[w] = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		sort.Strings(scc)
		st.sccs = append(st.sccs, scc)
	}
}

// collectScannedRelations returns the (deduplicated, unordered) set of
// relation names node's Scan leaves read from.
func collectScannedRelations(node ir.Node) []string {
	seen := map[string]bool{}
	var walk func(ir.Node)
	walk = func(n ir.Node) {
		switch nd := n.(type) {
		case *ir.Scan:
			seen[nd.Relation] = true
		case *ir.Filter:
			walk(nd.Input)
		case *ir.Map:
			walk(nd.Input)
		case *ir.Join:
			walk(nd.Left)
			walk(nd.Right)
		case *ir.Union:
			for _, c := range nd.Inputs {
				walk(c)
			}
		case *ir.Aggregate:
			walk(nd.Input)
		case *ir.Fixpoint:
			walk(nd.Body)
		case *ir.Distinct:
			walk(nd.Input)
		}
	}
	walk(node)
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	return out
}
