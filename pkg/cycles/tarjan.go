package cycles

import (
	"sort"

	"gonum.org/v1/gonum/graph"
)

// TarjanSCC finds strongly connected components using Tarjan's algorithm
type TarjanSCC struct {
	graph   graph.Directed
	index   int
	stack   []int64
	onStack map[int64]bool
	indices map[int64]int
	lowLink map[int64]int
	sccs    [][]int64
}

// NewTarjanSCC creates a new Tarjan SCC finder
func NewTarjanSCC(g graph.Directed) *TarjanSCC {
	return &TarjanSCC{
		graph:   g,
		onStack: make(map[int64]bool),
		indices: make(map[int64]int),
		lowLink: make(map[int64]int),
	}
}

// FindSCCs returns every component with more than one node. Nodes are
// visited in id order so the result is stable between runs.
func (t *TarjanSCC) FindSCCs() [][]int64 {
	var ids []int64
	nodes := t.graph.Nodes()
	for nodes.Next() {
		ids = append(ids, nodes.Node().ID())
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if _, visited := t.indices[id]; !visited {
			t.strongConnect(id)
		}
	}
	return t.sccs
}

func (t *TarjanSCC) strongConnect(nodeID int64) {
	t.indices[nodeID] = t.index
	t.lowLink[nodeID] = t.index
	t.index++

	t.stack = append(t.stack, nodeID)
	t.onStack[nodeID] = true

	successors := t.graph.From(nodeID)
	for successors.Next() {
		successorID := successors.Node().ID()

		if _, visited := t.indices[successorID]; !visited {
			t.strongConnect(successorID)
			t.lowLink[nodeID] = min(t.lowLink[nodeID], t.lowLink[successorID])
		} else if t.onStack[successorID] {
			// Back edge into the current component
			t.lowLink[nodeID] = min(t.lowLink[nodeID], t.indices[successorID])
		}
	}

	if t.lowLink[nodeID] != t.indices[nodeID] {
		return
	}

	var scc []int64
	for {
		w := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.onStack[w] = false
		scc = append(scc, w)
		if w == nodeID {
			break
		}
	}
	if len(scc) > 1 {
		t.sccs = append(t.sccs, scc)
	}
}
