package graph

import (
	"sort"

	"github.com/ritzau/scene-maint/pkg/scene"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"
)

// DefinitionGraph is the containment graph of a scene. There is one node per
// definition plus the model root (node 0), and an edge container -> definition
// for every instance binding.
type DefinitionGraph struct {
	graph *simple.DirectedGraph
	self  map[scene.DefinitionID]bool // Definitions containing an instance of themselves
}

// NewDefinitionGraph creates a graph holding only the model root
func NewDefinitionGraph() *DefinitionGraph {
	dg := &DefinitionGraph{
		graph: simple.NewDirectedGraph(),
		self:  make(map[scene.DefinitionID]bool),
	}
	dg.AddDefinition(scene.RootID)
	return dg
}

// Build creates the containment graph of a scene
func Build(s *scene.Scene) *DefinitionGraph {
	dg := NewDefinitionGraph()
	for _, def := range s.Definitions() {
		dg.AddDefinition(def)
	}

	containers := append([]scene.DefinitionID{scene.RootID}, s.Definitions()...)
	for _, container := range containers {
		for _, id := range s.Content(container) {
			e, ok := s.Entity(id)
			if !ok || !e.Kind.IsInstance() {
				continue
			}
			dg.AddBinding(container, e.Definition)
		}
	}
	return dg
}

// AddDefinition adds a definition node
func (dg *DefinitionGraph) AddDefinition(def scene.DefinitionID) {
	if dg.graph.Node(int64(def)) != nil {
		return
	}
	dg.graph.AddNode(simple.Node(int64(def)))
}

// AddBinding records that container holds an instance of def.
// Parallel bindings collapse into one edge.
func (dg *DefinitionGraph) AddBinding(container, def scene.DefinitionID) {
	dg.AddDefinition(container)
	dg.AddDefinition(def)

	// simple.DirectedGraph panics on self loops
	if container == def {
		dg.self[def] = true
		return
	}
	if !dg.graph.HasEdgeFromTo(int64(container), int64(def)) {
		dg.graph.SetEdge(dg.graph.NewEdge(simple.Node(int64(container)), simple.Node(int64(def))))
	}
}

// Graph returns the underlying directed graph
func (dg *DefinitionGraph) Graph() *simple.DirectedGraph {
	return dg.graph
}

// SelfBound reports whether a definition contains an instance of itself
func (dg *DefinitionGraph) SelfBound(def scene.DefinitionID) bool {
	return dg.self[def]
}

// SelfBindings returns the definitions that contain themselves, sorted
func (dg *DefinitionGraph) SelfBindings() []scene.DefinitionID {
	defs := make([]scene.DefinitionID, 0, len(dg.self))
	for def := range dg.self {
		defs = append(defs, def)
	}
	sortIDs(defs)
	return defs
}

// Has reports whether the definition is a node of the graph
func (dg *DefinitionGraph) Has(def scene.DefinitionID) bool {
	return dg.graph.Node(int64(def)) != nil
}

// Children returns the definitions directly instanced inside def
func (dg *DefinitionGraph) Children(def scene.DefinitionID) []scene.DefinitionID {
	if !dg.Has(def) {
		return nil
	}
	return collect(dg.graph.From(int64(def)))
}

// Containers returns the containers holding an instance of def
func (dg *DefinitionGraph) Containers(def scene.DefinitionID) []scene.DefinitionID {
	if !dg.Has(def) {
		return nil
	}
	return collect(dg.graph.To(int64(def)))
}

// ReachableFrom returns the set of definitions reachable from def,
// including def itself.
func (dg *DefinitionGraph) ReachableFrom(def scene.DefinitionID) map[scene.DefinitionID]bool {
	reached := make(map[scene.DefinitionID]bool)
	if !dg.Has(def) {
		return reached
	}
	dfs := traverse.DepthFirst{
		Visit: func(n graph.Node) {
			reached[scene.DefinitionID(n.ID())] = true
		},
	}
	dfs.Walk(dg.graph, dg.graph.Node(int64(def)), nil)
	return reached
}

// Live returns the definitions reachable from the model root, root excluded
func (dg *DefinitionGraph) Live() map[scene.DefinitionID]bool {
	live := dg.ReachableFrom(scene.RootID)
	delete(live, scene.RootID)
	return live
}

// Edges returns all bindings as [container, definition] pairs, sorted
func (dg *DefinitionGraph) Edges() [][2]scene.DefinitionID {
	var edges [][2]scene.DefinitionID

	iter := dg.graph.Edges()
	for iter.Next() {
		edge := iter.Edge()
		edges = append(edges, [2]scene.DefinitionID{
			scene.DefinitionID(edge.From().ID()),
			scene.DefinitionID(edge.To().ID()),
		})
	}
	for def := range dg.self {
		edges = append(edges, [2]scene.DefinitionID{def, def})
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i][0] != edges[j][0] {
			return edges[i][0] < edges[j][0]
		}
		return edges[i][1] < edges[j][1]
	})
	return edges
}

func collect(nodes graph.Nodes) []scene.DefinitionID {
	var defs []scene.DefinitionID
	for nodes.Next() {
		defs = append(defs, scene.DefinitionID(nodes.Node().ID()))
	}
	sortIDs(defs)
	return defs
}

func sortIDs(defs []scene.DefinitionID) {
	sort.Slice(defs, func(i, j int) bool { return defs[i] < defs[j] })
}
