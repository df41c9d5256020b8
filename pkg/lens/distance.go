package lens

import (
	"github.com/ritzau/scene-maint/pkg/model"
)

// distanceQueueNode represents a node in the BFS queue
type distanceQueueNode struct {
	nodeID   string
	distance int
}

// ComputeDistances calculates the shortest distance from each node to the
// nearest focused node over the edges cfg follows. Nodes that are not
// reached inherit the distance of their parent, or Infinite.
func ComputeDistances(g *model.Graph, cfg Config) map[string]int {
	distances := make(map[string]int, len(g.Nodes))
	adjacency := buildAdjacencyList(g, cfg)

	queue := []distanceQueueNode{}
	for _, id := range cfg.Focus {
		if _, ok := g.Nodes[id]; !ok {
			continue
		}
		if _, seen := distances[id]; seen {
			continue
		}
		distances[id] = 0
		queue = append(queue, distanceQueueNode{nodeID: id, distance: 0})
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, neighbor := range adjacency[current.nodeID] {
			if _, exists := distances[neighbor]; !exists {
				distances[neighbor] = current.distance + 1
				queue = append(queue, distanceQueueNode{nodeID: neighbor, distance: current.distance + 1})
			}
		}
	}

	for id := range g.Nodes {
		if _, exists := distances[id]; !exists {
			distances[id] = inheritedDistance(g, id, distances, make(map[string]bool))
		}
	}
	return distances
}

// buildAdjacencyList creates an undirected adjacency list from graph edges
func buildAdjacencyList(g *model.Graph, cfg Config) map[string][]string {
	adjacency := make(map[string][]string)
	for _, e := range g.Edges {
		if !cfg.follows(e.Type) {
			continue
		}
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
		adjacency[e.Target] = append(adjacency[e.Target], e.Source)
	}
	return adjacency
}

func inheritedDistance(g *model.Graph, id string, distances map[string]int, visiting map[string]bool) int {
	n, ok := g.Nodes[id]
	if !ok || n.Parent == "" || visiting[id] {
		return Infinite
	}
	visiting[id] = true
	if d, ok := distances[n.Parent]; ok {
		return d
	}
	return inheritedDistance(g, n.Parent, distances, visiting)
}

// Apply returns the view of g that cfg selects. Nodes within the depth
// are kept together with the chain of containers above them, which are
// marked as context. Node metadata gains the distance to the focus.
func Apply(g *model.Graph, cfg Config) *model.Graph {
	if cfg.Full() {
		return g
	}
	distances := ComputeDistances(g, cfg)

	view := model.NewGraph()
	view.Revision = g.Revision
	for id, d := range distances {
		if !cfg.within(d) {
			continue
		}
		view.AddNode(annotate(g.Nodes[id], d, false))
		for p := g.Nodes[id].Parent; p != ""; p = g.Nodes[p].Parent {
			if _, kept := view.Nodes[p]; kept || g.Nodes[p] == nil {
				break
			}
			if cfg.within(distances[p]) {
				break
			}
			view.AddNode(annotate(g.Nodes[p], distances[p], true))
		}
	}

	for _, e := range g.Edges {
		if !cfg.follows(e.Type) {
			continue
		}
		if view.Nodes[e.Source] != nil && view.Nodes[e.Target] != nil {
			view.AddEdge(e)
		}
	}
	return view
}

func annotate(n *model.Node, distance int, context bool) *model.Node {
	cp := *n
	cp.Metadata = make(map[string]interface{}, len(n.Metadata)+2)
	for k, v := range n.Metadata {
		cp.Metadata[k] = v
	}
	cp.Metadata["distance"] = distance
	if context {
		cp.Metadata["context"] = true
	}
	return &cp
}
