package model

// Graph is the node/edge projection of a scene served to the visualization
// layer. Definitions, the model root and instances are nodes; containment
// and instance bindings are edges.
type Graph struct {
	Revision uint64           `json:"revision"`
	Nodes    map[string]*Node `json:"nodes"`
	Edges    []*Edge          `json:"edges"`
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes: make(map[string]*Node),
		Edges: make([]*Edge, 0),
	}
}

// Node is a vertex in the scene graph
type Node struct {
	ID       string                 `json:"id"`
	Label    string                 `json:"label"`
	Type     NodeType               `json:"type"`
	Parent   string                 `json:"parent,omitempty"` // ID of the containing definition node
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Edge is a directed connection between two nodes
type Edge struct {
	Source   string                 `json:"source"`
	Target   string                 `json:"target"`
	Type     EdgeType               `json:"type"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// AddNode adds a node to the graph. If a node with the same ID exists, it updates it.
func (g *Graph) AddNode(node *Node) {
	if node.Metadata == nil {
		node.Metadata = make(map[string]interface{})
	}
	g.Nodes[node.ID] = node
}

// AddEdge adds an edge to the graph.
func (g *Graph) AddEdge(edge *Edge) {
	if edge.Metadata == nil {
		edge.Metadata = make(map[string]interface{})
	}
	g.Edges = append(g.Edges, edge)
}
