package model

import (
	"strconv"

	"github.com/ritzau/scene-maint/pkg/registry"
	"github.com/ritzau/scene-maint/pkg/scene"
)

// NodeType is the kind of a graph node
type NodeType string

const (
	NodeRoot       NodeType = "root"       // The model itself
	NodeDefinition NodeType = "definition" // Component definition
	NodeGroup      NodeType = "group"      // Group definition
	NodeInstance   NodeType = "instance"   // Component or group instance
)

// EdgeType is the kind of a graph edge
type EdgeType string

const (
	EdgeContains EdgeType = "contains" // Definition (or root) holds an instance
	EdgeBinds    EdgeType = "binds"    // Instance points at its definition
)

// RootNodeID identifies the model root node
const RootNodeID = "root"

// DefinitionNodeID returns the node id of a definition
func DefinitionNodeID(def scene.DefinitionID) string {
	if def == scene.RootID {
		return RootNodeID
	}
	return "def:" + strconv.FormatUint(uint64(def), 10)
}

// InstanceNodeID returns the node id of an instance entity
func InstanceNodeID(id scene.EntityID) string {
	return "inst:" + strconv.FormatUint(uint64(id), 10)
}

// DefinitionSummary is one row of the definition registry listing
type DefinitionSummary struct {
	ID        scene.DefinitionID `json:"id"`
	Name      string             `json:"name"`
	Group     bool               `json:"group"`
	Instances int                `json:"instances"`
	Entities  int                `json:"entities"` // Direct content size
	Live      bool               `json:"live"`     // Reachable from the model root
	Unused    bool               `json:"unused"`   // No instances at all
}

// Summary is the header of the scene view
type Summary struct {
	Revision  uint64      `json:"revision"`
	Stats     scene.Stats `json:"stats"`
	Selection []uint64    `json:"selection"`
	History   []string    `json:"history"`
}

// Definitions lists every registered definition in id order
func Definitions(s *scene.Scene, view *registry.View) []DefinitionSummary {
	defs := s.Definitions()
	out := make([]DefinitionSummary, 0, len(defs))
	for _, id := range defs {
		info, ok := s.Definition(id)
		if !ok {
			continue
		}
		out = append(out, DefinitionSummary{
			ID:        id,
			Name:      info.Name,
			Group:     info.Group,
			Instances: info.InstanceCount,
			Entities:  len(info.Content),
			Live:      view.IsLive(id),
			Unused:    info.InstanceCount == 0,
		})
	}
	return out
}

// Summarize builds the scene header
func Summarize(s *scene.Scene) Summary {
	sel := s.Selection.Snapshot()
	ids := make([]uint64, len(sel))
	for i, id := range sel {
		ids[i] = uint64(id)
	}
	return Summary{
		Revision:  s.Revision(),
		Stats:     s.Stats(),
		Selection: ids,
		History:   s.History(),
	}
}

// FromScene projects the scene onto a node/edge graph. Only instances are
// materialized as nodes; loose geometry is counted on its container.
func FromScene(s *scene.Scene, view *registry.View) *Graph {
	g := NewGraph()
	g.Revision = s.Revision()

	root := &Node{ID: RootNodeID, Label: "Model", Type: NodeRoot}
	g.AddNode(root)
	addContent(g, s, scene.RootID, root)

	for _, id := range s.Definitions() {
		info, ok := s.Definition(id)
		if !ok {
			continue
		}
		typ := NodeDefinition
		if info.Group {
			typ = NodeGroup
		}
		n := &Node{ID: DefinitionNodeID(id), Label: info.Name, Type: typ}
		g.AddNode(n)
		n.Metadata["instances"] = info.InstanceCount
		n.Metadata["live"] = view.IsLive(id)
		addContent(g, s, id, n)
	}
	return g
}

func addContent(g *Graph, s *scene.Scene, parent scene.DefinitionID, container *Node) {
	geometry := 0
	for _, id := range s.Content(parent) {
		e, ok := s.Entity(id)
		if !ok {
			continue
		}
		if !e.Kind.IsInstance() {
			geometry++
			continue
		}
		label := e.Name
		if label == "" {
			label = e.Kind.String() + " " + strconv.FormatUint(uint64(id), 10)
		}
		inst := &Node{
			ID:     InstanceNodeID(id),
			Label:  label,
			Type:   NodeInstance,
			Parent: container.ID,
		}
		g.AddNode(inst)
		inst.Metadata["kind"] = e.Kind.String()
		inst.Metadata["selected"] = s.Selection.Contains(id)

		g.AddEdge(&Edge{Source: container.ID, Target: inst.ID, Type: EdgeContains})
		g.AddEdge(&Edge{Source: inst.ID, Target: DefinitionNodeID(e.Definition), Type: EdgeBinds})
	}
	container.Metadata["geometry"] = geometry
}
