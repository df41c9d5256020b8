// Package registry provides a reference-count-aware view over the
// definitions of a scene.
package registry

import (
	"sort"

	"github.com/ritzau/scene-maint/pkg/graph"
	"github.com/ritzau/scene-maint/pkg/scene"
)

// View is a snapshot of the definition registry. It does not follow later
// scene mutations; build a new one after changing bindings.
type View struct {
	scene *scene.Scene
	graph *graph.DefinitionGraph
	live  map[scene.DefinitionID]bool
}

// NewView builds a view of the scene's current bindings
func NewView(s *scene.Scene) *View {
	g := graph.Build(s)
	return &View{
		scene: s,
		graph: g,
		live:  g.Live(),
	}
}

// Graph returns the containment graph backing the view
func (v *View) Graph() *graph.DefinitionGraph {
	return v.graph
}

// InstanceCount returns the number of instances bound to def
func (v *View) InstanceCount(def scene.DefinitionID) int {
	return v.scene.InstanceCount(def)
}

// Unused returns the definitions without instances
func (v *View) Unused() []scene.DefinitionID {
	var unused []scene.DefinitionID
	for _, def := range v.scene.Definitions() {
		if v.scene.InstanceCount(def) == 0 {
			unused = append(unused, def)
		}
	}
	return unused
}

// IsLive reports whether def is placed in the model, directly or nested
func (v *View) IsLive(def scene.DefinitionID) bool {
	return v.live[def]
}

// Live returns the definitions placed in the model, sorted
func (v *View) Live() []scene.DefinitionID {
	defs := make([]scene.DefinitionID, 0, len(v.live))
	for def := range v.live {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i] < defs[j] })
	return defs
}

// LiveUsers returns the instances of def sitting at the model root or in a
// live definition
func (v *View) LiveUsers(def scene.DefinitionID) []scene.EntityID {
	var users []scene.EntityID
	for _, inst := range v.scene.Instances(def) {
		e, ok := v.scene.Entity(inst)
		if !ok {
			continue
		}
		if e.Parent == scene.RootID || v.live[e.Parent] {
			users = append(users, inst)
		}
	}
	return users
}

// Owned returns the definitions privately owned by the subtree of def: def
// itself plus every definition below it whose users all sit in owned
// containers. Users in containers that are neither live nor below def do
// not count.
func (v *View) Owned(def scene.DefinitionID) map[scene.DefinitionID]bool {
	owned := map[scene.DefinitionID]bool{def: true}
	below := v.graph.ReachableFrom(def)

	candidates := make([]scene.DefinitionID, 0, len(below))
	for d := range below {
		if d != def {
			candidates = append(candidates, d)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	for changed := true; changed; {
		changed = false
		for _, d := range candidates {
			if owned[d] {
				continue
			}
			if v.ownedBy(d, owned, below) {
				owned[d] = true
				changed = true
			}
		}
	}
	return owned
}

func (v *View) ownedBy(def scene.DefinitionID, owned, below map[scene.DefinitionID]bool) bool {
	counted := 0
	for _, inst := range v.scene.Instances(def) {
		e, ok := v.scene.Entity(inst)
		if !ok {
			continue
		}
		parent := e.Parent
		if parent != scene.RootID && !v.live[parent] && !below[parent] {
			continue
		}
		if !owned[parent] {
			return false
		}
		counted++
	}
	return counted > 0
}

// Reclaim removes def from the registry when no instance binds it.
// It reports whether the definition was removed.
func Reclaim(s *scene.Scene, def scene.DefinitionID) (bool, error) {
	if !s.HasDefinition(def) || s.InstanceCount(def) > 0 {
		return false, nil
	}
	if err := s.RemoveDefinition(def); err != nil {
		return false, err
	}
	return true, nil
}
