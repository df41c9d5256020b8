package cycles

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ritzau/scene-maint/pkg/graph"
	"github.com/ritzau/scene-maint/pkg/scene"
)

// DefinitionCycle is a set of definitions that contain each other
type DefinitionCycle struct {
	Definitions []scene.DefinitionID
}

// FindDefinitionCycles finds all recursive definitions in the containment graph
func FindDefinitionCycles(dg *graph.DefinitionGraph) []DefinitionCycle {
	tarjan := NewTarjanSCC(dg.Graph())
	sccs := tarjan.FindSCCs()

	cycles := make([]DefinitionCycle, 0, len(sccs))
	for _, scc := range sccs {
		defs := make([]scene.DefinitionID, 0, len(scc))
		for _, nodeID := range scc {
			defs = append(defs, scene.DefinitionID(nodeID))
		}
		sort.Slice(defs, func(i, j int) bool { return defs[i] < defs[j] })
		cycles = append(cycles, DefinitionCycle{Definitions: defs})
	}

	// Single-node SCCs are only cycles when the definition binds itself
	for _, def := range dg.SelfBindings() {
		cycles = append(cycles, DefinitionCycle{Definitions: []scene.DefinitionID{def}})
	}

	return cycles
}

// Check rejects scenes whose definitions contain themselves
func Check(s *scene.Scene) error {
	found := FindDefinitionCycles(graph.Build(s))
	if len(found) == 0 {
		return nil
	}

	names := make([]string, 0, len(found))
	for _, c := range found {
		parts := make([]string, 0, len(c.Definitions))
		for _, def := range c.Definitions {
			if info, ok := s.Definition(def); ok {
				parts = append(parts, info.Name)
			}
		}
		names = append(names, strings.Join(parts, " -> "))
	}
	return fmt.Errorf("%s: %w", strings.Join(names, "; "), scene.ErrRecursiveDefinition)
}
