// Package traverse walks instance/definition hierarchies depth first.
//
// Each distinct definition triggers its one-time callback at most once per
// memo, while every instance is still visited on every path that reaches it.
// Stale handles found mid-walk are skipped and counted, never reported as
// errors.
package traverse

import (
	"errors"

	"github.com/ritzau/scene-maint/pkg/scene"
)

// Graph is the part of the scene a walk reads
type Graph interface {
	Valid(id scene.EntityID) bool
	DefinitionOf(id scene.EntityID) (scene.DefinitionID, error)
	HasDefinition(def scene.DefinitionID) bool
	Content(def scene.DefinitionID) []scene.EntityID
}

// Memo maps each handled definition to the definition whose content is
// walked in its place. A definition mapped to itself is walked as is.
type Memo map[scene.DefinitionID]scene.DefinitionID

// Visitor holds the walk callbacks. Nil callbacks are skipped; a nil
// Definition resolves every definition to itself and a nil Descend always
// descends.
type Visitor struct {
	// Definition fires the first time a definition is met under this memo.
	// The returned definition is recorded and walked instead of def.
	Definition func(inst scene.EntityID, def scene.DefinitionID) (scene.DefinitionID, error)

	// Instance fires for every instance, before its content is walked
	Instance func(inst scene.EntityID, resolved scene.DefinitionID, first bool) error

	// Descend decides whether the content of resolved is walked below inst
	Descend func(inst scene.EntityID, resolved scene.DefinitionID) bool

	// Leave fires after the content below inst was walked, or skipped
	Leave func(inst scene.EntityID, resolved scene.DefinitionID, descended bool) error
}

// Stats describes a finished walk
type Stats struct {
	Instances   int // Instance visits, counting every path
	Definitions int // Distinct definitions resolved
	Skipped     int // Stale handles and recursive bindings
	MaxDepth    int
}

type walker struct {
	graph Graph
	memo  Memo
	v     Visitor
	path  map[scene.DefinitionID]bool
	stats Stats
}

// Walk visits roots in order and descends into their definitions.
// Roots that are not instances are ignored.
func Walk(g Graph, roots []scene.EntityID, memo Memo, v Visitor) (Stats, error) {
	if memo == nil {
		memo = make(Memo)
	}
	w := &walker{
		graph: g,
		memo:  memo,
		v:     v,
		path:  make(map[scene.DefinitionID]bool),
	}
	for _, root := range roots {
		if err := w.visit(root, 1); err != nil {
			return w.stats, err
		}
	}
	return w.stats, nil
}

func (w *walker) visit(inst scene.EntityID, depth int) error {
	if !w.graph.Valid(inst) {
		w.stats.Skipped++
		return nil
	}
	def, err := w.graph.DefinitionOf(inst)
	if errors.Is(err, scene.ErrNotInstance) {
		return nil
	}
	if err != nil || !w.graph.HasDefinition(def) {
		w.stats.Skipped++
		return nil
	}

	resolved, seen := w.memo[def]
	first := !seen
	if first {
		resolved, err = w.resolve(inst, def)
		if err != nil {
			return err
		}
	}

	w.stats.Instances++
	w.stats.MaxDepth = max(w.stats.MaxDepth, depth)
	if w.v.Instance != nil {
		if err := w.v.Instance(inst, resolved, first); err != nil {
			return err
		}
	}

	descend := true
	if w.path[resolved] {
		// Definition contains itself; its content is already being walked
		w.stats.Skipped++
		descend = false
	} else if w.v.Descend != nil {
		descend = w.v.Descend(inst, resolved)
	}

	if descend {
		w.path[resolved] = true
		for _, child := range w.graph.Content(resolved) {
			if err := w.visit(child, depth+1); err != nil {
				delete(w.path, resolved)
				return err
			}
		}
		delete(w.path, resolved)
	}

	if w.v.Leave != nil {
		return w.v.Leave(inst, resolved, descend)
	}
	return nil
}

func (w *walker) resolve(inst scene.EntityID, def scene.DefinitionID) (scene.DefinitionID, error) {
	resolved := def
	if w.v.Definition != nil {
		var err error
		resolved, err = w.v.Definition(inst, def)
		if err != nil {
			return 0, err
		}
	}
	w.memo[def] = resolved
	if _, ok := w.memo[resolved]; !ok {
		w.memo[resolved] = resolved
	}
	w.stats.Definitions++
	return resolved, nil
}
