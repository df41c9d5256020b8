package maint

import (
	"log/slog"

	"github.com/ritzau/scene-maint/pkg/logging"
	"github.com/ritzau/scene-maint/pkg/registry"
	"github.com/ritzau/scene-maint/pkg/scene"
	"github.com/ritzau/scene-maint/pkg/traverse"
)

// UniqueLabel labels the deep unique transaction
const UniqueLabel = "Deep Unique"

// UniqueResult counts what a deep unique did
type UniqueResult struct {
	Cloned    int `json:"cloned"`    // Definitions copied, top level included
	Instances int `json:"instances"` // Top-level instances made unique
	Rebound   int `json:"rebound"`   // Nested instances pointed at a copy
}

type uniquifier struct {
	scene  *scene.Scene
	log    *slog.Logger
	result UniqueResult
}

// DeepUnique gives every selected instance a private copy of its definition
// and of every nested definition it still shares with the rest of the model.
//
// Top-level instances are always cloned, even when they already own their
// definition, and are never merged with each other. Below the top level a
// definition is only cloned when something outside the instance's subtree
// also uses it, so a second run copies nothing but the top level.
func DeepUnique(s *scene.Scene, opts Options) (UniqueResult, error) {
	var targets []scene.EntityID
	for _, id := range opts.targets(s) {
		if e, ok := s.Entity(id); ok && e.Kind.IsInstance() {
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		return UniqueResult{}, ErrEmptySelection
	}

	u := &uniquifier{scene: s, log: logging.New("maint.unique")}
	u.log.Debug("Deep unique started", "instances", len(targets))

	err := inTransaction(s, UniqueLabel, func() error {
		for _, inst := range targets {
			if err := u.uniquify(inst); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		u.log.Warn("Deep unique aborted", "error", err)
		return UniqueResult{}, err
	}

	u.log.Info("Deep unique complete",
		"instances", u.result.Instances,
		"cloned", u.result.Cloned,
		"rebound", u.result.Rebound)
	return u.result, nil
}

func (u *uniquifier) uniquify(inst scene.EntityID) error {
	def, err := u.scene.DefinitionOf(inst)
	if err != nil {
		return err
	}
	top, err := u.scene.CloneDefinition(def)
	if err != nil {
		return err
	}
	if err := u.scene.SetDefinition(inst, top); err != nil {
		return err
	}
	u.result.Cloned++
	u.result.Instances++

	// Ownership is judged after the rebind, so users of the original
	// definition that are no longer placed do not count
	owned := registry.NewView(u.scene).Owned(top)

	memo := traverse.Memo{top: top}
	_, err = traverse.Walk(u.scene, []scene.EntityID{inst}, memo, traverse.Visitor{
		Definition: func(_ scene.EntityID, def scene.DefinitionID) (scene.DefinitionID, error) {
			if owned[def] {
				return def, nil
			}
			clone, err := u.scene.CloneDefinition(def)
			if err != nil {
				return 0, err
			}
			owned[clone] = true
			u.result.Cloned++
			return clone, nil
		},
		Instance: func(id scene.EntityID, resolved scene.DefinitionID, _ bool) error {
			current, err := u.scene.DefinitionOf(id)
			if err != nil || current == resolved {
				return err
			}
			u.result.Rebound++
			return u.scene.SetDefinition(id, resolved)
		},
	})
	return err
}
