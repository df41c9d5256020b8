package maint

import (
	"log/slog"

	"github.com/ritzau/scene-maint/pkg/logging"
	"github.com/ritzau/scene-maint/pkg/scene"
	"github.com/ritzau/scene-maint/pkg/traverse"
)

// DeleteLabel labels the deep delete transaction
const DeleteLabel = "Deep Delete"

// DeleteResult counts what a deep delete did
type DeleteResult struct {
	Removed   int `json:"removed"`   // Entities erased, nested content included
	Reclaimed int `json:"reclaimed"` // Definitions dropped from the registry
	Skipped   int `json:"skipped"`   // Handles already gone when reached
}

type deleter struct {
	scene  *scene.Scene
	log    *slog.Logger
	result DeleteResult
}

// DeepDelete erases the selected entities together with the nested content
// that nothing outside the selection still uses. Definitions left without
// instances are reclaimed. The selection is cleared even when the delete
// fails.
func DeepDelete(s *scene.Scene, opts Options) (DeleteResult, error) {
	targets := opts.targets(s)
	s.Selection.Clear()
	if len(targets) == 0 {
		return DeleteResult{}, ErrEmptySelection
	}

	d := &deleter{scene: s, log: logging.New("maint.delete")}
	d.log.Debug("Deep delete started", "targets", len(targets))

	err := inTransaction(s, DeleteLabel, func() error {
		return d.run(targets)
	})
	if err != nil {
		d.log.Warn("Deep delete aborted", "error", err)
		return DeleteResult{}, err
	}

	d.log.Info("Deep delete complete",
		"removed", d.result.Removed,
		"reclaimed", d.result.Reclaimed,
		"skipped", d.result.Skipped)
	return d.result, nil
}

func (d *deleter) run(targets []scene.EntityID) error {
	memo := make(traverse.Memo)
	v := traverse.Visitor{
		// Content is only erased below the last user of a definition
		Descend: func(_ scene.EntityID, def scene.DefinitionID) bool {
			return d.scene.InstanceCount(def) == 1
		},
		Leave: d.leave,
	}

	for _, id := range targets {
		e, ok := d.scene.Entity(id)
		if !ok {
			d.result.Skipped++
			continue
		}
		if !e.Kind.IsInstance() {
			if err := d.erase(id); err != nil {
				return err
			}
			continue
		}

		stats, err := traverse.Walk(d.scene, []scene.EntityID{id}, memo, v)
		d.result.Skipped += stats.Skipped
		if err != nil {
			return err
		}
	}
	return nil
}

// leave erases bottom-up: remaining content first, then the instance
func (d *deleter) leave(inst scene.EntityID, def scene.DefinitionID, descended bool) error {
	if descended {
		for _, child := range d.scene.Content(def) {
			if err := d.erase(child); err != nil {
				return err
			}
		}
	}
	return d.erase(inst)
}

// erase removes one entity and reclaims its definition once unused
func (d *deleter) erase(id scene.EntityID) error {
	e, ok := d.scene.Entity(id)
	if !ok {
		d.result.Skipped++
		return nil
	}
	if err := d.scene.Erase(id); err != nil {
		return err
	}
	d.result.Removed++
	logging.Trace("Erased entity", "id", id, "kind", e.Kind.String())

	if e.Kind.IsInstance() {
		return d.reclaim(e.Definition)
	}
	return nil
}

// reclaim drops an unused definition. Content still present is erased
// first so nested definitions are released and reclaimed in turn.
func (d *deleter) reclaim(def scene.DefinitionID) error {
	if !d.scene.HasDefinition(def) || d.scene.InstanceCount(def) > 0 {
		return nil
	}
	for _, child := range d.scene.Content(def) {
		if err := d.erase(child); err != nil {
			return err
		}
	}
	if err := d.scene.RemoveDefinition(def); err != nil {
		return err
	}
	d.result.Reclaimed++
	d.log.Debug("Reclaimed definition", "definition", uint64(def))
	return nil
}
