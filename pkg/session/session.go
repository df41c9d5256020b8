// Package session binds a scene to its host loop, the maintenance engines,
// the purge pipeline and the status channel. It is the boundary where
// engine errors are reported instead of propagated as failures of the
// process.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ritzau/scene-maint/pkg/cycles"
	"github.com/ritzau/scene-maint/pkg/host"
	"github.com/ritzau/scene-maint/pkg/logging"
	"github.com/ritzau/scene-maint/pkg/maint"
	"github.com/ritzau/scene-maint/pkg/metrics"
	"github.com/ritzau/scene-maint/pkg/model"
	"github.com/ritzau/scene-maint/pkg/pubsub"
	"github.com/ritzau/scene-maint/pkg/purge"
	"github.com/ritzau/scene-maint/pkg/registry"
	"github.com/ritzau/scene-maint/pkg/scene"
)

var (
	// ErrNoDocument is returned by Reload and Save when the session has no backing file
	ErrNoDocument = errors.New("session: no document path")

	// ErrPurgeRunning is returned by Reload while a purge is in progress
	ErrPurgeRunning = errors.New("session: purge in progress")

	// ErrUnchanged is returned by Reload when the file holds what was last saved
	ErrUnchanged = errors.New("session: document unchanged")
)

// Options configures a Session
type Options struct {
	Path      string           // Backing document; empty for in-memory scenes
	Publisher pubsub.Publisher // Status and scene updates; required
	Backlog   int              // Host queue size
	AutoSave  bool             // Write the document after every committed change
	Purge     purge.Options    // Steps, Delay and Clock of the pipeline
}

// Session owns a running maintenance setup for one scene
type Session struct {
	loop     *host.Loop
	pub      pubsub.Publisher
	pipeline *purge.Pipeline
	path     string
	autoSave bool
	log      *slog.Logger

	mu        sync.Mutex // Guards lastSaved
	lastSaved []byte
}

// Open loads the document at path and creates a session for it
func Open(path string, opts Options) (*Session, error) {
	s, err := scene.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cycles.Check(s); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	opts.Path = path
	return New(s, opts)
}

// New creates a session for an already loaded scene
func New(s *scene.Scene, opts Options) (*Session, error) {
	if opts.Publisher == nil {
		return nil, errors.New("session: publisher required")
	}
	if opts.Backlog == 0 {
		opts.Backlog = 16
	}

	sess := &Session{
		loop:     host.New(s, opts.Backlog),
		pub:      opts.Publisher,
		path:     opts.Path,
		autoSave: opts.AutoSave,
		log:      logging.New("session"),
	}

	po := opts.Purge
	po.Publisher = opts.Publisher
	userCommit := po.OnCommit
	po.OnCommit = func(sc *scene.Scene, label string) {
		sess.committed(sc, label)
		if userCommit != nil {
			userCommit(sc, label)
		}
	}
	p, err := purge.NewPipeline(sess.loop, po)
	if err != nil {
		return nil, err
	}
	sess.pipeline = p
	return sess, nil
}

// Run drives the host loop until ctx is done. A running purge is stopped
// on the way out.
func (s *Session) Run(ctx context.Context) error {
	defer s.pipeline.Stop()
	return s.loop.Run(ctx)
}

// DeepDelete removes ids, or the current selection when ids is empty,
// together with the nested content only they use
func (s *Session) DeepDelete(ctx context.Context, ids []scene.EntityID) (maint.DeleteResult, error) {
	var res maint.DeleteResult
	start := time.Now()
	err := s.loop.Do(ctx, func(sc *scene.Scene) error {
		var err error
		res, err = maint.DeepDelete(sc, maint.Options{IDs: ids})
		if err != nil {
			return err
		}
		s.committed(sc, maint.DeleteLabel)
		return nil
	})
	metrics.ObserveOperation("delete", start, err)
	if err != nil {
		s.report("delete", maint.DeleteLabel, err, "")
		return maint.DeleteResult{}, err
	}
	metrics.ObserveDelete(res.Removed, res.Reclaimed)
	s.report("delete", maint.DeleteLabel, nil,
		fmt.Sprintf("removed %d entities, reclaimed %d definitions", res.Removed, res.Reclaimed))
	return res, nil
}

// DeepUnique gives the instances in ids, or the selected ones, private
// copies of everything they share
func (s *Session) DeepUnique(ctx context.Context, ids []scene.EntityID) (maint.UniqueResult, error) {
	var res maint.UniqueResult
	start := time.Now()
	err := s.loop.Do(ctx, func(sc *scene.Scene) error {
		var err error
		res, err = maint.DeepUnique(sc, maint.Options{IDs: ids})
		if err != nil {
			return err
		}
		s.committed(sc, maint.UniqueLabel)
		return nil
	})
	metrics.ObserveOperation("unique", start, err)
	if err != nil {
		s.report("unique", maint.UniqueLabel, err, "")
		return maint.UniqueResult{}, err
	}
	metrics.ObserveUnique(res.Cloned)
	s.report("unique", maint.UniqueLabel, nil,
		fmt.Sprintf("made %d instances unique, cloned %d definitions", res.Instances, res.Cloned))
	return res, nil
}

// ApplyRandomColor paints the faces in ids, or the selected faces, with a
// new randomly colored material
func (s *Session) ApplyRandomColor(ctx context.Context, ids []scene.EntityID) (maint.ColorResult, error) {
	var res maint.ColorResult
	start := time.Now()
	err := s.loop.Do(ctx, func(sc *scene.Scene) error {
		var err error
		res, err = maint.ApplyRandomColor(sc, maint.ColorOptions{Options: maint.Options{IDs: ids}})
		if err != nil {
			return err
		}
		s.committed(sc, maint.ColorLabel)
		return nil
	})
	metrics.ObserveOperation("color", start, err)
	if err != nil {
		s.report("color", maint.ColorLabel, err, "")
		return maint.ColorResult{}, err
	}
	s.report("color", maint.ColorLabel, nil,
		fmt.Sprintf("painted %d faces with %s (%s)", res.Faces, res.Material, res.Color))
	return res, nil
}

// Purge starts the staged purge. The run lives as long as ctx.
func (s *Session) Purge(ctx context.Context) (purge.State, error) {
	return s.pipeline.Start(ctx)
}

// WaitPurge blocks until the current purge ends
func (s *Session) WaitPurge(ctx context.Context) (purge.State, error) {
	return s.pipeline.Wait(ctx)
}

// PurgeState returns the state of the current or last purge
func (s *Session) PurgeState() purge.State {
	return s.pipeline.State()
}

// PurgeSteps returns the configured purge steps
func (s *Session) PurgeSteps() []purge.Step {
	return s.pipeline.Steps()
}

// Select replaces the selection. Unknown handles fail the call and leave
// the selection as it was.
func (s *Session) Select(ctx context.Context, ids []scene.EntityID) error {
	return s.loop.Do(ctx, func(sc *scene.Scene) error {
		for _, id := range ids {
			if !sc.Valid(id) {
				return fmt.Errorf("select %d: %w", id, scene.ErrInvalidEntity)
			}
		}
		sc.Selection.Clear()
		sc.Selection.Add(ids...)
		return nil
	})
}

// SelectByName replaces the selection with every entity carrying one of names
func (s *Session) SelectByName(ctx context.Context, names []string) (int, error) {
	n := 0
	err := s.loop.Do(ctx, func(sc *scene.Scene) error {
		var ids []scene.EntityID
		for _, name := range names {
			found := sc.FindByName(name)
			if len(found) == 0 {
				return fmt.Errorf("select %q: %w", name, scene.ErrInvalidEntity)
			}
			ids = append(ids, found...)
		}
		sc.Selection.Clear()
		sc.Selection.Add(ids...)
		n = sc.Selection.Len()
		return nil
	})
	return n, err
}

// ClearSelection empties the selection
func (s *Session) ClearSelection(ctx context.Context) error {
	return s.loop.Do(ctx, func(sc *scene.Scene) error {
		sc.Selection.Clear()
		return nil
	})
}

// Graph returns the node/edge view of the scene
func (s *Session) Graph(ctx context.Context) (*model.Graph, error) {
	var g *model.Graph
	err := s.loop.Do(ctx, func(sc *scene.Scene) error {
		g = model.FromScene(sc, registry.NewView(sc))
		return nil
	})
	return g, err
}

// Definitions lists the definition registry
func (s *Session) Definitions(ctx context.Context) ([]model.DefinitionSummary, error) {
	var defs []model.DefinitionSummary
	err := s.loop.Do(ctx, func(sc *scene.Scene) error {
		defs = model.Definitions(sc, registry.NewView(sc))
		return nil
	})
	return defs, err
}

// Summary returns revision, stats and selection of the scene
func (s *Session) Summary(ctx context.Context) (model.Summary, error) {
	var sum model.Summary
	err := s.loop.Do(ctx, func(sc *scene.Scene) error {
		sum = model.Summarize(sc)
		return nil
	})
	return sum, err
}

// Inspect runs fn on the host with the current scene. fn must not keep the
// scene past its return.
func (s *Session) Inspect(ctx context.Context, fn func(*scene.Scene) error) error {
	return s.loop.Do(ctx, fn)
}

// Reload replaces the scene with the document on disk. It refuses while a
// purge runs and skips files identical to what the session last saved.
func (s *Session) Reload(ctx context.Context) error {
	if s.path == "" {
		return ErrNoDocument
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read scene document: %w", err)
	}

	s.mu.Lock()
	unchanged := s.lastSaved != nil && bytes.Equal(data, s.lastSaved)
	s.mu.Unlock()
	if unchanged {
		return ErrUnchanged
	}

	next, err := scene.ReadDocument(bytes.NewReader(data))
	if err == nil {
		err = cycles.Check(next)
	}
	if err != nil {
		err = fmt.Errorf("%s: %w", s.path, err)
		s.report("reload", "Reload", err, "")
		return err
	}

	err = s.loop.Swap(ctx, func(*scene.Scene) (*scene.Scene, error) {
		// Checked on the host so no purge tick can interleave
		if s.pipeline.State().Running() {
			return nil, ErrPurgeRunning
		}
		return next, nil
	})
	if err != nil {
		if !errors.Is(err, ErrPurgeRunning) {
			s.report("reload", "Reload", err, "")
		}
		return err
	}

	s.log.Info("Scene reloaded", "path", s.path, "entities", next.Stats().Entities)
	s.publishScene(next, "Reload")
	s.report("reload", "Reload", nil, fmt.Sprintf("loaded %s", s.path))
	return nil
}

// Save writes the scene to its document
func (s *Session) Save(ctx context.Context) error {
	if s.path == "" {
		return ErrNoDocument
	}
	return s.loop.Do(ctx, s.save)
}

// save runs on the host
func (s *Session) save(sc *scene.Scene) error {
	var buf bytes.Buffer
	if err := scene.WriteDocument(&buf, sc); err != nil {
		return err
	}
	if err := os.WriteFile(s.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write scene document: %w", err)
	}
	s.mu.Lock()
	s.lastSaved = buf.Bytes()
	s.mu.Unlock()
	s.log.Debug("Scene saved", "path", s.path, "revision", sc.Revision())
	return nil
}

// committed runs on the host after every committed change
func (s *Session) committed(sc *scene.Scene, label string) {
	s.publishScene(sc, label)
	if !s.autoSave || s.path == "" {
		return
	}
	if err := s.save(sc); err != nil {
		s.log.Warn("Auto-save failed", "label", label, "error", err)
	}
}

func (s *Session) publishScene(sc *scene.Scene, label string) {
	stats := sc.Stats()
	update := pubsub.SceneUpdate{
		Revision:    sc.Revision(),
		Entities:    stats.Entities,
		Definitions: stats.Definitions,
		Label:       label,
	}
	if err := s.pub.Publish(pubsub.TopicScene, "revision", update); err != nil {
		s.log.Debug("Scene update not published", "error", err)
	}
}

// report publishes the final status line of an operation
func (s *Session) report(source, label string, err error, detail string) {
	st := pubsub.Status{Source: source, Final: true}
	switch {
	case err == nil:
		st.State = "completed"
		st.OK = true
		st.Message = label + ": " + detail
		s.log.Info("Operation complete", "operation", source, "detail", detail)
	case errors.Is(err, maint.ErrEmptySelection):
		st.State = "failed"
		st.Message = label + ": nothing selected"
		s.log.Info("Operation skipped", "operation", source, "reason", "empty selection")
	default:
		st.State = "failed"
		st.Message = fmt.Sprintf("%s failed: %v", label, err)
		s.log.Warn("Operation failed", "operation", source, "error", err)
	}
	if perr := pubsub.PublishStatus(s.pub, st); perr != nil {
		s.log.Debug("Status not published", "error", perr)
	}
}
