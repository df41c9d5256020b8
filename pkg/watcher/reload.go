package watcher

import (
	"context"
	"errors"

	"github.com/ritzau/scene-maint/pkg/logging"
	"github.com/ritzau/scene-maint/pkg/session"
)

// Reloader replaces the scene with the document on disk
type Reloader interface {
	Reload(ctx context.Context) error
}

// Follow reloads r for every debounced change until events closes or ctx
// is done. Failed reloads are logged and the current scene is kept.
func Follow(ctx context.Context, events <-chan ChangeEvent, r Reloader) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			apply(ctx, ev, r)
		}
	}
}

func apply(ctx context.Context, ev ChangeEvent, r Reloader) {
	if ev.Type == ChangeTypeRemove {
		logging.Warn("Scene document removed, keeping the loaded scene", "paths", ev.Paths)
		return
	}

	err := r.Reload(ctx)
	switch {
	case err == nil:
		logging.Info("Scene document changed, reloaded", "paths", ev.Paths)
	case errors.Is(err, session.ErrUnchanged):
		logging.Debug("Scene document matches last save, not reloading")
	case errors.Is(err, session.ErrPurgeRunning):
		logging.Warn("Purge in progress, skipping reload", "paths", ev.Paths)
	default:
		logging.Error("Reload failed, keeping the loaded scene", "error", err)
	}
}
