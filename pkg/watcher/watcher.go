package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ritzau/scene-maint/pkg/logging"
)

// ChangeType represents the type of file change detected
type ChangeType int

const (
	ChangeTypeWrite  ChangeType = iota // Document written or replaced
	ChangeTypeRemove                   // Document removed or renamed away
)

func (t ChangeType) String() string {
	if t == ChangeTypeRemove {
		return "remove"
	}
	return "write"
}

// ChangeEvent represents a batch of file system changes
type ChangeEvent struct {
	Type      ChangeType
	Paths     []string
	Timestamp time.Time
}

// FileWatcher watches one scene document. The containing directory is
// watched so editors that save by renaming a temp file are seen too.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	events  chan ChangeEvent
}

// NewFileWatcher creates a new file system watcher for a document
func NewFileWatcher(path string) (*FileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher: watcher,
		path:    filepath.Clean(abs),
		events:  make(chan ChangeEvent, 100),
	}, nil
}

// Start begins watching. Events stop and the channel closes when ctx is done.
func (fw *FileWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(fw.path)
	if err := fw.watcher.Add(dir); err != nil {
		fw.watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	logging.Info("Watching scene document", "path", fw.path)

	go fw.processEvents(ctx)
	return nil
}

// processEvents filters directory events down to the document
func (fw *FileWatcher) processEvents(ctx context.Context) {
	defer close(fw.events)
	defer fw.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fw.path {
				continue
			}

			var typ ChangeType
			switch {
			case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
				typ = ChangeTypeWrite
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				typ = ChangeTypeRemove
			default:
				continue
			}
			logging.Trace("Document event", "op", event.Op.String(), "path", event.Name)

			select {
			case fw.events <- ChangeEvent{Type: typ, Paths: []string{fw.path}, Timestamp: time.Now()}:
			case <-ctx.Done():
				return
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("watcher error", "error", err)
		}
	}
}

// Events returns the channel of change events
func (fw *FileWatcher) Events() <-chan ChangeEvent {
	return fw.events
}

// Path returns the watched document
func (fw *FileWatcher) Path() string {
	return fw.path
}
