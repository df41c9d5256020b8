// Package host runs the single writer of the scene: an event loop that
// executes posted callbacks one at a time.
package host

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ritzau/scene-maint/pkg/logging"
	"github.com/ritzau/scene-maint/pkg/scene"
)

// ErrStopped is returned when work is handed to a loop that has exited
var ErrStopped = errors.New("host: loop stopped")

// Poster queues work for the scene owner
type Poster interface {
	// Post queues fn and reports whether it was accepted
	Post(fn func(*scene.Scene)) bool
}

// Loop owns a scene and serializes every access to it
type Loop struct {
	scene   *scene.Scene
	queue   chan func(*scene.Scene)
	stopped chan struct{}
	once    sync.Once
}

// New creates a loop owning s. Backlog bounds the queue; Post blocks when
// it is full.
func New(s *scene.Scene, backlog int) *Loop {
	if backlog < 1 {
		backlog = 1
	}
	return &Loop{
		scene:   s,
		queue:   make(chan func(*scene.Scene), backlog),
		stopped: make(chan struct{}),
	}
}

// Run executes posted callbacks until ctx is done. Callbacks still queued
// at that point are dropped.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.stopped) })

	log := logging.New("host")
	log.Debug("Host loop started")
	for {
		select {
		case <-ctx.Done():
			log.Debug("Host loop stopped", "dropped", len(l.queue))
			return nil
		case fn := <-l.queue:
			fn(l.scene)
		}
	}
}

// Post queues fn for the loop goroutine
func (l *Loop) Post(fn func(*scene.Scene)) bool {
	select {
	case <-l.stopped:
		return false
	default:
	}
	select {
	case <-l.stopped:
		return false
	case l.queue <- fn:
		return true
	}
}

// Do runs fn on the loop and waits for its result. When ctx ends before
// fn started, fn never runs and ctx's error is returned; once fn has
// started, Do waits for it.
func (l *Loop) Do(ctx context.Context, fn func(*scene.Scene) error) error {
	var claim atomic.Int32 // 0 pending, 1 started, 2 abandoned
	result := make(chan error, 1)
	posted := l.Post(func(s *scene.Scene) {
		if !claim.CompareAndSwap(0, 1) {
			return
		}
		if err := ctx.Err(); err != nil {
			result <- err
			return
		}
		result <- fn(s)
	})
	if !posted {
		return ErrStopped
	}
	select {
	case err := <-result:
		return err
	case <-l.stopped:
		if claim.CompareAndSwap(0, 2) {
			return ErrStopped
		}
		// Started just before the loop exited
		return <-result
	case <-ctx.Done():
		if claim.CompareAndSwap(0, 2) {
			return ctx.Err()
		}
		return <-result
	}
}

// Replace swaps in a new scene between callbacks
func (l *Loop) Replace(ctx context.Context, s *scene.Scene) error {
	return l.Swap(ctx, func(*scene.Scene) (*scene.Scene, error) { return s, nil })
}

// Swap runs fn on the loop and installs the scene it returns. On error the
// current scene stays.
func (l *Loop) Swap(ctx context.Context, fn func(old *scene.Scene) (*scene.Scene, error)) error {
	return l.Do(ctx, func(old *scene.Scene) error {
		next, err := fn(old)
		if err != nil {
			return err
		}
		l.scene = next
		return nil
	})
}

// Inline runs posted callbacks immediately on the caller's goroutine.
// It serializes callers with a mutex and suits one-shot commands and tests.
type Inline struct {
	mu    sync.Mutex
	Scene *scene.Scene
}

// Post runs fn right away
func (h *Inline) Post(fn func(*scene.Scene)) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.Scene)
	return true
}
