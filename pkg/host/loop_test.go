package host

import (
	"context"
	"errors"
	"testing"

	"github.com/ritzau/scene-maint/pkg/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func startLoop(t *testing.T, s *scene.Scene) (*Loop, func()) {
	t.Helper()
	l := New(s, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	return l, func() {
		cancel()
		<-done
	}
}

func TestDoRunsOnLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := scene.New()
	l, stop := startLoop(t, s)
	defer stop()

	var got *scene.Scene
	err := l.Do(context.Background(), func(cur *scene.Scene) error {
		got = cur
		_, err := cur.AddEdge(scene.RootID)
		return err
	})
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, 1, s.Stats().Entities)
}

func TestDoReturnsCallbackError(t *testing.T) {
	defer goleak.VerifyNone(t)

	l, stop := startLoop(t, scene.New())
	defer stop()

	boom := errors.New("boom")
	err := l.Do(context.Background(), func(*scene.Scene) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestPostRunsInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	l, stop := startLoop(t, scene.New())
	defer stop()

	var order []int
	for i := 0; i < 10; i++ {
		i := i
		require.True(t, l.Post(func(*scene.Scene) { order = append(order, i) }))
	}
	// Do queues behind the posts, so all of them have run once it returns
	require.NoError(t, l.Do(context.Background(), func(*scene.Scene) error { return nil }))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestReplace(t *testing.T) {
	defer goleak.VerifyNone(t)

	l, stop := startLoop(t, scene.New())
	defer stop()

	next := scene.New()
	require.NoError(t, l.Replace(context.Background(), next))

	var got *scene.Scene
	require.NoError(t, l.Do(context.Background(), func(cur *scene.Scene) error {
		got = cur
		return nil
	}))
	assert.Same(t, next, got)
}

func TestStoppedLoopRejectsWork(t *testing.T) {
	defer goleak.VerifyNone(t)

	l, stop := startLoop(t, scene.New())
	stop()

	assert.False(t, l.Post(func(*scene.Scene) {}))
	err := l.Do(context.Background(), func(*scene.Scene) error { return nil })
	assert.ErrorIs(t, err, ErrStopped)
}

func TestInline(t *testing.T) {
	s := scene.New()
	h := &Inline{Scene: s}

	ran := false
	assert.True(t, h.Post(func(cur *scene.Scene) {
		ran = cur == s
	}))
	assert.True(t, ran)
}

func TestSwapKeepsSceneOnError(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := scene.New()
	l, stop := startLoop(t, s)
	defer stop()

	busy := errors.New("busy")
	err := l.Swap(context.Background(), func(old *scene.Scene) (*scene.Scene, error) {
		assert.Same(t, s, old)
		return nil, busy
	})
	assert.ErrorIs(t, err, busy)

	require.NoError(t, l.Do(context.Background(), func(cur *scene.Scene) error {
		assert.Same(t, s, cur)
		return nil
	}))
}

func TestDoAbandonedBeforeStartNeverRuns(t *testing.T) {
	defer goleak.VerifyNone(t)

	l, stop := startLoop(t, scene.New())
	defer stop()

	release := make(chan struct{})
	require.True(t, l.Post(func(*scene.Scene) { <-release }))

	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	errCh := make(chan error, 1)
	go func() {
		errCh <- l.Do(ctx, func(*scene.Scene) error {
			ran = true
			return nil
		})
	}()
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	// Flush the queue behind the abandoned callback
	require.NoError(t, l.Do(context.Background(), func(*scene.Scene) error { return nil }))
	assert.False(t, ran)
}
