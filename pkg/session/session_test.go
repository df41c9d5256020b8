package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/ritzau/scene-maint/pkg/maint"
	"github.com/ritzau/scene-maint/pkg/pubsub"
	"github.com/ritzau/scene-maint/pkg/purge"
	"github.com/ritzau/scene-maint/pkg/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const chairDocument = `
materials:
  - name: Wood
  - name: Unused
definitions:
  - name: Chair
    content:
      - kind: face
        material: Wood
      - kind: instance
        definition: Leg
        name: leg1
  - name: Leg
    content:
      - kind: face
        material: Wood
model:
  - kind: instance
    definition: Chair
    name: chairA
  - kind: instance
    definition: Chair
    name: chairB
`

const cyclicDocument = `
definitions:
  - name: A
    content:
      - kind: instance
        definition: B
  - name: B
    content:
      - kind: instance
        definition: A
model: []
`

type fixture struct {
	sess *Session
	pub  *pubsub.SSEPublisher
	path string
	stop func()
}

func writeDoc(t *testing.T, path, doc string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
}

func start(t *testing.T, opts Options) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chair.yaml")
	writeDoc(t, path, chairDocument)

	pub := pubsub.NewSSEPublisher()
	pub.ConfigureTopic(pubsub.TopicStatus, pubsub.TopicConfig{BufferSize: 32, ReplayAll: true})
	pub.ConfigureTopic(pubsub.TopicScene, pubsub.TopicConfig{BufferSize: 32, ReplayAll: true})
	opts.Publisher = pub

	sess, err := Open(path, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sess.Run(ctx)
	}()
	return &fixture{sess: sess, pub: pub, path: path, stop: func() {
		cancel()
		<-done
		pub.Close()
	}}
}

// drain returns everything buffered on topic so far
func (f *fixture) drain(t *testing.T, topic string) []pubsub.Event {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := f.pub.Subscribe(ctx, topic)
	require.NoError(t, err)
	defer sub.Close()

	var out []pubsub.Event
	for {
		select {
		case ev := <-sub.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (f *fixture) lastStatus(t *testing.T) pubsub.Status {
	t.Helper()
	events := f.drain(t, pubsub.TopicStatus)
	require.NotEmpty(t, events)
	st, err := pubsub.DecodeStatus(events[len(events)-1])
	require.NoError(t, err)
	return st
}

func (f *fixture) find(t *testing.T, name string) scene.EntityID {
	t.Helper()
	var id scene.EntityID
	require.NoError(t, f.sess.Inspect(context.Background(), func(sc *scene.Scene) error {
		ids := sc.FindByName(name)
		require.Len(t, ids, 1)
		id = ids[0]
		return nil
	}))
	return id
}

func TestDeepDeleteReportsStatus(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := start(t, Options{})
	defer f.stop()

	ctx := context.Background()
	_, err := f.sess.SelectByName(ctx, []string{"chairA", "chairB"})
	require.NoError(t, err)

	res, err := f.sess.DeepDelete(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, maint.DeleteResult{Removed: 5, Reclaimed: 2}, res)

	st := f.lastStatus(t)
	assert.Equal(t, "delete", st.Source)
	assert.True(t, st.Final)
	assert.True(t, st.OK)
	assert.Equal(t, "Deep Delete: removed 5 entities, reclaimed 2 definitions", st.Message)

	updates := f.drain(t, pubsub.TopicScene)
	require.Len(t, updates, 1)

	defs, err := f.sess.Definitions(ctx)
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestEmptySelectionIsReported(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := start(t, Options{})
	defer f.stop()

	_, err := f.sess.DeepDelete(context.Background(), nil)
	assert.ErrorIs(t, err, maint.ErrEmptySelection)

	st := f.lastStatus(t)
	assert.False(t, st.OK)
	assert.Equal(t, "Deep Delete: nothing selected", st.Message)

	sum, err := f.sess.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), sum.Revision)
}

func TestDeepUniqueByID(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := start(t, Options{})
	defer f.stop()

	a := f.find(t, "chairA")
	res, err := f.sess.DeepUnique(context.Background(), []scene.EntityID{a})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Instances)
	assert.Equal(t, 2, res.Cloned)

	st := f.lastStatus(t)
	assert.Equal(t, "Deep Unique: made 1 instances unique, cloned 2 definitions", st.Message)
}

func TestSelectRejectsUnknownHandles(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := start(t, Options{})
	defer f.stop()

	ctx := context.Background()
	a := f.find(t, "chairA")
	require.NoError(t, f.sess.Select(ctx, []scene.EntityID{a}))

	err := f.sess.Select(ctx, []scene.EntityID{a, 9999})
	assert.ErrorIs(t, err, scene.ErrInvalidEntity)

	sum, err := f.sess.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{uint64(a)}, sum.Selection)

	_, err = f.sess.SelectByName(ctx, []string{"nobody"})
	assert.ErrorIs(t, err, scene.ErrInvalidEntity)

	require.NoError(t, f.sess.ClearSelection(ctx))
	sum, err = f.sess.Summary(ctx)
	require.NoError(t, err)
	assert.Empty(t, sum.Selection)
}

func TestPurgeRunsToCompletion(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := start(t, Options{})
	defer f.stop()

	ctx := context.Background()
	_, err := f.sess.Purge(ctx)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	st, err := f.sess.WaitPurge(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, purge.PhaseCompleted, st.Phase)
	assert.Equal(t, st, f.sess.PurgeState())

	// One scene update per committed step
	assert.Len(t, f.drain(t, pubsub.TopicScene), len(f.sess.PurgeSteps()))

	last := f.lastStatus(t)
	assert.Equal(t, "Purge complete (100%)", last.Message)

	require.NoError(t, f.sess.Inspect(ctx, func(sc *scene.Scene) error {
		assert.Equal(t, []string{"Wood"}, sc.Materials())
		return nil
	}))
}

func TestReload(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := start(t, Options{})
	defer f.stop()

	ctx := context.Background()
	writeDoc(t, f.path, "model:\n  - kind: edge\n")
	require.NoError(t, f.sess.Reload(ctx))

	sum, err := f.sess.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Stats.Entities)
	assert.Equal(t, "Reload: loaded "+f.path, f.lastStatus(t).Message)

	writeDoc(t, f.path, cyclicDocument)
	err = f.sess.Reload(ctx)
	assert.ErrorIs(t, err, scene.ErrRecursiveDefinition)

	// The previous scene survives a rejected reload
	sum, err = f.sess.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Stats.Entities)
}

func TestReloadSkippedWhilePurging(t *testing.T) {
	defer goleak.VerifyNone(t)
	clk := testclock.NewClock(time.Now())
	f := start(t, Options{Purge: purge.Options{Delay: time.Hour, Clock: clk}})
	defer f.stop()

	ctx := context.Background()
	_, err := f.sess.Purge(ctx)
	require.NoError(t, err)

	writeDoc(t, f.path, "model: []\n")
	assert.ErrorIs(t, f.sess.Reload(ctx), ErrPurgeRunning)

	sum, err := f.sess.Summary(ctx)
	require.NoError(t, err)
	assert.NotZero(t, sum.Stats.Entities)
}

func TestAutoSaveSkipsOwnWrite(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := start(t, Options{AutoSave: true})
	defer f.stop()

	ctx := context.Background()
	a := f.find(t, "chairA")
	_, err := f.sess.DeepDelete(ctx, []scene.EntityID{a})
	require.NoError(t, err)

	back, err := scene.LoadFile(f.path)
	require.NoError(t, err)
	assert.Len(t, back.FindByName("chairA"), 0)
	assert.Len(t, back.FindByName("chairB"), 1)

	assert.ErrorIs(t, f.sess.Reload(ctx), ErrUnchanged)
}

func TestSaveWithoutDocument(t *testing.T) {
	sess, err := New(scene.New(), Options{Publisher: pubsub.NewSSEPublisher()})
	require.NoError(t, err)
	assert.ErrorIs(t, sess.Save(context.Background()), ErrNoDocument)
	assert.ErrorIs(t, sess.Reload(context.Background()), ErrNoDocument)
}

func TestOpenRejectsRecursiveDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cyclic.yaml")
	writeDoc(t, path, cyclicDocument)

	_, err := Open(path, Options{Publisher: pubsub.NewSSEPublisher()})
	assert.ErrorIs(t, err, scene.ErrRecursiveDefinition)
}

func TestAbandonedDeleteNeverRuns(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := start(t, Options{})
	defer f.stop()

	ctx := context.Background()
	chairA := f.find(t, "chairA")
	before, err := f.sess.Summary(ctx)
	require.NoError(t, err)

	// Hold the host so the delete stays queued
	release := make(chan struct{})
	held := make(chan struct{})
	blocked := make(chan error, 1)
	go func() {
		blocked <- f.sess.Inspect(ctx, func(*scene.Scene) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = f.sess.DeepDelete(short, []scene.EntityID{chairA})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, f.lastStatus(t).OK)

	close(release)
	require.NoError(t, <-blocked)

	after, err := f.sess.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Revision, after.Revision)
	assert.Equal(t, before.Stats, after.Stats)
	assert.Empty(t, f.drain(t, pubsub.TopicScene))
}

func TestApplyRandomColorReportsStatus(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := start(t, Options{})
	defer f.stop()

	ctx := context.Background()
	var faces []scene.EntityID
	require.NoError(t, f.sess.Inspect(ctx, func(sc *scene.Scene) error {
		for _, name := range []string{"Chair", "Leg"} {
			def, ok := sc.FindDefinition(name)
			require.True(t, ok)
			faces = append(faces, sc.Content(def)[0])
		}
		return nil
	}))

	res, err := f.sess.ApplyRandomColor(ctx, faces)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Faces)

	st := f.lastStatus(t)
	assert.Equal(t, "color", st.Source)
	assert.True(t, st.OK)
	assert.Equal(t, "Apply Random Color: painted 2 faces with "+res.Material+" ("+res.Color+")", st.Message)
	assert.Len(t, f.drain(t, pubsub.TopicScene), 1)

	require.NoError(t, f.sess.Inspect(ctx, func(sc *scene.Scene) error {
		assert.Contains(t, sc.Materials(), res.Material)
		for _, id := range faces {
			e, _ := sc.Entity(id)
			assert.Equal(t, res.Material, e.Material)
		}
		return nil
	}))
}
