package registry

import (
	"testing"

	"github.com/ritzau/scene-maint/pkg/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	s     *scene.Scene
	chair scene.DefinitionID
	leg   scene.DefinitionID
	bolt  scene.DefinitionID
	spare scene.DefinitionID
	loose scene.EntityID
}

// Root{Chair x2, Bolt}, Chair{Leg x2}, Leg{Bolt}, Spare{Leg} unplaced
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{s: scene.New()}
	s := f.s
	f.bolt = s.AddDefinition("Bolt", false)
	f.leg = s.AddDefinition("Leg", false)
	f.chair = s.AddDefinition("Chair", false)
	f.spare = s.AddDefinition("Spare", false)

	add := func(parent, def scene.DefinitionID) scene.EntityID {
		id, err := s.AddInstance(parent, def, "")
		require.NoError(t, err)
		return id
	}
	add(f.leg, f.bolt)
	add(f.chair, f.leg)
	add(f.chair, f.leg)
	add(f.spare, f.leg)
	add(scene.RootID, f.chair)
	add(scene.RootID, f.chair)
	f.loose = add(scene.RootID, f.bolt)
	return f
}

func TestLive(t *testing.T) {
	f := newFixture(t)
	v := NewView(f.s)

	assert.Equal(t, []scene.DefinitionID{f.bolt, f.leg, f.chair}, v.Live())
	assert.False(t, v.IsLive(f.spare))
	assert.Equal(t, []scene.DefinitionID{f.spare}, v.Unused())
}

func TestLiveUsersIgnoreUnplacedContainers(t *testing.T) {
	f := newFixture(t)
	v := NewView(f.s)

	assert.Equal(t, 3, v.InstanceCount(f.leg))
	assert.Len(t, v.LiveUsers(f.leg), 2)
}

func TestOwnedSharedChild(t *testing.T) {
	f := newFixture(t)
	v := NewView(f.s)

	// Bolt is also placed loose at the root, so Chair does not own it
	owned := v.Owned(f.chair)
	assert.Equal(t, map[scene.DefinitionID]bool{f.chair: true, f.leg: true}, owned)
}

func TestOwnedWholeSubtree(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.s.Erase(f.loose))
	v := NewView(f.s)

	owned := v.Owned(f.chair)
	assert.Equal(t, map[scene.DefinitionID]bool{f.chair: true, f.leg: true, f.bolt: true}, owned)

	// Seen from Leg, the subtree stops at Bolt
	assert.Equal(t, map[scene.DefinitionID]bool{f.leg: true, f.bolt: true}, v.Owned(f.leg))
}

func TestReclaim(t *testing.T) {
	f := newFixture(t)

	ok, err := Reclaim(f.s, f.chair)
	require.NoError(t, err)
	assert.False(t, ok, "chair still has instances")

	ok, err = Reclaim(f.s, f.spare)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, f.s.HasDefinition(f.spare))

	ok, err = Reclaim(f.s, f.spare)
	require.NoError(t, err)
	assert.False(t, ok)
}
