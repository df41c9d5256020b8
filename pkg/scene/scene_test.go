package scene

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildChair creates Chair{face, Leg, Leg} placed twice at the model root
func buildChair(t *testing.T) (*Scene, DefinitionID, DefinitionID, []EntityID) {
	t.Helper()
	s := New()
	require.NoError(t, s.AddMaterial("Wood", "#8b5a2b"))

	leg := s.AddDefinition("Leg", false)
	_, err := s.AddFace(leg, "Wood", "")
	require.NoError(t, err)

	chair := s.AddDefinition("Chair", false)
	_, err = s.AddFace(chair, "Wood", "")
	require.NoError(t, err)
	_, err = s.AddInstance(chair, leg, "leg1")
	require.NoError(t, err)
	_, err = s.AddInstance(chair, leg, "leg2")
	require.NoError(t, err)

	a, err := s.AddInstance(RootID, chair, "chairA")
	require.NoError(t, err)
	b, err := s.AddInstance(RootID, chair, "chairB")
	require.NoError(t, err)
	return s, chair, leg, []EntityID{a, b}
}

func TestAddAndQuery(t *testing.T) {
	s, chair, leg, roots := buildChair(t)

	assert.Equal(t, 2, s.InstanceCount(chair))
	assert.Equal(t, 2, s.InstanceCount(leg))
	assert.Equal(t, roots, s.Content(RootID))
	assert.Len(t, s.Content(chair), 3)

	def, err := s.DefinitionOf(roots[0])
	require.NoError(t, err)
	assert.Equal(t, chair, def)

	face := s.Content(chair)[0]
	_, err = s.DefinitionOf(face)
	assert.ErrorIs(t, err, ErrNotInstance)

	_, err = s.DefinitionOf(9999)
	assert.ErrorIs(t, err, ErrInvalidEntity)

	e, ok := s.Entity(face)
	require.True(t, ok)
	assert.Equal(t, DefaultLayer, e.Layer)
	assert.Equal(t, chair, e.Parent)

	assert.Equal(t, []EntityID{roots[0]}, s.FindByName("chairA"))
	assert.Equal(t, Stats{Entities: 6, Definitions: 2, Materials: 1, Layers: 1}, s.Stats())
	require.NoError(t, s.Verify())
}

func TestAddInstanceUnknownDefinition(t *testing.T) {
	s := New()
	_, err := s.AddInstance(RootID, 42, "ghost")
	assert.ErrorIs(t, err, ErrUnknownDefinition)

	_, err = s.AddFace(42, "", "")
	assert.ErrorIs(t, err, ErrUnknownDefinition)
}

func TestEraseReleasesHandle(t *testing.T) {
	s, chair, leg, roots := buildChair(t)

	require.NoError(t, s.Erase(roots[0]))
	assert.False(t, s.Valid(roots[0]))
	assert.Equal(t, 1, s.InstanceCount(chair))
	// Content of the definition is untouched
	assert.Equal(t, 2, s.InstanceCount(leg))

	assert.ErrorIs(t, s.Erase(roots[0]), ErrInvalidEntity)
}

func TestSetDefinition(t *testing.T) {
	s, chair, _, roots := buildChair(t)
	other := s.AddDefinition("Stool", false)

	require.NoError(t, s.SetDefinition(roots[0], other))
	assert.Equal(t, 1, s.InstanceCount(chair))
	assert.Equal(t, 1, s.InstanceCount(other))
	assert.Equal(t, []EntityID{roots[0]}, s.Instances(other))

	assert.ErrorIs(t, s.SetDefinition(roots[0], 999), ErrUnknownDefinition)
	require.NoError(t, s.Verify())
}

func TestCloneDefinition(t *testing.T) {
	s, chair, leg, _ := buildChair(t)

	clone, err := s.CloneDefinition(chair)
	require.NoError(t, err)

	info, ok := s.Definition(clone)
	require.True(t, ok)
	assert.Equal(t, "Chair#1", info.Name)
	assert.Len(t, info.Content, 3)
	assert.Equal(t, 0, info.InstanceCount)
	// Nested instances of the copy bind the same nested definition
	assert.Equal(t, 4, s.InstanceCount(leg))

	for _, id := range info.Content {
		e, _ := s.Entity(id)
		assert.Equal(t, clone, e.Parent)
	}

	again, err := s.CloneDefinition(chair)
	require.NoError(t, err)
	info, _ = s.Definition(again)
	assert.Equal(t, "Chair#2", info.Name)
	require.NoError(t, s.Verify())
}

func TestRemoveDefinition(t *testing.T) {
	s, chair, leg, roots := buildChair(t)

	assert.ErrorIs(t, s.RemoveDefinition(chair), ErrDefinitionInUse)

	for _, id := range roots {
		require.NoError(t, s.Erase(id))
	}
	require.NoError(t, s.RemoveDefinition(chair))
	assert.False(t, s.HasDefinition(chair))
	// Nested definition loses its users but stays registered
	assert.True(t, s.HasDefinition(leg))
	assert.Equal(t, 0, s.InstanceCount(leg))
	require.NoError(t, s.Verify())
}

func TestPurgeUnusedDefinitionsFixpoint(t *testing.T) {
	s, _, _, roots := buildChair(t)
	for _, id := range roots {
		require.NoError(t, s.Erase(id))
	}

	n, err := s.PurgeUnusedDefinitions()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, s.Definitions())
	assert.Equal(t, 0, s.Stats().Entities)
}

func TestPurgeMaterialsAndLayers(t *testing.T) {
	s, _, _, _ := buildChair(t)
	require.NoError(t, s.AddMaterial("Steel", ""))
	require.NoError(t, s.AddLayer("Hidden"))
	require.NoError(t, s.AddLayer("Walls"))
	_, err := s.AddEdge(RootID)
	require.NoError(t, err)
	_, err = s.AddEntity(RootID, Entity{Kind: KindEdge, Layer: "Walls"})
	require.NoError(t, err)

	assert.Equal(t, 1, s.PurgeUnusedMaterials())
	assert.Equal(t, []string{"Wood"}, s.Materials())

	assert.Equal(t, 1, s.PurgeUnusedLayers())
	assert.Equal(t, []string{DefaultLayer, "Walls"}, s.Layers())
}

func TestPurgeStrayImages(t *testing.T) {
	s := New()
	require.NoError(t, s.AddImageResource("logo.png"))
	require.NoError(t, s.AddImageResource("unused.png"))
	require.NoError(t, s.AddImageResource("gone.png"))
	kept, err := s.AddImage(RootID, "logo.png")
	require.NoError(t, err)
	stray, err := s.AddImage(RootID, "gone.png")
	require.NoError(t, err)
	s.RemoveImageResource("gone.png")

	n, err := s.PurgeStrayImages()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, s.Valid(kept))
	assert.False(t, s.Valid(stray))
	assert.Equal(t, []string{"logo.png"}, s.ImageResources())
}

func TestAtomicAbortRestores(t *testing.T) {
	s, chair, _, roots := buildChair(t)
	before := s.Stats()

	tx, err := s.Begin("Deep Delete", true)
	require.NoError(t, err)
	require.NoError(t, s.Erase(roots[0]))
	_, err = s.CloneDefinition(chair)
	require.NoError(t, err)
	require.NoError(t, tx.Abort())

	assert.Equal(t, before, s.Stats())
	assert.True(t, s.Valid(roots[0]))
	assert.Equal(t, 2, s.InstanceCount(chair))
	assert.Equal(t, uint64(0), s.Revision())
	assert.False(t, s.InTransaction())
}

func TestNonAtomicAbortKeepsChanges(t *testing.T) {
	s, _, _, roots := buildChair(t)

	tx, err := s.Begin("cleanup", false)
	require.NoError(t, err)
	require.NoError(t, s.Erase(roots[0]))
	require.NoError(t, tx.Abort())

	assert.False(t, s.Valid(roots[0]))
}

func TestCommit(t *testing.T) {
	s, _, _, roots := buildChair(t)

	tx, err := s.Begin("Purge unused materials", true)
	require.NoError(t, err)
	require.NoError(t, s.Erase(roots[1]))
	require.NoError(t, tx.Commit())

	assert.Equal(t, uint64(1), s.Revision())
	assert.Equal(t, []string{"Purge unused materials"}, s.History())
	assert.ErrorIs(t, tx.Commit(), ErrTransactionClosed)
	assert.ErrorIs(t, tx.Abort(), ErrTransactionClosed)
}

func TestSingleOpenTransaction(t *testing.T) {
	s := New()
	tx, err := s.Begin("first", true)
	require.NoError(t, err)

	_, err = s.Begin("second", true)
	assert.ErrorIs(t, err, ErrTransactionOpen)

	require.NoError(t, tx.Abort())
	tx, err = s.Begin("second", true)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
}

func TestCommitHookFailureKeepsTransactionOpen(t *testing.T) {
	s, _, _, roots := buildChair(t)
	boom := errors.New("disk full")
	s.SetCommitHook(func(label string) error {
		if label == "Deep Delete" {
			return boom
		}
		return nil
	})

	tx, err := s.Begin("Deep Delete", true)
	require.NoError(t, err)
	require.NoError(t, s.Erase(roots[0]))

	err = tx.Commit()
	require.ErrorIs(t, err, boom)
	assert.True(t, s.InTransaction())

	require.NoError(t, tx.Abort())
	assert.True(t, s.Valid(roots[0]))
	assert.Empty(t, s.History())
}

func TestSelectionIsNotTransactional(t *testing.T) {
	s, _, _, roots := buildChair(t)

	tx, err := s.Begin("select", true)
	require.NoError(t, err)
	s.Selection.Add(roots...)
	require.NoError(t, tx.Abort())

	assert.Equal(t, 2, s.Selection.Len())
}

func TestSelection(t *testing.T) {
	sel := NewSelection()
	sel.Add(3, 1, 3, 2)
	assert.Equal(t, []EntityID{3, 1, 2}, sel.Snapshot())
	assert.True(t, sel.Contains(1))

	sel.Remove(1)
	assert.Equal(t, []EntityID{3, 2}, sel.Snapshot())
	assert.False(t, sel.Contains(1))

	snap := sel.Snapshot()
	sel.Clear()
	assert.Equal(t, 0, sel.Len())
	assert.Len(t, snap, 2)
}

func TestKindText(t *testing.T) {
	for _, k := range []Kind{KindFace, KindEdge, KindImage, KindInstance, KindGroup} {
		text, err := k.MarshalText()
		require.NoError(t, err)
		var back Kind
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, k, back)
	}
	_, err := ParseKind("vertex")
	assert.Error(t, err)
}

func TestSetMaterial(t *testing.T) {
	s, chair, _, _ := buildChair(t)
	face := s.Content(chair)[0]
	require.NoError(t, s.AddMaterial("Red", "#ff0000"))

	require.NoError(t, s.SetMaterial(face, "Red"))
	e, _ := s.Entity(face)
	assert.Equal(t, "Red", e.Material)

	assert.ErrorIs(t, s.SetMaterial(face, "Blue"), ErrUnknownMaterial)
	assert.ErrorIs(t, s.SetMaterial(9999, "Red"), ErrInvalidEntity)

	require.NoError(t, s.SetMaterial(face, ""))
	e, _ = s.Entity(face)
	assert.Empty(t, e.Material)
}
