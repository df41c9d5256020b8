package scene

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDocument = `
materials:
  - name: Wood
    color: "#8b5a2b"
  - name: Chrome
layers: [Furniture, Hidden]
images: [logo.png]
definitions:
  - name: Chair
    content:
      - kind: face
        material: Wood
      - kind: instance
        definition: Leg
        name: leg1
      - kind: instance
        definition: Leg
        name: leg2
  - name: Leg
    content:
      - kind: face
        material: Wood
  - name: Orphan
model:
  - kind: instance
    definition: Chair
    name: chairA
    layer: Furniture
  - kind: instance
    definition: Chair
    name: chairB
    transform: [1, 0, 0, 0, 1, 0, 0, 0, 1, 100, 0, 0]
  - kind: group
    name: table
    content:
      - kind: face
      - kind: edge
  - kind: image
    image: logo.png
selection: [chairA]
`

func TestReadDocument(t *testing.T) {
	s, err := ReadDocument(strings.NewReader(sampleDocument))
	require.NoError(t, err)

	chair, ok := s.FindDefinition("Chair")
	require.True(t, ok)
	leg, ok := s.FindDefinition("Leg")
	require.True(t, ok)
	orphan, ok := s.FindDefinition("Orphan")
	require.True(t, ok)

	assert.Equal(t, 2, s.InstanceCount(chair))
	assert.Equal(t, 2, s.InstanceCount(leg))
	assert.Equal(t, 0, s.InstanceCount(orphan))
	assert.Equal(t, []string{"Chrome", "Wood"}, s.Materials())
	assert.Equal(t, []string{"Furniture", "Hidden", DefaultLayer}, s.Layers())
	assert.Len(t, s.Content(RootID), 4)

	b := s.FindByName("chairB")
	require.Len(t, b, 1)
	e, _ := s.Entity(b[0])
	assert.Equal(t, 100.0, e.Transform[9])

	table := s.FindByName("table")
	require.Len(t, table, 1)
	e, _ = s.Entity(table[0])
	assert.Equal(t, KindGroup, e.Kind)
	info, _ := s.Definition(e.Definition)
	assert.True(t, info.Group)
	assert.Len(t, info.Content, 2)

	assert.Equal(t, s.FindByName("chairA"), s.Selection.Snapshot())
	require.NoError(t, s.Verify())
}

func TestReadDocumentErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{
			name: "unknown definition",
			doc:  "model:\n  - kind: instance\n    definition: Missing\n",
			want: ErrUnknownDefinition,
		},
		{
			name: "duplicate definition",
			doc:  "definitions:\n  - name: A\n  - name: A\nmodel: []\n",
			want: ErrDuplicateName,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadDocument(strings.NewReader(tt.doc))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := ReadDocument(strings.NewReader("model:\n  - kind: vertex\n"))
	assert.Error(t, err)
}

func TestWriteDocumentRoundTrip(t *testing.T) {
	s, err := ReadDocument(strings.NewReader(sampleDocument))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteDocument(&buf, s))

	back, err := ReadDocument(&buf)
	require.NoError(t, err)
	assert.Equal(t, s.Stats(), back.Stats())
	assert.Equal(t, len(s.Selection.Snapshot()), len(back.Selection.Snapshot()))

	chair, ok := back.FindDefinition("Chair")
	require.True(t, ok)
	assert.Equal(t, 2, back.InstanceCount(chair))
}

func TestWriteDocumentSharedGroup(t *testing.T) {
	s := New()
	_, group, err := s.AddGroup(RootID, "bracket")
	require.NoError(t, err)
	_, err = s.AddEdge(group)
	require.NoError(t, err)
	// A second use of the same group definition forces a named entry
	_, err = s.AddEntity(RootID, Entity{Kind: KindGroup, Definition: group})
	require.NoError(t, err)

	doc := ToDocument(s)
	require.Len(t, doc.Definitions, 1)
	assert.True(t, doc.Definitions[0].Group)
	assert.Equal(t, "bracket", doc.Model[0].Definition)

	back, err := FromDocument(doc)
	require.NoError(t, err)
	def, ok := back.FindDefinition("bracket")
	require.True(t, ok)
	assert.Equal(t, 2, back.InstanceCount(def))
}
