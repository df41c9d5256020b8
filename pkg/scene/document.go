package scene

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ErrRecursiveDefinition is returned when a definition contains itself,
// directly or through nested instances.
var ErrRecursiveDefinition = errors.New("scene: recursive definition")

// Document is the YAML form of a scene. Definitions are referenced by name;
// groups with a single instance are written inline.
type Document struct {
	Materials   []Material        `yaml:"materials,omitempty"`
	Layers      []string          `yaml:"layers,omitempty"`
	Images      []string          `yaml:"images,omitempty"`
	Definitions []DocumentDef     `yaml:"definitions,omitempty"`
	Model       []DocumentEntity  `yaml:"model"`
	Selection   []string          `yaml:"selection,omitempty"`
	Meta        map[string]string `yaml:"meta,omitempty"`
}

// DocumentDef is a named definition
type DocumentDef struct {
	Name    string           `yaml:"name"`
	Group   bool             `yaml:"group,omitempty"`
	Content []DocumentEntity `yaml:"content,omitempty"`
}

// DocumentEntity is one entity. Instances name their definition; groups
// either carry inline content or name a shared group definition.
type DocumentEntity struct {
	Kind       Kind             `yaml:"kind"`
	Name       string           `yaml:"name,omitempty"`
	Definition string           `yaml:"definition,omitempty"`
	Material   string           `yaml:"material,omitempty"`
	Layer      string           `yaml:"layer,omitempty"`
	Image      string           `yaml:"image,omitempty"`
	Transform  []float64        `yaml:"transform,omitempty,flow"`
	Content    []DocumentEntity `yaml:"content,omitempty"`
}

// LoadFile reads a scene document from disk
func LoadFile(path string) (*Scene, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scene document: %w", err)
	}
	defer f.Close()

	s, err := ReadDocument(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// SaveFile writes a scene document to disk
func SaveFile(s *Scene, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create scene document: %w", err)
	}
	if err := WriteDocument(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadDocument decodes a YAML document into a new scene. Entity ids are
// assigned in document order.
func ReadDocument(r io.Reader) (*Scene, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse scene document: %w", err)
	}
	return FromDocument(&doc)
}

// FromDocument builds a scene from a decoded document
func FromDocument(doc *Document) (*Scene, error) {
	s := New()
	for _, m := range doc.Materials {
		if err := s.AddMaterial(m.Name, m.Color); err != nil {
			return nil, err
		}
	}
	for _, name := range doc.Layers {
		if name == DefaultLayer {
			continue
		}
		if err := s.AddLayer(name); err != nil {
			return nil, err
		}
	}
	for _, name := range doc.Images {
		if err := s.AddImageResource(name); err != nil {
			return nil, err
		}
	}

	b := &docBuilder{scene: s, byName: make(map[string]DefinitionID)}
	// Register names first so content may reference definitions declared later
	for _, d := range doc.Definitions {
		if _, exists := b.byName[d.Name]; exists {
			return nil, fmt.Errorf("definition %q: %w", d.Name, ErrDuplicateName)
		}
		b.byName[d.Name] = s.AddDefinition(d.Name, d.Group)
	}
	for _, d := range doc.Definitions {
		if err := b.addAll(b.byName[d.Name], d.Content); err != nil {
			return nil, fmt.Errorf("definition %q: %w", d.Name, err)
		}
	}
	if err := b.addAll(RootID, doc.Model); err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}

	for _, name := range doc.Selection {
		s.Selection.Add(s.FindByName(name)...)
	}
	return s, nil
}

type docBuilder struct {
	scene  *Scene
	byName map[string]DefinitionID
}

func (b *docBuilder) addAll(parent DefinitionID, entities []DocumentEntity) error {
	for i, de := range entities {
		if err := b.add(parent, de); err != nil {
			return fmt.Errorf("entity %d: %w", i, err)
		}
	}
	return nil
}

func (b *docBuilder) add(parent DefinitionID, de DocumentEntity) error {
	e := Entity{
		Kind:      de.Kind,
		Name:      de.Name,
		Material:  de.Material,
		Layer:     de.Layer,
		Image:     de.Image,
		Transform: Identity,
	}
	if len(de.Transform) > 0 {
		if len(de.Transform) != len(e.Transform) {
			return fmt.Errorf("transform needs %d values, got %d", len(e.Transform), len(de.Transform))
		}
		copy(e.Transform[:], de.Transform)
	}
	if e.Layer != "" {
		if _, ok := b.scene.st.layers[e.Layer]; !ok {
			if err := b.scene.AddLayer(e.Layer); err != nil {
				return err
			}
		}
	}

	switch {
	case de.Kind == KindGroup && de.Definition == "":
		def := b.scene.AddDefinition(de.Name, true)
		if err := b.addAll(def, de.Content); err != nil {
			return err
		}
		e.Definition = def
	case de.Kind.IsInstance():
		def, ok := b.byName[de.Definition]
		if !ok {
			return fmt.Errorf("definition %q: %w", de.Definition, ErrUnknownDefinition)
		}
		e.Definition = def
	}

	_, err := b.scene.AddEntity(parent, e)
	return err
}

// WriteDocument encodes the scene as YAML
func WriteDocument(w io.Writer, s *Scene) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(ToDocument(s)); err != nil {
		return fmt.Errorf("failed to encode scene document: %w", err)
	}
	return enc.Close()
}

// ToDocument converts a scene into its document form
func ToDocument(s *Scene) *Document {
	doc := &Document{
		Images: s.ImageResources(),
	}
	for _, name := range s.Materials() {
		doc.Materials = append(doc.Materials, *s.st.materials[name])
	}
	for _, name := range s.Layers() {
		if name != DefaultLayer {
			doc.Layers = append(doc.Layers, name)
		}
	}

	w := &docWriter{scene: s, names: make(map[DefinitionID]string)}
	used := make(map[string]bool)
	for _, id := range s.Definitions() {
		d := s.st.definitions[id]
		if w.inline(d) {
			continue
		}
		name := d.Name
		if used[name] {
			name = d.Name + "@" + strconv.FormatUint(uint64(id), 10)
		}
		used[name] = true
		w.names[id] = name
	}
	for _, id := range s.Definitions() {
		name, ok := w.names[id]
		if !ok {
			continue
		}
		d := s.st.definitions[id]
		doc.Definitions = append(doc.Definitions, DocumentDef{
			Name:    name,
			Group:   d.Group,
			Content: w.entities(d.content),
		})
	}
	doc.Model = w.entities(s.st.root)

	seen := make(map[string]bool)
	for _, id := range s.Selection.Snapshot() {
		if e, ok := s.st.entities[id]; ok && e.Name != "" && !seen[e.Name] {
			seen[e.Name] = true
			doc.Selection = append(doc.Selection, e.Name)
		}
	}
	return doc
}

type docWriter struct {
	scene *Scene
	names map[DefinitionID]string
}

// inline reports whether a group definition is written at its single use site
func (w *docWriter) inline(d *Definition) bool {
	return d.Group && len(d.instances) == 1
}

func (w *docWriter) entities(ids []EntityID) []DocumentEntity {
	out := make([]DocumentEntity, 0, len(ids))
	for _, id := range ids {
		e, ok := w.scene.st.entities[id]
		if !ok {
			continue
		}
		de := DocumentEntity{
			Kind:     e.Kind,
			Name:     e.Name,
			Material: e.Material,
			Image:    e.Image,
		}
		if e.Layer != DefaultLayer {
			de.Layer = e.Layer
		}
		if e.Kind.IsInstance() && e.Transform != Identity {
			de.Transform = append([]float64(nil), e.Transform[:]...)
		}
		if e.Kind.IsInstance() {
			d := w.scene.st.definitions[e.Definition]
			if d != nil && w.inline(d) {
				de.Content = w.entities(d.content)
			} else {
				de.Definition = w.names[e.Definition]
			}
		}
		out = append(out, de)
	}
	return out
}
