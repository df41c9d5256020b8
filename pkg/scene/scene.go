// Package scene implements the host-side scene graph: an arena of entities,
// a registry of shared component definitions, and the transaction primitive
// used by the maintenance operations.
//
// A Scene is not safe for concurrent use. Callers serialize access through
// a single writer (see pkg/host).
package scene

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrInvalidEntity is returned for stale or unknown entity handles.
	ErrInvalidEntity = errors.New("scene: invalid entity")

	// ErrNotInstance is returned when an instance operation targets a non-instance entity.
	ErrNotInstance = errors.New("scene: entity is not an instance")

	// ErrUnknownDefinition is returned for unknown definition handles.
	ErrUnknownDefinition = errors.New("scene: unknown definition")

	// ErrDefinitionInUse is returned when removing a definition that still has instances.
	ErrDefinitionInUse = errors.New("scene: definition in use")

	// ErrDuplicateName is returned when a named resource already exists.
	ErrDuplicateName = errors.New("scene: duplicate name")

	// ErrUnknownMaterial is returned when painting with an unregistered material.
	ErrUnknownMaterial = errors.New("scene: unknown material")
)

// state is everything a transaction can roll back
type state struct {
	entities       map[EntityID]*Entity
	definitions    map[DefinitionID]*Definition
	root           []EntityID
	materials      map[string]*Material
	layers         map[string]*Layer
	images         map[string]*ImageResource
	nextEntity     EntityID
	nextDefinition DefinitionID
	cloneSeq       map[string]int
}

func newState() *state {
	return &state{
		entities:       make(map[EntityID]*Entity),
		definitions:    make(map[DefinitionID]*Definition),
		materials:      make(map[string]*Material),
		layers:         map[string]*Layer{DefaultLayer: {Name: DefaultLayer}},
		images:         make(map[string]*ImageResource),
		nextEntity:     1,
		nextDefinition: 1,
		cloneSeq:       make(map[string]int),
	}
}

func (st *state) clone() *state {
	c := &state{
		entities:       make(map[EntityID]*Entity, len(st.entities)),
		definitions:    make(map[DefinitionID]*Definition, len(st.definitions)),
		root:           append([]EntityID(nil), st.root...),
		materials:      make(map[string]*Material, len(st.materials)),
		layers:         make(map[string]*Layer, len(st.layers)),
		images:         make(map[string]*ImageResource, len(st.images)),
		nextEntity:     st.nextEntity,
		nextDefinition: st.nextDefinition,
		cloneSeq:       make(map[string]int, len(st.cloneSeq)),
	}
	for id, e := range st.entities {
		cp := *e
		c.entities[id] = &cp
	}
	for id, d := range st.definitions {
		cp := &Definition{
			ID:        d.ID,
			Name:      d.Name,
			Group:     d.Group,
			content:   append([]EntityID(nil), d.content...),
			instances: make(map[EntityID]struct{}, len(d.instances)),
		}
		for inst := range d.instances {
			cp.instances[inst] = struct{}{}
		}
		c.definitions[id] = cp
	}
	for name, m := range st.materials {
		cp := *m
		c.materials[name] = &cp
	}
	for name, l := range st.layers {
		cp := *l
		c.layers[name] = &cp
	}
	for name, img := range st.images {
		cp := *img
		c.images[name] = &cp
	}
	for name, n := range st.cloneSeq {
		c.cloneSeq[name] = n
	}
	return c
}

// Scene is the mutable scene graph owned by the host
type Scene struct {
	st         *state
	tx         *Transaction
	commitHook func(label string) error
	revision   uint64
	history    []string

	// Selection is host-owned and transient; transactions do not roll it back.
	Selection *Selection
}

// New creates an empty scene containing only the default layer
func New() *Scene {
	return &Scene{
		st:        newState(),
		Selection: NewSelection(),
	}
}

// SetCommitHook installs a function consulted by every commit.
// A non-nil error from the hook fails the commit.
func (s *Scene) SetCommitHook(hook func(label string) error) {
	s.commitHook = hook
}

// Revision counts committed transactions
func (s *Scene) Revision() uint64 {
	return s.revision
}

// History returns the labels of committed transactions, oldest first
func (s *Scene) History() []string {
	return append([]string(nil), s.history...)
}

// AddDefinition registers a new, empty definition
func (s *Scene) AddDefinition(name string, group bool) DefinitionID {
	id := s.st.nextDefinition
	s.st.nextDefinition++
	s.st.definitions[id] = &Definition{
		ID:        id,
		Name:      name,
		Group:     group,
		instances: make(map[EntityID]struct{}),
	}
	return id
}

// AddMaterial registers a material
func (s *Scene) AddMaterial(name, color string) error {
	if _, exists := s.st.materials[name]; exists {
		return fmt.Errorf("material %q: %w", name, ErrDuplicateName)
	}
	s.st.materials[name] = &Material{Name: name, Color: color}
	return nil
}

// AddLayer registers a layer
func (s *Scene) AddLayer(name string) error {
	if _, exists := s.st.layers[name]; exists {
		return fmt.Errorf("layer %q: %w", name, ErrDuplicateName)
	}
	s.st.layers[name] = &Layer{Name: name}
	return nil
}

// AddImageResource registers backing data for image entities
func (s *Scene) AddImageResource(name string) error {
	if _, exists := s.st.images[name]; exists {
		return fmt.Errorf("image %q: %w", name, ErrDuplicateName)
	}
	s.st.images[name] = &ImageResource{Name: name}
	return nil
}

// AddEntity places a copy of e into the parent container and returns its new handle.
// Instance kinds bind e.Definition, which must exist.
func (s *Scene) AddEntity(parent DefinitionID, e Entity) (EntityID, error) {
	if parent != RootID {
		if _, ok := s.st.definitions[parent]; !ok {
			return 0, fmt.Errorf("parent %d: %w", parent, ErrUnknownDefinition)
		}
	}
	var def *Definition
	if e.Kind.IsInstance() {
		d, ok := s.st.definitions[e.Definition]
		if !ok {
			return 0, fmt.Errorf("definition %d: %w", e.Definition, ErrUnknownDefinition)
		}
		def = d
	} else {
		e.Definition = 0
	}
	if e.Layer == "" {
		e.Layer = DefaultLayer
	}

	e.ID = s.st.nextEntity
	s.st.nextEntity++
	e.Parent = parent
	stored := e
	s.st.entities[e.ID] = &stored
	s.appendContent(parent, e.ID)
	if def != nil {
		def.instances[e.ID] = struct{}{}
	}
	return e.ID, nil
}

// AddFace places a face into a container
func (s *Scene) AddFace(parent DefinitionID, material, layer string) (EntityID, error) {
	return s.AddEntity(parent, Entity{Kind: KindFace, Material: material, Layer: layer})
}

// AddEdge places an edge into a container
func (s *Scene) AddEdge(parent DefinitionID) (EntityID, error) {
	return s.AddEntity(parent, Entity{Kind: KindEdge})
}

// AddImage places an image entity backed by the named resource
func (s *Scene) AddImage(parent DefinitionID, resource string) (EntityID, error) {
	return s.AddEntity(parent, Entity{Kind: KindImage, Image: resource})
}

// AddInstance places a component instance of def into a container
func (s *Scene) AddInstance(parent, def DefinitionID, name string) (EntityID, error) {
	return s.AddEntity(parent, Entity{Kind: KindInstance, Definition: def, Name: name, Transform: Identity})
}

// AddGroup creates a group definition and its single instance
func (s *Scene) AddGroup(parent DefinitionID, name string) (EntityID, DefinitionID, error) {
	def := s.AddDefinition(name, true)
	id, err := s.AddEntity(parent, Entity{Kind: KindGroup, Definition: def, Name: name, Transform: Identity})
	if err != nil {
		delete(s.st.definitions, def)
		return 0, 0, err
	}
	return id, def, nil
}

func (s *Scene) appendContent(parent DefinitionID, id EntityID) {
	if parent == RootID {
		s.st.root = append(s.st.root, id)
		return
	}
	d := s.st.definitions[parent]
	d.content = append(d.content, id)
}

func (s *Scene) removeContent(parent DefinitionID, id EntityID) {
	list := &s.st.root
	if parent != RootID {
		d, ok := s.st.definitions[parent]
		if !ok {
			return
		}
		list = &d.content
	}
	for i, cur := range *list {
		if cur == id {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
}

// Valid reports whether the handle refers to a live entity
func (s *Scene) Valid(id EntityID) bool {
	_, ok := s.st.entities[id]
	return ok
}

// Entity returns a copy of the entity
func (s *Scene) Entity(id EntityID) (Entity, bool) {
	e, ok := s.st.entities[id]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

// HasDefinition reports whether the definition is in the registry
func (s *Scene) HasDefinition(def DefinitionID) bool {
	_, ok := s.st.definitions[def]
	return ok
}

// Definition returns a copy of a definition's bookkeeping
func (s *Scene) Definition(def DefinitionID) (DefinitionInfo, bool) {
	d, ok := s.st.definitions[def]
	if !ok {
		return DefinitionInfo{}, false
	}
	return DefinitionInfo{
		ID:            d.ID,
		Name:          d.Name,
		Group:         d.Group,
		Content:       append([]EntityID(nil), d.content...),
		InstanceCount: len(d.instances),
	}, true
}

// Content returns the entities directly inside a container, in order
func (s *Scene) Content(parent DefinitionID) []EntityID {
	if parent == RootID {
		return append([]EntityID(nil), s.st.root...)
	}
	d, ok := s.st.definitions[parent]
	if !ok {
		return nil
	}
	return append([]EntityID(nil), d.content...)
}

// DefinitionOf returns the definition an instance or group binds
func (s *Scene) DefinitionOf(id EntityID) (DefinitionID, error) {
	e, ok := s.st.entities[id]
	if !ok {
		return 0, fmt.Errorf("entity %d: %w", id, ErrInvalidEntity)
	}
	if !e.Kind.IsInstance() {
		return 0, fmt.Errorf("entity %d (%s): %w", id, e.Kind, ErrNotInstance)
	}
	return e.Definition, nil
}

// InstanceCount returns how many instances bind the definition
func (s *Scene) InstanceCount(def DefinitionID) int {
	d, ok := s.st.definitions[def]
	if !ok {
		return 0
	}
	return len(d.instances)
}

// Instances returns the instances binding a definition, sorted by id
func (s *Scene) Instances(def DefinitionID) []EntityID {
	d, ok := s.st.definitions[def]
	if !ok {
		return nil
	}
	ids := make([]EntityID, 0, len(d.instances))
	for id := range d.instances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Definitions returns all registered definitions, sorted by id
func (s *Scene) Definitions() []DefinitionID {
	ids := make([]DefinitionID, 0, len(s.st.definitions))
	for id := range s.st.definitions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// FindByName returns every entity with the given name, sorted by id
func (s *Scene) FindByName(name string) []EntityID {
	var ids []EntityID
	for id, e := range s.st.entities {
		if e.Name == name {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// FindDefinition returns the first definition with the given name
func (s *Scene) FindDefinition(name string) (DefinitionID, bool) {
	for _, id := range s.Definitions() {
		if s.st.definitions[id].Name == name {
			return id, true
		}
	}
	return 0, false
}

// Materials returns material names, sorted
func (s *Scene) Materials() []string {
	return sortedKeys(s.st.materials)
}

// Layers returns layer names, sorted
func (s *Scene) Layers() []string {
	return sortedKeys(s.st.layers)
}

// ImageResources returns image resource names, sorted
func (s *Scene) ImageResources() []string {
	return sortedKeys(s.st.images)
}

// Material looks up a material by name
func (s *Scene) Material(name string) (Material, bool) {
	m, ok := s.st.materials[name]
	if !ok {
		return Material{}, false
	}
	return *m, true
}

// Stats summarizes the scene
func (s *Scene) Stats() Stats {
	return Stats{
		Entities:    len(s.st.entities),
		Definitions: len(s.st.definitions),
		Materials:   len(s.st.materials),
		Layers:      len(s.st.layers),
		Images:      len(s.st.images),
	}
}

// Erase removes an entity. Erasing an instance releases its definition handle;
// the definition and its content are left alone.
func (s *Scene) Erase(id EntityID) error {
	e, ok := s.st.entities[id]
	if !ok {
		return fmt.Errorf("erase %d: %w", id, ErrInvalidEntity)
	}
	if e.Kind.IsInstance() {
		if d, ok := s.st.definitions[e.Definition]; ok {
			delete(d.instances, id)
		}
	}
	s.removeContent(e.Parent, id)
	delete(s.st.entities, id)
	return nil
}

// SetDefinition rebinds an instance to another definition
func (s *Scene) SetDefinition(id EntityID, def DefinitionID) error {
	e, ok := s.st.entities[id]
	if !ok {
		return fmt.Errorf("rebind %d: %w", id, ErrInvalidEntity)
	}
	if !e.Kind.IsInstance() {
		return fmt.Errorf("rebind %d (%s): %w", id, e.Kind, ErrNotInstance)
	}
	target, ok := s.st.definitions[def]
	if !ok {
		return fmt.Errorf("rebind %d to %d: %w", id, def, ErrUnknownDefinition)
	}
	if old, ok := s.st.definitions[e.Definition]; ok {
		delete(old.instances, id)
	}
	e.Definition = def
	target.instances[id] = struct{}{}
	return nil
}

// SetMaterial paints a face or edge. An empty name clears the material.
func (s *Scene) SetMaterial(id EntityID, material string) error {
	e, ok := s.st.entities[id]
	if !ok {
		return fmt.Errorf("paint %d: %w", id, ErrInvalidEntity)
	}
	if material != "" {
		if _, ok := s.st.materials[material]; !ok {
			return fmt.Errorf("paint %d with %q: %w", id, material, ErrUnknownMaterial)
		}
	}
	e.Material = material
	return nil
}

// CloneDefinition copies a definition and its content under fresh handles.
// Instances inside the copy bind the same nested definitions as the original.
func (s *Scene) CloneDefinition(def DefinitionID) (DefinitionID, error) {
	src, ok := s.st.definitions[def]
	if !ok {
		return 0, fmt.Errorf("clone %d: %w", def, ErrUnknownDefinition)
	}
	s.st.cloneSeq[src.Name]++
	name := fmt.Sprintf("%s#%d", src.Name, s.st.cloneSeq[src.Name])
	id := s.AddDefinition(name, src.Group)

	for _, child := range src.content {
		e, ok := s.st.entities[child]
		if !ok {
			continue
		}
		if _, err := s.AddEntity(id, *e); err != nil {
			return 0, fmt.Errorf("clone %d: copy entity %d: %w", def, child, err)
		}
	}
	return id, nil
}

// RemoveDefinition drops an unused definition from the registry, erasing its
// content. Nested definitions lose those instances but are not removed.
func (s *Scene) RemoveDefinition(def DefinitionID) error {
	d, ok := s.st.definitions[def]
	if !ok {
		return fmt.Errorf("remove %d: %w", def, ErrUnknownDefinition)
	}
	if len(d.instances) > 0 {
		return fmt.Errorf("remove %q (%d instances): %w", d.Name, len(d.instances), ErrDefinitionInUse)
	}
	for _, child := range append([]EntityID(nil), d.content...) {
		if err := s.Erase(child); err != nil {
			return err
		}
	}
	delete(s.st.definitions, def)
	return nil
}

// PurgeUnusedDefinitions removes definitions without instances until none remain
func (s *Scene) PurgeUnusedDefinitions() (int, error) {
	removed := 0
	for {
		var unused []DefinitionID
		for _, id := range s.Definitions() {
			if len(s.st.definitions[id].instances) == 0 {
				unused = append(unused, id)
			}
		}
		if len(unused) == 0 {
			return removed, nil
		}
		for _, id := range unused {
			if err := s.RemoveDefinition(id); err != nil {
				return removed, err
			}
			removed++
		}
	}
}

// PurgeUnusedMaterials removes materials no entity references
func (s *Scene) PurgeUnusedMaterials() int {
	used := make(map[string]bool)
	for _, e := range s.st.entities {
		if e.Material != "" {
			used[e.Material] = true
		}
	}
	removed := 0
	for name := range s.st.materials {
		if !used[name] {
			delete(s.st.materials, name)
			removed++
		}
	}
	return removed
}

// PurgeUnusedLayers removes layers no entity references, keeping the default layer
func (s *Scene) PurgeUnusedLayers() int {
	used := map[string]bool{DefaultLayer: true}
	for _, e := range s.st.entities {
		used[e.Layer] = true
	}
	removed := 0
	for name := range s.st.layers {
		if !used[name] {
			delete(s.st.layers, name)
			removed++
		}
	}
	return removed
}

// PurgeStrayImages erases image entities whose resource is gone, then drops
// image resources no entity uses. It returns the total number removed.
func (s *Scene) PurgeStrayImages() (int, error) {
	removed := 0
	used := make(map[string]bool)
	ids := make([]EntityID, 0)
	for id := range s.st.entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		e := s.st.entities[id]
		if e.Kind != KindImage {
			continue
		}
		if _, ok := s.st.images[e.Image]; ok {
			used[e.Image] = true
			continue
		}
		if err := s.Erase(id); err != nil {
			return removed, err
		}
		removed++
	}
	for name := range s.st.images {
		if !used[name] {
			delete(s.st.images, name)
			removed++
		}
	}
	return removed, nil
}

// RemoveImageResource drops backing data, leaving its image entities stray
func (s *Scene) RemoveImageResource(name string) {
	delete(s.st.images, name)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
