package scene

import (
	"fmt"
	"strings"
)

// EntityID is a handle to an entity in the scene arena
type EntityID uint64

// DefinitionID is a handle to a definition in the registry
type DefinitionID uint64

// RootID is the model-level container. Real definitions start at 1.
const RootID DefinitionID = 0

// Kind represents the type of a scene entity
type Kind int

const (
	KindFace Kind = iota
	KindEdge
	KindImage
	KindInstance // Component instance
	KindGroup    // Anonymous definition + instance pair
)

var kindNames = map[Kind]string{
	KindFace:     "face",
	KindEdge:     "edge",
	KindImage:    "image",
	KindInstance: "instance",
	KindGroup:    "group",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// IsInstance reports whether entities of this kind reference a definition
func (k Kind) IsInstance() bool {
	return k == KindInstance || k == KindGroup
}

// ParseKind converts a kind name back to a Kind
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(name, s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown entity kind %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Transform is a placement matrix (3x3 rotation/scale + translation).
// It is carried along verbatim; nothing here does geometry.
type Transform [12]float64

// Identity is the identity placement
var Identity = Transform{1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0}

// Entity is a node in the scene graph
type Entity struct {
	ID         EntityID     `json:"id"`
	Kind       Kind         `json:"kind"`
	Name       string       `json:"name,omitempty"`
	Parent     DefinitionID `json:"parent"`               // Container (RootID for model level)
	Definition DefinitionID `json:"definition,omitempty"` // Instance kinds only
	Material   string       `json:"material,omitempty"`
	Layer      string       `json:"layer,omitempty"`
	Image      string       `json:"image,omitempty"` // Image resource, KindImage only
	Transform  Transform    `json:"-"`
}

// Definition is a reusable geometry template
type Definition struct {
	ID        DefinitionID
	Name      string
	Group     bool
	content   []EntityID
	instances map[EntityID]struct{}
}

// DefinitionInfo is a read-only copy of a definition's bookkeeping
type DefinitionInfo struct {
	ID            DefinitionID `json:"id"`
	Name          string       `json:"name"`
	Group         bool         `json:"group"`
	Content       []EntityID   `json:"content"`
	InstanceCount int          `json:"instanceCount"`
}

// Material is a named surface appearance
type Material struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Layer is a named visibility tag
type Layer struct {
	Name string `json:"name"`
}

// DefaultLayer is always present and never purged
const DefaultLayer = "Layer0"

// ImageResource is the backing data of image entities
type ImageResource struct {
	Name string `json:"name"`
}

// Stats summarizes the size of a scene
type Stats struct {
	Entities    int `json:"entities"`
	Definitions int `json:"definitions"`
	Materials   int `json:"materials"`
	Layers      int `json:"layers"`
	Images      int `json:"images"`
}
