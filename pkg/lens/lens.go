// Package lens narrows the scene graph to the neighbourhood of focused
// nodes and diffs successive views so clients can update incrementally.
package lens

import "github.com/ritzau/scene-maint/pkg/model"

// Infinite is the distance of nodes the focus does not reach. As a depth
// it means "no limit".
const Infinite = -1

// Config defines which part of the graph a view shows
type Config struct {
	Focus     []string         `json:"focus"`               // Node IDs at distance 0
	Depth     int              `json:"depth"`               // Maximum distance shown, or Infinite
	EdgeTypes []model.EdgeType `json:"edgeTypes,omitempty"` // Edges followed and kept; empty means all
}

// Full reports whether the config shows the whole graph
func (c Config) Full() bool {
	return len(c.Focus) == 0
}

func (c Config) follows(t model.EdgeType) bool {
	if len(c.EdgeTypes) == 0 {
		return true
	}
	for _, et := range c.EdgeTypes {
		if et == t {
			return true
		}
	}
	return false
}

func (c Config) within(d int) bool {
	if d == Infinite {
		return false
	}
	return c.Depth == Infinite || d <= c.Depth
}
