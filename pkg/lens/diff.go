package lens

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/ritzau/scene-maint/pkg/model"
)

// GraphDiff represents the difference between two graph views
type GraphDiff struct {
	AddedNodes    []*model.Node `json:"addedNodes"`
	RemovedNodes  []string      `json:"removedNodes"`  // Node IDs
	ModifiedNodes []*model.Node `json:"modifiedNodes"` // Nodes with changed properties
	AddedEdges    []*model.Edge `json:"addedEdges"`
	RemovedEdges  []string      `json:"removedEdges"` // Edge keys (source|target|type)
	FullGraph     bool          `json:"fullGraph"`    // True if this is a full graph, not a diff
}

// Empty reports whether the diff changes nothing
func (d *GraphDiff) Empty() bool {
	return !d.FullGraph && len(d.AddedNodes) == 0 && len(d.RemovedNodes) == 0 &&
		len(d.ModifiedNodes) == 0 && len(d.AddedEdges) == 0 && len(d.RemovedEdges) == 0
}

// GraphSnapshot is a cached view state for diffing
type GraphSnapshot struct {
	Hash     string
	Revision uint64
	Nodes    map[string]*model.Node
	Edges    map[string]*model.Edge
}

// CreateSnapshot indexes a view and hashes its content
func CreateSnapshot(g *model.Graph) *GraphSnapshot {
	snapshot := &GraphSnapshot{
		Revision: g.Revision,
		Nodes:    make(map[string]*model.Node, len(g.Nodes)),
		Edges:    make(map[string]*model.Edge, len(g.Edges)),
	}
	for id, n := range g.Nodes {
		snapshot.Nodes[id] = n
	}
	for _, e := range g.Edges {
		snapshot.Edges[edgeKey(e)] = e
	}

	// Maps marshal with sorted keys, so equal views hash equally
	data, _ := json.Marshal(struct {
		Nodes map[string]*model.Node
		Edges map[string]*model.Edge
	}{snapshot.Nodes, snapshot.Edges})
	snapshot.Hash = fmt.Sprintf("%x", sha256.Sum256(data))
	return snapshot
}

// ComputeDiff computes the difference between a snapshot and a newer view.
// Without an old snapshot the whole view is returned as added.
func ComputeDiff(old *GraphSnapshot, g *model.Graph) *GraphDiff {
	diff := &GraphDiff{
		AddedNodes:    make([]*model.Node, 0),
		RemovedNodes:  make([]string, 0),
		ModifiedNodes: make([]*model.Node, 0),
		AddedEdges:    make([]*model.Edge, 0),
		RemovedEdges:  make([]string, 0),
	}
	if old == nil {
		diff.FullGraph = true
		old = &GraphSnapshot{}
	}

	newEdges := make(map[string]*model.Edge, len(g.Edges))
	for _, e := range g.Edges {
		newEdges[edgeKey(e)] = e
	}

	for id, n := range g.Nodes {
		prev, exists := old.Nodes[id]
		switch {
		case !exists:
			diff.AddedNodes = append(diff.AddedNodes, n)
		case !nodesEqual(prev, n):
			diff.ModifiedNodes = append(diff.ModifiedNodes, n)
		}
	}
	for id := range old.Nodes {
		if _, exists := g.Nodes[id]; !exists {
			diff.RemovedNodes = append(diff.RemovedNodes, id)
		}
	}
	for key, e := range newEdges {
		if _, exists := old.Edges[key]; !exists {
			diff.AddedEdges = append(diff.AddedEdges, e)
		}
	}
	for key := range old.Edges {
		if _, exists := newEdges[key]; !exists {
			diff.RemovedEdges = append(diff.RemovedEdges, key)
		}
	}

	sortNodes(diff.AddedNodes)
	sortNodes(diff.ModifiedNodes)
	sort.Strings(diff.RemovedNodes)
	sort.Slice(diff.AddedEdges, func(i, j int) bool {
		return edgeKey(diff.AddedEdges[i]) < edgeKey(diff.AddedEdges[j])
	})
	sort.Strings(diff.RemovedEdges)
	return diff
}

func sortNodes(nodes []*model.Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
}

// edgeKey creates a unique key for an edge
func edgeKey(e *model.Edge) string {
	return fmt.Sprintf("%s|%s|%s", e.Source, e.Target, e.Type)
}

// nodesEqual compares structure and metadata, which carries instance
// counts and selection state
func nodesEqual(a, b *model.Node) bool {
	return a.ID == b.ID &&
		a.Label == b.Label &&
		a.Type == b.Type &&
		a.Parent == b.Parent &&
		reflect.DeepEqual(a.Metadata, b.Metadata)
}

// Cache keeps the most recent snapshots by hash
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    []string
	byHash   map[string]*GraphSnapshot
}

// NewCache creates a cache holding up to capacity snapshots
func NewCache(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{capacity: capacity, byHash: make(map[string]*GraphSnapshot)}
}

// Get returns the snapshot with the given hash
func (c *Cache) Get(hash string) (*GraphSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.byHash[hash]
	return s, ok
}

// Put stores a snapshot, evicting the oldest when full
func (c *Cache) Put(s *GraphSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byHash[s.Hash]; ok {
		return
	}
	if len(c.order) == c.capacity {
		delete(c.byHash, c.order[0])
		c.order = c.order[1:]
	}
	c.order = append(c.order, s.Hash)
	c.byHash[s.Hash] = s
}

// Len returns the number of cached snapshots
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}
