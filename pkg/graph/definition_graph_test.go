package graph

import (
	"testing"

	"github.com/ritzau/scene-maint/pkg/scene"
)

func TestNewDefinitionGraph(t *testing.T) {
	dg := NewDefinitionGraph()
	if !dg.Has(scene.RootID) {
		t.Fatal("new graph should contain the model root")
	}
	if got := dg.Graph().Nodes().Len(); got != 1 {
		t.Errorf("Expected 1 node, got %d", got)
	}
}

func TestAddBinding(t *testing.T) {
	dg := NewDefinitionGraph()

	dg.AddBinding(scene.RootID, 1)
	dg.AddBinding(scene.RootID, 1) // parallel binding
	dg.AddBinding(1, 2)

	if got := len(dg.Edges()); got != 2 {
		t.Errorf("Expected 2 edges, got %d", got)
	}
	if got := dg.Children(scene.RootID); len(got) != 1 || got[0] != 1 {
		t.Errorf("Expected root children [1], got %v", got)
	}
	if got := dg.Containers(2); len(got) != 1 || got[0] != 1 {
		t.Errorf("Expected containers of 2 to be [1], got %v", got)
	}
}

func TestSelfBinding(t *testing.T) {
	dg := NewDefinitionGraph()
	dg.AddBinding(3, 3)

	if !dg.SelfBound(3) {
		t.Error("Expected definition 3 to be self bound")
	}
	if got := dg.SelfBindings(); len(got) != 1 || got[0] != 3 {
		t.Errorf("Expected self bindings [3], got %v", got)
	}
	if edges := dg.Edges(); len(edges) != 1 || edges[0] != [2]scene.DefinitionID{3, 3} {
		t.Errorf("Expected edge [3 3], got %v", edges)
	}
}

func TestBuildAndReachability(t *testing.T) {
	s := scene.New()
	leg := s.AddDefinition("Leg", false)
	chair := s.AddDefinition("Chair", false)
	spare := s.AddDefinition("Spare", false)
	mustAdd(t, s, chair, leg)
	mustAdd(t, s, chair, leg)
	mustAdd(t, s, spare, leg)
	mustAdd(t, s, scene.RootID, chair)

	dg := Build(s)

	reached := dg.ReachableFrom(chair)
	if !reached[chair] || !reached[leg] || reached[spare] {
		t.Errorf("Unexpected reachable set from Chair: %v", reached)
	}

	live := dg.Live()
	if len(live) != 2 || !live[chair] || !live[leg] {
		t.Errorf("Expected Chair and Leg live, got %v", live)
	}
	if live[spare] {
		t.Error("Spare is not placed anywhere and should not be live")
	}

	containers := dg.Containers(leg)
	if len(containers) != 2 {
		t.Errorf("Expected Leg to have 2 containers, got %v", containers)
	}

	if got := dg.ReachableFrom(99); len(got) != 0 {
		t.Errorf("Expected unknown definition to reach nothing, got %v", got)
	}
}

func mustAdd(t *testing.T, s *scene.Scene, parent, def scene.DefinitionID) scene.EntityID {
	t.Helper()
	id, err := s.AddInstance(parent, def, "")
	if err != nil {
		t.Fatalf("AddInstance failed: %v", err)
	}
	return id
}
