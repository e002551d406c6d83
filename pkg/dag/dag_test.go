package dag

import (
	"errors"
	"slices"
	"testing"
)

func TestTopologicalSortEmptyGraph(t *testing.T) {
	g := New()
	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order != nil {
		t.Errorf("expected nil, got %v", order)
	}
}

func TestTopologicalSortLinearChain(t *testing.T) {
	g := New()
	g.AddEdge("A", "B")
	g.AddEdge("B", "C")

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(order, []string{"A", "B", "C"}) {
		t.Errorf("got %v", order)
	}
}

func TestTopologicalSortDiamond(t *testing.T) {
	g := New()
	g.AddEdge("A", "B")
	g.AddEdge("A", "C")
	g.AddEdge("B", "D")
	g.AddEdge("C", "D")

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order[0] != "A" || order[3] != "D" {
		t.Errorf("got %v", order)
	}
}

func TestTopologicalSortDeterministicTies(t *testing.T) {
	g := New()
	g.AddNode("B")
	g.AddNode("A")
	g.AddNode("C")

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(order, []string{"B", "A", "C"}) {
		t.Errorf("ties must keep insertion order, got %v", order)
	}
}

func TestTopologicalSortCycle(t *testing.T) {
	g := New()
	g.AddEdge("A", "B")
	g.AddEdge("B", "A")

	_, err := g.TopologicalSort()
	var cerr *CycleError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if len(cerr.Cycle) == 0 {
		t.Error("cycle error must name nodes")
	}
}
