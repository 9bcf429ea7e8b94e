package graph_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/signalnine/shardrun/internal/graph"
)

func TestFindCycleAcyclic(t *testing.T) {
	c := &graph.Node{Name: "c"}
	b := &graph.Node{Name: "b", Outs: []*graph.Node{c}}
	a := &graph.Node{Name: "a", Outs: []*graph.Node{b, c}}
	if cycle := graph.New([]*graph.Node{c, b, a}).FindCycle(); cycle != nil {
		t.Errorf("expected no cycle, got %v", graph.Names(cycle))
	}
}

func TestFindCycleEmpty(t *testing.T) {
	if cycle := graph.New(nil).FindCycle(); cycle != nil {
		t.Errorf("expected no cycle, got %v", graph.Names(cycle))
	}
}

func TestFindCycleSelfLoop(t *testing.T) {
	a := &graph.Node{Name: "a"}
	a.Outs = []*graph.Node{a}
	got := graph.Names(graph.New([]*graph.Node{a}).FindCycle())
	if diff := cmp.Diff([]string{"a", "a"}, got); diff != "" {
		t.Errorf("cycle mismatch (-want +got):\n%s", diff)
	}
}

func TestFindCycleWithSource(t *testing.T) {
	// a -> b -> c -> b
	b := &graph.Node{Name: "b"}
	c := &graph.Node{Name: "c", Outs: []*graph.Node{b}}
	b.Outs = []*graph.Node{c}
	a := &graph.Node{Name: "a", Outs: []*graph.Node{b}}
	got := graph.Names(graph.New([]*graph.Node{c, b, a}).FindCycle())
	if diff := cmp.Diff([]string{"b", "c", "b"}, got); diff != "" {
		t.Errorf("cycle mismatch (-want +got):\n%s", diff)
	}
}

func TestFindCycleNoSourceStartsAtFirstName(t *testing.T) {
	// x -> y -> z -> x with no source; the search starts at x.
	x := &graph.Node{Name: "x"}
	y := &graph.Node{Name: "y"}
	z := &graph.Node{Name: "z"}
	x.Outs = []*graph.Node{y}
	y.Outs = []*graph.Node{z}
	z.Outs = []*graph.Node{x}
	got := graph.Names(graph.New([]*graph.Node{z, y, x}).FindCycle())
	if diff := cmp.Diff([]string{"x", "y", "z", "x"}, got); diff != "" {
		t.Errorf("cycle mismatch (-want +got):\n%s", diff)
	}
}

func TestFindCycleOutEdgesVisitedInNameOrder(t *testing.T) {
	// a has two cycles back to itself; the one through "b" is found first.
	a := &graph.Node{Name: "a"}
	b := &graph.Node{Name: "b", Outs: []*graph.Node{a}}
	c := &graph.Node{Name: "c", Outs: []*graph.Node{a}}
	a.Outs = []*graph.Node{c, b}
	got := graph.Names(graph.New([]*graph.Node{a, b, c}).FindCycle())
	if diff := cmp.Diff([]string{"a", "b", "a"}, got); diff != "" {
		t.Errorf("cycle mismatch (-want +got):\n%s", diff)
	}
}

func TestNewLeavesCallerSlicesUnsorted(t *testing.T) {
	a := &graph.Node{Name: "a"}
	b := &graph.Node{Name: "b"}
	c := &graph.Node{Name: "c"}
	a.Outs = []*graph.Node{c, b}
	nodes := []*graph.Node{c, a, b}

	g := graph.New(nodes)
	if cycle := g.FindCycle(); cycle != nil {
		t.Errorf("expected no cycle, got %v", graph.Names(cycle))
	}
	if diff := cmp.Diff([]string{"c", "a", "b"}, graph.Names(nodes)); diff != "" {
		t.Errorf("nodes reordered (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"c", "b"}, graph.Names(a.Outs)); diff != "" {
		t.Errorf("out edges reordered (-want +got):\n%s", diff)
	}
}
