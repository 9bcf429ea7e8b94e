// Package graph finds cycles in small directed graphs such as build system
// dependency declarations.
package graph

import "sort"

type Node struct {
	Name string
	Outs []*Node
}

func (n *Node) String() string { return n.Name }

type Graph struct {
	nodes []*Node
	outs  map[*Node][]*Node
}

// New returns a graph over nodes. Nodes and their out edges are visited in
// name order, so the result of FindCycle is deterministic. The caller's
// slices are left in their original order.
func New(nodes []*Node) *Graph {
	return &Graph{nodes: sortedCopy(nodes), outs: map[*Node][]*Node{}}
}

func sortedCopy(nodes []*Node) []*Node {
	sorted := append([]*Node(nil), nodes...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return sorted
}

func (g *Graph) sortedOuts(n *Node) []*Node {
	outs, ok := g.outs[n]
	if !ok {
		outs = sortedCopy(n.Outs)
		g.outs[n] = outs
	}
	return outs
}

// FindCycle returns a cycle as a path that begins and ends with the same
// node ([A, B, A]), or nil if the graph is acyclic.
//
// The search does not backtrack to nodes before its starting point, so in a
// component with no source node the reported cycle depends on which node
// sorts first and need not be the smallest one.
func (g *Graph) FindCycle() []*Node {
	visited := map[*Node]bool{}
	for _, n := range g.nodes {
		if cycle := g.findCycleFrom(n, visited, nil); cycle != nil {
			return cycle
		}
	}
	return nil
}

func (g *Graph) findCycleFrom(n *Node, visited map[*Node]bool, path []*Node) []*Node {
	for i, p := range path {
		if p == n {
			cycle := append([]*Node(nil), path[i:]...)
			return append(cycle, n)
		}
	}
	if visited[n] {
		return nil
	}
	visited[n] = true
	path = append(path, n)
	for _, out := range g.sortedOuts(n) {
		if cycle := g.findCycleFrom(out, visited, path); cycle != nil {
			return cycle
		}
	}
	return nil
}

// Names is a convenience for reporting a cycle.
func Names(nodes []*Node) []string {
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.Name
	}
	return names
}
