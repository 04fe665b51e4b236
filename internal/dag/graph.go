// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package dag implements a small directed graph suitable for the
// topological scheduling fngraph needs: vertex/edge storage, a
// [Graph.TopologicalOrder] with deterministic tie-breaking, ancestor and
// descendant set computation, and single-representative cycle detection.
//
// The vertex/edge shape here (a [Hashable] marker plus [BasicEdge]-style
// edges with [Edge.Source]/[Edge.Target] and the [Graph.VerticesSeq]/
// [Graph.EdgesSeq] iterators) matches what package graphviz expects,
// so that package continues to work against this one unmodified.
package dag

import (
	"fmt"
	"iter"
	"sort"
)

// Vertex is any value that can be stored as a graph node. In practice
// fngraph always uses plain node-name strings as vertices.
type Vertex any

// Hashable is implemented by vertex types that want to control their own
// identity within a [Graph], rather than being compared by Go equality.
type Hashable interface {
	Hashcode() any
}

func hashcode(v Vertex) any {
	if h, ok := v.(Hashable); ok {
		return h.Hashcode()
	}
	return v
}

// Edge connects a source vertex to a target vertex.
type Edge interface {
	Source() Vertex
	Target() Vertex
}

type basicEdge struct {
	s, t Vertex
}

func (e basicEdge) Source() Vertex { return e.s }
func (e basicEdge) Target() Vertex { return e.t }

// BasicEdge returns the default [Edge] implementation connecting source to
// target.
func BasicEdge(source, target Vertex) Edge {
	return basicEdge{s: source, t: target}
}

// Graph is a directed graph of [Vertex] values connected by [Edge] values.
// The zero value is an empty, ready-to-use graph.
type Graph struct {
	vertices map[any]Vertex
	out      map[any]map[any]Edge // source hashcode -> target hashcode -> edge
	in       map[any]map[any]Edge // target hashcode -> source hashcode -> edge
}

func (g *Graph) init() {
	if g.vertices == nil {
		g.vertices = make(map[any]Vertex)
		g.out = make(map[any]map[any]Edge)
		g.in = make(map[any]map[any]Edge)
	}
}

// Add inserts a vertex into the graph, returning it back for convenience.
func (g *Graph) Add(v Vertex) Vertex {
	g.init()
	g.vertices[hashcode(v)] = v
	if _, ok := g.out[hashcode(v)]; !ok {
		g.out[hashcode(v)] = make(map[any]Edge)
	}
	if _, ok := g.in[hashcode(v)]; !ok {
		g.in[hashcode(v)] = make(map[any]Edge)
	}
	return v
}

// Remove deletes a vertex and all edges touching it.
func (g *Graph) Remove(v Vertex) {
	g.init()
	h := hashcode(v)
	for src := range g.in[h] {
		delete(g.out[src], h)
	}
	for tgt := range g.out[h] {
		delete(g.in[tgt], h)
	}
	delete(g.vertices, h)
	delete(g.out, h)
	delete(g.in, h)
}

// HasVertex reports whether v (compared by hashcode) is present.
func (g *Graph) HasVertex(v Vertex) bool {
	g.init()
	_, ok := g.vertices[hashcode(v)]
	return ok
}

// Connect adds an edge, implicitly adding its source and target vertices
// if they are not already present.
func (g *Graph) Connect(e Edge) {
	g.init()
	src, tgt := e.Source(), e.Target()
	g.Add(src)
	g.Add(tgt)
	g.out[hashcode(src)][hashcode(tgt)] = e
	g.in[hashcode(tgt)][hashcode(src)] = e
}

// RemoveEdge removes an edge, if present. The endpoint vertices are left
// in the graph.
func (g *Graph) RemoveEdge(e Edge) {
	g.init()
	delete(g.out[hashcode(e.Source())], hashcode(e.Target()))
	delete(g.in[hashcode(e.Target())], hashcode(e.Source()))
}

// HasEdge reports whether an edge with the given source/target exists.
func (g *Graph) HasEdge(source, target Vertex) bool {
	g.init()
	_, ok := g.out[hashcode(source)][hashcode(target)]
	return ok
}

// Len returns the number of vertices in the graph.
func (g *Graph) Len() int {
	g.init()
	return len(g.vertices)
}

// VerticesSeq iterates over every vertex in the graph, in unspecified
// order.
func (g *Graph) VerticesSeq() iter.Seq[Vertex] {
	g.init()
	return func(yield func(Vertex) bool) {
		for _, v := range g.vertices {
			if !yield(v) {
				return
			}
		}
	}
}

// EdgesSeq iterates over every edge in the graph, in unspecified order.
func (g *Graph) EdgesSeq() iter.Seq[Edge] {
	g.init()
	return func(yield func(Edge) bool) {
		for _, byTarget := range g.out {
			for _, e := range byTarget {
				if !yield(e) {
					return
				}
			}
		}
	}
}

// Successors returns the direct successors (out-edges) of v.
func (g *Graph) Successors(v Vertex) []Vertex {
	g.init()
	out := make([]Vertex, 0, len(g.out[hashcode(v)]))
	for h := range g.out[hashcode(v)] {
		out = append(out, g.vertices[h])
	}
	return out
}

// Predecessors returns the direct predecessors (in-edges) of v.
func (g *Graph) Predecessors(v Vertex) []Vertex {
	g.init()
	out := make([]Vertex, 0, len(g.in[hashcode(v)]))
	for h := range g.in[hashcode(v)] {
		out = append(out, g.vertices[h])
	}
	return out
}

// TopologicalOrder returns every vertex in topological order (producers
// before consumers), with ties broken by less, for determinism. less
// must impose a strict weak ordering over the vertices; fngraph
// always passes a lexicographic string comparison since its vertices are
// node-name strings.
//
// It returns an error naming one representative cycle if the graph is not
// acyclic.
func (g *Graph) TopologicalOrder(less func(a, b Vertex) bool) ([]Vertex, error) {
	g.init()

	indegree := make(map[any]int, len(g.vertices))
	for h := range g.vertices {
		indegree[h] = len(g.in[h])
	}

	ready := make([]Vertex, 0, len(g.vertices))
	for h, v := range g.vertices {
		if indegree[h] == 0 {
			ready = append(ready, v)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })

	order := make([]Vertex, 0, len(g.vertices))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		var newlyReady []Vertex
		for h := range g.out[hashcode(next)] {
			indegree[h]--
			if indegree[h] == 0 {
				newlyReady = append(newlyReady, g.vertices[h])
			}
		}
		sort.Slice(newlyReady, func(i, j int) bool { return less(newlyReady[i], newlyReady[j]) })

		merged := make([]Vertex, 0, len(ready)+len(newlyReady))
		i, j := 0, 0
		for i < len(ready) && j < len(newlyReady) {
			if less(ready[i], newlyReady[j]) {
				merged = append(merged, ready[i])
				i++
			} else {
				merged = append(merged, newlyReady[j])
				j++
			}
		}
		merged = append(merged, ready[i:]...)
		merged = append(merged, newlyReady[j:]...)
		ready = merged
	}

	if len(order) != len(g.vertices) {
		cycle, _ := g.Cycle()
		return nil, fmt.Errorf("graph contains a cycle: %v", cycle)
	}

	return order, nil
}

// Cycle searches the graph for one representative cycle via depth-first
// back-edge detection. It returns (nil, false) if the graph is acyclic.
func (g *Graph) Cycle() ([]Vertex, bool) {
	g.init()

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[any]int, len(g.vertices))
	parent := make(map[any]any)

	var order []any
	for h := range g.vertices {
		order = append(order, h)
	}
	sort.Slice(order, func(i, j int) bool { return fmt.Sprint(order[i]) < fmt.Sprint(order[j]) })

	var cycleAt any
	var stack []any

	var visit func(h any) bool
	visit = func(h any) bool {
		state[h] = visiting
		stack = append(stack, h)
		var next []any
		for n := range g.out[h] {
			next = append(next, n)
		}
		sort.Slice(next, func(i, j int) bool { return fmt.Sprint(next[i]) < fmt.Sprint(next[j]) })
		for _, n := range next {
			switch state[n] {
			case unvisited:
				parent[n] = h
				if visit(n) {
					return true
				}
			case visiting:
				cycleAt = n
				return true
			}
		}
		stack = stack[:len(stack)-1]
		state[h] = done
		return false
	}

	for _, h := range order {
		if state[h] == unvisited {
			if visit(h) {
				// Walk back from the point where we re-entered a vertex
				// already on the stack, reconstructing the cycle.
				var cycle []Vertex
				cur := stack[len(stack)-1]
				for {
					cycle = append([]Vertex{g.vertices[cur]}, cycle...)
					if cur == cycleAt {
						break
					}
					cur = parent[cur]
				}
				return cycle, true
			}
		}
	}
	return nil, false
}

// Ancestors returns the set of vertices (by hashcode) that are transitive
// predecessors of any of the given starting vertices. A starting vertex
// is included only when it is itself a transitive predecessor of a
// starting vertex (another one, or itself through a cycle).
func (g *Graph) Ancestors(start []Vertex) map[any]Vertex {
	g.init()
	seen := make(map[any]Vertex)
	queue := append([]Vertex(nil), start...)
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for h := range g.in[hashcode(v)] {
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = g.vertices[h]
			queue = append(queue, g.vertices[h])
		}
	}
	return seen
}

// Descendants returns the set of vertices (by hashcode) that are
// transitive successors of any of the given starting vertices. A
// starting vertex is included only when it is itself a transitive
// successor of a starting vertex (another one, or itself through a
// cycle).
func (g *Graph) Descendants(start []Vertex) map[any]Vertex {
	g.init()
	seen := make(map[any]Vertex)
	queue := append([]Vertex(nil), start...)
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for h := range g.out[hashcode(v)] {
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = g.vertices[h]
			queue = append(queue, g.vertices[h])
		}
	}
	return seen
}

// Subgraph returns a new [Graph] containing only the given vertices and
// the edges between them.
func (g *Graph) Subgraph(keep map[any]Vertex) *Graph {
	g.init()
	sub := &Graph{}
	for _, v := range keep {
		sub.Add(v)
	}
	for h, byTarget := range g.out {
		if _, ok := keep[h]; !ok {
			continue
		}
		for th, e := range byTarget {
			if _, ok := keep[th]; !ok {
				continue
			}
			sub.Connect(e)
		}
	}
	return sub
}
