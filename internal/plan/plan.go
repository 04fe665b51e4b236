// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package plan implements fngraph's InstructionPlanner: given an
// ancestor DAG, a cache backend, and a requested output set, it
// classifies every node as CALCULATE, RETRIEVE, or IGNORE and emits
// them in topological order, per spec.md 4.4.
//
// This is a direct translation of the teacher's own
// original_source/fn_graph/calculation.py get_execution_instructions
// and maintain_cache_consistency, from NetworkX set algebra over a
// networkx.DiGraph to BFS-based ancestor/descendant sets over
// internal/dag.Graph.
package plan

import (
	"sort"

	"github.com/fngraph/fngraph/internal/cache"
	"github.com/fngraph/fngraph/internal/dag"
)

// Instruction classifies one node for one calculate call.
type Instruction int

const (
	Calculate Instruction = iota
	Retrieve
	Ignore
)

func (i Instruction) String() string {
	switch i {
	case Calculate:
		return "CALCULATE"
	case Retrieve:
		return "RETRIEVE"
	case Ignore:
		return "IGNORE"
	default:
		return "UNKNOWN"
	}
}

// Step is one node's instruction in the emitted plan.
type Step struct {
	Node        string
	Instruction Instruction
}

// Build computes the instruction stream for g (expected to already be
// restricted to the ancestor DAG of outputs), consulting backend.Valid
// for every node's current signature (supplied via signatures), and
// performing the required descendant-invalidation side effect on
// backend before returning.
func Build(g *dag.Graph, backend cache.Backend, signatures map[string][]byte, outputs []string) ([]Step, error) {
	order, err := g.TopologicalOrder(func(a, b dag.Vertex) bool {
		return a.(string) < b.(string)
	})
	if err != nil {
		return nil, err
	}

	directInvalid := make(map[string]bool)
	for _, v := range order {
		name := v.(string)
		node := cache.Node{Name: name, Signature: signatures[name]}
		if !backend.Valid(node) {
			directInvalid[name] = true
		}
	}

	directInvalidVerts := make([]dag.Vertex, 0, len(directInvalid))
	for name := range directInvalid {
		directInvalidVerts = append(directInvalidVerts, name)
	}
	descendants := g.Descendants(directInvalidVerts)

	invalid := make(map[string]bool, len(directInvalid)+len(descendants))
	for name := range directInvalid {
		invalid[name] = true
	}
	for _, v := range descendants {
		invalid[v.(string)] = true
	}

	outputSet := make(map[string]bool, len(outputs))
	for _, o := range outputs {
		outputSet[o] = true
	}

	mustRetrieve := make(map[string]bool)
	for _, v := range order {
		name := v.(string)
		if invalid[name] {
			continue
		}
		needed := outputSet[name]
		if !needed {
			for _, succ := range g.Successors(name) {
				if invalid[succ.(string)] {
					needed = true
					break
				}
			}
		}
		if needed {
			mustRetrieve[name] = true
		}
	}

	// Descendant invalidation side effect: a node invalid only because
	// an ancestor changed (not directly invalid itself) must have its
	// stale cache entry dropped so backend state stays consistent with
	// this plan. Directly invalid nodes are left alone; CALCULATE will
	// overwrite them.
	var toInvalidate []string
	for name := range invalid {
		if !directInvalid[name] {
			toInvalidate = append(toInvalidate, name)
		}
	}
	sort.Strings(toInvalidate)
	for _, name := range toInvalidate {
		if err := backend.Invalidate(name); err != nil {
			return nil, err
		}
	}

	steps := make([]Step, 0, len(order))
	for _, v := range order {
		name := v.(string)
		var instr Instruction
		switch {
		case invalid[name]:
			instr = Calculate
		case mustRetrieve[name]:
			instr = Retrieve
		default:
			instr = Ignore
		}
		steps = append(steps, Step{Node: name, Instruction: instr})
	}
	return steps, nil
}
