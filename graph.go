// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package fngraph

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/zclconf/go-cty/cty"
	ctymsgpack "github.com/zclconf/go-cty/cty/msgpack"

	"github.com/fngraph/fngraph/internal/cache"
	"github.com/fngraph/fngraph/internal/collections"
	"github.com/fngraph/fngraph/internal/dag"
	"github.com/fngraph/fngraph/internal/dag/graphviz"
	"github.com/fngraph/fngraph/internal/exec"
	"github.com/fngraph/fngraph/internal/fndiags"
	"github.com/fngraph/fngraph/internal/resolve"
)

// namesSet returns the set of every registered producer name, the
// universe NameResolver candidate walks search against.
func (c Composer) namesSet() collections.Set[string] {
	set := make(collections.Set[string], len(c.functions))
	for name := range c.functions {
		set[name] = struct{}{}
	}
	return set
}

// bindingsFor resolves one consumer node's parameter descriptors to
// producer node names, per spec.md 4.1. unbound lists every formal
// parameter name that had no default and did not resolve.
func (c Composer) bindingsFor(consumerName string, params []ParamDescriptor) (bindings []exec.Binding, unbound []string) {
	functionsSet := c.namesSet()
	for _, d := range params {
		switch d.Kind {
		case VariadicPositional, VariadicKeyword:
			for _, m := range resolve.ResolveVariadic(consumerName, d.Name, functionsSet) {
				bindings = append(bindings, exec.Binding{
					Param: d.Name, Kind: d.Kind, Producer: m.Node, Name: m.Suffix,
				})
			}
		default:
			// No link table: links are reached through the identity nodes
			// Composer.Link installs, so their targets resolve namespace-relatively.
			producer, ok := resolve.Resolve(consumerName, d.Name, functionsSet, nil)
			if ok {
				bindings = append(bindings, exec.Binding{Param: d.Name, Kind: d.Kind, Producer: producer})
			} else if !d.HasDefault {
				unbound = append(unbound, d.Name)
			}
		}
	}
	return bindings, unbound
}

// buildBindings resolves every function node's parameter descriptors to
// producer node names, per spec.md 4.1, returning one []exec.Binding
// per consumer plus any unbound-reference diagnostics.
func (c Composer) buildBindings() (map[string][]exec.Binding, fndiags.Diagnostics) {
	bindings := make(map[string][]exec.Binding, len(c.functions))
	unboundReferers := make(map[string][]string)

	for _, name := range sortedKeys(c.functions) {
		n := c.functions[name]
		bs, unbound := c.bindingsFor(name, n.params)
		if len(bs) > 0 {
			bindings[name] = bs
		}
		for _, u := range unbound {
			unboundReferers[u] = append(unboundReferers[u], name)
		}
	}

	var diags fndiags.Diagnostics
	for _, unbound := range sortedKeys(unboundReferers) {
		referers := unboundReferers[unbound]
		sort.Strings(referers)
		diags = append(diags, fndiags.Diagnostic{
			Severity: fndiags.Error,
			Kind:     fndiags.KindUnbound,
			Message:  fmt.Sprintf("unbound reference %q required by %v", unbound, referers),
			Function: unbound,
			Referers: referers,
		})
	}
	return bindings, diags
}

// buildGraph constructs the full DAG over every registered function
// node (spec.md 4.2's build_full), resolving edges via buildBindings
// and appending a cycle diagnostic, if any, to the unbound diagnostics
// buildBindings already found.
func (c Composer) buildGraph() (*dag.Graph, map[string][]exec.Binding, fndiags.Diagnostics) {
	g := &dag.Graph{}
	for name := range c.functions {
		g.Add(name)
	}

	bindings, diags := c.buildBindings()
	for _, consumer := range sortedKeys(bindings) {
		for _, b := range bindings[consumer] {
			g.Connect(dag.BasicEdge(b.Producer, consumer))
		}
	}

	if cyc, found := g.Cycle(); found {
		names := make([]string, len(cyc))
		for i, v := range cyc {
			names[i] = v.(string)
		}
		diags = append(diags, fndiags.Diagnostic{
			Severity: fndiags.Error,
			Kind:     fndiags.KindCycle,
			Message:  fmt.Sprintf("dependency cycle: %v", names),
			Nodes:    names,
		})
	}
	return g, bindings, diags
}

// ancestorSubgraph restricts g to outputs together with their
// transitive ancestors (spec.md 4.2's ancestors(outputs)).
func ancestorSubgraph(g *dag.Graph, outputs []string) (*dag.Graph, map[any]dag.Vertex) {
	start := make([]dag.Vertex, len(outputs))
	for i, o := range outputs {
		start[i] = o
	}
	anc := g.Ancestors(start)
	keep := make(map[any]dag.Vertex, len(anc)+len(outputs))
	for k, v := range anc {
		keep[k] = v
	}
	for _, o := range outputs {
		keep[o] = o
	}
	return g.Subgraph(keep), keep
}

// Check returns the diagnostic stream for the full DAG (outputs == nil
// or empty) or for the ancestor sub-DAG of outputs, per spec.md 4.6.
func (c Composer) Check(outputs ...string) (fndiags.Diagnostics, error) {
	g, _, diags := c.buildGraph()
	if len(outputs) == 0 {
		return diags, nil
	}
	for _, o := range outputs {
		if !g.HasVertex(o) {
			return nil, &UnknownOutputError{Name: o}
		}
	}
	_, keep := ancestorSubgraph(g, outputs)
	keepNames := make(map[string]bool, len(keep))
	for _, v := range keep {
		keepNames[v.(string)] = true
	}

	var filtered fndiags.Diagnostics
	for _, d := range diags {
		switch d.Kind {
		case fndiags.KindCycle:
			for _, n := range d.Nodes {
				if keepNames[n] {
					filtered = append(filtered, d)
					break
				}
			}
		case fndiags.KindUnbound:
			var referers []string
			for _, r := range d.Referers {
				if keepNames[r] {
					referers = append(referers, r)
				}
			}
			if len(referers) > 0 {
				d2 := d
				d2.Referers = referers
				filtered = append(filtered, d2)
			}
		}
	}
	return filtered, nil
}

// DebugDOT writes a Graphviz-language rendering of the full dependency
// graph (or, with outputs given, its ancestor sub-graph) to w, one node
// per registered function plus one edge per resolved binding. Function
// nodes and parameter nodes are shaded differently so a reader can spot
// the inputs at a glance.
func (c Composer) DebugDOT(w io.Writer, outputs ...string) error {
	g, _, _ := c.buildGraph()
	if len(outputs) > 0 {
		g, _ = ancestorSubgraph(g, outputs)
	}

	vg := &dag.Graph{}
	for v := range g.VerticesSeq() {
		name := v.(string)
		attrs := graphviz.Attributes{}
		if n, ok := c.functions[name]; ok && n.kind == kindParameter {
			attrs["style"] = graphviz.Val("filled")
			attrs["fillcolor"] = graphviz.Val("lightgray")
		}
		vg.Add(graphviz.Node{ID: name, Attrs: attrs})
	}
	for e := range g.EdgesSeq() {
		vg.Connect(dag.BasicEdge(
			graphviz.Node{ID: e.Source().(string)},
			graphviz.Node{ID: e.Target().(string)},
		))
	}

	gv := &graphviz.Graph{
		Content:          vg,
		DefaultNodeAttrs: graphviz.Attributes{"shape": graphviz.Val("box")},
	}
	return graphviz.WriteDirectedGraph(gv, w)
}

// signatureFor computes n's content signature per spec.md 4.3: a
// Parameter hashes its value, a Link hashes its comma-joined formal
// parameter names (here always a single name: its target as passed to
// Link), and
// a Function hashes its content tag, or a source_map override if one
// is registered for its name.
func (c Composer) signatureFor(n node) []byte {
	switch n.kind {
	case kindParameter:
		// cty.DynamicPseudoType lets Marshal encode any cty.Value
		// self-describingly, without the signature needing to know
		// the parameter's declared type up front — the same call
		// shape the teacher's own execgraph marshaling uses for a
		// value of statically unknown type.
		encoded, err := ctymsgpack.Marshal(n.value, cty.DynamicPseudoType)
		if err != nil {
			encoded = []byte(fmt.Sprintf("%s:%v", n.declaredType.FriendlyName(), ctyToNative(n.value)))
		}
		if c.fastIdentity {
			return cache.HashContentFast(encoded)
		}
		return cache.HashContent(encoded)
	case kindLink:
		names := make([]string, len(n.params))
		for i, p := range n.params {
			names[i] = p.Name
		}
		return cache.HashContent([]byte(strings.Join(names, ",")))
	default:
		text := n.contentTag
		if override, ok := c.sourceMap[n.name]; ok {
			text = override
		}
		return cache.HashContent([]byte(text))
	}
}
