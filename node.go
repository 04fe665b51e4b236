// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package fngraph

import (
	"github.com/zclconf/go-cty/cty"

	"github.com/fngraph/fngraph/internal/exec"
)

// ParamKind classifies one formal parameter of a registered function.
// Go cannot recover a compiled function's parameter names at runtime,
// so every FuncSpec spells them out explicitly instead of relying
// on introspection.
type ParamKind = exec.ParamKind

const (
	PositionalOnly      = exec.PositionalOnly
	PositionalOrKeyword = exec.PositionalOrKeyword
	KeywordOnly         = exec.KeywordOnly
	VariadicPositional  = exec.VariadicPositional
	VariadicKeyword     = exec.VariadicKeyword
)

// ParamDescriptor describes one formal parameter of a registered
// function: its name (used for dependency resolution), its kind, and
// whether a missing resolution should fall back to Default rather than
// become an unbound reference.
type ParamDescriptor struct {
	Name       string
	Kind       ParamKind
	HasDefault bool
	Default    any
}

// Func is a callable registered on a Composer. *exec.Call exposes the
// resolved arguments according to each parameter's kind — the
// idiomatic substitute for Python's *args/**kwargs coalescing.
type Func func(call *exec.Call) (any, error)

// nodeKind distinguishes the three tagged-variant node shapes from
// spec.md's data model (Function, Parameter, Link). Parameter nodes
// also get a nullary Function entry installed alongside them (the
// registry duplication spec.md's invariant 2 requires), so by the time
// the graph builder sees the function registry, every vertex is
// uniformly callable.
type nodeKind int

const (
	kindFunction nodeKind = iota
	kindParameter
	kindLink
)

// node is the internal representation of one producer in a Composer's
// function registry, covering all three of the data model's tagged
// variants. contentTag is the explicit content identifier used for
// cache-signature hashing in place of retrievable source text (spec.md
// 9, "Content hashing without source access"): two Function nodes are
// considered unchanged between Composer generations iff their tags
// match. Parameter nodes instead hash cty.Value, and Link nodes hash
// their own formal parameter name list.
type node struct {
	name       string
	kind       nodeKind
	params     []ParamDescriptor
	call       Func
	contentTag string

	// Parameter-only fields.
	declaredType cty.Type
	value        cty.Value
}

func (n node) isLink() bool { return n.kind == kindLink }
