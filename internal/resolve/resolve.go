// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package resolve implements fngraph's name resolution: mapping a
// consumer node's formal parameter name to the producer node name that
// should supply it, honoring hierarchical namespace shadowing and
// symbolic links.
//
// This is a small, explicit algorithm over dotted node names, in the
// style of the teacher's internal/addrs package (one small, well
// documented resolution routine per address kind) even though the
// underlying domain here — graph parameter wiring rather than HCL
// resource addresses — is different enough that no addrs code could be
// reused directly; see DESIGN.md.
package resolve

import (
	"sort"
	"strings"

	"github.com/fngraph/fngraph/internal/collections"
)

const namespaceSep = "__"

// Candidates returns the ordered list of producer-node-name candidates
// for resolving paramName inside consumerName, most-specific namespace
// first, ending with the bare parameter name. The last element is
// always paramName itself, used as the "unbound" placeholder when
// nothing else matches.
func Candidates(consumerName, paramName string) []string {
	parts := strings.Split(consumerName, namespaceSep)
	ancestors := parts[:len(parts)-1]

	cands := make([]string, 0, len(ancestors)+1)
	for i := len(ancestors); i >= 1; i-- {
		cands = append(cands, strings.Join(ancestors[:i], namespaceSep)+namespaceSep+paramName)
	}
	cands = append(cands, paramName)
	return cands
}

// Resolve maps (consumerName, paramName) to a producer node name.
//
// functions is the set of registered function/parameter/link node names
// (everything that can be a producer). links maps a link name to its
// target name and may be nil; targets are followed by name (see
// followLinkChain). The Composer passes nil: it reaches link targets
// through the identity nodes Composer.Link installs.
//
// ok reports whether the returned producer name actually resolves to a
// registered function; when false, producer is the least-specific
// candidate (bare paramName), the "unbound reference" placeholder from
// spec.md.
func Resolve(consumerName, paramName string, functions collections.Set[string], links map[string]string) (producer string, ok bool) {
	for _, candidate := range Candidates(consumerName, paramName) {
		if target, isLink := links[candidate]; isLink {
			final := followLinkChain(target, links)
			return final, functions.Has(final)
		}
		if functions.Has(candidate) {
			return candidate, true
		}
	}
	return paramName, false
}

// followLinkChain resolves a link's target, which may itself be a link,
// per spec.md 4.1: "the link target itself is resolved by the same
// candidate walk starting from its own name". Since a link target is a
// flat node name rather than a formal-parameter name inside some
// consumer, that walk degenerates to simply following link entries
// until one names a non-link node. A seen-set bounds the walk so a
// cyclic link chain (which Composer.Check reports as a graph cycle once
// materialized into edges) cannot loop forever here.
func followLinkChain(start string, links map[string]string) string {
	cur := start
	seen := collections.NewSet(cur)
	for {
		next, isLink := links[cur]
		if !isLink {
			return cur
		}
		if seen.Has(next) {
			return next
		}
		seen[next] = struct{}{}
		cur = next
	}
}

// VariadicMatch is one producer bound into a variadic parameter's
// fan-in, keyed by the suffix of its name remaining after the matched
// namespace prefix is stripped off.
type VariadicMatch struct {
	Suffix string
	Node   string
}

// ResolveVariadic expands a variadic-positional or variadic-keyword
// parameter into every producer whose name is namespaced under one of
// paramName's resolution candidates, using the same most-specific-first
// shadowing rule as Resolve: the first candidate prefix with any match
// wins, so an outer namespace's fan-in members never leak in alongside
// an inner one's.
//
// Matches are returned in sorted-by-node-name order for deterministic
// positional ordering and keyword-map construction.
func ResolveVariadic(consumerName, paramName string, functions collections.Set[string]) []VariadicMatch {
	for _, candidate := range Candidates(consumerName, paramName) {
		prefix := candidate + namespaceSep
		var matches []VariadicMatch
		for name := range functions {
			if suffix, ok := strings.CutPrefix(name, prefix); ok {
				matches = append(matches, VariadicMatch{Suffix: suffix, Node: name})
			}
		}
		if len(matches) > 0 {
			sort.Slice(matches, func(i, j int) bool { return matches[i].Node < matches[j].Node })
			return matches
		}
	}
	return nil
}
