// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package fngraph

import (
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/zclconf/go-cty/cty"

	"github.com/fngraph/fngraph/internal/cache"
	"github.com/fngraph/fngraph/internal/dag"
	"github.com/fngraph/fngraph/internal/exec"
)

// Composer is an immutable builder owning a function registry, a
// parameter registry, a link table, a test registry, and an attached
// cache backend (spec.md 3). Every Update* method returns a new
// Composer. Construct one with New, which attaches a Null cache and a
// discard logger; the zero value has neither and is not usable.
type Composer struct {
	name       string
	functions  map[string]node
	parameters map[string]paramEntry
	links      map[string]string
	tests      map[string]node
	sourceMap  map[string]string

	cache        cache.Backend
	fastIdentity bool
	logger       hclog.Logger
}

type paramEntry struct {
	declaredType cty.Type
}

// New returns an empty Composer backed by a Null cache (no memoization)
// and a discard logger. Use ComposerOption to attach a real cache or
// logger at construction time.
func New(opts ...ComposerOption) Composer {
	c := Composer{
		functions:  map[string]node{},
		parameters: map[string]paramEntry{},
		links:      map[string]string{},
		tests:      map[string]node{},
		sourceMap:  map[string]string{},
		cache:      cache.Null{},
		logger:     hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// ComposerOption configures a Composer at construction time.
type ComposerOption func(*Composer)

// WithName sets the composer name used as the subdirectory under a
// Persistent cache's root.
func WithName(name string) ComposerOption {
	return func(c *Composer) { c.name = name }
}

// WithCache attaches a cache backend (cache.Null, cache.NewInMemory(),
// or a *cache.Persistent).
func WithCache(backend cache.Backend) ComposerOption {
	return func(c *Composer) { c.cache = backend }
}

// WithLogger overrides the default discard logger.
func WithLogger(logger hclog.Logger) ComposerOption {
	return func(c *Composer) { c.logger = logger }
}

// WithFastIdentity enables cache.HashContentFast for Parameter node
// signatures in place of the default SHA-256 hash. Documented unsafe
// for mutable parameter values; see cache.HashContentFast.
func WithFastIdentity(enabled bool) ComposerOption {
	return func(c *Composer) { c.fastIdentity = enabled }
}

// WithSourceMap installs per-node override text that replaces a
// Function node's content tag when its cache signature is computed.
func WithSourceMap(overrides map[string]string) ComposerOption {
	return func(c *Composer) {
		for name, text := range overrides {
			c.sourceMap[name] = text
		}
	}
}

// clone returns a shallow copy of c with freshly allocated registry
// maps, so Update* methods never mutate a shared ancestor Composer's
// state. Per spec.md 9, structural sharing of unioned entries is an
// optimization the spec explicitly does not require; a full copy here
// keeps the Update implementations simple.
func (c Composer) clone() Composer {
	next := c
	next.functions = cloneMap(c.functions)
	next.parameters = cloneMap(c.parameters)
	next.links = cloneMap(c.links)
	next.tests = cloneMap(c.tests)
	next.sourceMap = cloneMap(c.sourceMap)
	return next
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// invalidateDescendantsOf invalidates name and every DAG descendant of
// name in the attached cache. Every Composer mutation that removes or
// replaces a node must call this (spec.md 4.6's closing paragraph):
// the old cached value (and anything computed from it) is no longer
// trustworthy once the producing node's definition has changed.
func (c Composer) invalidateDescendantsOf(name string) {
	g, _, _ := c.buildGraph()
	if !g.HasVertex(name) {
		return
	}
	desc := g.Descendants([]dag.Vertex{name})
	_ = c.cache.Invalidate(name)
	for _, v := range desc {
		_ = c.cache.Invalidate(v.(string))
	}
}

// FuncSpec describes one function to register via Update. Go cannot
// recover a compiled function's declared name or parameter names at
// runtime (spec.md 9, "From dynamic to typed core"), so both must be
// supplied explicitly rather than derived from the callable itself, as
// the Python source does.
type FuncSpec struct {
	Name string
	// Params lists every formal parameter's resolution behavior, in the
	// order Call.Positional expects them.
	Params []ParamDescriptor
	Call   Func
	// ContentTag identifies this function's content for cache-signature
	// hashing. Left empty, it defaults to the Call closure's runtime
	// identity (runtime.FuncForPC), which changes whenever Call is a
	// distinct function literal — the practical substitute for hashing
	// source text spec.md 9 calls for.
	ContentTag string
}

func funcIdentity(f Func) string {
	return runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()
}

// Update adds or replaces function nodes. A FuncSpec with a nil Call is
// rejected with NonCallableError, the typed-Go analogue of spec.md's
// "rejects non-callable values" (Go's type system already rules out
// anything else from reaching Call).
func (c Composer) Update(specs ...FuncSpec) (Composer, error) {
	next := c.clone()
	for _, s := range specs {
		if s.Call == nil {
			return Composer{}, &NonCallableError{Name: s.Name}
		}
		tag := s.ContentTag
		if tag == "" {
			tag = funcIdentity(s.Call)
		}
		next.functions[s.Name] = node{
			name:       s.Name,
			kind:       kindFunction,
			params:     s.Params,
			call:       s.Call,
			contentTag: tag,
		}
	}
	for _, s := range specs {
		next.invalidateDescendantsOf(s.Name)
	}
	return next, nil
}

// UpdateWithoutPrefix registers specs after stripping prefix from each
// Name, failing with AffixMissingError if any Name doesn't carry it —
// a defense against silently renaming the wrong function (spec.md 4.6).
func (c Composer) UpdateWithoutPrefix(prefix string, specs ...FuncSpec) (Composer, error) {
	stripped := make([]FuncSpec, len(specs))
	for i, s := range specs {
		rest, ok := strings.CutPrefix(s.Name, prefix)
		if !ok {
			return Composer{}, &AffixMissingError{Name: s.Name, Affix: prefix}
		}
		s.Name = rest
		stripped[i] = s
	}
	return c.Update(stripped...)
}

// UpdateWithoutSuffix is UpdateWithoutPrefix's suffix-stripping sibling.
func (c Composer) UpdateWithoutSuffix(suffix string, specs ...FuncSpec) (Composer, error) {
	stripped := make([]FuncSpec, len(specs))
	for i, s := range specs {
		rest, ok := strings.CutSuffix(s.Name, suffix)
		if !ok {
			return Composer{}, &AffixMissingError{Name: s.Name, Affix: suffix}
		}
		s.Name = rest
		stripped[i] = s
	}
	return c.Update(stripped...)
}

// UpdateTests registers test functions, resolved and invoked the same
// way as any other node but kept in a separate registry so they never
// become dependency candidates for production nodes.
func (c Composer) UpdateTests(specs ...FuncSpec) (Composer, error) {
	next := c.clone()
	for _, s := range specs {
		if s.Call == nil {
			return Composer{}, &NonCallableError{Name: s.Name}
		}
		tag := s.ContentTag
		if tag == "" {
			tag = funcIdentity(s.Call)
		}
		next.tests[s.Name] = node{name: s.Name, kind: kindFunction, params: s.Params, call: s.Call, contentTag: tag}
	}
	return next, nil
}

// Link installs symbolic links: Link(map[string]string{"a": "b"}) means
// "whenever something resolves to a, use b instead." Implemented as the
// identity-function lowering spec.md 9's Open Question 1 mandates: a
// one-argument Function node named a, flagged as a link, whose sole
// parameter is named after the target so ordinary namespace-aware
// resolution finds it — which is also what makes link targets
// namespace-relative just like any other dependency.
func (c Composer) Link(kv map[string]string) Composer {
	next := c.clone()
	names := sortedKeys(kv)
	for _, name := range names {
		target := kv[name]
		next.links[name] = target
		next.functions[name] = node{
			name:       name,
			kind:       kindLink,
			params:     []ParamDescriptor{{Name: target, Kind: PositionalOrKeyword}},
			call:       func(call *exec.Call) (any, error) { return call.Positional(0), nil },
			contentTag: "link:" + target,
		}
	}
	for _, name := range names {
		next.invalidateDescendantsOf(name)
	}
	return next
}

// UpdateNamespaces prefixes every node of each supplied Composer with
// its keyword name plus "__" and merges the result into this Composer.
// Functions, parameters, and links are all merged (spec.md 9's Open
// Question 2, resolved per the spec's explicit instruction).
//
// Dependency names inside the merged nodes are never rewritten: only
// each node's own name gains the namespace prefix. A merged function's
// parameter named "factor" still resolves, from its new name
// "child_one__b", first against the candidate "child_one__factor" —
// namespace shadowing falls out of candidate-based resolution for free,
// with no special-casing required here.
func (c Composer) UpdateNamespaces(kv map[string]Composer) Composer {
	next := c.clone()
	names := sortedKeys(kv)
	for _, ns := range names {
		sub := kv[ns]
		for name, n := range sub.functions {
			nn := n
			nn.name = ns + "__" + name
			next.functions[nn.name] = nn
		}
		for name, p := range sub.parameters {
			next.parameters[ns+"__"+name] = p
		}
		for name, target := range sub.links {
			next.links[ns+"__"+name] = target
		}
		for name, s := range sub.sourceMap {
			next.sourceMap[ns+"__"+name] = s
		}
	}
	for _, ns := range names {
		for name := range kv[ns].functions {
			next.invalidateDescendantsOf(ns + "__" + name)
		}
	}
	return next
}

// UpdateFrom merges functions, parameters, and tests from composers, in
// order — later composers override earlier ones and the receiver on
// name collision (spec.md 4.6). Link nodes already live in the function
// registry (see Link), so they transfer along with it; the link table
// itself is merged too, defensively, so Link/Check bookkeeping built on
// a merged Composer stays consistent.
func (c Composer) UpdateFrom(composers ...Composer) Composer {
	next := c.clone()
	for _, other := range composers {
		for name, n := range other.functions {
			next.functions[name] = n
		}
		for name, p := range other.parameters {
			next.parameters[name] = p
		}
		for name, t := range other.tests {
			next.tests[name] = t
		}
		for name, target := range other.links {
			next.links[name] = target
		}
	}
	return next
}

// Subgraph restricts the function, parameter, and link registries to
// the given node names; registered tests and source-map overrides are
// kept unchanged.
func (c Composer) Subgraph(names []string) Composer {
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	next := c.clone()
	for name := range next.functions {
		if !keep[name] {
			delete(next.functions, name)
		}
	}
	for name := range next.parameters {
		if !keep[name] {
			delete(next.parameters, name)
		}
	}
	for name := range next.links {
		if !keep[name] {
			delete(next.links, name)
		}
	}
	return next
}

// Precalculate computes outputs now and returns a new Composer in which
// each has been replaced by a constant-returning nullary function
// carrying the baked-in value (spec.md 4.6).
func (c Composer) Precalculate(outputs []string, opts ...CalculateOption) (Composer, error) {
	values, err := c.Calculate(outputs, opts...)
	if err != nil {
		return Composer{}, err
	}
	next := c.clone()
	for _, name := range outputs {
		value := values[name]
		next.functions[name] = node{
			name: name,
			kind: kindFunction,
			call: func(v any) Func {
				return func(call *exec.Call) (any, error) { return v, nil }
			}(value),
			contentTag: fmt.Sprintf("precalculated:%s:%v", name, value),
		}
	}
	for _, name := range outputs {
		next.invalidateDescendantsOf(name)
	}
	return next, nil
}

// Call computes a single named output. Get is its spec.md-mandated alias.
func (c Composer) Call(name string) (any, error) {
	results, err := c.Calculate([]string{name})
	if err != nil {
		return nil, err
	}
	return results[name], nil
}

// Get is an alias for Call, matching spec.md 4.6's call(name)/get(name).
func (c Composer) Get(name string) (any, error) { return c.Call(name) }

// RawFunction returns the registered function node for name, bypassing
// calculation entirely — direct registry access, useful for tooling and
// tests, ported from the original Python implementation's equivalent
// accessor.
func (c Composer) RawFunction(name string) (FuncSpec, bool) {
	n, ok := c.functions[name]
	if !ok {
		return FuncSpec{}, false
	}
	return FuncSpec{Name: n.name, Params: n.params, Call: n.call, ContentTag: n.contentTag}, true
}

// CacheInvalidate invalidates each given node and every DAG descendant
// of it in the attached cache.
func (c Composer) CacheInvalidate(nodes ...string) error {
	g, _, _ := c.buildGraph()
	start := make([]dag.Vertex, 0, len(nodes))
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if !seen[n] {
			seen[n] = true
			start = append(start, n)
		}
	}
	desc := g.Descendants(start)
	toInvalidate := make([]string, 0, len(nodes)+len(desc))
	toInvalidate = append(toInvalidate, nodes...)
	for _, v := range desc {
		toInvalidate = append(toInvalidate, v.(string))
	}
	sort.Strings(toInvalidate)
	for _, n := range toInvalidate {
		if err := c.cache.Invalidate(n); err != nil {
			return &CacheFailureError{Name: n, Operation: "invalidate", Err: err}
		}
	}
	return nil
}

// CacheClear invalidates every registered node.
func (c Composer) CacheClear() error {
	names := sortedKeys(c.functions)
	for _, name := range names {
		if err := c.cache.Invalidate(name); err != nil {
			return &CacheFailureError{Name: name, Operation: "invalidate", Err: err}
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
