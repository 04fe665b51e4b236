// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package exec implements fngraph's Executor: it consumes a plan.Step
// stream once per Calculate call, coalesces each CALCULATE node's
// resolved predecessor values into a Call, invokes the node's function,
// and maintains the live result set with remaining-use eviction, per
// spec.md 4.5.
//
// This is a direct translation of the teacher's own
// original_source/fn_graph/calculation.py coalesce_arguments and the
// calculate() loop, from Python's *args/**kwargs coalescing to an
// explicit ParamDescriptor-driven Call type, since Go cannot recover a
// compiled function's parameter names at runtime.
package exec

import (
	"fmt"

	"github.com/fngraph/fngraph/internal/cache"
	"github.com/fngraph/fngraph/internal/plan"
)

// ParamKind classifies one formal parameter of a node's function, per
// spec.md 3's parameter-kind taxonomy.
type ParamKind int

const (
	PositionalOnly ParamKind = iota
	PositionalOrKeyword
	KeywordOnly
	VariadicPositional
	VariadicKeyword
)

func (k ParamKind) String() string {
	switch k {
	case PositionalOnly:
		return "positional"
	case PositionalOrKeyword:
		return "positional-or-keyword"
	case KeywordOnly:
		return "keyword"
	case VariadicPositional:
		return "variadic-positional"
	case VariadicKeyword:
		return "variadic-keyword"
	default:
		return "unknown"
	}
}

// Binding is one formal parameter of a CALCULATE node resolved to the
// producer node supplying its value. For VariadicPositional/
// VariadicKeyword params, one Binding is emitted per fan-in member, with
// Name carrying the matched suffix (used as the variadic-keyword map
// key; ignored for variadic-positional, which is ordered by Producer).
type Binding struct {
	Param    string
	Kind     ParamKind
	Producer string
	Name     string
}

// Callable is the Go substitute for Python's positional/keyword
// argument coalescing: every producer node — function, parameter, or
// link — is ultimately one of these, invoked with a *Call built from its
// Bindings.
type Callable func(call *Call) (any, error)

// Call exposes one CALCULATE node's resolved arguments to its Callable,
// the idiomatic substitute for Python's *args/**kwargs.
type Call struct {
	positional         []any
	keyword            map[string]any
	variadicPositional []any
	variadicKeyword    map[string]any
}

// Positional returns the i'th positional argument.
func (c *Call) Positional(i int) any { return c.positional[i] }

// NumPositional returns the number of positional arguments bound.
func (c *Call) NumPositional() int { return len(c.positional) }

// Keyword returns the named keyword argument, or nil if unbound.
func (c *Call) Keyword(name string) any { return c.keyword[name] }

// HasKeyword reports whether name was bound as a keyword argument.
func (c *Call) HasKeyword(name string) bool {
	_, ok := c.keyword[name]
	return ok
}

// VariadicPositional returns the fan-in values bound to a
// variadic-positional parameter, ordered by resolved producer name.
func (c *Call) VariadicPositional() []any { return c.variadicPositional }

// VariadicKeyword returns the fan-in values bound to a
// variadic-keyword parameter, keyed by matched suffix.
func (c *Call) VariadicKeyword() map[string]any { return c.variadicKeyword }

// NodeSpec is everything the Executor needs to process one node: its
// function (nil is only valid for nodes the plan never instructs
// CALCULATE this run) and its resolved parameter bindings.
type NodeSpec struct {
	Name     string
	Callable Callable
	Bindings []Binding
}

// buildCall assembles a *Call from spec's bindings and the current
// results map. Every non-variadic binding's producer must already be
// present in results; the topological order guaranteed by plan.Build
// makes that an invariant, not a runtime check.
func buildCall(spec NodeSpec, results map[string]any) *Call {
	return BuildCall(spec.Bindings, results)
}

// BuildCall assembles a *Call from a resolved binding list and a
// node→value map, the same coalescing Execute performs for every
// CALCULATE step. Exported so callers that invoke a node's Callable
// outside of Execute's own loop — Composer.RunTests resolves and calls
// test functions this way — can reuse the exact same argument
// assembly.
func BuildCall(bindings []Binding, results map[string]any) *Call {
	call := &Call{
		keyword:         map[string]any{},
		variadicKeyword: map[string]any{},
	}
	for _, b := range bindings {
		switch b.Kind {
		case PositionalOnly, PositionalOrKeyword:
			call.positional = append(call.positional, results[b.Producer])
		case KeywordOnly:
			call.keyword[b.Param] = results[b.Producer]
		case VariadicPositional:
			call.variadicPositional = append(call.variadicPositional, results[b.Producer])
		case VariadicKeyword:
			call.variadicKeyword[b.Name] = results[b.Producer]
		}
	}
	return call
}

// FailureMode selects how Execute responds to a user function or cache
// error, per spec.md 4.5.
type FailureMode int

const (
	// FailFast aborts at the first error and returns it with node context.
	FailFast FailureMode = iota
	// Collect runs every reachable node, returning partial results
	// alongside a *Failure describing the first error encountered.
	Collect
)

// Stage identifies which part of processing a node produced a Failure.
type Stage int

const (
	StageFunction Stage = iota
	StageCacheRetrieve
	StageCacheStore
)

// Failure describes one node's error under Collect mode.
type Failure struct {
	Node  string
	Stage Stage
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("node %s: %s", f.Node, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Options configures one Execute call.
type Options struct {
	Mode FailureMode
	// Intermediates, when true, suppresses eviction: every computed or
	// retrieved value survives in the returned results map.
	Intermediates bool
	Outputs       []string
	Progress      ProgressFunc
}

// Execute runs steps against specs, returning the requested outputs'
// live result set (plus any surviving intermediates, per Options).
//
// Under FailFast, the first error returned by a Callable or the cache
// backend aborts immediately. Under Collect, execution continues past a
// failing node — any node depending on it (directly or transitively)
// will itself fail when it cannot find the predecessor's value in
// results, and those secondary failures are not separately reported;
// only the first failure is returned.
func Execute(steps []plan.Step, specs map[string]NodeSpec, backend cache.Backend, signatures map[string][]byte, opts Options) (map[string]any, error) {
	outputSet := make(map[string]bool, len(opts.Outputs))
	for _, o := range opts.Outputs {
		outputSet[o] = true
	}

	remaining := make(map[string]int)
	for _, step := range steps {
		if step.Instruction != plan.Calculate {
			continue
		}
		for _, b := range specs[step.Node].Bindings {
			remaining[b.Producer]++
		}
	}

	results := make(map[string]any, len(steps))
	var firstFailure *Failure
	var stepStage Stage

	emit := func(ev ProgressEvent) {
		if opts.Progress != nil {
			opts.Progress(ev)
		}
	}

	emit(ProgressEvent{Kind: EventStartCalculation, StartCalculation: &StartCalculationDetail{Outputs: opts.Outputs}})
	emit(ProgressEvent{Kind: EventPreparedCalculation, PreparedCalculation: &PreparedCalculationDetail{Steps: len(steps)}})

	for _, step := range steps {
		node := step.Node
		emit(ProgressEvent{Kind: EventStartStep, StartStep: &StartStepDetail{Node: node, Instruction: step.Instruction.String()}})

		var stepErr error
		switch step.Instruction {
		case plan.Ignore:
			// Safe to skip entirely: an IGNORE node's predecessors are
			// never themselves invalid (descendant invalidation would
			// have made this node invalid too), so nothing here is ever
			// read out of results.

		case plan.Retrieve:
			emit(ProgressEvent{Kind: EventStartCacheRetrieval, StartCacheRetrieval: &StartCacheRetrievalDetail{Node: node}})
			value, err := backend.Get(cache.Node{Name: node, Signature: signatures[node]})
			emit(ProgressEvent{Kind: EventEndCacheRetrieval, EndCacheRetrieval: &EndCacheRetrievalDetail{Node: node, Err: err}})
			if err != nil {
				stepErr = fmt.Errorf("retrieving cached value for %s: %w", node, err)
				stepStage = StageCacheRetrieve
				break
			}
			results[node] = value

		case plan.Calculate:
			spec, ok := specs[node]
			if !ok || spec.Callable == nil {
				stepErr = fmt.Errorf("no callable registered for node %s", node)
				break
			}
			for _, b := range spec.Bindings {
				if _, have := results[b.Producer]; !have {
					stepErr = fmt.Errorf("predecessor %s of %s has no value", b.Producer, node)
					break
				}
			}
			if stepErr != nil {
				stepStage = StageFunction
				break
			}
			call := buildCall(spec, results)

			emit(ProgressEvent{Kind: EventStartFunction, StartFunction: &StartFunctionDetail{Node: node}})
			value, err := invoke(spec.Callable, call)
			emit(ProgressEvent{Kind: EventEndFunction, EndFunction: &EndFunctionDetail{Node: node, Err: err}})
			if err != nil {
				stepErr = fmt.Errorf("calculating %s: %w", node, err)
				stepStage = StageFunction
				break
			}
			results[node] = value

			emit(ProgressEvent{Kind: EventStartCacheStore, StartCacheStore: &StartCacheStoreDetail{Node: node}})
			setErr := backend.Set(cache.Node{Name: node, Signature: signatures[node]}, value)
			emit(ProgressEvent{Kind: EventEndCacheStore, EndCacheStore: &EndCacheStoreDetail{Node: node, Err: setErr}})
			if setErr != nil {
				stepErr = fmt.Errorf("caching result for %s: %w", node, setErr)
				stepStage = StageCacheStore
				break
			}

			if !opts.Intermediates {
				for _, b := range spec.Bindings {
					remaining[b.Producer]--
					if remaining[b.Producer] == 0 && !outputSet[b.Producer] {
						delete(results, b.Producer)
					}
				}
			}
		}

		emit(ProgressEvent{Kind: EventEndStep, EndStep: &EndStepDetail{Node: node, Err: stepErr}})

		if stepErr != nil {
			failure := &Failure{Node: node, Stage: stepStage, Err: stepErr}
			if opts.Mode == FailFast {
				emit(ProgressEvent{Kind: EventEndCalculation, EndCalculation: &EndCalculationDetail{Err: failure}})
				return results, failure
			}
			if firstFailure == nil {
				firstFailure = failure
			}
		}
	}

	var retErr error
	if firstFailure != nil {
		retErr = firstFailure
	}
	emit(ProgressEvent{Kind: EventEndCalculation, EndCalculation: &EndCalculationDetail{Err: retErr}})
	return results, retErr
}

// invoke calls fn, converting a panic inside user code into an error
// carrying the recovered value, so one misbehaving function cannot take
// down an entire Collect-mode run.
func invoke(fn Callable, call *Call) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(call)
}
