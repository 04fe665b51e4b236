// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package fngraph

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/fngraph/fngraph/internal/exec"
	"github.com/fngraph/fngraph/internal/fndiags"
	"github.com/fngraph/fngraph/internal/plan"
)

// defaultGroup collapses duplicate concurrent Calculate calls against
// the same cache backend and output set into a single execution,
// best-effort — the core scheduler itself stays single-threaded per
// spec.md 5; this only dedupes across goroutines racing to request the
// same work, it does not parallelize independent nodes within one run.
var defaultGroup singleflight.Group

// CalculateOption configures one Calculate/CalculateCollect call.
type CalculateOption func(*calcConfig)

type calcConfig struct {
	performChecks bool
	intermediates bool
	progress      exec.ProgressFunc
}

// WithPerformChecks toggles the pre-flight cycle/unbound check
// (default true). Disabling it is only useful when the caller has
// already validated the graph via Check and wants to skip repeating
// the walk on every Calculate call.
func WithPerformChecks(enabled bool) CalculateOption {
	return func(cfg *calcConfig) { cfg.performChecks = enabled }
}

// WithIntermediates keeps every computed or retrieved node alive in the
// returned result map instead of evicting values with no remaining
// uses (spec.md 4.5).
func WithIntermediates(enabled bool) CalculateOption {
	return func(cfg *calcConfig) { cfg.intermediates = enabled }
}

// WithProgress attaches a callback invoked for every progress event
// spec.md 6 defines. Suppressing it (passing none) must not, and does
// not, change the returned results.
func WithProgress(fn exec.ProgressFunc) CalculateOption {
	return func(cfg *calcConfig) { cfg.progress = fn }
}

// FailureInfo describes why a CalculateCollect call did not fully
// succeed: either a specific node's function or cache operation failed
// (Node non-empty), or the graph itself could not be prepared for
// execution (cycle, unbound reference, unknown output — Node empty,
// matching spec.md 7's "construction-time errors still abort
// immediately since execution cannot meaningfully begin").
type FailureInfo struct {
	Node string
	Err  error
}

func (f *FailureInfo) Error() string {
	if f.Node == "" {
		return f.Err.Error()
	}
	return fmt.Sprintf("node %s: %s", f.Node, f.Err)
}

func (f *FailureInfo) Unwrap() error { return f.Err }

// Calculate evaluates outputs, fail-fast: the first function or cache
// error aborts the whole call.
func (c Composer) Calculate(outputs []string, opts ...CalculateOption) (map[string]any, error) {
	cfg := calcConfig{performChecks: true}
	for _, o := range opts {
		o(&cfg)
	}

	key := calcKey(c, outputs)
	v, err, _ := defaultGroup.Do(key, func() (any, error) {
		return c.calculateOnce(outputs, cfg, exec.FailFast)
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// CalculateCollect evaluates outputs in collect mode: every reachable
// node runs even after one fails, returning partial results alongside
// the first failure encountered.
func (c Composer) CalculateCollect(outputs []string, opts ...CalculateOption) (map[string]any, *FailureInfo) {
	cfg := calcConfig{performChecks: true}
	for _, o := range opts {
		o(&cfg)
	}

	results, err := c.calculateOnce(outputs, cfg, exec.Collect)
	if err == nil {
		return results, nil
	}
	var uf *UserFunctionFailureError
	if errors.As(err, &uf) {
		return results, &FailureInfo{Node: uf.Name, Err: uf.Err}
	}
	var cf *CacheFailureError
	if errors.As(err, &cf) {
		return results, &FailureInfo{Node: cf.Name, Err: cf.Err}
	}
	return results, &FailureInfo{Err: err}
}

func calcKey(c Composer, outputs []string) string {
	sorted := append([]string(nil), outputs...)
	sort.Strings(sorted)
	return fmt.Sprintf("%p|%s", c.cache, strings.Join(sorted, ","))
}

func (c Composer) calculateOnce(outputs []string, cfg calcConfig, mode exec.FailureMode) (map[string]any, error) {
	if len(outputs) == 0 {
		return map[string]any{}, nil
	}
	for _, o := range outputs {
		if _, ok := c.functions[o]; !ok {
			return nil, &UnknownOutputError{Name: o}
		}
	}

	g, bindings, diags := c.buildGraph()

	if cfg.performChecks {
		for _, d := range diags {
			if d.Kind == fndiags.KindCycle {
				return nil, &CycleError{Nodes: d.Nodes}
			}
		}
	}

	sub, keep := ancestorSubgraph(g, outputs)

	if cfg.performChecks {
		keepNames := make(map[string]bool, len(keep))
		for _, v := range keep {
			keepNames[v.(string)] = true
		}
		for _, d := range diags {
			if d.Kind != fndiags.KindUnbound {
				continue
			}
			for _, r := range d.Referers {
				if keepNames[r] {
					return nil, &UnboundError{Name: d.Function, Referers: d.Referers}
				}
			}
		}
	}

	signatures := make(map[string][]byte, len(keep))
	specs := make(map[string]exec.NodeSpec, len(keep))
	for _, v := range keep {
		name := v.(string)
		fn := c.functions[name]
		signatures[name] = c.signatureFor(fn)
		specs[name] = exec.NodeSpec{Name: name, Callable: exec.Callable(fn.call), Bindings: bindings[name]}
	}

	steps, err := plan.Build(sub, c.cache, signatures, outputs)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	c.logger.Debug("calculating", "run_id", runID, "outputs", outputs, "steps", len(steps))

	results, execErr := exec.Execute(steps, specs, c.cache, signatures, exec.Options{
		Mode:          mode,
		Intermediates: cfg.intermediates,
		Outputs:       outputs,
		Progress:      cfg.progress,
	})
	if execErr == nil {
		return results, nil
	}

	var failure *exec.Failure
	if errors.As(execErr, &failure) {
		if failure.Stage == exec.StageCacheRetrieve || failure.Stage == exec.StageCacheStore {
			return results, &CacheFailureError{Name: failure.Node, Operation: stageName(failure.Stage), Err: failure.Err}
		}
		return results, &UserFunctionFailureError{Name: failure.Node, Err: failure.Err}
	}
	return results, execErr
}

func stageName(s exec.Stage) string {
	switch s {
	case exec.StageCacheRetrieve:
		return "get"
	case exec.StageCacheStore:
		return "set"
	default:
		return "function"
	}
}

// TestResult is one entry of RunTests' lazy sequence.
type TestResult struct {
	Name   string
	Passed bool
	Err    error
}

// RunTests resolves and invokes every registered test function against
// the function registry, yielding one TestResult per test. Unlike
// Calculate, a failing test never aborts the sequence — every test
// always runs to completion (spec.md 7). ctx is checked between tests
// only; cancelling it stops the sequence early without reporting the
// remaining tests, since no test function itself is context-aware (Func
// carries no context.Context parameter, matching every other Callable
// in this module — spec.md's Executor is not itself context-threaded).
func (c Composer) RunTests(ctx context.Context) iter.Seq[TestResult] {
	return func(yield func(TestResult) bool) {
		bindings := c.testBindings()
		for _, name := range sortedKeys(c.tests) {
			if ctx.Err() != nil {
				return
			}
			t := c.tests[name]
			result := c.runOneTest(name, t, bindings[name])
			if !yield(result) {
				return
			}
		}
	}
}

func (c Composer) runOneTest(name string, t node, bindings []exec.Binding) TestResult {
	call, err := c.buildTestCall(bindings)
	if err != nil {
		return TestResult{Name: name, Passed: false, Err: err}
	}
	_, err = t.call(call)
	if err != nil {
		return TestResult{Name: name, Passed: false, Err: err}
	}
	return TestResult{Name: name, Passed: true}
}

// testBindings resolves every test function's parameters against the
// same function registry production nodes draw from, via bindingsFor, so
// a test can depend on any registered node exactly like a normal
// consumer. A test parameter with no default that fails to resolve is
// simply omitted from its bindings and logged; the test function itself
// then observes it as a missing/zero-value argument.
func (c Composer) testBindings() map[string][]exec.Binding {
	bindings := make(map[string][]exec.Binding, len(c.tests))
	for _, name := range sortedKeys(c.tests) {
		t := c.tests[name]
		bs, unbound := c.bindingsFor(name, t.params)
		if len(bs) > 0 {
			bindings[name] = bs
		}
		for _, u := range unbound {
			c.logger.Debug("test parameter unbound", "test", name, "param", u)
		}
	}
	return bindings
}

// buildTestCall computes every bound producer's value via Calculate and
// coalesces the results into a *exec.Call the same way Execute does for
// an ordinary CALCULATE step.
func (c Composer) buildTestCall(bindings []exec.Binding) (*exec.Call, error) {
	names := make([]string, 0, len(bindings))
	for _, b := range bindings {
		names = append(names, b.Producer)
	}
	results, err := c.Calculate(names, WithIntermediates(true))
	if err != nil {
		return nil, err
	}
	return exec.BuildCall(bindings, results), nil
}
