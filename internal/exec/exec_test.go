// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package exec

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fngraph/fngraph/internal/cache"
	"github.com/fngraph/fngraph/internal/plan"
)

// chainSpecs builds the specs for a->b->c, with b and c each taking their
// single predecessor as a sole positional-or-keyword argument.
func chainSpecs(calls *[]string) map[string]NodeSpec {
	return map[string]NodeSpec{
		"a": {
			Name: "a",
			Callable: func(c *Call) (any, error) {
				*calls = append(*calls, "a")
				return 1, nil
			},
		},
		"b": {
			Name:     "b",
			Bindings: []Binding{{Param: "a", Kind: PositionalOrKeyword, Producer: "a"}},
			Callable: func(c *Call) (any, error) {
				*calls = append(*calls, "b")
				return c.Positional(0).(int) + 1, nil
			},
		},
		"c": {
			Name:     "c",
			Bindings: []Binding{{Param: "b", Kind: PositionalOrKeyword, Producer: "b"}},
			Callable: func(c *Call) (any, error) {
				*calls = append(*calls, "c")
				return c.Positional(0).(int) + 1, nil
			},
		},
	}
}

func TestExecuteCalculatesChainAndEvictsIntermediates(t *testing.T) {
	var calls []string
	specs := chainSpecs(&calls)
	steps := []plan.Step{
		{Node: "a", Instruction: plan.Calculate},
		{Node: "b", Instruction: plan.Calculate},
		{Node: "c", Instruction: plan.Calculate},
	}
	backend := cache.NewInMemory()

	results, err := Execute(steps, specs, backend, nil, Options{Outputs: []string{"c"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, calls)
	assert.Equal(t, 3, results["c"])
	// a and b were each consumed by exactly one downstream CALCULATE and
	// are not themselves outputs, so they're evicted.
	_, aSurvived := results["a"]
	_, bSurvived := results["b"]
	assert.False(t, aSurvived)
	assert.False(t, bSurvived)
}

func TestExecuteIntermediatesOptionSuppressesEviction(t *testing.T) {
	var calls []string
	specs := chainSpecs(&calls)
	steps := []plan.Step{
		{Node: "a", Instruction: plan.Calculate},
		{Node: "b", Instruction: plan.Calculate},
		{Node: "c", Instruction: plan.Calculate},
	}
	backend := cache.NewInMemory()

	results, err := Execute(steps, specs, backend, nil, Options{Outputs: []string{"c"}, Intermediates: true})
	require.NoError(t, err)

	assert.Equal(t, 1, results["a"])
	assert.Equal(t, 2, results["b"])
	assert.Equal(t, 3, results["c"])
}

func TestExecuteIgnoreNodesAreSkipped(t *testing.T) {
	var calls []string
	called := false
	specs := chainSpecs(&calls)
	specs["a"] = NodeSpec{
		Name: "a",
		Callable: func(c *Call) (any, error) {
			called = true
			return 1, nil
		},
	}
	steps := []plan.Step{
		{Node: "a", Instruction: plan.Ignore},
		{Node: "b", Instruction: plan.Retrieve},
		{Node: "c", Instruction: plan.Calculate},
	}
	backend := cache.NewInMemory()
	require.NoError(t, backend.Set(cache.Node{Name: "b"}, 41))

	results, err := Execute(steps, specs, backend, nil, Options{Outputs: []string{"c"}})
	require.NoError(t, err)

	assert.False(t, called, "IGNORE node's callable must never run")
	assert.Equal(t, 42, results["c"])
}

func TestExecuteFailFastAbortsImmediately(t *testing.T) {
	boom := errors.New("boom")
	specs := map[string]NodeSpec{
		"a": {Name: "a", Callable: func(c *Call) (any, error) { return nil, boom }},
		"b": {Name: "b", Bindings: []Binding{{Param: "a", Kind: PositionalOrKeyword, Producer: "a"}},
			Callable: func(c *Call) (any, error) { return nil, nil }},
	}
	steps := []plan.Step{
		{Node: "a", Instruction: plan.Calculate},
		{Node: "b", Instruction: plan.Calculate},
	}
	backend := cache.NewInMemory()

	results, err := Execute(steps, specs, backend, nil, Options{Mode: FailFast, Outputs: []string{"b"}})
	require.Error(t, err)
	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "a", failure.Node)
	assert.ErrorIs(t, err, boom)
	_, ok := results["b"]
	assert.False(t, ok, "fail-fast must not execute nodes after the failure")
}

func TestExecuteCollectModeReturnsPartialResultsAndFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	specs := map[string]NodeSpec{
		"a": {Name: "a", Callable: func(c *Call) (any, error) { return nil, boom }},
		"b": {Name: "b", Callable: func(c *Call) (any, error) { return 7, nil }},
	}
	steps := []plan.Step{
		{Node: "a", Instruction: plan.Calculate},
		{Node: "b", Instruction: plan.Calculate},
	}
	backend := cache.NewInMemory()

	results, err := Execute(steps, specs, backend, nil, Options{Mode: Collect, Outputs: []string{"a", "b"}})
	require.Error(t, err)
	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "a", failure.Node)
	assert.Equal(t, 7, results["b"], "collect mode keeps running past a failing node")
}

func TestExecuteVariadicBindingsCoalesceIntoCall(t *testing.T) {
	specs := map[string]NodeSpec{
		"x": {Name: "x", Callable: func(c *Call) (any, error) { return 10, nil }},
		"y": {Name: "y", Callable: func(c *Call) (any, error) { return 20, nil }},
		"sum": {
			Name: "sum",
			Bindings: []Binding{
				{Param: "items", Kind: VariadicPositional, Producer: "x"},
				{Param: "items", Kind: VariadicPositional, Producer: "y"},
			},
			Callable: func(c *Call) (any, error) {
				total := 0
				for _, v := range c.VariadicPositional() {
					total += v.(int)
				}
				return total, nil
			},
		},
	}
	steps := []plan.Step{
		{Node: "x", Instruction: plan.Calculate},
		{Node: "y", Instruction: plan.Calculate},
		{Node: "sum", Instruction: plan.Calculate},
	}
	backend := cache.NewInMemory()

	results, err := Execute(steps, specs, backend, nil, Options{Outputs: []string{"sum"}})
	require.NoError(t, err)
	assert.Equal(t, 30, results["sum"])
}

func TestExecuteProgressEventsFireInOrder(t *testing.T) {
	specs := map[string]NodeSpec{
		"a": {Name: "a", Callable: func(c *Call) (any, error) { return 1, nil }},
	}
	steps := []plan.Step{{Node: "a", Instruction: plan.Calculate}}
	backend := cache.NewInMemory()

	var kinds []EventKind
	_, err := Execute(steps, specs, backend, nil, Options{
		Outputs:  []string{"a"},
		Progress: func(ev ProgressEvent) { kinds = append(kinds, ev.Kind) },
	})
	require.NoError(t, err)

	want := []EventKind{
		EventStartCalculation,
		EventPreparedCalculation,
		EventStartStep,
		EventStartFunction,
		EventEndFunction,
		EventStartCacheStore,
		EventEndCacheStore,
		EventEndStep,
		EventEndCalculation,
	}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("progress event trace mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteRecoversPanicInUserFunction(t *testing.T) {
	specs := map[string]NodeSpec{
		"a": {Name: "a", Callable: func(c *Call) (any, error) { panic("kaboom") }},
	}
	steps := []plan.Step{{Node: "a", Instruction: plan.Calculate}}
	backend := cache.NewInMemory()

	_, err := Execute(steps, specs, backend, nil, Options{Mode: FailFast, Outputs: []string{"a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}
