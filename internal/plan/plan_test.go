// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fngraph/fngraph/internal/cache"
	"github.com/fngraph/fngraph/internal/dag"
)

func chain(t *testing.T) *dag.Graph {
	t.Helper()
	g := &dag.Graph{}
	g.Add("a")
	g.Add("b")
	g.Add("c")
	g.Connect(dag.BasicEdge("a", "b"))
	g.Connect(dag.BasicEdge("b", "c"))
	return g
}

func stepsByNode(steps []Step) map[string]Instruction {
	m := make(map[string]Instruction, len(steps))
	for _, s := range steps {
		m[s.Node] = s.Instruction
	}
	return m
}

func TestBuildAllCalculateWithNullCache(t *testing.T) {
	g := chain(t)
	backend := cache.Null{}
	steps, err := Build(g, backend, nil, []string{"c"})
	require.NoError(t, err)

	got := stepsByNode(steps)
	assert.Equal(t, Calculate, got["a"])
	assert.Equal(t, Calculate, got["b"])
	assert.Equal(t, Calculate, got["c"])

	// Topological order preserved.
	require.Len(t, steps, 3)
	assert.Equal(t, "a", steps[0].Node)
	assert.Equal(t, "b", steps[1].Node)
	assert.Equal(t, "c", steps[2].Node)
}

func TestBuildRetrievesCacheHitsThatFeedInvalidNodes(t *testing.T) {
	g := chain(t)
	backend := cache.NewInMemory()
	sigs := map[string][]byte{
		"a": cache.HashContent([]byte("a-sig")),
		"b": cache.HashContent([]byte("b-sig-old")),
		"c": cache.HashContent([]byte("c-sig")),
	}

	require.NoError(t, backend.Set(cache.Node{Name: "a", Signature: sigs["a"]}, 1))
	require.NoError(t, backend.Set(cache.Node{Name: "b", Signature: sigs["b"]}, 2))
	require.NoError(t, backend.Set(cache.Node{Name: "c", Signature: sigs["c"]}, 3))

	// b's signature changed, invalidating b and its descendant c.
	sigs["b"] = cache.HashContent([]byte("b-sig-new"))

	steps, err := Build(g, backend, sigs, []string{"c"})
	require.NoError(t, err)
	got := stepsByNode(steps)

	assert.Equal(t, Retrieve, got["a"]) // cache hit feeding an invalid node
	assert.Equal(t, Calculate, got["b"])
	assert.Equal(t, Calculate, got["c"])

	// b's stale entry was not invalidated (it's directly invalid, will be
	// overwritten); a is untouched since it is still valid.
	assert.True(t, backend.Valid(cache.Node{Name: "a", Signature: sigs["a"]}))
}

func TestBuildIgnoresBystanders(t *testing.T) {
	g := chain(t)
	backend := cache.NewInMemory()
	sigs := map[string][]byte{
		"a": cache.HashContent([]byte("a")),
		"b": cache.HashContent([]byte("b")),
		"c": cache.HashContent([]byte("c")),
	}
	for name, sig := range sigs {
		require.NoError(t, backend.Set(cache.Node{Name: name, Signature: sig}, name))
	}

	steps, err := Build(g, backend, sigs, []string{"c"})
	require.NoError(t, err)
	got := stepsByNode(steps)

	assert.Equal(t, Ignore, got["a"])
	assert.Equal(t, Ignore, got["b"])
	assert.Equal(t, Retrieve, got["c"]) // it's a requested output
}
