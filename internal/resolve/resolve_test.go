// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCandidates(t *testing.T) {
	assert.Equal(t, []string{"p"}, Candidates("combined", "p"))
	assert.Equal(t, []string{"child_one__p", "p"}, Candidates("child_one__b", "p"))
	assert.Equal(t, []string{"ns__sub__p", "ns__p", "p"}, Candidates("ns__sub__f", "p"))
}

func set(names ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func TestResolveNamespaceShadowing(t *testing.T) {
	functions := set("data", "child_one__b", "child_one__factor", "child_one__data")
	producer, ok := Resolve("child_one__b", "data", functions, nil)
	assert.True(t, ok)
	assert.Equal(t, "child_one__data", producer)

	producer, ok = Resolve("top", "data", functions, nil)
	assert.True(t, ok)
	assert.Equal(t, "data", producer)
}

func TestResolveUnbound(t *testing.T) {
	producer, ok := Resolve("c", "missing", set("a", "b"), nil)
	assert.False(t, ok)
	assert.Equal(t, "missing", producer)
}

func TestResolveLink(t *testing.T) {
	links := map[string]string{"b": "a"}
	producer, ok := Resolve("c", "b", set("a"), links)
	assert.True(t, ok)
	assert.Equal(t, "a", producer)
}

func TestResolveLinkChain(t *testing.T) {
	links := map[string]string{"b": "c", "c": "a"}
	producer, ok := Resolve("x", "b", set("a"), links)
	assert.True(t, ok)
	assert.Equal(t, "a", producer)
}

func TestResolveLinkCycleDoesNotHang(t *testing.T) {
	links := map[string]string{"a": "b", "b": "a"}
	producer, ok := Resolve("x", "a", set(), links)
	assert.False(t, ok)
	assert.Contains(t, []string{"a", "b"}, producer)
}

func TestResolveVariadic(t *testing.T) {
	functions := set("args__one", "args__two", "child__args__three")
	matches := ResolveVariadic("child__sum", "args", functions)
	if assert.Len(t, matches, 1) {
		assert.Equal(t, "three", matches[0].Suffix)
		assert.Equal(t, "child__args__three", matches[0].Node)
	}

	matches = ResolveVariadic("top", "args", functions)
	assert.Len(t, matches, 2)
	assert.Equal(t, "args__one", matches[0].Node)
	assert.Equal(t, "args__two", matches[1].Node)
}
