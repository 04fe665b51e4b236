// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cache

import (
	"encoding/gob"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullNeverValid(t *testing.T) {
	c := Null{}
	n := Node{Name: "a", Signature: HashContent([]byte("x"))}
	assert.False(t, c.Valid(n))
	require.NoError(t, c.Set(n, 5))
	assert.False(t, c.Valid(n))
}

func TestInMemoryRoundTrip(t *testing.T) {
	c := NewInMemory()
	sig := HashContent([]byte("v1"))
	n := Node{Name: "b", Signature: sig}

	assert.False(t, c.Valid(n))
	require.NoError(t, c.Set(n, 42))
	assert.True(t, c.Valid(n))

	got, err := c.Get(n)
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	changed := Node{Name: "b", Signature: HashContent([]byte("v2"))}
	assert.False(t, c.Valid(changed))

	require.NoError(t, c.Invalidate("b"))
	assert.False(t, c.Valid(n))
}

func TestPersistentRoundTrip(t *testing.T) {
	dir := t.TempDir()
	gob.Register(0)

	p, err := NewPersistent(dir, "composer1")
	require.NoError(t, err)

	sig := HashContent([]byte("v1"))
	n := Node{Name: "c", Signature: sig}

	assert.False(t, p.Valid(n))
	require.NoError(t, p.Set(n, 99))
	assert.True(t, p.Valid(n))

	got, err := p.Get(n)
	require.NoError(t, err)
	assert.Equal(t, 99, got)

	require.NoError(t, p.Invalidate("c"))
	assert.False(t, p.Valid(n))

	// Absence of any sidecar file must read as "not cached", not error.
	assert.False(t, p.Valid(Node{Name: "never-written"}))
}

func TestPersistentToleratesPartialState(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPersistent(dir, "composer2")
	require.NoError(t, err)

	n := Node{Name: "d", Signature: HashContent([]byte("v"))}
	require.NoError(t, p.Set(n, 1))

	require.NoError(t, os.Remove(p.infoPath("d")))
	assert.False(t, p.Valid(n))
}
