// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cache

import "bytes"

// InMemory stores node results and their content signatures in process
// memory. It has no cross-session persistence: a new InMemory backend
// starts out with every node invalid.
//
// InMemory is accessed only through a single Executor run at a time;
// concurrent Composer.Calculate calls sharing one InMemory backend from
// multiple goroutines are undefined, per spec.md 5.
type InMemory struct {
	values     map[string]any
	signatures map[string][]byte
}

var _ Backend = (*InMemory)(nil)

// NewInMemory returns an empty InMemory cache.
func NewInMemory() *InMemory {
	return &InMemory{
		values:     make(map[string]any),
		signatures: make(map[string][]byte),
	}
}

func (c *InMemory) Valid(node Node) bool {
	sig, ok := c.signatures[node.Name]
	if !ok {
		return false
	}
	return bytes.Equal(sig, node.Signature)
}

func (c *InMemory) Get(node Node) (any, error) {
	return c.values[node.Name], nil
}

func (c *InMemory) Set(node Node, value any) error {
	c.values[node.Name] = value
	c.signatures[node.Name] = node.Signature
	return nil
}

func (c *InMemory) Invalidate(name string) error {
	delete(c.values, name)
	delete(c.signatures, name)
	return nil
}
