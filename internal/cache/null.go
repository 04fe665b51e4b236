// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cache

// Null performs no caching at all: every node is always considered
// invalid, so Composer.Calculate recomputes the whole ancestor DAG on
// every call. It is the default backend.
type Null struct{}

var _ Backend = Null{}

func (Null) Valid(Node) bool          { return false }
func (Null) Get(Node) (any, error)    { return nil, nil }
func (Null) Set(Node, any) error      { return nil }
func (Null) Invalidate(string) error  { return nil }
