// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package fngraph composes named functions into a dependency graph by
// matching formal parameter names to producer node names, and executes
// a demand-driven topological evaluation of a requested output set.
//
// A Composer is an immutable builder: every Update* method returns a
// new Composer, leaving the receiver untouched. Dependencies are never
// declared explicitly — a function parameter named "foo" is wired to
// whatever node is named "foo" (or shadowed by a more specific
// namespace, see Composer.UpdateNamespaces), which is what lets
// subgraphs of functions be written, tested, and namespaced
// independently and then composed.
package fngraph
