// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package cache implements fngraph's pluggable CacheBackend capability:
// a per-node store with a content-signature validity predicate. No
// backend performs descendant invalidation on its own — see
// package plan — a backend only ever answers for the one node it is
// asked about.
package cache

import (
	"crypto/sha256"

	"github.com/cespare/xxhash/v2"
)

// Node is the information a Backend needs about one graph node: its
// name and its current content signature, as computed by the caller
// (the root fngraph package, which knows whether the node is a
// Function, Parameter, or Link and hashes accordingly).
type Node struct {
	Name      string
	Signature []byte
}

// Backend is the capability every cache implementation must provide,
// matching spec.md 4.3 exactly.
type Backend interface {
	// Valid reports whether a stored entry exists for node.Name and its
	// stamped signature matches node.Signature.
	Valid(node Node) bool

	// Get returns the stored value. The caller must only call this after
	// Valid has just returned true for the same node.
	Get(node Node) (any, error)

	// Set persists value and stamps it with node.Signature.
	Set(node Node, value any) error

	// Invalidate deletes the stored entry and signature for name, if
	// present. It is idempotent.
	Invalidate(name string) error
}

// HashContent returns the SHA-256 digest of b, the signature algorithm
// used for Function and Link nodes, and for Parameter nodes unless
// FastIdentity hashing has been selected.
func HashContent(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

// HashContentFast returns an xxhash digest of b. spec.md 4.3 allows an
// "optional backend mode [that] substitutes object identity for speed",
// documented unsafe for mutable values: two different values that
// happen to serialize to colliding short hashes, or a value mutated
// in place after being hashed, will not be detected as changed. Use
// HashContent (SHA-256) unless you have measured xxhash to matter and
// your parameter values are immutable once set.
func HashContentFast(b []byte) []byte {
	h := xxhash.Sum64(b)
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[i] = byte(h >> (8 * i))
	}
	return out
}
