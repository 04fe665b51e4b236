// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cache

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Serializer encodes and decodes node result values for the Persistent
// backend's data file. spec.md 4.3 requires the sidecar to record which
// of "opaque" or "tabular" format was used and the reader to dispatch on
// it, without prescribing the tabular format itself — that is left to a
// pluggable numerical/dataframe library, out of scope here (spec.md 1).
type Serializer interface {
	// Format is the short name recorded in a node's .info.json sidecar.
	Format() string
	Encode(value any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// GobSerializer is the opaque byte-blob fallback spec.md calls for: it
// encodes any gob-representable Go value, which covers every built-in
// type and any user struct composed from them.
type GobSerializer struct{}

var _ Serializer = GobSerializer{}

func (GobSerializer) Format() string { return "opaque" }

func (GobSerializer) Encode(value any) ([]byte, error) {
	var buf bytes.Buffer
	wrapped := gobValue{Value: value}
	if err := gob.NewEncoder(&buf).Encode(&wrapped); err != nil {
		return nil, fmt.Errorf("encoding cached value: %w", err)
	}
	return buf.Bytes(), nil
}

func (GobSerializer) Decode(data []byte) (any, error) {
	var wrapped gobValue
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wrapped); err != nil {
		return nil, fmt.Errorf("decoding cached value: %w", err)
	}
	return wrapped.Value, nil
}

// gobValue boxes an arbitrary value so gob can round-trip it through an
// interface{} field; gob requires concrete types registered for this to
// work for anything beyond the handful of built-ins it already knows,
// so callers relying on GobSerializer for custom struct types must
// gob.Register them before first use, exactly as any other gob user
// would.
type gobValue struct {
	Value any
}

// serializers is the registry consulted when reading a node's
// .info.json sidecar back: the format name there selects which
// Serializer decodes the accompanying .data file.
var serializers = map[string]Serializer{
	"opaque": GobSerializer{},
}

// RegisterSerializer installs a Serializer under the given format name,
// for example a "tabular" serializer backed by a dataframe library.
// fngraph ships only the "opaque" serializer; registering others is the
// pluggable extension point spec.md 4.3 describes.
func RegisterSerializer(format string, s Serializer) {
	serializers[format] = s
}

func serializerFor(format string) (Serializer, error) {
	s, ok := serializers[format]
	if !ok {
		return nil, fmt.Errorf("no serializer registered for format %q", format)
	}
	return s, nil
}
