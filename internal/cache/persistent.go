// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Persistent stores node results on disk under <root>/<composerName>/,
// one data file, one JSON sidecar recording the serialization format,
// and one signature file per node, per spec.md 6.
//
// Writes are per-node and atomic: a temp file is written and then
// renamed into place, so a crash mid-write never leaves a corrupt file
// visible to a reader (spec.md 5's "Scoped resource acquisition").
// Readers tolerate the absence of any of the three files for a node and
// treat that as "not cached", rather than erroring.
type Persistent struct {
	dir        string
	serializer Serializer
}

var _ Backend = (*Persistent)(nil)

// NewPersistent returns a Persistent cache rooted at
// filepath.Join(root, composerName), creating that directory if needed.
// The default serializer is GobSerializer ("opaque"); use
// WithSerializer to select a different one for newly written nodes.
func NewPersistent(root, composerName string, opts ...PersistentOption) (*Persistent, error) {
	dir := filepath.Join(root, composerName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating persistent cache directory %s: %w", dir, err)
	}
	p := &Persistent{dir: dir, serializer: GobSerializer{}}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// PersistentOption configures a Persistent cache at construction time.
type PersistentOption func(*Persistent)

// WithSerializer overrides the serializer used for values this cache
// writes. Reads always dispatch on whatever format is recorded in the
// node's sidecar, regardless of this setting.
func WithSerializer(s Serializer) PersistentOption {
	return func(p *Persistent) { p.serializer = s }
}

type sidecar struct {
	Format string `json:"format"`
}

func (p *Persistent) dataPath(name string) string   { return filepath.Join(p.dir, name+".data") }
func (p *Persistent) infoPath(name string) string    { return filepath.Join(p.dir, name+".info.json") }
func (p *Persistent) hashPath(name string) string    { return filepath.Join(p.dir, name+".fn.hash") }

func (p *Persistent) Valid(node Node) bool {
	stored, err := os.ReadFile(p.hashPath(node.Name))
	if err != nil {
		return false
	}
	if !bytes.Equal(stored, node.Signature) {
		return false
	}
	if _, err := os.Stat(p.dataPath(node.Name)); err != nil {
		return false
	}
	if _, err := os.Stat(p.infoPath(node.Name)); err != nil {
		return false
	}
	return true
}

func (p *Persistent) Get(node Node) (any, error) {
	infoBytes, err := os.ReadFile(p.infoPath(node.Name))
	if err != nil {
		return nil, fmt.Errorf("reading cache sidecar for %s: %w", node.Name, err)
	}
	var side sidecar
	if err := json.Unmarshal(infoBytes, &side); err != nil {
		return nil, fmt.Errorf("parsing cache sidecar for %s: %w", node.Name, err)
	}
	serializer, err := serializerFor(side.Format)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", node.Name, err)
	}
	data, err := os.ReadFile(p.dataPath(node.Name))
	if err != nil {
		return nil, fmt.Errorf("reading cached data for %s: %w", node.Name, err)
	}
	return serializer.Decode(data)
}

func (p *Persistent) Set(node Node, value any) error {
	data, err := p.serializer.Encode(value)
	if err != nil {
		return fmt.Errorf("encoding value for %s: %w", node.Name, err)
	}
	info, err := json.Marshal(sidecar{Format: p.serializer.Format()})
	if err != nil {
		return fmt.Errorf("encoding sidecar for %s: %w", node.Name, err)
	}

	if err := atomicWrite(p.dataPath(node.Name), data); err != nil {
		return err
	}
	if err := atomicWrite(p.infoPath(node.Name), info); err != nil {
		return err
	}
	if err := atomicWrite(p.hashPath(node.Name), node.Signature); err != nil {
		return err
	}
	return nil
}

func (p *Persistent) Invalidate(name string) error {
	var errs []error
	for _, path := range []string{p.dataPath(name), p.infoPath(name), p.hashPath(name)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// atomicWrite writes data to a temp file in the same directory as path
// and renames it into place, so concurrent readers never observe a
// partially written file. The deferred cleanup runs on every exit path,
// including a panic during the write: the temp file is then closed and
// removed, and the panic is recovered into a returned error rather than
// left to leak the open file descriptor up the stack.
func atomicWrite(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	tmp, createErr := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if createErr != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, createErr)
	}
	tmpName := tmp.Name()
	closed := false

	defer func() {
		if !closed {
			tmp.Close()
		}
		if r := recover(); r != nil {
			os.Remove(tmpName)
			err = fmt.Errorf("writing %s: panic: %v", path, r)
		}
	}()

	if _, writeErr := tmp.Write(data); writeErr != nil {
		tmp.Close()
		closed = true
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, writeErr)
	}
	closeErr := tmp.Close()
	closed = true
	if closeErr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file for %s: %w", path, closeErr)
	}
	if renameErr := os.Rename(tmpName, path); renameErr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file into place for %s: %w", path, renameErr)
	}
	return nil
}
