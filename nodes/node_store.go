// Copyright 2026 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package nodes implements the content-addressed node store. A node is an
// immutable byte blob keyed by the hash of its content. Nodes are never
// mutated or deleted.
package nodes

import (
	"gopkg.in/src-d/go-errors.v1"

	"github.com/dolthub/snapstore/hash"
)

var (
	// ErrNodeNotFound is returned when a node id is absent from the store.
	ErrNodeNotFound = errors.NewKind("node not found: %s")

	// ErrBufferTooSmall is returned by CopyBytes when the output buffer cannot
	// hold the node.
	ErrBufferTooSmall = errors.NewKind("buffer too small for node %s: need %d bytes, have %d")
)

// Store is the boundary consumed by serializers.
type Store interface {
	// AddNode stores |data| and returns its id. Adding bytes that are
	// already present is a no-op returning the existing id.
	AddNode(data []byte) (hash.Hash, error)

	// HasNode returns true iff |id| is present.
	HasNode(id hash.Hash) bool

	// SizeOf returns the length of the node |id|.
	SizeOf(id hash.Hash) (int, error)

	// CopyBytes copies the node |id| into the front of |out|.
	CopyBytes(id hash.Hash, out []byte) error
}

// TrustedInserter is implemented by stores that accept nodes whose id was
// computed elsewhere, e.g. while replaying a persisted log. The id is not
// verified and duplicates are not detected.
type TrustedInserter interface {
	InsertTrusted(id hash.Hash, data []byte) error
}

// ReadNode returns a copy of the node |id| sized with SizeOf.
func ReadNode(s Store, id hash.Hash) ([]byte, error) {
	sz, err := s.SizeOf(id)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, sz)
	if err = s.CopyBytes(id, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
