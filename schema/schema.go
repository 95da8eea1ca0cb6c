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

// Package schema maps typed values onto nodes. A Serializer writes a value
// into a fixed-width slot of its parent's buffer: leaf serializers encode
// the value in place, node-backed serializers store their content as a node
// and write its id into the slot.
//
// Merge performs a three-way merge of slots. When one side still equals the
// base the other side is taken whole; otherwise composite values merge field
// by field and leaf values fall back to their MergePolicy.
package schema

import (
	"bytes"

	"gopkg.in/src-d/go-errors.v1"

	"github.com/dolthub/snapstore/hash"
	"github.com/dolthub/snapstore/nodes"
)

var (
	// ErrSlotSize is returned when a slot does not match the serializer's
	// SlotSize.
	ErrSlotSize = errors.NewKind("slot has %d bytes, serializer needs %d")

	// ErrNodeSize is returned when a composite node does not match the layout
	// of the schema reading it.
	ErrNodeSize = errors.NewKind("node %s has %d bytes, schema expects %d")

	// ErrEnumWidth is returned when an enum type does not fit the requested
	// codec width.
	ErrEnumWidth = errors.NewKind("enum type is %d bytes wide, codec is %d")
)

// Serializer encodes values of T into slots of SlotSize bytes.
type Serializer[T any] interface {
	SlotSize() int
	Serialize(value T, slot []byte, ns nodes.Store) error
	Deserialize(slot []byte, ns nodes.Store) (T, error)

	// Merge three-way merges |target| and |source| against |base|, writing
	// the result into |base|.
	Merge(base, target, source []byte, ns nodes.Store) error
}

// NodeBacked is implemented by serializers whose slot holds a node id.
type NodeBacked interface {
	NodeBacked()
}

func checkSlot(slot []byte, size int) error {
	if len(slot) != size {
		return ErrSlotSize.New(len(slot), size)
	}
	return nil
}

// mergeShortcut applies the two whole-value merge rules. It returns false if
// both sides differ from the base.
func mergeShortcut(base, target, source []byte) bool {
	if bytes.Equal(target, base) {
		copy(base, source)
		return true
	}
	if bytes.Equal(source, base) {
		copy(base, target)
		return true
	}
	return false
}

// SerializeRoot serializes |value| and returns the id of the node holding it.
// Node-backed serializers already produce a node; other slots are stored as
// a node of their own.
func SerializeRoot[T any](s Serializer[T], value T, ns nodes.Store) (hash.Hash, error) {
	slot := make([]byte, s.SlotSize())
	if err := s.Serialize(value, slot, ns); err != nil {
		return hash.Empty, err
	}
	if _, ok := s.(NodeBacked); ok {
		return hash.Read(slot), nil
	}
	return ns.AddNode(slot)
}

// DeserializeRoot reads back a value stored with SerializeRoot.
func DeserializeRoot[T any](s Serializer[T], root hash.Hash, ns nodes.Store) (T, error) {
	slot, err := rootSlot(s, root, ns)
	if err != nil {
		var zero T
		return zero, err
	}
	return s.Deserialize(slot, ns)
}

// MergeRoots merges the values rooted at |target| and |source| against
// |base| and returns the root of the result.
func MergeRoots[T any](s Serializer[T], base, target, source hash.Hash, ns nodes.Store) (hash.Hash, error) {
	b, err := rootSlot(s, base, ns)
	if err != nil {
		return hash.Empty, err
	}
	t, err := rootSlot(s, target, ns)
	if err != nil {
		return hash.Empty, err
	}
	src, err := rootSlot(s, source, ns)
	if err != nil {
		return hash.Empty, err
	}
	if err = s.Merge(b, t, src, ns); err != nil {
		return hash.Empty, err
	}
	if _, ok := s.(NodeBacked); ok {
		return hash.Read(b), nil
	}
	return ns.AddNode(b)
}

func rootSlot[T any](s Serializer[T], root hash.Hash, ns nodes.Store) ([]byte, error) {
	if _, ok := s.(NodeBacked); ok {
		slot := make([]byte, hash.ByteLen)
		root.Put(slot)
		return slot, nil
	}
	slot, err := nodes.ReadNode(ns, root)
	if err != nil {
		return nil, err
	}
	if err = checkSlot(slot, s.SlotSize()); err != nil {
		return nil, ErrNodeSize.New(root, len(slot), s.SlotSize())
	}
	return slot, nil
}
