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

package schema

import (
	"github.com/dolthub/snapstore/hash"
	"github.com/dolthub/snapstore/nodes"
)

// Field is one member of a Struct.
type Field[T any] interface {
	Name() string
	SlotSize() int
	serialize(v *T, slot []byte, ns nodes.Store) error
	deserialize(v *T, slot []byte, ns nodes.Store) error
	merge(base, target, source []byte, ns nodes.Store) error
}

type field[T, F any] struct {
	name string
	s    Serializer[F]
	get  func(*T) F
	set  func(*T, F)
}

// FieldOf describes a field of T of type F, read with |get| and written with
// |set|.
func FieldOf[T, F any](name string, s Serializer[F], get func(*T) F, set func(*T, F)) Field[T] {
	return field[T, F]{name: name, s: s, get: get, set: set}
}

func (f field[T, F]) Name() string {
	return f.name
}

func (f field[T, F]) SlotSize() int {
	return f.s.SlotSize()
}

func (f field[T, F]) serialize(v *T, slot []byte, ns nodes.Store) error {
	return f.s.Serialize(f.get(v), slot, ns)
}

func (f field[T, F]) deserialize(v *T, slot []byte, ns nodes.Store) error {
	fv, err := f.s.Deserialize(slot, ns)
	if err != nil {
		return err
	}
	f.set(v, fv)
	return nil
}

func (f field[T, F]) merge(base, target, source []byte, ns nodes.Store) error {
	return f.s.Merge(base, target, source, ns)
}

// Struct serializes a composite value as one node holding its fields' slots
// back to back. Its own slot is the id of that node.
type Struct[T any] struct {
	fields  []Field[T]
	offsets []int
	size    int
}

var _ Serializer[struct{}] = (*Struct[struct{}])(nil)

// NewStruct lays out |fields| in order.
func NewStruct[T any](fields ...Field[T]) *Struct[T] {
	s := &Struct[T]{fields: fields, offsets: make([]int, len(fields))}
	for i, f := range fields {
		s.offsets[i] = s.size
		s.size += f.SlotSize()
	}
	return s
}

func (s *Struct[T]) NodeBacked() {}

func (s *Struct[T]) SlotSize() int {
	return hash.ByteLen
}

// NodeSize returns the size of the node holding the fields.
func (s *Struct[T]) NodeSize() int {
	return s.size
}

// Fields returns the field list.
func (s *Struct[T]) Fields() []Field[T] {
	return s.fields
}

func (s *Struct[T]) region(buf []byte, i int) []byte {
	off := s.offsets[i]
	return buf[off : off+s.fields[i].SlotSize()]
}

func (s *Struct[T]) Serialize(value T, slot []byte, ns nodes.Store) error {
	if err := checkSlot(slot, hash.ByteLen); err != nil {
		return err
	}
	buf := make([]byte, s.size)
	for i, f := range s.fields {
		if err := f.serialize(&value, s.region(buf, i), ns); err != nil {
			return err
		}
	}
	id, err := ns.AddNode(buf)
	if err != nil {
		return err
	}
	id.Put(slot)
	return nil
}

func (s *Struct[T]) read(slot []byte, ns nodes.Store) ([]byte, error) {
	if err := checkSlot(slot, hash.ByteLen); err != nil {
		return nil, err
	}
	id := hash.Read(slot)
	buf, err := nodes.ReadNode(ns, id)
	if err != nil {
		return nil, err
	}
	if len(buf) != s.size {
		return nil, ErrNodeSize.New(id, len(buf), s.size)
	}
	return buf, nil
}

func (s *Struct[T]) Deserialize(slot []byte, ns nodes.Store) (T, error) {
	var value T
	buf, err := s.read(slot, ns)
	if err != nil {
		return value, err
	}
	for i, f := range s.fields {
		if err = f.deserialize(&value, s.region(buf, i), ns); err != nil {
			return value, err
		}
	}
	return value, nil
}

// Merge merges each field against its own base when both sides changed, and
// stores the merged fields as a new node.
func (s *Struct[T]) Merge(base, target, source []byte, ns nodes.Store) error {
	if mergeShortcut(base, target, source) {
		return nil
	}
	b, err := s.read(base, ns)
	if err != nil {
		return err
	}
	t, err := s.read(target, ns)
	if err != nil {
		return err
	}
	src, err := s.read(source, ns)
	if err != nil {
		return err
	}
	for i, f := range s.fields {
		if err = f.merge(s.region(b, i), s.region(t, i), s.region(src, i), ns); err != nil {
			return err
		}
	}
	id, err := ns.AddNode(b)
	if err != nil {
		return err
	}
	id.Put(base)
	return nil
}
