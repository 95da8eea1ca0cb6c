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
	"encoding/binary"
	"math"
	"reflect"
	"time"

	"github.com/dolthub/snapstore/hash"
	"github.com/dolthub/snapstore/nodes"
)

// MergePolicy picks the merged value of a leaf that changed on both sides.
type MergePolicy[V any] func(base, target, source V) V

// PreferSource resolves conflicts in favor of the source side.
func PreferSource[V any]() MergePolicy[V] {
	return func(_, _, source V) V { return source }
}

// PreferTarget resolves conflicts in favor of the target side.
func PreferTarget[V any]() MergePolicy[V] {
	return func(_, target, _ V) V { return target }
}

// Leaf is a fixed-width codec that encodes values directly into the slot.
type Leaf[V any] struct {
	size   int
	enc    func(V, []byte)
	dec    func([]byte) V
	policy MergePolicy[V]
}

// NewLeaf builds a codec of |size| bytes from an encoder and decoder. The
// merge policy defaults to PreferSource.
func NewLeaf[V any](size int, enc func(V, []byte), dec func([]byte) V) Leaf[V] {
	return Leaf[V]{size: size, enc: enc, dec: dec, policy: PreferSource[V]()}
}

// WithMergePolicy returns a copy of |l| resolving conflicts with |p|.
func (l Leaf[V]) WithMergePolicy(p MergePolicy[V]) Leaf[V] {
	l.policy = p
	return l
}

func (l Leaf[V]) SlotSize() int {
	return l.size
}

func (l Leaf[V]) Serialize(value V, slot []byte, _ nodes.Store) error {
	if err := checkSlot(slot, l.size); err != nil {
		return err
	}
	l.enc(value, slot)
	return nil
}

func (l Leaf[V]) Deserialize(slot []byte, _ nodes.Store) (V, error) {
	if err := checkSlot(slot, l.size); err != nil {
		var zero V
		return zero, err
	}
	return l.dec(slot), nil
}

func (l Leaf[V]) Merge(base, target, source []byte, _ nodes.Store) error {
	if mergeShortcut(base, target, source) {
		return nil
	}
	l.enc(l.policy(l.dec(base), l.dec(target), l.dec(source)), base)
	return nil
}

func Int64() Leaf[int64] {
	return NewLeaf(8,
		func(v int64, b []byte) { binary.LittleEndian.PutUint64(b, uint64(v)) },
		func(b []byte) int64 { return int64(binary.LittleEndian.Uint64(b)) })
}

func Int32() Leaf[int32] {
	return NewLeaf(4,
		func(v int32, b []byte) { binary.LittleEndian.PutUint32(b, uint32(v)) },
		func(b []byte) int32 { return int32(binary.LittleEndian.Uint32(b)) })
}

func Uint64() Leaf[uint64] {
	return NewLeaf(8,
		func(v uint64, b []byte) { binary.LittleEndian.PutUint64(b, v) },
		binary.LittleEndian.Uint64)
}

func Float64() Leaf[float64] {
	return NewLeaf(8,
		func(v float64, b []byte) { binary.LittleEndian.PutUint64(b, math.Float64bits(v)) },
		func(b []byte) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(b)) })
}

func Bool() Leaf[bool] {
	return NewLeaf(1,
		func(v bool, b []byte) {
			b[0] = 0
			if v {
				b[0] = 1
			}
		},
		func(b []byte) bool { return b[0] != 0 })
}

// Time stores seconds since the Unix epoch followed by the nanosecond
// within the second, so every time.Time survives a round trip. Values decode
// in UTC.
func Time() Leaf[time.Time] {
	return NewLeaf(12,
		func(v time.Time, b []byte) {
			binary.LittleEndian.PutUint64(b, uint64(v.Unix()))
			binary.LittleEndian.PutUint32(b[8:], uint32(v.Nanosecond()))
		},
		func(b []byte) time.Time {
			sec := int64(binary.LittleEndian.Uint64(b))
			nsec := int64(binary.LittleEndian.Uint32(b[8:]))
			return time.Unix(sec, nsec).UTC()
		})
}

// Integer is the set of types an Enum can be based on.
type Integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Enum encodes E in |width| bytes. It fails if E is not exactly |width|
// bytes wide, so a codec never truncates an enum value.
func Enum[E Integer](width int) (Leaf[E], error) {
	actual := int(reflect.TypeOf(E(0)).Size())
	if actual != width {
		return Leaf[E]{}, ErrEnumWidth.New(actual, width)
	}
	signed := E(0)-1 < 0
	shift := 64 - 8*uint(width)
	enc := func(v E, b []byte) {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		copy(b, buf[:width])
	}
	dec := func(b []byte) E {
		var buf [8]byte
		copy(buf[:], b[:width])
		u := binary.LittleEndian.Uint64(buf[:])
		if signed {
			return E(int64(u<<shift) >> shift)
		}
		return E(u)
	}
	return NewLeaf(width, enc, dec), nil
}

// NodeLeaf stores a variable-length value as a node and keeps only the node
// id in the slot.
type NodeLeaf[V any] struct {
	toBytes   func(V) []byte
	fromBytes func([]byte) V
	policy    MergePolicy[V]
}

// NewNodeLeaf builds a node-backed codec. The merge policy defaults to
// PreferSource.
func NewNodeLeaf[V any](toBytes func(V) []byte, fromBytes func([]byte) V) NodeLeaf[V] {
	return NodeLeaf[V]{toBytes: toBytes, fromBytes: fromBytes, policy: PreferSource[V]()}
}

// WithMergePolicy returns a copy of |l| resolving conflicts with |p|.
func (l NodeLeaf[V]) WithMergePolicy(p MergePolicy[V]) NodeLeaf[V] {
	l.policy = p
	return l
}

func (l NodeLeaf[V]) NodeBacked() {}

func (l NodeLeaf[V]) SlotSize() int {
	return hash.ByteLen
}

func (l NodeLeaf[V]) Serialize(value V, slot []byte, ns nodes.Store) error {
	if err := checkSlot(slot, hash.ByteLen); err != nil {
		return err
	}
	id, err := ns.AddNode(l.toBytes(value))
	if err != nil {
		return err
	}
	id.Put(slot)
	return nil
}

func (l NodeLeaf[V]) Deserialize(slot []byte, ns nodes.Store) (V, error) {
	var zero V
	if err := checkSlot(slot, hash.ByteLen); err != nil {
		return zero, err
	}
	data, err := nodes.ReadNode(ns, hash.Read(slot))
	if err != nil {
		return zero, err
	}
	return l.fromBytes(data), nil
}

func (l NodeLeaf[V]) Merge(base, target, source []byte, ns nodes.Store) error {
	if mergeShortcut(base, target, source) {
		return nil
	}
	b, err := l.Deserialize(base, ns)
	if err != nil {
		return err
	}
	t, err := l.Deserialize(target, ns)
	if err != nil {
		return err
	}
	s, err := l.Deserialize(source, ns)
	if err != nil {
		return err
	}
	return l.Serialize(l.policy(b, t, s), base, ns)
}

func String() NodeLeaf[string] {
	return NewNodeLeaf(
		func(v string) []byte { return []byte(v) },
		func(b []byte) string { return string(b) })
}

// Bytes decodes to a copy of the node, never a view into the store.
func Bytes() NodeLeaf[[]byte] {
	return NewNodeLeaf(
		func(v []byte) []byte { return v },
		func(b []byte) []byte { return append([]byte{}, b...) })
}
