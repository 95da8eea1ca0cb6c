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

// Package hash implements the 64-bit content addresses used for nodes and
// snapshots. The zero Hash is the "none" sentinel.
package hash

import (
	"encoding/binary"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/xxh3"
	"gopkg.in/src-d/go-errors.v1"
)

const (
	// ByteLen is the number of bytes used to encode a Hash.
	ByteLen = 8

	// StringLen is the number of characters needed to display a Hash.
	StringLen = ByteLen * 2

	// SnapshotKeyLen is the size of the buffer hashed to derive a snapshot id.
	SnapshotKeyLen = 3 * ByteLen
)

var (
	// ErrBadHash is returned by Parse for strings that are not a hex encoded
	// Hash.
	ErrBadHash = errors.NewKind("could not parse hash: %q")

	// ErrUnknownHashFunc is returned by FuncByName for unregistered names.
	ErrUnknownHashFunc = errors.NewKind("unknown hash function %q")
)

// Hash identifies a node by the content of its bytes, or a snapshot by its
// (root, source parent, target parent) triple.
type Hash uint64

// Empty is the "none" sentinel.
var Empty Hash

// IsEmpty determines if this Hash is the "none" sentinel.
func (h Hash) IsEmpty() bool {
	return h == Empty
}

// String returns the fixed width hex encoding of the Hash.
func (h Hash) String() string {
	var b [ByteLen]byte
	binary.BigEndian.PutUint64(b[:], uint64(h))
	return hex.EncodeToString(b[:])
}

// Put writes |h| into the first ByteLen bytes of |b|, little-endian.
func (h Hash) Put(b []byte) {
	binary.LittleEndian.PutUint64(b[:ByteLen], uint64(h))
}

// Read decodes a Hash from the first ByteLen bytes of |b|.
func Read(b []byte) Hash {
	return Hash(binary.LittleEndian.Uint64(b[:ByteLen]))
}

// Less compares two hashes by value.
func (h Hash) Less(other Hash) bool {
	return h < other
}

// Parse parses the hex encoding produced by String.
func Parse(s string) (Hash, error) {
	h, ok := MaybeParse(s)
	if !ok {
		return Empty, ErrBadHash.New(s)
	}
	return h, nil
}

// MaybeParse parses a string representing a hash, returning false if it is
// malformed.
func MaybeParse(s string) (Hash, bool) {
	if len(s) != StringLen {
		return Empty, false
	}
	var b [ByteLen]byte
	if _, err := hex.Decode(b[:], []byte(strings.ToLower(s))); err != nil {
		return Empty, false
	}
	return Hash(binary.BigEndian.Uint64(b[:])), true
}

// Func is a named 64-bit hash function. A store uses a single Func for its
// whole lifetime; the name is persisted so that a store is never reopened
// with a different one.
type Func struct {
	name string
	sum  func([]byte) uint64
}

var (
	// XXH64 is the default hash function.
	XXH64 = Func{name: "xxh64", sum: xxhash.Sum64}

	// XXH3 is the 64-bit variant of xxh3.
	XXH3 = Func{name: "xxh3", sum: xxh3.Hash}
)

var funcs = map[string]Func{
	XXH64.name: XXH64,
	XXH3.name:  XXH3,
}

// FuncByName returns the hash function registered under |name|.
func FuncByName(name string) (Func, error) {
	f, ok := funcs[strings.ToLower(name)]
	if !ok {
		return Func{}, ErrUnknownHashFunc.New(name)
	}
	return f, nil
}

// Name returns the persisted name of the function. The zero Func behaves as
// XXH64.
func (f Func) Name() string {
	if f.sum == nil {
		return XXH64.name
	}
	return f.name
}

// Of computes the Hash of |data|.
func (f Func) Of(data []byte) Hash {
	if f.sum == nil {
		return Hash(xxhash.Sum64(data))
	}
	return Hash(f.sum(data))
}

// OfSnapshot computes a snapshot id from its root node and parents.
func (f Func) OfSnapshot(root, source, target Hash) Hash {
	var key [SnapshotKeyLen]byte
	root.Put(key[0:])
	source.Put(key[ByteLen:])
	target.Put(key[2*ByteLen:])
	return f.Of(key[:])
}

// Of computes the Hash of |data| with the default function.
func Of(data []byte) Hash {
	return XXH64.Of(data)
}

// HashSlice is a sortable slice of hashes.
type HashSlice []Hash

func (hs HashSlice) Len() int {
	return len(hs)
}

func (hs HashSlice) Less(i, j int) bool {
	return hs[i] < hs[j]
}

func (hs HashSlice) Swap(i, j int) {
	hs[i], hs[j] = hs[j], hs[i]
}

func (hs HashSlice) HashSet() HashSet {
	s := make(HashSet, len(hs))
	for _, h := range hs {
		s[h] = struct{}{}
	}
	return s
}

// HashSet is a set of hashes.
type HashSet map[Hash]struct{}

// NewHashSet returns a set containing |hashes|.
func NewHashSet(hashes ...Hash) HashSet {
	out := make(HashSet, len(hashes))
	for _, h := range hashes {
		out.Insert(h)
	}
	return out
}

// Insert adds a Hash to the set.
func (hs HashSet) Insert(h Hash) {
	hs[h] = struct{}{}
}

// Has returns true if the HashSet contains |h|.
func (hs HashSet) Has(h Hash) bool {
	_, has := hs[h]
	return has
}

// Remove removes |h| from the set.
func (hs HashSet) Remove(h Hash) {
	delete(hs, h)
}

// Size returns the number of hashes in the set.
func (hs HashSet) Size() int {
	return len(hs)
}

// Sorted returns the members of the set in ascending order.
func (hs HashSet) Sorted() HashSlice {
	out := make(HashSlice, 0, len(hs))
	for h := range hs {
		out = append(out, h)
	}
	sort.Sort(out)
	return out
}

// Equals returns true if |hs| and |other| have the same members.
func (hs HashSet) Equals(other HashSet) bool {
	if hs.Size() != other.Size() {
		return false
	}
	for h := range hs {
		if !other.Has(h) {
			return false
		}
	}
	return true
}
