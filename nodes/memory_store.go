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

package nodes

import (
	"sync"

	"github.com/dolthub/snapstore/d"
	"github.com/dolthub/snapstore/hash"
)

// DefaultChunkSize is the arena chunk size used when none is configured.
const DefaultChunkSize = 1 << 20

type location struct {
	chunk  uint32
	offset uint32
	length uint32
}

// Stats reports the contents of a MemoryStore.
type Stats struct {
	Nodes        int
	LogicalBytes uint64
	ArenaBytes   uint64
	DedupHits    uint64
}

// MemoryStore keeps nodes in an arena of fixed-size chunks. A node never
// straddles two chunks and chunks are never reallocated, so a slice into the
// arena stays valid for the life of the store. Nodes larger than the chunk
// size get a chunk of their own.
type MemoryStore struct {
	mu        sync.RWMutex
	hashFn    hash.Func
	chunkSize int
	chunks    [][]byte
	index     map[hash.Hash]location
	order     []hash.Hash
	stats     Stats
}

var _ Store = (*MemoryStore)(nil)
var _ TrustedInserter = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store hashing with |hashFn|. A
// non-positive |chunkSize| selects DefaultChunkSize.
func NewMemoryStore(hashFn hash.Func, chunkSize int) *MemoryStore {
	return NewMemoryStoreWithCapacity(hashFn, chunkSize, 0)
}

// NewMemoryStoreWithCapacity pre-sizes the index for |nodeCount| nodes.
func NewMemoryStoreWithCapacity(hashFn hash.Func, chunkSize, nodeCount int) *MemoryStore {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &MemoryStore{
		hashFn:    hashFn,
		chunkSize: chunkSize,
		index:     make(map[hash.Hash]location, nodeCount),
		order:     make([]hash.Hash, 0, nodeCount),
	}
}

// HashFunc returns the hash function used to address nodes.
func (ms *MemoryStore) HashFunc() hash.Func {
	return ms.hashFn
}

// AddNode implements Store.
func (ms *MemoryStore) AddNode(data []byte) (hash.Hash, error) {
	id := ms.hashFn.Of(data)

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.index[id]; ok {
		ms.stats.DedupHits++
		return id, nil
	}
	ms.append(id, data)
	return id, nil
}

// InsertTrusted implements TrustedInserter.
func (ms *MemoryStore) InsertTrusted(id hash.Hash, data []byte) error {
	d.PanicIfTrue(id.IsEmpty())

	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.append(id, data)
	return nil
}

func (ms *MemoryStore) append(id hash.Hash, data []byte) {
	n := len(data)
	last := len(ms.chunks) - 1
	if last < 0 || cap(ms.chunks[last])-len(ms.chunks[last]) < n {
		sz := ms.chunkSize
		if n > sz {
			sz = n
		}
		ms.chunks = append(ms.chunks, make([]byte, 0, sz))
		ms.stats.ArenaBytes += uint64(sz)
		last++
	}

	chunk := ms.chunks[last]
	off := len(chunk)
	// within capacity, never relocates
	ms.chunks[last] = append(chunk, data...)

	ms.index[id] = location{chunk: uint32(last), offset: uint32(off), length: uint32(n)}
	ms.order = append(ms.order, id)
	ms.stats.Nodes++
	ms.stats.LogicalBytes += uint64(n)
}

// HasNode implements Store.
func (ms *MemoryStore) HasNode(id hash.Hash) bool {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	_, ok := ms.index[id]
	return ok
}

// SizeOf implements Store.
func (ms *MemoryStore) SizeOf(id hash.Hash) (int, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	loc, ok := ms.index[id]
	if !ok {
		return 0, ErrNodeNotFound.New(id)
	}
	return int(loc.length), nil
}

// CopyBytes implements Store.
func (ms *MemoryStore) CopyBytes(id hash.Hash, out []byte) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	loc, ok := ms.index[id]
	if !ok {
		return ErrNodeNotFound.New(id)
	}
	if len(out) < int(loc.length) {
		return ErrBufferTooSmall.New(id, loc.length, len(out))
	}
	copy(out, ms.view(loc))
	return nil
}

// Bytes returns a read-only view of the node |id|. The view stays valid after
// later inserts.
func (ms *MemoryStore) Bytes(id hash.Hash) ([]byte, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	loc, ok := ms.index[id]
	if !ok {
		return nil, ErrNodeNotFound.New(id)
	}
	return ms.view(loc), nil
}

func (ms *MemoryStore) view(loc location) []byte {
	end := loc.offset + loc.length
	return ms.chunks[loc.chunk][loc.offset:end:end]
}

// Iter calls |cb| for every node in insertion order, stopping at the first
// error.
func (ms *MemoryStore) Iter(cb func(id hash.Hash, data []byte) error) error {
	ms.mu.RLock()
	order := ms.order[:len(ms.order):len(ms.order)]
	ms.mu.RUnlock()

	for _, id := range order {
		data, err := ms.Bytes(id)
		if err != nil {
			return err
		}
		if err = cb(id, data); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of nodes in the store.
func (ms *MemoryStore) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.index)
}

// Stats returns a snapshot of the store's counters.
func (ms *MemoryStore) Stats() Stats {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.stats
}
