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

// Package snapshots implements the snapshot history: a DAG of snapshots in
// which every snapshot names a root node, a source parent and, for merges, a
// target parent. A snapshot's id is derived from that triple, so the graph is
// acyclic by construction.
package snapshots

import (
	"sort"
	"sync"

	"github.com/google/btree"
	"gopkg.in/src-d/go-errors.v1"

	"github.com/dolthub/snapstore/d"
	"github.com/dolthub/snapstore/hash"
)

var (
	// ErrSnapshotNotFound is returned when a snapshot id is absent.
	ErrSnapshotNotFound = errors.NewKind("snapshot not found: %s")

	// ErrAlreadyHasRoot is returned when a second root snapshot is added.
	ErrAlreadyHasRoot = errors.NewKind("store already has root snapshot %s")

	// ErrNoRootSnapshot is returned by traversals of an empty store.
	ErrNoRootSnapshot = errors.NewKind("store has no root snapshot")

	// ErrSnapshotIdMismatch is returned by Restore when a persisted id does
	// not match its content.
	ErrSnapshotIdMismatch = errors.NewKind("snapshot %s does not match its content, expected %s")
)

// Snapshot is a point in history. The root snapshot has no source parent;
// a merge snapshot has a target parent.
type Snapshot struct {
	Root   hash.Hash
	Source hash.Hash
	Target hash.Hash
}

// IsRoot returns true for the single parentless snapshot of a store.
func (s Snapshot) IsRoot() bool {
	return s.Source.IsEmpty()
}

// IsMerge returns true for snapshots with two parents.
func (s Snapshot) IsMerge() bool {
	return !s.Target.IsEmpty()
}

type entry struct {
	Snapshot
	seq int
}

const leafTreeDegree = 32

// Store is the in-memory snapshot history. It is safe for concurrent readers
// but expects a single writer.
type Store struct {
	mu     sync.RWMutex
	hashFn hash.Func

	snaps map[hash.Hash]entry
	order []hash.Hash
	// all children, including merge snapshots under their target parent
	children map[hash.Hash][]hash.Hash
	// children along the source-parent chain only, in insertion order
	srcChildren map[hash.Hash][]hash.Hash
	leaves      *btree.BTreeG[hash.Hash]
	root        hash.Hash

	tree *treeIndex
}

// NewStore returns an empty snapshot store deriving ids with |hashFn|.
func NewStore(hashFn hash.Func) *Store {
	return NewStoreWithCapacity(hashFn, 0)
}

// NewStoreWithCapacity pre-sizes the store for |count| snapshots.
func NewStoreWithCapacity(hashFn hash.Func, count int) *Store {
	return &Store{
		hashFn:      hashFn,
		snaps:       make(map[hash.Hash]entry, count),
		order:       make([]hash.Hash, 0, count),
		children:    make(map[hash.Hash][]hash.Hash, count),
		srcChildren: make(map[hash.Hash][]hash.Hash, count),
		leaves:      btree.NewG[hash.Hash](leafTreeDegree, hash.Hash.Less),
	}
}

// HashFunc returns the function used to derive snapshot ids.
func (s *Store) HashFunc() hash.Func {
	return s.hashFn
}

// PlanRoot validates a root insertion and returns the id it would have.
// It does not mutate the store.
func (s *Store) PlanRoot(rootNode hash.Hash) (hash.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.root.IsEmpty() {
		return hash.Empty, ErrAlreadyHasRoot.New(s.root)
	}
	return s.hashFn.OfSnapshot(rootNode, hash.Empty, hash.Empty), nil
}

// PlanSnapshot validates a snapshot insertion and returns the id it would
// have, and whether that snapshot is already present. It does not mutate the
// store.
func (s *Store) PlanSnapshot(rootNode, source, target hash.Hash) (id hash.Hash, exists bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.snaps[source]; !ok {
		return hash.Empty, false, ErrSnapshotNotFound.New(source)
	}
	if !target.IsEmpty() {
		if _, ok := s.snaps[target]; !ok {
			return hash.Empty, false, ErrSnapshotNotFound.New(target)
		}
	}
	id = s.hashFn.OfSnapshot(rootNode, source, target)
	_, exists = s.snaps[id]
	return id, exists, nil
}

// AddRoot registers the root snapshot of the store.
func (s *Store) AddRoot(rootNode hash.Hash) (hash.Hash, error) {
	id, err := s.PlanRoot(rootNode)
	if err != nil {
		return hash.Empty, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insert(id, Snapshot{Root: rootNode})
	return id, nil
}

// AddSnapshot registers a snapshot whose parent is |source| and, for merges,
// |target|. Pass hash.Empty as |target| for a linear snapshot. Adding an
// existing snapshot again returns its id and changes nothing.
func (s *Store) AddSnapshot(rootNode, source, target hash.Hash) (hash.Hash, error) {
	id, exists, err := s.PlanSnapshot(rootNode, source, target)
	if err != nil || exists {
		return id, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insert(id, Snapshot{Root: rootNode, Source: source, Target: target})
	return id, nil
}

// Restore inserts a snapshot read back from a persisted index. The id is
// verified against its content and parents must already be present, which
// holds for any index written in insertion order.
func (s *Store) Restore(id hash.Hash, snap Snapshot) error {
	expected := s.hashFn.OfSnapshot(snap.Root, snap.Source, snap.Target)
	if expected != id {
		return ErrSnapshotIdMismatch.New(id, expected)
	}
	if snap.IsRoot() {
		if !snap.Target.IsEmpty() {
			return ErrSnapshotNotFound.New(snap.Source)
		}
		if _, err := s.PlanRoot(snap.Root); err != nil {
			return err
		}
	} else {
		_, exists, err := s.PlanSnapshot(snap.Root, snap.Source, snap.Target)
		if err != nil || exists {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insert(id, snap)
	return nil
}

func (s *Store) insert(id hash.Hash, snap Snapshot) {
	if _, ok := s.snaps[id]; ok {
		return
	}
	s.snaps[id] = entry{Snapshot: snap, seq: len(s.order)}
	s.order = append(s.order, id)

	if snap.IsRoot() {
		s.root = id
	} else {
		s.children[snap.Source] = append(s.children[snap.Source], id)
		s.srcChildren[snap.Source] = append(s.srcChildren[snap.Source], id)
		s.leaves.Delete(snap.Source)
	}
	if snap.IsMerge() {
		s.children[snap.Target] = append(s.children[snap.Target], id)
		s.leaves.Delete(snap.Target)
	}
	s.leaves.ReplaceOrInsert(id)

	if s.tree != nil {
		s.tree.add(id, s.snaps[id])
	}
}

// Has returns true iff |id| is present.
func (s *Store) Has(id hash.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.snaps[id]
	return ok
}

// Get returns the snapshot |id|.
func (s *Store) Get(id hash.Hash) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.snaps[id]
	if !ok {
		return Snapshot{}, ErrSnapshotNotFound.New(id)
	}
	return e.Snapshot, nil
}

// Root returns the id of the root snapshot, or false if there is none.
func (s *Store) Root() (hash.Hash, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root, !s.root.IsEmpty()
}

// HasRoot returns true once a root snapshot has been added.
func (s *Store) HasRoot() bool {
	_, ok := s.Root()
	return ok
}

// Len returns the number of snapshots.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Children returns the children of |id| in insertion order, including merge
// snapshots for which |id| is the target parent.
func (s *Store) Children(id hash.Hash) (hash.HashSlice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.snaps[id]; !ok {
		return nil, ErrSnapshotNotFound.New(id)
	}
	return append(hash.HashSlice(nil), s.children[id]...), nil
}

// IsLeaf returns true if |id| is present and has no children.
func (s *Store) IsLeaf(id hash.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leaves.Has(id)
}

// Leaves returns the snapshots with no children, in ascending id order.
func (s *Store) Leaves() hash.HashSlice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(hash.HashSlice, 0, s.leaves.Len())
	s.leaves.Ascend(func(h hash.Hash) bool {
		out = append(out, h)
		return true
	})
	return out
}

// LeafCount returns the size of the leaf set.
func (s *Store) LeafCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leaves.Len()
}

// RecomputeLeaves derives the leaf set by scanning every snapshot for
// children, ignoring the incrementally maintained set.
func (s *Store) RecomputeLeaves() hash.HashSlice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(hash.HashSlice, 0)
	for _, id := range s.order {
		if len(s.children[id]) == 0 {
			out = append(out, id)
		}
	}
	sort.Sort(out)
	return out
}

// Iter calls |cb| for every snapshot in insertion order, stopping at the
// first error. Parents are always visited before their children.
func (s *Store) Iter(cb func(id hash.Hash, snap Snapshot) error) error {
	s.mu.RLock()
	order := s.order[:len(s.order):len(s.order)]
	s.mu.RUnlock()

	for _, id := range order {
		snap, err := s.Get(id)
		if err != nil {
			return err
		}
		if err = cb(id, snap); err != nil {
			return err
		}
	}
	return nil
}

// sourceParent returns the source parent of |id| and whether |id| exists.
// Callers must hold s.mu.
func (s *Store) sourceParent(id hash.Hash) (hash.Hash, bool) {
	e, ok := s.snaps[id]
	return e.Source, ok
}

func (s *Store) seq(id hash.Hash) int {
	return s.snaps[id].seq
}

// WalkTree visits every snapshot depth first, starting at the root and
// following source-parent edges, with siblings in insertion order. The root
// is reported with empty parents. Traversal uses an explicit stack, so deep
// histories are safe.
func (s *Store) WalkTree(visitor func(id, source, target, rootNode hash.Hash) error) error {
	s.mu.RLock()
	root := s.root
	s.mu.RUnlock()
	if root.IsEmpty() {
		return ErrNoRootSnapshot.New()
	}

	stack := []hash.Hash{root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		s.mu.RLock()
		e, ok := s.snaps[id]
		kids := s.srcChildren[id]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
		s.mu.RUnlock()
		d.PanicIfFalse(ok)

		if err := visitor(id, e.Source, e.Target, e.Root); err != nil {
			return err
		}
	}
	return nil
}
