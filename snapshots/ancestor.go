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

package snapshots

import (
	"github.com/dolthub/snapstore/d"
	"github.com/dolthub/snapstore/hash"
)

// LeastCommonAncestor returns the most recent snapshot that is an ancestor of
// both |a| and |b| along the source-parent chain. Target parents of merge
// snapshots are not considered. A snapshot is its own ancestor.
//
// Every snapshot descends from the single root, so failing to find a common
// ancestor means the store is corrupt and panics.
func (s *Store) LeastCommonAncestor(a, b hash.Hash) (hash.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.snaps[a]; !ok {
		return hash.Empty, ErrSnapshotNotFound.New(a)
	}
	if _, ok := s.snaps[b]; !ok {
		return hash.Empty, ErrSnapshotNotFound.New(b)
	}

	seen := hash.NewHashSet()
	for curr := a; !curr.IsEmpty(); {
		seen.Insert(curr)
		parent, ok := s.sourceParent(curr)
		d.PanicIfFalse(ok)
		curr = parent
	}

	for curr := b; !curr.IsEmpty(); {
		if seen.Has(curr) {
			return curr, nil
		}
		parent, ok := s.sourceParent(curr)
		d.PanicIfFalse(ok)
		curr = parent
	}

	d.Panic("no common ancestor for snapshots %s and %s", a, b)
	return hash.Empty, nil
}

// IsAncestor returns true if |ancestor| is |descendant| or lies on its
// source-parent chain.
func (s *Store) IsAncestor(ancestor, descendant hash.Hash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.snaps[ancestor]; !ok {
		return false, ErrSnapshotNotFound.New(ancestor)
	}
	if _, ok := s.snaps[descendant]; !ok {
		return false, ErrSnapshotNotFound.New(descendant)
	}

	for curr := descendant; !curr.IsEmpty(); {
		if curr == ancestor {
			return true, nil
		}
		parent, ok := s.sourceParent(curr)
		d.PanicIfFalse(ok)
		curr = parent
	}
	return false, nil
}

// Ancestors returns the source-parent chain of |id|, starting with |id| and
// ending with the root.
func (s *Store) Ancestors(id hash.Hash) (hash.HashSlice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.snaps[id]; !ok {
		return nil, ErrSnapshotNotFound.New(id)
	}
	var out hash.HashSlice
	for curr := id; !curr.IsEmpty(); {
		out = append(out, curr)
		parent, ok := s.sourceParent(curr)
		d.PanicIfFalse(ok)
		curr = parent
	}
	return out, nil
}
