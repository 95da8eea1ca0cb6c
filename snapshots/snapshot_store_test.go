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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dolthub/snapstore/d"
	"github.com/dolthub/snapstore/hash"
)

func nodeID(s string) hash.Hash {
	return hash.Of([]byte(s))
}

func mustAdd(t *testing.T, s *Store, root string, source, target hash.Hash) hash.Hash {
	id, err := s.AddSnapshot(nodeID(root), source, target)
	require.NoError(t, err)
	return id
}

func TestAddRoot(t *testing.T) {
	s := NewStore(hash.XXH64)
	assert.False(t, s.HasRoot())

	root, err := s.AddRoot(nodeID("r"))
	require.NoError(t, err)
	assert.Equal(t, hash.XXH64.OfSnapshot(nodeID("r"), hash.Empty, hash.Empty), root)
	assert.True(t, s.HasRoot())
	assert.True(t, s.IsLeaf(root))

	_, err = s.AddRoot(nodeID("other"))
	assert.True(t, ErrAlreadyHasRoot.Is(err))
	_, err = s.AddRoot(nodeID("r"))
	assert.True(t, ErrAlreadyHasRoot.Is(err))
	assert.Equal(t, 1, s.Len())
}

func TestAddSnapshotRequiresParents(t *testing.T) {
	s := NewStore(hash.XXH64)
	_, err := s.AddSnapshot(nodeID("a"), nodeID("nope"), hash.Empty)
	assert.True(t, ErrSnapshotNotFound.Is(err))

	root, err := s.AddRoot(nodeID("r"))
	require.NoError(t, err)
	_, err = s.AddSnapshot(nodeID("a"), root, nodeID("nope"))
	assert.True(t, ErrSnapshotNotFound.Is(err))
	_, err = s.AddSnapshot(nodeID("a"), hash.Empty, hash.Empty)
	assert.True(t, ErrSnapshotNotFound.Is(err))
	assert.Equal(t, 1, s.Len())
}

func TestAddSnapshotIsIdempotent(t *testing.T) {
	s := NewStore(hash.XXH64)
	root, err := s.AddRoot(nodeID("r"))
	require.NoError(t, err)

	a1 := mustAdd(t, s, "a", root, hash.Empty)
	a2 := mustAdd(t, s, "a", root, hash.Empty)
	assert.Equal(t, a1, a2)

	kids, err := s.Children(root)
	require.NoError(t, err)
	assert.Equal(t, hash.HashSlice{a1}, kids)
	assert.Equal(t, 2, s.Len())
}

func TestLeafSet(t *testing.T) {
	s := NewStore(hash.XXH64)
	root, err := s.AddRoot(nodeID("r"))
	require.NoError(t, err)
	a := mustAdd(t, s, "a", root, hash.Empty)
	b := mustAdd(t, s, "b", root, hash.Empty)
	c := mustAdd(t, s, "c", a, hash.Empty)

	assert.Equal(t, hash.NewHashSet(b, c).Sorted(), s.Leaves())
	assert.False(t, s.IsLeaf(root))
	assert.False(t, s.IsLeaf(a))

	m := mustAdd(t, s, "m", c, b)
	assert.Equal(t, hash.HashSlice{m}, s.Leaves())
	assert.Equal(t, s.RecomputeLeaves(), s.Leaves())

	kids, err := s.Children(b)
	require.NoError(t, err)
	assert.Equal(t, hash.HashSlice{m}, kids)
	kids, err = s.Children(m)
	require.NoError(t, err)
	assert.Empty(t, kids)
	_, err = s.Children(nodeID("nope"))
	assert.True(t, ErrSnapshotNotFound.Is(err))
}

func TestLeastCommonAncestor(t *testing.T) {
	s := NewStore(hash.XXH64)
	r, err := s.AddRoot(nodeID("r"))
	require.NoError(t, err)
	a := mustAdd(t, s, "a", r, hash.Empty)
	b1 := mustAdd(t, s, "b1", a, hash.Empty)
	b2 := mustAdd(t, s, "b2", a, hash.Empty)
	c1 := mustAdd(t, s, "c1", b1, hash.Empty)
	x := mustAdd(t, s, "x", r, hash.Empty)

	tests := []struct {
		a, b, lca hash.Hash
	}{
		{b1, b2, a},
		{b2, b1, a},
		{c1, b2, a},
		{c1, b1, b1},
		{b1, c1, b1},
		{c1, x, r},
		{r, c1, r},
		{a, a, a},
	}
	for i, test := range tests {
		lca, err := s.LeastCommonAncestor(test.a, test.b)
		require.NoError(t, err)
		assert.Equal(t, test.lca, lca, "case %d", i)
	}

	_, err = s.LeastCommonAncestor(a, nodeID("nope"))
	assert.True(t, ErrSnapshotNotFound.Is(err))
}

func TestLeastCommonAncestorIgnoresTargetParents(t *testing.T) {
	s := NewStore(hash.XXH64)
	r, err := s.AddRoot(nodeID("r"))
	require.NoError(t, err)
	a := mustAdd(t, s, "a", r, hash.Empty)
	b := mustAdd(t, s, "b", r, hash.Empty)
	m := mustAdd(t, s, "m", a, b)
	b2 := mustAdd(t, s, "b2", b, hash.Empty)

	lca, err := s.LeastCommonAncestor(m, b2)
	require.NoError(t, err)
	assert.Equal(t, r, lca)
}

func TestLeastCommonAncestorPanicsOnCorruptHistory(t *testing.T) {
	s := NewStore(hash.XXH64)
	r, err := s.AddRoot(nodeID("r"))
	require.NoError(t, err)

	// a second root can only appear through corruption
	orphan := hash.XXH64.OfSnapshot(nodeID("o"), hash.Empty, hash.Empty)
	s.snaps[orphan] = entry{Snapshot: Snapshot{Root: nodeID("o")}, seq: 1}

	err = d.Try(func() {
		_, _ = s.LeastCommonAncestor(r, orphan)
	})
	assert.Error(t, err)
}

func TestIsAncestor(t *testing.T) {
	s := NewStore(hash.XXH64)
	r, err := s.AddRoot(nodeID("r"))
	require.NoError(t, err)
	a := mustAdd(t, s, "a", r, hash.Empty)
	b := mustAdd(t, s, "b", a, hash.Empty)
	c := mustAdd(t, s, "c", r, hash.Empty)

	for _, test := range []struct {
		anc, desc hash.Hash
		expected  bool
	}{
		{r, b, true},
		{a, b, true},
		{b, b, true},
		{b, a, false},
		{c, b, false},
		{a, c, false},
	} {
		ok, err := s.IsAncestor(test.anc, test.desc)
		require.NoError(t, err)
		assert.Equal(t, test.expected, ok)
	}

	chain, err := s.Ancestors(b)
	require.NoError(t, err)
	assert.Equal(t, hash.HashSlice{b, a, r}, chain)
}

type visit struct {
	id, source, target, root hash.Hash
}

func TestWalkTree(t *testing.T) {
	s := NewStore(hash.XXH64)
	err := s.WalkTree(func(id, source, target, rootNode hash.Hash) error {
		return nil
	})
	assert.True(t, ErrNoRootSnapshot.Is(err))

	r, err := s.AddRoot(nodeID("r"))
	require.NoError(t, err)
	a := mustAdd(t, s, "a", r, hash.Empty)
	b := mustAdd(t, s, "b", r, hash.Empty)
	a1 := mustAdd(t, s, "a1", a, hash.Empty)
	a2 := mustAdd(t, s, "a2", a, hash.Empty)
	m := mustAdd(t, s, "m", b, a2)

	var visits []visit
	err = s.WalkTree(func(id, source, target, rootNode hash.Hash) error {
		visits = append(visits, visit{id, source, target, rootNode})
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []visit{
		{r, hash.Empty, hash.Empty, nodeID("r")},
		{a, r, hash.Empty, nodeID("a")},
		{a1, a, hash.Empty, nodeID("a1")},
		{a2, a, hash.Empty, nodeID("a2")},
		{b, r, hash.Empty, nodeID("b")},
		{m, b, a2, nodeID("m")},
	}, visits)

	stop := fmt.Errorf("stop")
	cnt := 0
	err = s.WalkTree(func(id, source, target, rootNode hash.Hash) error {
		cnt++
		return stop
	})
	assert.Equal(t, stop, err)
	assert.Equal(t, 1, cnt)
}

func TestWalkTreeDeepHistory(t *testing.T) {
	s := NewStore(hash.XXH64)
	prev, err := s.AddRoot(nodeID("0"))
	require.NoError(t, err)
	const depth = 100000
	for i := 1; i < depth; i++ {
		prev = mustAdd(t, s, fmt.Sprint(i), prev, hash.Empty)
	}

	cnt := 0
	require.NoError(t, s.WalkTree(func(id, source, target, rootNode hash.Hash) error {
		cnt++
		return nil
	}))
	assert.Equal(t, depth, cnt)

	tree, err := s.Tree()
	require.NoError(t, err)
	assert.Equal(t, depth, tree.Size())
}

func TestRestore(t *testing.T) {
	src := NewStore(hash.XXH3)
	r, err := src.AddRoot(nodeID("r"))
	require.NoError(t, err)
	a := mustAdd(t, src, "a", r, hash.Empty)
	b := mustAdd(t, src, "b", r, hash.Empty)
	mustAdd(t, src, "m", a, b)

	dst := NewStoreWithCapacity(hash.XXH3, src.Len())
	require.NoError(t, src.Iter(func(id hash.Hash, snap Snapshot) error {
		return dst.Restore(id, snap)
	}))
	assert.Equal(t, src.Len(), dst.Len())
	assert.Equal(t, src.Leaves(), dst.Leaves())
	root, ok := dst.Root()
	assert.True(t, ok)
	assert.Equal(t, r, root)

	err = dst.Restore(nodeID("bogus"), Snapshot{Root: nodeID("x"), Source: r})
	assert.True(t, ErrSnapshotIdMismatch.Is(err))

	other := hash.XXH3.OfSnapshot(nodeID("x"), hash.Empty, hash.Empty)
	err = dst.Restore(other, Snapshot{Root: nodeID("x")})
	assert.True(t, ErrAlreadyHasRoot.Is(err))

	orphanSrc := nodeID("missing parent")
	orphan := hash.XXH3.OfSnapshot(nodeID("y"), orphanSrc, hash.Empty)
	err = dst.Restore(orphan, Snapshot{Root: nodeID("y"), Source: orphanSrc})
	assert.True(t, ErrSnapshotNotFound.Is(err))
}
