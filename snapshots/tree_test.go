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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dolthub/snapstore/hash"
)

func treeIDs(n *TreeNode) map[hash.Hash]hash.HashSlice {
	out := make(map[hash.Hash]hash.HashSlice)
	n.Walk(func(node *TreeNode, _ int) bool {
		kids := hash.HashSlice{}
		for _, c := range node.Children {
			kids = append(kids, c.ID)
		}
		out[node.ID] = kids
		return true
	})
	return out
}

func TestTreeEmptyStore(t *testing.T) {
	s := NewStore(hash.XXH64)
	_, err := s.Tree()
	assert.True(t, ErrNoRootSnapshot.Is(err))
}

func TestTreeMaterialization(t *testing.T) {
	s := NewStore(hash.XXH64)
	r, err := s.AddRoot(nodeID("r"))
	require.NoError(t, err)
	a := mustAdd(t, s, "a", r, hash.Empty)
	b := mustAdd(t, s, "b", r, hash.Empty)
	a1 := mustAdd(t, s, "a1", a, hash.Empty)
	a2 := mustAdd(t, s, "a2", a, hash.Empty)
	c := mustAdd(t, s, "c", r, hash.Empty)
	// a2 now has only a merge child
	m := mustAdd(t, s, "m", b, a2)

	tree, err := s.Tree()
	require.NoError(t, err)
	assert.Equal(t, r, tree.ID)
	assert.Equal(t, 7, tree.Size())
	assert.Equal(t, map[hash.Hash]hash.HashSlice{
		r:  {a, b, c},
		a:  {a1, a2},
		b:  {m},
		a1: {},
		a2: {},
		c:  {},
		m:  {},
	}, treeIDs(tree))

	// incremental inserts after materialization
	d := mustAdd(t, s, "d", r, hash.Empty)
	m2 := mustAdd(t, s, "m2", a1, m)
	again, err := s.Tree()
	require.NoError(t, err)
	assert.Same(t, tree, again)
	ids := treeIDs(again)
	assert.Equal(t, hash.HashSlice{a, b, c, d}, ids[r])
	assert.Equal(t, hash.HashSlice{m2}, ids[a1])
	assert.Equal(t, 9, again.Size())
}

func TestTreeWalkPrunes(t *testing.T) {
	s := NewStore(hash.XXH64)
	r, err := s.AddRoot(nodeID("r"))
	require.NoError(t, err)
	a := mustAdd(t, s, "a", r, hash.Empty)
	mustAdd(t, s, "a1", a, hash.Empty)
	b := mustAdd(t, s, "b", r, hash.Empty)

	tree, err := s.Tree()
	require.NoError(t, err)

	var visited hash.HashSlice
	depths := map[hash.Hash]int{}
	tree.Walk(func(n *TreeNode, depth int) bool {
		visited = append(visited, n.ID)
		depths[n.ID] = depth
		return n.ID != a
	})
	assert.Equal(t, hash.HashSlice{r, a, b}, visited)
	assert.Equal(t, 1, depths[b])
}
