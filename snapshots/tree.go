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
	"sort"

	"github.com/dolthub/snapstore/hash"
)

// TreeNode is one snapshot in the materialized hierarchy. Children follow
// source-parent edges in insertion order; a merge snapshot appears under its
// source parent only.
type TreeNode struct {
	ID       hash.Hash
	Snapshot Snapshot
	Children []*TreeNode

	seq int
}

type treeIndex struct {
	root  *TreeNode
	nodes map[hash.Hash]*TreeNode
}

// Tree returns the root of the snapshot hierarchy, materializing it on first
// use. Later inserts are added to the materialized tree as they happen, so
// the returned nodes grow with the store.
func (s *Store) Tree() (*TreeNode, error) {
	s.mu.RLock()
	if s.tree != nil {
		root := s.tree.root
		s.mu.RUnlock()
		return root, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root.IsEmpty() {
		return nil, ErrNoRootSnapshot.New()
	}
	if s.tree == nil {
		s.tree = s.buildTree()
	}
	return s.tree.root, nil
}

// buildTree walks upward from every leaf toward the root, stopping as soon as
// it reaches a snapshot already discovered from an earlier leaf. Target
// parents of merge snapshots are queued as extra starting points, since a
// snapshot whose only children are merges is neither a leaf nor on any
// leaf's source chain. Callers must hold s.mu for writing.
func (s *Store) buildTree() *treeIndex {
	ti := &treeIndex{nodes: make(map[hash.Hash]*TreeNode, len(s.snaps))}

	starts := make([]hash.Hash, 0, s.leaves.Len())
	s.leaves.Ascend(func(h hash.Hash) bool {
		starts = append(starts, h)
		return true
	})

	for len(starts) > 0 {
		start := starts[len(starts)-1]
		starts = starts[:len(starts)-1]
		if _, ok := ti.nodes[start]; ok {
			continue
		}

		child := ti.newNode(start, s.snaps[start])
		for {
			if child.Snapshot.IsMerge() {
				starts = append(starts, child.Snapshot.Target)
			}
			if child.Snapshot.IsRoot() {
				ti.root = child
				break
			}
			parentID := child.Snapshot.Source
			if parent, ok := ti.nodes[parentID]; ok {
				parent.Children = append(parent.Children, child)
				break
			}
			parent := ti.newNode(parentID, s.snaps[parentID])
			parent.Children = append(parent.Children, child)
			child = parent
		}
	}

	for _, n := range ti.nodes {
		if len(n.Children) > 1 {
			sort.Slice(n.Children, func(i, j int) bool {
				return n.Children[i].seq < n.Children[j].seq
			})
		}
	}
	return ti
}

func (ti *treeIndex) newNode(id hash.Hash, e entry) *TreeNode {
	n := &TreeNode{ID: id, Snapshot: e.Snapshot, seq: e.seq}
	ti.nodes[id] = n
	return n
}

// add registers a snapshot inserted after materialization.
func (ti *treeIndex) add(id hash.Hash, e entry) {
	n := ti.newNode(id, e)
	if e.IsRoot() {
		ti.root = n
		return
	}
	parent := ti.nodes[e.Source]
	parent.Children = append(parent.Children, n)
}

// Walk visits |n| and its descendants depth first with an explicit stack.
// Returning false from |cb| skips the node's children.
func (n *TreeNode) Walk(cb func(node *TreeNode, depth int) bool) {
	type frame struct {
		node  *TreeNode
		depth int
	}
	stack := []frame{{n, 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !cb(f.node, f.depth) {
			continue
		}
		for i := len(f.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{f.node.Children[i], f.depth + 1})
		}
	}
}

// Size returns the number of nodes in the subtree rooted at |n|.
func (n *TreeNode) Size() int {
	cnt := 0
	n.Walk(func(*TreeNode, int) bool {
		cnt++
		return true
	})
	return cnt
}
