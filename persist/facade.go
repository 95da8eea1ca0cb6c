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

// Package persist keeps the in-memory node and snapshot stores mirrored to a
// durable backend. Every mutation is validated against memory, written to
// the backend and only then applied to memory, so a failed write leaves both
// sides unchanged.
package persist

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dolthub/snapstore/d"
	"github.com/dolthub/snapstore/hash"
	"github.com/dolthub/snapstore/journal"
	"github.com/dolthub/snapstore/metrics"
	"github.com/dolthub/snapstore/nodes"
	"github.com/dolthub/snapstore/snapshots"
)

// Backend is a durable mirror of a node store and a snapshot store.
type Backend interface {
	AppendNode(id hash.Hash, data []byte) error
	AppendSnapshot(id hash.Hash, snap snapshots.Snapshot) error

	// Replay inserts every persisted node and snapshot, snapshots in
	// insertion order.
	Replay(ns nodes.TrustedInserter, ss journal.SnapshotRestorer) (journal.Replayed, error)

	// RewriteLeaves replaces the persisted leaf set.
	RewriteLeaves(leaves hash.HashSlice) error

	NodeCount() int
	SnapshotCount() int
	Sync() error
	Close() error
}

var _ Backend = (*journal.Journal)(nil)

// NodeStore is a nodes.Store that writes new nodes through to a Backend.
// Reads are served by the embedded MemoryStore.
type NodeStore struct {
	*nodes.MemoryStore
	backend Backend
	mu      sync.Mutex
	metrics *metrics.Metrics
	log     *logrus.Entry
}

var _ nodes.Store = (*NodeStore)(nil)

// NewNodeStore mirrors |mem| to |backend|. A nil backend keeps nodes in
// memory only.
func NewNodeStore(mem *nodes.MemoryStore, backend Backend, m *metrics.Metrics, log *logrus.Entry) *NodeStore {
	return &NodeStore{MemoryStore: mem, backend: backend, metrics: m, log: log}
}

// AddNode implements nodes.Store.
func (s *NodeStore) AddNode(data []byte) (hash.Hash, error) {
	id := s.HashFunc().Of(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MemoryStore.HasNode(id) {
		s.metrics.NodeAdded(len(data), true)
		return s.MemoryStore.AddNode(data)
	}
	if s.backend != nil {
		if err := s.backend.AppendNode(id, data); err != nil {
			return hash.Empty, err
		}
	}
	if _, err := s.MemoryStore.AddNode(data); err != nil {
		return hash.Empty, err
	}
	s.metrics.NodeAdded(len(data), false)
	if s.log != nil {
		s.log.WithField("node", id).Debug("added node")
	}
	return id, nil
}

// InsertTrusted is not available on a mirrored store; nodes must go through
// AddNode so that they reach the backend.
func (s *NodeStore) InsertTrusted(id hash.Hash, data []byte) error {
	d.Panic("InsertTrusted called on a mirrored node store")
	return nil
}

// SnapshotStore is a snapshots.Store that writes new snapshots through to a
// Backend.
type SnapshotStore struct {
	*snapshots.Store
	backend Backend
	mu      sync.Mutex
	metrics *metrics.Metrics
	log     *logrus.Entry
}

// NewSnapshotStore mirrors |mem| to |backend|. A nil backend keeps snapshots
// in memory only.
func NewSnapshotStore(mem *snapshots.Store, backend Backend, m *metrics.Metrics, log *logrus.Entry) *SnapshotStore {
	return &SnapshotStore{Store: mem, backend: backend, metrics: m, log: log}
}

// AddRoot records the root snapshot in the backend and then in memory.
func (s *SnapshotStore) AddRoot(rootNode hash.Hash) (hash.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.Store.PlanRoot(rootNode)
	if err != nil {
		return hash.Empty, err
	}
	if err = s.append(id, snapshots.Snapshot{Root: rootNode}); err != nil {
		return hash.Empty, err
	}
	if id, err = s.Store.AddRoot(rootNode); err != nil {
		return hash.Empty, err
	}
	s.metrics.SetLeaves(s.Store.LeafCount())
	return id, nil
}

// AddSnapshot records a snapshot in the backend and then in memory. Adding
// an existing snapshot writes nothing.
func (s *SnapshotStore) AddSnapshot(rootNode, source, target hash.Hash) (hash.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, exists, err := s.Store.PlanSnapshot(rootNode, source, target)
	if err != nil || exists {
		return id, err
	}
	snap := snapshots.Snapshot{Root: rootNode, Source: source, Target: target}
	if err = s.append(id, snap); err != nil {
		return hash.Empty, err
	}
	if id, err = s.Store.AddSnapshot(rootNode, source, target); err != nil {
		return hash.Empty, err
	}
	s.metrics.SetLeaves(s.Store.LeafCount())
	return id, nil
}

func (s *SnapshotStore) append(id hash.Hash, snap snapshots.Snapshot) error {
	if s.backend != nil {
		if err := s.backend.AppendSnapshot(id, snap); err != nil {
			return err
		}
	}
	s.metrics.SnapshotAdded(snap.IsMerge())
	if s.log != nil {
		s.log.WithFields(logrus.Fields{
			"snapshot": id,
			"source":   snap.Source,
			"target":   snap.Target,
		}).Debug("added snapshot")
	}
	return nil
}

// Restore is not available on a mirrored store.
func (s *SnapshotStore) Restore(id hash.Hash, snap snapshots.Snapshot) error {
	d.Panic("Restore called on a mirrored snapshot store")
	return nil
}
