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

package persist

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dolthub/snapstore/boltdb"
	"github.com/dolthub/snapstore/config"
	"github.com/dolthub/snapstore/hash"
	"github.com/dolthub/snapstore/journal"
	"github.com/dolthub/snapstore/leveldb"
	"github.com/dolthub/snapstore/metrics"
	"github.com/dolthub/snapstore/nodes"
	"github.com/dolthub/snapstore/snapshots"
)

var _ Backend = (*leveldb.Store)(nil)
var _ Backend = (*boltdb.Store)(nil)

// Stores is an opened pair of mirrored stores.
type Stores struct {
	Nodes     *NodeStore
	Snapshots *SnapshotStore
	Replayed  journal.Replayed

	backend Backend
	log     *logrus.Entry
}

// Open opens the backend named by |cfg| and rebuilds the memory stores from
// it. |log| and |m| may be nil.
func Open(ctx context.Context, cfg config.Config, log *logrus.Entry, m *metrics.Metrics) (*Stores, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hashFn, err := cfg.HashFunc()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = cfg.NewLogger()
	}
	log = log.WithField("backend", cfg.Backend)

	backend, err := openBackend(ctx, cfg, hashFn, log)
	if err != nil {
		return nil, err
	}

	var nodeCount, snapCount int
	if backend != nil {
		nodeCount, snapCount = backend.NodeCount(), backend.SnapshotCount()
	}
	mem := nodes.NewMemoryStoreWithCapacity(hashFn, cfg.ArenaChunkSize, nodeCount)
	snaps := snapshots.NewStoreWithCapacity(hashFn, snapCount)

	s := &Stores{backend: backend, log: log}
	if backend != nil {
		start := time.Now()
		if s.Replayed, err = backend.Replay(mem, snaps); err != nil {
			backend.Close()
			return nil, err
		}
		m.Replayed(time.Since(start))
		if err = reconcileLeaves(backend, snaps, s.Replayed.Leaves, cfg.RepairLeaves, log); err != nil {
			backend.Close()
			return nil, err
		}
	}
	m.SetLeaves(snaps.LeafCount())

	s.Nodes = NewNodeStore(mem, backend, m, log)
	s.Snapshots = NewSnapshotStore(snaps, backend, m, log)
	return s, nil
}

func openBackend(ctx context.Context, cfg config.Config, hashFn hash.Func, log *logrus.Entry) (Backend, error) {
	switch cfg.Backend {
	case config.BackendJournal:
		return journal.Open(ctx, cfg.Dir, journal.Options{
			HashFunc:        hashFn,
			WriteBufferSize: cfg.WriteBufferSize,
			SyncWrites:      cfg.SyncWrites,
			LockTimeout:     cfg.LockTimeout(),
			VerifyNodes:     cfg.VerifyNodes,
			Logger:          log,
		})
	case config.BackendLevelDB:
		return leveldb.Open(cfg.Dir, leveldb.Options{
			HashFunc:    hashFn,
			SyncWrites:  cfg.SyncWrites,
			VerifyNodes: cfg.VerifyNodes,
			Logger:      log,
		})
	case config.BackendBolt:
		return boltdb.Open(cfg.Dir, boltdb.Options{
			HashFunc:    hashFn,
			SyncWrites:  cfg.SyncWrites,
			LockTimeout: cfg.LockTimeout(),
			VerifyNodes: cfg.VerifyNodes,
			Logger:      log,
		})
	}
	return nil, nil
}

// reconcileLeaves compares the persisted leaf set with one recomputed from
// the snapshot index. The recomputed set always wins in memory; it is only
// written back when |repair| is set.
func reconcileLeaves(backend Backend, snaps *snapshots.Store, persisted hash.HashSet, repair bool, log *logrus.Entry) error {
	recomputed := snaps.RecomputeLeaves()
	switch {
	case persisted == nil && snaps.Len() == 0:
		return nil
	case persisted == nil:
		log.WithField("leaves", len(recomputed)).Warn("persisted leaf set is empty, recomputed from snapshot index")
	case !persisted.Equals(recomputed.HashSet()):
		log.WithFields(logrus.Fields{
			"persisted":  persisted.Size(),
			"recomputed": len(recomputed),
		}).Warn("persisted leaf set disagrees with snapshot index, using recomputed set")
	default:
		return nil
	}
	if !repair {
		return nil
	}
	return backend.RewriteLeaves(recomputed)
}

// Sync forces every durable write to disk.
func (s *Stores) Sync() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Sync()
}

// Close syncs and closes the backend.
func (s *Stores) Close() error {
	if s.backend == nil {
		return nil
	}
	s.log.Info("closing store")
	return s.backend.Close()
}
