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

// Package leveldb is a durable backend that keeps nodes, snapshots and the
// leaf set in a single LevelDB database. Snapshots are keyed by insertion
// sequence so that iteration replays them in the order they were added.
package leveldb

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/dolthub/snapstore/hash"
	"github.com/dolthub/snapstore/journal"
	"github.com/dolthub/snapstore/nodes"
	"github.com/dolthub/snapstore/snapshots"
)

var (
	hashFuncKey   = []byte("/meta/hash")
	nodeCountKey  = []byte("/meta/nodes")
	nodePrefix    = []byte("/node/")
	snapPrefix    = []byte("/snap/")
	leafPrefix    = []byte("/leaf/")
	snapValueSize = 4 * hash.ByteLen
)

func prefixedKey(prefix []byte, id uint64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	// big-endian so that keys sort numerically
	binary.BigEndian.PutUint64(k[len(prefix):], id)
	return k
}

func nodeKey(id hash.Hash) []byte { return prefixedKey(nodePrefix, uint64(id)) }
func leafKey(id hash.Hash) []byte { return prefixedKey(leafPrefix, uint64(id)) }
func snapKey(seq uint64) []byte   { return prefixedKey(snapPrefix, seq) }

// Options configure a Store.
type Options struct {
	HashFunc    hash.Func
	WriteBuffer int
	SyncWrites  bool
	VerifyNodes bool
	Logger      *logrus.Entry
}

// Store is a LevelDB-backed durable mirror of a node store and a snapshot
// store.
type Store struct {
	db     *leveldb.DB
	mu     sync.Mutex
	opts   Options
	wo     *opt.WriteOptions
	log    *logrus.Entry
	nodes  uint64
	snaps  uint64
	closed bool
}

// Open opens or creates the database in |dir|.
func Open(dir string, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithFields(logrus.Fields{"dir": dir, "backend": "leveldb"})

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating %s", dir)
	}
	wb := opts.WriteBuffer
	if wb <= 0 {
		wb = 1 << 24 // 16MiB
	}
	db, err := leveldb.OpenFile(dir, &opt.Options{
		Compression: opt.NoCompression,
		Filter:      filter.NewBloomFilter(10), // 10 bits/key
		WriteBuffer: wb,
	})
	if err != nil {
		if lerrors.IsCorrupted(err) {
			return nil, journal.ErrCorruptLog.Wrap(err, dir, "leveldb")
		}
		return nil, errors.Wrapf(err, "opening leveldb %s", dir)
	}

	s := &Store{db: db, opts: opts, wo: &opt.WriteOptions{Sync: opts.SyncWrites}, log: logger}
	if err = s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	name, err := s.db.Get(hashFuncKey, nil)
	if err == lerrors.ErrNotFound {
		s.log.Info("created new leveldb store")
		return s.db.Put(hashFuncKey, []byte(s.opts.HashFunc.Name()), &opt.WriteOptions{Sync: true})
	} else if err != nil {
		return errors.Wrap(err, "reading hash function")
	}
	if string(name) != s.opts.HashFunc.Name() {
		return journal.ErrHashFuncMismatch.New(string(name), s.opts.HashFunc.Name())
	}

	if v, err := s.db.Get(nodeCountKey, nil); err == nil {
		s.nodes = binary.BigEndian.Uint64(v)
	} else if err != lerrors.ErrNotFound {
		return errors.Wrap(err, "reading node count")
	}

	it := s.db.NewIterator(util.BytesPrefix(snapPrefix), nil)
	defer it.Release()
	if it.Last() {
		s.snaps = binary.BigEndian.Uint64(it.Key()[len(snapPrefix):]) + 1
	}
	return it.Error()
}

// NodeCount returns the number of persisted nodes.
func (s *Store) NodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.nodes)
}

// SnapshotCount returns the number of persisted snapshots.
func (s *Store) SnapshotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.snaps)
}

// AppendNode stores |data| under |id| together with the updated node count.
func (s *Store) AppendNode(id hash.Hash, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cnt := make([]byte, 8)
	binary.BigEndian.PutUint64(cnt, s.nodes+1)
	b := new(leveldb.Batch)
	b.Put(nodeKey(id), data)
	b.Put(nodeCountKey, cnt)
	if err := s.db.Write(b, s.wo); err != nil {
		return errors.Wrapf(err, "writing node %s", id)
	}
	s.nodes++
	return nil
}

// AppendSnapshot stores |snap| at the next sequence number and applies the
// leaf set changes in the same batch.
func (s *Store) AppendSnapshot(id hash.Hash, snap snapshots.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	val := make([]byte, snapValueSize)
	id.Put(val)
	snap.Root.Put(val[hash.ByteLen:])
	snap.Source.Put(val[2*hash.ByteLen:])
	snap.Target.Put(val[3*hash.ByteLen:])

	b := new(leveldb.Batch)
	b.Put(snapKey(s.snaps), val)
	if !snap.IsRoot() {
		b.Delete(leafKey(snap.Source))
	}
	if snap.IsMerge() {
		b.Delete(leafKey(snap.Target))
	}
	b.Put(leafKey(id), nil)
	if err := s.db.Write(b, s.wo); err != nil {
		return errors.Wrapf(err, "writing snapshot %s", id)
	}
	s.snaps++
	return nil
}

// RewriteLeaves replaces the stored leaf set.
func (s *Store) RewriteLeaves(leaves hash.HashSlice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := new(leveldb.Batch)
	it := s.db.NewIterator(util.BytesPrefix(leafPrefix), nil)
	for it.Next() {
		b.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}
	for _, id := range leaves {
		b.Put(leafKey(id), nil)
	}
	return s.db.Write(b, &opt.WriteOptions{Sync: true})
}

// Replay loads every node and snapshot. Snapshots are restored in sequence
// order.
func (s *Store) Replay(ns nodes.TrustedInserter, ss journal.SnapshotRestorer) (journal.Replayed, error) {
	var r journal.Replayed
	dbs, err := s.db.GetSnapshot()
	if err != nil {
		return r, err
	}
	defer dbs.Release()

	it := dbs.NewIterator(util.BytesPrefix(nodePrefix), nil)
	for it.Next() {
		k := it.Key()
		if len(k) != len(nodePrefix)+hash.ByteLen {
			it.Release()
			return r, journal.ErrCorruptLog.New("leveldb", "bad node key")
		}
		id := hash.Hash(binary.BigEndian.Uint64(k[len(nodePrefix):]))
		data := it.Value()
		if s.opts.VerifyNodes && s.opts.HashFunc.Of(data) != id {
			it.Release()
			return r, journal.ErrHashMismatch.New(id)
		}
		// the store copies |data|
		if err = ns.InsertTrusted(id, data); err != nil {
			it.Release()
			return r, err
		}
		r.Nodes++
		r.NodeBytes += int64(len(data))
	}
	it.Release()
	if err = it.Error(); err != nil {
		return r, err
	}

	it = dbs.NewIterator(util.BytesPrefix(snapPrefix), nil)
	for it.Next() {
		v := it.Value()
		if len(v) != snapValueSize {
			it.Release()
			return r, journal.ErrCorruptLog.New("leveldb", "bad snapshot value")
		}
		id := hash.Read(v)
		sn := snapshots.Snapshot{
			Root:   hash.Read(v[hash.ByteLen:]),
			Source: hash.Read(v[2*hash.ByteLen:]),
			Target: hash.Read(v[3*hash.ByteLen:]),
		}
		if err = ss.Restore(id, sn); err != nil {
			it.Release()
			return r, journal.ErrCorruptLog.Wrap(err, "leveldb", "snapshot "+id.String())
		}
		r.Snapshots++
	}
	it.Release()
	if err = it.Error(); err != nil {
		return r, err
	}

	leaves := hash.NewHashSet()
	it = dbs.NewIterator(util.BytesPrefix(leafPrefix), nil)
	for it.Next() {
		leaves.Insert(hash.Hash(binary.BigEndian.Uint64(it.Key()[len(leafPrefix):])))
	}
	it.Release()
	if err = it.Error(); err != nil {
		return r, err
	}
	if leaves.Size() > 0 {
		r.Leaves = leaves
	}

	s.log.WithFields(logrus.Fields{
		"nodes":      r.Nodes,
		"node_bytes": humanize.IBytes(uint64(r.NodeBytes)),
		"snapshots":  r.Snapshots,
	}).Info("replayed leveldb store")
	return r, nil
}

// Sync forces the write-ahead log to disk. It is a no-op when every write is
// already synchronous.
func (s *Store) Sync() error {
	if s.opts.SyncWrites {
		return nil
	}
	return s.db.Put(hashFuncKey, []byte(s.opts.HashFunc.Name()), &opt.WriteOptions{Sync: true})
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
