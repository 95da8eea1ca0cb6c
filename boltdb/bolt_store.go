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

// Package boltdb is a durable backend on a single bbolt file. Node values
// are snappy compressed. Snapshots live in a bucket keyed by the bucket's
// sequence so that a cursor replays them in insertion order.
package boltdb

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/dolthub/snapstore/hash"
	"github.com/dolthub/snapstore/journal"
	"github.com/dolthub/snapstore/nodes"
	"github.com/dolthub/snapstore/snapshots"
)

const (
	// DBFileName is the bolt file created inside the store directory.
	DBFileName = "snapshots.bolt"

	minLockWait = 10 * time.Millisecond
)

var (
	metaBucket  = []byte("meta")
	nodeBucket  = []byte("nodes")
	snapBucket  = []byte("snapshots")
	leafBucket  = []byte("leaves")
	hashFuncKey = []byte("hash")
)

func idKey(id hash.Hash) []byte {
	k := make([]byte, hash.ByteLen)
	binary.BigEndian.PutUint64(k, uint64(id))
	return k
}

// Options configure a Store.
type Options struct {
	HashFunc    hash.Func
	SyncWrites  bool
	LockTimeout time.Duration
	VerifyNodes bool
	Logger      *logrus.Entry
}

// Store is a bbolt-backed durable mirror of a node store and a snapshot
// store. Every append is its own transaction.
type Store struct {
	db   *bolt.DB
	opts Options
	log  *logrus.Entry
}

// Open opens or creates the bolt file in |dir|.
func Open(dir string, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithFields(logrus.Fields{"dir": dir, "backend": "bolt"})

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating %s", dir)
	}
	// bolt waits forever on a zero timeout
	wait := opts.LockTimeout
	if wait < minLockWait {
		wait = minLockWait
	}
	path := filepath.Join(dir, DBFileName)
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: wait, NoSync: !opts.SyncWrites})
	if err == bolt.ErrTimeout {
		return nil, journal.ErrLocked.New(dir)
	} else if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}

	s := &Store{db: db, opts: opts, log: logger}
	if err = db.Update(s.init); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(tx *bolt.Tx) error {
	for _, name := range [][]byte{metaBucket, nodeBucket, snapBucket, leafBucket} {
		if _, err := tx.CreateBucketIfNotExists(name); err != nil {
			return errors.Wrapf(err, "creating bucket %s", name)
		}
	}
	meta := tx.Bucket(metaBucket)
	name := meta.Get(hashFuncKey)
	if name == nil {
		s.log.Info("created new bolt store")
		return meta.Put(hashFuncKey, []byte(s.opts.HashFunc.Name()))
	}
	if string(name) != s.opts.HashFunc.Name() {
		return journal.ErrHashFuncMismatch.New(string(name), s.opts.HashFunc.Name())
	}
	return nil
}

// NodeCount returns the number of persisted nodes.
func (s *Store) NodeCount() (n int) {
	s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(nodeBucket).Stats().KeyN
		return nil
	})
	return n
}

// SnapshotCount returns the number of persisted snapshots.
func (s *Store) SnapshotCount() (n int) {
	s.db.View(func(tx *bolt.Tx) error {
		n = int(tx.Bucket(snapBucket).Sequence())
		return nil
	})
	return n
}

// AppendNode stores the compressed |data| under |id|.
func (s *Store) AppendNode(id hash.Hash, data []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(nodeBucket).Put(idKey(id), snappy.Encode(nil, data))
	})
	return errors.Wrapf(err, "writing node %s", id)
}

// AppendSnapshot stores |snap| under the next sequence number and updates
// the leaf bucket in the same transaction.
func (s *Store) AppendSnapshot(id hash.Hash, snap snapshots.Snapshot) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(snapBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		val := make([]byte, 4*hash.ByteLen)
		id.Put(val)
		snap.Root.Put(val[hash.ByteLen:])
		snap.Source.Put(val[2*hash.ByteLen:])
		snap.Target.Put(val[3*hash.ByteLen:])
		k := make([]byte, 8)
		binary.BigEndian.PutUint64(k, seq)
		if err = b.Put(k, val); err != nil {
			return err
		}

		leaves := tx.Bucket(leafBucket)
		if !snap.IsRoot() {
			if err = leaves.Delete(idKey(snap.Source)); err != nil {
				return err
			}
		}
		if snap.IsMerge() {
			if err = leaves.Delete(idKey(snap.Target)); err != nil {
				return err
			}
		}
		return leaves.Put(idKey(id), []byte{})
	})
	return errors.Wrapf(err, "writing snapshot %s", id)
}

// RewriteLeaves replaces the leaf bucket.
func (s *Store) RewriteLeaves(leaves hash.HashSlice) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(leafBucket); err != nil {
			return err
		}
		b, err := tx.CreateBucket(leafBucket)
		if err != nil {
			return err
		}
		for _, id := range leaves {
			if err = b.Put(idKey(id), []byte{}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Replay loads every node and snapshot inside a single read transaction.
func (s *Store) Replay(ns nodes.TrustedInserter, ss journal.SnapshotRestorer) (journal.Replayed, error) {
	var r journal.Replayed
	err := s.db.View(func(tx *bolt.Tx) error {
		var buf []byte
		err := tx.Bucket(nodeBucket).ForEach(func(k, v []byte) error {
			if len(k) != hash.ByteLen {
				return journal.ErrCorruptLog.New(DBFileName, "bad node key")
			}
			id := hash.Hash(binary.BigEndian.Uint64(k))
			n, err := snappy.DecodedLen(v)
			if err != nil {
				return journal.ErrCorruptLog.Wrap(err, DBFileName, "node "+id.String())
			}
			if cap(buf) < n {
				buf = make([]byte, n)
			}
			data, err := snappy.Decode(buf[:cap(buf)], v)
			if err != nil {
				return journal.ErrCorruptLog.Wrap(err, DBFileName, "node "+id.String())
			}
			if s.opts.VerifyNodes && s.opts.HashFunc.Of(data) != id {
				return journal.ErrHashMismatch.New(id)
			}
			if err = ns.InsertTrusted(id, data); err != nil {
				return err
			}
			r.Nodes++
			r.NodeBytes += int64(len(data))
			return nil
		})
		if err != nil {
			return err
		}

		err = tx.Bucket(snapBucket).ForEach(func(k, v []byte) error {
			if len(v) != 4*hash.ByteLen {
				return journal.ErrCorruptLog.New(DBFileName, "bad snapshot value")
			}
			id := hash.Read(v)
			snap := snapshots.Snapshot{
				Root:   hash.Read(v[hash.ByteLen:]),
				Source: hash.Read(v[2*hash.ByteLen:]),
				Target: hash.Read(v[3*hash.ByteLen:]),
			}
			if err := ss.Restore(id, snap); err != nil {
				return journal.ErrCorruptLog.Wrap(err, DBFileName, "snapshot "+id.String())
			}
			r.Snapshots++
			return nil
		})
		if err != nil {
			return err
		}

		leaves := hash.NewHashSet()
		err = tx.Bucket(leafBucket).ForEach(func(k, _ []byte) error {
			leaves.Insert(hash.Hash(binary.BigEndian.Uint64(k)))
			return nil
		})
		if leaves.Size() > 0 {
			r.Leaves = leaves
		}
		return err
	})
	if err != nil {
		return r, err
	}

	s.log.WithFields(logrus.Fields{
		"nodes":      r.Nodes,
		"node_bytes": humanize.IBytes(uint64(r.NodeBytes)),
		"snapshots":  r.Snapshots,
	}).Info("replayed bolt store")
	return r, nil
}

// Sync fsyncs the bolt file.
func (s *Store) Sync() error {
	return s.db.Sync()
}

// Close closes the bolt file.
func (s *Store) Close() error {
	return s.db.Close()
}
