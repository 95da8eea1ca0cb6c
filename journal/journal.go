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

// Package journal persists a snapshot store as four append-only logs in a
// directory:
//
//	nodes.idx      node index records
//	nodes.dat      concatenated node bytes
//	snapshots.idx  snapshot index records, in insertion order
//	leaves.log     leaf set add/remove events
//
// A manifest records the format version and hash function, and a LOCK file
// keeps a second process from opening the same directory.
package journal

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/dolthub/fslock"
	"github.com/dustin/go-humanize"
	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	goerrors "gopkg.in/src-d/go-errors.v1"

	"github.com/dolthub/snapstore/hash"
	"github.com/dolthub/snapstore/nodes"
	"github.com/dolthub/snapstore/snapshots"
)

const (
	NodeIndexFileName     = "nodes.idx"
	NodeDataFileName      = "nodes.dat"
	SnapshotIndexFileName = "snapshots.idx"
	LeafLogFileName       = "leaves.log"

	defaultWriteBufferSize = 64 * 1024
)

var (
	// ErrCorruptLog is returned when a persisted log cannot be replayed.
	ErrCorruptLog = goerrors.NewKind("corrupt log %s: %s")

	// ErrHashMismatch is returned when node bytes do not hash to their id.
	ErrHashMismatch = goerrors.NewKind("node %s does not match its content")

	// ErrLocked is returned when another process holds the store lock.
	ErrLocked = goerrors.NewKind("store %s is locked by another process")

	// ErrUnsupportedVersion is returned for manifests of an unknown format.
	ErrUnsupportedVersion = goerrors.NewKind("unsupported store format version %s")

	// ErrHashFuncMismatch is returned when a store is opened with a hash
	// function other than the one it was created with.
	ErrHashFuncMismatch = goerrors.NewKind("store uses hash function %s, not %s")
)

// Options configure a Journal.
type Options struct {
	// HashFunc must match the function the store was created with.
	HashFunc hash.Func
	// WriteBufferSize is the per-log write buffer.
	WriteBufferSize int
	// SyncWrites flushes and fsyncs every log after each append.
	SyncWrites bool
	// LockTimeout bounds how long Open waits for the directory lock.
	LockTimeout time.Duration
	// VerifyNodes re-hashes node bytes during Replay.
	VerifyNodes bool
	Logger      *logrus.Entry
}

// Replayed summarizes a Replay.
type Replayed struct {
	Nodes     int
	NodeBytes int64
	Snapshots int
	// Leaves is the leaf set described by the leaf log, or nil if the log
	// was empty or unreadable.
	Leaves hash.HashSet
}

// SnapshotRestorer receives snapshots during Replay.
type SnapshotRestorer interface {
	Restore(id hash.Hash, snap snapshots.Snapshot) error
}

// Journal is the file-backed durable mirror of a node store and a snapshot
// store. It is written through persist's facades and read back only by
// Replay.
type Journal struct {
	dir  string
	opts Options
	log  *logrus.Entry
	lck  *fslock.Lock
	mc   manifestContents

	nodeIdx  *journalWriter
	nodeData *journalWriter
	snapIdx  *journalWriter
	leafLog  *journalWriter
}

// Open opens or creates the journal in |dir|.
func Open(ctx context.Context, dir string, opts Options) (j *Journal, err error) {
	if opts.WriteBufferSize <= 0 {
		opts.WriteBufferSize = defaultWriteBufferSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithField("dir", dir)

	if err = os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating %s", dir)
	}

	lck, err := acquireLock(ctx, dir, opts.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			lck.Unlock()
		}
	}()

	mc, created, err := loadOrCreateManifest(dir, opts.HashFunc.Name())
	if err != nil {
		return nil, err
	}
	if mc.hashName != opts.HashFunc.Name() {
		return nil, ErrHashFuncMismatch.New(mc.hashName, opts.HashFunc.Name())
	}
	if created {
		logger.WithField("store_id", mc.storeID).Info("created new journal")
	}

	j = &Journal{dir: dir, opts: opts, log: logger, lck: lck, mc: mc}
	defer func() {
		if err != nil {
			j.closeFiles()
		}
	}()

	if j.nodeData, err = j.openLog(NodeDataFileName); err != nil {
		return nil, err
	}
	if j.nodeIdx, err = j.openLog(NodeIndexFileName); err != nil {
		return nil, err
	}
	if j.snapIdx, err = j.openLog(SnapshotIndexFileName); err != nil {
		return nil, err
	}
	if j.leafLog, err = j.openLog(LeafLogFileName); err != nil {
		return nil, err
	}

	// Each log only references entries of the log before it, so flush the
	// referenced log first.
	j.nodeIdx.preFlush = j.nodeData.Flush
	j.snapIdx.preFlush = j.nodeIdx.Flush
	j.leafLog.preFlush = j.snapIdx.Flush
	return j, nil
}

func (j *Journal) openLog(name string) (*journalWriter, error) {
	path := filepath.Join(j.dir, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	return newJournalWriter(f, info.Size(), j.opts.WriteBufferSize), nil
}

// Dir returns the journal directory.
func (j *Journal) Dir() string {
	return j.dir
}

// StoreID returns the id recorded in the manifest when the store was created.
func (j *Journal) StoreID() string {
	return j.mc.storeID.String()
}

// AppendNode appends |data| to the node data log and indexes it under |id|.
// A failed append leaves both logs at their previous length.
func (j *Journal) AppendNode(id hash.Hash, data []byte) (err error) {
	off := j.nodeData.Offset()
	if off+int64(len(data)) > MaxDataLogSize {
		return errors.Errorf("node data log %s is full: %s", j.dir, humanize.IBytes(uint64(off)))
	}
	defer j.rollbackOnError(&err, j.nodeIdx, j.nodeData)()

	if _, err = j.nodeData.Write(data); err != nil {
		return errors.Wrap(err, "writing node data")
	}
	buf, err := j.nodeIdx.GetBytes(NodeIndexRecordSize)
	if err != nil {
		return errors.Wrap(err, "writing node index")
	}
	writeNodeIndexRecord(buf, nodeIndexRecord{id: id, offset: int32(off), length: int32(len(data))})
	return j.maybeSync(j.nodeIdx)
}

// AppendSnapshot appends |snap| to the snapshot index and records the leaf
// set changes its insertion causes. A failed append leaves both logs at
// their previous length.
func (j *Journal) AppendSnapshot(id hash.Hash, snap snapshots.Snapshot) (err error) {
	defer j.rollbackOnError(&err, j.leafLog, j.snapIdx)()

	buf, err := j.snapIdx.GetBytes(SnapshotIndexRecordSize)
	if err != nil {
		return errors.Wrap(err, "writing snapshot index")
	}
	writeSnapshotIndexRecord(buf, snapshotIndexRecord{id: id, snap: snap})

	for _, ev := range leafEventsFor(id, snap) {
		buf, err = j.leafLog.GetBytes(LeafEventRecordSize)
		if err != nil {
			return errors.Wrap(err, "writing leaf log")
		}
		writeLeafEvent(buf, ev)
	}
	return j.maybeSync(j.leafLog)
}

// rollbackOnError records the current length of each writer and returns a
// func that, if *errp is set when it runs, cuts every writer back to that
// length. Writers are listed dependents first.
func (j *Journal) rollbackOnError(errp *error, ws ...*journalWriter) func() {
	offs := make([]int64, len(ws))
	for i, w := range ws {
		offs[i] = w.Offset()
	}
	return func() {
		if *errp == nil {
			return
		}
		for i, w := range ws {
			if terr := w.Truncate(offs[i]); terr != nil {
				j.log.WithError(terr).WithField("file", w.file.Name()).Error("failed to roll back append")
			}
		}
	}
}

// maybeSync flushes and fsyncs |last| and, through the preFlush chain, every
// log it depends on.
func (j *Journal) maybeSync(last *journalWriter) error {
	if !j.opts.SyncWrites {
		return nil
	}
	if err := last.Flush(); err != nil {
		return err
	}
	for _, w := range []*journalWriter{j.nodeData, j.nodeIdx, j.snapIdx, j.leafLog} {
		if err := w.file.Sync(); err != nil {
			return errors.Wrapf(err, "syncing %s", w.file.Name())
		}
		if w == last {
			break
		}
	}
	return nil
}

// RewriteLeaves replaces the leaf log with one add event per leaf. The new
// log is written beside the old one and renamed into place.
func (j *Journal) RewriteLeaves(leaves hash.HashSlice) error {
	if err := j.leafLog.Flush(); err != nil {
		return err
	}
	buf := make([]byte, len(leaves)*LeafEventRecordSize)
	for i, id := range leaves {
		writeLeafEvent(buf[i*LeafEventRecordSize:], leafEvent{op: addLeafOp, id: id})
	}

	path := filepath.Join(j.dir, LeafLogFileName)
	if err := writeFileAtomically(path, buf); err != nil {
		return err
	}
	if err := j.leafLog.file.Close(); err != nil {
		return err
	}
	w, err := j.openLog(LeafLogFileName)
	if err != nil {
		return err
	}
	w.preFlush = j.snapIdx.Flush
	j.leafLog = w
	return nil
}

// Replay reads every log from its start, inserting nodes into |ns| and
// snapshots into |ss|. Buffered appends are flushed first.
func (j *Journal) Replay(ns nodes.TrustedInserter, ss SnapshotRestorer) (Replayed, error) {
	var r Replayed
	start := time.Now()
	if err := j.leafLog.Flush(); err != nil {
		return r, err
	}

	if err := j.replayNodes(ns, &r); err != nil {
		return r, err
	}
	if err := j.replaySnapshots(ss, &r); err != nil {
		return r, err
	}
	j.replayLeaves(&r)

	j.log.WithFields(logrus.Fields{
		"nodes":      r.Nodes,
		"node_bytes": humanize.IBytes(uint64(r.NodeBytes)),
		"snapshots":  r.Snapshots,
		"elapsed":    time.Since(start),
	}).Info("replayed journal")
	return r, nil
}

// NodeCount returns the number of node index records, for pre-sizing.
func (j *Journal) NodeCount() int {
	return int(j.nodeIdx.Offset() / NodeIndexRecordSize)
}

// SnapshotCount returns the number of snapshot index records.
func (j *Journal) SnapshotCount() int {
	return int(j.snapIdx.Offset() / SnapshotIndexRecordSize)
}

func readLog(w *journalWriter, recordSize int) ([]byte, error) {
	sz := w.Offset()
	if sz%int64(recordSize) != 0 {
		return nil, ErrCorruptLog.New(w.file.Name(), "length is not a multiple of the record size")
	}
	buf := make([]byte, sz)
	if sz == 0 {
		return buf, nil
	}
	if _, err := w.file.ReadAt(buf, 0); err != nil {
		return nil, errors.Wrapf(err, "reading %s", w.file.Name())
	}
	return buf, nil
}

func (j *Journal) replayNodes(ns nodes.TrustedInserter, r *Replayed) (err error) {
	idx, err := readLog(j.nodeIdx, NodeIndexRecordSize)
	if err != nil {
		return err
	}
	if len(idx) == 0 {
		return nil
	}

	dataLen := j.nodeData.Offset()
	var data []byte
	if dataLen > 0 {
		m, merr := mmap.Map(j.nodeData.file, mmap.RDONLY, 0)
		if merr != nil {
			return errors.Wrapf(merr, "mapping %s", j.nodeData.file.Name())
		}
		defer func() {
			if uerr := m.Unmap(); err == nil {
				err = uerr
			}
		}()
		data = m
	}

	for len(idx) > 0 {
		rec := readNodeIndexRecord(idx)
		idx = idx[NodeIndexRecordSize:]

		end := int64(rec.offset) + int64(rec.length)
		if rec.offset < 0 || rec.length < 0 || end > dataLen {
			return ErrCorruptLog.New(j.nodeIdx.file.Name(), "node record out of bounds")
		}
		node := data[rec.offset:end]
		if j.opts.VerifyNodes && j.opts.HashFunc.Of(node) != rec.id {
			return ErrHashMismatch.New(rec.id)
		}
		if err = ns.InsertTrusted(rec.id, node); err != nil {
			return err
		}
		r.Nodes++
		r.NodeBytes += int64(rec.length)
	}
	return nil
}

func (j *Journal) replaySnapshots(ss SnapshotRestorer, r *Replayed) error {
	idx, err := readLog(j.snapIdx, SnapshotIndexRecordSize)
	if err != nil {
		return err
	}
	for len(idx) > 0 {
		rec := readSnapshotIndexRecord(idx)
		idx = idx[SnapshotIndexRecordSize:]
		if err = ss.Restore(rec.id, rec.snap); err != nil {
			return ErrCorruptLog.Wrap(err, j.snapIdx.file.Name(), "snapshot "+rec.id.String())
		}
		r.Snapshots++
	}
	return nil
}

// replayLeaves never fails: the leaf set can always be recomputed from the
// snapshot index, so an unreadable leaf log is reported as unknown.
func (j *Journal) replayLeaves(r *Replayed) {
	buf, err := readLog(j.leafLog, LeafEventRecordSize)
	if err != nil {
		j.log.WithError(err).Warn("ignoring leaf log")
		return
	}
	if len(buf) == 0 {
		return
	}
	leaves := hash.NewHashSet()
	for len(buf) > 0 {
		ev := readLeafEvent(buf)
		buf = buf[LeafEventRecordSize:]
		switch ev.op {
		case addLeafOp:
			leaves.Insert(ev.id)
		case removeLeafOp:
			leaves.Remove(ev.id)
		default:
			j.log.WithField("op", ev.op).Warn("ignoring leaf log with unknown event")
			return
		}
	}
	r.Leaves = leaves
}

// Sync flushes and fsyncs every log.
func (j *Journal) Sync() error {
	if err := j.leafLog.Flush(); err != nil {
		return err
	}
	for _, w := range []*journalWriter{j.nodeData, j.nodeIdx, j.snapIdx, j.leafLog} {
		if err := w.file.Sync(); err != nil {
			return errors.Wrapf(err, "syncing %s", w.file.Name())
		}
	}
	return nil
}

// Close flushes every log and releases the directory lock.
func (j *Journal) Close() error {
	err := j.Sync()
	if cerr := j.closeFiles(); err == nil {
		err = cerr
	}
	if uerr := j.lck.Unlock(); err == nil {
		err = uerr
	}
	return err
}

func (j *Journal) closeFiles() (err error) {
	// leaf log first so that its flush chain still has open files
	for _, w := range []*journalWriter{j.leafLog, j.snapIdx, j.nodeIdx, j.nodeData} {
		if w == nil {
			continue
		}
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
