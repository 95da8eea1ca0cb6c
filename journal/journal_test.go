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

package journal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dolthub/snapstore/hash"
	"github.com/dolthub/snapstore/nodes"
	"github.com/dolthub/snapstore/snapshots"
)

func TestRecords(t *testing.T) {
	buf := make([]byte, SnapshotIndexRecordSize)

	nr := nodeIndexRecord{id: hash.Of([]byte("node")), offset: 1234, length: 56}
	writeNodeIndexRecord(buf, nr)
	assert.Equal(t, nr, readNodeIndexRecord(buf))

	sr := snapshotIndexRecord{
		id:   hash.Hash(1),
		snap: snapshots.Snapshot{Root: hash.Hash(2), Source: hash.Hash(3), Target: hash.Hash(4)},
	}
	writeSnapshotIndexRecord(buf, sr)
	assert.Equal(t, sr, readSnapshotIndexRecord(buf))
	assert.Equal(t, byte(1), buf[0])
	assert.Equal(t, byte(4), buf[3*hash.ByteLen])

	ev := leafEvent{op: removeLeafOp, id: hash.Hash(0xabcdef)}
	writeLeafEvent(buf, ev)
	assert.Equal(t, ev, readLeafEvent(buf))
}

func TestLeafEventsFor(t *testing.T) {
	root := snapshots.Snapshot{Root: hash.Hash(9)}
	assert.Equal(t, []leafEvent{{op: addLeafOp, id: 1}}, leafEventsFor(1, root))

	child := snapshots.Snapshot{Root: hash.Hash(9), Source: 1}
	assert.Equal(t, []leafEvent{
		{op: removeLeafOp, id: 1},
		{op: addLeafOp, id: 2},
	}, leafEventsFor(2, child))

	merge := snapshots.Snapshot{Root: hash.Hash(9), Source: 2, Target: 3}
	assert.Equal(t, []leafEvent{
		{op: removeLeafOp, id: 2},
		{op: removeLeafOp, id: 3},
		{op: addLeafOp, id: 4},
	}, leafEventsFor(4, merge))
}

func testOptions() Options {
	return Options{HashFunc: hash.XXH64, WriteBufferSize: 64, VerifyNodes: true}
}

// populate writes a small history: r <- a <- b, r <- c, m = merge(b, c).
func populate(t *testing.T, j *Journal, ns *nodes.MemoryStore, ss *snapshots.Store) {
	addNode := func(s string) hash.Hash {
		id, err := ns.AddNode([]byte(s))
		require.NoError(t, err)
		require.NoError(t, j.AppendNode(id, []byte(s)))
		return id
	}
	addSnap := func(root, source, target hash.Hash) hash.Hash {
		id, err := ss.AddSnapshot(root, source, target)
		require.NoError(t, err)
		snap, err := ss.Get(id)
		require.NoError(t, err)
		require.NoError(t, j.AppendSnapshot(id, snap))
		return id
	}

	r, err := ss.AddRoot(addNode("root"))
	require.NoError(t, err)
	rs, err := ss.Get(r)
	require.NoError(t, err)
	require.NoError(t, j.AppendSnapshot(r, rs))

	a := addSnap(addNode("a"), r, hash.Empty)
	b := addSnap(addNode("b"), a, hash.Empty)
	c := addSnap(addNode("c"), r, hash.Empty)
	addSnap(addNode(""), b, c)
}

func TestJournalRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	ns := nodes.NewMemoryStore(hash.XXH64, 0)
	ss := snapshots.NewStore(hash.XXH64)
	j, err := Open(ctx, dir, testOptions())
	require.NoError(t, err)
	populate(t, j, ns, ss)
	storeID := j.StoreID()
	require.NoError(t, j.Close())

	j, err = Open(ctx, dir, testOptions())
	require.NoError(t, err)
	defer j.Close()
	assert.Equal(t, storeID, j.StoreID())
	assert.Equal(t, ns.Len(), j.NodeCount())
	assert.Equal(t, ss.Len(), j.SnapshotCount())

	ns2 := nodes.NewMemoryStoreWithCapacity(hash.XXH64, 0, j.NodeCount())
	ss2 := snapshots.NewStoreWithCapacity(hash.XXH64, j.SnapshotCount())
	r, err := j.Replay(ns2, ss2)
	require.NoError(t, err)
	assert.Equal(t, ns.Len(), r.Nodes)
	assert.Equal(t, ss.Len(), r.Snapshots)
	assert.Equal(t, ns.Stats().LogicalBytes, uint64(r.NodeBytes))
	assert.True(t, r.Leaves.Equals(ss.Leaves().HashSet()))

	require.NoError(t, ns.Iter(func(id hash.Hash, data []byte) error {
		got, err := ns2.Bytes(id)
		require.NoError(t, err)
		assert.Equal(t, data, got)
		return nil
	}))
	require.NoError(t, ss.Iter(func(id hash.Hash, snap snapshots.Snapshot) error {
		got, err := ss2.Get(id)
		require.NoError(t, err)
		assert.Equal(t, snap, got)
		return nil
	}))
	assert.Equal(t, ss.Leaves(), ss2.Leaves())
}

func TestJournalReplayAfterUnflushedAppends(t *testing.T) {
	ctx := context.Background()
	j, err := Open(ctx, t.TempDir(), testOptions())
	require.NoError(t, err)
	defer j.Close()

	ns := nodes.NewMemoryStore(hash.XXH64, 0)
	ss := snapshots.NewStore(hash.XXH64)
	populate(t, j, ns, ss)

	ns2 := nodes.NewMemoryStore(hash.XXH64, 0)
	ss2 := snapshots.NewStore(hash.XXH64)
	r, err := j.Replay(ns2, ss2)
	require.NoError(t, err)
	assert.Equal(t, ns.Len(), r.Nodes)
	assert.Equal(t, ss.Len(), r.Snapshots)
}

func TestJournalSyncWrites(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	opts := testOptions()
	opts.SyncWrites = true
	j, err := Open(ctx, dir, opts)
	require.NoError(t, err)
	defer j.Close()

	ns := nodes.NewMemoryStore(hash.XXH64, 0)
	ss := snapshots.NewStore(hash.XXH64)
	populate(t, j, ns, ss)

	info, err := os.Stat(filepath.Join(dir, SnapshotIndexFileName))
	require.NoError(t, err)
	assert.Equal(t, int64(ss.Len()*SnapshotIndexRecordSize), info.Size())
	info, err = os.Stat(filepath.Join(dir, NodeDataFileName))
	require.NoError(t, err)
	assert.Equal(t, int64(ns.Stats().LogicalBytes), info.Size())
}

func fileSize(t *testing.T, path string) int64 {
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.Size()
}

func TestJournalFailedSnapshotAppendRollsBack(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	opts := testOptions()
	opts.SyncWrites = true
	j, err := Open(ctx, dir, opts)
	require.NoError(t, err)

	ss := snapshots.NewStore(hash.XXH64)
	r, err := ss.AddRoot(hash.Of([]byte("root")))
	require.NoError(t, err)
	rs, err := ss.Get(r)
	require.NoError(t, err)
	require.NoError(t, j.AppendSnapshot(r, rs))

	snapPath := filepath.Join(dir, SnapshotIndexFileName)
	leafPath := filepath.Join(dir, LeafLogFileName)
	require.Equal(t, int64(SnapshotIndexRecordSize), fileSize(t, snapPath))
	leafSize := fileSize(t, leafPath)

	// the snapshot record reaches disk through the flush chain before the
	// leaf log write fails
	require.NoError(t, j.leafLog.file.Close())
	child := snapshots.Snapshot{Root: hash.Of([]byte("child")), Source: r}
	childID := hash.XXH64.OfSnapshot(child.Root, child.Source, child.Target)
	assert.Error(t, j.AppendSnapshot(childID, child))

	assert.Equal(t, int64(SnapshotIndexRecordSize), j.snapIdx.Offset())
	assert.Equal(t, int64(SnapshotIndexRecordSize), fileSize(t, snapPath))
	assert.Equal(t, leafSize, fileSize(t, leafPath))
	_ = j.Close()

	j, err = Open(ctx, dir, testOptions())
	require.NoError(t, err)
	defer j.Close()
	ss2 := snapshots.NewStore(hash.XXH64)
	replayed, err := j.Replay(nodes.NewMemoryStore(hash.XXH64, 0), ss2)
	require.NoError(t, err)
	assert.Equal(t, 1, replayed.Snapshots)
	assert.False(t, ss2.Has(childID))
	assert.True(t, replayed.Leaves.Equals(hash.NewHashSet(r)))
}

func TestJournalFailedNodeAppendRollsBack(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	opts := testOptions()
	opts.SyncWrites = true
	j, err := Open(ctx, dir, opts)
	require.NoError(t, err)

	first := []byte("first")
	require.NoError(t, j.AppendNode(hash.Of(first), first))

	dataPath := filepath.Join(dir, NodeDataFileName)
	require.Equal(t, int64(len(first)), fileSize(t, dataPath))

	require.NoError(t, j.nodeIdx.file.Close())
	second := []byte("second")
	assert.Error(t, j.AppendNode(hash.Of(second), second))

	assert.Equal(t, int64(len(first)), j.nodeData.Offset())
	assert.Equal(t, int64(len(first)), fileSize(t, dataPath))
	assert.Equal(t, int64(NodeIndexRecordSize), fileSize(t, filepath.Join(dir, NodeIndexFileName)))
	_ = j.Close()

	j, err = Open(ctx, dir, testOptions())
	require.NoError(t, err)
	defer j.Close()
	ns := nodes.NewMemoryStore(hash.XXH64, 0)
	replayed, err := j.Replay(ns, snapshots.NewStore(hash.XXH64))
	require.NoError(t, err)
	assert.Equal(t, 1, replayed.Nodes)
	assert.False(t, ns.HasNode(hash.Of(second)))
}

func TestJournalCorruptIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	j, err := Open(ctx, dir, testOptions())
	require.NoError(t, err)
	populate(t, j, nodes.NewMemoryStore(hash.XXH64, 0), snapshots.NewStore(hash.XXH64))
	require.NoError(t, j.Close())

	// torn tail on the snapshot index
	f, err := os.OpenFile(filepath.Join(dir, SnapshotIndexFileName), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	j, err = Open(ctx, dir, testOptions())
	require.NoError(t, err)
	defer j.Close()
	_, err = j.Replay(nodes.NewMemoryStore(hash.XXH64, 0), snapshots.NewStore(hash.XXH64))
	assert.True(t, ErrCorruptLog.Is(err))
}

func TestJournalNodeOutOfBounds(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	j, err := Open(ctx, dir, testOptions())
	require.NoError(t, err)
	populate(t, j, nodes.NewMemoryStore(hash.XXH64, 0), snapshots.NewStore(hash.XXH64))
	require.NoError(t, j.Close())

	require.NoError(t, os.Truncate(filepath.Join(dir, NodeDataFileName), 2))

	j, err = Open(ctx, dir, testOptions())
	require.NoError(t, err)
	defer j.Close()
	_, err = j.Replay(nodes.NewMemoryStore(hash.XXH64, 0), snapshots.NewStore(hash.XXH64))
	assert.True(t, ErrCorruptLog.Is(err))
}

func TestJournalVerifyNodes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	j, err := Open(ctx, dir, testOptions())
	require.NoError(t, err)
	populate(t, j, nodes.NewMemoryStore(hash.XXH64, 0), snapshots.NewStore(hash.XXH64))
	require.NoError(t, j.Close())

	// "root" is the first node in the data log
	f, err := os.OpenFile(filepath.Join(dir, NodeDataFileName), os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("R"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	j, err = Open(ctx, dir, testOptions())
	require.NoError(t, err)
	defer j.Close()
	_, err = j.Replay(nodes.NewMemoryStore(hash.XXH64, 0), snapshots.NewStore(hash.XXH64))
	assert.True(t, ErrHashMismatch.Is(err))
}

func TestJournalIgnoresBadLeafLog(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	j, err := Open(ctx, dir, testOptions())
	require.NoError(t, err)
	ss := snapshots.NewStore(hash.XXH64)
	populate(t, j, nodes.NewMemoryStore(hash.XXH64, 0), ss)
	require.NoError(t, j.Close())

	f, err := os.OpenFile(filepath.Join(dir, LeafLogFileName), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{byte(addLeafOp)})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	j, err = Open(ctx, dir, testOptions())
	require.NoError(t, err)
	defer j.Close()
	r, err := j.Replay(nodes.NewMemoryStore(hash.XXH64, 0), snapshots.NewStore(hash.XXH64))
	require.NoError(t, err)
	assert.Nil(t, r.Leaves)

	require.NoError(t, j.RewriteLeaves(ss.Leaves()))
	r, err = j.Replay(nodes.NewMemoryStore(hash.XXH64, 0), snapshots.NewStore(hash.XXH64))
	require.NoError(t, err)
	assert.True(t, r.Leaves.Equals(ss.Leaves().HashSet()))
}

func TestJournalHashFuncMismatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	j, err := Open(ctx, dir, testOptions())
	require.NoError(t, err)
	require.NoError(t, j.Close())

	opts := testOptions()
	opts.HashFunc = hash.XXH3
	_, err = Open(ctx, dir, opts)
	assert.True(t, ErrHashFuncMismatch.Is(err))
}

func TestParseManifest(t *testing.T) {
	mc, err := parseManifest(strings.NewReader("1:xxh3:5b0b2f8e-2d0c-4bd5-a0a3-5b2a3c3fa9f1\n"))
	require.NoError(t, err)
	assert.Equal(t, "xxh3", mc.hashName)
	assert.Equal(t, "1:xxh3:5b0b2f8e-2d0c-4bd5-a0a3-5b2a3c3fa9f1", mc.String())

	_, err = parseManifest(strings.NewReader("1:xxh3"))
	assert.True(t, ErrCorruptLog.Is(err))
	_, err = parseManifest(strings.NewReader("7:xxh3:5b0b2f8e-2d0c-4bd5-a0a3-5b2a3c3fa9f1"))
	assert.True(t, ErrUnsupportedVersion.Is(err))
	_, err = parseManifest(strings.NewReader("1:xxh3:nope"))
	assert.True(t, ErrCorruptLog.Is(err))
}

func TestJournalLock(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	j, err := Open(ctx, dir, testOptions())
	require.NoError(t, err)

	_, err = Open(ctx, dir, testOptions())
	assert.True(t, ErrLocked.Is(err))

	opts := testOptions()
	opts.LockTimeout = 50 * time.Millisecond
	_, err = Open(ctx, dir, opts)
	assert.True(t, ErrLocked.Is(err))

	require.NoError(t, j.Close())
	j, err = Open(ctx, dir, testOptions())
	require.NoError(t, err)
	require.NoError(t, j.Close())
}
