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
	"encoding/binary"
	"math"

	"github.com/dolthub/snapstore/hash"
	"github.com/dolthub/snapstore/snapshots"
)

// Record layouts. All integers are little-endian.
//
//	node index:     |NodeId (8)|offset int32 (4)|length int32 (4)|
//	snapshot index: |SnapshotId (8)|root NodeId (8)|source (8)|target (8)|
//	leaf event:     |op (1)|SnapshotId (8)|
//
// The node data log is the raw concatenation of node bytes, addressed only
// through node index offsets.
const (
	int32Size = 4

	NodeIndexRecordSize     = hash.ByteLen + int32Size + int32Size
	SnapshotIndexRecordSize = 4 * hash.ByteLen
	LeafEventRecordSize     = 1 + hash.ByteLen

	// MaxDataLogSize is the largest node data log addressable by int32
	// offsets.
	MaxDataLogSize = math.MaxInt32
)

type nodeIndexRecord struct {
	id     hash.Hash
	offset int32
	length int32
}

func writeNodeIndexRecord(buf []byte, rec nodeIndexRecord) {
	rec.id.Put(buf)
	binary.LittleEndian.PutUint32(buf[hash.ByteLen:], uint32(rec.offset))
	binary.LittleEndian.PutUint32(buf[hash.ByteLen+int32Size:], uint32(rec.length))
}

func readNodeIndexRecord(buf []byte) nodeIndexRecord {
	return nodeIndexRecord{
		id:     hash.Read(buf),
		offset: int32(binary.LittleEndian.Uint32(buf[hash.ByteLen:])),
		length: int32(binary.LittleEndian.Uint32(buf[hash.ByteLen+int32Size:])),
	}
}

type snapshotIndexRecord struct {
	id   hash.Hash
	snap snapshots.Snapshot
}

func writeSnapshotIndexRecord(buf []byte, rec snapshotIndexRecord) {
	rec.id.Put(buf)
	rec.snap.Root.Put(buf[hash.ByteLen:])
	rec.snap.Source.Put(buf[2*hash.ByteLen:])
	rec.snap.Target.Put(buf[3*hash.ByteLen:])
}

func readSnapshotIndexRecord(buf []byte) snapshotIndexRecord {
	return snapshotIndexRecord{
		id: hash.Read(buf),
		snap: snapshots.Snapshot{
			Root:   hash.Read(buf[hash.ByteLen:]),
			Source: hash.Read(buf[2*hash.ByteLen:]),
			Target: hash.Read(buf[3*hash.ByteLen:]),
		},
	}
}

type leafOp uint8

const (
	unknownLeafOp leafOp = 0
	addLeafOp     leafOp = 1
	removeLeafOp  leafOp = 2
)

type leafEvent struct {
	op leafOp
	id hash.Hash
}

func writeLeafEvent(buf []byte, ev leafEvent) {
	buf[0] = byte(ev.op)
	ev.id.Put(buf[1:])
}

func readLeafEvent(buf []byte) leafEvent {
	return leafEvent{op: leafOp(buf[0]), id: hash.Read(buf[1:])}
}

// leafEventsFor returns the leaf set changes caused by inserting |snap|.
func leafEventsFor(id hash.Hash, snap snapshots.Snapshot) []leafEvent {
	events := make([]leafEvent, 0, 3)
	if !snap.IsRoot() {
		events = append(events, leafEvent{op: removeLeafOp, id: snap.Source})
	}
	if snap.IsMerge() {
		events = append(events, leafEvent{op: removeLeafOp, id: snap.Target})
	}
	return append(events, leafEvent{op: addLeafOp, id: id})
}
