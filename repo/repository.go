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

// Package repo ties a schema to a node store and a snapshot history. A
// Repository saves typed values as snapshots, reads them back and merges
// diverged snapshots through the schema's three-way merge.
package repo

import (
	"context"
	"runtime"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/src-d/go-errors.v1"

	"github.com/dolthub/snapstore/config"
	"github.com/dolthub/snapstore/hash"
	"github.com/dolthub/snapstore/metrics"
	"github.com/dolthub/snapstore/nodes"
	"github.com/dolthub/snapstore/persist"
	"github.com/dolthub/snapstore/schema"
	"github.com/dolthub/snapstore/snapshots"
)

var (
	// ErrInvalidMerge is returned for merges of a snapshot with itself or
	// with one of its ancestors.
	ErrInvalidMerge = errors.NewKind("cannot merge %s into %s: %s")

	// ErrLeavesInconsistent is returned by Verify when the maintained leaf
	// set differs from a recomputed one.
	ErrLeavesInconsistent = errors.NewKind("leaf set has %d snapshots, recomputed %d")
)

// Options configure a Repository.
type Options struct {
	Logger  *logrus.Entry
	Metrics *metrics.Metrics

	// CacheSize bounds the number of deserialized values kept by
	// GetSnapshot. Zero disables the cache.
	CacheSize int
}

// Repository stores values of T as snapshots.
type Repository[T any] struct {
	schema  schema.Serializer[T]
	stores  *persist.Stores
	nodes   *persist.NodeStore
	snaps   *persist.SnapshotStore
	cache   *lru.Cache[hash.Hash, T]
	metrics *metrics.Metrics
	log     *logrus.Entry

	// serializes writers
	mu sync.Mutex
}

// Open opens the stores described by |cfg| and returns a Repository over
// them.
func Open[T any](ctx context.Context, cfg config.Config, s schema.Serializer[T], opts Options) (*Repository[T], error) {
	if opts.Logger == nil {
		opts.Logger = cfg.NewLogger()
	}
	if opts.CacheSize == 0 {
		opts.CacheSize = cfg.SnapshotCacheSize
	}
	stores, err := persist.Open(ctx, cfg, opts.Logger, opts.Metrics)
	if err != nil {
		return nil, err
	}
	r, err := New(s, stores, opts)
	if err != nil {
		stores.Close()
		return nil, err
	}
	return r, nil
}

// New returns a Repository over already opened stores.
func New[T any](s schema.Serializer[T], stores *persist.Stores, opts Options) (*Repository[T], error) {
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	r := &Repository[T]{
		schema:  s,
		stores:  stores,
		nodes:   stores.Nodes,
		snaps:   stores.Snapshots,
		metrics: opts.Metrics,
		log:     log,
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[hash.Hash, T](opts.CacheSize)
		if err != nil {
			return nil, err
		}
		r.cache = cache
	}
	return r, nil
}

// SaveRoot stores |value| as the root snapshot.
func (r *Repository[T]) SaveRoot(value T) (hash.Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if root, ok := r.snaps.Root(); ok {
		return hash.Empty, snapshots.ErrAlreadyHasRoot.New(root)
	}
	rootNode, err := schema.SerializeRoot(r.schema, value, r.nodes)
	if err != nil {
		return hash.Empty, err
	}
	id, err := r.snaps.AddRoot(rootNode)
	if err != nil {
		return hash.Empty, err
	}
	r.log.WithField("snapshot", id).Info("saved root snapshot")
	return id, nil
}

// SaveSnapshot stores |value| as a child of |parent|. A missing parent is
// reported before anything is written.
func (r *Repository[T]) SaveSnapshot(value T, parent hash.Hash) (hash.Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.snaps.Has(parent) {
		return hash.Empty, snapshots.ErrSnapshotNotFound.New(parent)
	}
	rootNode, err := schema.SerializeRoot(r.schema, value, r.nodes)
	if err != nil {
		return hash.Empty, err
	}
	id, err := r.snaps.AddSnapshot(rootNode, parent, hash.Empty)
	if err != nil {
		return hash.Empty, err
	}
	r.log.WithFields(logrus.Fields{"snapshot": id, "parent": parent}).Debug("saved snapshot")
	return id, nil
}

// GetSnapshot returns the value stored in snapshot |id|. Cached values are
// shared between callers and must not be mutated.
func (r *Repository[T]) GetSnapshot(id hash.Hash) (T, error) {
	if r.cache != nil {
		if v, ok := r.cache.Get(id); ok {
			r.metrics.SnapshotCache(true)
			return v, nil
		}
		r.metrics.SnapshotCache(false)
	}

	var zero T
	snap, err := r.snaps.Get(id)
	if err != nil {
		return zero, err
	}
	v, err := schema.DeserializeRoot(r.schema, snap.Root, r.nodes)
	if err != nil {
		return zero, err
	}
	if r.cache != nil {
		r.cache.Add(id, v)
	}
	return v, nil
}

// MergeSnapshots merges |source| into |target| against their least common
// ancestor and records the result as a snapshot whose source parent is
// |source| and whose target parent is |target|. Where both sides changed
// the same leaf the leaf's merge policy decides.
func (r *Repository[T]) MergeSnapshots(target, source hash.Hash) (hash.Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if target == source {
		return hash.Empty, ErrInvalidMerge.New(source, target, "same snapshot")
	}
	tgt, err := r.snaps.Get(target)
	if err != nil {
		return hash.Empty, err
	}
	src, err := r.snaps.Get(source)
	if err != nil {
		return hash.Empty, err
	}
	if ok, err := r.snaps.IsAncestor(target, source); err != nil {
		return hash.Empty, err
	} else if ok {
		return hash.Empty, ErrInvalidMerge.New(source, target, "target is an ancestor of source")
	}
	if ok, err := r.snaps.IsAncestor(source, target); err != nil {
		return hash.Empty, err
	} else if ok {
		return hash.Empty, ErrInvalidMerge.New(source, target, "source is an ancestor of target")
	}

	baseID, err := r.snaps.LeastCommonAncestor(target, source)
	if err != nil {
		return hash.Empty, err
	}
	base, err := r.snaps.Get(baseID)
	if err != nil {
		return hash.Empty, err
	}
	if tgt.Root == base.Root || src.Root == base.Root {
		r.metrics.MergeShortcut()
	}

	merged, err := schema.MergeRoots(r.schema, base.Root, tgt.Root, src.Root, r.nodes)
	if err != nil {
		return hash.Empty, err
	}
	id, err := r.snaps.AddSnapshot(merged, source, target)
	if err != nil {
		return hash.Empty, err
	}
	r.log.WithFields(logrus.Fields{
		"snapshot": id,
		"source":   source,
		"target":   target,
		"base":     baseID,
	}).Info("merged snapshots")
	return id, nil
}

// GetSnapshotTree returns the materialized snapshot hierarchy.
func (r *Repository[T]) GetSnapshotTree() (*snapshots.TreeNode, error) {
	return r.snaps.Tree()
}

// Leaves returns the snapshots without children in ascending id order.
func (r *Repository[T]) Leaves() hash.HashSlice {
	return r.snaps.Leaves()
}

// Snapshots returns the snapshot history for read-only queries.
func (r *Repository[T]) Snapshots() *persist.SnapshotStore {
	return r.snaps
}

// Nodes returns the node store.
func (r *Repository[T]) Nodes() *persist.NodeStore {
	return r.nodes
}

// Verify deserializes every snapshot concurrently and checks the leaf set
// against a recomputed one.
func (r *Repository[T]) Verify(ctx context.Context) error {
	leaves, recomputed := r.snaps.Leaves(), r.snaps.RecomputeLeaves()
	if !leaves.HashSet().Equals(recomputed.HashSet()) {
		return ErrLeavesInconsistent.New(len(leaves), len(recomputed))
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.GOMAXPROCS(0))
	err := r.snaps.Iter(func(id hash.Hash, snap snapshots.Snapshot) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		eg.Go(func() error {
			if !r.nodes.HasNode(snap.Root) {
				return nodes.ErrNodeNotFound.New(snap.Root)
			}
			_, err := schema.DeserializeRoot(r.schema, snap.Root, r.nodes)
			return err
		})
		return nil
	})
	if werr := eg.Wait(); err == nil {
		err = werr
	}
	if err != nil {
		return err
	}
	r.log.WithField("snapshots", r.snaps.Len()).Info("verified repository")
	return nil
}

// Sync forces pending writes to disk.
func (r *Repository[T]) Sync() error {
	return r.stores.Sync()
}

// Close closes the underlying stores.
func (r *Repository[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stores.Close()
}
