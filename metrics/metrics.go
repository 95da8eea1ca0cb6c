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

// Package metrics exposes Prometheus counters for store activity. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "snapstore"

// Metrics holds the collectors for one repository.
type Metrics struct {
	cntNodes       prometheus.Counter
	cntNodeBytes   prometheus.Counter
	cntDedupHits   prometheus.Counter
	cntSnapshots   prometheus.Counter
	cntMerges      prometheus.Counter
	cntShortcuts   prometheus.Counter
	cntCacheHits   prometheus.Counter
	cntCacheMisses prometheus.Counter
	histReplay     prometheus.Histogram
	gaugeLeaves    prometheus.Gauge
	collectors     []prometheus.Collector
}

// New creates collectors carrying |labels| as constant labels.
func New(labels prometheus.Labels) *Metrics {
	m := &Metrics{
		cntNodes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "nodes_added",
			Help:        "Count of new nodes stored",
			ConstLabels: labels,
		}),
		cntNodeBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "node_bytes_added",
			Help:        "Bytes of new node content stored",
			ConstLabels: labels,
		}),
		cntDedupHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "node_dedup_hits",
			Help:        "Count of node adds that found the content already present",
			ConstLabels: labels,
		}),
		cntSnapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "snapshots_added",
			Help:        "Count of new snapshots, merges included",
			ConstLabels: labels,
		}),
		cntMerges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "merges",
			Help:        "Count of merge snapshots created",
			ConstLabels: labels,
		}),
		cntShortcuts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "merge_shortcuts",
			Help:        "Count of merges resolved without a field-wise merge",
			ConstLabels: labels,
		}),
		cntCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "snapshot_cache_hits",
			Help:        "Count of snapshot reads served from the value cache",
			ConstLabels: labels,
		}),
		cntCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "snapshot_cache_misses",
			Help:        "Count of snapshot reads that deserialized from nodes",
			ConstLabels: labels,
		}),
		histReplay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "replay_seconds",
			Help:        "Time spent rebuilding memory stores from a durable backend",
			ConstLabels: labels,
			Buckets:     []float64{0.001, 0.01, 0.1, 1.0, 10.0, 100.0},
		}),
		gaugeLeaves: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "leaves",
			Help:        "Number of snapshots without children",
			ConstLabels: labels,
		}),
	}
	m.collectors = []prometheus.Collector{
		m.cntNodes, m.cntNodeBytes, m.cntDedupHits, m.cntSnapshots, m.cntMerges,
		m.cntShortcuts, m.cntCacheHits, m.cntCacheMisses, m.histReplay, m.gaugeLeaves,
	}
	return m
}

// Register registers every collector with |reg|.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Unregister removes every collector from |reg|.
func (m *Metrics) Unregister(reg prometheus.Registerer) {
	for _, c := range m.collectors {
		reg.Unregister(c)
	}
}

func (m *Metrics) NodeAdded(size int, existed bool) {
	if m == nil {
		return
	}
	if existed {
		m.cntDedupHits.Inc()
		return
	}
	m.cntNodes.Inc()
	m.cntNodeBytes.Add(float64(size))
}

func (m *Metrics) SnapshotAdded(merge bool) {
	if m == nil {
		return
	}
	m.cntSnapshots.Inc()
	if merge {
		m.cntMerges.Inc()
	}
}

func (m *Metrics) MergeShortcut() {
	if m == nil {
		return
	}
	m.cntShortcuts.Inc()
}

func (m *Metrics) SnapshotCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cntCacheHits.Inc()
	} else {
		m.cntCacheMisses.Inc()
	}
}

func (m *Metrics) Replayed(d time.Duration) {
	if m == nil {
		return
	}
	m.histReplay.Observe(d.Seconds())
}

func (m *Metrics) SetLeaves(n int) {
	if m == nil {
		return
	}
	m.gaugeLeaves.Set(float64(n))
}
