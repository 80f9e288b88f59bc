// Copyright 2024 Google Inc. All Rights Reserved.
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

// Package metrics exposes the Orchestrator's prometheus surface: indexer
// throughput, search latency, and lockout depth, named the way the
// teacher names its own fs/ops_latency and gcs/request_latencies series
// (a "<subsystem>/<measurement>" schema, flattened into prometheus'
// underscore convention).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every series MagicFS publishes. It is constructed
// once at startup against prometheus.DefaultRegisterer and handed to
// the Orchestrator, which records index and search job metrics as it
// dispatches them.
type Registry struct {
	IndexJobsTotal   *prometheus.CounterVec
	IndexLatency     prometheus.Histogram
	SearchLatency    prometheus.Histogram
	SearchJobsTotal  prometheus.Counter
	LockoutDepth     prometheus.Gauge
	QueueDepth       prometheus.Gauge
}

// New registers and returns the Registry. Safe to call once per
// process; a second call against the same registerer panics, matching
// promauto's own behavior.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		IndexJobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "magicfs_indexer_jobs_total",
			Help: "Indexer jobs completed, partitioned by outcome (indexed, skipped, up_to_date, removed, error).",
		}, []string{"outcome"}),
		IndexLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "magicfs_indexer_job_latency_seconds",
			Help:    "Wall-clock time to run one Indexer.IndexFile call.",
			Buckets: prometheus.DefBuckets,
		}),
		SearchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "magicfs_search_latency_seconds",
			Help:    "Wall-clock time to run one Searcher.Run call.",
			Buckets: prometheus.DefBuckets,
		}),
		SearchJobsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "magicfs_search_jobs_total",
			Help: "Search jobs dispatched by the Orchestrator.",
		}),
		LockoutDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "magicfs_lockout_depth",
			Help: "Number of paths currently held by the Lockout Ledger.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "magicfs_orchestrator_queue_depth",
			Help: "Number of events currently waiting in the Orchestrator's event queue.",
		}),
	}
}

// Noop returns a Registry wired to an isolated registry, for callers
// (tests, or a daemon run with metrics disabled) that want the
// Orchestrator's instrumentation calls to be harmless no-ops rather than
// threading a nil check through every call site.
func Noop() *Registry {
	return New(prometheus.NewRegistry())
}
