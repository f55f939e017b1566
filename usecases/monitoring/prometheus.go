//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2025 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics holds every metric vec the engine exposes. Sessions curry
// them with their own labels.
type PrometheusMetrics struct {
	Registerer prometheus.Registerer

	BackfillBlocksHeld     *prometheus.GaugeVec
	BackfillBlocksPending  *prometheus.GaugeVec
	BackfillBlockAcquires  *prometheus.CounterVec
	BackfillBlockReleases  *prometheus.CounterVec
	BackfillPrunedSubtrees *prometheus.CounterVec
	BackfillPairsEmitted   *prometheus.CounterVec
	BackfillChunksEmitted  *prometheus.CounterVec
	BackfillDurations      *prometheus.HistogramVec
}

// NewPrometheusMetrics registers all metric vecs with the given registerer.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		Registerer: reg,
		BackfillBlocksHeld: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "btkv_backfill_blocks_held",
			Help: "Blocks currently lock-held by a backfill session",
		}, []string{"session_id"}),
		BackfillBlocksPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "btkv_backfill_blocks_pending",
			Help: "Block acquisitions issued but not yet granted",
		}, []string{"session_id"}),
		BackfillBlockAcquires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "btkv_backfill_block_acquires_total",
			Help: "Blocks acquired over the session lifetime",
		}, []string{"session_id"}),
		BackfillBlockReleases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "btkv_backfill_block_releases_total",
			Help: "Blocks released over the session lifetime",
		}, []string{"session_id"}),
		BackfillPrunedSubtrees: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "btkv_backfill_pruned_subtrees_total",
			Help: "Subtrees skipped because their recency predates the horizon",
		}, []string{"session_id"}),
		BackfillPairsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "btkv_backfill_pairs_emitted_total",
			Help: "Key/value pairs handed to the backfill callback",
		}, []string{"session_id"}),
		BackfillChunksEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "btkv_backfill_chunks_emitted_total",
			Help: "Large-value chunks handed to the backfill callback",
		}, []string{"session_id"}),
		BackfillDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "btkv_backfill_duration_seconds",
			Help:    "Wall time of completed backfill sessions",
			Buckets: prometheus.DefBuckets,
		}, []string{"session_id"}),
	}

	reg.MustRegister(
		m.BackfillBlocksHeld,
		m.BackfillBlocksPending,
		m.BackfillBlockAcquires,
		m.BackfillBlockReleases,
		m.BackfillPrunedSubtrees,
		m.BackfillPairsEmitted,
		m.BackfillChunksEmitted,
		m.BackfillDurations,
	)

	return m
}

// NewNoopMetrics returns metrics that are never collected, used when
// monitoring is disabled.
func NewNoopMetrics() *PrometheusMetrics {
	return NewPrometheusMetrics(noop)
}
