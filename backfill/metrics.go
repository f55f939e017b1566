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

package backfill

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/weaviate/btkv/usecases/monitoring"
)

// Metrics curries the engine-wide metric vecs with one session's labels. A
// nil *Metrics disables all observation.
type Metrics struct {
	blocksHeld     prometheus.Gauge
	blocksPending  prometheus.Gauge
	blockAcquires  prometheus.Counter
	blockReleases  prometheus.Counter
	prunedSubtrees prometheus.Counter
	pairsEmitted   prometheus.Counter
	chunksEmitted  prometheus.Counter
	durations      prometheus.Observer
}

func NewMetrics(promMetrics *monitoring.PrometheusMetrics, sessionID string) *Metrics {
	if promMetrics == nil {
		return nil
	}

	labels := prometheus.Labels{"session_id": sessionID}

	return &Metrics{
		blocksHeld:     promMetrics.BackfillBlocksHeld.With(labels),
		blocksPending:  promMetrics.BackfillBlocksPending.With(labels),
		blockAcquires:  promMetrics.BackfillBlockAcquires.With(labels),
		blockReleases:  promMetrics.BackfillBlockReleases.With(labels),
		prunedSubtrees: promMetrics.BackfillPrunedSubtrees.With(labels),
		pairsEmitted:   promMetrics.BackfillPairsEmitted.With(labels),
		chunksEmitted:  promMetrics.BackfillChunksEmitted.With(labels),
		durations:      promMetrics.BackfillDurations.With(labels),
	}
}

func (m *Metrics) HeldInc() {
	if m == nil {
		return
	}
	m.blocksHeld.Inc()
}

func (m *Metrics) HeldDec() {
	if m == nil {
		return
	}
	m.blocksHeld.Dec()
}

func (m *Metrics) PendingInc() {
	if m == nil {
		return
	}
	m.blocksPending.Inc()
}

func (m *Metrics) PendingDec() {
	if m == nil {
		return
	}
	m.blocksPending.Dec()
}

func (m *Metrics) BlockAcquired() {
	if m == nil {
		return
	}
	m.blockAcquires.Inc()
}

func (m *Metrics) BlockReleased() {
	if m == nil {
		return
	}
	m.blockReleases.Inc()
}

func (m *Metrics) SubtreesPruned(n int) {
	if m == nil {
		return
	}
	m.prunedSubtrees.Add(float64(n))
}

func (m *Metrics) PairEmitted() {
	if m == nil {
		return
	}
	m.pairsEmitted.Inc()
}

func (m *Metrics) ChunkEmitted() {
	if m == nil {
		return
	}
	m.chunksEmitted.Inc()
}

func (m *Metrics) SessionDuration(start time.Time) {
	if m == nil {
		return
	}
	m.durations.Observe(time.Since(start).Seconds())
}
