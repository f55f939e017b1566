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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noShutdown() bool { return false }

func TestTrackerLevelRelaxation(t *testing.T) {
	tr := newLifecycleTracker(1, 10, nil)

	require.NoError(t, tr.admit(0, noShutdown))
	tr.granted(0, 1)
	assert.Equal(t, 1, tr.Live())

	// the cap is exhausted for level 0 but each deeper level brings one
	// extra slot, the path itself must stay connected
	require.NoError(t, tr.admit(1, noShutdown))
	tr.granted(1, 2)
	assert.Equal(t, 2, tr.Live())

	blocked := make(chan error, 1)
	go func() { blocked <- tr.admit(1, noShutdown) }()

	select {
	case <-blocked:
		t.Fatal("admit above the cap must block")
	case <-time.After(50 * time.Millisecond):
	}

	tr.released(1, 2)
	require.NoError(t, <-blocked)
}

func TestTrackerPendingCapIsSeparate(t *testing.T) {
	tr := newLifecycleTracker(100, 1, nil)

	require.NoError(t, tr.admit(0, noShutdown))

	blocked := make(chan error, 1)
	go func() { blocked <- tr.admit(0, noShutdown) }()

	select {
	case <-blocked:
		t.Fatal("second pending acquisition must wait despite free admission slots")
	case <-time.After(50 * time.Millisecond):
	}

	// granting moves pending to held, freeing the pending slot
	tr.granted(0, 1)
	require.NoError(t, <-blocked)
}

func TestTrackerShutdownUnblocksWaiters(t *testing.T) {
	tr := newLifecycleTracker(1, 1, nil)

	var down atomic.Bool
	require.NoError(t, tr.admit(0, down.Load))

	blocked := make(chan error, 1)
	go func() { blocked <- tr.admit(0, down.Load) }()

	down.Store(true)
	tr.wake()

	assert.ErrorIs(t, <-blocked, errShutdownRequested)
}

func TestTrackerAbortedAcquisition(t *testing.T) {
	tr := newLifecycleTracker(1, 1, nil)

	require.NoError(t, tr.admit(0, noShutdown))
	assert.Equal(t, 1, tr.Live())

	tr.aborted()
	assert.Equal(t, 0, tr.Live())

	require.NoError(t, tr.admit(0, noShutdown))
}

func TestTrackerHighWater(t *testing.T) {
	tr := newLifecycleTracker(10, 10, nil)

	require.NoError(t, tr.admit(0, noShutdown))
	tr.granted(0, 1)
	require.NoError(t, tr.admit(1, noShutdown))
	tr.granted(1, 2)
	tr.released(1, 2)
	tr.released(0, 1)

	maxLive, maxLevel := tr.HighWater()
	assert.Equal(t, 2, maxLive)
	assert.Equal(t, 1, maxLevel)
}
