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
	"sync"

	"github.com/pkg/errors"
	"github.com/weaviate/btkv/bufcache"
)

// errShutdownRequested aborts capacity waits when the session enters
// shutdown mode. It never surfaces to the caller.
var errShutdownRequested = errors.New("shutdown requested")

// lifecycleTracker is the per-session bookkeeping of blocks that are pending
// acquisition or currently held, grouped by tree level. It enforces the
// admission cap: a session may keep at most admissionCap+level blocks live at
// once, one extra slot per level because each level on the path from the root
// keeps one block held to stay connected during descent. All traversal tasks
// funnel their increments and decrements through the tracker's mutex.
type lifecycleTracker struct {
	mu   sync.Mutex
	cond *sync.Cond

	heldByLevel []map[bufcache.BlockID]struct{}
	pending     int

	admissionCap int
	pendingCap   int

	// high-water marks, read by tests to check the cap invariant
	maxLive  int
	maxLevel int

	metrics *Metrics
}

func newLifecycleTracker(admissionCap, pendingCap int, metrics *Metrics) *lifecycleTracker {
	t := &lifecycleTracker{
		admissionCap: admissionCap,
		pendingCap:   pendingCap,
		metrics:      metrics,
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *lifecycleTracker) liveLocked() int {
	live := t.pending
	for _, held := range t.heldByLevel {
		live += len(held)
	}
	return live
}

// admit blocks until one more acquisition at the given level fits under the
// caps, then counts it as pending. This is the backpressure that bounds
// memory independent of tree shape: issuing is deferred, never unbounded.
// shutdown is polled on every wakeup so a session abort cannot strand
// waiters.
func (t *lifecycleTracker) admit(level int, shutdown func() bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for t.liveLocked()+1 > t.admissionCap+level || t.pending+1 > t.pendingCap {
		if shutdown() {
			return errShutdownRequested
		}
		t.cond.Wait()
	}

	if shutdown() {
		return errShutdownRequested
	}

	t.pending++
	t.noteLocked(level)
	t.metrics.PendingInc()
	return nil
}

// granted moves one block from pending to held at the given level.
func (t *lifecycleTracker) granted(level int, id bufcache.BlockID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending--
	for len(t.heldByLevel) <= level {
		t.heldByLevel = append(t.heldByLevel, map[bufcache.BlockID]struct{}{})
	}
	t.heldByLevel[level][id] = struct{}{}

	t.metrics.PendingDec()
	t.metrics.HeldInc()
	t.metrics.BlockAcquired()

	// held+pending is unchanged, but a pending-cap waiter may fit now
	t.cond.Broadcast()
}

// aborted drops one pending acquisition that was never granted.
func (t *lifecycleTracker) aborted() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending--
	t.metrics.PendingDec()
	t.cond.Broadcast()
}

// released removes one held block at the given level.
func (t *lifecycleTracker) released(level int, id bufcache.BlockID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.heldByLevel[level], id)
	t.metrics.HeldDec()
	t.metrics.BlockReleased()
	t.cond.Broadcast()
}

// wake unblocks all capacity waiters, used when shutdown mode flips on.
func (t *lifecycleTracker) wake() {
	t.mu.Lock()
	t.cond.Broadcast()
	t.mu.Unlock()
}

func (t *lifecycleTracker) noteLocked(level int) {
	if live := t.liveLocked(); live > t.maxLive {
		t.maxLive = live
	}
	if level > t.maxLevel {
		t.maxLevel = level
	}
}

// Live returns held+pending at this instant.
func (t *lifecycleTracker) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.liveLocked()
}

// HighWater returns the maximum observed live count and the deepest level
// reached.
func (t *lifecycleTracker) HighWater() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxLive, t.maxLevel
}
