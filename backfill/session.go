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
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/weaviate/btkv/bufcache"
	enterrors "github.com/weaviate/btkv/entities/errors"
)

// Session is one backfill invocation: it walks the tree inside a read-only
// snapshot transaction and emits every key/value pair whose subtree was
// modified at or after sinceWhen, keeping no more than admissionCap+depth
// blocks held or in flight at any instant.
type Session struct {
	id        string
	cache     *bufcache.Cache
	tx        *bufcache.Transaction
	sinceWhen uint64
	callback  Callback
	logger    logrus.FieldLogger
	metrics   *Metrics

	admissionCap int
	pendingCap   int

	tracker *lifecycleTracker

	shutdown atomic.Bool
	ran      atomic.Bool
}

// New opens the session's snapshot transaction and prepares the traversal
// bookkeeping. The transaction stays open for the session's entire lifetime
// and is closed by Run's teardown.
func New(cache *bufcache.Cache, sinceWhen uint64, cb Callback, opts ...SessionOption) (*Session, error) {
	if cb == nil {
		return nil, errors.New("backfill: nil callback")
	}

	s := &Session{
		id:           uuid.NewString(),
		cache:        cache,
		sinceWhen:    sinceWhen,
		callback:     cb,
		logger:       logrus.New(),
		admissionCap: DefaultAdmissionCap,
		pendingCap:   DefaultPendingCap,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	s.logger = s.logger.WithFields(logrus.Fields{
		"action":     "backfill",
		"session_id": s.id,
		"since_when": sinceWhen,
	})

	tx, err := cache.Begin(bufcache.TxModeRead, sinceWhen)
	if err != nil {
		return nil, errors.Wrap(err, "open snapshot transaction")
	}

	s.tx = tx
	s.tracker = newLifecycleTracker(s.admissionCap, s.pendingCap, s.metrics)
	return s, nil
}

// ID returns the session's id, used to correlate logs and metrics.
func (s *Session) ID() string {
	return s.id
}

// Shutdown flips the session into shutdown mode: no new acquisitions or
// recursions are started, in-flight work drains and releases cleanly, then
// Run finishes as a success. Safe to call from any goroutine, repeat calls
// are no-ops.
func (s *Session) Shutdown() {
	if !s.shutdown.CompareAndSwap(false, true) {
		return
	}

	s.logger.Debug("shutdown requested, draining in-flight acquisitions")
	s.tracker.wake()
}

func (s *Session) shutdownRequested() bool {
	return s.shutdown.Load()
}

// abort puts the session into the same drain mode as Shutdown so a fatal
// error stops all further spawning, then hands the error back for
// propagation. Unlike Shutdown it is an error path, Run will fire OnError.
func (s *Session) abort(err error) error {
	if s.shutdown.CompareAndSwap(false, true) {
		s.tracker.wake()
	}
	return err
}

// Run performs the backfill. It blocks until every emission has happened and
// every block is released, then fires exactly one of OnDone (success or
// cancellation) or OnError (provider failure or corrupt node). Run may be
// called once per session.
func (s *Session) Run(ctx context.Context) error {
	if !s.ran.CompareAndSwap(false, true) {
		return errors.New("backfill: session ran twice")
	}

	start := time.Now()

	// a canceled context funnels into the same drain path as Shutdown
	watchDone := make(chan struct{})
	enterrors.GoWrapper(func() {
		select {
		case <-ctx.Done():
			s.Shutdown()
		case <-watchDone:
		}
	}, s.logger)

	err := s.run(ctx)
	close(watchDone)

	if cerr := s.tx.Close(); cerr != nil && err == nil {
		err = cerr
	}

	s.metrics.SessionDuration(start)

	if err != nil {
		s.logger.WithError(err).Error("backfill failed")
		s.callback.OnError(err)
		return err
	}

	s.callback.OnDone()
	return nil
}
