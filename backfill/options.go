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
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/weaviate/btkv/usecases/monitoring"
)

const (
	// DefaultAdmissionCap bounds how many blocks a session may hold or have
	// in flight at once, relaxed by one per tree level on the descent path.
	DefaultAdmissionCap = 50000

	// DefaultPendingCap additionally bounds acquisitions that were issued
	// but not yet granted.
	DefaultPendingCap = 40000
)

type SessionOption func(s *Session) error

// WithAdmissionCap overrides the K of the "at most K+D live blocks for tree
// depth D" rule.
func WithAdmissionCap(n int) SessionOption {
	return func(s *Session) error {
		if n < 1 {
			return errors.Errorf("admission cap %d must be positive", n)
		}
		s.admissionCap = n
		return nil
	}
}

// WithPendingCap overrides the bound on not-yet-granted acquisitions.
func WithPendingCap(n int) SessionOption {
	return func(s *Session) error {
		if n < 1 {
			return errors.Errorf("pending cap %d must be positive", n)
		}
		s.pendingCap = n
		return nil
	}
}

func WithLogger(logger logrus.FieldLogger) SessionOption {
	return func(s *Session) error {
		s.logger = logger
		return nil
	}
}

// WithMetrics curries the engine-wide metric vecs with this session's id.
// A nil argument leaves observation disabled.
func WithMetrics(promMetrics *monitoring.PrometheusMetrics) SessionOption {
	return func(s *Session) error {
		s.metrics = NewMetrics(promMetrics, s.id)
		return nil
	}
}
