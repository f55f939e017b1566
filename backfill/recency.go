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
	"github.com/weaviate/btkv/bufcache"
)

// filterByRecency decides per child whether its subtree can hold data at or
// after the horizon. One batched provider request covers the whole child
// list, per-child requests would be correct but waste a provider round trip
// per child. Pruned children never touch the admission cap.
func (s *Session) filterByRecency(ids []bufcache.BlockID) ([]bool, error) {
	recencies, err := s.tx.SubtreeRecencies(ids)
	if err != nil {
		return nil, errors.Wrap(err, "batched subtree recency")
	}

	descend := make([]bool, len(ids))
	pruned := 0
	for i, recency := range recencies {
		if recency >= s.sinceWhen {
			descend[i] = true
		} else {
			pruned++
		}
	}

	if pruned > 0 {
		s.metrics.SubtreesPruned(pruned)
	}

	return descend, nil
}
