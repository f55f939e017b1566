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

	"github.com/pkg/errors"
	"github.com/weaviate/btkv/btree"
	"github.com/weaviate/btkv/bufcache"
	enterrors "github.com/weaviate/btkv/entities/errors"
)

// The lifecycle of a block within one session:
//
//	known -> recency-checked -> pruned (stop)
//	                         -> acquisition-pending -> acquired -> released
//
// A parent's lock is released the instant every surviving child is at least
// acquisition-pending, it never waits for any child to be granted or to
// finish. A leaf holds its lock only until its entries are emitted and its
// large-value fetches are dispatched. That is what keeps the live-block
// count at admissionCap+depth instead of a function of tree shape.

// maxTreeDepth bounds the descent. A well-formed tree never comes close, a
// cyclic internal-node reference would otherwise recurse forever.
const maxTreeDepth = 64

// heldBlock pairs a lock handle with the tracker bookkeeping for its level.
// It is owned by the task that acquired it, release is idempotent within
// that task so error paths can use it as a teardown net.
type heldBlock struct {
	handle   *bufcache.BlockHandle
	level    int
	released bool
}

func (hb *heldBlock) release(s *Session) {
	if hb == nil || hb.released {
		return
	}
	hb.released = true
	id := hb.handle.ID()
	hb.handle.Release()
	s.tracker.released(hb.level, id)
}

func (s *Session) run(ctx context.Context) error {
	// the superblock is held just long enough to read the root id, it never
	// counts against the admission budget
	sbHandle, err := s.tx.Acquire(ctx, bufcache.SuperblockID, bufcache.LockRead)
	if err != nil {
		if isCancellation(err) {
			return nil
		}
		return errors.Wrap(err, "acquire superblock")
	}

	rootID, err := btree.RootBlockID(sbHandle.Payload())
	sbHandle.Release()
	if err != nil {
		return errors.Wrap(err, "read root block id")
	}

	if rootID == bufcache.NullBlockID {
		s.logger.Debug("empty tree, nothing to backfill")
		return nil
	}

	return s.subtreesBackfill(ctx, nil, 0, []bufcache.BlockID{rootID})
}

// subtreesBackfill dispatches one level of children: recency-check in one
// batch, admit and spawn an acquisition task per surviving child, then
// release the parent. parent is nil on the root call.
func (s *Session) subtreesBackfill(ctx context.Context, parent *heldBlock,
	level int, ids []bufcache.BlockID,
) error {
	defer parent.release(s)

	if level > maxTreeDepth {
		return s.abort(errors.Errorf("block graph deeper than %d levels, the tree is cyclic or corrupt",
			maxTreeDepth))
	}

	descend, err := s.filterByRecency(ids)
	if err != nil {
		return s.abort(err)
	}

	eg := enterrors.NewErrorGroupWrapper(s.logger)

	// children are dispatched in the parent's stored order, but their tasks
	// run concurrently and impose no ordering on each other
	for i, id := range ids {
		if !descend[i] || s.shutdownRequested() {
			continue
		}

		if err := s.tracker.admit(level, s.shutdownRequested); err != nil {
			// shutdown flipped while waiting for capacity
			continue
		}

		id := id
		eg.Go(func() error {
			return s.subtreeBackfill(ctx, level, id)
		})
	}

	// every surviving child is now at least acquisition-pending, the
	// parent's lock has done its job
	parent.release(s)

	return eg.Wait()
}

// subtreeBackfill is the per-block task: finish the pending acquisition,
// then recurse (internal) or emit (leaf).
func (s *Session) subtreeBackfill(ctx context.Context, level int, id bufcache.BlockID) error {
	handle, err := s.tx.Acquire(ctx, id, bufcache.LockRead)
	if err != nil {
		s.tracker.aborted()
		if isCancellation(err) {
			return nil
		}
		return s.abort(errors.Wrapf(err, "acquire block %d", id))
	}

	hb := &heldBlock{handle: handle, level: level}
	s.tracker.granted(level, id)
	defer hb.release(s)

	if s.shutdownRequested() {
		return nil
	}

	kind, err := btree.PageKind(handle.Payload())
	if err != nil {
		return s.abort(errors.Wrapf(err, "block %d", id))
	}

	switch kind {
	case btree.PageTypeInternal:
		node, err := btree.ParseInternal(handle.Payload())
		if err != nil {
			return s.abort(errors.Wrapf(err, "block %d", id))
		}

		childIDs := make([]bufcache.BlockID, len(node.Children))
		for i, c := range node.Children {
			childIDs[i] = c.ID
		}

		return s.subtreesBackfill(ctx, hb, level+1, childIDs)

	case btree.PageTypeLeaf:
		node, err := btree.ParseLeaf(handle.Payload())
		if err != nil {
			return s.abort(errors.Wrapf(err, "block %d", id))
		}

		return s.leafBackfill(ctx, hb, node)

	default:
		return s.abort(errors.Errorf("block %d: %s page has no place in the tree", id, kind))
	}
}

// leafBackfill emits the leaf's entries in stored order. Inline pairs go
// straight to the callback, large values are dispatched as concurrent chain
// fetches that queue behind the same caps as child acquisitions, one level
// below the leaf. The leaf's lock is released as soon as all fetches are
// dispatched, not when they finish.
func (s *Session) leafBackfill(ctx context.Context, hb *heldBlock, node btree.LeafNode) error {
	eg := enterrors.NewErrorGroupWrapper(s.logger)

	for _, entry := range node.Entries {
		if s.shutdownRequested() {
			break
		}

		if !entry.IsOverflow() {
			s.callback.OnPair(entry.Key, entry.Value, entry.Timestamp)
			s.metrics.PairEmitted()
			continue
		}

		if err := s.tracker.admit(hb.level+1, s.shutdownRequested); err != nil {
			break
		}

		entry := entry
		eg.Go(func() error {
			return s.fetchLargeValue(ctx, hb.level+1, entry)
		})
	}

	hb.release(s)

	return eg.Wait()
}

// fetchLargeValue streams one overflow chain to the callback, holding one
// link at a time. The chunk count is derived from the value size and the
// first link's capacity, every link but the last carries a full chunk.
func (s *Session) fetchLargeValue(ctx context.Context, level int, entry btree.LeafEntry) error {
	next := entry.OverflowID
	admitted := true // the dispatcher admitted the first link

	var fetched uint64
	chunkIndex := 0
	totalChunks := 0

	for next != bufcache.NullBlockID {
		if !admitted {
			if err := s.tracker.admit(level, s.shutdownRequested); err != nil {
				return nil
			}
		}
		admitted = false

		handle, err := s.tx.Acquire(ctx, next, bufcache.LockRead)
		if err != nil {
			s.tracker.aborted()
			if isCancellation(err) {
				return nil
			}
			return s.abort(errors.Wrapf(err, "key %q: acquire overflow link %d", entry.Key, next))
		}

		id := next
		s.tracker.granted(level, id)

		ov, err := btree.ParseOverflow(handle.Payload())
		if err != nil {
			handle.Release()
			s.tracker.released(level, id)
			return s.abort(errors.Wrapf(err, "key %q: overflow link %d", entry.Key, id))
		}

		if chunkIndex == 0 {
			totalChunks = int((entry.OverflowSize + uint64(len(ov.Chunk)) - 1) / uint64(len(ov.Chunk)))
		}

		if !s.shutdownRequested() {
			s.callback.OnLargeValueChunk(entry.Key, ov.Chunk, chunkIndex, totalChunks)
			s.metrics.ChunkEmitted()
		}

		fetched += uint64(len(ov.Chunk))
		chunkIndex++
		next = ov.Next

		handle.Release()
		s.tracker.released(level, id)

		// a cyclic Next reference would walk forever, the promised size
		// bounds the chain
		if fetched > entry.OverflowSize {
			return s.abort(errors.Errorf("key %q: overflow chain holds more than the %d bytes the leaf promises",
				entry.Key, entry.OverflowSize))
		}

		if s.shutdownRequested() {
			return nil
		}
	}

	if fetched != entry.OverflowSize {
		return s.abort(errors.Errorf("key %q: overflow chain holds %d bytes, leaf promises %d",
			entry.Key, fetched, entry.OverflowSize))
	}

	return nil
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
