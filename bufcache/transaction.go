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

package bufcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// TxMode selects the access mode of a transaction.
type TxMode uint8

const (
	// TxModeRead is a read-only snapshot view. The backing file does not
	// change while the cache is open, so reads are consistent by
	// construction.
	TxModeRead TxMode = iota
)

// LockMode selects how a block is locked on acquisition.
type LockMode uint8

const (
	LockRead LockMode = iota
	LockWrite
)

// Transaction is a snapshot view of the page file. All blocks acquired
// through it must be released before Close.
type Transaction struct {
	cache     *Cache
	mode      TxMode
	sinceWhen uint64

	mu     sync.Mutex
	open   int64
	closed bool
}

// Begin opens a snapshot transaction. sinceWhen is carried along for
// instrumentation, the snapshot itself always covers the whole file.
func (c *Cache) Begin(mode TxMode, sinceWhen uint64) (*Transaction, error) {
	if mode != TxModeRead {
		return nil, errors.Errorf("unsupported transaction mode %d", mode)
	}

	return &Transaction{
		cache:     c,
		mode:      mode,
		sinceWhen: sinceWhen,
	}, nil
}

// BlockHandle is scoped ownership of one locked block. Payload gives access
// to the page contents, Release must be called exactly once.
type BlockHandle struct {
	tx       *Transaction
	id       BlockID
	payload  []byte
	released atomic.Bool
}

// Acquire locks the given block and returns a handle to it. It suspends the
// caller until the lock is granted. A canceled context is respected before
// the lock attempt, an attempt already underway is allowed to finish so no
// lock is ever left behind.
func (tx *Transaction) Acquire(ctx context.Context, id BlockID, mode LockMode) (*BlockHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if mode != LockRead {
		return nil, errors.Errorf("block %d: lock mode %d not available in a read transaction", id, mode)
	}

	tx.mu.Lock()
	if tx.closed {
		tx.mu.Unlock()
		return nil, errors.Errorf("block %d: acquire on closed transaction", id)
	}
	tx.open++
	tx.mu.Unlock()

	if uint64(id) >= tx.cache.numPages {
		tx.release()
		return nil, errors.Errorf("block %d out of range (file has %d pages)", id, tx.cache.numPages)
	}

	tx.cache.locks[id].RLock()
	tx.cache.acquires[id].Add(1)
	tx.cache.totalAcquires.Add(1)

	return &BlockHandle{
		tx:      tx,
		id:      id,
		payload: tx.cache.pagePayload(id),
	}, nil
}

// ID returns the block's id.
func (h *BlockHandle) ID() BlockID {
	return h.id
}

// Payload returns the page contents without the recency trailer. The slice
// aliases the mmap'd file and is only valid until Release.
func (h *BlockHandle) Payload() []byte {
	return h.payload
}

// Release returns the block's lock. Releasing a handle twice is a programmer
// error and panics.
func (h *BlockHandle) Release() {
	if !h.released.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("bufcache: block %d released twice", h.id))
	}

	h.tx.cache.locks[h.id].RUnlock()
	h.tx.cache.totalReleases.Add(1)
	h.tx.release()
}

func (tx *Transaction) release() {
	tx.mu.Lock()
	tx.open--
	tx.mu.Unlock()
}

// SubtreeRecencies returns the subtree recency of each given block, one
// output per input in the same order. The lookups are served in a single
// batch straight from the mapped file, recency trailers never change while
// the cache is open.
func (tx *Transaction) SubtreeRecencies(ids []BlockID) ([]uint64, error) {
	out := make([]uint64, len(ids))
	for i, id := range ids {
		if uint64(id) >= tx.cache.numPages {
			return nil, errors.Errorf("recency of block %d out of range (file has %d pages)",
				id, tx.cache.numPages)
		}
		out[i] = tx.cache.pageRecency(id)
	}

	return out, nil
}

// Close ends the transaction. It errors if any block acquired through this
// transaction was never released, a leaked lock is a bug in the caller.
func (tx *Transaction) Close() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.closed {
		return errors.New("transaction closed twice")
	}
	tx.closed = true

	if tx.open != 0 {
		return errors.Errorf("transaction closed with %d blocks still held", tx.open)
	}

	return nil
}
