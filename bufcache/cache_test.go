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
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func writeTestFile(t *testing.T, payloads [][]byte, recencies []uint64) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pages.btkv")
	w, err := NewWriter(path, 0)
	require.NoError(t, err)

	require.NoError(t, w.WritePage(SuperblockID, payloads[0], recencies[0]))
	for i := 1; i < len(payloads); i++ {
		id := w.Allocate()
		require.Equal(t, BlockID(i), id)
		require.NoError(t, w.WritePage(id, payloads[i], recencies[i]))
	}

	require.NoError(t, w.Flush())
	return path
}

func TestCacheRoundTrip(t *testing.T) {
	path := writeTestFile(t,
		[][]byte{[]byte("superblock"), []byte("one"), []byte("two")},
		[]uint64{7, 3, 7})

	cache, err := Open(path, testLogger())
	require.NoError(t, err)
	defer cache.Close()

	assert.Equal(t, uint64(3), cache.NumPages())
	assert.Equal(t, DefaultPageSize, cache.PageSize())

	tx, err := cache.Begin(TxModeRead, 0)
	require.NoError(t, err)

	h, err := tx.Acquire(context.Background(), BlockID(1), LockRead)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), h.Payload()[:3])
	h.Release()

	require.NoError(t, tx.Close())

	acquires, releases := cache.AcquireReleaseTotals()
	assert.Equal(t, acquires, releases)
	assert.Equal(t, uint64(1), cache.AcquireCount(BlockID(1)))
	assert.Equal(t, uint64(0), cache.AcquireCount(BlockID(2)))
}

func TestCacheBatchedRecencies(t *testing.T) {
	path := writeTestFile(t,
		[][]byte{[]byte("sb"), []byte("a"), []byte("b"), []byte("c")},
		[]uint64{30, 10, 30, 20})

	cache, err := Open(path, testLogger())
	require.NoError(t, err)
	defer cache.Close()

	tx, err := cache.Begin(TxModeRead, 0)
	require.NoError(t, err)
	defer tx.Close()

	// one output per input, same order
	recencies, err := tx.SubtreeRecencies([]BlockID{3, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, []uint64{20, 10, 30}, recencies)

	_, err = tx.SubtreeRecencies([]BlockID{99})
	assert.Error(t, err)
}

func TestCacheLeakedHandleFailsClose(t *testing.T) {
	path := writeTestFile(t, [][]byte{[]byte("sb"), []byte("x")}, []uint64{1, 1})

	cache, err := Open(path, testLogger())
	require.NoError(t, err)
	defer cache.Close()

	tx, err := cache.Begin(TxModeRead, 0)
	require.NoError(t, err)

	h, err := tx.Acquire(context.Background(), BlockID(1), LockRead)
	require.NoError(t, err)

	err = tx.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still held")

	h.Release()
}

func TestCacheDoubleReleasePanics(t *testing.T) {
	path := writeTestFile(t, [][]byte{[]byte("sb"), []byte("x")}, []uint64{1, 1})

	cache, err := Open(path, testLogger())
	require.NoError(t, err)
	defer cache.Close()

	tx, err := cache.Begin(TxModeRead, 0)
	require.NoError(t, err)
	defer tx.Close()

	h, err := tx.Acquire(context.Background(), BlockID(1), LockRead)
	require.NoError(t, err)
	h.Release()

	assert.Panics(t, func() { h.Release() })
}

func TestCacheAcquireValidation(t *testing.T) {
	path := writeTestFile(t, [][]byte{[]byte("sb")}, []uint64{0})

	cache, err := Open(path, testLogger())
	require.NoError(t, err)
	defer cache.Close()

	tx, err := cache.Begin(TxModeRead, 0)
	require.NoError(t, err)
	defer tx.Close()

	t.Run("out of range", func(t *testing.T) {
		_, err := tx.Acquire(context.Background(), BlockID(5), LockRead)
		assert.Error(t, err)
	})

	t.Run("write lock in read tx", func(t *testing.T) {
		_, err := tx.Acquire(context.Background(), SuperblockID, LockWrite)
		assert.Error(t, err)
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := tx.Acquire(ctx, SuperblockID, LockRead)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestWriterValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.btkv")
	w, err := NewWriter(path, 128)
	require.NoError(t, err)

	id := w.Allocate()

	t.Run("unallocated block", func(t *testing.T) {
		assert.Error(t, w.WritePage(BlockID(42), []byte("x"), 0))
	})

	t.Run("oversized payload", func(t *testing.T) {
		assert.Error(t, w.WritePage(id, make([]byte, 128), 0))
	})

	t.Run("unwritten block fails flush", func(t *testing.T) {
		assert.Error(t, w.Flush())
	})

	t.Run("double write", func(t *testing.T) {
		require.NoError(t, w.WritePage(id, []byte("x"), 0))
		assert.Error(t, w.WritePage(id, []byte("y"), 0))
	})
}
