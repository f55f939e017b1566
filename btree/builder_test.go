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

package btree

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/btkv/bufcache"
)

func testLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestBuilderEmptyTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.btkv")

	builder, err := NewBuilder(testLogger())
	require.NoError(t, err)
	require.NoError(t, builder.Build(path, nil))

	cache, err := bufcache.Open(path, testLogger())
	require.NoError(t, err)
	defer cache.Close()

	tx, err := cache.Begin(bufcache.TxModeRead, 0)
	require.NoError(t, err)
	defer tx.Close()

	h, err := tx.Acquire(context.Background(), bufcache.SuperblockID, bufcache.LockRead)
	require.NoError(t, err)
	defer h.Release()

	root, err := RootBlockID(h.Payload())
	require.NoError(t, err)
	assert.Equal(t, bufcache.NullBlockID, root)
}

func TestBuilderRecencyPropagation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.btkv")

	builder, err := NewBuilder(testLogger(),
		WithLeafFanout(1), WithInternalFanout(2))
	require.NoError(t, err)

	// leaves 1..4, internals 5 (max 5) and 6 (max 12), root 7 (max 12)
	items := []Item{
		{Key: []byte("k1"), Value: []byte("v1"), Timestamp: 5},
		{Key: []byte("k2"), Value: []byte("v2"), Timestamp: 4},
		{Key: []byte("k3"), Value: []byte("v3"), Timestamp: 12},
		{Key: []byte("k4"), Value: []byte("v4"), Timestamp: 7},
	}
	require.NoError(t, builder.Build(path, items))

	cache, err := bufcache.Open(path, testLogger())
	require.NoError(t, err)
	defer cache.Close()

	tx, err := cache.Begin(bufcache.TxModeRead, 0)
	require.NoError(t, err)
	defer tx.Close()

	recencies, err := tx.SubtreeRecencies([]bufcache.BlockID{1, 2, 3, 4, 5, 6, 7})
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 4, 12, 7, 5, 12, 12}, recencies)

	h, err := tx.Acquire(context.Background(), bufcache.BlockID(7), bufcache.LockRead)
	require.NoError(t, err)
	defer h.Release()

	root, err := ParseInternal(h.Payload())
	require.NoError(t, err)
	require.Len(t, root.Children, 2)
	assert.Equal(t, []byte("k1"), root.Children[0].SeparatorKey)
	assert.Equal(t, []byte("k3"), root.Children[1].SeparatorKey)
}

func TestBuilderOverflowChains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.btkv")

	builder, err := NewBuilder(testLogger(),
		WithPageSize(256), WithInlineThreshold(16))
	require.NoError(t, err)

	big := make([]byte, 1000)
	for i := range big {
		big[i] = byte(i % 251)
	}

	items := []Item{
		{Key: []byte("big"), Value: big, Timestamp: 3},
		{Key: []byte("small"), Value: []byte("inline"), Timestamp: 2},
	}
	require.NoError(t, builder.Build(path, items))

	cache, err := bufcache.Open(path, testLogger())
	require.NoError(t, err)
	defer cache.Close()

	tx, err := cache.Begin(bufcache.TxModeRead, 0)
	require.NoError(t, err)
	defer tx.Close()

	ctx := context.Background()

	h, err := tx.Acquire(ctx, bufcache.SuperblockID, bufcache.LockRead)
	require.NoError(t, err)
	root, err := RootBlockID(h.Payload())
	h.Release()
	require.NoError(t, err)

	h, err = tx.Acquire(ctx, root, bufcache.LockRead)
	require.NoError(t, err)
	leaf, err := ParseLeaf(h.Payload())
	h.Release()
	require.NoError(t, err)

	require.Len(t, leaf.Entries, 2)
	entry := leaf.Entries[0]
	require.True(t, entry.IsOverflow())
	assert.Equal(t, uint64(len(big)), entry.OverflowSize)
	assert.False(t, leaf.Entries[1].IsOverflow())

	// walk the chain and reassemble
	var got []byte
	next := entry.OverflowID
	for next != bufcache.NullBlockID {
		h, err := tx.Acquire(ctx, next, bufcache.LockRead)
		require.NoError(t, err)
		ov, err := ParseOverflow(h.Payload())
		h.Release()
		require.NoError(t, err)

		got = append(got, ov.Chunk...)
		next = ov.Next
	}

	assert.Equal(t, big, got)
}

func TestBuilderRejectsUnsortedItems(t *testing.T) {
	builder, err := NewBuilder(testLogger())
	require.NoError(t, err)

	err = builder.Build(filepath.Join(t.TempDir(), "tree.btkv"), []Item{
		{Key: []byte("b")},
		{Key: []byte("a")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sorted")
}

func TestBuilderManyItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.btkv")

	builder, err := NewBuilder(testLogger(),
		WithLeafFanout(8), WithInternalFanout(4))
	require.NoError(t, err)

	var items []Item
	for i := 0; i < 500; i++ {
		items = append(items, Item{
			Key:       []byte(fmt.Sprintf("key-%05d", i)),
			Value:     []byte(fmt.Sprintf("val-%05d", i)),
			Timestamp: uint64(i + 1),
		})
	}
	require.NoError(t, builder.Build(path, items))

	cache, err := bufcache.Open(path, testLogger())
	require.NoError(t, err)
	defer cache.Close()

	// 500 items, fanout 8 -> 63 leaves -> 16 -> 4 -> 1 internal levels
	assert.Greater(t, cache.NumPages(), uint64(80))
}
