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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/btkv/bufcache"
)

func TestSuperblockRoundTrip(t *testing.T) {
	payload := SerializeSuperblock(Superblock{RootID: bufcache.BlockID(17)})

	root, err := RootBlockID(payload)
	require.NoError(t, err)
	assert.Equal(t, bufcache.BlockID(17), root)

	empty := SerializeSuperblock(Superblock{RootID: bufcache.NullBlockID})
	root, err = RootBlockID(empty)
	require.NoError(t, err)
	assert.Equal(t, bufcache.NullBlockID, root)
}

func TestInternalNodeRoundTrip(t *testing.T) {
	payload, err := SerializeInternal(InternalNode{Children: []ChildRef{
		{ID: 3, SeparatorKey: []byte("apple")},
		{ID: 9, SeparatorKey: []byte("mango")},
	}})
	require.NoError(t, err)

	kind, err := PageKind(payload)
	require.NoError(t, err)
	assert.Equal(t, PageTypeInternal, kind)

	node, err := ParseInternal(payload)
	require.NoError(t, err)
	require.Len(t, node.Children, 2)
	assert.Equal(t, bufcache.BlockID(9), node.Children[1].ID)
	assert.Equal(t, []byte("mango"), node.Children[1].SeparatorKey)
}

func TestLeafNodeRoundTrip(t *testing.T) {
	payload, err := SerializeLeaf(LeafNode{Entries: []LeafEntry{
		{Key: []byte("a"), Timestamp: 5, Value: []byte("inline")},
		{Key: []byte("b"), Timestamp: 9, OverflowID: 12, OverflowSize: 9000},
	}})
	require.NoError(t, err)

	node, err := ParseLeaf(payload)
	require.NoError(t, err)
	require.Len(t, node.Entries, 2)

	assert.False(t, node.Entries[0].IsOverflow())
	assert.Equal(t, []byte("inline"), node.Entries[0].Value)
	assert.Equal(t, uint64(5), node.Entries[0].Timestamp)

	assert.True(t, node.Entries[1].IsOverflow())
	assert.Equal(t, bufcache.BlockID(12), node.Entries[1].OverflowID)
	assert.Equal(t, uint64(9000), node.Entries[1].OverflowSize)
	assert.Nil(t, node.Entries[1].Value)
}

func TestOverflowNodeRoundTrip(t *testing.T) {
	payload, err := SerializeOverflow(OverflowNode{Next: 4, Chunk: []byte("chunk bytes")})
	require.NoError(t, err)

	node, err := ParseOverflow(payload)
	require.NoError(t, err)
	assert.Equal(t, bufcache.BlockID(4), node.Next)
	assert.Equal(t, []byte("chunk bytes"), node.Chunk)
}

func TestCorruptPagesAreRejected(t *testing.T) {
	valid, err := SerializeLeaf(LeafNode{Entries: []LeafEntry{
		{Key: []byte("k"), Timestamp: 1, Value: []byte("v")},
	}})
	require.NoError(t, err)

	t.Run("flipped body byte fails checksum", func(t *testing.T) {
		corrupt := make([]byte, len(valid))
		copy(corrupt, valid)
		corrupt[len(corrupt)-1] ^= 0xff

		_, err := ParseLeaf(corrupt)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "checksum")
	})

	t.Run("truncated page", func(t *testing.T) {
		_, err := ParseLeaf(valid[:4])
		assert.Error(t, err)
	})

	t.Run("wrong page type", func(t *testing.T) {
		_, err := ParseInternal(valid)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected internal")
	})

	t.Run("unknown type byte", func(t *testing.T) {
		corrupt := make([]byte, len(valid))
		copy(corrupt, valid)
		corrupt[0] = 0x77

		_, err := PageKind(corrupt)
		assert.Error(t, err)
	})

	t.Run("truncated body", func(t *testing.T) {
		// body claims more entries than it holds
		short, err := SerializeLeaf(LeafNode{})
		require.NoError(t, err)
		short[pageHeaderSize] = 3 // entry count, checksum recomputed below
		_, parseErr := ParseLeaf(finishPage(PageTypeLeaf, short[pageHeaderSize:]))
		assert.Error(t, parseErr)
	})

	t.Run("internal node without children", func(t *testing.T) {
		_, err := SerializeInternal(InternalNode{})
		assert.Error(t, err)
	})

	t.Run("internal node referencing superblock", func(t *testing.T) {
		_, err := SerializeInternal(InternalNode{Children: []ChildRef{{ID: bufcache.NullBlockID}}})
		assert.Error(t, err)
	})
}
