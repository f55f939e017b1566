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
	"github.com/weaviate/btkv/bufcache"
)

// PageType tags the payload of a page.
type PageType uint8

const (
	PageTypeSuperblock PageType = iota + 1
	PageTypeInternal
	PageTypeLeaf
	PageTypeOverflow
)

func (t PageType) String() string {
	switch t {
	case PageTypeSuperblock:
		return "superblock"
	case PageTypeInternal:
		return "internal"
	case PageTypeLeaf:
		return "leaf"
	case PageTypeOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Superblock is the fixed page 0 of every tree file. RootID is NullBlockID
// for an empty tree.
type Superblock struct {
	RootID bufcache.BlockID
}

// ChildRef points an internal node at one child subtree. The separator key is
// the smallest key reachable through the child.
type ChildRef struct {
	ID           bufcache.BlockID
	SeparatorKey []byte
}

// InternalNode holds an ordered list of child references.
type InternalNode struct {
	Children []ChildRef
}

// LeafEntry is one key with either an inline value or a reference to an
// overflow chain holding a value too large to inline.
type LeafEntry struct {
	Key       []byte
	Timestamp uint64

	// inline value, nil when the entry spills into an overflow chain
	Value []byte

	OverflowID   bufcache.BlockID
	OverflowSize uint64
}

// IsOverflow reports whether the entry's value lives in an overflow chain.
func (e LeafEntry) IsOverflow() bool {
	return e.OverflowID != bufcache.NullBlockID
}

// LeafNode holds an ordered list of entries.
type LeafNode struct {
	Entries []LeafEntry
}

// OverflowNode is one link of an overflow chain. Next is NullBlockID on the
// last link.
type OverflowNode struct {
	Next  bufcache.BlockID
	Chunk []byte
}
