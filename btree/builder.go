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
	"bytes"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/weaviate/btkv/bufcache"
)

// Builder bulk-loads a sorted item set into a fresh tree file, bottom-up:
// overflow chains first, then leaves, then internal levels, finally the
// superblock. Every page's recency trailer is set to the most recent
// timestamp in its subtree, which is what backfill prunes on. The builder is
// load-only tooling, it does not mutate existing trees.
type Builder struct {
	pageSize        int
	leafFanout      int
	internalFanout  int
	inlineThreshold int
	logger          logrus.FieldLogger
}

// Item is one key/value pair to load. Values longer than the inline
// threshold spill into overflow chains.
type Item struct {
	Key       []byte
	Value     []byte
	Timestamp uint64
}

type BuilderOption func(b *Builder) error

func WithPageSize(size int) BuilderOption {
	return func(b *Builder) error {
		if size < 64 {
			return errors.Errorf("page size %d too small", size)
		}
		b.pageSize = size
		return nil
	}
}

func WithLeafFanout(n int) BuilderOption {
	return func(b *Builder) error {
		if n < 1 {
			return errors.Errorf("leaf fanout %d must be positive", n)
		}
		b.leafFanout = n
		return nil
	}
}

func WithInternalFanout(n int) BuilderOption {
	return func(b *Builder) error {
		if n < 2 {
			return errors.Errorf("internal fanout %d must be at least 2", n)
		}
		b.internalFanout = n
		return nil
	}
}

func WithInlineThreshold(n int) BuilderOption {
	return func(b *Builder) error {
		if n < 0 {
			return errors.Errorf("inline threshold %d must not be negative", n)
		}
		b.inlineThreshold = n
		return nil
	}
}

func NewBuilder(logger logrus.FieldLogger, opts ...BuilderOption) (*Builder, error) {
	b := &Builder{
		pageSize:        bufcache.DefaultPageSize,
		leafFanout:      16,
		internalFanout:  16,
		inlineThreshold: 256,
		logger:          logger,
	}

	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}

	return b, nil
}

type builtNode struct {
	id       bufcache.BlockID
	firstKey []byte
	recency  uint64
}

// Build writes the tree file at path. Items must be sorted by key with no
// duplicates. An empty item set produces a valid file holding an empty tree.
func (b *Builder) Build(path string, items []Item) error {
	for i := 1; i < len(items); i++ {
		if bytes.Compare(items[i-1].Key, items[i].Key) >= 0 {
			return errors.Errorf("items not strictly sorted at index %d (%q >= %q)",
				i, items[i-1].Key, items[i].Key)
		}
	}

	w, err := bufcache.NewWriter(path, b.pageSize)
	if err != nil {
		return err
	}

	nodes, err := b.buildLeaves(w, items)
	if err != nil {
		return err
	}

	for len(nodes) > 1 {
		nodes, err = b.buildInternalLevel(w, nodes)
		if err != nil {
			return err
		}
	}

	sb := Superblock{RootID: bufcache.NullBlockID}
	var rootRecency uint64
	if len(nodes) == 1 {
		sb.RootID = nodes[0].id
		rootRecency = nodes[0].recency
	}

	if err := w.WritePage(bufcache.SuperblockID, SerializeSuperblock(sb), rootRecency); err != nil {
		return errors.Wrap(err, "write superblock")
	}

	if err := w.Flush(); err != nil {
		return err
	}

	b.logger.WithFields(logrus.Fields{
		"action": "btree_bulk_load",
		"path":   path,
		"items":  len(items),
	}).Debug("built tree file")

	return nil
}

func (b *Builder) buildLeaves(w *bufcache.Writer, items []Item) ([]builtNode, error) {
	var nodes []builtNode
	for start := 0; start < len(items); start += b.leafFanout {
		end := start + b.leafFanout
		if end > len(items) {
			end = len(items)
		}

		var node LeafNode
		var recency uint64
		for _, item := range items[start:end] {
			e := LeafEntry{Key: item.Key, Timestamp: item.Timestamp}
			if len(item.Value) > b.inlineThreshold {
				id, err := b.writeOverflowChain(w, item)
				if err != nil {
					return nil, err
				}
				e.OverflowID = id
				e.OverflowSize = uint64(len(item.Value))
			} else {
				e.Value = item.Value
			}
			node.Entries = append(node.Entries, e)
			if item.Timestamp > recency {
				recency = item.Timestamp
			}
		}

		payload, err := SerializeLeaf(node)
		if err != nil {
			return nil, err
		}
		if len(payload) > w.PayloadSize() {
			return nil, errors.Errorf("leaf with %d entries does not fit one page, lower the leaf fanout",
				len(node.Entries))
		}

		id := w.Allocate()
		if err := w.WritePage(id, payload, recency); err != nil {
			return nil, errors.Wrapf(err, "write leaf %d", id)
		}

		nodes = append(nodes, builtNode{
			id:       id,
			firstKey: items[start].Key,
			recency:  recency,
		})
	}

	return nodes, nil
}

func (b *Builder) buildInternalLevel(w *bufcache.Writer, children []builtNode) ([]builtNode, error) {
	var nodes []builtNode
	for start := 0; start < len(children); start += b.internalFanout {
		end := start + b.internalFanout
		if end > len(children) {
			end = len(children)
		}

		var node InternalNode
		var recency uint64
		for _, c := range children[start:end] {
			node.Children = append(node.Children, ChildRef{
				ID:           c.id,
				SeparatorKey: c.firstKey,
			})
			if c.recency > recency {
				recency = c.recency
			}
		}

		payload, err := SerializeInternal(node)
		if err != nil {
			return nil, err
		}
		if len(payload) > w.PayloadSize() {
			return nil, errors.Errorf("internal node with %d children does not fit one page, lower the internal fanout",
				len(node.Children))
		}

		id := w.Allocate()
		if err := w.WritePage(id, payload, recency); err != nil {
			return nil, errors.Wrapf(err, "write internal node %d", id)
		}

		nodes = append(nodes, builtNode{
			id:       id,
			firstKey: children[start].firstKey,
			recency:  recency,
		})
	}

	return nodes, nil
}

func (b *Builder) writeOverflowChain(w *bufcache.Writer, item Item) (bufcache.BlockID, error) {
	chunkSize := w.PayloadSize() - pageHeaderSize - 12
	if chunkSize < 1 {
		return bufcache.NullBlockID, errors.Errorf("page size %d leaves no room for overflow chunks", b.pageSize)
	}

	// chain links are written back to front so each link knows its successor
	var chunks [][]byte
	for off := 0; off < len(item.Value); off += chunkSize {
		end := off + chunkSize
		if end > len(item.Value) {
			end = len(item.Value)
		}
		chunks = append(chunks, item.Value[off:end])
	}

	next := bufcache.NullBlockID
	for i := len(chunks) - 1; i >= 0; i-- {
		payload, err := SerializeOverflow(OverflowNode{Next: next, Chunk: chunks[i]})
		if err != nil {
			return bufcache.NullBlockID, err
		}

		id := w.Allocate()
		if err := w.WritePage(id, payload, item.Timestamp); err != nil {
			return bufcache.NullBlockID, errors.Wrapf(err, "write overflow link %d for key %q", id, item.Key)
		}
		next = id
	}

	return next, nil
}
