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
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/spaolacci/murmur3"
	"github.com/weaviate/btkv/bufcache"
)

// Page payload layout: 1 byte page type, 3 reserved bytes, 8 byte murmur3-64
// checksum over the body, 4 byte body length, then the body itself. Pages
// are zero-padded to page size on disk, the explicit length keeps the
// checksum over exactly the written body. A page that fails the checksum or
// runs out of bytes mid-field is corrupt, which is always fatal to the
// operation reading it.

const pageHeaderSize = 16

const superblockMagic = uint32(0x6274_7362) // "btsb"

const superblockVersion = uint16(1)

func finishPage(t PageType, body []byte) []byte {
	out := make([]byte, pageHeaderSize+len(body))
	out[0] = byte(t)
	binary.LittleEndian.PutUint64(out[4:12], murmur3.Sum64(body))
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(body)))
	copy(out[pageHeaderSize:], body)
	return out
}

// pageBody validates the header and checksum and returns the body. want is
// the page type the caller expects to find.
func pageBody(payload []byte, want PageType) ([]byte, error) {
	if len(payload) < pageHeaderSize {
		return nil, errors.Errorf("page truncated: %d bytes", len(payload))
	}

	if got := PageType(payload[0]); got != want {
		return nil, errors.Errorf("expected %s page, found %s (type byte %d)",
			want, got, payload[0])
	}

	bodyLen := int(binary.LittleEndian.Uint32(payload[12:16]))
	if pageHeaderSize+bodyLen > len(payload) {
		return nil, errors.Errorf("%s page body length %d exceeds page", want, bodyLen)
	}

	body := payload[pageHeaderSize : pageHeaderSize+bodyLen]
	if sum := murmur3.Sum64(body); sum != binary.LittleEndian.Uint64(payload[4:12]) {
		return nil, errors.Errorf("%s page checksum mismatch", want)
	}

	return body, nil
}

// PageKind returns the type byte of a page without validating the body.
func PageKind(payload []byte) (PageType, error) {
	if len(payload) < pageHeaderSize {
		return 0, errors.Errorf("page truncated: %d bytes", len(payload))
	}

	t := PageType(payload[0])
	switch t {
	case PageTypeSuperblock, PageTypeInternal, PageTypeLeaf, PageTypeOverflow:
		return t, nil
	default:
		return 0, errors.Errorf("unknown page type byte %d", payload[0])
	}
}

// bodyReader is a bounds-checked cursor over a page body. Reading past the
// end marks the reader failed instead of panicking, callers check Err once at
// the end of a parse.
type bodyReader struct {
	buf []byte
	off int
	err error
}

func (r *bodyReader) uint8() uint8 {
	if r.err != nil || r.off+1 > len(r.buf) {
		r.fail(1)
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *bodyReader) uint16() uint16 {
	if r.err != nil || r.off+2 > len(r.buf) {
		r.fail(2)
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *bodyReader) uint32() uint32 {
	if r.err != nil || r.off+4 > len(r.buf) {
		r.fail(4)
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *bodyReader) uint64() uint64 {
	if r.err != nil || r.off+8 > len(r.buf) {
		r.fail(8)
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *bodyReader) bytes(n int) []byte {
	if r.err != nil || n < 0 || r.off+n > len(r.buf) {
		r.fail(n)
		return nil
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:])
	r.off += n
	return out
}

func (r *bodyReader) fail(n int) {
	if r.err == nil {
		r.err = errors.Errorf("truncated body: need %d bytes at offset %d of %d",
			n, r.off, len(r.buf))
	}
}

// SerializeSuperblock builds the page 0 payload.
func SerializeSuperblock(sb Superblock) []byte {
	body := make([]byte, 14)
	binary.LittleEndian.PutUint32(body[0:4], superblockMagic)
	binary.LittleEndian.PutUint16(body[4:6], superblockVersion)
	binary.LittleEndian.PutUint64(body[6:14], uint64(sb.RootID))
	return finishPage(PageTypeSuperblock, body)
}

// ParseSuperblock reads the page 0 payload.
func ParseSuperblock(payload []byte) (Superblock, error) {
	body, err := pageBody(payload, PageTypeSuperblock)
	if err != nil {
		return Superblock{}, err
	}

	r := &bodyReader{buf: body}
	magic := r.uint32()
	version := r.uint16()
	root := r.uint64()
	if r.err != nil {
		return Superblock{}, errors.Wrap(r.err, "parse superblock")
	}

	if magic != superblockMagic {
		return Superblock{}, errors.Errorf("superblock magic mismatch: %x", magic)
	}

	if version != superblockVersion {
		return Superblock{}, errors.Errorf("unsupported superblock version %d", version)
	}

	return Superblock{RootID: bufcache.BlockID(root)}, nil
}

// RootBlockID extracts the root id from a superblock page. NullBlockID means
// the tree is empty.
func RootBlockID(payload []byte) (bufcache.BlockID, error) {
	sb, err := ParseSuperblock(payload)
	if err != nil {
		return bufcache.NullBlockID, err
	}
	return sb.RootID, nil
}

// SerializeInternal builds an internal node payload.
func SerializeInternal(node InternalNode) ([]byte, error) {
	if len(node.Children) == 0 {
		return nil, errors.New("internal node without children")
	}

	size := 2
	for _, c := range node.Children {
		size += 8 + 2 + len(c.SeparatorKey)
	}

	body := make([]byte, size)
	binary.LittleEndian.PutUint16(body[0:2], uint16(len(node.Children)))
	off := 2
	for _, c := range node.Children {
		if c.ID == bufcache.NullBlockID {
			return nil, errors.New("internal node references null block")
		}
		binary.LittleEndian.PutUint64(body[off:], uint64(c.ID))
		off += 8
		binary.LittleEndian.PutUint16(body[off:], uint16(len(c.SeparatorKey)))
		off += 2
		copy(body[off:], c.SeparatorKey)
		off += len(c.SeparatorKey)
	}

	return finishPage(PageTypeInternal, body), nil
}

// ParseInternal reads an internal node payload.
func ParseInternal(payload []byte) (InternalNode, error) {
	body, err := pageBody(payload, PageTypeInternal)
	if err != nil {
		return InternalNode{}, err
	}

	r := &bodyReader{buf: body}
	count := int(r.uint16())
	children := make([]ChildRef, 0, count)
	for i := 0; i < count; i++ {
		id := bufcache.BlockID(r.uint64())
		sep := r.bytes(int(r.uint16()))
		if r.err != nil {
			break
		}
		if id == bufcache.NullBlockID {
			return InternalNode{}, errors.Errorf("internal node child %d references null block", i)
		}
		children = append(children, ChildRef{ID: id, SeparatorKey: sep})
	}
	if r.err != nil {
		return InternalNode{}, errors.Wrap(r.err, "parse internal node")
	}

	if count == 0 {
		return InternalNode{}, errors.New("internal node without children")
	}

	return InternalNode{Children: children}, nil
}

const (
	leafFlagOverflow = uint8(1 << 0)
)

// SerializeLeaf builds a leaf node payload.
func SerializeLeaf(node LeafNode) ([]byte, error) {
	size := 2
	for _, e := range node.Entries {
		size += 1 + 8 + 2 + len(e.Key)
		if e.IsOverflow() {
			size += 8 + 8
		} else {
			size += 4 + len(e.Value)
		}
	}

	body := make([]byte, size)
	binary.LittleEndian.PutUint16(body[0:2], uint16(len(node.Entries)))
	off := 2
	for _, e := range node.Entries {
		var flags uint8
		if e.IsOverflow() {
			flags |= leafFlagOverflow
		}
		body[off] = flags
		off++
		binary.LittleEndian.PutUint64(body[off:], e.Timestamp)
		off += 8
		binary.LittleEndian.PutUint16(body[off:], uint16(len(e.Key)))
		off += 2
		copy(body[off:], e.Key)
		off += len(e.Key)

		if e.IsOverflow() {
			binary.LittleEndian.PutUint64(body[off:], uint64(e.OverflowID))
			off += 8
			binary.LittleEndian.PutUint64(body[off:], e.OverflowSize)
			off += 8
		} else {
			binary.LittleEndian.PutUint32(body[off:], uint32(len(e.Value)))
			off += 4
			copy(body[off:], e.Value)
			off += len(e.Value)
		}
	}

	return finishPage(PageTypeLeaf, body), nil
}

// ParseLeaf reads a leaf node payload.
func ParseLeaf(payload []byte) (LeafNode, error) {
	body, err := pageBody(payload, PageTypeLeaf)
	if err != nil {
		return LeafNode{}, err
	}

	r := &bodyReader{buf: body}
	count := int(r.uint16())
	entries := make([]LeafEntry, 0, count)
	for i := 0; i < count; i++ {
		flags := r.uint8()
		ts := r.uint64()
		key := r.bytes(int(r.uint16()))

		e := LeafEntry{Key: key, Timestamp: ts}
		if flags&leafFlagOverflow != 0 {
			e.OverflowID = bufcache.BlockID(r.uint64())
			e.OverflowSize = r.uint64()
			if r.err == nil && e.OverflowID == bufcache.NullBlockID {
				return LeafNode{}, errors.Errorf("leaf entry %d flagged overflow but references null block", i)
			}
		} else {
			e.Value = r.bytes(int(r.uint32()))
		}
		if r.err != nil {
			break
		}
		entries = append(entries, e)
	}
	if r.err != nil {
		return LeafNode{}, errors.Wrap(r.err, "parse leaf node")
	}

	return LeafNode{Entries: entries}, nil
}

// SerializeOverflow builds one overflow chain link.
func SerializeOverflow(node OverflowNode) ([]byte, error) {
	if len(node.Chunk) == 0 {
		return nil, errors.New("overflow node without chunk data")
	}

	body := make([]byte, 8+4+len(node.Chunk))
	binary.LittleEndian.PutUint64(body[0:8], uint64(node.Next))
	binary.LittleEndian.PutUint32(body[8:12], uint32(len(node.Chunk)))
	copy(body[12:], node.Chunk)
	return finishPage(PageTypeOverflow, body), nil
}

// ParseOverflow reads one overflow chain link.
func ParseOverflow(payload []byte) (OverflowNode, error) {
	body, err := pageBody(payload, PageTypeOverflow)
	if err != nil {
		return OverflowNode{}, err
	}

	r := &bodyReader{buf: body}
	next := bufcache.BlockID(r.uint64())
	chunk := r.bytes(int(r.uint32()))
	if r.err != nil {
		return OverflowNode{}, errors.Wrap(r.err, "parse overflow node")
	}

	if len(chunk) == 0 {
		return OverflowNode{}, errors.New("overflow node without chunk data")
	}

	return OverflowNode{Next: next, Chunk: chunk}, nil
}
