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
	"bufio"
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
)

// DefaultPageSize is the page size used when the caller does not override it.
const DefaultPageSize = 4096

// Writer builds a page file from scratch. Pages are buffered in memory and
// written out on Flush, a cache can only open the file afterwards. Page 0 is
// reserved for the superblock and implicitly allocated.
type Writer struct {
	path     string
	pageSize int
	pages    [][]byte
	recency  []uint64
	written  []bool
}

// NewWriter prepares a page file at the given path. pageSize 0 selects
// DefaultPageSize.
func NewWriter(path string, pageSize int) (*Writer, error) {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}

	if pageSize < 64 {
		return nil, errors.Errorf("page size %d too small", pageSize)
	}

	return &Writer{
		path:     path,
		pageSize: pageSize,
		pages:    make([][]byte, 1),
		recency:  make([]uint64, 1),
		written:  make([]bool, 1),
	}, nil
}

// PayloadSize returns the number of payload bytes available per page.
func (w *Writer) PayloadSize() int {
	return w.pageSize - recencyTrailerSize
}

// Allocate reserves the next block id. Ids start at 1, the superblock at id 0
// exists from the start.
func (w *Writer) Allocate() BlockID {
	id := BlockID(len(w.pages))
	w.pages = append(w.pages, nil)
	w.recency = append(w.recency, 0)
	w.written = append(w.written, false)
	return id
}

// WritePage stores the payload and subtree recency for a previously allocated
// block. Writing the same block twice is an error.
func (w *Writer) WritePage(id BlockID, payload []byte, recency uint64) error {
	if uint64(id) >= uint64(len(w.pages)) {
		return errors.Errorf("write to unallocated block %d", id)
	}

	if w.written[id] {
		return errors.Errorf("block %d written twice", id)
	}

	if len(payload) > w.PayloadSize() {
		return errors.Errorf("block %d: payload %d bytes exceeds page payload size %d",
			id, len(payload), w.PayloadSize())
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)

	w.pages[id] = buf
	w.recency[id] = recency
	w.written[id] = true
	return nil
}

// Flush writes the header and all pages to disk and syncs the file. Every
// allocated block must have been written.
func (w *Writer) Flush() error {
	for id, ok := range w.written {
		if !ok {
			return errors.Errorf("block %d allocated but never written", id)
		}
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(err, "create page file")
	}

	bw := bufio.NewWriter(f)

	header := make([]byte, fileHeaderSize)
	copy(header[:8], fileMagic[:])
	binary.LittleEndian.PutUint16(header[8:10], fileFormatVersion)
	binary.LittleEndian.PutUint32(header[12:16], uint32(w.pageSize))
	binary.LittleEndian.PutUint64(header[16:24], uint64(len(w.pages)))
	if _, err := bw.Write(header); err != nil {
		f.Close()
		return errors.Wrap(err, "write file header")
	}

	page := make([]byte, w.pageSize)
	for id, payload := range w.pages {
		for i := range page {
			page[i] = 0
		}
		copy(page, payload)
		binary.LittleEndian.PutUint64(page[w.pageSize-recencyTrailerSize:], w.recency[id])
		if _, err := bw.Write(page); err != nil {
			f.Close()
			return errors.Wrapf(err, "write block %d", id)
		}
	}

	if err := bw.Flush(); err != nil {
		f.Close()
		return errors.Wrap(err, "flush page file")
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "sync page file")
	}

	return errors.Wrap(f.Close(), "close page file")
}
