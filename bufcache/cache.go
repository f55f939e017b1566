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
	"encoding/binary"
	"os"
	"sync"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// BlockID identifies one fixed-size page in the cache's backing file. It is
// opaque to callers, they obtain ids from page payloads and hand them back to
// Acquire.
type BlockID uint64

// NullBlockID marks the absence of a block, e.g. the root id of an empty tree
// or the end of an overflow chain. Page 0 holds the superblock, so no page
// payload ever references id 0 as a child.
const NullBlockID = BlockID(0)

// SuperblockID is the fixed id of the superblock page.
const SuperblockID = BlockID(0)

const (
	// magic + version + pageSize + numPages, padded
	fileHeaderSize = 32

	// last 8 bytes of every page hold its subtree recency
	recencyTrailerSize = 8
)

var fileMagic = [8]byte{'b', 't', 'k', 'v', 'p', 'a', 'g', 'e'}

const fileFormatVersion = uint16(1)

// Cache provides locked access to the fixed-size pages of a single backing
// file. The file is memory-mapped read-only, writes happen through a Writer
// before the cache is opened.
type Cache struct {
	path     string
	pageSize int
	numPages uint64
	data     mmap.MMap
	file     *os.File
	locks    []sync.RWMutex
	logger   logrus.FieldLogger

	// instrumentation, also used by tests to prove pruned subtrees were
	// never touched
	acquires      []atomic.Uint64
	totalAcquires atomic.Uint64
	totalReleases atomic.Uint64
}

// Open maps an existing page file. The returned cache is read-only.
func Open(path string, logger logrus.FieldLogger) (*Cache, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open page file")
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "stat page file")
	}

	if st.Size() < fileHeaderSize {
		f.Close()
		return nil, errors.Errorf("page file %q too small: %d bytes", path, st.Size())
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "mmap page file")
	}

	c := &Cache{
		path:   path,
		data:   data,
		file:   f,
		logger: logger,
	}

	if err := c.parseHeader(); err != nil {
		data.Unmap()
		f.Close()
		return nil, err
	}

	if want := fileHeaderSize + int64(c.numPages)*int64(c.pageSize); st.Size() != want {
		data.Unmap()
		f.Close()
		return nil, errors.Errorf("page file %q: size %d does not match header (want %d)",
			path, st.Size(), want)
	}

	c.locks = make([]sync.RWMutex, c.numPages)
	c.acquires = make([]atomic.Uint64, c.numPages)

	logger.WithFields(logrus.Fields{
		"action":    "bufcache_open",
		"path":      path,
		"page_size": c.pageSize,
		"pages":     c.numPages,
	}).Debug("opened page cache")

	return c, nil
}

func (c *Cache) parseHeader() error {
	h := c.data[:fileHeaderSize]
	for i := range fileMagic {
		if h[i] != fileMagic[i] {
			return errors.Errorf("page file %q: bad magic", c.path)
		}
	}

	if v := binary.LittleEndian.Uint16(h[8:10]); v != fileFormatVersion {
		return errors.Errorf("page file %q: unsupported format version %d", c.path, v)
	}

	c.pageSize = int(binary.LittleEndian.Uint32(h[12:16]))
	c.numPages = binary.LittleEndian.Uint64(h[16:24])

	if c.pageSize < 64 {
		return errors.Errorf("page file %q: implausible page size %d", c.path, c.pageSize)
	}

	return nil
}

// PageSize returns the size of one page including its recency trailer.
func (c *Cache) PageSize() int {
	return c.pageSize
}

// PayloadSize returns the number of payload bytes available per page.
func (c *Cache) PayloadSize() int {
	return c.pageSize - recencyTrailerSize
}

// NumPages returns the number of pages in the backing file, superblock
// included.
func (c *Cache) NumPages() uint64 {
	return c.numPages
}

// AcquireCount returns how often the given block was acquired over the
// cache's lifetime.
func (c *Cache) AcquireCount(id BlockID) uint64 {
	if uint64(id) >= c.numPages {
		return 0
	}
	return c.acquires[id].Load()
}

// AcquireReleaseTotals returns the lifetime totals of block acquisitions and
// releases. They must be equal whenever no transaction is in flight.
func (c *Cache) AcquireReleaseTotals() (uint64, uint64) {
	return c.totalAcquires.Load(), c.totalReleases.Load()
}

func (c *Cache) pagePayload(id BlockID) []byte {
	off := fileHeaderSize + int(id)*c.pageSize
	return c.data[off : off+c.pageSize-recencyTrailerSize]
}

func (c *Cache) pageRecency(id BlockID) uint64 {
	off := fileHeaderSize + int(id)*c.pageSize + c.pageSize - recencyTrailerSize
	return binary.LittleEndian.Uint64(c.data[off : off+recencyTrailerSize])
}

// Close unmaps the backing file. The caller must have closed all transactions
// first.
func (c *Cache) Close() error {
	if err := c.data.Unmap(); err != nil {
		return errors.Wrap(err, "unmap page file")
	}

	if err := c.file.Close(); err != nil {
		return errors.Wrap(err, "close page file")
	}

	return nil
}
