// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package blockcache memoizes expensive decode results behind a two-tier
// cache: an in-process tinylfu admission cache for hot B-tree nodes and
// decompressed block runs, with an optional on-disk Pebble spill for
// decompressed output that should survive beyond a single extraction call.
// Adapted from the teacher's internal/decompressioncache, which memoized
// UDIF block-run decompression behind a single bigcache instance keyed by a
// synthetic string; this package splits that into an always-on memory tier
// and an opt-in disk tier, keyed by an xxhash digest of the caller-supplied
// locator instead of a formatted string.
package blockcache

import (
	"encoding/binary"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/pebble/v2"
	"github.com/dgryski/go-tinylfu"
)

// Key identifies one cached blob: a namespace string (e.g. a partition ID
// or volume path) plus a numeric index within it (a block-run index or
// B-tree node id).
type Key struct {
	Namespace string
	Index     uint64
}

func (k Key) hash() string {
	h := xxhash.New()
	h.WriteString(k.Namespace)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], k.Index)
	h.Write(buf[:])
	return strconv.FormatUint(h.Sum64(), 36)
}

func (k Key) diskKey() []byte {
	buf := make([]byte, 8+len(k.Namespace))
	binary.BigEndian.PutUint64(buf[0:8], k.Index)
	copy(buf[8:], k.Namespace)
	return buf
}

// Cache is the two-tier memo store. The zero value is unusable; construct
// with New.
type Cache struct {
	hot  *tinylfu.T
	disk *pebble.DB // nil unless a disk tier was opened
}

// memEntries bounds the in-memory tinylfu admission window (spec §5's
// "bounded rolling buffer" principle applied to the hot tier).
const memEntries = 4096

// New constructs a memory-only cache.
func New() *Cache {
	return &Cache{hot: tinylfu.New(memEntries, memEntries*10)}
}

// OpenWithDisk constructs a cache backed additionally by a Pebble database
// rooted at dir, used by dmgfs.WithDiskCache (spec §9 domain-stack wiring).
func OpenWithDisk(dir string) (*Cache, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Cache{hot: tinylfu.New(memEntries, memEntries*10), disk: db}, nil
}

// Close releases the disk tier, if any.
func (c *Cache) Close() error {
	if c.disk == nil {
		return nil
	}
	return c.disk.Close()
}

// Get returns a cached blob for key, checking the hot tier first and, on a
// miss, the disk tier if present.
func (c *Cache) Get(key Key) ([]byte, bool) {
	if v, ok := c.hot.Get(key.hash()); ok {
		if b, ok := v.([]byte); ok {
			return b, true
		}
	}
	if c.disk == nil {
		return nil, false
	}
	val, closer, err := c.disk.Get(key.diskKey())
	if err != nil {
		return nil, false
	}
	defer closer.Close()
	out := append([]byte(nil), val...)
	c.hot.Add(key.hash(), out)
	return out, true
}

// Put stores a blob in the hot tier, and in the disk tier if present.
func (c *Cache) Put(key Key, value []byte) {
	c.hot.Add(key.hash(), value)
	if c.disk != nil {
		_ = c.disk.Set(key.diskKey(), value, pebble.Sync)
	}
}
