// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package hfsplus

import (
	"encoding/binary"

	"github.com/elliotnunn/dmgfs/dmgerr"
	"github.com/elliotnunn/dmgfs/internal/bTree"
	"github.com/elliotnunn/dmgfs/internal/blockcache"
)

const (
	nodeKindLeaf   = -1
	nodeKindIndex  = 0
	nodeKindHeader = 1
	nodeKindMap    = 2

	descriptorSize = 14
)

// btreeReader owns the fork reader of a B-tree file and the node size
// declared in its header node (spec §4.2 "B-tree nodes").
type btreeReader struct {
	fork     *ForkReader
	nodeSize uint16
	root     uint32

	// cache, if set, memoizes raw node bytes keyed by node id under
	// namespace, since path resolution and walks re-read the same hot
	// catalog/extents-overflow nodes repeatedly (SPEC_FULL §2).
	cache     *blockcache.Cache
	namespace string
}

// BTHeaderRec immediately follows the 14-byte node descriptor at a fixed
// offset regardless of the node's eventual declared size, so node 0's
// header fields can be read before nodeSize itself is known — no need to
// locate them via the (size-dependent) tail offset table.
const (
	headerRecOffset      = descriptorSize
	headerRootNodeOffset = headerRecOffset + 2
	headerNodeSizeOffset = headerRecOffset + 18
	headerRecMinRead     = headerRecOffset + 20
)

func newBtreeReader(fork *ForkReader, cache *blockcache.Cache, namespace string) (*btreeReader, error) {
	r := &btreeReader{fork: fork, nodeSize: 512, cache: cache, namespace: namespace}
	buf := make([]byte, headerRecMinRead)
	if _, err := fork.ReadAt(buf, 0); err != nil {
		return nil, dmgerr.New(dmgerr.Truncated, "hfsplus.btree", err)
	}
	r.nodeSize = binary.BigEndian.Uint16(buf[headerNodeSizeOffset:])
	r.root = binary.BigEndian.Uint32(buf[headerRootNodeOffset:])
	if r.nodeSize == 0 {
		return nil, dmgerr.New(dmgerr.BadHeader, "hfsplus.btree", nil)
	}
	return r, nil
}

// decodeNode parses a raw node buffer into the generic bTree.Node shape.
func decodeNode(raw []byte) (bTree.Node, error) {
	if len(raw) < descriptorSize {
		return bTree.Node{}, dmgerr.New(dmgerr.Truncated, "hfsplus.btree.node", nil)
	}
	kind := int8(raw[8])
	numRecords := int(binary.BigEndian.Uint16(raw[10:12]))

	var n bTree.Node
	n.Leaf = kind == nodeKindLeaf

	if kind != nodeKindLeaf && kind != nodeKindIndex && kind != nodeKindHeader {
		return n, nil // map nodes carry no key/value records we care about
	}

	offsets := make([]uint16, numRecords+1)
	for i := 0; i <= numRecords; i++ {
		pos := len(raw) - 2*(i+1)
		if pos < 0 {
			return bTree.Node{}, dmgerr.New(dmgerr.BadHeader, "hfsplus.btree.node", nil)
		}
		offsets[i] = binary.BigEndian.Uint16(raw[pos:])
	}

	for i := 0; i < numRecords; i++ {
		start, end := offsets[i], offsets[i+1]
		if start > end || int(end) > len(raw) {
			return bTree.Node{}, dmgerr.New(dmgerr.BadHeader, "hfsplus.btree.node", nil)
		}
		rec := raw[start:end]
		keyLen := int(binary.BigEndian.Uint16(rec[0:2]))
		if 2+keyLen > len(rec) {
			return bTree.Node{}, dmgerr.New(dmgerr.BadHeader, "hfsplus.btree.node", nil)
		}
		key := rec[2 : 2+keyLen]
		valOff := 2 + keyLen
		if valOff%2 == 1 {
			valOff++ // records are padded to even length
		}
		var value []byte
		if valOff < len(rec) {
			value = rec[valOff:]
		}
		n.Records = append(n.Records, bTree.Record{Key: key, Value: value})
	}
	return n, nil
}

func (r *btreeReader) readNode(id uint64) (bTree.Node, error) {
	raw, err := r.rawNode(uint32(id))
	if err != nil {
		return bTree.Node{}, err
	}
	return decodeNode(raw)
}

func (r *btreeReader) rawNode(id uint32) ([]byte, error) {
	if r.cache != nil {
		key := blockcache.Key{Namespace: r.namespace, Index: uint64(id)}
		if buf, ok := r.cache.Get(key); ok {
			return buf, nil
		}
		buf, err := r.readRawNode(id)
		if err != nil {
			return nil, err
		}
		r.cache.Put(key, buf)
		return buf, nil
	}
	return r.readRawNode(id)
}

func (r *btreeReader) readRawNode(id uint32) ([]byte, error) {
	buf := make([]byte, r.nodeSize)
	n, err := r.fork.ReadAt(buf, int64(id)*int64(r.nodeSize))
	if n < descriptorSize {
		return nil, dmgerr.New(dmgerr.Truncated, "hfsplus.btree.node", err)
	}
	return buf, nil
}

func childIDFromIndexValue(v []byte) uint64 {
	if len(v) < 4 {
		return 0
	}
	return uint64(binary.BigEndian.Uint32(v))
}
