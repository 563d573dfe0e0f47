// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package hfsplus

import (
	"encoding/binary"

	"github.com/elliotnunn/dmgfs/internal/bTree"
)

// extentsOverflow wraps the extents-overflow B-tree, keyed by
// (fork_kind, cnid, start_block) per spec §3/§4.2.
type extentsOverflow struct {
	tree *bTree.Tree
}

func newExtentsOverflow(btr *btreeReader) *extentsOverflow {
	return &extentsOverflow{
		tree: bTree.New(uint64(btr.root), btr.readNode, compareExtentKey, childIDFromIndexValue),
	}
}

func extentKey(kind forkKind, cnid, startBlock uint32) []byte {
	buf := make([]byte, 10)
	buf[0] = byte(kind)
	binary.BigEndian.PutUint32(buf[2:6], cnid)
	binary.BigEndian.PutUint32(buf[6:10], startBlock)
	return buf
}

// compareExtentKey orders by fileID, then forkType, then startBlock, per
// Apple's CompareExtentKeys.
func compareExtentKey(a, b []byte) int {
	aID, bID := binary.BigEndian.Uint32(a[2:6]), binary.BigEndian.Uint32(b[2:6])
	if aID != bID {
		if aID < bID {
			return -1
		}
		return 1
	}
	if a[0] != b[0] {
		if a[0] < b[0] {
			return -1
		}
		return 1
	}
	aStart, bStart := binary.BigEndian.Uint32(a[6:10]), binary.BigEndian.Uint32(b[6:10])
	switch {
	case aStart < bStart:
		return -1
	case aStart > bStart:
		return 1
	default:
		return 0
	}
}

func decodeExtentRecords(value []byte) []ExtentDescriptor {
	n := len(value) / 8
	out := make([]ExtentDescriptor, 0, n)
	for i := 0; i < n; i++ {
		rec := value[i*8:]
		e := ExtentDescriptor{
			StartBlock: binary.BigEndian.Uint32(rec[0:4]),
			BlockCount: binary.BigEndian.Uint32(rec[4:8]),
		}
		if e.BlockCount == 0 {
			break
		}
		out = append(out, e)
	}
	return out
}

// extentsFor range-scans for every overflow record belonging to (kind, cnid)
// starting from the given block, in ascending start-block order.
func (x *extentsOverflow) extentsFor(kind forkKind, cnid uint32, fromBlock uint32) ([]ExtentDescriptor, error) {
	var out []ExtentDescriptor
	low := extentKey(kind, cnid, fromBlock)
	err := x.tree.RangeScan(low, func(rec bTree.Record) (bool, error) {
		if len(rec.Key) < 10 {
			return false, nil
		}
		recID := binary.BigEndian.Uint32(rec.Key[2:6])
		recKind := forkKind(rec.Key[0])
		if recID != cnid || recKind != kind {
			return false, nil
		}
		out = append(out, decodeExtentRecords(rec.Value)...)
		return true, nil
	})
	return out, err
}
