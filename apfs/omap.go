// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package apfs

import (
	"encoding/binary"

	"github.com/elliotnunn/dmgfs/dmgerr"
	"github.com/elliotnunn/dmgfs/internal/bTree"
)

// objectMap resolves virtual OIDs to physical block numbers via the
// omap B-tree keyed by (oid, xid) (spec §3 "Object map (omap)", §4.3).
type objectMap struct {
	src       reader
	blockSize uint32
	tree      *bTree.Tree
}

// reader is the minimal block-reading capability objectMap and the catalog
// B-tree need; satisfied by *apfs.container.
type reader interface {
	readBlock(num uint64) ([]byte, error)
}

func openObjectMap(c reader, blockSize uint32, omapOID uint64) (*objectMap, error) {
	block, err := c.readBlock(omapOID)
	if err != nil {
		return nil, err
	}
	h := parseObjHeader(block)
	if h.typ&objTypeMask != objTypeOmap {
		return nil, dmgerr.New(dmgerr.BadHeader, "apfs.omap", nil)
	}
	treeOID := binary.BigEndian.Uint64(block[omapTreeOIDOff:])

	om := &objectMap{src: c, blockSize: blockSize}
	om.tree = bTree.New(treeOID, om.readNode, compareOmapKey, childPhysicalOID)
	return om, nil
}

// childPhysicalOID reads an 8-byte physical object ID from an omap index
// record's value; omap nodes are physical objects, so oid doubles as the
// block number readNode expects.
func childPhysicalOID(v []byte) uint64 {
	if len(v) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v[0:8])
}

func (om *objectMap) readNode(id uint64) (bTree.Node, error) {
	raw, err := om.src.readBlock(id)
	if err != nil {
		return bTree.Node{}, err
	}
	return decodeAPFSNode(raw)
}

func omapKey(oid, xid uint64) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], oid)
	binary.BigEndian.PutUint64(buf[8:16], xid)
	return buf
}

func compareOmapKey(a, b []byte) int {
	aOID, bOID := binary.BigEndian.Uint64(a[0:8]), binary.BigEndian.Uint64(b[0:8])
	switch {
	case aOID < bOID:
		return -1
	case aOID > bOID:
		return 1
	}
	aXID, bXID := binary.BigEndian.Uint64(a[8:16]), binary.BigEndian.Uint64(b[8:16])
	switch {
	case aXID < bXID:
		return -1
	case aXID > bXID:
		return 1
	default:
		return 0
	}
}

// Resolve returns the physical block number for a virtual oid as of the
// given snapshot xid: the omap entry for that oid with the largest xid
// <= snapshotXID (spec §4.3 "Object maps").
func (om *objectMap) Resolve(oid, snapshotXID uint64) (uint64, error) {
	var best uint64
	found := false
	low := omapKey(oid, 0)
	err := om.tree.RangeScan(low, func(rec bTree.Record) (bool, error) {
		if len(rec.Key) < 16 {
			return false, nil
		}
		recOID := binary.BigEndian.Uint64(rec.Key[0:8])
		if recOID != oid {
			return false, nil
		}
		recXID := binary.BigEndian.Uint64(rec.Key[8:16])
		if recXID <= snapshotXID {
			if len(rec.Value) < 16 {
				return false, nil
			}
			best = binary.BigEndian.Uint64(rec.Value[8:16]) // omap_val_t.paddr
			found = true
		}
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, dmgerr.New(dmgerr.BadHeader, "apfs.omap.resolve", nil)
	}
	return best, nil
}
