// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package apfs

import (
	"encoding/binary"

	"github.com/elliotnunn/dmgfs/dmgerr"
	"github.com/elliotnunn/dmgfs/internal/bTree"
)

// decodeAPFSNode parses a btree_node_phys_t block into the generic
// bTree.Node shape, handling both fixed-kv and variable-kv table layouts
// (spec §4.3 "Catalog B-tree"). Grounded on the other_examples lima-vm/lima
// types.go offset table and the deploymenttheory/go-apfs
// filesystem_service.go traversal logic for table/key/value addressing.
func decodeAPFSNode(raw []byte) (bTree.Node, error) {
	if len(raw) < btnDataOff {
		return bTree.Node{}, dmgerr.New(dmgerr.Truncated, "apfs.btree.node", nil)
	}
	be := binary.BigEndian
	flags := be.Uint16(raw[btnFlagsOff:])
	nkeys := int(be.Uint32(raw[btnNKeysOff:]))
	tableOff := be.Uint16(raw[btnTableSpaceOff:])
	tableLen := be.Uint16(raw[btnTableSpaceOff+2:])

	fixedKV := flags&btnodeFixedKVSize != 0
	isRoot := flags&btnodeRoot != 0
	isLeaf := flags&btnodeLeaf != 0

	tableStart := btnDataOff + int(tableOff)
	if tableStart+int(tableLen) > len(raw) {
		return bTree.Node{}, dmgerr.New(dmgerr.BadHeader, "apfs.btree.node", nil)
	}
	keyAreaStart := tableStart + int(tableLen)

	valueAreaEnd := len(raw)
	if isRoot {
		valueAreaEnd -= btreeInfoSize
	}

	n := bTree.Node{Leaf: isLeaf}

	entrySize := 8 // variable-kv: 4 x uint16 {keyOff, keyLen, valOff, valLen}
	if fixedKV {
		entrySize = 4 // fixed-kv: 2 x uint16 {keyOff, valOff}
	}

	for i := 0; i < nkeys; i++ {
		entryOff := tableStart + i*entrySize
		if entryOff+entrySize > len(raw) {
			return bTree.Node{}, dmgerr.New(dmgerr.BadHeader, "apfs.btree.node", nil)
		}
		entry := raw[entryOff:]

		var keyOff, keyLen, valOff, valLen int
		if fixedKV {
			keyOff = int(be.Uint16(entry[0:2]))
			valOff = int(be.Uint16(entry[2:4]))
			keyLen = fixedKeyLen(isLeaf)
			valLen = fixedValLen(isLeaf)
		} else {
			keyOff = int(be.Uint16(entry[0:2]))
			keyLen = int(be.Uint16(entry[2:4]))
			valOff = int(be.Uint16(entry[4:6]))
			valLen = int(be.Uint16(entry[6:8]))
		}

		keyStart := keyAreaStart + keyOff
		if keyStart < 0 || keyStart+keyLen > len(raw) {
			return bTree.Node{}, dmgerr.New(dmgerr.BadHeader, "apfs.btree.node", nil)
		}
		key := raw[keyStart : keyStart+keyLen]

		// Value offsets count backward from valueAreaEnd.
		valStart := valueAreaEnd - valOff
		if valStart < 0 || valStart+valLen > len(raw) {
			return bTree.Node{}, dmgerr.New(dmgerr.BadHeader, "apfs.btree.node", nil)
		}
		value := raw[valStart : valStart+valLen]

		n.Records = append(n.Records, bTree.Record{Key: key, Value: value})
	}
	return n, nil
}

// fixedKeyLen/fixedValLen give the fixed record sizes used by the object map
// (the only fixed-kv tree this reader touches): omap_key_t is 16 bytes,
// leaf values are a 16-byte omap_val_t, and index values are a bare 8-byte
// child oid.
func fixedKeyLen(leaf bool) int { return 16 }
func fixedValLen(leaf bool) int {
	if leaf {
		return 16
	}
	return 8 // index node value is a bare child oid
}
