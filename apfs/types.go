// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package apfs implements the APFS reader (spec §4.3, component C4):
// checkpoint scanning, object-map resolution, the generic catalog B-tree,
// and fork reading over file extents. Object layout constants and field
// offsets are grounded on the other_examples lima-vm/lima pkg/apfs/types.go
// reference (the closest in-pack APFS byte-offset table) and the
// deploymenttheory/go-apfs filesystem_service.go reference for directory
// and file-extent record shapes.
package apfs

const (
	blockSizeDefault = 4096

	magicNXSB = 0x4253584E // "NXSB"
	magicAPSB = 0x42535041 // "APSB"
	magicBTNO = 0x4F4E5442 // "BTNO" general b-tree node object type tag (informational only)

	objHeaderSize = 32 // checksum(8) oid(8) xid(8) type(4) subtype(4)

	objTypeMask  = 0x0000FFFF
	objTypeNXSB  = 0x01
	objTypeBtree = 0x02
	objTypeOmap  = 0x0B
	objTypeFS    = 0x0D

	objStorageEphemeral = 0x80000000

	// nx_superblock_t field offsets from block start (after the 32-byte
	// object header).
	nxBlockSizeOff    = 36
	nxXPDescBlocksOff = 104
	nxXPDescBaseOff   = 112
	nxXPDescIndexOff  = 136
	nxXPDescLenOff    = 140
	nxOmapOIDOff      = 160
	nxFSOIDOff        = 184
	nxMaxFileSystems  = 100

	nxXPDescBlocksMask = 0x7FFFFFFF

	// apfs_superblock_t field offsets.
	apfsOmapOIDOff     = 128
	apfsRootTreeOIDOff = 136
	apfsVolNameOff     = 704
	apfsVolNameLen     = 256

	// omap_phys_t field offsets.
	omapTreeOIDOff = 48

	// btree_node_phys_t field offsets (after the 32-byte object header).
	btnFlagsOff      = 32
	btnLevelOff      = 34
	btnNKeysOff      = 36
	btnTableSpaceOff = 40
	btnDataOff       = 56

	btnodeRoot        = 0x0001
	btnodeLeaf        = 0x0002
	btnodeFixedKVSize = 0x0004

	btreeInfoSize = 40

	// Filesystem key object-type nibble (upper 4 bits of the 64-bit
	// obj_id_and_type key field).
	objIDMask   = 0x0FFFFFFFFFFFFFFF
	objTypeShift = 60

	apfsTypeInode      = 3
	apfsTypeXattr      = 4
	apfsTypeFileExtent = 8
	apfsTypeDirRec     = 9

	rootDirInodeNum = 2
)

// nloc is the {off, len} pair used for the node's table-of-contents region.
type nloc struct {
	Off uint16
	Len uint16
}
