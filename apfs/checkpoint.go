// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package apfs

import (
	"encoding/binary"

	"github.com/elliotnunn/dmgfs/codec"
	"github.com/elliotnunn/dmgfs/dmgerr"
	"github.com/elliotnunn/dmgfs/internal/randsrc"
)

// superblock is the decoded subset of nx_superblock_t this reader needs.
type superblock struct {
	blockSize    uint32
	xid          uint64
	omapOID      uint64
	xpDescBase   uint64
	xpDescBlocks uint32
	fsOID        [nxMaxFileSystems]uint64
}

// objHeader is the 32-byte obj_phys_t every APFS object starts with (spec
// §3 "APFS object").
type objHeader struct {
	checksum uint64
	oid      uint64
	xid      uint64
	typ      uint32
	subtype  uint32
}

func parseObjHeader(buf []byte) objHeader {
	be := binary.BigEndian
	return objHeader{
		checksum: be.Uint64(buf[0:8]),
		oid:      be.Uint64(buf[8:16]),
		xid:      be.Uint64(buf[16:24]),
		typ:      be.Uint32(buf[24:28]),
		subtype:  be.Uint32(buf[28:32]),
	}
}

// verifyChecksum checks Fletcher-64 over bytes [8:) of the block against the
// header's stored checksum (spec §3, §8).
func verifyChecksum(block []byte) bool {
	if len(block) < objHeaderSize {
		return false
	}
	want := binary.BigEndian.Uint64(block[0:8])
	got := codec.Fletcher64(block[8:])
	return got == want
}

func readBlock(src randsrc.Source, blockSize uint32, num uint64) ([]byte, error) {
	buf := make([]byte, blockSize)
	if _, err := src.ReadAt(buf, int64(num)*int64(blockSize)); err != nil {
		return nil, dmgerr.New(dmgerr.Io, "apfs.block", err)
	}
	return buf, nil
}

func parseSuperblock(block []byte) (superblock, error) {
	be := binary.BigEndian
	var sb superblock
	magic := be.Uint32(block[objHeaderSize : objHeaderSize+4])
	if magic != magicNXSB {
		return superblock{}, dmgerr.New(dmgerr.BadMagic, "apfs.superblock", nil)
	}
	h := parseObjHeader(block)
	sb.xid = h.xid
	sb.blockSize = be.Uint32(block[nxBlockSizeOff:])
	sb.omapOID = be.Uint64(block[nxOmapOIDOff:])
	sb.xpDescBase = be.Uint64(block[nxXPDescBaseOff:])
	sb.xpDescBlocks = be.Uint32(block[nxXPDescBlocksOff:]) & nxXPDescBlocksMask
	for i := 0; i < nxMaxFileSystems; i++ {
		sb.fsOID[i] = be.Uint64(block[nxFSOIDOff+8*i:])
	}
	return sb, nil
}

// scanContainer reads block 0, then the checkpoint descriptor ring, keeping
// the highest-xid superblock copy whose checksum verifies as the live
// checkpoint (spec §4.3 "Checkpoint scan").
func scanContainer(src randsrc.Source) (superblock, error) {
	block0, err := readBlock(src, blockSizeDefault, 0)
	if err != nil {
		return superblock{}, err
	}
	if !verifyChecksum(block0) {
		return superblock{}, dmgerr.New(dmgerr.ChecksumMismatch, "apfs.superblock", nil)
	}
	best, err := parseSuperblock(block0)
	if err != nil {
		return superblock{}, err
	}

	if best.xpDescBlocks > 1 {
		for i := uint32(0); i < best.xpDescBlocks; i++ {
			blk, err := readBlock(src, best.blockSize, best.xpDescBase+uint64(i))
			if err != nil {
				continue
			}
			if !verifyChecksum(blk) {
				continue // probe-style: skip this candidate, not fatal (spec §4.3)
			}
			h := parseObjHeader(blk)
			if h.typ&objTypeMask != objTypeNXSB {
				continue
			}
			if h.xid <= best.xid {
				continue
			}
			cand, err := parseSuperblock(blk)
			if err != nil {
				continue
			}
			best = cand
		}
	}

	return best, nil
}
