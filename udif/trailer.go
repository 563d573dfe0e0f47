// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package udif implements the UDIF reader (spec §4.1, component C2): trailer
// location, property-list parsing, per-partition mish block-maps, and
// block-run decompression. Field layouts are grounded on the
// other_examples dmg_analyzer.go reference (same "koly"/"mish" structures,
// same big-endian binary.Read-shaped fields) generalized to the full set of
// block kinds and to streaming extraction.
package udif

import (
	"encoding/binary"

	"github.com/elliotnunn/dmgfs/dmgerr"
)

const (
	trailerSize = 512
	kolyMagic   = "koly"
	mishMagic   = "mish"
	mishHeaderSize = 204
	blockRunSize   = 40
	sectorSize     = 512
)

// Checksum is the {type, size, data} triple used by both the trailer's
// data/master checksums and the mish header's checksum (spec §4.1).
type Checksum struct {
	Type uint32
	Size uint32
	Data [128]byte
}

// CRC32 extracts the stored CRC-32 value: "CRC-32 occupies the first 4
// big-endian bytes" of the 128-byte field (spec §4.1).
func (c Checksum) CRC32() uint32 {
	return binary.BigEndian.Uint32(c.Data[:4])
}

// NonZero reports whether a checksum was actually recorded, used to decide
// whether verification applies at all (spec §4.1, §7).
func (c Checksum) NonZero() bool {
	return c.CRC32() != 0
}

// Trailer is the 512-byte "koly" footer anchoring the whole UDIF layout
// (spec §4.1, GLOSSARY "Koly trailer").
type Trailer struct {
	Version         uint32
	HeaderSize      uint32
	Flags           uint32
	RunningDataFork uint64
	DataForkOffset  uint64
	DataForkLength  uint64
	RsrcForkOffset  uint64
	RsrcForkLength  uint64
	SegmentNumber   uint32
	SegmentCount    uint32
	SegmentID       [16]byte
	DataChecksum    Checksum
	PlistOffset     uint64
	PlistLength     uint64
	MasterChecksum  Checksum
	ImageVariant    uint32
	SectorCount     uint64
}

// parseTrailer decodes the 512-byte trailer starting at buf[0], which must
// already have had its "koly" magic verified by the caller.
func parseTrailer(buf []byte) (Trailer, error) {
	if len(buf) < trailerSize {
		return Trailer{}, dmgerr.New(dmgerr.Truncated, "udif.trailer", nil)
	}
	be := binary.BigEndian
	var t Trailer
	t.Version = be.Uint32(buf[4:])
	t.HeaderSize = be.Uint32(buf[8:])
	t.Flags = be.Uint32(buf[12:])
	t.RunningDataFork = be.Uint64(buf[16:])
	t.DataForkOffset = be.Uint64(buf[24:])
	t.DataForkLength = be.Uint64(buf[32:])
	t.RsrcForkOffset = be.Uint64(buf[40:])
	t.RsrcForkLength = be.Uint64(buf[48:])
	t.SegmentNumber = be.Uint32(buf[56:])
	t.SegmentCount = be.Uint32(buf[60:])
	copy(t.SegmentID[:], buf[64:80])
	t.DataChecksum.Type = be.Uint32(buf[80:])
	t.DataChecksum.Size = be.Uint32(buf[84:])
	copy(t.DataChecksum.Data[:], buf[88:216])
	t.PlistOffset = be.Uint64(buf[216:])
	t.PlistLength = be.Uint64(buf[224:])
	// buf[232:352] reserved (120 bytes)
	t.MasterChecksum.Type = be.Uint32(buf[352:])
	t.MasterChecksum.Size = be.Uint32(buf[356:])
	copy(t.MasterChecksum.Data[:], buf[360:488])
	t.ImageVariant = be.Uint32(buf[488:])
	t.SectorCount = be.Uint64(buf[492:])
	// buf[500:512] reserved (12 bytes)

	if t.Version == 0 {
		return Trailer{}, dmgerr.New(dmgerr.BadVersion, "udif.trailer", nil)
	}
	return t, nil
}
