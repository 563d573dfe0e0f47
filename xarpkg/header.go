// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package xarpkg implements the XAR archive reader and the PKG
// classification layer built on top of it (spec §4.4, component C5): the
// 28-byte header, zlib-compressed XML table of contents, heap access, and
// product/component package recognition. Grounded on the other_examples
// golang-build internal/task darwin.go xar parser, generalized from a
// single-payload lookup into a full path-indexed TOC and streaming heap
// reader, and on golang-build cmd/gorebuild's xar reader for header field
// names.
package xarpkg

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"hash"

	"github.com/elliotnunn/dmgfs/dmgerr"
)

const headerSize = 28

// ChecksumAlgo names the TOC checksum algorithm declared in the header
// (spec §4.4).
type ChecksumAlgo uint32

const (
	ChecksumNone ChecksumAlgo = iota
	ChecksumSHA1
	ChecksumMD5
	ChecksumSHA256
)

type header struct {
	headerSize    uint16
	version       uint16
	tocCompLen    uint64
	tocUncompLen  uint64
	cksumAlgo     ChecksumAlgo
}

func parseHeader(buf []byte) (header, error) {
	if len(buf) < headerSize || string(buf[0:4]) != "xar!" {
		return header{}, dmgerr.New(dmgerr.BadMagic, "xarpkg.header", nil)
	}
	be := binary.BigEndian
	h := header{
		headerSize:   be.Uint16(buf[4:6]),
		version:      be.Uint16(buf[6:8]),
		tocCompLen:   be.Uint64(buf[8:16]),
		tocUncompLen: be.Uint64(buf[16:24]),
		cksumAlgo:    ChecksumAlgo(be.Uint32(buf[24:28])),
	}
	if h.version != 1 {
		return header{}, dmgerr.New(dmgerr.BadVersion, "xarpkg.header", nil)
	}
	return h, nil
}

func newHasher(algo ChecksumAlgo) hash.Hash {
	switch algo {
	case ChecksumSHA1:
		return sha1.New()
	case ChecksumMD5:
		return md5.New()
	case ChecksumSHA256:
		return sha256.New()
	default:
		return nil
	}
}

func verifyTOCChecksum(algo ChecksumAlgo, toc []byte, want []byte) bool {
	h := newHasher(algo)
	if h == nil {
		return true
	}
	h.Write(toc)
	sum := h.Sum(nil)
	if len(want) != len(sum) {
		return false
	}
	for i := range sum {
		if sum[i] != want[i] {
			return false
		}
	}
	return true
}
