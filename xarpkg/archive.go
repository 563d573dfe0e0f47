// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package xarpkg

import (
	"bytes"
	"compress/bzip2"
	"compress/zlib"
	"io"

	"github.com/elliotnunn/dmgfs/dmgerr"
	"github.com/elliotnunn/dmgfs/internal/randsrc"
)

// streamBufSize bounds the codec buffer used by the streaming read path
// (spec §4.4 "never materialize more than one codec buffer beyond the
// destination writer's state").
const streamBufSize = 64 * 1024

// Archive is an opened XAR file: parsed header plus a path-indexed TOC tree
// (spec §4.4).
type Archive struct {
	src        randsrc.Source
	heapOrigin int64
	roots      []*Entry
	byPath     map[string]*Entry
}

// Open parses a XAR header and table of contents from src, verifying the
// TOC checksum when the header declares a checksum algorithm and the TOC
// records the checksum's heap location (spec §4.4's `cksum_algo`, the
// checksum-verification supplement).
func Open(src randsrc.Source) (*Archive, error) {
	hdrBuf := make([]byte, headerSize)
	if _, err := src.ReadAt(hdrBuf, 0); err != nil {
		return nil, dmgerr.New(dmgerr.Io, "xarpkg.open", err)
	}
	h, err := parseHeader(hdrBuf)
	if err != nil {
		return nil, err
	}

	tocComp := make([]byte, h.tocCompLen)
	if _, err := src.ReadAt(tocComp, int64(h.headerSize)); err != nil {
		return nil, dmgerr.New(dmgerr.Io, "xarpkg.open", err)
	}
	tocXML, err := decompressTOC(tocComp, h.tocUncompLen)
	if err != nil {
		return nil, err
	}

	roots, byPath, checksumLoc, err := parseTOC(tocXML)
	if err != nil {
		return nil, err
	}

	a := &Archive{
		src:        src,
		heapOrigin: int64(h.headerSize) + int64(h.tocCompLen),
		roots:      roots,
		byPath:     byPath,
	}

	if h.cksumAlgo != ChecksumNone && checksumLoc != nil {
		want := make([]byte, checksumLoc.Size)
		if _, err := src.ReadAt(want, a.heapOrigin+checksumLoc.Offset); err != nil {
			return nil, dmgerr.New(dmgerr.Io, "xarpkg.open", err)
		}
		if !verifyTOCChecksum(h.cksumAlgo, tocComp, want) {
			return nil, dmgerr.New(dmgerr.ChecksumMismatch, "xarpkg.open", nil)
		}
	}

	return a, nil
}

// Roots returns the top-level TOC entries in document order.
func (a *Archive) Roots() []*Entry { return a.roots }

// Lookup resolves a slash-joined path to its TOC entry.
func (a *Archive) Lookup(path string) (*Entry, bool) {
	e, ok := a.byPath[path]
	return e, ok
}

// ReadAll returns the fully decoded content of a file entry (spec §4.4
// "Heap access").
func (a *Archive) ReadAll(e *Entry) ([]byte, error) {
	if e.Data == nil {
		return nil, dmgerr.New(dmgerr.NotAFile, "xarpkg.readall", nil)
	}
	var buf bytes.Buffer
	if err := a.ReadTo(&buf, e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadTo streams a file entry's decoded content into w, bounding the codec
// buffer to streamBufSize regardless of the entry's size.
func (a *Archive) ReadTo(w io.Writer, e *Entry) error {
	if e.Data == nil {
		return dmgerr.New(dmgerr.NotAFile, "xarpkg.readto", nil)
	}
	sr := io.NewSectionReader(a.src, a.heapOrigin+e.Data.Offset, e.Data.Length)

	switch e.Data.Encoding {
	case EncodingOctetStream:
		n, err := io.CopyBuffer(w, sr, make([]byte, streamBufSize))
		if err != nil {
			return dmgerr.New(dmgerr.Io, "xarpkg.readto", err)
		}
		if n != e.Data.Size {
			return dmgerr.New(dmgerr.Truncated, "xarpkg.readto", nil)
		}
		return nil
	case EncodingGzip:
		zr, err := zlib.NewReader(sr)
		if err != nil {
			return dmgerr.New(dmgerr.Codec, "xarpkg.readto", err)
		}
		defer zr.Close()
		return copyExact(w, zr, e.Data.Size)
	case EncodingBzip2:
		return copyExact(w, bzip2.NewReader(sr), e.Data.Size)
	default:
		return dmgerr.New(dmgerr.UnsupportedFeature, "xarpkg.readto", nil)
	}
}

func copyExact(w io.Writer, r io.Reader, want int64) error {
	n, err := io.CopyBuffer(w, io.LimitReader(r, want), make([]byte, streamBufSize))
	if err != nil {
		return dmgerr.New(dmgerr.Codec, "xarpkg.readto", err)
	}
	if n != want {
		return dmgerr.New(dmgerr.Truncated, "xarpkg.readto", nil)
	}
	return nil
}
