// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package randsrc implements the "random-access source" primitive from
// spec §3: a read-plus-seek byte source over a finite range that every
// parser in the stack consumes without mutating and without assuming a
// filesystem file underlies it. It also implements the two partition
// extraction backends from spec §4.6/§5 (TempFile and InMemory).
package randsrc

import (
	"io"

	"github.com/elliotnunn/dmgfs/internal/sectionreader"
)

// Source is the universal input to every layer: read-plus-seek over a sized,
// immutable byte range.
type Source interface {
	io.ReaderAt
	Size() int64
}

// ReaderSource adapts a Source into an io.ReadSeeker for callers that want
// sequential access (e.g. codec.DecodeTo).
type ReaderSource struct {
	Source
	pos int64
}

func NewReaderSource(s Source) *ReaderSource { return &ReaderSource{Source: s} }

func (r *ReaderSource) Read(p []byte) (int, error) {
	n, err := r.ReadAt(p, r.pos)
	r.pos += int64(n)
	return n, err
}

func (r *ReaderSource) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += r.pos
	case io.SeekEnd:
		offset += r.Size()
	}
	r.pos = offset
	return offset, nil
}

// Section returns a Source over [off, off+n) of r, flattening nested
// sections so repeated windowing (partition -> fork -> extent) doesn't grow
// an indirection chain. Grounded on the teacher's internal/sectionreader.
func Section(r Source, off, n int64) Source {
	return sectionreader.Section(r, off, n)
}

// FromBytes wraps an in-memory buffer as a Source (the InMemory extraction
// mode of spec §4.6/§5).
func FromBytes(b []byte) Source { return bytesSource(b) }

type bytesSource []byte

func (b bytesSource) Size() int64 { return int64(len(b)) }

func (b bytesSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Concat presents a series of same-backing extents (fork extents, XAR heap
// pieces, PBZX chunk slots) as a single contiguous Source, the same shape as
// the teacher's multireaderat.SizeReaderAt used to stitch HFS extent runs
// and AppleDouble-prefixed resource forks together.
func Concat(parts ...Source) Source {
	sizes := make([]int64, len(parts))
	var total int64
	for i, p := range parts {
		sizes[i] = p.Size()
		total += sizes[i]
	}
	return &concatSource{parts: parts, sizes: sizes, total: total}
}

type concatSource struct {
	parts []Source
	sizes []int64
	total int64
}

func (c *concatSource) Size() int64 { return c.total }

func (c *concatSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= c.total {
		if len(p) == 0 && off == c.total {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := 0
	for i, sz := range c.sizes {
		if off >= sz {
			off -= sz
			continue
		}
		if len(p) == 0 {
			break
		}
		avail := sz - off
		chunk := p
		if int64(len(chunk)) > avail {
			chunk = chunk[:avail]
		}
		rn, err := c.parts[i].ReadAt(chunk, off)
		n += rn
		p = p[rn:]
		off = 0
		if err != nil && err != io.EOF {
			return n, err
		}
		if rn < len(chunk) {
			return n, io.EOF
		}
		if len(p) == 0 {
			break
		}
	}
	if len(p) != 0 {
		return n, io.EOF
	}
	return n, nil
}

// Zeros returns a Source that reads as n zero bytes, used for UDIF ZeroFill
// block runs (spec §4.1) without materializing n bytes of memory up front.
func Zeros(n int64) Source { return zeroSource(n) }

type zeroSource int64

func (z zeroSource) Size() int64 { return int64(z) }

func (z zeroSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(z) {
		return 0, io.EOF
	}
	avail := int64(z) - off
	n := len(p)
	if int64(n) > avail {
		n = int(avail)
	}
	for i := 0; i < n; i++ {
		p[i] = 0
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
