// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package apfs

import (
	"io"
	"sort"

	"github.com/elliotnunn/dmgfs/dmgerr"
)

const (
	dtDir = 4
	dtReg = 8
)

// ForkReader is a random-access reader over an APFS file's default data
// stream, translating logical offsets across its (possibly sparse)
// FileExtent list (spec §4.3 "Fork reading", §8 "sparse files").
type ForkReader struct {
	v           *Volume
	logicalSize int64
	extents     []FileExtent
}

func (v *Volume) newForkReaderFor(inode Inode) (*ForkReader, error) {
	extents, err := v.fileExtents(inode.PrivateID)
	if err != nil {
		return nil, err
	}
	sort.Slice(extents, func(i, j int) bool { return extents[i].LogicalOffset < extents[j].LogicalOffset })
	var size int64
	for _, e := range extents {
		if end := int64(e.LogicalOffset + e.Length); end > size {
			size = end
		}
	}
	return &ForkReader{v: v, logicalSize: size, extents: extents}, nil
}

func (f *ForkReader) Size() int64 { return f.logicalSize }

// ReadAt reads from the logical file stream, returning zero bytes for any
// hole not covered by an extent (spec §8 "sparse files read as zero").
func (f *ForkReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, dmgerr.New(dmgerr.Io, "apfs.forkreader", nil)
	}
	if off >= f.logicalSize {
		return 0, io.EOF
	}
	want := int64(len(p))
	if off+want > f.logicalSize {
		want = f.logicalSize - off
	}

	n := 0
	blockSize := int64(f.v.container.sb.blockSize)
	for n < int(want) {
		cur := off + int64(n)
		ext, ok := f.extentFor(cur)
		if !ok {
			// Hole: zero-fill up to the next extent's start or end of read.
			next := f.logicalSize
			for _, e := range f.extents {
				if int64(e.LogicalOffset) > cur && int64(e.LogicalOffset) < next {
					next = int64(e.LogicalOffset)
				}
			}
			fillLen := int(want) - n
			if int64(fillLen) > next-cur {
				fillLen = int(next - cur)
			}
			for i := 0; i < fillLen; i++ {
				p[n+i] = 0
			}
			n += fillLen
			continue
		}

		extStart := int64(ext.LogicalOffset)
		extEnd := extStart + int64(ext.Length)
		avail := extEnd - cur
		chunk := int(want) - n
		if int64(chunk) > avail {
			chunk = int(avail)
		}
		physOff := int64(ext.PhysBlock)*blockSize + (cur - extStart)
		got, err := f.v.container.src.ReadAt(p[n:n+chunk], physOff)
		n += got
		if err != nil && err != io.EOF {
			return n, err
		}
		if got < chunk {
			return n, io.ErrUnexpectedEOF
		}
	}

	if int64(n) < int64(len(p)) && off+int64(n) >= f.logicalSize {
		return n, io.EOF
	}
	return n, nil
}

// extentFor returns the extent covering logicalOff, if any. PhysBlock == 0
// is the on-disk sparse-extent marker (spec §3, §8 "holes"): such an extent
// is never reported as a match here, so ReadAt's hole-filling branch zero-
// fills it instead of dereferencing physical block 0, which is always the
// container superblock rather than file data.
func (f *ForkReader) extentFor(logicalOff int64) (FileExtent, bool) {
	for _, e := range f.extents {
		if e.PhysBlock == 0 {
			continue
		}
		start := int64(e.LogicalOffset)
		end := start + int64(e.Length)
		if logicalOff >= start && logicalOff < end {
			return e, true
		}
	}
	return FileExtent{}, false
}
