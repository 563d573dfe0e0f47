// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package hfsplus

import (
	"io"

	"github.com/elliotnunn/dmgfs/dmgerr"
	"github.com/elliotnunn/dmgfs/internal/randsrc"
)

// forkKind tags which of a file's two forks an extent or fork descriptor
// belongs to, matching the on-disk HFSPlusExtentKey forkType byte.
type forkKind uint8

const (
	forkData     forkKind = 0x00
	forkResource forkKind = 0xFF
)

// ForkReader is a Read+Seek-free random-access view over one fork's extent
// list (spec §4.2 "Fork reader"). Reads translate a logical offset to
// (extent index, offset within extent) and then to a physical byte offset.
type ForkReader struct {
	src         randsrc.Source
	blockSize   uint32
	logicalSize int64
	extents     []ExtentDescriptor
}

// newForkReader resolves a fork's full extent list, chasing the
// extents-overflow B-tree when the inline extents don't cover total_blocks
// (spec §4.2 "Extent overflow").
func newForkReader(src randsrc.Source, blockSize uint32, fork ForkDescriptor, kind forkKind, cnid uint32, overflow *extentsOverflow) (*ForkReader, error) {
	var extents []ExtentDescriptor
	var blocksSeen uint32
	for _, e := range fork.Extents {
		if e.BlockCount == 0 {
			break
		}
		extents = append(extents, e)
		blocksSeen += e.BlockCount
	}

	if blocksSeen < fork.TotalBlocks && overflow != nil {
		more, err := overflow.extentsFor(kind, cnid, blocksSeen)
		if err != nil {
			return nil, err
		}
		for _, e := range more {
			if blocksSeen >= fork.TotalBlocks {
				break
			}
			extents = append(extents, e)
			blocksSeen += e.BlockCount
		}
	}

	return &ForkReader{
		src:         src,
		blockSize:   blockSize,
		logicalSize: int64(fork.LogicalSize),
		extents:     extents,
	}, nil
}

// ReadAt saturates at the fork's logical size even when the last allocation
// block has slack bytes beyond it (spec §4.2 invariant).
func (f *ForkReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, dmgerr.New(dmgerr.Io, "hfsplus.fork", nil)
	}
	if off >= f.logicalSize {
		return 0, io.EOF
	}
	if int64(len(p))+off > f.logicalSize {
		p = p[:f.logicalSize-off]
	}

	total := 0
	remaining := off
	for _, e := range f.extents {
		extentBytes := int64(e.BlockCount) * int64(f.blockSize)
		if remaining >= extentBytes {
			remaining -= extentBytes
			continue
		}
		if len(p) == 0 {
			break
		}
		chunk := p
		avail := extentBytes - remaining
		if int64(len(chunk)) > avail {
			chunk = chunk[:avail]
		}
		physOff := int64(e.StartBlock)*int64(f.blockSize) + remaining
		n, err := f.src.ReadAt(chunk, physOff)
		total += n
		p = p[n:]
		remaining = 0
		if err != nil && err != io.EOF {
			return total, dmgerr.New(dmgerr.Io, "hfsplus.fork", err)
		}
		if n < len(chunk) {
			return total, io.EOF
		}
		if len(p) == 0 {
			break
		}
	}
	if len(p) != 0 {
		return total, io.EOF
	}
	return total, nil
}

// Size reports the fork's logical size.
func (f *ForkReader) Size() int64 { return f.logicalSize }
