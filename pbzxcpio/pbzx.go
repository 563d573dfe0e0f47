// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package pbzxcpio implements the PBZX chunk-framing reader and the CPIO
// (odc/newc/crc) entry-stream parser it wraps (spec §4.5, component C6).
// Grounded on the other_examples golang-build internal/task darwin.go cpio
// reader for header dialect/field layout, generalized from its single
// fixed-width odc dialect to all three, and on `codec.XZ` (already used by
// `udif` for Xz block runs) for chunk decompression.
package pbzxcpio

import (
	"encoding/binary"
	"io"

	"github.com/elliotnunn/dmgfs/codec"
	"github.com/elliotnunn/dmgfs/dmgerr"
	"github.com/elliotnunn/dmgfs/internal/randsrc"
)

const pbzxMagic = "pbzx"

// chunkFrame is a lightweight descriptor of one PBZX chunk's position in the
// source and its lengths, produced by the framing pass (spec §4.5 "Parallel
// mode": "a first light pass reads only the framing").
type chunkFrame struct {
	inOffset  int64
	inLen     int64
	outLen    int64
	outOffset int64 // filled in once the full frame list is known
}

// scanFrames walks the PBZX container once, recording each chunk's input
// position and lengths without decompressing anything.
func scanFrames(src randsrc.Source) ([]chunkFrame, error) {
	magic := make([]byte, 4)
	if _, err := src.ReadAt(magic, 0); err != nil {
		return nil, dmgerr.New(dmgerr.Io, "pbzxcpio.pbzx", err)
	}
	if string(magic) != pbzxMagic {
		return nil, dmgerr.New(dmgerr.BadMagic, "pbzxcpio.pbzx", nil)
	}

	pos := int64(4 + 8) // magic + 8-byte BE flags (chunk-size hint, unused here)
	var frames []chunkFrame
	var outPos int64
	size := src.Size()

	lenBuf := make([]byte, 16)
	for pos < size {
		if _, err := src.ReadAt(lenBuf, pos); err != nil {
			return nil, dmgerr.New(dmgerr.Io, "pbzxcpio.pbzx", err)
		}
		decompLen := binary.BigEndian.Uint64(lenBuf[0:8])
		compLen := binary.BigEndian.Uint64(lenBuf[8:16])
		payloadOff := pos + 16

		frames = append(frames, chunkFrame{
			inOffset:  payloadOff,
			inLen:     int64(compLen),
			outLen:    int64(decompLen),
			outOffset: outPos,
		})
		outPos += int64(decompLen)
		pos = payloadOff + int64(compLen)
	}
	return frames, nil
}

func decodeChunk(src randsrc.Source, f chunkFrame) ([]byte, error) {
	payload := make([]byte, f.inLen)
	if _, err := src.ReadAt(payload, f.inOffset); err != nil {
		return nil, dmgerr.New(dmgerr.Io, "pbzxcpio.pbzx", err)
	}
	if f.inLen == f.outLen {
		return payload, nil
	}
	out, err := codec.XZ.DecodeAll(payload)
	if err != nil {
		return nil, dmgerr.New(dmgerr.Pbzx, "pbzxcpio.pbzx", err)
	}
	if int64(len(out)) != f.outLen {
		return nil, dmgerr.New(dmgerr.Truncated, "pbzxcpio.pbzx", nil)
	}
	return out, nil
}

// DecodeSerial decompresses every chunk in order, writing each one to w as
// it's produced.
func DecodeSerial(src randsrc.Source, w io.Writer) error {
	frames, err := scanFrames(src)
	if err != nil {
		return err
	}
	for _, f := range frames {
		chunk, err := decodeChunk(src, f)
		if err != nil {
			return err
		}
		if _, err := w.Write(chunk); err != nil {
			return dmgerr.New(dmgerr.Io, "pbzxcpio.pbzx", err)
		}
	}
	return nil
}

// Decompress decompresses an entire PBZX stream to a byte slice via the
// serial path.
func Decompress(src randsrc.Source) ([]byte, error) {
	frames, err := scanFrames(src)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, f := range frames {
		total += f.outLen
	}
	out := make([]byte, total)
	for _, f := range frames {
		chunk, err := decodeChunk(src, f)
		if err != nil {
			return nil, err
		}
		copy(out[f.outOffset:], chunk)
	}
	return out, nil
}
