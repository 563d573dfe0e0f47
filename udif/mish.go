// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package udif

import (
	"encoding/binary"

	"github.com/elliotnunn/dmgfs/dmgerr"
)

// BlockKind is the per-run compression method, spec §3.
type BlockKind uint32

const (
	ZeroFill BlockKind = 0x00000000
	Raw      BlockKind = 0x00000001
	Ignore   BlockKind = 0x00000002
	Adc      BlockKind = 0x80000004
	Zlib     BlockKind = 0x80000005
	Bzip2    BlockKind = 0x80000006
	Lzfse    BlockKind = 0x80000007
	// Xz (0x80000008) was historically misidentified as LZVN by some
	// ecosystem tools; spec §9's redesign flag says it is in fact
	// XZ/LZMA2, and that is how it is decoded here.
	Xz      BlockKind = 0x80000008
	Comment BlockKind = 0x7FFFFFFE
	End     BlockKind = 0xFFFFFFFF
)

func (k BlockKind) String() string {
	switch k {
	case ZeroFill:
		return "ZeroFill"
	case Raw:
		return "Raw"
	case Ignore:
		return "Ignore"
	case Adc:
		return "Adc"
	case Zlib:
		return "Zlib"
	case Bzip2:
		return "Bzip2"
	case Lzfse:
		return "Lzfse"
	case Xz:
		return "Xz"
	case Comment:
		return "Comment"
	case End:
		return "End"
	default:
		return "Unknown"
	}
}

// BlockRun is one atomic output-sector range backed by one compression kind
// (spec §3, GLOSSARY "Block run").
type BlockRun struct {
	Kind           BlockKind
	OutSector      uint64
	OutSectorCount uint64
	InOffset       uint64
	InLength       uint64
}

// mishHeader is the 204-byte header preceding a partition's block runs
// (spec §4.1, GLOSSARY "Mish"). BlocksDescriptor sits at byte offset 36 and
// is advisory only (spec §9 open question): often a partition index, not a
// count. The authoritative run count lives at byte offset 200.
type mishHeader struct {
	FirstSector      uint64
	SectorCount      uint64
	DataStart        uint64 // rebase of each run's InOffset
	BlocksDescriptor uint32 // advisory, spec §9
	Checksum         Checksum
	RunCount         uint32
}

func parseMishHeader(buf []byte) (mishHeader, error) {
	if len(buf) < mishHeaderSize {
		return mishHeader{}, dmgerr.New(dmgerr.Truncated, "udif.mish", nil)
	}
	if string(buf[:4]) != mishMagic {
		return mishHeader{}, dmgerr.New(dmgerr.BadMagic, "udif.mish", nil)
	}
	be := binary.BigEndian
	var h mishHeader
	h.FirstSector = be.Uint64(buf[8:])
	h.SectorCount = be.Uint64(buf[16:])
	h.DataStart = be.Uint64(buf[24:])
	h.BlocksDescriptor = be.Uint32(buf[36:])
	h.Checksum.Type = be.Uint32(buf[64:])
	h.Checksum.Size = be.Uint32(buf[68:])
	copy(h.Checksum.Data[:], buf[72:200])
	h.RunCount = be.Uint32(buf[200:])
	return h, nil
}

func parseBlockRuns(buf []byte, count uint32) ([]BlockRun, error) {
	need := int(count) * blockRunSize
	if len(buf) < need {
		return nil, dmgerr.New(dmgerr.Truncated, "udif.mish.runs", nil)
	}
	be := binary.BigEndian
	runs := make([]BlockRun, 0, count)
	for i := uint32(0); i < count; i++ {
		rec := buf[int(i)*blockRunSize:]
		run := BlockRun{
			Kind:           BlockKind(be.Uint32(rec[0:])),
			OutSector:      be.Uint64(rec[8:]),
			OutSectorCount: be.Uint64(rec[16:]),
			InOffset:       be.Uint64(rec[24:]),
			InLength:       be.Uint64(rec[32:]),
		}
		runs = append(runs, run)
		if run.Kind == End {
			break
		}
	}
	return runs, nil
}
