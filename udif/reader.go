// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package udif

import (
	"bytes"
	"hash/crc32"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/elliotnunn/dmgfs/codec"
	"github.com/elliotnunn/dmgfs/dmgerr"
	"github.com/elliotnunn/dmgfs/internal/blockcache"
	"github.com/elliotnunn/dmgfs/internal/randsrc"
	"github.com/elliotnunn/dmgfs/internal/xmlplist"
)

// Options are the UDIF-specific process-wide/per-call knobs of spec §6.
type Options struct {
	// VerifyChecksums enables trailer- and mish-level CRC-32 enforcement
	// (spec §4.1, §7). Checksum failures with this off are silently
	// ignored, per spec §7's propagation rules.
	VerifyChecksums bool
	// LZFSE, if set, is used to decode Lzfse block runs. The default
	// reports UnsupportedCompression, since real LZFSE decoding is an
	// external collaborator per spec §1/§6.
	LZFSE codec.Decoder
	// Cache, if set, memoizes each block run's decompressed output keyed by
	// (partition ID, block-run index), so repeated extraction of the same
	// partition from the same opened image skips re-invoking the codec
	// (SPEC_FULL §2 domain-stack wiring).
	Cache *blockcache.Cache
}

// Partition is spec §3's "Partition record (UDIF)".
type Partition struct {
	ID          string
	Name        string
	Attributes  string
	FirstSector uint64
	SectorCount uint64
	Runs        []BlockRun

	// FriendlyName strips the "Apple_" prefix from Name and lowercases it,
	// then appends a per-name "-N" counter to every partition (a lone
	// "Apple_HFS" partition becomes "hfs-1"; two become "hfs-1" and
	// "hfs-2"). Grounded on the teacher's
	// internal/apm partition-naming treatment of the same Apple_* type
	// strings, here applied to UDIF's blkx Name field instead of an APM
	// partition entry's pmParType.
	FriendlyName string

	checksum Checksum
}

// Reader is an opened UDIF image (spec §4.1).
type Reader struct {
	src        randsrc.Source
	trailer    Trailer
	opts       Options
	partitions []Partition
}

// Open locates the "koly" trailer, parses the property list and per-partition
// mish block maps, and, when VerifyChecksums is set, verifies the trailer's
// data-fork checksum. The trailer's master checksum is not checked.
func Open(src randsrc.Source, opts Options) (*Reader, error) {
	if opts.LZFSE == nil {
		opts.LZFSE = codec.Unsupported("lzfse")
	}

	size := src.Size()
	if size < trailerSize {
		return nil, dmgerr.New(dmgerr.Truncated, "udif.open", nil)
	}

	var buf [trailerSize]byte
	if _, err := src.ReadAt(buf[:], size-trailerSize); err != nil && err != io.EOF {
		return nil, dmgerr.New(dmgerr.Io, "udif.open", err)
	}
	if string(buf[:4]) != kolyMagic {
		return nil, dmgerr.New(dmgerr.BadMagic, "udif.open", nil)
	}

	trailer, err := parseTrailer(buf[:])
	if err != nil {
		return nil, err
	}

	r := &Reader{src: src, trailer: trailer, opts: opts}

	if opts.VerifyChecksums && trailer.DataChecksum.NonZero() {
		if err := r.verifyDataForkChecksum(); err != nil {
			return nil, err
		}
	}

	plistBytes := make([]byte, trailer.PlistLength)
	if _, err := src.ReadAt(plistBytes, int64(trailer.PlistOffset)); err != nil && err != io.EOF {
		return nil, dmgerr.New(dmgerr.Io, "udif.open.plist", err)
	}

	blkx, err := xmlplist.ParseBlkx(plistBytes)
	if err != nil {
		return nil, err
	}

	dedup := make(map[string]int)
	for _, el := range blkx {
		mh, err := parseMishHeader(el.Data)
		if err != nil {
			return nil, err
		}
		runs, err := parseBlockRuns(el.Data[mishHeaderSize:], mh.RunCount)
		if err != nil {
			return nil, err
		}
		for i := range runs {
			runs[i].InOffset += mh.DataStart
		}
		r.partitions = append(r.partitions, Partition{
			ID:           el.ID,
			Name:         el.Name,
			Attributes:   el.Attributes,
			FirstSector:  mh.FirstSector,
			SectorCount:  mh.SectorCount,
			Runs:         runs,
			FriendlyName: friendlyPartitionName(el.Name, dedup),
			checksum:     mh.Checksum,
		})
	}

	return r, nil
}

func friendlyPartitionName(typeName string, dedup map[string]int) string {
	name := strings.ToLower(strings.TrimPrefix(typeName, "Apple_"))
	if name == "" {
		name = "partition"
	}
	dedup[name]++
	return name + "-" + strconv.Itoa(dedup[name])
}

func (r *Reader) verifyDataForkChecksum() error {
	h := crc32.NewIEEE()
	sr := io.NewSectionReader(r.src, int64(r.trailer.DataForkOffset), int64(r.trailer.DataForkLength))
	if _, err := io.Copy(h, sr); err != nil {
		return dmgerr.New(dmgerr.Io, "udif.checksum", err)
	}
	if h.Sum32() != r.trailer.DataChecksum.CRC32() {
		return dmgerr.New(dmgerr.ChecksumMismatch, "udif.checksum.datafork", nil)
	}
	return nil
}

// Trailer exposes the parsed koly trailer, e.g. for an Info/bench surface.
func (r *Reader) Trailer() Trailer { return r.trailer }

// Partitions returns every partition record parsed from the blkx table.
func (r *Reader) Partitions() []Partition {
	out := make([]Partition, len(r.partitions))
	copy(out, r.partitions)
	return out
}

func (r *Reader) find(id string) (*Partition, error) {
	for i := range r.partitions {
		if r.partitions[i].ID == id {
			return &r.partitions[i], nil
		}
	}
	return nil, dmgerr.New(dmgerr.NoSuchPartition, "udif.extract", nil)
}

// ExtractPartitionTo streams the fully decompressed, sector-padded partition
// contents into w (spec §4.1 "Extraction modes"). When
// Options.VerifyChecksums is set and the partition's mish checksum is
// non-zero, the CRC-32 of the output is compared with it and a mismatch is
// reported as ChecksumMismatch; with VerifyChecksums off, no comparison is
// made.
func (r *Reader) ExtractPartitionTo(id string, w io.Writer) error {
	p, err := r.find(id)
	if err != nil {
		return err
	}

	var h interface {
		io.Writer
		Sum32() uint32
	}
	dst := w
	verify := r.opts.VerifyChecksums && p.checksum.NonZero()
	if verify {
		h = crc32.NewIEEE()
		dst = io.MultiWriter(w, h)
	}

	if err := r.decompressPartition(*p, dst); err != nil {
		return err
	}

	if verify && h.Sum32() != p.checksum.CRC32() {
		return dmgerr.New(dmgerr.ChecksumMismatch, "udif.extract."+id, nil)
	}
	return nil
}

// ExtractPartitionBytes is the buffered variant of ExtractPartitionTo.
func (r *Reader) ExtractPartitionBytes(id string) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.ExtractPartitionTo(id, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *Reader) decompressPartition(p Partition, w io.Writer) error {
	runs := append([]BlockRun(nil), p.Runs...)
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].OutSector < runs[j].OutSector })

	base := int64(r.trailer.DataForkOffset)

	for i, run := range runs {
		switch run.Kind {
		case Comment, End:
			continue
		}

		windowLen := int64(run.OutSectorCount) * sectorSize

		switch run.Kind {
		case ZeroFill, Ignore:
			if _, err := io.Copy(w, io.NewSectionReader(randsrc.Zeros(windowLen), 0, windowLen)); err != nil {
				return dmgerr.New(dmgerr.Io, "udif.decompress", err)
			}
			continue
		}

		compressed := make([]byte, run.InLength)
		if _, err := r.src.ReadAt(compressed, base+int64(run.InOffset)); err != nil && err != io.EOF {
			return dmgerr.New(dmgerr.Io, "udif.decompress", err)
		}

		var dec codec.Decoder
		switch run.Kind {
		case Raw:
			if err := writePadded(w, compressed, windowLen); err != nil {
				return err
			}
			continue
		case Zlib:
			dec = codec.Zlib
		case Bzip2:
			dec = codec.Bzip2
		case Xz:
			dec = codec.XZ
		case Lzfse:
			dec = r.opts.LZFSE
		case Adc:
			dec = codec.Unsupported("adc")
		default:
			return dmgerr.New(dmgerr.UnsupportedCompression, "udif.decompress", nil)
		}

		out, err := r.decodeCached(dec, p.ID, uint64(i), compressed)
		if err != nil {
			return err
		}
		if err := writePadded(w, out, windowLen); err != nil {
			return err
		}
	}
	return nil
}

// decodeCached runs dec.DecodeAll(compressed), consulting and populating
// r.opts.Cache (if set) keyed by (partition ID, block-run index) first, so a
// second extraction of the same partition from the same opened image never
// re-invokes the codec for a run already decoded (SPEC_FULL §2).
func (r *Reader) decodeCached(dec codec.Decoder, partitionID string, runIndex uint64, compressed []byte) ([]byte, error) {
	if r.opts.Cache == nil {
		return dec.DecodeAll(compressed)
	}
	key := blockcache.Key{Namespace: "udif:" + partitionID, Index: runIndex}
	if out, ok := r.opts.Cache.Get(key); ok {
		return out, nil
	}
	out, err := dec.DecodeAll(compressed)
	if err != nil {
		return nil, err
	}
	r.opts.Cache.Put(key, out)
	return out, nil
}

// writePadded writes data (truncated to max windowLen bytes) followed by
// zero padding up to windowLen, per spec §4.1: "The output window is
// out_sector_count*512 bytes and may be partially filled by codecs ...; the
// tail is left zero."
func writePadded(w io.Writer, data []byte, windowLen int64) error {
	if int64(len(data)) > windowLen {
		data = data[:windowLen]
	}
	if _, err := w.Write(data); err != nil {
		return dmgerr.New(dmgerr.Io, "udif.decompress.write", err)
	}
	if pad := windowLen - int64(len(data)); pad > 0 {
		if _, err := io.Copy(w, io.NewSectionReader(randsrc.Zeros(pad), 0, pad)); err != nil {
			return dmgerr.New(dmgerr.Io, "udif.decompress.write", err)
		}
	}
	return nil
}
