// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package dmgfs is the pipeline orchestrator (spec §4.6, component C7):
// it composes udif, hfsplus, apfs, xarpkg, and pbzxcpio behind the consumer
// interfaces of spec §6 — open an image, enumerate and extract partitions,
// open the contained filesystem, and reach into any .pkg it contains down
// to its PBZX/CPIO payload.
package dmgfs

import (
	"io"

	"github.com/elliotnunn/dmgfs/internal/randsrc"
	"github.com/elliotnunn/dmgfs/udif"
)

// Pipeline is an opened UDIF image, the root of every other operation.
type Pipeline struct {
	src  randsrc.Source
	udif *udif.Reader
	opts Options
}

// Open locates and parses the koly trailer and blkx tables of src (spec
// §4.1), returning a Pipeline ready for partition enumeration/extraction.
func Open(src randsrc.Source, opts ...Option) (*Pipeline, error) {
	merged := applyOptions(Options{ExtractMode: TempFile}, opts)

	r, err := udif.Open(src, udif.Options{
		VerifyChecksums: merged.VerifyChecksums,
		LZFSE:           merged.LZFSE,
		Cache:           merged.Cache,
	})
	if err != nil {
		return nil, err
	}

	merged.logf("dmgfs.open", "partitions", len(r.Partitions()))
	return &Pipeline{src: src, udif: r, opts: merged}, nil
}

// Partitions returns every partition record parsed from the image's blkx
// table (spec §6 "Partition enumeration").
func (p *Pipeline) Partitions() []udif.Partition {
	return p.udif.Partitions()
}

// ExtractPartitionTo streams partition id's fully decompressed, checksum-
// verified-if-applicable bytes to w (spec §6 "Partition extraction").
func (p *Pipeline) ExtractPartitionTo(id string, w io.Writer) error {
	return p.udif.ExtractPartitionTo(id, w)
}

// ExtractPartitionBytes is the buffered variant of ExtractPartitionTo.
func (p *Pipeline) ExtractPartitionBytes(id string) ([]byte, error) {
	return p.udif.ExtractPartitionBytes(id)
}

// ExtractPartition materializes partition id as a randsrc.Source per the
// extract-mode policy (spec §4.6 "Partition extraction mode"): TempFile
// streams into an anonymous temporary file opened for random access, while
// InMemory decompresses into an owned buffer. The returned closer releases
// any resources the mode allocated (a no-op for InMemory) and must be
// called once the source and anything built on it are no longer needed.
func (p *Pipeline) ExtractPartition(id string, opts ...Option) (randsrc.Source, func() error, error) {
	merged := applyOptions(p.opts, opts)

	if merged.ExtractMode == InMemory {
		b, err := p.udif.ExtractPartitionBytes(id)
		if err != nil {
			return nil, nil, err
		}
		return randsrc.FromBytes(b), func() error { return nil }, nil
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(p.udif.ExtractPartitionTo(id, pw))
	}()
	return randsrc.SpoolToTemp(pr, "dmgfs-partition-*")
}

// PartitionSummary is a condensed view of udif.Partition for ImageInfo.
type PartitionSummary struct {
	ID           string
	Name         string
	FriendlyName string
	SectorCount  uint64
}

// ImageInfo mirrors the CLI's "info" subcommand collaborator interface
// (SPEC_FULL §3 supplement), letting an embedder build its own info verb
// without re-deriving summary fields from Partitions().
type ImageInfo struct {
	SegmentCount int
	SectorCount  uint64
	Partitions   []PartitionSummary
}

// Info summarizes the opened image's trailer and partition table.
func (p *Pipeline) Info() ImageInfo {
	t := p.udif.Trailer()
	parts := p.udif.Partitions()
	out := ImageInfo{
		SegmentCount: int(t.SegmentCount),
		SectorCount:  t.SectorCount,
		Partitions:   make([]PartitionSummary, len(parts)),
	}
	for i, pt := range parts {
		out.Partitions[i] = PartitionSummary{
			ID:           pt.ID,
			Name:         pt.Name,
			FriendlyName: pt.FriendlyName,
			SectorCount:  pt.SectorCount,
		}
	}
	return out
}
