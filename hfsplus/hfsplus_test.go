// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package hfsplus

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/elliotnunn/dmgfs/internal/randsrc"
)

func writeForkDescriptor(buf []byte, f ForkDescriptor) {
	be := binary.BigEndian
	be.PutUint64(buf[0:], f.LogicalSize)
	be.PutUint32(buf[8:], f.ClumpSize)
	be.PutUint32(buf[12:], f.TotalBlocks)
	for i, e := range f.Extents {
		rec := buf[16+i*8:]
		be.PutUint32(rec[0:], e.StartBlock)
		be.PutUint32(rec[4:], e.BlockCount)
	}
}

func buildVolumeHeader(sig uint16, blockSize, totalBlocks uint32, alloc, ext, cat, attr, startup ForkDescriptor) []byte {
	buf := make([]byte, volHeaderSize)
	be := binary.BigEndian
	be.PutUint16(buf[0:], sig)
	be.PutUint32(buf[40:], blockSize)
	be.PutUint32(buf[44:], totalBlocks)
	writeForkDescriptor(buf[112:], alloc)
	writeForkDescriptor(buf[192:], ext)
	writeForkDescriptor(buf[272:], cat)
	writeForkDescriptor(buf[352:], attr)
	writeForkDescriptor(buf[432:], startup)
	return buf
}

func TestParseVolumeHeaderHFSPlusAndHFSX(t *testing.T) {
	raw := make([]byte, volHeaderOffset+volHeaderSize)
	hdr := buildVolumeHeader(sigHFSPlus, 512, 100, ForkDescriptor{}, ForkDescriptor{}, ForkDescriptor{LogicalSize: 4096, TotalBlocks: 8}, ForkDescriptor{}, ForkDescriptor{})
	copy(raw[volHeaderOffset:], hdr)

	vh, err := ParseVolumeHeader(randsrc.FromBytes(raw))
	if err != nil {
		t.Fatalf("ParseVolumeHeader: %v", err)
	}
	if vh.CaseSensitive {
		t.Fatal("HFS+ signature should not be case sensitive")
	}
	if vh.BlockSize != 512 || vh.TotalBlocks != 100 {
		t.Fatalf("BlockSize/TotalBlocks = %d/%d", vh.BlockSize, vh.TotalBlocks)
	}
	if vh.CatalogFile.LogicalSize != 4096 || vh.CatalogFile.TotalBlocks != 8 {
		t.Fatalf("CatalogFile = %+v", vh.CatalogFile)
	}

	hdrx := buildVolumeHeader(sigHFSX, 512, 100, ForkDescriptor{}, ForkDescriptor{}, ForkDescriptor{}, ForkDescriptor{}, ForkDescriptor{})
	copy(raw[volHeaderOffset:], hdrx)
	vhx, err := ParseVolumeHeader(randsrc.FromBytes(raw))
	if err != nil {
		t.Fatalf("ParseVolumeHeader(HFSX): %v", err)
	}
	if !vhx.CaseSensitive {
		t.Fatal("HFSX signature should be case sensitive")
	}
}

func TestParseVolumeHeaderRejectsBadSignature(t *testing.T) {
	raw := make([]byte, volHeaderOffset+volHeaderSize)
	if _, err := ParseVolumeHeader(randsrc.FromBytes(raw)); err == nil {
		t.Fatal("expected error for missing signature")
	}
}

func TestForkReaderAcrossExtentBoundary(t *testing.T) {
	// Two extents: blocks [0,1) holding "AAAA", blocks [1,3) holding "BBBBCCCC".
	const blockSize = 4
	disk := []byte("AAAABBBBCCCC")
	fork := ForkDescriptor{
		LogicalSize: 10,
		TotalBlocks: 3,
	}
	fork.Extents[0] = ExtentDescriptor{StartBlock: 0, BlockCount: 1}
	fork.Extents[1] = ExtentDescriptor{StartBlock: 1, BlockCount: 2}

	fr, err := newForkReader(randsrc.FromBytes(disk), blockSize, fork, forkData, 99, nil)
	if err != nil {
		t.Fatalf("newForkReader: %v", err)
	}
	if fr.Size() != 10 {
		t.Fatalf("Size() = %d, want 10", fr.Size())
	}

	got := make([]byte, 10)
	n, err := fr.ReadAt(got, 0)
	if err != nil && err != io.EOF {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 10 || string(got) != "AAAABBBBCC" {
		t.Fatalf("got %q (n=%d), want AAAABBBBCC", got[:n], n)
	}

	// A read entirely past logical size EOFs immediately.
	if _, err := fr.ReadAt(make([]byte, 1), 10); err != io.EOF {
		t.Fatalf("ReadAt past end: %v, want io.EOF", err)
	}
}

// buildLeafNode assembles a single B-tree leaf node containing records in
// ascending key order (spec §4.2 "B-tree nodes": descriptor, packed
// records, then a reversed offset table at the tail).
func buildLeafNode(nodeSize int, records [][2][]byte) []byte {
	raw := make([]byte, nodeSize)
	raw[8] = byte(int8(nodeKindLeaf))
	raw[9] = 1
	binary.BigEndian.PutUint16(raw[10:12], uint16(len(records)))

	offsets := make([]uint16, 0, len(records)+1)
	pos := descriptorSize
	for _, rec := range records {
		offsets = append(offsets, uint16(pos))
		key, value := rec[0], rec[1]
		binary.BigEndian.PutUint16(raw[pos:], uint16(len(key)))
		copy(raw[pos+2:], key)
		valOff := pos + 2 + len(key)
		if (2+len(key))%2 == 1 {
			valOff++
		}
		copy(raw[valOff:], value)
		pos = valOff + len(value)
	}
	offsets = append(offsets, uint16(pos))

	for i, off := range offsets {
		tail := nodeSize - 2*(i+1)
		binary.BigEndian.PutUint16(raw[tail:], off)
	}
	return raw
}

func buildHeaderNode(nodeSize int, rootNode uint32) []byte {
	raw := make([]byte, nodeSize)
	raw[8] = nodeKindHeader
	binary.BigEndian.PutUint32(raw[headerRootNodeOffset:], rootNode)
	binary.BigEndian.PutUint16(raw[headerNodeSizeOffset:], uint16(nodeSize))
	return raw
}

func fileCatalogValue(cnid uint32, mode uint16, dataFork ForkDescriptor) []byte {
	value := make([]byte, 248)
	be := binary.BigEndian
	be.PutUint16(value[0:2], recFile)
	be.PutUint32(value[8:12], cnid)
	be.PutUint16(value[42:44], mode)
	writeForkDescriptor(value[88:168], dataFork)
	return value
}

func folderCatalogValue(cnid uint32, mode uint16) []byte {
	value := make([]byte, 88)
	be := binary.BigEndian
	be.PutUint16(value[0:2], recFolder)
	be.PutUint32(value[8:12], cnid)
	be.PutUint16(value[42:44], mode)
	return value
}

// buildHFSPlusImage lays out a complete volume byte-for-byte: boot blocks,
// volume header, a one-node extents-overflow tree, a two-node catalog tree
// (header + single leaf), and the data-fork content it points to.
func buildHFSPlusImage(t *testing.T) ([]byte, []byte, []byte) {
	t.Helper()
	const blockSize = 512

	fileData := bytes.Repeat([]byte("F"), 100)
	nestedData := bytes.Repeat([]byte("N"), 50)

	extHeader := buildHeaderNode(blockSize, 0)

	const catNodeSize = 1024
	fileRec := [2][]byte{catalogKey(rootCNID, "file.txt"), fileCatalogValue(10, 0o100644, ForkDescriptor{LogicalSize: 100, TotalBlocks: 1, Extents: [8]ExtentDescriptor{{StartBlock: 8, BlockCount: 1}}})}
	subdirRec := [2][]byte{catalogKey(rootCNID, "subdir"), folderCatalogValue(5, 0o40755)}
	nestedRec := [2][]byte{catalogKey(5, "nested.txt"), fileCatalogValue(11, 0o100644, ForkDescriptor{LogicalSize: 50, TotalBlocks: 1, Extents: [8]ExtentDescriptor{{StartBlock: 9, BlockCount: 1}}})}

	catHeader := buildHeaderNode(catNodeSize, 1)
	catLeaf := buildLeafNode(catNodeSize, [][2][]byte{fileRec, subdirRec, nestedRec})

	disk := make([]byte, 9*blockSize+2*blockSize)
	writeAt := func(off int, b []byte) { copy(disk[off:], b) }

	hdr := buildVolumeHeader(sigHFSPlus, blockSize, 10,
		ForkDescriptor{},
		ForkDescriptor{LogicalSize: blockSize, TotalBlocks: 1, Extents: [8]ExtentDescriptor{{StartBlock: 3, BlockCount: 1}}},
		ForkDescriptor{LogicalSize: 2 * catNodeSize, TotalBlocks: 4, Extents: [8]ExtentDescriptor{{StartBlock: 4, BlockCount: 4}}},
		ForkDescriptor{},
		ForkDescriptor{},
	)
	writeAt(volHeaderOffset, hdr)
	writeAt(3*blockSize, extHeader)
	writeAt(4*blockSize, catHeader)
	writeAt(6*blockSize, catLeaf)
	writeAt(8*blockSize, fileData)
	writeAt(9*blockSize, nestedData)

	return disk, fileData, nestedData
}

func TestVolumeEndToEnd(t *testing.T) {
	disk, fileData, nestedData := buildHFSPlusImage(t)

	v, err := Open(randsrc.FromBytes(disk))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	root, err := v.List("/")
	if err != nil {
		t.Fatalf("List(/): %v", err)
	}
	names := map[string]DirEntry{}
	for _, e := range root {
		names[e.Name] = e
	}
	if len(names) != 2 {
		t.Fatalf("List(/) = %v, want 2 entries", root)
	}
	if names["file.txt"].Entry.IsFolder {
		t.Fatal("file.txt should not be a folder")
	}
	if !names["subdir"].Entry.IsFolder {
		t.Fatal("subdir should be a folder")
	}

	st, err := v.Stat("file.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Size != 100 || st.Mode != 0o100644 {
		t.Fatalf("Stat = %+v", st)
	}

	fr, err := v.OpenFile("file.txt")
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	got := make([]byte, 100)
	if _, err := fr.ReadAt(got, 0); err != nil && err != io.EOF {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, fileData) {
		t.Fatal("file.txt content mismatch")
	}

	nestedEntry, err := v.Resolve("subdir/nested.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if nestedEntry.IsFolder {
		t.Fatal("nested.txt should not be a folder")
	}

	nfr, err := v.OpenFile("subdir/nested.txt")
	if err != nil {
		t.Fatalf("OpenFile(nested): %v", err)
	}
	gotNested := make([]byte, 50)
	if _, err := nfr.ReadAt(gotNested, 0); err != nil && err != io.EOF {
		t.Fatalf("ReadAt(nested): %v", err)
	}
	if !bytes.Equal(gotNested, nestedData) {
		t.Fatal("nested.txt content mismatch")
	}

	var walked []string
	if err := v.Walk(func(e WalkEntry) error {
		walked = append(walked, e.Path)
		return nil
	}); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(walked) != 3 {
		t.Fatalf("Walk visited %v, want 3 entries", walked)
	}
}

func TestVolumeResolveMissingPath(t *testing.T) {
	disk, _, _ := buildHFSPlusImage(t)
	v, err := Open(randsrc.FromBytes(disk))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := v.Resolve("does/not/exist"); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestCompareExtentKeyOrdering(t *testing.T) {
	k1 := extentKey(forkData, 10, 0)
	k2 := extentKey(forkData, 10, 5)
	k3 := extentKey(forkResource, 10, 0)
	k4 := extentKey(forkData, 11, 0)

	if compareExtentKey(k1, k2) >= 0 {
		t.Fatal("expected k1 < k2 (lower startBlock)")
	}
	if compareExtentKey(k1, k3) >= 0 {
		t.Fatal("expected k1 < k3 (data fork before resource fork)")
	}
	if compareExtentKey(k1, k4) >= 0 {
		t.Fatal("expected k1 < k4 (lower CNID)")
	}
	if compareExtentKey(k1, k1) != 0 {
		t.Fatal("expected equal keys to compare equal")
	}
}

func TestDecodeExtentRecordsStopsAtZeroRun(t *testing.T) {
	buf := make([]byte, 24)
	binary.BigEndian.PutUint32(buf[0:4], 100)
	binary.BigEndian.PutUint32(buf[4:8], 5)
	// Remaining 16 bytes are zero BlockCount runs and should be skipped.
	recs := decodeExtentRecords(buf)
	if len(recs) != 1 || recs[0].StartBlock != 100 || recs[0].BlockCount != 5 {
		t.Fatalf("decodeExtentRecords = %+v", recs)
	}
}
