// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package hfsplus

import (
	"encoding/binary"
	"time"
	"unicode"
	"unicode/utf16"

	"github.com/elliotnunn/dmgfs/dmgerr"
	"github.com/elliotnunn/dmgfs/internal/bTree"
)

const (
	recFolder       = 1
	recFile         = 2
	recFolderThread = 3
	recFileThread   = 4

	rootCNID = 2
)

// CatalogEntry is a decoded leaf record of either Folder or File kind.
type CatalogEntry struct {
	IsFolder    bool
	CNID        uint32
	CreateDate  time.Time
	ModDate     time.Time
	AttrModDate time.Time // attributeModDate, the closest HFS+ analogue of ctime
	AccessDate  time.Time
	DataFork    ForkDescriptor
	RsrcFork    ForkDescriptor
	Permissions uint16 // HFSPlusBSDInfo.fileMode (offset 42 within the catalog record, 10 within the BSD info block)
	OwnerID     uint32
	GroupID     uint32
}

type catalog struct {
	tree          *bTree.Tree
	caseSensitive bool
}

func newCatalog(btr *btreeReader, caseSensitive bool) *catalog {
	c := &catalog{caseSensitive: caseSensitive}
	c.tree = bTree.New(uint64(btr.root), btr.readNode, c.compareKey, childIDFromIndexValue)
	return c
}

func encodeName(name string) []byte {
	units := utf16.Encode([]rune(name))
	buf := make([]byte, 2*len(units))
	for i, u := range units {
		binary.BigEndian.PutUint16(buf[2*i:], u)
	}
	return buf
}

func catalogKey(parentCNID uint32, name string) []byte {
	nameBytes := encodeName(name)
	buf := make([]byte, 6+len(nameBytes))
	binary.BigEndian.PutUint32(buf[0:4], parentCNID)
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(nameBytes)/2))
	copy(buf[6:], nameBytes)
	return buf
}

// foldUnit applies Apple's HFS+ "lower-case fold" as a per-code-unit
// unicode.ToLower — a literal fold, not full Unicode case folding or
// NFD normalization (spec §9 open question left this ambiguous; HFSX's
// binary compare is exact, so only the HFS+ path needs this decision).
func foldUnit(u uint16) uint16 {
	return uint16(unicode.ToLower(rune(u)))
}

func (c *catalog) compareKey(a, b []byte) int {
	aParent, bParent := binary.BigEndian.Uint32(a[0:4]), binary.BigEndian.Uint32(b[0:4])
	if aParent != bParent {
		if aParent < bParent {
			return -1
		}
		return 1
	}
	aLen, bLen := int(binary.BigEndian.Uint16(a[4:6])), int(binary.BigEndian.Uint16(b[4:6]))
	aName, bName := a[6:6+2*aLen], b[6:6+2*bLen]

	n := aLen
	if bLen < n {
		n = bLen
	}
	for i := 0; i < n; i++ {
		au := binary.BigEndian.Uint16(aName[2*i:])
		bu := binary.BigEndian.Uint16(bName[2*i:])
		if !c.caseSensitive {
			au, bu = foldUnit(au), foldUnit(bu)
		}
		if au != bu {
			if au < bu {
				return -1
			}
			return 1
		}
	}
	switch {
	case aLen < bLen:
		return -1
	case aLen > bLen:
		return 1
	default:
		return 0
	}
}

func hfsDate32(raw uint32) time.Time { return hfsDate(raw) }

func decodeCatalogValue(value []byte) (CatalogEntry, error) {
	if len(value) < 2 {
		return CatalogEntry{}, dmgerr.New(dmgerr.Truncated, "hfsplus.catalog", nil)
	}
	be := binary.BigEndian
	recType := be.Uint16(value[0:2])

	switch recType {
	case recFolder:
		if len(value) < 88 {
			return CatalogEntry{}, dmgerr.New(dmgerr.Truncated, "hfsplus.catalog", nil)
		}
		return CatalogEntry{
			IsFolder:    true,
			CNID:        be.Uint32(value[8:12]),
			CreateDate:  hfsDate32(be.Uint32(value[12:16])),
			ModDate:     hfsDate32(be.Uint32(value[16:20])),
			AttrModDate: hfsDate32(be.Uint32(value[20:24])),
			AccessDate:  hfsDate32(be.Uint32(value[24:28])),
			OwnerID:     be.Uint32(value[32:36]),
			GroupID:     be.Uint32(value[36:40]),
			Permissions: be.Uint16(value[42:44]),
		}, nil
	case recFile:
		if len(value) < 244 {
			return CatalogEntry{}, dmgerr.New(dmgerr.Truncated, "hfsplus.catalog", nil)
		}
		return CatalogEntry{
			IsFolder:    false,
			CNID:        be.Uint32(value[8:12]),
			CreateDate:  hfsDate32(be.Uint32(value[12:16])),
			ModDate:     hfsDate32(be.Uint32(value[16:20])),
			AttrModDate: hfsDate32(be.Uint32(value[20:24])),
			AccessDate:  hfsDate32(be.Uint32(value[24:28])),
			OwnerID:     be.Uint32(value[32:36]),
			GroupID:     be.Uint32(value[36:40]),
			Permissions: be.Uint16(value[42:44]),
			DataFork:    parseForkDescriptor(value[88:168]),
			RsrcFork:    parseForkDescriptor(value[168:248]),
		}, nil
	default:
		return CatalogEntry{}, dmgerr.New(dmgerr.NotAFile, "hfsplus.catalog", nil)
	}
}

// lookup resolves (parentCNID, name) to a Folder or File leaf record.
func (c *catalog) lookup(parentCNID uint32, name string) (CatalogEntry, error) {
	key := catalogKey(parentCNID, name)
	value, found, err := c.tree.Search(key)
	if err != nil {
		return CatalogEntry{}, err
	}
	if !found {
		return CatalogEntry{}, dmgerr.New(dmgerr.PathNotFound, "hfsplus.catalog.lookup", nil)
	}
	return decodeCatalogValue(value)
}

// DirEntry is one child of a listed directory.
type DirEntry struct {
	Name  string
	Entry CatalogEntry
}

// list range-scans every child of parentCNID (keys with that parent, name
// ascending), skipping thread records (spec §4.2 "Search").
func (c *catalog) list(parentCNID uint32) ([]DirEntry, error) {
	var out []DirEntry
	low := catalogKey(parentCNID, "")
	err := c.tree.RangeScan(low, func(rec bTree.Record) (bool, error) {
		if len(rec.Key) < 6 {
			return false, nil
		}
		recParent := binary.BigEndian.Uint32(rec.Key[0:4])
		if recParent != parentCNID {
			return false, nil
		}
		nameLen := int(binary.BigEndian.Uint16(rec.Key[4:6]))
		nameBytes := rec.Key[6 : 6+2*nameLen]
		units := make([]uint16, nameLen)
		for i := range units {
			units[i] = binary.BigEndian.Uint16(nameBytes[2*i:])
		}
		name := string(utf16.Decode(units))

		if len(rec.Value) < 2 {
			return true, nil
		}
		recType := binary.BigEndian.Uint16(rec.Value[0:2])
		if recType != recFolder && recType != recFile {
			return true, nil // thread record, skip
		}
		entry, err := decodeCatalogValue(rec.Value)
		if err != nil {
			return false, err
		}
		out = append(out, DirEntry{Name: name, Entry: entry})
		return true, nil
	})
	return out, err
}
