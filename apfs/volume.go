// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package apfs

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/elliotnunn/dmgfs/dmgerr"
	"github.com/elliotnunn/dmgfs/internal/bTree"
	"github.com/elliotnunn/dmgfs/internal/blockcache"
	"github.com/elliotnunn/dmgfs/internal/randsrc"
)

type volSuperblock struct {
	name         string
	omapOID      uint64
	rootTreeOID  uint64 // virtual, resolved through the volume's own omap
}

func parseVolSuperblock(block []byte) (volSuperblock, error) {
	be := binary.BigEndian
	magic := be.Uint32(block[objHeaderSize : objHeaderSize+4])
	if magic != magicAPSB {
		return volSuperblock{}, dmgerr.New(dmgerr.BadMagic, "apfs.volsb", nil)
	}
	name, _, _ := strings.Cut(string(block[apfsVolNameOff:apfsVolNameOff+apfsVolNameLen]), "\x00")
	return volSuperblock{
		name:        name,
		omapOID:     be.Uint64(block[apfsOmapOIDOff:]),
		rootTreeOID: be.Uint64(block[apfsRootTreeOIDOff:]),
	}, nil
}

// Volume is an opened APFS volume (spec §4.3).
type Volume struct {
	container *container
	sb        volSuperblock
	volOmap   *objectMap
	fsTree    *bTree.Tree

	cache     *blockcache.Cache
	namespace string
}

// Open scans the container checkpoint, selects the first valid volume, and
// opens its object map and catalog tree.
func Open(src randsrc.Source) (*Volume, error) {
	return OpenWithCache(src, nil, "")
}

// OpenWithCache is Open plus an optional hot-node cache: directory listing
// and file-extent range scans re-read the same filesystem B-tree nodes
// repeatedly, so a non-nil cache memoizes their raw bytes keyed by physical
// block number under namespace (SPEC_FULL §2 domain-stack wiring).
// namespace should be unique per opened partition so two volumes sharing one
// cache don't collide.
func OpenWithCache(src randsrc.Source, cache *blockcache.Cache, namespace string) (*Volume, error) {
	c, err := openContainer(src)
	if err != nil {
		return nil, err
	}
	vsb, err := c.firstVolume()
	if err != nil {
		return nil, err
	}

	volOmap, err := openObjectMap(c, c.sb.blockSize, vsb.omapOID)
	if err != nil {
		return nil, err
	}

	v := &Volume{container: c, sb: vsb, volOmap: volOmap, cache: cache, namespace: namespace + ":fstree"}
	v.fsTree = bTree.New(vsb.rootTreeOID, v.readFSNode, compareFSKey, childPhysicalViaVolOmap(v))
	return v, nil
}

// Name is the volume's on-disk name.
func (v *Volume) Name() string { return v.sb.name }

func (v *Volume) readFSNode(id uint64) (bTree.Node, error) {
	phys, rerr := v.volOmap.Resolve(id, ^uint64(0))
	if rerr != nil {
		// The fs root tree's node oids are virtual and resolved through the
		// volume omap; an id that is already physical (rare, but possible
		// for pinned nodes) falls back to a direct read.
		phys = id
	}
	raw, err := v.readBlockCached(phys)
	if err != nil {
		return bTree.Node{}, err
	}
	return decodeAPFSNode(raw)
}

// readBlockCached consults v.cache (if set) before v.container.readBlock,
// keyed by physical block number under v.namespace.
func (v *Volume) readBlockCached(phys uint64) ([]byte, error) {
	if v.cache == nil {
		return v.container.readBlock(phys)
	}
	key := blockcache.Key{Namespace: v.namespace, Index: phys}
	if raw, ok := v.cache.Get(key); ok {
		return raw, nil
	}
	raw, err := v.container.readBlock(phys)
	if err != nil {
		return nil, err
	}
	v.cache.Put(key, raw)
	return raw, nil
}

func childPhysicalViaVolOmap(v *Volume) func([]byte) uint64 {
	return func(val []byte) uint64 {
		if len(val) < 8 {
			return 0
		}
		// Index node values in the filesystem tree are virtual child OIDs;
		// readFSNode resolves them through the volume omap, so the raw
		// value just needs to surface as that virtual id.
		return binary.BigEndian.Uint64(val[0:8])
	}
}

// fsKey builds a (oid, type, suffix) key in the filesystem tree's
// comparison order (spec §4.3 "Catalog B-tree").
func fsKey(oid uint64, typ uint8, suffix []byte) []byte {
	buf := make([]byte, 8+len(suffix))
	binary.BigEndian.PutUint64(buf[0:8], (oid&objIDMask)|(uint64(typ)<<objTypeShift))
	copy(buf[8:], suffix)
	return buf
}

func keyOIDType(key []byte) (uint64, uint8) {
	v := binary.BigEndian.Uint64(key[0:8])
	return v & objIDMask, uint8(v >> objTypeShift)
}

// compareFSKey orders by oid, then type, then the type-specific suffix
// byte-lexicographically (directory entry name, file-extent logical
// offset), matching spec §3's ordering description.
func compareFSKey(a, b []byte) int {
	aOID, aType := keyOIDType(a)
	bOID, bType := keyOIDType(b)
	switch {
	case aOID < bOID:
		return -1
	case aOID > bOID:
		return 1
	}
	if aType != bType {
		if aType < bType {
			return -1
		}
		return 1
	}
	aSuf, bSuf := a[8:], b[8:]
	n := len(aSuf)
	if len(bSuf) < n {
		n = len(bSuf)
	}
	for i := 0; i < n; i++ {
		if aSuf[i] != bSuf[i] {
			if aSuf[i] < bSuf[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(aSuf) < len(bSuf):
		return -1
	case len(aSuf) > len(bSuf):
		return 1
	default:
		return 0
	}
}

// Inode is the decoded subset of j_inode_val_t this reader needs.
type Inode struct {
	OID        uint64
	PrivateID  uint64
	IsDir      bool
	Size       uint64
	Mode       uint16
	UID        uint32
	GID        uint32
	CreateTime time.Time
	ModTime    time.Time
	ChangeTime time.Time
	AccessTime time.Time
}

const (
	sIFMT  = 0o170000
	sIFLNK = 0o120000
	sIFDIR = 0o040000
)

const (
	inodeParentIDOff   = 0
	inodePrivateIDOff  = 8
	inodeCreateTimeOff = 16
	inodeModTimeOff    = 24
	inodeChangeTimeOff = 32
	inodeAccessTimeOff = 40
	inodeOwnerOff      = 72
	inodeGroupOff      = 76
	inodeModeOff       = 80
)

func apfsTime(raw uint64) time.Time { return time.Unix(0, int64(raw)).UTC() }

func decodeInode(oid uint64, value []byte) (Inode, error) {
	if len(value) < inodeModeOff+2 {
		return Inode{}, dmgerr.New(dmgerr.Truncated, "apfs.inode", nil)
	}
	be := binary.BigEndian
	mode := be.Uint16(value[inodeModeOff:])
	return Inode{
		OID:        oid,
		PrivateID:  be.Uint64(value[inodePrivateIDOff:]),
		IsDir:      mode&sIFMT == sIFDIR,
		Mode:       mode,
		UID:        be.Uint32(value[inodeOwnerOff:]),
		GID:        be.Uint32(value[inodeGroupOff:]),
		CreateTime: apfsTime(be.Uint64(value[inodeCreateTimeOff:])),
		ModTime:    apfsTime(be.Uint64(value[inodeModTimeOff:])),
		ChangeTime: apfsTime(be.Uint64(value[inodeChangeTimeOff:])),
		AccessTime: apfsTime(be.Uint64(value[inodeAccessTimeOff:])),
	}, nil
}

func (v *Volume) lookupInode(oid uint64) (Inode, error) {
	key := fsKey(oid, apfsTypeInode, nil)
	value, found, err := v.fsTree.Search(key)
	if err != nil {
		return Inode{}, err
	}
	if !found {
		return Inode{}, dmgerr.New(dmgerr.PathNotFound, "apfs.inode", nil)
	}
	return decodeInode(oid, value)
}

// DirEntry is one APFS directory record (spec §3 "DirRec").
type DirEntry struct {
	Name     string
	ChildOID uint64
	Kind     uint8 // DT_* file-type nibble
}

// listDir range-scans DirRec keys for the given inode oid (spec §4.3
// "Directory listing").
func (v *Volume) listDir(oid uint64) ([]DirEntry, error) {
	var out []DirEntry
	low := fsKey(oid, apfsTypeDirRec, nil)
	err := v.fsTree.RangeScan(low, func(rec bTree.Record) (bool, error) {
		recOID, recType := keyOIDType(rec.Key)
		if recOID != oid || recType != apfsTypeDirRec {
			return false, nil
		}
		name := string(rec.Key[8:])
		if len(rec.Value) < 10 {
			return true, nil
		}
		childOID := binary.BigEndian.Uint64(rec.Value[0:8]) & objIDMask
		kind := uint8(binary.BigEndian.Uint16(rec.Value[8:10]) >> 12)
		out = append(out, DirEntry{Name: name, ChildOID: childOID, Kind: kind})
		return true, nil
	})
	return out, err
}

// FileExtent is one logical-offset-ordered extent of a file's data stream
// (spec §3 "FileExtent").
type FileExtent struct {
	LogicalOffset uint64
	Length        uint64
	PhysBlock     uint64
}

const fileExtentLenMask = (uint64(1) << 56) - 1

func (v *Volume) fileExtents(privateID uint64) ([]FileExtent, error) {
	var out []FileExtent
	low := fsKey(privateID, apfsTypeFileExtent, nil)
	err := v.fsTree.RangeScan(low, func(rec bTree.Record) (bool, error) {
		recOID, recType := keyOIDType(rec.Key)
		if recOID != privateID || recType != apfsTypeFileExtent {
			return false, nil
		}
		if len(rec.Key) < 16 || len(rec.Value) < 16 {
			return true, nil
		}
		logicalOff := binary.BigEndian.Uint64(rec.Key[8:16])
		lenAndFlags := binary.BigEndian.Uint64(rec.Value[0:8])
		physBlock := binary.BigEndian.Uint64(rec.Value[8:16])
		out = append(out, FileExtent{
			LogicalOffset: logicalOff,
			Length:        lenAndFlags & fileExtentLenMask,
			PhysBlock:     physBlock,
		})
		return true, nil
	})
	return out, err
}
