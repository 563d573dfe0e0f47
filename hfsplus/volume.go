// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package hfsplus

import (
	"strings"
	"time"

	"github.com/elliotnunn/dmgfs/dmgerr"
	"github.com/elliotnunn/dmgfs/internal/blockcache"
	"github.com/elliotnunn/dmgfs/internal/randsrc"
)

// Volume is an opened HFS+/HFSX volume (spec §4.2).
type Volume struct {
	src           randsrc.Source
	header        VolumeHeader
	catalog       *catalog
	overflow      *extentsOverflow
}

// Open parses the volume header and opens the catalog and extents-overflow
// B-trees.
func Open(src randsrc.Source) (*Volume, error) {
	return OpenWithCache(src, nil, "")
}

// OpenWithCache is Open plus an optional hot-node cache: repeated path
// resolution and walks over the same volume re-read the same catalog and
// extents-overflow nodes, so a non-nil cache memoizes their raw bytes keyed
// by node id under namespace (SPEC_FULL §2 domain-stack wiring). namespace
// should be unique per opened partition (e.g. its UDIF partition ID) so two
// filesystems sharing one cache don't collide.
func OpenWithCache(src randsrc.Source, cache *blockcache.Cache, namespace string) (*Volume, error) {
	header, err := ParseVolumeHeader(src)
	if err != nil {
		return nil, err
	}

	v := &Volume{src: src, header: header}

	extFork, err := newForkReader(src, header.BlockSize, header.ExtentsFile, forkData, 3, nil)
	if err != nil {
		return nil, err
	}
	extBtr, err := newBtreeReader(extFork, cache, namespace+":extents")
	if err != nil {
		return nil, err
	}
	v.overflow = newExtentsOverflow(extBtr)

	catFork, err := newForkReader(src, header.BlockSize, header.CatalogFile, forkData, 4, v.overflow)
	if err != nil {
		return nil, err
	}
	catBtr, err := newBtreeReader(catFork, cache, namespace+":catalog")
	if err != nil {
		return nil, err
	}
	v.catalog = newCatalog(catBtr, header.CaseSensitive)

	return v, nil
}

// VolumeHeader exposes the parsed header, e.g. for an Info/bench surface.
func (v *Volume) VolumeHeader() VolumeHeader { return v.header }

// Entry pairs a resolved catalog record with the path that reached it.
type Entry struct {
	CatalogEntry
	Name string
}

// Resolve walks path components from the root (CNID 2), never following
// thread records, per spec §4.2 "Path resolution".
func (v *Volume) Resolve(path string) (Entry, error) {
	path = strings.Trim(path, "/")
	cnid := uint32(rootCNID)
	if path == "" {
		return Entry{CatalogEntry: CatalogEntry{IsFolder: true, CNID: rootCNID}, Name: "/"}, nil
	}

	parts := strings.Split(path, "/")
	var entry CatalogEntry
	var name string
	for i, part := range parts {
		var err error
		entry, err = v.catalog.lookup(cnid, part)
		if err != nil {
			return Entry{}, err
		}
		name = part
		if i != len(parts)-1 {
			if !entry.IsFolder {
				return Entry{}, dmgerr.New(dmgerr.NotADirectory, "hfsplus.resolve", nil)
			}
			cnid = entry.CNID
		}
	}
	return Entry{CatalogEntry: entry, Name: name}, nil
}

// List returns the children of a directory path (spec §4.6 list_directory).
func (v *Volume) List(path string) ([]DirEntry, error) {
	if strings.Trim(path, "/") == "" {
		return v.catalog.list(rootCNID)
	}
	e, err := v.Resolve(path)
	if err != nil {
		return nil, err
	}
	if !e.IsFolder {
		return nil, dmgerr.New(dmgerr.NotADirectory, "hfsplus.list", nil)
	}
	return v.catalog.list(e.CNID)
}

// OpenFile returns a random-access reader over a file's data fork.
func (v *Volume) OpenFile(path string) (*ForkReader, error) {
	e, err := v.Resolve(path)
	if err != nil {
		return nil, err
	}
	if e.IsFolder {
		return nil, dmgerr.New(dmgerr.NotAFile, "hfsplus.openfile", nil)
	}
	return newForkReader(v.src, v.header.BlockSize, e.DataFork, forkData, e.CNID, v.overflow)
}

// Stat reports the unified FileStat fields spec §3 defines, sourced from the
// catalog record's permissions/date fields and, for files, the data fork's
// logical size.
type Stat struct {
	Size       int64
	IsDir      bool
	Mode       uint32
	UID        uint32
	GID        uint32
	ID         uint32
	ModTime    time.Time
	ChangeTime time.Time
	AccessTime time.Time
}

func (v *Volume) Stat(path string) (Stat, error) {
	e, err := v.Resolve(path)
	if err != nil {
		return Stat{}, err
	}
	return Stat{
		Size:       int64(e.DataFork.LogicalSize),
		IsDir:      e.IsFolder,
		Mode:       uint32(e.Permissions),
		UID:        e.OwnerID,
		GID:        e.GroupID,
		ID:         e.CNID,
		ModTime:    e.ModDate,
		ChangeTime: e.AttrModDate,
		AccessTime: e.AccessDate,
	}, nil
}

// WalkEntry is one yield of Walk: the full slash-joined path plus its entry.
type WalkEntry struct {
	Path  string
	Entry CatalogEntry
}

// Walk performs a depth-first traversal of the entire volume starting at
// root, yielding every Folder and File record (spec §4.6 "walk").
func (v *Volume) Walk(visit func(WalkEntry) error) error {
	return v.walkDir(rootCNID, "", visit)
}

func (v *Volume) walkDir(cnid uint32, prefix string, visit func(WalkEntry) error) error {
	children, err := v.catalog.list(cnid)
	if err != nil {
		return err
	}
	for _, c := range children {
		p := prefix + "/" + c.Name
		if err := visit(WalkEntry{Path: p, Entry: c.Entry}); err != nil {
			return err
		}
		if c.Entry.IsFolder {
			if err := v.walkDir(c.Entry.CNID, p, visit); err != nil {
				return err
			}
		}
	}
	return nil
}
