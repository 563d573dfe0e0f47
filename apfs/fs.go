// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package apfs

import (
	"strings"
	"time"

	"github.com/elliotnunn/dmgfs/dmgerr"
)

// Entry pairs a resolved inode with the path component that reached it.
type Entry struct {
	Inode
	Name string
}

// Resolve walks path components from the root directory (oid 2), looking up
// each name among its parent's directory records (spec §4.3 "Path
// resolution").
func (v *Volume) Resolve(path string) (Entry, error) {
	path = strings.Trim(path, "/")
	oid := uint64(rootDirInodeNum)
	if path == "" {
		inode, err := v.lookupInode(oid)
		if err != nil {
			return Entry{}, err
		}
		return Entry{Inode: inode, Name: "/"}, nil
	}

	parts := strings.Split(path, "/")
	var inode Inode
	var name string
	for i, part := range parts {
		children, err := v.listDir(oid)
		if err != nil {
			return Entry{}, err
		}
		var childOID uint64
		found := false
		for _, c := range children {
			if c.Name == part {
				childOID, found = c.ChildOID, true
				break
			}
		}
		if !found {
			return Entry{}, dmgerr.New(dmgerr.PathNotFound, "apfs.resolve", nil)
		}
		inode, err = v.lookupInode(childOID)
		if err != nil {
			return Entry{}, err
		}
		name = part
		if i != len(parts)-1 {
			if !inode.IsDir {
				return Entry{}, dmgerr.New(dmgerr.NotADirectory, "apfs.resolve", nil)
			}
		}
		oid = childOID
	}
	return Entry{Inode: inode, Name: name}, nil
}

// List returns the children of a directory path (spec §4.6 list_directory).
func (v *Volume) List(path string) ([]DirEntry, error) {
	if strings.Trim(path, "/") == "" {
		return v.listDir(rootDirInodeNum)
	}
	e, err := v.Resolve(path)
	if err != nil {
		return nil, err
	}
	if !e.IsDir {
		return nil, dmgerr.New(dmgerr.NotADirectory, "apfs.list", nil)
	}
	return v.listDir(e.OID)
}

// OpenFile returns a random-access reader over a file's default data stream.
func (v *Volume) OpenFile(path string) (*ForkReader, error) {
	e, err := v.Resolve(path)
	if err != nil {
		return nil, err
	}
	if e.IsDir {
		return nil, dmgerr.New(dmgerr.NotAFile, "apfs.openfile", nil)
	}
	return v.newForkReaderFor(e.Inode)
}

// Stat reports the unified FileStat fields spec §3 defines.
type Stat struct {
	Size       int64
	IsDir      bool
	Mode       uint32
	UID        uint32
	GID        uint32
	ID         uint64
	ModTime    time.Time
	ChangeTime time.Time
	AccessTime time.Time
}

func (v *Volume) Stat(path string) (Stat, error) {
	e, err := v.Resolve(path)
	if err != nil {
		return Stat{}, err
	}
	st := Stat{
		IsDir:      e.IsDir,
		Mode:       uint32(e.Mode),
		UID:        e.UID,
		GID:        e.GID,
		ID:         e.PrivateID,
		ModTime:    e.ModTime,
		ChangeTime: e.ChangeTime,
		AccessTime: e.AccessTime,
	}
	if !e.IsDir {
		fr, err := v.newForkReaderFor(e.Inode)
		if err != nil {
			return Stat{}, err
		}
		st.Size = fr.Size()
	}
	return st, nil
}

// WalkEntry is one yield of Walk: the full slash-joined path plus its inode.
type WalkEntry struct {
	Path  string
	Entry Inode
}

// Walk performs a depth-first traversal of the entire volume starting at the
// root directory, yielding every inode below it; the root directory itself
// is not yielded (spec §4.6 "walk").
func (v *Volume) Walk(visit func(WalkEntry) error) error {
	return v.walkDir(rootDirInodeNum, "", visit)
}

func (v *Volume) walkDir(oid uint64, prefix string, visit func(WalkEntry) error) error {
	children, err := v.listDir(oid)
	if err != nil {
		return err
	}
	for _, c := range children {
		inode, err := v.lookupInode(c.ChildOID)
		if err != nil {
			return err
		}
		p := prefix + "/" + c.Name
		if err := visit(WalkEntry{Path: p, Entry: inode}); err != nil {
			return err
		}
		if inode.IsDir {
			if err := v.walkDir(c.ChildOID, p, visit); err != nil {
				return err
			}
		}
	}
	return nil
}
