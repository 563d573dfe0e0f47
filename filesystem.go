// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package dmgfs

import (
	"io"
	"strings"
	"time"

	"github.com/elliotnunn/dmgfs/apfs"
	"github.com/elliotnunn/dmgfs/dmgerr"
	"github.com/elliotnunn/dmgfs/hfsplus"
	"github.com/elliotnunn/dmgfs/internal/randsrc"
	"github.com/elliotnunn/dmgfs/udif"
)

// FSKind tags which concrete reader backs a Filesystem handle.
type FSKind int

const (
	FSUnknown FSKind = iota
	FSHFS
	FSAPFS
)

// apfsDirDT mirrors POSIX DT_DIR, the directory-record type nibble apfs's
// DirEntry.Kind carries (spec §4.3). Distinct from the unified Kind below:
// this one is the raw on-disk DT_* nibble, not the cross-filesystem enum.
const apfsDirDT = 4

// Kind classifies a unified entry's type (spec §3 FileStat.kind), derived
// from each backend's raw permissions/mode word since neither hfsplus nor
// apfs can import this package to share the enum directly.
type Kind int

const (
	KindOther Kind = iota
	KindFile
	KindDir
	KindSymlink
)

const (
	modeFmt = 0o170000
	modeLnk = 0o120000
)

// kindFromMode derives the unified Kind from a raw POSIX mode word and each
// backend's own authoritative is-a-directory signal (CatalogEntry.IsFolder,
// apfs.Inode.IsDir), which takes priority over the mode bits since HFS+
// folders and many APFS directory inodes don't carry a meaningful S_IFDIR
// bit in their stored permissions field.
func kindFromMode(mode uint32, isDir bool) Kind {
	if isDir {
		return KindDir
	}
	if mode&modeFmt == modeLnk {
		return KindSymlink
	}
	return KindFile
}

// Filesystem is the polymorphic filesystem handle of spec §4.6/§9: a tagged
// variant over the two concrete readers with a single dispatch point per
// operation, so callers never need a type switch of their own.
type Filesystem struct {
	kind   FSKind
	hfs    *hfsplus.Volume
	apfs   *apfs.Volume
	closer func() error
}

// Close releases the extracted partition source backing this filesystem, if
// ExtractPartition allocated one (a no-op under InMemory extraction).
func (f *Filesystem) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer()
}

// Kind reports which reader backs the handle.
func (f *Filesystem) Kind() FSKind { return f.kind }

// looksLikeHFS/looksLikeAPFS match the blkx Name strings spec §4.6 says to
// inspect before falling back to magic sniffing.
func looksLikeHFS(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "apple_hfs") || strings.Contains(n, "hfsx") || strings.Contains(n, "hfs+")
}

func looksLikeAPFS(name string) bool {
	return strings.Contains(strings.ToLower(name), "apple_apfs")
}

// OpenFilesystem auto-detects HFS+ vs APFS on the named partition (spec
// §4.6 "Filesystem auto-detect"): the partition's Name (or FriendlyName)
// decides upfront when it names a known type (Attributes are not
// consulted), falling back to trying each
// reader in turn — which itself validates the volume's own magic bytes —
// when the name is uninformative.
func (p *Pipeline) OpenFilesystem(id string, opts ...Option) (*Filesystem, error) {
	part, err := p.findPartition(id)
	if err != nil {
		return nil, err
	}

	switch {
	case looksLikeHFS(part.Name) || looksLikeHFS(part.FriendlyName):
		return p.OpenHFS(id, opts...)
	case looksLikeAPFS(part.Name) || looksLikeAPFS(part.FriendlyName):
		return p.OpenAPFS(id, opts...)
	}

	merged := applyOptions(p.opts, opts)
	src, closer, err := p.ExtractPartition(id, opts...)
	if err != nil {
		return nil, err
	}
	if hv, herr := hfsplus.OpenWithCache(src, merged.Cache, id); herr == nil {
		return &Filesystem{kind: FSHFS, hfs: hv, closer: closer}, nil
	}
	if av, aerr := apfs.OpenWithCache(src, merged.Cache, id); aerr == nil {
		return &Filesystem{kind: FSAPFS, apfs: av, closer: closer}, nil
	}
	closer()
	return nil, dmgerr.New(dmgerr.NoFilesystemPartition, "dmgfs.open_filesystem", nil)
}

// OpenHFS extracts the named partition and opens it as an HFS+/HFSX volume.
func (p *Pipeline) OpenHFS(id string, opts ...Option) (*Filesystem, error) {
	merged := applyOptions(p.opts, opts)
	src, closer, err := p.ExtractPartition(id, opts...)
	if err != nil {
		return nil, err
	}
	v, err := hfsplus.OpenWithCache(src, merged.Cache, id)
	if err != nil {
		closer()
		return nil, dmgerr.New(dmgerr.NoHfsPartition, "dmgfs.open_hfs", err)
	}
	return &Filesystem{kind: FSHFS, hfs: v, closer: closer}, nil
}

// OpenAPFS extracts the named partition and opens it as an APFS container's
// first volume.
func (p *Pipeline) OpenAPFS(id string, opts ...Option) (*Filesystem, error) {
	merged := applyOptions(p.opts, opts)
	src, closer, err := p.ExtractPartition(id, opts...)
	if err != nil {
		return nil, err
	}
	v, err := apfs.OpenWithCache(src, merged.Cache, id)
	if err != nil {
		closer()
		return nil, dmgerr.New(dmgerr.NoApfsPartition, "dmgfs.open_apfs", err)
	}
	return &Filesystem{kind: FSAPFS, apfs: v, closer: closer}, nil
}

func (p *Pipeline) findPartition(id string) (udif.Partition, error) {
	for _, part := range p.udif.Partitions() {
		if part.ID == id {
			return part, nil
		}
	}
	return udif.Partition{}, dmgerr.New(dmgerr.NoSuchPartition, "dmgfs.find_partition", nil)
}

// VolumeInfo is the unified volume_info result of spec §4.6; fields that a
// given filesystem doesn't expose are left zero-valued.
type VolumeInfo struct {
	Kind          FSKind
	Name          string
	CaseSensitive bool
	BlockSize     uint32
}

// VolumeInfo returns volume-level metadata for the handle.
func (f *Filesystem) VolumeInfo() VolumeInfo {
	switch f.kind {
	case FSHFS:
		vh := f.hfs.VolumeHeader()
		return VolumeInfo{Kind: FSHFS, CaseSensitive: vh.CaseSensitive, BlockSize: vh.BlockSize}
	case FSAPFS:
		return VolumeInfo{Kind: FSAPFS, Name: f.apfs.Name()}
	}
	return VolumeInfo{}
}

// Stat is the unified stat(path) result of spec §3/§4.6's FileStat: size,
// mode, uid, gid, atime, mtime, ctime, and id are all mandatory fields,
// along with the Kind enum (file/dir/symlink/other).
type Stat struct {
	Size       int64
	Kind       Kind
	IsDir      bool
	Mode       uint32
	UID        uint32
	GID        uint32
	ID         uint64
	ModTime    time.Time
	ChangeTime time.Time
	AccessTime time.Time
}

// Stat resolves path and returns its unified metadata.
func (f *Filesystem) Stat(path string) (Stat, error) {
	switch f.kind {
	case FSHFS:
		s, err := f.hfs.Stat(path)
		if err != nil {
			return Stat{}, err
		}
		return Stat{
			Size:       s.Size,
			Kind:       kindFromMode(s.Mode, s.IsDir),
			IsDir:      s.IsDir,
			Mode:       s.Mode,
			UID:        s.UID,
			GID:        s.GID,
			ID:         uint64(s.ID),
			ModTime:    s.ModTime,
			ChangeTime: s.ChangeTime,
			AccessTime: s.AccessTime,
		}, nil
	case FSAPFS:
		s, err := f.apfs.Stat(path)
		if err != nil {
			return Stat{}, err
		}
		return Stat{
			Size:       s.Size,
			Kind:       kindFromMode(s.Mode, s.IsDir),
			IsDir:      s.IsDir,
			Mode:       s.Mode,
			UID:        s.UID,
			GID:        s.GID,
			ID:         s.ID,
			ModTime:    s.ModTime,
			ChangeTime: s.ChangeTime,
			AccessTime: s.AccessTime,
		}, nil
	}
	return Stat{}, dmgerr.New(dmgerr.UnsupportedFeature, "dmgfs.stat", nil)
}

// DirEntry is the unified list_directory(path) element: the child's name and
// kind. It carries no size or modification time.
type DirEntry struct {
	Name  string
	Kind  Kind
	IsDir bool
}

// List returns the immediate children of path.
func (f *Filesystem) List(path string) ([]DirEntry, error) {
	switch f.kind {
	case FSHFS:
		ents, err := f.hfs.List(path)
		if err != nil {
			return nil, err
		}
		out := make([]DirEntry, len(ents))
		for i, e := range ents {
			out[i] = DirEntry{
				Name:  e.Name,
				Kind:  kindFromMode(uint32(e.Entry.Permissions), e.Entry.IsFolder),
				IsDir: e.Entry.IsFolder,
			}
		}
		return out, nil
	case FSAPFS:
		ents, err := f.apfs.List(path)
		if err != nil {
			return nil, err
		}
		out := make([]DirEntry, len(ents))
		for i, e := range ents {
			isDir := e.Kind == apfsDirDT
			out[i] = DirEntry{Name: e.Name, Kind: kindFromModeDirEntryHint(isDir), IsDir: isDir}
		}
		return out, nil
	}
	return nil, dmgerr.New(dmgerr.UnsupportedFeature, "dmgfs.list_directory", nil)
}

// kindFromModeDirEntryHint covers APFS's raw DirRec listing, which only
// carries the DT_* nibble (not a full mode word) per entry: the symlink
// distinction there requires resolving the child inode, which Stat/Walk do
// but a plain directory listing does not.
func kindFromModeDirEntryHint(isDir bool) Kind {
	if isDir {
		return KindDir
	}
	return KindFile
}

// fileSource adapts either reader's ForkReader (both satisfy randsrc.Source:
// ReadAt plus Size) so OpenFile can return one concrete streaming type.
func (f *Filesystem) fileSource(path string) (randsrc.Source, error) {
	switch f.kind {
	case FSHFS:
		return f.hfs.OpenFile(path)
	case FSAPFS:
		return f.apfs.OpenFile(path)
	}
	return nil, dmgerr.New(dmgerr.UnsupportedFeature, "dmgfs.open_file", nil)
}

// OpenFile returns a streaming, seekable reader over path's data fork/stream
// (spec §4.6 "open_file(path) returning a streaming reader").
func (f *Filesystem) OpenFile(path string) (*randsrc.ReaderSource, error) {
	src, err := f.fileSource(path)
	if err != nil {
		return nil, err
	}
	return randsrc.NewReaderSource(src), nil
}

// ReadFile reads path's entire contents (spec §4.6 "read_file(path)").
func (f *Filesystem) ReadFile(path string) ([]byte, error) {
	src, err := f.fileSource(path)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, src.Size())
	if _, err := io.ReadFull(io.NewSectionReader(src, 0, src.Size()), buf); err != nil {
		return nil, dmgerr.New(dmgerr.Io, "dmgfs.read_file", err)
	}
	return buf, nil
}

// ReadFileTo streams path's contents to w (spec §4.6 "read_file_to").
func (f *Filesystem) ReadFileTo(path string, w io.Writer) error {
	src, err := f.fileSource(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, io.NewSectionReader(src, 0, src.Size())); err != nil {
		return dmgerr.New(dmgerr.Io, "dmgfs.read_file_to", err)
	}
	return nil
}

// WalkEntry is the unified {path, entry} pair yielded by Walk (spec §4.6),
// carrying the same mandatory FileStat fields as Stat. Size is only
// populated for HFS+ volumes: APFS inode records don't carry a data-stream
// size field this reader decodes (see apfs.decodeInode), so an accurate
// size there would require resolving every file's extent list during the
// walk, which Walk does not do.
type WalkEntry struct {
	Path       string
	Kind       Kind
	IsDir      bool
	Size       int64
	Mode       uint32
	UID        uint32
	GID        uint32
	ID         uint64
	ModTime    time.Time
	ChangeTime time.Time
	AccessTime time.Time
}

// Walk performs a depth-first traversal of the whole volume.
func (f *Filesystem) Walk(visit func(WalkEntry) error) error {
	switch f.kind {
	case FSHFS:
		return f.hfs.Walk(func(e hfsplus.WalkEntry) error {
			mode := uint32(e.Entry.Permissions)
			return visit(WalkEntry{
				Path:       e.Path,
				Kind:       kindFromMode(mode, e.Entry.IsFolder),
				IsDir:      e.Entry.IsFolder,
				Size:       int64(e.Entry.DataFork.LogicalSize),
				Mode:       mode,
				UID:        e.Entry.OwnerID,
				GID:        e.Entry.GroupID,
				ID:         uint64(e.Entry.CNID),
				ModTime:    e.Entry.ModDate,
				ChangeTime: e.Entry.AttrModDate,
				AccessTime: e.Entry.AccessDate,
			})
		})
	case FSAPFS:
		return f.apfs.Walk(func(e apfs.WalkEntry) error {
			mode := uint32(e.Entry.Mode)
			return visit(WalkEntry{
				Path:       e.Path,
				Kind:       kindFromMode(mode, e.Entry.IsDir),
				IsDir:      e.Entry.IsDir,
				Mode:       mode,
				UID:        e.Entry.UID,
				GID:        e.Entry.GID,
				ID:         e.Entry.PrivateID,
				ModTime:    e.Entry.ModTime,
				ChangeTime: e.Entry.ChangeTime,
				AccessTime: e.Entry.AccessTime,
			})
		})
	}
	return dmgerr.New(dmgerr.UnsupportedFeature, "dmgfs.walk", nil)
}
