// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package dmgfs

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/elliotnunn/dmgfs/dmgerr"
	"github.com/elliotnunn/dmgfs/internal/randsrc"
	"github.com/elliotnunn/dmgfs/pbzxcpio"
	"github.com/elliotnunn/dmgfs/xarpkg"
)

// OpenPkg reads path's entire contents into memory and opens it as a XAR
// package (spec §4.6 "open_pkg(path) reads the file entirely into memory").
func (f *Filesystem) OpenPkg(path string) (*xarpkg.Pkg, error) {
	b, err := f.ReadFile(path)
	if err != nil {
		return nil, err
	}
	a, err := xarpkg.Open(randsrc.FromBytes(b))
	if err != nil {
		return nil, err
	}
	return xarpkg.OpenPkg(a), nil
}

// OpenPkgStreaming spools path to a temporary file and opens the XAR from
// there (spec §4.6 "open_pkg_streaming(path) spools the file to a
// temporary"), bounding peak memory to the codec's working buffer instead
// of the whole package.
func (f *Filesystem) OpenPkgStreaming(path string) (*xarpkg.Pkg, func() error, error) {
	src, err := f.fileSource(path)
	if err != nil {
		return nil, nil, err
	}
	tmp, closer, err := randsrc.SpoolToTemp(randsrc.NewReaderSource(src), "dmgfs-pkg-*")
	if err != nil {
		return nil, nil, err
	}
	a, err := xarpkg.Open(tmp)
	if err != nil {
		closer()
		return nil, nil, err
	}
	return xarpkg.OpenPkg(a), closer, nil
}

// FindPackages walks the filesystem and collects every non-directory entry
// whose path ends in ".pkg" (spec §4.6 "find_packages(image)"); directories
// named *.pkg are skipped.
func (f *Filesystem) FindPackages() ([]string, error) {
	var out []string
	err := f.Walk(func(e WalkEntry) error {
		if !e.IsDir && strings.HasSuffix(e.Path, ".pkg") {
			out = append(out, e.Path)
		}
		return nil
	})
	return out, err
}

// FindGlob returns every walked path matching pattern (doublestar syntax),
// a thin convenience over Walk for the "find" CLI verb's collaborator
// interface.
func (f *Filesystem) FindGlob(pattern string) ([]string, error) {
	var out []string
	err := f.Walk(func(e WalkEntry) error {
		ok, err := doublestar.Match(pattern, e.Path)
		if err != nil {
			return err
		}
		if ok {
			out = append(out, e.Path)
		}
		return nil
	})
	return out, err
}

// ExtractPkgPayload composes every layer — filesystem read, XAR/PKG parse,
// and PBZX framing — and returns a ready-to-use PBZX archive handle over
// pkgPath's Payload entry for the given component (spec §4.6
// "extract_pkg_payload(image, pkg_path, component) composes all layers and
// returns a PBZX archive handle").
func (f *Filesystem) ExtractPkgPayload(pkgPath, component string) (*pbzxcpio.Archive, error) {
	pkg, err := f.OpenPkg(pkgPath)
	if err != nil {
		return nil, err
	}
	payload, err := pkg.Payload(component)
	if err != nil {
		return nil, err
	}
	if len(payload) < 4 || string(payload[:4]) != "pbzx" {
		return nil, dmgerr.New(dmgerr.BadMagic, "dmgfs.extract_pkg_payload", nil)
	}
	return pbzxcpio.Open(randsrc.FromBytes(payload)), nil
}
