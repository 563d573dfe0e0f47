// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package xarpkg

import (
	"io"
	"strings"

	"github.com/elliotnunn/dmgfs/dmgerr"
)

// PkgKind distinguishes a product installer (multiple components, a
// Distribution script) from a single component package (spec §4.4 "PKG
// classification").
type PkgKind int

const (
	PkgComponent PkgKind = iota
	PkgProduct
)

// Pkg wraps an Archive with installer-specific classification and payload
// access.
type Pkg struct {
	archive *Archive
	kind    PkgKind
}

// OpenPkg classifies an already-opened XAR archive as a product or
// component package.
func OpenPkg(a *Archive) *Pkg {
	if _, ok := a.Lookup("Distribution"); ok {
		return &Pkg{archive: a, kind: PkgProduct}
	}
	return &Pkg{archive: a, kind: PkgComponent}
}

func (p *Pkg) Kind() PkgKind { return p.kind }

// Components lists component names for a product package (its top-level
// directory entries), or nil for a component package.
func (p *Pkg) Components() []string {
	if p.kind != PkgProduct {
		return nil
	}
	var out []string
	for _, e := range p.archive.Roots() {
		if e.Kind == KindDirectory {
			out = append(out, e.Name)
		}
	}
	return out
}

// Payload returns the bytes of a component's Payload entry: "{component}/Payload"
// for a product package, or "Payload" for a component package (spec §4.4
// "pkg.payload(component)").
func (p *Pkg) Payload(component string) ([]byte, error) {
	path := "Payload"
	if p.kind == PkgProduct {
		if component == "" {
			return nil, dmgerr.New(dmgerr.PathNotFound, "xarpkg.payload", nil)
		}
		path = strings.TrimSuffix(component, "/") + "/Payload"
	}
	e, ok := p.archive.Lookup(path)
	if !ok {
		return nil, dmgerr.New(dmgerr.PathNotFound, "xarpkg.payload", nil)
	}
	return p.archive.ReadAll(e)
}

// PayloadTo streams a component's Payload entry to w, the streaming
// counterpart of Payload (spec §6 "payload_to(component, sink)").
func (p *Pkg) PayloadTo(component string, w io.Writer) error {
	path := "Payload"
	if p.kind == PkgProduct {
		if component == "" {
			return dmgerr.New(dmgerr.PathNotFound, "xarpkg.payload_to", nil)
		}
		path = strings.TrimSuffix(component, "/") + "/Payload"
	}
	e, ok := p.archive.Lookup(path)
	if !ok {
		return dmgerr.New(dmgerr.PathNotFound, "xarpkg.payload_to", nil)
	}
	return p.archive.ReadTo(w, e)
}

// Distribution returns the bytes of the top-level Distribution XML entry of
// a product package (spec §6 "distribution()").
func (p *Pkg) Distribution() ([]byte, error) {
	if p.kind != PkgProduct {
		return nil, dmgerr.New(dmgerr.PathNotFound, "xarpkg.distribution", nil)
	}
	e, ok := p.archive.Lookup("Distribution")
	if !ok {
		return nil, dmgerr.New(dmgerr.PathNotFound, "xarpkg.distribution", nil)
	}
	return p.archive.ReadAll(e)
}

// PackageInfo returns the bytes of a component's PackageInfo XML entry
// (spec §6 "package_info(component)"): "{component}/PackageInfo" for a
// product package, or "PackageInfo" for a component package.
func (p *Pkg) PackageInfo(component string) ([]byte, error) {
	path := "PackageInfo"
	if p.kind == PkgProduct {
		if component == "" {
			return nil, dmgerr.New(dmgerr.PathNotFound, "xarpkg.package_info", nil)
		}
		path = strings.TrimSuffix(component, "/") + "/PackageInfo"
	}
	e, ok := p.archive.Lookup(path)
	if !ok {
		return nil, dmgerr.New(dmgerr.PathNotFound, "xarpkg.package_info", nil)
	}
	return p.archive.ReadAll(e)
}
