// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package xarpkg

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/elliotnunn/dmgfs/internal/randsrc"
)

// heapFile is one entry to be laid into the heap and described in the TOC.
type heapFile struct {
	path string // slash-joined TOC path, also used to build nested <file> elements
	dir  bool
	data []byte
}

// buildXAR assembles a full on-disk XAR image: 28-byte header, zlib-compressed
// TOC XML, and a heap of concatenated entry bytes, laid out the way the real
// format does (spec §4.4).
func buildXAR(t *testing.T, files []heapFile) []byte {
	t.Helper()

	var heap bytes.Buffer
	type placed struct {
		heapFile
		offset int64
	}
	var flat []placed
	for _, f := range files {
		off := int64(heap.Len())
		if !f.dir {
			heap.Write(f.data)
		}
		flat = append(flat, placed{f, off})
	}

	// Build a flat <file> list per path segment count; since none of our
	// fixtures nest more than one level, emit a simple tree by grouping on
	// the first path segment.
	type node struct {
		name     string
		dir      bool
		data     *placed
		children []*node
	}
	var roots []*node
	find := func(name string) *node {
		for _, r := range roots {
			if r.name == name {
				return r
			}
		}
		return nil
	}
	for i := range flat {
		p := &flat[i]
		segs := splitPath(p.path)
		if len(segs) == 1 {
			roots = append(roots, &node{name: segs[0], dir: p.dir, data: p})
			continue
		}
		parent := find(segs[0])
		if parent == nil {
			parent = &node{name: segs[0], dir: true}
			roots = append(roots, parent)
		}
		parent.children = append(parent.children, &node{name: segs[1], dir: p.dir, data: p})
	}

	var xmlBuf bytes.Buffer
	xmlBuf.WriteString(`<?xml version="1.0" encoding="UTF-8"?><xar><toc>`)
	var writeNode func(n *node)
	writeNode = func(n *node) {
		if n.dir {
			fmt.Fprintf(&xmlBuf, `<file><name>%s</name><type>directory</type>`, n.name)
			for _, c := range n.children {
				writeNode(c)
			}
			xmlBuf.WriteString(`</file>`)
			return
		}
		fmt.Fprintf(&xmlBuf, `<file><name>%s</name><type>file</type><data><offset>%d</offset><length>%d</length><size>%d</size><encoding style="application/octet-stream"/></data></file>`,
			n.name, n.data.offset, len(n.data.data), len(n.data.data))
	}
	for _, r := range roots {
		writeNode(r)
	}
	xmlBuf.WriteString(`</toc></xar>`)

	var compTOC bytes.Buffer
	zw := zlib.NewWriter(&compTOC)
	zw.Write(xmlBuf.Bytes())
	zw.Close()

	var out bytes.Buffer
	out.WriteString("xar!")
	var rest [24]byte
	binary.BigEndian.PutUint16(rest[0:2], headerSize)
	binary.BigEndian.PutUint16(rest[2:4], 1)
	binary.BigEndian.PutUint64(rest[4:12], uint64(compTOC.Len()))
	binary.BigEndian.PutUint64(rest[12:20], uint64(xmlBuf.Len()))
	binary.BigEndian.PutUint32(rest[20:24], uint32(ChecksumNone))
	out.Write(rest[:])
	out.Write(compTOC.Bytes())
	out.Write(heap.Bytes())

	return out.Bytes()
}

func splitPath(p string) []string {
	var out []string
	start := 0
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			out = append(out, p[start:i])
			start = i + 1
		}
	}
	out = append(out, p[start:])
	return out
}

func TestOpenComponentPkgPayloadRoundTrip(t *testing.T) {
	payload := []byte("component payload bytes")
	info := []byte("<pkg-info/>")
	raw := buildXAR(t, []heapFile{
		{path: "Payload", data: payload},
		{path: "PackageInfo", data: info},
	})

	a, err := Open(randsrc.FromBytes(raw))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	p := OpenPkg(a)
	if p.Kind() != PkgComponent {
		t.Fatalf("kind = %v, want PkgComponent", p.Kind())
	}
	if p.Components() != nil {
		t.Fatalf("Components() = %v, want nil for component pkg", p.Components())
	}

	got, err := p.Payload("")
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %q, want %q", got, payload)
	}

	var buf bytes.Buffer
	if err := p.PayloadTo("", &buf); err != nil {
		t.Fatalf("PayloadTo: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), payload) {
		t.Fatalf("PayloadTo bytes = %q, want %q", buf.Bytes(), payload)
	}

	gotInfo, err := p.PackageInfo("")
	if err != nil {
		t.Fatalf("PackageInfo: %v", err)
	}
	if !bytes.Equal(gotInfo, info) {
		t.Fatalf("PackageInfo = %q, want %q", gotInfo, info)
	}

	if _, err := p.Distribution(); err == nil {
		t.Fatal("expected error calling Distribution() on a component package")
	}
}

func TestOpenProductPkgComponents(t *testing.T) {
	dist := []byte("<installer-gui-script/>")
	payload := []byte("comp1 payload")
	info := []byte("comp1 info")
	raw := buildXAR(t, []heapFile{
		{path: "Distribution", data: dist},
		{path: "Component1", dir: true},
		{path: "Component1/Payload", data: payload},
		{path: "Component1/PackageInfo", data: info},
	})

	a, err := Open(randsrc.FromBytes(raw))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	p := OpenPkg(a)
	if p.Kind() != PkgProduct {
		t.Fatalf("kind = %v, want PkgProduct", p.Kind())
	}

	comps := p.Components()
	if len(comps) != 1 || comps[0] != "Component1" {
		t.Fatalf("Components() = %v, want [Component1]", comps)
	}

	gotDist, err := p.Distribution()
	if err != nil {
		t.Fatalf("Distribution: %v", err)
	}
	if !bytes.Equal(gotDist, dist) {
		t.Fatalf("distribution = %q, want %q", gotDist, dist)
	}

	gotPayload, err := p.Payload("Component1")
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("payload = %q, want %q", gotPayload, payload)
	}

	gotInfo, err := p.PackageInfo("Component1")
	if err != nil {
		t.Fatalf("PackageInfo: %v", err)
	}
	if !bytes.Equal(gotInfo, info) {
		t.Fatalf("package info = %q, want %q", gotInfo, info)
	}

	if _, err := p.Payload(""); err == nil {
		t.Fatal("expected error for empty component on product package")
	}
}

func TestArchiveLookupMiss(t *testing.T) {
	raw := buildXAR(t, []heapFile{{path: "Payload", data: []byte("x")}})
	a, err := Open(randsrc.FromBytes(raw))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := a.Lookup("DoesNotExist"); ok {
		t.Fatal("expected Lookup miss")
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	raw := []byte("nota-xar-header-of-28-bytes!")
	if _, err := Open(randsrc.FromBytes(raw)); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestOpenRejectsUnsupportedVersion(t *testing.T) {
	raw := buildXAR(t, []heapFile{{path: "Payload", data: []byte("x")}})
	binary.BigEndian.PutUint16(raw[6:8], 99)
	if _, err := Open(randsrc.FromBytes(raw)); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}
