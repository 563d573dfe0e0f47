// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package xarpkg

import (
	"bytes"
	"compress/zlib"
	"encoding/xml"
	"io"
	"strings"

	"github.com/elliotnunn/dmgfs/dmgerr"
)

// xmlTOC mirrors the XAR TOC's XML shape (spec §4.4 "TOC model").
type xmlTOC struct {
	XMLName  xml.Name       `xml:"xar"`
	Checksum *xmlTOCChecksum `xml:"toc>checksum"`
	Files    []*xmlFile     `xml:"toc>file"`
}

type xmlTOCChecksum struct {
	Style  string `xml:"style,attr"`
	Offset int64  `xml:"offset"`
	Size   int64  `xml:"size"`
}

type xmlFile struct {
	Name  string      `xml:"name"`
	Type  string      `xml:"type"`
	Data  *xmlFileData `xml:"data"`
	Files []*xmlFile  `xml:"file"`
}

type xmlFileData struct {
	Offset   int64  `xml:"offset"`
	Length   int64  `xml:"length"`
	Size     int64  `xml:"size"`
	Encoding struct {
		Style string `xml:"style,attr"`
	} `xml:"encoding"`
}

// EntryKind classifies a TOC entry (spec §3 "XAR file entry").
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDirectory
	KindSymlink
)

// DataEncoding names how a file entry's heap bytes are encoded.
type DataEncoding int

const (
	EncodingOctetStream DataEncoding = iota
	EncodingGzip
	EncodingBzip2
)

// DataInfo is the heap location and encoding of a file entry's content.
type DataInfo struct {
	Offset   int64
	Length   int64
	Size     int64
	Encoding DataEncoding
}

// Entry is one path-resolved node of the TOC tree.
type Entry struct {
	ID       int
	Name     string
	Path     string
	Kind     EntryKind
	Data     *DataInfo
	Children []*Entry
}

func parseEncoding(style string) DataEncoding {
	switch {
	case strings.Contains(style, "gzip"):
		return EncodingGzip
	case strings.Contains(style, "bzip2"):
		return EncodingBzip2
	default:
		return EncodingOctetStream
	}
}

func parseKind(t string) EntryKind {
	switch t {
	case "directory":
		return KindDirectory
	case "symlink":
		return KindSymlink
	default:
		return KindFile
	}
}

func decompressTOC(src []byte, wantLen uint64) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, dmgerr.New(dmgerr.Codec, "xarpkg.toc", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, dmgerr.New(dmgerr.Codec, "xarpkg.toc", err)
	}
	if uint64(len(out)) != wantLen {
		return nil, dmgerr.New(dmgerr.Truncated, "xarpkg.toc", nil)
	}
	return out, nil
}

// buildTree walks the parsed XML into Entry nodes, assigning sequential IDs
// in document order and computing each entry's slash-joined path (spec
// §4.4 "Preserve insertion order").
func buildTree(xf []*xmlFile, parentPath string, nextID *int) []*Entry {
	out := make([]*Entry, 0, len(xf))
	for _, f := range xf {
		e := &Entry{
			ID:   *nextID,
			Name: f.Name,
			Kind: parseKind(f.Type),
		}
		*nextID++
		if parentPath == "" {
			e.Path = f.Name
		} else {
			e.Path = parentPath + "/" + f.Name
		}
		if f.Data != nil {
			e.Data = &DataInfo{
				Offset:   f.Data.Offset,
				Length:   f.Data.Length,
				Size:     f.Data.Size,
				Encoding: parseEncoding(f.Data.Encoding.Style),
			}
		}
		e.Children = buildTree(f.Files, e.Path, nextID)
		out = append(out, e)
	}
	return out
}

func flatten(entries []*Entry, into map[string]*Entry) {
	for _, e := range entries {
		into[e.Path] = e
		flatten(e.Children, into)
	}
}

func parseTOC(xmlBytes []byte) ([]*Entry, map[string]*Entry, *xmlTOCChecksum, error) {
	var doc xmlTOC
	if err := xml.Unmarshal(xmlBytes, &doc); err != nil {
		return nil, nil, nil, dmgerr.New(dmgerr.MalformedXml, "xarpkg.toc", err)
	}
	nextID := 0
	roots := buildTree(doc.Files, "", &nextID)
	index := make(map[string]*Entry, nextID)
	flatten(roots, index)
	return roots, index, doc.Checksum, nil
}
