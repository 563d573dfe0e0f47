// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package pbzxcpio

import (
	"bufio"
	"io"
	"io/fs"
	"strconv"

	"github.com/elliotnunn/dmgfs/dmgerr"
)

// Dialect names a CPIO header format (spec §3 "CPIO entry").
type Dialect int

const (
	DialectODC Dialect = iota
	DialectNewc
	DialectCRC
)

const trailerName = "TRAILER!!!"

// Entry is one decoded CPIO directory/header record.
type Entry struct {
	Name  string
	Mode  uint32
	Size  int64
	mtime int64
}

// FileMode decodes the POSIX mode field into an fs.FileMode, including file
// type bits (spec §4.5 "Mode field encodes both permissions and file
// type"), a supplement beyond the distilled spec's bare `kind` field.
func (e Entry) FileMode() fs.FileMode {
	m := fs.FileMode(e.Mode & 0o7777)
	switch e.Mode & 0o170000 {
	case 0o040000:
		m |= fs.ModeDir
	case 0o120000:
		m |= fs.ModeSymlink
	case 0o060000:
		m |= fs.ModeDevice
	case 0o020000:
		m |= fs.ModeDevice | fs.ModeCharDevice
	case 0o010000:
		m |= fs.ModeNamedPipe
	case 0o140000:
		m |= fs.ModeSocket
	}
	return m
}

// reader walks a CPIO entry stream, yielding header+body pairs.
type reader struct {
	br *bufio.Reader
}

func newReader(r io.Reader) *reader { return &reader{br: bufio.NewReader(r)} }

// Next reads the next entry's header and returns an io.Reader bounded to
// exactly its body length (already 4-byte aligned per dialect where
// applicable). Returns io.EOF after the TRAILER!!! entry.
func (c *reader) Next() (Entry, io.Reader, error) {
	magic := make([]byte, 6)
	if _, err := io.ReadFull(c.br, magic); err != nil {
		return Entry{}, nil, dmgerr.New(dmgerr.Cpio, "pbzxcpio.cpio", err)
	}

	switch string(magic) {
	case "070707":
		return c.readODC()
	case "070701":
		return c.readNewc(false)
	case "070702":
		return c.readNewc(true)
	default:
		return Entry{}, nil, dmgerr.New(dmgerr.Cpio, "pbzxcpio.cpio", nil)
	}
}

// readODC parses the classic odc dialect: 76-byte header, octal ASCII
// fields, no alignment padding anywhere (spec §4.5).
func (c *reader) readODC() (Entry, io.Reader, error) {
	const fieldsLen = 70 // 76-byte header minus the 6-byte magic already read
	buf := make([]byte, fieldsLen)
	if _, err := io.ReadFull(c.br, buf); err != nil {
		return Entry{}, nil, dmgerr.New(dmgerr.Cpio, "pbzxcpio.cpio", err)
	}

	mode, err := parseOctal(buf[12:18])
	if err != nil {
		return Entry{}, nil, err
	}
	nameLen, err := parseOctal(buf[53:59])
	if err != nil {
		return Entry{}, nil, err
	}
	size, err := parseOctal(buf[59:70])
	if err != nil {
		return Entry{}, nil, err
	}

	nameBuf := make([]byte, nameLen)
	if _, err := io.ReadFull(c.br, nameBuf); err != nil {
		return Entry{}, nil, dmgerr.New(dmgerr.Cpio, "pbzxcpio.cpio", err)
	}
	if nameLen == 0 || nameBuf[nameLen-1] != 0 {
		return Entry{}, nil, dmgerr.New(dmgerr.Cpio, "pbzxcpio.cpio", nil)
	}
	name := string(nameBuf[:nameLen-1])

	if name == trailerName {
		return Entry{Name: name}, io.LimitReader(c.br, 0), io.EOF
	}

	return Entry{Name: name, Mode: uint32(mode), Size: size}, io.LimitReader(c.br, size), nil
}

// readNewc parses the newc/crc dialects: 110-byte header, hex ASCII fields,
// 4-byte alignment of both the name and the body (spec §4.5). crcVariant
// only changes the magic; the trailing CRC field in the header is not
// verified (out of scope, spec §1 Non-goals: signature/content verification
// beyond UDIF/XAR checksums).
func (c *reader) readNewc(crcVariant bool) (Entry, io.Reader, error) {
	const fieldsLen = 104 // 110-byte header minus the 6-byte magic
	buf := make([]byte, fieldsLen)
	if _, err := io.ReadFull(c.br, buf); err != nil {
		return Entry{}, nil, dmgerr.New(dmgerr.Cpio, "pbzxcpio.cpio", err)
	}

	mode, err := parseHex(buf[8:16])
	if err != nil {
		return Entry{}, nil, err
	}
	size, err := parseHex(buf[48:56])
	if err != nil {
		return Entry{}, nil, err
	}
	nameLen, err := parseHex(buf[88:96])
	if err != nil {
		return Entry{}, nil, err
	}

	// 6-byte magic + 104-byte fields = 110 bytes consumed so far; name is
	// aligned so that header+name is a multiple of 4.
	headerLen := int64(110)
	nameBuf := make([]byte, nameLen)
	if _, err := io.ReadFull(c.br, nameBuf); err != nil {
		return Entry{}, nil, dmgerr.New(dmgerr.Cpio, "pbzxcpio.cpio", err)
	}
	if nameLen == 0 || nameBuf[nameLen-1] != 0 {
		return Entry{}, nil, dmgerr.New(dmgerr.Cpio, "pbzxcpio.cpio", nil)
	}
	name := string(nameBuf[:nameLen-1])

	if pad := align4(headerLen + int64(nameLen)); pad > 0 {
		if _, err := io.CopyN(io.Discard, c.br, pad); err != nil {
			return Entry{}, nil, dmgerr.New(dmgerr.Cpio, "pbzxcpio.cpio", err)
		}
	}

	if name == trailerName {
		return Entry{Name: name}, io.LimitReader(c.br, 0), io.EOF
	}

	bodyPad := align4(size)
	body := io.LimitReader(c.br, size)
	_ = crcVariant
	return Entry{Name: name, Mode: uint32(mode), Size: size}, &alignedBody{r: body, pad: bodyPad, br: c.br}, nil
}

// alignedBody wraps a file body reader so that the trailing 4-byte alignment
// padding is consumed from the underlying stream when a Read reaches the end
// of the body and returns io.EOF, as io.ReadAll and io.Copy do. A caller that
// stops after exactly the body length leaves the padding unread.
type alignedBody struct {
	r    io.Reader
	pad  int64
	br   *bufio.Reader
	done bool
}

func (a *alignedBody) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	if err == io.EOF && !a.done {
		a.done = true
		if a.pad > 0 {
			io.CopyN(io.Discard, a.br, a.pad)
		}
	}
	return n, err
}

func align4(n int64) int64 {
	if rem := n % 4; rem != 0 {
		return 4 - rem
	}
	return 0
}

func parseOctal(b []byte) (int64, error) {
	v, err := strconv.ParseInt(string(b), 8, 64)
	if err != nil {
		return 0, dmgerr.New(dmgerr.Cpio, "pbzxcpio.cpio", err)
	}
	return v, nil
}

func parseHex(b []byte) (int64, error) {
	v, err := strconv.ParseInt(string(b), 16, 64)
	if err != nil {
		return 0, dmgerr.New(dmgerr.Cpio, "pbzxcpio.cpio", err)
	}
	return v, nil
}
