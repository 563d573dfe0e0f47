// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package codec presents every external decompressor consumed by the dmgfs
// stack behind one small interface, per spec §9's "codec abstraction" design
// note: decode_all(src) -> []byte and decode_to(src, writer). UDIF block-run
// decompression, PBZX chunk decompression, and XAR heap decoding all go
// through a Decoder.
package codec

import (
	"bytes"
	"compress/bzip2"
	"compress/zlib"
	"hash/crc32"
	"io"

	"github.com/elliotnunn/dmgfs/dmgerr"
	"github.com/therootcompany/xz"
)

// Decoder is the complete contract for every codec this library treats as a
// black box (spec §9).
type Decoder interface {
	// DecodeAll decodes src completely and returns the result.
	DecodeAll(src []byte) ([]byte, error)
	// DecodeTo streams the decode of src into dst.
	DecodeTo(dst io.Writer, src io.Reader) error
}

type zlibCodec struct{}

// Zlib decodes UDIF Zlib block runs. xarpkg decodes its compressed TOC and
// x-gzip heap entries with compress/zlib directly, not through Zlib.
var Zlib Decoder = zlibCodec{}

func (zlibCodec) DecodeAll(src []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, dmgerr.New(dmgerr.Codec, "codec.zlib", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, dmgerr.New(dmgerr.Codec, "codec.zlib", err)
	}
	return out, nil
}

func (zlibCodec) DecodeTo(dst io.Writer, src io.Reader) error {
	r, err := zlib.NewReader(src)
	if err != nil {
		return dmgerr.New(dmgerr.Codec, "codec.zlib", err)
	}
	defer r.Close()
	if _, err := io.Copy(dst, r); err != nil {
		return dmgerr.New(dmgerr.Codec, "codec.zlib", err)
	}
	return nil
}

type bzip2Codec struct{}

// Bzip2 decodes UDIF Bzip2 block runs and XAR's x-bzip2 heap entries.
var Bzip2 Decoder = bzip2Codec{}

func (bzip2Codec) DecodeAll(src []byte) ([]byte, error) {
	out, err := io.ReadAll(bzip2.NewReader(bytes.NewReader(src)))
	if err != nil {
		return nil, dmgerr.New(dmgerr.Codec, "codec.bzip2", err)
	}
	return out, nil
}

func (bzip2Codec) DecodeTo(dst io.Writer, src io.Reader) error {
	if _, err := io.Copy(dst, bzip2.NewReader(src)); err != nil {
		return dmgerr.New(dmgerr.Codec, "codec.bzip2", err)
	}
	return nil
}

type xzCodec struct{}

// XZ decodes UDIF Xz block runs (including the 0x80000008 block kind, which
// spec §9's redesign flag identifies as XZ/LZMA2 rather than LZVN) and PBZX
// chunk payloads, via the same library the teacher uses for .xz members.
var XZ Decoder = xzCodec{}

func (xzCodec) DecodeAll(src []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(src), xz.DefaultDictMax)
	if err != nil {
		return nil, dmgerr.New(dmgerr.Codec, "codec.xz", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, dmgerr.New(dmgerr.Codec, "codec.xz", err)
	}
	return out, nil
}

func (xzCodec) DecodeTo(dst io.Writer, src io.Reader) error {
	r, err := xz.NewReader(src, xz.DefaultDictMax)
	if err != nil {
		return dmgerr.New(dmgerr.Codec, "codec.xz", err)
	}
	if _, err := io.Copy(dst, r); err != nil {
		return dmgerr.New(dmgerr.Codec, "codec.xz", err)
	}
	return nil
}

// unsupportedCodec reports UnsupportedCompression for any block kind that is
// explicitly out of scope (spec §1 Non-goals): ADC, and any LZFSE/LZVN
// decoder that was never injected via Options.LZFSE (see udif package).
type unsupportedCodec struct{ name string }

func Unsupported(name string) Decoder { return unsupportedCodec{name} }

func (u unsupportedCodec) DecodeAll(src []byte) ([]byte, error) {
	return nil, dmgerr.New(dmgerr.UnsupportedCompression, "codec."+u.name, nil)
}

func (u unsupportedCodec) DecodeTo(dst io.Writer, src io.Reader) error {
	return dmgerr.New(dmgerr.UnsupportedCompression, "codec."+u.name, nil)
}

// Fletcher64 computes the APFS object-header checksum (spec §3, §4.3). It
// operates on 32-bit little-endian words, per Apple's reference algorithm
// (modulus 2^32-1 Adler-style rolling sums); trailing bytes that do not fill
// a whole word are ignored.
func Fletcher64(data []byte) uint64 {
	const mod = 0xFFFFFFFF
	var sum1, sum2 uint64
	n := len(data) / 4
	for i := 0; i < n; i++ {
		word := uint64(data[i*4]) | uint64(data[i*4+1])<<8 | uint64(data[i*4+2])<<16 | uint64(data[i*4+3])<<24
		sum1 = (sum1 + word) % mod
		sum2 = (sum2 + sum1) % mod
	}
	ck1 := mod - (sum1+sum2)%mod
	ck2 := mod - (sum1+ck1)%mod
	return ck2<<32 | ck1
}

// CRC32 computes the IEEE CRC-32 used by UDIF mish/trailer checksums.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
