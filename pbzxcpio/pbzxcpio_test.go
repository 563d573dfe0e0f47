// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package pbzxcpio

import (
	"bytes"
	"encoding/binary"
	"io"
	"io/fs"
	"testing"

	"github.com/elliotnunn/dmgfs/internal/randsrc"
)

func buildPBZXRaw(chunks [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("pbzx")
	var flags [8]byte
	buf.Write(flags[:])
	for _, c := range chunks {
		var lens [16]byte
		binary.BigEndian.PutUint64(lens[0:8], uint64(len(c)))
		binary.BigEndian.PutUint64(lens[8:16], uint64(len(c)))
		buf.Write(lens[:])
		buf.Write(c)
	}
	return buf.Bytes()
}

func TestDecompressRawChunksSerialAndParallelMatch(t *testing.T) {
	chunks := [][]byte{
		bytes.Repeat([]byte("A"), 100),
		bytes.Repeat([]byte("B"), 250),
		bytes.Repeat([]byte("C"), 17),
	}
	raw := buildPBZXRaw(chunks)
	src := randsrc.FromBytes(raw)

	serial, err := Decompress(src)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	parallel, err := DecompressParallel(src)
	if err != nil {
		t.Fatalf("DecompressParallel: %v", err)
	}
	if !bytes.Equal(serial, parallel) {
		t.Fatalf("serial and parallel output differ: %d vs %d bytes", len(serial), len(parallel))
	}

	want := bytes.Join(chunks, nil)
	if !bytes.Equal(serial, want) {
		t.Fatalf("decoded output mismatch: got %d bytes, want %d", len(serial), len(want))
	}
}

func TestScanFramesRejectsBadMagic(t *testing.T) {
	src := randsrc.FromBytes([]byte("nope12345678"))
	if _, err := scanFrames(src); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func buildODCEntry(name string, mode, size int64, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("070707")
	buf.WriteString(padOctal(0, 6))                   // dev
	buf.WriteString(padOctal(0, 6))                   // ino
	buf.WriteString(padOctal(mode, 6))                // mode
	buf.WriteString(padOctal(0, 6))                   // uid
	buf.WriteString(padOctal(0, 6))                   // gid
	buf.WriteString(padOctal(1, 6))                   // nlink
	buf.WriteString(padOctal(0, 6))                   // rdev
	buf.WriteString(padOctal(0, 11))                  // mtime
	buf.WriteString(padOctal(int64(len(name)+1), 6))  // namesize
	buf.WriteString(padOctal(size, 11))                // filesize
	buf.WriteString(name)
	buf.WriteByte(0)
	buf.Write(body)
	return buf.Bytes()
}

func padOctal(v int64, width int) string {
	s := []byte(toOctal(v))
	for len(s) < width {
		s = append([]byte("0"), s...)
	}
	return string(s[len(s)-width:])
}

func toOctal(v int64) string {
	if v == 0 {
		return "0"
	}
	var digits []byte
	for v > 0 {
		digits = append([]byte{byte('0' + v%8)}, digits...)
		v /= 8
	}
	return string(digits)
}

func buildODCTrailer() []byte {
	return buildODCEntry(trailerName, 0, 0, nil)
}

func TestCPIOOdcRoundTrip(t *testing.T) {
	body := []byte("hello world")
	var stream bytes.Buffer
	stream.Write(buildODCEntry("foo.txt", 0o100644, int64(len(body)), body))
	stream.Write(buildODCTrailer())

	r := newReader(bytes.NewReader(stream.Bytes()))

	e, rdr, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if e.Name != "foo.txt" {
		t.Fatalf("name = %q", e.Name)
	}
	if e.Mode != 0o100644 {
		t.Fatalf("mode = %o, want 0100644", e.Mode)
	}
	got, err := io.ReadAll(rdr)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("body = %q, want %q", got, body)
	}

	_, _, err = r.Next()
	if err != io.EOF {
		t.Fatalf("expected io.EOF at trailer, got %v", err)
	}
}

func padHex(v int64, width int) string {
	s := []byte(toHex(v))
	for len(s) < width {
		s = append([]byte("0"), s...)
	}
	return string(s[len(s)-width:])
}

func toHex(v int64) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	var out []byte
	for v > 0 {
		out = append([]byte{digits[v%16]}, out...)
		v /= 16
	}
	return string(out)
}

func buildNewcEntry(name string, mode, size int64, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("070701")
	buf.WriteString(padHex(1, 8))              // ino
	buf.WriteString(padHex(mode, 8))           // mode
	buf.WriteString(padHex(0, 8))              // uid
	buf.WriteString(padHex(0, 8))              // gid
	buf.WriteString(padHex(1, 8))              // nlink
	buf.WriteString(padHex(0, 8))              // mtime
	buf.WriteString(padHex(size, 8))           // filesize
	buf.WriteString(padHex(0, 8))              // devmajor
	buf.WriteString(padHex(0, 8))              // devminor
	buf.WriteString(padHex(0, 8))              // rdevmajor
	buf.WriteString(padHex(0, 8))              // rdevminor
	buf.WriteString(padHex(int64(len(name)+1), 8)) // namesize
	buf.WriteString(padHex(0, 8))              // check
	buf.WriteString(name)
	buf.WriteByte(0)
	for align4(int64(buf.Len())) > 0 {
		buf.WriteByte(0)
	}
	buf.Write(body)
	if pad := align4(int64(len(body))); pad > 0 {
		buf.Write(make([]byte, pad))
	}
	return buf.Bytes()
}

func TestCPIONewcRoundTrip(t *testing.T) {
	body := []byte("newc body data")
	var stream bytes.Buffer
	stream.Write(buildNewcEntry("bar.bin", 0o100755, int64(len(body)), body))
	stream.Write(buildNewcEntry(trailerName, 0, 0, nil))

	r := newReader(bytes.NewReader(stream.Bytes()))
	e, rdr, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if e.Name != "bar.bin" {
		t.Fatalf("name = %q", e.Name)
	}
	if e.Mode != 0o100755 {
		t.Fatalf("mode = %o, want 0100755", e.Mode)
	}
	got, err := io.ReadAll(rdr)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("body = %q, want %q", got, body)
	}

	_, _, err = r.Next()
	if err != io.EOF {
		t.Fatalf("expected io.EOF at trailer, got %v", err)
	}
}

func TestFileModeDecoding(t *testing.T) {
	e := Entry{Mode: 0o040755}
	if e.FileMode()&fs.ModeDir == 0 {
		t.Fatal("expected ModeDir bit set")
	}
	e = Entry{Mode: 0o120644}
	if e.FileMode()&fs.ModeSymlink == 0 {
		t.Fatal("expected ModeSymlink bit set")
	}
	e = Entry{Mode: 0o100644}
	if !e.FileMode().IsRegular() {
		t.Fatal("expected regular file")
	}
}
