// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package pbzxcpio

import (
	"bytes"
	"io"

	"github.com/elliotnunn/dmgfs/dmgerr"
	"github.com/elliotnunn/dmgfs/internal/randsrc"
)

// chunkStream presents a PBZX container as a sequential io.Reader,
// decoding one chunk at a time into a rolling buffer rather than
// materializing the whole decompressed stream up front (spec §4.5
// "Seek-based listing": "decompress chunks one at a time into a bounded
// rolling buffer").
type chunkStream struct {
	src    randsrc.Source
	frames []chunkFrame
	next   int
	buf    []byte
}

func newChunkStream(src randsrc.Source) (*chunkStream, error) {
	frames, err := scanFrames(src)
	if err != nil {
		return nil, err
	}
	return &chunkStream{src: src, frames: frames}, nil
}

func (s *chunkStream) Read(p []byte) (int, error) {
	for len(s.buf) == 0 {
		if s.next >= len(s.frames) {
			return 0, io.EOF
		}
		chunk, err := decodeChunk(s.src, s.frames[s.next])
		s.next++
		if err != nil {
			return 0, err
		}
		s.buf = chunk
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Archive is an opened PBZX+CPIO payload (spec §3 "PBZX archive").
type Archive struct {
	src randsrc.Source
}

// Open wraps src as a PBZX archive. No framing is scanned until an
// operation is performed.
func Open(src randsrc.Source) *Archive { return &Archive{src: src} }

// List walks every CPIO header in the archive, decoding bodies only enough
// to skip past them (spec §4.5 "Seek-based listing").
func (a *Archive) List() ([]Entry, error) {
	cs, err := newChunkStream(a.src)
	if err != nil {
		return nil, err
	}
	r := newReader(cs)

	var out []Entry
	for {
		e, body, err := r.Next()
		if err == io.EOF {
			if e.Name == trailerName {
				out = append(out, e)
			}
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(io.Discard, body); err != nil {
			return nil, dmgerr.New(dmgerr.Cpio, "pbzxcpio.list", err)
		}
		out = append(out, e)
	}
}

// ExtractFile decompresses the archive and returns the body of the first
// entry matching name.
func (a *Archive) ExtractFile(name string) ([]byte, error) {
	cs, err := newChunkStream(a.src)
	if err != nil {
		return nil, err
	}
	r := newReader(cs)

	for {
		e, body, err := r.Next()
		if err == io.EOF {
			return nil, dmgerr.New(dmgerr.PathNotFound, "pbzxcpio.extract", nil)
		}
		if err != nil {
			return nil, err
		}
		if e.Name != name {
			io.Copy(io.Discard, body)
			continue
		}
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, dmgerr.New(dmgerr.Cpio, "pbzxcpio.extract", err)
		}
		return data, nil
	}
}

// ExtractedEntry pairs a decoded CPIO header with its fully read body,
// yielded by ExtractAll.
type ExtractedEntry struct {
	Entry
	Data []byte
}

// ExtractAll decompresses the archive and returns every regular-file entry
// with its body, stopping at the TRAILER!!! sentinel.
func (a *Archive) ExtractAll() ([]ExtractedEntry, error) {
	cs, err := newChunkStream(a.src)
	if err != nil {
		return nil, err
	}
	r := newReader(cs)

	var out []ExtractedEntry
	for {
		e, body, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, dmgerr.New(dmgerr.Cpio, "pbzxcpio.extractall", err)
		}
		if e.FileMode().IsRegular() {
			out = append(out, ExtractedEntry{Entry: e, Data: bytes.Clone(data)})
		}
	}
}

// DecompressParallel decodes the PBZX framing with the two-pass parallel
// strategy and returns the resulting CPIO byte stream (spec §4.5
// "Parallel mode").
func (a *Archive) DecompressParallel() ([]byte, error) {
	return DecompressParallel(a.src)
}

// DecompressSerial decodes the PBZX framing sequentially and returns the
// resulting CPIO byte stream.
func (a *Archive) DecompressSerial() ([]byte, error) {
	return Decompress(a.src)
}
