// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package dmgfs

import (
	"log/slog"

	"github.com/elliotnunn/dmgfs/codec"
	"github.com/elliotnunn/dmgfs/internal/blockcache"
)

// ExtractMode selects how a partition's decompressed bytes are materialized
// before being handed to the next layer (spec §4.6 "Partition extraction
// mode").
type ExtractMode int

const (
	// TempFile streams decompressed output into an anonymous temporary
	// file and opens it as a random-access source. The default.
	TempFile ExtractMode = iota
	// InMemory decompresses into an owned byte buffer.
	InMemory
)

// Options are the process-wide/per-call knobs of spec §6.
type Options struct {
	ExtractMode      ExtractMode
	VerifyChecksums  bool
	ParallelXZ       bool
	Logger           *slog.Logger
	Cache            *blockcache.Cache
	LZFSE            codec.Decoder
}

// Option configures Options. Matches the teacher's explicit-parameter style
// (fsys.CreateReaderAtFile(..., opts)) rather than a config file.
type Option func(*Options)

// WithExtractMode overrides the partition-extraction policy for the call it
// decorates.
func WithExtractMode(m ExtractMode) Option {
	return func(o *Options) { o.ExtractMode = m }
}

// WithVerifyChecksums enables UDIF trailer/mish CRC-32 enforcement (spec §7).
func WithVerifyChecksums(v bool) Option {
	return func(o *Options) { o.VerifyChecksums = v }
}

// WithParallelXZ sets Options.ParallelXZ. No operation in this package reads
// the flag; PBZX chunks are decoded in parallel only through pbzxcpio's
// DecompressParallel.
func WithParallelXZ(v bool) Option {
	return func(o *Options) { o.ParallelXZ = v }
}

// WithLogger records diagnostic events through log/slog; Open logs one
// event carrying the image's partition count. The parser packages
// themselves stay silent and return errors, matching the teacher's
// convention of logging only from main.go.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithLZFSE injects a real LZFSE decoder; without it, Lzfse block runs
// report UnsupportedCompression (spec §1, §6: real LZFSE/LZVN decoding is an
// external collaborator).
func WithLZFSE(d codec.Decoder) Option {
	return func(o *Options) { o.LZFSE = d }
}

// WithCache attaches an already-opened block cache (memory-only or
// disk-backed) so repeated extractions against the same opened image reuse
// decompressed block-run output instead of re-invoking the codec.
func WithCache(c *blockcache.Cache) Option {
	return func(o *Options) { o.Cache = c }
}

// WithDiskCache opens a disk-backed block cache rooted at dir and attaches
// it, for callers who want Pebble-backed persistence across calls without
// managing the Cache lifetime themselves.
func WithDiskCache(dir string) (Option, error) {
	c, err := blockcache.OpenWithDisk(dir)
	if err != nil {
		return nil, err
	}
	return WithCache(c), nil
}

func applyOptions(base Options, opts []Option) Options {
	for _, o := range opts {
		o(&base)
	}
	return base
}

func (o Options) logf(msg string, args ...any) {
	if o.Logger != nil {
		o.Logger.Info(msg, args...)
	}
}
