// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package randsrc

import (
	"io"
	"os"

	"github.com/elliotnunn/dmgfs/dmgerr"
)

// SpoolToTemp streams r into a uniquely-named file in the platform temp
// directory and returns it as a Source, per spec §4.6's TempFile extraction
// mode and §5's resource policy ("temporary files ... created with unique
// paths in the platform temp directory and deleted on handle drop or on
// error"). The returned closer removes the file; platform-specific
// unlinkOnOpen additionally arranges for the file to vanish immediately on
// POSIX so a crash mid-extraction never leaves a lingering temp file for the
// lifetime of a longer-running process, only for the duration of the open
// file descriptor.
func SpoolToTemp(r io.Reader, pattern string) (src Source, closer func() error, err error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return nil, nil, dmgerr.New(dmgerr.Io, "randsrc.spool", err)
	}
	name := f.Name()
	unlinkOnOpen(f, name)

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, nil, dmgerr.New(dmgerr.Io, "randsrc.spool", err)
	}

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, nil, dmgerr.New(dmgerr.Io, "randsrc.spool", err)
	}

	return &fileSource{f: f, size: size}, func() error {
		err := f.Close()
		os.Remove(name) // no-op if unlinkOnOpen already removed it
		return err
	}, nil
}

// NewOSFile wraps an already-open *os.File of known size as a Source,
// for top-level callers (e.g. a CLI) opening the initial UDIF image from
// disk rather than from an already-extracted partition.
func NewOSFile(f *os.File, size int64) Source {
	return &fileSource{f: f, size: size}
}

type fileSource struct {
	f    *os.File
	size int64
}

func (s *fileSource) Size() int64 { return s.size }

func (s *fileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}
