// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package pbzxcpio

import (
	"github.com/elliotnunn/dmgfs/internal/randsrc"
	"golang.org/x/sync/errgroup"
)

// DecompressParallel implements the two-pass strategy of spec §4.5
// "Parallel mode": frame the chunks first, allocate the final buffer from
// their summed out_len, then decode each chunk into its preallocated slot
// concurrently. Produces output byte-identical to the serial path.
func DecompressParallel(src randsrc.Source) ([]byte, error) {
	frames, err := scanFrames(src)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, f := range frames {
		total += f.outLen
	}
	out := make([]byte, total)

	var g errgroup.Group
	for _, f := range frames {
		f := f
		g.Go(func() error {
			chunk, err := decodeChunk(src, f)
			if err != nil {
				return err
			}
			copy(out[f.outOffset:f.outOffset+f.outLen], chunk)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
