// Copyright (c) Elliot Nunn
// Licensed under the MIT license

//go:build !windows

package randsrc

import (
	"os"

	"golang.org/x/sys/unix"
)

// unlinkOnOpen removes the directory entry immediately, the same
// golang.org/x/sys platform-syscall layer the teacher's internal/fileid uses
// for filesystem metadata access: the open file descriptor keeps the data
// alive (spec §5) while no path remains on disk for a crash to leak.
func unlinkOnOpen(f *os.File, name string) {
	_ = unix.Unlink(name)
}
