// Copyright (c) Elliot Nunn
// Licensed under the MIT license

//go:build windows

package randsrc

import "os"

// unlinkOnOpen is a no-op on Windows, which cannot remove a file that is
// still open; SpoolToTemp's returned closer removes it after Close instead
// (spec §5: "on crash they remain and require manual cleanup").
func unlinkOnOpen(f *os.File, name string) {}
