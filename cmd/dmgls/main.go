// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Command dmgls is a tiny example consumer of the dmgfs library: given a
// UDIF image, it lists partitions, or, given a partition ID too, opens that
// partition's filesystem and lists its root directory. It is not the
// externally-specified CLI of the orchestrator's consumer interfaces, just
// a demonstration of them.
package main

import (
	"fmt"
	"os"

	"github.com/elliotnunn/dmgfs"
	"github.com/elliotnunn/dmgfs/internal/randsrc"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: dmgls <image.dmg> [partition-id]")
		os.Exit(2)
	}

	f, err := os.Open(os.Args[1])
	if err != nil {
		fatal(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		fatal(err)
	}

	pipe, err := dmgfs.Open(randsrc.NewOSFile(f, info.Size()))
	if err != nil {
		fatal(err)
	}

	if len(os.Args) < 3 {
		for _, p := range pipe.Partitions() {
			fmt.Printf("%-8s %-24s %10d sectors\n", p.ID, p.FriendlyName, p.SectorCount)
		}
		return
	}

	fsys, err := pipe.OpenFilesystem(os.Args[2])
	if err != nil {
		fatal(err)
	}
	defer fsys.Close()

	entries, err := fsys.List("/")
	if err != nil {
		fatal(err)
	}
	for _, e := range entries {
		kind := "-"
		if e.IsDir {
			kind = "d"
		}
		fmt.Printf("%s %s\n", kind, e.Name)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "dmgls:", err)
	os.Exit(1)
}
