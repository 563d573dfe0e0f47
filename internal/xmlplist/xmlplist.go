// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package xmlplist decodes the Apple property list embedded in a UDIF
// trailer (spec §4.1). Grounded on the other_examples dmg_analyzer.go
// reference, which uses the same howett.net/plist library to unmarshal a
// DMG's resource-fork/blkx structure.
package xmlplist

import (
	"github.com/elliotnunn/dmgfs/dmgerr"
	"howett.net/plist"
)

// ResourceFork is the required substructure of spec §4.1: resource-fork ->
// blkx -> array of dict, each with Name/ID/Attributes/Data.
type ResourceFork struct {
	Blkx []BlkxElement `plist:"blkx"`
}

type BlkxElement struct {
	ID         string `plist:"ID"`
	Name       string `plist:"Name"`
	Attributes string `plist:"Attributes"` // hex string
	CFName     string `plist:"CFName,omitempty"`
	Data       []byte `plist:"Data"` // mish blob
}

type root struct {
	ResourceFork ResourceFork `plist:"resource-fork"`
}

// ParseBlkx parses the bytes at [plist_offset, plist_offset+plist_length)
// into the blkx table spec §4.1 requires.
func ParseBlkx(data []byte) ([]BlkxElement, error) {
	var r root
	if _, err := plist.Unmarshal(data, &r); err != nil {
		return nil, dmgerr.New(dmgerr.MalformedXml, "udif.plist", err)
	}
	if len(r.ResourceFork.Blkx) == 0 {
		return nil, dmgerr.New(dmgerr.MalformedXml, "udif.plist", nil)
	}
	return r.ResourceFork.Blkx, nil
}
