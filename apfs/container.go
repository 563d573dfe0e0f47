// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package apfs

import (
	"github.com/elliotnunn/dmgfs/dmgerr"
	"github.com/elliotnunn/dmgfs/internal/randsrc"
)

// container is an opened APFS container: the live checkpoint superblock plus
// its object map, letting virtual OIDs anywhere under it resolve to blocks.
type container struct {
	src randsrc.Source
	sb  superblock
	omap *objectMap
}

func openContainer(src randsrc.Source) (*container, error) {
	sb, err := scanContainer(src)
	if err != nil {
		return nil, err
	}
	c := &container{src: src, sb: sb}
	om, err := openObjectMap(c, sb.blockSize, sb.omapOID)
	if err != nil {
		return nil, err
	}
	c.omap = om
	return c, nil
}

func (c *container) readBlock(num uint64) ([]byte, error) {
	return readBlock(c.src, c.sb.blockSize, num)
}

// resolveVirtual resolves a virtual OID as of the container's live xid,
// returning the physical block holding it.
func (c *container) resolveVirtual(oid uint64) (uint64, error) {
	return c.omap.Resolve(oid, c.sb.xid)
}

// firstVolume scans nx_fs_oid[] for the first non-zero slot that resolves to
// a valid APSB volume superblock (spec §4.3 "Volume selection").
func (c *container) firstVolume() (volSuperblock, error) {
	for _, oid := range c.sb.fsOID {
		if oid == 0 {
			continue
		}
		phys, err := c.resolveVirtual(oid)
		if err != nil {
			continue
		}
		block, err := c.readBlock(phys)
		if err != nil {
			continue
		}
		vsb, err := parseVolSuperblock(block)
		if err != nil {
			continue
		}
		return vsb, nil
	}
	return volSuperblock{}, dmgerr.New(dmgerr.NoApfsPartition, "apfs.volume", nil)
}
