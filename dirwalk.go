package fatfs

import (
	"fmt"

	"github.com/aligator/fatfs/checkpoint"
)

// dirCursor walks the 32 byte slots of one directory.
// The FAT16 root directory is a fixed run of sectors, every other directory
// (including the FAT32 root) is a cluster chain. The cursor hides that difference.
//
// Each cursor owns its sector buffer and its long filename state, so
// several cursors can be used at the same time.
type dirCursor struct {
	fs *Fs

	fixed   bool
	start   uint32
	cluster uint32
	index   uint32
	offset  uint32

	buffer [SectorSize]byte
	loaded bool

	lfn lfnAccumulator
}

// openDir positions a new cursor at the first slot of the directory starting
// at cluster. Cluster 0 is the root directory.
func (fs *Fs) openDir(cluster uint32) *dirCursor {
	c := &dirCursor{fs: fs}

	if cluster == 0 {
		if fs.geo.fatType == FAT16 {
			c.fixed = true
			return c
		}
		cluster = fs.geo.rootCluster
	}

	c.start = cluster
	c.cluster = cluster
	return c
}

// sector returns the absolute sector of the current slot.
func (c *dirCursor) sector() uint32 {
	if c.fixed {
		return c.fs.geo.rootDirLoc + c.index
	}
	return c.fs.geo.clusterSector(c.cluster) + c.index
}

// seek moves the cursor to the slot at the absolute sector and offset.
// The location has to belong to this directory.
func (c *dirCursor) seek(sector, offset uint32) error {
	geo := &c.fs.geo
	if offset%slotSize != 0 || offset >= SectorSize {
		return checkpoint.Wrap(fmt.Errorf("slot offset %d", offset), ErrCorrupt)
	}

	if c.fixed {
		if sector < geo.rootDirLoc || sector >= geo.rootDirLoc+geo.rootDirSectors {
			return checkpoint.Wrap(fmt.Errorf("sector %d is not in the root directory", sector), ErrCorrupt)
		}
		c.index = sector - geo.rootDirLoc
	} else {
		if sector < geo.dataLoc {
			return checkpoint.Wrap(fmt.Errorf("sector %d is not in the data region", sector), ErrCorrupt)
		}
		c.cluster = geo.sectorCluster(sector)
		c.index = (sector - geo.dataLoc) % geo.sectorsPerCluster
	}

	c.offset = offset
	c.loaded = false
	c.lfn.reset()
	return nil
}

// slot returns the raw 32 bytes at the cursor. The slice stays valid until the cursor moves.
func (c *dirCursor) slot() ([]byte, error) {
	if !c.loaded {
		if err := c.fs.dev.ReadSectors(c.sector(), c.buffer[:]); err != nil {
			return nil, checkpoint.Wrap(err, ErrIO)
		}
		c.loaded = true
	}
	return c.buffer[c.offset : c.offset+slotSize], nil
}

// write replaces the slot at the cursor. Only these 32 bytes of the sector change.
func (c *dirCursor) write(raw []byte) error {
	if _, err := c.slot(); err != nil {
		return err
	}

	copy(c.buffer[c.offset:c.offset+slotSize], raw)
	if err := c.fs.dev.WriteSectors(c.sector(), c.buffer[:]); err != nil {
		c.loaded = false
		return checkpoint.Wrap(err, ErrIO)
	}
	return nil
}

// next advances to the following slot. It returns false without moving
// if the cursor is at the last slot of the directory storage.
func (c *dirCursor) next() (bool, error) {
	if c.offset+slotSize < SectorSize {
		c.offset += slotSize
		return true, nil
	}

	if c.fixed {
		if c.index+1 >= c.fs.geo.rootDirSectors {
			return false, nil
		}
		c.index++
		c.offset = 0
		c.loaded = false
		return true, nil
	}

	if c.index+1 < c.fs.geo.sectorsPerCluster {
		c.index++
		c.offset = 0
		c.loaded = false
		return true, nil
	}

	next, end, err := c.fs.nextCluster(c.cluster)
	if err != nil {
		return false, err
	}
	if end {
		return false, nil
	}

	c.cluster = next
	c.index = 0
	c.offset = 0
	c.loaded = false
	return true, nil
}

// prev moves back to the preceding slot. It returns false without moving
// at the first slot of the directory. Crossing a cluster boundary walks the chain
// from the start to find the predecessor.
func (c *dirCursor) prev() (bool, error) {
	if c.offset >= slotSize {
		c.offset -= slotSize
		return true, nil
	}

	if c.index > 0 {
		c.index--
		c.offset = SectorSize - slotSize
		c.loaded = false
		return true, nil
	}

	if c.fixed || c.cluster == c.start {
		return false, nil
	}

	var predecessor uint32
	err := c.fs.walkChain(c.start, func(cluster uint32) bool {
		if cluster == c.cluster {
			return false
		}
		predecessor = cluster
		return true
	})
	if err != nil {
		return false, err
	}
	if predecessor == 0 {
		return false, checkpoint.Wrap(fmt.Errorf("cluster %d is not part of the directory at %d", c.cluster, c.start), ErrCorrupt)
	}

	c.cluster = predecessor
	c.index = c.fs.geo.sectorsPerCluster - 1
	c.offset = SectorSize - slotSize
	c.loaded = false
	return true, nil
}

// grow appends a zeroed cluster to the directory. The FAT16 root cannot grow.
func (c *dirCursor) grow() error {
	if c.fixed {
		return checkpoint.Wrap(fmt.Errorf("the root directory is full"), ErrNoSpace)
	}

	last, err := c.fs.chainEnd(c.cluster)
	if err != nil {
		return err
	}
	_, err = c.fs.allocateZeroed(last)
	return err
}

// scan parses slots starting at the cursor and calls fn for every live entry.
// Deleted slots, volume labels and the dot entries are skipped.
// The scan ends at the first never used slot, at the end of the directory
// storage or if fn returns false. In the last case the cursor stays at the
// short slot of the entry passed to fn.
func (c *dirCursor) scan(fn func(e *Entry) bool) error {
	for {
		raw, err := c.slot()
		if err != nil {
			return err
		}

		switch {
		case raw[0] == slotFree:
			return nil
		case raw[0] == slotDeleted:
			c.lfn.reset()
		case Attr(raw[11]).isLongName():
			var l lfnSlot
			decodeSlot(raw, &l)
			c.lfn.add(&l)
		default:
			var s shortSlot
			decodeSlot(raw, &s)
			longName, mismatch := c.lfn.finish(s.Name)
			if mismatch {
				c.fs.log.WithField("sector", c.sector()).WithField("offset", c.offset).
					Warn("long filename checksum mismatch, using the short name")
			}

			if s.Attribute.isVolumeID() || isDotName(s.Name) {
				break
			}

			if !fn(c.fs.entryFromSlot(&s, longName, c.sector(), c.offset)) {
				return nil
			}
		}

		ok, err := c.next()
		if err != nil || !ok {
			return err
		}
	}
}

func isDotName(name [11]byte) bool {
	return name == dotName || name == dotDotName
}
