package fatfs

import (
	"encoding/binary"
	"fmt"

	"github.com/aligator/fatfs/checkpoint"
)

const (
	fat16EOC = 0xFFF8
	fat32EOC = 0x0FFFFFF8

	fat16Marker = 0xFFFF
	fat32Marker = 0x0FFFFFFF

	fat32Mask = 0x0FFFFFFF

	noSector = ^uint32(0)
)

// fatTable reads and writes single entries of the File Allocation Table.
// It keeps the last accessed FAT sector in a buffer, because chain walks
// access neighbouring entries most of the time.
type fatTable struct {
	dev BlockDevice
	geo *geometry

	buffer [SectorSize]byte
	// cached is the FAT relative sector in buffer or noSector.
	cached uint32
}

func newFATTable(dev BlockDevice, geo *geometry) *fatTable {
	return &fatTable{
		dev:    dev,
		geo:    geo,
		cached: noSector,
	}
}

// locate returns the FAT relative sector and the offset inside it for a cluster.
func (t *fatTable) locate(cluster uint32) (uint32, uint32) {
	byteIndex := cluster * t.geo.entrySize
	return byteIndex / SectorSize, byteIndex % SectorSize
}

// load makes sure the given FAT relative sector is in the buffer.
func (t *fatTable) load(sector uint32) error {
	if sector == t.cached {
		return nil
	}
	if sector >= t.geo.fatSize {
		return checkpoint.Wrap(fmt.Errorf("FAT sector %d of %d", sector, t.geo.fatSize), ErrCorrupt)
	}

	if err := t.dev.ReadSectors(t.geo.fatStart+sector, t.buffer[:]); err != nil {
		t.cached = noSector
		return checkpoint.Wrap(err, ErrIO)
	}
	t.cached = sector
	return nil
}

// entry reads the FAT entry of a cluster. FAT32 entries are masked to 28 bits.
func (t *fatTable) entry(cluster uint32) (uint32, error) {
	sector, offset := t.locate(cluster)
	if err := t.load(sector); err != nil {
		return 0, err
	}

	if t.geo.fatType == FAT32 {
		return binary.LittleEndian.Uint32(t.buffer[offset:]) & fat32Mask, nil
	}
	return uint32(binary.LittleEndian.Uint16(t.buffer[offset:])), nil
}

// setEntry writes the FAT entry of a cluster and flushes the sector to all FAT copies.
// The upper 4 bits of FAT32 entries are preserved.
func (t *fatTable) setEntry(cluster, value uint32) error {
	sector, offset := t.locate(cluster)
	if err := t.load(sector); err != nil {
		return err
	}

	if t.geo.fatType == FAT32 {
		old := binary.LittleEndian.Uint32(t.buffer[offset:])
		binary.LittleEndian.PutUint32(t.buffer[offset:], old&^fat32Mask|value&fat32Mask)
	} else {
		binary.LittleEndian.PutUint16(t.buffer[offset:], uint16(value))
	}

	for copyIndex := uint32(0); copyIndex < t.geo.fatCount; copyIndex++ {
		if err := t.dev.WriteSectors(t.geo.fatStart+copyIndex*t.geo.fatSize+sector, t.buffer[:]); err != nil {
			// The buffer no longer matches the device.
			t.cached = noSector
			return checkpoint.Wrap(err, ErrIO)
		}
	}
	return nil
}

// isEOC reports whether value terminates a chain.
func (t *fatTable) isEOC(value uint32) bool {
	if t.geo.fatType == FAT32 {
		return value >= fat32EOC
	}
	return value >= fat16EOC
}

// eocMarker is the value written to terminate a chain.
func (t *fatTable) eocMarker() uint32 {
	if t.geo.fatType == FAT32 {
		return fat32Marker
	}
	return fat16Marker
}
