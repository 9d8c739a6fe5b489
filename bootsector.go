package fatfs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/aligator/fatfs/checkpoint"
)

// These errors may occur while reading the boot sector.
var (
	ErrReadBootSector = errors.New("could not read the boot sector")
	ErrInvalidVolume  = errors.New("the boot sector does not describe a valid FAT volume")
)

// geometry is everything derived from the boot sector which is needed to
// locate structures on the device.
type geometry struct {
	fatType   FATType
	entrySize uint32

	fatStart uint32
	fatSize  uint32
	fatCount uint32

	rootDirSectors uint32
	rootDirLoc     uint32
	rootCluster    uint32

	dataLoc       uint32
	dataSectors   uint32
	totalSectors  uint32
	totalClusters uint32

	sectorsPerCluster uint32
	bytesPerCluster   uint32
}

// clusterSector returns the first sector of a data cluster.
func (g *geometry) clusterSector(cluster uint32) uint32 {
	return g.dataLoc + (cluster-2)*g.sectorsPerCluster
}

// sectorCluster is the inverse of clusterSector for any sector inside the data region.
func (g *geometry) sectorCluster(sector uint32) uint32 {
	return (sector-g.dataLoc)/g.sectorsPerCluster + 2
}

// maxCluster is the highest valid cluster number.
func (g *geometry) maxCluster() uint32 {
	return g.totalClusters + 1
}

func (g *geometry) validCluster(cluster uint32) bool {
	return cluster >= 2 && cluster <= g.maxCluster()
}

// readBootSector reads and decodes sector 0.
func readBootSector(dev BlockDevice) (BootSector, error) {
	raw := make([]byte, SectorSize)
	if err := dev.ReadSectors(0, raw); err != nil {
		return BootSector{}, checkpoint.Wrap(checkpoint.Wrap(err, ErrIO), ErrReadBootSector)
	}

	var boot BootSector
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &boot); err != nil {
		return BootSector{}, checkpoint.Wrap(err, ErrReadBootSector)
	}
	return boot, nil
}

// validate checks that the fields are sane enough to derive a geometry from them.
func (b *BootSector) validate() error {
	invalid := func(format string, args ...interface{}) error {
		return checkpoint.Wrap(fmt.Errorf(format, args...), ErrInvalidVolume)
	}

	if !(b.BSJumpBoot[0] == 0xEB && b.BSJumpBoot[2] == 0x90) && b.BSJumpBoot[0] != 0xE9 {
		return invalid("no valid jump instructions at the beginning")
	}

	if b.Media != 0xF0 && b.Media < 0xF8 {
		return invalid("invalid media value 0x%02X", b.Media)
	}

	if b.fatType() == FAT32 && b.RootEntryCount != 0 {
		return invalid("FAT32 volume with %d fixed root entries", b.RootEntryCount)
	}

	return nil
}

// checkGeometry holds the checks which are needed even if validation is skipped,
// because the geometry is not computable otherwise.
func (b *BootSector) checkGeometry() error {
	invalid := func(format string, args ...interface{}) error {
		return checkpoint.Wrap(fmt.Errorf(format, args...), ErrInvalidVolume)
	}

	if b.BytesPerSector != SectorSize {
		return checkpoint.Wrap(invalid("sector size %d", b.BytesPerSector), ErrUnsupported)
	}

	// Sectors per cluster has to be a power of two and greater than 0.
	if b.SectorsPerCluster == 0 || b.SectorsPerCluster&(b.SectorsPerCluster-1) != 0 {
		return invalid("invalid sectors per cluster %d", b.SectorsPerCluster)
	}

	if b.ReservedSectorCount == 0 {
		return invalid("invalid reserved sector count")
	}

	if b.NumFATs == 0 {
		return invalid("no FAT")
	}

	if b.totalSectors() == 0 {
		return invalid("no total sector count")
	}

	if b.fatType() == FAT32 && b.fat32().FATSize32 == 0 {
		return invalid("no FAT size")
	}

	if b.fatType() == FAT16 {
		ext := b.fat16()
		if strings.HasPrefix(string(ext.BSFileSystemType[:]), "FAT12") {
			return checkpoint.Wrap(invalid("FAT12"), ErrUnsupported)
		}
	}

	return nil
}

// geometry derives the layout of the volume.
func (b *BootSector) geometry() (geometry, error) {
	g := geometry{
		fatType:           b.fatType(),
		entrySize:         2,
		fatStart:          uint32(b.ReservedSectorCount),
		fatSize:           uint32(b.FATSize16),
		fatCount:          uint32(b.NumFATs),
		totalSectors:      b.totalSectors(),
		sectorsPerCluster: uint32(b.SectorsPerCluster),
	}

	if g.fatType == FAT32 {
		ext := b.fat32()
		g.entrySize = 4
		g.fatSize = ext.FATSize32
		g.rootCluster = ext.RootCluster
	}

	g.bytesPerCluster = g.sectorsPerCluster * SectorSize
	g.rootDirSectors = (uint32(b.RootEntryCount)*slotSize + SectorSize - 1) / SectorSize
	g.rootDirLoc = g.fatStart + g.fatCount*g.fatSize
	g.dataLoc = g.rootDirLoc + g.rootDirSectors

	if g.dataLoc >= g.totalSectors {
		return geometry{}, checkpoint.Wrap(fmt.Errorf("data region starts at %d of %d sectors", g.dataLoc, g.totalSectors), ErrInvalidVolume)
	}

	g.dataSectors = g.totalSectors - g.dataLoc
	g.totalClusters = g.dataSectors / g.sectorsPerCluster

	// The FAT must be able to address every cluster.
	if entries := g.fatSize * SectorSize / g.entrySize; entries < g.totalClusters+2 {
		g.totalClusters = entries - 2
	}

	if g.fatType == FAT32 && !g.validCluster(g.rootCluster) {
		return geometry{}, checkpoint.Wrap(fmt.Errorf("root cluster %d", g.rootCluster), ErrInvalidVolume)
	}

	return g, nil
}

// label returns the boot sector volume label without padding.
func (b *BootSector) label() string {
	var raw [11]byte
	if b.fatType() == FAT32 {
		raw = b.fat32().BSVolumeLabel
	} else {
		raw = b.fat16().BSVolumeLabel
	}
	return strings.TrimRight(string(raw[:]), " \x00")
}
