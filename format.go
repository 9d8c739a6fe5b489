package fatfs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aligator/fatfs/checkpoint"
)

// ErrFormat is returned if a volume could not be created.
var ErrFormat = errors.New("could not format the device")

const (
	fat16MaxClusters = 0xFFF4
	fat32MaxClusters = 0x0FFFFFF5

	fsInfoLeadSignature   = 0x41615252
	fsInfoStructSignature = 0x61417272
	fsInfoTrailSignature  = 0xAA550000
)

// FormatOptions describes the volume created by Format.
type FormatOptions struct {
	// Type defaults to FAT16 if the clusters fit into a 16 bit FAT and to FAT32 otherwise.
	Type FATType
	// Label is stored in the boot sector and as label entry in the root directory.
	// It is cut to 11 characters and upper cased.
	Label string
	// SectorsPerCluster has to be a power of two. 0 selects a value by size.
	SectorsPerCluster uint8
	// RootEntries is the size of the fixed FAT16 root directory, 512 by default.
	RootEntries uint16
	// VolumeID is the serial number, derived from the current time if 0.
	VolumeID uint32
}

// layout is the result of planning a volume.
type layout struct {
	fatType           FATType
	sectorsPerCluster uint32
	reserved          uint32
	fatSize           uint32
	rootEntries       uint32
	clusters          uint32
}

func planLayout(sectors uint32, opts FormatOptions) (layout, error) {
	l := layout{fatType: opts.Type, sectorsPerCluster: uint32(opts.SectorsPerCluster)}

	if l.sectorsPerCluster&(l.sectorsPerCluster-1) != 0 || l.sectorsPerCluster > 128 {
		return layout{}, checkpoint.Wrap(fmt.Errorf("sectors per cluster %d", l.sectorsPerCluster), ErrUnsupported)
	}

	if l.fatType == 0 {
		l.fatType = FAT16
		spc := l.sectorsPerCluster
		if spc == 0 {
			spc = 64
		}
		if sectors/spc > fat16MaxClusters {
			l.fatType = FAT32
		}
	}

	if l.sectorsPerCluster == 0 {
		l.sectorsPerCluster = 1
		if l.fatType == FAT32 && sectors >= 532480 {
			l.sectorsPerCluster = 8
		}
		for l.fatType == FAT16 && sectors/l.sectorsPerCluster > fat16MaxClusters && l.sectorsPerCluster < 64 {
			l.sectorsPerCluster *= 2
		}
	}

	entrySize := uint32(2)
	maxClusters := uint32(fat16MaxClusters)
	switch l.fatType {
	case FAT16:
		l.reserved = 1
		l.rootEntries = uint32(opts.RootEntries)
		if l.rootEntries == 0 {
			l.rootEntries = 512
		}
		// Keep the root directory in whole sectors.
		l.rootEntries = (l.rootEntries + 15) / 16 * 16
	case FAT32:
		l.reserved = 32
		entrySize = 4
		maxClusters = fat32MaxClusters
	default:
		return layout{}, checkpoint.Wrap(fmt.Errorf("FAT type %d", l.fatType), ErrUnsupported)
	}

	rootDirSectors := l.rootEntries * slotSize / SectorSize
	l.fatSize = ((sectors/l.sectorsPerCluster+2)*entrySize + SectorSize - 1) / SectorSize

	dataLoc := l.reserved + 2*l.fatSize + rootDirSectors
	if dataLoc >= sectors {
		return layout{}, checkpoint.Wrap(fmt.Errorf("%d sectors are too few", sectors), ErrNoSpace)
	}
	l.clusters = (sectors - dataLoc) / l.sectorsPerCluster

	if l.clusters < 1 || l.clusters > maxClusters {
		return layout{}, checkpoint.Wrap(fmt.Errorf("%d clusters do not fit %v", l.clusters, l.fatType), ErrUnsupported)
	}
	return l, nil
}

// Format creates an empty FAT16 or FAT32 volume with the given number of sectors on dev.
// Everything before the data region is overwritten.
func Format(dev BlockDevice, sectors uint32, opts FormatOptions) error {
	l, err := planLayout(sectors, opts)
	if err != nil {
		return checkpoint.Wrap(err, ErrFormat)
	}

	volumeID := opts.VolumeID
	if volumeID == 0 {
		volumeID = uint32(time.Now().Unix())
	}

	label := [11]byte{'N', 'O', ' ', 'N', 'A', 'M', 'E', ' ', ' ', ' ', ' '}
	if opts.Label != "" {
		label = packLabel(opts.Label)
	}

	boot := BootSector{
		BSOEMName:           [8]byte{'F', 'A', 'T', 'F', 'S', ' ', ' ', ' '},
		BytesPerSector:      SectorSize,
		SectorsPerCluster:   uint8(l.sectorsPerCluster),
		ReservedSectorCount: uint16(l.reserved),
		NumFATs:             2,
		RootEntryCount:      uint16(l.rootEntries),
		Media:               0xF8,
		SectorsPerTrack:     63,
		NumberOfHeads:       255,
	}
	if sectors < 0x10000 && l.fatType == FAT16 {
		boot.TotalSectors16 = uint16(sectors)
	} else {
		boot.TotalSectors32 = sectors
	}

	var fsType [8]byte
	copy(fsType[:], l.fatType.String()+"   ")

	if l.fatType == FAT16 {
		boot.BSJumpBoot = [3]byte{0xEB, 0x3C, 0x90}
		boot.FATSize16 = uint16(l.fatSize)
		boot.setExtension(FAT16Extension{
			BSDriveNumber:    0x80,
			BSBootSignature:  0x29,
			BSVolumeID:       volumeID,
			BSVolumeLabel:    label,
			BSFileSystemType: fsType,
		})
	} else {
		boot.BSJumpBoot = [3]byte{0xEB, 0x58, 0x90}
		boot.setExtension(FAT32Extension{
			FATSize32:        l.fatSize,
			RootCluster:      2,
			FSInfo:           1,
			BkBootSector:     6,
			BSDriveNumber:    0x80,
			BSBootSignature:  0x29,
			BSVolumeID:       volumeID,
			BSVolumeLabel:    label,
			BSFileSystemType: fsType,
		})
	}

	// Clear the reserved sectors, both FATs and the FAT16 root directory.
	rootDirSectors := l.rootEntries * slotSize / SectorSize
	metaSectors := l.reserved + 2*l.fatSize + rootDirSectors
	zero := make([]byte, 64*SectorSize)
	for sector := uint32(0); sector < metaSectors; sector += 64 {
		count := min(metaSectors-sector, 64)
		if err := dev.WriteSectors(sector, zero[:count*SectorSize]); err != nil {
			return checkpoint.Wrap(checkpoint.Wrap(err, ErrIO), ErrFormat)
		}
	}

	bootRaw, err := encodeBootSector(&boot)
	if err != nil {
		return checkpoint.Wrap(err, ErrFormat)
	}
	if err := dev.WriteSectors(0, bootRaw); err != nil {
		return checkpoint.Wrap(checkpoint.Wrap(err, ErrIO), ErrFormat)
	}

	if l.fatType == FAT32 {
		info := make([]byte, SectorSize)
		binary.LittleEndian.PutUint32(info[0:], fsInfoLeadSignature)
		binary.LittleEndian.PutUint32(info[484:], fsInfoStructSignature)
		binary.LittleEndian.PutUint32(info[488:], 0xFFFFFFFF)
		binary.LittleEndian.PutUint32(info[492:], 0xFFFFFFFF)
		binary.LittleEndian.PutUint32(info[508:], fsInfoTrailSignature)

		for _, w := range []struct {
			sector uint32
			data   []byte
		}{{1, info}, {6, bootRaw}, {7, info}} {
			if err := dev.WriteSectors(w.sector, w.data); err != nil {
				return checkpoint.Wrap(checkpoint.Wrap(err, ErrIO), ErrFormat)
			}
		}
	}

	// The first two FAT entries hold the media byte and the end of chain marker.
	fat := make([]byte, SectorSize)
	if l.fatType == FAT16 {
		binary.LittleEndian.PutUint16(fat[0:], 0xFF00|uint16(boot.Media))
		binary.LittleEndian.PutUint16(fat[2:], fat16Marker)
	} else {
		binary.LittleEndian.PutUint32(fat[0:], 0x0FFFFF00|uint32(boot.Media))
		binary.LittleEndian.PutUint32(fat[4:], fat32Marker)
		// Root directory cluster.
		binary.LittleEndian.PutUint32(fat[8:], fat32Marker)
	}
	for i := uint32(0); i < 2; i++ {
		if err := dev.WriteSectors(l.reserved+i*l.fatSize, fat); err != nil {
			return checkpoint.Wrap(checkpoint.Wrap(err, ErrIO), ErrFormat)
		}
	}

	rootSector := l.reserved + 2*l.fatSize
	if l.fatType == FAT32 {
		cluster := make([]byte, l.sectorsPerCluster*SectorSize)
		if err := dev.WriteSectors(rootSector, cluster); err != nil {
			return checkpoint.Wrap(checkpoint.Wrap(err, ErrIO), ErrFormat)
		}
	}

	if opts.Label != "" {
		slot := shortSlot{
			Name:      label,
			Attribute: AttrVolumeID,
			WriteTime: packTime(time.Now()),
			WriteDate: packDate(time.Now()),
		}
		root := make([]byte, SectorSize)
		copy(root, encodeSlot(&slot))
		if err := dev.WriteSectors(rootSector, root); err != nil {
			return checkpoint.Wrap(checkpoint.Wrap(err, ErrIO), ErrFormat)
		}
	}

	return nil
}

func encodeBootSector(boot *BootSector) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, SectorSize))
	if err := binary.Write(buf, binary.LittleEndian, boot); err != nil {
		return nil, err
	}

	raw := make([]byte, SectorSize)
	copy(raw, buf.Bytes())
	raw[510] = 0x55
	raw[511] = 0xAA
	return raw, nil
}

// packLabel converts a volume label into the padded 11 byte form.
func packLabel(label string) [11]byte {
	var oem []byte
	for i, word := range strings.Split(label, " ") {
		if i > 0 {
			oem = append(oem, ' ')
		}
		converted, _ := toOEM(word)
		oem = append(oem, converted...)
	}

	var raw [11]byte
	for i := range raw {
		raw[i] = ' '
	}
	copy(raw[:], oem)
	return raw
}
