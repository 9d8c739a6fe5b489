// File model contains the structs which match the direct structures of the FAT filesystem.
// All of them are decoded and encoded little endian without any padding.

package fatfs

import (
	"bytes"
	"encoding/binary"
)

// FATType is the kind of FAT a volume uses.
type FATType uint8

const (
	FAT16 FATType = 16
	FAT32 FATType = 32
)

func (t FATType) String() string {
	switch t {
	case FAT16:
		return "FAT16"
	case FAT32:
		return "FAT32"
	}
	return "unknown"
}

// Attr is the attribute bitmask of a directory entry.
type Attr uint8

const (
	AttrReadOnly  Attr = 0x01
	AttrHidden    Attr = 0x02
	AttrSystem    Attr = 0x04
	AttrVolumeID  Attr = 0x08
	AttrDirectory Attr = 0x10
	AttrArchive   Attr = 0x20

	// AttrLongName marks a slot as long filename fragment.
	AttrLongName = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID
)

func (a Attr) IsDir() bool      { return a&AttrDirectory != 0 }
func (a Attr) IsReadOnly() bool { return a&AttrReadOnly != 0 }
func (a Attr) isLongName() bool { return a&0x3F == AttrLongName }
func (a Attr) isVolumeID() bool { return a&(AttrVolumeID|AttrDirectory) == AttrVolumeID }

const (
	slotSize = 32

	slotFree    = 0x00
	slotDeleted = 0xE5
	// slotKanji is stored instead of 0xE5 as real first character of a name.
	slotKanji = 0x05

	lfnLast       = 0x40
	lfnOrdMask    = 0x3F
	lfnUnits      = 13
	lfnMaxUnits   = 255
	lfnMaxOrdinal = 20

	caseLowerBase = 0x08
	caseLowerExt  = 0x10
)

// BootSector is the common part of sector 0 followed by the type specific extension.
type BootSector struct {
	BSJumpBoot          [3]byte
	BSOEMName           [8]byte
	BytesPerSector      uint16
	SectorsPerCluster   uint8
	ReservedSectorCount uint16
	NumFATs             uint8
	RootEntryCount      uint16
	TotalSectors16      uint16
	Media               uint8
	FATSize16           uint16
	SectorsPerTrack     uint16
	NumberOfHeads       uint16
	HiddenSectors       uint32
	TotalSectors32      uint32
	Extension           [54]byte
}

// FAT16Extension is the extension of FAT16 volumes.
type FAT16Extension struct {
	BSDriveNumber    uint8
	BSReserved1      uint8
	BSBootSignature  uint8
	BSVolumeID       uint32
	BSVolumeLabel    [11]byte
	BSFileSystemType [8]byte
}

// FAT32Extension is the extension of FAT32 volumes.
type FAT32Extension struct {
	FATSize32        uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootCluster      uint32
	FSInfo           uint16
	BkBootSector     uint16
	Reserved         [12]byte
	BSDriveNumber    uint8
	BSReserved1      uint8
	BSBootSignature  uint8
	BSVolumeID       uint32
	BSVolumeLabel    [11]byte
	BSFileSystemType [8]byte
}

// fatType selects the extension layout: a zero 16 bit FAT size means FAT32.
func (b *BootSector) fatType() FATType {
	if b.FATSize16 == 0 {
		return FAT32
	}
	return FAT16
}

func (b *BootSector) totalSectors() uint32 {
	if b.TotalSectors16 != 0 {
		return uint32(b.TotalSectors16)
	}
	return b.TotalSectors32
}

func (b *BootSector) fat16() FAT16Extension {
	var ext FAT16Extension
	_ = binary.Read(bytes.NewReader(b.Extension[:]), binary.LittleEndian, &ext)
	return ext
}

func (b *BootSector) fat32() FAT32Extension {
	var ext FAT32Extension
	_ = binary.Read(bytes.NewReader(b.Extension[:]), binary.LittleEndian, &ext)
	return ext
}

// setExtension encodes ext (FAT16Extension or FAT32Extension) into the extension bytes.
func (b *BootSector) setExtension(ext interface{}) {
	buf := bytes.NewBuffer(make([]byte, 0, len(b.Extension)))
	_ = binary.Write(buf, binary.LittleEndian, ext)
	copy(b.Extension[:], buf.Bytes())
}

// shortSlot is a 32 byte 8.3 directory entry.
type shortSlot struct {
	Name            [11]byte
	Attribute       Attr
	NTReserved      uint8
	CreateTimeTenth uint8
	CreateTime      uint16
	CreateDate      uint16
	LastAccessDate  uint16
	FirstClusterHI  uint16
	WriteTime       uint16
	WriteDate       uint16
	FirstClusterLO  uint16
	FileSize        uint32
}

// lfnSlot is a 32 byte long filename fragment.
type lfnSlot struct {
	Sequence  uint8
	First     [5]uint16
	Attribute Attr
	EntryType uint8
	Checksum  uint8
	Second    [6]uint16
	Cluster   uint16
	Third     [2]uint16
}

func (s *shortSlot) cluster() uint32 {
	return uint32(s.FirstClusterHI)<<16 | uint32(s.FirstClusterLO)
}

func (s *shortSlot) setCluster(cluster uint32, t FATType) {
	s.FirstClusterLO = uint16(cluster)
	s.FirstClusterHI = 0
	if t == FAT32 {
		s.FirstClusterHI = uint16(cluster >> 16)
	}
}

func (l *lfnSlot) units() [lfnUnits]uint16 {
	var u [lfnUnits]uint16
	copy(u[0:5], l.First[:])
	copy(u[5:11], l.Second[:])
	copy(u[11:13], l.Third[:])
	return u
}

func (l *lfnSlot) setUnits(u [lfnUnits]uint16) {
	copy(l.First[:], u[0:5])
	copy(l.Second[:], u[5:11])
	copy(l.Third[:], u[11:13])
}

func decodeSlot(raw []byte, v interface{}) {
	_ = binary.Read(bytes.NewReader(raw[:slotSize]), binary.LittleEndian, v)
}

func encodeSlot(v interface{}) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, slotSize))
	_ = binary.Write(buf, binary.LittleEndian, v)
	return buf.Bytes()
}
