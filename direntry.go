package fatfs

import (
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"
)

var (
	dotName    = [11]byte{'.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
	dotDotName = [11]byte{'.', '.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
)

// Entry is a transient view of one file or directory.
// It is not linked to its parent or children. It just remembers where its
// short slot is stored so that it can be updated or deleted later.
type Entry struct {
	// long is the long filename or "" if the entry has only a short name.
	long      string
	short     [11]byte
	caseFlags uint8

	// reserved holds the NTReserved bits besides the case flags, createTenth the
	// 10 ms part of the creation time. Both are written back as they were read.
	reserved    uint8
	createTenth uint8

	attr       Attr
	size       uint32
	cluster    uint32
	endCluster uint32

	sector uint32
	offset uint32
	root   bool

	created  time.Time
	modified time.Time
	accessed time.Time

	// curCluster caches the cluster with the index curIndex of the chain for sequential access.
	curCluster uint32
	curIndex   uint32
}

// Name returns the display name: the long name if there is one, otherwise the
// short name with its case flags applied.
func (e *Entry) Name() string {
	if e.root {
		return "/"
	}
	if e.long != "" {
		return e.long
	}
	return formatShortName(e.short, e.caseFlags)
}

// ShortName returns the 8.3 name as it is stored.
func (e *Entry) ShortName() string {
	if e.root {
		return "/"
	}
	return formatShortName(e.short, 0)
}

// HasLongName reports whether long filename fragments belong to the entry.
func (e *Entry) HasLongName() bool {
	return e.long != ""
}

func (e *Entry) Attr() Attr            { return e.attr }
func (e *Entry) IsDir() bool           { return e.root || e.attr.IsDir() }
func (e *Entry) Size() int64           { return int64(e.size) }
func (e *Entry) Cluster() uint32       { return e.cluster }
func (e *Entry) EndCluster() uint32    { return e.endCluster }
func (e *Entry) ModTime() time.Time    { return e.modified }
func (e *Entry) CreateTime() time.Time { return e.created }
func (e *Entry) AccessTime() time.Time { return e.accessed }

// Location returns the sector and the byte offset inside it of the short slot.
func (e *Entry) Location() (sector uint32, offset uint32) {
	return e.sector, e.offset
}

// dirCluster is the cluster to open the entry as directory with. The root is 0.
func (e *Entry) dirCluster() uint32 {
	if e.root {
		return 0
	}
	return e.cluster
}

// matches compares name case-insensitively with the display and the short name.
func (e *Entry) matches(name string) bool {
	return strings.EqualFold(e.Name(), name) || strings.EqualFold(e.ShortName(), name)
}

// rootEntry is the synthetic entry of the root directory.
func (fs *Fs) rootEntry() *Entry {
	return &Entry{
		root: true,
		attr: AttrDirectory,
	}
}

// entryFromSlot builds an Entry from a decoded short slot found at sector and offset.
func (fs *Fs) entryFromSlot(s *shortSlot, long string, sector, offset uint32) *Entry {
	cluster := uint32(s.FirstClusterLO)
	if fs.geo.fatType == FAT32 {
		cluster = s.cluster()
	}

	return &Entry{
		long:        long,
		short:       s.Name,
		caseFlags:   s.NTReserved & (caseLowerBase | caseLowerExt),
		reserved:    s.NTReserved &^ (caseLowerBase | caseLowerExt),
		createTenth: s.CreateTimeTenth,
		attr:        s.Attribute,
		size:        s.FileSize,
		cluster:     cluster,
		sector:      sector,
		offset:      offset,
		created:     parseDateTime(s.CreateDate, s.CreateTime),
		modified:    parseDateTime(s.WriteDate, s.WriteTime),
		accessed:    ParseDate(s.LastAccessDate),
	}
}

// slotFor serializes the short slot of an entry.
func (fs *Fs) slotFor(e *Entry) shortSlot {
	s := shortSlot{
		Name:            e.short,
		Attribute:       e.attr,
		NTReserved:      e.reserved | e.caseFlags,
		CreateTimeTenth: e.createTenth,
		CreateTime:      packTime(e.created),
		CreateDate:      packDate(e.created),
		LastAccessDate:  packDate(e.accessed),
		WriteTime:       packTime(e.modified),
		WriteDate:       packDate(e.modified),
		FileSize:        e.size,
	}
	s.setCluster(e.cluster, fs.geo.fatType)
	return s
}

// dotSlot creates the "." or ".." entry of a new directory.
func (fs *Fs) dotSlot(name [11]byte, cluster uint32, now time.Time) shortSlot {
	s := shortSlot{
		Name:           name,
		Attribute:      AttrDirectory,
		CreateTime:     packTime(now),
		CreateDate:     packDate(now),
		LastAccessDate: packDate(now),
		WriteTime:      packTime(now),
		WriteDate:      packDate(now),
	}
	s.setCluster(cluster, fs.geo.fatType)
	return s
}

// formatShortName converts the stored 8.3 name into "BASE.EXT".
func formatShortName(short [11]byte, caseFlags uint8) string {
	raw := short
	if raw[0] == slotKanji {
		raw[0] = slotDeleted
	}

	base := strings.TrimRight(decodeOEM(raw[0:8]), " ")
	ext := strings.TrimRight(decodeOEM(raw[8:11]), " ")

	if caseFlags&caseLowerBase != 0 {
		base = strings.ToLower(base)
	}
	if caseFlags&caseLowerExt != 0 {
		ext = strings.ToLower(ext)
	}

	if ext == "" {
		return base
	}
	return base + "." + ext
}

// decodeOEM converts code page 437 bytes to a string.
func decodeOEM(raw []byte) string {
	decoded, err := charmap.CodePage437.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}
