package fatfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aligator/fatfs/checkpoint"
	"github.com/aligator/fatfs/pathcache"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// ErrMount is returned if a device does not contain a usable FAT volume.
var ErrMount = errors.New("could not mount the filesystem")

// Config changes how a volume is mounted. The zero value is a usable default.
type Config struct {
	// ReadOnly rejects every operation which would write to the device.
	ReadOnly bool

	// SkipChecks skips the boot sector validations which are not needed to compute
	// the geometry. This may allow you to open not perfectly standard FAT volumes.
	// Use with caution!
	SkipChecks bool

	// CacheSize is the number of paths remembered by the path cache.
	// 0 selects pathcache.DefaultCapacity, a negative value disables the cache.
	CacheSize int

	// MountPath is stripped from all paths before they are resolved, e.g. "/sd".
	MountPath string

	// Logger defaults to the logrus standard logger.
	Logger logrus.FieldLogger

	// Clock is used for all time stamps. It defaults to time.Now.
	Clock func() time.Time
}

// Fs is a mounted FAT16 or FAT32 volume. It implements afero.Fs.
// All methods, including the ones of the opened files, are serialized by a
// single lock.
type Fs struct {
	lock sync.Mutex

	dev   BlockDevice
	boot  BootSector
	geo   geometry
	table *fatTable

	// nextFree is where the search for a free cluster starts.
	nextFree uint32
	cache    *pathcache.Cache

	// handles are the open files. Their entries may be newer than the slots on the device.
	handles map[*File]struct{}

	readOnly  bool
	mountPath string
	now       func() time.Time
	log       logrus.FieldLogger
}

var _ afero.Fs = (*Fs)(nil)

// New mounts the volume on dev using the default Config.
func New(dev BlockDevice) (*Fs, error) {
	return NewWithConfig(dev, Config{})
}

// NewWithConfig mounts the volume on dev.
func NewWithConfig(dev BlockDevice, config Config) (*Fs, error) {
	log := config.Logger
	if log == nil {
		log = logrus.StandardLogger().WithField("fs", "fatfs")
	}

	boot, err := readBootSector(dev)
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrMount)
	}

	if !config.SkipChecks {
		if err := boot.validate(); err != nil {
			return nil, checkpoint.Wrap(err, ErrMount)
		}
	}
	if err := boot.checkGeometry(); err != nil {
		return nil, checkpoint.Wrap(err, ErrMount)
	}

	geo, err := boot.geometry()
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrMount)
	}

	cacheSize := config.CacheSize
	if cacheSize == 0 {
		cacheSize = pathcache.DefaultCapacity
	}

	clock := config.Clock
	if clock == nil {
		clock = time.Now
	}

	fs := &Fs{
		dev:       dev,
		boot:      boot,
		geo:       geo,
		nextFree:  2,
		cache:     pathcache.New(cacheSize),
		handles:   make(map[*File]struct{}),
		readOnly:  config.ReadOnly,
		mountPath: strings.TrimRight(config.MountPath, "/"),
		now:       clock,
		log:       log,
	}
	fs.table = newFATTable(dev, &fs.geo)

	log.WithFields(logrus.Fields{
		"type":     geo.fatType,
		"clusters": geo.totalClusters,
		"cluster":  geo.bytesPerCluster,
		"fat":      geo.fatStart,
		"data":     geo.dataLoc,
		"readonly": config.ReadOnly,
	}).Debug("mounted volume")

	return fs, nil
}

// FATType returns whether the volume is FAT16 or FAT32.
func (fs *Fs) FATType() FATType {
	return fs.geo.fatType
}

// Label returns the volume label. The label entry in the root directory wins
// over the one in the boot sector.
func (fs *Fs) Label() (string, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	c := fs.openDir(0)
	for {
		raw, err := c.slot()
		if err != nil {
			return "", err
		}
		if raw[0] == slotFree {
			break
		}

		attr := Attr(raw[11])
		if raw[0] != slotDeleted && !attr.isLongName() && attr.isVolumeID() {
			return strings.TrimRight(decodeOEM(raw[:11]), " "), nil
		}

		ok, err := c.next()
		if err != nil {
			return "", err
		}
		if !ok {
			break
		}
	}

	return fs.boot.label(), nil
}

// Stats describes the usage of a volume.
type Stats struct {
	Type          FATType
	ClusterSize   uint32
	TotalClusters uint32
	FreeClusters  uint32
}

// Stats counts the free clusters of the volume.
func (fs *Fs) Stats() (Stats, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	stats := Stats{
		Type:          fs.geo.fatType,
		ClusterSize:   fs.geo.bytesPerCluster,
		TotalClusters: fs.geo.totalClusters,
	}
	for cluster := uint32(2); cluster <= fs.geo.maxCluster(); cluster++ {
		value, err := fs.table.entry(cluster)
		if err != nil {
			return Stats{}, err
		}
		if value == 0 {
			stats.FreeClusters++
		}
	}
	return stats, nil
}

// Close unmounts the volume and closes the device.
func (fs *Fs) Close() error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	fs.cache.Purge()
	return fs.dev.Close()
}

// pathError converts an engine error into the form the os package uses.
// The detailed error is only logged.
func (fs *Fs) pathError(op, name string, err error) error {
	if err == nil {
		return nil
	}

	errno := Errno(err)
	fs.log.WithFields(checkpoint.Fields(err)).WithFields(logrus.Fields{
		"op":    op,
		"path":  name,
		"errno": errno.Error(),
	}).WithError(err).Debug("operation failed")

	return &os.PathError{Op: op, Path: name, Err: errno}
}

func (fs *Fs) Create(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (fs *Fs) Mkdir(name string, perm os.FileMode) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	parent, base, err := fs.resolveParent(name)
	if err != nil {
		if errors.Is(err, ErrIsRoot) {
			err = checkpoint.Wrap(err, ErrAlreadyExists)
		}
		return fs.pathError("mkdir", name, err)
	}

	_, err = fs.createEntry(parent, base, AttrDirectory, nil)
	return fs.pathError("mkdir", name, err)
}

func (fs *Fs) MkdirAll(path string, perm os.FileMode) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	current := fs.rootEntry()
	for _, segment := range fs.splitPath(path) {
		next, err := fs.lookupIn(current, segment)
		if errors.Is(err, ErrNotFound) {
			next, err = fs.createEntry(current, segment, AttrDirectory, nil)
		}
		if err != nil {
			return fs.pathError("mkdir", path, err)
		}
		if !next.IsDir() {
			return fs.pathError("mkdir", path, checkpoint.Wrap(fmt.Errorf("%q is a file", next.Name()), ErrNotADirectory))
		}
		current = next
	}
	return nil
}

func (fs *Fs) Open(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDONLY, 0)
}

func (fs *Fs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	f, err := fs.openFile(name, flag, perm)
	if err != nil {
		return nil, fs.pathError("open", name, err)
	}
	return f, nil
}

func (fs *Fs) openFile(name string, flag int, perm os.FileMode) (*File, error) {
	writable := flag&(os.O_WRONLY|os.O_RDWR) != 0
	if fs.readOnly && (writable || flag&os.O_CREATE != 0) {
		return nil, checkpoint.Wrap(fmt.Errorf("open %q for writing", name), ErrReadOnly)
	}

	e, err := fs.resolve(name)
	created := false
	switch {
	case err == nil && flag&os.O_CREATE != 0 && flag&os.O_EXCL != 0:
		return nil, checkpoint.Wrap(fmt.Errorf("%q", name), ErrAlreadyExists)
	case errors.Is(err, ErrNotFound) && flag&os.O_CREATE != 0:
		parent, base, err := fs.resolveParent(name)
		if err != nil {
			return nil, err
		}
		if e, err = fs.createEntry(parent, base, fileAttr(perm), nil); err != nil {
			return nil, err
		}
		created = true
	case err != nil:
		return nil, err
	}

	if writable && e.IsDir() {
		return nil, checkpoint.Wrap(fmt.Errorf("%q", name), ErrIsADirectory)
	}
	if writable && !created && e.attr.IsReadOnly() {
		return nil, checkpoint.Wrap(fmt.Errorf("%q has the read-only attribute", name), ErrReadOnly)
	}

	if writable && flag&os.O_TRUNC != 0 && e.size > 0 {
		if err := fs.truncateData(e, 0); err != nil {
			return nil, err
		}
		if err := fs.updateEntry(e); err != nil {
			return nil, err
		}
	}

	f := &File{
		fs:    fs,
		name:  name,
		entry: e,
		flag:  flag,
	}
	fs.handles[f] = struct{}{}
	return f, nil
}

// handlesOf returns the open files whose entry is stored at the location of e.
func (fs *Fs) handlesOf(e *Entry) []*File {
	if e.root {
		return nil
	}

	var files []*File
	for f := range fs.handles {
		if f.detached || f.entry.root {
			continue
		}
		if f.entry.sector == e.sector && f.entry.offset == e.offset {
			files = append(files, f)
		}
	}
	return files
}

// syncHandles writes the entries of the open files of e back and updates e
// with their content size and chain.
func (fs *Fs) syncHandles(e *Entry) error {
	for _, f := range fs.handlesOf(e) {
		if err := f.flush(); err != nil {
			return err
		}
		e.size = f.entry.size
		e.cluster = f.entry.cluster
		e.endCluster = f.entry.endCluster
		e.modified = f.entry.modified
		e.accessed = f.entry.accessed
		e.curCluster, e.curIndex = 0, 0
	}
	return nil
}

// moveHandles points the open files of old to the slot of moved.
func (fs *Fs) moveHandles(old, moved *Entry) {
	for _, f := range fs.handlesOf(old) {
		f.entry.sector, f.entry.offset = moved.sector, moved.offset
		f.entry.long, f.entry.short, f.entry.caseFlags = moved.long, moved.short, moved.caseFlags
	}
}

// detachHandles cuts the open files of a deleted entry off the directory.
// The chain was released together with the entry, anything written afterwards
// is released when the file is closed.
func (fs *Fs) detachHandles(e *Entry) {
	for _, f := range fs.handlesOf(e) {
		f.detached = true
		f.dirty = false
		f.dirDone = true
		f.entry.size = 0
		f.entry.cluster, f.entry.endCluster = 0, 0
		f.entry.curCluster, f.entry.curIndex = 0, 0
	}
}

func (fs *Fs) Remove(name string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	return fs.pathError("remove", name, fs.removePath(name))
}

func (fs *Fs) RemoveAll(path string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if fs.readOnly {
		return fs.pathError("removeall", path, checkpoint.From(ErrReadOnly))
	}

	segments := fs.splitPath(path)
	if len(segments) == 0 {
		return fs.pathError("removeall", path, fs.removeChildren(fs.rootEntry()))
	}

	parent, err := fs.resolveSegments(segments[:len(segments)-1])
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotADirectory) {
		return nil
	} else if err != nil {
		return fs.pathError("removeall", path, err)
	}

	e, err := fs.lookupIn(parent, segments[len(segments)-1])
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotADirectory) {
		return nil
	} else if err != nil {
		return fs.pathError("removeall", path, err)
	}

	if err := fs.removeTree(parent, e); err != nil {
		return fs.pathError("removeall", path, err)
	}
	return fs.pathError("removeall", path, fs.touch(parent))
}

// removeTree deletes e and everything below it.
func (fs *Fs) removeTree(parent, e *Entry) error {
	if e.IsDir() {
		if err := fs.removeChildren(e); err != nil {
			return err
		}
	}

	if err := fs.syncHandles(e); err != nil {
		return err
	}
	if err := fs.deleteEntry(parent, e); err != nil {
		return err
	}
	if e.cluster != 0 {
		if err := fs.freeChain(e.cluster); err != nil {
			return err
		}
	}
	fs.detachHandles(e)
	return nil
}

func (fs *Fs) removeChildren(dir *Entry) error {
	var prev *Entry
	for {
		child, err := fs.nextEntry(dir, prev)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if err := fs.removeTree(dir, child); err != nil {
			return err
		}
		prev = child
	}
}

func (fs *Fs) Rename(oldname, newname string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	return fs.pathError("rename", oldname, fs.rename(oldname, newname))
}

func (fs *Fs) Stat(name string) (os.FileInfo, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	e, err := fs.resolve(name)
	if err != nil {
		return nil, fs.pathError("stat", name, err)
	}
	return e.FileInfo(), nil
}

func (fs *Fs) Name() string {
	return "fatfs"
}

// Chmod only maps the write permission of the owner onto the read-only attribute.
func (fs *Fs) Chmod(name string, mode os.FileMode) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	e, err := fs.resolve(name)
	if err != nil {
		return fs.pathError("chmod", name, err)
	}
	if e.root {
		return nil
	}

	if err := fs.syncHandles(e); err != nil {
		return fs.pathError("chmod", name, err)
	}

	// The attribute is part of the cache validation.
	fs.forget(e)

	if mode&0200 == 0 {
		e.attr |= AttrReadOnly
	} else {
		e.attr &^= AttrReadOnly
	}
	for _, f := range fs.handlesOf(e) {
		f.entry.attr = e.attr
	}
	return fs.pathError("chmod", name, fs.updateEntry(e))
}

// Chown is not supported by FAT. It only checks that name exists.
func (fs *Fs) Chown(name string, uid, gid int) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	_, err := fs.resolve(name)
	return fs.pathError("chown", name, err)
}

func (fs *Fs) Chtimes(name string, atime time.Time, mtime time.Time) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	e, err := fs.resolve(name)
	if err != nil {
		return fs.pathError("chtimes", name, err)
	}
	if e.root {
		return fs.pathError("chtimes", name, checkpoint.Wrap(fmt.Errorf("the root has no time stamps"), ErrIsRoot))
	}

	if err := fs.syncHandles(e); err != nil {
		return fs.pathError("chtimes", name, err)
	}

	e.accessed = atime
	e.modified = mtime
	for _, f := range fs.handlesOf(e) {
		f.entry.accessed, f.entry.modified = atime, mtime
	}
	return fs.pathError("chtimes", name, fs.updateEntry(e))
}

// fileAttr derives the attributes of a new file from its permissions.
func fileAttr(perm os.FileMode) Attr {
	attr := AttrArchive
	if perm&0200 == 0 {
		attr |= AttrReadOnly
	}
	return attr
}
