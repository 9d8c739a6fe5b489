package fatfs

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aligator/fatfs/checkpoint"
)

// These errors may occur while changing directory entries.
var (
	ErrCreate = errors.New("could not create the entry")
	ErrDelete = errors.New("could not delete the entry")
	ErrUpdate = errors.New("could not update the entry")
	ErrRename = errors.New("could not rename the entry")
)

// writeSlot replaces the 32 bytes at offset inside sector and leaves the rest
// of the sector untouched.
func (fs *Fs) writeSlot(sector, offset uint32, raw []byte) error {
	buffer := make([]byte, SectorSize)
	if err := fs.dev.ReadSectors(sector, buffer); err != nil {
		return checkpoint.Wrap(err, ErrIO)
	}
	copy(buffer[offset:offset+slotSize], raw)
	if err := fs.dev.WriteSectors(sector, buffer); err != nil {
		return checkpoint.Wrap(err, ErrIO)
	}
	return nil
}

// findFreeRun returns a cursor at the first of n consecutive unused slots in
// dir. A cluster chain directory is extended if no such run exists.
func (fs *Fs) findFreeRun(dir *Entry, n int) (*dirCursor, error) {
	c := fs.openDir(dir.dirCluster())

	var (
		run       int
		runSector uint32
		runOffset uint32
	)
	for {
		raw, err := c.slot()
		if err != nil {
			return nil, err
		}

		if raw[0] == slotFree || raw[0] == slotDeleted {
			if run == 0 {
				runSector, runOffset = c.sector(), c.offset
			}
			run++
			if run == n {
				if err := c.seek(runSector, runOffset); err != nil {
					return nil, err
				}
				return c, nil
			}
		} else {
			run = 0
		}

		ok, err := c.next()
		if err != nil {
			return nil, err
		}
		if ok {
			continue
		}

		if err := c.grow(); err != nil {
			return nil, err
		}
		if ok, err = c.next(); err != nil {
			return nil, err
		} else if !ok {
			return nil, checkpoint.Wrap(fmt.Errorf("directory did not grow"), ErrCorrupt)
		}
	}
}

// createEntry adds a new entry called name to parent.
// If from is not nil, the new entry takes over its cluster chain, size,
// attributes and creation time (used by rename). Otherwise a directory gets a
// fresh cluster with the dot entries.
func (fs *Fs) createEntry(parent *Entry, name string, attr Attr, from *Entry) (*Entry, error) {
	if fs.readOnly {
		return nil, checkpoint.Wrap(fmt.Errorf("create %q", name), ErrReadOnly)
	}
	if !parent.IsDir() {
		return nil, checkpoint.Wrap(fmt.Errorf("%q is a file", parent.Name()), ErrNotADirectory)
	}
	if parent.attr.IsReadOnly() {
		return nil, checkpoint.Wrap(fmt.Errorf("parent %q is read-only", parent.Name()), ErrReadOnly)
	}
	if err := validateName(name); err != nil {
		return nil, checkpoint.Wrap(err, ErrCreate)
	}

	if _, err := fs.lookupIn(parent, name); err == nil {
		return nil, checkpoint.Wrap(fmt.Errorf("%q", name), ErrAlreadyExists)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, checkpoint.Wrap(err, ErrCreate)
	}

	short, err := fs.shortNameIn(parent, name)
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrCreate)
	}

	var fragments []lfnSlot
	if short.needLong {
		units, err := encodeUnits(name)
		if err != nil {
			return nil, checkpoint.Wrap(err, ErrCreate)
		}
		fragments = lfnFragments(units, lfnChecksum(short.name))
	}

	c, err := fs.findFreeRun(parent, len(fragments)+1)
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrCreate)
	}

	now := fs.now()
	e := &Entry{
		short:     short.name,
		caseFlags: short.caseFlags,
		attr:      attr,
		created:   now,
		modified:  now,
		accessed:  now,
	}
	if short.needLong {
		e.long = name
	}

	if from != nil {
		e.attr = from.attr
		e.size = from.size
		e.cluster = from.cluster
		e.endCluster = from.endCluster
		e.created = from.created
		e.createTenth = from.createTenth
		e.reserved = from.reserved
		e.modified = from.modified
	} else if attr.IsDir() {
		if err := fs.initDir(e, parent, now); err != nil {
			return nil, checkpoint.Wrap(err, ErrCreate)
		}
	}

	for i := range fragments {
		if err := c.write(encodeSlot(&fragments[i])); err != nil {
			return nil, checkpoint.Wrap(err, ErrCreate)
		}
		if _, err := c.next(); err != nil {
			return nil, checkpoint.Wrap(err, ErrCreate)
		}
	}

	e.sector, e.offset = c.sector(), c.offset
	slot := fs.slotFor(e)
	if err := c.write(encodeSlot(&slot)); err != nil {
		return nil, checkpoint.Wrap(err, ErrCreate)
	}

	fs.log.WithField("name", e.Name()).WithField("short", e.ShortName()).
		WithField("cluster", e.cluster).Debug("created entry")

	if err := fs.touch(parent); err != nil {
		return nil, checkpoint.Wrap(err, ErrCreate)
	}
	return e, nil
}

// initDir allocates the first cluster of a new directory and writes "." and "..".
func (fs *Fs) initDir(e *Entry, parent *Entry, now time.Time) error {
	cluster, err := fs.allocateZeroed(0)
	if err != nil {
		return err
	}

	sector := make([]byte, SectorSize)
	dot := fs.dotSlot(dotName, cluster, now)
	dotDot := fs.dotSlot(dotDotName, parent.dirCluster(), now)
	copy(sector[0:slotSize], encodeSlot(&dot))
	copy(sector[slotSize:2*slotSize], encodeSlot(&dotDot))

	if err := fs.dev.WriteSectors(fs.geo.clusterSector(cluster), sector); err != nil {
		_ = fs.freeChain(cluster)
		return checkpoint.Wrap(err, ErrIO)
	}

	e.cluster = cluster
	e.endCluster = cluster
	return nil
}

// touch updates the write time of a directory after its content changed.
// The root has no entry of its own.
func (fs *Fs) touch(dir *Entry) error {
	if dir.root {
		return nil
	}
	now := fs.now()
	dir.modified = now
	dir.accessed = now
	return fs.updateEntry(dir)
}

// updateEntry writes the short slot of e back to its location.
// It fails with ErrNotFound if the location no longer holds the short name of e.
func (fs *Fs) updateEntry(e *Entry) error {
	if e.root {
		return nil
	}
	if fs.readOnly {
		return checkpoint.Wrap(fmt.Errorf("update %q", e.Name()), ErrReadOnly)
	}

	buffer := make([]byte, SectorSize)
	if err := fs.dev.ReadSectors(e.sector, buffer); err != nil {
		return checkpoint.Wrap(checkpoint.Wrap(err, ErrIO), ErrUpdate)
	}

	current := buffer[e.offset : e.offset+slotSize]
	if current[0] == slotFree || current[0] == slotDeleted || Attr(current[11]).isLongName() ||
		!bytes.Equal(current[:11], e.short[:]) {
		return checkpoint.Wrap(fmt.Errorf("%q is no longer stored at sector %d offset %d", e.Name(), e.sector, e.offset), ErrNotFound)
	}

	slot := fs.slotFor(e)
	copy(current, encodeSlot(&slot))
	if err := fs.dev.WriteSectors(e.sector, buffer); err != nil {
		return checkpoint.Wrap(checkpoint.Wrap(err, ErrIO), ErrUpdate)
	}
	return nil
}

// deleteEntry marks the short slot of e and its long filename fragments as
// deleted. The cluster chain stays allocated, see freeChain.
func (fs *Fs) deleteEntry(parent *Entry, e *Entry) error {
	if e.root {
		return checkpoint.Wrap(fmt.Errorf("delete"), ErrIsRoot)
	}
	if fs.readOnly {
		return checkpoint.Wrap(fmt.Errorf("delete %q", e.Name()), ErrReadOnly)
	}

	c := fs.openDir(parent.dirCluster())
	if err := c.seek(e.sector, e.offset); err != nil {
		return checkpoint.Wrap(err, ErrDelete)
	}

	raw, err := c.slot()
	if err != nil {
		return checkpoint.Wrap(err, ErrDelete)
	}
	if raw[0] == slotFree || raw[0] == slotDeleted || Attr(raw[11]).isLongName() {
		fs.forget(e)
		return checkpoint.Wrap(fmt.Errorf("%q is already deleted", e.Name()), ErrNotFound)
	}

	var short shortSlot
	decodeSlot(raw, &short)
	checksum := lfnChecksum(short.Name)

	for {
		ok, err := c.prev()
		if err != nil {
			return checkpoint.Wrap(err, ErrDelete)
		}
		if !ok {
			break
		}

		raw, err := c.slot()
		if err != nil {
			return checkpoint.Wrap(err, ErrDelete)
		}
		var fragment lfnSlot
		decodeSlot(raw, &fragment)
		if !fragment.Attribute.isLongName() || fragment.Sequence == slotDeleted || fragment.Checksum != checksum {
			break
		}

		tomb := append([]byte{}, raw...)
		tomb[0] = slotDeleted
		if err := c.write(tomb); err != nil {
			return checkpoint.Wrap(err, ErrDelete)
		}
		if fragment.Sequence&lfnLast != 0 {
			break
		}
	}

	if err := c.seek(e.sector, e.offset); err != nil {
		return checkpoint.Wrap(err, ErrDelete)
	}
	raw, err = c.slot()
	if err != nil {
		return checkpoint.Wrap(err, ErrDelete)
	}
	tomb := append([]byte{}, raw...)
	tomb[0] = slotDeleted
	if err := c.write(tomb); err != nil {
		return checkpoint.Wrap(err, ErrDelete)
	}

	fs.forget(e)
	fs.log.WithField("name", e.Name()).Debug("deleted entry")
	return nil
}

// removePath deletes a file or an empty directory and releases its clusters.
func (fs *Fs) removePath(p string) error {
	parent, name, err := fs.resolveParent(p)
	if err != nil {
		return err
	}
	e, err := fs.lookupIn(parent, name)
	if err != nil {
		return err
	}
	if err := fs.syncHandles(e); err != nil {
		return err
	}

	if e.attr.IsReadOnly() {
		return checkpoint.Wrap(fmt.Errorf("%q is read-only", e.Name()), ErrReadOnly)
	}
	if e.IsDir() {
		empty, err := fs.isEmpty(e)
		if err != nil {
			return err
		}
		if !empty {
			return checkpoint.Wrap(fmt.Errorf("%q", e.Name()), ErrDirectoryNotEmpty)
		}
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
	return fs.touch(parent)
}

// rename moves the entry at oldPath to newPath. A file at newPath is replaced.
func (fs *Fs) rename(oldPath, newPath string) error {
	if fs.readOnly {
		return checkpoint.Wrap(fmt.Errorf("rename %q", oldPath), ErrReadOnly)
	}

	srcParent, srcName, err := fs.resolveParent(oldPath)
	if err != nil {
		return err
	}
	src, err := fs.lookupIn(srcParent, srcName)
	if err != nil {
		return err
	}
	if err := fs.syncHandles(src); err != nil {
		return checkpoint.Wrap(err, ErrRename)
	}

	oldKey, newKey := cacheKey(fs.splitPath(oldPath)), cacheKey(fs.splitPath(newPath))
	if src.IsDir() && strings.HasPrefix(newKey, oldKey+"/") {
		return checkpoint.Wrap(fmt.Errorf("move %q into itself", oldPath), ErrUnsupported)
	}

	dstParent, dstName, err := fs.resolveParent(newPath)
	if err != nil {
		return err
	}

	dst, err := fs.lookupIn(dstParent, dstName)
	switch {
	case err == nil && dst.sector == src.sector && dst.offset == src.offset:
		// Same entry, only the spelling changes. The old slots have to go first,
		// otherwise the new name collides with them.
		if err := fs.deleteEntry(srcParent, src); err != nil {
			return checkpoint.Wrap(err, ErrRename)
		}
		moved, err := fs.createEntry(dstParent, dstName, src.attr, src)
		if err != nil {
			return checkpoint.Wrap(err, ErrRename)
		}
		fs.moveHandles(src, moved)
		fs.afterMove(src)
		return nil
	case err == nil && dst.IsDir():
		return checkpoint.Wrap(fmt.Errorf("%q is a directory", newPath), ErrAlreadyExists)
	case err == nil && src.IsDir():
		return checkpoint.Wrap(fmt.Errorf("%q is a file", newPath), ErrNotADirectory)
	case err == nil:
		if err := fs.syncHandles(dst); err != nil {
			return checkpoint.Wrap(err, ErrRename)
		}
		if err := fs.deleteEntry(dstParent, dst); err != nil {
			return checkpoint.Wrap(err, ErrRename)
		}
		if dst.cluster != 0 {
			if err := fs.freeChain(dst.cluster); err != nil {
				return checkpoint.Wrap(err, ErrRename)
			}
		}
		fs.detachHandles(dst)
	case !errors.Is(err, ErrNotFound):
		return checkpoint.Wrap(err, ErrRename)
	}

	moved, err := fs.createEntry(dstParent, dstName, src.attr, src)
	if err != nil {
		return checkpoint.Wrap(err, ErrRename)
	}
	if err := fs.deleteEntry(srcParent, src); err != nil {
		return checkpoint.Wrap(err, ErrRename)
	}
	fs.moveHandles(src, moved)

	if src.IsDir() && srcParent.dirCluster() != dstParent.dirCluster() {
		if err := fs.relinkParent(src, dstParent); err != nil {
			return checkpoint.Wrap(err, ErrRename)
		}
	}
	if srcParent.dirCluster() != dstParent.dirCluster() {
		if err := fs.touch(srcParent); err != nil {
			return checkpoint.Wrap(err, ErrRename)
		}
	}

	fs.afterMove(src)
	return nil
}

// afterMove drops cached paths which may point below a moved directory.
func (fs *Fs) afterMove(src *Entry) {
	if src.IsDir() {
		fs.cache.Purge()
	}
}

// relinkParent points the ".." entry of the directory dir to its new parent.
func (fs *Fs) relinkParent(dir *Entry, parent *Entry) error {
	sector := fs.geo.clusterSector(dir.cluster)
	buffer := make([]byte, SectorSize)
	if err := fs.dev.ReadSectors(sector, buffer); err != nil {
		return checkpoint.Wrap(err, ErrIO)
	}

	var dotDot shortSlot
	decodeSlot(buffer[slotSize:], &dotDot)
	if dotDot.Name != dotDotName {
		return checkpoint.Wrap(fmt.Errorf("directory at cluster %d has no \"..\" entry", dir.cluster), ErrCorrupt)
	}

	dotDot.setCluster(parent.dirCluster(), fs.geo.fatType)
	return fs.writeSlot(sector, slotSize, encodeSlot(&dotDot))
}
