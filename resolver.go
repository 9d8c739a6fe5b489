package fatfs

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aligator/fatfs/checkpoint"
	"github.com/aligator/fatfs/pathcache"
)

// These errors may occur while resolving paths.
var (
	ErrResolve  = errors.New("could not resolve the path")
	ErrReadDir  = errors.New("could not read the directory")
	errStaleHit = errors.New("cached location is stale")
)

// splitPath removes the mount path prefix, cleans p and splits it into segments.
// The root has no segments.
func (fs *Fs) splitPath(p string) []string {
	if fs.mountPath != "" && fs.mountPath != "/" {
		if strings.EqualFold(p, fs.mountPath) {
			p = "/"
		} else if len(p) > len(fs.mountPath) && strings.EqualFold(p[:len(fs.mountPath)+1], fs.mountPath+"/") {
			p = p[len(fs.mountPath):]
		}
	}

	p = path.Clean("/" + p)
	if p == "/" {
		return nil
	}
	return strings.Split(p[1:], "/")
}

// cacheKey is the normalized form of a path used for the path cache.
func cacheKey(segments []string) string {
	return strings.ToUpper("/" + strings.Join(segments, "/"))
}

// resolve finds the entry of a path.
func (fs *Fs) resolve(p string) (*Entry, error) {
	return fs.resolveSegments(fs.splitPath(p))
}

// resolveSegments finds the entry of an already split path. The path cache is
// consulted first, then the remaining segments are searched directory by directory.
func (fs *Fs) resolveSegments(segments []string) (*Entry, error) {
	if len(segments) == 0 {
		return fs.rootEntry(), nil
	}

	key := cacheKey(segments)
	start := fs.rootEntry()
	rest := segments

	if loc, restPath, ok := fs.cache.Lookup(key); ok {
		cached, err := fs.entryAt(loc)
		switch {
		case err == nil:
			start = cached
			rest = nil
			if restPath != "" {
				rest = strings.Split(restPath, "/")
			}
		case errors.Is(err, errStaleHit):
			fs.cache.Remove(loc)
			fs.log.WithField("path", key).Debug("dropped stale path cache entry")
		default:
			return nil, checkpoint.Wrap(err, ErrResolve)
		}
	}

	e, err := fs.walk(start, rest)
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrResolve)
	}

	if err := fs.ensureEnd(e); err != nil {
		return nil, checkpoint.Wrap(err, ErrResolve)
	}

	fs.remember(key, e)
	return e, nil
}

// resolveParent resolves the directory containing p and returns it together
// with the last segment of p.
func (fs *Fs) resolveParent(p string) (*Entry, string, error) {
	segments := fs.splitPath(p)
	if len(segments) == 0 {
		return nil, "", checkpoint.Wrap(fmt.Errorf("%q has no parent", p), ErrIsRoot)
	}

	parent, err := fs.resolveSegments(segments[:len(segments)-1])
	if err != nil {
		return nil, "", err
	}
	if !parent.IsDir() {
		return nil, "", checkpoint.Wrap(fmt.Errorf("%q is a file", parent.Name()), ErrNotADirectory)
	}
	return parent, segments[len(segments)-1], nil
}

// resolveUncached is resolve without touching the path cache.
func (fs *Fs) resolveUncached(p string) (*Entry, error) {
	e, err := fs.walk(fs.rootEntry(), fs.splitPath(p))
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrResolve)
	}
	if err := fs.ensureEnd(e); err != nil {
		return nil, checkpoint.Wrap(err, ErrResolve)
	}
	return e, nil
}

// walk follows segments starting at the directory from.
func (fs *Fs) walk(from *Entry, segments []string) (*Entry, error) {
	current := from
	for _, segment := range segments {
		next, err := fs.lookupIn(current, segment)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// remember puts a resolved entry into the path cache. The root is never cached.
func (fs *Fs) remember(key string, e *Entry) {
	if e.root {
		return
	}

	evicted, ok := fs.cache.Insert(key, pathcache.Location{
		Sector: e.sector,
		Offset: e.offset,
		Attr:   uint8(e.attr),
		Name:   e.Name(),
	})
	if ok {
		fs.log.WithField("path", evicted).Debug("evicted path from cache")
	}
}

// forget removes an entry from the path cache.
func (fs *Fs) forget(e *Entry) {
	fs.cache.Remove(pathcache.Location{
		Sector: e.sector,
		Offset: e.offset,
		Attr:   uint8(e.attr),
	})
}

// entryAt re-reads the short slot a cached location points to.
// It returns errStaleHit if the slot does not hold the same kind of entry anymore.
func (fs *Fs) entryAt(loc pathcache.Location) (*Entry, error) {
	raw := make([]byte, SectorSize)
	if err := fs.dev.ReadSectors(loc.Sector, raw); err != nil {
		return nil, checkpoint.Wrap(err, ErrIO)
	}
	if loc.Offset+slotSize > SectorSize {
		return nil, checkpoint.From(errStaleHit)
	}

	var s shortSlot
	decodeSlot(raw[loc.Offset:], &s)
	if s.Name[0] == slotFree || s.Name[0] == slotDeleted || s.Attribute.isLongName() || uint8(s.Attribute) != loc.Attr {
		return nil, checkpoint.From(errStaleHit)
	}

	e := fs.entryFromSlot(&s, "", loc.Sector, loc.Offset)
	if loc.Name != e.Name() {
		e.long = loc.Name
	}
	return e, nil
}

// lookupIn searches a single directory for name. Both the display name and the
// short name are compared case-insensitively. The path cache is not used.
func (fs *Fs) lookupIn(dir *Entry, name string) (*Entry, error) {
	if !dir.IsDir() {
		return nil, checkpoint.Wrap(fmt.Errorf("%q is a file", dir.Name()), ErrNotADirectory)
	}

	var found *Entry
	err := fs.openDir(dir.dirCluster()).scan(func(e *Entry) bool {
		if e.matches(name) {
			found = e
			return false
		}
		return true
	})
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrReadDir)
	}
	if found == nil {
		return nil, checkpoint.Wrap(fmt.Errorf("%q in %q", name, dir.Name()), ErrNotFound)
	}
	return found, nil
}

// nextEntry returns the child of dir which follows prev in on-disk order.
// With prev == nil it returns the first child. At the end it returns io.EOF.
// The end cluster of the returned entry is not computed.
func (fs *Fs) nextEntry(dir *Entry, prev *Entry) (*Entry, error) {
	if !dir.IsDir() {
		return nil, checkpoint.Wrap(fmt.Errorf("%q is a file", dir.Name()), ErrNotADirectory)
	}

	c := fs.openDir(dir.dirCluster())
	if prev != nil {
		if err := c.seek(prev.sector, prev.offset); err != nil {
			return nil, checkpoint.Wrap(err, ErrReadDir)
		}
		ok, err := c.next()
		if err != nil {
			return nil, checkpoint.Wrap(err, ErrReadDir)
		}
		if !ok {
			return nil, io.EOF
		}
	}

	var found *Entry
	if err := c.scan(func(e *Entry) bool {
		found = e
		return false
	}); err != nil {
		return nil, checkpoint.Wrap(err, ErrReadDir)
	}

	if found == nil {
		return nil, io.EOF
	}
	return found, nil
}

// isEmpty reports whether a directory has no children besides "." and "..".
func (fs *Fs) isEmpty(dir *Entry) (bool, error) {
	_, err := fs.nextEntry(dir, nil)
	if err == io.EOF {
		return true, nil
	}
	return false, err
}

// ensureEnd computes the end cluster of an entry if it is not known yet.
func (fs *Fs) ensureEnd(e *Entry) error {
	if e.root || e.cluster == 0 || e.endCluster != 0 {
		return nil
	}

	end, err := fs.chainEnd(e.cluster)
	if err != nil {
		return err
	}
	e.endCluster = end
	return nil
}
