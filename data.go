package fatfs

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/aligator/fatfs/checkpoint"
)

// These errors may occur while accessing file content.
var (
	ErrReadFile  = errors.New("could not read the file content")
	ErrWriteFile = errors.New("could not write the file content")
	ErrTruncate  = errors.New("could not change the file size")
)

// clusterFor returns the cluster with the given index in the chain of e.
// Sequential access reuses the position of the previous call.
func (fs *Fs) clusterFor(e *Entry, index uint32) (uint32, error) {
	from, skip := e.cluster, index
	if e.curCluster != 0 && e.curIndex <= index {
		from, skip = e.curCluster, index-e.curIndex
	}

	cluster, err := fs.clusterAt(from, skip)
	if err != nil {
		return 0, err
	}
	e.curCluster, e.curIndex = cluster, index
	return cluster, nil
}

// dataSector locates the byte at pos of the content of e.
func (fs *Fs) dataSector(e *Entry, pos int64) (sector uint32, inSector int, sectorsLeft int, err error) {
	bpc := int64(fs.geo.bytesPerCluster)
	cluster, err := fs.clusterFor(e, uint32(pos/bpc))
	if err != nil {
		return 0, 0, 0, err
	}

	inCluster := pos % bpc
	sector = fs.geo.clusterSector(cluster) + uint32(inCluster/SectorSize)
	sectorsLeft = int((bpc - inCluster) / SectorSize)
	return sector, int(inCluster % SectorSize), sectorsLeft, nil
}

// readData reads the content of e at off into p. Reads are clamped to the file size.
// It returns io.EOF only if nothing could be read because off is at or after the end.
func (fs *Fs) readData(e *Entry, p []byte, off int64) (int, error) {
	size := int64(e.size)
	if off >= size {
		return 0, io.EOF
	}
	if int64(len(p)) > size-off {
		p = p[:size-off]
	}

	var buffer []byte
	n := 0
	for n < len(p) {
		sector, inSector, sectorsLeft, err := fs.dataSector(e, off+int64(n))
		if err != nil {
			return n, checkpoint.Wrap(err, ErrReadFile)
		}
		rest := p[n:]

		// Whole sectors go directly into p.
		if inSector == 0 && len(rest) >= SectorSize {
			count := min(len(rest)/SectorSize, sectorsLeft)
			if err := fs.dev.ReadSectors(sector, rest[:count*SectorSize]); err != nil {
				return n, checkpoint.Wrap(checkpoint.Wrap(err, ErrIO), ErrReadFile)
			}
			n += count * SectorSize
			continue
		}

		if buffer == nil {
			buffer = make([]byte, SectorSize)
		}
		if err := fs.dev.ReadSectors(sector, buffer); err != nil {
			return n, checkpoint.Wrap(checkpoint.Wrap(err, ErrIO), ErrReadFile)
		}
		n += copy(rest, buffer[inSector:])
	}
	return n, nil
}

// reserve extends the chain of e until it can hold size bytes.
func (fs *Fs) reserve(e *Entry, size int64) error {
	bpc := int64(fs.geo.bytesPerCluster)
	have := (int64(e.size) + bpc - 1) / bpc
	need := (size + bpc - 1) / bpc
	if have >= need {
		return nil
	}

	if err := fs.ensureEnd(e); err != nil {
		return err
	}
	for ; have < need; have++ {
		cluster, err := fs.allocate(e.endCluster)
		if err != nil {
			return err
		}
		if e.cluster == 0 {
			e.cluster = cluster
		}
		e.endCluster = cluster
	}
	return nil
}

// writeData writes p at off into the content of e. A gap between the current
// end and off is filled with zeros. The entry itself is not written back.
func (fs *Fs) writeData(e *Entry, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, checkpoint.Wrap(fmt.Errorf("negative offset %d", off), ErrUnsupported)
	}
	if off+int64(len(p)) > math.MaxUint32 {
		return 0, checkpoint.Wrap(fmt.Errorf("file would grow to %d bytes", off+int64(len(p))), ErrNoSpace)
	}

	bpc := int64(fs.geo.bytesPerCluster)
	for int64(e.size) < off {
		gap := make([]byte, min(off-int64(e.size), bpc))
		if _, err := fs.writeAt(e, gap, int64(e.size)); err != nil {
			return 0, err
		}
	}
	return fs.writeAt(e, p, off)
}

// writeAt is writeData for an offset which is not after the end of the file.
func (fs *Fs) writeAt(e *Entry, p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if err := fs.reserve(e, end); err != nil {
		return 0, checkpoint.Wrap(err, ErrWriteFile)
	}

	var buffer []byte
	n := 0
	for n < len(p) {
		sector, inSector, sectorsLeft, err := fs.dataSector(e, off+int64(n))
		if err != nil {
			return n, checkpoint.Wrap(err, ErrWriteFile)
		}
		rest := p[n:]

		if inSector == 0 && len(rest) >= SectorSize {
			count := min(len(rest)/SectorSize, sectorsLeft)
			if err := fs.dev.WriteSectors(sector, rest[:count*SectorSize]); err != nil {
				return n, checkpoint.Wrap(checkpoint.Wrap(err, ErrIO), ErrWriteFile)
			}
			n += count * SectorSize
			continue
		}

		// Partial sector: read, modify, write.
		if buffer == nil {
			buffer = make([]byte, SectorSize)
		}
		if err := fs.dev.ReadSectors(sector, buffer); err != nil {
			return n, checkpoint.Wrap(checkpoint.Wrap(err, ErrIO), ErrWriteFile)
		}
		copied := copy(buffer[inSector:], rest)
		if err := fs.dev.WriteSectors(sector, buffer); err != nil {
			return n, checkpoint.Wrap(checkpoint.Wrap(err, ErrIO), ErrWriteFile)
		}
		n += copied
	}

	if end > int64(e.size) {
		e.size = uint32(end)
	}
	e.modified = fs.now()
	e.accessed = e.modified
	return n, nil
}

// truncateData changes the size of e. Growing fills with zeros, shrinking
// releases the clusters which are not needed anymore.
func (fs *Fs) truncateData(e *Entry, size int64) error {
	if size < 0 {
		return checkpoint.Wrap(fmt.Errorf("negative size %d", size), ErrUnsupported)
	}

	current := int64(e.size)
	if size == current {
		return nil
	}
	if size > current {
		_, err := fs.writeData(e, nil, size)
		return checkpoint.Wrap(err, ErrTruncate)
	}

	bpc := int64(fs.geo.bytesPerCluster)
	keep := uint32((size + bpc - 1) / bpc)
	if keep == 0 {
		if e.cluster != 0 {
			if err := fs.freeChain(e.cluster); err != nil {
				return checkpoint.Wrap(err, ErrTruncate)
			}
		}
		e.cluster = 0
		e.endCluster = 0
	} else {
		if err := fs.truncateChain(e.cluster, keep); err != nil {
			return checkpoint.Wrap(err, ErrTruncate)
		}
		end, err := fs.clusterAt(e.cluster, keep-1)
		if err != nil {
			return checkpoint.Wrap(err, ErrTruncate)
		}
		e.endCluster = end
	}

	e.size = uint32(size)
	e.curCluster, e.curIndex = 0, 0
	e.modified = fs.now()
	e.accessed = e.modified
	return nil
}
