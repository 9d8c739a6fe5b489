package blockdev

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aligator/fatfs/checkpoint"
	"github.com/spf13/afero"
)

// These errors may occur while opening an image.
var (
	ErrOpenImage   = errors.New("could not open the image")
	ErrCreateImage = errors.New("could not create the image")
)

// Image is a device backed by a disk image file on any afero.Fs.
type Image struct {
	file     afero.File
	sectors  uint32
	readOnly bool
}

// OpenImage opens an existing image. Trailing bytes which do not fill a whole
// sector are ignored.
func OpenImage(fs afero.Fs, name string, readOnly bool) (*Image, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}

	file, err := fs.OpenFile(name, flag, 0)
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrOpenImage)
	}

	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, checkpoint.Wrap(err, ErrOpenImage)
	}

	return &Image{
		file:     file,
		sectors:  uint32(stat.Size() / SectorSize),
		readOnly: readOnly,
	}, nil
}

// CreateImage creates (or truncates) an image of size bytes, rounded down to
// whole sectors. The content is zeroed.
func CreateImage(fs afero.Fs, name string, size int64) (*Image, error) {
	size -= size % SectorSize
	if size <= 0 {
		return nil, checkpoint.Wrap(fmt.Errorf("size %d", size), ErrCreateImage)
	}

	file, err := fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrCreateImage)
	}

	if err := file.Truncate(size); err != nil {
		_ = file.Close()
		return nil, checkpoint.Wrap(err, ErrCreateImage)
	}

	return &Image{
		file:    file,
		sectors: uint32(size / SectorSize),
	}, nil
}

// Sectors returns the device size in sectors.
func (i *Image) Sectors() uint32 {
	return i.sectors
}

func (i *Image) ReadSectors(start uint32, dst []byte) error {
	if i.file == nil {
		return checkpoint.From(ErrClosed)
	}
	if err := checkRange(start, dst, i.sectors); err != nil {
		return err
	}

	n, err := i.file.ReadAt(dst, int64(start)*SectorSize)
	if n == len(dst) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return checkpoint.Wrap(err, fmt.Errorf("read sector %d", start))
}

func (i *Image) WriteSectors(start uint32, src []byte) error {
	if i.file == nil {
		return checkpoint.From(ErrClosed)
	}
	if i.readOnly {
		return checkpoint.From(ErrReadOnly)
	}
	if err := checkRange(start, src, i.sectors); err != nil {
		return err
	}

	_, err := i.file.WriteAt(src, int64(start)*SectorSize)
	return checkpoint.Wrap(err, fmt.Errorf("write sector %d", start))
}

// Close syncs and closes the image file.
func (i *Image) Close() error {
	if i.file == nil {
		return nil
	}

	file := i.file
	i.file = nil

	var syncErr error
	if !i.readOnly {
		syncErr = file.Sync()
	}
	if err := file.Close(); err != nil {
		return checkpoint.From(err)
	}
	return checkpoint.From(syncErr)
}
