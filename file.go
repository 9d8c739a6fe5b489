package fatfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/aligator/fatfs/checkpoint"
	"github.com/spf13/afero"
)

// These errors may occur while processing a file.
var (
	ErrSeekFile  = errors.New("could not seek inside of the file")
	ErrFileClose = errors.New("could not write back the file entry")
)

// File is an opened file or directory of a Fs. It implements afero.File.
type File struct {
	fs    *Fs
	name  string
	entry *Entry
	flag  int

	offset int64
	// dirty is set if the entry has to be written back.
	dirty  bool
	closed bool

	// detached is set once the entry was removed while the file was open.
	detached bool

	// dirPrev is the last entry returned by Readdir, nil before the first call.
	dirPrev *Entry
	dirDone bool
}

var _ afero.File = (*File)(nil)

func (f *File) writable() bool {
	return f.flag&(os.O_WRONLY|os.O_RDWR) != 0
}

func (f *File) readable() bool {
	return f.flag&os.O_WRONLY == 0
}

// fail converts err like Fs.pathError but keeps io.EOF untouched.
func (f *File) fail(op string, err error) error {
	if err == nil || err == io.EOF {
		return err
	}
	if errors.Is(err, os.ErrClosed) {
		return &os.PathError{Op: op, Path: f.name, Err: os.ErrClosed}
	}
	return f.fs.pathError(op, f.name, err)
}

// flush writes the entry back if it changed.
func (f *File) flush() error {
	if !f.dirty || f.detached {
		return nil
	}
	if err := f.fs.updateEntry(f.entry); err != nil {
		return checkpoint.Wrap(err, ErrFileClose)
	}
	f.dirty = false
	return nil
}

func (f *File) Close() error {
	f.fs.lock.Lock()
	defer f.fs.lock.Unlock()

	if f.closed {
		return f.fail("close", checkpoint.From(os.ErrClosed))
	}
	f.closed = true
	delete(f.fs.handles, f)

	if f.detached {
		if f.entry.cluster == 0 {
			return nil
		}
		return f.fail("close", f.fs.freeChain(f.entry.cluster))
	}
	return f.fail("close", f.flush())
}

func (f *File) Read(p []byte) (n int, err error) {
	f.fs.lock.Lock()
	defer f.fs.lock.Unlock()

	if err := f.checkRead(); err != nil {
		return 0, f.fail("read", err)
	}

	n, err = f.fs.readData(f.entry, p, f.offset)
	f.offset += int64(n)
	return n, f.fail("read", err)
}

// ReadAt reads len(p) bytes at off. It returns io.EOF if less than len(p) bytes could be read.
func (f *File) ReadAt(p []byte, off int64) (n int, err error) {
	f.fs.lock.Lock()
	defer f.fs.lock.Unlock()

	if err := f.checkRead(); err != nil {
		return 0, f.fail("read", err)
	}
	if off < 0 {
		return 0, f.fail("read", checkpoint.Wrap(fmt.Errorf("negative offset %d", off), ErrUnsupported))
	}

	n, err = f.fs.readData(f.entry, p, off)
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, f.fail("read", err)
}

func (f *File) checkRead() error {
	switch {
	case f.closed:
		return checkpoint.From(os.ErrClosed)
	case f.entry.IsDir():
		return checkpoint.Wrap(fmt.Errorf("%q", f.name), ErrIsADirectory)
	case !f.readable():
		return checkpoint.From(syscall.EBADF)
	}
	return nil
}

// Seek jumps to a specific offset in the file. This affects all Read and Write
// operations except ReadAt and WriteAt. Seeking after the end is allowed, a
// following write fills the gap with zeros.
// May return a syscall.EINVAL error if the whence value or the offset is invalid.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.fs.lock.Lock()
	defer f.fs.lock.Unlock()

	if f.closed {
		return 0, f.fail("seek", checkpoint.From(os.ErrClosed))
	}

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset = f.offset + offset
	case io.SeekEnd:
		offset = f.entry.Size() + offset
	default:
		return 0, f.fail("seek", checkpoint.Wrapf(ErrSeekFile, ErrUnsupported, "offset: %v, whence: %v", offset, whence))
	}

	if offset < 0 {
		return 0, f.fail("seek", checkpoint.Wrapf(ErrSeekFile, ErrUnsupported, "offset: %v, whence: %v", offset, whence))
	}

	f.offset = offset
	return offset, nil
}

func (f *File) Write(p []byte) (n int, err error) {
	f.fs.lock.Lock()
	defer f.fs.lock.Unlock()

	if err := f.checkWrite(); err != nil {
		return 0, f.fail("write", err)
	}

	if f.flag&os.O_APPEND != 0 {
		f.offset = f.entry.Size()
	}

	n, err = f.fs.writeData(f.entry, p, f.offset)
	f.offset += int64(n)
	f.dirty = true
	return n, f.fail("write", err)
}

func (f *File) WriteAt(p []byte, off int64) (n int, err error) {
	f.fs.lock.Lock()
	defer f.fs.lock.Unlock()

	if err := f.checkWrite(); err != nil {
		return 0, f.fail("write", err)
	}
	if f.flag&os.O_APPEND != 0 {
		return 0, f.fail("write", checkpoint.Wrap(fmt.Errorf("WriteAt on a file opened with O_APPEND"), ErrUnsupported))
	}

	n, err = f.fs.writeData(f.entry, p, off)
	f.dirty = true
	return n, f.fail("write", err)
}

func (f *File) checkWrite() error {
	switch {
	case f.closed:
		return checkpoint.From(os.ErrClosed)
	case !f.writable():
		return checkpoint.From(syscall.EBADF)
	case f.fs.readOnly:
		return checkpoint.From(ErrReadOnly)
	}
	return nil
}

func (f *File) Name() string {
	return f.name
}

// Readdir reads the contents of a directory in on-disk order.
// With count > 0 at most count entries are returned and io.EOF marks the end.
// Otherwise all remaining entries are returned.
// May return syscall.ENOTDIR if the current File is no directory.
func (f *File) Readdir(count int) ([]os.FileInfo, error) {
	f.fs.lock.Lock()
	defer f.fs.lock.Unlock()

	if f.closed {
		return nil, f.fail("readdir", checkpoint.From(os.ErrClosed))
	}
	if !f.entry.IsDir() {
		return nil, f.fail("readdir", checkpoint.Wrap(fmt.Errorf("%q", f.name), ErrNotADirectory))
	}

	var result []os.FileInfo
	for !f.dirDone && (count <= 0 || len(result) < count) {
		e, err := f.fs.nextEntry(f.entry, f.dirPrev)
		if err == io.EOF {
			f.dirDone = true
			break
		}
		if err != nil {
			return result, f.fail("readdir", err)
		}

		f.dirPrev = e
		result = append(result, e.FileInfo())
	}

	if count > 0 && len(result) == 0 {
		return result, io.EOF
	}
	if result == nil {
		result = []os.FileInfo{}
	}
	return result, nil
}

func (f *File) Readdirnames(count int) ([]string, error) {
	content, err := f.Readdir(count)

	names := make([]string, len(content))
	for i, entry := range content {
		names[i] = entry.Name()
	}

	return names, err
}

func (f *File) Stat() (os.FileInfo, error) {
	f.fs.lock.Lock()
	defer f.fs.lock.Unlock()

	if f.closed {
		return nil, f.fail("stat", checkpoint.From(os.ErrClosed))
	}
	return f.entry.FileInfo(), nil
}

// Sync writes the directory entry back if the size or the times changed.
// The content is written to the device immediately by Write.
func (f *File) Sync() error {
	f.fs.lock.Lock()
	defer f.fs.lock.Unlock()

	if f.closed {
		return f.fail("sync", checkpoint.From(os.ErrClosed))
	}
	return f.fail("sync", f.flush())
}

func (f *File) Truncate(size int64) error {
	f.fs.lock.Lock()
	defer f.fs.lock.Unlock()

	if err := f.checkWrite(); err != nil {
		return f.fail("truncate", err)
	}
	if f.entry.IsDir() {
		return f.fail("truncate", checkpoint.Wrap(fmt.Errorf("%q", f.name), ErrIsADirectory))
	}

	err := f.fs.truncateData(f.entry, size)
	f.dirty = true
	return f.fail("truncate", err)
}

func (f *File) WriteString(s string) (ret int, err error) {
	return f.Write([]byte(s))
}
