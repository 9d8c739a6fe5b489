package fatfs

import (
	"errors"
	"io/fs"
	"os"
)

type GoDirEntry struct {
	fs.FileInfo
}

func (g GoDirEntry) Type() fs.FileMode {
	return g.FileInfo.Mode().Type()
}

func (g GoDirEntry) Info() (fs.FileInfo, error) {
	return g.FileInfo, nil
}

type GoFile struct {
	*File
}

func (g GoFile) ReadDir(n int) ([]fs.DirEntry, error) {
	entries, err := g.File.Readdir(n)

	goEntries := make([]fs.DirEntry, len(entries))
	for i, e := range entries {
		goEntries[i] = GoDirEntry{e}
	}

	return goEntries, err
}

// GoFs just wraps the afero FAT implementation to be compatible with fs.FS.
type GoFs struct {
	*Fs
}

// NewGoFS mounts the volume on dev as fs.FS compatible filesystem.
func NewGoFS(dev BlockDevice) (*GoFs, error) {
	fs, err := New(dev)
	if err != nil {
		return nil, err
	}

	return &GoFs{fs}, nil
}

// NewGoFSSkipChecks mounts the volume on dev just like NewGoFS but it skips some
// filesystem validations which may allow you to open not perfectly standard FAT volumes.
// Use with caution!
func NewGoFSSkipChecks(dev BlockDevice) (*GoFs, error) {
	fs, err := NewWithConfig(dev, Config{SkipChecks: true})
	if err != nil {
		return nil, err
	}

	return &GoFs{fs}, nil
}

func (g GoFs) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	file, err := g.Fs.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}

	f, ok := file.(*File)
	if !ok {
		return nil, errors.New("invalid File implementation")
	}

	return GoFile{f}, nil
}

func (g GoFs) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	return g.Fs.Stat(name)
}
