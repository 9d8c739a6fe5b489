package fatfs

import (
	"os"
	"time"
)

// FileInfo returns the entry as os.FileInfo. Sys returns the *Entry.
func (e *Entry) FileInfo() os.FileInfo {
	return entryFileInfo{e}
}

type entryFileInfo struct {
	entry *Entry
}

func (e entryFileInfo) Name() string {
	return e.entry.Name()
}

func (e entryFileInfo) Size() int64 {
	return e.entry.Size()
}

// Mode is derived from the attributes. FAT knows no permissions besides the
// read-only attribute, which removes the write bits.
func (e entryFileInfo) Mode() os.FileMode {
	mode := os.FileMode(0666)
	if e.IsDir() {
		mode = os.ModeDir | 0777
	}
	if e.entry.Attr().IsReadOnly() {
		mode &^= 0222
	}
	return mode
}

func (e entryFileInfo) ModTime() time.Time {
	return e.entry.ModTime()
}

func (e entryFileInfo) IsDir() bool {
	return e.entry.IsDir()
}

func (e entryFileInfo) Sys() interface{} {
	return e.entry
}
