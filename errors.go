package fatfs

import (
	"errors"
	"syscall"
)

// Error is a kind of failure reported by the engine.
// Each kind matches itself and its POSIX errno with errors.Is.
type Error struct {
	msg   string
	errno syscall.Errno
}

func (e *Error) Error() string {
	return e.msg
}

// Errno returns the POSIX code the kind maps to.
func (e *Error) Errno() syscall.Errno {
	return e.errno
}

func (e *Error) Is(target error) bool {
	if t, ok := target.(syscall.Errno); ok {
		return t == e.errno
	}
	return e.errno.Is(target)
}

// These errors may occur while working with the filesystem.
var (
	ErrIO                    = &Error{"device input/output failed", syscall.EIO}
	ErrNoSpace               = &Error{"no free cluster or directory slot left", syscall.ENOSPC}
	ErrNotFound              = &Error{"entry not found", syscall.ENOENT}
	ErrAlreadyExists         = &Error{"entry already exists", syscall.EEXIST}
	ErrNotADirectory         = &Error{"not a directory", syscall.ENOTDIR}
	ErrIsADirectory          = &Error{"is a directory", syscall.EISDIR}
	ErrReadOnly              = &Error{"read-only entry or filesystem", syscall.EROFS}
	ErrDirectoryNotEmpty     = &Error{"directory not empty", syscall.ENOTEMPTY}
	ErrInvalidName           = &Error{"invalid file name", syscall.ENAMETOOLONG}
	ErrTooManyNameCollisions = &Error{"short name space exhausted", syscall.EDQUOT}
	ErrCorrupt               = &Error{"corrupt filesystem structure", syscall.EIO}
	ErrUnsupported           = &Error{"unsupported filesystem", syscall.EINVAL}
	ErrIsRoot                = &Error{"operation not permitted on the root directory", syscall.EPERM}
)

// Errno maps err onto a POSIX code.
// Errors which are not created by this package map to EIO.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}

	var kind *Error
	if errors.As(err, &kind) {
		return kind.errno
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}

	return syscall.EIO
}
