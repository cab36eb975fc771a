package cftpfs

import (
	"errors"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"
)

// Sentinel errors the dispatcher maps onto fuse.Status. Anything else
// reaching the dispatcher is treated as an I/O failure (fuse.EIO), since
// it represents a condition the spec didn't anticipate; statusFor itself
// does not log it.
var (
	ErrNoSuchFile        = errors.New("no such file")
	ErrBadFileDescriptor = errors.New("bad file descriptor")
	ErrIsDirectory       = errors.New("is a directory")
	ErrNotDirectory      = errors.New("not a directory")
)

// statusFor maps an internal error onto the fuse.Status the kernel expects
// back from a callback, per spec §7's error table. A nil error maps to OK.
func statusFor(err error) fuse.Status {
	switch {
	case err == nil:
		return fuse.OK
	case errors.Is(err, ErrNoSuchFile):
		return fuse.ENOENT
	case errors.Is(err, ErrBadFileDescriptor):
		return fuse.Status(syscall.EBADF)
	case errors.Is(err, ErrTooManyOpenFiles):
		return fuse.Status(syscall.EMFILE)
	case errors.Is(err, ErrIsDirectory):
		return fuse.Status(syscall.EISDIR)
	case errors.Is(err, ErrNotDirectory):
		return fuse.Status(syscall.ENOTDIR)
	default:
		return fuse.EIO
	}
}
