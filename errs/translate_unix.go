//go:build !windows

package errs

import (
	"errors"
	"io"

	"golang.org/x/sys/unix"
)

// FromOS translates an OS-boundary error (typically wrapping a
// unix.Errno, or io.EOF) into the closed taxonomy for operation op.
func FromOS(op string, err error) *Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return New(op, IOError)
	}
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return New(op, IOError)
	}
	switch errno {
	case 0:
		return nil
	case unix.EPERM:
		return New(op, NotPermitted)
	case unix.ENOENT:
		return New(op, NotFound)
	case unix.EIO:
		return New(op, IOError)
	case unix.EBADF:
		return New(op, BadFile)
	case unix.EAGAIN:
		return New(op, TemporaryUnavailable)
	case unix.ENOMEM:
		return New(op, NoMemory)
	case unix.EACCES:
		return New(op, AccessDenied)
	case unix.EFAULT:
		return New(op, Fault)
	case unix.EEXIST:
		return New(op, AlreadyExists)
	case unix.ENODEV:
		return New(op, NoDevice)
	case unix.EINVAL:
		return New(op, InvalidArgument)
	case unix.ENFILE:
		return New(op, Limit)
	case unix.EMFILE:
		return New(op, TooManyFiles)
	case unix.ENOTTY:
		return New(op, NotTypewriter)
	case unix.ENOSPC:
		return New(op, NoSpace)
	case unix.EADDRINUSE:
		return New(op, AddressInUse)
	case unix.ETIMEDOUT:
		return New(op, TimedOut)
	default:
		return New(op, IOError)
	}
}
