//go:build windows

package errs

import (
	"errors"
	"io"

	"golang.org/x/sys/windows"
)

// FromOS translates an OS-boundary error into the closed taxonomy for
// operation op.
func FromOS(op string, err error) *Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return New(op, IOError)
	}
	var errno windows.Errno
	if !errors.As(err, &errno) {
		return New(op, IOError)
	}
	switch errno {
	case 0:
		return nil
	case windows.ERROR_ACCESS_DENIED:
		return New(op, AccessDenied)
	case windows.ERROR_FILE_NOT_FOUND, windows.ERROR_PATH_NOT_FOUND:
		return New(op, NotFound)
	case windows.ERROR_INVALID_HANDLE:
		return New(op, BadFile)
	case windows.ERROR_NOT_ENOUGH_MEMORY, windows.ERROR_OUTOFMEMORY:
		return New(op, NoMemory)
	case windows.ERROR_INVALID_PARAMETER:
		return New(op, InvalidArgument)
	case windows.ERROR_FILE_EXISTS, windows.ERROR_ALREADY_EXISTS:
		return New(op, AlreadyExists)
	case windows.ERROR_TOO_MANY_OPEN_FILES:
		return New(op, TooManyFiles)
	case windows.ERROR_DISK_FULL:
		return New(op, NoSpace)
	case windows.WSAEADDRINUSE:
		return New(op, AddressInUse)
	case windows.WSAETIMEDOUT:
		return New(op, TimedOut)
	default:
		return New(op, IOError)
	}
}
