//go:build windows

package stream

import "golang.org/x/sys/windows"

func platformRead(fd int, buf []byte) (int, error) {
	var n uint32
	err := windows.ReadFile(windows.Handle(fd), buf, &n, nil)
	return int(n), err
}

func platformWrite(fd int, buf []byte) (int, error) {
	var n uint32
	err := windows.WriteFile(windows.Handle(fd), buf, &n, nil)
	return int(n), err
}

func platformClose(fd int) error {
	return windows.CloseHandle(windows.Handle(fd))
}

func isAgain(err error) bool {
	return err == windows.ERROR_IO_PENDING
}

func setNonblocking(fd int) error {
	// IOCP handles are already overlapped/asynchronous by construction; no
	// separate nonblocking flag exists for a Win32 HANDLE the way it does
	// for a POSIX fd.
	return nil
}
