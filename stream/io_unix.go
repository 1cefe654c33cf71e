//go:build !windows

package stream

import "golang.org/x/sys/unix"

func platformRead(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

func platformWrite(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}

func platformClose(fd int) error {
	return unix.Close(fd)
}

func isAgain(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

func setNonblocking(fd int) error {
	return unix.SetNonblock(fd, true)
}
