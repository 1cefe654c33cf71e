//go:build windows

package iopoll

import (
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/windows"
)

const maxFDs = 65536

type fdInfo struct {
	callback Callback
	events   Events
	active   bool
}

// IOCPPoller is the completion-profile Poller for Windows.
type IOCPPoller struct {
	iocp    windows.Handle
	version atomic.Uint64
	fds     [maxFDs]fdInfo
	closed  atomic.Bool
	onWake  func()
}

// New creates and initializes an IOCP-backed Poller. Unlike the readiness
// profile, no extra wake fd is needed: PostWake posts a zero-key
// completion packet directly, which Wait recognizes, swallows, and uses
// to invoke onWake (if non-nil) — the completion-profile equivalent of
// the readiness profile's wake-fd callback.
func New(onWake func()) (*IOCPPoller, error) {
	iocp, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, err
	}
	return &IOCPPoller{iocp: iocp, onWake: onWake}, nil
}

func (p *IOCPPoller) Attach(fd int, events Events, cb Callback) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	if p.fds[fd].active {
		return ErrFDAlreadyRegistered
	}

	p.fds[fd] = fdInfo{callback: cb, events: events, active: true}
	p.version.Add(1)

	handle := windows.Handle(fd)
	if _, err := windows.CreateIoCompletionPort(handle, p.iocp, uintptr(fd), 0); err != nil {
		p.fds[fd] = fdInfo{}
		return err
	}
	return nil
}

func (p *IOCPPoller) Detach(fd int) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	if !p.fds[fd].active {
		return ErrFDNotRegistered
	}
	p.fds[fd] = fdInfo{}
	p.version.Add(1)
	return nil
}

func (p *IOCPPoller) Modify(fd int, events Events) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	if !p.fds[fd].active {
		return ErrFDNotRegistered
	}
	p.fds[fd].events = events
	p.version.Add(1)
	return nil
}

func (p *IOCPPoller) Wait(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollerClosed
	}

	var timeout uint32
	if timeoutMs >= 0 {
		timeout = uint32(timeoutMs)
	} else {
		timeout = windows.INFINITE
	}

	var bytes uint32
	var key uintptr
	var overlapped *windows.Overlapped

	err := windows.GetQueuedCompletionStatus(p.iocp, &bytes, &key, &overlapped, timeout)
	if err != nil {
		if errno, ok := err.(syscall.Errno); ok {
			if errno == windows.WAIT_TIMEOUT {
				return 0, nil
			}
			if errno == windows.ERROR_ABANDONED_WAIT_0 || errno == windows.ERROR_INVALID_HANDLE {
				return 0, ErrPollerClosed
			}
		}
		return 0, nil
	}

	if overlapped == nil && key == 0 {
		// This is a PostWake notification, not an I/O completion.
		if p.onWake != nil {
			p.onWake()
		}
		return 0, nil
	}

	fd := int(key)
	if fd < 0 || fd >= maxFDs {
		return 0, nil
	}
	info := &p.fds[fd]
	if info.active && info.callback != nil {
		info.callback(info.events)
		return 1, nil
	}
	return 0, nil
}

func (p *IOCPPoller) PostWake() error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	return windows.PostQueuedCompletionStatus(p.iocp, 0, 0, nil)
}

func (p *IOCPPoller) Close() error {
	p.closed.Store(true)
	return windows.CloseHandle(p.iocp)
}
