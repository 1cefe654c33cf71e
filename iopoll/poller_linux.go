//go:build linux

package iopoll

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

const maxFDs = 65536

type fdInfo struct {
	callback Callback
	events   Events
	active   bool
}

// EpollPoller is the readiness-profile Poller for Linux.
type EpollPoller struct {
	epfd     int
	version  atomic.Uint64
	eventBuf [256]unix.EpollEvent
	fds      [maxFDs]fdInfo
	closed   atomic.Bool
	wakeFD   int
	onWake   func()
}

// New creates and initializes an epoll-backed Poller, including the
// eventfd used to implement PostWake. onWake, if non-nil, runs inline
// every time the wake fd fires, after its bytes are drained — this is
// where a loop wires in draining its async.Channel, mirroring the
// original's api_async_processor being the epoll handler for the async
// eventfd.
func New(onWake func()) (*EpollPoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	p := &EpollPoller{epfd: epfd, onWake: onWake}

	wakeFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	p.wakeFD = wakeFD
	if err := p.Attach(wakeFD, Read, p.drainWake); err != nil {
		unix.Close(wakeFD)
		unix.Close(epfd)
		return nil, err
	}
	return p, nil
}

func (p *EpollPoller) drainWake(Events) {
	var buf [8]byte
	for {
		_, err := unix.Read(p.wakeFD, buf[:])
		if err != nil {
			break
		}
	}
	if p.onWake != nil {
		p.onWake()
	}
}

func (p *EpollPoller) Attach(fd int, events Events, cb Callback) error {
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

	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		p.fds[fd] = fdInfo{}
		return err
	}
	return nil
}

func (p *EpollPoller) Detach(fd int) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	if !p.fds[fd].active {
		return ErrFDNotRegistered
	}

	p.fds[fd] = fdInfo{}
	p.version.Add(1)
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *EpollPoller) Modify(fd int, events Events) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	if !p.fds[fd].active {
		return ErrFDNotRegistered
	}

	p.fds[fd].events = events
	p.version.Add(1)

	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *EpollPoller) Wait(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollerClosed
	}

	v := p.version.Load()

	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	if p.version.Load() != v {
		// A concurrent Attach/Detach/Modify raced the syscall; results may
		// describe stale fds, so discard this batch rather than dispatch.
		return 0, nil
	}

	p.dispatch(n)
	return n, nil
}

func (p *EpollPoller) dispatch(n int) {
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		if fd < 0 || fd >= maxFDs {
			continue
		}
		info := &p.fds[fd]
		if info.active && info.callback != nil {
			info.callback(epollToEvents(p.eventBuf[i].Events))
		}
	}
}

func (p *EpollPoller) PostWake() error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	var val [8]byte
	val[0] = 1
	_, err := unix.Write(p.wakeFD, val[:])
	return err
}

func (p *EpollPoller) Close() error {
	p.closed.Store(true)
	unix.Close(p.wakeFD)
	return unix.Close(p.epfd)
}

func eventsToEpoll(events Events) uint32 {
	var e uint32
	if events&Read != 0 {
		e |= unix.EPOLLIN
	}
	if events&Write != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToEvents(e uint32) Events {
	var events Events
	if e&unix.EPOLLIN != 0 {
		events |= Read
	}
	if e&unix.EPOLLOUT != 0 {
		events |= Write
	}
	if e&unix.EPOLLERR != 0 {
		events |= Error
	}
	if e&unix.EPOLLHUP != 0 {
		events |= Hangup
	}
	return events
}
