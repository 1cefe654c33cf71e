//go:build darwin

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

// KqueuePoller is the readiness-profile Poller for Darwin.
type KqueuePoller struct {
	kq          int
	version     atomic.Uint64
	eventBuf    [256]unix.Kevent_t
	fds         [maxFDs]fdInfo
	closed      atomic.Bool
	wakeR, wakeW int
	onWake      func()
}

// New creates and initializes a kqueue-backed Poller, including the
// self-pipe used to implement PostWake (kqueue has no portable eventfd
// analogue, so a pipe registered for EVFILT_READ takes its place). onWake,
// if non-nil, runs inline every time the wake pipe fires, after it is
// drained.
func New(onWake func()) (*KqueuePoller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	p := &KqueuePoller{kq: kq, onWake: onWake}

	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		unix.Close(kq)
		return nil, err
	}
	p.wakeR, p.wakeW = fds[0], fds[1]
	unix.SetNonblock(p.wakeR, true)
	unix.SetNonblock(p.wakeW, true)

	if err := p.Attach(p.wakeR, Read, p.drainWake); err != nil {
		unix.Close(p.wakeR)
		unix.Close(p.wakeW)
		unix.Close(kq)
		return nil, err
	}
	return p, nil
}

func (p *KqueuePoller) drainWake(Events) {
	var buf [64]byte
	for {
		_, err := unix.Read(p.wakeR, buf[:])
		if err != nil {
			break
		}
	}
	if p.onWake != nil {
		p.onWake()
	}
}

func (p *KqueuePoller) Attach(fd int, events Events, cb Callback) error {
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

	kevents := eventsToKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE)
	if len(kevents) > 0 {
		if _, err := unix.Kevent(p.kq, kevents, nil, nil); err != nil {
			p.fds[fd] = fdInfo{}
			return err
		}
	}
	return nil
}

func (p *KqueuePoller) Detach(fd int) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	if !p.fds[fd].active {
		return ErrFDNotRegistered
	}

	events := p.fds[fd].events
	p.fds[fd] = fdInfo{}
	p.version.Add(1)

	kevents := eventsToKevents(fd, events, unix.EV_DELETE)
	if len(kevents) > 0 {
		unix.Kevent(p.kq, kevents, nil, nil)
	}
	return nil
}

func (p *KqueuePoller) Modify(fd int, events Events) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	if !p.fds[fd].active {
		return ErrFDNotRegistered
	}

	old := p.fds[fd].events
	p.fds[fd].events = events
	p.version.Add(1)

	if del := old &^ events; del != 0 {
		if kevents := eventsToKevents(fd, del, unix.EV_DELETE); len(kevents) > 0 {
			unix.Kevent(p.kq, kevents, nil, nil)
		}
	}
	if add := events &^ old; add != 0 {
		if kevents := eventsToKevents(fd, add, unix.EV_ADD|unix.EV_ENABLE); len(kevents) > 0 {
			if _, err := unix.Kevent(p.kq, kevents, nil, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *KqueuePoller) Wait(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollerClosed
	}

	v := p.version.Load()

	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(timeoutMs / 1000),
			Nsec: int64((timeoutMs % 1000) * 1000000),
		}
	}

	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	if p.version.Load() != v {
		return 0, nil
	}

	p.dispatch(n)
	return n, nil
}

func (p *KqueuePoller) dispatch(n int) {
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Ident)
		if fd < 0 || fd >= maxFDs {
			continue
		}
		info := &p.fds[fd]
		if info.active && info.callback != nil {
			info.callback(keventToEvents(&p.eventBuf[i]))
		}
	}
}

func (p *KqueuePoller) PostWake() error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	_, err := unix.Write(p.wakeW, []byte{1})
	return err
}

func (p *KqueuePoller) Close() error {
	p.closed.Store(true)
	unix.Close(p.wakeR)
	unix.Close(p.wakeW)
	return unix.Close(p.kq)
}

func eventsToKevents(fd int, events Events, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t
	if events&Read != 0 {
		kevents = append(kevents, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if events&Write != 0 {
		kevents = append(kevents, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return kevents
}

func keventToEvents(kev *unix.Kevent_t) Events {
	var events Events
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= Read
	case unix.EVFILT_WRITE:
		events |= Write
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		events |= Error
	}
	if kev.Flags&unix.EV_EOF != 0 {
		events |= Hangup
	}
	return events
}
