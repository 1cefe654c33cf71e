//go:build !windows

// Package tcp implements the TCP listener and connector:
// accept/connect wrapped around the same loop-owned poller and stream
// abstraction used by every other fd-backed stream kind. Grounded on
// original_source/src/api/src/unix/api_tcp.c (api_tcp_listen,
// api_tcp_accept, api_tcp_listener_accept_try, api_tcp_listener_processor).
//
// The Windows side (api_tcp.c's AcceptEx/ConnectEx completion-profile
// path) is not yet ported; see DESIGN.md.
package tcp

import (
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/taskloop/taskloop/errs"
	"github.com/taskloop/taskloop/iopoll"
	"github.com/taskloop/taskloop/loop"
	"github.com/taskloop/taskloop/scheduler"
	"github.com/taskloop/taskloop/stream"
)

// AcceptDecision lets a caller reject an accepted connection without
// handing it back, the same role api_tcp_listener_t.on_accept plays in the
// original: return false to close conn immediately and keep waiting for
// the next one.
type AcceptDecision func(conn *stream.Stream, remote net.Addr) bool

// Listener is a bound, listening TCP socket attached to a loop's poller.
// ID exists purely for log correlation across multiple listeners sharing
// one loop.
type Listener struct {
	ID uuid.UUID

	fd       int
	lp       *loop.Loop
	onAccept AcceptDecision
	closed   bool
}

// Listen resolves IPv4/IPv6 by the presence of ':' in ip (matching
// api_tcp_listen's strchr(ip, ':') branch), creates a non-blocking socket,
// tunes SO_REUSEADDR and buffer sizes, binds and listens, and takes a
// reference on lp. TCP_NODELAY is set on each accepted connection, not on
// the listening socket, and the socket is attached to lp's poller the
// first time Accept has to wait. onAccept may be nil, in which case every
// accepted connection is kept.
func Listen(lp *loop.Loop, ip string, port int, backlog int, onAccept AcceptDecision) (*Listener, error) {
	l, err := listen(lp, ip, port, backlog, onAccept)
	return l, errors.Wrapf(err, "tcp: listen %s:%d", ip, port)
}

func listen(lp *loop.Loop, ip string, port int, backlog int, onAccept AcceptDecision) (*Listener, error) {
	family := unix.AF_INET
	if strings.Contains(ip, ":") {
		family = unix.AF_INET6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, errs.FromOS("tcp.listen.socket", err)
	}

	if err := tuneSocket(fd); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, errs.FromOS("tcp.listen.nonblock", err)
	}

	sa, err := sockaddr(family, ip, port)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, errs.FromOS("tcp.listen.bind", err)
	}
	if backlog <= 0 {
		backlog = 128
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, errs.FromOS("tcp.listen.listen", err)
	}

	l := &Listener{ID: uuid.New(), fd: fd, lp: lp, onAccept: onAccept}
	lp.Ref()
	return l, nil
}

func tuneSocket(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return errs.FromOS("tcp.listen.reuseaddr", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, 1<<18); err != nil {
		return errs.FromOS("tcp.listen.rcvbuf", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, 1<<18); err != nil {
		return errs.FromOS("tcp.listen.sndbuf", err)
	}
	return nil
}

func sockaddr(family int, ip string, port int) (unix.Sockaddr, error) {
	if family == unix.AF_INET6 {
		addr := net.ParseIP(ip)
		if addr == nil {
			return nil, errs.New("tcp.listen.addr", errs.InvalidArgument)
		}
		var a16 [16]byte
		copy(a16[:], addr.To16())
		return &unix.SockaddrInet6{Port: port, Addr: a16}, nil
	}
	addr := net.ParseIP(ip)
	if addr == nil || addr.To4() == nil {
		return nil, errs.New("tcp.listen.addr", errs.InvalidArgument)
	}
	var a4 [4]byte
	copy(a4[:], addr.To4())
	return &unix.SockaddrInet4{Port: port, Addr: a4}, nil
}

// Accept suspends task until a connection is ready, then loops internally
// over accept() until one is kept by onAccept (or onAccept is nil), rather
// than returning a rejected connection to the caller and forcing it to
// call Accept again immediately. This is the corrected accept-loop
// behavior referenced in api_tcp_listener_accept_try's do-while, applied
// uniformly instead of only on the readiness profile.
func (l *Listener) Accept(task *scheduler.Task) (*stream.Stream, net.Addr, error) {
	for {
		s, addr, err := l.tryAcceptAll(task)
		if s != nil || err != nil {
			return s, addr, err
		}
		if !l.waitReadable(task) {
			return nil, nil, errs.New("tcp.accept", errs.Terminate)
		}
	}
}

// tryAcceptAll drains every currently-pending connection, applying
// onAccept to each, returning the first one kept. It returns (nil, nil,
// nil) when the backlog is drained (EAGAIN) without any connection kept.
func (l *Listener) tryAcceptAll(task *scheduler.Task) (*stream.Stream, net.Addr, error) {
	for {
		fd, sa, err := unix.Accept(l.fd)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil, nil, nil
			}
			return nil, nil, errs.FromOS("tcp.accept", err)
		}

		if err := tuneSocket(fd); err != nil {
			_ = unix.Close(fd)
			continue
		}
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fd)
			continue
		}
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

		conn, err := stream.Init(stream.KindTcp, fd)
		if err != nil {
			_ = unix.Close(fd)
			continue
		}
		if err := conn.Attach(l.lp); err != nil {
			_ = conn.Close()
			continue
		}
		remote := sockaddrToAddr(sa)

		if l.onAccept != nil && !l.onAccept(conn, remote) {
			_ = conn.Close()
			continue
		}
		return conn, remote, nil
	}
}

// waitReadable suspends task until the listener's fd is readable (a
// pending connection) or the loop terminates, tracked the same way as
// every other fd-parked wait in this module so Loop.Stop can force it
// awake even with no accept ever arriving.
func (l *Listener) waitReadable(task *scheduler.Task) bool {
	w := l.lp.TrackFD(l.fd, task)
	defer l.lp.UntrackFD(l.fd)

	if err := l.lp.Poller().Attach(l.fd, iopoll.Read, func(iopoll.Events) {
		l.lp.WakeFDByFD(l.fd, false)
	}); err != nil {
		_ = l.lp.Poller().Modify(l.fd, iopoll.Read)
	}
	l.lp.Scheduler().Sleep(task)
	return !w.Terminated && !l.closed
}

// Close detaches the listener from the poller and releases the socket.
func (l *Listener) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	_ = l.lp.Poller().Detach(l.fd)
	err := unix.Close(l.fd)
	l.lp.Unref()
	return err
}

func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]), Port: v.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]), Port: v.Port}
	default:
		return nil
	}
}
