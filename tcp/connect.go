//go:build !windows

package tcp

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/taskloop/taskloop/errs"
	"github.com/taskloop/taskloop/iopoll"
	"github.com/taskloop/taskloop/loop"
	"github.com/taskloop/taskloop/scheduler"
	"github.com/taskloop/taskloop/stream"
	"github.com/taskloop/taskloop/timerset"
)

// Connect creates a non-blocking socket, arms a connect() with an optional
// timeout in milliseconds (0 disables it), and suspends task until the
// connection completes. On timeout the returned stream is marked
// read_timeout and the error is errs.TimedOut, matching api_tcp_connect.
func Connect(lp *loop.Loop, task *scheduler.Task, ip string, port int, timeoutMS uint64) (*stream.Stream, error) {
	s, err := connect(lp, task, ip, port, timeoutMS)
	return s, errors.Wrapf(err, "tcp: connect %s:%d", ip, port)
}

func connect(lp *loop.Loop, task *scheduler.Task, ip string, port int, timeoutMS uint64) (*stream.Stream, error) {
	family := unix.AF_INET
	if strings.Contains(ip, ":") {
		family = unix.AF_INET6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, errs.FromOS("tcp.connect.socket", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, errs.FromOS("tcp.connect.nonblock", err)
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	sa, err := sockaddr(family, ip, port)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		_ = unix.Close(fd)
		return nil, errs.FromOS("tcp.connect", err)
	}

	s, initErr := stream.Init(stream.KindTcp, fd)
	if initErr != nil {
		_ = unix.Close(fd)
		return nil, initErr
	}
	if attachErr := s.Attach(lp); attachErr != nil {
		_ = s.Close()
		return nil, attachErr
	}

	if err == nil {
		return s, nil
	}

	if !waitConnected(lp, task, s, fd, timeoutMS) {
		_ = s.Close()
		if s.Status.Terminated {
			return s, errs.New("tcp.connect", errs.Terminate)
		}
		return s, errs.New("tcp.connect", errs.TimedOut)
	}

	if errno, serr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR); serr == nil && errno != 0 {
		connErr := errs.FromOS("tcp.connect", unix.Errno(errno))
		_ = s.Close()
		return s, connErr
	}

	return s, nil
}

// waitConnected suspends task until fd becomes writable (the readiness
// signal for connect completion), timeoutMS elapses, or the loop
// terminates. A shared FDWaiter arbitrates between the three sources so
// exactly one of them resumes task, matching api_tcp_connect's timed-out
// path on timeout and errs.Terminate the way every other fd-parked wait in
// this package does on loop shutdown.
func waitConnected(lp *loop.Loop, task *scheduler.Task, s *stream.Stream, fd int, timeoutMS uint64) bool {
	w := lp.TrackFD(fd, task)
	defer lp.UntrackFD(fd)

	var timer *timerset.Timer
	if timeoutMS > 0 {
		timer = lp.NewTimeout(timeoutMS, func() {
			s.Status.ReadTimeout = true
			lp.WakeFD(w, false)
		})
	}

	if err := lp.Poller().Attach(fd, iopoll.Write, func(iopoll.Events) {
		lp.WakeFDByFD(fd, false)
	}); err != nil {
		_ = lp.Poller().Modify(fd, iopoll.Write)
	}
	lp.Scheduler().Sleep(task)

	if timer != nil {
		lp.CancelTimeout(timer)
	}
	_ = lp.Poller().Detach(fd)

	if w.Terminated {
		s.Status.Terminated = true
	}
	return !s.Status.ReadTimeout && !w.Terminated
}
