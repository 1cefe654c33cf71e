package stream

import (
	"io"
	"time"

	"github.com/taskloop/taskloop/errs"
	"github.com/taskloop/taskloop/iopoll"
	"github.com/taskloop/taskloop/loop"
	"github.com/taskloop/taskloop/scheduler"
	"github.com/taskloop/taskloop/timerset"
)

// Kind selects which capability a Stream wraps. Grounded on
// api_stream_type_t.
type Kind int

const (
	KindMemory Kind = iota
	KindFile
	KindTcp
	KindUdp
	KindTty
	KindPipe
)

// Status mirrors api_stream_t's failure-reason bitfield.
type Status struct {
	EOF         bool
	Closed      bool
	PeerClosed  bool
	Terminated  bool
	ReadTimeout bool
	WriteTimeout bool
	Err         error
}

type bandwidthCounter struct {
	bytes    uint64
	periodMS uint64
}

// Bandwidth reports total bytes transferred and total milliseconds spent
// performing the operation, matching api_stream_t's write_bandwidth /
// read_bandwidth pair.
type Bandwidth struct {
	Bytes    uint64
	PeriodMS uint64
}

// Stream is the capability-polymorphic I/O abstraction: Memory, File, Tcp,
// Udp, Tty and Pipe streams all share this one Read/Write/Unread/Close
// surface and filter chain.
type Stream struct {
	fd   int
	kind Kind
	lp   *loop.Loop

	filterHead *Filter
	tail       *Filter

	Status Status

	readTimeoutMS, writeTimeoutMS uint64
	writeBandwidth, readBandwidth bandwidthCounter

	unreadBuf []byte
	unreadOff int

	readOffset, writeOffset uint64 // KindFile only

	curTask      *scheduler.Task
	pollAttached bool
	closer       func() error
}

func newStream(kind Kind, fd int) *Stream {
	s := &Stream{kind: kind, fd: fd}
	s.tail = newFilter()
	s.tail.stream = s
	s.tail.OnReadTimeout = func(*Filter) { s.Status.ReadTimeout = true }
	s.tail.OnWriteTimeout = func(*Filter) { s.Status.WriteTimeout = true }
	s.tail.OnError = func(_ *Filter, err error) { s.Status.Err = err }
	s.tail.OnPeerClosed = func(*Filter) { s.Status.PeerClosed = true }
	s.tail.OnClosed = func(*Filter) { s.Status.Closed = true }
	s.tail.OnTerminate = func(*Filter) { s.Status.Terminated = true }
	s.filterHead = s.tail
	return s
}

// Init wraps an already-open, OS-level descriptor (a TCP/UDP socket, a
// pipe end, or a tty) as a Stream. The descriptor is put into
// non-blocking mode; actual reads/writes are driven through the owning
// loop's Poller once Attach is called.
func Init(kind Kind, fd int) (*Stream, error) {
	if err := setNonblocking(fd); err != nil {
		return nil, errs.FromOS("stream.init", err)
	}
	s := newStream(kind, fd)
	s.tail.OnRead = func(_ *Filter, buf []byte) int { return s.ioRead(buf) }
	s.tail.OnWrite = func(_ *Filter, buf []byte) int { return s.ioWrite(buf) }
	s.closer = func() error { return platformClose(fd) }
	return s, nil
}

// InitMemory wraps an in-memory reader/writer pair as a Stream; no loop or
// poller involvement is needed since neither side ever blocks.
func InitMemory(r io.Reader, w io.Writer) *Stream {
	s := newStream(KindMemory, -1)
	s.tail.OnRead = func(_ *Filter, buf []byte) int {
		n, err := r.Read(buf)
		if err != nil && err != io.EOF {
			s.Status.Err = err
		}
		return n
	}
	s.tail.OnWrite = func(_ *Filter, buf []byte) int {
		n, err := w.Write(buf)
		if err != nil {
			s.Status.Err = err
		}
		return n
	}
	return s
}

// FileReaderWriter is the subset of *os.File a KindFile Stream needs:
// independent positioned reads and writes, so the stream can keep its own
// read/write cursors the way api_stream_t.impl.file does rather than
// sharing a single OS file offset between the two directions.
type FileReaderWriter interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Fd() uintptr
	Close() error
}

// InitFile wraps an *os.File (or any FileReaderWriter) as a KindFile
// Stream with independent read/write offset cursors.
func InitFile(f FileReaderWriter) *Stream {
	s := newStream(KindFile, int(f.Fd()))
	s.tail.OnRead = func(_ *Filter, buf []byte) int {
		n, err := f.ReadAt(buf, int64(s.readOffset))
		s.readOffset += uint64(n)
		if err != nil && err != io.EOF {
			s.Status.Err = err
		}
		return n
	}
	s.tail.OnWrite = func(_ *Filter, buf []byte) int {
		n, err := f.WriteAt(buf, int64(s.writeOffset))
		s.writeOffset += uint64(n)
		if err != nil {
			s.Status.Err = err
		}
		return n
	}
	s.closer = f.Close
	return s
}

// Attach binds a fd-backed Stream (Tcp/Udp/Tty/Pipe) to its owning loop.
// Memory and File streams never need this since they never block.
// Attaching to an already-terminated loop fails with errs.Terminate,
// matching api_stream_attach's rejection of attach-after-stop.
func (s *Stream) Attach(lp *loop.Loop) error {
	if lp.Terminated() {
		return errs.New("stream.attach", errs.Terminate)
	}
	s.lp = lp
	lp.Ref()
	return nil
}

func (s *Stream) ioRead(buf []byte) int {
	task := s.curTask
	w := s.lp.TrackFD(s.fd, task)
	defer s.lp.UntrackFD(s.fd)

	var timer *timerset.Timer
	if s.readTimeoutMS > 0 {
		timer = s.lp.NewTimeout(s.readTimeoutMS, func() {
			s.filterHead.OnReadTimeout(s.filterHead)
			s.lp.WakeFD(w, false)
		})
	}
	defer func() {
		if timer != nil {
			s.lp.CancelTimeout(timer)
		}
	}()

	for {
		n, err := platformRead(s.fd, buf)
		if err == nil {
			return n
		}
		if isAgain(err) {
			if !s.waitReadable(task, w) {
				return 0
			}
			continue
		}
		s.Status.Err = errs.FromOS("stream.read", err)
		return 0
	}
}

func (s *Stream) ioWrite(buf []byte) int {
	task := s.curTask
	w := s.lp.TrackFD(s.fd, task)
	defer s.lp.UntrackFD(s.fd)

	var timer *timerset.Timer
	if s.writeTimeoutMS > 0 {
		timer = s.lp.NewTimeout(s.writeTimeoutMS, func() {
			s.filterHead.OnWriteTimeout(s.filterHead)
			s.lp.WakeFD(w, false)
		})
	}
	defer func() {
		if timer != nil {
			s.lp.CancelTimeout(timer)
		}
	}()

	written := 0
	for written < len(buf) {
		n, err := platformWrite(s.fd, buf[written:])
		written += n
		if err == nil {
			continue
		}
		if isAgain(err) {
			if !s.waitWritable(task, w) {
				return written
			}
			continue
		}
		s.Status.Err = errs.FromOS("stream.write", err)
		return written
	}
	return written
}

// waitReadable suspends task until fd is readable or the wait is resolved
// by a read-timeout timer or loop termination, via the shared FDWaiter w
// so exactly one of those three sources wins the wake. Returns false, and
// marks the filter chain's terminate/timeout callback, in the latter two
// cases.
func (s *Stream) waitReadable(task *scheduler.Task, w *loop.FDWaiter) bool {
	w.Rearm()
	if err := s.lp.Poller().Attach(s.fd, iopoll.Read, func(iopoll.Events) {
		s.lp.WakeFDByFD(s.fd, false)
	}); err != nil {
		_ = s.lp.Poller().Modify(s.fd, iopoll.Read)
	}
	s.pollAttached = true
	s.lp.Scheduler().Sleep(task)
	if w.Terminated {
		s.filterHead.OnTerminate(s.filterHead)
	}
	return !(s.Status.ReadTimeout || s.Status.Terminated)
}

// waitWritable is waitReadable's write-direction counterpart.
func (s *Stream) waitWritable(task *scheduler.Task, w *loop.FDWaiter) bool {
	w.Rearm()
	if err := s.lp.Poller().Attach(s.fd, iopoll.Write, func(iopoll.Events) {
		s.lp.WakeFDByFD(s.fd, false)
	}); err != nil {
		_ = s.lp.Poller().Modify(s.fd, iopoll.Write)
	}
	s.pollAttached = true
	s.lp.Scheduler().Sleep(task)
	if w.Terminated {
		s.filterHead.OnTerminate(s.filterHead)
	}
	return !(s.Status.WriteTimeout || s.Status.Terminated)
}

// terminalStatus reports whether any of the stream's terminal status bits
// is already set, per stream_read/stream_write step 1: EOF, Closed,
// PeerClosed, and Terminated all mean the stream will never produce or
// accept another byte, unlike the recoverable ReadTimeout/WriteTimeout.
func (s *Stream) terminalStatus() bool {
	return s.Status.EOF || s.Status.Closed || s.Status.PeerClosed || s.Status.Terminated
}

// terminalErr reports the error a short-circuited Read/Write should
// surface once a terminal status bit is set.
func (s *Stream) terminalErr() error {
	if s.Status.Err != nil {
		return s.Status.Err
	}
	if s.Status.Terminated {
		return errs.New("stream.io", errs.Terminate)
	}
	return io.EOF
}

// Read fills buf from the stream's pushback buffer first, then the filter
// chain, tracking bandwidth the same way api_stream_t does. task is the
// calling task, suspended internally if the underlying fd would block.
func (s *Stream) Read(task *scheduler.Task, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if s.terminalStatus() {
		return 0, s.terminalErr()
	}
	if s.lp != nil && s.lp.Terminated() {
		s.Status.Terminated = true
		return 0, s.terminalErr()
	}

	if s.unreadOff < len(s.unreadBuf) {
		n := copy(buf, s.unreadBuf[s.unreadOff:])
		s.unreadOff += n
		if s.unreadOff == len(s.unreadBuf) {
			s.unreadBuf = nil
			s.unreadOff = 0
		}
		return n, nil
	}

	s.curTask = task
	start := time.Now()
	n := s.filterHead.OnRead(s.filterHead, buf)
	elapsed := uint64(time.Since(start).Milliseconds())
	s.curTask = nil

	s.readBandwidth.bytes += uint64(n)
	s.readBandwidth.periodMS += elapsed

	if s.Status.Err != nil {
		return n, s.Status.Err
	}
	if n == 0 {
		s.Status.EOF = true
		return 0, io.EOF
	}
	return n, nil
}

// ReadExact reads repeatedly until length bytes have been read or the
// stream returns 0 (EOF/error), matching api_stream_read_exact.
func ReadExact(task *scheduler.Task, s *Stream, buf []byte) int {
	offset := 0
	for offset < len(buf) {
		n, err := s.Read(task, buf[offset:])
		offset += n
		if n == 0 || err != nil {
			break
		}
	}
	return offset
}

// Write passes buf to the filter chain's on_write once. The fd-backed tail
// itself retries until every byte is sent, the write timeout fires, the
// loop terminates, or an error occurs; a short count is returned as is.
func (s *Stream) Write(task *scheduler.Task, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if s.terminalStatus() {
		return 0, s.terminalErr()
	}
	if s.lp != nil && s.lp.Terminated() {
		s.Status.Terminated = true
		return 0, s.terminalErr()
	}

	s.curTask = task
	start := time.Now()
	n := s.filterHead.OnWrite(s.filterHead, buf)
	elapsed := uint64(time.Since(start).Milliseconds())
	s.curTask = nil

	s.writeBandwidth.bytes += uint64(n)
	s.writeBandwidth.periodMS += elapsed

	if s.Status.Err != nil {
		return n, s.Status.Err
	}
	return n, nil
}

// Unread stashes buf as the stream's single pushback buffer; the next Read
// drains it before touching the filter chain. A subsequent Unread call
// overwrites, never appends to, any previously stashed buffer, matching
// api_stream_unread's at-most-one semantics.
func (s *Stream) Unread(buf []byte) int {
	if len(buf) == 0 {
		return 0
	}
	s.unreadBuf = append([]byte(nil), buf...)
	s.unreadOff = 0
	return len(buf)
}

// SetReadTimeout/SetWriteTimeout configure a per-operation deadline in
// milliseconds; 0 disables the timeout. Only meaningful for fd-backed
// streams (Tcp/Udp/Tty/Pipe).
func (s *Stream) SetReadTimeout(ms uint64)  { s.readTimeoutMS = ms }
func (s *Stream) SetWriteTimeout(ms uint64) { s.writeTimeoutMS = ms }

// ReadBandwidth/WriteBandwidth report cumulative bytes transferred and
// milliseconds spent performing the operation.
func (s *Stream) ReadBandwidth() Bandwidth {
	return Bandwidth{Bytes: s.readBandwidth.bytes, PeriodMS: s.readBandwidth.periodMS}
}
func (s *Stream) WriteBandwidth() Bandwidth {
	return Bandwidth{Bytes: s.writeBandwidth.bytes, PeriodMS: s.writeBandwidth.periodMS}
}

// Close propagates OnClosed down the filter chain, releases the
// underlying descriptor, and detaches from the owning loop's poller.
func (s *Stream) Close() error {
	if s.Status.Closed {
		return nil
	}
	s.filterHead.OnClosed(s.filterHead)
	s.Status.Closed = true

	var err error
	if s.pollAttached && s.lp != nil {
		_ = s.lp.Poller().Detach(s.fd)
	}
	if s.closer != nil {
		err = s.closer()
	}
	if s.lp != nil {
		s.lp.Unref()
	}
	return err
}

// Kind reports which capability this stream wraps.
func (s *Stream) Kind() Kind { return s.kind }
