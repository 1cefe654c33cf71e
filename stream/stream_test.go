package stream

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/taskloop/taskloop/config"
	"github.com/taskloop/taskloop/loop"
	"github.com/taskloop/taskloop/scheduler"
)

func TestMemoryStreamReadWrite(t *testing.T) {
	sched := scheduler.New()
	src := bytes.NewBufferString("hello world")
	var dst bytes.Buffer

	s := InitMemory(src, &dst)

	done := make(chan struct{})
	task := sched.Create(func(tk *scheduler.Task) {
		buf := make([]byte, 5)
		n, err := s.Read(tk, buf)
		require.NoError(t, err)
		require.Equal(t, 5, n)
		require.Equal(t, "hello", string(buf[:n]))

		wn, werr := s.Write(tk, buf[:n])
		require.NoError(t, werr)
		require.Equal(t, 5, wn)
		close(done)
	}, 0)
	sched.Exec(task)
	<-done
	require.Equal(t, "hello", dst.String())
}

func TestUnreadTakesPriorityOverChainAndOverwrites(t *testing.T) {
	sched := scheduler.New()
	src := bytes.NewBufferString("from source")
	s := InitMemory(src, &bytes.Buffer{})

	s.Unread([]byte("first"))
	s.Unread([]byte("second")) // overwrites, not appends

	task := sched.Create(func(tk *scheduler.Task) {
		buf := make([]byte, 6)
		n, err := s.Read(tk, buf)
		require.NoError(t, err)
		require.Equal(t, "second", string(buf[:n]))
	}, 0)
	sched.Exec(task)
}

func TestReadExactReadsUntilLengthOrEOF(t *testing.T) {
	sched := scheduler.New()
	s := InitMemory(bytes.NewBufferString("0123456789"), &bytes.Buffer{})

	task := sched.Create(func(tk *scheduler.Task) {
		buf := make([]byte, 20)
		n := ReadExact(tk, s, buf)
		require.Equal(t, 10, n)
		require.Equal(t, "0123456789", string(buf[:n]))
	}, 0)
	sched.Exec(task)
}

func TestFilterChainDefaultsForwardToTail(t *testing.T) {
	sched := scheduler.New()
	s := InitMemory(bytes.NewBufferString("passthrough"), &bytes.Buffer{})

	f := &Filter{}
	s.AttachFilter(f)

	task := sched.Create(func(tk *scheduler.Task) {
		buf := make([]byte, 11)
		n, err := s.Read(tk, buf)
		require.NoError(t, err)
		require.Equal(t, "passthrough", string(buf[:n]))
	}, 0)
	sched.Exec(task)
}

func TestFilterCanTransformReads(t *testing.T) {
	sched := scheduler.New()
	s := InitMemory(bytes.NewBufferString("abc"), &bytes.Buffer{})

	upper := &Filter{
		OnRead: func(f *Filter, buf []byte) int {
			n := f.next.OnRead(f.next, buf)
			for i := 0; i < n; i++ {
				if buf[i] >= 'a' && buf[i] <= 'z' {
					buf[i] -= 32
				}
			}
			return n
		},
	}
	s.AttachFilter(upper)

	task := sched.Create(func(tk *scheduler.Task) {
		buf := make([]byte, 3)
		n, err := s.Read(tk, buf)
		require.NoError(t, err)
		require.Equal(t, "ABC", string(buf[:n]))
	}, 0)
	sched.Exec(task)
}

func TestRateLimitFilterForwardsData(t *testing.T) {
	sched := scheduler.New()
	s := InitMemory(bytes.NewBufferString("throttled"), &bytes.Buffer{})
	s.AttachFilter(NewRateLimitFilter(rate.NewLimiter(rate.Inf, 1<<20)))

	task := sched.Create(func(tk *scheduler.Task) {
		buf := make([]byte, 9)
		n, err := s.Read(tk, buf)
		require.NoError(t, err)
		require.Equal(t, "throttled", string(buf[:n]))
	}, 0)
	sched.Exec(task)
}

func TestTransferCopiesAllBytesAcrossDedicatedReaderTask(t *testing.T) {
	l, err := loop.Start(config.Default(), zap.NewNop())
	require.NoError(t, err)
	defer l.Stop()

	srcData := bytes.Repeat([]byte("x"), 10000)
	src := InitMemory(bytes.NewReader(srcData), &bytes.Buffer{})
	var dstBuf bytes.Buffer
	dst := InitMemory(&bytes.Buffer{}, &dstBuf)

	done := make(chan struct{})
	var total int
	var transferErr error
	require.NoError(t, l.Post(func(tk *scheduler.Task) {
		total, transferErr = Transfer(tk, l, dst, src, 256)
		close(done)
	}, 0))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for transfer")
	}

	require.NoError(t, transferErr)
	require.Equal(t, len(srcData), total)
	require.Equal(t, srcData, dstBuf.Bytes())
}
