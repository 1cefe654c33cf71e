//go:build linux

package iopoll

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestEpollPollerReadReady(t *testing.T) {
	p, err := New(nil)
	require.NoError(t, err)
	defer p.Close()

	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	fired := make(chan Events, 1)
	require.NoError(t, p.Attach(fds[0], Read, func(ev Events) { fired <- ev }))

	_, err = unix.Write(fds[1], []byte("x"))
	require.NoError(t, err)

	n, err := p.Wait(1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	select {
	case ev := <-fired:
		require.NotZero(t, ev&Read)
	default:
		t.Fatal("callback did not fire")
	}
}

func TestEpollPollerWakeInterruptsWait(t *testing.T) {
	woken := false
	p, err := New(func() { woken = true })
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.PostWake())

	n, err := p.Wait(5000)
	require.NoError(t, err)
	require.Equal(t, 1, n) // the internal wake fd's own dispatch
	require.True(t, woken)
}

func TestDetachRejectsUnknownFD(t *testing.T) {
	p, err := New(nil)
	require.NoError(t, err)
	defer p.Close()

	err = p.Detach(999999)
	require.ErrorIs(t, err, ErrFDOutOfRange)
}
