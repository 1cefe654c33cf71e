package timerset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdleElapsesAtPeriod(t *testing.T) {
	s := New(Idle, func() uint64 { return 0 })
	woken := false
	timer := &Timer{Wake: func() { woken = true }}

	s.Set(timer, 100)
	require.Equal(t, 0, s.Process(50))
	require.False(t, woken)

	require.Equal(t, 1, s.Process(100))
	require.True(t, woken)
	require.True(t, timer.Elapsed)
}

func TestSleepUsesIssuedOffset(t *testing.T) {
	now := uint64(1000)
	s := New(Sleep, func() uint64 { return now })
	woken := false
	timer := &Timer{Wake: func() { woken = true }}

	s.Set(timer, 50) // issued = 1000, elapses at >= 1050
	require.Equal(t, 0, s.Process(1040))
	require.False(t, woken)
	require.Equal(t, 1, s.Process(1050))
	require.True(t, woken)
}

func TestResetToSameValueMovesToTail(t *testing.T) {
	s := New(Idle, func() uint64 { return 0 })
	var order []int
	mk := func(id int) *Timer {
		return &Timer{Wake: func() { order = append(order, id) }}
	}
	a, b, c := mk(1), mk(2), mk(3)
	s.Set(a, 10)
	s.Set(b, 10)
	s.Set(c, 10)

	// Reset a to the same bucket value: it should move behind b and c.
	s.Set(a, 10)

	s.Process(10)
	require.Equal(t, []int{2, 3, 1}, order)
}

func TestSetZeroRemoves(t *testing.T) {
	s := New(Idle, func() uint64 { return 0 })
	woken := false
	timer := &Timer{Wake: func() { woken = true }}
	s.Set(timer, 10)
	s.Set(timer, 0)
	s.Process(100)
	require.False(t, woken)
	require.True(t, s.Empty())
}

func TestTerminateWakesWithoutElapsed(t *testing.T) {
	s := New(Idle, func() uint64 { return 0 })
	timer := &Timer{}
	s.Set(timer, 10)
	s.Terminate()
	require.False(t, timer.Elapsed)
	require.True(t, s.Empty())
}

func TestVersionSkipsTimersSetDuringSweep(t *testing.T) {
	s := New(Idle, func() uint64 { return 0 })
	var second *Timer
	first := &Timer{}
	first.Wake = func() {
		second = &Timer{}
		s.Set(second, 10) // scheduled mid-sweep, same bucket value
	}
	s.Set(first, 10)

	n := s.Process(10)
	require.Equal(t, 1, n)
	require.NotNil(t, second)
	require.False(t, second.Elapsed)

	n2 := s.Process(10)
	require.Equal(t, 1, n2)
	require.True(t, second.Elapsed)
}
