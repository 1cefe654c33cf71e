package listx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFIFOOrder(t *testing.T) {
	var l List[int]
	require.True(t, l.Empty())

	l.PushBack(1)
	l.PushBack(2)
	l.PushBack(3)
	require.Equal(t, 3, l.Len())

	for _, want := range []int{1, 2, 3} {
		v, ok := l.PopFront()
		require.True(t, ok)
		require.Equal(t, want, v)
	}
	require.True(t, l.Empty())
	_, ok := l.PopFront()
	require.False(t, ok)
}
