package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorIsSentinel(t *testing.T) {
	err := New("stream.read", TimedOut)
	require.True(t, errors.Is(err, ErrTimedOut))
	require.False(t, errors.Is(err, ErrBadFile))
}

func TestErrorMessage(t *testing.T) {
	err := New("tcp.connect", AddressInUse)
	require.Equal(t, "tcp.connect: address already in use", err.Error())
}

func TestCodeStringUnknown(t *testing.T) {
	require.Contains(t, Code(999).String(), "errs.Code")
}
