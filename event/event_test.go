package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignalThenWait(t *testing.T) {
	e := New()
	e.Signal()
	require.NoError(t, e.Wait(context.Background()))
}

func TestWaitTimesOut(t *testing.T) {
	e := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := e.Wait(ctx)
	require.Error(t, err)
}

func TestMultipleSignalsCoalesce(t *testing.T) {
	e := New()
	e.Signal()
	e.Signal()
	e.Signal()
	require.NoError(t, e.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, e.Wait(ctx))
}
