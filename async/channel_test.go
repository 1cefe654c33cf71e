package async

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

func TestSubmitAndDrainRunsJob(t *testing.T) {
	woke := 0
	c := New(func() error { woke++; return nil })

	ran := false
	require.NoError(t, c.Submit(func() { ran = true }))
	require.Equal(t, 1, woke)

	n := c.Drain(10)
	require.Equal(t, 1, n)
	require.True(t, ran)
}

func TestSubmitAfterCloseFails(t *testing.T) {
	c := New(func() error { return nil })
	c.Close()
	err := c.Submit(func() {})
	require.ErrorIs(t, err, ErrClosed)
}

func TestPromisifyResolves(t *testing.T) {
	c := New(func() error { return nil })
	p := Promisify(context.Background(), c, nil, func(ctx context.Context) (any, error) {
		return 42, nil
	})

	require.Eventually(t, func() bool { return c.Pending() > 0 }, time.Second, time.Millisecond)
	c.Drain(10)

	v, err := p.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestPromisifyRejectsOnError(t *testing.T) {
	c := New(func() error { return nil })
	wantErr := errors.New("boom")
	p := Promisify(context.Background(), c, nil, func(ctx context.Context) (any, error) {
		return nil, wantErr
	})

	require.Eventually(t, func() bool { return c.Pending() > 0 }, time.Second, time.Millisecond)
	c.Drain(10)

	_, err := p.Wait(context.Background())
	require.ErrorIs(t, err, wantErr)
}

func TestPromisifyRecoversPanic(t *testing.T) {
	c := New(func() error { return nil })
	p := Promisify(context.Background(), c, nil, func(ctx context.Context) (any, error) {
		panic("kaboom")
	})

	require.Eventually(t, func() bool { return c.Pending() > 0 }, time.Second, time.Millisecond)
	c.Drain(10)

	_, err := p.Wait(context.Background())
	var panicErr PanicError
	require.ErrorAs(t, err, &panicErr)
}

func TestPromisifyRespectsSemaphoreLimit(t *testing.T) {
	c := New(func() error { return nil })
	limit := semaphore.NewWeighted(1)

	release := make(chan struct{})
	p1 := Promisify(context.Background(), c, limit, func(ctx context.Context) (any, error) {
		<-release
		return "first", nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	p2 := Promisify(ctx, c, limit, func(ctx context.Context) (any, error) {
		return "second", nil
	})

	_, err := p2.Wait(context.Background())
	require.Error(t, err) // could not acquire the single slot in time

	close(release)
	require.Eventually(t, func() bool { return c.Pending() > 0 }, time.Second, time.Millisecond)
	c.Drain(10)
	v, err := p1.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "first", v)
}
