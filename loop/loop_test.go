package loop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskloop/taskloop/config"
	"github.com/taskloop/taskloop/scheduler"
	"github.com/taskloop/taskloop/timerset"
)

func TestPostRunsTaskOnLoopGoroutine(t *testing.T) {
	l, err := Start(config.Default(), zap.NewNop())
	require.NoError(t, err)
	defer l.Stop()

	done := make(chan string, 1)
	require.NoError(t, l.Post(func(tk *scheduler.Task) {
		done <- "ran"
	}, 0))

	select {
	case v := <-done:
		require.Equal(t, "ran", v)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for posted task")
	}
}

func TestSleepWakesAfterPeriod(t *testing.T) {
	l, err := Start(config.Default(), zap.NewNop())
	require.NoError(t, err)
	defer l.Stop()

	start := time.Now()
	done := make(chan error, 1)
	require.NoError(t, l.Post(func(tk *scheduler.Task) {
		done <- l.Sleep(tk, 50)
	}, 0))

	select {
	case sleepErr := <-done:
		require.NoError(t, sleepErr)
		require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sleep to elapse")
	}
}

func TestExecRunsOnTargetLoopAndReturnsResult(t *testing.T) {
	a, err := Start(config.Default(), zap.NewNop())
	require.NoError(t, err)
	defer a.Stop()
	b, err := Start(config.Default(), zap.NewNop())
	require.NoError(t, err)
	defer b.Stop()

	results := make(chan any, 1)
	errCh := make(chan error, 1)
	require.NoError(t, a.Post(func(tk *scheduler.Task) {
		v, execErr := b.Exec(context.Background(), a, func(*scheduler.Task) (any, error) {
			return 42, nil
		}, 0)
		results <- v
		errCh <- execErr
	}, 0))

	select {
	case v := <-results:
		require.Equal(t, 42, v)
		require.NoError(t, <-errCh)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cross-loop exec")
	}
}

func TestCallRunsSynchronouslyOnLoopGoroutine(t *testing.T) {
	l, err := Start(config.Default(), zap.NewNop())
	require.NoError(t, err)
	defer l.Stop()

	done := make(chan any, 1)
	require.NoError(t, l.Post(func(tk *scheduler.Task) {
		done <- l.Call(func(*scheduler.Task) any { return "called" }, 0)
	}, 0))

	select {
	case v := <-done:
		require.Equal(t, "called", v)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for call")
	}
}

func TestStopAndWaitWakesWaiter(t *testing.T) {
	target, err := Start(config.Default(), zap.NewNop())
	require.NoError(t, err)
	waiterLoop, err := Start(config.Default(), zap.NewNop())
	require.NoError(t, err)
	defer waiterLoop.Stop()

	done := make(chan struct{})
	require.NoError(t, waiterLoop.Post(func(tk *scheduler.Task) {
		_ = target.StopAndWait(context.Background(), waiterLoop)
		close(done)
	}, 0))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stop_and_wait")
	}
	require.True(t, target.Terminated())
}

func TestExecRejectsSameLoop(t *testing.T) {
	l, err := New(config.Default(), zap.NewNop())
	require.NoError(t, err)
	defer l.poller.Close()

	_, err = l.Exec(context.Background(), l, func(*scheduler.Task) (any, error) { return nil, nil }, 0)
	require.Error(t, err)
}

func TestCalculateTimeoutDefaultsToPollCap(t *testing.T) {
	l, err := New(config.Config{PollTimeoutMS: 250}, zap.NewNop())
	require.NoError(t, err)
	defer l.poller.Close()

	require.Equal(t, 250, l.calculateTimeout())
}

func TestCalculateTimeoutUsesNearestSleep(t *testing.T) {
	cfg := config.Default()
	cfg.PollTimeoutMS = 5000
	l, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer l.poller.Close()

	timer := &timerset.Timer{}
	l.sleeps.Set(timer, 100)

	timeout := l.calculateTimeout()
	require.LessOrEqual(t, timeout, 100)
	require.Greater(t, timeout, 0)
}
