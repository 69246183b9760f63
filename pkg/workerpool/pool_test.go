package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolProcessesSubmittedItems(t *testing.T) {
	var sum int64
	p, err := New(Config{Workers: 4, QueueSize: 100}, func(_ context.Context, n int) error {
		atomic.AddInt64(&sum, int64(n))
		return nil
	}, nil)
	require.NoError(t, err)
	p.Start()

	for i := 1; i <= 10; i++ {
		require.NoError(t, p.Submit(context.Background(), i))
	}
	require.NoError(t, p.Stop())

	assert.Equal(t, int64(55), atomic.LoadInt64(&sum))
	assert.Equal(t, int64(10), p.Stats().TasksCompleted)
	assert.ErrorIs(t, p.Submit(context.Background(), 1), ErrStopped)
}

func TestPoolRetriesUntilSuccess(t *testing.T) {
	var calls int64
	p, err := New(Config{Workers: 1, MaxRetries: 3, RetryDelay: time.Millisecond}, func(_ context.Context, _ string) error {
		if atomic.AddInt64(&calls, 1) < 3 {
			return errors.New("flaky")
		}
		return nil
	}, nil)
	require.NoError(t, err)
	p.Start()
	defer p.Stop()

	require.NoError(t, p.SubmitWait(context.Background(), "x"))
	assert.Equal(t, int64(3), atomic.LoadInt64(&calls))
	assert.Equal(t, int64(2), p.Stats().TasksRetried)
}

func TestPoolStopsOnNonRetryableError(t *testing.T) {
	permanent := errors.New("bad payload")
	var calls int64
	cfg := Config{
		Workers:    1,
		MaxRetries: 5,
		RetryDelay: time.Millisecond,
		Retryable:  func(err error) bool { return !errors.Is(err, permanent) },
	}
	p, err := New(cfg, func(_ context.Context, _ string) error {
		atomic.AddInt64(&calls, 1)
		return permanent
	}, nil)
	require.NoError(t, err)
	p.Start()
	defer p.Stop()

	err = p.SubmitWait(context.Background(), "x")
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	assert.Equal(t, int64(1), p.Stats().TasksFailed)
}

func TestPoolExhaustsRetries(t *testing.T) {
	p, err := New(Config{Workers: 1, MaxRetries: 2, RetryDelay: time.Millisecond}, func(_ context.Context, _ int) error {
		return errors.New("down")
	}, nil)
	require.NoError(t, err)
	p.Start()
	defer p.Stop()

	err = p.SubmitWait(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
}

func TestPoolQueueFull(t *testing.T) {
	release := make(chan struct{})
	p, err := New(Config{Workers: 1, QueueSize: 1}, func(_ context.Context, _ int) error {
		<-release
		return nil
	}, nil)
	require.NoError(t, err)
	p.Start()

	require.NoError(t, p.Submit(context.Background(), 1))
	// the worker holds item 1 and item 2 fills the queue
	require.Eventually(t, func() bool { return p.Stats().QueueDepth == 0 }, time.Second, time.Millisecond)
	require.NoError(t, p.Submit(context.Background(), 2))
	assert.ErrorIs(t, p.Submit(context.Background(), 3), ErrQueueFull)
	assert.False(t, p.IsHealthy())

	close(release)
	require.NoError(t, p.Stop())
}

func TestNewRequiresHandler(t *testing.T) {
	_, err := New[int](DefaultConfig(), nil, nil)
	assert.Error(t, err)
}
