package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var mu sync.Mutex
	var seen []State
	cfg := DefaultConfig("geo")
	cfg.FailureThreshold = 3
	cfg.Timeout = 50 * time.Millisecond
	cfg.OnStateChange = func(_ string, to State) {
		mu.Lock()
		seen = append(seen, to)
		mu.Unlock()
	}
	cb, err := New(cfg, nil)
	require.NoError(t, err)
	ctx := context.Background()
	boom := errors.New("upstream down")

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, func(context.Context) error { return boom }), boom)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err = cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, cb.Execute(ctx, func(context.Context) error { return nil }))
	assert.Equal(t, StateClosed, cb.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, seen)
}

func TestStateLevel(t *testing.T) {
	assert.Equal(t, 0, StateClosed.Level())
	assert.Equal(t, 1, StateHalfOpen.Level())
	assert.Equal(t, 2, StateOpen.Level())
}

func TestNewRequiresName(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}
