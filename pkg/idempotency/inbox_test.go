package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInbox(st Store) *Inbox {
	return NewInbox(st, InboxConfig{RecoveryTimeout: time.Minute}, nil)
}

func TestProcessRunsOnce(t *testing.T) {
	inbox := newTestInbox(NewMemoryStore())
	ctx := context.Background()
	var calls int32
	fn := func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		atomic.AddInt32(&calls, 1)
		return json.RawMessage(`{"sale":"s-1"}`), nil
	}

	first, err := inbox.Process(ctx, "k1", "sales", json.RawMessage(`{}`), fn)
	require.NoError(t, err)
	assert.True(t, first.IsNew)

	second, err := inbox.Process(ctx, "k1", "sales", json.RawMessage(`{}`), fn)
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.JSONEq(t, `{"sale":"s-1"}`, string(second.Result))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestProcessRetriesRecoverableFailures(t *testing.T) {
	inbox := newTestInbox(NewMemoryStore())
	ctx := context.Background()

	_, err := inbox.Process(ctx, "k1", "sales", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("database unavailable")
	})
	require.Error(t, err)

	res, err := inbox.Process(ctx, "k1", "sales", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`"ok"`), nil
	})
	require.NoError(t, err)
	assert.True(t, res.WasRecovered)
}

func TestProcessTerminalFailureIsFinal(t *testing.T) {
	inbox := newTestInbox(NewMemoryStore())
	ctx := context.Background()

	_, err := inbox.Process(ctx, "k1", "alerts", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, Terminal(errors.New("malformed event"))
	})
	require.Error(t, err)
	assert.True(t, IsTerminal(err))

	_, err = inbox.Process(ctx, "k1", "alerts", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		t.Fatal("handler must not run again")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrPreviouslyFailed)
}

func TestProcessConcurrentDuplicates(t *testing.T) {
	inbox := newTestInbox(NewMemoryStore())
	ctx := context.Background()
	release := make(chan struct{})
	var calls int32

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := inbox.Process(ctx, "k1", "sales", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
				atomic.AddInt32(&calls, 1)
				<-release
				return json.RawMessage(`1`), nil
			})
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, time.Millisecond)
	// the others see the key in progress or, once released, the stored result
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrMessageInProgress)
		}
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestStaleStartedEntryIsRecovered(t *testing.T) {
	st := NewMemoryStore()
	inbox := newTestInbox(st)
	ctx := context.Background()

	require.NoError(t, st.Start(ctx, "k1", "sales", nil, time.Now().Add(time.Hour)))
	_, err := inbox.Process(ctx, "k1", "sales", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrMessageInProgress)

	st.entries["k1"].UpdatedAt = time.Now().Add(-2 * time.Minute)
	res, err := inbox.Process(ctx, "k1", "sales", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`"done"`), nil
	})
	require.NoError(t, err)
	assert.True(t, res.WasRecovered)
}

func TestMemoryStoreExpiry(t *testing.T) {
	st := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, st.Start(ctx, "k1", "sales", nil, now.Add(time.Hour)))
	require.NoError(t, st.Start(ctx, "k2", "sales", nil, now.Add(3*time.Hour)))
	assert.ErrorIs(t, st.Start(ctx, "k1", "sales", nil, now.Add(time.Hour)), ErrDuplicateMessage)

	now = now.Add(2 * time.Hour)
	e, err := st.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, e)
	require.NoError(t, st.Start(ctx, "k1", "sales", nil, now.Add(time.Hour)))

	now = now.Add(2 * time.Hour)
	n, err := st.Cleanup(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestKeyIsDeterministic(t *testing.T) {
	assert.Equal(t, Key("u-1", "POST", "/sales", "abc"), Key("u-1", "POST", "/sales", "abc"))
	assert.NotEqual(t, Key("u-1", "POST", "/sales", "abc"), Key("u-2", "POST", "/sales", "abc"))
	assert.Len(t, Key("x"), 64)
}
