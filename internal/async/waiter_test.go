package async_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Amund211/stockpile/internal/async"
	"github.com/Amund211/stockpile/internal/domain"
	"github.com/stretchr/testify/require"
)

var key = domain.AddressKey("cards/back.png")

type controlledTimer struct {
	c       chan time.Time
	started chan time.Duration
}

func newControlledTimer() *controlledTimer {
	return &controlledTimer{
		c:       make(chan time.Time, 1),
		started: make(chan time.Duration, 1),
	}
}

func (ct *controlledTimer) after(d time.Duration) <-chan time.Time {
	ct.started <- d
	return ct.c
}

func (ct *controlledTimer) fire() {
	ct.c <- time.Now()
}

func noTimer(t *testing.T) async.AfterFunc {
	return func(time.Duration) <-chan time.Time {
		t.Helper()
		t.Fatal("timer should not be started")
		return nil
	}
}

func TestAwait(t *testing.T) {
	t.Parallel()

	t.Run("completed handles return immediately", func(t *testing.T) {
		t.Parallel()

		waiter := async.NewWaiter(noTimer(t))

		value, err := async.Await(t.Context(), waiter, key, async.Succeeded(42), time.Second)
		require.NoError(t, err)
		require.Equal(t, 42, value)

		cause := errors.New("corrupt asset")
		_, err = async.Await(t.Context(), waiter, key, async.Failed[int](cause), time.Second)
		require.ErrorIs(t, err, domain.ErrLoadFailed)
		require.ErrorIs(t, err, cause)

		var loadErr *domain.LoadError
		require.ErrorAs(t, err, &loadErr)
		require.Equal(t, key, loadErr.Key)
	})

	t.Run("completed handles win over a cancelled context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		value, err := async.Await(ctx, async.NewWaiter(noTimer(t)), key, async.Succeeded("x"), 0)
		require.NoError(t, err)
		require.Equal(t, "x", value)
	})

	t.Run("pending handle resolves", func(t *testing.T) {
		t.Parallel()

		h := async.NewHandle[int]()
		go func() {
			time.Sleep(5 * time.Millisecond)
			h.Resolve(7)
		}()

		value, err := async.Await(t.Context(), async.NewWaiter(noTimer(t)), key, h, 0)
		require.NoError(t, err)
		require.Equal(t, 7, value)
	})

	t.Run("pending handle fails", func(t *testing.T) {
		t.Parallel()

		cause := errors.New("connection reset")
		h := async.NewHandle[int]()
		go h.Fail(cause)

		_, err := async.Await(t.Context(), async.NewWaiter(noTimer(t)), key, h, 0)
		require.ErrorIs(t, err, domain.ErrLoadFailed)
		require.ErrorIs(t, err, cause)
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		timer := newControlledTimer()
		h := async.NewHandle[int]()

		errCh := make(chan error, 1)
		go func() {
			_, err := async.Await(t.Context(), async.NewWaiter(timer.after), key, h, 250*time.Millisecond)
			errCh <- err
		}()

		require.Equal(t, 250*time.Millisecond, <-timer.started)
		timer.fire()

		err := <-errCh
		require.ErrorIs(t, err, domain.ErrTimeout)
		require.NotErrorIs(t, err, domain.ErrCancelled)

		// Completing later must not panic or block
		require.True(t, h.Resolve(1))
	})

	t.Run("cancellation", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(t.Context())
		h := async.NewHandle[int]()

		errCh := make(chan error, 1)
		go func() {
			_, err := async.Await(ctx, async.NewWaiter(nil), key, h, 0)
			errCh <- err
		}()

		cancel()

		err := <-errCh
		require.ErrorIs(t, err, domain.ErrCancelled)
		require.ErrorIs(t, err, context.Canceled)
		require.False(t, h.IsDone(), "cancelling the wait must not complete the operation")
	})

	t.Run("already cancelled context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		_, err := async.Await(ctx, async.NewWaiter(noTimer(t)), key, async.NewHandle[int](), time.Second)
		require.ErrorIs(t, err, domain.ErrCancelled)
	})

	t.Run("completion racing timeout resolves exactly once", func(t *testing.T) {
		t.Parallel()

		for range 500 {
			fired := make(chan time.Time, 1)
			afterFunc := func(time.Duration) <-chan time.Time {
				return fired
			}
			h := async.NewHandle[int]()

			var wg sync.WaitGroup
			wg.Add(1)
			var value int
			var err error
			go func() {
				defer wg.Done()
				value, err = async.Await(t.Context(), async.NewWaiter(afterFunc), key, h, time.Millisecond)
			}()

			go h.Resolve(3)
			go func() { fired <- time.Now() }()

			wg.Wait()
			if err != nil {
				require.ErrorIs(t, err, domain.ErrTimeout)
				require.Zero(t, value)
			} else {
				require.Equal(t, 3, value)
			}
		}
	})

	t.Run("real timeout against a load that never completes", func(t *testing.T) {
		t.Parallel()

		h := async.NewHandle[int]()
		start := time.Now()
		_, err := async.Await(t.Context(), async.NewWaiter(time.After), key, h, 100*time.Millisecond)
		elapsed := time.Since(start)

		require.ErrorIs(t, err, domain.ErrTimeout)
		require.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
		require.Less(t, elapsed, 1*time.Second)

		called := false
		h.Subscribe(func(*async.Handle[int]) { called = true })
		h.Resolve(1)
		require.True(t, called, "new subscribers still work")
	})
}
