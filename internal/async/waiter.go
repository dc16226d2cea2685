package async

import (
	"context"
	"fmt"
	"time"

	"github.com/Amund211/stockpile/internal/domain"
)

type AfterFunc func(time.Duration) <-chan time.Time

// Waiter turns a pending handle into a cancellable, timeout-bound wait
type Waiter struct {
	afterFunc AfterFunc
}

func NewWaiter(afterFunc AfterFunc) *Waiter {
	if afterFunc == nil {
		afterFunc = time.After
	}
	return &Waiter{afterFunc: afterFunc}
}

// Await waits for h to complete, ctx to be cancelled, or timeout to elapse,
// whichever happens first. A timeout <= 0 means no timeout.
//
// Errors:
//   - *domain.LoadError (domain.ErrLoadFailed) if the handle failed
//   - domain.ErrTimeout if the timeout elapsed first
//   - domain.ErrCancelled if ctx was done first
//
// Cancelling the wait does not affect the operation behind h.
func Await[T any](ctx context.Context, w *Waiter, key domain.Key, h *Handle[T], timeout time.Duration) (T, error) {
	var zero T

	switch h.Status() {
	case StatusSucceeded:
		return h.Result(), nil
	case StatusFailed:
		return zero, domain.NewLoadError(key, h.Err())
	}

	if err := ctx.Err(); err != nil {
		return zero, fmt.Errorf("%w: %w", domain.ErrCancelled, err)
	}

	// Buffered so the completion callback never blocks
	completed := make(chan *Handle[T], 1)
	unsubscribe := h.Subscribe(func(settled *Handle[T]) {
		select {
		case completed <- settled:
		default:
		}
	})
	defer unsubscribe()

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timeoutC = w.afterFunc(timeout)
	}

	select {
	case settled := <-completed:
		if settled.Status() == StatusSucceeded {
			return settled.Result(), nil
		}
		return zero, domain.NewLoadError(key, settled.Err())
	case <-timeoutC:
		return zero, fmt.Errorf("%w after %s", domain.ErrTimeout, timeout)
	case <-ctx.Done():
		return zero, fmt.Errorf("%w: %w", domain.ErrCancelled, ctx.Err())
	}
}
