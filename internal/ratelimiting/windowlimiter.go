package ratelimiting

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// WindowLimiter allows at most limit operations to start within any window,
// and at most limit operations to run at once.
//
// The window is measured from when earlier operations finished, so slow
// operations push later ones back.
type WindowLimiter struct {
	window    time.Duration
	nowFunc   func() time.Time
	afterFunc func(time.Duration) <-chan time.Time

	slots chan struct{}

	mu sync.Mutex
	// Sorted, oldest first. Always holds limit minus running entries.
	finishedAt []time.Time
}

func NewWindowLimiter(
	limit int,
	window time.Duration,
	nowFunc func() time.Time,
	afterFunc func(time.Duration) <-chan time.Time,
) *WindowLimiter {
	if limit <= 0 {
		panic(fmt.Sprintf("ratelimiting: window limit must be positive, got %d", limit))
	}

	slots := make(chan struct{}, limit)
	finishedAt := make([]time.Time, limit)
	longAgo := nowFunc().Add(-window)
	for i := range limit {
		slots <- struct{}{}
		finishedAt[i] = longAgo
	}

	return &WindowLimiter{
		window:     window,
		nowFunc:    nowFunc,
		afterFunc:  afterFunc,
		slots:      slots,
		finishedAt: finishedAt,
	}
}

// Do waits for capacity and runs operation.
// Returns ctx.Err() without running operation if ctx is done first.
func (l *WindowLimiter) Do(ctx context.Context, operation func()) error {
	select {
	case <-l.slots:
		defer func() {
			l.slots <- struct{}{}
		}()
	case <-ctx.Done():
		return ctx.Err()
	}

	oldest := l.takeOldest()
	// Hand the slot back untouched unless the operation runs
	finished := oldest
	defer func() {
		l.putFinished(finished)
	}()

	if wait := l.window - l.nowFunc().Sub(oldest); wait > 0 {
		select {
		case <-l.afterFunc(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	operation()
	finished = l.nowFunc()
	return nil
}

func (l *WindowLimiter) takeOldest() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	oldest := l.finishedAt[0]
	l.finishedAt = l.finishedAt[1:]
	return oldest
}

func (l *WindowLimiter) putFinished(t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, _ := slices.BinarySearchFunc(l.finishedAt, t, func(a, b time.Time) int {
		return a.Compare(b)
	})
	l.finishedAt = slices.Insert(l.finishedAt, i, t)
}
