package async

import (
	"errors"
	"sync"
)

type Status int

const (
	StatusPending Status = iota
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

type subscription[T any] struct {
	mu     sync.Mutex
	active bool
	fn     func(*Handle[T])
}

func (s *subscription[T]) notify(h *Handle[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}
	s.active = false
	s.fn(h)
}

func (s *subscription[T]) cancel() {
	// Blocks until a concurrent notify has returned
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

// Handle is a pending operation that completes exactly once, either with a
// result or an error.
type Handle[T any] struct {
	mu     sync.Mutex
	status Status
	result T
	err    error
	done   chan struct{}

	nextSubscriptionID int
	subscriptions      map[int]*subscription[T]
}

func NewHandle[T any]() *Handle[T] {
	return &Handle[T]{
		status:        StatusPending,
		done:          make(chan struct{}),
		subscriptions: make(map[int]*subscription[T]),
	}
}

// Succeeded returns a handle that has already completed with the given result
func Succeeded[T any](result T) *Handle[T] {
	h := NewHandle[T]()
	h.Resolve(result)
	return h
}

// Failed returns a handle that has already completed with the given error
func Failed[T any](err error) *Handle[T] {
	h := NewHandle[T]()
	h.Fail(err)
	return h
}

// Resolve completes the handle successfully. Returns false if the handle was already complete.
func (h *Handle[T]) Resolve(result T) bool {
	return h.complete(StatusSucceeded, result, nil)
}

// Fail completes the handle with an error. Returns false if the handle was already complete.
func (h *Handle[T]) Fail(err error) bool {
	if err == nil {
		err = errors.New("operation failed without an error")
	}
	var zero T
	return h.complete(StatusFailed, zero, err)
}

func (h *Handle[T]) complete(status Status, result T, err error) bool {
	h.mu.Lock()
	if h.status != StatusPending {
		h.mu.Unlock()
		return false
	}

	h.status = status
	h.result = result
	h.err = err
	close(h.done)

	subscriptions := make([]*subscription[T], 0, len(h.subscriptions))
	for _, s := range h.subscriptions {
		subscriptions = append(subscriptions, s)
	}
	h.subscriptions = nil
	h.mu.Unlock()

	for _, s := range subscriptions {
		s.notify(h)
	}

	return true
}

func (h *Handle[T]) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *Handle[T]) IsDone() bool {
	return h.Status() != StatusPending
}

// Result returns the result of a succeeded handle, and the zero value otherwise
func (h *Handle[T]) Result() T {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Err returns the error of a failed handle, and nil otherwise
func (h *Handle[T]) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Done is closed when the handle completes
func (h *Handle[T]) Done() <-chan struct{} {
	return h.done
}

// Subscribe registers fn to be called once when the handle completes.
// If the handle is already complete, fn is called before Subscribe returns.
//
// Once the returned unsubscribe func has returned, fn is guaranteed not to be
// running and to never be called. fn must not call unsubscribe itself.
func (h *Handle[T]) Subscribe(fn func(*Handle[T])) (unsubscribe func()) {
	s := &subscription[T]{active: true, fn: fn}

	h.mu.Lock()
	if h.status != StatusPending {
		h.mu.Unlock()
		s.notify(h)
		return func() {}
	}

	id := h.nextSubscriptionID
	h.nextSubscriptionID++
	h.subscriptions[id] = s
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscriptions, id)
			h.mu.Unlock()

			s.cancel()
		})
	}
}

func (h *Handle[T]) subscriptionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscriptions)
}
