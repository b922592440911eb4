package client

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var (
	// ErrQueueFull is returned when too many calls are already waiting.
	ErrQueueFull = errors.New("client: call queue is full")

	// ErrAcquireTimeout is returned when waiting for a call slot times out.
	ErrAcquireTimeout = errors.New("client: timeout waiting for a call slot")
)

// callLimiter caps the number of calls in flight. Exchange rejects a user's
// calls with ErrorServerBusy beyond its concurrency budget, so excess calls
// queue client-side instead.
type callLimiter struct {
	slots    chan struct{}
	waiting  atomic.Int32
	maxQueue int
	timeout  time.Duration
}

// newCallLimiter returns a limiter of max concurrent calls. maxQueue < 0
// means an unbounded queue; timeout 0 means 60s.
func newCallLimiter(max, maxQueue int, timeout time.Duration) *callLimiter {
	if max < 1 {
		max = 1
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &callLimiter{
		slots:    make(chan struct{}, max),
		maxQueue: maxQueue,
		timeout:  timeout,
	}
}

// Acquire blocks until a slot is free. A nil limiter never blocks.
func (l *callLimiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	select {
	case l.slots <- struct{}{}:
		return nil
	default:
	}

	n := l.waiting.Add(1)
	defer l.waiting.Add(-1)
	if l.maxQueue >= 0 && int(n) > l.maxQueue {
		return ErrQueueFull
	}

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrAcquireTimeout
	}
}

// Release frees a slot taken by Acquire.
func (l *callLimiter) Release() {
	if l == nil {
		return
	}
	select {
	case <-l.slots:
	default:
	}
}

// Stats returns the calls in flight, the calls waiting and the limit.
func (l *callLimiter) Stats() (active, queued, limit int) {
	if l == nil {
		return 0, 0, 0
	}
	return len(l.slots), int(l.waiting.Load()), cap(l.slots)
}
