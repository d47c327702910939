package buffer

import (
	"context"
	"sync"

	"github.com/c360/mediaflow/errors"
)

type circularBuffer[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    Statistics
	metrics  *bufferMetrics
	opts     *bufferOptions[T]

	notEmpty *sync.Cond
	notFull  *sync.Cond
	closed   bool
}

func newCircularBuffer[T any](capacity int, opts *bufferOptions[T]) (*circularBuffer[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *bufferMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "newCircularBuffer", "metrics registration")
		}
	}

	cb := &circularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		metrics:  metrics,
		opts:     opts,
	}
	cb.notEmpty = sync.NewCond(&cb.mu)
	cb.notFull = sync.NewCond(&cb.mu)
	return cb, nil
}

// wakeOnDone broadcasts cond when ctx ends so a waiter can observe cancellation.
// The returned stop func must be called once the wait is over.
func wakeOnDone(ctx context.Context, mu *sync.Mutex, cond *sync.Cond) (stop func()) {
	if ctx.Done() == nil {
		return func() {}
	}
	unregister := context.AfterFunc(ctx, func() {
		mu.Lock()
		cond.Broadcast()
		mu.Unlock()
	})
	return func() { unregister() }
}

// Write adds an item, waiting for room while the buffer is full.
func (cb *circularBuffer[T]) Write(item T) error {
	return cb.write(context.Background(), item, "Write")
}

// WriteWithContext adds an item, waiting for room until ctx is done.
func (cb *circularBuffer[T]) WriteWithContext(ctx context.Context, item T) error {
	return cb.write(ctx, item, "WriteWithContext")
}

func (cb *circularBuffer[T]) write(ctx context.Context, item T, method string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return errors.WrapInvalid(errors.ErrClosed, "Buffer", method, "buffer closed")
	}

	if cb.size == cb.capacity {
		cb.stats.overflows.Add(1)
		stop := wakeOnDone(ctx, &cb.mu, cb.notFull)
		defer stop()
		for cb.size == cb.capacity && !cb.closed {
			if err := ctx.Err(); err != nil {
				return err
			}
			cb.notFull.Wait()
		}
		if cb.closed {
			return errors.WrapInvalid(errors.ErrClosed, "Buffer", method,
				"buffer closed during blocking wait")
		}
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++

	cb.stats.writes.Add(1)
	cb.stats.observeSize(cb.size)
	if cb.metrics != nil {
		cb.metrics.writes.Inc()
		cb.metrics.depth.Set(float64(cb.size))
	}

	cb.notEmpty.Signal()
	return nil
}

// pop removes the item at tail. Caller holds mu and guarantees size > 0.
func (cb *circularBuffer[T]) pop() T {
	var zero T
	item := cb.items[cb.tail]
	cb.items[cb.tail] = zero
	cb.tail = (cb.tail + 1) % cb.capacity
	cb.size--
	return item
}

func (cb *circularBuffer[T]) afterRead(n int) {
	cb.stats.reads.Add(int64(n))
	if cb.metrics != nil {
		cb.metrics.reads.Add(float64(n))
		cb.metrics.depth.Set(float64(cb.size))
	}
	cb.notFull.Broadcast()
}

// Read removes the oldest item without blocking.
func (cb *circularBuffer[T]) Read() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		var zero T
		return zero, false
	}
	item := cb.pop()
	cb.afterRead(1)
	return item, true
}

// ReadWithContext waits for an item. A closed, empty buffer yields errors.ErrClosed.
func (cb *circularBuffer[T]) ReadWithContext(ctx context.Context) (T, error) {
	var zero T

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 && !cb.closed {
		stop := wakeOnDone(ctx, &cb.mu, cb.notEmpty)
		defer stop()
		for cb.size == 0 && !cb.closed {
			if err := ctx.Err(); err != nil {
				return zero, err
			}
			cb.notEmpty.Wait()
		}
	}

	if cb.size == 0 {
		return zero, errors.WrapInvalid(errors.ErrClosed, "Buffer", "ReadWithContext", "buffer closed")
	}

	item := cb.pop()
	cb.afterRead(1)
	return item, nil
}

// Drain removes every queued item.
func (cb *circularBuffer[T]) Drain() []T {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		return nil
	}
	out := make([]T, 0, cb.size)
	for cb.size > 0 {
		out = append(out, cb.pop())
	}
	cb.afterRead(len(out))
	return out
}

// Size returns the current number of items.
func (cb *circularBuffer[T]) Size() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size
}

// Capacity returns the maximum number of items.
func (cb *circularBuffer[T]) Capacity() int {
	return cb.capacity
}

// Stats returns operation counters.
func (cb *circularBuffer[T]) Stats() *Statistics {
	return &cb.stats
}

// Close wakes all waiters and unregisters metrics. Idempotent.
func (cb *circularBuffer[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return nil
	}
	cb.closed = true

	if cb.metrics != nil {
		cb.metrics.unregister(cb.opts.metricsReg, cb.opts.metricsPrefix)
	}

	cb.notEmpty.Broadcast()
	cb.notFull.Broadcast()
	return nil
}
