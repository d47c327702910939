// Package buffer provides a generic, thread-safe bounded queue used to hand items
// between producer and consumer goroutines.
//
// A CircularBuffer has a fixed capacity; a write to a full buffer waits for
// room. Connections use it to queue filled buffer handles from the producing
// side to the consuming side, and blocking reads and writes honor a context.
package buffer

import (
	"context"
	"sync/atomic"
)

// Buffer is a bounded FIFO of items of type T.
type Buffer[T any] interface {
	// Write adds an item, waiting for room while the buffer is full.
	Write(item T) error

	// WriteWithContext is Write that gives up when ctx is done.
	WriteWithContext(ctx context.Context, item T) error

	// Read removes the oldest item without blocking.
	Read() (T, bool)

	// ReadWithContext removes the oldest item, waiting until one is available,
	// the buffer is closed and drained, or ctx is done.
	ReadWithContext(ctx context.Context) (T, error)

	// Drain removes and returns every queued item.
	Drain() []T

	Size() int
	Capacity() int

	// Stats returns operation counters.
	Stats() *Statistics

	// Close wakes all waiters. Queued items stay readable.
	Close() error
}

// Statistics counts buffer operations.
type Statistics struct {
	writes    atomic.Int64
	reads     atomic.Int64
	overflows atomic.Int64
	maxSize   atomic.Int64
}

// Writes returns the number of accepted writes.
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads returns the number of items handed to readers.
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Overflows returns the number of writes that had to wait for room.
func (s *Statistics) Overflows() int64 { return s.overflows.Load() }

// MaxSize returns the high-water mark.
func (s *Statistics) MaxSize() int64 { return s.maxSize.Load() }

func (s *Statistics) observeSize(size int) {
	for {
		cur := s.maxSize.Load()
		if int64(size) <= cur || s.maxSize.CompareAndSwap(cur, int64(size)) {
			return
		}
	}
}

// NewCircularBuffer creates a circular buffer with the given capacity.
// Capacity below one is raised to one.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
