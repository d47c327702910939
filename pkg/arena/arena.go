// Package arena provides fixed-size byte slots addressed by integer handles.
//
// Every slot carries an owner tag. Only the current owner may touch the slot's
// bytes, stamp its metadata, pass it on or release it; any other caller gets
// errors.ErrNotOwner. Released slots return to the producer's free list, so
// buffers are reused without allocation once an arena is built.
package arena

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/mediaflow/errors"
)

// Owner identifies a party allowed to hold slots, typically a port.
type Owner = uuid.UUID

// Handle addresses one slot of one arena.
type Handle struct {
	arena uuid.UUID
	index int
}

// Index returns the slot index.
func (h Handle) Index() int { return h.index }

// Arena returns the identity of the arena that issued h.
func (h Handle) Arena() uuid.UUID { return h.arena }

// IsZero reports whether h addresses nothing.
func (h Handle) IsZero() bool { return h.arena == uuid.Nil }

// String renders the handle for logs.
func (h Handle) String() string {
	return fmt.Sprintf("%s#%d", h.arena.String()[:8], h.index)
}

// Meta describes the payload held by a slot.
type Meta struct {
	Length    int
	Sequence  uint64
	Timestamp time.Time
	Last      bool // final buffer of the stream; may carry no payload
}

type slot struct {
	data  []byte
	owner Owner
	meta  Meta
	free  bool
}

// Arena is a fixed set of equally sized slots.
type Arena struct {
	id       uuid.UUID
	producer Owner
	size     int

	mu     sync.Mutex
	slots  []slot
	closed bool

	// indices of free slots, owned by producer
	free chan int
	done chan struct{}
}

// New allocates count slots of size bytes, all free and owned by producer.
func New(count, size int, producer Owner) (*Arena, error) {
	if count <= 0 || size <= 0 {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "Arena", "New",
			"count %d and size %d must be positive", count, size)
	}
	if producer == uuid.Nil {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "Arena", "New",
			"producer owner is required")
	}

	a := &Arena{
		id:       uuid.New(),
		producer: producer,
		size:     size,
		slots:    make([]slot, count),
		free:     make(chan int, count),
		done:     make(chan struct{}),
	}
	for i := range a.slots {
		a.slots[i] = slot{data: make([]byte, size), owner: producer, free: true}
		a.free <- i
	}
	return a, nil
}

// ID returns the arena identity.
func (a *Arena) ID() uuid.UUID { return a.id }

// Count returns the number of slots.
func (a *Arena) Count() int { return len(a.slots) }

// Size returns the slot size in bytes.
func (a *Arena) Size() int { return a.size }

// Producer returns the owner that acquires and receives released slots.
func (a *Arena) Producer() Owner { return a.producer }

// Acquire takes a free slot for the producer, waiting until one is released,
// ctx ends or the arena is closed.
func (a *Arena) Acquire(ctx context.Context, by Owner) (Handle, error) {
	if by != a.producer {
		return Handle{}, errors.Newf(errors.ErrorInvalid, errors.ErrNotOwner, "Arena", "Acquire",
			"only the producer acquires slots")
	}

	for {
		select {
		case <-a.done:
			return Handle{}, errors.WrapInvalid(errors.ErrClosed, "Arena", "Acquire", "arena closed")
		case <-ctx.Done():
			return Handle{}, ctx.Err()
		case idx := <-a.free:
			if h, ok := a.take(idx); ok {
				return h, nil
			}
		}
	}
}

// TryAcquire is Acquire without waiting. ok is false when no slot is free.
func (a *Arena) TryAcquire(by Owner) (h Handle, ok bool, err error) {
	if by != a.producer {
		return Handle{}, false, errors.Newf(errors.ErrorInvalid, errors.ErrNotOwner, "Arena", "TryAcquire",
			"only the producer acquires slots")
	}
	select {
	case idx := <-a.free:
		if h, ok := a.take(idx); ok {
			return h, true, nil
		}
		return Handle{}, false, errors.WrapInvalid(errors.ErrClosed, "Arena", "TryAcquire", "arena closed")
	default:
		return Handle{}, false, nil
	}
}

func (a *Arena) take(idx int) (Handle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return Handle{}, false
	}
	s := &a.slots[idx]
	s.free = false
	s.owner = a.producer
	s.meta = Meta{}
	return Handle{arena: a.id, index: idx}, true
}

// held validates h against the arena and the caller. Caller holds mu.
func (a *Arena) held(h Handle, by Owner, method string) (*slot, error) {
	if a.closed {
		return nil, errors.WrapInvalid(errors.ErrClosed, "Arena", method, "arena closed")
	}
	if h.arena != a.id || h.index < 0 || h.index >= len(a.slots) {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrNotOwner, "Arena", method,
			"handle %s does not belong to this arena", h)
	}
	s := &a.slots[h.index]
	if s.free || s.owner != by {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrNotOwner, "Arena", method,
			"slot %d not held by caller", h.index)
	}
	return s, nil
}

// Bytes returns the full slot storage. Valid until the slot changes hands.
func (a *Arena) Bytes(h Handle, by Owner) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, err := a.held(h, by, "Bytes")
	if err != nil {
		return nil, err
	}
	return s.data, nil
}

// Payload returns the filled prefix of the slot.
func (a *Arena) Payload(h Handle, by Owner) ([]byte, Meta, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, err := a.held(h, by, "Payload")
	if err != nil {
		return nil, Meta{}, err
	}
	return s.data[:s.meta.Length], s.meta, nil
}

// Stamp records payload metadata. Length must fit the slot.
func (a *Arena) Stamp(h Handle, by Owner, meta Meta) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, err := a.held(h, by, "Stamp")
	if err != nil {
		return err
	}
	if meta.Length < 0 || meta.Length > a.size {
		return errors.Newf(errors.ErrorInvalid, errors.ErrCapacityOverflow, "Arena", "Stamp",
			"length %d exceeds slot size %d", meta.Length, a.size)
	}
	s.meta = meta
	return nil
}

// Transfer retags the slot from one owner to another.
func (a *Arena) Transfer(h Handle, from, to Owner) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, err := a.held(h, from, "Transfer")
	if err != nil {
		return err
	}
	s.owner = to
	return nil
}

// Release returns the slot to the producer's free list.
func (a *Arena) Release(h Handle, by Owner) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, err := a.held(h, by, "Release")
	if err != nil {
		return err
	}
	s.owner = a.producer
	s.free = true
	s.meta = Meta{}
	a.free <- h.index
	return nil
}

// Owner reports who holds the slot and whether it is free.
func (a *Arena) Owner(h Handle) (owner Owner, free bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if h.arena != a.id || h.index < 0 || h.index >= len(a.slots) {
		return uuid.Nil, false, errors.Newf(errors.ErrorInvalid, errors.ErrNotOwner, "Arena", "Owner",
			"handle %s does not belong to this arena", h)
	}
	s := a.slots[h.index]
	return s.owner, s.free, nil
}

// Outstanding counts slots that are not free.
func (a *Arena) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, s := range a.slots {
		if !s.free {
			n++
		}
	}
	return n
}

// HeldBy counts slots currently tagged with owner that are not free.
func (a *Arena) HeldBy(owner Owner) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, s := range a.slots {
		if !s.free && s.owner == owner {
			n++
		}
	}
	return n
}

// Close invalidates every handle and wakes waiting producers. Slots still held by
// a party other than the producer are reported as ErrReleaseFailure; the storage
// is dropped regardless. Closing twice is a no-op.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	close(a.done)

	leaked := 0
	for i := range a.slots {
		if !a.slots[i].free && a.slots[i].owner != a.producer {
			leaked++
		}
		a.slots[i].data = nil
	}
	if leaked > 0 {
		return errors.Newf(errors.ErrorInvalid, errors.ErrReleaseFailure, "Arena", "Close",
			"%d slot(s) still held by consumers", leaked)
	}
	return nil
}
