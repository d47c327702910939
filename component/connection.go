package component

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/metric"
	"github.com/c360/mediaflow/pkg/arena"
	"github.com/c360/mediaflow/pkg/buffer"
	"github.com/c360/mediaflow/pkg/retry"
)

// Connection links one output port to one input port. Negotiation gives it an
// arena of agreed count and size plus a handoff queue of the same capacity.
type Connection struct {
	id      uuid.UUID
	name    string
	out     *Port
	in      *Port
	logger   *slog.Logger
	metrics  *metric.Metrics
	registry *metric.MetricsRegistry

	mu           sync.Mutex
	arena        *arena.Arena
	queue        buffer.Buffer[arena.Handle]
	outCommitted bool
	inCommitted  bool
	closed       bool
}

// Connect links an output port to an input port; the arguments may be given
// in either order. Formats must be compatible, each port takes a single
// connection unless the producing component declares RoleSplitter, and
// neither component may be processing.
func Connect(a, b *Port) (*Connection, error) {
	if a == nil || b == nil {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "Connection", "Connect", "nil port")
	}
	out, in := a, b
	if a.direction == DirectionInput && b.direction == DirectionOutput {
		out, in = b, a
	}
	if err := compatible("Connect", out, in); err != nil {
		return nil, err
	}
	for _, p := range []*Port{out, in} {
		switch s := p.owner.State(); {
		case s == StateInvalid:
			return nil, errors.Newf(errors.ErrorInvalid, errors.ErrInvalidTransition, "Connection", "Connect",
				"%s: owner is invalid", p)
		case s.Processing():
			return nil, errors.Newf(errors.ErrorInvalid, errors.ErrNegotiationBusy, "Connection", "Connect",
				"%s: owner is %s", p, s)
		}
	}

	out.mu.Lock()
	defer out.mu.Unlock()
	in.mu.Lock()
	defer in.mu.Unlock()

	if len(in.conns) > 0 {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrResourceConflict, "Connection", "Connect",
			"%s is already connected", in)
	}
	if len(out.conns) > 0 && !out.owner.HasRole(RoleSplitter) {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrResourceConflict, "Connection", "Connect",
			"%s is already connected and %s is not a splitter", out, out.owner.name)
	}

	name := fmt.Sprintf("%s->%s", out, in)
	c := &Connection{
		id:       uuid.New(),
		name:     name,
		out:      out,
		in:       in,
		logger:   out.owner.logger.With("connection", name),
		metrics:  out.owner.metrics,
		registry: out.owner.deps.MetricsRegistry,
	}
	out.conns = append(out.conns, c)
	in.conns = append(in.conns, c)
	c.logger.Debug("ports connected")
	return c, nil
}

// ID returns the connection identity.
func (c *Connection) ID() uuid.UUID { return c.id }

// Name renders "producer.port->consumer.port".
func (c *Connection) Name() string { return c.name }

// Output returns the producing port.
func (c *Connection) Output() *Port { return c.out }

// Input returns the consuming port.
func (c *Connection) Input() *Port { return c.in }

// Agreed returns the buffer count and size both ends accept: the larger of
// each requirement.
func (c *Connection) Agreed() (count, size int) {
	return max(c.out.MinBuffers(), c.in.MinBuffers()), max(c.out.BufferSize(), c.in.BufferSize())
}

// Arena returns the negotiated arena, or nil.
func (c *Connection) Arena() *arena.Arena {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arena
}

func (c *Connection) peer(p *Port) *Port {
	if p == c.out {
		return c.in
	}
	return c.out
}

// negotiate commits buffers to side once the peer component has reached
// LOADED. The arena is shared: the first side allocates it, the second
// reuses it when it is large enough.
func (c *Connection) negotiate(ctx context.Context, side *Port, timeout time.Duration) error {
	peer := c.peer(side)
	err := retry.Poll(ctx, retry.ForDuration(timeout), func() (bool, error) {
		s := peer.owner.State()
		if s == StateInvalid {
			return false, errors.Newf(errors.ErrorInvalid, errors.ErrInvalidTransition, "Connection", "negotiate",
				"%s: peer %s is invalid", c.name, peer)
		}
		return s.AtLeastLoaded(), nil
	})
	switch {
	case err == nil:
	case stderrors.Is(err, retry.ErrConditionNotMet):
		return errors.Newf(errors.ErrorTransient, errors.ErrTimeout, "Connection", "negotiate",
			"%s: peer %s did not reach loaded within %s", c.name, peer, timeout)
	case ctx.Err() != nil:
		return errors.WrapTransient(ctx.Err(), "Connection", "negotiate", c.name)
	default:
		return err
	}

	if err := compatible("negotiate", c.out, c.in); err != nil {
		return err
	}
	count, size := c.Agreed()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.Newf(errors.ErrorInvalid, errors.ErrClosed, "Connection", "negotiate",
			"%s is disconnected", c.name)
	}
	if c.arena == nil || c.arena.Count() < count || c.arena.Size() < size {
		if c.arena != nil {
			if n := c.arena.Outstanding(); n > 0 {
				return errors.Newf(errors.ErrorInvalid, errors.ErrNegotiationBusy, "Connection", "negotiate",
					"%s: %d buffer(s) still in use", c.name, n)
			}
			c.dropLocked()
		}
		a, err := arena.New(count, size, c.out.id)
		if err != nil {
			return errors.Wrap(err, "Connection", "negotiate", "arena allocation")
		}
		q, err := c.newQueue(count)
		if err != nil {
			_ = a.Close()
			return errors.Wrap(err, "Connection", "negotiate", "queue allocation")
		}
		c.arena, c.queue = a, q
		c.logger.Debug("buffers allocated", "count", count, "size", size)
	}
	if side == c.out {
		c.outCommitted = true
	} else {
		c.inCommitted = true
	}
	return nil
}

// newQueue builds the handoff queue, exporting its depth and throughput
// under "connection_<name>". A name already exported by another pipeline on
// the same registry gets an unmetered queue.
func (c *Connection) newQueue(count int) (buffer.Buffer[arena.Handle], error) {
	if c.registry == nil {
		return buffer.NewCircularBuffer[arena.Handle](count)
	}
	q, err := buffer.NewCircularBuffer(count,
		buffer.WithMetrics[arena.Handle](c.registry, c.metricsPrefix()))
	if err == nil {
		return q, nil
	}
	c.logger.Warn("queue metrics unavailable", "error", err)
	return buffer.NewCircularBuffer[arena.Handle](count)
}

func (c *Connection) metricsPrefix() string {
	return "connection_" + c.name
}

// commitment reports what side holds: the arena dimensions if it has
// committed to them, zero otherwise.
func (c *Connection) commitment(side *Port) (count, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	committed := c.outCommitted
	if side == c.in {
		committed = c.inCommitted
	}
	if !committed || c.arena == nil {
		return 0, 0
	}
	return c.arena.Count(), c.arena.Size()
}

// uncommit withdraws side; the arena goes once neither side holds it.
func (c *Connection) uncommit(side *Port) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if side == c.out {
		c.outCommitted = false
	} else {
		c.inCommitted = false
	}
	if c.outCommitted || c.inCommitted {
		return nil
	}
	return c.dropLocked()
}

// dropLocked closes arena and queue. Caller holds mu.
func (c *Connection) dropLocked() error {
	var err error
	if c.arena != nil {
		err = c.arena.Close()
		c.arena = nil
	}
	if c.queue != nil {
		_ = c.queue.Close()
		c.queue = nil
	}
	c.metrics.RecordBuffersInFlight(c.name, 0)
	return err
}

// Disconnect detaches both ports and releases the arena. It is refused while
// either component is processing.
func (c *Connection) Disconnect() error {
	for _, p := range []*Port{c.out, c.in} {
		if s := p.owner.State(); s.Processing() {
			return errors.Newf(errors.ErrorInvalid, errors.ErrNegotiationBusy, "Connection", "Disconnect",
				"%s: owner is %s", p, s)
		}
	}

	c.out.mu.Lock()
	c.out.conns = slices.DeleteFunc(c.out.conns, func(x *Connection) bool { return x == c })
	c.out.mu.Unlock()
	c.in.mu.Lock()
	c.in.conns = slices.DeleteFunc(c.in.conns, func(x *Connection) bool { return x == c })
	c.in.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.outCommitted, c.inCommitted = false, false
	err := c.dropLocked()
	c.logger.Debug("ports disconnected")
	if err != nil {
		return errors.Wrap(err, "Connection", "Disconnect", "buffer release")
	}
	return nil
}

func (c *Connection) current(method string) (*arena.Arena, buffer.Buffer[arena.Handle], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, errors.Newf(errors.ErrorInvalid, errors.ErrClosed, "Connection", method,
			"%s is disconnected", c.name)
	}
	if c.arena == nil {
		return nil, nil, errors.Newf(errors.ErrorInvalid, errors.ErrResourceConflict, "Connection", method,
			"%s has no negotiated buffers", c.name)
	}
	return c.arena, c.queue, nil
}

func (c *Connection) issued(h arena.Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arena != nil && c.arena.ID() == h.Arena()
}

// Acquire takes a free buffer for the producer.
func (c *Connection) Acquire(ctx context.Context) (arena.Handle, error) {
	a, _, err := c.current("Acquire")
	if err != nil {
		return arena.Handle{}, err
	}
	return a.Acquire(ctx, c.out.id)
}

// TryAcquire is Acquire without waiting; ok is false when none is free.
func (c *Connection) TryAcquire() (h arena.Handle, ok bool, err error) {
	a, _, err := c.current("TryAcquire")
	if err != nil {
		return arena.Handle{}, false, err
	}
	return a.TryAcquire(c.out.id)
}

// Send moves a producer-held buffer to the consumer's queue.
func (c *Connection) Send(h arena.Handle) error {
	a, q, err := c.current("Send")
	if err != nil {
		return err
	}
	if err := a.Transfer(h, c.out.id, c.in.id); err != nil {
		return err
	}
	if err := q.Write(h); err != nil {
		return errors.Wrap(err, "Connection", "Send", c.name)
	}
	c.metrics.RecordBufferTransfer(c.name, a.HeldBy(c.in.id))
	return nil
}

// Receive waits for the next buffer sent to the consumer.
func (c *Connection) Receive(ctx context.Context) (arena.Handle, error) {
	_, q, err := c.current("Receive")
	if err != nil {
		return arena.Handle{}, err
	}
	return q.ReadWithContext(ctx)
}

// Release hands a consumed buffer back to the producer's free list.
func (c *Connection) Release(h arena.Handle) error {
	a, _, err := c.current("Release")
	if err != nil {
		return err
	}
	if err := a.Release(h, c.in.id); err != nil {
		return err
	}
	c.metrics.RecordBuffersInFlight(c.name, a.HeldBy(c.in.id))
	return nil
}

// Bytes returns the storage of a buffer held by by.
func (c *Connection) Bytes(by *Port, h arena.Handle) ([]byte, error) {
	a, _, err := c.current("Bytes")
	if err != nil {
		return nil, err
	}
	return a.Bytes(h, by.id)
}

// Payload returns the filled part of a buffer held by by.
func (c *Connection) Payload(by *Port, h arena.Handle) ([]byte, arena.Meta, error) {
	a, _, err := c.current("Payload")
	if err != nil {
		return nil, arena.Meta{}, err
	}
	return a.Payload(h, by.id)
}

// Stamp records metadata on a buffer held by by.
func (c *Connection) Stamp(by *Port, h arena.Handle, meta arena.Meta) error {
	a, _, err := c.current("Stamp")
	if err != nil {
		return err
	}
	return a.Stamp(h, by.id, meta)
}
