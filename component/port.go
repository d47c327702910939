package component

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/pkg/arena"
	"github.com/c360/mediaflow/pkg/property"
)

// AnyMIME matches every content type during format negotiation.
const AnyMIME = "*/*"

// PortConfig describes a port at creation.
type PortConfig struct {
	Index      int
	Direction  Direction
	StreamType StreamType
	MIME       string   // content type, "" or AnyMIME for any
	Accepts    []string // additional peer types this port takes
	MinBuffers int      // minimum buffer count, at least 1
	BufferSize int      // minimum buffer size in bytes, at least 1
	Disabled   bool
}

func (c PortConfig) validate() error {
	if c.Index < 0 {
		return errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "Port", "validate",
			"negative index %d", c.Index)
	}
	return validateRequirements(c.MinBuffers, c.BufferSize)
}

func validateRequirements(minBuffers, bufferSize int) error {
	if minBuffers < 1 || bufferSize < 1 {
		return errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "Port", "validate",
			"min buffers %d and buffer size %d must be positive", minBuffers, bufferSize)
	}
	return nil
}

// Port is a typed endpoint of a component. Output ports produce buffers,
// input ports consume them. The owner back-reference does not own the
// component.
type Port struct {
	id        uuid.UUID
	owner     *Base
	index     int
	direction Direction
	props     *property.Bag

	mu         sync.RWMutex
	streamType StreamType
	mime       string
	accepts    []string
	minBuffers int
	bufferSize int
	enabled    bool
	conns      []*Connection
}

func newPort(owner *Base, cfg PortConfig) *Port {
	return &Port{
		id:         uuid.New(),
		owner:      owner,
		index:      cfg.Index,
		direction:  cfg.Direction,
		props:      property.NewBag(),
		streamType: cfg.StreamType,
		mime:       cfg.MIME,
		accepts:    slices.Clone(cfg.Accepts),
		minBuffers: cfg.MinBuffers,
		bufferSize: cfg.BufferSize,
		enabled:    !cfg.Disabled,
	}
}

// ID is the owner tag this port uses on buffers.
func (p *Port) ID() uuid.UUID { return p.id }

// Owner returns the component the port belongs to.
func (p *Port) Owner() Component { return p.owner }

// Index returns the port position within its component.
func (p *Port) Index() int { return p.index }

// Direction reports whether the port produces or consumes.
func (p *Port) Direction() Direction { return p.direction }

// String renders "component.index" for logs and connection names.
func (p *Port) String() string { return fmt.Sprintf("%s.%d", p.owner.name, p.index) }

// StreamType returns the declared content kind.
func (p *Port) StreamType() StreamType {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.streamType
}

// MIME returns the declared content type.
func (p *Port) MIME() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mime
}

// Accepts returns the extra content types the port takes.
func (p *Port) Accepts() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.accepts)
}

// MinBuffers returns the required buffer count.
func (p *Port) MinBuffers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.minBuffers
}

// BufferSize returns the required buffer size in bytes.
func (p *Port) BufferSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bufferSize
}

// Enabled reports whether the port takes part in negotiation.
func (p *Port) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

// SetEnabled includes or excludes the port from the population requirement.
func (p *Port) SetEnabled(enabled bool) error {
	if err := p.checkIdle("SetEnabled"); err != nil {
		return err
	}
	p.mu.Lock()
	p.enabled = enabled
	p.mu.Unlock()
	return nil
}

// SetFormat changes the declared content. Connected peers re-check
// compatibility at the next negotiation.
func (p *Port) SetFormat(t StreamType, mime string, accepts ...string) error {
	if err := p.checkIdle("SetFormat"); err != nil {
		return err
	}
	p.mu.Lock()
	p.streamType = t
	p.mime = mime
	p.accepts = slices.Clone(accepts)
	p.mu.Unlock()
	return nil
}

// SetBufferRequirements changes the minimum count and size. Committed buffers
// are re-negotiated on the next LOADED -> WAIT_FOR_RESOURCES step.
func (p *Port) SetBufferRequirements(minBuffers, bufferSize int) error {
	if err := validateRequirements(minBuffers, bufferSize); err != nil {
		return errors.Wrap(err, "Port", "SetBufferRequirements", p.String())
	}
	if err := p.checkIdle("SetBufferRequirements"); err != nil {
		return err
	}
	p.mu.Lock()
	p.minBuffers = minBuffers
	p.bufferSize = bufferSize
	p.mu.Unlock()
	return nil
}

// checkIdle rejects configuration changes while buffers may be flowing on
// either end of a connection.
func (p *Port) checkIdle(method string) error {
	if s := p.owner.State(); s.Processing() {
		return errors.Newf(errors.ErrorInvalid, errors.ErrNegotiationBusy, "Port", method,
			"%s: owner is %s", p, s)
	}
	for _, c := range p.Connections() {
		if s := c.peer(p).owner.State(); s.Processing() {
			return errors.Newf(errors.ErrorInvalid, errors.ErrNegotiationBusy, "Port", method,
				"%s: peer %s is %s", p, c.peer(p), s)
		}
	}
	return nil
}

// Property returns a port property.
func (p *Port) Property(key string) (property.Value, error) { return p.props.Get(key) }

// SetProperty stores a port property and returns the previous value.
func (p *Port) SetProperty(key string, v property.Value) (property.Value, bool) {
	return p.props.Set(key, v)
}

// Properties exposes the whole property bag.
func (p *Port) Properties() *property.Bag { return p.props }

// Connections returns the attached connections.
func (p *Port) Connections() []*Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.conns)
}

// Connected reports whether at least one connection is attached.
func (p *Port) Connected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns) > 0
}

// ActualBuffers is the committed buffer count; for a fan-out port, the
// smallest across its connections.
func (p *Port) ActualBuffers() int {
	count, _ := p.committed()
	return count
}

// CommittedSize is the committed buffer size; for a fan-out port, the
// smallest across its connections.
func (p *Port) CommittedSize() int {
	_, size := p.committed()
	return size
}

func (p *Port) committed() (count, size int) {
	conns := p.Connections()
	if len(conns) == 0 {
		return 0, 0
	}
	count, size = -1, -1
	for _, c := range conns {
		n, s := c.commitment(p)
		if count < 0 || n < count {
			count = n
		}
		if size < 0 || s < size {
			size = s
		}
	}
	return count, size
}

// Populated reports whether the port is enabled and holds at least the
// required number of buffers of at least the required size.
func (p *Port) Populated() bool {
	if !p.Enabled() {
		return false
	}
	count, size := p.committed()
	return count >= p.MinBuffers() && size >= p.BufferSize()
}

// single returns the only connection, refusing fan-out ports.
func (p *Port) single(method string) (*Connection, error) {
	conns := p.Connections()
	switch len(conns) {
	case 0:
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrNotFound, "Port", method,
			"%s is not connected", p)
	case 1:
		return conns[0], nil
	default:
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrUnsupportedOperation, "Port", method,
			"%s fans out to %d connections, use Connections()", p, len(conns))
	}
}

// byHandle finds the connection whose arena issued h.
func (p *Port) byHandle(method string, h arena.Handle) (*Connection, error) {
	for _, c := range p.Connections() {
		if c.issued(h) {
			return c, nil
		}
	}
	return nil, errors.Newf(errors.ErrorInvalid, errors.ErrNotOwner, "Port", method,
		"%s: handle %s belongs to none of its connections", p, h)
}

func (p *Port) requireDirection(method string, d Direction) error {
	if p.direction != d {
		return errors.Newf(errors.ErrorInvalid, errors.ErrUnsupportedOperation, "Port", method,
			"%s is an %s port", p, p.direction)
	}
	return nil
}

// Acquire takes a free buffer on an output port, waiting until the consumer
// releases one or ctx ends.
func (p *Port) Acquire(ctx context.Context) (arena.Handle, error) {
	if err := p.requireDirection("Acquire", DirectionOutput); err != nil {
		return arena.Handle{}, err
	}
	c, err := p.single("Acquire")
	if err != nil {
		return arena.Handle{}, err
	}
	return c.Acquire(ctx)
}

// Send hands a filled buffer to the consumer.
func (p *Port) Send(h arena.Handle) error {
	if err := p.requireDirection("Send", DirectionOutput); err != nil {
		return err
	}
	c, err := p.byHandle("Send", h)
	if err != nil {
		return err
	}
	return c.Send(h)
}

// Receive waits for the next filled buffer on an input port.
func (p *Port) Receive(ctx context.Context) (arena.Handle, error) {
	if err := p.requireDirection("Receive", DirectionInput); err != nil {
		return arena.Handle{}, err
	}
	c, err := p.single("Receive")
	if err != nil {
		return arena.Handle{}, err
	}
	return c.Receive(ctx)
}

// Release returns a consumed buffer to the producer.
func (p *Port) Release(h arena.Handle) error {
	if err := p.requireDirection("Release", DirectionInput); err != nil {
		return err
	}
	c, err := p.byHandle("Release", h)
	if err != nil {
		return err
	}
	return c.Release(h)
}

// Bytes returns the full storage of a buffer this port holds.
func (p *Port) Bytes(h arena.Handle) ([]byte, error) {
	c, err := p.byHandle("Bytes", h)
	if err != nil {
		return nil, err
	}
	return c.Bytes(p, h)
}

// Payload returns the filled part of a buffer this port holds.
func (p *Port) Payload(h arena.Handle) ([]byte, arena.Meta, error) {
	c, err := p.byHandle("Payload", h)
	if err != nil {
		return nil, arena.Meta{}, err
	}
	return c.Payload(p, h)
}

// Stamp records length, sequence and timestamp of a buffer this port holds.
func (p *Port) Stamp(h arena.Handle, meta arena.Meta) error {
	c, err := p.byHandle("Stamp", h)
	if err != nil {
		return err
	}
	return c.Stamp(p, h, meta)
}

// mimeCompatible applies the content type rule: equal types match, an empty
// or wildcard type matches anything, and either side's Accepts list may name
// the other's type.
func mimeCompatible(out, in *Port) bool {
	a, b := out.MIME(), in.MIME()
	if a == "" || b == "" || a == AnyMIME || b == AnyMIME || strings.EqualFold(a, b) {
		return true
	}
	return containsFold(in.Accepts(), a) || containsFold(out.Accepts(), b)
}

func containsFold(list []string, s string) bool {
	return slices.ContainsFunc(list, func(x string) bool { return strings.EqualFold(x, s) })
}

func compatible(method string, out, in *Port) error {
	if out.direction != DirectionOutput || in.direction != DirectionInput {
		return errors.Newf(errors.ErrorInvalid, errors.ErrIncompatibleFormat, "Connection", method,
			"%s (%s) -> %s (%s): directions must be output -> input", out, out.direction, in, in.direction)
	}
	ot, it := out.StreamType(), in.StreamType()
	if ot != StreamUnknown && it != StreamUnknown && ot != it {
		return errors.Newf(errors.ErrorInvalid, errors.ErrIncompatibleFormat, "Connection", method,
			"%s carries %s, %s expects %s", out, ot, in, it)
	}
	if !mimeCompatible(out, in) {
		return errors.Newf(errors.ErrorInvalid, errors.ErrIncompatibleFormat, "Connection", method,
			"%s type %q does not match %s type %q", out, out.MIME(), in, in.MIME())
	}
	return nil
}
