// Package base holds the plumbing shared by the built-in components:
// property decoding, activity statistics and chunked buffer forwarding.
package base

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/c360/mediaflow/component"
	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/pkg/arena"
	"github.com/c360/mediaflow/pkg/property"
)

// Info holds built-in component metadata
type Info struct {
	Kind        string           `json:"kind"`
	Version     string           `json:"version"`
	Description string           `json:"description"`
	Roles       []component.Role `json:"roles"`
}

// Registration returns a provider registration exposing the kind under name.
func (i Info) Registration(name string, paths []string, factory component.Factory) component.Registration {
	return component.Registration{
		Name:        name,
		Roles:       slices.Clone(i.Roles),
		Paths:       slices.Clone(paths),
		Description: i.Description,
		Version:     i.Version,
		Factory:     factory,
	}
}

// Snapshot is a point-in-time copy of Stats
type Snapshot struct {
	Buffers      int64     `json:"buffers"`
	Bytes        int64     `json:"bytes"`
	Errors       int64     `json:"errors"`
	LastActivity time.Time `json:"last_activity"`
}

// Stats counts the buffers a component moved. Safe for concurrent use.
type Stats struct {
	buffers atomic.Int64
	bytes   atomic.Int64
	errors  atomic.Int64
	last    atomic.Int64
}

// Record counts one buffer of n payload bytes
func (s *Stats) Record(n int) {
	s.buffers.Add(1)
	s.bytes.Add(int64(n))
	s.last.Store(time.Now().UnixNano())
}

// RecordError counts a failed buffer
func (s *Stats) RecordError() {
	s.errors.Add(1)
}

// Snapshot returns the current counters
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		Buffers: s.buffers.Load(),
		Bytes:   s.bytes.Load(),
		Errors:  s.errors.Load(),
	}
	if last := s.last.Load(); last != 0 {
		snap.LastActivity = time.Unix(0, last)
	}
	return snap
}

// Decoder reads typed settings out of a property map. The first failure
// sticks; Err also reports keys nobody asked for.
type Decoder struct {
	owner string
	props map[string]property.Value
	seen  map[string]bool
	err   error
}

// Decode starts decoding props for the named component.
func Decode(owner string, props map[string]property.Value) *Decoder {
	return &Decoder{owner: owner, props: props, seen: make(map[string]bool, len(props))}
}

func (d *Decoder) take(key string, kind property.Kind) (property.Value, bool) {
	d.seen[key] = true
	v, ok := d.props[key]
	if !ok || d.err != nil {
		return property.Value{}, false
	}
	v, err := property.Coerce(v, kind)
	if err != nil {
		d.err = errors.WrapInvalid(fmt.Errorf("%w: property %q: %w", errors.ErrInvalidConfig, key, err),
			d.owner, "Configure", "decode "+key)
		return property.Value{}, false
	}
	return v, true
}

// Int stores the integer under key into dst when present
func (d *Decoder) Int(key string, dst *int) {
	if v, ok := d.take(key, property.KindInt); ok {
		n, _ := v.AsInt()
		*dst = int(n)
	}
}

// String stores the string under key into dst when present
func (d *Decoder) String(key string, dst *string) {
	if v, ok := d.take(key, property.KindString); ok {
		*dst, _ = v.AsString()
	}
}

// Bool stores the boolean under key into dst when present
func (d *Decoder) Bool(key string, dst *bool) {
	if v, ok := d.take(key, property.KindBool); ok {
		*dst, _ = v.AsBool()
	}
}

// Duration stores the duration under key into dst when present
func (d *Decoder) Duration(key string, dst *time.Duration) {
	if v, ok := d.take(key, property.KindDuration); ok {
		*dst, _ = v.AsDuration()
	}
}

// Err returns the first decoding failure or lists unknown keys.
func (d *Decoder) Err() error {
	if d.err != nil {
		return d.err
	}
	var unknown []string
	for key := range d.props {
		if !d.seen[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		return errors.WrapInvalid(fmt.Errorf("%w: unknown properties %s", errors.ErrInvalidConfig,
			strings.Join(unknown, ", ")), d.owner, "Configure", "decode")
	}
	return nil
}

// RequireIdle refuses reconfiguration once ports hold negotiated buffers.
func RequireIdle(c component.Component) error {
	switch s := c.State(); s {
	case component.StateUnloaded, component.StateLoaded:
		return nil
	default:
		return errors.Newf(errors.ErrorInvalid, errors.ErrResourceConflict, c.Name(), "Configure",
			"cannot configure while %s", s)
	}
}

// Forward copies payload into buffers taken from conn and sends them,
// splitting it when it exceeds the agreed buffer size. Every chunk carries
// meta; only the final one keeps meta.Last. An empty payload is still sent
// as one buffer. It returns the number of buffers sent.
func Forward(ctx context.Context, conn *component.Connection, payload []byte, meta arena.Meta) (int, error) {
	out := conn.Output()
	sent := 0
	for first := true; first || len(payload) > 0; first = false {
		h, err := conn.Acquire(ctx)
		if err != nil {
			return sent, err
		}
		buf, err := conn.Bytes(out, h)
		if err != nil {
			return sent, err
		}
		n := copy(buf, payload)
		payload = payload[n:]

		m := meta
		m.Length = n
		m.Last = meta.Last && len(payload) == 0
		if err := conn.Stamp(out, h, m); err != nil {
			return sent, err
		}
		if err := conn.Send(h); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// Single returns the only connection of p, or nil when p is disabled or
// unconnected.
func Single(p *component.Port) *component.Connection {
	if p == nil || !p.Enabled() {
		return nil
	}
	conns := p.Connections()
	if len(conns) != 1 {
		return nil
	}
	return conns[0]
}
