// Package passthrough provides a processor that forwards buffers from its
// input to its output, optionally inverting every byte.
package passthrough

import (
	"context"
	"sync"

	"github.com/c360/mediaflow/component"
	"github.com/c360/mediaflow/control"
	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/pkg/property"
	"github.com/c360/mediaflow/processor/base"
)

// Kind is the provider kind name of the passthrough processor
const Kind = "passthrough"

// Info describes the passthrough processor
var Info = base.Info{
	Kind:        Kind,
	Version:     "1.0.0",
	Description: "Forwards buffers unchanged or inverted",
	Roles:       []component.Role{component.RoleProcessor},
}

// Config holds configuration for the passthrough processor
type Config struct {
	Buffers    int `json:"buffers"`
	BufferSize int `json:"buffer_size"`
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{Buffers: 2, BufferSize: 4096}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Buffers < 1 || c.BufferSize < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "buffers and buffer_size must be positive")
	}
	return nil
}

// Processor reads port 0 and writes port 1. Payloads larger than the output
// buffers are split across several.
type Processor struct {
	*component.Base
	runner *component.Runner
	stats  base.Stats
	in     *component.Port
	out    *component.Port
	invert *control.Boolean

	mu     sync.Mutex
	config Config
}

var (
	_ component.Component    = (*Processor)(nil)
	_ component.Configurable = (*Processor)(nil)
	_ component.Finisher     = (*Processor)(nil)
)

// New creates a passthrough processor. It is a component.Factory.
func New(name, _ string, deps component.Dependencies) (component.Component, error) {
	return NewProcessor(name, DefaultConfig(), deps)
}

// NewProcessor creates a passthrough processor from configuration
func NewProcessor(name string, config Config, deps component.Dependencies) (*Processor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	p := &Processor{config: config}
	p.runner = component.NewRunner(p.loop)
	b, err := component.NewBase(component.Config{
		Name:     name,
		Provider: Kind,
		Roles:    Info.Roles,
		Hooks:    p.runner.Hooks(component.Hooks{}),
	}, deps)
	if err != nil {
		return nil, err
	}
	p.Base = b
	p.runner.Attach(p)

	if p.in, err = b.AddPort(component.PortConfig{
		Index:      0,
		Direction:  component.DirectionInput,
		MIME:       component.AnyMIME,
		MinBuffers: config.Buffers,
		BufferSize: config.BufferSize,
	}); err != nil {
		return nil, err
	}
	if p.out, err = b.AddPort(component.PortConfig{
		Index:      1,
		Direction:  component.DirectionOutput,
		MIME:       component.AnyMIME,
		MinBuffers: config.Buffers,
		BufferSize: config.BufferSize,
	}); err != nil {
		return nil, err
	}

	if p.invert, err = control.NewBoolean("invert", false); err != nil {
		return nil, err
	}
	if err := b.Controls().Add(p.invert); err != nil {
		return nil, err
	}
	return p, nil
}

// Configure applies properties. Allowed until buffers are negotiated.
func (p *Processor) Configure(props map[string]property.Value) error {
	if err := base.RequireIdle(p); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	cfg := p.config
	d := base.Decode(p.Name(), props)
	d.Int("buffers", &cfg.Buffers)
	d.Int("buffer_size", &cfg.BufferSize)
	if err := d.Err(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, p.Name(), "Configure", "validate")
	}
	for _, port := range []*component.Port{p.in, p.out} {
		if err := port.SetBufferRequirements(cfg.Buffers, cfg.BufferSize); err != nil {
			return err
		}
	}
	p.config = cfg
	return nil
}

// Stats returns the buffer counters
func (p *Processor) Stats() base.Snapshot { return p.stats.Snapshot() }

// Finished is closed once the end-of-stream buffer was forwarded.
func (p *Processor) Finished() <-chan struct{} { return p.runner.Finished() }

func (p *Processor) loop(ctx context.Context) error {
	src, dst := base.Single(p.in), base.Single(p.out)
	if src == nil || dst == nil {
		return nil
	}
	var scratch []byte
	for {
		h, err := src.Receive(ctx)
		if err != nil {
			return err
		}
		payload, meta, err := src.Payload(p.in, h)
		if err != nil {
			return err
		}
		if p.invert.Value() {
			scratch = append(scratch[:0], payload...)
			Invert(scratch)
			payload = scratch
		}
		if _, err := base.Forward(ctx, dst, payload, meta); err != nil {
			_ = src.Release(h)
			p.stats.RecordError()
			return err
		}
		p.stats.Record(len(payload))
		if err := src.Release(h); err != nil {
			return err
		}
		if meta.Last {
			p.runner.Finish()
			return nil
		}
	}
}

// Invert flips every bit of b in place.
func Invert(b []byte) {
	for i := range b {
		b[i] = ^b[i]
	}
}
