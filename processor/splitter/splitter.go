// Package splitter provides a processor copying every input buffer to each
// connection of its output port.
package splitter

import (
	"context"
	"sync"

	"github.com/c360/mediaflow/component"
	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/pkg/property"
	"github.com/c360/mediaflow/processor/base"
)

// Kind is the provider kind name of the splitter
const Kind = "splitter"

// Info describes the splitter
var Info = base.Info{
	Kind:        Kind,
	Version:     "1.0.0",
	Description: "Copies each input buffer to every output connection",
	Roles:       []component.Role{component.RoleSplitter},
}

// Config holds configuration for the splitter
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

// Splitter reads port 0 and fans out on port 1. A slow branch holds back
// every other one.
type Splitter struct {
	*component.Base
	runner *component.Runner
	stats  base.Stats
	in     *component.Port
	out    *component.Port

	mu     sync.Mutex
	config Config
}

var (
	_ component.Component    = (*Splitter)(nil)
	_ component.Configurable = (*Splitter)(nil)
	_ component.Finisher     = (*Splitter)(nil)
)

// New creates a splitter. It is a component.Factory.
func New(name, _ string, deps component.Dependencies) (component.Component, error) {
	return NewSplitter(name, DefaultConfig(), deps)
}

// NewSplitter creates a splitter from configuration
func NewSplitter(name string, config Config, deps component.Dependencies) (*Splitter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &Splitter{config: config}
	s.runner = component.NewRunner(s.loop)
	b, err := component.NewBase(component.Config{
		Name:     name,
		Provider: Kind,
		Roles:    Info.Roles,
		Hooks:    s.runner.Hooks(component.Hooks{}),
	}, deps)
	if err != nil {
		return nil, err
	}
	s.Base = b
	s.runner.Attach(s)

	if s.in, err = b.AddPort(component.PortConfig{
		Index:      0,
		Direction:  component.DirectionInput,
		MIME:       component.AnyMIME,
		MinBuffers: config.Buffers,
		BufferSize: config.BufferSize,
	}); err != nil {
		return nil, err
	}
	if s.out, err = b.AddPort(component.PortConfig{
		Index:      1,
		Direction:  component.DirectionOutput,
		MIME:       component.AnyMIME,
		MinBuffers: config.Buffers,
		BufferSize: config.BufferSize,
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Configure applies properties. Allowed until buffers are negotiated.
func (s *Splitter) Configure(props map[string]property.Value) error {
	if err := base.RequireIdle(s); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.config
	d := base.Decode(s.Name(), props)
	d.Int("buffers", &cfg.Buffers)
	d.Int("buffer_size", &cfg.BufferSize)
	if err := d.Err(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, s.Name(), "Configure", "validate")
	}
	for _, port := range []*component.Port{s.in, s.out} {
		if err := port.SetBufferRequirements(cfg.Buffers, cfg.BufferSize); err != nil {
			return err
		}
	}
	s.config = cfg
	return nil
}

// Stats returns the buffer counters, one per input buffer
func (s *Splitter) Stats() base.Snapshot { return s.stats.Snapshot() }

// Finished is closed once the end-of-stream buffer reached every branch.
func (s *Splitter) Finished() <-chan struct{} { return s.runner.Finished() }

func (s *Splitter) loop(ctx context.Context) error {
	src := base.Single(s.in)
	if src == nil || !s.out.Enabled() {
		return nil
	}
	branches := s.out.Connections()
	if len(branches) == 0 {
		return nil
	}

	for {
		h, err := src.Receive(ctx)
		if err != nil {
			return err
		}
		payload, meta, err := src.Payload(s.in, h)
		if err != nil {
			return err
		}
		for _, conn := range branches {
			if _, err := base.Forward(ctx, conn, payload, meta); err != nil {
				_ = src.Release(h)
				s.stats.RecordError()
				return err
			}
		}
		s.stats.Record(len(payload))
		if err := src.Release(h); err != nil {
			return err
		}
		if meta.Last {
			s.runner.Finish()
			return nil
		}
	}
}
