// Package writer provides a sink that writes received buffers to a content
// stream.
package writer

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/c360/mediaflow/component"
	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/pkg/property"
	"github.com/c360/mediaflow/processor/base"
	"github.com/c360/mediaflow/stream"
)

// Kind is the provider kind name of the stream writer
const Kind = "writer"

// Write modes
const (
	ModeReplace = "replace" // new content superseding any existing content
	ModeCreate  = "create"  // new content; fails if it exists
	ModeAppend  = "append"  // existing content
)

// Info describes the stream writer
var Info = base.Info{
	Kind:        Kind,
	Version:     "1.0.0",
	Description: "Writes received buffers to a content stream",
	Roles:       []component.Role{component.RoleSink},
}

// Config holds configuration for the stream writer
type Config struct {
	URI        string `json:"uri"`
	Mode       string `json:"mode"`
	Buffers    int    `json:"buffers"`
	BufferSize int    `json:"buffer_size"`
}

// DefaultConfig returns default configuration for the stream writer
func DefaultConfig() Config {
	return Config{Mode: ModeReplace, Buffers: 2, BufferSize: 4096}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	switch {
	case c.Mode != ModeReplace && c.Mode != ModeCreate && c.Mode != ModeAppend:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "mode must be one of: replace, create, append")
	case c.Buffers < 1 || c.BufferSize < 1:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "buffers and buffer_size must be positive")
	}
	return nil
}

// Writer consumes input port 0. Content is opened on load and closed after
// the end-of-stream buffer or on unload, whichever comes first.
type Writer struct {
	*component.Base
	streams *stream.Registry
	runner  *component.Runner
	stats   base.Stats
	in      *component.Port

	mu     sync.Mutex
	config Config
	output stream.ContentStream
}

var (
	_ component.Component    = (*Writer)(nil)
	_ component.Configurable = (*Writer)(nil)
	_ component.Finisher     = (*Writer)(nil)
)

// Factory returns a component.Factory creating writers on streams. A bound
// path becomes the default file: URI.
func Factory(streams *stream.Registry) component.Factory {
	return func(name, path string, deps component.Dependencies) (component.Component, error) {
		cfg := DefaultConfig()
		if path != "" {
			cfg.URI = "file:" + path
		}
		return NewWriter(name, cfg, streams, deps)
	}
}

// NewWriter creates a stream writer from configuration
func NewWriter(name string, config Config, streams *stream.Registry, deps component.Dependencies) (*Writer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if streams == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Writer", "NewWriter", "stream registry required")
	}
	w := &Writer{streams: streams, config: config}
	w.runner = component.NewRunner(w.loop)

	b, err := component.NewBase(component.Config{
		Name:     name,
		Provider: Kind,
		Roles:    Info.Roles,
		Hooks:    w.runner.Hooks(component.Hooks{Load: w.load, Unload: w.unload}),
	}, deps)
	if err != nil {
		return nil, err
	}
	w.Base = b
	w.runner.Attach(w)

	w.in, err = b.AddPort(component.PortConfig{
		Index:      0,
		Direction:  component.DirectionInput,
		MIME:       component.AnyMIME,
		MinBuffers: config.Buffers,
		BufferSize: config.BufferSize,
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Configure applies properties. Allowed until buffers are negotiated; a new
// URI takes effect on the next load.
func (w *Writer) Configure(props map[string]property.Value) error {
	if err := base.RequireIdle(w); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	cfg := w.config
	d := base.Decode(w.Name(), props)
	d.String("uri", &cfg.URI)
	d.String("mode", &cfg.Mode)
	d.Int("buffers", &cfg.Buffers)
	d.Int("buffer_size", &cfg.BufferSize)
	if err := d.Err(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, w.Name(), "Configure", "validate")
	}
	if err := w.in.SetBufferRequirements(cfg.Buffers, cfg.BufferSize); err != nil {
		return err
	}
	w.config = cfg
	return nil
}

// Config returns the current configuration
func (w *Writer) Config() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.config
}

// Stats returns the buffer counters
func (w *Writer) Stats() base.Snapshot { return w.stats.Snapshot() }

// Finished is closed once the end-of-stream buffer was written and the
// content closed.
func (w *Writer) Finished() <-chan struct{} { return w.runner.Finished() }

func (w *Writer) load(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.config.URI == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, w.Name(), "Load", "uri is required")
	}

	var (
		s   stream.ContentStream
		err error
	)
	switch w.config.Mode {
	case ModeAppend:
		s, err = w.streams.Open(w.config.URI, stream.AccessWrite)
	case ModeCreate:
		s, err = w.streams.Create(w.config.URI)
	default:
		s, err = w.streams.Replace(w.config.URI)
	}
	if err != nil {
		return errors.Wrap(err, w.Name(), "Load", w.config.Mode+" "+w.config.URI)
	}
	w.output = s
	w.Logger().Debug("output opened", "uri", w.config.URI, "mode", w.config.Mode)
	return nil
}

func (w *Writer) unload(context.Context) error {
	return w.closeOutput()
}

func (w *Writer) closeOutput() error {
	w.mu.Lock()
	s := w.output
	w.output = nil
	w.mu.Unlock()
	if s == nil {
		return nil
	}
	if err := s.Close(); err != nil {
		return errors.Wrap(err, w.Name(), "Close", s.URI())
	}
	return nil
}

func (w *Writer) loop(ctx context.Context) error {
	src := base.Single(w.in)
	if src == nil {
		return nil
	}
	w.mu.Lock()
	output := w.output
	w.mu.Unlock()
	if output == nil {
		return nil
	}

	for {
		h, err := src.Receive(ctx)
		if err != nil {
			return err
		}
		payload, meta, err := src.Payload(w.in, h)
		if err != nil {
			return err
		}
		if err := write(ctx, output, payload); err != nil {
			_ = src.Release(h)
			w.stats.RecordError()
			return err
		}
		if len(payload) > 0 {
			w.stats.Record(len(payload))
		}
		if err := src.Release(h); err != nil {
			return err
		}

		if meta.Last {
			if err := w.closeOutput(); err != nil {
				return err
			}
			w.runner.Finish()
			w.Logger().Info("output finished", "uri", output.URI(), "bytes", w.stats.Snapshot().Bytes)
			return nil
		}
	}
}

// write waits for room, then appends p whole.
func write(ctx context.Context, s stream.ContentStream, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	for {
		err := s.WaitWritable(ctx, len(p))
		if err == nil {
			break
		}
		if !stderrors.Is(err, errors.ErrTimeout) || ctx.Err() != nil {
			return err
		}
	}
	_, err := s.Write(p)
	return err
}
