// Package reader provides a source that reads a content stream into buffers
package reader

import (
	"context"
	stderrors "errors"
	"io"
	"sync"
	"time"

	"github.com/c360/mediaflow/component"
	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/pkg/arena"
	"github.com/c360/mediaflow/pkg/property"
	"github.com/c360/mediaflow/processor/base"
	"github.com/c360/mediaflow/stream"
)

// Kind is the provider kind name of the stream reader
const Kind = "reader"

// DefaultMIME is the content type announced when none is configured
const DefaultMIME = "application/octet-stream"

// Info describes the stream reader
var Info = base.Info{
	Kind:        Kind,
	Version:     "1.0.0",
	Description: "Reads a content stream into buffers",
	Roles:       []component.Role{component.RoleSource},
}

// Config holds configuration for the stream reader
type Config struct {
	URI       string `json:"uri"`        // content to read; defaults to file:<path>
	MIME      string `json:"mime"`       // content type of the output port
	ChunkSize int    `json:"chunk_size"` // bytes per buffer
	Buffers   int    `json:"buffers"`
}

// DefaultConfig returns default configuration for the stream reader
func DefaultConfig() Config {
	return Config{MIME: DefaultMIME, ChunkSize: 4096, Buffers: 4}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	switch {
	case c.ChunkSize < 1:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "chunk_size must be positive")
	case c.Buffers < 1:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "buffers must be positive")
	case c.MIME == "":
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "mime is required")
	}
	return nil
}

// Reader copies a content stream to output port 0 and ends the stream on EOF.
type Reader struct {
	*component.Base
	streams *stream.Registry
	runner  *component.Runner
	stats   base.Stats
	out     *component.Port

	mu       sync.Mutex
	config   Config
	input    stream.ContentStream
	sequence uint64
	ended    bool
}

var (
	_ component.Component    = (*Reader)(nil)
	_ component.Configurable = (*Reader)(nil)
	_ component.Finisher     = (*Reader)(nil)
)

// Factory returns a component.Factory creating readers that open content
// through streams. A bound path becomes the default file: URI.
func Factory(streams *stream.Registry) component.Factory {
	return func(name, path string, deps component.Dependencies) (component.Component, error) {
		cfg := DefaultConfig()
		if path != "" {
			cfg.URI = "file:" + path
		}
		return NewReader(name, cfg, streams, deps)
	}
}

// NewReader creates a stream reader from configuration
func NewReader(name string, config Config, streams *stream.Registry, deps component.Dependencies) (*Reader, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if streams == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Reader", "NewReader", "stream registry required")
	}
	r := &Reader{streams: streams, config: config}
	r.runner = component.NewRunner(r.loop)

	b, err := component.NewBase(component.Config{
		Name:     name,
		Provider: Kind,
		Roles:    Info.Roles,
		Hooks:    r.runner.Hooks(component.Hooks{Load: r.load, Unload: r.unload}),
	}, deps)
	if err != nil {
		return nil, err
	}
	r.Base = b
	r.runner.Attach(r)

	r.out, err = b.AddPort(component.PortConfig{
		Index:      0,
		Direction:  component.DirectionOutput,
		StreamType: component.StreamBinary,
		MIME:       config.MIME,
		MinBuffers: config.Buffers,
		BufferSize: config.ChunkSize,
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Configure applies properties. Allowed until buffers are negotiated; a new
// URI takes effect on the next load.
func (r *Reader) Configure(props map[string]property.Value) error {
	if err := base.RequireIdle(r); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg := r.config
	d := base.Decode(r.Name(), props)
	d.String("uri", &cfg.URI)
	d.String("mime", &cfg.MIME)
	d.Int("chunk_size", &cfg.ChunkSize)
	d.Int("buffers", &cfg.Buffers)
	if err := d.Err(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, r.Name(), "Configure", "validate")
	}
	if err := r.out.SetBufferRequirements(cfg.Buffers, cfg.ChunkSize); err != nil {
		return err
	}
	if err := r.out.SetFormat(component.StreamBinary, cfg.MIME); err != nil {
		return err
	}
	r.config = cfg
	return nil
}

// Config returns the current configuration
func (r *Reader) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config
}

// Stats returns the buffer counters
func (r *Reader) Stats() base.Snapshot { return r.stats.Snapshot() }

// Finished is closed after the end-of-stream buffer was sent.
func (r *Reader) Finished() <-chan struct{} { return r.runner.Finished() }

func (r *Reader) load(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.config.URI == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, r.Name(), "Load", "uri is required")
	}
	s, err := r.streams.Open(r.config.URI, stream.AccessRead)
	if err != nil {
		return errors.Wrap(err, r.Name(), "Load", "open "+r.config.URI)
	}
	r.input = s
	r.Logger().Debug("input opened", "uri", r.config.URI)
	return nil
}

func (r *Reader) unload(context.Context) error {
	r.mu.Lock()
	s := r.input
	r.input = nil
	r.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

func (r *Reader) loop(ctx context.Context) error {
	conn := base.Single(r.out)
	if conn == nil {
		return nil
	}
	r.mu.Lock()
	input, chunk, ended := r.input, r.config.ChunkSize, r.ended
	r.mu.Unlock()
	if ended || input == nil {
		return nil
	}

	for {
		h, err := conn.Acquire(ctx)
		if err != nil {
			return err
		}
		buf, err := conn.Bytes(r.out, h)
		if err != nil {
			return err
		}
		buf = buf[:min(chunk, len(buf))]

		var n int
		var eof bool
		for n == 0 && !eof {
			if n, eof, err = fill(ctx, input, buf); err != nil {
				r.stats.RecordError()
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
		}

		r.mu.Lock()
		seq := r.sequence
		r.sequence++
		r.mu.Unlock()
		meta := arena.Meta{Length: n, Sequence: seq, Timestamp: time.Now(), Last: eof}
		if err := conn.Stamp(r.out, h, meta); err != nil {
			return err
		}
		if err := conn.Send(h); err != nil {
			return err
		}
		if n > 0 {
			r.stats.Record(n)
		}
		if eof {
			r.mu.Lock()
			r.ended = true
			r.mu.Unlock()
			r.runner.Finish()
			r.Logger().Info("input finished", "uri", input.URI(), "buffers", seq+1)
			return nil
		}
	}
}

// fill reads what is available into buf, waiting for at least one byte.
// n is zero without eof when nothing arrived within the readiness timeout.
func fill(ctx context.Context, s stream.ContentStream, buf []byte) (n int, eof bool, err error) {
	werr := s.WaitReadable(ctx, 1)
	switch {
	case werr == nil:
	case stderrors.Is(werr, errors.ErrCapacityUnderflow):
		return 0, true, nil
	case stderrors.Is(werr, errors.ErrTimeout), ctx.Err() != nil:
		return 0, false, nil
	default:
		return 0, false, werr
	}

	n, err = s.Read(buf)
	if stderrors.Is(err, io.EOF) {
		return n, true, nil
	}
	return n, false, err
}
