// Package pattern provides a test-pattern video source
package pattern

import (
	"context"
	"encoding/binary"
	"slices"
	"sync"
	"time"

	"github.com/c360/mediaflow/component"
	"github.com/c360/mediaflow/control"
	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/pkg/arena"
	"github.com/c360/mediaflow/pkg/property"
	"github.com/c360/mediaflow/processor/base"
)

// Kind is the provider kind name of the pattern source
const Kind = "pattern"

// MIME is the content type of generated frames
const MIME = "video/x-raw"

// Patterns lists the selectable fill patterns
var Patterns = []string{"bars", "gradient", "solid", "counter"}

// Info describes the pattern source
var Info = base.Info{
	Kind:        Kind,
	Version:     "1.0.0",
	Description: "Generates raw test frames",
	Roles:       []component.Role{component.RoleSource},
}

// Config holds configuration for the pattern source
type Config struct {
	Frames    int           `json:"frames"`     // frames to emit before end of stream, 0 = unbounded
	FrameSize int           `json:"frame_size"` // bytes per frame
	Buffers   int           `json:"buffers"`    // minimum buffers on the output port
	Interval  time.Duration `json:"interval"`   // pause between frames, 0 = as fast as released
	Pattern   string        `json:"pattern"`
	Level     int           `json:"level"` // brightness 0..255
}

// DefaultConfig returns default configuration for the pattern source
func DefaultConfig() Config {
	return Config{
		FrameSize: 4096,
		Buffers:   4,
		Pattern:   "bars",
		Level:     255,
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	switch {
	case c.Frames < 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "frames cannot be negative")
	case c.FrameSize < 1:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "frame_size must be positive")
	case c.Buffers < 1:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "buffers must be positive")
	case c.Interval < 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "interval cannot be negative")
	case !slices.Contains(Patterns, c.Pattern):
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "unknown pattern "+c.Pattern)
	case c.Level < 0 || c.Level > 255:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "level must be within 0..255")
	}
	return nil
}

// Source emits generated frames on output port 0
type Source struct {
	*component.Base
	runner *component.Runner
	stats  base.Stats
	out    *component.Port

	pattern *control.Menu
	level   *control.Integer
	gain    *control.Rational
	mute    *control.Boolean

	mu       sync.Mutex
	config   Config
	sequence uint64
	ended    bool
}

var (
	_ component.Component    = (*Source)(nil)
	_ component.Configurable = (*Source)(nil)
	_ component.Finisher     = (*Source)(nil)
)

// New creates a pattern source. It is a component.Factory.
func New(name, _ string, deps component.Dependencies) (component.Component, error) {
	return NewSource(name, DefaultConfig(), deps)
}

// NewSource creates a pattern source from configuration
func NewSource(name string, config Config, deps component.Dependencies) (*Source, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &Source{config: config}
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

	s.out, err = b.AddPort(component.PortConfig{
		Index:      0,
		Direction:  component.DirectionOutput,
		StreamType: component.StreamVideo,
		MIME:       MIME,
		MinBuffers: config.Buffers,
		BufferSize: config.FrameSize,
	})
	if err != nil {
		return nil, err
	}
	s.out.SetProperty("pattern", property.String(config.Pattern))

	if s.pattern, err = control.NewMenu("pattern", Patterns, config.Pattern); err != nil {
		return nil, err
	}
	if s.level, err = control.NewInteger("level", 0, 255, 1, int64(config.Level)); err != nil {
		return nil, err
	}
	if s.gain, err = control.NewRational("gain",
		control.Ratio{Num: 0, Den: 1}, control.Ratio{Num: 4, Den: 1},
		control.Ratio{Num: 1, Den: 4}, control.Ratio{Num: 1, Den: 1}); err != nil {
		return nil, err
	}
	if s.mute, err = control.NewBoolean("mute", false); err != nil {
		return nil, err
	}
	for _, c := range []control.Control{s.pattern, s.level, s.gain, s.mute} {
		if err := b.Controls().Add(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Configure applies properties. Allowed until buffers are negotiated.
func (s *Source) Configure(props map[string]property.Value) error {
	if err := base.RequireIdle(s); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.config
	d := base.Decode(s.Name(), props)
	d.Int("frames", &cfg.Frames)
	d.Int("frame_size", &cfg.FrameSize)
	d.Int("buffers", &cfg.Buffers)
	d.Duration("interval", &cfg.Interval)
	d.String("pattern", &cfg.Pattern)
	d.Int("level", &cfg.Level)
	if err := d.Err(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, s.Name(), "Configure", "validate")
	}
	if err := s.out.SetBufferRequirements(cfg.Buffers, cfg.FrameSize); err != nil {
		return err
	}
	if err := s.pattern.Set(cfg.Pattern); err != nil {
		return err
	}
	if err := s.level.Set(int64(cfg.Level)); err != nil {
		return err
	}
	s.out.SetProperty("pattern", property.String(cfg.Pattern))
	s.config = cfg
	return nil
}

// Config returns the current configuration
func (s *Source) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Stats returns the frame counters
func (s *Source) Stats() base.Snapshot { return s.stats.Snapshot() }

// Finished is closed after the end-of-stream buffer was sent.
func (s *Source) Finished() <-chan struct{} { return s.runner.Finished() }

func (s *Source) loop(ctx context.Context) error {
	conn := base.Single(s.out)
	if conn == nil {
		return nil
	}
	cfg := s.Config()

	var tick <-chan time.Time
	if cfg.Interval > 0 {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		s.mu.Lock()
		seq, ended := s.sequence, s.ended
		s.mu.Unlock()
		if ended {
			return nil
		}

		if cfg.Frames > 0 && seq >= uint64(cfg.Frames) {
			if _, err := base.Forward(ctx, conn, nil, arena.Meta{Sequence: seq, Timestamp: time.Now(), Last: true}); err != nil {
				return err
			}
			s.mu.Lock()
			s.ended = true
			s.mu.Unlock()
			s.runner.Finish()
			s.Logger().Info("pattern finished", "frames", seq)
			return nil
		}

		if err := s.emit(ctx, conn, seq, cfg.FrameSize); err != nil {
			s.stats.RecordError()
			return err
		}
		s.mu.Lock()
		s.sequence++
		s.mu.Unlock()

		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		}
	}
}

func (s *Source) emit(ctx context.Context, conn *component.Connection, seq uint64, size int) error {
	h, err := conn.Acquire(ctx)
	if err != nil {
		return err
	}
	buf, err := conn.Bytes(s.out, h)
	if err != nil {
		return err
	}
	frame := buf[:min(size, len(buf))]

	level := Scale(s.level.Value(), s.gain.Value())
	if s.mute.Value() {
		level = 0
	}
	Fill(frame, s.pattern.Value(), level, seq)

	if err := conn.Stamp(s.out, h, arena.Meta{Length: len(frame), Sequence: seq, Timestamp: time.Now()}); err != nil {
		return err
	}
	if err := conn.Send(h); err != nil {
		return err
	}
	s.stats.Record(len(frame))
	return nil
}

// Scale applies gain to level, saturating at 255.
func Scale(level int64, gain control.Ratio) byte {
	if gain.Den <= 0 {
		return byte(min(max(level, 0), 255))
	}
	return byte(min(max(level*gain.Num/gain.Den, 0), 255))
}

// barLevels are the relative intensities of the eight bars, in 1/255 steps.
var barLevels = [8]int{255, 219, 182, 146, 109, 73, 36, 0}

// Fill writes one frame of the named pattern at the given level.
func Fill(frame []byte, pattern string, level byte, seq uint64) {
	switch pattern {
	case "bars":
		for i := range frame {
			bar := i * len(barLevels) / len(frame)
			frame[i] = byte(barLevels[bar] * int(level) / 255)
		}
	case "gradient":
		for i := range frame {
			frame[i] = byte(i * int(level) / len(frame))
		}
	case "counter":
		var word [8]byte
		binary.BigEndian.PutUint64(word[:], seq)
		for i := range frame {
			frame[i] = word[i%8] & level
		}
	default:
		for i := range frame {
			frame[i] = level
		}
	}
}
