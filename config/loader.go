package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/mediaflow/errors"
)

// DefaultEnvPrefix prefixes environment overrides, e.g. MEDIAFLOW_FILE_ROOT.
const DefaultEnvPrefix = "MEDIAFLOW"

// Loader handles configuration loading with layers and overrides. Each layer
// is schema-checked, then decoded strictly over the previous result: scalars
// and lists present in a later layer replace earlier ones, maps merge.
type Loader struct {
	layers    []string
	envPrefix string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{envPrefix: DefaultEnvPrefix, lookupEnv: os.LookupEnv}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// SetEnvLookup replaces the environment source, os.LookupEnv by default.
func (l *Loader) SetEnvLookup(fn func(string) (string, bool)) {
	l.lookupEnv = fn
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load applies defaults, every layer in order, environment overrides, then
// validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()
	for _, path := range l.layers {
		data, err := safeReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
				"Loader", "Load", "read "+path)
		}
		if err := decodeLayer(cfg, data); err != nil {
			return nil, errors.Wrap(err, "Loader", "Load", "decode "+path)
		}
	}
	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a single YAML document over the defaults and validates it.
// The environment is not consulted.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := decodeLayer(cfg, data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeLayer(cfg *Config, data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"Config", "decode", "parse YAML")
	}
	if doc == nil {
		return nil
	}
	if err := ValidateDocument(doc); err != nil {
		return err
	}

	// Parse YAML with strict mode (unknown fields cause errors)
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !stderrors.Is(err, io.EOF) {
		return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"Config", "decode", "strict decode")
	}
	// Strict: Ensure no multiple documents or trailing content
	if err := dec.Decode(&struct{}{}); !stderrors.Is(err, io.EOF) {
		return errors.WrapInvalid(fmt.Errorf("%w: multiple documents or trailing content", errors.ErrInvalidConfig),
			"Config", "decode", "trailing content")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	ints := []struct {
		key string
		dst *int
	}{
		{"STREAM_CAPACITY", &cfg.Streams.Capacity},
		{"NOTIFY_QUEUE", &cfg.Streams.NotifyQueue},
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"READY_TIMEOUT", &cfg.Streams.ReadyTimeout},
		{"NEGOTIATION_TIMEOUT", &cfg.Timeouts.Negotiation},
		{"CONTROL_TIMEOUT", &cfg.Timeouts.Control},
		{"SHUTDOWN_TIMEOUT", &cfg.Timeouts.Shutdown},
	}

	for _, o := range ints {
		val, ok, err := l.env(o.key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return l.envError(o.key, val, err)
		}
		*o.dst = n
	}
	for _, o := range durations {
		val, ok, err := l.env(o.key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return l.envError(o.key, val, err)
		}
		*o.dst = d
	}

	val, ok, err := l.env("FILE_ROOT")
	if err != nil {
		return err
	}
	if ok && val != "" {
		cfg.Streams.FileRoot = val
	}
	return nil
}

func (l *Loader) env(key string) (string, bool, error) {
	if l.lookupEnv == nil {
		return "", false, nil
	}
	name := l.envPrefix + "_" + key
	val, ok := l.lookupEnv(name)
	if !ok {
		return "", false, nil
	}
	if err := validateEnvVar(name, val); err != nil {
		return "", false, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"Loader", "applyEnvOverrides", name)
	}
	return val, true, nil
}

func (l *Loader) envError(key, val string, err error) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s_%s=%q: %w", errors.ErrInvalidConfig, l.envPrefix, key, val, err),
		"Loader", "applyEnvOverrides", key)
}
