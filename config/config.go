package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/stream"
)

// Default values applied before any layer is decoded.
const (
	DefaultVersion            = "1"
	DefaultNegotiationTimeout = 5 * time.Second
	DefaultControlTimeout     = 5 * time.Second
	DefaultShutdownTimeout    = 10 * time.Second
	DefaultFileRoot           = "."
)

// Config is the complete pipeline configuration.
type Config struct {
	Version   string           `json:"version"             yaml:"version"`
	Providers []ProviderConfig `json:"providers,omitempty" yaml:"providers,omitempty"`
	Streams   StreamsConfig    `json:"streams"             yaml:"streams"`
	Timeouts  TimeoutsConfig   `json:"timeouts"            yaml:"timeouts"`
	Pipeline  PipelineConfig   `json:"pipeline"            yaml:"pipeline"`
}

// ProviderConfig declares one component provider. With Discover set, the
// provider's components bind to device paths matching the globs, tracked
// live; otherwise each component lists its own Paths.
type ProviderConfig struct {
	Name       string            `json:"name"               yaml:"name"`
	Discover   []string          `json:"discover,omitempty" yaml:"discover,omitempty"`
	Components []ComponentConfig `json:"components"         yaml:"components"`
}

// ComponentConfig exposes a built-in component kind under a registry name.
type ComponentConfig struct {
	Name        string   `json:"name"                  yaml:"name"`
	Kind        string   `json:"kind"                  yaml:"kind"`
	Paths       []string `json:"paths,omitempty"       yaml:"paths,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// StreamsConfig configures the content stream providers.
type StreamsConfig struct {
	stream.Settings `yaml:",inline"`
	Retain          bool   `json:"retain"    yaml:"retain"`    // keep consumed bytes of mem: content
	FileRoot        string `json:"file_root" yaml:"file_root"` // directory served under file:
}

// TimeoutsConfig bounds blocking framework operations.
type TimeoutsConfig struct {
	Negotiation time.Duration `json:"negotiation" yaml:"negotiation"`
	Control     time.Duration `json:"control"     yaml:"control"`
	Shutdown    time.Duration `json:"shutdown"    yaml:"shutdown"`
}

// PipelineConfig is the graph to build.
type PipelineConfig struct {
	Nodes       []NodeConfig       `json:"nodes"       yaml:"nodes"`
	Connections []ConnectionConfig `json:"connections" yaml:"connections"`
}

// NodeConfig places a registry component in the graph. Name labels the node
// in connections and defaults to Component.
type NodeConfig struct {
	Name       string         `json:"name,omitempty"       yaml:"name,omitempty"`
	Component  string         `json:"component"            yaml:"component"`
	Path       string         `json:"path,omitempty"       yaml:"path,omitempty"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
	Controls   map[string]any `json:"controls,omitempty"   yaml:"controls,omitempty"`
}

// Label returns Name, or Component when Name is empty.
func (n NodeConfig) Label() string {
	if n.Name != "" {
		return n.Name
	}
	return n.Component
}

// ConnectionConfig links "node.port" references, output first.
type ConnectionConfig struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to"   yaml:"to"`
}

// Default returns a configuration with every default applied and an empty
// pipeline.
func Default() *Config {
	return &Config{
		Version: DefaultVersion,
		Streams: StreamsConfig{
			Settings: stream.DefaultSettings(),
			FileRoot: DefaultFileRoot,
		},
		Timeouts: TimeoutsConfig{
			Negotiation: DefaultNegotiationTimeout,
			Control:     DefaultControlTimeout,
			Shutdown:    DefaultShutdownTimeout,
		},
	}
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	clone := *c
	clone.Providers = make([]ProviderConfig, len(c.Providers))
	for i, p := range c.Providers {
		p.Discover = slices.Clone(p.Discover)
		comps := make([]ComponentConfig, len(p.Components))
		for j, comp := range p.Components {
			comp.Paths = slices.Clone(comp.Paths)
			comps[j] = comp
		}
		p.Components = comps
		clone.Providers[i] = p
	}
	if c.Providers == nil {
		clone.Providers = nil
	}
	clone.Pipeline.Nodes = make([]NodeConfig, len(c.Pipeline.Nodes))
	for i, n := range c.Pipeline.Nodes {
		n.Properties = maps.Clone(n.Properties)
		n.Controls = maps.Clone(n.Controls)
		clone.Pipeline.Nodes[i] = n
	}
	if c.Pipeline.Nodes == nil {
		clone.Pipeline.Nodes = nil
	}
	clone.Pipeline.Connections = slices.Clone(c.Pipeline.Connections)
	return &clone
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: config cannot be nil", errors.ErrMissingConfig),
			"SafeConfig", "Update", "nil check")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "SafeConfig", "Update", "validation")
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}
