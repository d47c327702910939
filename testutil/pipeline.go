package testutil

import (
	"maps"
	"time"

	"github.com/c360/mediaflow/config"
)

// PipelineBuilder collects nodes and connections for a test pipeline.
type PipelineBuilder struct {
	root        string
	negotiation time.Duration
	shutdown    time.Duration
	nodes       []config.NodeConfig
	connections []config.ConnectionConfig
}

// NewPipelineBuilder returns a builder whose file: streams resolve under root.
func NewPipelineBuilder(root string) *PipelineBuilder {
	return &PipelineBuilder{root: root}
}

// Node adds a node labeled by its component name.
func (b *PipelineBuilder) Node(component string, props map[string]any) *PipelineBuilder {
	return b.Named("", component, props)
}

// Named adds a node with an explicit label.
func (b *PipelineBuilder) Named(name, component string, props map[string]any) *PipelineBuilder {
	b.nodes = append(b.nodes, config.NodeConfig{
		Name:       name,
		Component:  component,
		Properties: maps.Clone(props),
	})
	return b
}

// Controls sets initial control values on the most recently added node.
func (b *PipelineBuilder) Controls(values map[string]any) *PipelineBuilder {
	if len(b.nodes) > 0 {
		b.nodes[len(b.nodes)-1].Controls = maps.Clone(values)
	}
	return b
}

// Connect links two "label.port" endpoints.
func (b *PipelineBuilder) Connect(from, to string) *PipelineBuilder {
	b.connections = append(b.connections, config.ConnectionConfig{From: from, To: to})
	return b
}

// Timeouts overrides the negotiation and shutdown timeouts; zero keeps the
// default.
func (b *PipelineBuilder) Timeouts(negotiation, shutdown time.Duration) *PipelineBuilder {
	b.negotiation = negotiation
	b.shutdown = shutdown
	return b
}

// Build returns a fresh configuration. The builder can be reused; later
// changes do not affect configurations already built.
func (b *PipelineBuilder) Build() *config.Config {
	cfg := config.Default()
	if b.root != "" {
		cfg.Streams.FileRoot = b.root
	}
	if b.negotiation > 0 {
		cfg.Timeouts.Negotiation = b.negotiation
	}
	if b.shutdown > 0 {
		cfg.Timeouts.Shutdown = b.shutdown
	}
	nodes := make([]config.NodeConfig, len(b.nodes))
	for i, n := range b.nodes {
		n.Properties = maps.Clone(n.Properties)
		n.Controls = maps.Clone(n.Controls)
		nodes[i] = n
	}
	cfg.Pipeline = config.PipelineConfig{
		Nodes:       nodes,
		Connections: append([]config.ConnectionConfig(nil), b.connections...),
	}
	return cfg
}
