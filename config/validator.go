package config

import (
	"fmt"
	"strings"

	"github.com/c360/mediaflow/component"
	"github.com/c360/mediaflow/control"
	"github.com/c360/mediaflow/errors"
)

func invalid(action, format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
		"Config", "Validate", action)
}

// Validate checks what the schema cannot: name rules, uniqueness and that
// connections refer to declared nodes. It returns the first problem found.
func (c *Config) Validate() error {
	if c.Version == "" {
		return invalid("version", "version is required")
	}
	if err := c.validateStreams(); err != nil {
		return err
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	return c.validatePipeline()
}

func (c *Config) validateStreams() error {
	s := c.Streams
	switch {
	case s.Capacity < 0:
		return invalid("streams", "streams.capacity cannot be negative")
	case s.NotifyQueue < 0:
		return invalid("streams", "streams.notify_queue cannot be negative")
	case s.ReadyTimeout < 0:
		return invalid("streams", "streams.ready_timeout cannot be negative")
	}
	t := c.Timeouts
	if t.Negotiation < 0 || t.Control < 0 || t.Shutdown < 0 {
		return invalid("timeouts", "timeouts cannot be negative")
	}
	return nil
}

func (c *Config) validateProviders() error {
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if err := component.ValidateComponentName(p.Name); err != nil {
			return errors.Wrap(err, "Config", "Validate", fmt.Sprintf("providers[%d].name", i))
		}
		if seen[p.Name] {
			return invalid("providers", "provider %q declared twice", p.Name)
		}
		seen[p.Name] = true
		if len(p.Components) == 0 {
			return invalid("providers", "provider %q has no components", p.Name)
		}

		names := make(map[string]bool, len(p.Components))
		for _, comp := range p.Components {
			if err := component.ValidateComponentName(comp.Name); err != nil {
				return errors.Wrap(err, "Config", "Validate", "provider "+p.Name)
			}
			if names[comp.Name] {
				return invalid("providers", "provider %q lists component %q twice", p.Name, comp.Name)
			}
			names[comp.Name] = true
			if comp.Kind == "" {
				return invalid("providers", "component %q has no kind", comp.Name)
			}
			if len(p.Discover) > 0 && len(comp.Paths) > 0 {
				return invalid("providers", "component %q lists paths in discovering provider %q", comp.Name, p.Name)
			}
		}
	}
	return nil
}

func (c *Config) validatePipeline() error {
	labels := make(map[string]bool, len(c.Pipeline.Nodes))
	components := make(map[string]string, len(c.Pipeline.Nodes))
	for i, n := range c.Pipeline.Nodes {
		if err := component.ValidateComponentName(n.Component); err != nil {
			return errors.Wrap(err, "Config", "Validate", fmt.Sprintf("pipeline.nodes[%d].component", i))
		}
		label := n.Label()
		if err := component.ValidateComponentName(label); err != nil {
			return errors.Wrap(err, "Config", "Validate", fmt.Sprintf("pipeline.nodes[%d].name", i))
		}
		if labels[label] {
			return invalid("nodes", "node %q declared twice", label)
		}
		labels[label] = true
		if other, dup := components[n.Component]; dup {
			return invalid("nodes", "nodes %q and %q both use component %q", other, label, n.Component)
		}
		components[n.Component] = label

		for key := range n.Properties {
			if strings.TrimSpace(key) == "" {
				return invalid("nodes", "node %q has an empty property key", label)
			}
		}
		for path := range n.Controls {
			for _, seg := range strings.Split(path, ".") {
				if err := control.ValidateName(seg); err != nil {
					return invalid("nodes", "node %q control %q: %w", label, path, err)
				}
			}
		}
	}

	inputs := make(map[PortRef]string, len(c.Pipeline.Connections))
	for i, conn := range c.Pipeline.Connections {
		from, err := ParsePortRef(conn.From)
		if err != nil {
			return errors.Wrap(err, "Config", "Validate", fmt.Sprintf("pipeline.connections[%d].from", i))
		}
		to, err := ParsePortRef(conn.To)
		if err != nil {
			return errors.Wrap(err, "Config", "Validate", fmt.Sprintf("pipeline.connections[%d].to", i))
		}
		for _, ref := range []PortRef{from, to} {
			if !labels[ref.Node] {
				return invalid("connections", "connection %s -> %s: unknown node %q", from, to, ref.Node)
			}
		}
		if from.Node == to.Node {
			return invalid("connections", "connection %s -> %s loops on one node", from, to)
		}
		if prev, dup := inputs[to]; dup {
			return invalid("connections", "%s is fed by both %s and %s", to, prev, from)
		}
		inputs[to] = from.String()
	}
	return nil
}
