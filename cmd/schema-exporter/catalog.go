package main

import (
	"github.com/c360/mediaflow/component"
	"github.com/c360/mediaflow/componentregistry"
	"github.com/c360/mediaflow/config"
	"github.com/c360/mediaflow/control"
	"github.com/c360/mediaflow/engine"
)

// Catalog lists every built-in component kind
type Catalog struct {
	Schema     string         `json:"$schema"`
	ID         string         `json:"$id"`
	Components []KindMetadata `json:"components"`
}

// KindMetadata describes one component kind as instantiated with its
// defaults
type KindMetadata struct {
	Kind        string            `json:"kind"`
	Version     string            `json:"version"`
	Description string            `json:"description"`
	Roles       []string          `json:"roles"`
	Ports       []PortMetadata    `json:"ports"`
	Controls    []ControlMetadata `json:"controls"`
}

// PortMetadata describes a port's default format and buffer requirements
type PortMetadata struct {
	Index      int    `json:"index"`
	Direction  string `json:"direction"`
	StreamType string `json:"stream_type"`
	MIME       string `json:"mime,omitempty"`
	MinBuffers int    `json:"min_buffers"`
	BufferSize int    `json:"buffer_size"`
}

// ControlMetadata describes one control of the kind's control tree
type ControlMetadata struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Minimum *int64   `json:"minimum,omitempty"`
	Maximum *int64   `json:"maximum,omitempty"`
	Step    *int64   `json:"step,omitempty"`
	Options []string `json:"options,omitempty"`
	// Range is minimum, maximum and step of a rational control as "n/d"
	Range []string `json:"range,omitempty"`
}

// pipelineSchema returns the configuration schema served to editors
func pipelineSchema() []byte { return config.Schema() }

// buildCatalog instantiates each kind once to read its ports and controls.
func buildCatalog() (Catalog, error) {
	deps := component.Dependencies{}
	streams, err := engine.NewStreams(config.Default().Streams, deps)
	if err != nil {
		return Catalog{}, err
	}
	defer func() { _ = streams.Close() }()

	kinds := componentregistry.Kinds(streams)
	catalog := Catalog{
		Schema: "http://json-schema.org/draft-07/schema#",
		ID:     "components.v1.json",
	}
	for _, name := range componentregistry.KindNames() {
		kind := kinds[name]
		c, err := kind.Factory(name, "", deps)
		if err != nil {
			return Catalog{}, err
		}
		catalog.Components = append(catalog.Components, describe(kind, c))
	}
	return catalog, nil
}

func describe(kind componentregistry.Kind, c component.Component) KindMetadata {
	md := KindMetadata{
		Kind:        kind.Info.Kind,
		Version:     kind.Info.Version,
		Description: kind.Info.Description,
		Roles:       []string{},
		Ports:       []PortMetadata{},
		Controls:    []ControlMetadata{},
	}
	for _, r := range kind.Info.Roles {
		md.Roles = append(md.Roles, r.String())
	}
	for _, p := range c.Ports() {
		md.Ports = append(md.Ports, PortMetadata{
			Index:      p.Index(),
			Direction:  p.Direction().String(),
			StreamType: p.StreamType().String(),
			MIME:       p.MIME(),
			MinBuffers: p.MinBuffers(),
			BufferSize: p.BufferSize(),
		})
	}
	_ = c.Controls().Walk(func(ctl control.Control) error {
		cm := ControlMetadata{Name: ctl.Name(), Type: ctl.Type().String()}
		switch v := ctl.(type) {
		case *control.Integer:
			lo, hi, step := v.Min(), v.Max(), v.Step()
			cm.Minimum, cm.Maximum, cm.Step = &lo, &hi, &step
		case *control.Menu:
			cm.Options = v.Options()
		case *control.Rational:
			cm.Range = []string{v.Min().String(), v.Max().String(), v.Step().String()}
		}
		md.Controls = append(md.Controls, cm)
		return nil
	})
	return md
}
