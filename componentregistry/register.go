// Package componentregistry populates a component.Registry with the built-in
// component kinds, arranged into providers the way the configuration declares
// them.
package componentregistry

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/c360/mediaflow/component"
	"github.com/c360/mediaflow/config"
	pkgerrors "github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/input/pattern"
	"github.com/c360/mediaflow/input/reader"
	"github.com/c360/mediaflow/output/writer"
	"github.com/c360/mediaflow/processor/base"
	"github.com/c360/mediaflow/processor/passthrough"
	"github.com/c360/mediaflow/processor/splitter"
	"github.com/c360/mediaflow/stream"
)

// BuiltinProvider names the provider registered when the configuration
// declares none.
const BuiltinProvider = "builtin"

// Kind is a component implementation available to providers.
type Kind struct {
	Info    base.Info
	Factory component.Factory
}

// Registration exposes the kind under name, optionally bound to paths.
func (k Kind) Registration(name string, paths []string) component.Registration {
	return k.Info.Registration(name, paths, k.Factory)
}

// Kinds returns every built-in kind keyed by kind name. Stream-backed kinds
// use streams.
func Kinds(streams *stream.Registry) map[string]Kind {
	return map[string]Kind{
		pattern.Kind:     {Info: pattern.Info, Factory: pattern.New},
		reader.Kind:      {Info: reader.Info, Factory: reader.Factory(streams)},
		passthrough.Kind: {Info: passthrough.Info, Factory: passthrough.New},
		splitter.Kind:    {Info: splitter.Info, Factory: splitter.New},
		writer.Kind:      {Info: writer.Info, Factory: writer.Factory(streams)},
	}
}

// KindNames returns the built-in kind names, sorted.
func KindNames() []string {
	return slices.Sorted(maps.Keys(Kinds(nil)))
}

// Options carries what providers need beyond the registry.
type Options struct {
	Streams *stream.Registry
	// Root resolves discovery patterns; usually the file stream root.
	Root string
	Deps component.Dependencies
}

// Register adds one provider per entry of providers to registry, in order.
// With no entries a single BuiltinProvider exposes every kind under its kind
// name. Discovery providers are returned so the caller can start and stop
// their watchers.
func Register(registry *component.Registry, providers []config.ProviderConfig, opts Options) ([]*DiscoveryProvider, error) {
	// CRITICAL: Nil registry is a programming error (fatal), not invalid input
	if registry == nil {
		return nil, pkgerrors.WrapFatal(
			errors.New("registry cannot be nil"),
			"ComponentRegistry", "Register", "registry validation")
	}
	kinds := Kinds(opts.Streams)

	if len(providers) == 0 {
		p := component.NewStaticProvider(BuiltinProvider, opts.Deps)
		for _, name := range KindNames() {
			if err := p.Register(kinds[name].Registration(name, nil)); err != nil {
				return nil, pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", name+" registration")
			}
		}
		if err := registry.Register(p); err != nil {
			return nil, pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "builtin provider registration")
		}
		return nil, nil
	}

	var discovered []*DiscoveryProvider
	for _, pc := range providers {
		regs := make([]component.Registration, 0, len(pc.Components))
		for _, cc := range pc.Components {
			kind, ok := kinds[cc.Kind]
			if !ok {
				msg := fmt.Errorf("%w: unknown kind %q for component %q (known: %v)",
					pkgerrors.ErrInvalidConfig, cc.Kind, cc.Name, KindNames())
				return nil, pkgerrors.WrapInvalid(msg, "ComponentRegistry", "Register", "kind lookup")
			}
			reg := kind.Registration(cc.Name, cc.Paths)
			if cc.Description != "" {
				reg.Description = cc.Description
			}
			regs = append(regs, reg)
		}

		var provider component.Provider
		if len(pc.Discover) > 0 {
			dp, err := NewDiscoveryProvider(pc.Name, pc.Discover, opts.Root, opts.Deps)
			if err != nil {
				return nil, pkgerrors.Wrap(err, "ComponentRegistry", "Register", "provider "+pc.Name)
			}
			for _, reg := range regs {
				if err := dp.Register(reg); err != nil {
					return nil, pkgerrors.Wrap(err, "ComponentRegistry", "Register", reg.Name+" registration")
				}
			}
			discovered = append(discovered, dp)
			provider = dp
		} else {
			sp := component.NewStaticProvider(pc.Name, opts.Deps)
			for _, reg := range regs {
				if err := sp.Register(reg); err != nil {
					return nil, pkgerrors.Wrap(err, "ComponentRegistry", "Register", reg.Name+" registration")
				}
			}
			provider = sp
		}
		if err := registry.Register(provider); err != nil {
			return nil, pkgerrors.Wrap(err, "ComponentRegistry", "Register", "provider "+pc.Name)
		}
	}
	return discovered, nil
}
