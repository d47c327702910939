package component

import (
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/c360/mediaflow/errors"
)

// Provider hands out components by name, optionally bound to a path such as a
// device node. Lookups that find nothing return errors.ErrNotFound; any other
// error is a provider fault.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string
	Get(name string) (Component, error)
	GetPath(path, name string) (Component, error)
	// Supports and SupportsPath have no instantiation side effects.
	Supports(name string) bool
	SupportsPath(path string) bool
	// Names and Paths are finite and may be ranged over repeatedly.
	Names() iter.Seq[string]
	Paths() iter.Seq[string]
}

// Factory creates a component. path is empty for plain name lookups.
// Factories do no I/O; that belongs in the Load hook.
type Factory func(name, path string, deps Dependencies) (Component, error)

// Registration holds a factory and its metadata.
type Registration struct {
	Name        string   `json:"name"`        // Component name (e.g., "pattern")
	Roles       []Role   `json:"roles"`       // Declared roles
	Paths       []string `json:"paths"`       // Paths the component can bind to (optional)
	Description string   `json:"description"` // Human-readable description
	Version     string   `json:"version"`     // Component version
	Factory     Factory  `json:"-"`           // Factory function (not serializable)
}

// StaticProvider serves components from registered factories.
type StaticProvider struct {
	name string
	deps Dependencies

	mu    sync.RWMutex
	regs  map[string]*Registration
	order []string
}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider creates an empty provider. deps is passed to every factory.
func NewStaticProvider(name string, deps Dependencies) *StaticProvider {
	return &StaticProvider{name: name, deps: deps, regs: make(map[string]*Registration)}
}

// Register adds a factory. Names are unique within the provider.
func (p *StaticProvider) Register(reg Registration) error {
	if err := ValidateComponentName(reg.Name); err != nil {
		return errors.Wrap(err, "StaticProvider", "Register", "name validation")
	}
	if reg.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "StaticProvider", "Register", "factory function validation")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.regs[reg.Name]; exists {
		msg := fmt.Errorf("%w: factory '%s' is already registered", errors.ErrInvalidConfig, reg.Name)
		return errors.WrapInvalid(msg, "StaticProvider", "Register", "duplicate factory check")
	}
	reg.Roles = slices.Clone(reg.Roles)
	reg.Paths = slices.Clone(reg.Paths)
	p.regs[reg.Name] = &reg
	p.order = append(p.order, reg.Name)
	return nil
}

// Registrations returns the registered metadata in registration order.
func (p *StaticProvider) Registrations() []Registration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Registration, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, *p.regs[name])
	}
	return out
}

// Name returns the provider name.
func (p *StaticProvider) Name() string { return p.name }

func (p *StaticProvider) lookup(name string) (*Registration, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	reg, ok := p.regs[name]
	return reg, ok
}

// Get creates the named component.
func (p *StaticProvider) Get(name string) (Component, error) {
	reg, ok := p.lookup(name)
	if !ok {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrNotFound, "StaticProvider", "Get",
			"%s: no component %q", p.name, name)
	}
	return p.create(reg, name, "")
}

// GetPath creates the named component bound to path. The registration must
// list path.
func (p *StaticProvider) GetPath(path, name string) (Component, error) {
	reg, ok := p.lookup(name)
	if !ok || !slices.Contains(reg.Paths, path) {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrNotFound, "StaticProvider", "GetPath",
			"%s: no component %q at %q", p.name, name, path)
	}
	return p.create(reg, name, path)
}

func (p *StaticProvider) create(reg *Registration, name, path string) (Component, error) {
	c, err := reg.Factory(name, path, p.deps)
	if err != nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrExternalFault, err),
			"StaticProvider", "Get", "create "+name)
	}
	if c == nil {
		return nil, errors.Newf(errors.ErrorTransient, errors.ErrExternalFault, "StaticProvider", "Get",
			"%s: factory for %q returned nil", p.name, name)
	}
	return c, nil
}

// Supports reports whether name is registered.
func (p *StaticProvider) Supports(name string) bool {
	_, ok := p.lookup(name)
	return ok
}

// SupportsPath reports whether any registration lists path.
func (p *StaticProvider) SupportsPath(path string) bool {
	for candidate := range p.Paths() {
		if candidate == path {
			return true
		}
	}
	return false
}

// Names yields registered names in registration order.
func (p *StaticProvider) Names() iter.Seq[string] {
	return func(yield func(string) bool) {
		p.mu.RLock()
		names := slices.Clone(p.order)
		p.mu.RUnlock()
		for _, n := range names {
			if !yield(n) {
				return
			}
		}
	}
}

// Paths yields every listed path once, in registration order.
func (p *StaticProvider) Paths() iter.Seq[string] {
	return func(yield func(string) bool) {
		seen := make(map[string]struct{})
		for _, reg := range p.Registrations() {
			for _, path := range reg.Paths {
				if _, dup := seen[path]; dup {
					continue
				}
				seen[path] = struct{}{}
				if !yield(path) {
					return
				}
			}
		}
	}
}
