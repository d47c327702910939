package componentregistry

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"

	"github.com/c360/mediaflow/component"
	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/pkg/devwatch"
)

// DiscoveryProvider serves its components bound to device paths found by a
// devwatch.Watcher. When a path disappears, every component created for it
// is invalidated.
type DiscoveryProvider struct {
	name    string
	deps    component.Dependencies
	logger  *slog.Logger
	watcher *devwatch.Watcher

	mu    sync.Mutex
	regs  map[string]component.Registration
	order []string
	bound map[string][]component.Component // normalized path -> instances
}

var _ component.Provider = (*DiscoveryProvider)(nil)

// NewDiscoveryProvider creates a provider discovering paths matching patterns
// below root.
func NewDiscoveryProvider(name string, patterns []string, root string, deps component.Dependencies) (*DiscoveryProvider, error) {
	if err := component.ValidateComponentName(name); err != nil {
		return nil, errors.Wrap(err, "DiscoveryProvider", "New", "name validation")
	}
	logger := deps.GetLoggerWithComponent(name)
	w, err := devwatch.New(root, patterns, logger)
	if err != nil {
		return nil, err
	}
	p := &DiscoveryProvider{
		name:    name,
		deps:    deps,
		logger:  logger,
		watcher: w,
		regs:    make(map[string]component.Registration),
		bound:   make(map[string][]component.Component),
	}
	w.OnChange(p.onChange)
	return p, nil
}

// Register adds a kind. Registrations of a discovery provider list no paths.
func (p *DiscoveryProvider) Register(reg component.Registration) error {
	if err := component.ValidateComponentName(reg.Name); err != nil {
		return errors.Wrap(err, "DiscoveryProvider", "Register", "name validation")
	}
	if reg.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "DiscoveryProvider", "Register", "factory function validation")
	}
	if len(reg.Paths) > 0 {
		msg := fmt.Errorf("%w: %q lists paths; they are discovered", errors.ErrInvalidConfig, reg.Name)
		return errors.WrapInvalid(msg, "DiscoveryProvider", "Register", "paths check")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.regs[reg.Name]; exists {
		msg := fmt.Errorf("%w: factory '%s' is already registered", errors.ErrInvalidConfig, reg.Name)
		return errors.WrapInvalid(msg, "DiscoveryProvider", "Register", "duplicate factory check")
	}
	p.regs[reg.Name] = reg
	p.order = append(p.order, reg.Name)
	return nil
}

// Registrations returns the registered kinds in registration order.
func (p *DiscoveryProvider) Registrations() []component.Registration {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]component.Registration, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.regs[name])
	}
	return out
}

// Watcher returns the path watcher.
func (p *DiscoveryProvider) Watcher() *devwatch.Watcher { return p.watcher }

// Start begins hotplug tracking.
func (p *DiscoveryProvider) Start(ctx context.Context) error { return p.watcher.Start(ctx) }

// Stop ends hotplug tracking.
func (p *DiscoveryProvider) Stop() error { return p.watcher.Stop() }

// Name returns the provider name.
func (p *DiscoveryProvider) Name() string { return p.name }

func (p *DiscoveryProvider) lookup(name string) (component.Registration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	reg, ok := p.regs[name]
	return reg, ok
}

// Get creates the named component without a path.
func (p *DiscoveryProvider) Get(name string) (component.Component, error) {
	reg, ok := p.lookup(name)
	if !ok {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrNotFound, "DiscoveryProvider", "Get",
			"%s: no component %q", p.name, name)
	}
	return p.create(reg, name, "")
}

// GetPath creates the named component bound to a currently present path.
func (p *DiscoveryProvider) GetPath(path, name string) (component.Component, error) {
	reg, ok := p.lookup(name)
	if !ok || !p.watcher.Contains(path) {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrNotFound, "DiscoveryProvider", "GetPath",
			"%s: no component %q at %q", p.name, name, path)
	}
	norm := devwatch.Normalize(path)
	c, err := p.create(reg, name, norm)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	live := slices.DeleteFunc(p.bound[norm], func(c component.Component) bool {
		return c.State() == component.StateInvalid
	})
	p.bound[norm] = append(live, c)
	p.mu.Unlock()
	return c, nil
}

func (p *DiscoveryProvider) create(reg component.Registration, name, path string) (component.Component, error) {
	c, err := reg.Factory(name, path, p.deps)
	if err != nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrExternalFault, err),
			"DiscoveryProvider", "Get", "create "+name)
	}
	if c == nil {
		return nil, errors.Newf(errors.ErrorTransient, errors.ErrExternalFault, "DiscoveryProvider", "Get",
			"%s: factory for %q returned nil", p.name, name)
	}
	return c, nil
}

func (p *DiscoveryProvider) onChange(ch devwatch.Change) {
	for _, path := range ch.Removed {
		p.mu.Lock()
		comps := p.bound[path]
		delete(p.bound, path)
		p.mu.Unlock()

		for _, c := range comps {
			p.logger.Warn("device removed, invalidating component", "path", path, "name", c.Name())
			c.Invalidate(errors.Newf(errors.ErrorFatal, errors.ErrExternalFault, "DiscoveryProvider", "Hotplug",
				"%s: device %q removed", p.name, path))
		}
	}
}

// Supports reports whether name is registered.
func (p *DiscoveryProvider) Supports(name string) bool {
	_, ok := p.lookup(name)
	return ok
}

// SupportsPath reports whether path is currently present.
func (p *DiscoveryProvider) SupportsPath(path string) bool {
	return p.watcher.Contains(path)
}

// Names yields registered names in registration order.
func (p *DiscoveryProvider) Names() iter.Seq[string] {
	return func(yield func(string) bool) {
		p.mu.Lock()
		names := slices.Clone(p.order)
		p.mu.Unlock()
		for _, n := range names {
			if !yield(n) {
				return
			}
		}
	}
}

// Paths yields the present paths, sorted.
func (p *DiscoveryProvider) Paths() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, path := range p.watcher.Paths() {
			if !yield(path) {
				return
			}
		}
	}
}
