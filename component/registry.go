package component

import (
	stderrors "errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"

	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/metric"
	"github.com/c360/mediaflow/pkg/property"
)

// Configurable is implemented by components that accept properties from a
// pipeline configuration. Configure runs before the first transition.
type Configurable interface {
	Configure(props map[string]property.Value) error
}

// Registry is the process-wide list of providers, in registration order.
// Lookups fan out across providers and return the first match; a failing
// provider is logged and skipped.
//
// Instantiate additionally tracks live components so a name is never handed
// out twice until Release.
type Registry struct {
	logger  *slog.Logger
	metrics *metric.Metrics

	mu        sync.RWMutex
	providers []Provider
	live      map[string]Component // component name -> live instance
}

// NewRegistry creates an empty registry.
func NewRegistry(deps Dependencies) *Registry {
	return &Registry{
		logger:  deps.GetLoggerWithComponent("component-registry"),
		metrics: deps.Metrics(),
		live:    make(map[string]Component),
	}
}

// Register appends a provider. Provider names are unique.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "provider validation")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.providers {
		if existing.Name() == p.Name() {
			msg := fmt.Errorf("%w: provider '%s' is already registered", errors.ErrInvalidConfig, p.Name())
			return errors.WrapInvalid(msg, "Registry", "Register", "duplicate provider check")
		}
	}
	r.providers = append(r.providers, p)
	return nil
}

// Providers returns the providers in registration order.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.providers)
}

// Provider looks up a provider by name.
func (r *Registry) Provider(name string) (Provider, bool) {
	for _, p := range r.Providers() {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Get returns the first component named name.
func (r *Registry) Get(name string) (Component, error) {
	return r.fanOut("Get", name, func(p Provider) (Component, error) { return p.Get(name) })
}

// GetPath returns the first component named name bound to path.
func (r *Registry) GetPath(path, name string) (Component, error) {
	return r.fanOut("GetPath", path+":"+name, func(p Provider) (Component, error) { return p.GetPath(path, name) })
}

// fanOut asks each provider in order. Without a match the result is
// ErrExternalFault if any provider failed and ErrNotFound otherwise.
func (r *Registry) fanOut(method, what string, get func(Provider) (Component, error)) (Component, error) {
	faults := 0
	for _, p := range r.Providers() {
		c, err := safeGet(p, get)
		switch {
		case err == nil && c != nil:
			return c, nil
		case err == nil, stderrors.Is(err, errors.ErrNotFound):
			continue
		default:
			faults++
			r.logger.Debug("provider lookup failed", "provider", p.Name(), "target", what, "error", err)
			r.metrics.RecordProviderFault(p.Name())
		}
	}
	if faults > 0 {
		return nil, errors.Newf(errors.ErrorTransient, errors.ErrExternalFault, "Registry", method,
			"%s not found, %d provider(s) failed", what, faults)
	}
	return nil, errors.Newf(errors.ErrorInvalid, errors.ErrNotFound, "Registry", method, "%s", what)
}

func safeGet(p Provider, get func(Provider) (Component, error)) (c Component, err error) {
	defer func() {
		if r := recover(); r != nil {
			c = nil
			err = fmt.Errorf("%w: provider %s panicked: %v", errors.ErrExternalFault, p.Name(), r)
		}
	}()
	return get(p)
}

// Supports reports whether any provider knows name.
func (r *Registry) Supports(name string) bool {
	for _, p := range r.Providers() {
		if p.Supports(name) {
			return true
		}
	}
	return false
}

// SupportsPath reports whether any provider knows path.
func (r *Registry) SupportsPath(path string) bool {
	for _, p := range r.Providers() {
		if p.SupportsPath(path) {
			return true
		}
	}
	return false
}

// Names yields the union of provider names, each once.
func (r *Registry) Names() iter.Seq[string] {
	return r.union(Provider.Names)
}

// Paths yields the union of provider paths, each once.
func (r *Registry) Paths() iter.Seq[string] {
	return r.union(Provider.Paths)
}

func (r *Registry) union(of func(Provider) iter.Seq[string]) iter.Seq[string] {
	return func(yield func(string) bool) {
		seen := make(map[string]struct{})
		for _, p := range r.Providers() {
			for s := range of(p) {
				if _, dup := seen[s]; dup {
					continue
				}
				seen[s] = struct{}{}
				if !yield(s) {
					return
				}
			}
		}
	}
}

// Instantiate is Get plus exclusive tracking of the component name.
func (r *Registry) Instantiate(name string) (Component, error) {
	return r.instantiate("Instantiate", name, func() (Component, error) { return r.Get(name) })
}

// InstantiatePath is GetPath plus exclusive tracking of the component name.
func (r *Registry) InstantiatePath(path, name string) (Component, error) {
	return r.instantiate("InstantiatePath", name, func() (Component, error) { return r.GetPath(path, name) })
}

func (r *Registry) instantiate(method, name string, get func() (Component, error)) (Component, error) {
	r.mu.RLock()
	_, busy := r.live[name]
	r.mu.RUnlock()
	if busy {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrResourceConflict, "Registry", method,
			"component %q is already in use", name)
	}

	c, err := get()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.live[c.Name()]; busy {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrResourceConflict, "Registry", method,
			"component %q is already in use", c.Name())
	}
	r.live[c.Name()] = c
	return c, nil
}

// Release returns the name of a discarded component to the pool. It reports
// whether c was tracked.
func (r *Registry) Release(c Component) bool {
	if c == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if tracked, ok := r.live[c.Name()]; ok && tracked.base() == c.base() {
		delete(r.live, c.Name())
		return true
	}
	return false
}

// Live returns the names of tracked components, sorted.
func (r *Registry) Live() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.live))
	for n := range r.live {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
