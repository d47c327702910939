package stream

import (
	stderrors "errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/c360/mediaflow/component"
	"github.com/c360/mediaflow/errors"
)

// Provider creates and opens content under one URI scheme.
type Provider interface {
	Scheme() string
	// Create makes new content; an existing URI is errors.ErrResourceConflict.
	Create(uri string) (ContentStream, error)
	// Open attaches to existing content; a missing URI is errors.ErrNotFound.
	Open(uri string, access Access) (ContentStream, error)
	// URIs enumerates existing content. The sequence may be ranged over
	// repeatedly.
	URIs() iter.Seq[string]
	Close() error
}

// Replacer is implemented by providers that can supersede existing content.
// Replace behaves like Create when uri is absent.
type Replacer interface {
	Replace(uri string) (ContentStream, error)
}

// ParseURI splits "scheme:opaque". The scheme is lower-cased.
func ParseURI(uri string) (scheme, opaque string, err error) {
	scheme, opaque, ok := strings.Cut(uri, ":")
	if !ok || scheme == "" || opaque == "" {
		return "", "", errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "stream", "ParseURI",
			"%q is not scheme:opaque", uri)
	}
	return strings.ToLower(scheme), opaque, nil
}

// Opaque returns the part of uri after the scheme, checking the scheme.
func Opaque(uri, scheme string) (string, error) {
	s, opaque, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	if s != scheme {
		return "", errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "stream", "Opaque",
			"%q: scheme %q, want %q", uri, s, scheme)
	}
	return opaque, nil
}

// Registry routes stream URIs to providers by scheme.
type Registry struct {
	logger *slog.Logger

	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

// NewRegistry creates an empty registry.
func NewRegistry(deps component.Dependencies) *Registry {
	return &Registry{
		logger:    deps.GetLoggerWithComponent("stream-registry"),
		providers: make(map[string]Provider),
	}
}

// Register adds a provider. Schemes are unique.
func (r *Registry) Register(p Provider) error {
	if p == nil || p.Scheme() == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "StreamRegistry", "Register", "provider validation")
	}
	scheme := strings.ToLower(p.Scheme())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[scheme]; exists {
		msg := fmt.Errorf("%w: scheme '%s' is already registered", errors.ErrInvalidConfig, scheme)
		return errors.WrapInvalid(msg, "StreamRegistry", "Register", "duplicate scheme check")
	}
	r.providers[scheme] = p
	r.order = append(r.order, scheme)
	return nil
}

// Provider returns the provider for scheme.
func (r *Registry) Provider(scheme string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(scheme)]
	return p, ok
}

// Schemes yields registered schemes in registration order.
func (r *Registry) Schemes() iter.Seq[string] {
	return func(yield func(string) bool) {
		r.mu.RLock()
		schemes := slices.Clone(r.order)
		r.mu.RUnlock()
		for _, s := range schemes {
			if !yield(s) {
				return
			}
		}
	}
}

// URIs yields the URIs of every provider.
func (r *Registry) URIs() iter.Seq[string] {
	return func(yield func(string) bool) {
		for scheme := range r.Schemes() {
			p, ok := r.Provider(scheme)
			if !ok {
				continue
			}
			for uri := range p.URIs() {
				if !yield(uri) {
					return
				}
			}
		}
	}
}

func (r *Registry) route(method, uri string) (Provider, error) {
	scheme, _, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	p, ok := r.Provider(scheme)
	if !ok {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrNotFound, "StreamRegistry", method,
			"no provider for scheme %q", scheme)
	}
	return p, nil
}

// Create makes new content at uri.
func (r *Registry) Create(uri string) (ContentStream, error) {
	p, err := r.route("Create", uri)
	if err != nil {
		return nil, err
	}
	return p.Create(uri)
}

// Replace makes new content at uri whether or not content exists there.
// Providers without Replacer report errors.ErrUnsupportedOperation.
func (r *Registry) Replace(uri string) (ContentStream, error) {
	p, err := r.route("Replace", uri)
	if err != nil {
		return nil, err
	}
	rp, ok := p.(Replacer)
	if !ok {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrUnsupportedOperation, "StreamRegistry", "Replace",
			"scheme %q cannot replace content", p.Scheme())
	}
	return rp.Replace(uri)
}

// Open attaches to existing content at uri.
func (r *Registry) Open(uri string, access Access) (ContentStream, error) {
	p, err := r.route("Open", uri)
	if err != nil {
		return nil, err
	}
	return p.Open(uri, access)
}

// Close closes every provider.
func (r *Registry) Close() error {
	r.mu.RLock()
	providers := make([]Provider, 0, len(r.order))
	for _, s := range r.order {
		providers = append(providers, r.providers[s])
	}
	r.mu.RUnlock()

	var errs []error
	for _, p := range providers {
		if err := p.Close(); err != nil {
			r.logger.Warn("stream provider close failed", "scheme", p.Scheme(), "error", err)
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
