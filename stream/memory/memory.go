// Package memory provides named in-memory content under the "mem" scheme.
//
// Content is bounded by the configured capacity. By default bytes every
// reader has consumed are dropped and the window start advances, which suits
// frame pipes between components. WithRetain keeps everything written so the
// content can be re-read from START.
package memory

import (
	stderrors "errors"
	"iter"
	"log/slog"
	"slices"
	"sync"

	"github.com/c360/mediaflow/component"
	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/stream"
)

// Scheme is the URI scheme served by Provider.
const Scheme = "mem"

// Option configures a Provider.
type Option func(*Provider)

// WithRetain keeps all written content materialized.
func WithRetain(retain bool) Option {
	return func(p *Provider) { p.retain = retain }
}

// Provider serves "mem:name" content.
type Provider struct {
	deps     component.Dependencies
	settings stream.Settings
	retain   bool
	logger   *slog.Logger

	mu       sync.RWMutex
	contents map[string]*stream.Content
	closed   bool
}

var (
	_ stream.Provider = (*Provider)(nil)
	_ stream.Replacer = (*Provider)(nil)
)

// NewProvider creates an empty provider.
func NewProvider(deps component.Dependencies, settings stream.Settings, opts ...Option) *Provider {
	p := &Provider{
		deps:     deps,
		settings: settings,
		logger:   deps.GetLoggerWithComponent("stream-memory"),
		contents: make(map[string]*stream.Content),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Scheme returns "mem".
func (p *Provider) Scheme() string { return Scheme }

// Create makes empty content and returns a read-write stream on it.
func (p *Provider) Create(uri string) (stream.ContentStream, error) {
	return p.create("Create", uri, false)
}

// Replace closes any existing content at uri, disconnecting its handles, and
// makes empty content in its place.
func (p *Provider) Replace(uri string) (stream.ContentStream, error) {
	return p.create("Replace", uri, true)
}

func (p *Provider) create(method, uri string, replace bool) (stream.ContentStream, error) {
	name, err := stream.Opaque(uri, Scheme)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrClosed, "MemoryProvider", method, "provider closed")
	}
	old, exists := p.contents[name]
	if exists && !replace {
		p.mu.Unlock()
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrResourceConflict, "MemoryProvider", method,
			"%s already exists", uri)
	}
	c := stream.NewContent(stream.Options{
		Scheme:   Scheme,
		URI:      Scheme + ":" + name,
		Settings: p.settings,
		Retain:   p.retain,
	}, p.deps)
	p.contents[name] = c
	p.mu.Unlock()

	if exists {
		if err := old.Close(); err != nil {
			p.logger.Warn("replaced content close failed", "uri", uri, "error", err)
		}
		p.logger.Debug("content replaced", "uri", uri)
	} else {
		p.logger.Debug("content created", "uri", uri)
	}
	s, err := c.Open(stream.AccessReadWrite)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Open attaches a stream to existing content.
func (p *Provider) Open(uri string, access stream.Access) (stream.ContentStream, error) {
	name, err := stream.Opaque(uri, Scheme)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	c, ok := p.contents[name]
	p.mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrNotFound, "MemoryProvider", "Open", "%s", uri)
	}
	s, err := c.Open(access)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Remove closes and forgets content. It reports whether uri existed.
func (p *Provider) Remove(uri string) (bool, error) {
	name, err := stream.Opaque(uri, Scheme)
	if err != nil {
		return false, err
	}
	p.mu.Lock()
	c, ok := p.contents[name]
	delete(p.contents, name)
	p.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, c.Close()
}

// URIs yields existing content in name order.
func (p *Provider) URIs() iter.Seq[string] {
	return func(yield func(string) bool) {
		p.mu.RLock()
		names := make([]string, 0, len(p.contents))
		for n := range p.contents {
			names = append(names, n)
		}
		p.mu.RUnlock()
		slices.Sort(names)
		for _, n := range names {
			if !yield(Scheme + ":" + n) {
				return
			}
		}
	}
}

// Close closes all content and refuses further creation.
func (p *Provider) Close() error {
	p.mu.Lock()
	contents := p.contents
	p.contents = make(map[string]*stream.Content)
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for _, c := range contents {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
