// Package file provides content streams backed by files under a root
// directory, using the "file" scheme.
//
// Create and Replace write through a pending file that replaces the target
// atomically when the stream closes, so readers never see partial content. Open for
// reading loads the whole file as the available window; Open for writing
// appends.
package file

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/c360/mediaflow/component"
	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/stream"
)

// Scheme is the URI scheme served by Provider.
const Scheme = "file"

// Provider serves "file:relative/path" content below root.
type Provider struct {
	root     string
	deps     component.Dependencies
	settings stream.Settings
	logger   *slog.Logger
}

var (
	_ stream.Provider = (*Provider)(nil)
	_ stream.Replacer = (*Provider)(nil)
)

// NewProvider serves files below root, which must be a directory.
func NewProvider(root string, deps component.Dependencies, settings stream.Settings) (*Provider, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.WrapInvalid(err, "FileProvider", "NewProvider", "resolve root")
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err), "FileProvider", "NewProvider", "stat root")
	}
	if !info.IsDir() {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrInvalidConfig, "FileProvider", "NewProvider",
			"%s is not a directory", abs)
	}
	return &Provider{
		root:     abs,
		deps:     deps,
		settings: settings,
		logger:   deps.GetLoggerWithComponent("stream-file").With("root", abs),
	}, nil
}

// Scheme returns "file".
func (p *Provider) Scheme() string { return Scheme }

// Root returns the served directory.
func (p *Provider) Root() string { return p.root }

// resolve maps a URI to a path below root. Leading slashes are ignored;
// paths escaping root are rejected.
func (p *Provider) resolve(method, uri string) (rel, path string, err error) {
	opaque, err := stream.Opaque(uri, Scheme)
	if err != nil {
		return "", "", err
	}
	rel = filepath.Clean(filepath.FromSlash(strings.TrimLeft(opaque, "/")))
	if !filepath.IsLocal(rel) {
		return "", "", errors.Newf(errors.ErrorInvalid, errors.ErrAccessViolation, "FileProvider", method,
			"%s escapes %s", uri, p.root)
	}
	return rel, filepath.Join(p.root, rel), nil
}

func (p *Provider) uri(rel string) string { return Scheme + ":" + filepath.ToSlash(rel) }

// Create starts a new file. Its content becomes visible when the stream
// closes.
func (p *Provider) Create(uri string) (stream.ContentStream, error) {
	return p.create("Create", uri, false)
}

// Replace starts a file that supersedes any existing one when the stream
// closes. Until then readers keep seeing the previous content.
func (p *Provider) Replace(uri string) (stream.ContentStream, error) {
	return p.create("Replace", uri, true)
}

func (p *Provider) create(method, uri string, replace bool) (stream.ContentStream, error) {
	rel, path, err := p.resolve(method, uri)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(path); err == nil {
		if !replace {
			return nil, errors.Newf(errors.ErrorInvalid, errors.ErrResourceConflict, "FileProvider", method,
				"%s already exists", uri)
		}
		if info.IsDir() {
			return nil, errors.Newf(errors.ErrorInvalid, errors.ErrResourceConflict, "FileProvider", method,
				"%s is a directory", uri)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.WrapTransient(err, "FileProvider", method, "create parent directory")
	}

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return nil, errors.WrapTransient(err, "FileProvider", method, "create pending file")
	}
	content := stream.NewContent(stream.Options{
		Scheme:       Scheme,
		URI:          p.uri(rel),
		Settings:     p.settings,
		Sink:         pending,
		WriteThrough: true,
	}, p.deps)

	s, err := content.Open(stream.AccessWrite, func() error {
		defer func() {
			if err := pending.Cleanup(); err != nil {
				p.logger.Debug("cleanup pending file", "path", path, "error", err)
			}
		}()
		if err := pending.CloseAtomicallyReplace(); err != nil {
			return errors.WrapTransient(err, "FileProvider", "Close", "commit "+rel)
		}
		p.logger.Debug("file committed", "path", path)
		return nil
	})
	if err != nil {
		_ = pending.Cleanup()
		return nil, err
	}
	return s, nil
}

// Open attaches to an existing file. READ maps the whole file as the
// window, WRITE appends; READ_WRITE is not supported.
func (p *Provider) Open(uri string, access stream.Access) (stream.ContentStream, error) {
	rel, path, err := p.resolve("Open", uri)
	if err != nil {
		return nil, err
	}
	switch access {
	case stream.AccessRead:
		return p.openRead(rel, path)
	case stream.AccessWrite:
		return p.openAppend(rel, path)
	default:
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrUnsupportedOperation, "FileProvider", "Open",
			"%s: %s access is not supported on files", uri, access)
	}
}

func notFound(method, uri string, err error) error {
	if stderrors.Is(err, fs.ErrNotExist) {
		return errors.Newf(errors.ErrorInvalid, errors.ErrNotFound, "FileProvider", method, "%s", uri)
	}
	return errors.WrapTransient(err, "FileProvider", method, uri)
}

func (p *Provider) openRead(rel, path string) (stream.ContentStream, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, notFound("Open", p.uri(rel), err)
	}
	content := stream.NewContent(stream.Options{
		Scheme:   Scheme,
		URI:      p.uri(rel),
		Settings: p.settings,
		Retain:   true,
		Initial:  data,
		Finished: true,
	}, p.deps)
	s, err := content.Open(stream.AccessRead)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p *Provider) openAppend(rel, path string) (stream.ContentStream, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return nil, notFound("Open", p.uri(rel), err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.WrapTransient(err, "FileProvider", "Open", "stat "+rel)
	}
	content := stream.NewContent(stream.Options{
		Scheme:       Scheme,
		URI:          p.uri(rel),
		Settings:     p.settings,
		Base:         info.Size(),
		Sink:         f,
		WriteThrough: true,
	}, p.deps)
	s, err := content.Open(stream.AccessWrite, f.Close)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

// URIs yields every regular file below root in lexical order. Hidden
// files, including pending ones, are skipped.
func (p *Provider) URIs() iter.Seq[string] {
	return func(yield func(string) bool) {
		stop := stderrors.New("stop")
		err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".") {
				return nil
			}
			rel, err := filepath.Rel(p.root, path)
			if err != nil {
				return nil
			}
			if !yield(p.uri(rel)) {
				return stop
			}
			return nil
		})
		if err != nil && !stderrors.Is(err, stop) {
			p.logger.Debug("walk failed", "error", err)
		}
	}
}

// Close is a no-op; every stream owns its file.
func (p *Provider) Close() error { return nil }
