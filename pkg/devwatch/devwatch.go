// Package devwatch enumerates device paths matching glob patterns below a
// root directory and reports paths appearing or disappearing.
//
// Paths are slash separated and relative to the root; a leading "/" in a
// pattern or lookup is ignored, so "/dev/video*" under root "/" and
// "dev/video*" under a test directory behave alike.
package devwatch

import (
	"context"
	stderrors "errors"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c360/mediaflow/errors"
)

// DefaultSettle groups bursts of file events, such as a device node appearing
// with its siblings, into one rescan.
const DefaultSettle = 50 * time.Millisecond

// Change lists paths that appeared or disappeared in one rescan.
type Change struct {
	Added   []string
	Removed []string
}

// Empty reports whether nothing changed.
func (c Change) Empty() bool { return len(c.Added) == 0 && len(c.Removed) == 0 }

// Watcher tracks the paths matching a set of patterns.
type Watcher struct {
	root     string
	patterns []string
	settle   time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	paths   []string
	subs    map[int]func(Change)
	nextSub int

	scanMu  sync.Mutex
	runMu   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped atomic.Bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithSettle sets the delay between the first file event and the rescan.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// New validates the patterns and performs the first scan. It does not watch
// until Start.
func New(root string, patterns []string, logger *slog.Logger, opts ...Option) (*Watcher, error) {
	if len(patterns) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Watcher", "New", "at least one pattern is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		root:   root,
		settle: DefaultSettle,
		logger: logger.With("component", "devwatch"),
		subs:   make(map[int]func(Change)),
	}
	for _, p := range patterns {
		p = Normalize(p)
		if _, err := path.Match(p, ""); err != nil || p == "" {
			return nil, errors.Newf(errors.ErrorInvalid, errors.ErrInvalidConfig, "Watcher", "New",
				"bad pattern %q", p)
		}
		w.patterns = append(w.patterns, p)
	}
	for _, opt := range opts {
		opt(w)
	}
	w.paths = w.scan()
	return w, nil
}

// Normalize converts p to the slash-separated, root-relative form used for
// every lookup.
func Normalize(p string) string {
	p = strings.TrimLeft(filepath.ToSlash(p), "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}

// Root returns the directory patterns are resolved against.
func (w *Watcher) Root() string { return w.root }

// Patterns returns the normalized patterns.
func (w *Watcher) Patterns() []string { return slices.Clone(w.patterns) }

// Paths returns the currently known paths, sorted.
func (w *Watcher) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.paths)
}

// Contains reports whether p is currently known.
func (w *Watcher) Contains(p string) bool {
	p = Normalize(p)
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, found := slices.BinarySearch(w.paths, p)
	return found
}

// Matches reports whether p matches any pattern, present or not.
func (w *Watcher) Matches(p string) bool {
	p = Normalize(p)
	for _, pattern := range w.patterns {
		if ok, _ := path.Match(pattern, p); ok {
			return true
		}
	}
	return false
}

// OnChange registers fn for every non-empty rescan. Callbacks run on the
// rescanning goroutine in no particular order.
func (w *Watcher) OnChange(fn func(Change)) (cancel func()) {
	w.mu.Lock()
	id := w.nextSub
	w.nextSub++
	w.subs[id] = fn
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		delete(w.subs, id)
		w.mu.Unlock()
	}
}

// Rescan enumerates the patterns again and notifies subscribers of the
// difference.
func (w *Watcher) Rescan() Change {
	w.scanMu.Lock()
	defer w.scanMu.Unlock()
	next := w.scan()

	w.mu.Lock()
	var ch Change
	for _, p := range next {
		if _, found := slices.BinarySearch(w.paths, p); !found {
			ch.Added = append(ch.Added, p)
		}
	}
	for _, p := range w.paths {
		if _, found := slices.BinarySearch(next, p); !found {
			ch.Removed = append(ch.Removed, p)
		}
	}
	w.paths = next
	subs := make([]func(Change), 0, len(w.subs))
	for _, fn := range w.subs {
		subs = append(subs, fn)
	}
	w.mu.Unlock()

	if ch.Empty() {
		return ch
	}
	w.logger.Info("device paths changed", "added", ch.Added, "removed", ch.Removed)
	for _, fn := range subs {
		fn(ch)
	}
	return ch
}

func (w *Watcher) scan() []string {
	var out []string
	for _, pattern := range w.patterns {
		matches, err := filepath.Glob(filepath.Join(w.root, filepath.FromSlash(pattern)))
		if err != nil {
			continue
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				continue
			}
			rel, err := filepath.Rel(w.root, m)
			if err != nil {
				continue
			}
			out = append(out, filepath.ToSlash(rel))
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// dirs returns the directories to watch: the literal prefix of every pattern.
func (w *Watcher) dirs() []string {
	var out []string
	for _, pattern := range w.patterns {
		dir := path.Dir(pattern)
		for dir != "." && strings.ContainsAny(dir, `*?[\`) {
			dir = path.Dir(dir)
		}
		out = append(out, filepath.Join(w.root, filepath.FromSlash(dir)))
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Start watches the pattern directories until ctx is cancelled or Stop is
// called. Directories that do not exist yet are skipped with a warning.
func (w *Watcher) Start(ctx context.Context) error {
	if w.stopped.Load() {
		return errors.WrapInvalid(errors.ErrClosed, "Watcher", "Start", "watcher stopped")
	}
	w.runMu.Lock()
	defer w.runMu.Unlock()
	if w.cancel != nil {
		return errors.WrapInvalid(errors.ErrResourceConflict, "Watcher", "Start", "already started")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WrapTransient(err, "Watcher", "Start", "create watcher")
	}
	watched := 0
	for _, dir := range w.dirs() {
		if err := fw.Add(dir); err != nil {
			if stderrors.Is(err, fs.ErrNotExist) {
				w.logger.Warn("device directory missing", "dir", dir)
				continue
			}
			_ = fw.Close()
			return errors.WrapTransient(err, "Watcher", "Start", "watch "+dir)
		}
		watched++
	}
	w.logger.Debug("watching device paths", "patterns", w.patterns, "dirs", watched)

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go w.watchLoop(ctx, fw)
	// catch anything created between New and Add
	w.Rescan()
	return nil
}

func (w *Watcher) watchLoop(ctx context.Context, fw *fsnotify.Watcher) {
	defer w.wg.Done()
	defer fw.Close()
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.settle)
			} else {
				timer.Reset(w.settle)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.Rescan()
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("device watcher error", "error", err)
		}
	}
}

// Stop ends watching and waits for the watch goroutine. It is idempotent.
func (w *Watcher) Stop() error {
	w.stopped.Store(true)
	w.runMu.Lock()
	cancel := w.cancel
	w.runMu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
	return nil
}
