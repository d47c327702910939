package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c360/mediaflow/errors"
)

// DefaultReloadDebounce groups bursts of file events into one reload.
const DefaultReloadDebounce = 250 * time.Millisecond

// Update represents a successful configuration reload
type Update struct {
	Path   string  // File whose change triggered the reload
	Config *Config // Full latest configuration
}

// Manager owns the current configuration and reloads it when its file
// changes. A reload that fails to load or validate keeps the previous
// configuration.
type Manager struct {
	path     string
	loader   *Loader
	config   *SafeConfig
	logger   *slog.Logger
	debounce time.Duration

	mu          sync.RWMutex
	subscribers []chan Update

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped atomic.Bool
}

// NewManager loads path through loader and returns a manager holding the
// result.
func NewManager(path string, loader *Loader, logger *slog.Logger) (*Manager, error) {
	if loader == nil {
		loader = NewLoader()
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := loader.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return &Manager{
		path:     filepath.Clean(path),
		loader:   loader,
		config:   NewSafeConfig(cfg),
		logger:   logger.With("component", "config-manager"),
		debounce: DefaultReloadDebounce,
	}, nil
}

// GetConfig returns the current configuration
func (m *Manager) GetConfig() *SafeConfig {
	return m.config
}

// OnChange returns a channel receiving every successful reload. Slow
// subscribers miss updates rather than block the manager.
func (m *Manager) OnChange() <-chan Update {
	ch := make(chan Update, 1)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

// Reload reads the file again and swaps the configuration in when valid.
func (m *Manager) Reload() error {
	cfg, err := m.loader.LoadFile(m.path)
	if err != nil {
		m.logger.Error("config reload failed", "path", m.path, "error", err)
		return errors.Wrap(err, "Manager", "Reload", "load "+m.path)
	}
	if err := m.config.Update(cfg); err != nil {
		m.logger.Error("config reload rejected", "path", m.path, "error", err)
		return err
	}
	m.logger.Info("config reloaded", "path", m.path, "nodes", len(cfg.Pipeline.Nodes))

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- Update{Path: m.path, Config: cfg.Clone()}:
		default:
			m.logger.Warn("config subscriber skipped (channel full)")
		}
	}
	return nil
}

// Start watches the directory holding the file, so editors that replace the
// file by rename are seen too.
func (m *Manager) Start(ctx context.Context) error {
	if m.stopped.Load() {
		return errors.WrapInvalid(errors.ErrClosed, "Manager", "Start", "manager stopped")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WrapTransient(err, "Manager", "Start", "create watcher")
	}
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		_ = w.Close()
		return errors.WrapTransient(fmt.Errorf("watch %s: %w", m.path, err), "Manager", "Start", "add watch")
	}

	ctx, cancel := context.WithCancel(ctx)
	m.watcher, m.cancel = w, cancel
	m.wg.Add(1)
	go m.watchLoop(ctx, w)
	m.logger.Info("watching config file", "path", m.path)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	defer m.wg.Done()
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
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != m.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			m.logger.Debug("config file changed", "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(m.debounce)
			} else {
				timer.Reset(m.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			_ = m.Reload()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			m.logger.Warn("config watcher error", "error", err)
		}
	}
}

// Stop ends watching and waits up to timeout for the watch loop.
func (m *Manager) Stop(timeout time.Duration) error {
	if !m.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	err := m.watcher.Close()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		return errors.Newf(errors.ErrorTransient, errors.ErrTimeout, "Manager", "Stop",
			"watch loop did not stop within %s", timeout)
	}
	if err != nil {
		return errors.WrapTransient(err, "Manager", "Stop", "close watcher")
	}
	return nil
}
