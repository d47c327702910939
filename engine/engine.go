package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/mediaflow/component"
	"github.com/c360/mediaflow/componentregistry"
	"github.com/c360/mediaflow/config"
	"github.com/c360/mediaflow/control"
	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/health"
	"github.com/c360/mediaflow/metric"
	"github.com/c360/mediaflow/pkg/property"
	"github.com/c360/mediaflow/stream"
	"github.com/c360/mediaflow/stream/file"
	"github.com/c360/mediaflow/stream/memory"
)

// Options configures an Engine beyond its pipeline configuration.
type Options struct {
	Logger          *slog.Logger            // defaults to slog.Default()
	MetricsRegistry *metric.MetricsRegistry // nil disables metrics
}

// Node is a built pipeline node.
type Node struct {
	Label     string
	Config    config.NodeConfig
	Component component.Component
}

type phase int

const (
	phaseNew phase = iota
	phaseBuilt
	phaseRunning
	phaseClosed
)

// Engine turns a pipeline configuration into connected components and drives
// them through their lifecycle. Build, Start, Stop and Close are serialized;
// Run may be cancelled or stopped from another goroutine.
type Engine struct {
	cfg        *config.Config
	deps       component.Dependencies
	logger     *slog.Logger
	metrics    *engineMetrics
	registry   *component.Registry
	streams    *stream.Registry
	discovered []*componentregistry.DiscoveryProvider
	monitor    *health.Monitor

	mu       sync.Mutex
	phase    phase
	nodes    []*Node
	byLabel  map[string]*Node
	conns    []*component.Connection
	tracking []func()
	watches  []func()
	watching bool
	failed   chan failure
	halt     chan struct{}
}

type failure struct {
	node string
	err  error
}

// NewStreams creates the stream registry serving mem: and file: URIs.
func NewStreams(sc config.StreamsConfig, deps component.Dependencies) (*stream.Registry, error) {
	r := stream.NewRegistry(deps)
	if err := r.Register(memory.NewProvider(deps, sc.Settings, memory.WithRetain(sc.Retain))); err != nil {
		return nil, err
	}
	root := sc.FileRoot
	if root == "" {
		root = config.DefaultFileRoot
	}
	fp, err := file.NewProvider(root, deps, sc.Settings)
	if err != nil {
		return nil, err
	}
	if err := r.Register(fp); err != nil {
		return nil, err
	}
	return r, nil
}

// New validates cfg and prepares the registries it names. Nothing is
// instantiated until Build.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Engine", "New", "config validation")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	deps := component.Dependencies{
		MetricsRegistry:    opts.MetricsRegistry,
		Logger:             logger,
		NegotiationTimeout: cfg.Timeouts.Negotiation,
		ControlTimeout:     cfg.Timeouts.Control,
	}
	streams, err := NewStreams(cfg.Streams, deps)
	if err != nil {
		return nil, errors.Wrap(err, "Engine", "New", "stream providers")
	}

	registry := component.NewRegistry(deps)
	discovered, err := componentregistry.Register(registry, cfg.Providers, componentregistry.Options{
		Streams: streams,
		Root:    cfg.Streams.FileRoot,
		Deps:    deps,
	})
	if err != nil {
		_ = streams.Close()
		return nil, err
	}

	metrics, err := newEngineMetrics(opts.MetricsRegistry)
	if err != nil {
		logger.Error("Failed to initialize engine metrics", "error", err)
		metrics = nil // Continue without metrics
	}

	return &Engine{
		cfg:        cfg.Clone(),
		deps:       deps,
		logger:     logger.With("component", "engine"),
		metrics:    metrics,
		registry:   registry,
		streams:    streams,
		discovered: discovered,
		monitor:    health.NewMonitor(),
		byLabel:    make(map[string]*Node),
	}, nil
}

// Registry returns the component registry built from the configuration.
func (e *Engine) Registry() *component.Registry { return e.registry }

// Streams returns the stream registry.
func (e *Engine) Streams() *stream.Registry { return e.streams }

// Config returns a copy of the configuration the engine was built from.
func (e *Engine) Config() *config.Config { return e.cfg.Clone() }

// Health aggregates the health of every built node.
func (e *Engine) Health() health.Status { return e.monitor.AggregateHealth("pipeline") }

// Nodes returns the built nodes in configuration order.
func (e *Engine) Nodes() []Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Node, len(e.nodes))
	for i, n := range e.nodes {
		out[i] = *n
	}
	return out
}

// Node returns the node labelled label.
func (e *Engine) Node(label string) (Node, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.byLabel[label]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Build instantiates, configures and connects every node. On failure
// everything built so far is released.
func (e *Engine) Build(ctx context.Context) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != phaseNew {
		return errors.Newf(errors.ErrorInvalid, errors.ErrResourceConflict, "Engine", "Build", "pipeline already built")
	}

	start := time.Now()
	defer func() {
		e.metrics.recordBuild(err == nil, time.Since(start).Seconds(), len(e.nodes))
	}()

	for _, nc := range e.cfg.Pipeline.Nodes {
		if err := e.buildNode(ctx, nc); err != nil {
			e.teardownLocked()
			return err
		}
	}
	for _, cc := range e.cfg.Pipeline.Connections {
		if err := e.connect(cc); err != nil {
			e.teardownLocked()
			return err
		}
	}

	for _, n := range e.nodes {
		e.tracking = append(e.tracking, e.monitor.Track(n.Component))
	}
	e.phase = phaseBuilt
	e.logger.Info("pipeline built", "nodes", len(e.nodes), "connections", len(e.conns))
	return nil
}

func (e *Engine) buildNode(ctx context.Context, nc config.NodeConfig) error {
	label := nc.Label()
	var (
		c   component.Component
		err error
	)
	if nc.Path != "" {
		c, err = e.registry.InstantiatePath(nc.Path, nc.Component)
	} else {
		c, err = e.registry.Instantiate(nc.Component)
	}
	if err != nil {
		return errors.Wrap(err, "Engine", "Build", "instantiate "+label)
	}
	n := &Node{Label: label, Config: nc, Component: c}
	e.nodes = append(e.nodes, n)
	e.byLabel[label] = n

	props, err := config.Values(nc.Properties)
	if err != nil {
		return errors.Wrap(err, "Engine", "Build", "properties of "+label)
	}
	if len(props) > 0 {
		target, ok := c.(component.Configurable)
		if !ok {
			return errors.Newf(errors.ErrorInvalid, errors.ErrInvalidConfig, "Engine", "Build",
				"node %q: component %q takes no properties", label, nc.Component)
		}
		if err := target.Configure(props); err != nil {
			return errors.Wrap(err, "Engine", "Build", "configure "+label)
		}
	}

	for _, path := range config.SortedKeys(nc.Controls) {
		ctl, ok := c.Controls().Find(path)
		if !ok {
			return errors.Newf(errors.ErrorInvalid, errors.ErrNotFound, "Engine", "Build",
				"node %q has no control %q", label, path)
		}
		v, err := property.FromAny(nc.Controls[path], property.KindNone)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
				"Engine", "Build", "control "+path+" of "+label)
		}
		if err := control.Apply(ctl, control.Set(v)); err != nil {
			return errors.Wrap(err, "Engine", "Build", "control "+path+" of "+label)
		}
		if err := ctl.Push(ctx); err != nil {
			return errors.Wrap(err, "Engine", "Build", "push "+path+" of "+label)
		}
	}
	e.logger.Debug("node built", "node", label, "component", nc.Component, "path", nc.Path)
	return nil
}

func (e *Engine) connect(cc config.ConnectionConfig) error {
	from, err := config.ParsePortRef(cc.From)
	if err != nil {
		return err
	}
	to, err := config.ParsePortRef(cc.To)
	if err != nil {
		return err
	}
	out, err := e.port(from)
	if err != nil {
		return err
	}
	in, err := e.port(to)
	if err != nil {
		return err
	}
	conn, err := component.Connect(out, in)
	if err != nil {
		return errors.Wrap(err, "Engine", "Build", "connect "+from.String()+" -> "+to.String())
	}
	e.conns = append(e.conns, conn)
	return nil
}

func (e *Engine) port(ref config.PortRef) (*component.Port, error) {
	n, ok := e.byLabel[ref.Node]
	if !ok {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrNotFound, "Engine", "Build", "no node %q", ref.Node)
	}
	p, ok := n.Component.Port(ref.Port)
	if !ok {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrNotFound, "Engine", "Build",
			"node %q has no port %d", ref.Node, ref.Port)
	}
	return p, nil
}

// Start brings every node to EXECUTING. All nodes reach IDLE first, which
// negotiates every connection, then all start together. On failure the
// pipeline is stopped again.
func (e *Engine) Start(ctx context.Context) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.phase {
	case phaseBuilt:
	case phaseRunning:
		return nil
	default:
		return errors.Newf(errors.ErrorInvalid, errors.ErrInvalidTransition, "Engine", "Start", "pipeline not built")
	}

	start := time.Now()
	defer func() {
		e.metrics.recordStart(err == nil, time.Since(start).Seconds())
	}()

	if !e.watching {
		for _, dp := range e.discovered {
			if err := dp.Start(context.Background()); err != nil {
				return errors.Wrap(err, "Engine", "Start", "device discovery "+dp.Name())
			}
		}
		e.watching = true
	}

	e.failed = make(chan failure, len(e.nodes))
	e.halt = make(chan struct{})
	for _, n := range e.nodes {
		e.watches = append(e.watches, e.watchFailure(n))
	}

	for _, target := range []component.State{component.StateIdle, component.StateExecuting} {
		if err := e.driveAll(ctx, target, nil); err != nil {
			e.logger.Error("pipeline start failed", "target", target, "error", err)
			e.phase = phaseRunning
			if serr := e.stopLocked(context.WithoutCancel(ctx)); serr != nil {
				e.logger.Warn("pipeline unwind failed", "error", serr)
			}
			return errors.Wrap(err, "Engine", "Start", "drive to "+target.String())
		}
	}
	e.phase = phaseRunning
	e.logger.Info("pipeline started", "nodes", len(e.nodes), "duration", time.Since(start))
	return nil
}

func (e *Engine) watchFailure(n *Node) (cancel func()) {
	failed := e.failed
	return n.Component.OnStateChange(func(_, to component.State) {
		if to != component.StateInvalid {
			return
		}
		e.metrics.recordFailure(n.Label)
		select {
		case failed <- failure{node: n.Label, err: n.Component.Err()}:
		default:
		}
	})
}

// driveAll moves every node accepted by want to target concurrently, so
// connected peers negotiate with each other. Invalid nodes are skipped.
func (e *Engine) driveAll(ctx context.Context, target component.State, want func(component.State) bool) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, n := range e.nodes {
		s := n.Component.State()
		if s == component.StateInvalid || s == target || (want != nil && !want(s)) {
			continue
		}
		g.Go(func() error {
			if err := n.Component.SetState(gctx, target); err != nil {
				e.logger.Warn("node transition failed", "node", n.Label, "from", s, "to", target, "error", err)
				return errors.Wrap(err, "Engine", "drive", n.Label)
			}
			return nil
		})
	}
	return g.Wait()
}

// Run starts the pipeline if needed and blocks until every sink that can
// tell has finished, a node becomes invalid, Stop is called or ctx is
// cancelled. It then stops the pipeline within the shutdown timeout. Only a
// node failure or a failed stop is reported as an error.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	failed, halt := e.failed, e.halt
	var finishers []<-chan struct{}
	for _, n := range e.nodes {
		if f, ok := n.Component.(component.Finisher); ok && n.Component.HasRole(component.RoleSink) {
			finishers = append(finishers, f.Finished())
		}
	}
	e.mu.Unlock()

	var allDone chan struct{}
	stopWait := make(chan struct{})
	defer close(stopWait)
	if len(finishers) > 0 {
		allDone = make(chan struct{})
		go func() {
			for _, ch := range finishers {
				select {
				case <-ch:
				case <-stopWait:
					return
				}
			}
			close(allDone)
		}()
	}

	var runErr error
	select {
	case <-allDone:
		e.logger.Info("pipeline finished")
	case f := <-failed:
		runErr = errors.Wrap(f.err, "Engine", "Run", "node "+f.node+" failed")
		e.logger.Error("pipeline node failed", "node", f.node, "error", f.err)
	case <-halt:
		return nil
	case <-ctx.Done():
		e.logger.Info("pipeline cancelled")
	}

	timeout := e.cfg.Timeouts.Shutdown
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return stderrors.Join(runErr, e.Stop(stopCtx))
}

// Stop brings every node back to UNLOADED: all processing nodes reach IDLE
// before any buffers are released. Nodes stay built and can be started
// again.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopLocked(ctx)
}

func (e *Engine) stopLocked(ctx context.Context) (err error) {
	if e.phase != phaseRunning {
		return nil
	}
	start := time.Now()
	defer func() {
		e.metrics.recordStop(err == nil, time.Since(start).Seconds())
	}()
	close(e.halt)

	idleErr := e.driveAll(ctx, component.StateIdle, component.State.Processing)
	unloadErr := e.driveAll(ctx, component.StateUnloaded, nil)
	for _, cancel := range e.watches {
		cancel()
	}
	e.watches = nil
	e.phase = phaseBuilt
	if err := stderrors.Join(idleErr, unloadErr); err != nil {
		return errors.Wrap(err, "Engine", "Stop", "drive to unloaded")
	}
	e.logger.Info("pipeline stopped", "duration", time.Since(start))
	return nil
}

// Close stops the pipeline, releases every node and closes all streams. The
// engine cannot be reused.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase == phaseClosed {
		return nil
	}
	stopErr := e.stopLocked(ctx)
	e.teardownLocked()

	var errs []error
	errs = append(errs, stopErr)
	if e.watching {
		for _, dp := range e.discovered {
			errs = append(errs, dp.Stop())
		}
	}
	errs = append(errs, e.streams.Close())
	e.metrics.unregister()
	e.phase = phaseClosed
	return stderrors.Join(errs...)
}

// teardownLocked disconnects and releases everything Build created.
func (e *Engine) teardownLocked() {
	for _, cancel := range e.tracking {
		cancel()
	}
	e.tracking = nil
	for _, conn := range e.conns {
		if err := conn.Disconnect(); err != nil {
			e.logger.Warn("disconnect failed", "connection", conn.Name(), "error", err)
		}
	}
	e.conns = nil
	for _, n := range e.nodes {
		if s := n.Component.State(); s != component.StateInvalid && s != component.StateUnloaded {
			e.logger.Warn("releasing node still in use", "node", n.Label, "state", s)
		}
		e.registry.Release(n.Component)
	}
	e.nodes = nil
	e.byLabel = make(map[string]*Node)
	e.metrics.setActiveNodes(0)
}
