package component

import (
	"context"
	stderrors "errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/mediaflow/control"
	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/metric"
)

// Component is a node of a processing graph. Implementations embed *Base,
// which supplies every method; the embedding type contributes behavior
// through Hooks and by adding ports and controls.
type Component interface {
	Name() string
	Provider() string
	Roles() []Role
	HasRole(r Role) bool

	State() State
	// SetState walks the shortest legal path to target as one transition.
	SetState(ctx context.Context, target State) error
	// Invalidate moves the component to StateInvalid from any state.
	Invalidate(cause error)
	// Err returns the cause passed to Invalidate.
	Err() error
	OnStateChange(fn StateObserver) (cancel func())

	Ports() []*Port
	Port(index int) (*Port, bool)
	Controls() *control.Composite

	base() *Base
}

// StateObserver is called after every completed step, on the goroutine that
// made the change.
type StateObserver func(from, to State)

// Hooks are the component-specific parts of the lifecycle. A nil hook
// succeeds. A hook returning an error classified fatal invalidates the
// component; any other error leaves it in the state it was leaving.
type Hooks struct {
	Load   func(ctx context.Context) error // UNLOADED -> LOADED
	Unload func(ctx context.Context) error // LOADED -> UNLOADED
	Start  func(ctx context.Context) error // IDLE -> EXECUTING
	Stop   func(ctx context.Context) error // EXECUTING/PAUSED -> IDLE
	Pause  func(ctx context.Context) error // EXECUTING -> PAUSED
	Resume func(ctx context.Context) error // PAUSED -> EXECUTING
}

// Config describes a component at construction.
type Config struct {
	Name         string
	Provider     string
	Roles        []Role
	Hooks        Hooks
	Synchronizer control.Synchronizer // backs the control tree (optional)
}

// Base implements Component. It owns the state machine, the ports and the
// root of the control tree.
type Base struct {
	name     string
	provider string
	roles    []Role
	hooks    Hooks
	deps     Dependencies
	logger   *slog.Logger
	metrics  *metric.Metrics
	controls *control.Composite

	inFlight atomic.Bool

	mu           sync.Mutex
	state        State
	cause        error
	ports        []*Port
	observers    map[uint64]StateObserver
	nextObserver uint64
}

var _ Component = (*Base)(nil)

// NewBase creates a component in StateUnloaded.
func NewBase(cfg Config, deps Dependencies) (*Base, error) {
	if err := ValidateComponentName(cfg.Name); err != nil {
		return nil, errors.Wrap(err, "Component", "NewBase", "name validation")
	}

	metrics := deps.Metrics()
	opts := []control.Option{control.WithMetrics(metrics)}
	if cfg.Synchronizer != nil {
		opts = append(opts, control.WithSynchronizer(cfg.Synchronizer))
	}
	if deps.ControlTimeout > 0 {
		opts = append(opts, control.WithTimeout(deps.ControlTimeout))
	}
	controls, err := control.NewComposite(cfg.Name, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "Component", "NewBase", "control root")
	}

	b := &Base{
		name:      cfg.Name,
		provider:  cfg.Provider,
		roles:     slices.Clone(cfg.Roles),
		hooks:     cfg.Hooks,
		deps:      deps,
		logger:    deps.GetLoggerWithComponent(cfg.Name),
		metrics:   metrics,
		controls:  controls,
		state:     StateUnloaded,
		observers: make(map[uint64]StateObserver),
	}
	metrics.RecordState(b.name, int(StateUnloaded))
	return b, nil
}

func (b *Base) base() *Base { return b }

// Name returns the component name.
func (b *Base) Name() string { return b.name }

// Provider returns the name of the provider that created the component.
func (b *Base) Provider() string { return b.provider }

// Roles returns a copy of the declared roles.
func (b *Base) Roles() []Role { return slices.Clone(b.roles) }

// HasRole reports whether r was declared. RoleAny matches everything.
func (b *Base) HasRole(r Role) bool {
	return r == RoleAny || slices.Contains(b.roles, r)
}

// Logger returns the component-scoped logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

// Metrics returns the framework metrics, possibly nil.
func (b *Base) Metrics() *metric.Metrics { return b.metrics }

// Controls returns the root of the control tree, named after the component.
func (b *Base) Controls() *control.Composite { return b.controls }

// State returns the current state.
func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Err returns the invalidation cause, if any.
func (b *Base) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cause
}

// OnStateChange registers fn and returns a function that removes it.
func (b *Base) OnStateChange(fn StateObserver) (cancel func()) {
	b.mu.Lock()
	id := b.nextObserver
	b.nextObserver++
	b.observers[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.observers, id)
			b.mu.Unlock()
		})
	}
}

// SetState moves the component to target along the shortest legal path. Only
// one transition runs at a time; a concurrent request fails immediately with
// errors.ErrTransitionInFlight.
func (b *Base) SetState(ctx context.Context, target State) error {
	if !b.inFlight.CompareAndSwap(false, true) {
		b.metrics.RecordRejectedTransition(b.name, "in_flight")
		return errors.Newf(errors.ErrorInvalid, errors.ErrTransitionInFlight, "Component", "SetState",
			"%s: %s requested while another transition runs", b.name, target)
	}
	defer b.inFlight.Store(false)

	from := b.State()
	if from == StateInvalid || target == StateInvalid {
		b.metrics.RecordRejectedTransition(b.name, "invalid")
		return errors.Newf(errors.ErrorInvalid, errors.ErrInvalidTransition, "Component", "SetState",
			"%s: %s -> %s", b.name, from, target)
	}
	path, ok := Path(from, target)
	if !ok {
		b.metrics.RecordRejectedTransition(b.name, "unreachable")
		return errors.Newf(errors.ErrorInvalid, errors.ErrInvalidTransition, "Component", "SetState",
			"%s: no path %s -> %s", b.name, from, target)
	}

	for _, next := range path {
		if err := b.step(ctx, next); err != nil {
			return err
		}
	}
	return nil
}

// step performs one edge of the transition graph.
func (b *Base) step(ctx context.Context, to State) error {
	from := b.State()
	if from == StateInvalid {
		return errors.Newf(errors.ErrorInvalid, errors.ErrInvalidTransition, "Component", "SetState",
			"%s: invalidated during transition", b.name)
	}
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "Component", "SetState", from.String()+" -> "+to.String())
	}

	var err error
	switch {
	case from == StateUnloaded && to == StateLoaded:
		err = b.runHook(ctx, b.hooks.Load)
	case from == StateLoaded && to == StateUnloaded:
		err = b.runHook(ctx, b.hooks.Unload)

	case from == StateLoaded && to == StateWaitForResources:
		if err := b.commit(from, to); err != nil {
			return err
		}
		if err := b.negotiate(ctx); err != nil {
			b.releaseBuffers()
			if cerr := b.commit(StateWaitForResources, StateLoaded); cerr != nil {
				return cerr
			}
			return err
		}
		return nil

	case from == StateWaitForResources && to == StateIdle:
		if missing := b.unpopulated(); len(missing) > 0 {
			b.releaseBuffers()
			if cerr := b.commit(from, StateLoaded); cerr != nil {
				return cerr
			}
			b.metrics.RecordRejectedTransition(b.name, "unpopulated")
			return errors.Newf(errors.ErrorInvalid, errors.ErrInvalidTransition, "Component", "SetState",
				"%s: ports %v not populated, fell back to loaded", b.name, missing)
		}
	case from == StateWaitForResources && to == StateLoaded,
		from == StateIdle && to == StateLoaded:
		b.releaseBuffers()

	case from == StateIdle && to == StateExecuting:
		err = b.runHook(ctx, b.hooks.Start)
	case (from == StateExecuting || from == StatePaused) && to == StateIdle:
		err = b.runHook(ctx, b.hooks.Stop)
	case from == StateExecuting && to == StatePaused:
		err = b.runHook(ctx, b.hooks.Pause)
	case from == StatePaused && to == StateExecuting:
		err = b.runHook(ctx, b.hooks.Resume)

	default:
		return errors.Newf(errors.ErrorInvalid, errors.ErrInvalidTransition, "Component", "SetState",
			"%s: %s -> %s", b.name, from, to)
	}

	if err != nil {
		if errors.IsFatal(err) {
			b.Invalidate(err)
			return errors.WrapFatal(err, "Component", "SetState", from.String()+" -> "+to.String())
		}
		b.logger.Warn("transition hook failed", "from", from, "to", to, "error", err)
		b.metrics.RecordRejectedTransition(b.name, "hook")
		return errors.Wrap(err, "Component", "SetState", from.String()+" -> "+to.String())
	}
	return b.commit(from, to)
}

func (b *Base) runHook(ctx context.Context, hook func(context.Context) error) (err error) {
	if hook == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.ErrorFatal, errors.ErrFatalFault, "Component", "runHook",
				"%s: hook panicked: %v", b.name, r)
		}
	}()
	return hook(ctx)
}

// commit records the new state unless the component was invalidated meanwhile.
func (b *Base) commit(from, to State) error {
	b.mu.Lock()
	if b.state != from {
		current := b.state
		b.mu.Unlock()
		return errors.Newf(errors.ErrorInvalid, errors.ErrInvalidTransition, "Component", "SetState",
			"%s: expected %s, found %s", b.name, from, current)
	}
	b.state = to
	observers := b.snapshotObservers()
	b.mu.Unlock()

	b.logger.Debug("state transition", "from", from, "to", to)
	b.metrics.RecordState(b.name, int(to))
	b.metrics.RecordTransition(b.name, from.String(), to.String())
	for _, fn := range observers {
		fn(from, to)
	}
	return nil
}

// snapshotObservers copies the observer set. Caller holds mu.
func (b *Base) snapshotObservers() []StateObserver {
	out := make([]StateObserver, 0, len(b.observers))
	for _, fn := range b.observers {
		out = append(out, fn)
	}
	return out
}

// Invalidate moves the component to StateInvalid and drops its buffers. The
// first cause wins; later calls do nothing.
func (b *Base) Invalidate(cause error) {
	b.mu.Lock()
	if b.state == StateInvalid {
		b.mu.Unlock()
		return
	}
	from := b.state
	b.state = StateInvalid
	b.cause = cause
	observers := b.snapshotObservers()
	b.mu.Unlock()

	b.releaseBuffers()
	b.logger.Error("component invalidated", "from", from, "error", cause)
	b.metrics.RecordState(b.name, int(StateInvalid))
	b.metrics.RecordTransition(b.name, from.String(), StateInvalid.String())
	for _, fn := range observers {
		fn(from, StateInvalid)
	}
}

// negotiate agrees buffer requirements on every enabled, connected port.
func (b *Base) negotiate(ctx context.Context) error {
	start := time.Now()
	timeout := b.deps.negotiationTimeout()
	for _, p := range b.Ports() {
		if !p.Enabled() {
			continue
		}
		for _, c := range p.Connections() {
			if err := c.negotiate(ctx, p, timeout); err != nil {
				b.metrics.RecordNegotiation(b.name, time.Since(start), negotiationFailure(ctx, err))
				b.logger.Warn("negotiation failed", "port", p.Index(), "connection", c.Name(), "error", err)
				return err
			}
		}
	}
	b.metrics.RecordNegotiation(b.name, time.Since(start), "")
	return nil
}

func negotiationFailure(ctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil:
		return "cancelled"
	case stderrors.Is(err, errors.ErrTimeout):
		return "timeout"
	case stderrors.Is(err, errors.ErrIncompatibleFormat):
		return "incompatible"
	case stderrors.Is(err, errors.ErrNegotiationBusy):
		return "busy"
	default:
		return "error"
	}
}

// unpopulated lists enabled ports that lack committed buffers.
func (b *Base) unpopulated() []int {
	var missing []int
	for _, p := range b.Ports() {
		if p.Enabled() && !p.Populated() {
			missing = append(missing, p.Index())
		}
	}
	return missing
}

// releaseBuffers withdraws this component's commitment from every connection.
func (b *Base) releaseBuffers() {
	for _, p := range b.Ports() {
		for _, c := range p.Connections() {
			if err := c.uncommit(p); err != nil {
				b.logger.Warn("buffer release incomplete", "connection", c.Name(), "error", err)
			}
		}
	}
}

// AddPort creates a port. Ports are fixed once the component leaves LOADED.
func (b *Base) AddPort(cfg PortConfig) (*Port, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "Component", "AddPort", "port config")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateUnloaded && b.state != StateLoaded {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrInvalidTransition, "Component", "AddPort",
			"%s: ports cannot be added in %s", b.name, b.state)
	}
	for _, p := range b.ports {
		if p.index == cfg.Index {
			return nil, errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "Component", "AddPort",
				"%s: port index %d already used", b.name, cfg.Index)
		}
	}

	p := newPort(b, cfg)
	b.ports = append(b.ports, p)
	slices.SortFunc(b.ports, func(x, y *Port) int { return x.index - y.index })
	return p, nil
}

// Ports returns the ports ordered by index.
func (b *Base) Ports() []*Port {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.ports)
}

// Port looks up a port by index.
func (b *Base) Port(index int) (*Port, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.ports {
		if p.index == index {
			return p, true
		}
	}
	return nil, false
}

// InputPorts returns the input ports ordered by index.
func (b *Base) InputPorts() []*Port { return b.portsByDirection(DirectionInput) }

// OutputPorts returns the output ports ordered by index.
func (b *Base) OutputPorts() []*Port { return b.portsByDirection(DirectionOutput) }

func (b *Base) portsByDirection(d Direction) []*Port {
	var out []*Port
	for _, p := range b.Ports() {
		if p.direction == d {
			out = append(out, p)
		}
	}
	return out
}
