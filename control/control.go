package control

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/metric"
	"github.com/c360/mediaflow/pkg/property"
)

// DefaultTimeout bounds a single synchronizer call when no ancestor sets one.
const DefaultTimeout = 5 * time.Second

// Type identifies the concrete kind of a control.
type Type int

const (
	TypeComposite Type = iota
	TypeInteger
	TypeMenu
	TypeBoolean
	TypeRational
)

func (t Type) String() string {
	switch t {
	case TypeComposite:
		return "composite"
	case TypeInteger:
		return "integer"
	case TypeMenu:
		return "menu"
	case TypeBoolean:
		return "boolean"
	case TypeRational:
		return "rational"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Control is a node of a control tree.
//
// Push commits the node to its synchronizer, then pushes the parent. Pull
// refreshes the node from its synchronizer, then pulls the parent. Links only
// run upward; a composite never pushes or pulls its children.
type Control interface {
	// Name is the dotted path from the root, e.g. "camera.exposure.auto".
	Name() string
	Type() Type
	// Parent returns nil for a root.
	Parent() *Composite
	Push(ctx context.Context) error
	Pull(ctx context.Context) error

	base() *node
}

// Synchronizer moves values between a control tree and whatever backs it,
// usually a device. It must honor ctx.
//
// Commit receives the zero Value for composites, letting batched backends
// apply pending settings. Refresh may return the zero Value to leave a
// control unchanged.
type Synchronizer interface {
	Commit(ctx context.Context, name string, value property.Value) error
	Refresh(ctx context.Context, name string) (property.Value, error)
}

// Option configures a control at construction.
type Option func(*node)

// WithSynchronizer attaches s to the control and, by inheritance, to every
// descendant that has none of its own.
func WithSynchronizer(s Synchronizer) Option {
	return func(n *node) { n.sync = s }
}

// WithTimeout bounds each synchronizer call. Inherited like WithSynchronizer.
func WithTimeout(d time.Duration) Option {
	return func(n *node) { n.timeout = d }
}

// WithMetrics records push/pull outcomes. Inherited like WithSynchronizer.
func WithMetrics(m *metric.Metrics) Option {
	return func(n *node) { n.metrics = m }
}

// node carries what every control has in common.
type node struct {
	short   string
	typ     Type
	parent  atomic.Pointer[Composite]
	sync    Synchronizer
	timeout time.Duration
	metrics *metric.Metrics
}

// init fills n in place; node holds an atomic and must not be copied.
func (n *node) init(method, name string, typ Type, opts []Option) error {
	if err := ValidateName(name); err != nil {
		return errors.Wrap(err, typ.String(), method, "name validation")
	}
	n.short, n.typ = name, typ
	for _, opt := range opts {
		opt(n)
	}
	if n.timeout < 0 {
		return errors.Newf(errors.ErrorInvalid, errors.ErrValidation, typ.String(), method,
			"negative timeout %s", n.timeout)
	}
	return nil
}

// ValidateName checks a single path segment.
func ValidateName(name string) error {
	if name == "" {
		return errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "Control", "ValidateName", "empty name")
	}
	if strings.ContainsAny(name, ". \t\r\n\x00") {
		return errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "Control", "ValidateName",
			"name %q contains a separator or whitespace", name)
	}
	return nil
}

func (n *node) base() *node { return n }

// Name returns the dotted path of the control.
func (n *node) Name() string {
	if p := n.parent.Load(); p != nil {
		return p.Name() + "." + n.short
	}
	return n.short
}

// Type returns the control kind.
func (n *node) Type() Type { return n.typ }

// Parent returns the enclosing composite, or nil.
func (n *node) Parent() *Composite { return n.parent.Load() }

// ShortName is the last path segment.
func (n *node) ShortName() string { return n.short }

func (n *node) resolve() (Synchronizer, time.Duration, *metric.Metrics) {
	var (
		s Synchronizer
		t time.Duration
		m *metric.Metrics
	)
	for cur := n; cur != nil; {
		if s == nil {
			s = cur.sync
		}
		if t == 0 {
			t = cur.timeout
		}
		if m == nil {
			m = cur.metrics
		}
		p := cur.parent.Load()
		if p == nil {
			break
		}
		cur = &p.node
	}
	if t == 0 {
		t = DefaultTimeout
	}
	return s, t, m
}

// synchronize runs fn against the resolved synchronizer under its timeout.
// Without a synchronizer it does nothing.
func (n *node) synchronize(ctx context.Context, method string, fn func(context.Context, Synchronizer) error) error {
	s, timeout, m := n.resolve()
	if s == nil {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(callCtx, s)
	direction := strings.ToLower(method)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		err = errors.WrapTransient(ctx.Err(), n.typ.String(), method, "synchronize "+n.Name())
	case stderrors.Is(callCtx.Err(), context.DeadlineExceeded):
		err = errors.Newf(errors.ErrorTransient, errors.ErrTimeout, n.typ.String(), method,
			"synchronizer did not answer for %s within %s", n.Name(), timeout)
	case stderrors.Is(err, errors.ErrValidation):
	default:
		err = errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrExternalFault, err),
			n.typ.String(), method, "synchronize "+n.Name())
	}
	m.RecordControlSync(direction, err)
	return err
}

func (n *node) pushParent(ctx context.Context) error {
	if p := n.parent.Load(); p != nil {
		return p.Push(ctx)
	}
	return nil
}

func (n *node) pullParent(ctx context.Context) error {
	if p := n.parent.Load(); p != nil {
		return p.Pull(ctx)
	}
	return nil
}
