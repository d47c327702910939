package control

import (
	"context"
	"strings"
	"sync"

	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/pkg/property"
)

// Composite groups child controls under one name.
type Composite struct {
	node

	mu       sync.RWMutex
	children map[string]Control
	order    []string

	// serializes synchronizer calls for the composite itself
	syncMu sync.Mutex
}

// NewComposite builds an empty group.
func NewComposite(name string, opts ...Option) (*Composite, error) {
	c := &Composite{children: make(map[string]Control)}
	if err := c.node.init("NewComposite", name, TypeComposite, opts); err != nil {
		return nil, err
	}
	return c, nil
}

// Add attaches child. A child belongs to at most one composite and names are
// unique among siblings.
func (c *Composite) Add(child Control) error {
	if child == nil {
		return errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "composite", "Add", "nil child")
	}
	cn := child.base()

	if sub, ok := child.(*Composite); ok {
		for p := c; p != nil; p = p.Parent() {
			if p == sub {
				return errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "composite", "Add",
					"adding %s under %s would create a cycle", sub.Name(), c.Name())
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.children[cn.short]; dup {
		return errors.Newf(errors.ErrorInvalid, errors.ErrResourceConflict, "composite", "Add",
			"%s already has a child named %q", c.Name(), cn.short)
	}
	if !cn.parent.CompareAndSwap(nil, c) {
		return errors.Newf(errors.ErrorInvalid, errors.ErrResourceConflict, "composite", "Add",
			"%s is already attached to %s", cn.short, cn.parent.Load().Name())
	}
	c.children[cn.short] = child
	c.order = append(c.order, cn.short)
	return nil
}

// Child looks up a direct child by exact, case-sensitive name.
func (c *Composite) Child(name string) (Control, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	child, ok := c.children[name]
	return child, ok
}

// Find resolves a dotted path relative to c, e.g. "exposure.auto".
func (c *Composite) Find(path string) (Control, bool) {
	if path == "" {
		return nil, false
	}
	var cur Control = c
	for _, seg := range strings.Split(path, ".") {
		group, ok := cur.(*Composite)
		if !ok {
			return nil, false
		}
		if cur, ok = group.Child(seg); !ok {
			return nil, false
		}
	}
	return cur, true
}

// Children returns the direct children in insertion order.
func (c *Composite) Children() []Control {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Control, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.children[name])
	}
	return out
}

// Len returns the number of direct children.
func (c *Composite) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Walk visits every descendant depth-first in insertion order. A non-nil
// error from fn stops the walk and is returned.
func (c *Composite) Walk(fn func(Control) error) error {
	for _, child := range c.Children() {
		if err := fn(child); err != nil {
			return err
		}
		if sub, ok := child.(*Composite); ok {
			if err := sub.Walk(fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Push commits the group, then pushes the parent.
func (c *Composite) Push(ctx context.Context) error {
	c.syncMu.Lock()
	err := c.synchronize(ctx, "Push", func(ctx context.Context, s Synchronizer) error {
		return s.Commit(ctx, c.Name(), property.Value{})
	})
	c.syncMu.Unlock()
	if err != nil {
		return err
	}
	return c.pushParent(ctx)
}

// Pull refreshes the group, then pulls the parent. The returned value is ignored.
func (c *Composite) Pull(ctx context.Context) error {
	c.syncMu.Lock()
	err := c.synchronize(ctx, "Pull", func(ctx context.Context, s Synchronizer) error {
		_, err := s.Refresh(ctx, c.Name())
		return err
	})
	c.syncMu.Unlock()
	if err != nil {
		return err
	}
	return c.pullParent(ctx)
}
