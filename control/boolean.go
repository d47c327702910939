package control

import (
	"context"
	"sync"

	"github.com/c360/mediaflow/pkg/property"
)

// Boolean is an on/off switch.
type Boolean struct {
	node

	def bool

	mu    sync.Mutex
	value bool
}

// NewBoolean builds a switch holding def.
func NewBoolean(name string, def bool, opts ...Option) (*Boolean, error) {
	c := &Boolean{def: def, value: def}
	if err := c.node.init("NewBoolean", name, TypeBoolean, opts); err != nil {
		return nil, err
	}
	return c, nil
}

// Default returns the construction value.
func (c *Boolean) Default() bool { return c.def }

// Value returns the current state.
func (c *Boolean) Value() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set stores v.
func (c *Boolean) Set(v bool) {
	c.mu.Lock()
	c.value = v
	c.mu.Unlock()
}

// Toggle flips the state and returns the new one.
func (c *Boolean) Toggle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = !c.value
	return c.value
}

// Reset restores the default.
func (c *Boolean) Reset() { c.Set(c.def) }

// Push commits the state, then pushes the parent.
func (c *Boolean) Push(ctx context.Context) error {
	c.mu.Lock()
	err := c.synchronize(ctx, "Push", func(ctx context.Context, s Synchronizer) error {
		return s.Commit(ctx, c.Name(), property.Bool(c.value))
	})
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.pushParent(ctx)
}

// Pull refreshes the state, then pulls the parent.
func (c *Boolean) Pull(ctx context.Context) error {
	c.mu.Lock()
	err := c.synchronize(ctx, "Pull", func(ctx context.Context, s Synchronizer) error {
		v, err := s.Refresh(ctx, c.Name())
		if err != nil || v.IsZero() {
			return err
		}
		b, err := v.AsBool()
		if err != nil {
			return err
		}
		c.value = b
		return nil
	})
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.pullParent(ctx)
}
