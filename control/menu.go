package control

import (
	"context"
	"slices"
	"sync"

	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/pkg/property"
)

// Menu selects one of a fixed, ordered list of options.
type Menu struct {
	node

	options []string
	def     int

	mu    sync.Mutex
	index int
}

// NewMenu builds a menu holding def, which must be one of options.
func NewMenu(name string, options []string, def string, opts ...Option) (*Menu, error) {
	c := &Menu{}
	if err := c.node.init("NewMenu", name, TypeMenu, opts); err != nil {
		return nil, err
	}
	if len(options) == 0 {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "menu", "NewMenu",
			"%s: no options", name)
	}
	for i, o := range options {
		if slices.Index(options, o) != i {
			return nil, errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "menu", "NewMenu",
				"%s: duplicate option %q", name, o)
		}
	}
	idx := slices.Index(options, def)
	if idx < 0 {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "menu", "NewMenu",
			"%s: default %q is not an option", name, def)
	}
	c.options, c.def, c.index = slices.Clone(options), idx, idx
	return c, nil
}

// Options returns a copy of the option list.
func (c *Menu) Options() []string { return slices.Clone(c.options) }

// Value returns the selected option.
func (c *Menu) Value() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.options[c.index]
}

// Index returns the position of the selected option.
func (c *Menu) Index() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// Set selects v. A value that is not an option leaves the selection unchanged.
func (c *Menu) Set(v string) error {
	idx := slices.Index(c.options, v)
	if idx < 0 {
		return errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "menu", "Set",
			"%s: %q is not an option", c.Name(), v)
	}
	c.mu.Lock()
	c.index = idx
	c.mu.Unlock()
	return nil
}

// SetIndex selects the option at i.
func (c *Menu) SetIndex(i int) error {
	if i < 0 || i >= len(c.options) {
		return errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "menu", "SetIndex",
			"%s: index %d not in [0, %d)", c.Name(), i, len(c.options))
	}
	c.mu.Lock()
	c.index = i
	c.mu.Unlock()
	return nil
}

// Increase selects the next option. On the last one it does nothing.
func (c *Menu) Increase() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index < len(c.options)-1 {
		c.index++
	}
}

// Decrease selects the previous option. On the first one it does nothing.
func (c *Menu) Decrease() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index > 0 {
		c.index--
	}
}

// Reset restores the default option.
func (c *Menu) Reset() {
	c.mu.Lock()
	c.index = c.def
	c.mu.Unlock()
}

// Push commits the selection, then pushes the parent.
func (c *Menu) Push(ctx context.Context) error {
	c.mu.Lock()
	err := c.synchronize(ctx, "Push", func(ctx context.Context, s Synchronizer) error {
		return s.Commit(ctx, c.Name(), property.String(c.options[c.index]))
	})
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.pushParent(ctx)
}

// Pull refreshes the selection, then pulls the parent.
func (c *Menu) Pull(ctx context.Context) error {
	c.mu.Lock()
	err := c.synchronize(ctx, "Pull", func(ctx context.Context, s Synchronizer) error {
		v, err := s.Refresh(ctx, c.Name())
		if err != nil || v.IsZero() {
			return err
		}
		str, err := v.AsString()
		if err != nil {
			return err
		}
		idx := slices.Index(c.options, str)
		if idx < 0 {
			return errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "menu", "Pull",
				"%s: device reported %q, not an option", c.Name(), str)
		}
		c.index = idx
		return nil
	})
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.pullParent(ctx)
}
