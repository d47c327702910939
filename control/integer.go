package control

import (
	"context"
	"sync"

	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/pkg/property"
)

// Integer is a stepped integer range. Valid values v satisfy
// min <= v <= max and (v-min)%step == 0.
type Integer struct {
	node

	min, max, step, def int64

	mu    sync.Mutex
	value int64
}

// NewInteger builds a range control holding def.
func NewInteger(name string, minimum, maximum, step, def int64, opts ...Option) (*Integer, error) {
	c := &Integer{min: minimum, max: maximum, step: step, def: def}
	if err := c.node.init("NewInteger", name, TypeInteger, opts); err != nil {
		return nil, err
	}
	if step <= 0 {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "integer", "NewInteger",
			"step %d must be positive", step)
	}
	if minimum > maximum {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "integer", "NewInteger",
			"minimum %d above maximum %d", minimum, maximum)
	}
	if err := c.check("NewInteger", def); err != nil {
		return nil, err
	}
	c.value = def
	return c, nil
}

// Min returns the lower bound.
func (c *Integer) Min() int64 { return c.min }

// Max returns the upper bound.
func (c *Integer) Max() int64 { return c.max }

// Step returns the increment between valid values.
func (c *Integer) Step() int64 { return c.step }

// Default returns the construction value.
func (c *Integer) Default() int64 { return c.def }

// Valid reports whether v lies on the range grid.
func (c *Integer) Valid(v int64) bool {
	if v < c.min || v > c.max {
		return false
	}
	// unsigned difference cannot overflow once v >= min
	return (uint64(v)-uint64(c.min))%uint64(c.step) == 0
}

func (c *Integer) check(method string, v int64) error {
	if !c.Valid(v) {
		return errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "integer", method,
			"%s: %d not in [%d, %d] step %d", c.Name(), v, c.min, c.max, c.step)
	}
	return nil
}

// Value returns the current value.
func (c *Integer) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set stores v. An invalid v leaves the value unchanged.
func (c *Integer) Set(v int64) error {
	if err := c.check("Set", v); err != nil {
		return err
	}
	c.mu.Lock()
	c.value = v
	c.mu.Unlock()
	return nil
}

// Increase moves one step up. At the top it does nothing.
func (c *Integer) Increase() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if uint64(c.max)-uint64(c.value) >= uint64(c.step) {
		c.value += c.step
	}
}

// Decrease moves one step down. At the bottom it does nothing.
func (c *Integer) Decrease() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if uint64(c.value)-uint64(c.min) >= uint64(c.step) {
		c.value -= c.step
	}
}

// Reset restores the default.
func (c *Integer) Reset() {
	c.mu.Lock()
	c.value = c.def
	c.mu.Unlock()
}

// Push commits the value, then pushes the parent.
func (c *Integer) Push(ctx context.Context) error {
	c.mu.Lock()
	err := c.synchronize(ctx, "Push", func(ctx context.Context, s Synchronizer) error {
		return s.Commit(ctx, c.Name(), property.Int(c.value))
	})
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.pushParent(ctx)
}

// Pull refreshes the value, then pulls the parent.
func (c *Integer) Pull(ctx context.Context) error {
	c.mu.Lock()
	err := c.synchronize(ctx, "Pull", func(ctx context.Context, s Synchronizer) error {
		v, err := s.Refresh(ctx, c.Name())
		if err != nil || v.IsZero() {
			return err
		}
		n, err := v.AsInt()
		if err != nil {
			return err
		}
		if err := c.check("Pull", n); err != nil {
			return err
		}
		c.value = n
		return nil
	})
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.pullParent(ctx)
}
