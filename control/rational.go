package control

import (
	"context"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/pkg/property"
)

// Ratio is the fraction Num/Den. Den is positive once built by NewRatio or
// ParseRatio; a zero Den is never valid.
type Ratio struct {
	Num, Den int64
}

// NewRatio builds a reduced ratio with a positive denominator.
func NewRatio(num, den int64) (Ratio, error) {
	if den == 0 {
		return Ratio{}, errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "rational", "NewRatio",
			"%d/0: zero denominator", num)
	}
	r, ok := fromRat(new(big.Rat).SetFrac64(num, den))
	if !ok {
		return Ratio{}, errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "rational", "NewRatio",
			"%d/%d does not fit in 64 bits", num, den)
	}
	return r, nil
}

// ParseRatio reads "n/d" or a bare integer "n".
func ParseRatio(s string) (Ratio, error) {
	ns, ds, hasDen := strings.Cut(strings.TrimSpace(s), "/")
	num, err := strconv.ParseInt(strings.TrimSpace(ns), 10, 64)
	if err != nil {
		return Ratio{}, errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "rational", "ParseRatio",
			"%q: bad numerator", s)
	}
	den := int64(1)
	if hasDen {
		if den, err = strconv.ParseInt(strings.TrimSpace(ds), 10, 64); err != nil {
			return Ratio{}, errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "rational", "ParseRatio",
				"%q: bad denominator", s)
		}
	}
	return NewRatio(num, den)
}

func fromRat(x *big.Rat) (Ratio, bool) {
	if !x.Num().IsInt64() || !x.Denom().IsInt64() {
		return Ratio{}, false
	}
	return Ratio{Num: x.Num().Int64(), Den: x.Denom().Int64()}, true
}

func (r Ratio) rat() *big.Rat { return new(big.Rat).SetFrac64(r.Num, r.Den) }

// String renders "n/d".
func (r Ratio) String() string {
	return strconv.FormatInt(r.Num, 10) + "/" + strconv.FormatInt(r.Den, 10)
}

// Cmp returns -1, 0 or +1 as r is below, equal to or above o.
func (r Ratio) Cmp(o Ratio) int { return r.rat().Cmp(o.rat()) }

// Float64 returns the nearest float.
func (r Ratio) Float64() float64 {
	f, _ := r.rat().Float64()
	return f
}

// Rational is a stepped range of fractions. Valid values v satisfy
// min <= v <= max and (v-min)/step is a whole number.
type Rational struct {
	node

	min, max, step, def Ratio

	mu    sync.Mutex
	value Ratio
}

// NewRational builds a fraction range control holding def.
func NewRational(name string, minimum, maximum, step, def Ratio, opts ...Option) (*Rational, error) {
	c := &Rational{}
	if err := c.node.init("NewRational", name, TypeRational, opts); err != nil {
		return nil, err
	}
	bounds := []*Ratio{&minimum, &maximum, &step, &def}
	for _, r := range bounds {
		n, err := NewRatio(r.Num, r.Den)
		if err != nil {
			return nil, errors.Wrap(err, "rational", "NewRational", "bounds of "+name)
		}
		*r = n
	}
	if step.Num <= 0 {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "rational", "NewRational",
			"step %s must be positive", step)
	}
	if minimum.Cmp(maximum) > 0 {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "rational", "NewRational",
			"minimum %s above maximum %s", minimum, maximum)
	}
	c.min, c.max, c.step, c.def = minimum, maximum, step, def
	if err := c.check("NewRational", def); err != nil {
		return nil, err
	}
	c.value = def
	return c, nil
}

// Min returns the lower bound.
func (c *Rational) Min() Ratio { return c.min }

// Max returns the upper bound.
func (c *Rational) Max() Ratio { return c.max }

// Step returns the increment between valid values.
func (c *Rational) Step() Ratio { return c.step }

// Default returns the construction value.
func (c *Rational) Default() Ratio { return c.def }

// Valid reports whether v lies on the range grid.
func (c *Rational) Valid(v Ratio) bool {
	if v.Den <= 0 || v.Cmp(c.min) < 0 || v.Cmp(c.max) > 0 {
		return false
	}
	steps := new(big.Rat).Sub(v.rat(), c.min.rat())
	return steps.Quo(steps, c.step.rat()).IsInt()
}

func (c *Rational) check(method string, v Ratio) error {
	if !c.Valid(v) {
		return errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "rational", method,
			"%s: %s not in [%s, %s] step %s", c.Name(), v, c.min, c.max, c.step)
	}
	return nil
}

// Value returns the current value.
func (c *Rational) Value() Ratio {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set stores v in reduced form. An invalid v leaves the value unchanged.
func (c *Rational) Set(v Ratio) error {
	if v.Den == 0 {
		return errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "rational", "Set",
			"%s: zero denominator", c.Name())
	}
	v, err := NewRatio(v.Num, v.Den)
	if err != nil {
		return err
	}
	if err := c.check("Set", v); err != nil {
		return err
	}
	c.mu.Lock()
	c.value = v
	c.mu.Unlock()
	return nil
}

// Increase moves one step up. At the top it does nothing.
func (c *Rational) Increase() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.moveLocked(c.step.rat())
}

// Decrease moves one step down. At the bottom it does nothing.
func (c *Rational) Decrease() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.moveLocked(new(big.Rat).Neg(c.step.rat()))
}

func (c *Rational) moveLocked(delta *big.Rat) {
	next, ok := fromRat(new(big.Rat).Add(c.value.rat(), delta))
	if ok && next.Cmp(c.min) >= 0 && next.Cmp(c.max) <= 0 {
		c.value = next
	}
}

// Reset restores the default.
func (c *Rational) Reset() {
	c.mu.Lock()
	c.value = c.def
	c.mu.Unlock()
}

// ratioOf converts a property value: a "n/d" string or an integer.
func ratioOf(v property.Value) (Ratio, error) {
	if n, err := v.AsInt(); err == nil {
		return Ratio{Num: n, Den: 1}, nil
	}
	s, err := v.AsString()
	if err != nil {
		return Ratio{}, err
	}
	return ParseRatio(s)
}

// Push commits the value as a "n/d" string, then pushes the parent.
func (c *Rational) Push(ctx context.Context) error {
	c.mu.Lock()
	err := c.synchronize(ctx, "Push", func(ctx context.Context, s Synchronizer) error {
		return s.Commit(ctx, c.Name(), property.String(c.value.String()))
	})
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.pushParent(ctx)
}

// Pull refreshes the value, then pulls the parent.
func (c *Rational) Pull(ctx context.Context) error {
	c.mu.Lock()
	err := c.synchronize(ctx, "Pull", func(ctx context.Context, s Synchronizer) error {
		v, err := s.Refresh(ctx, c.Name())
		if err != nil || v.IsZero() {
			return err
		}
		r, err := ratioOf(v)
		if err != nil {
			return err
		}
		if err := c.check("Pull", r); err != nil {
			return err
		}
		c.value = r
		return nil
	})
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.pullParent(ctx)
}
