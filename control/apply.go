package control

import (
	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/pkg/property"
)

type opKind int

const (
	opIncrease opKind = iota + 1
	opDecrease
	opReset
	opSetIndex
	opSet
)

func (k opKind) String() string {
	switch k {
	case opIncrease:
		return "increase"
	case opDecrease:
		return "decrease"
	case opReset:
		return "reset"
	case opSetIndex:
		return "set-index"
	case opSet:
		return "set"
	default:
		return "unknown"
	}
}

// Op is an operation that can be applied to any control through Apply.
type Op struct {
	kind  opKind
	index int
	value property.Value
}

// Increase steps an ordinal control up.
func Increase() Op { return Op{kind: opIncrease} }

// Decrease steps an ordinal control down.
func Decrease() Op { return Op{kind: opDecrease} }

// Reset restores a leaf's default.
func Reset() Op { return Op{kind: opReset} }

// SetIndex selects a menu option by position.
func SetIndex(i int) Op { return Op{kind: opSetIndex, index: i} }

// Set assigns a typed value to a leaf.
func Set(v property.Value) Op { return Op{kind: opSet, value: v} }

// Apply runs op on c. Operations that make no sense for c's type fail with
// errors.ErrUnsupportedOperation and leave c unchanged.
func Apply(c Control, op Op) error {
	switch ctl := c.(type) {
	case *Integer:
		switch op.kind {
		case opIncrease:
			ctl.Increase()
			return nil
		case opDecrease:
			ctl.Decrease()
			return nil
		case opReset:
			ctl.Reset()
			return nil
		case opSet:
			v, err := op.value.AsInt()
			if err != nil {
				return errors.WrapInvalid(err, "control", "Apply", "set "+ctl.Name())
			}
			return ctl.Set(v)
		}
	case *Rational:
		switch op.kind {
		case opIncrease:
			ctl.Increase()
			return nil
		case opDecrease:
			ctl.Decrease()
			return nil
		case opReset:
			ctl.Reset()
			return nil
		case opSet:
			v, err := ratioOf(op.value)
			if err != nil {
				return errors.WrapInvalid(err, "control", "Apply", "set "+ctl.Name())
			}
			return ctl.Set(v)
		}
	case *Menu:
		switch op.kind {
		case opIncrease:
			ctl.Increase()
			return nil
		case opDecrease:
			ctl.Decrease()
			return nil
		case opReset:
			ctl.Reset()
			return nil
		case opSetIndex:
			return ctl.SetIndex(op.index)
		case opSet:
			v, err := op.value.AsString()
			if err != nil {
				return errors.WrapInvalid(err, "control", "Apply", "set "+ctl.Name())
			}
			return ctl.Set(v)
		}
	case *Boolean:
		switch op.kind {
		case opReset:
			ctl.Reset()
			return nil
		case opSet:
			v, err := op.value.AsBool()
			if err != nil {
				return errors.WrapInvalid(err, "control", "Apply", "set "+ctl.Name())
			}
			ctl.Set(v)
			return nil
		}
	}
	return unsupported(c, op.kind.String())
}

// Options returns the option list of a menu.
func Options(c Control) ([]string, error) {
	if m, ok := c.(*Menu); ok {
		return m.Options(), nil
	}
	return nil, unsupported(c, "options")
}

// ValueOf returns a leaf's current value.
func ValueOf(c Control) (property.Value, error) {
	switch ctl := c.(type) {
	case *Integer:
		return property.Int(ctl.Value()), nil
	case *Menu:
		return property.String(ctl.Value()), nil
	case *Boolean:
		return property.Bool(ctl.Value()), nil
	case *Rational:
		return property.String(ctl.Value().String()), nil
	}
	return property.Value{}, unsupported(c, "value")
}

func unsupported(c Control, op string) error {
	if c == nil {
		return errors.Newf(errors.ErrorInvalid, errors.ErrUnsupportedOperation, "control", "Apply",
			"%s on nil control", op)
	}
	return errors.Newf(errors.ErrorInvalid, errors.ErrUnsupportedOperation, "control", "Apply",
		"%s is not supported by %s control %s", op, c.Type(), c.Name())
}
