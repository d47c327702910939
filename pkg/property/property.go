// Package property provides a string-keyed bag of tagged-union values used to carry
// implementation-specific parameters on ports and content streams.
//
// Lookups never cast silently: a missing key yields ErrUnknownKey and reading a value
// as the wrong kind yields ErrTypeMismatch.
package property

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/c360/mediaflow/errors"
)

// Kind identifies which member of the union a Value holds
type Kind int

// Value kinds
const (
	KindNone Kind = iota
	KindInt
	KindFloat
	KindString
	KindBool
	KindBytes
	KindDuration
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	case KindDuration:
		return "duration"
	default:
		return "none"
	}
}

var (
	// ErrUnknownKey is returned when a key is not present in a Bag
	ErrUnknownKey = fmt.Errorf("unknown property key: %w", errors.ErrNotFound)
	// ErrTypeMismatch is returned when a Value is read as a kind it does not hold
	ErrTypeMismatch = fmt.Errorf("property type mismatch: %w", errors.ErrUnsupportedOperation)
)

// Value is an immutable tagged union
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
}

// Int creates an integer value
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Float creates a floating point value
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// String creates a string value
func String(v string) Value { return Value{kind: KindString, s: v} }

// Bool creates a boolean value
func Bool(v bool) Value {
	var i int64
	if v {
		i = 1
	}
	return Value{kind: KindBool, i: i}
}

// Bytes creates a binary value. The slice is copied.
func Bytes(v []byte) Value { return Value{kind: KindBytes, b: bytes.Clone(v)} }

// Duration creates a duration value
func Duration(v time.Duration) Value { return Value{kind: KindDuration, i: int64(v)} }

// Kind reports which member is held
func (v Value) Kind() Kind { return v.kind }

// IsZero reports whether v holds nothing
func (v Value) IsZero() bool { return v.kind == KindNone }

// AsInt returns the integer member
func (v Value) AsInt() (int64, error) {
	if v.kind != KindInt {
		return 0, v.mismatch(KindInt)
	}
	return v.i, nil
}

// AsFloat returns the float member
func (v Value) AsFloat() (float64, error) {
	if v.kind != KindFloat {
		return 0, v.mismatch(KindFloat)
	}
	return v.f, nil
}

// AsString returns the string member
func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", v.mismatch(KindString)
	}
	return v.s, nil
}

// AsBool returns the boolean member
func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, v.mismatch(KindBool)
	}
	return v.i != 0, nil
}

// AsBytes returns a copy of the binary member
func (v Value) AsBytes() ([]byte, error) {
	if v.kind != KindBytes {
		return nil, v.mismatch(KindBytes)
	}
	return bytes.Clone(v.b), nil
}

// AsDuration returns the duration member
func (v Value) AsDuration() (time.Duration, error) {
	if v.kind != KindDuration {
		return 0, v.mismatch(KindDuration)
	}
	return time.Duration(v.i), nil
}

// Equal compares kind and payload
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindBytes:
		return bytes.Equal(v.b, o.b)
	default:
		return v.i == o.i
	}
}

// String renders the value for logs
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return v.s
	case KindBool:
		return fmt.Sprintf("%t", v.i != 0)
	case KindBytes:
		return fmt.Sprintf("<%d bytes>", len(v.b))
	case KindDuration:
		return time.Duration(v.i).String()
	default:
		return "<none>"
	}
}

func (v Value) mismatch(want Kind) error {
	return fmt.Errorf("%w: holds %s, requested %s", ErrTypeMismatch, v.kind, want)
}

// FromAny converts a decoded configuration scalar (YAML/JSON) into a Value.
// Durations are recognized from strings with a unit suffix only when hint is KindDuration.
func FromAny(raw any, hint Kind) (Value, error) {
	switch x := raw.(type) {
	case int:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case float64:
		if x == float64(int64(x)) && hint != KindFloat {
			return Int(int64(x)), nil
		}
		return Float(x), nil
	case bool:
		return Bool(x), nil
	case []byte:
		return Bytes(x), nil
	case time.Duration:
		return Duration(x), nil
	case string:
		if hint == KindDuration {
			d, err := time.ParseDuration(x)
			if err != nil {
				return Value{}, fmt.Errorf("%w: %q is not a duration", ErrTypeMismatch, x)
			}
			return Duration(d), nil
		}
		return String(x), nil
	default:
		return Value{}, fmt.Errorf("%w: unsupported %T", ErrTypeMismatch, raw)
	}
}

// Bag is a concurrency-safe property map
type Bag struct {
	mu     sync.RWMutex
	values map[string]Value
}

// NewBag creates an empty bag
func NewBag() *Bag {
	return &Bag{values: make(map[string]Value)}
}

// Get returns the value for key or ErrUnknownKey
func (b *Bag) Get(key string) (Value, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[key]
	if !ok {
		return Value{}, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return v, nil
}

// Set stores v under key and returns the previous value, if any
func (b *Bag) Set(key string, v Value) (Value, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev, had := b.values[key]
	b.values[key] = v
	return prev, had
}

// Delete removes key and reports whether it was present
func (b *Bag) Delete(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, had := b.values[key]
	delete(b.values, key)
	return had
}

// Keys returns the keys in sorted order
func (b *Bag) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Sorted(maps.Keys(b.values))
}

// Clear removes all entries
func (b *Bag) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.values)
}

// Int is a typed accessor shortcut
func (b *Bag) Int(key string) (int64, error) {
	v, err := b.Get(key)
	if err != nil {
		return 0, err
	}
	return v.AsInt()
}

// String is a typed accessor shortcut
func (b *Bag) String(key string) (string, error) {
	v, err := b.Get(key)
	if err != nil {
		return "", err
	}
	return v.AsString()
}

// Coerce converts v to kind where the conversion is lossless: strings parse
// as durations or booleans, integers widen to floats. Values already of kind
// are returned unchanged.
func Coerce(v Value, kind Kind) (Value, error) {
	if v.kind == kind {
		return v, nil
	}
	switch {
	case kind == KindDuration && v.kind == KindString:
		d, err := time.ParseDuration(v.s)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a duration", ErrTypeMismatch, v.s)
		}
		return Duration(d), nil
	case kind == KindBool && v.kind == KindString:
		b, err := strconv.ParseBool(v.s)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a boolean", ErrTypeMismatch, v.s)
		}
		return Bool(b), nil
	case kind == KindFloat && v.kind == KindInt:
		return Float(float64(v.i)), nil
	}
	return Value{}, v.mismatch(kind)
}
