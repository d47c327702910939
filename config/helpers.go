package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/pkg/property"
)

// PortRef addresses a port of a pipeline node.
type PortRef struct {
	Node string
	Port int
}

func (r PortRef) String() string { return r.Node + "." + strconv.Itoa(r.Port) }

// ParsePortRef parses "node.port" where port is a zero-based index.
func ParsePortRef(s string) (PortRef, error) {
	i := strings.LastIndexByte(s, '.')
	if i <= 0 || i == len(s)-1 {
		return PortRef{}, errors.WrapInvalid(fmt.Errorf("%w: %q is not node.port", errors.ErrInvalidConfig, s),
			"Config", "ParsePortRef", "split reference")
	}
	port, err := strconv.Atoi(s[i+1:])
	if err != nil || port < 0 {
		return PortRef{}, errors.WrapInvalid(fmt.Errorf("%w: %q has no port index", errors.ErrInvalidConfig, s),
			"Config", "ParsePortRef", "port index")
	}
	return PortRef{Node: s[:i], Port: port}, nil
}

// Values converts decoded scalars into property values. Duration strings
// such as "40ms" stay strings; components expecting a duration parse them.
func Values(raw map[string]any) (map[string]property.Value, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]property.Value, len(raw))
	for k, v := range raw {
		pv, err := property.FromAny(v, property.KindNone)
		if err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %s: %w", errors.ErrInvalidConfig, k, err),
				"Config", "Values", "convert "+k)
		}
		out[k] = pv
	}
	return out, nil
}

// SortedKeys returns the keys of m in order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Node returns the node labelled name.
func (c *Config) Node(name string) (NodeConfig, bool) {
	for _, n := range c.Pipeline.Nodes {
		if n.Label() == name {
			return n, true
		}
	}
	return NodeConfig{}, false
}
