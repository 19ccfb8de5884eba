// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

package caps

import (
	"fmt"
	"maps"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Well-known capability names.
const (
	Delivery          = "Delivery"
	Mediate           = "Mediate"
	Receive           = "Receive"
	WebRTC            = "webRTC"
	ToDevice          = "toDevice"
	ImmutableMetadata = "immutableMetadata"
)

// fallback holds the value assumed for a capability a peer did not
// advertise. Names not listed here fall back to null.
var fallback = map[string]Value{
	Delivery:          Number(1),
	Mediate:           Number(1),
	Receive:           Number(1),
	WebRTC:            Number(0),
	ToDevice:          Number(0),
	ImmutableMetadata: Number(0),
}

// Set is an insertion-ordered mapping of capability names to values.
// The zero Set is empty and ready to use.
type Set struct {
	keys   []string
	values map[string]Value
}

// NewSet returns an empty set.
func NewSet() *Set { return &Set{} }

// Put stores value under name. A new name is appended to the key order;
// an existing name keeps its position.
func (s *Set) Put(name string, value Value) {
	if s.values == nil {
		s.values = make(map[string]Value)
	}
	if _, exists := s.values[name]; !exists {
		s.keys = append(s.keys, name)
	}
	s.values[name] = value
}

// Lookup returns the value stored under name.
func (s *Set) Lookup(name string) (Value, bool) {
	if s == nil {
		return Value{}, false
	}
	value, ok := s.values[name]
	return value, ok
}

// Keys returns the names in insertion order.
func (s *Set) Keys() []string {
	if s == nil {
		return nil
	}
	return slices.Clone(s.keys)
}

// Len returns the number of entries.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Equal reports whether both sets hold the same names, in the same
// order, with equal values.
func (s *Set) Equal(other *Set) bool {
	if s.Len() != other.Len() {
		return false
	}
	for index, key := range s.Keys() {
		if other.keys[index] != key {
			return false
		}
		if !s.values[key].Equal(other.values[key]) {
			return false
		}
	}
	return true
}

// Get returns the value of name in s, or its fallback when s is nil or
// does not contain name.
func Get(s *Set, name string) Value {
	if value, ok := s.Lookup(name); ok {
		return value
	}
	return fallback[name]
}

// Enabled reports whether the capability resolves to a truthy value.
func Enabled(s *Set, name string) bool {
	return Get(s, name).Truthy()
}

// FromMap builds a set from generic values as produced by JSON or YAML
// decoding into map[string]any. Go maps are unordered, so keys are
// sorted; use the YAML unmarshaler when the file order matters.
func FromMap(values map[string]any) (*Set, error) {
	set := NewSet()
	for _, key := range slices.Sorted(maps.Keys(values)) {
		value, err := fromAny(values[key])
		if err != nil {
			return nil, fmt.Errorf("caps: %s: %w", key, err)
		}
		set.Put(key, value)
	}
	return set, nil
}

func fromAny(raw any) (Value, error) {
	switch typed := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(typed), nil
	case string:
		return String(typed), nil
	case int:
		if typed < 0 {
			return Value{}, fmt.Errorf("negative number %d", typed)
		}
		return Number(uint64(typed)), nil
	case uint64:
		return Number(typed), nil
	case float64:
		if typed < 0 || typed != float64(uint64(typed)) {
			return Value{}, fmt.Errorf("number %v is not a non-negative integer", typed)
		}
		return Number(uint64(typed)), nil
	case []any:
		items := make([]Value, 0, len(typed))
		for _, element := range typed {
			item, err := fromAny(element)
			if err != nil {
				return Value{}, err
			}
			if item.kind == KindList {
				return Value{}, fmt.Errorf("nested lists are not supported")
			}
			items = append(items, item)
		}
		return List(items...), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}

// UnmarshalYAML decodes a YAML mapping, keeping the document's key order.
func (s *Set) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("caps: expected a mapping, got YAML kind %d at line %d", node.Kind, node.Line)
	}
	decoded := NewSet()
	for index := 0; index+1 < len(node.Content); index += 2 {
		keyNode, valueNode := node.Content[index], node.Content[index+1]
		value, err := fromYAML(valueNode)
		if err != nil {
			return fmt.Errorf("caps: %s: %w", keyNode.Value, err)
		}
		decoded.Put(keyNode.Value, value)
	}
	*s = *decoded
	return nil
}

func fromYAML(node *yaml.Node) (Value, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		switch node.ShortTag() {
		case "!!null":
			return Null(), nil
		case "!!bool":
			var b bool
			if err := node.Decode(&b); err != nil {
				return Value{}, err
			}
			return Bool(b), nil
		case "!!int":
			n, err := strconv.ParseUint(node.Value, 10, 64)
			if err != nil {
				return Value{}, fmt.Errorf("line %d: %q is not a non-negative integer", node.Line, node.Value)
			}
			return Number(n), nil
		default:
			return String(node.Value), nil
		}
	case yaml.SequenceNode:
		items := make([]Value, 0, len(node.Content))
		for _, child := range node.Content {
			if child.Kind != yaml.ScalarNode {
				return Value{}, fmt.Errorf("line %d: list elements must be scalars", child.Line)
			}
			item, err := fromYAML(child)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return List(items...), nil
	default:
		return Value{}, fmt.Errorf("line %d: unsupported YAML node", node.Line)
	}
}
