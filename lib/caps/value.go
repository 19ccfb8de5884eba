// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

package caps

import (
	"slices"
	"strconv"
)

// Kind identifies the type held by a [Value].
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is one capability value. The zero Value is null.
type Value struct {
	kind   Kind
	flag   bool
	number uint64
	text   string
	items  []Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, flag: b} }

// Number returns a numeric value.
func Number(n uint64) Value { return Value{kind: KindNumber, number: n} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, text: s} }

// List returns a list value. Nested lists are flattened because the
// wire format cannot express them.
func List(items ...Value) Value {
	flat := make([]Value, 0, len(items))
	for _, item := range items {
		if item.kind == KindList {
			flat = append(flat, item.items...)
			continue
		}
		flat = append(flat, item)
	}
	return Value{kind: KindList, items: flat}
}

// Kind reports the type of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.flag, v.kind == KindBool }

// AsNumber returns the number held by v.
func (v Value) AsNumber() (uint64, bool) { return v.number, v.kind == KindNumber }

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) { return v.text, v.kind == KindString }

// Items returns a copy of the elements of a list value, or nil.
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	return slices.Clone(v.items)
}

// Equal reports whether v and other hold the same kind and contents.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.flag == other.flag
	case KindNumber:
		return v.number == other.number
	case KindString:
		return v.text == other.text
	case KindList:
		return slices.EqualFunc(v.items, other.items, Value.Equal)
	default:
		return true
	}
}

// Truthy reports whether v counts as an enabled capability: true, a
// non-zero number, a non-empty string, or a non-empty list.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.flag
	case KindNumber:
		return v.number != 0
	case KindString:
		return v.text != ""
	case KindList:
		return len(v.items) > 0
	default:
		return false
	}
}

// String renders a scalar value the way it appears on the wire. Lists
// render their elements joined by commas, for logging only.
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.flag)
	case KindNumber:
		return strconv.FormatUint(v.number, 10)
	case KindString:
		return v.text
	case KindList:
		out := ""
		for index, item := range v.items {
			if index > 0 {
				out += ","
			}
			out += item.String()
		}
		return out
	default:
		return "null"
	}
}

// parseScalar interprets one decoded query value.
func parseScalar(raw string) Value {
	if isDigits(raw) {
		if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
			return Number(n)
		}
		// Too large for uint64; keep the digits as text.
		return String(raw)
	}
	switch lowerASCII(raw) {
	case "none", "null":
		return Null()
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}
	return String(raw)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for index := 0; index < len(s); index++ {
		if s[index] < '0' || s[index] > '9' {
			return false
		}
	}
	return true
}

func lowerASCII(s string) string {
	if len(s) > 5 {
		return s
	}
	out := []byte(s)
	for index, c := range out {
		if 'A' <= c && c <= 'Z' {
			out[index] = c + ('a' - 'A')
		}
	}
	return string(out)
}
