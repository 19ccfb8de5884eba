// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

package caps

import (
	"net/url"
	"strings"
)

// Base is the URL every encoded capability set hangs off.
const Base = "mxc://raiden.network/cap"

// Encode renders s as a capability URL. Keys appear in insertion order;
// list values become one parameter per element. A nil or empty set
// encodes to [Base] without a query.
func Encode(s *Set) string {
	var query strings.Builder
	appendParam := func(key string, value Value) {
		if query.Len() > 0 {
			query.WriteByte('&')
		}
		query.WriteString(url.QueryEscape(key))
		query.WriteByte('=')
		query.WriteString(url.QueryEscape(value.String()))
	}
	for _, key := range s.Keys() {
		value := s.values[key]
		if value.kind == KindList {
			for _, item := range value.items {
				appendParam(key, item)
			}
			continue
		}
		appendParam(key, value)
	}
	if query.Len() == 0 {
		return Base
	}
	return Base + "?" + query.String()
}

// Decode parses a capability URL. It returns nil for empty input, for
// anything that is not an absolute URL, and for a query that cannot be
// unescaped. Repeated keys accumulate into a list in first-seen order.
func Decode(encoded string) *Set {
	if encoded == "" {
		return nil
	}
	parsed, err := url.Parse(encoded)
	if err != nil || !parsed.IsAbs() {
		return nil
	}

	set := NewSet()
	// url.Values loses parameter order, so walk the raw query.
	for _, pair := range strings.Split(parsed.RawQuery, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil
		}
		text, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil
		}
		value := parseScalar(text)

		previous, exists := set.Lookup(key)
		switch {
		case !exists:
			set.Put(key, value)
		case previous.kind == KindList:
			previous.items = append(previous.items, value)
			set.Put(key, previous)
		default:
			set.Put(key, List(previous, value))
		}
	}
	return set
}
