// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"net/url"
	"strings"
)

// ServerName is a validated Matrix server name (e.g., "matrix.example.com",
// "transport.raiden.network:8448"). It is the domain that appears after
// the colon in user IDs and room aliases.
//
// ServerName is an immutable value type. The zero value is not valid;
// use IsZero to check.
type ServerName struct {
	name string
}

// ParseServerName validates and wraps a raw Matrix server name string.
func ParseServerName(raw string) (ServerName, error) {
	if err := validateServer(raw); err != nil {
		return ServerName{}, err
	}
	return ServerName{name: raw}, nil
}

// MustParseServerName is like ParseServerName but panics on error. Use
// in tests and static initialization where the input is known-valid.
func MustParseServerName(raw string) ServerName {
	s, err := ParseServerName(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseServerName(%q): %v", raw, err))
	}
	return s
}

// ServerNameFromURL extracts the server name (host, with port when
// present) from a homeserver URL. URLs without a scheme are treated as
// https, so "matrix.example.com" and "https://matrix.example.com/" both
// yield "matrix.example.com".
func ServerNameFromURL(serverURL string) (ServerName, error) {
	raw := strings.TrimSpace(serverURL)
	if raw == "" {
		return ServerName{}, fmt.Errorf("server URL is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return ServerName{}, fmt.Errorf("parsing server URL %q: %w", serverURL, err)
	}
	if parsed.Host == "" {
		return ServerName{}, fmt.Errorf("server URL %q has no host", serverURL)
	}
	return ParseServerName(parsed.Host)
}

// String returns the server name string.
func (s ServerName) String() string { return s.name }

// IsZero reports whether the ServerName is the zero value (uninitialized).
func (s ServerName) IsZero() bool { return s.name == "" }

// MarshalText implements encoding.TextMarshaler.
func (s ServerName) MarshalText() ([]byte, error) {
	return []byte(s.name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value.
func (s *ServerName) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*s = ServerName{}
		return nil
	}
	parsed, err := ParseServerName(string(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
