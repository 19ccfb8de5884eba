// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides bounded HTTP response reading for JSON APIs.
//
// Matrix homeservers and server directories are untrusted. Every response
// body read goes through these helpers so that a misbehaving server cannot
// make the client allocate unbounded memory.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
)

// MaxResponseSize bounds JSON API response body reads: 64 MB. Initial
// /sync responses are the largest payloads the transport reads, and are
// far below this.
const MaxResponseSize int64 = 64 << 20

// ReadResponse reads a response body up to MaxResponseSize bytes. Use
// instead of io.ReadAll when reading HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a response body (up to MaxResponseSize bytes) and
// JSON-decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := ReadResponse(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// Drain discards the remainder of a response body so the underlying
// connection can be reused. Errors are ignored.
func Drain(body io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, MaxResponseSize))
}
