// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable Matrix identifiers used
// by the transport: user IDs, server names, room IDs and room aliases.
//
// Every type is a validated value type. Constructors check the structural
// Matrix format (sigil, localpart, ':server' suffix) and return errors for
// malformed input; once constructed, a ref is immutable and its String
// method returns the canonical Matrix form. The zero value of every type
// is "unset" and reports true from IsZero.
//
// JSON marshaling uses the canonical form via encoding.TextMarshaler, so
// refs can be embedded directly in Matrix API request and response types.
package ref
