// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

// Package caps encodes the capability set a light client advertises in
// its Matrix profile.
//
// Capabilities travel as the avatar URL of the node's user, in the form
//
//	mxc://raiden.network/cap?Delivery=0&Mediate=1&webRTC=1&toDevice=1
//
// Each key maps to null, a boolean, a non-negative integer, a string, or
// a list of those (emitted as repeated parameters). Decoding is lenient:
// malformed input yields a nil [Set], never a partial one, and lookups
// through [Get] fall back to a static table for missing keys.
package caps
