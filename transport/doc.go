// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport selects a Matrix homeserver for the light client,
// establishes an authenticated session bound to the node's Ethereum
// address and hands the running session to its consumers.
//
// A [Bootstrap] consumes a queue of candidates built by [BuildQueue]:
// the configured server or the one used previously, followed by the
// servers of a public directory ranked by probe latency ([Resolver]).
// Each candidate is tried by the [Establisher]; the first success is
// persisted through a [StateSink], started with the [SyncStarter] and
// published once through a handoff slot. [Transport] bundles these
// pieces for callers and releases the session on shutdown.
package transport
