// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the subset of the Matrix client-server API the
// light client transport needs.
//
// [Client] is unauthenticated: it probes servers, logs in and registers.
// Login and registration return a [DirectSession], which carries the
// access token in mmap-backed memory (see lib/secret) and performs the
// authenticated calls: profile writes, room joins, filter creation,
// /sync and presence. A session built from persisted credentials with
// [Client.SessionFromToken] makes no network call until first use.
//
// Each session owns a [RoomCache]. The cache records rooms seen in /sync
// and accepts local alias records for rooms whose alias state the server
// never syncs (the broadcast rooms, which sync filters exclude).
//
// [Syncer] runs the /sync long-poll loop: an initial sync that must
// succeed, then incremental polls in the background with exponential
// backoff on transient errors, dispatching every response to the
// registered handlers.
//
// API errors are [*MatrixError] values carrying the Matrix error code,
// HTTP status and, for rate limits, the server's retry hint.
// [IsRateLimited] recognizes both the 429 status and M_LIMIT_EXCEEDED.
// Request URLs are built by string concatenation with url.PathEscape
// per segment, so aliases containing '#' and ':' survive intact.
package messaging
