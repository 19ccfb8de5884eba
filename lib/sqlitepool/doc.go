// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases with the pragmas the light
// client expects for its local state.
//
// It is a thin layer over zombiezen.com/go/sqlite: callers [Pool.Take] a
// connection, run SQL through sqlitex, and [Pool.Put] it back. Every
// connection is prepared with:
//
//   - journal_mode=WAL so readers never block the single writer.
//   - synchronous=NORMAL: committed state survives a process crash.
//   - busy_timeout=5000 to wait for the write lock instead of failing
//     with SQLITE_BUSY.
//   - temp_store=MEMORY.
//
// Schema setup belongs in [Config.OnConnect], which runs once per
// connection after the pragmas.
package sqlitepool
