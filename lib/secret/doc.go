// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds sensitive values (Matrix access tokens, the
// signing key read from disk) outside the Go heap.
//
// A [Buffer] is backed by an anonymous mmap region that is excluded from
// core dumps and, where the process limits allow it, locked against swap.
// Close zeroes and unmaps the region. Because the memory is not managed
// by the garbage collector it is never copied or relocated, so closing
// the buffer really removes the secret from process memory.
package secret
