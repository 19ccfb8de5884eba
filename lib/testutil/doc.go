// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the channel helpers tests use to wait for
// background work. [Receive] and [Closed] bound every wait with a
// wall-clock timeout so a broken goroutine fails the test instead of
// hanging it.
package testutil
