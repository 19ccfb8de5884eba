// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"time"
)

// TB is the part of testing.TB the helpers need.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
}

// Receive returns the next value from ch, failing the test when none
// arrives within timeout or ch is closed.
//
//	batch := testutil.Receive(t, batches, 5*time.Second, "initial sync of %s", server)
func Receive[T any](t TB, ch <-chan T, timeout time.Duration, what ...any) T {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed while waiting for %s", describe(what))
		}
		return value
	case <-timer.C:
		t.Fatalf("no value after %v while waiting for %s", timeout, describe(what))
	}
	panic("unreachable")
}

// Closed fails the test unless ch is closed within timeout.
func Closed(t TB, ch <-chan struct{}, timeout time.Duration, what ...any) {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
		t.Fatalf("channel still open after %v: %s", timeout, describe(what))
	}
}

// describe renders an optional format string and its arguments.
func describe(what []any) string {
	switch {
	case len(what) == 0:
		return "(unnamed)"
	case len(what) == 1:
		return fmt.Sprint(what[0])
	}
	if format, ok := what[0].(string); ok {
		return fmt.Sprintf(format, what[1:]...)
	}
	return fmt.Sprint(what...)
}
