// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a [Clock] instead of calling time.Now or
// time.After directly. [Real] provides the standard library behavior;
// [Fake] provides a deterministic clock that only moves when Advance is
// called.
//
// When a goroutine waits on a FakeClock it registers a pending timer.
// Tests call WaitForTimers to block until the expected number of timers
// is registered, then Advance to fire them. This removes the race between
// timer registration and time advancement:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go starter.Start(ctx, session) // waits on fake.After
//	fake.WaitForTimers(1)
//	fake.Advance(time.Second)
package clock
