// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

// Package handoff provides a write-once, read-many result slot.
//
// The bootstrap publishes its single outcome (or failure) through a
// [Slot]; any number of consumers wait on it. Writing a resolved slot a
// second time is a programming error: the write is rejected with
// [ErrAlreadyResolved], logged at error level, and counted so tests can
// observe it.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAlreadyResolved is returned by a write to a slot that already
// holds a value or an error.
var ErrAlreadyResolved = errors.New("handoff: slot already resolved")

// Slot holds at most one value or error. The zero Slot is not usable;
// construct with [New].
type Slot[T any] struct {
	name   string
	logger *slog.Logger
	done   chan struct{}

	mu       sync.Mutex
	resolved bool
	value    T
	err      error
	rejected int
}

// New returns an empty slot. name identifies the slot in log lines. A
// nil logger uses slog.Default().
func New[T any](name string, logger *slog.Logger) *Slot[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slot[T]{name: name, logger: logger, done: make(chan struct{})}
}

// Resolve stores value and releases all waiters.
func (s *Slot[T]) Resolve(value T) error {
	return s.write(value, nil)
}

// Fail stores err and releases all waiters. A nil err is rejected.
func (s *Slot[T]) Fail(err error) error {
	if err == nil {
		return fmt.Errorf("handoff: %s: Fail called with nil error", s.name)
	}
	var zero T
	return s.write(zero, err)
}

func (s *Slot[T]) write(value T, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolved {
		s.rejected++
		s.logger.Error("handoff slot written twice",
			"slot", s.name,
			"rejected_writes", s.rejected,
		)
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, s.name)
	}
	s.resolved = true
	s.value = value
	s.err = err
	close(s.done)
	return nil
}

// Done is closed once the slot is resolved or failed.
func (s *Slot[T]) Done() <-chan struct{} { return s.done }

// Wait blocks until the slot is written or ctx ends.
func (s *Slot[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.value, s.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the stored value and error without blocking. ok is
// false while the slot is still empty.
func (s *Slot[T]) Result() (value T, err error, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.err, s.resolved
}

// Rejected returns how many writes were refused because the slot was
// already resolved. Anything above zero indicates a defect.
func (s *Slot[T]) Rejected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}
