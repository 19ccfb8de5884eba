// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/manuelwedler/light-client/lib/clock"
)

// ErrSyncerStarted is returned by a second Start.
var ErrSyncerStarted = errors.New("messaging: syncer already started")

// SyncHandler is called for each /sync response, including the initial
// one. The next poll starts after all handlers return.
type SyncHandler func(ctx context.Context, response *SyncResponse)

// SyncerConfig configures the /sync long-poll loop.
type SyncerConfig struct {
	// Timeout is the long-poll timeout in milliseconds. Default: 30000.
	Timeout int

	// MaxBackoff caps the delay between retries of failed polls. The
	// delay starts at one second and doubles. Default: 30 seconds.
	MaxBackoff time.Duration

	// Clock drives backoff delays. Default: clock.Real().
	Clock clock.Clock

	// Logger receives loop errors. Default: slog.Default().
	Logger *slog.Logger
}

// Syncer keeps a session synchronized. Responses update the session's
// room cache and are then dispatched to the handlers.
type Syncer struct {
	session Session
	config  SyncerConfig

	mu        sync.Mutex
	handlers  []SyncHandler
	started   bool
	nextBatch string
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSyncer returns a stopped syncer for session.
func NewSyncer(session Session, config SyncerConfig) *Syncer {
	if config.Timeout == 0 {
		config.Timeout = 30000
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Syncer{session: session, config: config}
}

// AddHandler registers handler for subsequent responses.
func (s *Syncer) AddHandler(handler SyncHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// Start performs the initial sync with filterID and, on success, starts
// the incremental loop in the background. The loop runs until Stop or
// until ctx is cancelled. An initial sync failure is returned and leaves
// the syncer startable again.
func (s *Syncer) Start(ctx context.Context, filterID string) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrSyncerStarted
	}
	s.started = true
	s.mu.Unlock()

	response, err := s.session.Sync(ctx, SyncOptions{Filter: filterID})
	if err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return fmt.Errorf("initial sync: %w", err)
	}
	s.dispatch(ctx, response)

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.nextBatch = response.NextBatch
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.run(loopCtx, filterID, response.NextBatch)
	}()
	return nil
}

// Stop ends the loop and waits for it to exit. Safe to call on a syncer
// that was never started, and more than once.
func (s *Syncer) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the background loop is active.
func (s *Syncer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// NextBatch returns the token of the latest processed response.
func (s *Syncer) NextBatch() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextBatch
}

func (s *Syncer) run(ctx context.Context, filterID, since string) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		response, err := s.session.Sync(ctx, SyncOptions{
			Since:      since,
			Timeout:    s.config.Timeout,
			SetTimeout: true,
			Filter:     filterID,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := backoff
			if hint := RetryAfter(err); hint > delay {
				delay = hint
			}
			s.config.Logger.Error("sync failed, retrying", "error", err, "backoff", delay)
			select {
			case <-ctx.Done():
				return
			case <-s.config.Clock.After(delay):
			}
			backoff = min(backoff*2, s.config.MaxBackoff)
			continue
		}

		backoff = time.Second
		since = response.NextBatch
		s.mu.Lock()
		s.nextBatch = since
		s.mu.Unlock()
		s.dispatch(ctx, response)
	}
}

func (s *Syncer) dispatch(ctx context.Context, response *SyncResponse) {
	s.session.Rooms().Apply(response)
	s.mu.Lock()
	handlers := append([]SyncHandler(nil), s.handlers...)
	s.mu.Unlock()
	for _, handler := range handlers {
		handler(ctx, response)
	}
}
