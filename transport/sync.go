// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/manuelwedler/light-client/lib/clock"
	"github.com/manuelwedler/light-client/lib/config"
	"github.com/manuelwedler/light-client/lib/ref"
	"github.com/manuelwedler/light-client/messaging"
)

// SyncStarterConfig configures a SyncStarter.
type SyncStarterConfig struct {
	// Config supplies the broadcast rooms, the polling interval and the
	// retry cap. Required.
	Config *config.Live

	// Handlers receive every /sync response, starting with the initial
	// one.
	Handlers []messaging.SyncHandler

	// Syncer is passed to every syncer created. Its Clock and Logger
	// default to the starter's.
	Syncer messaging.SyncerConfig

	// Clock drives the start delay. Default: clock.Real().
	Clock clock.Clock

	// Logger is used for structured logging. Default: slog.Default().
	Logger *slog.Logger
}

// SyncStarter joins the broadcast rooms of a bound session, installs
// the sync filter and starts the long-poll loop.
type SyncStarter struct {
	config   *config.Live
	handlers []messaging.SyncHandler
	syncer   messaging.SyncerConfig
	clock    clock.Clock
	logger   *slog.Logger
}

// NewSyncStarter returns a SyncStarter.
func NewSyncStarter(cfg SyncStarterConfig) (*SyncStarter, error) {
	if cfg.Config == nil {
		return nil, fmt.Errorf("transport: sync starter requires a config")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Syncer.Clock == nil {
		cfg.Syncer.Clock = cfg.Clock
	}
	if cfg.Syncer.Logger == nil {
		cfg.Syncer.Logger = cfg.Logger
	}
	return &SyncStarter{
		config:   cfg.Config,
		handlers: cfg.Handlers,
		syncer:   cfg.Syncer,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
	}, nil
}

// Start waits a fifth of the polling interval, then joins the broadcast
// rooms, creates the filter and starts a syncer. The three steps are
// retried together on rate limiting. The loop runs until ctx ends or
// the syncer is stopped.
func (s *SyncStarter) Start(ctx context.Context, session messaging.Session, serverName ref.ServerName) (*messaging.Syncer, error) {
	current := s.config.Current()
	if delay := (current.PollingInterval + 4) / 5; delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.clock.After(delay):
		}
	}

	syncer := messaging.NewSyncer(session, s.syncer)
	for _, handler := range s.handlers {
		syncer.AddHandler(handler)
	}

	_, err := retry(ctx, retryPolicy{
		config:     s.config,
		maxRetries: current.SyncMaxRetries,
		retryable:  messaging.IsRateLimited,
		logger:     s.logger.With("user_id", session.UserID()),
		operation:  "sync start",
	}, func() (struct{}, error) {
		filterID, err := s.prepare(ctx, session, serverName)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, syncer.Start(ctx, filterID)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyncStartFailed, err)
	}

	s.logger.Info("matrix sync started",
		"user_id", session.UserID(),
		"next_batch", syncer.NextBatch(),
	)
	return syncer, nil
}

// prepare joins the broadcast rooms and creates a filter that keeps
// them and our own timeline echoes out of the sync stream.
func (s *SyncStarter) prepare(ctx context.Context, session messaging.Session, serverName ref.ServerName) (string, error) {
	rooms := s.config.Current().Rooms()
	joined := make([]string, 0, len(rooms))
	for _, room := range rooms {
		alias, err := ref.NewRoomAlias(room, serverName)
		if err != nil {
			return "", fmt.Errorf("broadcast room %q: %w", room, err)
		}
		roomID, err := session.JoinRoom(ctx, alias.String())
		if err != nil {
			return "", fmt.Errorf("joining %s: %w", alias, err)
		}
		session.Rooms().InjectAlias(roomID, alias)
		joined = append(joined, roomID.String())
		s.logger.Debug("joined broadcast room", "alias", alias, "room_id", roomID)
	}

	filterID, err := session.CreateFilter(ctx, messaging.Filter{
		Room: &messaging.RoomFilter{
			NotRooms: joined,
			Ephemeral: &messaging.RoomEventFilter{
				NotTypes: []string{messaging.EventTypeReceipt, messaging.EventTypeTyping},
			},
			Timeline: &messaging.RoomEventFilter{
				Limit:      messaging.Limit(0),
				NotSenders: []string{session.UserID().String()},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("creating filter: %w", err)
	}
	return filterID, nil
}
