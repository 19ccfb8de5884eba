// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"

	"github.com/manuelwedler/light-client/lib/ref"
)

// Session is the authenticated surface the transport drives after
// bootstrap. *DirectSession implements it; tests substitute fakes.
type Session interface {
	// UserID returns the fully-qualified Matrix user ID.
	UserID() ref.UserID

	// Rooms returns the session-scoped room cache.
	Rooms() *RoomCache

	// JoinRoom joins a room by ID or alias.
	JoinRoom(ctx context.Context, roomIDOrAlias string) (ref.RoomID, error)

	// CreateFilter uploads a sync filter and returns its ID.
	CreateFilter(ctx context.Context, filter Filter) (string, error)

	// Sync performs one /sync request.
	Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error)

	// SetPresence updates the user's presence.
	SetPresence(ctx context.Context, request SetPresenceRequest) error

	// Close releases resources held by the session. Idempotent.
	Close() error
}

var _ Session = (*DirectSession)(nil)
