// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/manuelwedler/light-client/lib/ref"
	"github.com/manuelwedler/light-client/lib/secret"
)

// DirectSession is an authenticated Matrix session on one homeserver.
//
// The access token lives in a secret.Buffer (mmap-backed, excluded from
// core dumps). The caller must call Close when the session is no longer
// needed.
type DirectSession struct {
	client      *Client
	accessToken *secret.Buffer
	userID      ref.UserID
	deviceID    string
	rooms       *RoomCache
}

func newDirectSession(client *Client, accessToken *secret.Buffer, userID ref.UserID, deviceID string) *DirectSession {
	return &DirectSession{
		client:      client,
		accessToken: accessToken,
		userID:      userID,
		deviceID:    deviceID,
		rooms:       NewRoomCache(),
	}
}

// UserID returns the fully-qualified Matrix user ID.
func (s *DirectSession) UserID() ref.UserID { return s.userID }

// AccessToken returns a heap copy of the access token, for persisting
// the session. Prefer passing the DirectSession itself.
func (s *DirectSession) AccessToken() string { return s.accessToken.String() }

// DeviceID returns the device ID of this session.
func (s *DirectSession) DeviceID() string { return s.deviceID }

// HomeserverURL returns the base URL the session talks to.
func (s *DirectSession) HomeserverURL() string { return s.client.baseURL }

// Rooms returns the session's room cache.
func (s *DirectSession) Rooms() *RoomCache { return s.rooms }

// Close releases the access token memory. Idempotent.
func (s *DirectSession) Close() error {
	if s.accessToken != nil {
		return s.accessToken.Close()
	}
	return nil
}

// SetDisplayName sets the user's display name.
func (s *DirectSession) SetDisplayName(ctx context.Context, displayName string) error {
	path := "/_matrix/client/v3/profile/" + url.PathEscape(s.userID.String()) + "/displayname"
	if _, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, displayNameBody{DisplayName: displayName}); err != nil {
		return fmt.Errorf("messaging: set display name failed: %w", err)
	}
	return nil
}

// SetAvatarURL sets the user's avatar URL. The transport uses it to
// publish the capability string.
func (s *DirectSession) SetAvatarURL(ctx context.Context, avatarURL string) error {
	path := "/_matrix/client/v3/profile/" + url.PathEscape(s.userID.String()) + "/avatar_url"
	if _, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, avatarURLBody{AvatarURL: avatarURL}); err != nil {
		return fmt.Errorf("messaging: set avatar URL failed: %w", err)
	}
	return nil
}

// JoinRoom joins a room by ID or alias and records it in the room cache.
func (s *DirectSession) JoinRoom(ctx context.Context, roomIDOrAlias string) (ref.RoomID, error) {
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomIDOrAlias)
	body, err := s.client.doRequest(ctx, http.MethodPost, path, s.accessToken, struct{}{})
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: join room %s failed: %w", roomIDOrAlias, err)
	}
	var response joinResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to parse join response: %w", err)
	}
	if response.RoomID.IsZero() {
		return ref.RoomID{}, fmt.Errorf("messaging: join room %s: response has no room_id", roomIDOrAlias)
	}
	s.rooms.Remember(response.RoomID)
	return response.RoomID, nil
}

// CreateFilter uploads a sync filter and returns its ID.
func (s *DirectSession) CreateFilter(ctx context.Context, filter Filter) (string, error) {
	path := "/_matrix/client/v3/user/" + url.PathEscape(s.userID.String()) + "/filter"
	body, err := s.client.doRequest(ctx, http.MethodPost, path, s.accessToken, filter)
	if err != nil {
		return "", fmt.Errorf("messaging: create filter failed: %w", err)
	}
	var response CreateFilterResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse filter response: %w", err)
	}
	if response.FilterID == "" {
		return "", fmt.Errorf("messaging: create filter: response has no filter_id")
	}
	return response.FilterID, nil
}

// Sync performs one /sync request.
func (s *DirectSession) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	if options.SetTimeout {
		query.Set("timeout", strconv.Itoa(options.Timeout))
	}
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}

	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/sync", s.accessToken, nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: sync failed: %w", err)
	}
	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse sync response: %w", err)
	}
	return &response, nil
}

// SetPresence updates the user's presence.
func (s *DirectSession) SetPresence(ctx context.Context, request SetPresenceRequest) error {
	path := "/_matrix/client/v3/presence/" + url.PathEscape(s.userID.String()) + "/status"
	if _, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, request); err != nil {
		return fmt.Errorf("messaging: set presence failed: %w", err)
	}
	return nil
}
