// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"

	"github.com/manuelwedler/light-client/lib/ref"
)

// UserIdentifier identifies the account in a login request.
type UserIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}

// LoginRequest is the body of a password login.
type LoginRequest struct {
	Type                     string         `json:"type"`
	Identifier               UserIdentifier `json:"identifier"`
	Password                 string         `json:"password"`
	DeviceID                 string         `json:"device_id,omitempty"`
	InitialDeviceDisplayName string         `json:"initial_device_display_name,omitempty"`
}

// NewPasswordLogin builds an m.login.password request for username.
func NewPasswordLogin(username, password, deviceID string) LoginRequest {
	return LoginRequest{
		Type:       "m.login.password",
		Identifier: UserIdentifier{Type: "m.id.user", User: username},
		Password:   password,
		DeviceID:   deviceID,
	}
}

// RegisterRequest holds the parameters for account registration.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	DeviceID string `json:"device_id,omitempty"`
}

// AuthResponse is returned by login and register.
type AuthResponse struct {
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token"`
	DeviceID    string     `json:"device_id"`
}

// ServerVersionsResponse is returned by Client.ServerVersions.
type ServerVersionsResponse struct {
	Versions         []string        `json:"versions"`
	UnstableFeatures map[string]bool `json:"unstable_features,omitempty"`
}

// Filter is a /sync filter definition.
type Filter struct {
	Presence *EventFilter `json:"presence,omitempty"`
	Room     *RoomFilter  `json:"room,omitempty"`
}

// EventFilter restricts non-room events.
type EventFilter struct {
	Limit      *int     `json:"limit,omitempty"`
	Types      []string `json:"types,omitempty"`
	NotTypes   []string `json:"not_types,omitempty"`
	Senders    []string `json:"senders,omitempty"`
	NotSenders []string `json:"not_senders,omitempty"`
}

// RoomFilter restricts room data.
type RoomFilter struct {
	Rooms     []string         `json:"rooms,omitempty"`
	NotRooms  []string         `json:"not_rooms,omitempty"`
	Ephemeral *RoomEventFilter `json:"ephemeral,omitempty"`
	State     *RoomEventFilter `json:"state,omitempty"`
	Timeline  *RoomEventFilter `json:"timeline,omitempty"`
}

// RoomEventFilter restricts events within rooms. Limit is a pointer so
// that an explicit zero (no backfill) is distinguishable from unset.
type RoomEventFilter struct {
	Limit      *int     `json:"limit,omitempty"`
	Types      []string `json:"types,omitempty"`
	NotTypes   []string `json:"not_types,omitempty"`
	Senders    []string `json:"senders,omitempty"`
	NotSenders []string `json:"not_senders,omitempty"`
}

// Limit returns a pointer for the Limit fields of filters.
func Limit(n int) *int { return &n }

// CreateFilterResponse is returned by POST /user/{userId}/filter.
type CreateFilterResponse struct {
	FilterID string `json:"filter_id"`
}

// SyncOptions controls a /sync request.
type SyncOptions struct {
	Since      string // next_batch token from the previous sync; empty for initial sync
	Timeout    int    // long-poll timeout in milliseconds
	SetTimeout bool   // send Timeout even when zero
	Filter     string // filter ID or inline JSON filter
}

// SyncResponse is the top-level response from /sync.
type SyncResponse struct {
	NextBatch string          `json:"next_batch"`
	Presence  PresenceSection `json:"presence,omitempty"`
	Rooms     RoomsSection    `json:"rooms"`
	ToDevice  ToDeviceSection `json:"to_device,omitempty"`
}

// PresenceSection contains presence events.
type PresenceSection struct {
	Events []PresenceEvent `json:"events"`
}

// PresenceEvent is a single m.presence event.
type PresenceEvent struct {
	Type    string               `json:"type"`
	Sender  ref.UserID           `json:"sender"`
	Content PresenceEventContent `json:"content"`
}

// PresenceEventContent carries the presence state of one user.
type PresenceEventContent struct {
	Presence        string `json:"presence"`
	LastActiveAgo   int64  `json:"last_active_ago,omitempty"`
	CurrentlyActive bool   `json:"currently_active,omitempty"`
	StatusMsg       string `json:"status_msg,omitempty"`
	DisplayName     string `json:"displayname,omitempty"`
	AvatarURL       string `json:"avatar_url,omitempty"`
}

// Presence states.
const (
	PresenceOnline      = "online"
	PresenceUnavailable = "unavailable"
	PresenceOffline     = "offline"
)

// SetPresenceRequest is the body of PUT /presence/{userId}/status.
// StatusMsg is always sent so that going offline clears the message.
type SetPresenceRequest struct {
	Presence  string `json:"presence"`
	StatusMsg string `json:"status_msg"`
}

// ToDeviceSection contains to-device messages.
type ToDeviceSection struct {
	Events []Event `json:"events"`
}

// RoomsSection contains per-room sync data grouped by membership.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoom  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoom `json:"invite,omitempty"`
	Leave  map[ref.RoomID]LeftRoom    `json:"leave,omitempty"`
}

// JoinedRoom contains sync data for a joined room.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// InvitedRoom contains sync data for a room the user was invited to.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// LeftRoom contains sync data for a room the user has left.
type LeftRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// TimelineSection contains timeline events.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// StateSection contains state events.
type StateSection struct {
	Events []Event `json:"events"`
}

// Event is a Matrix event as delivered by /sync.
type Event struct {
	EventID        string          `json:"event_id,omitempty"`
	Type           string          `json:"type"`
	Sender         string          `json:"sender"`
	OriginServerTS int64           `json:"origin_server_ts,omitempty"`
	Content        json.RawMessage `json:"content"`
	StateKey       *string         `json:"state_key,omitempty"`
}

// Event types the transport inspects.
const (
	EventTypeCanonicalAlias = "m.room.canonical_alias"
	EventTypeAliases        = "m.room.aliases"
	EventTypeReceipt        = "m.receipt"
	EventTypeTyping         = "m.typing"
)

type joinResponse struct {
	RoomID ref.RoomID `json:"room_id"`
}

type displayNameBody struct {
	DisplayName string `json:"displayname"`
}

type avatarURLBody struct {
	AvatarURL string `json:"avatar_url"`
}
