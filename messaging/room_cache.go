// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"
	"slices"
	"strings"
	"sync"

	"github.com/manuelwedler/light-client/lib/ref"
)

// RoomCache is a session-scoped view of the rooms the user is in and the
// aliases known for them. It is filled from /sync responses and from
// explicit local records for rooms whose alias state is never synced.
// Safe for concurrent use.
type RoomCache struct {
	mu      sync.RWMutex
	rooms   map[ref.RoomID]*cachedRoom
	byAlias map[ref.RoomAlias]ref.RoomID
}

type cachedRoom struct {
	aliases []ref.RoomAlias
	local   bool
}

// RoomRecord is a snapshot of one cached room.
type RoomRecord struct {
	RoomID  ref.RoomID
	Aliases []ref.RoomAlias
	// Local is true when the aliases were injected locally rather
	// than learned from room state.
	Local bool
}

// NewRoomCache returns an empty cache.
func NewRoomCache() *RoomCache {
	return &RoomCache{
		rooms:   make(map[ref.RoomID]*cachedRoom),
		byAlias: make(map[ref.RoomAlias]ref.RoomID),
	}
}

// Remember records that the user is in roomID.
func (c *RoomCache) Remember(roomID ref.RoomID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(roomID)
}

// InjectAlias records alias for roomID without any network call. The
// record survives later sync updates for the room.
func (c *RoomCache) InjectAlias(roomID ref.RoomID, alias ref.RoomAlias) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.entry(roomID)
	room.local = true
	c.addAlias(roomID, room, alias)
}

// RoomForAlias resolves alias from the cache.
func (c *RoomCache) RoomForAlias(alias ref.RoomAlias) (ref.RoomID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	roomID, ok := c.byAlias[alias]
	return roomID, ok
}

// Lookup returns the record for roomID.
func (c *RoomCache) Lookup(roomID ref.RoomID) (RoomRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	room, ok := c.rooms[roomID]
	if !ok {
		return RoomRecord{}, false
	}
	return RoomRecord{RoomID: roomID, Aliases: slices.Clone(room.aliases), Local: room.local}, true
}

// Rooms returns the cached room IDs in lexical order.
func (c *RoomCache) Rooms() []ref.RoomID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rooms := make([]ref.RoomID, 0, len(c.rooms))
	for roomID := range c.rooms {
		rooms = append(rooms, roomID)
	}
	slices.SortFunc(rooms, func(a, b ref.RoomID) int {
		return strings.Compare(a.String(), b.String())
	})
	return rooms
}

// Apply updates the cache from a /sync response: joined rooms are
// remembered along with their canonical aliases, left rooms are dropped
// unless they carry a local alias record.
func (c *RoomCache) Apply(response *SyncResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for roomID, joined := range response.Rooms.Join {
		room := c.entry(roomID)
		for _, event := range joined.State.Events {
			c.applyStateEvent(roomID, room, event)
		}
		for _, event := range joined.Timeline.Events {
			if event.StateKey != nil {
				c.applyStateEvent(roomID, room, event)
			}
		}
	}
	for roomID := range response.Rooms.Leave {
		room, ok := c.rooms[roomID]
		if !ok || room.local {
			continue
		}
		for _, alias := range room.aliases {
			delete(c.byAlias, alias)
		}
		delete(c.rooms, roomID)
	}
}

func (c *RoomCache) applyStateEvent(roomID ref.RoomID, room *cachedRoom, event Event) {
	if event.Type != EventTypeCanonicalAlias {
		return
	}
	var content struct {
		Alias      string   `json:"alias"`
		AltAliases []string `json:"alt_aliases"`
	}
	if err := json.Unmarshal(event.Content, &content); err != nil {
		return
	}
	for _, raw := range append([]string{content.Alias}, content.AltAliases...) {
		if alias, err := ref.ParseRoomAlias(raw); err == nil {
			c.addAlias(roomID, room, alias)
		}
	}
}

func (c *RoomCache) entry(roomID ref.RoomID) *cachedRoom {
	room, ok := c.rooms[roomID]
	if !ok {
		room = &cachedRoom{}
		c.rooms[roomID] = room
	}
	return room
}

func (c *RoomCache) addAlias(roomID ref.RoomID, room *cachedRoom, alias ref.RoomAlias) {
	if !slices.Contains(room.aliases, alias) {
		room.aliases = append(room.aliases, alias)
	}
	c.byAlias[alias] = roomID
}
