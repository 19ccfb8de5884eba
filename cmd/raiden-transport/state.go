// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/manuelwedler/light-client/lib/statestore"
	"github.com/manuelwedler/light-client/transport"
)

// stateSink persists bound setups into the state store.
type stateSink struct {
	store *statestore.Store
}

func (s stateSink) SaveSetup(ctx context.Context, server string, credentials transport.Credentials) error {
	return s.store.Save(ctx, statestore.Setup{
		Server:      server,
		UserID:      credentials.UserID,
		AccessToken: credentials.AccessToken,
		DeviceID:    credentials.DeviceID,
		DisplayName: credentials.DisplayName,
	})
}

// resumePoint turns a persisted setup into the previous server and its
// credentials for the candidate queue.
func resumePoint(setup statestore.Setup, found bool) (string, *transport.Credentials) {
	if !found {
		return "", nil
	}
	return setup.Server, &transport.Credentials{
		UserID:      setup.UserID,
		AccessToken: setup.AccessToken,
		DeviceID:    setup.DeviceID,
		DisplayName: setup.DisplayName,
	}
}
