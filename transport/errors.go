// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrNoServerName means a candidate URL has no usable host.
	ErrNoServerName = errors.New("transport: no server name")

	// ErrNoReachableServers means every directory server failed its probe.
	ErrNoReachableServers = errors.New("transport: no reachable matrix servers")

	// ErrDirectoryFetchFailed means the server directory could not be
	// fetched or decoded.
	ErrDirectoryFetchFailed = errors.New("transport: server directory fetch failed")

	// ErrIdentityMismatch means a user ID does not belong to our address
	// on the candidate server.
	ErrIdentityMismatch = errors.New("transport: user id does not match identity")

	// ErrAuthFailed means both login and registration failed. The login
	// error is wrapped alongside.
	ErrAuthFailed = errors.New("transport: authentication failed")

	// ErrRateLimited means retries on rate-limited requests ran out.
	ErrRateLimited = errors.New("transport: rate limited")

	// ErrCandidatesExhausted means no candidate produced a session. The
	// last candidate error is wrapped alongside.
	ErrCandidatesExhausted = errors.New("transport: all server candidates failed")

	// ErrSyncStartFailed means the bound session could not start syncing.
	ErrSyncStartFailed = errors.New("transport: sync start failed")

	// ErrAlreadyBootstrapped is returned by a second Run.
	ErrAlreadyBootstrapped = errors.New("transport: bootstrap already ran")

	// ErrShutdown is returned by a Run that finished after Shutdown. The
	// session it bound has already been stopped.
	ErrShutdown = errors.New("transport: shut down")
)

// CandidateError is the failure of one server candidate.
type CandidateError struct {
	Server string
	Err    error
}

func (e *CandidateError) Error() string {
	return fmt.Sprintf("transport: candidate %s: %v", e.Server, e.Err)
}

func (e *CandidateError) Unwrap() error { return e.Err }
