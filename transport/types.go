// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"time"

	"github.com/manuelwedler/light-client/lib/ref"
	"github.com/manuelwedler/light-client/messaging"
)

// Credentials are the results of a successful login or registration,
// enough to resume the session without another round trip.
type Credentials struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	DeviceID    string `json:"device_id"`
	// DisplayName is our signature over UserID, published as the
	// profile display name so peers can verify the binding.
	DisplayName string `json:"display_name"`
}

// Candidate is one server to try. Latency is only a ranking hint and
// is meaningful when Measured is set.
type Candidate struct {
	ServerURL   string
	Latency     time.Duration
	Measured    bool
	Credentials *Credentials
}

// Outcome is the result of a successful bootstrap.
type Outcome struct {
	Session     *messaging.DirectSession
	Server      string
	ServerName  ref.ServerName
	Credentials Credentials
	Syncer      *messaging.Syncer
}

// StateSink persists the setup of a bound session so the next start
// can resume it.
type StateSink interface {
	SaveSetup(ctx context.Context, server string, credentials Credentials) error
}

// SessionEstablisher turns a candidate into an authenticated session.
// *Establisher implements it.
type SessionEstablisher interface {
	Establish(ctx context.Context, candidate Candidate) (*Outcome, error)
}

// CandidateSource lists ranked candidates from a server directory.
// *Resolver implements it.
type CandidateSource interface {
	Candidates(ctx context.Context, lookupURL string, timeout time.Duration) ([]Candidate, error)
}

// State is the phase of a bootstrap.
type State int

const (
	StateIdle State = iota
	StateBuildingQueue
	StateTryingCandidate
	StateBound
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuildingQueue:
		return "building_queue"
	case StateTryingCandidate:
		return "trying_candidate"
	case StateBound:
		return "bound"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
