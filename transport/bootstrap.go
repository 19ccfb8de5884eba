// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/manuelwedler/light-client/lib/config"
	"github.com/manuelwedler/light-client/lib/handoff"
)

// QueuePlan is what a bootstrap knows before it starts.
type QueuePlan struct {
	// FixedServer, when set, is the only server tried.
	FixedServer string

	// PreviousServer is the server of the last bound session.
	PreviousServer string

	// Credentials are the persisted credentials for PreviousServer.
	Credentials *Credentials

	// LookupURL is the server directory used when no server is fixed.
	LookupURL string
}

// QueueEntry is either a candidate or, when LookupURL is set, a
// directory expanded into candidates once it reaches the front.
type QueueEntry struct {
	Candidate Candidate
	LookupURL string
}

// IsDirectory reports whether the entry is a directory source.
func (e QueueEntry) IsDirectory() bool { return e.LookupURL != "" }

// BuildQueue orders the candidates of plan. A fixed server is tried
// with the persisted credentials only when they were issued by it, then
// without. Otherwise the previous server comes first, followed by the
// directory. Duplicates are kept. Servers are compared after
// normalization, so "host", "https://host" and "https://host/" match.
func BuildQueue(plan QueuePlan) []QueueEntry {
	var queue []QueueEntry
	if plan.FixedServer != "" {
		if plan.PreviousServer != "" && normalizeServerURL(plan.PreviousServer) == normalizeServerURL(plan.FixedServer) {
			queue = append(queue, QueueEntry{Candidate: Candidate{
				ServerURL:   plan.FixedServer,
				Credentials: plan.Credentials,
			}})
		}
		return append(queue, QueueEntry{Candidate: Candidate{ServerURL: plan.FixedServer}})
	}
	if plan.PreviousServer != "" {
		queue = append(queue, QueueEntry{Candidate: Candidate{
			ServerURL:   plan.PreviousServer,
			Credentials: plan.Credentials,
		}})
	}
	if plan.LookupURL != "" {
		queue = append(queue, QueueEntry{LookupURL: plan.LookupURL})
	}
	return queue
}

// BootstrapConfig configures a Bootstrap.
type BootstrapConfig struct {
	// Config supplies the directory timeout. Required.
	Config *config.Live

	// Establisher authenticates candidates. Required.
	Establisher SessionEstablisher

	// Directory expands directory entries. Required when plans name a
	// lookup URL.
	Directory CandidateSource

	// Sink persists the bound setup. Optional.
	Sink StateSink

	// SyncStarter starts syncing the bound session. Required.
	SyncStarter *SyncStarter

	// Slot receives the outcome or the failure. Default: a new slot,
	// available from Slot().
	Slot *handoff.Slot[*Outcome]

	// Logger is used for structured logging. Default: slog.Default().
	Logger *slog.Logger
}

// Bootstrap runs the candidate queue once.
type Bootstrap struct {
	config      *config.Live
	establisher SessionEstablisher
	directory   CandidateSource
	sink        StateSink
	starter     *SyncStarter
	slot        *handoff.Slot[*Outcome]
	logger      *slog.Logger

	mu        sync.Mutex
	ran       bool
	state     State
	attempted []string
}

// NewBootstrap returns an idle Bootstrap.
func NewBootstrap(cfg BootstrapConfig) (*Bootstrap, error) {
	if cfg.Config == nil {
		return nil, fmt.Errorf("transport: bootstrap requires a config")
	}
	if cfg.Establisher == nil {
		return nil, fmt.Errorf("transport: bootstrap requires an establisher")
	}
	if cfg.SyncStarter == nil {
		return nil, fmt.Errorf("transport: bootstrap requires a sync starter")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Slot == nil {
		cfg.Slot = handoff.New[*Outcome]("transport session", cfg.Logger)
	}
	return &Bootstrap{
		config:      cfg.Config,
		establisher: cfg.Establisher,
		directory:   cfg.Directory,
		sink:        cfg.Sink,
		starter:     cfg.SyncStarter,
		slot:        cfg.Slot,
		logger:      cfg.Logger,
	}, nil
}

// Slot is where the outcome is published.
func (b *Bootstrap) Slot() *handoff.Slot[*Outcome] { return b.slot }

// State returns the current phase.
func (b *Bootstrap) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Attempted lists the servers tried so far, in order.
func (b *Bootstrap) Attempted() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.attempted...)
}

// Run tries the candidates of plan in order until one binds, then
// persists it, starts syncing and publishes the outcome through the
// slot. Failures are published too. Run may be called once.
func (b *Bootstrap) Run(ctx context.Context, plan QueuePlan) (*Outcome, error) {
	b.mu.Lock()
	if b.ran {
		b.mu.Unlock()
		return nil, ErrAlreadyBootstrapped
	}
	b.ran = true
	b.mu.Unlock()

	outcome, err := b.run(ctx, plan)
	if err != nil {
		b.setState(StateFailed, "error", err)
		if slotErr := b.slot.Fail(err); slotErr != nil {
			return nil, errors.Join(err, slotErr)
		}
		return nil, err
	}
	if err := b.slot.Resolve(outcome); err != nil {
		// Nobody can receive this session.
		outcome.Syncer.Stop()
		outcome.Session.Close()
		b.setState(StateFailed, "error", err)
		return nil, err
	}
	return outcome, nil
}

func (b *Bootstrap) run(ctx context.Context, plan QueuePlan) (*Outcome, error) {
	b.setState(StateBuildingQueue)
	queue := BuildQueue(plan)

	var lastErr error
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry := queue[0]
		queue = queue[1:]

		if entry.IsDirectory() {
			candidates, err := b.expand(ctx, entry.LookupURL)
			if err != nil {
				b.logger.Warn("server directory unavailable",
					"directory", entry.LookupURL,
					"error", err,
				)
				lastErr = err
				continue
			}
			expanded := make([]QueueEntry, 0, len(candidates)+len(queue))
			for _, candidate := range candidates {
				expanded = append(expanded, QueueEntry{Candidate: candidate})
			}
			queue = append(expanded, queue...)
			continue
		}

		b.mu.Lock()
		b.attempted = append(b.attempted, entry.Candidate.ServerURL)
		index := len(b.attempted) - 1
		b.mu.Unlock()
		b.setState(StateTryingCandidate,
			"candidate", index,
			"server", entry.Candidate.ServerURL,
			"with_credentials", entry.Candidate.Credentials != nil,
		)

		outcome, err := b.establisher.Establish(ctx, entry.Candidate)
		if err != nil {
			b.logger.Warn("matrix server candidate failed",
				"server", entry.Candidate.ServerURL,
				"error", err,
			)
			lastErr = err
			continue
		}

		b.setState(StateBound, "server", outcome.Server, "user_id", outcome.Credentials.UserID)
		return b.bind(ctx, outcome)
	}

	if lastErr == nil {
		lastErr = errors.New("candidate queue is empty")
	}
	return nil, fmt.Errorf("%w: %w", ErrCandidatesExhausted, lastErr)
}

func (b *Bootstrap) expand(ctx context.Context, lookupURL string) ([]Candidate, error) {
	if b.directory == nil {
		return nil, fmt.Errorf("%w: %s: no directory resolver configured", ErrDirectoryFetchFailed, lookupURL)
	}
	return b.directory.Candidates(ctx, lookupURL, b.config.Current().HTTPTimeout)
}

// bind persists the bound setup and starts syncing.
func (b *Bootstrap) bind(ctx context.Context, outcome *Outcome) (*Outcome, error) {
	if b.sink != nil {
		if err := b.sink.SaveSetup(ctx, outcome.Server, outcome.Credentials); err != nil {
			outcome.Session.Close()
			return nil, fmt.Errorf("transport: persisting setup: %w", err)
		}
	}

	syncer, err := b.starter.Start(ctx, outcome.Session, outcome.ServerName)
	if err != nil {
		outcome.Session.Close()
		return nil, err
	}
	outcome.Syncer = syncer
	return outcome, nil
}

func (b *Bootstrap) setState(state State, attrs ...any) {
	b.mu.Lock()
	previous := b.state
	b.state = state
	b.mu.Unlock()

	level := slog.LevelInfo
	if state == StateFailed {
		level = slog.LevelError
	}
	b.logger.Log(context.Background(), level, "transport bootstrap state changed",
		append([]any{"from", previous.String(), "to", state.String()}, attrs...)...)
}
