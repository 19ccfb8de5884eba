// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/manuelwedler/light-client/lib/clock"
	"github.com/manuelwedler/light-client/lib/config"
	"github.com/manuelwedler/light-client/lib/handoff"
	"github.com/manuelwedler/light-client/lib/signer"
	"github.com/manuelwedler/light-client/messaging"
)

// Options configures a Transport.
type Options struct {
	// Config is the live configuration. Required.
	Config *config.Live

	// Signer is the node identity. Required.
	Signer signer.Signer

	// Sink persists the bound setup. Optional.
	Sink StateSink

	// Handlers receive the sync stream.
	Handlers []messaging.SyncHandler

	// HTTPClient is used for every request. Default: http.DefaultClient.
	HTTPClient *http.Client

	// Clock drives latency measurement and delays. Default: clock.Real().
	Clock clock.Clock

	// Logger is used for structured logging. Default: slog.Default().
	Logger *slog.Logger
}

// Transport owns one bootstrap and the session it produces.
type Transport struct {
	config    *config.Live
	bootstrap *Bootstrap
	logger    *slog.Logger

	mu           sync.Mutex
	shuttingDown bool
	stopped      bool
}

// New wires a resolver, an establisher and a sync starter into a
// Transport ready to run.
func New(options Options) (*Transport, error) {
	if options.Config == nil {
		return nil, fmt.Errorf("transport: config is required")
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}

	establisher, err := NewEstablisher(EstablisherConfig{
		Signer:     options.Signer,
		Config:     options.Config,
		HTTPClient: options.HTTPClient,
		Logger:     options.Logger,
	})
	if err != nil {
		return nil, err
	}
	starter, err := NewSyncStarter(SyncStarterConfig{
		Config:   options.Config,
		Handlers: options.Handlers,
		Clock:    options.Clock,
		Logger:   options.Logger,
	})
	if err != nil {
		return nil, err
	}
	bootstrap, err := NewBootstrap(BootstrapConfig{
		Config:      options.Config,
		Establisher: establisher,
		Directory: NewResolver(ResolverConfig{
			HTTPClient: options.HTTPClient,
			Clock:      options.Clock,
			Logger:     options.Logger,
		}),
		Sink:        options.Sink,
		SyncStarter: starter,
		Slot:        handoff.New[*Outcome]("transport session", options.Logger),
		Logger:      options.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Transport{config: options.Config, bootstrap: bootstrap, logger: options.Logger}, nil
}

// Plan builds the queue plan from the current configuration and the
// persisted setup, if any.
func (t *Transport) Plan(previousServer string, credentials *Credentials) QueuePlan {
	current := t.config.Current()
	return QueuePlan{
		FixedServer:    current.Server,
		PreviousServer: previousServer,
		Credentials:    credentials,
		LookupURL:      current.ServerLookup,
	}
}

// Run bootstraps the session. See Bootstrap.Run. When Shutdown was
// called before Run finished, the bound session is stopped here and Run
// returns ErrShutdown.
func (t *Transport) Run(ctx context.Context, plan QueuePlan) (*Outcome, error) {
	outcome, err := t.bootstrap.Run(ctx, plan)
	if err != nil {
		return nil, err
	}
	bound, teardown, shuttingDown := t.claimTeardown(false)
	if teardown {
		shutdownSession(context.WithoutCancel(ctx), bound, t.config.Current(), t.logger)
	}
	if shuttingDown {
		return nil, ErrShutdown
	}
	return outcome, nil
}

// Session waits for the bootstrap outcome.
func (t *Transport) Session(ctx context.Context) (*Outcome, error) {
	return t.bootstrap.Slot().Wait(ctx)
}

// State returns the bootstrap phase.
func (t *Transport) State() State { return t.bootstrap.State() }

// Shutdown stops syncing and announces the user offline. Errors are
// logged, not returned. A session bound by a Run still in flight is
// stopped when that Run finishes. The session is stopped at most once.
func (t *Transport) Shutdown(ctx context.Context) {
	outcome, teardown, _ := t.claimTeardown(true)
	if !teardown {
		t.logger.Debug("transport shutdown without a bound session")
		return
	}
	shutdownSession(ctx, outcome, t.config.Current(), t.logger)
}

// claimTeardown records a shutdown request when requested is set and
// hands the bound session to exactly one caller once shutdown was
// requested.
func (t *Transport) claimTeardown(requested bool) (outcome *Outcome, teardown bool, shuttingDown bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if requested {
		t.shuttingDown = true
	}
	if !t.shuttingDown || t.stopped {
		return nil, false, t.shuttingDown
	}
	outcome, err, ok := t.bootstrap.Slot().Result()
	if !ok || err != nil || outcome == nil {
		return nil, false, true
	}
	t.stopped = true
	return outcome, true, true
}

func shutdownSession(ctx context.Context, outcome *Outcome, current *config.Config, logger *slog.Logger) {
	if outcome.Syncer != nil {
		outcome.Syncer.Stop()
	}
	if current.HTTPTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, current.HTTPTimeout)
		defer cancel()
	}
	err := outcome.Session.SetPresence(ctx, messaging.SetPresenceRequest{Presence: messaging.PresenceOffline})
	if err != nil {
		logger.Warn("setting presence offline failed",
			"user_id", outcome.Session.UserID(),
			"error", err,
		)
	} else {
		logger.Info("matrix session stopped", "user_id", outcome.Session.UserID())
	}
	outcome.Session.Close()
}
