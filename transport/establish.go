// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/manuelwedler/light-client/lib/caps"
	"github.com/manuelwedler/light-client/lib/config"
	"github.com/manuelwedler/light-client/lib/identity"
	"github.com/manuelwedler/light-client/lib/ref"
	"github.com/manuelwedler/light-client/lib/signer"
	"github.com/manuelwedler/light-client/messaging"
)

// DeviceID is the Matrix device every light client logs in as.
const DeviceID = "RAIDEN"

// ClientFactory creates an unauthenticated client for a homeserver URL.
type ClientFactory func(serverURL string) (*messaging.Client, error)

// EstablisherConfig configures an Establisher.
type EstablisherConfig struct {
	// Signer provides the address and the password and display name
	// signatures. Required.
	Signer signer.Signer

	// Config supplies capabilities, polling interval and retry caps.
	// Required.
	Config *config.Live

	// NewClient creates clients. Default: messaging.NewClient using
	// HTTPClient.
	NewClient ClientFactory

	// HTTPClient is used by the default client factory.
	HTTPClient *http.Client

	// Logger is used for structured logging. Default: slog.Default().
	Logger *slog.Logger
}

// Establisher authenticates one candidate at a time. It keeps no state
// between calls.
type Establisher struct {
	signer    signer.Signer
	config    *config.Live
	newClient ClientFactory
	logger    *slog.Logger
}

// NewEstablisher returns an Establisher.
func NewEstablisher(cfg EstablisherConfig) (*Establisher, error) {
	if cfg.Signer == nil {
		return nil, fmt.Errorf("transport: establisher requires a signer")
	}
	if cfg.Config == nil {
		return nil, fmt.Errorf("transport: establisher requires a config")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewClient == nil {
		httpClient, logger := cfg.HTTPClient, cfg.Logger
		cfg.NewClient = func(serverURL string) (*messaging.Client, error) {
			return messaging.NewClient(messaging.ClientConfig{
				HomeserverURL: serverURL,
				HTTPClient:    httpClient,
				Logger:        logger,
			})
		}
	}
	return &Establisher{
		signer:    cfg.Signer,
		config:    cfg.Config,
		newClient: cfg.NewClient,
		logger:    cfg.Logger,
	}, nil
}

// Establish returns an authenticated, validated session on the
// candidate's server. Supplied credentials are reused without a round
// trip; otherwise the address logs in, or registers when login fails.
// Failures are *CandidateError.
func (e *Establisher) Establish(ctx context.Context, candidate Candidate) (*Outcome, error) {
	serverURL := normalizeServerURL(candidate.ServerURL)
	serverName, err := ref.ServerNameFromURL(candidate.ServerURL)
	if err != nil {
		return nil, &CandidateError{Server: candidate.ServerURL, Err: fmt.Errorf("%w: %w", ErrNoServerName, err)}
	}
	outcome, err := e.establish(ctx, serverURL, serverName, candidate.Credentials)
	if err != nil {
		return nil, &CandidateError{Server: serverURL, Err: err}
	}
	return outcome, nil
}

func (e *Establisher) establish(ctx context.Context, serverURL string, serverName ref.ServerName, credentials *Credentials) (*Outcome, error) {
	expected := identity.UserIDFor(e.signer.Address(), serverName)

	if credentials != nil && credentials.UserID != expected.String() {
		return nil, fmt.Errorf("%w: stored credentials are for %s, expected %s",
			ErrIdentityMismatch, credentials.UserID, expected)
	}

	client, err := e.newClient(serverURL)
	if err != nil {
		return nil, err
	}

	var (
		session *messaging.DirectSession
		used    Credentials
	)
	if credentials != nil {
		session, err = client.SessionFromToken(expected, credentials.AccessToken, credentials.DeviceID)
		if err != nil {
			return nil, err
		}
		used = *credentials
		e.logger.Info("reusing stored matrix credentials",
			"server", serverURL,
			"user_id", expected,
		)
	} else {
		session, used, err = e.authenticate(ctx, client, serverName, expected)
		if err != nil {
			return nil, err
		}
	}

	if err := e.publishProfile(ctx, session, used.DisplayName); err != nil {
		session.Close()
		return nil, err
	}

	return &Outcome{
		Session:     session,
		Server:      serverURL,
		ServerName:  serverName,
		Credentials: used,
	}, nil
}

// authenticate logs in with the password derived from the server name,
// registering the account when login fails. Network errors retry the
// pair; any other failure is final and reported as the login error.
func (e *Establisher) authenticate(ctx context.Context, client *messaging.Client, serverName ref.ServerName, expected ref.UserID) (*messaging.DirectSession, Credentials, error) {
	password, err := e.signer.SignMessage(serverName.String())
	if err != nil {
		return nil, Credentials{}, fmt.Errorf("signing password: %w", err)
	}
	username := identity.Localpart(e.signer.Address())

	current := e.config.Current()
	session, err := retry(ctx, retryPolicy{
		config:     e.config,
		maxRetries: current.AuthMaxRetries,
		retryable:  messaging.IsNetworkError,
		logger:     e.logger.With("server", client.HomeserverURL()),
		operation:  "login",
	}, func() (*messaging.DirectSession, error) {
		session, loginErr := client.Login(ctx, messaging.NewPasswordLogin(username, password, DeviceID))
		if loginErr == nil {
			return session, nil
		}
		e.logger.Debug("login failed, trying registration",
			"server", client.HomeserverURL(),
			"error", loginErr,
		)
		session, registerErr := client.Register(ctx, messaging.RegisterRequest{
			Username: username,
			Password: password,
			DeviceID: DeviceID,
		})
		if registerErr == nil {
			return session, nil
		}
		e.logger.Debug("registration failed",
			"server", client.HomeserverURL(),
			"error", registerErr,
		)
		return nil, loginErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, Credentials{}, err
		}
		return nil, Credentials{}, fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}

	if session.UserID() != expected {
		session.Close()
		return nil, Credentials{}, fmt.Errorf("%w: server authenticated %s, expected %s",
			ErrIdentityMismatch, session.UserID(), expected)
	}

	displayName, err := e.signer.SignMessage(expected.String())
	if err != nil {
		session.Close()
		return nil, Credentials{}, fmt.Errorf("signing display name: %w", err)
	}

	return session, Credentials{
		UserID:      expected.String(),
		AccessToken: session.AccessToken(),
		DeviceID:    session.DeviceID(),
		DisplayName: displayName,
	}, nil
}

// publishProfile writes the display name and the capability avatar.
// Both writes succeeding proves the session is usable.
func (e *Establisher) publishProfile(ctx context.Context, session *messaging.DirectSession, displayName string) error {
	current := e.config.Current()
	avatarURL := ""
	if current.Caps != nil && current.Caps.Len() > 0 {
		avatarURL = caps.Encode(current.Caps)
	}

	_, err := retry(ctx, retryPolicy{
		config:     e.config,
		maxRetries: current.ProfileMaxRetries,
		retryable:  messaging.IsRateLimited,
		logger:     e.logger.With("user_id", session.UserID()),
		operation:  "profile update",
	}, func() (struct{}, error) {
		if err := session.SetDisplayName(ctx, displayName); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, session.SetAvatarURL(ctx, avatarURL)
	})
	if err == nil {
		return nil
	}
	if messaging.IsRateLimited(err) {
		return fmt.Errorf("%w: profile update: %w", ErrRateLimited, err)
	}
	return fmt.Errorf("profile update: %w", err)
}
