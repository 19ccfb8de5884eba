// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/manuelwedler/light-client/lib/config"
	"github.com/manuelwedler/light-client/lib/ref"
	"github.com/manuelwedler/light-client/lib/testutil"
	"github.com/manuelwedler/light-client/messaging"
)

func newTestTransport(t *testing.T, live *config.Live, sink StateSink, handlers ...messaging.SyncHandler) *Transport {
	t.Helper()
	transport, err := New(Options{
		Config:   live,
		Signer:   testSigner(t),
		Sink:     sink,
		Handlers: handlers,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { transport.Shutdown(context.Background()) })
	return transport
}

func TestTransportFailsOverToNextServer(t *testing.T) {
	flaky := newMockHomeserver(t)
	flaky.configure(func(m *mockHomeserver) {
		m.versionsDelay = 50 * time.Millisecond
		m.login = loginDrop
		m.registerForbidden = true
	})
	healthy := newMockHomeserver(t)
	healthy.configure(func(m *mockHomeserver) { m.versionsDelay = 120 * time.Millisecond })
	directory := newDirectory(t, healthy.URL(), unreachableURL(t), flaky.URL())

	live := testConfig(t, func(cfg *config.Config) {
		cfg.ServerLookup = directory.URL
		cfg.AuthMaxRetries = 1
	})
	sink := &recordingSink{}
	transport := newTestTransport(t, live, sink)

	outcome, err := transport.Run(context.Background(), transport.Plan("", nil))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Server != healthy.URL() {
		t.Errorf("bound to %s, want %s", outcome.Server, healthy.URL())
	}
	// The faster server was tried first and to the end.
	if got := flaky.count("POST", "/_matrix/client/v3/login"); got != 2 {
		t.Errorf("flaky server saw %d logins, want 2", got)
	}
	if got := transport.bootstrap.Attempted(); !slices.Equal(got, []string{flaky.URL(), healthy.URL()}) {
		t.Errorf("attempted %v, want [%s %s]", got, flaky.URL(), healthy.URL())
	}
	if transport.State() != StateBound {
		t.Errorf("state = %v, want bound", transport.State())
	}

	waited, err := transport.Session(context.Background())
	if err != nil || waited != outcome {
		t.Errorf("Session() = (%v, %v), want the bound outcome", waited, err)
	}
	if saves := sink.saved(); len(saves) != 1 || saves[0].server != healthy.URL() {
		t.Errorf("sink saves = %+v", saves)
	}
	if healthy.count("GET", "/_matrix/client/v3/sync") == 0 {
		t.Error("sync never started on the bound server")
	}
}

func TestTransportFixedServerFallsBackToLogin(t *testing.T) {
	mock := newMockHomeserver(t)
	live := testConfig(t, func(cfg *config.Config) { cfg.Server = mock.URL() })
	transport := newTestTransport(t, live, nil)

	// A revoked token fails the first entry; the second logs in.
	stale := &Credentials{UserID: mock.userID(t), AccessToken: "syt_revoked", DeviceID: DeviceID}
	outcome, err := transport.Run(context.Background(), transport.Plan(mock.URL(), stale))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := transport.bootstrap.Attempted(); !slices.Equal(got, []string{mock.URL(), mock.URL()}) {
		t.Errorf("attempted %v, want the fixed server twice", got)
	}
	if outcome.Credentials.AccessToken == "syt_revoked" {
		t.Error("bound with the revoked token")
	}
	if got := mock.count("POST", "/_matrix/client/v3/login"); got != 1 {
		t.Errorf("login requests = %d, want 1", got)
	}
}

func TestTransportFixedServerIgnoresOtherServersCredentials(t *testing.T) {
	mock := newMockHomeserver(t)
	live := testConfig(t, func(cfg *config.Config) { cfg.Server = mock.URL() })
	transport := newTestTransport(t, live, nil)

	other := &Credentials{UserID: "@0xabc:other.example", AccessToken: "syt_other"}
	if _, err := transport.Run(context.Background(), transport.Plan("https://other.example", other)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := transport.bootstrap.Attempted(); !slices.Equal(got, []string{mock.URL()}) {
		t.Errorf("attempted %v, want only the fixed server", got)
	}
}

func TestTransportSkipsMismatchedCredentials(t *testing.T) {
	mock := newMockHomeserver(t)
	directory := newDirectory(t, mock.URL())
	live := testConfig(t, func(cfg *config.Config) { cfg.ServerLookup = directory.URL })
	transport := newTestTransport(t, live, nil)

	foreign := &Credentials{
		UserID:      "@0x0000000000000000000000000000000000000001:" + mock.name.String(),
		AccessToken: "syt_foreign",
		DeviceID:    DeviceID,
	}
	outcome, err := transport.Run(context.Background(), transport.Plan(mock.URL(), foreign))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := transport.bootstrap.Attempted(); !slices.Equal(got, []string{mock.URL(), mock.URL()}) {
		t.Errorf("attempted %v, want the previous server then its directory entry", got)
	}
	if outcome.Credentials.UserID != mock.userID(t) {
		t.Errorf("bound as %s, want %s", outcome.Credentials.UserID, mock.userID(t))
	}
	if got := mock.count("PUT", "/_matrix/client/v3/profile/"); got != 2 {
		t.Errorf("profile requests = %d, want only those of the fresh login", got)
	}
}

func TestTransportFastResume(t *testing.T) {
	mock := newMockHomeserver(t)
	userID := mock.userID(t)
	mock.issueToken(userID, "syt_stored")
	live := testConfig(t, func(cfg *config.Config) {
		cfg.ServerLookup = "http://directory.invalid/servers.json"
	})
	transport := newTestTransport(t, live, nil)

	stored := &Credentials{UserID: userID, AccessToken: "syt_stored", DeviceID: DeviceID, DisplayName: "0xsig"}
	outcome, err := transport.Run(context.Background(), transport.Plan(mock.URL(), stored))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Credentials != *stored {
		t.Errorf("credentials = %+v, want the stored ones", outcome.Credentials)
	}
	if mock.count("POST", "/_matrix/client/v3/login")+mock.count("POST", "/_matrix/client/v3/register") != 0 {
		t.Error("fast resume authenticated again")
	}
}

func TestTransportResumesFixedServerAfterRestart(t *testing.T) {
	mock := newMockHomeserver(t)
	// Written the way operators do; the setup is persisted normalized.
	live := testConfig(t, func(cfg *config.Config) { cfg.Server = mock.URL() + "/" })
	sink := &recordingSink{}

	first := newTestTransport(t, live, sink)
	if _, err := first.Run(context.Background(), first.Plan("", nil)); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	saves := sink.saved()
	if len(saves) != 1 {
		t.Fatalf("sink saves = %+v, want one", saves)
	}
	authenticated := mock.count("POST", "/_matrix/client/v3/login") + mock.count("POST", "/_matrix/client/v3/register")

	restarted := newTestTransport(t, live, nil)
	plan := restarted.Plan(saves[0].server, &saves[0].credentials)
	if queue := BuildQueue(plan); len(queue) != 2 || queue[0].Candidate.Credentials == nil {
		t.Fatalf("queue = %+v, want the persisted credentials first", queue)
	}
	outcome, err := restarted.Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("restarted Run: %v", err)
	}
	if outcome.Credentials != saves[0].credentials {
		t.Errorf("credentials = %+v, want the persisted ones", outcome.Credentials)
	}
	if got := mock.count("POST", "/_matrix/client/v3/login") + mock.count("POST", "/_matrix/client/v3/register"); got != authenticated {
		t.Errorf("restart authenticated again: %d auth requests, want %d", got, authenticated)
	}
}

func TestTransportAllCandidatesFail(t *testing.T) {
	first := newMockHomeserver(t)
	second := newMockHomeserver(t)
	for _, mock := range []*mockHomeserver{first, second} {
		mock.configure(func(m *mockHomeserver) {
			m.login = loginForbidden
			m.registerForbidden = true
		})
	}
	second.configure(func(m *mockHomeserver) { m.versionsDelay = 60 * time.Millisecond })
	directory := newDirectory(t, first.URL(), second.URL())
	live := testConfig(t, func(cfg *config.Config) { cfg.ServerLookup = directory.URL })
	transport := newTestTransport(t, live, nil)

	_, err := transport.Run(context.Background(), transport.Plan("", nil))
	if !errors.Is(err, ErrCandidatesExhausted) || !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("error = %v, want exhaustion wrapping an auth failure", err)
	}
	var candidateErr *CandidateError
	if !errors.As(err, &candidateErr) || candidateErr.Server != second.URL() {
		t.Errorf("error %v does not name the last candidate %s", err, second.URL())
	}
	if _, sessionErr := transport.Session(context.Background()); !errors.Is(sessionErr, ErrCandidatesExhausted) {
		t.Errorf("Session error = %v, want the bootstrap failure", sessionErr)
	}
}

func TestTransportNoReachableServers(t *testing.T) {
	directory := newDirectory(t, unreachableURL(t))
	live := testConfig(t, func(cfg *config.Config) { cfg.ServerLookup = directory.URL })
	transport := newTestTransport(t, live, nil)

	_, err := transport.Run(context.Background(), transport.Plan("", nil))
	if !errors.Is(err, ErrNoReachableServers) {
		t.Errorf("error = %v, want ErrNoReachableServers", err)
	}
}

func TestSyncStartJoinsRoomsAndFilters(t *testing.T) {
	mock := newMockHomeserver(t)
	live := testConfig(t, func(cfg *config.Config) { cfg.Network = "goerli" })
	initial := make(chan string, 1)
	transport := newTestTransport(t, live, nil, func(ctx context.Context, response *messaging.SyncResponse) {
		select {
		case initial <- response.NextBatch:
		default:
		}
	})

	outcome, err := transport.Run(context.Background(), transport.Plan(mock.URL(), nil))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if batch := testutil.Receive(t, initial, 5*time.Second, "initial sync"); batch != "s1" {
		t.Errorf("first batch delivered = %q, want s1", batch)
	}

	server := mock.name.String()
	wantAliases := []string{"#raiden_goerli_discovery:" + server, "#raiden_goerli_path_finding:" + server}
	if got := mock.joinedAliases(); !slices.Equal(got, wantAliases) {
		t.Errorf("joined %v, want %v", got, wantAliases)
	}
	for _, raw := range wantAliases {
		alias := ref.MustParseRoomAlias(raw)
		roomID, ok := outcome.Session.Rooms().RoomForAlias(alias)
		if !ok {
			t.Errorf("room cache has no room for %s", alias)
			continue
		}
		record, _ := outcome.Session.Rooms().Lookup(roomID)
		if !record.Local {
			t.Errorf("%s: alias record not marked local", alias)
		}
	}

	filters := mock.filterBodies()
	if len(filters) != 1 {
		t.Fatalf("created %d filters, want 1", len(filters))
	}
	var filter messaging.Filter
	if err := json.Unmarshal(filters[0], &filter); err != nil {
		t.Fatalf("decoding filter: %v", err)
	}
	if filter.Room == nil || len(filter.Room.NotRooms) != 2 {
		t.Fatalf("filter = %s, want both broadcast rooms excluded", filters[0])
	}
	if !slices.Equal(filter.Room.Ephemeral.NotTypes, []string{"m.receipt", "m.typing"}) {
		t.Errorf("ephemeral not_types = %v", filter.Room.Ephemeral.NotTypes)
	}
	if filter.Room.Timeline.Limit == nil || *filter.Room.Timeline.Limit != 0 {
		t.Errorf("timeline limit = %v, want explicit 0", filter.Room.Timeline.Limit)
	}
	if !slices.Equal(filter.Room.Timeline.NotSenders, []string{mock.userID(t)}) {
		t.Errorf("timeline not_senders = %v, want ourselves", filter.Room.Timeline.NotSenders)
	}
}

func TestSessionPublishedAfterSyncStarts(t *testing.T) {
	mock := newMockHomeserver(t)
	sink := &recordingSink{}
	var transport *Transport
	type observation struct {
		published bool
		persisted int
	}
	observed := make(chan observation, 1)
	transport = newTestTransport(t, testConfig(t, nil), sink, func(ctx context.Context, response *messaging.SyncResponse) {
		published := false
		select {
		case <-transport.bootstrap.Slot().Done():
			published = true
		default:
		}
		select {
		case observed <- observation{published: published, persisted: len(sink.saved())}:
		default:
		}
	})

	if _, err := transport.Run(context.Background(), transport.Plan(mock.URL(), nil)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	initial := testutil.Receive(t, observed, 5*time.Second, "initial sync")
	if initial.published {
		t.Error("session was published before the initial sync was delivered")
	}
	if initial.persisted != 1 {
		t.Errorf("setup saved %d times before sync started, want 1", initial.persisted)
	}
	if _, _, ok := transport.bootstrap.Slot().Result(); !ok {
		t.Error("session not published after Run returned")
	}
}

func TestSyncStartRateLimit(t *testing.T) {
	t.Run("recovers within the retry cap", func(t *testing.T) {
		mock := newMockHomeserver(t)
		mock.configure(func(m *mockHomeserver) { m.joinRateLimits = 3 })
		transport := newTestTransport(t, testConfig(t, nil), nil)

		if _, err := transport.Run(context.Background(), transport.Plan(mock.URL(), nil)); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if got := len(mock.joinedAliases()); got != 2 {
			t.Errorf("joined %d rooms, want 2", got)
		}
	})

	t.Run("exhausts the retry cap", func(t *testing.T) {
		mock := newMockHomeserver(t)
		mock.configure(func(m *mockHomeserver) { m.joinRateLimits = 100 })
		live := testConfig(t, func(cfg *config.Config) { cfg.SyncMaxRetries = 2 })
		transport := newTestTransport(t, live, nil)

		_, err := transport.Run(context.Background(), transport.Plan(mock.URL(), nil))
		if !errors.Is(err, ErrSyncStartFailed) || !messaging.IsRateLimited(err) {
			t.Fatalf("error = %v, want a rate-limited sync start failure", err)
		}
		if got := mock.count("POST", "/_matrix/client/v3/join/"); got != 3 {
			t.Errorf("join requests = %d, want 3", got)
		}
		if transport.State() != StateFailed {
			t.Errorf("state = %v, want failed", transport.State())
		}
	})
}

func TestSyncStartFailureIsNotRetried(t *testing.T) {
	mock := newMockHomeserver(t)
	mock.configure(func(m *mockHomeserver) { m.syncStatus = 500 })
	transport := newTestTransport(t, testConfig(t, nil), nil)

	_, err := transport.Run(context.Background(), transport.Plan(mock.URL(), nil))
	if !errors.Is(err, ErrSyncStartFailed) {
		t.Fatalf("error = %v, want ErrSyncStartFailed", err)
	}
	if got := mock.count("GET", "/_matrix/client/v3/sync"); got != 1 {
		t.Errorf("sync requests = %d, want 1", got)
	}
}

func TestTransportShutdown(t *testing.T) {
	mock := newMockHomeserver(t)
	transport := newTestTransport(t, testConfig(t, nil), nil)

	outcome, err := transport.Run(context.Background(), transport.Plan(mock.URL(), nil))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	transport.Shutdown(context.Background())
	if outcome.Syncer.Running() {
		t.Error("syncer still running after shutdown")
	}
	if got := mock.presenceOf(mock.userID(t)); got != messaging.PresenceOffline {
		t.Errorf("presence = %q, want offline", got)
	}

	transport.Shutdown(context.Background())
	if got := mock.count("PUT", "/_matrix/client/v3/presence/"); got != 1 {
		t.Errorf("presence requests = %d, want 1", got)
	}
}

// shutdownSink calls Shutdown while the bootstrap is still binding.
type shutdownSink struct {
	transport *Transport
}

func (s *shutdownSink) SaveSetup(ctx context.Context, server string, credentials Credentials) error {
	s.transport.Shutdown(ctx)
	return nil
}

func TestTransportShutdownDuringRun(t *testing.T) {
	mock := newMockHomeserver(t)
	sink := &shutdownSink{}
	transport := newTestTransport(t, testConfig(t, nil), sink)
	sink.transport = transport

	outcome, err := transport.Run(context.Background(), transport.Plan(mock.URL(), nil))
	if !errors.Is(err, ErrShutdown) {
		t.Fatalf("Run error = %v, want ErrShutdown", err)
	}
	if outcome != nil {
		t.Errorf("Run returned an outcome after shutdown: %+v", outcome)
	}
	bound, _, ok := transport.bootstrap.Slot().Result()
	if !ok || bound == nil {
		t.Fatal("bound session was not published")
	}
	if bound.Syncer.Running() {
		t.Error("syncer still running after shutdown")
	}
	if got := mock.presenceOf(mock.userID(t)); got != messaging.PresenceOffline {
		t.Errorf("presence = %q, want offline", got)
	}

	transport.Shutdown(context.Background())
	if got := mock.count("PUT", "/_matrix/client/v3/presence/"); got != 1 {
		t.Errorf("presence requests = %d, want 1", got)
	}
}

func TestTransportShutdownWithoutSession(t *testing.T) {
	transport := newTestTransport(t, testConfig(t, nil), nil)
	transport.Shutdown(context.Background())

	failed := newTestTransport(t, testConfig(t, nil), nil)
	if _, err := failed.Run(context.Background(), QueuePlan{}); err == nil {
		t.Fatal("Run with an empty plan succeeded")
	}
	failed.Shutdown(context.Background())
}

func TestTransportShutdownSwallowsPresenceError(t *testing.T) {
	mock := newMockHomeserver(t)
	transport := newTestTransport(t, testConfig(t, nil), nil)
	if _, err := transport.Run(context.Background(), transport.Plan(mock.URL(), nil)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mock.server.Close()
	transport.Shutdown(context.Background())
}
