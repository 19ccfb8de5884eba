// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/manuelwedler/light-client/lib/config"
	"github.com/manuelwedler/light-client/lib/ref"
	"github.com/manuelwedler/light-client/lib/signer"
)

const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testSigner(t *testing.T) *signer.KeySigner {
	t.Helper()
	key, err := crypto.HexToECDSA(testKeyHex)
	if err != nil {
		t.Fatalf("HexToECDSA: %v", err)
	}
	return signer.NewKeySigner(key)
}

// testConfig returns a live config with a 1ms polling interval so
// retries and the sync start delay do not slow tests down.
func testConfig(t *testing.T, modify func(*config.Config)) *config.Live {
	t.Helper()
	cfg := config.Default()
	cfg.PollingInterval = time.Millisecond
	cfg.HTTPTimeout = 2 * time.Second
	cfg.ServerLookup = ""
	if modify != nil {
		modify(cfg)
	}
	return config.NewLive(cfg)
}

// Login behaviors of a mock homeserver.
const (
	loginAccept    = "accept"
	loginForbidden = "forbidden"
	loginDrop      = "drop"
)

// mockHomeserver is an httptest homeserver implementing the endpoints
// the transport uses. Fields are guarded by mu and may be changed
// between requests.
type mockHomeserver struct {
	t      *testing.T
	server *httptest.Server
	name   ref.ServerName

	mu sync.Mutex

	// versionsDelay delays /_matrix/client/versions.
	versionsDelay time.Duration

	// login selects the login behavior. Registered accounts log in
	// when login is loginAccept.
	login string

	// registerForbidden rejects registration.
	registerForbidden bool

	// registered holds localparts with an account.
	registered map[string]bool

	// authenticatedAs overrides the user_id returned by login and
	// register.
	authenticatedAs string

	// profileRateLimits is the number of profile writes answered with
	// 429 before succeeding. Negative limits forever.
	profileRateLimits int

	// joinRateLimits is the number of joins answered with 429.
	joinRateLimits int

	// syncStatus, when set, is returned by every /sync.
	syncStatus int

	tokens       map[string]string
	requests     []string
	displayNames map[string]string
	avatars      map[string]string
	presence     map[string]string
	joined       []string
	filters      []json.RawMessage
	syncs        int
}

func newMockHomeserver(t *testing.T) *mockHomeserver {
	t.Helper()
	mock := &mockHomeserver{
		t:            t,
		login:        loginAccept,
		registered:   map[string]bool{},
		tokens:       map[string]string{},
		displayNames: map[string]string{},
		avatars:      map[string]string{},
		presence:     map[string]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /_matrix/client/versions", mock.handleVersions)
	mux.HandleFunc("POST /_matrix/client/v3/login", mock.handleLogin)
	mux.HandleFunc("POST /_matrix/client/v3/register", mock.handleRegister)
	mux.HandleFunc("PUT /_matrix/client/v3/profile/{user}/{field}", mock.authenticated(mock.handleProfile))
	mux.HandleFunc("POST /_matrix/client/v3/join/{room}", mock.authenticated(mock.handleJoin))
	mux.HandleFunc("POST /_matrix/client/v3/user/{user}/filter", mock.authenticated(mock.handleFilter))
	mux.HandleFunc("GET /_matrix/client/v3/sync", mock.authenticated(mock.handleSync))
	mux.HandleFunc("PUT /_matrix/client/v3/presence/{user}/status", mock.authenticated(mock.handlePresence))

	mock.server = httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		mock.mu.Lock()
		mock.requests = append(mock.requests, request.Method+" "+request.URL.Path)
		mock.mu.Unlock()
		mux.ServeHTTP(writer, request)
	}))
	t.Cleanup(mock.server.Close)

	name, err := ref.ServerNameFromURL(mock.server.URL)
	if err != nil {
		t.Fatalf("ServerNameFromURL(%q): %v", mock.server.URL, err)
	}
	mock.name = name
	return mock
}

func (m *mockHomeserver) URL() string { return m.server.URL }

// configure changes the mock's behavior under its lock.
func (m *mockHomeserver) configure(change func(m *mockHomeserver)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	change(m)
}

// userID is the ID the test signer has on this server.
func (m *mockHomeserver) userID(t *testing.T) string {
	t.Helper()
	return "@" + strings.ToLower(testSigner(t).Address().Hex()) + ":" + m.name.String()
}

// issueToken registers an access token for userID, as if the account
// had logged in earlier.
func (m *mockHomeserver) issueToken(userID, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = userID
}

// count returns how many requests had the given path prefix and, when
// method is not empty, the given method.
func (m *mockHomeserver) count(method, pathPrefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, request := range m.requests {
		requestMethod, path, _ := strings.Cut(request, " ")
		if (method == "" || requestMethod == method) && strings.HasPrefix(path, pathPrefix) {
			count++
		}
	}
	return count
}

func (m *mockHomeserver) matrixError(writer http.ResponseWriter, status int, code, message string) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(map[string]any{"errcode": code, "error": message})
}

func (m *mockHomeserver) writeJSON(writer http.ResponseWriter, value any) {
	writer.Header().Set("Content-Type", "application/json")
	json.NewEncoder(writer).Encode(value)
}

func (m *mockHomeserver) authenticated(handler func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		token := strings.TrimPrefix(request.Header.Get("Authorization"), "Bearer ")
		m.mu.Lock()
		userID, ok := m.tokens[token]
		m.mu.Unlock()
		if !ok {
			m.matrixError(writer, http.StatusUnauthorized, "M_UNKNOWN_TOKEN", "unknown token")
			return
		}
		handler(writer, request, userID)
	}
}

func (m *mockHomeserver) handleVersions(writer http.ResponseWriter, request *http.Request) {
	m.mu.Lock()
	delay := m.versionsDelay
	m.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-request.Context().Done():
			return
		}
	}
	m.writeJSON(writer, map[string]any{"versions": []string{"v1.1", "v1.11"}})
}

type mockAuthBody struct {
	Identifier struct {
		User string `json:"user"`
	} `json:"identifier"`
	Username string          `json:"username"`
	Password string          `json:"password"`
	DeviceID string          `json:"device_id"`
	Auth     json.RawMessage `json:"auth"`
}

// checkPassword verifies the password is the localpart's signature
// over the server name.
func (m *mockHomeserver) checkPassword(localpart, password string) bool {
	address, err := signer.RecoverAddress(m.name.String(), password)
	if err != nil {
		return false
	}
	return strings.ToLower(address.Hex()) == localpart
}

func (m *mockHomeserver) issue(writer http.ResponseWriter, localpart, deviceID string) {
	m.mu.Lock()
	userID := "@" + localpart + ":" + m.name.String()
	if m.authenticatedAs != "" {
		userID = m.authenticatedAs
	}
	token := fmt.Sprintf("syt_%d", len(m.tokens)+1)
	m.tokens[token] = userID
	m.mu.Unlock()
	m.writeJSON(writer, map[string]string{
		"user_id":      userID,
		"access_token": token,
		"device_id":    deviceID,
	})
}

func (m *mockHomeserver) handleLogin(writer http.ResponseWriter, request *http.Request) {
	var body mockAuthBody
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		m.matrixError(writer, http.StatusBadRequest, "M_BAD_JSON", err.Error())
		return
	}

	m.mu.Lock()
	mode := m.login
	registered := m.registered[body.Identifier.User]
	m.mu.Unlock()

	switch mode {
	case loginDrop:
		hijacker, ok := writer.(http.Hijacker)
		if !ok {
			m.t.Errorf("response writer does not support hijacking")
			return
		}
		conn, _, err := hijacker.Hijack()
		if err == nil {
			conn.Close()
		}
		return
	case loginForbidden:
		m.matrixError(writer, http.StatusForbidden, "M_FORBIDDEN", "login disabled")
		return
	}

	if !registered || !m.checkPassword(body.Identifier.User, body.Password) {
		m.matrixError(writer, http.StatusForbidden, "M_FORBIDDEN", "invalid username or password")
		return
	}
	m.issue(writer, body.Identifier.User, body.DeviceID)
}

func (m *mockHomeserver) handleRegister(writer http.ResponseWriter, request *http.Request) {
	var body mockAuthBody
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		m.matrixError(writer, http.StatusBadRequest, "M_BAD_JSON", err.Error())
		return
	}

	m.mu.Lock()
	forbidden := m.registerForbidden
	exists := m.registered[body.Username]
	m.mu.Unlock()

	if forbidden {
		m.matrixError(writer, http.StatusForbidden, "M_FORBIDDEN", "registration disabled")
		return
	}
	if len(body.Auth) == 0 {
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(writer).Encode(map[string]any{
			"session": "uiaa-session",
			"flows":   []map[string]any{{"stages": []string{"m.login.dummy"}}},
		})
		return
	}
	if exists {
		m.matrixError(writer, http.StatusBadRequest, "M_USER_IN_USE", "user exists")
		return
	}
	if !m.checkPassword(body.Username, body.Password) {
		m.matrixError(writer, http.StatusForbidden, "M_FORBIDDEN", "password is not a signature of the server name")
		return
	}

	m.mu.Lock()
	m.registered[body.Username] = true
	m.mu.Unlock()
	m.issue(writer, body.Username, body.DeviceID)
}

func (m *mockHomeserver) handleProfile(writer http.ResponseWriter, request *http.Request, userID string) {
	if request.PathValue("user") != userID {
		m.matrixError(writer, http.StatusForbidden, "M_FORBIDDEN", "cannot change another user's profile")
		return
	}
	m.mu.Lock()
	limited := m.profileRateLimits != 0
	if m.profileRateLimits > 0 {
		m.profileRateLimits--
	}
	m.mu.Unlock()
	if limited {
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(writer).Encode(map[string]any{
			"errcode":        "M_LIMIT_EXCEEDED",
			"error":          "too many requests",
			"retry_after_ms": 1,
		})
		return
	}

	var body map[string]string
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		m.matrixError(writer, http.StatusBadRequest, "M_BAD_JSON", err.Error())
		return
	}
	m.mu.Lock()
	switch request.PathValue("field") {
	case "displayname":
		m.displayNames[userID] = body["displayname"]
	case "avatar_url":
		m.avatars[userID] = body["avatar_url"]
	}
	m.mu.Unlock()
	m.writeJSON(writer, map[string]any{})
}

func (m *mockHomeserver) handleJoin(writer http.ResponseWriter, request *http.Request, userID string) {
	alias := request.PathValue("room")
	m.mu.Lock()
	limited := m.joinRateLimits > 0
	if limited {
		m.joinRateLimits--
	} else {
		m.joined = append(m.joined, alias)
	}
	m.mu.Unlock()
	if limited {
		m.matrixError(writer, http.StatusTooManyRequests, "M_LIMIT_EXCEEDED", "too many requests")
		return
	}
	localpart := strings.TrimPrefix(strings.SplitN(alias, ":", 2)[0], "#")
	m.writeJSON(writer, map[string]string{"room_id": "!" + localpart + ":" + m.name.String()})
}

func (m *mockHomeserver) handleFilter(writer http.ResponseWriter, request *http.Request, userID string) {
	var body json.RawMessage
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		m.matrixError(writer, http.StatusBadRequest, "M_BAD_JSON", err.Error())
		return
	}
	m.mu.Lock()
	m.filters = append(m.filters, body)
	id := fmt.Sprintf("filter%d", len(m.filters))
	m.mu.Unlock()
	m.writeJSON(writer, map[string]string{"filter_id": id})
}

func (m *mockHomeserver) handleSync(writer http.ResponseWriter, request *http.Request, userID string) {
	m.mu.Lock()
	status := m.syncStatus
	m.syncs++
	batch := fmt.Sprintf("s%d", m.syncs)
	m.mu.Unlock()
	if status != 0 {
		m.matrixError(writer, status, "M_UNKNOWN", "sync unavailable")
		return
	}
	if request.URL.Query().Get("since") != "" {
		// Long poll with nothing new.
		select {
		case <-time.After(20 * time.Millisecond):
		case <-request.Context().Done():
			return
		}
	}
	m.writeJSON(writer, map[string]any{"next_batch": batch})
}

func (m *mockHomeserver) handlePresence(writer http.ResponseWriter, request *http.Request, userID string) {
	var body map[string]string
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		m.matrixError(writer, http.StatusBadRequest, "M_BAD_JSON", err.Error())
		return
	}
	m.mu.Lock()
	m.presence[userID] = body["presence"]
	m.mu.Unlock()
	m.writeJSON(writer, map[string]any{})
}

// newDirectory serves a server directory listing servers.
func newDirectory(t *testing.T, servers ...string) *httptest.Server {
	t.Helper()
	directory := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(map[string][]string{
			"active_servers": servers,
			"all_servers":    servers,
		})
	}))
	t.Cleanup(directory.Close)
	return directory
}

// unreachableURL returns the URL of a server that has been shut down.
func unreachableURL(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()
	return url
}

func (m *mockHomeserver) profile(userID string) (displayName, avatarURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.displayNames[userID], m.avatars[userID]
}

func (m *mockHomeserver) presenceOf(userID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.presence[userID]
}

func (m *mockHomeserver) joinedAliases() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.joined...)
}

func (m *mockHomeserver) filterBodies() []json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]json.RawMessage(nil), m.filters...)
}
