// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/manuelwedler/light-client/lib/netutil"
	"github.com/manuelwedler/light-client/lib/ref"
	"github.com/manuelwedler/light-client/lib/secret"
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// HomeserverURL is the base URL of the homeserver
	// (e.g., "https://transport.example.org").
	HomeserverURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is an unauthenticated Matrix client bound to one homeserver.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client. The URL must be absolute.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("messaging: HomeserverURL is required")
	}
	parsed, err := url.Parse(config.HomeserverURL)
	if err != nil {
		return nil, fmt.Errorf("messaging: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return nil, fmt.Errorf("messaging: HomeserverURL %q is not an absolute URL", config.HomeserverURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.HomeserverURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// HomeserverURL returns the base URL without a trailing slash.
func (c *Client) HomeserverURL() string { return c.baseURL }

// ServerVersions fetches /_matrix/client/versions. Unauthenticated; a
// cheap liveness check.
func (c *Client) ServerVersions(ctx context.Context) (*ServerVersionsResponse, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/_matrix/client/versions", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: server versions failed: %w", err)
	}
	var response ServerVersionsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse versions response: %w", err)
	}
	return &response, nil
}

// Login performs a password login and returns the authenticated session.
func (c *Client) Login(ctx context.Context, request LoginRequest) (*DirectSession, error) {
	if request.Identifier.User == "" {
		return nil, fmt.Errorf("messaging: username is required for login")
	}
	if request.Password == "" {
		return nil, fmt.Errorf("messaging: password is required for login")
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/login", nil, request)
	if err != nil {
		return nil, fmt.Errorf("messaging: login failed: %w", err)
	}
	var response AuthResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse login response: %w", err)
	}

	c.logger.Info("logged in to matrix",
		"user_id", response.UserID,
		"device_id", response.DeviceID,
	)
	return c.sessionFromAuth(&response)
}

// Register creates an account. When the server answers with a
// user-interactive auth challenge offering m.login.dummy, the request is
// repeated with that stage completed.
func (c *Client) Register(ctx context.Context, request RegisterRequest) (*DirectSession, error) {
	if request.Username == "" {
		return nil, fmt.Errorf("messaging: username is required for registration")
	}
	if request.Password == "" {
		return nil, fmt.Errorf("messaging: password is required for registration")
	}

	const path = "/_matrix/client/v3/register"
	body, err := c.doRequest(ctx, http.MethodPost, path, nil, request)
	if err != nil {
		if !isUnauthorizedUIAA(err) {
			return nil, fmt.Errorf("messaging: registration failed: %w", err)
		}
		challenge, parseErr := parseUIAAChallenge(body)
		if parseErr != nil {
			return nil, parseErr
		}
		if !challenge.offersStage("m.login.dummy") {
			return nil, fmt.Errorf("messaging: registration requires auth stages other than m.login.dummy: %w", err)
		}
		auth := map[string]string{"type": "m.login.dummy"}
		if challenge.Session != "" {
			auth["session"] = challenge.Session
		}
		completed := struct {
			RegisterRequest
			Auth map[string]string `json:"auth"`
		}{RegisterRequest: request, Auth: auth}
		body, err = c.doRequest(ctx, http.MethodPost, path, nil, completed)
		if err != nil {
			return nil, fmt.Errorf("messaging: registration failed: %w", err)
		}
	}

	var response AuthResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse register response: %w", err)
	}

	c.logger.Info("registered matrix account",
		"user_id", response.UserID,
		"device_id", response.DeviceID,
	)
	return c.sessionFromAuth(&response)
}

// SessionFromToken builds a session from persisted credentials. No
// request is made; the first authenticated call reveals whether the
// token is still valid. The caller must Close the session.
func (c *Client) SessionFromToken(userID ref.UserID, accessToken, deviceID string) (*DirectSession, error) {
	tokenBuffer, err := secret.NewFromString(accessToken)
	if err != nil {
		return nil, fmt.Errorf("messaging: protecting access token: %w", err)
	}
	return newDirectSession(c, tokenBuffer, userID, deviceID), nil
}

func (c *Client) sessionFromAuth(auth *AuthResponse) (*DirectSession, error) {
	if auth.UserID.IsZero() || auth.AccessToken == "" {
		return nil, fmt.Errorf("messaging: auth response is missing user_id or access_token")
	}
	return c.SessionFromToken(auth.UserID, auth.AccessToken, auth.DeviceID)
}

// doRequest performs a request and returns the response body. Non-2xx
// responses return the body together with a *MatrixError; failures
// before a response return a *RequestError.
func (c *Client) doRequest(ctx context.Context, method, path string, accessToken *secret.Buffer, requestBody any, query ...url.Values) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 && len(query[0]) > 0 {
		requestURL += "?" + query[0].Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("messaging: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to create request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if accessToken != nil {
		request.Header.Set("Authorization", "Bearer "+accessToken.String())
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, &RequestError{Method: method, Path: path, Err: err}
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, &RequestError{Method: method, Path: path, Err: err}
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	var matrixErr MatrixError
	if jsonErr := json.Unmarshal(responseBody, &matrixErr); jsonErr != nil || matrixErr.Code == "" {
		// Proxies in front of a homeserver answer with HTML. Keep the
		// status so rate limits and auth failures are still recognized.
		matrixErr = MatrixError{Code: ErrCodeUnknown, Message: truncate(string(responseBody), 200)}
	}
	matrixErr.StatusCode = response.StatusCode
	return responseBody, &matrixErr
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}

// isUnauthorizedUIAA reports a 401 from the user-interactive auth flow.
func isUnauthorizedUIAA(err error) bool {
	matrixErr, ok := err.(*MatrixError) //nolint:errorlint // doRequest returns it unwrapped
	return ok && matrixErr.StatusCode == http.StatusUnauthorized
}

type uiaaChallenge struct {
	Session string `json:"session"`
	Flows   []struct {
		Stages []string `json:"stages"`
	} `json:"flows"`
}

func (c uiaaChallenge) offersStage(stage string) bool {
	for _, flow := range c.Flows {
		if len(flow.Stages) == 1 && flow.Stages[0] == stage {
			return true
		}
	}
	return false
}

func parseUIAAChallenge(body []byte) (uiaaChallenge, error) {
	var challenge uiaaChallenge
	if err := json.Unmarshal(body, &challenge); err != nil {
		return uiaaChallenge{}, fmt.Errorf("messaging: failed to parse UIAA response: %w", err)
	}
	return challenge, nil
}
