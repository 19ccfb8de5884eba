// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/manuelwedler/light-client/lib/clock"
	"github.com/manuelwedler/light-client/lib/netutil"
	"github.com/manuelwedler/light-client/messaging"
)

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// HTTPClient performs directory fetches and probes. Default:
	// http.DefaultClient.
	HTTPClient *http.Client

	// Clock measures probe latency. Default: clock.Real().
	Clock clock.Clock

	// Logger is used for structured logging. Default: slog.Default().
	Logger *slog.Logger
}

// Resolver turns a server directory into latency-ranked candidates.
type Resolver struct {
	httpClient *http.Client
	clock      clock.Clock
	logger     *slog.Logger
}

// NewResolver returns a Resolver.
func NewResolver(config ResolverConfig) *Resolver {
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Resolver{
		httpClient: config.HTTPClient,
		clock:      config.Clock,
		logger:     config.Logger,
	}
}

type directoryResponse struct {
	ActiveServers *[]string `json:"active_servers"`
	AllServers    *[]string `json:"all_servers"`
}

// FetchDirectory downloads the server directory at lookupURL and
// returns its active servers.
func (r *Resolver) FetchDirectory(ctx context.Context, lookupURL string, timeout time.Duration) ([]string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDirectoryFetchFailed, lookupURL, err)
	}
	response, err := r.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDirectoryFetchFailed, lookupURL, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		netutil.Drain(response.Body)
		return nil, fmt.Errorf("%w: %s: HTTP %d", ErrDirectoryFetchFailed, lookupURL, response.StatusCode)
	}

	var directory directoryResponse
	if err := netutil.DecodeResponse(response.Body, &directory); err != nil {
		return nil, fmt.Errorf("%w: %s: decoding: %w", ErrDirectoryFetchFailed, lookupURL, err)
	}
	if directory.ActiveServers == nil || directory.AllServers == nil {
		return nil, fmt.Errorf("%w: %s: active_servers and all_servers are required", ErrDirectoryFetchFailed, lookupURL)
	}
	return *directory.ActiveServers, nil
}

type probeResult struct {
	index   int
	latency time.Duration
	err     error
}

// RankServers probes all servers concurrently and returns the reachable
// ones sorted by ascending latency. Any HTTP response counts as
// reachable.
func (r *Resolver) RankServers(ctx context.Context, servers []string, timeout time.Duration) ([]Candidate, error) {
	urls := make([]string, len(servers))
	results := make(chan probeResult, len(servers))
	for i, server := range servers {
		urls[i] = normalizeServerURL(server)
		go func() {
			latency, err := r.probe(ctx, urls[i], timeout)
			results <- probeResult{index: i, latency: latency, err: err}
		}()
	}

	reachable := make([]probeResult, 0, len(servers))
	for range servers {
		result := <-results
		if result.err != nil {
			r.logger.Debug("server probe failed",
				"server", urls[result.index],
				"error", result.err,
			)
			continue
		}
		reachable = append(reachable, result)
	}
	if len(reachable) == 0 {
		return nil, fmt.Errorf("%w: %d probed", ErrNoReachableServers, len(servers))
	}

	// Ties keep directory order.
	slices.SortFunc(reachable, func(a, b probeResult) int {
		return cmp.Or(cmp.Compare(a.latency, b.latency), cmp.Compare(a.index, b.index))
	})

	candidates := make([]Candidate, len(reachable))
	for i, result := range reachable {
		candidates[i] = Candidate{
			ServerURL: urls[result.index],
			Latency:   result.latency,
			Measured:  true,
		}
	}
	return candidates, nil
}

// Candidates fetches the directory at lookupURL and ranks its servers.
func (r *Resolver) Candidates(ctx context.Context, lookupURL string, timeout time.Duration) ([]Candidate, error) {
	servers, err := r.FetchDirectory(ctx, lookupURL, timeout)
	if err != nil {
		return nil, err
	}
	candidates, err := r.RankServers(ctx, servers, timeout)
	if err != nil {
		return nil, err
	}
	r.logger.Info("ranked matrix servers",
		"directory", lookupURL,
		"listed", len(servers),
		"reachable", len(candidates),
		"fastest", candidates[0].ServerURL,
	)
	return candidates, nil
}

// probe asks serverURL for its client versions. Any HTTP answer counts
// as reachable, including error statuses and unparseable bodies; only a
// request that never got a response fails.
func (r *Resolver) probe(ctx context.Context, serverURL string, timeout time.Duration) (time.Duration, error) {
	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: serverURL,
		HTTPClient:    r.httpClient,
		Logger:        r.logger,
	})
	if err != nil {
		return 0, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := r.clock.Now()
	_, err = client.ServerVersions(ctx)
	var requestErr *messaging.RequestError
	if errors.As(err, &requestErr) {
		return 0, err
	}
	return r.clock.Now().Sub(start), nil
}

// normalizeServerURL prefixes https:// when no scheme is present and
// drops trailing slashes.
func normalizeServerURL(server string) string {
	server = strings.TrimSpace(server)
	if !strings.Contains(server, "://") {
		server = "https://" + server
	}
	return strings.TrimRight(server, "/")
}
