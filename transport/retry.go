// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/manuelwedler/light-client/lib/config"
)

// pollingBackOff waits one polling interval longer on each retry. The
// interval is read from the live config every time, so a change made
// between two retries applies to the second.
type pollingBackOff struct {
	config  *config.Live
	attempt int
}

func (b *pollingBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.config.Current().PollingInterval * time.Duration(b.attempt)
}

func (b *pollingBackOff) Reset() { b.attempt = 0 }

// retryPolicy retries an operation while retryable accepts its error,
// at most maxRetries times after the first attempt.
type retryPolicy struct {
	config     *config.Live
	maxRetries int
	retryable  func(error) bool
	logger     *slog.Logger
	operation  string
}

// retry runs operation under policy. The final error is returned
// unwrapped so callers can classify it.
func retry[T any](ctx context.Context, policy retryPolicy, operation func() (T, error)) (T, error) {
	wrapped := func() (T, error) {
		result, err := operation()
		if err != nil && !policy.retryable(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}
	result, err := backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(&pollingBackOff{config: policy.config}),
		backoff.WithMaxTries(uint(max(policy.maxRetries, 0))+1),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			policy.logger.Warn("retrying",
				"operation", policy.operation,
				"error", err,
				"delay", delay,
			)
		}),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return result, err
}
