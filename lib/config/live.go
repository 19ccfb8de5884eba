// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"io"
	"log/slog"
	"sync/atomic"
)

// Live is a concurrently readable handle on the current configuration.
// Readers call Current at the point of use so that a Store between two
// retries is observed by the second one.
type Live struct {
	current atomic.Pointer[Config]
	level   slog.LevelVar
}

// NewLive returns a handle holding cfg.
func NewLive(cfg *Config) *Live {
	live := &Live{}
	live.Store(cfg)
	return live
}

// Current returns the configuration in effect. Callers must not modify
// it; build a copy and Store it instead.
func (l *Live) Current() *Config {
	return l.current.Load()
}

// Store replaces the configuration and applies its log level. An
// unparseable level leaves verbosity unchanged.
func (l *Live) Store(cfg *Config) {
	l.current.Store(cfg)
	if level, err := cfg.Level(); err == nil {
		l.level.Set(level)
	}
}

// Level is the verbosity of loggers built from this handle.
func (l *Live) Level() *slog.LevelVar {
	return &l.level
}

// NewLogger returns a JSON logger on w whose level tracks the handle.
func (l *Live) NewLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: &l.level}))
}
