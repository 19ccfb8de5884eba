// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the transport configuration and exposes it as a
// live handle.
//
// Configuration comes from a single YAML file named by the --config flag
// or the RAIDEN_TRANSPORT_CONFIG environment variable. There is no
// search path. A small set of RAIDEN_* environment variables override
// file values so that container deployments can pin a server or raise
// verbosity without editing the file.
//
// Some values are observed continuously rather than read once at
// startup: the polling interval drives retry delays and the log level
// drives every logger built on [Live.Level]. [Live] holds the current
// configuration; [Live.Store] swaps it atomically and updates the level.
package config
