// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

// Raiden-transport connects a light client to the Raiden Matrix
// federation. It picks a homeserver (the configured one, the one used
// last time, or the fastest of the public directory), logs in with an
// identity derived from the node's Ethereum key, joins the broadcast
// rooms and keeps the session synced until interrupted.
//
// The bound server and credentials are kept in a SQLite state file so
// a restart resumes the session without logging in again. SIGHUP
// reloads the configuration file; the polling interval and log level
// take effect immediately.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/manuelwedler/light-client/lib/config"
	"github.com/manuelwedler/light-client/lib/signer"
	"github.com/manuelwedler/light-client/lib/statestore"
	"github.com/manuelwedler/light-client/messaging"
	"github.com/manuelwedler/light-client/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		keyFile    string
		statePath  string
		server     string
	)

	flagSet := pflag.NewFlagSet("raiden-transport", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to the transport config file (default: $"+config.EnvConfigPath+")")
	flagSet.StringVar(&keyFile, "key-file", "", "file holding the hex-encoded node private key (overrides key_file)")
	flagSet.StringVar(&statePath, "state", "", "path of the SQLite state file (overrides state_path)")
	flagSet.StringVar(&server, "server", "", "use only this matrix server (overrides server)")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	if configPath == "" {
		configPath = os.Getenv(config.EnvConfigPath)
	}
	overrides := flagOverrides{keyFile: keyFile, statePath: statePath, server: server}
	cfg, err := loadConfig(configPath, overrides)
	if err != nil {
		return err
	}
	if cfg.KeyFile == "" {
		return fmt.Errorf("a key file is required (--key-file or key_file)")
	}

	live := config.NewLive(cfg)
	logger := live.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	keySigner, err := signer.LoadKeyFile(cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("loading node key: %w", err)
	}
	logger.Info("node identity loaded", "address", keySigner.Address().Hex())

	store, err := statestore.Open(cfg.StatePath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	setup, found, err := store.Load(ctx)
	if err != nil {
		return err
	}
	previousServer, credentials := resumePoint(setup, found)

	transportSession, err := transport.New(transport.Options{
		Config: live,
		Signer: keySigner,
		Sink:   stateSink{store: store},
		Handlers: []messaging.SyncHandler{func(ctx context.Context, response *messaging.SyncResponse) {
			logger.Debug("sync batch",
				"next_batch", response.NextBatch,
				"joined_rooms", len(response.Rooms.Join),
				"presence_events", len(response.Presence.Events),
			)
		}},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	go reloadOnHangup(ctx, configPath, overrides, live, logger)

	outcome, err := transportSession.Run(ctx, transportSession.Plan(previousServer, credentials))
	if err != nil {
		return fmt.Errorf("bootstrapping transport: %w", err)
	}
	logger.Info("transport ready",
		"server", outcome.Server,
		"user_id", outcome.Credentials.UserID,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	transportSession.Shutdown(shutdownCtx)
	return nil
}

// flagOverrides are command-line values that win over the config file
// and the environment.
type flagOverrides struct {
	keyFile   string
	statePath string
	server    string
}

func (o flagOverrides) apply(cfg *config.Config) {
	if o.keyFile != "" {
		cfg.KeyFile = o.keyFile
	}
	if o.statePath != "" {
		cfg.StatePath = o.statePath
	}
	if o.server != "" {
		cfg.Server = o.server
	}
}

// loadConfig reads path, or starts from the defaults and the
// environment when no file is named.
func loadConfig(path string, overrides flagOverrides) (*config.Config, error) {
	var cfg *config.Config
	if path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
		if err := cfg.ApplyEnv(nil); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	overrides.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// reloadOnHangup stores a freshly loaded config into live on every
// SIGHUP. A config that fails to load is logged and ignored.
func reloadOnHangup(ctx context.Context, path string, overrides flagOverrides, live *config.Live, logger *slog.Logger) {
	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	defer signal.Stop(hangup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hangup:
		}
		cfg, err := loadConfig(path, overrides)
		if err != nil {
			logger.Error("config reload failed", "path", path, "error", err)
			continue
		}
		live.Store(cfg)
		logger.Info("config reloaded",
			"path", path,
			"polling_interval", cfg.PollingInterval,
			"log_level", cfg.LogLevel,
		)
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `raiden-transport connects a Raiden light client to the Matrix federation.

Usage:
  raiden-transport [flags]

The config file is YAML. Every field has a default; RAIDEN_* environment
variables override the file and flags override both.

Flags:
`)
	flagSet.PrintDefaults()
}
