// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

// Package statestore persists the transport setup (the server last
// bound and the credentials obtained there) so that a restart can
// resume the session without logging in again.
//
// The state is a single row in a SQLite database. Saving replaces the
// row in one statement, so a crash never leaves a server paired with
// another server's credentials.
package statestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/manuelwedler/light-client/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS transport_state (
	id           INTEGER PRIMARY KEY CHECK (id = 1),
	server       TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	access_token TEXT NOT NULL,
	device_id    TEXT NOT NULL,
	display_name TEXT NOT NULL,
	updated_at   INTEGER NOT NULL
);
`

// Setup is the persisted transport state.
type Setup struct {
	Server      string
	UserID      string
	AccessToken string
	DeviceID    string
	DisplayName string
	UpdatedAt   time.Time
}

// Store reads and writes the persisted setup.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the state database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("statestore: %w", err)
	}
	return &Store{pool: pool, logger: logger, now: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Load returns the persisted setup. ok is false when nothing was saved.
func (s *Store) Load(ctx context.Context) (setup Setup, ok bool, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Setup{}, false, fmt.Errorf("statestore: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`SELECT server, user_id, access_token, device_id, display_name, updated_at
		 FROM transport_state WHERE id = 1`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				setup = Setup{
					Server:      stmt.ColumnText(0),
					UserID:      stmt.ColumnText(1),
					AccessToken: stmt.ColumnText(2),
					DeviceID:    stmt.ColumnText(3),
					DisplayName: stmt.ColumnText(4),
					UpdatedAt:   time.UnixMilli(stmt.ColumnInt64(5)),
				}
				ok = true
				return nil
			},
		})
	if err != nil {
		return Setup{}, false, fmt.Errorf("statestore: loading setup: %w", err)
	}
	return setup, ok, nil
}

// Save replaces the persisted setup.
func (s *Store) Save(ctx context.Context, setup Setup) error {
	if setup.Server == "" || setup.UserID == "" || setup.AccessToken == "" {
		return fmt.Errorf("statestore: server, user ID and access token are required")
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("statestore: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT OR REPLACE INTO transport_state
		 (id, server, user_id, access_token, device_id, display_name, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				setup.Server,
				setup.UserID,
				setup.AccessToken,
				setup.DeviceID,
				setup.DisplayName,
				s.now().UnixMilli(),
			},
		})
	if err != nil {
		return fmt.Errorf("statestore: saving setup: %w", err)
	}
	s.logger.Debug("transport setup saved", "server", setup.Server, "user_id", setup.UserID)
	return nil
}

// Clear forgets the persisted setup.
func (s *Store) Clear(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("statestore: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, `DELETE FROM transport_state`, nil); err != nil {
		return fmt.Errorf("statestore: clearing setup: %w", err)
	}
	return nil
}
