// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store implements the orchestrator's durable state: runs, events,
// artifacts, scheduler jobs, capability snapshots, conversations, profiles,
// workspace grants, and settings, all backed by a single-writer SQLite
// database opened in WAL mode.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the durable state backend. All writes are serialized by mu in
// addition to capping the connection pool, matching SQLite's single-writer
// model.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// nowFunc is indirected so tests can freeze time.
var nowFunc = time.Now

// Open opens (creating if necessary) the SQLite database at path and runs
// all schema migrations.
func Open(path string) (*Store, error) {
	connStr := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// OpenMemory opens an in-memory store for tests.
func OpenMemory() (*Store, error) {
	return Open(":memory:")
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			status TEXT NOT NULL,
			prompt TEXT NOT NULL,
			model TEXT,
			mode TEXT NOT NULL,
			output_format TEXT,
			cwd TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			exit_code INTEGER,
			error_summary TEXT,
			queue_priority INTEGER NOT NULL DEFAULT 0,
			compatibility_warnings_json TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS run_events (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_events_run_seq ON run_events(run_id, seq ASC)`,
		`CREATE TABLE IF NOT EXISTS run_artifacts (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			path TEXT NOT NULL DEFAULT '',
			metadata_json TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_artifacts_run ON run_artifacts(run_id)`,
		`CREATE TABLE IF NOT EXISTS scheduler_jobs (
			run_id TEXT PRIMARY KEY REFERENCES runs(id) ON DELETE CASCADE,
			priority INTEGER NOT NULL,
			state TEXT NOT NULL,
			queued_at TEXT NOT NULL,
			next_run_at TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 0,
			retry_backoff_ms INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			started_at TEXT,
			finished_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS capability_snapshots (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			cli_version TEXT NOT NULL,
			profile_json TEXT NOT NULL,
			detected_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS workspace_grants (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			granted_by TEXT,
			granted_at TEXT NOT NULL,
			revoked_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			provider TEXT NOT NULL,
			config_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value_json TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			provider_session_id TEXT,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			archived_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_provider_updated ON conversations(provider, updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_archived_updated ON conversations(archived_at, updated_at DESC)`,
		`CREATE TABLE IF NOT EXISTS conversation_runs (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(conversation_id, run_id),
			UNIQUE(conversation_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_runs_conversation_seq ON conversation_runs(conversation_id, seq ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_runs_run ON conversation_runs(run_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing migration: %w: %s", err, stmt)
		}
	}

	if err := s.addColumnIfMissing(ctx, "runs", "profile_id", "TEXT"); err != nil {
		return err
	}
	if err := s.addColumnIfMissing(ctx, "runs", "capability_snapshot_id", "TEXT"); err != nil {
		return err
	}
	if err := s.addColumnIfMissing(ctx, "runs", "conversation_id", "TEXT"); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_runs_conversation_started ON runs(conversation_id, started_at ASC)`); err != nil {
		return fmt.Errorf("creating conversation index: %w", err)
	}

	return nil
}

func (s *Store) addColumnIfMissing(ctx context.Context, table, column, sqlType string) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("inspecting table %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt any
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("scanning table_info: %w", err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, sqlType))
	if err != nil {
		return fmt.Errorf("adding column %s.%s: %w", table, column, err)
	}
	return nil
}

// formatTime renders a time.Time for storage.
func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// parseTime parses a stored timestamp.
func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func formatOptionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseOptionalTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
