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

package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/fathomhq/agentrun/internal/apperr"
	"github.com/fathomhq/agentrun/internal/model"
)

const maxCapabilitySnapshots = 32

// InsertCapabilitySnapshot persists a new immutable snapshot and prunes
// anything past the 32 most recent for that provider.
func (s *Store) InsertCapabilitySnapshot(ctx context.Context, snap model.CapabilitySnapshot) (model.CapabilitySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	profileJSON, err := json.Marshal(snap.Profile)
	if err != nil {
		return model.CapabilitySnapshot{}, apperr.Internal(err, "marshaling capability profile")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO capability_snapshots (id, provider, cli_version, profile_json, detected_at)
		VALUES (?, ?, ?, ?, ?)`,
		snap.ID, snap.Provider, snap.CLIVersion, string(profileJSON), formatTime(snap.DetectedAt))
	if err != nil {
		return model.CapabilitySnapshot{}, apperr.IOFailure(err, "inserting capability snapshot")
	}

	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM capability_snapshots WHERE provider = ? AND id NOT IN (
			SELECT id FROM capability_snapshots WHERE provider = ? ORDER BY detected_at DESC LIMIT ?
		)`, snap.Provider, snap.Provider, maxCapabilitySnapshots); err != nil {
		return model.CapabilitySnapshot{}, apperr.IOFailure(err, "pruning capability snapshots")
	}

	return snap, nil
}

// GetCapabilitySnapshot looks up a snapshot by id.
func (s *Store) GetCapabilitySnapshot(ctx context.Context, id string) (model.CapabilitySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, provider, cli_version, profile_json, detected_at FROM capability_snapshots WHERE id = ?`, id)
	snap, err := scanCapabilitySnapshot(row)
	if err == sql.ErrNoRows {
		return model.CapabilitySnapshot{}, apperr.NotFound("capability snapshot %s not found", id)
	}
	if err != nil {
		return model.CapabilitySnapshot{}, apperr.IOFailure(err, "scanning capability snapshot")
	}
	return snap, nil
}

// ListCapabilitySnapshots returns the newest-first snapshots, optionally for one provider.
func (s *Store) ListCapabilitySnapshots(ctx context.Context, provider model.Provider) ([]model.CapabilitySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, provider, cli_version, profile_json, detected_at FROM capability_snapshots`
	var args []any
	if provider != "" {
		query += ` WHERE provider = ?`
		args = append(args, provider)
	}
	query += ` ORDER BY detected_at DESC LIMIT ?`
	args = append(args, maxCapabilitySnapshots)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.IOFailure(err, "listing capability snapshots")
	}
	defer rows.Close()

	var out []model.CapabilitySnapshot
	for rows.Next() {
		snap, err := scanCapabilitySnapshot(rows)
		if err != nil {
			return nil, apperr.IOFailure(err, "scanning capability snapshot")
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func scanCapabilitySnapshot(row rowScanner) (model.CapabilitySnapshot, error) {
	var snap model.CapabilitySnapshot
	var provider, profileJSON, detectedAt string
	if err := row.Scan(&snap.ID, &provider, &snap.CLIVersion, &profileJSON, &detectedAt); err != nil {
		return model.CapabilitySnapshot{}, err
	}
	snap.Provider = model.Provider(provider)
	snap.DetectedAt = parseTime(detectedAt)
	if err := json.Unmarshal([]byte(profileJSON), &snap.Profile); err != nil {
		return model.CapabilitySnapshot{}, err
	}
	return snap, nil
}
