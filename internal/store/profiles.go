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

// InsertProfile creates a new named bundle of run defaults.
func (s *Store) InsertProfile(ctx context.Context, name string, provider model.Provider, config map[string]any) (model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	configJSON, err := marshalJSONMap(config)
	if err != nil {
		return model.Profile{}, apperr.Internal(err, "marshaling profile config")
	}

	now := nowFunc()
	p := model.Profile{
		ID:        uuid.NewString(),
		Name:      name,
		Provider:  provider,
		Config:    config,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, name, provider, config_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Provider, configJSON, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return model.Profile{}, apperr.IOFailure(err, "inserting profile")
	}
	return p, nil
}

// GetProfile looks up a profile by id.
func (s *Store) GetProfile(ctx context.Context, id string) (model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, provider, config_json, created_at, updated_at FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return model.Profile{}, apperr.NotFound("profile %s not found", id)
	}
	if err != nil {
		return model.Profile{}, apperr.IOFailure(err, "scanning profile")
	}
	return p, nil
}

// ListProfiles returns profiles, optionally filtered to one provider.
func (s *Store) ListProfiles(ctx context.Context, provider model.Provider) ([]model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, name, provider, config_json, created_at, updated_at FROM profiles`
	var args []any
	if provider != "" {
		query += ` WHERE provider = ?`
		args = append(args, provider)
	}
	query += ` ORDER BY name ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.IOFailure(err, "listing profiles")
	}
	defer rows.Close()

	var out []model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, apperr.IOFailure(err, "scanning profile")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProfile overwrites a profile's name and config.
func (s *Store) UpdateProfile(ctx context.Context, id, name string, config map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	configJSON, err := marshalJSONMap(config)
	if err != nil {
		return apperr.Internal(err, "marshaling profile config")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET name = ?, config_json = ?, updated_at = ? WHERE id = ?`,
		name, configJSON, formatTime(nowFunc()), id)
	if err != nil {
		return apperr.IOFailure(err, "updating profile")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound("profile %s not found", id)
	}
	return nil
}

// DeleteProfile removes a profile.
func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return apperr.IOFailure(err, "deleting profile")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound("profile %s not found", id)
	}
	return nil
}

func scanProfile(row rowScanner) (model.Profile, error) {
	var p model.Profile
	var provider, configJSON, createdAt, updatedAt string
	if err := row.Scan(&p.ID, &p.Name, &provider, &configJSON, &createdAt, &updatedAt); err != nil {
		return model.Profile{}, err
	}
	p.Provider = model.Provider(provider)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	if configJSON != "" {
		if err := json.Unmarshal([]byte(configJSON), &p.Config); err != nil {
			return model.Profile{}, err
		}
	}
	return p, nil
}
