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

	"github.com/fathomhq/agentrun/internal/apperr"
	"github.com/fathomhq/agentrun/internal/model"
)

const settingsRowKey = "singleton"

// GetSettings returns the daemon's singleton settings row, falling back to
// model.DefaultSettings if none has ever been written.
func (s *Store) GetSettings(ctx context.Context) (model.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var valueJSON string
	err := s.db.QueryRowContext(ctx, `SELECT value_json FROM settings WHERE key = ?`, settingsRowKey).Scan(&valueJSON)
	if err == sql.ErrNoRows {
		return model.DefaultSettings(), nil
	}
	if err != nil {
		return model.Settings{}, apperr.IOFailure(err, "reading settings")
	}

	settings := model.DefaultSettings()
	if err := json.Unmarshal([]byte(valueJSON), &settings); err != nil {
		return model.Settings{}, apperr.Internal(err, "unmarshaling settings")
	}
	return settings, nil
}

// UpdateSettings overwrites the singleton settings row.
func (s *Store) UpdateSettings(ctx context.Context, settings model.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.Marshal(settings)
	if err != nil {
		return apperr.Internal(err, "marshaling settings")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value_json) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json`, settingsRowKey, string(b))
	if err != nil {
		return apperr.IOFailure(err, "writing settings")
	}
	return nil
}

// settingsFlagLocked reports whether the named one-time sentinel flag has
// already been set. Callers must hold s.mu.
func (s *Store) settingsFlagLocked(ctx context.Context, key string) (bool, error) {
	var valueJSON string
	err := s.db.QueryRowContext(ctx, `SELECT value_json FROM settings WHERE key = ?`, key).Scan(&valueJSON)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, apperr.IOFailure(err, "reading settings flag")
	}
	return valueJSON == `true`, nil
}

// setSettingsFlagLocked marks the named one-time sentinel flag done.
// Callers must hold s.mu.
func (s *Store) setSettingsFlagLocked(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value_json) VALUES (?, 'true')
		ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json`, key)
	if err != nil {
		return apperr.IOFailure(err, "writing settings flag")
	}
	return nil
}
