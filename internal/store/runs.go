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
	"fmt"

	"github.com/google/uuid"

	"github.com/fathomhq/agentrun/internal/apperr"
	"github.com/fathomhq/agentrun/internal/model"
)

// InsertRun creates a new run row in the queued state and returns it fully
// populated, including any pre-attached compatibility warnings.
func (s *Store) InsertRun(ctx context.Context, r model.Run) (model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = model.StatusQueued
	}
	warnings, err := marshalJSON(r.CompatibilityWarnings)
	if err != nil {
		return model.Run{}, apperr.Internal(err, "marshaling compatibility warnings")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, provider, status, prompt, model, mode, output_format, cwd,
			started_at, ended_at, exit_code, error_summary, queue_priority,
			compatibility_warnings_json, profile_id, capability_snapshot_id, conversation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Provider, r.Status, r.Prompt, nullIfEmpty(r.Model), r.Mode, nullIfEmpty(r.OutputFormat), r.Cwd,
		formatTime(r.StartedAt), formatOptionalTime(r.EndedAt), r.ExitCode, nullIfEmpty(r.ErrorSummary), r.QueuePriority,
		warnings, nullIfEmpty(r.ProfileID), nullIfEmpty(r.CapabilitySnapshotID), nullIfEmpty(r.ConversationID))
	if err != nil {
		return model.Run{}, apperr.IOFailure(err, "inserting run")
	}
	return r, nil
}

// UpdateRunStatus transitions a run's status. Terminal statuses stamp
// ended_at in the same update; non-terminal ones leave it null.
func (s *Store) UpdateRunStatus(ctx context.Context, id string, status model.RunStatus, exitCode *int, errSummary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status.IsTerminal() {
		_, err := s.db.ExecContext(ctx, `
			UPDATE runs SET status = ?, exit_code = ?, error_summary = ?, ended_at = ?
			WHERE id = ?`,
			status, exitCode, nullIfEmpty(errSummary), formatTime(nowFunc()), id)
		if err != nil {
			return apperr.IOFailure(err, "updating run status")
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, exit_code = ?, error_summary = ?, ended_at = NULL
		WHERE id = ?`,
		status, exitCode, nullIfEmpty(errSummary), id)
	if err != nil {
		return apperr.IOFailure(err, "updating run status")
	}
	return nil
}

// AddCompatibilityWarning dedup-appends msg to the run's warning list.
func (s *Store) AddCompatibilityWarning(ctx context.Context, id, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw string
	if err := s.db.QueryRowContext(ctx, `SELECT compatibility_warnings_json FROM runs WHERE id = ?`, id).Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return apperr.NotFound("run %s not found", id)
		}
		return apperr.IOFailure(err, "reading compatibility warnings")
	}

	var warnings []string
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &warnings); err != nil {
			return apperr.Internal(err, "unmarshaling compatibility warnings")
		}
	}
	for _, w := range warnings {
		if w == msg {
			return nil
		}
	}
	warnings = append(warnings, msg)

	out, err := marshalJSON(warnings)
	if err != nil {
		return apperr.Internal(err, "marshaling compatibility warnings")
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE runs SET compatibility_warnings_json = ? WHERE id = ?`, out, id); err != nil {
		return apperr.IOFailure(err, "updating compatibility warnings")
	}
	return nil
}

// GetRun returns a single run by id.
func (s *Store) GetRun(ctx context.Context, id string) (model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getRunLocked(ctx, id)
}

func (s *Store) getRunLocked(ctx context.Context, id string) (model.Run, error) {
	row := s.db.QueryRowContext(ctx, runSelectColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return model.Run{}, apperr.NotFound("run %s not found", id)
	}
	if err != nil {
		return model.Run{}, apperr.IOFailure(err, "scanning run")
	}
	return r, nil
}

// RunFilters narrows a ListRuns query. Zero values are unfiltered.
type RunFilters struct {
	Provider       model.Provider
	Status         model.RunStatus
	ConversationID string
	Limit          int
}

// ListRuns returns runs matching filters, most recently started first.
func (s *Store) ListRuns(ctx context.Context, filters RunFilters) ([]model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := runSelectColumns + ` FROM runs WHERE 1=1`
	var args []any
	if filters.Provider != "" {
		query += ` AND provider = ?`
		args = append(args, filters.Provider)
	}
	if filters.Status != "" {
		query += ` AND status = ?`
		args = append(args, filters.Status)
	}
	if filters.ConversationID != "" {
		query += ` AND conversation_id = ?`
		args = append(args, filters.ConversationID)
	}
	query += ` ORDER BY started_at DESC`
	if filters.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filters.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.IOFailure(err, "listing runs")
	}
	defer rows.Close()

	var out []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, apperr.IOFailure(err, "scanning run row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunDetail bundles a run with its ordered events and artifacts.
type RunDetail struct {
	Run       model.Run           `json:"run"`
	Events    []model.RunEvent    `json:"events"`
	Artifacts []model.RunArtifact `json:"artifacts"`
}

// GetRunDetail returns a run plus its events (seq asc) and artifacts (id asc).
func (s *Store) GetRunDetail(ctx context.Context, id string) (RunDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.getRunLocked(ctx, id)
	if err != nil {
		return RunDetail{}, err
	}

	events, err := s.listEventsLocked(ctx, id)
	if err != nil {
		return RunDetail{}, err
	}
	artifacts, err := s.listArtifactsLocked(ctx, id)
	if err != nil {
		return RunDetail{}, err
	}
	return RunDetail{Run: r, Events: events, Artifacts: artifacts}, nil
}

const runSelectColumns = `SELECT id, provider, status, prompt, model, mode, output_format, cwd,
	started_at, ended_at, exit_code, error_summary, queue_priority,
	compatibility_warnings_json, profile_id, capability_snapshot_id, conversation_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (model.Run, error) {
	var r model.Run
	var provider, status, mode string
	var modelStr, outputFormat, errSummary, profileID, capSnapshotID, convID sql.NullString
	var startedAt string
	var endedAt sql.NullString
	var exitCode sql.NullInt64
	var warnings string

	if err := row.Scan(&r.ID, &provider, &status, &r.Prompt, &modelStr, &mode, &outputFormat, &r.Cwd,
		&startedAt, &endedAt, &exitCode, &errSummary, &r.QueuePriority,
		&warnings, &profileID, &capSnapshotID, &convID); err != nil {
		return model.Run{}, err
	}

	r.Provider = model.Provider(provider)
	r.Status = model.RunStatus(status)
	r.Mode = model.RunMode(mode)
	r.Model = modelStr.String
	r.OutputFormat = outputFormat.String
	r.ErrorSummary = errSummary.String
	r.ProfileID = profileID.String
	r.CapabilitySnapshotID = capSnapshotID.String
	r.ConversationID = convID.String
	r.StartedAt = parseTime(startedAt)
	r.EndedAt = parseOptionalTime(endedAt)
	if exitCode.Valid {
		code := int(exitCode.Int64)
		r.ExitCode = &code
	}
	if warnings != "" {
		if err := json.Unmarshal([]byte(warnings), &r.CompatibilityWarnings); err != nil {
			return model.Run{}, fmt.Errorf("unmarshaling warnings: %w", err)
		}
	}
	return r, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
