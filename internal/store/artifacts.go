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
	"encoding/json"

	"github.com/google/uuid"

	"github.com/fathomhq/agentrun/internal/apperr"
	"github.com/fathomhq/agentrun/internal/model"
)

// InsertArtifact persists a run's output artifact (parsed summary, PTY
// transcript, or encrypted raw blob), inline or referenced by path.
func (s *Store) InsertArtifact(ctx context.Context, runID string, kind model.ArtifactKind, path string, metadata map[string]any) (model.RunArtifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	metaJSON, err := marshalJSONMap(metadata)
	if err != nil {
		return model.RunArtifact{}, apperr.Internal(err, "marshaling artifact metadata")
	}

	a := model.RunArtifact{ID: uuid.NewString(), RunID: runID, Kind: kind, Path: path, Metadata: metadata}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_artifacts (id, run_id, kind, path, metadata_json)
		VALUES (?, ?, ?, ?, ?)`, a.ID, a.RunID, a.Kind, a.Path, metaJSON)
	if err != nil {
		return model.RunArtifact{}, apperr.IOFailure(err, "inserting artifact")
	}
	return a, nil
}

func (s *Store) listArtifactsLocked(ctx context.Context, runID string) ([]model.RunArtifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, kind, path, metadata_json FROM run_artifacts
		WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, apperr.IOFailure(err, "listing artifacts")
	}
	defer rows.Close()

	var out []model.RunArtifact
	for rows.Next() {
		var a model.RunArtifact
		var kind, metaJSON string
		if err := rows.Scan(&a.ID, &a.RunID, &kind, &a.Path, &metaJSON); err != nil {
			return nil, apperr.IOFailure(err, "scanning artifact")
		}
		a.Kind = model.ArtifactKind(kind)
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &a.Metadata); err != nil {
				return nil, apperr.Internal(err, "unmarshaling artifact metadata")
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
