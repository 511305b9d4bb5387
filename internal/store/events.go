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

// InsertEvent appends a new event to run_id's log, computing seq as
// max(seq)+1 for that run under the store's single-writer lock so seqs are
// strictly increasing with no gaps.
func (s *Store) InsertEvent(ctx context.Context, runID, eventType string, payload map[string]any) (model.RunEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxSeq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM run_events WHERE run_id = ?`, runID).Scan(&maxSeq); err != nil {
		return model.RunEvent{}, apperr.IOFailure(err, "reading max seq")
	}
	seq := int64(1)
	if maxSeq.Valid {
		seq = maxSeq.Int64 + 1
	}

	payloadJSON, err := marshalJSONMap(payload)
	if err != nil {
		return model.RunEvent{}, apperr.Internal(err, "marshaling event payload")
	}

	ev := model.RunEvent{
		ID:        uuid.NewString(),
		RunID:     runID,
		Seq:       seq,
		EventType: eventType,
		Payload:   payload,
		CreatedAt: nowFunc(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_events (id, run_id, seq, event_type, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RunID, ev.Seq, ev.EventType, payloadJSON, formatTime(ev.CreatedAt))
	if err != nil {
		return model.RunEvent{}, apperr.IOFailure(err, "inserting event")
	}
	return ev, nil
}

func (s *Store) listEventsLocked(ctx context.Context, runID string) ([]model.RunEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, seq, event_type, payload_json, created_at
		FROM run_events WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, apperr.IOFailure(err, "listing events")
	}
	defer rows.Close()

	var out []model.RunEvent
	for rows.Next() {
		var ev model.RunEvent
		var payloadJSON, createdAt string
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Seq, &ev.EventType, &payloadJSON, &createdAt); err != nil {
			return nil, apperr.IOFailure(err, "scanning event")
		}
		ev.CreatedAt = parseTime(createdAt)
		if payloadJSON != "" {
			if err := json.Unmarshal([]byte(payloadJSON), &ev.Payload); err != nil {
				return nil, apperr.Internal(err, "unmarshaling event payload")
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func marshalJSONMap(v map[string]any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
