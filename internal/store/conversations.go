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
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/fathomhq/agentrun/internal/apperr"
	"github.com/fathomhq/agentrun/internal/model"
)

const backfillSentinelKey = "conversation_threads_v1_backfilled"

// CreateConversation creates a new, empty conversation.
func (s *Store) CreateConversation(ctx context.Context, provider model.Provider, title string) (model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createConversationLocked(ctx, provider, title)
}

func (s *Store) createConversationLocked(ctx context.Context, provider model.Provider, title string) (model.Conversation, error) {
	now := nowFunc()
	c := model.Conversation{
		ID:        uuid.NewString(),
		Provider:  provider,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, provider, title, provider_session_id, metadata_json, created_at, updated_at, archived_at)
		VALUES (?, ?, ?, NULL, '{}', ?, ?, NULL)`,
		c.ID, c.Provider, c.Title, formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return model.Conversation{}, apperr.IOFailure(err, "inserting conversation")
	}
	return c, nil
}

// ListConversations returns active or archived conversations, newest-updated first.
func (s *Store) ListConversations(ctx context.Context, archived bool) ([]model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var query string
	if archived {
		query = `SELECT id, provider, title, provider_session_id, metadata_json, created_at, updated_at, archived_at
			FROM conversations WHERE archived_at IS NOT NULL ORDER BY updated_at DESC`
	} else {
		query = `SELECT id, provider, title, provider_session_id, metadata_json, created_at, updated_at, archived_at
			FROM conversations WHERE archived_at IS NULL ORDER BY updated_at DESC`
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperr.IOFailure(err, "listing conversations")
	}
	defer rows.Close()

	var out []model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, apperr.IOFailure(err, "scanning conversation")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RenameConversation sets a conversation's title and bumps updated_at.
func (s *Store) RenameConversation(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		title, formatTime(nowFunc()), id)
	if err != nil {
		return apperr.IOFailure(err, "renaming conversation")
	}
	return nil
}

// ArchiveConversation sets archived_at to now.
func (s *Store) ArchiveConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := formatTime(nowFunc())
	_, err := s.db.ExecContext(ctx, `UPDATE conversations SET archived_at = ?, updated_at = ? WHERE id = ?`, now, now, id)
	if err != nil {
		return apperr.IOFailure(err, "archiving conversation")
	}
	return nil
}

// SetProviderSessionID records the provider's own session handle for resume.
func (s *Store) SetProviderSessionID(ctx context.Context, id, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE conversations SET provider_session_id = ?, updated_at = ? WHERE id = ?`,
		nullIfEmpty(sessionID), formatTime(nowFunc()), id)
	if err != nil {
		return apperr.IOFailure(err, "setting provider session id")
	}
	return nil
}

// AttachRun allocates the next seq in a conversation, sets the run's
// conversation_id, and bumps the conversation's updated_at.
func (s *Store) AttachRun(ctx context.Context, conversationID, runID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attachRunLocked(ctx, conversationID, runID)
}

func (s *Store) attachRunLocked(ctx context.Context, conversationID, runID string) (int64, error) {
	var maxSeq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM conversation_runs WHERE conversation_id = ?`, conversationID).Scan(&maxSeq); err != nil {
		return 0, apperr.IOFailure(err, "reading max conversation seq")
	}
	seq := int64(1)
	if maxSeq.Valid {
		seq = maxSeq.Int64 + 1
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_runs (id, conversation_id, run_id, seq, created_at)
		VALUES (?, ?, ?, ?, ?)`, uuid.NewString(), conversationID, runID, seq, formatTime(nowFunc())); err != nil {
		return 0, apperr.IOFailure(err, "inserting conversation_runs row")
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE runs SET conversation_id = ? WHERE id = ?`, conversationID, runID); err != nil {
		return 0, apperr.IOFailure(err, "setting run conversation_id")
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, formatTime(nowFunc()), conversationID); err != nil {
		return 0, apperr.IOFailure(err, "touching conversation")
	}
	return seq, nil
}

func scanConversation(row rowScanner) (model.Conversation, error) {
	var c model.Conversation
	var provider, metaJSON, createdAt, updatedAt string
	var providerSessionID, archivedAt sql.NullString
	if err := row.Scan(&c.ID, &provider, &c.Title, &providerSessionID, &metaJSON, &createdAt, &updatedAt, &archivedAt); err != nil {
		return model.Conversation{}, err
	}
	c.Provider = model.Provider(provider)
	c.ProviderSessionID = providerSessionID.String
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	c.ArchivedAt = parseOptionalTime(archivedAt)
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &c.Metadata); err != nil {
			return model.Conversation{}, err
		}
	}
	return c, nil
}

// RunRepairAndBackfill performs the schema-evolution repair-backfill-repair
// sequence: a repair pass before and after a one-time backfill of
// conversations for pre-existing runs.
func (s *Store) RunRepairAndBackfill(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repairConversationLinksLocked(ctx); err != nil {
		return err
	}

	done, err := s.settingsFlagLocked(ctx, backfillSentinelKey)
	if err != nil {
		return err
	}
	if !done {
		if err := s.backfillConversationsLocked(ctx); err != nil {
			return err
		}
		if err := s.setSettingsFlagLocked(ctx, backfillSentinelKey); err != nil {
			return err
		}
	}

	return s.repairConversationLinksLocked(ctx)
}

// repairConversationLinksLocked nulls out dangling run.conversation_id
// references and inserts any conversation_runs row missing for a run that
// still points at a live conversation.
func (s *Store) repairConversationLinksLocked(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE runs SET conversation_id = NULL
		WHERE conversation_id IS NOT NULL
		AND conversation_id NOT IN (SELECT id FROM conversations)`); err != nil {
		return apperr.IOFailure(err, "nulling dangling conversation links")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.conversation_id FROM runs r
		WHERE r.conversation_id IS NOT NULL
		AND NOT EXISTS (SELECT 1 FROM conversation_runs cr WHERE cr.run_id = r.id)
		ORDER BY r.started_at ASC`)
	if err != nil {
		return apperr.IOFailure(err, "finding runs missing conversation_runs rows")
	}
	type pending struct{ runID, convID string }
	var missing []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.runID, &p.convID); err != nil {
			rows.Close()
			return apperr.IOFailure(err, "scanning missing conversation_runs row")
		}
		missing = append(missing, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return apperr.IOFailure(err, "iterating missing conversation_runs rows")
	}

	for _, p := range missing {
		if _, err := s.attachRunLocked(ctx, p.convID, p.runID); err != nil {
			return err
		}
	}
	return nil
}

// backfillConversationsLocked assigns each run with a null conversation_id
// (started_at ascending) its own new conversation titled from the prompt's
// first line.
func (s *Store) backfillConversationsLocked(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, provider, prompt FROM runs WHERE conversation_id IS NULL ORDER BY started_at ASC`)
	if err != nil {
		return apperr.IOFailure(err, "finding runs to backfill")
	}
	type pending struct{ id, provider, prompt string }
	var toBackfill []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.provider, &p.prompt); err != nil {
			rows.Close()
			return apperr.IOFailure(err, "scanning run to backfill")
		}
		toBackfill = append(toBackfill, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return apperr.IOFailure(err, "iterating runs to backfill")
	}

	for _, p := range toBackfill {
		title := conversationTitleFromPrompt(p.prompt)
		c, err := s.createConversationLocked(ctx, model.Provider(p.provider), title)
		if err != nil {
			return err
		}
		if _, err := s.attachRunLocked(ctx, c.ID, p.id); err != nil {
			return err
		}
	}
	return nil
}

// conversationTitleFromPrompt derives a conversation title from a run's
// prompt: its first line, trimmed, truncated to 80 runes with an ellipsis,
// or "New chat" if empty.
func conversationTitleFromPrompt(prompt string) string {
	firstLine := prompt
	if idx := strings.IndexByte(prompt, '\n'); idx >= 0 {
		firstLine = prompt[:idx]
	}
	firstLine = strings.TrimSpace(firstLine)
	if firstLine == "" {
		return "New chat"
	}
	const maxRunes = 80
	if utf8.RuneCountInString(firstLine) <= maxRunes {
		return firstLine
	}
	runes := []rune(firstLine)
	return string(runes[:maxRunes]) + "…"
}
