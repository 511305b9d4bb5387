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

	"github.com/fathomhq/agentrun/internal/apperr"
	"github.com/fathomhq/agentrun/internal/model"
)

const retentionBatchSize = 50

// Prune deletes terminal runs (and their cascaded events/artifacts/
// conversation links) older than the configured retention window, then, if
// the database still exceeds the configured storage ceiling, deletes the
// oldest remaining terminal runs in batches until it fits or nothing is left
// to delete.
func (s *Store) Prune(ctx context.Context, settings model.Settings) (int, error) {
	deleted := 0

	if settings.RetentionDays > 0 {
		cutoff := nowFunc().AddDate(0, 0, -settings.RetentionDays)
		n, err := s.deleteTerminalRunsOlderThan(ctx, cutoff.Format("2006-01-02T15:04:05.999999999Z07:00"))
		if err != nil {
			return deleted, err
		}
		deleted += n
	}

	if settings.MaxStorageMB <= 0 {
		return deleted, nil
	}

	for {
		sizeMB, err := s.databaseSizeMB(ctx)
		if err != nil {
			return deleted, err
		}
		if sizeMB <= settings.MaxStorageMB {
			break
		}

		n, err := s.deleteOldestTerminalRunBatch(ctx, retentionBatchSize)
		if err != nil {
			return deleted, err
		}
		deleted += n
		if n == 0 {
			break
		}

		if err := s.checkpointAndCompact(ctx); err != nil {
			return deleted, err
		}
	}

	return deleted, nil
}

func (s *Store) deleteTerminalRunsOlderThan(ctx context.Context, cutoffRFC3339 string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM runs
		WHERE started_at < ?
		AND status IN (?, ?, ?, ?)`,
		cutoffRFC3339, model.StatusCompleted, model.StatusFailed, model.StatusCanceled, model.StatusInterrupted)
	if err != nil {
		return 0, apperr.IOFailure(err, "pruning runs past retention window")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) deleteOldestTerminalRunBatch(ctx context.Context, batchSize int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM runs WHERE id IN (
			SELECT id FROM runs
			WHERE status IN (?, ?, ?, ?)
			ORDER BY started_at ASC
			LIMIT ?
		)`,
		model.StatusCompleted, model.StatusFailed, model.StatusCanceled, model.StatusInterrupted, batchSize)
	if err != nil {
		return 0, apperr.IOFailure(err, "deleting oldest terminal run batch")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) databaseSizeMB(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err != nil {
		return 0, apperr.IOFailure(err, "reading page_count")
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0, apperr.IOFailure(err, "reading page_size")
	}
	return int((pageCount * pageSize) / (1024 * 1024)), nil
}

func (s *Store) checkpointAndCompact(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return apperr.IOFailure(err, "checkpointing WAL")
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return apperr.IOFailure(err, "compacting database")
	}
	return nil
}
