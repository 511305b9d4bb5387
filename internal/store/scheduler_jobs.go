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

	"github.com/fathomhq/agentrun/internal/apperr"
	"github.com/fathomhq/agentrun/internal/model"
)

// InsertSchedulerJob creates the durable shadow row for a freshly queued run.
func (s *Store) InsertSchedulerJob(ctx context.Context, job model.SchedulerJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.State == "" {
		job.State = model.JobQueued
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduler_jobs (run_id, priority, state, queued_at, next_run_at,
			attempts, max_retries, retry_backoff_ms, last_error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.RunID, job.Priority, job.State, formatTime(job.QueuedAt), formatTime(job.NextRunAt),
		job.Attempts, job.MaxRetries, job.RetryBackoffMS, nullIfEmpty(job.LastError),
		formatOptionalTime(job.StartedAt), formatOptionalTime(job.FinishedAt))
	if err != nil {
		return apperr.IOFailure(err, "inserting scheduler job")
	}
	return nil
}

// MarkJobRunning transitions a job to running, conditional on it currently
// being queued, and increments attempts exactly once per dispatch.
func (s *Store) MarkJobRunning(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduler_jobs
		SET state = ?, started_at = ?, attempts = attempts + 1, last_error = NULL
		WHERE run_id = ? AND state = ?`,
		model.JobRunning, formatTime(nowFunc()), runID, model.JobQueued)
	if err != nil {
		return apperr.IOFailure(err, "marking job running")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound("no queued scheduler job for run %s", runID)
	}
	return nil
}

// MarkJobRetry returns a job to queued for a future dispatch, recording the
// failure that triggered the retry.
func (s *Store) MarkJobRetry(ctx context.Context, runID string, nextRunAt, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduler_jobs
		SET state = ?, next_run_at = ?, last_error = ?, started_at = NULL, finished_at = NULL
		WHERE run_id = ?`,
		model.JobQueued, nextRunAt, nullIfEmpty(lastError), runID)
	if err != nil {
		return apperr.IOFailure(err, "marking job retry")
	}
	return nil
}

// MarkJobFinished marks a job terminal: completed, or failed if failed is true.
func (s *Store) MarkJobFinished(ctx context.Context, runID string, failed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := model.JobCompleted
	if failed {
		state = model.JobFailed
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduler_jobs SET state = ?, finished_at = ? WHERE run_id = ?`,
		state, formatTime(nowFunc()), runID)
	if err != nil {
		return apperr.IOFailure(err, "marking job finished")
	}
	return nil
}

// GetQueueJob returns the scheduler job shadowing run_id.
func (s *Store) GetQueueJob(ctx context.Context, runID string) (model.SchedulerJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, jobSelectColumns+` FROM scheduler_jobs WHERE run_id = ?`, runID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return model.SchedulerJob{}, apperr.NotFound("no scheduler job for run %s", runID)
	}
	if err != nil {
		return model.SchedulerJob{}, apperr.IOFailure(err, "scanning scheduler job")
	}
	return job, nil
}

// ListQueueJobs returns every scheduler job, most recently queued first.
func (s *Store) ListQueueJobs(ctx context.Context) ([]model.SchedulerJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, jobSelectColumns+` FROM scheduler_jobs ORDER BY queued_at DESC`)
	if err != nil {
		return nil, apperr.IOFailure(err, "listing scheduler jobs")
	}
	defer rows.Close()

	var out []model.SchedulerJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, apperr.IOFailure(err, "scanning scheduler job")
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

const jobSelectColumns = `SELECT run_id, priority, state, queued_at, next_run_at,
	attempts, max_retries, retry_backoff_ms, last_error, started_at, finished_at`

func scanJob(row rowScanner) (model.SchedulerJob, error) {
	var job model.SchedulerJob
	var state, queuedAt, nextRunAt string
	var lastError sql.NullString
	var startedAt, finishedAt sql.NullString

	if err := row.Scan(&job.RunID, &job.Priority, &state, &queuedAt, &nextRunAt,
		&job.Attempts, &job.MaxRetries, &job.RetryBackoffMS, &lastError, &startedAt, &finishedAt); err != nil {
		return model.SchedulerJob{}, err
	}
	job.State = model.JobState(state)
	job.QueuedAt = parseTime(queuedAt)
	job.NextRunAt = parseTime(nextRunAt)
	job.LastError = lastError.String
	job.StartedAt = parseOptionalTime(startedAt)
	job.FinishedAt = parseOptionalTime(finishedAt)
	return job, nil
}

// MarkOrphanRunsInterrupted is called exactly once at process boot. Any run
// left in queued/running from a prior process becomes interrupted, and any
// scheduler job left in queued/running becomes failed. Returns the count of
// runs interrupted.
func (s *Store) MarkOrphanRunsInterrupted(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error_summary = ?, ended_at = ?
		WHERE status IN (?, ?)`,
		model.StatusInterrupted, "Application restarted during run", formatTime(nowFunc()),
		model.StatusQueued, model.StatusRunning)
	if err != nil {
		return 0, apperr.IOFailure(err, "marking orphan runs interrupted")
	}
	n, _ := res.RowsAffected()

	if _, err := s.db.ExecContext(ctx, `
		UPDATE scheduler_jobs SET state = ?, finished_at = ?
		WHERE state IN (?, ?)`,
		model.JobFailed, formatTime(nowFunc()), model.JobQueued, model.JobRunning); err != nil {
		return 0, apperr.IOFailure(err, "marking orphan jobs failed")
	}

	return int(n), nil
}
