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

	"github.com/google/uuid"

	"github.com/fathomhq/agentrun/internal/apperr"
	"github.com/fathomhq/agentrun/internal/model"
)

// InsertWorkspaceGrant authorizes a directory subtree for run execution.
func (s *Store) InsertWorkspaceGrant(ctx context.Context, path, grantedBy string) (model.WorkspaceGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := model.WorkspaceGrant{
		ID:        uuid.NewString(),
		Path:      path,
		GrantedBy: grantedBy,
		GrantedAt: nowFunc(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_grants (id, path, granted_by, granted_at, revoked_at)
		VALUES (?, ?, ?, ?, NULL)`, g.ID, g.Path, nullIfEmpty(g.GrantedBy), formatTime(g.GrantedAt))
	if err != nil {
		return model.WorkspaceGrant{}, apperr.IOFailure(err, "inserting workspace grant")
	}
	return g, nil
}

// ListWorkspaceGrants returns grants, optionally excluding revoked ones.
func (s *Store) ListWorkspaceGrants(ctx context.Context, activeOnly bool) ([]model.WorkspaceGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, path, granted_by, granted_at, revoked_at FROM workspace_grants`
	if activeOnly {
		query += ` WHERE revoked_at IS NULL`
	}
	query += ` ORDER BY granted_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperr.IOFailure(err, "listing workspace grants")
	}
	defer rows.Close()

	var out []model.WorkspaceGrant
	for rows.Next() {
		var g model.WorkspaceGrant
		var grantedBy, revokedAt sql.NullString
		var grantedAt string
		if err := rows.Scan(&g.ID, &g.Path, &grantedBy, &grantedAt, &revokedAt); err != nil {
			return nil, apperr.IOFailure(err, "scanning workspace grant")
		}
		g.GrantedBy = grantedBy.String
		g.GrantedAt = parseTime(grantedAt)
		g.RevokedAt = parseOptionalTime(revokedAt)
		out = append(out, g)
	}
	return out, rows.Err()
}

// RevokeWorkspaceGrant sets revoked_at to now for a still-active grant.
func (s *Store) RevokeWorkspaceGrant(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE workspace_grants SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		formatTime(nowFunc()), id)
	if err != nil {
		return apperr.IOFailure(err, "revoking workspace grant")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound("no active workspace grant %s", id)
	}
	return nil
}
