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

package runner

import (
	"context"

	"github.com/fathomhq/agentrun/internal/model"
)

// RefreshCapability re-probes provider's binary and persists a fresh
// capability snapshot, independent of any run submission.
func (r *Runner) RefreshCapability(ctx context.Context, provider model.Provider) (model.CapabilitySnapshot, error) {
	settings, err := r.store.GetSettings(ctx)
	if err != nil {
		return model.CapabilitySnapshot{}, err
	}
	binaryPath, err := r.resolveBinaryPath(provider, settings)
	if err != nil {
		return model.CapabilitySnapshot{}, err
	}
	snap := r.capability.DetectProfile(ctx, provider, binaryPath)
	return r.store.InsertCapabilitySnapshot(ctx, snap)
}

// ListCapabilities returns every recorded capability snapshot for provider.
func (r *Runner) ListCapabilities(ctx context.Context, provider model.Provider) ([]model.CapabilitySnapshot, error) {
	return r.store.ListCapabilitySnapshots(ctx, provider)
}

// SaveProfile creates a new named profile of payload defaults.
func (r *Runner) SaveProfile(ctx context.Context, name string, provider model.Provider, config map[string]any) (model.Profile, error) {
	return r.store.InsertProfile(ctx, name, provider, config)
}

// ListProfiles lists saved profiles, optionally filtered by provider.
func (r *Runner) ListProfiles(ctx context.Context, provider model.Provider) ([]model.Profile, error) {
	return r.store.ListProfiles(ctx, provider)
}

// GetSettings returns the daemon's singleton settings row.
func (r *Runner) GetSettings(ctx context.Context) (model.Settings, error) {
	return r.store.GetSettings(ctx)
}

// UpdateSettings replaces the daemon's settings row.
func (r *Runner) UpdateSettings(ctx context.Context, settings model.Settings) error {
	return r.store.UpdateSettings(ctx, settings)
}

// ListWorkspaceGrants lists workspace grants, optionally restricted to
// still-active ones.
func (r *Runner) ListWorkspaceGrants(ctx context.Context, activeOnly bool) ([]model.WorkspaceGrant, error) {
	return r.store.ListWorkspaceGrants(ctx, activeOnly)
}

// GrantWorkspace authorizes path for run execution.
func (r *Runner) GrantWorkspace(ctx context.Context, path, grantedBy string) (model.WorkspaceGrant, error) {
	return r.store.InsertWorkspaceGrant(ctx, path, grantedBy)
}
