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

package server

import (
	"net/http"
	"strconv"

	"github.com/fathomhq/agentrun/internal/model"
	"github.com/fathomhq/agentrun/internal/runner"
)

type settingsHandler struct {
	runner *runner.Runner
}

func (h *settingsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/settings", h.handleGet)
	mux.HandleFunc("PUT /v1/settings", h.handleUpdate)
	mux.HandleFunc("GET /v1/workspace-grants", h.handleListGrants)
	mux.HandleFunc("POST /v1/workspace-grants", h.handleGrant)
}

func (h *settingsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	settings, err := h.runner.GetSettings(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *settingsHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var settings model.Settings
	if err := decodeJSON(r, &settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := h.runner.UpdateSettings(r.Context(), settings); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *settingsHandler) handleListGrants(w http.ResponseWriter, r *http.Request) {
	activeOnly := true
	if v := r.URL.Query().Get("active_only"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			activeOnly = parsed
		}
	}
	grants, err := h.runner.ListWorkspaceGrants(r.Context(), activeOnly)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"grants": grants})
}

func (h *settingsHandler) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path      string `json:"path"`
		GrantedBy string `json:"granted_by"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	grant, err := h.runner.GrantWorkspace(r.Context(), req.Path, req.GrantedBy)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, grant)
}
