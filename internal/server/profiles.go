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

	"github.com/fathomhq/agentrun/internal/model"
	"github.com/fathomhq/agentrun/internal/runner"
)

type profilesHandler struct {
	runner *runner.Runner
}

func (h *profilesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/profiles", h.handleList)
	mux.HandleFunc("POST /v1/profiles", h.handleSave)
}

func (h *profilesHandler) handleList(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.runner.ListProfiles(r.Context(), model.Provider(r.URL.Query().Get("provider")))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": profiles})
}

func (h *profilesHandler) handleSave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string         `json:"name"`
		Provider model.Provider `json:"provider"`
		Config   map[string]any `json:"config"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	profile, err := h.runner.SaveProfile(r.Context(), req.Name, req.Provider, req.Config)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}
