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
	"github.com/fathomhq/agentrun/internal/secretstore"
)

// secretsHandler implements the provider-token commands (save, clear, has).
// Tokens never round-trip through this API once saved: there is no "get"
// route.
type secretsHandler struct {
	tokens *secretstore.ProviderTokenStore
}

func (h *secretsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/providers/{provider}/token", h.handleSave)
	mux.HandleFunc("DELETE /v1/providers/{provider}/token", h.handleClear)
	mux.HandleFunc("GET /v1/providers/{provider}/token", h.handleHas)
}

func (h *secretsHandler) handleSave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token must not be empty")
		return
	}
	provider := model.Provider(r.PathValue("provider"))
	if err := h.tokens.Save(provider, req.Token); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (h *secretsHandler) handleClear(w http.ResponseWriter, r *http.Request) {
	provider := model.Provider(r.PathValue("provider"))
	if err := h.tokens.Clear(provider); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *secretsHandler) handleHas(w http.ResponseWriter, r *http.Request) {
	provider := model.Provider(r.PathValue("provider"))
	has, err := h.tokens.Has(provider)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"has_token": has})
}
