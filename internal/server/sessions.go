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

	"github.com/fathomhq/agentrun/internal/runner"
)

type sessionsHandler struct {
	runner *runner.Runner
}

func (h *sessionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/runs/{id}/session/input", h.handleSendInput)
	mux.HandleFunc("POST /v1/runs/{id}/session/end", h.handleEnd)
	mux.HandleFunc("GET /v1/runs/{id}/session/replay", h.handleReplay)
	mux.HandleFunc("POST /v1/runs/{id}/session/resume", h.handleResume)
}

func (h *sessionsHandler) handleSendInput(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := h.runner.SendSessionInput(r.PathValue("id"), body.Text); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (h *sessionsHandler) handleEnd(w http.ResponseWriter, r *http.Request) {
	h.runner.EndSession(r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// handleReplay implements resume_session: returns the buffered transcript so
// a reattaching client can repaint its terminal before resuming live input.
func (h *sessionsHandler) handleReplay(w http.ResponseWriter, r *http.Request) {
	lines, err := h.runner.ReplaySession(r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

// handleResume implements resume_session: it re-validates that the run is
// still eligible for interactive resume and emits the session_resumed /
// session_replay_ready progress envelopes before returning the replay.
func (h *sessionsHandler) handleResume(w http.ResponseWriter, r *http.Request) {
	lines, err := h.runner.ResumeSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}
