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
	"github.com/fathomhq/agentrun/internal/store"
)

type runsHandler struct {
	runner *runner.Runner
}

func (h *runsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/runs", h.handleSubmit)
	mux.HandleFunc("GET /v1/runs", h.handleList)
	mux.HandleFunc("GET /v1/runs/{id}", h.handleGet)
	mux.HandleFunc("POST /v1/runs/{id}/cancel", h.handleCancel)
	mux.HandleFunc("POST /v1/runs/{id}/rerun", h.handleRerun)
	mux.HandleFunc("GET /v1/runs/{id}/export", h.handleExport)
}

// submitRequest is the wire shape of POST /v1/runs. Mode defaults to
// non_interactive; setting it to "interactive" is the submit_interactive
// verb.
type submitRequest struct {
	Provider       model.Provider     `json:"provider"`
	Prompt         string             `json:"prompt"`
	Model          string             `json:"model,omitempty"`
	Mode           model.RunMode      `json:"mode,omitempty"`
	OutputFormat   string             `json:"output_format,omitempty"`
	Cwd            string             `json:"cwd"`
	QueuePriority  int                `json:"queue_priority,omitempty"`
	TimeoutSeconds int                `json:"timeout_seconds,omitempty"`
	MaxRetries     int                `json:"max_retries,omitempty"`
	RetryBackoffMS int                `json:"retry_backoff_ms,omitempty"`
	OptionalFlags  map[string]any     `json:"optional_flags,omitempty"`
	ProfileID      string             `json:"profile_id,omitempty"`
	ConversationID string             `json:"conversation_id,omitempty"`
	CreateSession  bool               `json:"create_session,omitempty"`
	Harness        *model.HarnessConfig `json:"harness,omitempty"`
}

func (h *runsHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Mode == "" {
		req.Mode = model.ModeNonInteractive
	}

	runID, sessionID, err := h.runner.Submit(r.Context(), model.StartRunPayload{
		Provider:       req.Provider,
		Prompt:         req.Prompt,
		Model:          req.Model,
		Mode:           req.Mode,
		OutputFormat:   req.OutputFormat,
		Cwd:            req.Cwd,
		QueuePriority:  req.QueuePriority,
		TimeoutSeconds: req.TimeoutSeconds,
		MaxRetries:     req.MaxRetries,
		RetryBackoffMS: req.RetryBackoffMS,
		OptionalFlags:  req.OptionalFlags,
		ProfileID:      req.ProfileID,
		ConversationID: req.ConversationID,
		CreateSession:  req.CreateSession,
		Harness:        req.Harness,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}

	resp := map[string]any{"run_id": runID}
	if sessionID != nil {
		resp["session_id"] = *sessionID
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *runsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := store.RunFilters{
		Provider:       model.Provider(q.Get("provider")),
		Status:         model.RunStatus(q.Get("status")),
		ConversationID: q.Get("conversation_id"),
	}
	if limit, ok := parseIntQuery(q, "limit"); ok {
		filters.Limit = limit
	}
	jqQuery := q.Get("jq")

	result, err := h.runner.ListRuns(r.Context(), filters, jqQuery)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if jqQuery != "" {
		writeJSON(w, http.StatusOK, map[string]any{"result": result})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": result})
}

func (h *runsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	detail, err := h.runner.GetRunDetail(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *runsHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.runner.Cancel(r.Context(), r.PathValue("id")); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

func (h *runsHandler) handleRerun(w http.ResponseWriter, r *http.Request) {
	var overrides map[string]any
	if err := decodeJSON(r, &overrides); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	runID, sessionID, err := h.runner.Rerun(r.Context(), r.PathValue("id"), overrides)
	if err != nil {
		writeAppError(w, err)
		return
	}
	resp := map[string]any{"run_id": runID}
	if sessionID != nil {
		resp["session_id"] = *sessionID
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *runsHandler) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "md"
	}
	jqQuery := r.URL.Query().Get("jq")
	path, err := h.runner.ExportRun(r.Context(), r.PathValue("id"), format, jqQuery)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

func parseIntQuery(q map[string][]string, key string) (int, bool) {
	vals, ok := q[key]
	if !ok || len(vals) == 0 || vals[0] == "" {
		return 0, false
	}
	n := 0
	for _, c := range vals[0] {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
