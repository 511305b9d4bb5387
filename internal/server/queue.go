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

type queueHandler struct {
	runner *runner.Runner
}

func (h *queueHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/queue", h.handleList)
}

func (h *queueHandler) handleList(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.runner.ListQueueJobs(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}
