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
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fathomhq/agentrun/internal/runner"
	"github.com/fathomhq/agentrun/internal/secretstore"
)

// VersionInfo is reported at GET /v1/version.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// Deps are the daemon's wired dependencies, shared by every route handler.
type Deps struct {
	Runner   *runner.Runner
	Tokens   *secretstore.ProviderTokenStore
	Registry *prometheus.Registry
	Version  VersionInfo
	Started  time.Time
	APIKey   string
	Logger   *slog.Logger
}

// NewRouter builds the daemon's full HTTP route table.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	mux := http.NewServeMux()

	(&healthHandler{deps: d}).RegisterRoutes(mux)
	(&runsHandler{runner: d.Runner}).RegisterRoutes(mux)
	(&sessionsHandler{runner: d.Runner}).RegisterRoutes(mux)
	(&eventsHandler{runner: d.Runner}).RegisterRoutes(mux)
	(&profilesHandler{runner: d.Runner}).RegisterRoutes(mux)
	(&capabilitiesHandler{runner: d.Runner}).RegisterRoutes(mux)
	(&queueHandler{runner: d.Runner}).RegisterRoutes(mux)
	(&settingsHandler{runner: d.Runner}).RegisterRoutes(mux)
	(&secretsHandler{tokens: d.Tokens}).RegisterRoutes(mux)

	if d.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))
	}

	var handler http.Handler = mux
	handler = requireAPIKey(d.APIKey, handler)
	handler = withLogging(d.Logger, handler)
	return handler
}
