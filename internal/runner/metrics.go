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

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters and gauges exposed at GET /metrics.
type Metrics struct {
	RunsTotal        *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	Running          *prometheus.GaugeVec
	RedactionsTotal  prometheus.Counter
}

// NewMetrics constructs and registers the runner's Prometheus instruments
// against reg. Pass prometheus.NewRegistry() for an isolated registry, or
// prometheus.DefaultRegisterer to publish on the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentrun_runs_total",
			Help: "Total runs by provider and terminal status.",
		}, []string{"provider", "status"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentrun_queue_depth",
			Help: "Number of runs currently pending dispatch.",
		}),
		Running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentrun_running",
			Help: "Number of runs currently executing, by provider.",
		}, []string{"provider"}),
		RedactionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentrun_redactions_total",
			Help: "Total number of individual secret redactions performed.",
		}),
	}

	reg.MustRegister(m.RunsTotal, m.QueueDepth, m.Running, m.RedactionsTotal)
	return m
}
