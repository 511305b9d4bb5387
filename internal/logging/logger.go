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

// Package logging provides the orchestrator's structured logger: a thin,
// env-configurable wrapper around log/slog with a trace level for the
// high-volume stream diagnostics the supervisor and adapters emit.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format selects the log handler.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// LevelTrace is more verbose than Debug; used for raw stdout/stderr chunks.
const LevelTrace = slog.Level(-8)

// Standard field keys used across the codebase.
const (
	RunIDKey    = "run_id"
	ProviderKey = "provider"
	EventKey    = "event"
	DurationKey = "duration_ms"
)

// Config holds logger configuration.
type Config struct {
	Level     string
	Format    Format
	Output    io.Writer
	AddSource bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{Level: "info", Format: FormatJSON, Output: os.Stderr}
}

// FromEnv builds a Config from environment variables:
//   - AGENTRUN_DEBUG: true/1 enables debug level + source info (takes precedence)
//   - AGENTRUN_LOG_LEVEL: trace, debug, info, warn, error
//   - AGENTRUN_LOG_FORMAT: json, text
//   - AGENTRUN_LOG_SOURCE: 1 to enable source file/line
func FromEnv() *Config {
	cfg := DefaultConfig()

	debug := os.Getenv("AGENTRUN_DEBUG")
	if debug == "true" || debug == "1" {
		cfg.Level = "debug"
		cfg.AddSource = true
	}

	if debug == "" {
		if level := os.Getenv("AGENTRUN_LOG_LEVEL"); level != "" {
			cfg.Level = strings.ToLower(level)
		}
	}

	if format := os.Getenv("AGENTRUN_LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}

	if os.Getenv("AGENTRUN_LOG_SOURCE") == "1" {
		cfg.AddSource = true
	}

	return cfg
}

// New builds a slog.Logger from cfg.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: cfg.AddSource}

	var handler slog.Handler
	switch cfg.Format {
	case FormatText:
		handler = slog.NewTextHandler(cfg.Output, opts)
	default:
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRun returns a logger tagged with run and provider context.
func WithRun(logger *slog.Logger, runID string, provider string) *slog.Logger {
	return logger.With(slog.String(RunIDKey, runID), slog.String(ProviderKey, provider))
}

// Trace logs at LevelTrace, skipping attribute construction when disabled.
func Trace(logger *slog.Logger, msg string, attrs ...slog.Attr) {
	if !logger.Enabled(nil, LevelTrace) {
		return
	}
	logger.LogAttrs(nil, LevelTrace, msg, attrs...)
}
