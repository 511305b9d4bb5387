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

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	logger.Info("hello", "k", "v")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "hello", decoded["msg"])
	assert.Equal(t, "v", decoded["k"])
}

func TestNewTextHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatText, Output: &buf})
	logger.Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestNewNilConfigUsesDefaults(t *testing.T) {
	logger := New(nil)
	assert.NotNil(t, logger)
}

func TestParseLevelRecognizesTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "trace", Format: FormatJSON, Output: &buf})
	assert.True(t, logger.Enabled(nil, LevelTrace))
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "nonsense", Format: FormatJSON, Output: &buf})
	assert.True(t, logger.Enabled(nil, slog.LevelInfo))
	assert.False(t, logger.Enabled(nil, slog.LevelDebug))
}

func TestLevelFiltersBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "warn", Format: FormatJSON, Output: &buf})
	logger.Info("should not appear")
	assert.Empty(t, buf.String())

	logger.Warn("should appear")
	assert.Contains(t, buf.String(), "should appear")
}

func TestFromEnvDebugTakesPrecedenceOverLevel(t *testing.T) {
	t.Setenv("AGENTRUN_DEBUG", "true")
	t.Setenv("AGENTRUN_LOG_LEVEL", "error")

	cfg := FromEnv()
	assert.Equal(t, "debug", cfg.Level)
	assert.True(t, cfg.AddSource)
}

func TestFromEnvLogLevelAndFormat(t *testing.T) {
	t.Setenv("AGENTRUN_LOG_LEVEL", "Warn")
	t.Setenv("AGENTRUN_LOG_FORMAT", "Text")

	cfg := FromEnv()
	assert.Equal(t, "warn", cfg.Level)
	assert.Equal(t, FormatText, cfg.Format)
}

func TestFromEnvLogSourceFlag(t *testing.T) {
	t.Setenv("AGENTRUN_LOG_SOURCE", "1")
	cfg := FromEnv()
	assert.True(t, cfg.AddSource)
}

func TestWithRunAddsFields(t *testing.T) {
	var buf bytes.Buffer
	base := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	tagged := WithRun(base, "run-1", "claude")
	tagged.Info("started")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded[RunIDKey])
	assert.Equal(t, "claude", decoded[ProviderKey])
}

func TestTraceSkipsWhenDisabled(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})
	Trace(logger, "should be suppressed")
	assert.Empty(t, strings.TrimSpace(buf.String()))
}

func TestTraceEmitsWhenEnabled(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "trace", Format: FormatJSON, Output: &buf})
	Trace(logger, "raw chunk", slog.String("k", "v"))
	assert.Contains(t, buf.String(), "raw chunk")
}
