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

// Package model holds the durable data types shared by the store, scheduler,
// and runner: runs, events, artifacts, scheduler jobs, capability snapshots,
// workspace grants, conversations, and settings.
package model

import "time"

// Provider identifies an external agent CLI.
type Provider string

const (
	ProviderCodex  Provider = "codex"
	ProviderClaude Provider = "claude"
)

// RunMode selects piped or PTY execution.
type RunMode string

const (
	ModeNonInteractive RunMode = "non_interactive"
	ModeInteractive    RunMode = "interactive"
)

// RunStatus is a run's position in its lifecycle DAG.
type RunStatus string

const (
	StatusQueued      RunStatus = "queued"
	StatusRunning     RunStatus = "running"
	StatusCompleted   RunStatus = "completed"
	StatusFailed      RunStatus = "failed"
	StatusCanceled    RunStatus = "canceled"
	StatusInterrupted RunStatus = "interrupted"
)

// IsTerminal reports whether status ends the run's lifecycle.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled, StatusInterrupted:
		return true
	default:
		return false
	}
}

// Run is the durable unit of work submitted to a provider.
type Run struct {
	ID                    string     `json:"id"`
	Provider              Provider   `json:"provider"`
	Status                RunStatus  `json:"status"`
	Prompt                string     `json:"prompt"`
	Model                 string     `json:"model,omitempty"`
	Mode                  RunMode    `json:"mode"`
	OutputFormat          string     `json:"output_format,omitempty"`
	Cwd                   string     `json:"cwd"`
	StartedAt             time.Time  `json:"started_at"`
	EndedAt               *time.Time `json:"ended_at,omitempty"`
	ExitCode              *int       `json:"exit_code,omitempty"`
	ErrorSummary          string     `json:"error_summary,omitempty"`
	QueuePriority         int        `json:"queue_priority"`
	ProfileID             string     `json:"profile_id,omitempty"`
	CapabilitySnapshotID  string     `json:"capability_snapshot_id,omitempty"`
	CompatibilityWarnings []string   `json:"compatibility_warnings,omitempty"`
	ConversationID        string     `json:"conversation_id,omitempty"`
}

// RunEvent is one append-only entry in a run's event stream.
type RunEvent struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	Seq       int64          `json:"seq"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ArtifactKind enumerates the known artifact shapes.
type ArtifactKind string

const (
	ArtifactParsedSummary     ArtifactKind = "parsed_summary"
	ArtifactSessionTranscript ArtifactKind = "session_transcript"
	ArtifactRawEncrypted      ArtifactKind = "raw_encrypted"
)

// RunArtifact is a persisted output of a run, inline or on disk.
type RunArtifact struct {
	ID       string         `json:"id"`
	RunID    string         `json:"run_id"`
	Kind     ArtifactKind   `json:"kind"`
	Path     string         `json:"path,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// JobState is a scheduler job's lifecycle state.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// SchedulerJob shadows a queued Run for retry bookkeeping.
type SchedulerJob struct {
	RunID          string     `json:"run_id"`
	Priority       int        `json:"priority"`
	State          JobState   `json:"state"`
	QueuedAt       time.Time  `json:"queued_at"`
	NextRunAt      time.Time  `json:"next_run_at"`
	Attempts       int        `json:"attempts"`
	MaxRetries     int        `json:"max_retries"`
	RetryBackoffMS int        `json:"retry_backoff_ms"`
	LastError      string     `json:"last_error,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// CapabilityProfile describes what a provider binary supports at a given version.
type CapabilityProfile struct {
	Supported       bool      `json:"supported"`
	Degraded        bool      `json:"degraded"`
	Blocked         bool      `json:"blocked"`
	SupportedFlags  []string  `json:"supported_flags,omitempty"`
	SupportedModes  []RunMode `json:"supported_modes,omitempty"`
	DisabledReasons []string  `json:"disabled_reasons,omitempty"`
}

// CapabilitySnapshot is an immutable record of a capability probe.
type CapabilitySnapshot struct {
	ID         string            `json:"id"`
	Provider   Provider          `json:"provider"`
	CLIVersion string            `json:"cli_version"`
	Profile    CapabilityProfile `json:"profile"`
	DetectedAt time.Time         `json:"detected_at"`
}

// WorkspaceGrant authorizes a directory subtree for run execution.
type WorkspaceGrant struct {
	ID        string     `json:"id"`
	Path      string     `json:"path"`
	GrantedBy string     `json:"granted_by,omitempty"`
	GrantedAt time.Time  `json:"granted_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Conversation groups an ordered sequence of runs.
type Conversation struct {
	ID                string         `json:"id"`
	Provider          Provider       `json:"provider"`
	Title             string         `json:"title,omitempty"`
	ProviderSessionID string         `json:"provider_session_id,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	ArchivedAt        *time.Time     `json:"archived_at,omitempty"`
}

// Profile is a named, reusable bundle of StartRunPayload defaults.
type Profile struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Provider  Provider       `json:"provider"`
	Config    map[string]any `json:"config,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Settings is the daemon's singleton configuration row.
type Settings struct {
	CodexPath                   string         `json:"codex_path,omitempty"`
	ClaudePath                  string         `json:"claude_path,omitempty"`
	RetentionDays               int            `json:"retention_days"`
	MaxStorageMB                int            `json:"max_storage_mb"`
	AllowAdvancedPolicy         bool           `json:"allow_advanced_policy"`
	RedactAggressive            bool           `json:"redact_aggressive"`
	StoreEncryptedRawArtifacts  bool           `json:"store_encrypted_raw_artifacts"`
	GlobalConcurrencyLimit      int            `json:"global_concurrency_limit"`
	PerProviderConcurrencyLimit int            `json:"per_provider_concurrency_limit"`
	MaxQueueSize                int            `json:"max_queue_size"`
	BlockedPathGlobs            []string       `json:"blocked_path_globs,omitempty"`
	Extra                       map[string]any `json:"extra,omitempty"`
}

// DefaultSettings returns the conservative defaults applied on first run.
func DefaultSettings() Settings {
	return Settings{
		RetentionDays:               30,
		MaxStorageMB:                512,
		GlobalConcurrencyLimit:      2,
		PerProviderConcurrencyLimit: 1,
		MaxQueueSize:                512,
	}
}

// StartRunPayload is the caller-facing request to submit a run.
type StartRunPayload struct {
	Provider       Provider       `json:"provider"`
	Prompt         string         `json:"prompt"`
	Model          string         `json:"model,omitempty"`
	Mode           RunMode        `json:"mode,omitempty"`
	OutputFormat   string         `json:"output_format,omitempty"`
	Cwd            string         `json:"cwd,omitempty"`
	QueuePriority  int            `json:"queue_priority,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
	MaxRetries     int            `json:"max_retries,omitempty"`
	RetryBackoffMS int            `json:"retry_backoff_ms,omitempty"`
	OptionalFlags  map[string]any `json:"optional_flags,omitempty"`
	ProfileID      string         `json:"profile_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	CreateSession  bool           `json:"create_session,omitempty"`
	ScheduledAt    *time.Time     `json:"scheduled_at,omitempty"`
	Harness        *HarnessConfig `json:"harness,omitempty"`
}

// HarnessConfig governs CLI allowlisting and sandboxing for a run.
type HarnessConfig struct {
	AutoApprove  bool           `json:"auto_approve"`
	SandboxMode  string         `json:"sandbox_mode,omitempty"`
	CLIAllowlist *CLIAllowlist  `json:"cli_allowlist,omitempty"`
	ShellPrelude *ShellPrelude  `json:"shell_prelude,omitempty"`
	Limits       *HarnessLimits `json:"limits,omitempty"`
}

// SandboxMode values recognized by harness validation.
const SandboxModeFullAccess = "full_access"

// CLIAllowlist configures which binaries a harness may launch.
type CLIAllowlist struct {
	Mode        string              `json:"mode"` // "direct" | "wrapper"
	Entries     []CLIAllowlistEntry `json:"entries,omitempty"`
	WrapperName string              `json:"wrapper_name,omitempty"`
}

// CLIAllowlistEntry names one permitted binary.
type CLIAllowlistEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// ShellPrelude is shell script content sourced before launching the CLI.
type ShellPrelude struct {
	Content string `json:"content"`
}

// HarnessLimits bounds resource usage within a harness-supervised run.
type HarnessLimits struct {
	TimeoutMS          int `json:"timeout_ms,omitempty"`
	MaxToolResultLines int `json:"max_tool_result_lines,omitempty"`
}
