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

// Package xdgpaths resolves the orchestrator's config, data, and state
// directories following the XDG Base Directory conventions, with
// environment-variable overrides for containerized and test use.
package xdgpaths

import (
	"os"
	"path/filepath"
)

const appDirName = "agentrun"

// ConfigDir returns the directory holding settings.yaml and workspace grants.
// Respects XDG_CONFIG_HOME.
func ConfigDir() (string, error) {
	return resolve("XDG_CONFIG_HOME", ".config")
}

// DataDir returns the directory holding the SQLite store and artifacts.
// Respects XDG_DATA_HOME.
func DataDir() (string, error) {
	return resolve("XDG_DATA_HOME", ".local/share")
}

// StateDir returns the directory holding rotated log files.
// Respects XDG_STATE_HOME.
func StateDir() (string, error) {
	return resolve("XDG_STATE_HOME", ".local/state")
}

func resolve(envVar, fallbackRel string) (string, error) {
	var base string
	if v := os.Getenv(envVar); v != "" {
		base = v
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, fallbackRel)
	}

	dir := filepath.Join(base, appDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// SettingsPath returns the full path to settings.yaml.
func SettingsPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.yaml"), nil
}

// StorePath returns the full path to the SQLite database file.
func StorePath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "state.db"), nil
}

// ArtifactsDir returns the directory for persisted run artifacts.
func ArtifactsDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	out := filepath.Join(dir, "artifacts")
	if err := os.MkdirAll(out, 0o700); err != nil {
		return "", err
	}
	return out, nil
}

// ExportsDir returns the directory for run exports.
func ExportsDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	out := filepath.Join(dir, "exports")
	if err := os.MkdirAll(out, 0o700); err != nil {
		return "", err
	}
	return out, nil
}

// PIDFilePath returns the default PID file path for the daemon.
func PIDFilePath() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "agentrund.pid"), nil
}

// LogPath returns the default log file path for daemon lifecycle events.
func LogPath() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "agentrund.log"), nil
}
