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

// Package cli builds the agentrunctl command tree: every verb in the
// orchestrator's command surface (§6), talking to the daemon over
// internal/client.
package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fathomhq/agentrun/internal/apperr"
	"github.com/fathomhq/agentrun/internal/client"
	"github.com/fathomhq/agentrun/internal/output"
)

var (
	jsonFlag    bool
	quietFlag   bool
	noAutoStart bool

	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// NewRootCommand creates the root Cobra command for agentrunctl.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agentrun",
		Short: "agentrun - local orchestrator for codex and claude agent CLIs",
		Long: `agentrun runs external agent CLIs (codex, claude) as supervised,
policy-gated, durably-tracked runs through a local daemon.

Run 'agentrun daemon start' to launch the daemon, or just run a command: the
daemon auto-starts on first use unless --no-autostart is set.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Output in JSON format")
	cmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")
	cmd.PersistentFlags().BoolVar(&noAutoStart, "no-autostart", false, "Don't auto-start the daemon if it isn't running")

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newRunsCommand())
	cmd.AddCommand(newSessionCommand())
	cmd.AddCommand(newProfilesCommand())
	cmd.AddCommand(newCapabilitiesCommand())
	cmd.AddCommand(newQueueCommand())
	cmd.AddCommand(newSettingsCommand())
	cmd.AddCommand(newWorkspaceCommand())
	cmd.AddCommand(newProviderCommand())
	cmd.AddCommand(newDaemonCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// HandleExitError prints err and exits with a code derived from its
// apperr.Kind, matching the daemon's HTTP status mapping so a script driving
// both surfaces sees consistent failure semantics.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "Error:", err.Error())
	os.Exit(exitCodeFor(err))
}

func exitCodeFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindCLIInvalid:
		return 2
	case apperr.KindPolicyDenied:
		return 3
	case apperr.KindNotFound:
		return 4
	case apperr.KindIOFailure:
		return 5
	default:
		return 1
	}
}

// newClient connects to the daemon, auto-starting it unless --no-autostart
// was given.
func newClient() (*client.Client, error) {
	c, err := client.EnsureDaemon(client.AutoStartConfig{
		Enabled:      !noAutoStart,
		StartTimeout: 10 * time.Second,
	})
	if err != nil {
		var dnr *client.DaemonNotRunningError
		if errors.As(err, &dnr) {
			return nil, fmt.Errorf("daemon is not running (use --no-autostart=false or run 'agentrun daemon start')")
		}
		return nil, err
	}
	return c, nil
}

// emit prints data as the JSON envelope when --json is set, or via printText
// for human-readable output.
func emit(cmd *cobra.Command, command string, data any, printText func()) error {
	if jsonFlag {
		return output.EmitJSON(map[string]any{
			"@version": "1.0",
			"command":  command,
			"success":  true,
			"data":     data,
		})
	}
	if !quietFlag && printText != nil {
		printText()
	}
	return nil
}
